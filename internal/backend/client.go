// Package backend talks to the HR backend that owns employees and claims.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

var (
	// ErrConnection wraps every transport failure. Callers show a generic
	// message and let the user retry.
	ErrConnection = errors.New("error de conexión con el servidor")

	// ErrNoBaseURL is returned when no backend URL was configured.
	ErrNoBaseURL = errors.New("no se detectó la URL del backend")
)

// DefaultTimeout bounds each backend call.
const DefaultTimeout = 30 * time.Second

// Error is a non-2xx answer from the backend. Message is the backend's own
// "error" field when it sent one.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Employee is the identity lookup result.
type Employee struct {
	Nombre  string `json:"nombre" msgpack:"nombre"`
	Empresa string `json:"empresa" msgpack:"empresa"`
}

// Attachment is one file part of a submission.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Submission is the multipart payload for a claim.
type Submission struct {
	Cedula   string
	Empresa  string
	Tipo     string
	Email    string
	Telefono string
	Archivos []Attachment
}

// Receipt is whatever the backend answered on success.
type Receipt struct {
	Status int            `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Text   string         `json:"text,omitempty"`
}

// Client calls the backend over fasthttp.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fasthttp.Client
}

// NewClient creates a client for baseURL. A zero timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: timeout,
		http: &fasthttp.Client{
			Name:                "incapacidades-intake",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxResponseBodySize: 4 << 20,
		},
	}
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks that the backend answers on /health.
func (c *Client) Health(ctx context.Context) error {
	if c.baseURL == "" {
		return ErrNoBaseURL
	}
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", "", nil)
	return err
}

// LookupEmployee fetches the employee registered under cedula.
func (c *Client) LookupEmployee(ctx context.Context, cedula string) (*Employee, error) {
	if c.baseURL == "" {
		return nil, ErrNoBaseURL
	}

	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/empleados/"+url.PathEscape(cedula), "", nil)
	if err != nil {
		return nil, err
	}

	var emp Employee
	if err := json.Unmarshal(resp.body, &emp); err != nil {
		return nil, fmt.Errorf("decoding employee: %w", err)
	}
	return &emp, nil
}

// SubmitClaim posts the claim fields and files as multipart/form-data.
func (c *Client) SubmitClaim(ctx context.Context, s Submission) (*Receipt, error) {
	if c.baseURL == "" {
		return nil, ErrNoBaseURL
	}

	payload, contentType, err := encodeSubmission(s)
	if err != nil {
		return nil, fmt.Errorf("encoding submission: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/subir-incapacidad/", contentType, payload)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{Status: resp.status}
	if strings.Contains(resp.contentType, "application/json") {
		if err := json.Unmarshal(resp.body, &receipt.Data); err != nil {
			receipt.Text = string(resp.body)
		}
	} else {
		receipt.Text = string(resp.body)
	}
	return receipt, nil
}

func encodeSubmission(s Submission) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"cedula", s.Cedula},
		{"empresa", s.Empresa},
		{"tipo", s.Tipo},
		{"email", s.Email},
		{"telefono", s.Telefono},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	for _, a := range s.Archivos {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="archivos"; filename="%s"`, quoteEscaper.Replace(a.Filename)))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(a.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// response is a 2xx answer copied out of fasthttp's pooled buffers.
type response struct {
	status      int
	contentType string
	body        []byte
}

// do runs one request. Non-2xx answers become *Error.
func (c *Client) do(ctx context.Context, method, uri, contentType string, body []byte) (*response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.SetContentType(contentType)
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		fmt.Printf("[Backend] %s %s failed after %v: %v\n", method, uri, time.Since(start).Round(time.Millisecond), err)
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	status := resp.StatusCode()
	respBody := append([]byte(nil), resp.Body()...)
	respType := string(resp.Header.ContentType())
	fmt.Printf("[Backend] %s %s -> %d (%v)\n", method, uri, status, time.Since(start).Round(time.Millisecond))

	if status < 200 || status > 299 {
		return nil, newError(status, respBody)
	}
	return &response{status: status, contentType: respType, body: respBody}, nil
}

func newError(status int, body []byte) *Error {
	e := &Error{Status: status, Message: fmt.Sprintf("Error %d", status)}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Message = payload.Error
	}
	return e
}
