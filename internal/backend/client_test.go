package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 5*time.Second)
}

func TestClient_LookupEmployee(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/empleados/1020304050", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"nombre":"Ana Pérez","empresa":"Acme SAS"}`)
		})

		emp, err := c.LookupEmployee(context.Background(), "1020304050")
		require.NoError(t, err)
		assert.Equal(t, &Employee{Nombre: "Ana Pérez", Empresa: "Acme SAS"}, emp)
	})

	t.Run("backend error surfaces verbatim", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"Cédula no encontrada"}`)
		})

		_, err := c.LookupEmployee(context.Background(), "999999")
		var be *Error
		require.True(t, errors.As(err, &be))
		assert.Equal(t, http.StatusNotFound, be.Status)
		assert.Equal(t, "Cédula no encontrada", be.Message)
	})

	t.Run("non json error body", func(t *testing.T) {
		c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "upstream down")
		})

		_, err := c.LookupEmployee(context.Background(), "999999")
		var be *Error
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "Error 502", be.Message)
	})

	t.Run("connection failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		c := NewClient(srv.URL, time.Second)
		srv.Close()

		_, err := c.LookupEmployee(context.Background(), "1234567")
		assert.ErrorIs(t, err, ErrConnection)
	})

	t.Run("no base url", func(t *testing.T) {
		_, err := NewClient("", 0).LookupEmployee(context.Background(), "1234567")
		assert.ErrorIs(t, err, ErrNoBaseURL)
	})

	t.Run("cancelled context", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.LookupEmployee(ctx, "1234567")
		assert.ErrorIs(t, err, ErrConnection)
	})
}

func TestClient_SubmitClaim(t *testing.T) {
	var got struct {
		fields map[string]string
		files  []string
		types  []string
		bodies []string
	}

	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/subir-incapacidad/", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		got.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			got.fields[k] = v[0]
		}
		for _, fh := range r.MultipartForm.File["archivos"] {
			got.files = append(got.files, fh.Filename)
			got.types = append(got.types, fh.Header.Get("Content-Type"))
			f, err := fh.Open()
			if !assert.NoError(t, err) {
				return
			}
			b, _ := io.ReadAll(f)
			f.Close()
			got.bodies = append(got.bodies, string(b))
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"radicado":"INC-1"}`)
	})

	receipt, err := c.SubmitClaim(context.Background(), Submission{
		Cedula:   "1020304050",
		Empresa:  "Acme SAS",
		Tipo:     "traffic",
		Email:    "ana@acme.co",
		Telefono: "3001234567",
		Archivos: []Attachment{
			{Filename: "furips.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
			{Filename: `soat "frente".jpg`, ContentType: "image/jpeg", Data: []byte("jpeg")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"cedula":   "1020304050",
		"empresa":  "Acme SAS",
		"tipo":     "traffic",
		"email":    "ana@acme.co",
		"telefono": "3001234567",
	}, got.fields)
	assert.Equal(t, []string{"furips.pdf", `soat "frente".jpg`}, got.files)
	assert.Equal(t, []string{"application/pdf", "image/jpeg"}, got.types)
	assert.Equal(t, []string{"%PDF-1.4", "jpeg"}, got.bodies)
	assert.Equal(t, "INC-1", receipt.Data["radicado"])
	assert.Equal(t, http.StatusOK, receipt.Status)
}

func TestClient_SubmitClaim_KeepsStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"radicado":"INC-2"}`)
	})

	receipt, err := c.SubmitClaim(context.Background(), Submission{Cedula: "123456"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, receipt.Status)
	assert.Equal(t, "INC-2", receipt.Data["radicado"])
}

func TestClient_SubmitClaim_PlainTextReply(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "recibido")
	})

	receipt, err := c.SubmitClaim(context.Background(), Submission{Cedula: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "recibido", receipt.Text)
	assert.Nil(t, receipt.Data)
}

func TestClient_Health(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	assert.NoError(t, c.Health(context.Background()))
	assert.ErrorIs(t, NewClient("", 0).Health(context.Background()), ErrNoBaseURL)
}
