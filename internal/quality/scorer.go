// Package quality scores uploaded document images for legibility.
package quality

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Verdict messages.
const (
	MsgPDFAccepted  = "PDF aceptado"
	MsgLoadError    = "Error al cargar imagen"
	MsgBrightness   = "Imagen muy oscura o muy clara"
	MsgBlurry       = "Imagen borrosa o de baja nitidez"
	MsgLowRes       = "Resolución muy baja"
	MsgAcceptable   = "Calidad aceptable"
	MsgNotValidated = "No se pudo validar"
)

// MIMETypePDF is the declared type that skips pixel analysis.
const MIMETypePDF = "application/pdf"

// Default limits.
const (
	DefaultDecodeTimeout = 10 * time.Second
	DefaultMaxPixels     = 40_000_000
)

// Verdict is the scorer's opinion on one file.
type Verdict struct {
	IsLegible    bool   `json:"isLegible" msgpack:"isLegible"`
	QualityScore int    `json:"qualityScore" msgpack:"qualityScore"`
	Message      string `json:"message" msgpack:"message"`
}

var (
	pdfVerdict       = Verdict{IsLegible: true, QualityScore: 100, Message: MsgPDFAccepted}
	loadErrorVerdict = Verdict{IsLegible: false, QualityScore: 0, Message: MsgLoadError}
	// Scoring faults must never block a submission.
	unvalidatedVerdict = Verdict{IsLegible: true, QualityScore: 100, Message: MsgNotValidated}
)

// File is an uploaded document as the scorer sees it.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// IsPDF reports whether the file declares itself as a PDF. When no useful
// type was declared the extension decides.
func (f File) IsPDF() bool {
	mt := strings.ToLower(strings.TrimSpace(f.MIMEType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == MIMETypePDF {
		return true
	}
	if mt == "" || mt == "application/octet-stream" {
		return strings.EqualFold(filepath.Ext(f.Name), ".pdf")
	}
	return false
}

// Scorer computes Verdicts. It is safe for concurrent use.
type Scorer struct {
	decodeTimeout time.Duration
	maxPixels     int

	pool  sync.Pool // *[]byte pixel buffers
	inUse atomic.Int64
}

// NewScorer creates a scorer. Zero values select the defaults.
func NewScorer(decodeTimeout time.Duration, maxPixels int) *Scorer {
	if decodeTimeout <= 0 {
		decodeTimeout = DefaultDecodeTimeout
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Scorer{decodeTimeout: decodeTimeout, maxPixels: maxPixels}
}

// Score returns the verdict for f. Decoding runs on its own goroutine so a
// slow decode or a cancelled ctx falls back to the unvalidated verdict.
func (s *Scorer) Score(ctx context.Context, f File) Verdict {
	if f.IsPDF() {
		return pdfVerdict
	}
	if ctx.Err() != nil {
		return unvalidatedVerdict
	}

	ctx, cancel := context.WithTimeout(ctx, s.decodeTimeout)
	defer cancel()

	done := make(chan Verdict, 1)
	go func() { done <- s.analyze(f.Data) }()

	select {
	case v := <-done:
		return v
	case <-ctx.Done():
		fmt.Printf("[Quality] %s: gave up after %v: %v\n", f.Name, s.decodeTimeout, ctx.Err())
		return unvalidatedVerdict
	}
}

// BuffersInUse reports pixel buffers currently checked out of the pool.
func (s *Scorer) BuffersInUse() int64 {
	return s.inUse.Load()
}

func (s *Scorer) analyze(data []byte) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Quality] PANIC recovered during pixel access: %v\n", r)
			v = unvalidatedVerdict
		}
	}()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return loadErrorVerdict
	}
	pixels := cfg.Width * cfg.Height
	if pixels <= 0 || pixels > s.maxPixels {
		return unvalidatedVerdict
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return loadErrorVerdict
	}

	b := img.Bounds()
	buf := s.acquire(b.Dx(), b.Dy())
	defer s.release(buf)

	draw.Draw(buf, buf.Bounds(), img, b.Min, draw.Src)

	return Evaluate(Measure(buf.Pix, b.Dx(), b.Dy()))
}

func (s *Scorer) acquire(w, h int) *image.NRGBA {
	n := 4 * w * h
	var pix []byte
	if p, ok := s.pool.Get().(*[]byte); ok && cap(*p) >= n {
		pix = (*p)[:n]
	} else {
		pix = make([]byte, n)
	}
	s.inUse.Add(1)
	return &image.NRGBA{Pix: pix, Stride: 4 * w, Rect: image.Rect(0, 0, w, h)}
}

func (s *Scorer) release(img *image.NRGBA) {
	pix := img.Pix[:0]
	s.pool.Put(&pix)
	s.inUse.Add(-1)
}
