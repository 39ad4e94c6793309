package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
)

// Func extracts raw text from a payload of one mime type.
type Func func(ctx context.Context, data []byte) (string, error)

// Registry dispatches extraction by mime type and normalizes the result.
type Registry struct {
	byMime map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{byMime: map[string]Func{}}
}

// NewDefaultRegistry wires every format the ingestion pipeline understands.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(domain.MimePlainText, extractPlainText)
	r.Register(domain.MimeMarkdown, extractPlainText)
	r.Register(domain.MimeJSON, extractJSON)
	r.Register(domain.MimeHTML, extractHTML)
	r.Register(domain.MimePDF, extractPDF)
	r.Register(domain.MimeDOCX, extractDOCX)
	r.Register(domain.MimeXLSX, extractXLSX)
	return r
}

func (r *Registry) Register(mimeType string, fn Func) {
	r.byMime[canonicalMime(mimeType)] = fn
}

func (r *Registry) Supports(mimeType string) bool {
	_, ok := r.byMime[canonicalMime(mimeType)]
	return ok
}

func (r *Registry) Extract(ctx context.Context, mimeType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mime := canonicalMime(mimeType)
	fn, ok := r.byMime[mime]
	if !ok {
		return "", fmt.Errorf("unsupported mime type: %s", mime)
	}
	if len(data) == 0 {
		return "", nil
	}

	text, err := fn(ctx, data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", mime, err)
	}
	return Normalize(text), nil
}

func canonicalMime(mimeType string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
}
