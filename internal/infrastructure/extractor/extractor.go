// Package extractor dispatches documents to the text extraction engine
// matching their mime type. It is the in-process face of the OCR boundary;
// extraction failures surface as failed documents, never as pipeline
// crashes.
package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/core/ports"
)

type Dispatcher struct {
	byMime   map[string]ports.TextExtractor
	fallback ports.TextExtractor
}

func NewDispatcher(fallback ports.TextExtractor) *Dispatcher {
	return &Dispatcher{
		byMime:   make(map[string]ports.TextExtractor),
		fallback: fallback,
	}
}

func (d *Dispatcher) Register(mimeType string, engine ports.TextExtractor) {
	d.byMime[normalizeMime(mimeType)] = engine
}

func (d *Dispatcher) Extract(ctx context.Context, doc *domain.Document) (string, float64, error) {
	engine, ok := d.byMime[normalizeMime(doc.MimeType)]
	if !ok {
		engine = d.fallback
	}
	if engine == nil {
		return "", 0, domain.WrapError(domain.ErrPermanent, "extract text",
			fmt.Errorf("no extraction engine for mime type %q", doc.MimeType))
	}
	return engine.Extract(ctx, doc)
}

func normalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.TrimSpace(mimeType)
}
