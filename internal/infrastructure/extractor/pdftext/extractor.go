package pdftext

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/core/ports"
)

// Extractor pulls the embedded text layer out of a PDF. Scanned PDFs with
// no text layer yield short or empty output, which the confidence score
// reflects so the classifier treats the result with suspicion.
type Extractor struct {
	storage ports.FolderTree
}

func NewExtractor(storage ports.FolderTree) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, doc *domain.Document) (string, float64, error) {
	reader, err := e.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrPermanent, "open source document", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrPermanent, "read source document", err)
	}

	text, err := extractText(raw)
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrPermanent, "extract pdf text layer", err)
	}

	text = strings.TrimSpace(text)
	return text, confidenceFor(text), nil
}

func extractText(raw []byte) (string, error) {
	pdfReader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// confidenceFor approximates an OCR-style confidence from the amount of
// recovered text: a healthy text layer reads near 1.0, a near-empty one
// signals a scan that needed real OCR.
func confidenceFor(text string) float64 {
	switch n := len(text); {
	case n == 0:
		return 0
	case n < 80:
		return 0.3
	case n < 400:
		return 0.7
	default:
		return 0.95
	}
}
