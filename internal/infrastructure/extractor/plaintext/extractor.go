package plaintext

import (
	"context"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/core/ports"
)

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

	if !utf8.Valid(raw) {
		return "", 0, domain.WrapError(domain.ErrPermanent, "decode source document",
			errors.New("not valid utf-8 text"))
	}

	text := strings.TrimSpace(string(raw))
	return text, 1.0, nil
}
