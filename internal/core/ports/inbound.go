package ports

import (
	"context"
	"io"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

// BatchIntake is the inbound contract for batch creation and file registration.
type BatchIntake interface {
	CreateBatch(ctx context.Context, name, pipelineType string, cfg domain.BatchConfig) (*domain.Batch, error)
	RegisterDocument(ctx context.Context, batchID, filename, mimeType string, size int64, body io.Reader) (*domain.Document, error)
	Submit(ctx context.Context, batchID string) error
}

// BatchProcessor runs a submitted batch through the full pipeline.
type BatchProcessor interface {
	Run(ctx context.Context, batchID string) error
}

// BatchControl is the pause/resume/rollback surface. Every operation is
// idempotent: repeating a command that already took effect is a no-op success.
type BatchControl interface {
	Pause(ctx context.Context, batchID string) (domain.BatchStatus, error)
	Resume(ctx context.Context, batchID string) (domain.BatchStatus, error)
	Rollback(ctx context.Context, batchID, reason string) (domain.BatchStatus, error)
}

// BatchReader serves consistent snapshots without blocking in-flight workers.
type BatchReader interface {
	Snapshot(ctx context.Context, batchID string) (*domain.BatchSnapshot, error)
}

// DocumentClassifier decides the category and issuer for extracted text.
type DocumentClassifier interface {
	Classify(ctx context.Context, doc *domain.Document) (domain.Classification, error)
}

// DocumentOrganizer computes and applies the target folder for a classified
// document, promoting issuer subfolders at the configured threshold.
type DocumentOrganizer interface {
	Organize(ctx context.Context, doc *domain.Document) (string, error)
	Revert(ctx context.Context, doc *domain.Document) error
}
