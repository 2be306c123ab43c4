package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/core/ports"
)

// IntakeDir is where uploaded files live until the pipeline organizes them.
const IntakeDir = "intake"

// DefaultPipelineType is used when the caller does not pick one.
const DefaultPipelineType = "standard"

type IntakeUseCase struct {
	batches     ports.BatchRepository
	documents   ports.DocumentRepository
	tree        ports.FolderTree
	queue       ports.MessageQueue
	maxFileSize int64
}

func NewIntakeUseCase(
	batches ports.BatchRepository,
	documents ports.DocumentRepository,
	tree ports.FolderTree,
	queue ports.MessageQueue,
	maxFileSize int64,
) *IntakeUseCase {
	return &IntakeUseCase{
		batches:     batches,
		documents:   documents,
		tree:        tree,
		queue:       queue,
		maxFileSize: maxFileSize,
	}
}

func (uc *IntakeUseCase) CreateBatch(ctx context.Context, name, pipelineType string, cfg domain.BatchConfig) (*domain.Batch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create batch", errors.New("empty batch name"))
	}
	if pipelineType == "" {
		pipelineType = DefaultPipelineType
	}
	if cfg.MaxRetriesPerFile < 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create batch", errors.New("negative max_retries_per_file"))
	}

	now := time.Now().UTC()
	batch := &domain.Batch{
		ID:           uuid.NewString(),
		Name:         name,
		Status:       domain.BatchPending,
		PipelineType: pipelineType,
		CanRollback:  true,
		Config:       cfg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := uc.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch record: %w", err)
	}
	return batch, nil
}

// RegisterDocument stores the file under the intake folder and records it
// against the batch. Files can only be added before the batch is submitted.
func (uc *IntakeUseCase) RegisterDocument(ctx context.Context, batchID, filename, mimeType string, size int64, body io.Reader) (*domain.Document, error) {
	batch, err := uc.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != domain.BatchPending {
		return nil, domain.WrapError(domain.ErrConflict, "register document",
			fmt.Errorf("batch status is %s, expected %s", batch.Status, domain.BatchPending))
	}
	if filename = strings.TrimSpace(filename); filename == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register document", errors.New("empty filename"))
	}
	if uc.maxFileSize > 0 && size > uc.maxFileSize {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register document",
			fmt.Errorf("file size %d exceeds limit %d", size, uc.maxFileSize))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s/%s_%s", IntakeDir, id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.tree.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	doc := &domain.Document{
		ID:          id,
		BatchID:     batchID,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		Status:      domain.DocumentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.documents.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	if err := uc.batches.SetTotalFiles(ctx, batchID, batch.TotalFiles+1); err != nil {
		return nil, fmt.Errorf("bump batch total files: %w", err)
	}
	return doc, nil
}

// Submit hands the batch to the worker pool. Empty batches are rejected
// instead of producing a no-op run.
func (uc *IntakeUseCase) Submit(ctx context.Context, batchID string) error {
	batch, err := uc.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status != domain.BatchPending {
		return domain.WrapError(domain.ErrConflict, "submit batch",
			fmt.Errorf("batch status is %s, expected %s", batch.Status, domain.BatchPending))
	}
	if batch.TotalFiles == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "submit batch", errors.New("batch has no documents"))
	}

	if err := uc.queue.PublishBatchSubmitted(ctx, batchID); err != nil {
		return fmt.Errorf("publish batch submission: %w", err)
	}
	return nil
}

// Snapshot serves the dashboard view straight from the store so it never
// contends with in-flight workers.
func (uc *IntakeUseCase) Snapshot(ctx context.Context, batchID string) (*domain.BatchSnapshot, error) {
	batch, err := uc.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	docs, err := uc.documents.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch documents: %w", err)
	}
	return &domain.BatchSnapshot{Batch: *batch, Documents: docs}, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
