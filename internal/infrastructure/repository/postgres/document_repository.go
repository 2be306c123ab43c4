package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, batch_id, filename, mime_type, storage_path, fingerprint, raw_text,
	ocr_confidence, category, issuer, confidence, trusted_source, status, target_path,
	error_message, attempts, issuer_counted, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
`,
		doc.ID, doc.BatchID, doc.Filename, doc.MimeType, doc.StoragePath,
		doc.Fingerprint, doc.RawText, doc.OCRConfidence,
		doc.Category, doc.Issuer, doc.Confidence, doc.TrustedSource,
		string(doc.Status), doc.TargetPath, doc.Error, doc.Attempts,
		doc.IssuerCounted, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+` FROM documents WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return doc, nil
}

func (r *DocumentRepository) ListByBatch(ctx context.Context, batchID string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+` FROM documents WHERE batch_id = $1 ORDER BY created_at, id
`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query documents by batch: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

func (r *DocumentRepository) SaveExtraction(ctx context.Context, id, fingerprint, rawText string, ocrConfidence float64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET fingerprint = $2, raw_text = $3, ocr_confidence = $4, updated_at = $5
WHERE id = $1
`, id, fingerprint, rawText, ocrConfidence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save document extraction: %w", err)
	}
	return nil
}

func (r *DocumentRepository) SaveClassification(ctx context.Context, id string, cls domain.Classification) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET category = $2, issuer = $3, confidence = $4, trusted_source = $5, updated_at = $6
WHERE id = $1
`, id, cls.Category, cls.Issuer, cls.Confidence, cls.Trusted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save document classification: %w", err)
	}
	return nil
}

func (r *DocumentRepository) SetTargetPath(ctx context.Context, id, targetPath string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents SET target_path = $2, updated_at = $3 WHERE id = $1
`, id, targetPath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set document target path: %w", err)
	}
	return nil
}

func (r *DocumentRepository) SetIssuerCounted(ctx context.Context, id string, counted bool) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents SET issuer_counted = $2, updated_at = $3 WHERE id = $1
`, id, counted, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set document issuer counted: %w", err)
	}
	return nil
}

func (r *DocumentRepository) IncrementAttempts(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents SET attempts = attempts + 1, updated_at = $2 WHERE id = $1
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment document attempts: %w", err)
	}
	return nil
}

// ResetForRetry rewinds a document to pending while keeping extraction
// results, so a resumed run can skip straight to classification.
func (r *DocumentRepository) ResetForRetry(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = '', target_path = '', updated_at = $3
WHERE id = $1
`, id, string(domain.DocumentPending), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset document for retry: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListOrganized(ctx context.Context, category, issuer, targetPath string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE category = $1 AND issuer = $2 AND target_path <> '' AND target_path LIKE $3
ORDER BY created_at, id
`, category, issuer, targetPath+"%")
	if err != nil {
		return nil, fmt.Errorf("query organized documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var status string
	err := row.Scan(
		&doc.ID, &doc.BatchID, &doc.Filename, &doc.MimeType, &doc.StoragePath,
		&doc.Fingerprint, &doc.RawText, &doc.OCRConfidence,
		&doc.Category, &doc.Issuer, &doc.Confidence, &doc.TrustedSource,
		&status, &doc.TargetPath, &doc.Error, &doc.Attempts,
		&doc.IssuerCounted, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

func collectDocuments(rows *sql.Rows) ([]domain.Document, error) {
	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
