package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

// TaxonomyRepository keeps category and issuer counters consistent under
// concurrent workers: inserts are first-writer-wins and the subfolder
// claim is a single-winner compare-and-set, all in single statements.
type TaxonomyRepository struct {
	db *sql.DB
}

func NewTaxonomyRepository(db *sql.DB) *TaxonomyRepository {
	return &TaxonomyRepository{db: db}
}

func (r *TaxonomyRepository) EnsureCategory(ctx context.Context, name string, isBase bool) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
INSERT INTO categories (name, is_base, document_count, created_at)
VALUES ($1, $2, 0, $3)
ON CONFLICT (name) DO NOTHING
`, name, isBase, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("ensure category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure category rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *TaxonomyRepository) ListCategories(ctx context.Context) ([]domain.CategoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT name, is_base, document_count, created_at FROM categories ORDER BY name
`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var entries []domain.CategoryEntry
	for rows.Next() {
		var entry domain.CategoryEntry
		if err := rows.Scan(&entry.Name, &entry.IsBase, &entry.DocumentCount, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return entries, nil
}

func (r *TaxonomyRepository) IncrementCategory(ctx context.Context, name string, delta int) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE categories SET document_count = GREATEST(document_count + $2, 0) WHERE name = $1
`, name, delta)
	if err != nil {
		return fmt.Errorf("increment category: %w", err)
	}
	return nil
}

func (r *TaxonomyRepository) IncrementIssuer(ctx context.Context, category, issuer string) (int, bool, error) {
	row := r.db.QueryRowContext(ctx, `
INSERT INTO issuers (category_name, issuer_key, document_count, has_subfolder)
VALUES ($1, $2, 1, FALSE)
ON CONFLICT (category_name, issuer_key)
DO UPDATE SET document_count = issuers.document_count + 1
RETURNING document_count, has_subfolder
`, category, issuer)

	var count int
	var hasSubfolder bool
	if err := row.Scan(&count, &hasSubfolder); err != nil {
		return 0, false, fmt.Errorf("increment issuer: %w", err)
	}
	return count, hasSubfolder, nil
}

func (r *TaxonomyRepository) DecrementIssuer(ctx context.Context, category, issuer string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE issuers SET document_count = GREATEST(document_count - 1, 0)
WHERE category_name = $1 AND issuer_key = $2
`, category, issuer)
	if err != nil {
		return fmt.Errorf("decrement issuer: %w", err)
	}
	return nil
}

func (r *TaxonomyRepository) ClaimSubfolder(ctx context.Context, category, issuer string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE issuers SET has_subfolder = TRUE, subfolder_created_at = $3
WHERE category_name = $1 AND issuer_key = $2 AND has_subfolder = FALSE
`, category, issuer, at)
	if err != nil {
		return false, fmt.Errorf("claim subfolder: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim subfolder rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *TaxonomyRepository) GetIssuer(ctx context.Context, category, issuer string) (*domain.IssuerEntry, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT category_name, issuer_key, document_count, has_subfolder, subfolder_created_at
FROM issuers
WHERE category_name = $1 AND issuer_key = $2
`, category, issuer)

	var entry domain.IssuerEntry
	var createdAt sql.NullTime
	err := row.Scan(&entry.CategoryName, &entry.IssuerKey, &entry.DocumentCount, &entry.HasSubfolder, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get issuer", fmt.Errorf("category=%s issuer=%s", category, issuer))
		}
		return nil, fmt.Errorf("scan issuer: %w", err)
	}
	if createdAt.Valid {
		entry.SubfolderCreatedAt = &createdAt.Time
	}
	return &entry, nil
}
