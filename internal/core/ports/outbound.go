package ports

import (
	"context"
	"io"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

// BatchRepository persists batch state and aggregate counters.
type BatchRepository interface {
	Create(ctx context.Context, batch *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	UpdateStatus(ctx context.Context, id string, status domain.BatchStatus, reason string) error
	SetStarted(ctx context.Context, id string, at time.Time) error
	SetCompleted(ctx context.Context, id string, at time.Time) error
	SetTotalFiles(ctx context.Context, id string, total int) error
	IncrementOutcome(ctx context.Context, id string, succeeded bool) error
	// DecrementFailed unwinds one failed outcome when a document is rewound
	// for retry, keeping files_processed within total_files.
	DecrementFailed(ctx context.Context, id string) error
	ResetCounters(ctx context.Context, id string) error
	SetCanRollback(ctx context.Context, id string, can bool) error
}

// DocumentRepository persists per-document pipeline state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveExtraction(ctx context.Context, id, fingerprint, rawText string, ocrConfidence float64) error
	SaveClassification(ctx context.Context, id string, cls domain.Classification) error
	SetTargetPath(ctx context.Context, id, targetPath string) error
	SetIssuerCounted(ctx context.Context, id string, counted bool) error
	IncrementAttempts(ctx context.Context, id string) error
	ResetForRetry(ctx context.Context, id string) error
	// ListOrganized returns placed documents of one (category, issuer)
	// whose recorded target path still points under the given folder. Used
	// by the retroactive relocation pass.
	ListOrganized(ctx context.Context, category, issuer, targetPath string) ([]domain.Document, error)
}

// TaxonomyStore is the classification store: category and issuer counters
// with first-writer-wins inserts and single-winner subfolder claims.
type TaxonomyStore interface {
	EnsureCategory(ctx context.Context, name string, isBase bool) (created bool, err error)
	ListCategories(ctx context.Context) ([]domain.CategoryEntry, error)
	IncrementCategory(ctx context.Context, name string, delta int) error
	// IncrementIssuer atomically bumps the per-(category, issuer) counter,
	// creating the entry on first sight, and returns the post-increment
	// count together with the current subfolder flag.
	IncrementIssuer(ctx context.Context, category, issuer string) (count int, hasSubfolder bool, err error)
	DecrementIssuer(ctx context.Context, category, issuer string) error
	// ClaimSubfolder flips has_subfolder false->true. Exactly one caller
	// wins; losers get won=false and treat the subfolder as existing.
	ClaimSubfolder(ctx context.Context, category, issuer string, at time.Time) (won bool, err error)
	GetIssuer(ctx context.Context, category, issuer string) (*domain.IssuerEntry, error)
}

// FolderTree abstracts the physical document tree. Directory creation and
// same-path moves are idempotent no-ops.
type FolderTree interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	EnsureDir(ctx context.Context, dir string) error
	Move(ctx context.Context, from, to string) error
	Remove(ctx context.Context, key string) error
}

// TextExtractor is the OCR boundary: plain text plus an engine confidence.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (text string, confidence float64, err error)
}

// DocumentAnalyzer is the external LLM-backed analysis boundary.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, text string, kinds []domain.AnalysisKind) (domain.AnalysisResult, error)
}

// AnalysisCache memoizes analyzer calls by content fingerprint. Compute
// errors pass through uncached.
type AnalysisCache interface {
	GetOrCompute(ctx context.Context, fingerprint string, kinds []domain.AnalysisKind,
		compute func(context.Context) (domain.AnalysisResult, error)) (domain.AnalysisResult, bool, error)
}

// EntityNormalizer folds raw issuer strings to canonical keys.
type EntityNormalizer interface {
	Normalize(raw string) string
}

// RuleMatcher is the rule-based classification fast path.
type RuleMatcher interface {
	Match(text, filename string) (domain.Classification, bool)
}

// MessageQueue carries batch submissions and control commands between the
// api and worker processes.
type MessageQueue interface {
	PublishBatchSubmitted(ctx context.Context, batchID string) error
	SubscribeBatchSubmitted(ctx context.Context, handler func(context.Context, string) error) error
	RequestControl(ctx context.Context, cmd domain.ControlCommand) (domain.ControlReply, error)
	SubscribeControl(ctx context.Context, handler func(context.Context, domain.ControlCommand) domain.ControlReply) error
}

// EventSink publishes lifecycle events for external dashboards.
type EventSink interface {
	PublishBatchEvent(ctx context.Context, event domain.BatchEvent) error
}
