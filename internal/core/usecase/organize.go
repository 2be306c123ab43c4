package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/core/ports"
)

// TaxonomyDir is the root of the organized document tree.
const TaxonomyDir = "taxonomy"

// OrganizerMetrics is implemented by the worker metrics registry.
type OrganizerMetrics interface {
	SubfolderPromoted(category string)
	DocumentsRelocated(n int)
}

// OrganizerUseCase places classified documents in the folder tree and
// promotes per-issuer subfolders once an issuer reaches the threshold.
// Promotion is one-shot: the subfolder flag never reverts, even when
// rollbacks later drop the count below the threshold.
type OrganizerUseCase struct {
	taxonomy  ports.TaxonomyStore
	tree      ports.FolderTree
	documents ports.DocumentRepository
	threshold int
	metrics   OrganizerMetrics
	logger    *slog.Logger

	// mu guards issuerLocks; each issuer lock serializes promotion and
	// relocation for one (category, issuer) pair inside this process.
	mu          sync.Mutex
	issuerLocks map[string]*sync.Mutex
}

func NewOrganizerUseCase(
	taxonomy ports.TaxonomyStore,
	tree ports.FolderTree,
	documents ports.DocumentRepository,
	threshold int,
	metrics OrganizerMetrics,
	logger *slog.Logger,
) *OrganizerUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrganizerUseCase{
		taxonomy:    taxonomy,
		tree:        tree,
		documents:   documents,
		threshold:   threshold,
		metrics:     metrics,
		logger:      logger,
		issuerLocks: make(map[string]*sync.Mutex),
	}
}

func (uc *OrganizerUseCase) Organize(ctx context.Context, doc *domain.Document) (string, error) {
	if doc.Category == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "organize document", errors.New("document has no category"))
	}

	categoryDir := path.Join(TaxonomyDir, doc.Category)
	if err := uc.tree.EnsureDir(ctx, categoryDir); err != nil {
		return "", fmt.Errorf("ensure category dir: %w", err)
	}

	if doc.Issuer == "" {
		return uc.place(ctx, doc, categoryDir)
	}

	// The issuer lock covers placement too, so a promotion triggered by a
	// sibling document always sees this document's recorded target path.
	lock := uc.lockFor(doc.Category, doc.Issuer)
	lock.Lock()
	defer lock.Unlock()

	destDir, err := uc.issuerDestination(ctx, doc, categoryDir)
	if err != nil {
		return "", err
	}
	return uc.place(ctx, doc, destDir)
}

func (uc *OrganizerUseCase) place(ctx context.Context, doc *domain.Document, destDir string) (string, error) {
	target := path.Join(destDir, path.Base(doc.StoragePath))
	alreadyPlaced := doc.TargetPath == target
	if err := uc.tree.Move(ctx, uc.currentLocation(doc), target); err != nil {
		return "", fmt.Errorf("move document into place: %w", err)
	}
	if err := uc.documents.SetTargetPath(ctx, doc.ID, target); err != nil {
		return "", fmt.Errorf("record target path: %w", err)
	}
	if !alreadyPlaced {
		if err := uc.taxonomy.IncrementCategory(ctx, doc.Category, 1); err != nil {
			return "", fmt.Errorf("bump category count: %w", err)
		}
	}

	doc.TargetPath = target
	return target, nil
}

// issuerDestination counts the document toward its issuer and decides
// between the flat category folder and the issuer subfolder. Each document
// counts exactly once: the counter increment stands even if a later move
// fails, and the retried placement reads the recorded count instead of
// incrementing again. Caller holds the issuer lock.
func (uc *OrganizerUseCase) issuerDestination(ctx context.Context, doc *domain.Document, categoryDir string) (string, error) {
	var (
		count        int
		hasSubfolder bool
	)
	if doc.IssuerCounted {
		entry, err := uc.taxonomy.GetIssuer(ctx, doc.Category, doc.Issuer)
		if err != nil {
			return "", fmt.Errorf("read issuer count: %w", err)
		}
		count, hasSubfolder = entry.DocumentCount, entry.HasSubfolder
	} else {
		var err error
		count, hasSubfolder, err = uc.taxonomy.IncrementIssuer(ctx, doc.Category, doc.Issuer)
		if err != nil {
			return "", fmt.Errorf("bump issuer count: %w", err)
		}
		if err := uc.documents.SetIssuerCounted(ctx, doc.ID, true); err != nil {
			return "", fmt.Errorf("mark issuer counted: %w", err)
		}
		doc.IssuerCounted = true
	}

	issuerDir := path.Join(categoryDir, doc.Issuer)
	if hasSubfolder {
		return issuerDir, nil
	}
	if count < uc.threshold {
		return categoryDir, nil
	}

	won, err := uc.taxonomy.ClaimSubfolder(ctx, doc.Category, doc.Issuer, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("claim issuer subfolder: %w", err)
	}
	if !won {
		// Another worker promoted first; the subfolder already exists.
		return issuerDir, nil
	}

	if err := uc.tree.EnsureDir(ctx, issuerDir); err != nil {
		return "", fmt.Errorf("create issuer subfolder: %w", err)
	}
	uc.logger.Info("issuer_subfolder_promoted",
		"category", doc.Category, "issuer", doc.Issuer, "count", count)
	if uc.metrics != nil {
		uc.metrics.SubfolderPromoted(doc.Category)
	}

	if err := uc.relocate(ctx, doc.Category, doc.Issuer, categoryDir, issuerDir); err != nil {
		return "", err
	}
	return issuerDir, nil
}

// relocate moves every already-organized document of the issuer out of the
// flat category folder into the fresh subfolder.
func (uc *OrganizerUseCase) relocate(ctx context.Context, category, issuer, categoryDir, issuerDir string) error {
	organized, err := uc.documents.ListOrganized(ctx, category, issuer, categoryDir+"/")
	if err != nil {
		return fmt.Errorf("list documents to relocate: %w", err)
	}

	moved := 0
	for _, doc := range organized {
		if path.Dir(doc.TargetPath) != categoryDir {
			continue
		}
		target := path.Join(issuerDir, path.Base(doc.TargetPath))
		if err := uc.tree.Move(ctx, doc.TargetPath, target); err != nil {
			return fmt.Errorf("relocate %s: %w", doc.ID, err)
		}
		if err := uc.documents.SetTargetPath(ctx, doc.ID, target); err != nil {
			return fmt.Errorf("record relocated path for %s: %w", doc.ID, err)
		}
		moved++
	}

	if moved > 0 {
		uc.logger.Info("issuer_documents_relocated",
			"category", category, "issuer", issuer, "moved", moved)
		if uc.metrics != nil {
			uc.metrics.DocumentsRelocated(moved)
		}
	}
	return nil
}

// Revert returns an organized document to the intake folder and unwinds the
// taxonomy counters. The issuer counter is unwound whenever the document was
// counted, even if its physical move never completed. Reverting a document
// that neither moved nor counted is a no-op.
func (uc *OrganizerUseCase) Revert(ctx context.Context, doc *domain.Document) error {
	if doc.TargetPath != "" {
		if err := uc.tree.Move(ctx, doc.TargetPath, doc.StoragePath); err != nil {
			return fmt.Errorf("move document back to intake: %w", err)
		}
		if doc.Category != "" {
			if err := uc.taxonomy.IncrementCategory(ctx, doc.Category, -1); err != nil {
				return fmt.Errorf("unwind category count: %w", err)
			}
		}
		if err := uc.documents.SetTargetPath(ctx, doc.ID, ""); err != nil {
			return fmt.Errorf("clear target path: %w", err)
		}
		doc.TargetPath = ""
	}

	if doc.IssuerCounted && doc.Issuer != "" {
		if err := uc.taxonomy.DecrementIssuer(ctx, doc.Category, doc.Issuer); err != nil {
			return fmt.Errorf("unwind issuer count: %w", err)
		}
		if err := uc.documents.SetIssuerCounted(ctx, doc.ID, false); err != nil {
			return fmt.Errorf("clear issuer counted: %w", err)
		}
		doc.IssuerCounted = false
	}
	return nil
}

func (uc *OrganizerUseCase) currentLocation(doc *domain.Document) string {
	if doc.TargetPath != "" {
		return doc.TargetPath
	}
	return doc.StoragePath
}

func (uc *OrganizerUseCase) lockFor(category, issuer string) *sync.Mutex {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	key := category + "\x00" + issuer
	lock, ok := uc.issuerLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		uc.issuerLocks[key] = lock
	}
	return lock
}
