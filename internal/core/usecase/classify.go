package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/core/ports"
)

// ClassifierConfig carries the classification thresholds.
type ClassifierConfig struct {
	// RuleTrustedConfidence is the rule score at or above which a rule hit
	// counts as a trusted source on its own.
	RuleTrustedConfidence float64
	// ConfidenceFloor sends low-confidence external verdicts to the
	// uncategorized bucket.
	ConfidenceFloor float64
	// DegradedConfidenceCap bounds the confidence recorded when the external
	// analyzer is unavailable and a rule fallback fills in.
	DegradedConfidenceCap float64
	// AnalysisTimeout bounds one external analysis call.
	AnalysisTimeout time.Duration
}

// ClassifierUseCase decides category and issuer for one extracted document.
// The external analyzer is the primary source; rules serve as a trusted fast
// path for unambiguous documents and as a degraded fallback when the
// analyzer is unreachable.
type ClassifierUseCase struct {
	analyzer   ports.DocumentAnalyzer
	cache      ports.AnalysisCache
	rules      ports.RuleMatcher
	normalizer ports.EntityNormalizer
	taxonomy   ports.TaxonomyStore
	cfg        ClassifierConfig
	logger     *slog.Logger
}

func NewClassifierUseCase(
	analyzer ports.DocumentAnalyzer,
	cache ports.AnalysisCache,
	rules ports.RuleMatcher,
	normalizer ports.EntityNormalizer,
	taxonomy ports.TaxonomyStore,
	cfg ClassifierConfig,
	logger *slog.Logger,
) *ClassifierUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassifierUseCase{
		analyzer:   analyzer,
		cache:      cache,
		rules:      rules,
		normalizer: normalizer,
		taxonomy:   taxonomy,
		cfg:        cfg,
		logger:     logger,
	}
}

func (uc *ClassifierUseCase) Classify(ctx context.Context, doc *domain.Document) (domain.Classification, error) {
	if strings.TrimSpace(doc.RawText) == "" {
		return domain.Classification{}, domain.WrapError(domain.ErrInvalidInput, "classify document", errors.New("no extracted text"))
	}

	ruleCls, ruleHit := uc.rules.Match(doc.RawText, doc.Filename)

	// A high-confidence rule hit is the cheap path: the verdict is used
	// directly, without an external analysis call.
	if ruleHit && ruleCls.Confidence >= uc.cfg.RuleTrustedConfidence {
		cls := domain.Classification{
			Category:   strings.ToLower(strings.TrimSpace(ruleCls.Category)),
			Issuer:     uc.normalizer.Normalize(ruleCls.Issuer),
			Confidence: ruleCls.Confidence,
			Trusted:    true,
		}
		uc.logger.Debug("rule_fast_path",
			"document_id", doc.ID, "category", cls.Category, "confidence", cls.Confidence)
		if err := uc.ensureCategory(ctx, cls.Category); err != nil {
			return domain.Classification{}, err
		}
		return cls, nil
	}

	result, err := uc.analyze(ctx, doc)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return domain.Classification{}, err
		}
		return uc.degraded(ctx, doc, ruleCls, ruleHit, err)
	}

	cls := domain.Classification{
		Category:   strings.ToLower(strings.TrimSpace(result.Category)),
		Issuer:     uc.normalizer.Normalize(result.Issuer),
		Confidence: result.Confidence,
		Trusted:    true,
	}

	if cls.Category == "" || cls.Confidence < uc.cfg.ConfidenceFloor {
		uc.logger.Info("classification_below_floor",
			"document_id", doc.ID, "category", cls.Category, "confidence", cls.Confidence)
		cls.Category = domain.CategoryUncategorized
		cls.Issuer = ""
		cls.Trusted = false
	}

	if err := uc.ensureCategory(ctx, cls.Category); err != nil {
		return domain.Classification{}, err
	}
	return cls, nil
}

func (uc *ClassifierUseCase) analyze(ctx context.Context, doc *domain.Document) (domain.AnalysisResult, error) {
	analysisCtx := ctx
	if uc.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		analysisCtx, cancel = context.WithTimeout(ctx, uc.cfg.AnalysisTimeout)
		defer cancel()
	}

	kinds := []domain.AnalysisKind{domain.AnalysisClassification, domain.AnalysisEntities}
	result, hit, err := uc.cache.GetOrCompute(analysisCtx, doc.Fingerprint, kinds, func(callCtx context.Context) (domain.AnalysisResult, error) {
		return uc.analyzer.Analyze(callCtx, doc.RawText, kinds)
	})
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	if hit {
		uc.logger.Debug("analysis_cache_hit", "document_id", doc.ID, "fingerprint", doc.Fingerprint)
	}
	return result, nil
}

// degraded files the document by rule when the analyzer is down, capped and
// untrusted so a later trusted verdict can replace it. A classification that
// was already trusted is never downgraded.
func (uc *ClassifierUseCase) degraded(ctx context.Context, doc *domain.Document, ruleCls domain.Classification, ruleHit bool, cause error) (domain.Classification, error) {
	uc.logger.Warn("analysis_degraded", "document_id", doc.ID, "error", cause)

	if doc.TrustedSource && doc.Category != "" {
		return domain.Classification{
			Category:   doc.Category,
			Issuer:     doc.Issuer,
			Confidence: doc.Confidence,
			Trusted:    true,
		}, nil
	}

	cls := domain.Classification{Category: domain.CategoryUncategorized}
	if ruleHit {
		cls.Category = ruleCls.Category
		cls.Confidence = ruleCls.Confidence
		if cls.Confidence > uc.cfg.DegradedConfidenceCap {
			cls.Confidence = uc.cfg.DegradedConfidenceCap
		}
	}

	if err := uc.ensureCategory(ctx, cls.Category); err != nil {
		return domain.Classification{}, err
	}
	return cls, nil
}

func (uc *ClassifierUseCase) ensureCategory(ctx context.Context, name string) error {
	created, err := uc.taxonomy.EnsureCategory(ctx, name, false)
	if err != nil {
		return fmt.Errorf("ensure category %q: %w", name, err)
	}
	if created {
		uc.logger.Info("category_created", "category", name)
	}
	return nil
}
