package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

type batchRepoFake struct {
	mu      sync.Mutex
	batches map[string]*domain.Batch
}

func newBatchRepoFake() *batchRepoFake {
	return &batchRepoFake{batches: make(map[string]*domain.Batch)}
}

func (f *batchRepoFake) Create(_ context.Context, batch *domain.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyBatch := *batch
	f.batches[batch.ID] = &copyBatch
	return nil
}

func (f *batchRepoFake) GetByID(_ context.Context, id string) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch, ok := f.batches[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrBatchNotFound, "get batch", errors.New(id))
	}
	copyBatch := *batch
	return &copyBatch, nil
}

func (f *batchRepoFake) UpdateStatus(_ context.Context, id string, status domain.BatchStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[id]; ok {
		batch.Status = status
		batch.RollbackReason = reason
	}
	return nil
}

func (f *batchRepoFake) SetStarted(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[id]; ok {
		stamp := at
		batch.StartedAt = &stamp
	}
	return nil
}

func (f *batchRepoFake) SetCompleted(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[id]; ok {
		stamp := at
		batch.CompletedAt = &stamp
	}
	return nil
}

func (f *batchRepoFake) SetTotalFiles(_ context.Context, id string, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[id]; ok {
		batch.TotalFiles = total
	}
	return nil
}

func (f *batchRepoFake) IncrementOutcome(_ context.Context, id string, succeeded bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[id]; ok {
		if succeeded {
			batch.FilesSucceeded++
		} else {
			batch.FilesFailed++
		}
	}
	return nil
}

func (f *batchRepoFake) DecrementFailed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[id]; ok && batch.FilesFailed > 0 {
		batch.FilesFailed--
	}
	return nil
}

func (f *batchRepoFake) ResetCounters(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[id]; ok {
		batch.FilesSucceeded = 0
		batch.FilesFailed = 0
	}
	return nil
}

func (f *batchRepoFake) SetCanRollback(_ context.Context, id string, can bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch, ok := f.batches[id]; ok {
		batch.CanRollback = can
	}
	return nil
}

type docRepoFake struct {
	mu    sync.Mutex
	docs  map[string]*domain.Document
	order []string
}

func newDocRepoFake() *docRepoFake {
	return &docRepoFake{docs: make(map[string]*domain.Document)}
}

func (f *docRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	f.order = append(f.order, doc.ID)
	return nil
}

func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *docRepoFake) ListByBatch(_ context.Context, batchID string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var docs []domain.Document
	for _, id := range f.order {
		if doc := f.docs[id]; doc.BatchID == batchID {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

func (f *docRepoFake) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		doc.Status = status
		doc.Error = errMessage
	}
	return nil
}

func (f *docRepoFake) SaveExtraction(_ context.Context, id, fingerprint, rawText string, ocrConfidence float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		doc.Fingerprint = fingerprint
		doc.RawText = rawText
		doc.OCRConfidence = ocrConfidence
	}
	return nil
}

func (f *docRepoFake) SaveClassification(_ context.Context, id string, cls domain.Classification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		doc.Category = cls.Category
		doc.Issuer = cls.Issuer
		doc.Confidence = cls.Confidence
		doc.TrustedSource = cls.Trusted
	}
	return nil
}

func (f *docRepoFake) SetTargetPath(_ context.Context, id, targetPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		doc.TargetPath = targetPath
	}
	return nil
}

func (f *docRepoFake) SetIssuerCounted(_ context.Context, id string, counted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		doc.IssuerCounted = counted
	}
	return nil
}

func (f *docRepoFake) IncrementAttempts(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		doc.Attempts++
	}
	return nil
}

func (f *docRepoFake) ResetForRetry(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc, ok := f.docs[id]; ok {
		doc.Status = domain.DocumentPending
		doc.Error = ""
		doc.TargetPath = ""
	}
	return nil
}

func (f *docRepoFake) ListOrganized(_ context.Context, category, issuer, targetPath string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var docs []domain.Document
	for _, id := range f.order {
		doc := f.docs[id]
		if doc.Category == category && doc.Issuer == issuer &&
			doc.TargetPath != "" &&
			strings.HasPrefix(doc.TargetPath, targetPath) {
			docs = append(docs, *doc)
		}
	}
	return docs, nil
}

// treeFake tracks file keys and directories in memory with the same move
// semantics as the local filesystem tree.
type treeFake struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newTreeFake() *treeFake {
	return &treeFake{files: make(map[string][]byte), dirs: make(map[string]bool)}
}

func (f *treeFake) Save(_ context.Context, key string, data io.Reader) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = content
	return nil
}

func (f *treeFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[key]
	if !ok {
		return nil, errors.New("not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (f *treeFake) EnsureDir(_ context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[dir] = true
	return nil
}

func (f *treeFake) Move(_ context.Context, from, to string) error {
	if from == to {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[from]
	if !ok {
		if _, already := f.files[to]; already {
			return nil
		}
		return errors.New("move source missing: " + from)
	}
	delete(f.files, from)
	f.files[to] = content
	return nil
}

func (f *treeFake) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, key)
	return nil
}

func (f *treeFake) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[key]
	return ok
}

type queueFake struct {
	mu        sync.Mutex
	submitted []string
}

func (f *queueFake) PublishBatchSubmitted(_ context.Context, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, batchID)
	return nil
}

func (f *queueFake) SubscribeBatchSubmitted(context.Context, func(context.Context, string) error) error {
	return nil
}

func (f *queueFake) RequestControl(context.Context, domain.ControlCommand) (domain.ControlReply, error) {
	return domain.ControlReply{}, nil
}

func (f *queueFake) SubscribeControl(context.Context, func(context.Context, domain.ControlCommand) domain.ControlReply) error {
	return nil
}

type eventsFake struct {
	mu     sync.Mutex
	events []domain.BatchEvent
}

func (f *eventsFake) PublishBatchEvent(_ context.Context, event domain.BatchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *eventsFake) byType(eventType domain.BatchEventType) []domain.BatchEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []domain.BatchEvent
	for _, event := range f.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type analyzerFake struct {
	mu      sync.Mutex
	result  domain.AnalysisResult
	err     error
	failing int // fail this many calls before succeeding
	calls   int
}

func (f *analyzerFake) Analyze(context.Context, string, []domain.AnalysisKind) (domain.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing > 0 {
		f.failing--
		return domain.AnalysisResult{}, domain.WrapError(domain.ErrTemporary, "analyze", errors.New("analyzer down"))
	}
	if f.err != nil {
		return domain.AnalysisResult{}, f.err
	}
	return f.result, nil
}

// passCache forwards every lookup to compute without memoizing.
type passCache struct{}

func (passCache) GetOrCompute(ctx context.Context, _ string, _ []domain.AnalysisKind,
	compute func(context.Context) (domain.AnalysisResult, error)) (domain.AnalysisResult, bool, error) {
	result, err := compute(ctx)
	return result, false, err
}

type rulesFake struct {
	cls domain.Classification
	hit bool
}

func (f *rulesFake) Match(string, string) (domain.Classification, bool) {
	return f.cls, f.hit
}

type normalizerFake struct{}

func (normalizerFake) Normalize(raw string) string {
	folded := strings.ToUpper(strings.TrimSpace(raw))
	folded = strings.ReplaceAll(folded, ".", "")
	return strings.Join(strings.Fields(folded), " ")
}

type extractorStub struct {
	texts map[string]string // by filename
	err   error
}

func (f *extractorStub) Extract(_ context.Context, doc *domain.Document) (string, float64, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	text, ok := f.texts[doc.Filename]
	if !ok {
		text = "document text"
	}
	return text, 0.95, nil
}

type classifierStub struct {
	mu        sync.Mutex
	byFile    map[string]domain.Classification
	failing   map[string]int // per-filename transient failures before success
	errByFile map[string]error
}

func (f *classifierStub) Classify(_ context.Context, doc *domain.Document) (domain.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if remaining := f.failing[doc.Filename]; remaining > 0 {
		f.failing[doc.Filename] = remaining - 1
		return domain.Classification{}, domain.WrapError(domain.ErrTemporary, "classify", errors.New("transient"))
	}
	if err := f.errByFile[doc.Filename]; err != nil {
		return domain.Classification{}, err
	}
	if cls, ok := f.byFile[doc.Filename]; ok {
		return cls, nil
	}
	return domain.Classification{Category: domain.CategoryUncategorized}, nil
}

type organizerMetricsFake struct {
	mu         sync.Mutex
	promotions int
	relocated  int
}

func (f *organizerMetricsFake) SubfolderPromoted(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promotions++
}

func (f *organizerMetricsFake) DocumentsRelocated(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relocated += n
}
