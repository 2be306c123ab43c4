package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/core/ports"
)

// OrchestratorConfig tunes the per-batch run.
type OrchestratorConfig struct {
	PoolSize          int
	MaxRetriesPerFile int
	RetryBackoff      time.Duration
	RollbackGrace     time.Duration
}

// OrchestratorMetrics is implemented by the worker metrics registry.
type OrchestratorMetrics interface {
	BatchStarted()
	BatchFinished(status string)
	DocumentFinished(status string)
	DocumentsInFlight(delta int)
	RollbackPerformed()
}

// Orchestrator drives one batch through validation, the bounded worker
// pool, and a terminal status. It also answers pause, resume, and rollback
// commands for batches it owns.
type Orchestrator struct {
	batches    ports.BatchRepository
	documents  ports.DocumentRepository
	extractor  ports.TextExtractor
	classifier ports.DocumentClassifier
	organizer  ports.DocumentOrganizer
	events     ports.EventSink
	cfg        OrchestratorConfig
	metrics    OrchestratorMetrics
	logger     *slog.Logger

	mu   sync.Mutex
	runs map[string]*runState
}

func NewOrchestrator(
	batches ports.BatchRepository,
	documents ports.DocumentRepository,
	extractor ports.TextExtractor,
	classifier ports.DocumentClassifier,
	organizer ports.DocumentOrganizer,
	events ports.EventSink,
	cfg OrchestratorConfig,
	metrics OrchestratorMetrics,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		batches:    batches,
		documents:  documents,
		extractor:  extractor,
		classifier: classifier,
		organizer:  organizer,
		events:     events,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		runs:       make(map[string]*runState),
	}
}

// runState is the in-process gate for one active batch run.
type runState struct {
	mu           sync.Mutex
	gate         chan struct{} // closed while running, fresh while paused
	stopped      chan struct{} // closed when the run must abort (rollback)
	done         chan struct{} // closed when Run returns
	autoRollback bool          // set when a failure demands a rollback of this run
}

func newRunState() *runState {
	gate := make(chan struct{})
	close(gate)
	return &runState{
		gate:    gate,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *runState) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.gate:
		s.gate = make(chan struct{})
	default:
	}
}

func (s *runState) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.gate:
	default:
		close(s.gate)
	}
}

func (s *runState) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
}

// requestRollback halts dispatch and marks the run for rollback once the
// in-flight documents have drained.
func (s *runState) requestRollback() {
	s.mu.Lock()
	s.autoRollback = true
	s.mu.Unlock()
	s.stop()
}

func (s *runState) rollbackRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoRollback
}

var errRunStopped = errors.New("run stopped")

// waitTurn blocks while the run is paused and fails fast when the run was
// stopped or the context expired.
func (s *runState) waitTurn(ctx context.Context) error {
	for {
		s.mu.Lock()
		gate := s.gate
		s.mu.Unlock()

		select {
		case <-s.stopped:
			return errRunStopped
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
			select {
			case <-s.stopped:
				return errRunStopped
			default:
				return nil
			}
		}
	}
}

// Run processes one submitted batch. Redeliveries of finished batches are
// no-op successes.
func (o *Orchestrator) Run(ctx context.Context, batchID string) error {
	batch, err := o.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.Terminal() {
		o.logger.Info("batch_already_finished", "batch_id", batchID, "status", batch.Status)
		return nil
	}

	resuming := batch.Status == domain.BatchProcessing || batch.Status == domain.BatchPaused
	if !resuming {
		if err := o.transition(ctx, batch, domain.BatchValidating, ""); err != nil {
			return err
		}
	}

	docs, err := o.documents.ListByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("list batch documents: %w", err)
	}
	if len(docs) == 0 {
		_ = o.transition(ctx, batch, domain.BatchFailed, "batch has no documents")
		return domain.WrapError(domain.ErrInvalidInput, "run batch", errors.New("batch has no documents"))
	}

	if batch.Status != domain.BatchProcessing {
		if err := o.transition(ctx, batch, domain.BatchProcessing, ""); err != nil {
			return err
		}
	}
	if batch.StartedAt == nil {
		if err := o.batches.SetStarted(ctx, batchID, time.Now().UTC()); err != nil {
			return fmt.Errorf("set batch started: %w", err)
		}
	}
	o.publishEvent(ctx, domain.BatchEvent{
		Type: domain.EventBatchStarted, BatchID: batchID,
		Status: domain.BatchProcessing, At: time.Now().UTC(),
	})
	if o.metrics != nil {
		o.metrics.BatchStarted()
	}

	state := o.register(batchID)
	o.runPasses(ctx, batch, docs, state)
	// Unregister before finalizing so a rollback triggered from finalize
	// does not wait on its own run.
	o.unregister(batchID, state)

	return o.finalize(ctx, batchID, state)
}

// runPasses dispatches pool passes until every document reached a terminal
// status. A resume can rewind failed documents to pending mid-run, so the
// document set is re-read between passes; the waitTurn in between parks the
// run while the batch is paused.
func (o *Orchestrator) runPasses(ctx context.Context, batch *domain.Batch, docs []domain.Document, state *runState) {
	for {
		o.runPool(ctx, batch, docs, state)

		if err := state.waitTurn(ctx); err != nil {
			return
		}

		next, err := o.documents.ListByBatch(ctx, batch.ID)
		if err != nil {
			o.logger.Error("relist_batch_documents_failed", "batch_id", batch.ID, "error", err)
			return
		}
		remaining := false
		for _, doc := range next {
			if !doc.Status.Terminal() {
				remaining = true
				break
			}
		}
		if !remaining {
			return
		}
		docs = next
	}
}

func (o *Orchestrator) runPool(ctx context.Context, batch *domain.Batch, docs []domain.Document, state *runState) {
	sem := make(chan struct{}, o.cfg.PoolSize)
	var wg sync.WaitGroup

	for i := range docs {
		doc := docs[i]
		// Failed documents are only re-dispatched after an explicit rewind
		// resets them to pending.
		if doc.Status.Terminal() {
			continue
		}

		if err := state.waitTurn(ctx); err != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			o.processDocument(ctx, batch, doc.ID, state)
		}()
	}

	wg.Wait()
}

func (o *Orchestrator) maxAttempts(batch *domain.Batch) int {
	retries := batch.Config.MaxRetriesPerFile
	if retries <= 0 {
		retries = o.cfg.MaxRetriesPerFile
	}
	return retries + 1
}

func (o *Orchestrator) processDocument(ctx context.Context, batch *domain.Batch, docID string, state *runState) {
	if o.metrics != nil {
		o.metrics.DocumentsInFlight(1)
		defer o.metrics.DocumentsInFlight(-1)
	}

	maxAttempts := o.maxAttempts(batch)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := state.waitTurn(ctx); err != nil {
			return
		}

		lastErr = o.processOnce(ctx, docID)
		if lastErr == nil {
			o.recordOutcome(ctx, batch.ID, docID, true, "")
			return
		}
		if !domain.IsKind(lastErr, domain.ErrTemporary) {
			break
		}
		if attempt < maxAttempts {
			o.logger.Warn("document_attempt_failed",
				"batch_id", batch.ID, "document_id", docID,
				"attempt", attempt, "error", lastErr)
			select {
			case <-time.After(o.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return
			case <-state.stopped:
				return
			}
		}
	}

	o.recordOutcome(ctx, batch.ID, docID, false, lastErr.Error())

	if batch.Config.AutoRollbackOnError {
		// The first unretryable failure aborts the run; remaining documents
		// are not dispatched and finalize performs the rollback.
		o.logger.Warn("auto_rollback_triggered", "batch_id", batch.ID, "document_id", docID, "error", lastErr)
		state.requestRollback()
		return
	}
	if batch.Config.PauseOnError {
		if _, err := o.Pause(ctx, batch.ID); err != nil {
			o.logger.Error("pause_on_error_failed", "batch_id", batch.ID, "error", err)
		}
	}
}

func (o *Orchestrator) processOnce(ctx context.Context, docID string) error {
	if err := o.documents.IncrementAttempts(ctx, docID); err != nil {
		return fmt.Errorf("bump attempts: %w", err)
	}
	if err := o.documents.UpdateStatus(ctx, docID, domain.DocumentClassifying, ""); err != nil {
		return fmt.Errorf("set status=classifying: %w", err)
	}

	doc, err := o.documents.GetByID(ctx, docID)
	if err != nil {
		return err
	}

	if doc.Fingerprint == "" {
		text, confidence, err := o.extractor.Extract(ctx, doc)
		if err != nil {
			return fmt.Errorf("extract text: %w", err)
		}
		doc.RawText = text
		doc.OCRConfidence = confidence
		doc.Fingerprint = Fingerprint(text)
		if err := o.documents.SaveExtraction(ctx, docID, doc.Fingerprint, text, confidence); err != nil {
			return fmt.Errorf("save extraction: %w", err)
		}
	}

	cls, err := o.classifier.Classify(ctx, doc)
	if err != nil {
		return fmt.Errorf("classify document: %w", err)
	}
	if err := o.documents.SaveClassification(ctx, docID, cls); err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	doc.Category = cls.Category
	doc.Issuer = cls.Issuer
	doc.Confidence = cls.Confidence
	doc.TrustedSource = cls.Trusted

	if err := o.documents.UpdateStatus(ctx, docID, domain.DocumentOrganizing, ""); err != nil {
		return fmt.Errorf("set status=organizing: %w", err)
	}
	if _, err := o.organizer.Organize(ctx, doc); err != nil {
		return fmt.Errorf("organize document: %w", err)
	}
	return nil
}

func (o *Orchestrator) recordOutcome(ctx context.Context, batchID, docID string, succeeded bool, errMessage string) {
	status := domain.DocumentFailed
	eventType := domain.EventDocumentFailed
	if succeeded {
		status = domain.DocumentSucceeded
		eventType = domain.EventDocumentSucceeded
	}

	if err := o.documents.UpdateStatus(ctx, docID, status, errMessage); err != nil {
		o.logger.Error("record_document_status_failed", "document_id", docID, "error", err)
	}
	if err := o.batches.IncrementOutcome(ctx, batchID, succeeded); err != nil {
		o.logger.Error("record_batch_outcome_failed", "batch_id", batchID, "error", err)
	}
	o.publishEvent(ctx, domain.BatchEvent{
		Type: eventType, BatchID: batchID, DocumentID: docID,
		Detail: errMessage, At: time.Now().UTC(),
	})
	if o.metrics != nil {
		o.metrics.DocumentFinished(string(status))
	}
}

func (o *Orchestrator) finalize(ctx context.Context, batchID string, state *runState) error {
	batch, err := o.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}

	select {
	case <-state.stopped:
		if !state.rollbackRequested() {
			// An explicit rollback took over the run; it owns the terminal
			// status.
			return nil
		}
	default:
	}

	if batch.Status.Terminal() {
		return nil
	}

	if batch.Config.AutoRollbackOnError && (state.rollbackRequested() || batch.FilesFailed > 0) {
		if _, err := o.Rollback(ctx, batchID, "auto rollback on error"); err != nil {
			return fmt.Errorf("auto rollback: %w", err)
		}
		return nil
	}

	if batch.Status == domain.BatchPaused {
		o.logger.Info("batch_paused_mid_run", "batch_id", batchID,
			"processed", batch.FilesProcessed(), "total", batch.TotalFiles)
		return nil
	}

	final := domain.BatchCompleted
	switch {
	case batch.FilesFailed == 0:
		final = domain.BatchCompleted
	case batch.FilesSucceeded > 0:
		final = domain.BatchPartialSuccess
	default:
		final = domain.BatchFailed
	}

	if err := o.transition(ctx, batch, final, ""); err != nil {
		return err
	}
	if err := o.batches.SetCompleted(ctx, batchID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set batch completed: %w", err)
	}
	o.publishEvent(ctx, domain.BatchEvent{
		Type: domain.EventBatchFinished, BatchID: batchID,
		Status: final, At: time.Now().UTC(),
	})
	if o.metrics != nil {
		o.metrics.BatchFinished(string(final))
	}
	o.logger.Info("batch_finished", "batch_id", batchID, "status", final,
		"succeeded", batch.FilesSucceeded, "failed", batch.FilesFailed)
	return nil
}

// Pause suspends scheduling of further documents. In-flight documents run
// to completion. Pausing a paused batch is a no-op success.
func (o *Orchestrator) Pause(ctx context.Context, batchID string) (domain.BatchStatus, error) {
	batch, err := o.batches.GetByID(ctx, batchID)
	if err != nil {
		return "", err
	}
	if batch.Status == domain.BatchPaused {
		return domain.BatchPaused, nil
	}
	if !batch.Status.CanTransition(domain.BatchPaused) {
		return batch.Status, domain.WrapError(domain.ErrConflict, "pause batch",
			fmt.Errorf("cannot pause batch in status %s", batch.Status))
	}

	if state := o.lookup(batchID); state != nil {
		state.pause()
	}
	if err := o.transition(ctx, batch, domain.BatchPaused, ""); err != nil {
		return batch.Status, err
	}
	o.publishEvent(ctx, domain.BatchEvent{
		Type: domain.EventBatchPaused, BatchID: batchID,
		Status: domain.BatchPaused, At: time.Now().UTC(),
	})
	return domain.BatchPaused, nil
}

// Resume reopens the scheduling gate. Failed documents with attempts to
// spare are rewound to pending so the run picks them up again. If the
// owning run is gone (worker restart), a fresh run is started.
func (o *Orchestrator) Resume(ctx context.Context, batchID string) (domain.BatchStatus, error) {
	batch, err := o.batches.GetByID(ctx, batchID)
	if err != nil {
		return "", err
	}
	if batch.Status == domain.BatchProcessing {
		return domain.BatchProcessing, nil
	}
	if batch.Status != domain.BatchPaused {
		return batch.Status, domain.WrapError(domain.ErrConflict, "resume batch",
			fmt.Errorf("cannot resume batch in status %s", batch.Status))
	}

	if err := o.rewindFailedDocuments(ctx, batch); err != nil {
		return batch.Status, err
	}
	if err := o.transition(ctx, batch, domain.BatchProcessing, ""); err != nil {
		return batch.Status, err
	}
	o.publishEvent(ctx, domain.BatchEvent{
		Type: domain.EventBatchResumed, BatchID: batchID,
		Status: domain.BatchProcessing, At: time.Now().UTC(),
	})

	if state := o.lookup(batchID); state != nil {
		state.resume()
		return domain.BatchProcessing, nil
	}

	go func() {
		if err := o.Run(context.WithoutCancel(ctx), batchID); err != nil {
			o.logger.Error("resumed_run_failed", "batch_id", batchID, "error", err)
		}
	}()
	return domain.BatchProcessing, nil
}

func (o *Orchestrator) rewindFailedDocuments(ctx context.Context, batch *domain.Batch) error {
	docs, err := o.documents.ListByBatch(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("list batch documents: %w", err)
	}
	for _, doc := range docs {
		if doc.Status != domain.DocumentFailed {
			continue
		}
		if doc.Attempts > o.maxAttempts(batch) {
			continue
		}
		if err := o.documents.ResetForRetry(ctx, doc.ID); err != nil {
			return fmt.Errorf("rewind document %s: %w", doc.ID, err)
		}
		// The failed outcome is withdrawn along with the document, so the
		// re-run's outcome does not push files_processed past total_files.
		if err := o.batches.DecrementFailed(ctx, batch.ID); err != nil {
			return fmt.Errorf("unwind failed counter: %w", err)
		}
	}
	return nil
}

// Rollback returns every organized document to intake and unwinds the
// taxonomy counters. Subfolder promotions stay: the flag never reverts.
// Rolling back an already rolled back batch is a no-op success.
func (o *Orchestrator) Rollback(ctx context.Context, batchID, reason string) (domain.BatchStatus, error) {
	batch, err := o.batches.GetByID(ctx, batchID)
	if err != nil {
		return "", err
	}
	if batch.Status == domain.BatchRolledBack {
		return domain.BatchRolledBack, nil
	}
	if !batch.RollbackEligible(time.Now().UTC(), o.cfg.RollbackGrace) {
		return batch.Status, domain.WrapError(domain.ErrConflict, "rollback batch",
			fmt.Errorf("batch in status %s is not rollback eligible", batch.Status))
	}

	if state := o.lookup(batchID); state != nil {
		state.stop()
		state.resume() // release workers blocked on a paused gate
		select {
		case <-state.done:
		case <-ctx.Done():
			return batch.Status, ctx.Err()
		}
	}

	docs, err := o.documents.ListByBatch(ctx, batchID)
	if err != nil {
		return batch.Status, fmt.Errorf("list batch documents: %w", err)
	}
	for i := range docs {
		doc := docs[i]
		if err := o.organizer.Revert(ctx, &doc); err != nil {
			return batch.Status, fmt.Errorf("revert document %s: %w", doc.ID, err)
		}
		if err := o.documents.ResetForRetry(ctx, doc.ID); err != nil {
			return batch.Status, fmt.Errorf("reset document %s: %w", doc.ID, err)
		}
	}
	if err := o.batches.ResetCounters(ctx, batchID); err != nil {
		return batch.Status, fmt.Errorf("reset batch counters: %w", err)
	}
	if err := o.transition(ctx, batch, domain.BatchRolledBack, reason); err != nil {
		return batch.Status, err
	}
	if err := o.batches.SetCanRollback(ctx, batchID, false); err != nil {
		return batch.Status, fmt.Errorf("clear rollback eligibility: %w", err)
	}

	o.publishEvent(ctx, domain.BatchEvent{
		Type: domain.EventBatchRolledBack, BatchID: batchID,
		Status: domain.BatchRolledBack, Detail: reason, At: time.Now().UTC(),
	})
	if o.metrics != nil {
		o.metrics.RollbackPerformed()
	}
	o.logger.Info("batch_rolled_back", "batch_id", batchID, "reason", reason)
	return domain.BatchRolledBack, nil
}

// HandleControl dispatches a queued control command to the matching
// operation and shapes the reply.
func (o *Orchestrator) HandleControl(ctx context.Context, cmd domain.ControlCommand) domain.ControlReply {
	var status domain.BatchStatus
	var err error

	switch cmd.Action {
	case domain.ControlPause:
		status, err = o.Pause(ctx, cmd.BatchID)
	case domain.ControlResume:
		status, err = o.Resume(ctx, cmd.BatchID)
	case domain.ControlRollback:
		status, err = o.Rollback(ctx, cmd.BatchID, cmd.Reason)
	default:
		err = domain.WrapError(domain.ErrInvalidInput, "handle control",
			fmt.Errorf("unknown action %q", cmd.Action))
	}

	if err != nil {
		return domain.ControlReply{OK: false, Status: status, Error: err.Error()}
	}
	return domain.ControlReply{OK: true, Status: status}
}

func (o *Orchestrator) transition(ctx context.Context, batch *domain.Batch, to domain.BatchStatus, reason string) error {
	if !batch.Status.CanTransition(to) {
		return domain.WrapError(domain.ErrConflict, "batch transition",
			fmt.Errorf("%s -> %s is not allowed", batch.Status, to))
	}
	if err := o.batches.UpdateStatus(ctx, batch.ID, to, reason); err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	batch.Status = to
	return nil
}

func (o *Orchestrator) publishEvent(ctx context.Context, event domain.BatchEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishBatchEvent(ctx, event); err != nil {
		o.logger.Warn("publish_event_failed", "batch_id", event.BatchID, "type", event.Type, "error", err)
	}
}

func (o *Orchestrator) register(batchID string) *runState {
	o.mu.Lock()
	defer o.mu.Unlock()
	state := newRunState()
	o.runs[batchID] = state
	return state
}

func (o *Orchestrator) unregister(batchID string, state *runState) {
	close(state.done)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs[batchID] == state {
		delete(o.runs, batchID)
	}
}

func (o *Orchestrator) lookup(batchID string) *runState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[batchID]
}

// Fingerprint hashes whitespace-normalized text so the same content keyed
// from different scans shares analysis results.
func Fingerprint(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
