package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/infrastructure/repository/memory"
)

type pipeline struct {
	batches    *batchRepoFake
	docs       *docRepoFake
	tree       *treeFake
	taxonomy   *memory.TaxonomyStore
	classifier *classifierStub
	events     *eventsFake
	orch       *Orchestrator
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	p := &pipeline{
		batches:    newBatchRepoFake(),
		docs:       newDocRepoFake(),
		tree:       newTreeFake(),
		taxonomy:   memory.NewTaxonomyStore(),
		classifier: &classifierStub{byFile: map[string]domain.Classification{}, failing: map[string]int{}, errByFile: map[string]error{}},
		events:     &eventsFake{},
	}
	for _, name := range []string{"factures", "banque", domain.CategoryUncategorized} {
		if _, err := p.taxonomy.EnsureCategory(context.Background(), name, true); err != nil {
			t.Fatalf("EnsureCategory(%s) error = %v", name, err)
		}
	}

	organizer := NewOrganizerUseCase(p.taxonomy, p.tree, p.docs, 2, nil, nil)
	p.orch = NewOrchestrator(
		p.batches, p.docs,
		&extractorStub{texts: map[string]string{}},
		p.classifier, organizer, p.events,
		OrchestratorConfig{
			PoolSize:          1,
			MaxRetriesPerFile: 1,
			RetryBackoff:      time.Millisecond,
			RollbackGrace:     time.Minute,
		},
		nil, nil,
	)
	return p
}

func (p *pipeline) seedBatch(t *testing.T, cfg domain.BatchConfig, filenames ...string) *domain.Batch {
	t.Helper()

	now := time.Now().UTC()
	batch := &domain.Batch{
		ID: "b-1", Name: "scan", Status: domain.BatchPending, PipelineType: DefaultPipelineType,
		TotalFiles: len(filenames), CanRollback: true, Config: cfg, CreatedAt: now, UpdatedAt: now,
	}
	if err := p.batches.Create(context.Background(), batch); err != nil {
		t.Fatalf("Create(batch) error = %v", err)
	}

	for i, name := range filenames {
		doc := &domain.Document{
			ID: fmt.Sprintf("d-%d", i+1), BatchID: batch.ID, Filename: name,
			MimeType:    "application/pdf",
			StoragePath: fmt.Sprintf("%s/d-%d_%s", IntakeDir, i+1, name),
			Status:      domain.DocumentPending, CreatedAt: now, UpdatedAt: now,
		}
		if err := p.docs.Create(context.Background(), doc); err != nil {
			t.Fatalf("Create(doc) error = %v", err)
		}
		if err := p.tree.Save(context.Background(), doc.StoragePath, strings.NewReader("content")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	return batch
}

func (p *pipeline) batchStatus(t *testing.T, id string) *domain.Batch {
	t.Helper()
	batch, err := p.batches.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(batch) error = %v", err)
	}
	return batch
}

func TestRunHappyPathPromotesIssuerSubfolder(t *testing.T) {
	p := newPipeline(t)
	p.classifier.byFile["a.pdf"] = domain.Classification{Category: "factures", Issuer: "EDF", Confidence: 0.92, Trusted: true}
	p.classifier.byFile["b.pdf"] = domain.Classification{Category: "factures", Issuer: "EDF", Confidence: 0.9, Trusted: true}
	p.classifier.byFile["c.pdf"] = domain.Classification{Category: "banque", Issuer: "BNP", Confidence: 0.88, Trusted: true}
	batch := p.seedBatch(t, domain.BatchConfig{}, "a.pdf", "b.pdf", "c.pdf")

	if err := p.orch.Run(context.Background(), batch.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	final := p.batchStatus(t, batch.ID)
	if final.Status != domain.BatchCompleted {
		t.Fatalf("expected completed batch, got %s", final.Status)
	}
	if final.FilesSucceeded != 3 || final.FilesFailed != 0 {
		t.Fatalf("unexpected counters: %d/%d", final.FilesSucceeded, final.FilesFailed)
	}
	if final.FilesProcessed() != final.TotalFiles {
		t.Fatalf("processed %d != total %d", final.FilesProcessed(), final.TotalFiles)
	}
	if final.CompletedAt == nil || final.StartedAt == nil {
		t.Fatalf("expected started and completed timestamps")
	}

	edfDir := path.Join(TaxonomyDir, "factures", "EDF")
	for _, id := range []string{"d-1", "d-2"} {
		doc, err := p.docs.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if doc.Status != domain.DocumentSucceeded {
			t.Fatalf("expected %s succeeded, got %s", id, doc.Status)
		}
		if path.Dir(doc.TargetPath) != edfDir {
			t.Fatalf("expected %s in issuer subfolder, got %s", id, doc.TargetPath)
		}
		if !p.tree.has(doc.TargetPath) {
			t.Fatalf("expected file at %s", doc.TargetPath)
		}
	}

	other, err := p.docs.GetByID(context.Background(), "d-3")
	if err != nil {
		t.Fatalf("GetByID(d-3) error = %v", err)
	}
	if path.Dir(other.TargetPath) != path.Join(TaxonomyDir, "banque") {
		t.Fatalf("single BNP document must stay flat, got %s", other.TargetPath)
	}

	if got := len(p.events.byType(domain.EventDocumentSucceeded)); got != 3 {
		t.Fatalf("expected 3 success events, got %d", got)
	}
	if got := len(p.events.byType(domain.EventBatchFinished)); got != 1 {
		t.Fatalf("expected 1 finish event, got %d", got)
	}
}

func TestRunFailsEmptyBatch(t *testing.T) {
	p := newPipeline(t)
	batch := p.seedBatch(t, domain.BatchConfig{})

	err := p.orch.Run(context.Background(), batch.ID)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if got := p.batchStatus(t, batch.ID).Status; got != domain.BatchFailed {
		t.Fatalf("expected failed batch, got %s", got)
	}
}

func TestRunIsNoOpForFinishedBatch(t *testing.T) {
	p := newPipeline(t)
	batch := p.seedBatch(t, domain.BatchConfig{}, "a.pdf")
	if err := p.batches.UpdateStatus(context.Background(), batch.ID, domain.BatchCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	if err := p.orch.Run(context.Background(), batch.ID); err != nil {
		t.Fatalf("Run() on finished batch error = %v", err)
	}
	if len(p.events.byType(domain.EventBatchStarted)) != 0 {
		t.Fatalf("finished batch must not start again")
	}
}

func TestRunRetriesTemporaryFailures(t *testing.T) {
	p := newPipeline(t)
	p.classifier.byFile["a.pdf"] = domain.Classification{Category: "factures", Issuer: "EDF", Confidence: 0.9, Trusted: true}
	p.classifier.failing["a.pdf"] = 1
	batch := p.seedBatch(t, domain.BatchConfig{}, "a.pdf")

	if err := p.orch.Run(context.Background(), batch.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	doc, err := p.docs.GetByID(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.Status != domain.DocumentSucceeded {
		t.Fatalf("expected success after retry, got %s (%s)", doc.Status, doc.Error)
	}
	if doc.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", doc.Attempts)
	}
	if got := p.batchStatus(t, batch.ID).Status; got != domain.BatchCompleted {
		t.Fatalf("expected completed batch, got %s", got)
	}
}

func TestRunPermanentFailureEndsPartialSuccess(t *testing.T) {
	p := newPipeline(t)
	p.classifier.byFile["a.pdf"] = domain.Classification{Category: "factures", Issuer: "EDF", Confidence: 0.9, Trusted: true}
	p.classifier.errByFile["broken.pdf"] = domain.WrapError(domain.ErrPermanent, "classify", errors.New("unreadable"))
	batch := p.seedBatch(t, domain.BatchConfig{}, "a.pdf", "broken.pdf")

	if err := p.orch.Run(context.Background(), batch.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	final := p.batchStatus(t, batch.ID)
	if final.Status != domain.BatchPartialSuccess {
		t.Fatalf("expected partial_success, got %s", final.Status)
	}
	if final.FilesSucceeded != 1 || final.FilesFailed != 1 {
		t.Fatalf("unexpected counters: %d/%d", final.FilesSucceeded, final.FilesFailed)
	}

	failed, err := p.docs.GetByID(context.Background(), "d-2")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if failed.Attempts != 1 {
		t.Fatalf("permanent failures must not retry, got %d attempts", failed.Attempts)
	}
	if failed.Error == "" {
		t.Fatalf("expected recorded error message")
	}
}

func TestRunAutoRollbackOnError(t *testing.T) {
	p := newPipeline(t)
	p.classifier.byFile["a.pdf"] = domain.Classification{Category: "factures", Issuer: "EDF", Confidence: 0.9, Trusted: true}
	p.classifier.errByFile["broken.pdf"] = domain.WrapError(domain.ErrPermanent, "classify", errors.New("unreadable"))
	batch := p.seedBatch(t, domain.BatchConfig{AutoRollbackOnError: true}, "a.pdf", "broken.pdf")

	if err := p.orch.Run(context.Background(), batch.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	final := p.batchStatus(t, batch.ID)
	if final.Status != domain.BatchRolledBack {
		t.Fatalf("expected rolled_back, got %s", final.Status)
	}
	if final.FilesSucceeded != 0 || final.FilesFailed != 0 {
		t.Fatalf("expected counters reset, got %d/%d", final.FilesSucceeded, final.FilesFailed)
	}

	organized, err := p.docs.GetByID(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if organized.TargetPath != "" || organized.Status != domain.DocumentPending {
		t.Fatalf("expected document rewound to intake, got %+v", organized)
	}
	if !p.tree.has(organized.StoragePath) {
		t.Fatalf("expected file back at %s", organized.StoragePath)
	}
}

func TestRunAutoRollbackStopsDispatchingRemainingDocuments(t *testing.T) {
	p := newPipeline(t)
	p.classifier.errByFile["broken.pdf"] = domain.WrapError(domain.ErrPermanent, "classify", errors.New("unreadable"))
	p.classifier.byFile["a.pdf"] = domain.Classification{Category: "factures", Issuer: "EDF", Confidence: 0.9, Trusted: true}
	p.classifier.byFile["b.pdf"] = domain.Classification{Category: "banque", Issuer: "BNP", Confidence: 0.9, Trusted: true}
	batch := p.seedBatch(t, domain.BatchConfig{AutoRollbackOnError: true}, "broken.pdf", "a.pdf", "b.pdf")

	if err := p.orch.Run(context.Background(), batch.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	final := p.batchStatus(t, batch.ID)
	if final.Status != domain.BatchRolledBack {
		t.Fatalf("expected rolled_back, got %s", final.Status)
	}
	if final.CanRollback {
		t.Fatalf("rolled back batch must not stay rollback eligible")
	}

	// The failure of the first document aborts the run before the later
	// documents are picked up.
	for _, id := range []string{"d-2", "d-3"} {
		doc, err := p.docs.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if doc.Attempts != 0 {
			t.Fatalf("expected %s untouched after abort, got %d attempts", id, doc.Attempts)
		}
	}
}

func TestResumeRetriesFailedDocumentWithoutOvercounting(t *testing.T) {
	p := newPipeline(t)
	p.classifier.byFile["a.pdf"] = domain.Classification{Category: "factures", Issuer: "EDF", Confidence: 0.9, Trusted: true}
	p.classifier.errByFile["a.pdf"] = domain.WrapError(domain.ErrPermanent, "classify", errors.New("unreadable"))
	batch := p.seedBatch(t, domain.BatchConfig{PauseOnError: true}, "a.pdf")

	errs := make(chan error, 1)
	go func() {
		errs <- p.orch.Run(context.Background(), batch.ID)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for p.batchStatus(t, batch.ID).Status != domain.BatchPaused {
		if time.Now().After(deadline) {
			t.Fatalf("batch never paused on error, status = %s", p.batchStatus(t, batch.ID).Status)
		}
		time.Sleep(2 * time.Millisecond)
	}

	p.classifier.mu.Lock()
	delete(p.classifier.errByFile, "a.pdf")
	p.classifier.mu.Unlock()

	if status, err := p.orch.Resume(context.Background(), batch.ID); err != nil || status != domain.BatchProcessing {
		t.Fatalf("Resume() = %s, %v", status, err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	final := p.batchStatus(t, batch.ID)
	if final.Status != domain.BatchCompleted {
		t.Fatalf("expected completed after resume, got %s", final.Status)
	}
	if final.FilesSucceeded != 1 || final.FilesFailed != 0 {
		t.Fatalf("unexpected counters: %d/%d", final.FilesSucceeded, final.FilesFailed)
	}
	if final.FilesProcessed() > final.TotalFiles {
		t.Fatalf("processed %d exceeds total %d", final.FilesProcessed(), final.TotalFiles)
	}

	doc, err := p.docs.GetByID(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.Status != domain.DocumentSucceeded {
		t.Fatalf("expected success after resume, got %s (%s)", doc.Status, doc.Error)
	}
}

func TestRollbackAfterCompletionAndIdempotency(t *testing.T) {
	p := newPipeline(t)
	p.classifier.byFile["a.pdf"] = domain.Classification{Category: "factures", Issuer: "EDF", Confidence: 0.9, Trusted: true}
	p.classifier.byFile["b.pdf"] = domain.Classification{Category: "factures", Issuer: "EDF", Confidence: 0.9, Trusted: true}
	batch := p.seedBatch(t, domain.BatchConfig{}, "a.pdf", "b.pdf")

	if err := p.orch.Run(context.Background(), batch.ID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	status, err := p.orch.Rollback(context.Background(), batch.ID, "operator request")
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if status != domain.BatchRolledBack {
		t.Fatalf("expected rolled_back, got %s", status)
	}

	entry, err := p.taxonomy.GetIssuer(context.Background(), "factures", "EDF")
	if err != nil {
		t.Fatalf("GetIssuer() error = %v", err)
	}
	if entry.DocumentCount != 0 {
		t.Fatalf("expected issuer count unwound, got %d", entry.DocumentCount)
	}
	if !entry.HasSubfolder {
		t.Fatalf("promotion flag must survive rollback")
	}

	for _, id := range []string{"d-1", "d-2"} {
		doc, err := p.docs.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if !p.tree.has(doc.StoragePath) {
			t.Fatalf("expected %s back in intake", id)
		}
	}

	status, err = p.orch.Rollback(context.Background(), batch.ID, "again")
	if err != nil {
		t.Fatalf("Rollback() repeat error = %v", err)
	}
	if status != domain.BatchRolledBack {
		t.Fatalf("repeat rollback must be a no-op success, got %s", status)
	}
	if got := len(p.events.byType(domain.EventBatchRolledBack)); got != 1 {
		t.Fatalf("expected a single rollback event, got %d", got)
	}
}

func TestRollbackRejectedAfterGraceWindow(t *testing.T) {
	p := newPipeline(t)
	batch := p.seedBatch(t, domain.BatchConfig{}, "a.pdf")
	if err := p.batches.UpdateStatus(context.Background(), batch.ID, domain.BatchCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := p.batches.SetCompleted(context.Background(), batch.ID, time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("SetCompleted() error = %v", err)
	}

	_, err := p.orch.Rollback(context.Background(), batch.ID, "too late")
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPauseAndResumeLifecycle(t *testing.T) {
	p := newPipeline(t)
	batch := p.seedBatch(t, domain.BatchConfig{}, "a.pdf")

	// Pausing an unstarted batch is a conflict.
	if _, err := p.orch.Pause(context.Background(), batch.ID); !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected conflict pausing a pending batch, got %v", err)
	}

	if err := p.batches.UpdateStatus(context.Background(), batch.ID, domain.BatchProcessing, ""); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	state := p.orch.register(batch.ID)
	defer p.orch.unregister(batch.ID, state)

	status, err := p.orch.Pause(context.Background(), batch.ID)
	if err != nil || status != domain.BatchPaused {
		t.Fatalf("Pause() = %s, %v", status, err)
	}
	// Pausing again is a no-op success.
	if status, err = p.orch.Pause(context.Background(), batch.ID); err != nil || status != domain.BatchPaused {
		t.Fatalf("Pause() repeat = %s, %v", status, err)
	}

	status, err = p.orch.Resume(context.Background(), batch.ID)
	if err != nil || status != domain.BatchProcessing {
		t.Fatalf("Resume() = %s, %v", status, err)
	}
	// Resuming a running batch is a no-op success.
	if status, err = p.orch.Resume(context.Background(), batch.ID); err != nil || status != domain.BatchProcessing {
		t.Fatalf("Resume() repeat = %s, %v", status, err)
	}

	select {
	case <-state.gate:
	default:
		t.Fatalf("expected the scheduling gate reopened after resume")
	}
}

func TestHandleControlDispatch(t *testing.T) {
	p := newPipeline(t)
	batch := p.seedBatch(t, domain.BatchConfig{}, "a.pdf")
	if err := p.batches.UpdateStatus(context.Background(), batch.ID, domain.BatchProcessing, ""); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	reply := p.orch.HandleControl(context.Background(), domain.ControlCommand{BatchID: batch.ID, Action: domain.ControlPause})
	if !reply.OK || reply.Status != domain.BatchPaused {
		t.Fatalf("unexpected pause reply: %+v", reply)
	}

	reply = p.orch.HandleControl(context.Background(), domain.ControlCommand{BatchID: batch.ID, Action: "explode"})
	if reply.OK || reply.Error == "" {
		t.Fatalf("unknown actions must be rejected: %+v", reply)
	}

	reply = p.orch.HandleControl(context.Background(), domain.ControlCommand{BatchID: "missing", Action: domain.ControlPause})
	if reply.OK {
		t.Fatalf("missing batch must be rejected: %+v", reply)
	}
}
