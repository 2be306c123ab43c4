package domain

import "time"

type BatchStatus string

const (
	BatchPending        BatchStatus = "pending"
	BatchValidating     BatchStatus = "validating"
	BatchProcessing     BatchStatus = "processing"
	BatchPaused         BatchStatus = "paused"
	BatchCompleted      BatchStatus = "completed"
	BatchPartialSuccess BatchStatus = "partial_success"
	BatchFailed         BatchStatus = "failed"
	BatchRolledBack     BatchStatus = "rolled_back"
)

func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchPartialSuccess, BatchFailed, BatchRolledBack:
		return true
	}
	return false
}

// CanTransition encodes the batch state machine. Rollback is reachable from
// the active states only; terminal states never move again except
// partial_success, which stays rollback-eligible inside the grace window.
func (s BatchStatus) CanTransition(to BatchStatus) bool {
	allowed, ok := batchTransitions[s]
	if !ok {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:    {BatchValidating, BatchFailed},
	BatchValidating: {BatchProcessing, BatchFailed},
	BatchProcessing: {
		BatchPaused, BatchCompleted, BatchPartialSuccess,
		BatchFailed, BatchRolledBack,
	},
	BatchPaused:         {BatchProcessing, BatchRolledBack, BatchFailed},
	BatchCompleted:      {BatchRolledBack},
	BatchPartialSuccess: {BatchRolledBack},
}

type BatchConfig struct {
	MaxRetriesPerFile   int  `json:"max_retries_per_file"`
	AutoRollbackOnError bool `json:"auto_rollback_on_error"`
	PauseOnError        bool `json:"pause_on_error"`
}

type Batch struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Status         BatchStatus `json:"status"`
	PipelineType   string      `json:"pipeline_type"`
	TotalFiles     int         `json:"total_files"`
	FilesSucceeded int         `json:"files_succeeded"`
	FilesFailed    int         `json:"files_failed"`
	CanRollback    bool        `json:"can_rollback"`
	RollbackReason string      `json:"rollback_reason,omitempty"`
	Config         BatchConfig `json:"config"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (b *Batch) FilesProcessed() int {
	return b.FilesSucceeded + b.FilesFailed
}

func (b *Batch) Progress() float64 {
	if b.TotalFiles == 0 {
		return 0
	}
	return float64(b.FilesProcessed()) / float64(b.TotalFiles)
}

// RollbackEligible reports whether a rollback may still be requested.
// Completed and partially succeeded batches stay eligible until the grace
// window after completion elapses.
func (b *Batch) RollbackEligible(now time.Time, grace time.Duration) bool {
	if !b.CanRollback {
		return false
	}
	switch b.Status {
	case BatchProcessing, BatchPaused:
		return true
	case BatchCompleted, BatchPartialSuccess:
		if b.CompletedAt == nil {
			return true
		}
		return now.Before(b.CompletedAt.Add(grace))
	}
	return false
}

// BatchSnapshot is the read-only view served to dashboards.
type BatchSnapshot struct {
	Batch     Batch      `json:"batch"`
	Documents []Document `json:"documents"`
}
