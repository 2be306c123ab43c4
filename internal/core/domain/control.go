package domain

import "time"

type ControlAction string

const (
	ControlPause    ControlAction = "pause"
	ControlResume   ControlAction = "resume"
	ControlRollback ControlAction = "rollback"
)

// ControlCommand travels from the api process to the worker that owns the
// batch run.
type ControlCommand struct {
	BatchID string        `json:"batch_id"`
	Action  ControlAction `json:"action"`
	Reason  string        `json:"reason,omitempty"`
}

type ControlReply struct {
	OK     bool        `json:"ok"`
	Status BatchStatus `json:"status,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type BatchEventType string

const (
	EventBatchStarted      BatchEventType = "batch_started"
	EventBatchPaused       BatchEventType = "batch_paused"
	EventBatchResumed      BatchEventType = "batch_resumed"
	EventBatchFinished     BatchEventType = "batch_finished"
	EventBatchRolledBack   BatchEventType = "batch_rolled_back"
	EventDocumentSucceeded BatchEventType = "document_succeeded"
	EventDocumentFailed    BatchEventType = "document_failed"
)

// BatchEvent is the lifecycle record published for dashboards.
type BatchEvent struct {
	Type       BatchEventType `json:"type"`
	BatchID    string         `json:"batch_id"`
	DocumentID string         `json:"document_id,omitempty"`
	Status     BatchStatus    `json:"status,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}
