package domain

import "time"

type DocumentStatus string

const (
	DocumentPending     DocumentStatus = "pending"
	DocumentClassifying DocumentStatus = "classifying"
	DocumentOrganizing  DocumentStatus = "organizing"
	DocumentSucceeded   DocumentStatus = "succeeded"
	DocumentFailed      DocumentStatus = "failed"
)

// CategoryUncategorized is the bucket for documents whose classification
// never reached the confidence floor or matched no rule at all.
const CategoryUncategorized = "uncategorized"

type Document struct {
	ID            string         `json:"id"`
	BatchID       string         `json:"batch_id"`
	Filename      string         `json:"filename"`
	MimeType      string         `json:"mime_type"`
	StoragePath   string         `json:"storage_path"`
	Fingerprint   string         `json:"fingerprint,omitempty"`
	RawText       string         `json:"-"`
	OCRConfidence float64        `json:"ocr_confidence,omitempty"`
	Category      string         `json:"category,omitempty"`
	Issuer        string         `json:"issuer,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
	TrustedSource bool           `json:"-"`
	Status        DocumentStatus `json:"status"`
	TargetPath    string         `json:"target_path,omitempty"`
	// IssuerCounted marks that this document already contributed to its
	// issuer counter; a retried placement must not count it again.
	IssuerCounted bool `json:"-"`
	Error         string         `json:"error,omitempty"`
	Attempts      int            `json:"attempts"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Terminal reports whether the document finished its current run.
// Failed documents may still be reset to pending by a retry or rollback.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentSucceeded || s == DocumentFailed
}
