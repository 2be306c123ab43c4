package domain

import "time"

// CategoryEntry is one node of the self-extending taxonomy. Base categories
// are seeded at bootstrap; the rest are minted by the classifier the first
// time the analysis boundary returns an unseen name.
type CategoryEntry struct {
	Name          string    `json:"name"`
	IsBase        bool      `json:"is_base"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// IssuerEntry tracks per-(category, issuer) counts and the one-shot
// subfolder promotion flag. HasSubfolder transitions false->true exactly
// once and never reverts, even across rollbacks.
type IssuerEntry struct {
	CategoryName       string     `json:"category_name"`
	IssuerKey          string     `json:"issuer_key"`
	DocumentCount      int        `json:"document_count"`
	HasSubfolder       bool       `json:"has_subfolder"`
	SubfolderCreatedAt *time.Time `json:"subfolder_created_at,omitempty"`
}

// Classification is the classifier's verdict for one document.
type Classification struct {
	Category   string  `json:"category"`
	Issuer     string  `json:"issuer"`
	Confidence float64 `json:"confidence"`
	// Trusted marks results backed by a successful external analysis or a
	// high-confidence rule hit, as opposed to a degraded fallback.
	Trusted bool `json:"trusted"`
}

type AnalysisKind string

const (
	AnalysisClassification AnalysisKind = "classification"
	AnalysisEntities       AnalysisKind = "entities"
	AnalysisSummary        AnalysisKind = "summary"
)

// AnalysisResult is the structured output of the external analysis boundary.
type AnalysisResult struct {
	Category   string   `json:"category"`
	Issuer     string   `json:"issuer"`
	Summary    string   `json:"summary,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence"`
}
