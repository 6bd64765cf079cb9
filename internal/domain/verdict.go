package domain

import "time"

// Verdict is the reasoning service's compliance judgment for one criterion.
// Verdicts are matched to criteria by exact question text, never by position.
type Verdict struct {
	Category string `json:"category"`
	Question string `json:"question"`

	// Complies is true when the interaction satisfied the criterion.
	Complies bool `json:"complies"`

	// Explanation justifies the judgment in the reasoning service's words.
	Explanation string `json:"explanation"`
}

// Audit is the scored outcome of one interaction. At most one audit exists
// per (InteractionID, Kind) pair.
type Audit struct {
	// ID is the primary key allocated by the audit repository.
	ID int64 `json:"id"`

	InteractionID string          `json:"interaction_id"`
	Kind          InteractionKind `json:"kind"`
	CampaignID    int64           `json:"campaign_id"`
	SubjectID     string          `json:"subject_id"`

	// Score ranges from 0 to 100.
	Score float64 `json:"score"`

	// IsFailure is true when Score fell below the campaign approval score
	// or a critical criterion was not met.
	IsFailure bool `json:"is_failure"`

	// Verdicts are ordered by criterion position.
	Verdicts []Verdict `json:"verdicts"`

	// GeneratedBy names the actor that produced or last corrected the audit.
	GeneratedBy string `json:"generated_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditResult is returned by the orchestrator for every generate call.
type AuditResult struct {
	Audit *Audit `json:"audit"`

	// Existing is true when the audit was already on record and no
	// reasoning call was made.
	Existing bool `json:"existing"`

	// CriteriaChanged flags a rubric edited after the audit was created.
	// It annotates staleness only; the audit stays valid.
	CriteriaChanged bool `json:"criteria_changed"`
}
