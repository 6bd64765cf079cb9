package domain

import "time"

const (
	// DefaultApprovalScore applies when a campaign has no approval score.
	DefaultApprovalScore = 70.0

	// DefaultAlertThresholdPct is the usage percentage at which a quota is
	// reported as "warning".
	DefaultAlertThresholdPct = 80.0
)

// EnforcementMode controls whether quota violations block generation.
type EnforcementMode string

const (
	// EnforcementSoft is advisory only and never blocks generation.
	EnforcementSoft EnforcementMode = "soft"
	// EnforcementHard denies generation once a limit is met or exceeded.
	EnforcementHard EnforcementMode = "hard"
)

// QuotaDimension names the resource a quota limit applies to.
type QuotaDimension string

const (
	DimensionAudioMinutes QuotaDimension = "audio_minutes"
	DimensionTokens       QuotaDimension = "tokens"
	DimensionUSD          QuotaDimension = "usd"
)

// QuotaLimits holds the monthly limits of a campaign. A nil limit means the
// dimension is not capped.
type QuotaLimits struct {
	MonthlyAudioMinutesLimit *float64        `json:"monthly_audio_minutes_limit,omitempty"`
	MonthlyTokenLimit        *int64          `json:"monthly_token_limit,omitempty"`
	MonthlyUSDLimit          *float64        `json:"monthly_usd_limit,omitempty"`
	EnforcementMode          EnforcementMode `json:"enforcement_mode"`
	AlertThresholdPct        float64         `json:"alert_threshold_pct"`
}

// CampaignPolicy is the read-only campaign configuration the audit core
// depends on.
type CampaignPolicy struct {
	CampaignID int64  `json:"campaign_id"`
	Name       string `json:"name"`

	// ApprovalScore is the pass threshold in [0, 100].
	ApprovalScore float64 `json:"approval_score"`

	// RubricUpdatedAt is the latest modification of the campaign or any of
	// its criteria. Audits created before it are stale.
	RubricUpdatedAt time.Time `json:"rubric_updated_at"`

	// Quota is nil when the campaign has no billing limits configured.
	Quota *QuotaLimits `json:"quota,omitempty"`
}

// UsageSnapshot is the consumption of a campaign within one calendar month.
type UsageSnapshot struct {
	AudioMinutes float64 `json:"audio_minutes"`
	Tokens       int64   `json:"tokens"`
	USD          float64 `json:"usd"`
}

// UsageEvent records the resources consumed by one AI operation.
type UsageEvent struct {
	CampaignID       int64     `json:"campaign_id"`
	InteractionID    string    `json:"interaction_id"`
	EventType        string    `json:"event_type"`
	Model            string    `json:"model"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	AudioMinutes     float64   `json:"audio_minutes"`
	CreatedAt        time.Time `json:"created_at"`
}

// TotalTokens is the sum of input and output tokens.
func (e UsageEvent) TotalTokens() int64 { return int64(e.InputTokens + e.OutputTokens) }

// MonthWindow returns the first and last instants of the UTC calendar month
// containing now: day 1 at 00:00:00 through the last day at 23:59:59.
func MonthWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end
}
