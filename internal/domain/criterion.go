package domain

import "time"

// Criterion is one rubric question owned by campaign configuration.
// Call and chat rubrics are distinct collections scoped by campaign.
type Criterion struct {
	ID         int64           `json:"id"`
	CampaignID int64           `json:"campaign_id"`
	Kind       InteractionKind `json:"kind"`
	Category   string          `json:"category"`
	Question   string          `json:"question"`

	// Description is optional guidance passed to the reasoning service.
	Description string `json:"description,omitempty"`

	// TargetScore is the number of points deducted when the criterion is
	// not met. It must be non-negative.
	TargetScore float64 `json:"target_score"`

	// Critical criteria force an absolute failure when not met.
	Critical bool `json:"critical"`

	// Position orders criteria within a rubric.
	Position int  `json:"position"`
	Active   bool `json:"active"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveCriteria returns the active criteria in their original order.
func ActiveCriteria(criteria []Criterion) []Criterion {
	active := make([]Criterion, 0, len(criteria))
	for _, c := range criteria {
		if c.Active {
			active = append(active, c)
		}
	}
	return active
}

// MaxDeductible is the sum of target scores across the active criteria.
func MaxDeductible(criteria []Criterion) float64 {
	var total float64
	for _, c := range criteria {
		if c.Active {
			total += c.TargetScore
		}
	}
	return total
}
