package ports

import (
	"context"
	"time"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
)

// InteractionStore reads interactions produced by the ingestion pipeline
// and owns the audit status transition.
type InteractionStore interface {
	// GetInteraction returns the interaction with its utterances, or a
	// *domain.NotFoundError.
	GetInteraction(ctx context.Context, id string, kind domain.InteractionKind) (*domain.Interaction, error)

	// SetStatus transitions the interaction's audit status.
	SetStatus(ctx context.Context, id string, kind domain.InteractionKind, status domain.InteractionStatus) error
}

// RubricStore reads campaign criteria.
type RubricStore interface {
	// ActiveCriteria returns the active criteria of a campaign for one
	// interaction kind, ordered by position.
	ActiveCriteria(ctx context.Context, campaignID int64, kind domain.InteractionKind) ([]domain.Criterion, error)
}

// PolicyStore reads campaign configuration.
type PolicyStore interface {
	// GetPolicy returns the campaign policy, or a *domain.NotFoundError.
	GetPolicy(ctx context.Context, campaignID int64) (*domain.CampaignPolicy, error)

	// GetQuotaLimits returns the campaign's billing limits. It returns
	// (nil, nil) when the campaign has none configured.
	GetQuotaLimits(ctx context.Context, campaignID int64) (*domain.QuotaLimits, error)
}

// UsageLedger aggregates and records AI resource consumption.
type UsageLedger interface {
	// MonthlyUsage sums consumption for a campaign within [start, end].
	MonthlyUsage(ctx context.Context, campaignID int64, start, end time.Time) (domain.UsageSnapshot, error)

	// RecordUsage appends one usage event.
	RecordUsage(ctx context.Context, event domain.UsageEvent) error
}

// AuditRepository persists audits. At most one audit exists per
// (interaction, kind).
type AuditRepository interface {
	// GetExisting returns the persisted audit, or (nil, nil) when none exists.
	GetExisting(ctx context.Context, interactionID string, kind domain.InteractionKind) (*domain.Audit, error)

	// Insert persists a new audit and returns its id. It returns an error
	// matching ErrAuditExists when a concurrent insert won the race, and a
	// *domain.PersistenceError when the write fails after sequence repair.
	Insert(ctx context.Context, audit *domain.Audit) (int64, error)

	// Upsert replaces the score and verdicts of an existing audit.
	Upsert(ctx context.Context, interactionID string, kind domain.InteractionKind, score float64, isFailure bool, verdicts []domain.Verdict, actor string) (*domain.Audit, error)

	// Delete removes the audit. Deleting a missing audit is not an error.
	Delete(ctx context.Context, interactionID string, kind domain.InteractionKind) error

	// DetectDrift reports whether the campaign rubric changed after the
	// audit was created.
	DetectDrift(ctx context.Context, interactionID string, kind domain.InteractionKind) (bool, error)
}

// Notifier informs downstream collaborators about new audits.
type Notifier interface {
	AuditCreated(ctx context.Context, audit *domain.Audit) error
}
