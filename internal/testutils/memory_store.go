package testutils

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// MemoryStore is an in-memory implementation of every storage port with
// per-operation error injection.
type MemoryStore struct {
	mu sync.Mutex

	interactions map[key]*domain.Interaction
	policies     map[int64]*domain.CampaignPolicy
	criteria     map[int64][]domain.Criterion
	audits       map[key]*domain.Audit
	events       []domain.UsageEvent
	nextAuditID  int64

	// Injected failures, keyed by operation name: "get_interaction",
	// "set_status", "get_policy", "quota_limits", "criteria",
	// "monthly_usage", "record_usage", "get_existing", "insert", "upsert",
	// "delete", "detect_drift".
	Errors map[string]error

	// BeforeInsert runs while no lock is held, before an insert is applied.
	// Tests use it to simulate a concurrent writer.
	BeforeInsert func(audit *domain.Audit)
}

type key struct {
	id   string
	kind domain.InteractionKind
}

var (
	_ ports.InteractionStore = (*MemoryStore)(nil)
	_ ports.RubricStore      = (*MemoryStore)(nil)
	_ ports.PolicyStore      = (*MemoryStore)(nil)
	_ ports.UsageLedger      = (*MemoryStore)(nil)
	_ ports.AuditRepository  = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		interactions: make(map[key]*domain.Interaction),
		policies:     make(map[int64]*domain.CampaignPolicy),
		criteria:     make(map[int64][]domain.Criterion),
		audits:       make(map[key]*domain.Audit),
		nextAuditID:  1,
		Errors:       make(map[string]error),
	}
}

func (s *MemoryStore) fail(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Errors[op]
}

// SetError injects err for op. A nil err clears it.
func (s *MemoryStore) SetError(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.Errors, op)
		return
	}
	s.Errors[op] = err
}

// AddInteraction stores a copy of it.
func (s *MemoryStore) AddInteraction(it domain.Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.Status == "" {
		it.Status = domain.StatusUnaudited
	}
	s.interactions[key{it.ID, it.Kind}] = &it
}

// AddPolicy stores a campaign policy.
func (s *MemoryStore) AddPolicy(p domain.CampaignPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.CampaignID] = &p
}

// SetCriteria replaces a campaign's criteria.
func (s *MemoryStore) SetCriteria(campaignID int64, criteria []domain.Criterion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criteria[campaignID] = append([]domain.Criterion(nil), criteria...)
}

// TouchRubric moves the campaign's rubric timestamp to at.
func (s *MemoryStore) TouchRubric(campaignID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.policies[campaignID]; ok {
		p.RubricUpdatedAt = at
	}
}

// Status returns the interaction's current status.
func (s *MemoryStore) Status(id string, kind domain.InteractionKind) domain.InteractionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.interactions[key{id, kind}]; ok {
		return it.Status
	}
	return ""
}

// Events returns the recorded usage events.
func (s *MemoryStore) Events() []domain.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.UsageEvent(nil), s.events...)
}

// AuditCount returns how many audits are stored.
func (s *MemoryStore) AuditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audits)
}

func (s *MemoryStore) GetInteraction(_ context.Context, id string, kind domain.InteractionKind) (*domain.Interaction, error) {
	if err := s.fail("get_interaction"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.interactions[key{id, kind}]
	if !ok {
		return nil, domain.NewNotFoundError(string(kind), id)
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id string, kind domain.InteractionKind, status domain.InteractionStatus) error {
	if err := s.fail("set_status"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.interactions[key{id, kind}]
	if !ok {
		return domain.NewNotFoundError(string(kind), id)
	}
	it.Status = status
	return nil
}

func (s *MemoryStore) ActiveCriteria(_ context.Context, campaignID int64, kind domain.InteractionKind) ([]domain.Criterion, error) {
	if err := s.fail("criteria"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Criterion
	for _, c := range s.criteria[campaignID] {
		if c.Kind == kind && c.Active {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStore) GetPolicy(_ context.Context, campaignID int64) (*domain.CampaignPolicy, error) {
	if err := s.fail("get_policy"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[campaignID]
	if !ok {
		return nil, domain.NewNotFoundError("campaign", fmt.Sprint(campaignID))
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetQuotaLimits(_ context.Context, campaignID int64) (*domain.QuotaLimits, error) {
	if err := s.fail("quota_limits"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[campaignID]
	if !ok || p.Quota == nil {
		return nil, nil
	}
	q := *p.Quota
	return &q, nil
}

func (s *MemoryStore) MonthlyUsage(_ context.Context, campaignID int64, start, end time.Time) (domain.UsageSnapshot, error) {
	if err := s.fail("monthly_usage"); err != nil {
		return domain.UsageSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap domain.UsageSnapshot
	for _, e := range s.events {
		if e.CampaignID != campaignID || e.CreatedAt.Before(start) || e.CreatedAt.After(end) {
			continue
		}
		snap.AudioMinutes += e.AudioMinutes
		snap.Tokens += e.TotalTokens()
		snap.USD += e.EstimatedCostUSD
	}
	return snap, nil
}

func (s *MemoryStore) RecordUsage(_ context.Context, e domain.UsageEvent) error {
	if err := s.fail("record_usage"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) GetExisting(_ context.Context, interactionID string, kind domain.InteractionKind) (*domain.Audit, error) {
	if err := s.fail("get_existing"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[key{interactionID, kind}]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) Insert(_ context.Context, audit *domain.Audit) (int64, error) {
	if s.BeforeInsert != nil {
		s.BeforeInsert(audit)
	}
	if err := s.fail("insert"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{audit.InteractionID, audit.Kind}
	if existing, ok := s.audits[k]; ok {
		return 0, fmt.Errorf("audit %d: %w", existing.ID, ports.ErrAuditExists)
	}
	audit.ID = s.nextAuditID
	s.nextAuditID++
	cp := *audit
	s.audits[k] = &cp
	return audit.ID, nil
}

// PutAudit stores an audit directly, bypassing Insert hooks.
func (s *MemoryStore) PutAudit(a domain.Audit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.nextAuditID
		s.nextAuditID++
	}
	s.audits[key{a.InteractionID, a.Kind}] = &a
}

func (s *MemoryStore) Upsert(_ context.Context, interactionID string, kind domain.InteractionKind, score float64, isFailure bool, verdicts []domain.Verdict, actor string) (*domain.Audit, error) {
	if err := s.fail("upsert"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[key{interactionID, kind}]
	if !ok {
		return nil, domain.NewNotFoundError("audit", interactionID)
	}
	a.Score = score
	a.IsFailure = isFailure
	a.Verdicts = append([]domain.Verdict(nil), verdicts...)
	a.GeneratedBy = actor
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, interactionID string, kind domain.InteractionKind) error {
	if err := s.fail("delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.audits, key{interactionID, kind})
	return nil
}

func (s *MemoryStore) DetectDrift(_ context.Context, interactionID string, kind domain.InteractionKind) (bool, error) {
	if err := s.fail("detect_drift"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[key{interactionID, kind}]
	if !ok {
		return false, nil
	}
	p, ok := s.policies[a.CampaignID]
	if !ok {
		return false, nil
	}
	return p.RubricUpdatedAt.After(a.CreatedAt), nil
}

// RecordingNotifier collects notified audits and can be told to fail.
// When Block is set, delivery waits for it to close or for ctx to end.
type RecordingNotifier struct {
	mu     sync.Mutex
	Err    error
	Block  chan struct{}
	audits []domain.Audit
}

var _ ports.Notifier = (*RecordingNotifier)(nil)

func (n *RecordingNotifier) AuditCreated(ctx context.Context, a *domain.Audit) error {
	if n.Block != nil {
		select {
		case <-n.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.audits = append(n.audits, *a)
	return n.Err
}

// Audits returns the notified audits.
func (n *RecordingNotifier) Audits() []domain.Audit {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Audit(nil), n.audits...)
}
