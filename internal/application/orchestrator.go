package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// DefaultCostPer1KTokens prices usage events when no cost is configured.
const DefaultCostPer1KTokens = 0.002

// DefaultNotifyTimeout bounds a background notification when none is configured.
const DefaultNotifyTimeout = 10 * time.Second

// OrchestratorDeps wires the orchestrator. Quota, Notifier, Metrics and
// Logger are optional.
type OrchestratorDeps struct {
	Interactions ports.InteractionStore
	Rubrics      ports.RubricStore
	Policies     ports.PolicyStore
	Audits       ports.AuditRepository
	Usage        ports.UsageLedger

	Assembler *Assembler
	Reasoning *ReasoningClient
	Quota     *QuotaGate
	Notifier  ports.Notifier
	Metrics   ports.MetricsCollector
	Logger    *slog.Logger

	// ReasoningTimeout bounds the reasoning call. Zero leaves it to the
	// caller's context.
	ReasoningTimeout time.Duration

	// NotifyTimeout bounds each background notification.
	NotifyTimeout time.Duration

	CostPer1KTokens float64
	Now             func() time.Time
}

// GenerateOptions tunes a single generation.
type GenerateOptions struct {
	// EnforceQuota runs the quota gate before calling the reasoning service.
	EnforceQuota bool
}

// Orchestrator runs the audit use cases.
type Orchestrator struct {
	interactions ports.InteractionStore
	rubrics      ports.RubricStore
	policies     ports.PolicyStore
	audits       ports.AuditRepository
	usage        ports.UsageLedger

	assembler *Assembler
	reasoning *ReasoningClient
	quota     *QuotaGate
	notifier  ports.Notifier
	metrics   ports.MetricsCollector
	log       *slog.Logger

	reasoningTimeout time.Duration
	notifyTimeout    time.Duration
	costPer1K        float64
	now              func() time.Time

	pending sync.WaitGroup
}

// NewOrchestrator validates deps and builds an Orchestrator.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	switch {
	case deps.Interactions == nil:
		return nil, fmt.Errorf("%w: interaction store is required", domain.ErrInvalidConfiguration)
	case deps.Rubrics == nil:
		return nil, fmt.Errorf("%w: rubric store is required", domain.ErrInvalidConfiguration)
	case deps.Policies == nil:
		return nil, fmt.Errorf("%w: policy store is required", domain.ErrInvalidConfiguration)
	case deps.Audits == nil:
		return nil, fmt.Errorf("%w: audit repository is required", domain.ErrInvalidConfiguration)
	case deps.Usage == nil:
		return nil, fmt.Errorf("%w: usage ledger is required", domain.ErrInvalidConfiguration)
	case deps.Assembler == nil:
		return nil, fmt.Errorf("%w: assembler is required", domain.ErrInvalidConfiguration)
	case deps.Reasoning == nil:
		return nil, fmt.Errorf("%w: reasoning client is required", domain.ErrInvalidConfiguration)
	}

	o := &Orchestrator{
		interactions:     deps.Interactions,
		rubrics:          deps.Rubrics,
		policies:         deps.Policies,
		audits:           deps.Audits,
		usage:            deps.Usage,
		assembler:        deps.Assembler,
		reasoning:        deps.Reasoning,
		quota:            deps.Quota,
		notifier:         deps.Notifier,
		metrics:          deps.Metrics,
		log:              deps.Logger,
		reasoningTimeout: deps.ReasoningTimeout,
		notifyTimeout:    deps.NotifyTimeout,
		costPer1K:        deps.CostPer1KTokens,
		now:              deps.Now,
	}
	if o.metrics == nil {
		o.metrics = ports.NoopMetrics{}
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.costPer1K <= 0 {
		o.costPer1K = DefaultCostPer1KTokens
	}
	if o.notifyTimeout <= 0 {
		o.notifyTimeout = DefaultNotifyTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.quota == nil {
		o.quota = NewQuotaGate(deps.Policies, deps.Usage, o.log, WithQuotaMetrics(o.metrics))
	}
	return o, nil
}

// GenerateForCall audits a call recording.
func (o *Orchestrator) GenerateForCall(ctx context.Context, interactionID, actor string, opts GenerateOptions) (*domain.AuditResult, error) {
	return o.Generate(ctx, interactionID, domain.KindCall, actor, opts)
}

// GenerateForChat audits a chat conversation.
func (o *Orchestrator) GenerateForChat(ctx context.Context, interactionID, actor string, opts GenerateOptions) (*domain.AuditResult, error) {
	return o.Generate(ctx, interactionID, domain.KindChat, actor, opts)
}

// Generate returns the interaction's audit, creating it when none exists.
// An existing audit is returned as is, flagged when the campaign rubric
// changed after it was written.
func (o *Orchestrator) Generate(ctx context.Context, interactionID string, kind domain.InteractionKind, actor string, opts GenerateOptions) (*domain.AuditResult, error) {
	start := time.Now()
	res, outcome, err := o.generate(ctx, interactionID, kind, actor, opts)
	if err != nil {
		outcome = outcomeOf(err)
	}

	labels := map[string]string{"kind": string(kind), "outcome": outcome}
	o.metrics.RecordLatency("audit_generate", time.Since(start), labels)
	o.metrics.RecordCounter("audits_generated_total", 1, labels)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) generate(ctx context.Context, interactionID string, kind domain.InteractionKind, actor string, opts GenerateOptions) (*domain.AuditResult, string, error) {
	if !kind.Valid() {
		return nil, "", domain.NewValidationError("kind", fmt.Sprintf("unknown interaction kind %q", kind))
	}

	existing, err := o.audits.GetExisting(ctx, interactionID, kind)
	if err != nil {
		return nil, "", fmt.Errorf("look up existing audit: %w", err)
	}
	if existing != nil {
		return &domain.AuditResult{
			Audit:           existing,
			Existing:        true,
			CriteriaChanged: o.drifted(ctx, interactionID, kind),
		}, "existing", nil
	}

	it, err := o.interactions.GetInteraction(ctx, interactionID, kind)
	if err != nil {
		return nil, "", err
	}
	if it.CampaignID == nil {
		return nil, "", domain.NewValidationError(domain.FieldCampaign, "interaction has no campaign")
	}
	if it.SubjectID == "" {
		return nil, "", domain.NewValidationError(domain.FieldSubject, "interaction has no assigned agent")
	}
	campaignID := *it.CampaignID

	policy, criteria, err := o.loadCampaign(ctx, campaignID, kind)
	if err != nil {
		return nil, "", err
	}
	if !it.HasTranscript() {
		return nil, "", domain.NewValidationError(domain.FieldTranscript, "interaction has no transcript")
	}

	if opts.EnforceQuota {
		if err := o.quota.Enforce(ctx, campaignID); err != nil {
			return nil, "", err
		}
	}

	req, err := o.assembler.BuildRequest(it, criteria)
	if err != nil {
		return nil, "", err
	}

	result, err := o.evaluate(ctx, req)
	if err != nil {
		return nil, "", err
	}

	scored := domain.Score(result.Verdicts, req.Criteria, policy.ApprovalScore)
	o.reportScoringAnomalies(interactionID, kind, scored, result.Verdicts)

	now := o.now().UTC()
	audit := &domain.Audit{
		InteractionID: interactionID,
		Kind:          kind,
		CampaignID:    campaignID,
		SubjectID:     it.SubjectID,
		Score:         scored.Score,
		IsFailure:     scored.IsFailure,
		Verdicts:      result.Verdicts,
		GeneratedBy:   actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := o.audits.Insert(ctx, audit); err != nil {
		if errors.Is(err, ports.ErrAuditExists) {
			winner, lookupErr := o.audits.GetExisting(ctx, interactionID, kind)
			if lookupErr == nil && winner != nil {
				o.log.Info("concurrent audit won the insert race",
					"interaction_id", interactionID,
					"kind", string(kind),
					"audit_id", winner.ID,
				)
				return &domain.AuditResult{Audit: winner, Existing: true}, "race_lost", nil
			}
		}
		o.log.Error("audit insert failed",
			"interaction_id", interactionID,
			"kind", string(kind),
			"error", err.Error(),
		)
		return nil, "", err
	}

	o.metrics.RecordHistogram("audit_score", audit.Score, map[string]string{
		"kind":    string(kind),
		"failure": strconv.FormatBool(audit.IsFailure),
	})

	if err := o.interactions.SetStatus(ctx, interactionID, kind, domain.StatusAudited); err != nil {
		o.log.Error("audit saved but interaction status not updated",
			"interaction_id", interactionID,
			"kind", string(kind),
			"audit_id", audit.ID,
			"error", err.Error(),
		)
		o.metrics.RecordCounter("audit_side_effect_failures_total", 1, map[string]string{"effect": "status"})
	}

	o.notify(ctx, audit)
	o.recordUsage(ctx, it, audit, result)

	o.log.Info("audit generated",
		"interaction_id", interactionID,
		"kind", string(kind),
		"campaign_id", campaignID,
		"audit_id", audit.ID,
		"score", audit.Score,
		"is_failure", audit.IsFailure,
		"critical_failure", scored.CriticalFailure,
		"model", result.Model,
		"tokens_in", result.TokensIn,
		"tokens_out", result.TokensOut,
	)
	return &domain.AuditResult{Audit: audit}, "created", nil
}

// Regenerate discards the interaction's audit and generates a new one.
func (o *Orchestrator) Regenerate(ctx context.Context, interactionID string, kind domain.InteractionKind, actor string, opts GenerateOptions) (*domain.AuditResult, error) {
	if !kind.Valid() {
		return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown interaction kind %q", kind))
	}
	if _, err := o.interactions.GetInteraction(ctx, interactionID, kind); err != nil {
		return nil, err
	}
	if err := o.audits.Delete(ctx, interactionID, kind); err != nil {
		return nil, fmt.Errorf("delete audit: %w", err)
	}
	if err := o.interactions.SetStatus(ctx, interactionID, kind, domain.StatusUnaudited); err != nil {
		return nil, fmt.Errorf("reset interaction status: %w", err)
	}
	o.log.Info("audit discarded for regeneration",
		"interaction_id", interactionID,
		"kind", string(kind),
		"actor", actor,
	)
	return o.Generate(ctx, interactionID, kind, actor, opts)
}

// ApplyCorrectedVerdicts replaces an audit's verdicts with reviewer
// corrections. The score is always recomputed from the verdicts. Verdicts
// must name current rubric questions at most once; criteria left out count
// as compliant.
func (o *Orchestrator) ApplyCorrectedVerdicts(ctx context.Context, interactionID string, kind domain.InteractionKind, verdicts []domain.Verdict, actor string) (*domain.AuditResult, error) {
	if !kind.Valid() {
		return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown interaction kind %q", kind))
	}
	if len(verdicts) == 0 {
		return nil, domain.NewValidationError(domain.FieldVerdicts, "at least one verdict is required")
	}

	existing, err := o.audits.GetExisting(ctx, interactionID, kind)
	if err != nil {
		return nil, fmt.Errorf("look up existing audit: %w", err)
	}
	if existing == nil {
		return nil, domain.NewNotFoundError("audit", interactionID)
	}

	policy, criteria, err := o.loadCampaign(ctx, existing.CampaignID, kind)
	if err != nil {
		return nil, err
	}

	corrected, err := reconcileCorrections(verdicts, criteria)
	if err != nil {
		return nil, err
	}

	scored := domain.Score(corrected, criteria, policy.ApprovalScore)
	o.reportScoringAnomalies(interactionID, kind, scored, corrected)

	updated, err := o.audits.Upsert(ctx, interactionID, kind, scored.Score, scored.IsFailure, corrected, actor)
	if err != nil {
		return nil, err
	}

	o.metrics.RecordCounter("audits_corrected_total", 1, map[string]string{"kind": string(kind)})
	o.log.Info("audit verdicts corrected",
		"interaction_id", interactionID,
		"kind", string(kind),
		"audit_id", updated.ID,
		"previous_score", existing.Score,
		"score", updated.Score,
		"actor", actor,
	)
	return &domain.AuditResult{
		Audit:           updated,
		Existing:        true,
		CriteriaChanged: o.drifted(ctx, interactionID, kind),
	}, nil
}

// loadCampaign fetches the policy and active rubric concurrently and checks
// that the rubric is usable.
func (o *Orchestrator) loadCampaign(ctx context.Context, campaignID int64, kind domain.InteractionKind) (*domain.CampaignPolicy, []domain.Criterion, error) {
	var (
		policy   *domain.CampaignPolicy
		criteria []domain.Criterion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.policies.GetPolicy(gctx, campaignID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError(domain.FieldPolicy, fmt.Sprintf("campaign %d has no audit policy", campaignID))
		}
		policy = p
		return err
	})
	g.Go(func() error {
		c, err := o.rubrics.ActiveCriteria(gctx, campaignID, kind)
		criteria = c
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	criteria = domain.ActiveCriteria(criteria)
	if len(criteria) == 0 {
		return nil, nil, domain.NewValidationError(domain.FieldRubric,
			fmt.Sprintf("campaign %d has no active %s criteria", campaignID, kind))
	}
	verr := domain.NewValidationError(domain.FieldRubric)
	seen := make(map[string]int64, len(criteria))
	for _, c := range criteria {
		if c.TargetScore < 0 {
			verr.AddError(fmt.Sprintf("criterion %d has negative target score", c.ID))
		}
		// Verdicts are matched by question text.
		q := strings.TrimSpace(c.Question)
		if first, dup := seen[q]; dup {
			verr.AddError(fmt.Sprintf("criteria %d and %d share the question %q", first, c.ID, q))
			continue
		}
		seen[q] = c.ID
	}
	if verr.HasErrors() {
		return nil, nil, verr
	}
	return policy, criteria, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, req ReasoningRequest) (*ReasoningResult, error) {
	if o.reasoningTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.reasoningTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := o.reasoning.Evaluate(ctx, req)
	labels := map[string]string{"kind": string(req.Kind), "model": o.reasoning.Model()}
	o.metrics.RecordLatency("reasoning_evaluate", time.Since(start), labels)
	if err != nil {
		var rerr *ReasoningError
		if errors.As(err, &rerr) {
			labels["error_kind"] = rerr.Kind.String()
		}
		o.metrics.RecordCounter("reasoning_errors_total", 1, labels)
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) drifted(ctx context.Context, interactionID string, kind domain.InteractionKind) bool {
	changed, err := o.audits.DetectDrift(ctx, interactionID, kind)
	if err != nil {
		o.log.Warn("rubric drift check failed",
			"interaction_id", interactionID,
			"kind", string(kind),
			"error", err.Error(),
		)
		return false
	}
	return changed
}

// notify delivers the audit in the background. Delivery outlives the
// request context but is bounded by the notify timeout.
func (o *Orchestrator) notify(ctx context.Context, audit *domain.Audit) {
	if o.notifier == nil {
		return
	}
	a := *audit
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.notifyTimeout)
		defer cancel()
		if err := o.notifier.AuditCreated(nctx, &a); err != nil {
			o.log.Warn("audit notification failed",
				"interaction_id", a.InteractionID,
				"kind", string(a.Kind),
				"audit_id", a.ID,
				"error", err.Error(),
			)
			o.metrics.RecordCounter("audit_side_effect_failures_total", 1, map[string]string{"effect": "notify"})
		}
	}()
}

// WaitNotifications blocks until every background notification has
// finished.
func (o *Orchestrator) WaitNotifications() {
	o.pending.Wait()
}

func (o *Orchestrator) recordUsage(ctx context.Context, it *domain.Interaction, audit *domain.Audit, result *ReasoningResult) {
	event := domain.UsageEvent{
		CampaignID:    audit.CampaignID,
		InteractionID: audit.InteractionID,
		EventType:     string(audit.Kind) + "_audit",
		Model:         result.Model,
		InputTokens:   result.TokensIn,
		OutputTokens:  result.TokensOut,
		CreatedAt:     audit.CreatedAt,
	}
	event.EstimatedCostUSD = float64(event.TotalTokens()) / 1000 * o.costPer1K
	if it.Kind == domain.KindCall {
		event.AudioMinutes = it.AudioSeconds / 60
	}

	if err := o.usage.RecordUsage(ctx, event); err != nil {
		o.log.Warn("usage event not recorded",
			"interaction_id", audit.InteractionID,
			"campaign_id", audit.CampaignID,
			"tokens", event.TotalTokens(),
			"error", err.Error(),
		)
		o.metrics.RecordCounter("audit_side_effect_failures_total", 1, map[string]string{"effect": "usage"})
	}
}

// reportScoringAnomalies logs criteria the verdicts did not answer, with
// the closest unmatched verdict question as a hint for rubric typos.
func (o *Orchestrator) reportScoringAnomalies(interactionID string, kind domain.InteractionKind, scored domain.ScoreResult, verdicts []domain.Verdict) {
	for _, q := range scored.Unmatched {
		attrs := []any{
			"interaction_id", interactionID,
			"kind", string(kind),
			"criterion", q,
		}
		if hint, dist := nearestQuestion(q, scored.Ignored); hint != "" {
			attrs = append(attrs, "nearest_verdict", hint, "distance", dist)
		}
		o.log.Warn("criterion without verdict scored as compliant", attrs...)
	}
	if len(scored.Ignored) > 0 {
		o.log.Warn("verdicts without criterion ignored",
			"interaction_id", interactionID,
			"kind", string(kind),
			"questions", scored.Ignored,
			"verdicts", len(verdicts),
		)
	}
}

// nearestQuestion compares case-folded text. A Caser is stateful, so each
// call gets its own.
func nearestQuestion(question string, candidates []string) (string, int) {
	fold := cases.Fold()
	target := fold.String(question)
	best, bestDist := "", -1
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(target, fold.String(c))
		if bestDist == -1 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func outcomeOf(err error) string {
	var (
		verr *domain.ValidationError
		rerr *ReasoningError
	)
	switch {
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.As(err, &rerr):
		return "reasoning_error"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}

// reconcileCorrections validates reviewer verdicts against the rubric and
// returns them in rubric order with categories filled from the criteria.
func reconcileCorrections(verdicts []domain.Verdict, criteria []domain.Criterion) ([]domain.Verdict, error) {
	byQuestion := make(map[string]domain.Verdict, len(verdicts))
	verr := domain.NewValidationError(domain.FieldVerdicts)
	known := make(map[string]struct{}, len(criteria))
	for _, c := range criteria {
		known[c.Question] = struct{}{}
	}
	for _, v := range verdicts {
		if _, ok := known[v.Question]; !ok {
			verr.AddError(fmt.Sprintf("unknown question %q", v.Question))
			continue
		}
		if _, dup := byQuestion[v.Question]; dup {
			verr.AddError(fmt.Sprintf("duplicate verdict for %q", v.Question))
			continue
		}
		byQuestion[v.Question] = v
	}
	if verr.HasErrors() {
		return nil, verr
	}

	out := make([]domain.Verdict, 0, len(byQuestion))
	for _, c := range criteria {
		v, ok := byQuestion[c.Question]
		if !ok {
			continue
		}
		if v.Category == "" {
			v.Category = c.Category
		}
		out = append(out, v)
	}
	return out, nil
}
