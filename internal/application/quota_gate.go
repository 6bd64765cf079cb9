package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// QuotaStatus summarizes how close a campaign is to its monthly limits.
type QuotaStatus string

const (
	QuotaOK       QuotaStatus = "ok"
	QuotaWarning  QuotaStatus = "warning"
	QuotaExceeded QuotaStatus = "exceeded"
)

// QuotaDecision is the outcome of a quota check. Dimension, Used and Limit
// name the first violated dimension when the check denies, and the most
// consumed dimension otherwise.
type QuotaDecision struct {
	CampaignID int64                  `json:"campaign_id"`
	Allowed    bool                   `json:"allowed"`
	Reason     string                 `json:"reason"`
	Dimension  domain.QuotaDimension  `json:"dimension,omitempty"`
	Used       float64                `json:"used"`
	Limit      float64                `json:"limit"`
	UsagePct   float64                `json:"usage_pct"`
	Status     QuotaStatus            `json:"status"`
	Mode       domain.EnforcementMode `json:"mode,omitempty"`
	Usage      domain.UsageSnapshot   `json:"usage"`

	// FailedOpen is set when the check could not read policy or usage and
	// allowed the request anyway.
	FailedOpen bool `json:"failed_open"`
}

// QuotaObserver traces quota checks. PreCheck may return a derived context
// that PostCheck later receives.
type QuotaObserver interface {
	PreCheck(ctx context.Context, campaignID int64) context.Context
	PostCheck(ctx context.Context, decision QuotaDecision, elapsed time.Duration)
}

// QuotaGate decides whether a campaign may consume more AI resources this
// month.
type QuotaGate struct {
	policies ports.PolicyStore
	ledger   ports.UsageLedger
	observer QuotaObserver
	metrics  ports.MetricsCollector
	log      *slog.Logger
	now      func() time.Time
}

// QuotaGateOption customizes a QuotaGate.
type QuotaGateOption func(*QuotaGate)

// WithQuotaObserver attaches a tracing observer.
func WithQuotaObserver(o QuotaObserver) QuotaGateOption {
	return func(g *QuotaGate) { g.observer = o }
}

// WithQuotaMetrics exports decisions to a metrics collector.
func WithQuotaMetrics(m ports.MetricsCollector) QuotaGateOption {
	return func(g *QuotaGate) { g.metrics = m }
}

// WithQuotaClock overrides the clock used to pick the month window.
func WithQuotaClock(now func() time.Time) QuotaGateOption {
	return func(g *QuotaGate) { g.now = now }
}

// NewQuotaGate builds a gate over the policy store and usage ledger.
func NewQuotaGate(policies ports.PolicyStore, ledger ports.UsageLedger, log *slog.Logger, opts ...QuotaGateOption) *QuotaGate {
	if log == nil {
		log = slog.Default()
	}
	g := &QuotaGate{
		policies: policies,
		ledger:   ledger,
		metrics:  ports.NoopMetrics{},
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckQuota evaluates the campaign's monthly limits. It never returns an
// error: lookup failures allow the request and are logged.
func (g *QuotaGate) CheckQuota(ctx context.Context, campaignID int64) QuotaDecision {
	start := time.Now()
	if g.observer != nil {
		ctx = g.observer.PreCheck(ctx, campaignID)
	}

	d := g.decide(ctx, campaignID)

	if g.observer != nil {
		g.observer.PostCheck(ctx, d, time.Since(start))
	}
	g.metrics.RecordCounter("quota_decisions_total", 1, map[string]string{
		"status":      string(d.Status),
		"mode":        string(d.Mode),
		"allowed":     strconv.FormatBool(d.Allowed),
		"failed_open": strconv.FormatBool(d.FailedOpen),
	})
	return d
}

// Enforce returns a *domain.QuotaExceededError when CheckQuota denies.
func (g *QuotaGate) Enforce(ctx context.Context, campaignID int64) error {
	d := g.CheckQuota(ctx, campaignID)
	if d.Allowed {
		return nil
	}
	return &domain.QuotaExceededError{
		CampaignID: campaignID,
		Dimension:  d.Dimension,
		Used:       d.Used,
		Limit:      d.Limit,
	}
}

func (g *QuotaGate) decide(ctx context.Context, campaignID int64) QuotaDecision {
	d := QuotaDecision{CampaignID: campaignID, Allowed: true, Status: QuotaOK}

	limits, err := g.policies.GetQuotaLimits(ctx, campaignID)
	if err != nil {
		g.log.Warn("quota check failed open: policy lookup",
			"campaign_id", campaignID,
			"error", err.Error(),
		)
		d.FailedOpen = true
		d.Reason = "quota policy unavailable"
		return d
	}
	if limits == nil {
		d.Reason = "no quota configured"
		return d
	}

	d.Mode = limits.EnforcementMode
	if d.Mode == "" {
		d.Mode = domain.EnforcementSoft
	}
	alertPct := limits.AlertThresholdPct
	if alertPct <= 0 {
		alertPct = domain.DefaultAlertThresholdPct
	}

	monthStart, monthEnd := domain.MonthWindow(g.now())
	usage, err := g.ledger.MonthlyUsage(ctx, campaignID, monthStart, monthEnd)
	if err != nil {
		g.log.Warn("quota check failed open: usage lookup",
			"campaign_id", campaignID,
			"mode", string(d.Mode),
			"error", err.Error(),
		)
		d.FailedOpen = true
		d.Reason = "usage unavailable"
		return d
	}
	d.Usage = usage

	var (
		exceeded *dimensionUsage
		highest  *dimensionUsage
	)
	for _, du := range configuredDimensions(limits, usage) {
		if exceeded == nil && du.used >= du.limit {
			exceeded = &du
		}
		if highest == nil || du.pct > highest.pct {
			highest = &du
		}
	}

	switch {
	case exceeded != nil:
		d.Status = QuotaExceeded
	case highest != nil && highest.pct >= alertPct:
		d.Status = QuotaWarning
	}

	report := highest
	if exceeded != nil {
		report = exceeded
	}
	if report != nil {
		d.Dimension = report.dimension
		d.Used = report.used
		d.Limit = report.limit
		d.UsagePct = report.pct
	}

	if exceeded != nil && d.Mode == domain.EnforcementHard {
		d.Allowed = false
		d.Reason = fmt.Sprintf("monthly %s limit reached", exceeded.dimension)
		return d
	}

	switch d.Status {
	case QuotaExceeded:
		d.Reason = fmt.Sprintf("monthly %s limit reached (soft)", d.Dimension)
	case QuotaWarning:
		d.Reason = fmt.Sprintf("monthly %s usage above %.0f%%", d.Dimension, alertPct)
	default:
		d.Reason = "within quota"
	}
	if d.Status != QuotaOK {
		g.log.Warn("campaign quota threshold",
			"campaign_id", campaignID,
			"mode", string(d.Mode),
			"status", string(d.Status),
			"dimension", string(d.Dimension),
			"used", d.Used,
			"limit", d.Limit,
		)
	}
	return d
}

type dimensionUsage struct {
	dimension domain.QuotaDimension
	used      float64
	limit     float64
	pct       float64
}

// configuredDimensions lists the limited dimensions in check order:
// audio minutes, then tokens, then USD.
func configuredDimensions(l *domain.QuotaLimits, u domain.UsageSnapshot) []dimensionUsage {
	out := make([]dimensionUsage, 0, 3)
	add := func(dim domain.QuotaDimension, used, limit float64) {
		pct := 100.0
		if limit > 0 {
			pct = used / limit * 100
		}
		out = append(out, dimensionUsage{dimension: dim, used: used, limit: limit, pct: pct})
	}
	if l.MonthlyAudioMinutesLimit != nil {
		add(domain.DimensionAudioMinutes, u.AudioMinutes, *l.MonthlyAudioMinutesLimit)
	}
	if l.MonthlyTokenLimit != nil {
		add(domain.DimensionTokens, float64(u.Tokens), float64(*l.MonthlyTokenLimit))
	}
	if l.MonthlyUSDLimit != nil {
		add(domain.DimensionUSD, u.USD, *l.MonthlyUSDLimit)
	}
	return out
}
