package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
)

// GetPolicy returns the campaign's policy. A campaign without an approval
// score gets domain.DefaultApprovalScore. RubricUpdatedAt is the latest
// change to either the campaign's rubric marker or any of its criteria.
func (s *Store) GetPolicy(ctx context.Context, campaignID int64) (*domain.CampaignPolicy, error) {
	var (
		p          domain.CampaignPolicy
		approval   sql.NullFloat64
		campaignMs int64
		criteriaMs sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT c.id, c.name, c.approval_score, c.rubric_updated_at_unix_ms,
       (SELECT MAX(updated_at_unix_ms) FROM audit_criteria WHERE campaign_id = c.id)
FROM campaigns c WHERE c.id = ?`, campaignID).Scan(&p.CampaignID, &p.Name, &approval, &campaignMs, &criteriaMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("campaign", fmt.Sprint(campaignID))
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}

	p.ApprovalScore = domain.DefaultApprovalScore
	if approval.Valid {
		p.ApprovalScore = approval.Float64
	}
	updated := campaignMs
	if criteriaMs.Valid && criteriaMs.Int64 > updated {
		updated = criteriaMs.Int64
	}
	p.RubricUpdatedAt = fromUnixMs(updated)

	quota, err := s.GetQuotaLimits(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	p.Quota = quota
	return &p, nil
}

// GetQuotaLimits returns the campaign's billing limits or (nil, nil).
func (s *Store) GetQuotaLimits(ctx context.Context, campaignID int64) (*domain.QuotaLimits, error) {
	var (
		audio  sql.NullFloat64
		tokens sql.NullInt64
		usd    sql.NullFloat64
		mode   string
		alert  float64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT monthly_audio_minutes_limit, monthly_token_limit, monthly_usd_limit, enforcement_mode, alert_threshold_pct
FROM campaign_billing_limits WHERE campaign_id = ?`, campaignID).Scan(&audio, &tokens, &usd, &mode, &alert)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota limits: %w", err)
	}

	q := &domain.QuotaLimits{
		EnforcementMode:   domain.EnforcementMode(mode),
		AlertThresholdPct: alert,
	}
	if audio.Valid {
		v := audio.Float64
		q.MonthlyAudioMinutesLimit = &v
	}
	if tokens.Valid {
		v := tokens.Int64
		q.MonthlyTokenLimit = &v
	}
	if usd.Valid {
		v := usd.Float64
		q.MonthlyUSDLimit = &v
	}
	return q, nil
}

// ActiveCriteria returns a campaign's active criteria for kind in position
// order.
func (s *Store) ActiveCriteria(ctx context.Context, campaignID int64, kind domain.InteractionKind) ([]domain.Criterion, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, campaign_id, kind, category, question, description, target_score, critical, position, active, updated_at_unix_ms
FROM audit_criteria
WHERE campaign_id = ? AND kind = ? AND active = 1
ORDER BY position ASC, id ASC`, campaignID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list criteria: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Criterion, 0, 16)
	for rows.Next() {
		var (
			c         domain.Criterion
			kindCol   string
			critical  int
			active    int
			updatedMs int64
		)
		if err := rows.Scan(&c.ID, &c.CampaignID, &kindCol, &c.Category, &c.Question, &c.Description,
			&c.TargetScore, &critical, &c.Position, &active, &updatedMs); err != nil {
			return nil, err
		}
		c.Kind = domain.InteractionKind(kindCol)
		c.Critical = critical != 0
		c.Active = active != 0
		c.UpdatedAt = fromUnixMs(updatedMs)
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutCampaign inserts or updates a campaign. A nil approvalScore leaves the
// default in effect.
func (s *Store) PutCampaign(ctx context.Context, campaignID int64, name string, approvalScore *float64) error {
	var approval any
	if approvalScore != nil {
		approval = *approvalScore
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO campaigns(id, name, approval_score, rubric_updated_at_unix_ms) VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, approval_score = excluded.approval_score`,
		campaignID, name, approval, unixMs(s.now()))
	if err != nil {
		return fmt.Errorf("put campaign: %w", err)
	}
	return nil
}

// TouchRubric marks the campaign rubric as modified now.
func (s *Store) TouchRubric(ctx context.Context, campaignID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET rubric_updated_at_unix_ms = ? WHERE id = ?`, unixMs(s.now()), campaignID)
	if err != nil {
		return fmt.Errorf("touch rubric: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError("campaign", fmt.Sprint(campaignID))
	}
	return nil
}

// PutCriterion inserts a criterion, or updates it when c.ID is set, and
// returns its id. Every write stamps updated_at so drift detection sees it.
func (s *Store) PutCriterion(ctx context.Context, c domain.Criterion) (int64, error) {
	if c.TargetScore < 0 {
		return 0, domain.NewValidationError(domain.FieldRubric, "target score must be non-negative")
	}
	now := unixMs(s.now())
	if c.ID > 0 {
		_, err := s.db.ExecContext(ctx, `
UPDATE audit_criteria SET campaign_id = ?, kind = ?, category = ?, question = ?, description = ?,
  target_score = ?, critical = ?, position = ?, active = ?, updated_at_unix_ms = ?
WHERE id = ?`,
			c.CampaignID, string(c.Kind), c.Category, c.Question, c.Description,
			c.TargetScore, boolInt(c.Critical), c.Position, boolInt(c.Active), now, c.ID)
		if err != nil {
			return 0, fmt.Errorf("update criterion: %w", err)
		}
		return c.ID, nil
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO audit_criteria(campaign_id, kind, category, question, description, target_score, critical, position, active, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CampaignID, string(c.Kind), c.Category, c.Question, c.Description,
		c.TargetScore, boolInt(c.Critical), c.Position, boolInt(c.Active), now)
	if err != nil {
		return 0, fmt.Errorf("insert criterion: %w", err)
	}
	return res.LastInsertId()
}

// PutQuotaLimits sets the campaign's billing limits.
func (s *Store) PutQuotaLimits(ctx context.Context, campaignID int64, q domain.QuotaLimits) error {
	mode := q.EnforcementMode
	if mode == "" {
		mode = domain.EnforcementSoft
	}
	alert := q.AlertThresholdPct
	if alert <= 0 {
		alert = domain.DefaultAlertThresholdPct
	}

	var audio, tokens, usd any
	if q.MonthlyAudioMinutesLimit != nil {
		audio = *q.MonthlyAudioMinutesLimit
	}
	if q.MonthlyTokenLimit != nil {
		tokens = *q.MonthlyTokenLimit
	}
	if q.MonthlyUSDLimit != nil {
		usd = *q.MonthlyUSDLimit
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO campaign_billing_limits(campaign_id, monthly_audio_minutes_limit, monthly_token_limit, monthly_usd_limit, enforcement_mode, alert_threshold_pct)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(campaign_id) DO UPDATE SET
  monthly_audio_minutes_limit = excluded.monthly_audio_minutes_limit,
  monthly_token_limit = excluded.monthly_token_limit,
  monthly_usd_limit = excluded.monthly_usd_limit,
  enforcement_mode = excluded.enforcement_mode,
  alert_threshold_pct = excluded.alert_threshold_pct`,
		campaignID, audio, tokens, usd, string(mode), alert)
	if err != nil {
		return fmt.Errorf("put quota limits: %w", err)
	}
	return nil
}
