package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
)

// MonthlyUsage sums a campaign's usage events created within [start, end].
func (s *Store) MonthlyUsage(ctx context.Context, campaignID int64, start, end time.Time) (domain.UsageSnapshot, error) {
	var snap domain.UsageSnapshot
	err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(audio_minutes_processed), 0),
       COALESCE(SUM(total_tokens), 0),
       COALESCE(SUM(estimated_cost_usd), 0)
FROM ai_usage_events
WHERE campaign_id = ? AND created_at_unix_ms >= ? AND created_at_unix_ms <= ?`,
		campaignID, start.UnixMilli(), end.UnixMilli()).Scan(&snap.AudioMinutes, &snap.Tokens, &snap.USD)
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("monthly usage: %w", err)
	}
	return snap, nil
}

// RecordUsage appends one usage event.
func (s *Store) RecordUsage(ctx context.Context, e domain.UsageEvent) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ai_usage_events(campaign_id, interaction_id, event_type, model, input_tokens, output_tokens,
                            total_tokens, estimated_cost_usd, audio_minutes_processed, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CampaignID, e.InteractionID, e.EventType, e.Model, e.InputTokens, e.OutputTokens,
		e.TotalTokens(), e.EstimatedCostUSD, e.AudioMinutes, unixMs(createdAt))
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
