package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
)

// GetInteraction loads an interaction and its utterances.
func (s *Store) GetInteraction(ctx context.Context, id string, kind domain.InteractionKind) (*domain.Interaction, error) {
	var (
		it          domain.Interaction
		campaignID  sql.NullInt64
		status      string
		utterances  string
		createdAtMs int64
		kindColumn  string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT interaction_id, kind, campaign_id, subject_id, subject_name, direction, language,
       status, audio_seconds, utterances_json, created_at_unix_ms
FROM interactions WHERE interaction_id = ? AND kind = ?`, id, string(kind)).Scan(
		&it.ID, &kindColumn, &campaignID, &it.SubjectID, &it.SubjectName, &it.Direction, &it.Language,
		&status, &it.AudioSeconds, &utterances, &createdAtMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError(string(kind), id)
	}
	if err != nil {
		return nil, fmt.Errorf("get interaction: %w", err)
	}

	it.Kind = domain.InteractionKind(kindColumn)
	it.Status = domain.InteractionStatus(status)
	it.CreatedAt = fromUnixMs(createdAtMs)
	if campaignID.Valid {
		v := campaignID.Int64
		it.CampaignID = &v
	}
	if err := json.Unmarshal([]byte(utterances), &it.Utterances); err != nil {
		return nil, fmt.Errorf("decode utterances for %s: %w", id, err)
	}
	return &it, nil
}

// SetStatus transitions the interaction's audit status.
func (s *Store) SetStatus(ctx context.Context, id string, kind domain.InteractionKind, status domain.InteractionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE interactions SET status = ? WHERE interaction_id = ? AND kind = ?`,
		string(status), id, string(kind))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFoundError(string(kind), id)
	}
	return nil
}

// PutInteraction inserts or replaces an interaction. The ingestion pipeline
// owns these rows; the method exists for seeding and tests.
func (s *Store) PutInteraction(ctx context.Context, it *domain.Interaction) error {
	if it == nil || it.ID == "" || !it.Kind.Valid() {
		return errors.New("interaction requires an id and a valid kind")
	}
	utterances := it.Utterances
	if utterances == nil {
		utterances = []domain.Utterance{}
	}
	raw, err := json.Marshal(utterances)
	if err != nil {
		return err
	}
	status := it.Status
	if status == "" {
		status = domain.StatusUnaudited
	}
	createdAt := it.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	var campaignID any
	if it.CampaignID != nil {
		campaignID = *it.CampaignID
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO interactions(interaction_id, kind, campaign_id, subject_id, subject_name, direction, language,
                         status, audio_seconds, utterances_json, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(interaction_id, kind) DO UPDATE SET
  campaign_id = excluded.campaign_id,
  subject_id = excluded.subject_id,
  subject_name = excluded.subject_name,
  direction = excluded.direction,
  language = excluded.language,
  status = excluded.status,
  audio_seconds = excluded.audio_seconds,
  utterances_json = excluded.utterances_json`,
		it.ID, string(it.Kind), campaignID, it.SubjectID, it.SubjectName, it.Direction, it.Language,
		string(status), it.AudioSeconds, string(raw), unixMs(createdAt))
	if err != nil {
		return fmt.Errorf("put interaction: %w", err)
	}
	return nil
}
