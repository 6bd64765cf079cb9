package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

const auditSequence = "audits"

// GetExisting returns the audit for an interaction, or (nil, nil).
func (s *Store) GetExisting(ctx context.Context, interactionID string, kind domain.InteractionKind) (*domain.Audit, error) {
	a, err := s.scanAudit(s.db.QueryRowContext(ctx, `
SELECT id, interaction_id, kind, campaign_id, subject_id, score, is_failure, verdicts_json,
       generated_by, created_at_unix_ms, updated_at_unix_ms
FROM audits WHERE interaction_id = ? AND kind = ?`, interactionID, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit: %w", err)
	}
	return a, nil
}

// Insert allocates an id from the audit sequence and writes the audit.
//
// Ids come from audit_id_sequence rather than SQLite's rowid so rows loaded
// out of band (migrations, restores) can leave the sequence behind MAX(id).
// On a collision the sequence is moved to MAX(id)+1 and the write retried
// once. A collision on (interaction_id, kind) means another request already
// audited the interaction and is reported as ports.ErrAuditExists.
func (s *Store) Insert(ctx context.Context, audit *domain.Audit) (int64, error) {
	if audit == nil {
		return 0, errors.New("nil audit")
	}
	now := s.now().UTC()
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = now
	}
	if audit.UpdatedAt.IsZero() {
		audit.UpdatedAt = audit.CreatedAt
	}
	raw, err := encodeVerdicts(audit.Verdicts)
	if err != nil {
		return 0, err
	}

	id, err := s.insertOnce(ctx, audit, raw)
	if err == nil {
		audit.ID = id
		return id, nil
	}
	if !isConstraintViolation(err) {
		return 0, domain.NewPersistenceError("insert audit", 1, err)
	}

	existing, lookupErr := s.GetExisting(ctx, audit.InteractionID, audit.Kind)
	if lookupErr != nil {
		return 0, domain.NewPersistenceError("insert audit", 1, errors.Join(err, lookupErr))
	}
	if existing != nil {
		return 0, fmt.Errorf("audit for %s %s (id %d): %w", audit.Kind, audit.InteractionID, existing.ID, ports.ErrAuditExists)
	}

	next, resyncErr := s.resyncSequence(ctx)
	if resyncErr != nil {
		return 0, domain.NewPersistenceError("insert audit", 1, errors.Join(err, resyncErr))
	}
	s.log.Warn("audit id sequence out of sync, retrying insert",
		"interaction_id", audit.InteractionID,
		"kind", string(audit.Kind),
		"next_id", next,
		"error", err.Error(),
	)

	id, err = s.insertOnce(ctx, audit, raw)
	if err != nil {
		if isConstraintViolation(err) {
			if existing, _ := s.GetExisting(ctx, audit.InteractionID, audit.Kind); existing != nil {
				return 0, fmt.Errorf("audit for %s %s (id %d): %w", audit.Kind, audit.InteractionID, existing.ID, ports.ErrAuditExists)
			}
		}
		return 0, domain.NewPersistenceError("insert audit", 2, err)
	}
	audit.ID = id
	return id, nil
}

func (s *Store) insertOnce(ctx context.Context, a *domain.Audit, verdicts string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx,
		`SELECT next_value FROM audit_id_sequence WHERE name = ?`, auditSequence).Scan(&id); err != nil {
		return 0, fmt.Errorf("read audit sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO audits(id, interaction_id, kind, campaign_id, subject_id, score, is_failure, verdicts_json,
                   generated_by, created_at_unix_ms, updated_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.InteractionID, string(a.Kind), a.CampaignID, a.SubjectID, a.Score, boolInt(a.IsFailure), verdicts,
		a.GeneratedBy, unixMs(a.CreatedAt), unixMs(a.UpdatedAt)); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE audit_id_sequence SET next_value = ? WHERE name = ?`, id+1, auditSequence); err != nil {
		return 0, fmt.Errorf("advance audit sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// resyncSequence moves the audit sequence to MAX(id)+1 and returns the new
// next value.
func (s *Store) resyncSequence(ctx context.Context) (int64, error) {
	var next int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM audits`).Scan(&next); err != nil {
		return 0, fmt.Errorf("read max audit id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE audit_id_sequence SET next_value = ? WHERE name = ?`, next, auditSequence); err != nil {
		return 0, fmt.Errorf("resync audit sequence: %w", err)
	}
	return next, nil
}

// Upsert replaces the score and verdicts of an existing audit in place and
// returns the updated row. A missing audit is a *domain.NotFoundError.
func (s *Store) Upsert(ctx context.Context, interactionID string, kind domain.InteractionKind, score float64, isFailure bool, verdicts []domain.Verdict, actor string) (*domain.Audit, error) {
	raw, err := encodeVerdicts(verdicts)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE audits SET score = ?, is_failure = ?, verdicts_json = ?, generated_by = ?, updated_at_unix_ms = ?
WHERE interaction_id = ? AND kind = ?`,
		score, boolInt(isFailure), raw, actor, unixMs(s.now()), interactionID, string(kind))
	if err != nil {
		return nil, domain.NewPersistenceError("upsert audit", 1, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.NewNotFoundError("audit", interactionID)
	}

	a, err := s.GetExisting(ctx, interactionID, kind)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.NewNotFoundError("audit", interactionID)
	}
	return a, nil
}

// Delete removes the audit of an interaction, if any.
func (s *Store) Delete(ctx context.Context, interactionID string, kind domain.InteractionKind) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM audits WHERE interaction_id = ? AND kind = ?`, interactionID, string(kind)); err != nil {
		return domain.NewPersistenceError("delete audit", 1, err)
	}
	return nil
}

// DetectDrift reports whether the audit's campaign rubric (the campaign
// marker or any of its criteria of the audit's kind) changed after the audit
// was created. A missing audit or campaign is reported as no drift.
func (s *Store) DetectDrift(ctx context.Context, interactionID string, kind domain.InteractionKind) (bool, error) {
	var (
		createdMs  int64
		campaignMs sql.NullInt64
		criteriaMs sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT a.created_at_unix_ms,
       (SELECT rubric_updated_at_unix_ms FROM campaigns WHERE id = a.campaign_id),
       (SELECT MAX(updated_at_unix_ms) FROM audit_criteria WHERE campaign_id = a.campaign_id AND kind = a.kind)
FROM audits a WHERE a.interaction_id = ? AND a.kind = ?`, interactionID, string(kind)).Scan(&createdMs, &campaignMs, &criteriaMs)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("detect drift: %w", err)
	}

	var updated int64
	if campaignMs.Valid {
		updated = campaignMs.Int64
	}
	if criteriaMs.Valid && criteriaMs.Int64 > updated {
		updated = criteriaMs.Int64
	}
	return updated > createdMs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAudit(row rowScanner) (*domain.Audit, error) {
	var (
		a         domain.Audit
		kindCol   string
		isFailure int
		raw       string
		createdMs int64
		updatedMs int64
	)
	if err := row.Scan(&a.ID, &a.InteractionID, &kindCol, &a.CampaignID, &a.SubjectID, &a.Score, &isFailure,
		&raw, &a.GeneratedBy, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	a.Kind = domain.InteractionKind(kindCol)
	a.IsFailure = isFailure != 0
	a.CreatedAt = fromUnixMs(createdMs)
	a.UpdatedAt = fromUnixMs(updatedMs)
	if err := json.Unmarshal([]byte(raw), &a.Verdicts); err != nil {
		return nil, fmt.Errorf("decode verdicts of audit %d: %w", a.ID, err)
	}
	return &a, nil
}

func encodeVerdicts(v []domain.Verdict) (string, error) {
	if v == nil {
		v = []domain.Verdict{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode verdicts: %w", err)
	}
	return string(raw), nil
}
