package sqlite

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"autodelta/internal/model"
)

// SaveRound inserts or updates a round by id and returns the stored row.
func (s *Store) SaveRound(ctx context.Context, r model.RoundState) (model.RoundState, error) {
	if r.Round <= 0 {
		return model.RoundState{}, errors.New("round must be > 0")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rounds (id, round_no, attempt, step, outcome, error, purchased, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			step = excluded.step,
			outcome = excluded.outcome,
			error = excluded.error,
			purchased = excluded.purchased,
			finished_at = excluded.finished_at
	`, r.ID, r.Round, r.Attempt, r.Step, string(r.LastOutcome), r.LastError, r.Purchased, r.StartedAtMs, r.FinishedAtMs)
	if err != nil {
		return model.RoundState{}, err
	}
	return r, nil
}

// ListRounds returns the newest rounds first.
func (s *Store) ListRounds(ctx context.Context, limit int) ([]model.RoundState, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_no, attempt, step, outcome, error, purchased, started_at, finished_at
		FROM rounds ORDER BY started_at DESC, round_no DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RoundState
	for rows.Next() {
		var (
			r       model.RoundState
			outcome string
		)
		if err := rows.Scan(&r.ID, &r.Round, &r.Attempt, &r.Step, &outcome, &r.LastError, &r.Purchased, &r.StartedAtMs, &r.FinishedAtMs); err != nil {
			return nil, err
		}
		r.LastOutcome = model.Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}
