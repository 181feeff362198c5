package sqlite

import (
	"context"
	"encoding/json"

	"autodelta/internal/model"
)

func (s *Store) SaveRecovery(ctx context.Context, run model.RecoveryRun) error {
	stages := run.Stages
	if stages == nil {
		stages = []model.StageCheckpoint{}
	}
	b, err := json.Marshal(stages)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recoveries (id, reason, stages_json, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stages_json = excluded.stages_json,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, run.ID, run.Reason, string(b), run.Error, run.StartedAtMs, run.FinishedAtMs)
	return err
}

func (s *Store) ListRecoveries(ctx context.Context, limit int) ([]model.RecoveryRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reason, stages_json, error, started_at, finished_at
		FROM recoveries ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RecoveryRun
	for rows.Next() {
		var (
			run    model.RecoveryRun
			stages string
		)
		if err := rows.Scan(&run.ID, &run.Reason, &stages, &run.Error, &run.StartedAtMs, &run.FinishedAtMs); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(stages), &run.Stages)
		out = append(out, run)
	}
	return out, rows.Err()
}
