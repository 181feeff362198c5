package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"autodelta/internal/model"
)

func (s *Store) SaveTrade(ctx context.Context, t model.TradeRecord) error {
	if t.SessionID == "" || t.Item == "" {
		return errors.New("sessionId and item are required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, session_id, item, mode, lot, realized_price, spent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, t.ID, t.SessionID, t.Item, string(t.Mode), t.Lot, t.RealizedPrice, t.Spent, t.CreatedAt.UnixMilli())
	return err
}

// ListTrades returns trades newest first. An empty sessionID lists all sessions.
func (s *Store) ListTrades(ctx context.Context, sessionID string, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, session_id, item, mode, lot, realized_price, spent, created_at
		FROM trades`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var (
			t         model.TradeRecord
			mode      string
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Item, &mode, &t.Lot, &t.RealizedPrice, &t.Spent, &createdAt); err != nil {
			return nil, err
		}
		t.Mode = model.PurchaseMode(mode)
		t.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

type SessionSummary struct {
	SessionID string `json:"sessionId"`
	Item      string `json:"item"`
	Purchases int    `json:"purchases"`
	Units     int    `json:"units"`
	Spent     int    `json:"spent"`
}

// SummarizeSession totals the priced purchases of one acquisition run.
func (s *Store) SummarizeSession(ctx context.Context, sessionID string) (SessionSummary, error) {
	out := SessionSummary{SessionID: sessionID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(item), ''), COUNT(*),
			COALESCE(SUM(CASE WHEN realized_price > 0 THEN lot ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN realized_price > 0 THEN spent ELSE 0 END), 0)
		FROM trades WHERE session_id = ?
	`, sessionID).Scan(&out.Item, &out.Purchases, &out.Units, &out.Spent)
	return out, err
}
