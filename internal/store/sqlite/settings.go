package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"autodelta/internal/model"
)

const (
	emailSettingsKey  = "email_settings"
	notifySettingsKey = "notify_settings"
)

func (s *Store) getSetting(ctx context.Context, key string, dst any) (bool, error) {
	var valueJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT value_json FROM settings WHERE key = ?
	`, key).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(valueJSON), dst); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putSetting(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at
	`, key, string(b), time.Now().UnixMilli())
	return err
}

func (s *Store) GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error) {
	var out model.EmailSettings
	ok, err := s.getSetting(ctx, emailSettingsKey, &out)
	if err != nil || !ok {
		return model.EmailSettings{}, ok, err
	}
	out.Email = strings.TrimSpace(out.Email)
	return out, true, nil
}

func (s *Store) UpsertEmailSettings(ctx context.Context, v model.EmailSettings) (model.EmailSettings, error) {
	v.Email = strings.TrimSpace(v.Email)
	v.AuthCode = strings.TrimSpace(v.AuthCode)
	if v.Enabled && v.Email == "" {
		return model.EmailSettings{}, errors.New("email is required when enabled")
	}
	if err := s.putSetting(ctx, emailSettingsKey, v); err != nil {
		return model.EmailSettings{}, err
	}
	return v, nil
}

func (s *Store) GetNotifySettings(ctx context.Context) (model.NotifySettings, bool, error) {
	var out model.NotifySettings
	ok, err := s.getSetting(ctx, notifySettingsKey, &out)
	if err != nil || !ok {
		return model.NotifySettings{}, ok, err
	}
	return out, true, nil
}

func (s *Store) UpsertNotifySettings(ctx context.Context, v model.NotifySettings) (model.NotifySettings, error) {
	if err := s.putSetting(ctx, notifySettingsKey, v); err != nil {
		return model.NotifySettings{}, err
	}
	return v, nil
}
