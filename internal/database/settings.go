package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	settingReindexCursor  = "reindex.cursor"
	settingReindexApplied = "reindex.applied_key"
	settingLegacyImported = "legacy_import.completed_at"
)

// GetSetting reads a settings value. The boolean is false when the key is unset.
func (d *Database) GetSetting(ctx context.Context, key string) (_ string, _ bool, err error) {
	done := observeQuery("settings")
	defer func() { done(err) }()

	db, err := d.conn("settings")
	if err != nil {
		return "", false, err
	}

	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, statementError("settings", err)
	}
	return value, true, nil
}

// SetSetting stores a settings value, replacing any previous one.
func (d *Database) SetSetting(ctx context.Context, key, value string) (err error) {
	done := observeQuery("settings")
	defer func() { done(err) }()

	db, err := d.conn("settings")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return statementError("settings", err)
	}
	return nil
}

// DeleteSetting removes a key. Deleting an unset key is not an error.
func (d *Database) DeleteSetting(ctx context.Context, key string) (err error) {
	done := observeQuery("settings")
	defer func() { done(err) }()

	db, err := d.conn("settings")
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return statementError("settings", err)
	}
	return nil
}

// ReindexCursor returns the persisted reindex cursor, or nil when none is set.
func (d *Database) ReindexCursor(ctx context.Context) (*ReindexCursor, error) {
	raw, ok, err := d.GetSetting(ctx, settingReindexCursor)
	if err != nil || !ok {
		return nil, err
	}
	var c ReindexCursor
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode reindex cursor: %w", err)
	}
	return &c, nil
}

// SetReindexCursor persists the position of the last processed candidate.
func (d *Database) SetReindexCursor(ctx context.Context, c ReindexCursor) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return d.SetSetting(ctx, settingReindexCursor, string(raw))
}

// ClearReindexCursor forgets the reindex position.
func (d *Database) ClearReindexCursor(ctx context.Context) error {
	return d.DeleteSetting(ctx, settingReindexCursor)
}

// AppliedOCRKey is the language key of the last completed reindex pass.
func (d *Database) AppliedOCRKey(ctx context.Context) (string, error) {
	v, _, err := d.GetSetting(ctx, settingReindexApplied)
	return v, err
}

// SetAppliedOCRKey records that every item is consistent with key.
func (d *Database) SetAppliedOCRKey(ctx context.Context, key string) error {
	return d.SetSetting(ctx, settingReindexApplied, key)
}

// LegacyImportedAt returns when legacy history was imported (ms epoch), or 0.
func (d *Database) LegacyImportedAt(ctx context.Context) (int64, error) {
	v, ok, err := d.GetSetting(ctx, settingLegacyImported)
	if err != nil || !ok {
		return 0, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode legacy import marker: %w", err)
	}
	return ts, nil
}

// MarkLegacyImported records that legacy history import has run.
func (d *Database) MarkLegacyImported(ctx context.Context) error {
	return d.SetSetting(ctx, settingLegacyImported, strconv.FormatInt(d.nowMillis(), 10))
}
