package database

import (
	"context"
	"database/sql"
	"fmt"

	"capture-library/internal/logging"
	"capture-library/internal/metrics"
)

type migration struct {
	version    int
	name       string
	statements []string
}

// migrations are applied in order; each version is recorded in
// schema_migrations so reopening a library is a no-op.
var migrations = []migration{
	{
		version: 1,
		name:    "initial schema",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS capture_items (
				id TEXT PRIMARY KEY,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				capture_type TEXT NOT NULL,
				capture_mode TEXT NOT NULL,
				trigger_source TEXT NOT NULL,
				app_bundle_id TEXT,
				app_name TEXT,
				app_pid INTEGER,
				selection_width INTEGER,
				selection_height INTEGER,
				external_path TEXT,
				internal_thumb_path TEXT NOT NULL,
				thumb_width INTEGER NOT NULL,
				thumb_height INTEGER NOT NULL,
				internal_preview_path TEXT,
				preview_width INTEGER,
				preview_height INTEGER,
				internal_original_path TEXT,
				content_hash TEXT,
				is_pinned INTEGER NOT NULL DEFAULT 0,
				pinned_at INTEGER,
				note TEXT,
				tag_cache TEXT NOT NULL DEFAULT '',
				ocr_text TEXT,
				ocr_langs TEXT,
				ocr_updated_at INTEGER,
				embedding_model TEXT,
				embedding_dim INTEGER,
				embedding BLOB,
				embedding_source_hash TEXT,
				embedding_updated_at INTEGER,
				bytes_thumb INTEGER NOT NULL DEFAULT 0,
				bytes_preview INTEGER NOT NULL DEFAULT 0,
				bytes_original INTEGER NOT NULL DEFAULT 0,
				bytes_total INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_capture_items_created ON capture_items(created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_capture_items_pinned_created ON capture_items(is_pinned DESC, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_capture_items_app_created ON capture_items(app_bundle_id, created_at DESC)`,
			`CREATE TABLE IF NOT EXISTS tags (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS capture_item_tags (
				item_id TEXT NOT NULL REFERENCES capture_items(id) ON DELETE CASCADE,
				tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
				position INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (item_id, tag_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_capture_item_tags_tag ON capture_item_tags(tag_id)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS capture_items_fts USING fts5(
				item_id UNINDEXED,
				content,
				tokenize = 'unicode61 remove_diacritics 2'
			)`,
		},
	},
	{
		version: 2,
		name:    "settings",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		},
	},
}

// CurrentSchemaVersion is the newest migration version.
func CurrentSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

func (d *Database) migrate(ctx context.Context) (err error) {
	done := observeQuery("migrate")
	defer func() { done(err) }()

	if _, err = d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return statementError("migrate", err)
	}

	applied, err := d.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		logging.Info("Migrating database: applying migration %d (%s)", m.version, m.name)
		err = d.withTx(ctx, "migrate", func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d failed: %w", m.version, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.version, d.nowMillis())
			return err
		})
		if err != nil {
			return err
		}
		metrics.DBMigrationsApplied.Inc()
	}

	return nil
}

func (d *Database) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, statementError("migrate", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, statementError("migrate", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, statementError("migrate", err)
	}
	return applied, nil
}

// SchemaVersions lists the applied migration versions in ascending order.
func (d *Database) SchemaVersions(ctx context.Context) ([]int, error) {
	db, err := d.conn("schema_versions")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, statementError("schema_versions", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, statementError("schema_versions", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
