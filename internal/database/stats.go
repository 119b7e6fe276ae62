package database

import (
	"context"
	"database/sql"
)

// Stats returns global item, pinned and byte counters.
func (d *Database) Stats(ctx context.Context) (_ LibraryStats, err error) {
	done := observeQuery("stats")
	defer func() { done(err) }()

	db, err := d.conn("stats")
	if err != nil {
		return LibraryStats{}, err
	}

	var s LibraryStats
	var pinned, bytes sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(is_pinned), SUM(bytes_total)
		FROM capture_items
	`).Scan(&s.ItemCount, &pinned, &bytes)
	if err != nil {
		return LibraryStats{}, statementError("stats", err)
	}
	s.PinnedCount = pinned.Int64
	s.TotalBytes = bytes.Int64
	return s, nil
}

// AppHistogram groups items by source application, largest bucket first.
// Items without a bundle id are not counted. A limit <= 0 returns all buckets.
func (d *Database) AppHistogram(ctx context.Context, limit int) (_ []AppCount, err error) {
	done := observeQuery("app_histogram")
	defer func() { done(err) }()

	db, err := d.conn("app_histogram")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.QueryContext(ctx, `
		SELECT app_bundle_id, MAX(app_name), COUNT(*) AS item_count
		FROM capture_items
		WHERE app_bundle_id IS NOT NULL AND app_bundle_id != ''
		GROUP BY app_bundle_id
		ORDER BY item_count DESC, app_bundle_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, statementError("app_histogram", err)
	}
	defer rows.Close()

	apps := []AppCount{}
	for rows.Next() {
		var a AppCount
		var name sql.NullString
		if err := rows.Scan(&a.BundleID, &name, &a.Count); err != nil {
			return nil, statementError("app_histogram", err)
		}
		a.Name = name.String
		apps = append(apps, a)
	}
	return apps, rows.Err()
}
