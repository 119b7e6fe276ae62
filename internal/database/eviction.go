package database

import (
	"context"
	"database/sql"
	"strings"
)

// deleteChunk bounds the number of ids bound into one IN (...) list.
const deleteChunk = 500

// UnpinnedIDsOlderThan returns ids of unpinned items created before cutoff,
// oldest first.
func (d *Database) UnpinnedIDsOlderThan(ctx context.Context, cutoff int64) (_ []string, err error) {
	done := observeQuery("eviction_candidates")
	defer func() { done(err) }()

	db, err := d.conn("eviction_candidates")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM capture_items
		WHERE is_pinned = 0 AND created_at < ?
		ORDER BY created_at ASC, id ASC
	`, cutoff)
	if err != nil {
		return nil, statementError("eviction_candidates", err)
	}
	return scanIDs("eviction_candidates", rows)
}

// OldestUnpinned returns up to limit unpinned items, oldest first, with the
// bytes each would free.
func (d *Database) OldestUnpinned(ctx context.Context, limit int) (_ []EvictionCandidate, err error) {
	done := observeQuery("eviction_candidates")
	defer func() { done(err) }()

	db, err := d.conn("eviction_candidates")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at, bytes_total FROM capture_items
		WHERE is_pinned = 0
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, statementError("eviction_candidates", err)
	}
	defer rows.Close()

	out := []EvictionCandidate{}
	for rows.Next() {
		var c EvictionCandidate
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.BytesTotal); err != nil {
			return nil, statementError("eviction_candidates", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UnpinnedWithPreview returns up to limit unpinned items that still hold a
// preview asset, oldest first.
func (d *Database) UnpinnedWithPreview(ctx context.Context, limit int) (_ []PreviewCandidate, err error) {
	done := observeQuery("eviction_candidates")
	defer func() { done(err) }()

	db, err := d.conn("eviction_candidates")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, internal_preview_path, bytes_preview FROM capture_items
		WHERE is_pinned = 0
			AND internal_preview_path IS NOT NULL AND internal_preview_path != ''
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, statementError("eviction_candidates", err)
	}
	defer rows.Close()

	out := []PreviewCandidate{}
	for rows.Next() {
		var c PreviewCandidate
		if err := rows.Scan(&c.ID, &c.PreviewPath, &c.BytesPreview); err != nil {
			return nil, statementError("eviction_candidates", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ClearPreview drops an item's preview reference and subtracts its bytes from
// the item's total. The caller deletes the file itself.
func (d *Database) ClearPreview(ctx context.Context, id string) (err error) {
	done := observeQuery("clear_preview")
	defer func() { done(err) }()

	db, err := d.conn("clear_preview")
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE capture_items
		SET internal_preview_path = NULL,
			preview_width = NULL,
			preview_height = NULL,
			bytes_total = bytes_total - bytes_preview,
			bytes_preview = 0,
			updated_at = ?
		WHERE id = ?
	`, d.nowMillis(), id)
	return checkAffected("clear_preview", id, res, err)
}

// DeleteItems removes the given items with their full-text and tag rows in
// one transaction. It returns the asset paths the rows referenced so the
// caller can remove them from disk; unknown ids are ignored.
func (d *Database) DeleteItems(ctx context.Context, ids []string) (_ []AssetPaths, err error) {
	done := observeQuery("delete_items")
	defer func() { done(err) }()

	if len(ids) == 0 {
		return nil, nil
	}

	var paths []AssetPaths
	err = d.withTx(ctx, "delete_items", func(tx *sql.Tx) error {
		for start := 0; start < len(ids); start += deleteChunk {
			end := min(start+deleteChunk, len(ids))
			chunk := ids[start:end]
			in, args := inClause(chunk)

			rows, err := tx.QueryContext(ctx,
				"SELECT id, internal_thumb_path, internal_preview_path, internal_original_path FROM capture_items WHERE id IN ("+in+")",
				args...)
			if err != nil {
				return err
			}
			for rows.Next() {
				var p AssetPaths
				var preview, original sql.NullString
				if err := rows.Scan(&p.ID, &p.Thumb, &preview, &original); err != nil {
					rows.Close()
					return err
				}
				p.Preview = preview.String
				p.Original = original.String
				if p.Thumb == "" {
					continue
				}
				paths = append(paths, p)
			}
			if err := rows.Close(); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx, "DELETE FROM capture_items_fts WHERE item_id IN ("+in+")", args...); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM capture_items WHERE id IN ("+in+")", args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// ReindexCandidates pages through items that have OCR text recorded under a
// language key other than targetKey, newest first. Passing the last returned
// item as after continues strictly past it.
func (d *Database) ReindexCandidates(ctx context.Context, targetKey string, after *ReindexCursor, limit int) (_ []*CaptureItem, err error) {
	done := observeQuery("reindex_candidates")
	defer func() { done(err) }()

	db, err := d.conn("reindex_candidates")
	if err != nil {
		return nil, err
	}

	query := "SELECT " + itemColumns("") + ` FROM capture_items
		WHERE ocr_text IS NOT NULL AND COALESCE(ocr_langs, '') != ?`
	args := []any{targetKey}
	if after != nil {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		args = append(args, after.CreatedAt, after.CreatedAt, after.ID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, statementError("reindex_candidates", err)
	}
	defer rows.Close()

	items := []*CaptureItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, statementError("reindex_candidates", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AllIDs returns the id of every stored item.
func (d *Database) AllIDs(ctx context.Context) (_ map[string]struct{}, err error) {
	done := observeQuery("all_ids")
	defer func() { done(err) }()

	db, err := d.conn("all_ids")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT id FROM capture_items")
	if err != nil {
		return nil, statementError("all_ids", err)
	}
	ids, err := scanIDs("all_ids", rows)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func scanIDs(op string, rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, statementError(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, statementError(op, err)
	}
	return ids, nil
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
