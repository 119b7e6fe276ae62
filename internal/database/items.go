package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
)

var itemColumnNames = []string{
	"id", "created_at", "updated_at", "capture_type", "capture_mode", "trigger_source",
	"app_bundle_id", "app_name", "app_pid", "selection_width", "selection_height", "external_path",
	"internal_thumb_path", "thumb_width", "thumb_height",
	"internal_preview_path", "preview_width", "preview_height", "internal_original_path",
	"content_hash", "is_pinned", "pinned_at", "note", "tag_cache",
	"ocr_text", "ocr_langs", "ocr_updated_at",
	"embedding_model", "embedding_dim", "embedding", "embedding_source_hash", "embedding_updated_at",
	"bytes_thumb", "bytes_preview", "bytes_original", "bytes_total",
}

// itemColumns returns the select list for capture_items, optionally qualified
// with a table alias.
func itemColumns(alias string) string {
	if alias == "" {
		return strings.Join(itemColumnNames, ", ")
	}
	qualified := make([]string, len(itemColumnNames))
	for i, c := range itemColumnNames {
		qualified[i] = alias + "." + c
	}
	return strings.Join(qualified, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem reads one row selected with itemColumns, plus any trailing extra
// destinations.
func scanItem(s rowScanner, extra ...any) (*CaptureItem, error) {
	var (
		item                                  CaptureItem
		bundleID, appName, externalPath       sql.NullString
		previewPath, originalPath, hash, note sql.NullString
		ocrText, ocrLangs                     sql.NullString
		embModel, embHash                     sql.NullString
		appPID, selW, selH, prevW, prevH      sql.NullInt64
		pinnedAt, ocrUpdated                  sql.NullInt64
		embDim, embUpdated                    sql.NullInt64
		embVector                             []byte
		pinned                                int
	)

	dest := []any{
		&item.ID, &item.CreatedAt, &item.UpdatedAt, &item.CaptureType, &item.CaptureMode, &item.Trigger,
		&bundleID, &appName, &appPID, &selW, &selH, &externalPath,
		&item.ThumbPath, &item.ThumbSize.Width, &item.ThumbSize.Height,
		&previewPath, &prevW, &prevH, &originalPath,
		&hash, &pinned, &pinnedAt, &note, &item.TagCache,
		&ocrText, &ocrLangs, &ocrUpdated,
		&embModel, &embDim, &embVector, &embHash, &embUpdated,
		&item.BytesThumb, &item.BytesPreview, &item.BytesOriginal, &item.BytesTotal,
	}
	dest = append(dest, extra...)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	item.AppBundleID = bundleID.String
	item.AppName = appName.String
	item.AppPID = int(appPID.Int64)
	if selW.Valid && selH.Valid {
		item.SelectionSize = &Size{Width: int(selW.Int64), Height: int(selH.Int64)}
	}
	item.ExternalPath = externalPath.String
	item.PreviewPath = previewPath.String
	if prevW.Valid && prevH.Valid {
		item.PreviewSize = &Size{Width: int(prevW.Int64), Height: int(prevH.Int64)}
	}
	item.OriginalPath = originalPath.String
	item.ContentHash = hash.String
	item.IsPinned = pinned != 0
	if pinnedAt.Valid {
		v := pinnedAt.Int64
		item.PinnedAt = &v
	}
	item.Note = note.String
	if ocrText.Valid {
		v := ocrText.String
		item.OCRText = &v
	}
	item.OCRLangs = ocrLangs.String
	if ocrUpdated.Valid {
		v := ocrUpdated.Int64
		item.OCRUpdatedAt = &v
	}
	if embModel.Valid && len(embVector) > 0 {
		item.Embedding = &Embedding{
			Model:      embModel.String,
			Dim:        int(embDim.Int64),
			Vector:     embVector,
			SourceHash: embHash.String,
			UpdatedAt:  embUpdated.Int64,
		}
	}

	return &item, nil
}

// InsertItem stores a new item and its full-text row in one transaction.
// CreatedAt/UpdatedAt default to now, BytesTotal is derived from the tiers,
// and any TagCache is normalized and mirrored into the join table.
func (d *Database) InsertItem(ctx context.Context, item *CaptureItem) (err error) {
	done := observeQuery("insert_item")
	defer func() { done(err) }()

	if item.ThumbPath == "" {
		return &StoreError{Op: "insert_item", Kind: KindStatement, Err: ErrNoThumbnail}
	}

	now := d.nowMillis()
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = item.CreatedAt
	}
	if item.IsPinned {
		if item.PinnedAt == nil {
			v := now
			item.PinnedAt = &v
		}
	} else {
		item.PinnedAt = nil
	}
	item.BytesTotal = item.BytesThumb + item.BytesPreview + item.BytesOriginal
	tags := NormalizeTags(strings.Fields(item.TagCache))
	item.TagCache = strings.Join(tags, " ")

	var selW, selH, prevW, prevH any
	if item.SelectionSize != nil {
		selW, selH = item.SelectionSize.Width, item.SelectionSize.Height
	}
	if item.PreviewSize != nil {
		prevW, prevH = item.PreviewSize.Width, item.PreviewSize.Height
	}
	var embModel, embDim, embVector, embHash, embUpdated any
	if item.Embedding != nil {
		embModel = item.Embedding.Model
		embDim = item.Embedding.Dim
		embVector = item.Embedding.Vector
		embHash = item.Embedding.SourceHash
		embUpdated = item.Embedding.UpdatedAt
	}
	var ocrText any
	if item.OCRText != nil {
		ocrText = *item.OCRText
	}

	return d.withTx(ctx, "insert_item", func(tx *sql.Tx) error {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(itemColumnNames)), ", ")
		_, err := tx.ExecContext(ctx,
			"INSERT INTO capture_items ("+itemColumns("")+") VALUES ("+placeholders+")",
			item.ID, item.CreatedAt, item.UpdatedAt, string(item.CaptureType), string(item.CaptureMode), string(item.Trigger),
			nullString(item.AppBundleID), nullString(item.AppName), nullInt(item.AppPID), selW, selH, nullString(item.ExternalPath),
			item.ThumbPath, item.ThumbSize.Width, item.ThumbSize.Height,
			nullString(item.PreviewPath), prevW, prevH, nullString(item.OriginalPath),
			nullString(item.ContentHash), boolToInt(item.IsPinned), nullInt64Ptr(item.PinnedAt), nullString(item.Note), item.TagCache,
			ocrText, nullString(item.OCRLangs), nullInt64Ptr(item.OCRUpdatedAt),
			embModel, embDim, embVector, embHash, embUpdated,
			item.BytesThumb, item.BytesPreview, item.BytesOriginal, item.BytesTotal,
		)
		if err != nil {
			return err
		}

		if len(tags) > 0 {
			if err := d.insertTagLinks(ctx, tx, item.ID, tags); err != nil {
				return err
			}
		}

		return upsertFTS(ctx, tx, item.ID, buildSearchText(item.AppName, item.TagCache, item.Note, item.OCRString(), item.ExternalPath))
	})
}

// GetItem fetches one item by id.
func (d *Database) GetItem(ctx context.Context, id string) (_ *CaptureItem, err error) {
	done := observeQuery("get_item")
	defer func() { done(err) }()

	db, err := d.conn("get_item")
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, "SELECT "+itemColumns("")+" FROM capture_items WHERE id = ?", id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, notFound("get_item", id)
	}
	if err != nil {
		return nil, statementError("get_item", err)
	}
	return item, nil
}

// SetPinned pins or unpins an item. Pinning keeps an existing pinnedAt.
func (d *Database) SetPinned(ctx context.Context, id string, pinned bool) (err error) {
	done := observeQuery("set_pinned")
	defer func() { done(err) }()

	db, err := d.conn("set_pinned")
	if err != nil {
		return err
	}

	now := d.nowMillis()
	res, err := db.ExecContext(ctx, `
		UPDATE capture_items
		SET is_pinned = ?,
			pinned_at = CASE WHEN ? = 1 THEN COALESCE(pinned_at, ?) ELSE NULL END,
			updated_at = ?
		WHERE id = ?
	`, boolToInt(pinned), boolToInt(pinned), now, now, id)
	return checkAffected("set_pinned", id, res, err)
}

// SetNote replaces the free-text note and refreshes the full-text row.
func (d *Database) SetNote(ctx context.Context, id, note string) (err error) {
	done := observeQuery("set_note")
	defer func() { done(err) }()

	note = strings.TrimSpace(note)
	return d.withTx(ctx, "set_note", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE capture_items SET note = ?, updated_at = ? WHERE id = ?",
			nullString(note), d.nowMillis(), id)
		if err := checkAffected("set_note", id, res, err); err != nil {
			return err
		}
		return refreshFTS(ctx, tx, id)
	})
}

// SetExternalPath records where the capture was saved outside the library.
func (d *Database) SetExternalPath(ctx context.Context, id, path string) (err error) {
	done := observeQuery("set_external_path")
	defer func() { done(err) }()

	return d.withTx(ctx, "set_external_path", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE capture_items SET external_path = ?, updated_at = ? WHERE id = ?",
			nullString(path), d.nowMillis(), id)
		if err := checkAffected("set_external_path", id, res, err); err != nil {
			return err
		}
		return refreshFTS(ctx, tx, id)
	})
}

// SetOriginal records the original asset and keeps bytes_total in step.
func (d *Database) SetOriginal(ctx context.Context, id, relPath string, size int64) (err error) {
	done := observeQuery("set_original")
	defer func() { done(err) }()

	db, err := d.conn("set_original")
	if err != nil {
		return err
	}
	if relPath == "" {
		size = 0
	}

	res, err := db.ExecContext(ctx, `
		UPDATE capture_items
		SET internal_original_path = ?,
			bytes_total = bytes_total - bytes_original + ?,
			bytes_original = ?,
			updated_at = ?
		WHERE id = ?
	`, nullString(relPath), size, size, d.nowMillis(), id)
	return checkAffected("set_original", id, res, err)
}

// SetOCR stores recognized text and the language key it was recognized with.
// A nil text clears OCR entirely.
func (d *Database) SetOCR(ctx context.Context, id string, text *string, langs string) (err error) {
	done := observeQuery("set_ocr")
	defer func() { done(err) }()

	var textArg, updatedArg any
	if text != nil {
		textArg = *text
		updatedArg = d.nowMillis()
	}

	return d.withTx(ctx, "set_ocr", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE capture_items
			SET ocr_text = ?, ocr_langs = ?, ocr_updated_at = ?, updated_at = ?
			WHERE id = ?
		`, textArg, nullString(langs), updatedArg, d.nowMillis(), id)
		if err := checkAffected("set_ocr", id, res, err); err != nil {
			return err
		}
		return refreshFTS(ctx, tx, id)
	})
}

// SetOCRLangs rewrites only the stored language label.
func (d *Database) SetOCRLangs(ctx context.Context, id, langs string) (err error) {
	done := observeQuery("set_ocr_langs")
	defer func() { done(err) }()

	db, err := d.conn("set_ocr_langs")
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		"UPDATE capture_items SET ocr_langs = ?, updated_at = ? WHERE id = ?",
		nullString(langs), d.nowMillis(), id)
	return checkAffected("set_ocr_langs", id, res, err)
}

// SetEmbedding stores a semantic vector for an item.
func (d *Database) SetEmbedding(ctx context.Context, id string, e Embedding) (err error) {
	done := observeQuery("set_embedding")
	defer func() { done(err) }()

	db, err := d.conn("set_embedding")
	if err != nil {
		return err
	}
	now := d.nowMillis()
	if e.UpdatedAt == 0 {
		e.UpdatedAt = now
	}
	res, err := db.ExecContext(ctx, `
		UPDATE capture_items
		SET embedding_model = ?, embedding_dim = ?, embedding = ?,
			embedding_source_hash = ?, embedding_updated_at = ?, updated_at = ?
		WHERE id = ?
	`, e.Model, e.Dim, e.Vector, e.SourceHash, e.UpdatedAt, now, id)
	return checkAffected("set_embedding", id, res, err)
}

// refreshFTS re-derives the search text of one item from its stored row.
func refreshFTS(ctx context.Context, q queryer, id string) error {
	var appName, note, ocrText, externalPath sql.NullString
	var tagCache string
	err := q.QueryRowContext(ctx,
		"SELECT app_name, tag_cache, note, ocr_text, external_path FROM capture_items WHERE id = ?", id,
	).Scan(&appName, &tagCache, &note, &ocrText, &externalPath)
	if err != nil {
		return err
	}
	return upsertFTS(ctx, q, id, buildSearchText(appName.String, tagCache, note.String, ocrText.String, externalPath.String))
}

// upsertFTS keeps exactly one full-text row per item.
func upsertFTS(ctx context.Context, q queryer, id, text string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM capture_items_fts WHERE item_id = ?", id); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, "INSERT INTO capture_items_fts (item_id, content) VALUES (?, ?)", id, text)
	return err
}

// buildSearchText joins the searchable fields, skipping empty ones.
func buildSearchText(appName, tagCache, note, ocrText, externalPath string) string {
	var external string
	if externalPath != "" {
		external = filepath.Base(externalPath)
	}
	parts := make([]string, 0, 5)
	for _, p := range []string{appName, tagCache, note, ocrText, external} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

func checkAffected(op, id string, res sql.Result, err error) error {
	if err != nil {
		return statementError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return statementError(op, err)
	}
	if n == 0 {
		return notFound(op, id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
