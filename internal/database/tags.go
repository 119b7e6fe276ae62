package database

import (
	"context"
	"database/sql"
	"strings"
	"unicode"
)

// MaxTagsPerItem caps how many tags one item may carry.
const MaxTagsPerItem = 20

// ParseTags splits free-form input on commas and whitespace and normalizes
// the result with NormalizeTags.
func ParseTags(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	return NormalizeTags(fields)
}

// NormalizeTags trims every tag, drops empties and exact duplicates (tags are
// case-sensitive), and keeps at most MaxTagsPerItem in first-seen order.
// An entry with inner whitespace counts as several tags, since the cache
// string is space-joined.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, entry := range tags {
		for _, t := range strings.Fields(entry) {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
			if len(out) == MaxTagsPerItem {
				return out
			}
		}
	}
	return out
}

// ReplaceTags sets the complete tag list of an item in one transaction and
// returns the normalized tags that were stored.
func (d *Database) ReplaceTags(ctx context.Context, id string, tags []string) (_ []string, err error) {
	done := observeQuery("replace_tags")
	defer func() { done(err) }()

	normalized := NormalizeTags(tags)
	cache := strings.Join(normalized, " ")

	err = d.withTx(ctx, "replace_tags", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE capture_items SET tag_cache = ?, updated_at = ? WHERE id = ?",
			cache, d.nowMillis(), id)
		if err := checkAffected("replace_tags", id, res, err); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM capture_item_tags WHERE item_id = ?", id); err != nil {
			return err
		}

		if err := d.insertTagLinks(ctx, tx, id, normalized); err != nil {
			return err
		}

		return refreshFTS(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

// insertTagLinks creates missing tag rows and links them to the item in order.
func (d *Database) insertTagLinks(ctx context.Context, tx *sql.Tx, id string, tags []string) error {
	now := d.nowMillis()
	for pos, name := range tags {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tags (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
			name, now); err != nil {
			return err
		}

		var tagID int64
		if err := tx.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", name).Scan(&tagID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO capture_item_tags (item_id, tag_id, position) VALUES (?, ?, ?)",
			id, tagID, pos); err != nil {
			return err
		}
	}
	return nil
}

// ItemTags reads an item's tags from the join table in stored order.
func (d *Database) ItemTags(ctx context.Context, id string) (_ []string, err error) {
	done := observeQuery("item_tags")
	defer func() { done(err) }()

	db, err := d.conn("item_tags")
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT t.name
		FROM capture_item_tags cit
		JOIN tags t ON t.id = cit.tag_id
		WHERE cit.item_id = ?
		ORDER BY cit.position
	`, id)
	if err != nil {
		return nil, statementError("item_tags", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, statementError("item_tags", err)
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// TagHistogram returns tags with their item counts, most used first and then
// by name. A limit <= 0 returns every tag in use.
func (d *Database) TagHistogram(ctx context.Context, limit int) (_ []Tag, err error) {
	done := observeQuery("tag_histogram")
	defer func() { done(err) }()

	db, err := d.conn("tag_histogram")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.QueryContext(ctx, `
		SELECT t.name, COUNT(*) AS item_count
		FROM capture_item_tags cit
		JOIN tags t ON t.id = cit.tag_id
		GROUP BY t.id
		ORDER BY item_count DESC, t.name ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, statementError("tag_histogram", err)
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.Name, &tag.ItemCount); err != nil {
			return nil, statementError("tag_histogram", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// PruneUnusedTags deletes tag rows no item references and reports how many
// were removed.
func (d *Database) PruneUnusedTags(ctx context.Context) (_ int, err error) {
	done := observeQuery("prune_tags")
	defer func() { done(err) }()

	db, err := d.conn("prune_tags")
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx,
		"DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM capture_item_tags)")
	if err != nil {
		return 0, statementError("prune_tags", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, statementError("prune_tags", err)
	}
	return int(n), nil
}
