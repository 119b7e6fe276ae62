package database

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// DefaultPageSize is used when FetchPage is called with a non-positive limit.
const DefaultPageSize = 100

// Filter narrows FetchPage results. Zero values mean "no constraint".
type Filter struct {
	PinnedOnly  bool
	CaptureType CaptureType
	AppBundleID string
	// CreatedAfter is inclusive, CreatedBefore exclusive (ms epoch).
	CreatedAfter  int64
	CreatedBefore int64
	Tag           string
	Text          string
	Sort          SortMode
}

var asciiWord = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// BuildMatchQuery translates free text into an FTS5 MATCH expression. The
// second result is false when the text holds no indexable term, in which case
// callers should not filter on full text at all.
func BuildMatchQuery(text string) (string, bool) {
	var terms []string
	for _, tok := range strings.Fields(text) {
		switch {
		case asciiWord.MatchString(tok) || isLettersOrDigits(tok):
			terms = append(terms, `"`+tok+`"*`)
		case hasLetterOrDigit(tok):
			terms = append(terms, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
		}
	}
	if len(terms) == 0 {
		return "", false
	}
	return strings.Join(terms, " AND "), true
}

func isLettersOrDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// FetchPage returns one page of items matching the filter.
//
// With indexable free text the page is ordered by full-text rank, best first,
// with pinned-then-newest as tie-break (SortRelevance) or newest-first when
// another sort is requested. Without it the order is pinned-then-newest or
// newest-first.
func (d *Database) FetchPage(ctx context.Context, f Filter, limit, offset int) (_ []*CaptureItem, err error) {
	done := observeQuery("fetch_page")
	defer func() { done(err) }()

	db, err := d.conn("fetch_page")
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	var (
		sb    strings.Builder
		where []string
		args  []any
	)

	match, useFTS := BuildMatchQuery(f.Text)

	sb.WriteString("SELECT ")
	sb.WriteString(itemColumns("ci"))
	sb.WriteString(" FROM capture_items ci")
	if useFTS {
		sb.WriteString(" JOIN capture_items_fts ON capture_items_fts.item_id = ci.id")
		where = append(where, "capture_items_fts MATCH ?")
		args = append(args, match)
	}

	if f.PinnedOnly {
		where = append(where, "ci.is_pinned = 1")
	}
	if f.CaptureType != "" {
		where = append(where, "ci.capture_type = ?")
		args = append(args, string(f.CaptureType))
	}
	if f.AppBundleID != "" {
		where = append(where, "ci.app_bundle_id = ?")
		args = append(args, f.AppBundleID)
	}
	if f.CreatedAfter > 0 {
		where = append(where, "ci.created_at >= ?")
		args = append(args, f.CreatedAfter)
	}
	if f.CreatedBefore > 0 {
		where = append(where, "ci.created_at < ?")
		args = append(args, f.CreatedBefore)
	}
	if tag := strings.TrimSpace(f.Tag); tag != "" {
		where = append(where, `EXISTS (
			SELECT 1 FROM capture_item_tags cit
			JOIN tags t ON t.id = cit.tag_id
			WHERE cit.item_id = ci.id AND t.name = ?)`)
		args = append(args, tag)
	}

	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	sb.WriteString(" ORDER BY ")
	switch {
	case useFTS && f.Sort == SortCreated:
		sb.WriteString("ci.created_at DESC, ci.id DESC")
	case useFTS:
		sb.WriteString("bm25(capture_items_fts) ASC, ci.is_pinned DESC, ci.created_at DESC")
	case f.Sort == SortCreated:
		sb.WriteString("ci.created_at DESC, ci.id DESC")
	default:
		sb.WriteString("ci.is_pinned DESC, ci.created_at DESC, ci.id DESC")
	}
	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, statementError("fetch_page", err)
	}
	defer rows.Close()

	items := []*CaptureItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, statementError("fetch_page", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, statementError("fetch_page", err)
	}
	return items, nil
}
