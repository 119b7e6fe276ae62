package database

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestParseTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "trim and case-sensitive dedupe", input: "  Invoice, invoice ,Tax  ", want: []string{"Invoice", "invoice", "Tax"}},
		{name: "exact duplicates dropped", input: "a,a, a", want: []string{"a"}},
		{name: "whitespace separates", input: "work\tpersonal\nlater", want: []string{"work", "personal", "later"}},
		{name: "empty", input: " , ,, ", want: []string{}},
		{name: "unicode", input: "发票, 税", want: []string{"发票", "税"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseTags(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseTags(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeTagsCap(t *testing.T) {
	t.Parallel()

	in := make([]string, 25)
	for i := range in {
		in[i] = fmt.Sprintf("t%02d", i)
	}
	got := NormalizeTags(in)
	if len(got) != MaxTagsPerItem {
		t.Fatalf("len = %d, want %d", len(got), MaxTagsPerItem)
	}
	if !reflect.DeepEqual(got, in[:MaxTagsPerItem]) {
		t.Errorf("cap must keep first-seen order, got %v", got)
	}
}

func TestReplaceTags(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	ctx := context.Background()
	mustInsert(t, db, newTestItem("a1", 1))

	stored, err := db.ReplaceTags(ctx, "a1", ParseTags("  Invoice, invoice ,Tax  "))
	if err != nil {
		t.Fatalf("ReplaceTags failed: %v", err)
	}
	want := []string{"Invoice", "invoice", "Tax"}
	if !reflect.DeepEqual(stored, want) {
		t.Errorf("stored = %v, want %v", stored, want)
	}

	item := mustGet(t, db, "a1")
	if item.TagCache != "Invoice invoice Tax" {
		t.Errorf("TagCache = %q", item.TagCache)
	}
	joined, err := db.ItemTags(ctx, "a1")
	if err != nil {
		t.Fatalf("ItemTags failed: %v", err)
	}
	if !reflect.DeepEqual(joined, item.Tags()) {
		t.Errorf("join table %v disagrees with cache %v", joined, item.Tags())
	}

	// Replaying the same update is idempotent.
	if _, err := db.ReplaceTags(ctx, "a1", want); err != nil {
		t.Fatalf("second ReplaceTags failed: %v", err)
	}
	again, _ := db.ItemTags(ctx, "a1")
	if !reflect.DeepEqual(again, joined) || mustGet(t, db, "a1").TagCache != item.TagCache {
		t.Errorf("replay changed tags: %v", again)
	}

	// Tags are searchable right after the replace.
	page, err := db.FetchPage(ctx, Filter{Text: "tax"}, 10, 0)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("expected tag text to be indexed, got %d results", len(page))
	}

	if _, err := db.ReplaceTags(ctx, "missing", want); !IsKind(err, KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestReplaceTagsCapsAtTwenty(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	ctx := context.Background()
	mustInsert(t, db, newTestItem("a1", 1))

	in := make([]string, 25)
	for i := range in {
		in[i] = fmt.Sprintf("tag%d", i)
	}
	if _, err := db.ReplaceTags(ctx, "a1", in); err != nil {
		t.Fatalf("ReplaceTags failed: %v", err)
	}

	joined, _ := db.ItemTags(ctx, "a1")
	if len(joined) != 20 || !reflect.DeepEqual(joined, in[:20]) {
		t.Errorf("stored %d tags: %v", len(joined), joined)
	}
	if got := mustGet(t, db, "a1").TagCache; got != strings.Join(in[:20], " ") {
		t.Errorf("TagCache = %q", got)
	}
}

func TestTagHistogramAndPrune(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		mustInsert(t, db, newTestItem(id, int64(i+1)))
	}
	_, _ = db.ReplaceTags(ctx, "a", []string{"work", "beta"})
	_, _ = db.ReplaceTags(ctx, "b", []string{"work", "alpha"})
	_, _ = db.ReplaceTags(ctx, "c", []string{"work", "old"})
	_, _ = db.ReplaceTags(ctx, "c", []string{"work"})

	hist, err := db.TagHistogram(ctx, 0)
	if err != nil {
		t.Fatalf("TagHistogram failed: %v", err)
	}
	want := []Tag{{Name: "work", ItemCount: 3}, {Name: "alpha", ItemCount: 1}, {Name: "beta", ItemCount: 1}}
	if !reflect.DeepEqual(hist, want) {
		t.Errorf("TagHistogram = %v, want %v", hist, want)
	}

	limited, _ := db.TagHistogram(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %v", limited)
	}

	pruned, err := db.PruneUnusedTags(ctx)
	if err != nil {
		t.Fatalf("PruneUnusedTags failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1 (old)", pruned)
	}
}
