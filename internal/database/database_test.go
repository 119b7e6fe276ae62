package database

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupTestDB(t testing.TB) (*Database, *testClock) {
	t.Helper()

	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	db, err := New(context.Background(), filepath.Join(t.TempDir(), FileName), &Options{Clock: clock.Now})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, clock
}

// newTestItem builds a minimal valid item created at createdAt.
func newTestItem(id string, createdAt int64) *CaptureItem {
	return &CaptureItem{
		ID:          id,
		CreatedAt:   createdAt,
		CaptureType: CaptureTypeArea,
		CaptureMode: CaptureModeQuick,
		Trigger:     TriggerHotkey,
		ThumbPath:   "thumbs/" + id + ".jpg",
		ThumbSize:   Size{Width: 320, Height: 200},
		BytesThumb:  100,
	}
}

func mustInsert(t testing.TB, db *Database, item *CaptureItem) {
	t.Helper()
	if err := db.InsertItem(context.Background(), item); err != nil {
		t.Fatalf("InsertItem(%s) failed: %v", item.ID, err)
	}
}

func mustGet(t testing.TB, db *Database, id string) *CaptureItem {
	t.Helper()
	item, err := db.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("GetItem(%s) failed: %v", id, err)
	}
	return item
}

func TestNewAppliesMigrationsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), FileName)

	db, err := New(ctx, path, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db, err = New(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	versions, err := db.SchemaVersions(ctx)
	if err != nil {
		t.Fatalf("SchemaVersions failed: %v", err)
	}
	want := make([]int, 0, len(migrations))
	for _, m := range migrations {
		want = append(want, m.version)
	}
	if !reflect.DeepEqual(versions, want) {
		t.Errorf("SchemaVersions = %v, want %v", versions, want)
	}
	if CurrentSchemaVersion() != want[len(want)-1] {
		t.Errorf("CurrentSchemaVersion = %d, want %d", CurrentSchemaVersion(), want[len(want)-1])
	}
}

func TestNewMissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), filepath.Join(t.TempDir(), "missing", FileName), nil)
	if !IsKind(err, KindUnavailable) {
		t.Fatalf("expected KindUnavailable, got %v", err)
	}
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := db.GetItem(context.Background(), "x")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	ocr := "Total 42.00 EUR"
	ocrAt := int64(1_700_000_000_500)

	item := newTestItem("a1", 1_699_999_000_000)
	item.AppBundleID = "com.example.mail"
	item.AppName = "Mail"
	item.AppPID = 812
	item.SelectionSize = &Size{Width: 640, Height: 400}
	item.ExternalPath = "/Users/me/Desktop/Shot 1.png"
	item.PreviewPath = "previews/a1.jpg"
	item.PreviewSize = &Size{Width: 1280, Height: 800}
	item.BytesPreview = 500
	item.ContentHash = "abc"
	item.IsPinned = true
	item.Note = "quarterly invoice"
	item.TagCache = "Invoice Tax"
	item.OCRText = &ocr
	item.OCRLangs = "en"
	item.OCRUpdatedAt = &ocrAt
	item.Embedding = &Embedding{Model: "m", Dim: 2, Vector: []byte{1, 2, 3, 4, 5, 6, 7, 8}, SourceHash: "h", UpdatedAt: 7}

	mustInsert(t, db, item)
	got := mustGet(t, db, "a1")

	if !reflect.DeepEqual(got, item) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, item)
	}
	if got.BytesTotal != 600 {
		t.Errorf("BytesTotal = %d, want 600", got.BytesTotal)
	}
	if got.PinnedAt == nil {
		t.Error("pinned item must have PinnedAt")
	}
}

func TestInsertRequiresThumbnail(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	item := newTestItem("a1", 1)
	item.ThumbPath = ""

	err := db.InsertItem(context.Background(), item)
	if !errors.Is(err, ErrNoThumbnail) {
		t.Fatalf("expected ErrNoThumbnail, got %v", err)
	}
	if _, err := db.GetItem(context.Background(), "a1"); !IsKind(err, KindNotFound) {
		t.Errorf("no row should exist, got %v", err)
	}
}

func TestInsertDuplicateIDRollsBack(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	mustInsert(t, db, newTestItem("a1", 1))

	dup := newTestItem("a1", 2)
	dup.TagCache = "new"
	if err := db.InsertItem(context.Background(), dup); !IsKind(err, KindStatement) {
		t.Fatalf("expected statement error, got %v", err)
	}

	tags, err := db.TagHistogram(context.Background(), 0)
	if err != nil {
		t.Fatalf("TagHistogram failed: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("failed insert left tag links behind: %v", tags)
	}
}

func TestSetPinnedKeepsPinnedAtInvariant(t *testing.T) {
	t.Parallel()

	db, clock := setupTestDB(t)
	ctx := context.Background()
	mustInsert(t, db, newTestItem("a1", 1))

	if got := mustGet(t, db, "a1"); got.IsPinned || got.PinnedAt != nil {
		t.Fatalf("new item should be unpinned with nil PinnedAt, got %v %v", got.IsPinned, got.PinnedAt)
	}

	clock.Advance(time.Second)
	if err := db.SetPinned(ctx, "a1", true); err != nil {
		t.Fatalf("SetPinned failed: %v", err)
	}
	pinned := mustGet(t, db, "a1")
	if !pinned.IsPinned || pinned.PinnedAt == nil || *pinned.PinnedAt != clock.now.UnixMilli() {
		t.Fatalf("after pin: IsPinned=%v PinnedAt=%v", pinned.IsPinned, pinned.PinnedAt)
	}
	if pinned.UpdatedAt != clock.now.UnixMilli() {
		t.Errorf("UpdatedAt = %d, want %d", pinned.UpdatedAt, clock.now.UnixMilli())
	}

	// Pinning again keeps the original pin time.
	first := *pinned.PinnedAt
	clock.Advance(time.Second)
	if err := db.SetPinned(ctx, "a1", true); err != nil {
		t.Fatalf("SetPinned failed: %v", err)
	}
	if got := mustGet(t, db, "a1"); *got.PinnedAt != first {
		t.Errorf("re-pin changed PinnedAt to %d, want %d", *got.PinnedAt, first)
	}

	if err := db.SetPinned(ctx, "a1", false); err != nil {
		t.Fatalf("SetPinned(false) failed: %v", err)
	}
	if got := mustGet(t, db, "a1"); got.IsPinned || got.PinnedAt != nil {
		t.Errorf("after unpin: IsPinned=%v PinnedAt=%v", got.IsPinned, got.PinnedAt)
	}

	if err := db.SetPinned(ctx, "missing", true); !IsKind(err, KindNotFound) {
		t.Errorf("expected KindNotFound, got %v", err)
	}
}

func TestBytesTotalInvariant(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	ctx := context.Background()

	item := newTestItem("a1", 1)
	item.PreviewPath = "previews/a1.jpg"
	item.PreviewSize = &Size{Width: 10, Height: 10}
	item.BytesPreview = 500
	mustInsert(t, db, item)

	check := func(step string, want int64) {
		t.Helper()
		got := mustGet(t, db, "a1")
		if got.BytesTotal != got.BytesThumb+got.BytesPreview+got.BytesOriginal {
			t.Errorf("%s: bytesTotal %d != %d+%d+%d", step, got.BytesTotal, got.BytesThumb, got.BytesPreview, got.BytesOriginal)
		}
		if got.BytesTotal != want {
			t.Errorf("%s: BytesTotal = %d, want %d", step, got.BytesTotal, want)
		}
	}

	check("insert", 600)

	if err := db.SetOriginal(ctx, "a1", "originals/a1.png", 2000); err != nil {
		t.Fatalf("SetOriginal failed: %v", err)
	}
	check("set original", 2600)

	if err := db.SetOriginal(ctx, "a1", "originals/a1.png", 1500); err != nil {
		t.Fatalf("SetOriginal failed: %v", err)
	}
	check("replace original", 2100)

	if err := db.ClearPreview(ctx, "a1"); err != nil {
		t.Fatalf("ClearPreview failed: %v", err)
	}
	check("clear preview", 1600)
	if got := mustGet(t, db, "a1"); got.PreviewPath != "" || got.PreviewSize != nil {
		t.Errorf("preview not cleared: %q %v", got.PreviewPath, got.PreviewSize)
	}

	if err := db.SetOriginal(ctx, "a1", "", 999); err != nil {
		t.Fatalf("SetOriginal(clear) failed: %v", err)
	}
	check("clear original", 100)
}

func TestSetOCRAndEmbedding(t *testing.T) {
	t.Parallel()

	db, _ := setupTestDB(t)
	ctx := context.Background()
	mustInsert(t, db, newTestItem("a1", 1))

	text := "hello world"
	if err := db.SetOCR(ctx, "a1", &text, "en"); err != nil {
		t.Fatalf("SetOCR failed: %v", err)
	}
	got := mustGet(t, db, "a1")
	if got.OCRString() != text || got.OCRLangs != "en" || got.OCRUpdatedAt == nil {
		t.Fatalf("OCR fields = %q %q %v", got.OCRString(), got.OCRLangs, got.OCRUpdatedAt)
	}

	if err := db.SetOCRLangs(ctx, "a1", "de en"); err != nil {
		t.Fatalf("SetOCRLangs failed: %v", err)
	}
	if got := mustGet(t, db, "a1"); got.OCRLangs != "de en" || got.OCRString() != text {
		t.Errorf("after relabel: %q %q", got.OCRLangs, got.OCRString())
	}

	emb := Embedding{Model: "hashed", Dim: 2, Vector: []byte{0, 0, 128, 63, 0, 0, 0, 0}, SourceHash: "s"}
	if err := db.SetEmbedding(ctx, "a1", emb); err != nil {
		t.Fatalf("SetEmbedding failed: %v", err)
	}
	got = mustGet(t, db, "a1")
	if !got.Embedding.Matches("hashed", 2, "s") {
		t.Errorf("embedding not stored: %+v", got.Embedding)
	}
	if got.Embedding.Matches("hashed", 3, "s") || got.Embedding.Matches("other", 2, "s") || got.Embedding.Matches("hashed", 2, "t") {
		t.Error("Matches must reject any model/dim/hash mismatch")
	}

	if err := db.SetOCR(ctx, "a1", nil, ""); err != nil {
		t.Fatalf("SetOCR(nil) failed: %v", err)
	}
	if got := mustGet(t, db, "a1"); got.OCRText != nil || got.OCRUpdatedAt != nil {
		t.Errorf("OCR should be cleared, got %v", got.OCRText)
	}
}

func TestBuildSearchText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                                 string
		app, tags, note, ocr, external, want string
	}{
		{name: "all fields", app: "Mail", tags: "a b", note: "n", ocr: "o", external: "/x/y/Shot.png", want: "Mail\na b\nn\no\nShot.png"},
		{name: "skips empty", app: "Mail", ocr: "o", want: "Mail\no"},
		{name: "nothing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := buildSearchText(tt.app, tt.tags, tt.note, tt.ocr, tt.external); got != tt.want {
				t.Errorf("buildSearchText = %q, want %q", got, tt.want)
			}
		})
	}
}
