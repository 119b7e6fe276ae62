package library

import (
	"context"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capture-library/internal/database"
)

func writeHistory(t *testing.T, dir string, entries []LegacyEntry) string {
	t.Helper()
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "history.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadLegacyHistory(t *testing.T) {
	t.Parallel()

	entries, err := ReadLegacyHistory(strings.NewReader(`[{"path":"/a.png","createdAt":5,"appName":"Notes","pinned":true}]`))
	if err != nil {
		t.Fatalf("ReadLegacyHistory failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "/a.png" || !entries[0].Pinned || entries[0].CreatedAt != 5 {
		t.Errorf("entries = %+v", entries)
	}

	if _, err := ReadLegacyHistory(strings.NewReader(`{"not":"a list"}`)); err == nil {
		t.Error("expected error for malformed history")
	}
}

func TestImportLegacy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := t.TempDir()

	good := filepath.Join(src, "shot.png")
	f, err := os.Create(good)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, solid(640, 480)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	history := writeHistory(t, src, []LegacyEntry{
		{Path: good, CreatedAt: baseMillis, AppName: "Preview", Pinned: true, Tags: []string{"old"}},
		{Path: filepath.Join(src, "gone.png"), CreatedAt: baseMillis + 1, Note: "lost file"},
	})

	l := newTestLibrary(t, Config{})
	events, cancel := l.Subscribe(8)
	defer cancel()

	rep, ok := l.ImportLegacy(ctx, history)
	if !ok {
		t.Fatal("ImportLegacy dropped")
	}
	if rep.Imported != 2 || rep.Placeholders != 1 || rep.Failed != 0 || rep.AlreadyDone {
		t.Errorf("report = %+v", rep)
	}

	items, _ := l.Search(ctx, database.Filter{Sort: database.SortCreated}, 10, 0)
	if len(items) != 2 {
		t.Fatalf("imported %d items", len(items))
	}
	lost, kept := items[0], items[1]
	if lost.Note != "lost file" || lost.PreviewPath != "" || lost.ThumbPath == "" {
		t.Errorf("placeholder item = %+v", lost)
	}
	if !kept.IsPinned || kept.PreviewPath == "" || kept.ExternalPath != good || kept.CreatedAt != baseMillis || kept.TagCache != "old" {
		t.Errorf("decoded item = %+v", kept)
	}

	var reasons []string
	for len(events) > 0 {
		reasons = append(reasons, (<-events).Reason)
	}
	if strings.Join(reasons, ",") != ReasonImported {
		t.Errorf("events = %v, want a single %q", reasons, ReasonImported)
	}

	again, ok := l.ImportLegacy(ctx, history)
	if !ok || !again.AlreadyDone || again.Imported != 0 {
		t.Errorf("second import = %+v, %v", again, ok)
	}
}

func TestImportLegacyMissingFile(t *testing.T) {
	t.Parallel()

	l := newTestLibrary(t, Config{})
	if _, ok := l.ImportLegacy(context.Background(), filepath.Join(t.TempDir(), "nope.json")); ok {
		t.Error("import of a missing history file succeeded")
	}
}
