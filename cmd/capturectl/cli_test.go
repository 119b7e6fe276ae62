package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capture-library/internal/cleanup"
	"capture-library/internal/database"
	"capture-library/internal/library"
	"capture-library/internal/ocr"
	"capture-library/internal/reindex"
)

// writePNG writes a small gradient image and returns its path.
func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 2), G: uint8(y * 3), B: 40, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes capturectl against libDir and returns stdout.
func run(t *testing.T, libDir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newCLIApp(&env{recognizer: ocr.Nop{}})
	app.Writer = &out
	err := app.RunContext(context.Background(), append([]string{"capturectl", "--library-dir", libDir}, args...))
	return out.String(), err
}

func mustRun(t *testing.T, libDir string, args ...string) string {
	t.Helper()
	out, err := run(t, libDir, args...)
	if err != nil {
		t.Fatalf("capturectl %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeOut[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	return v
}

func TestAddSearchAndStats(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "library")
	img := writePNG(t, t.TempDir(), "shot.png")

	out := mustRun(t, lib, "add", "--note", "whiteboard sketch", "--tags", "design, sprint", "--pin", "--keep-original", img)
	item := decodeOut[database.CaptureItem](t, out)
	if item.ID == "" || !item.IsPinned || item.Note != "whiteboard sketch" {
		t.Fatalf("added item = %+v", item)
	}
	if item.ContentHash == "" || len(item.ContentHash) != 64 {
		t.Errorf("content hash = %q", item.ContentHash)
	}
	if item.OriginalPath == "" || item.BytesOriginal == 0 {
		t.Errorf("original not kept: %+v", item)
	}
	if item.ExternalPath != img {
		t.Errorf("external path = %q, want %q", item.ExternalPath, img)
	}

	mustRun(t, lib, "add", "--note", "lunch receipt", img)

	hits := decodeOut[[]searchHit](t, mustRun(t, lib, "search", "--explain", "whiteboard"))
	if len(hits) != 1 || hits[0].ID != item.ID || hits[0].Score == nil {
		t.Errorf("search hits = %+v", hits)
	}
	if strings.Join(hits[0].Tags, " ") != "design sprint" {
		t.Errorf("hit tags = %v", hits[0].Tags)
	}

	stats := decodeOut[database.LibraryStats](t, mustRun(t, lib, "stats"))
	if stats.ItemCount != 2 || stats.PinnedCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "library")

	tests := []struct {
		name string
		args []string
	}{
		{name: "no path", args: []string{"add"}},
		{name: "missing file", args: []string{"add", filepath.Join(t.TempDir(), "nope.png")}},
		{name: "not an image", args: []string{"add", writeText(t, "notes.txt")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, lib, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func writeText(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCleanupOverrides(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "library")
	img := writePNG(t, t.TempDir(), "shot.png")
	for i := 0; i < 3; i++ {
		mustRun(t, lib, "add", img)
	}
	mustRun(t, lib, "add", "--pin", img)

	rep := decodeOut[cleanup.Report](t, mustRun(t, lib, "cleanup", "--max-items", "2"))
	if rep.CountDeleted != 2 || rep.After.ItemCount != 2 || rep.After.PinnedCount != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestOverridePolicy(t *testing.T) {
	t.Parallel()

	base := cleanup.Policy{RetentionDays: 30, MaxItems: 100, MaxBytes: 1 << 20}
	tests := []struct {
		name               string
		days               int
		maxItems, maxBytes int64
		want               cleanup.Policy
	}{
		{name: "no overrides", days: -1, maxItems: -1, maxBytes: -1, want: base},
		{name: "disable retention", days: 0, maxItems: -1, maxBytes: -1, want: cleanup.Policy{MaxItems: 100, MaxBytes: 1 << 20}},
		{name: "replace all", days: 7, maxItems: 5, maxBytes: 10, want: cleanup.Policy{RetentionDays: 7, MaxItems: 5, MaxBytes: 10}},
	}
	for _, tt := range tests {
		if got := overridePolicy(base, tt.days, tt.maxItems, tt.maxBytes); got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestReindexRelabelsWithoutRecognizer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "library")

	// Seed an item that already carries OCR text in another language set.
	text := "hello"
	l := library.New(library.Config{Dir: dir})
	item, ok := l.Add(context.Background(), library.NewCapture{
		Image:    image.NewGray(image.Rect(0, 0, 40, 40)),
		OCRText:  &text,
		OCRLangs: "en",
	})
	if !ok {
		t.Fatal("seed add dropped")
	}
	l.Close()

	st := decodeOut[reindex.Status](t, mustRun(t, dir, "reindex", "--lang", "ja", "--lang", "en"))
	if st.State != reindex.StateCompleted || st.Target != "en ja" || st.Relabeled != 1 {
		t.Errorf("status = %+v", st)
	}

	l = library.New(library.Config{Dir: dir})
	defer l.Close()
	got, ok := l.Get(context.Background(), item.ID)
	if !ok || got.OCRLangs != "en ja" || got.OCRString() != "hello" {
		t.Errorf("item after reindex = %+v", got)
	}
}

func TestImportAndSweep(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "library")
	src := t.TempDir()
	img := writePNG(t, src, "old.png")

	history := filepath.Join(src, "history.json")
	body := `[{"path":"` + filepath.ToSlash(img) + `","createdAt":1700000000000,"appName":"Safari","pinned":true},
	{"path":"` + filepath.ToSlash(filepath.Join(src, "gone.png")) + `","createdAt":1700000001000}]`
	if err := os.WriteFile(history, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	rep := decodeOut[library.ImportReport](t, mustRun(t, lib, "import", history))
	if rep.Imported != 2 || rep.Placeholders != 1 || rep.AlreadyDone {
		t.Errorf("first import = %+v", rep)
	}
	rep = decodeOut[library.ImportReport](t, mustRun(t, lib, "import", history))
	if !rep.AlreadyDone || rep.Imported != 0 {
		t.Errorf("second import = %+v", rep)
	}

	stray := filepath.Join(lib, "thumbs", "00000000-0000-0000-0000-000000000000.jpg")
	if err := os.WriteFile(stray, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	swept := decodeOut[map[string]int](t, mustRun(t, lib, "sweep"))
	if swept["removed"] != 1 {
		t.Errorf("sweep removed %d files, want 1", swept["removed"])
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("orphaned thumbnail still on disk")
	}
}
