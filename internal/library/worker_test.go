package library

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"capture-library/internal/database"

	"github.com/disintegration/imaging"
)

const baseMillis = 1_700_000_000_000

func solid(w, h int) image.Image {
	return imaging.New(w, h, color.NRGBA{R: 30, G: 120, B: 200, A: 255})
}

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	w := NewWorker(WorkerConfig{Dir: filepath.Join(t.TempDir(), "library")})
	t.Cleanup(w.Close)
	return w
}

func mustAdd(t *testing.T, w *Worker, c NewCapture) *database.CaptureItem {
	t.Helper()
	item, err := w.Add(context.Background(), c)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return item
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestWorkerOpensLazily(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "library")
	w := NewWorker(WorkerConfig{Dir: dir})
	defer w.Close()

	if exists(dir) {
		t.Fatal("library directory created before first request")
	}
	if _, err := w.Stats(context.Background()); err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	for _, p := range []string{database.FileName, "thumbs", "previews", "originals"} {
		if !exists(filepath.Join(dir, p)) {
			t.Errorf("%s missing after first request", p)
		}
	}
}

func TestAddWritesAssetsAndRow(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t)
	events, cancel := w.Events().Subscribe(4)
	defer cancel()

	item := mustAdd(t, w, NewCapture{
		Image:     solid(1920, 1080),
		AppName:   "Safari",
		Tags:      []string{"web", "web", "docs"},
		CreatedAt: time.UnixMilli(baseMillis),
	})

	if item.ID == "" || item.CreatedAt != baseMillis {
		t.Errorf("item = %+v", item)
	}
	if item.ThumbSize.Width != 320 || item.PreviewSize == nil || item.PreviewSize.Width != 1600 {
		t.Errorf("sizes: thumb %+v preview %+v", item.ThumbSize, item.PreviewSize)
	}
	if item.BytesTotal != item.BytesThumb+item.BytesPreview+item.BytesOriginal || item.BytesThumb == 0 {
		t.Errorf("byte counters inconsistent: %+v", item)
	}
	if item.TagCache != "web docs" {
		t.Errorf("tag cache = %q", item.TagCache)
	}
	for _, rel := range []string{item.ThumbPath, item.PreviewPath} {
		if !exists(filepath.Join(w.Dir(), rel)) {
			t.Errorf("asset %s not on disk", rel)
		}
	}

	select {
	case e := <-events:
		if e.Reason != ReasonAdded || len(e.IDs) != 1 || e.IDs[0] != item.ID {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no change event after Add")
	}
}

func TestAddSkipPreviewAndPlaceholder(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t)

	thumbOnly := mustAdd(t, w, NewCapture{Image: solid(800, 600), SkipPreview: true})
	if thumbOnly.PreviewPath != "" || thumbOnly.BytesPreview != 0 {
		t.Errorf("preview written despite SkipPreview: %+v", thumbOnly)
	}

	ph := mustAdd(t, w, NewCapture{Placeholder: true})
	if ph.ThumbPath == "" || ph.PreviewPath != "" {
		t.Errorf("placeholder item = %+v", ph)
	}
}

func TestAddWithoutImageFails(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t)
	_, err := w.Add(context.Background(), NewCapture{ID: "nothing"})
	if !database.IsKind(err, database.KindAssetIO) {
		t.Fatalf("Add error = %v, want asset io error", err)
	}
	if _, err := w.Get(context.Background(), "nothing"); !database.IsKind(err, database.KindNotFound) {
		t.Errorf("row committed for failed add: %v", err)
	}
}

func TestAddDuplicateIDKeepsExistingAssets(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t)
	first := mustAdd(t, w, NewCapture{ID: "dup", Image: solid(400, 300)})

	if _, err := w.Add(context.Background(), NewCapture{ID: "dup", Image: solid(400, 300)}); err == nil {
		t.Fatal("duplicate id accepted")
	}
	if !exists(filepath.Join(w.Dir(), first.ThumbPath)) {
		t.Error("existing thumbnail removed by failed duplicate add")
	}
}

func TestDeleteItemsRemovesAssets(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t)
	a := mustAdd(t, w, NewCapture{Image: solid(400, 300)})
	b := mustAdd(t, w, NewCapture{Image: solid(400, 300)})

	events, cancel := w.Events().Subscribe(4)
	defer cancel()

	n, err := w.DeleteItems(context.Background(), []string{a.ID, "missing"}, true)
	if err != nil || n != 1 {
		t.Fatalf("DeleteItems = %d, %v", n, err)
	}
	if exists(filepath.Join(w.Dir(), a.ThumbPath)) || exists(filepath.Join(w.Dir(), a.PreviewPath)) {
		t.Error("assets of deleted item remain")
	}
	if !exists(filepath.Join(w.Dir(), b.ThumbPath)) {
		t.Error("assets of kept item removed")
	}
	if e := <-events; e.Reason != ReasonDeleted || len(e.IDs) != 1 || e.IDs[0] != a.ID {
		t.Errorf("event = %+v", e)
	}

	// Suppressed notifications publish nothing.
	if _, err := w.DeleteItems(context.Background(), []string{b.ID}, false); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-events:
		t.Errorf("unexpected event %+v", e)
	default:
	}
}

func TestStripPreview(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newTestWorker(t)
	item := mustAdd(t, w, NewCapture{Image: solid(2000, 1000)})

	err := w.StripPreview(ctx, database.PreviewCandidate{ID: item.ID, PreviewPath: item.PreviewPath, BytesPreview: item.BytesPreview}, false)
	if err != nil {
		t.Fatalf("StripPreview failed: %v", err)
	}
	got, _ := w.Get(ctx, item.ID)
	if got.PreviewPath != "" || got.BytesPreview != 0 || got.BytesTotal != got.BytesThumb {
		t.Errorf("after strip: %+v", got)
	}
	if exists(filepath.Join(w.Dir(), item.PreviewPath)) {
		t.Error("preview file remains")
	}
	if !exists(filepath.Join(w.Dir(), item.ThumbPath)) {
		t.Error("thumbnail removed by strip")
	}
}

func TestSetOriginal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newTestWorker(t)
	item := mustAdd(t, w, NewCapture{Image: solid(400, 300)})

	data := []byte("not really a png but bytes all the same")
	if err := w.SetOriginal(ctx, item.ID, ".PNG", data); err != nil {
		t.Fatalf("SetOriginal failed: %v", err)
	}
	got, _ := w.Get(ctx, item.ID)
	if got.OriginalPath != "originals/"+item.ID+".png" || got.BytesOriginal != int64(len(data)) {
		t.Errorf("original = %q (%d bytes)", got.OriginalPath, got.BytesOriginal)
	}
	if got.BytesTotal != got.BytesThumb+got.BytesPreview+got.BytesOriginal {
		t.Errorf("bytesTotal %d does not add up", got.BytesTotal)
	}

	if err := w.SetOriginal(ctx, item.ID, "", nil); err != nil {
		t.Fatalf("clearing original failed: %v", err)
	}
	got, _ = w.Get(ctx, item.ID)
	if got.OriginalPath != "" || got.BytesOriginal != 0 || exists(filepath.Join(w.Dir(), "originals", item.ID+".png")) {
		t.Errorf("original not cleared: %+v", got)
	}
}

func TestImageCandidatesOrder(t *testing.T) {
	t.Parallel()

	w := NewWorker(WorkerConfig{Dir: "/lib"})
	defer w.Close()

	item := &database.CaptureItem{
		ThumbPath:    "thumbs/a.jpg",
		PreviewPath:  "previews/a.jpg",
		OriginalPath: "originals/a.png",
		ExternalPath: "/Users/me/Desktop/a.png",
	}
	want := []string{
		filepath.Join("/lib", "originals", "a.png"),
		filepath.Join("/lib", "previews", "a.jpg"),
		"/Users/me/Desktop/a.png",
		filepath.Join("/lib", "thumbs", "a.jpg"),
	}
	got := w.ImageCandidates(item)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("ImageCandidates = %v, want %v", got, want)
	}

	item.OriginalPath, item.PreviewPath, item.ExternalPath = "", "", ""
	if got := w.ImageCandidates(item); len(got) != 1 {
		t.Errorf("thumbnail-only candidates = %v", got)
	}
}

func TestLoadBestImageFallsBack(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t)
	item := mustAdd(t, w, NewCapture{Image: solid(800, 400), ExternalPath: "/definitely/missing.png"})

	// Preview is preferred over the thumbnail.
	img, ok := w.LoadBestImage(item)
	if !ok || img.Bounds().Dx() != 800 {
		t.Fatalf("LoadBestImage = %v, %v", img, ok)
	}

	if err := os.Remove(filepath.Join(w.Dir(), item.PreviewPath)); err != nil {
		t.Fatal(err)
	}
	img, ok = w.LoadBestImage(item)
	if !ok || img.Bounds().Dx() != 320 {
		t.Errorf("fallback to thumbnail failed: %v, %v", img, ok)
	}
}

func TestSweepOrphans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newTestWorker(t)
	item := mustAdd(t, w, NewCapture{Image: solid(400, 300)})

	ghost := filepath.Join(w.Dir(), "thumbs", "ghost.jpg")
	if err := os.WriteFile(ghost, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := w.SweepOrphans(ctx)
	if err != nil || n != 1 {
		t.Fatalf("SweepOrphans = %d, %v", n, err)
	}
	if exists(ghost) {
		t.Error("orphan not removed")
	}
	if !exists(filepath.Join(w.Dir(), item.ThumbPath)) {
		t.Error("referenced asset removed")
	}
}

func TestClearAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newTestWorker(t)
	item := mustAdd(t, w, NewCapture{Image: solid(400, 300)})

	if err := w.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	st, err := w.Stats(ctx)
	if err != nil || st.ItemCount != 0 {
		t.Errorf("Stats after clear = %+v, %v", st, err)
	}
	if exists(filepath.Join(w.Dir(), item.ThumbPath)) {
		t.Error("asset survived ClearAll")
	}

	// The library is usable again straight away.
	mustAdd(t, w, NewCapture{Image: solid(400, 300)})
}

func TestClosedWorkerIsUnavailable(t *testing.T) {
	t.Parallel()

	w := NewWorker(WorkerConfig{Dir: filepath.Join(t.TempDir(), "library")})
	w.Close()
	w.Close()

	if _, err := w.Stats(context.Background()); !database.IsKind(err, database.KindUnavailable) {
		t.Errorf("Stats after Close = %v, want unavailable", err)
	}
}

func TestConcurrentRequestsAreSerialized(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t)
	const n = 16

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := w.Add(context.Background(), NewCapture{
				Image:       solid(64, 64),
				SkipPreview: true,
				Note:        fmt.Sprintf("note %d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Add failed: %v", err)
		}
	}

	st, err := w.Stats(context.Background())
	if err != nil || st.ItemCount != n {
		t.Errorf("Stats = %+v, %v; want %d items", st, err, n)
	}
}

func TestCanceledContextIsNotRun(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.Add(ctx, NewCapture{Image: solid(10, 10)}); err == nil {
		t.Fatal("Add with canceled context succeeded")
	}
}
