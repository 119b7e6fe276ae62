package library

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"capture-library/internal/assets"
	"capture-library/internal/database"
	"capture-library/internal/logging"
	"capture-library/internal/metrics"

	"github.com/google/uuid"
)

// ErrClosed is returned for requests made after Close.
var ErrClosed = errors.New("library worker closed")

// NewCapture is a capture handed to the library by the capture producer.
type NewCapture struct {
	// ID is generated when empty.
	ID string
	// CreatedAt defaults to the worker clock.
	CreatedAt time.Time

	// Image is the captured bitmap. When nil, Placeholder must be set and a
	// generic placeholder thumbnail is stored instead.
	Image       image.Image
	Placeholder bool
	// SkipPreview stores only the thumbnail tier.
	SkipPreview bool

	CaptureType database.CaptureType
	CaptureMode database.CaptureMode
	Trigger     database.TriggerSource

	AppBundleID string
	AppName     string
	AppPID      int

	SelectionSize *database.Size
	ExternalPath  string
	ContentHash   string

	IsPinned bool
	Note     string
	Tags     []string

	OCRText  *string
	OCRLangs string
}

// Worker owns the database and asset store and runs every operation against
// them on one goroutine, in submission order.
//
// Both stores open lazily on the first request and stay open until Close or
// ClearAll.
type Worker struct {
	dir       string
	assetOpts *assets.Options
	clock     func() time.Time
	events    *Broadcaster

	jobs chan func()
	quit chan struct{}
	done chan struct{}

	// Owned by the worker goroutine.
	db    *database.Database
	store *assets.Store
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Dir holds library.db and the thumbs/, previews/ and originals/ tiers.
	Dir    string
	Assets *assets.Options
	Clock  func() time.Time
	// Events receives change notifications. A fresh Broadcaster is created
	// when nil.
	Events *Broadcaster
}

// NewWorker starts a worker. Nothing touches disk until the first request.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		dir:       cfg.Dir,
		assetOpts: cfg.Assets,
		clock:     cfg.Clock,
		events:    cfg.Events,
		jobs:      make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	if w.events == nil {
		w.events = NewBroadcaster()
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case job := <-w.jobs:
			start := time.Now()
			job()
			metrics.WorkerJobDuration.Observe(time.Since(start).Seconds())
		case <-w.quit:
			w.closeStores()
			logging.Info("Library worker stopped")
			return
		}
	}
}

// Close stops the worker after the operation in progress and closes the
// database. It is safe to call more than once.
func (w *Worker) Close() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.done
}

// Events returns the broadcaster the worker publishes to.
func (w *Worker) Events() *Broadcaster {
	return w.events
}

// Dir returns the library directory.
func (w *Worker) Dir() string {
	return w.dir
}

// call runs fn on the worker goroutine and waits for its result. The stores
// are opened first if needed.
func call[T any](ctx context.Context, w *Worker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	type result struct {
		v   T
		err error
	}
	reply := make(chan result, 1)

	job := func() {
		if err := ctx.Err(); err != nil {
			reply <- result{zero, err}
			return
		}
		if err := w.ensureOpen(ctx); err != nil {
			reply <- result{zero, err}
			return
		}
		v, err := fn(ctx)
		reply <- result{v, err}
	}

	select {
	case w.jobs <- job:
	case <-w.quit:
		return zero, &database.StoreError{Op: "submit", Kind: database.KindUnavailable, Err: ErrClosed}
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	// The job channel is unbuffered, so once accepted the job runs to
	// completion and always replies.
	r := <-reply
	return r.v, r.err
}

func do(ctx context.Context, w *Worker, fn func(ctx context.Context) error) error {
	_, err := call(ctx, w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (w *Worker) ensureOpen(ctx context.Context) error {
	if w.db != nil && w.store != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return &database.StoreError{Op: "open", Kind: database.KindUnavailable, Err: err}
	}
	store, err := assets.Open(w.dir, w.assetOpts)
	if err != nil {
		return &database.StoreError{Op: "open", Kind: database.KindUnavailable, Err: err}
	}
	db, err := database.New(ctx, filepath.Join(w.dir, database.FileName), &database.Options{Clock: w.clock})
	if err != nil {
		return err
	}
	w.db, w.store = db, store
	logging.Info("Library opened at %s", w.dir)
	return nil
}

func (w *Worker) closeStores() {
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			logging.Error("Failed to close database: %v", err)
		}
	}
	w.db, w.store = nil, nil
}

func (w *Worker) publish(reason string, ids ...string) {
	w.events.Publish(Event{Reason: reason, IDs: ids, At: w.clock()})
}

// NotifyChanged broadcasts a change event with no ids. Bulk callers that
// suppressed per-item notifications use it once at the end.
func (w *Worker) NotifyChanged(reason string) {
	w.publish(reason)
}

// Add renders the capture's assets and inserts its row. The thumbnail is
// mandatory; a failed preview is logged and skipped. If the insert fails the
// rendered files are removed again.
func (w *Worker) Add(ctx context.Context, c NewCapture) (*database.CaptureItem, error) {
	item, err := call(ctx, w, func(ctx context.Context) (*database.CaptureItem, error) {
		return w.add(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	w.publish(ReasonAdded, item.ID)
	return item, nil
}

// Import adds a capture like Add but sends no notification, for bulk loads
// that notify once at the end.
func (w *Worker) Import(ctx context.Context, c NewCapture) (*database.CaptureItem, error) {
	return call(ctx, w, func(ctx context.Context) (*database.CaptureItem, error) {
		return w.add(ctx, c)
	})
}

func (w *Worker) add(ctx context.Context, c NewCapture) (*database.CaptureItem, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := w.clock().UnixMilli()
	if !c.CreatedAt.IsZero() {
		createdAt = c.CreatedAt.UnixMilli()
	}

	if _, err := w.db.GetItem(ctx, id); err == nil {
		return nil, &database.StoreError{Op: "add", Kind: database.KindStatement, Err: fmt.Errorf("item %s already exists", id)}
	}

	var (
		thumb assets.Rendered
		err   error
	)
	switch {
	case c.Image != nil:
		thumb, err = w.store.WriteThumbnail(id, c.Image)
	case c.Placeholder:
		thumb, err = w.store.WritePlaceholderThumbnail(id)
	default:
		err = assets.ErrEmptyImage
	}
	if err != nil {
		return nil, &database.StoreError{Op: "add", Kind: database.KindAssetIO, Err: err}
	}

	item := &database.CaptureItem{
		ID:            id,
		CreatedAt:     createdAt,
		CaptureType:   c.CaptureType,
		CaptureMode:   c.CaptureMode,
		Trigger:       c.Trigger,
		AppBundleID:   c.AppBundleID,
		AppName:       c.AppName,
		AppPID:        c.AppPID,
		SelectionSize: c.SelectionSize,
		ExternalPath:  c.ExternalPath,
		ThumbPath:     thumb.Path,
		ThumbSize:     database.Size{Width: thumb.Width, Height: thumb.Height},
		BytesThumb:    thumb.Bytes,
		ContentHash:   c.ContentHash,
		IsPinned:      c.IsPinned,
		Note:          c.Note,
		TagCache:      strings.Join(database.NormalizeTags(c.Tags), " "),
		OCRText:       c.OCRText,
		OCRLangs:      c.OCRLangs,
	}
	if item.CaptureType == "" {
		item.CaptureType = database.CaptureTypeArea
	}
	if item.CaptureMode == "" {
		item.CaptureMode = database.CaptureModeQuick
	}
	if item.Trigger == "" {
		item.Trigger = database.TriggerMenu
	}
	if c.OCRText != nil {
		at := createdAt
		item.OCRUpdatedAt = &at
	}

	if c.Image != nil && !c.SkipPreview {
		preview, err := w.store.WritePreview(id, c.Image)
		if err != nil {
			logging.Warn("Preview for %s skipped: %v", id, err)
		} else {
			item.PreviewPath = preview.Path
			item.PreviewSize = &database.Size{Width: preview.Width, Height: preview.Height}
			item.BytesPreview = preview.Bytes
		}
	}

	if err := w.db.InsertItem(ctx, item); err != nil {
		w.store.DeleteIfExists(item.ThumbPath)
		w.store.DeleteIfExists(item.PreviewPath)
		return nil, err
	}
	return w.db.GetItem(ctx, id)
}

// Get returns one item.
func (w *Worker) Get(ctx context.Context, id string) (*database.CaptureItem, error) {
	return call(ctx, w, func(ctx context.Context) (*database.CaptureItem, error) {
		return w.db.GetItem(ctx, id)
	})
}

// GetMany returns the items that exist among ids, in the order given.
func (w *Worker) GetMany(ctx context.Context, ids []string) ([]*database.CaptureItem, error) {
	return call(ctx, w, func(ctx context.Context) ([]*database.CaptureItem, error) {
		out := make([]*database.CaptureItem, 0, len(ids))
		for _, id := range ids {
			item, err := w.db.GetItem(ctx, id)
			if database.IsKind(err, database.KindNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	})
}

// FetchPage runs a filtered page query.
func (w *Worker) FetchPage(ctx context.Context, f database.Filter, limit, offset int) ([]*database.CaptureItem, error) {
	return call(ctx, w, func(ctx context.Context) ([]*database.CaptureItem, error) {
		return w.db.FetchPage(ctx, f, limit, offset)
	})
}

// Stats returns the global counters.
func (w *Worker) Stats(ctx context.Context) (database.LibraryStats, error) {
	return call(ctx, w, func(ctx context.Context) (database.LibraryStats, error) {
		return w.db.Stats(ctx)
	})
}

// AppHistogram returns item counts per application.
func (w *Worker) AppHistogram(ctx context.Context, limit int) ([]database.AppCount, error) {
	return call(ctx, w, func(ctx context.Context) ([]database.AppCount, error) {
		return w.db.AppHistogram(ctx, limit)
	})
}

// TagHistogram returns item counts per tag.
func (w *Worker) TagHistogram(ctx context.Context, limit int) ([]database.Tag, error) {
	return call(ctx, w, func(ctx context.Context) ([]database.Tag, error) {
		return w.db.TagHistogram(ctx, limit)
	})
}

// ItemTags returns an item's tags from the join table.
func (w *Worker) ItemTags(ctx context.Context, id string) ([]string, error) {
	return call(ctx, w, func(ctx context.Context) ([]string, error) {
		return w.db.ItemTags(ctx, id)
	})
}

func (w *Worker) update(ctx context.Context, id string, notify bool, fn func(ctx context.Context) error) error {
	if err := do(ctx, w, fn); err != nil {
		return err
	}
	if notify {
		w.publish(ReasonUpdated, id)
	}
	return nil
}

// SetPinned pins or unpins an item.
func (w *Worker) SetPinned(ctx context.Context, id string, pinned bool) error {
	return w.update(ctx, id, true, func(ctx context.Context) error {
		return w.db.SetPinned(ctx, id, pinned)
	})
}

// SetNote replaces an item's note.
func (w *Worker) SetNote(ctx context.Context, id, note string) error {
	return w.update(ctx, id, true, func(ctx context.Context) error {
		return w.db.SetNote(ctx, id, note)
	})
}

// SetTags replaces an item's tags and returns the normalized set stored.
func (w *Worker) SetTags(ctx context.Context, id string, tags []string) ([]string, error) {
	stored, err := call(ctx, w, func(ctx context.Context) ([]string, error) {
		return w.db.ReplaceTags(ctx, id, tags)
	})
	if err != nil {
		return nil, err
	}
	w.publish(ReasonUpdated, id)
	return stored, nil
}

// SetExternalPath records where the capture was saved outside the library.
func (w *Worker) SetExternalPath(ctx context.Context, id, path string) error {
	return w.update(ctx, id, true, func(ctx context.Context) error {
		return w.db.SetExternalPath(ctx, id, path)
	})
}

// SetOriginal stores data as the item's original asset. An empty data slice
// removes the original.
func (w *Worker) SetOriginal(ctx context.Context, id, ext string, data []byte) error {
	return w.update(ctx, id, true, func(ctx context.Context) error {
		item, err := w.db.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			if err := w.db.SetOriginal(ctx, id, "", 0); err != nil {
				return err
			}
			w.store.DeleteIfExists(item.OriginalPath)
			return nil
		}

		r, err := w.store.WriteOriginal(id, ext, data)
		if err != nil {
			return &database.StoreError{Op: "set_original", Kind: database.KindAssetIO, Err: err}
		}
		if err := w.db.SetOriginal(ctx, id, r.Path, r.Bytes); err != nil {
			if r.Path != item.OriginalPath {
				w.store.DeleteIfExists(r.Path)
			}
			return err
		}
		if item.OriginalPath != "" && item.OriginalPath != r.Path {
			w.store.DeleteIfExists(item.OriginalPath)
		}
		return nil
	})
}

// SetOCR stores recognized text and the language set it was produced with.
func (w *Worker) SetOCR(ctx context.Context, id string, text *string, langs string, notify bool) error {
	return w.update(ctx, id, notify, func(ctx context.Context) error {
		return w.db.SetOCR(ctx, id, text, langs)
	})
}

// SetOCRLangs rewrites only the OCR language label.
func (w *Worker) SetOCRLangs(ctx context.Context, id, langs string, notify bool) error {
	return w.update(ctx, id, notify, func(ctx context.Context) error {
		return w.db.SetOCRLangs(ctx, id, langs)
	})
}

// SetEmbedding caches an item's semantic vector. It never notifies: the
// vector is derived data nobody observes.
func (w *Worker) SetEmbedding(ctx context.Context, id string, e database.Embedding) error {
	return do(ctx, w, func(ctx context.Context) error {
		return w.db.SetEmbedding(ctx, id, e)
	})
}

// DeleteItems removes items and then, best effort, their assets. It returns
// the number of rows deleted.
func (w *Worker) DeleteItems(ctx context.Context, ids []string, notify bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	deleted, err := call(ctx, w, func(ctx context.Context) ([]database.AssetPaths, error) {
		paths, err := w.db.DeleteItems(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			for _, rel := range p.All() {
				w.store.DeleteIfExists(rel)
			}
		}
		return paths, nil
	})
	if err != nil {
		return 0, err
	}
	if notify && len(deleted) > 0 {
		gone := make([]string, len(deleted))
		for i, p := range deleted {
			gone[i] = p.ID
		}
		w.publish(ReasonDeleted, gone...)
	}
	return len(deleted), nil
}

// StripPreview drops an item's preview tier, row first, file second.
func (w *Worker) StripPreview(ctx context.Context, c database.PreviewCandidate, notify bool) error {
	return w.update(ctx, c.ID, notify, func(ctx context.Context) error {
		if err := w.db.ClearPreview(ctx, c.ID); err != nil {
			return err
		}
		w.store.DeleteIfExists(c.PreviewPath)
		return nil
	})
}

// PruneUnusedTags deletes tags no item references.
func (w *Worker) PruneUnusedTags(ctx context.Context) (int, error) {
	return call(ctx, w, func(ctx context.Context) (int, error) {
		return w.db.PruneUnusedTags(ctx)
	})
}

// UnpinnedIDsOlderThan lists unpinned ids created before cutoff, oldest first.
func (w *Worker) UnpinnedIDsOlderThan(ctx context.Context, cutoff int64) ([]string, error) {
	return call(ctx, w, func(ctx context.Context) ([]string, error) {
		return w.db.UnpinnedIDsOlderThan(ctx, cutoff)
	})
}

// OldestUnpinned lists up to limit unpinned items, oldest first.
func (w *Worker) OldestUnpinned(ctx context.Context, limit int) ([]database.EvictionCandidate, error) {
	return call(ctx, w, func(ctx context.Context) ([]database.EvictionCandidate, error) {
		return w.db.OldestUnpinned(ctx, limit)
	})
}

// UnpinnedWithPreview lists up to limit unpinned items holding a preview.
func (w *Worker) UnpinnedWithPreview(ctx context.Context, limit int) ([]database.PreviewCandidate, error) {
	return call(ctx, w, func(ctx context.Context) ([]database.PreviewCandidate, error) {
		return w.db.UnpinnedWithPreview(ctx, limit)
	})
}

// ReindexCandidates pages through items whose OCR labels differ from key.
func (w *Worker) ReindexCandidates(ctx context.Context, key string, after *database.ReindexCursor, limit int) ([]*database.CaptureItem, error) {
	return call(ctx, w, func(ctx context.Context) ([]*database.CaptureItem, error) {
		return w.db.ReindexCandidates(ctx, key, after, limit)
	})
}

// ReindexCursor returns the persisted reindex cursor, or nil.
func (w *Worker) ReindexCursor(ctx context.Context) (*database.ReindexCursor, error) {
	return call(ctx, w, func(ctx context.Context) (*database.ReindexCursor, error) {
		return w.db.ReindexCursor(ctx)
	})
}

// SetReindexCursor persists the reindex cursor.
func (w *Worker) SetReindexCursor(ctx context.Context, c database.ReindexCursor) error {
	return do(ctx, w, func(ctx context.Context) error {
		return w.db.SetReindexCursor(ctx, c)
	})
}

// ClearReindexCursor removes the persisted cursor.
func (w *Worker) ClearReindexCursor(ctx context.Context) error {
	return do(ctx, w, func(ctx context.Context) error {
		return w.db.ClearReindexCursor(ctx)
	})
}

// AppliedOCRKey returns the last fully applied OCR language key.
func (w *Worker) AppliedOCRKey(ctx context.Context) (string, error) {
	return call(ctx, w, func(ctx context.Context) (string, error) {
		return w.db.AppliedOCRKey(ctx)
	})
}

// SetAppliedOCRKey records key as fully applied.
func (w *Worker) SetAppliedOCRKey(ctx context.Context, key string) error {
	return do(ctx, w, func(ctx context.Context) error {
		return w.db.SetAppliedOCRKey(ctx, key)
	})
}

// ImageCandidates lists the files an item's image can be read from, best
// first: original, preview, external file, thumbnail.
func (w *Worker) ImageCandidates(item *database.CaptureItem) []string {
	var out []string
	for _, rel := range []string{item.OriginalPath, item.PreviewPath} {
		if p := assets.Resolve(w.dir, rel); p != "" {
			out = append(out, p)
		}
	}
	if item.ExternalPath != "" {
		out = append(out, item.ExternalPath)
	}
	if p := assets.Resolve(w.dir, item.ThumbPath); p != "" {
		out = append(out, p)
	}
	return out
}

// LoadBestImage decodes the first readable image among ImageCandidates.
func (w *Worker) LoadBestImage(item *database.CaptureItem) (image.Image, bool) {
	for _, path := range w.ImageCandidates(item) {
		img, err := assets.LoadImage(path)
		if err == nil {
			return img, true
		}
		logging.Debug("Image candidate %s for %s unreadable: %v", path, item.ID, err)
	}
	return nil, false
}

// ReadAsset returns the bytes of a stored asset.
func (w *Worker) ReadAsset(ctx context.Context, rel string) ([]byte, error) {
	return call(ctx, w, func(context.Context) ([]byte, error) {
		data, err := w.store.Read(rel)
		if err != nil {
			return nil, &database.StoreError{Op: "read_asset", Kind: database.KindAssetIO, Err: err}
		}
		return data, nil
	})
}

// LegacyImportedAt returns when the legacy import completed, or 0.
func (w *Worker) LegacyImportedAt(ctx context.Context) (int64, error) {
	return call(ctx, w, func(ctx context.Context) (int64, error) {
		return w.db.LegacyImportedAt(ctx)
	})
}

// MarkLegacyImported records that the legacy import completed.
func (w *Worker) MarkLegacyImported(ctx context.Context) error {
	return do(ctx, w, func(ctx context.Context) error {
		return w.db.MarkLegacyImported(ctx)
	})
}

// SweepOrphans deletes asset files whose id has no row and returns how many
// were removed.
func (w *Worker) SweepOrphans(ctx context.Context) (int, error) {
	return call(ctx, w, func(ctx context.Context) (int, error) {
		ids, err := w.db.AllIDs(ctx)
		if err != nil {
			return 0, err
		}
		files, err := w.store.ListFiles()
		if err != nil {
			return 0, &database.StoreError{Op: "sweep", Kind: database.KindAssetIO, Err: err}
		}
		removed := 0
		for _, f := range files {
			if _, ok := ids[f.ID]; ok {
				continue
			}
			w.store.DeleteIfExists(f.Path)
			removed++
		}
		if removed > 0 {
			logging.Info("Swept %d orphaned asset files", removed)
		}
		return removed, nil
	})
}

// ClearAll deletes the database and every asset, then reopens both empty.
func (w *Worker) ClearAll(ctx context.Context) error {
	err := do(ctx, w, func(ctx context.Context) error {
		store := w.store
		w.closeStores()

		dbPath := filepath.Join(w.dir, database.FileName)
		for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return &database.StoreError{Op: "clear_all", Kind: database.KindAssetIO, Err: err}
			}
		}
		if err := store.Clear(); err != nil {
			return &database.StoreError{Op: "clear_all", Kind: database.KindAssetIO, Err: err}
		}
		if err := w.ensureOpen(ctx); err != nil {
			return fmt.Errorf("reopening library: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logging.Info("Library cleared")
	w.publish(ReasonCleared)
	return nil
}
