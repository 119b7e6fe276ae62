package library

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"capture-library/internal/assets"
	"capture-library/internal/cleanup"
	"capture-library/internal/database"
	"capture-library/internal/embedding"
	"capture-library/internal/logging"
	"capture-library/internal/metrics"
	"capture-library/internal/ocr"
	"capture-library/internal/search"
)

// ErrQueueFull is returned by the indexing adapter when the indexing queue
// has no free slot.
var ErrQueueFull = errors.New("queue full")

// Config configures a Library.
type Config struct {
	Dir    string
	Assets *assets.Options
	Clock  func() time.Time

	// Embeddings resolves per-language models for reranking. Defaults to
	// the built-in hashed word model.
	Embeddings        *embedding.Registry
	PreferredLanguage string

	// Recognizer runs OCR for RecognizeItem. Defaults to ocr.Nop.
	Recognizer   ocr.Recognizer
	OCRLanguages []string

	Cleanup cleanup.Policy
}

// Library is the public facade over the worker. It admits each request
// through a bounded queue and turns failures into logged empty results: a
// false second return value means the request was dropped or failed.
type Library struct {
	worker   *Worker
	general  *queue
	indexing *queue
	ranker   *search.Ranker
	cleaner  *cleanup.Engine

	recognizer ocr.Recognizer

	mu        sync.RWMutex
	policy    cleanup.Policy
	ocrLangs  []string
	startTime time.Time
}

// New creates a Library. The database opens on first use.
func New(cfg Config) *Library {
	w := NewWorker(WorkerConfig{Dir: cfg.Dir, Assets: cfg.Assets, Clock: cfg.Clock})

	reg := cfg.Embeddings
	if reg == nil {
		reg = embedding.NewRegistry(embedding.BuiltinLoader{Dim: embedding.DefaultHashedDim})
	}
	rec := cfg.Recognizer
	if rec == nil {
		rec = ocr.Nop{}
	}

	cleaner := cleanup.NewEngine(w)
	if cfg.Clock != nil {
		cleaner.WithClock(cfg.Clock)
	}

	return &Library{
		worker:   w,
		general:  newQueue(GeneralQueue, GeneralQueueCapacity),
		indexing: newQueue(IndexingQueue, IndexingQueueCapacity),
		ranker: search.NewRanker(reg, w, &search.Options{
			PreferredLanguage: cfg.PreferredLanguage,
			Clock:             cfg.Clock,
		}),
		cleaner:    cleaner,
		recognizer: rec,
		policy:     cfg.Cleanup,
		ocrLangs:   ocr.NormalizeLanguages(cfg.OCRLanguages),
		startTime:  time.Now(),
	}
}

// Worker exposes the underlying worker for callers that need error values.
func (l *Library) Worker() *Worker {
	return l.worker
}

// Close waits for pending embedding write-backs and stops the worker.
func (l *Library) Close() {
	l.ranker.Wait()
	l.worker.Close()
	l.worker.Events().Close()
}

// Subscribe returns a channel of change events and its cancel function.
func (l *Library) Subscribe(buffer int) (<-chan Event, func()) {
	return l.worker.Events().Subscribe(buffer)
}

// general runs fn inside a general-queue slot.
func general[T any](l *Library, op string, fn func() (T, error)) (T, bool) {
	return admitted(l.general, op, fn)
}

func admitted[T any](q *queue, op string, fn func() (T, error)) (T, bool) {
	var zero T
	release, ok := q.admit()
	if !ok {
		return zero, false
	}
	defer release()

	v, err := fn()
	if err != nil {
		logging.Error("%s failed: %v", op, err)
		return zero, false
	}
	return v, true
}

// Add stores a new capture.
func (l *Library) Add(ctx context.Context, c NewCapture) (*database.CaptureItem, bool) {
	return general(l, "add", func() (*database.CaptureItem, error) {
		return l.worker.Add(ctx, c)
	})
}

// Get fetches one item.
func (l *Library) Get(ctx context.Context, id string) (*database.CaptureItem, bool) {
	return general(l, "get", func() (*database.CaptureItem, error) {
		return l.worker.Get(ctx, id)
	})
}

// GetMany fetches the existing items among ids.
func (l *Library) GetMany(ctx context.Context, ids []string) ([]*database.CaptureItem, bool) {
	return general(l, "get_many", func() ([]*database.CaptureItem, error) {
		return l.worker.GetMany(ctx, ids)
	})
}

// Search runs a filtered page query. Relevance-sorted free-text pages are
// reranked with the semantic signal.
func (l *Library) Search(ctx context.Context, f database.Filter, limit, offset int) ([]*database.CaptureItem, bool) {
	items, ok := general(l, "search", func() ([]*database.CaptureItem, error) {
		return l.worker.FetchPage(ctx, f, limit, offset)
	})
	if !ok {
		return nil, false
	}
	if search.ShouldRerank(f) {
		items = l.ranker.Rerank(ctx, f.Text, items)
	}
	return items, true
}

// Explain runs Search and returns the component scores of a reranked page.
// Pages that are not reranked come back with zero scores.
func (l *Library) Explain(ctx context.Context, f database.Filter, limit, offset int) ([]search.Result, bool) {
	items, ok := general(l, "search", func() ([]*database.CaptureItem, error) {
		return l.worker.FetchPage(ctx, f, limit, offset)
	})
	if !ok {
		return nil, false
	}
	if search.ShouldRerank(f) {
		return l.ranker.Rank(ctx, f.Text, items), true
	}
	out := make([]search.Result, len(items))
	for i, it := range items {
		out[i] = search.Result{Item: it, Rank: i}
	}
	return out, true
}

// SetPinned pins or unpins an item.
func (l *Library) SetPinned(ctx context.Context, id string, pinned bool) bool {
	_, ok := general(l, "set_pinned", func() (struct{}, error) {
		return struct{}{}, l.worker.SetPinned(ctx, id, pinned)
	})
	return ok
}

// SetNote replaces an item's note.
func (l *Library) SetNote(ctx context.Context, id, note string) bool {
	_, ok := general(l, "set_note", func() (struct{}, error) {
		return struct{}{}, l.worker.SetNote(ctx, id, note)
	})
	return ok
}

// SetTags replaces an item's tags and returns what was stored.
func (l *Library) SetTags(ctx context.Context, id string, tags []string) ([]string, bool) {
	return general(l, "set_tags", func() ([]string, error) {
		return l.worker.SetTags(ctx, id, tags)
	})
}

// SetExternalPath records where the capture was saved.
func (l *Library) SetExternalPath(ctx context.Context, id, path string) bool {
	_, ok := general(l, "set_external_path", func() (struct{}, error) {
		return struct{}{}, l.worker.SetExternalPath(ctx, id, path)
	})
	return ok
}

// SetOriginal stores the item's original asset.
func (l *Library) SetOriginal(ctx context.Context, id, ext string, data []byte) bool {
	_, ok := general(l, "set_original", func() (struct{}, error) {
		return struct{}{}, l.worker.SetOriginal(ctx, id, ext, data)
	})
	return ok
}

// Delete removes items and their assets.
func (l *Library) Delete(ctx context.Context, ids []string) (int, bool) {
	return general(l, "delete", func() (int, error) {
		return l.worker.DeleteItems(ctx, ids, true)
	})
}

// Stats returns global counters.
func (l *Library) Stats(ctx context.Context) (database.LibraryStats, bool) {
	return general(l, "stats", func() (database.LibraryStats, error) {
		return l.worker.Stats(ctx)
	})
}

// AppHistogram returns item counts per application.
func (l *Library) AppHistogram(ctx context.Context, limit int) ([]database.AppCount, bool) {
	return general(l, "app_histogram", func() ([]database.AppCount, error) {
		return l.worker.AppHistogram(ctx, limit)
	})
}

// TagHistogram returns item counts per tag.
func (l *Library) TagHistogram(ctx context.Context, limit int) ([]database.Tag, bool) {
	return general(l, "tag_histogram", func() ([]database.Tag, error) {
		return l.worker.TagHistogram(ctx, limit)
	})
}

// Thumbnail returns the JPEG bytes of an item's thumbnail.
func (l *Library) Thumbnail(ctx context.Context, id string) ([]byte, bool) {
	return general(l, "thumbnail", func() ([]byte, error) {
		item, err := l.worker.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return l.worker.ReadAsset(ctx, item.ThumbPath)
	})
}

// CleanupPolicy returns the active cleanup thresholds.
func (l *Library) CleanupPolicy() cleanup.Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// SetCleanupPolicy replaces the cleanup thresholds used by RunCleanup.
func (l *Library) SetCleanupPolicy(p cleanup.Policy) {
	l.mu.Lock()
	l.policy = p
	l.mu.Unlock()
}

// RunCleanup applies the configured cleanup policy. The whole pass holds one
// general-queue slot.
func (l *Library) RunCleanup(ctx context.Context) (cleanup.Report, bool) {
	return l.RunCleanupWith(ctx, l.CleanupPolicy())
}

// RunCleanupWith applies p once.
func (l *Library) RunCleanupWith(ctx context.Context, p cleanup.Policy) (cleanup.Report, bool) {
	return general(l, "cleanup", func() (cleanup.Report, error) {
		return l.cleaner.Run(ctx, p)
	})
}

// OCRLanguages returns the configured recognition languages.
func (l *Library) OCRLanguages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.ocrLangs...)
}

// SetOCRLanguages changes the languages RecognizeItem uses.
func (l *Library) SetOCRLanguages(langs []string) {
	l.mu.Lock()
	l.ocrLangs = ocr.NormalizeLanguages(langs)
	l.mu.Unlock()
}

// RecognizeItem runs OCR over an item's best image with the configured
// languages and stores the text. It goes through the indexing queue.
func (l *Library) RecognizeItem(ctx context.Context, id string) (string, bool) {
	langs := l.OCRLanguages()
	return admitted(l.indexing, "recognize", func() (string, error) {
		item, err := l.worker.Get(ctx, id)
		if err != nil {
			return "", err
		}
		var text string
		if img, ok := l.worker.LoadBestImage(item); ok {
			if text, err = l.recognizer.Recognize(ctx, img, langs); err != nil {
				logging.Warn("OCR for %s failed: %v", id, err)
				text = ""
			}
		}
		if err := l.worker.SetOCR(ctx, id, &text, ocr.LanguageKey(langs), true); err != nil {
			return "", err
		}
		return text, nil
	})
}

// ClearAll deletes every item and asset.
func (l *Library) ClearAll(ctx context.Context) bool {
	_, ok := general(l, "clear_all", func() (struct{}, error) {
		return struct{}{}, l.worker.ClearAll(ctx)
	})
	return ok
}

// SweepOrphans deletes asset files that no item references.
func (l *Library) SweepOrphans(ctx context.Context) (int, bool) {
	return general(l, "sweep_orphans", func() (int, error) {
		return l.worker.SweepOrphans(ctx)
	})
}

// CollectStats implements metrics.StatsProvider.
func (l *Library) CollectStats(ctx context.Context) (metrics.Stats, bool) {
	st, ok := l.Stats(ctx)
	if !ok {
		return metrics.Stats{}, false
	}
	return metrics.Stats{Items: st.ItemCount, Pinned: st.PinnedCount, Bytes: st.TotalBytes}, true
}

// HealthStatus describes the library for health checks.
type HealthStatus struct {
	Ready     bool                   `json:"ready"`
	StartTime time.Time              `json:"startTime"`
	Uptime    string                 `json:"uptime"`
	Stats     *database.LibraryStats `json:"stats,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Health opens the library if needed and reports whether it is usable.
func (l *Library) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		StartTime: l.startTime,
		Uptime:    time.Since(l.startTime).Round(time.Second).String(),
	}
	st, err := l.worker.Stats(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Ready = true
	status.Stats = &st
	return status
}

// Indexing returns the store view the reindex coordinator drives. Every call
// goes through the indexing queue and fails with ErrQueueFull when it has no
// free slot.
func (l *Library) Indexing() *IndexingStore {
	return &IndexingStore{w: l.worker, q: l.indexing}
}

// IndexingStore routes reindex traffic through the indexing queue.
type IndexingStore struct {
	w *Worker
	q *queue
}

func indexed[T any](s *IndexingStore, fn func() (T, error)) (T, error) {
	var zero T
	release, ok := s.q.admit()
	if !ok {
		return zero, ErrQueueFull
	}
	defer release()
	return fn()
}

func (s *IndexingStore) ReindexCandidates(ctx context.Context, key string, after *database.ReindexCursor, limit int) ([]*database.CaptureItem, error) {
	return indexed(s, func() ([]*database.CaptureItem, error) {
		return s.w.ReindexCandidates(ctx, key, after, limit)
	})
}

func (s *IndexingStore) ReindexCursor(ctx context.Context) (*database.ReindexCursor, error) {
	return indexed(s, func() (*database.ReindexCursor, error) {
		return s.w.ReindexCursor(ctx)
	})
}

func (s *IndexingStore) SetReindexCursor(ctx context.Context, c database.ReindexCursor) error {
	_, err := indexed(s, func() (struct{}, error) {
		return struct{}{}, s.w.SetReindexCursor(ctx, c)
	})
	return err
}

func (s *IndexingStore) ClearReindexCursor(ctx context.Context) error {
	_, err := indexed(s, func() (struct{}, error) {
		return struct{}{}, s.w.ClearReindexCursor(ctx)
	})
	return err
}

func (s *IndexingStore) AppliedOCRKey(ctx context.Context) (string, error) {
	return indexed(s, func() (string, error) {
		return s.w.AppliedOCRKey(ctx)
	})
}

func (s *IndexingStore) SetAppliedOCRKey(ctx context.Context, key string) error {
	_, err := indexed(s, func() (struct{}, error) {
		return struct{}{}, s.w.SetAppliedOCRKey(ctx, key)
	})
	return err
}

func (s *IndexingStore) SetOCR(ctx context.Context, id string, text *string, langs string, notify bool) error {
	_, err := indexed(s, func() (struct{}, error) {
		return struct{}{}, s.w.SetOCR(ctx, id, text, langs, notify)
	})
	return err
}

func (s *IndexingStore) SetOCRLangs(ctx context.Context, id, langs string, notify bool) error {
	_, err := indexed(s, func() (struct{}, error) {
		return struct{}{}, s.w.SetOCRLangs(ctx, id, langs, notify)
	})
	return err
}

// LoadBestImage reads files directly and takes no queue slot.
func (s *IndexingStore) LoadBestImage(item *database.CaptureItem) (image.Image, bool) {
	return s.w.LoadBestImage(item)
}

func (s *IndexingStore) NotifyChanged(reason string) {
	s.w.NotifyChanged(reason)
}
