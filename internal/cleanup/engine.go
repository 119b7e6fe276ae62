package cleanup

import (
	"context"
	"fmt"
	"time"

	"capture-library/internal/database"
	"capture-library/internal/logging"
	"capture-library/internal/metrics"
)

// BatchSize bounds each preview-strip and item-delete round of the byte phase.
const BatchSize = 50

// ChangeReason is the notification reason sent after a pass that changed data.
const ChangeReason = "cleanup"

// Store is the subset of the library worker the engine drives.
type Store interface {
	Stats(ctx context.Context) (database.LibraryStats, error)
	UnpinnedIDsOlderThan(ctx context.Context, cutoff int64) ([]string, error)
	OldestUnpinned(ctx context.Context, limit int) ([]database.EvictionCandidate, error)
	UnpinnedWithPreview(ctx context.Context, limit int) ([]database.PreviewCandidate, error)
	StripPreview(ctx context.Context, c database.PreviewCandidate, notify bool) error
	DeleteItems(ctx context.Context, ids []string, notify bool) (int, error)
	PruneUnusedTags(ctx context.Context) (int, error)
	NotifyChanged(reason string)
}

// Policy holds the thresholds. Zero or negative disables a policy.
type Policy struct {
	RetentionDays int
	MaxItems      int64
	MaxBytes      int64
}

// Enabled reports whether any policy is active.
func (p Policy) Enabled() bool {
	return p.RetentionDays > 0 || p.MaxItems > 0 || p.MaxBytes > 0
}

// Report summarizes a pass.
type Report struct {
	Before           database.LibraryStats `json:"before"`
	After            database.LibraryStats `json:"after"`
	RetentionDeleted int                   `json:"retentionDeleted"`
	CountDeleted     int                   `json:"countDeleted"`
	BytesDeleted     int                   `json:"bytesDeleted"`
	PreviewsStripped int                   `json:"previewsStripped"`
	TagsPruned       int                   `json:"tagsPruned"`
	Duration         time.Duration         `json:"duration"`
}

// Changed reports whether the pass modified any item.
func (r Report) Changed() bool {
	return r.RetentionDeleted+r.CountDeleted+r.BytesDeleted+r.PreviewsStripped > 0
}

// Engine runs cleanup passes against a Store.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine returns an Engine using the wall clock.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// WithClock replaces the clock used for the retention cutoff.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run applies p once. On error the report covers the work done so far and the
// change notification is still sent if anything was removed.
func (e *Engine) Run(ctx context.Context, p Policy) (rep Report, err error) {
	start := e.now()
	metrics.CleanupRunsTotal.Inc()
	defer func() {
		rep.Duration = time.Since(start)
		metrics.CleanupLastRunTimestamp.Set(float64(e.now().Unix()))
		if rep.Changed() {
			e.store.NotifyChanged(ChangeReason)
		}
	}()

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return rep, fmt.Errorf("cleanup: reading stats: %w", err)
	}
	rep.Before = stats

	if p.RetentionDays > 0 {
		if rep.RetentionDeleted, err = e.retention(ctx, p.RetentionDays); err != nil {
			return rep, err
		}
		if stats, err = e.store.Stats(ctx); err != nil {
			return rep, fmt.Errorf("cleanup: reading stats: %w", err)
		}
	}

	if p.MaxItems > 0 && stats.ItemCount > p.MaxItems {
		if rep.CountDeleted, err = e.count(ctx, stats.ItemCount-p.MaxItems); err != nil {
			return rep, err
		}
		if stats, err = e.store.Stats(ctx); err != nil {
			return rep, fmt.Errorf("cleanup: reading stats: %w", err)
		}
	}

	if p.MaxBytes > 0 && stats.TotalBytes > p.MaxBytes {
		if stats, err = e.bytes(ctx, stats, p.MaxBytes, &rep); err != nil {
			return rep, err
		}
	}
	rep.After = stats

	if rep.TagsPruned, err = e.store.PruneUnusedTags(ctx); err != nil {
		logging.Warn("Cleanup: pruning unused tags failed: %v", err)
		err = nil
	}

	if rep.Changed() {
		logging.Info("Cleanup removed %d items (retention %d, count %d, bytes %d), stripped %d previews; %d items / %d bytes remain",
			rep.RetentionDeleted+rep.CountDeleted+rep.BytesDeleted,
			rep.RetentionDeleted, rep.CountDeleted, rep.BytesDeleted,
			rep.PreviewsStripped, rep.After.ItemCount, rep.After.TotalBytes)
	} else {
		logging.Debug("Cleanup found nothing to do")
	}
	return rep, nil
}

func (e *Engine) retention(ctx context.Context, days int) (int, error) {
	cutoff := e.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	ids, err := e.store.UnpinnedIDsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: retention candidates: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := e.store.DeleteItems(ctx, ids, false)
	if err != nil {
		return 0, fmt.Errorf("cleanup: retention delete: %w", err)
	}
	metrics.CleanupItemsDeleted.WithLabelValues("retention").Add(float64(n))
	return n, nil
}

func (e *Engine) count(ctx context.Context, excess int64) (int, error) {
	candidates, err := e.store.OldestUnpinned(ctx, int(excess))
	if err != nil {
		return 0, fmt.Errorf("cleanup: count candidates: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	n, err := e.store.DeleteItems(ctx, ids, false)
	if err != nil {
		return 0, fmt.Errorf("cleanup: count delete: %w", err)
	}
	metrics.CleanupItemsDeleted.WithLabelValues("count").Add(float64(n))
	return n, nil
}

// bytes strips previews and then deletes items until stats fit maxBytes.
// It returns the stats as of its last read.
func (e *Engine) bytes(ctx context.Context, stats database.LibraryStats, maxBytes int64, rep *Report) (database.LibraryStats, error) {
	total := stats.TotalBytes

	for total > maxBytes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		candidates, err := e.store.UnpinnedWithPreview(ctx, BatchSize)
		if err != nil {
			return stats, fmt.Errorf("cleanup: preview candidates: %w", err)
		}
		if len(candidates) == 0 {
			break
		}
		for _, c := range candidates {
			if total <= maxBytes {
				break
			}
			if err := e.store.StripPreview(ctx, c, false); err != nil {
				return stats, fmt.Errorf("cleanup: strip preview %s: %w", c.ID, err)
			}
			total -= c.BytesPreview
			rep.PreviewsStripped++
			metrics.CleanupPreviewsStripped.Inc()
		}
	}

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return stats, fmt.Errorf("cleanup: reading stats: %w", err)
	}

	for stats.TotalBytes > maxBytes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		candidates, err := e.store.OldestUnpinned(ctx, BatchSize)
		if err != nil {
			return stats, fmt.Errorf("cleanup: byte candidates: %w", err)
		}
		if len(candidates) == 0 {
			break
		}

		// Take the shortest oldest-first prefix that brings the total under budget.
		over := stats.TotalBytes - maxBytes
		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ID)
			over -= c.BytesTotal
			if over <= 0 {
				break
			}
		}

		n, err := e.store.DeleteItems(ctx, ids, false)
		if err != nil {
			return stats, fmt.Errorf("cleanup: byte delete: %w", err)
		}
		rep.BytesDeleted += n
		metrics.CleanupItemsDeleted.WithLabelValues("bytes").Add(float64(n))

		if stats, err = e.store.Stats(ctx); err != nil {
			return stats, fmt.Errorf("cleanup: reading stats: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return stats, nil
}
