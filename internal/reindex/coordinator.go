package reindex

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"capture-library/internal/database"
	"capture-library/internal/logging"
	"capture-library/internal/metrics"
	"capture-library/internal/ocr"
)

const (
	// BatchSize is how many candidates a pass fetches per query.
	BatchSize = 18
	// YieldEvery is how many items a pass processes between pauses.
	YieldEvery = 24

	DefaultDebounce   = 2 * time.Second
	DefaultYieldPause = 50 * time.Millisecond
	DefaultRetryDelay = 250 * time.Millisecond
)

// ChangeReason is the notification reason sent when a pass ends.
const ChangeReason = "reindex"

// Store is the library view a pass runs against.
type Store interface {
	ReindexCandidates(ctx context.Context, key string, after *database.ReindexCursor, limit int) ([]*database.CaptureItem, error)
	ReindexCursor(ctx context.Context) (*database.ReindexCursor, error)
	SetReindexCursor(ctx context.Context, c database.ReindexCursor) error
	ClearReindexCursor(ctx context.Context) error
	AppliedOCRKey(ctx context.Context) (string, error)
	SetAppliedOCRKey(ctx context.Context, key string) error
	SetOCR(ctx context.Context, id string, text *string, langs string, notify bool) error
	SetOCRLangs(ctx context.Context, id, langs string, notify bool) error
	LoadBestImage(item *database.CaptureItem) (image.Image, bool)
	NotifyChanged(reason string)
}

// State is the coordinator's pass state.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateSuperseded State = "superseded"
	StateCanceled   State = "canceled"
	StateFailed     State = "failed"
)

// Options tunes a Coordinator. Zero durations use the defaults.
type Options struct {
	Debounce   time.Duration
	YieldPause time.Duration
	RetryDelay time.Duration
	// Busy reports whether a store error means "try the same call again
	// later", such as a full admission queue. Nil treats every error as
	// fatal to the pass.
	Busy func(error) bool
}

// Status is a snapshot of the current or last pass.
type Status struct {
	State      State     `json:"state"`
	Target     string    `json:"target"`
	Processed  int       `json:"processed"`
	Relabeled  int       `json:"relabeled"`
	Recognized int       `json:"recognized"`
	Errors     int       `json:"errors"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// Coordinator keeps stored OCR text in line with the configured language
// set. At most one pass runs at a time; a newer target supersedes it.
type Coordinator struct {
	store      Store
	recognizer ocr.Recognizer
	opts       Options

	mu       sync.Mutex
	base     context.Context
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
	timer    *time.Timer
	disabled bool
	status   Status
}

// New returns an idle Coordinator.
func New(store Store, recognizer ocr.Recognizer, opts *Options) *Coordinator {
	c := &Coordinator{
		store:      store,
		recognizer: recognizer,
		base:       context.Background(),
		status:     Status{State: StateIdle},
	}
	if opts != nil {
		c.opts = *opts
	}
	if c.opts.Debounce <= 0 {
		c.opts.Debounce = DefaultDebounce
	}
	if c.opts.YieldPause <= 0 {
		c.opts.YieldPause = DefaultYieldPause
	}
	if c.opts.RetryDelay <= 0 {
		c.opts.RetryDelay = DefaultRetryDelay
	}
	if c.opts.Busy == nil {
		c.opts.Busy = func(error) bool { return false }
	}
	if c.recognizer == nil {
		c.recognizer = ocr.Nop{}
	}
	return c
}

// Resume is called once at process start. It starts a pass without resetting
// the cursor when a persisted cursor exists or the applied key differs from
// langs. ctx bounds every pass the coordinator runs afterwards.
func (c *Coordinator) Resume(ctx context.Context, langs []string) error {
	key := ocr.LanguageKey(langs)

	c.mu.Lock()
	c.base = ctx
	c.disabled = false
	c.mu.Unlock()

	cursor, err := c.store.ReindexCursor(ctx)
	if err != nil {
		return fmt.Errorf("reading reindex cursor: %w", err)
	}
	applied, err := c.store.AppliedOCRKey(ctx)
	if err != nil {
		return fmt.Errorf("reading applied ocr key: %w", err)
	}

	if cursor == nil && applied == key {
		logging.Debug("OCR languages %q already applied", key)
		return nil
	}
	logging.Info("Resuming OCR reindex for %q (applied %q, cursor %v)", key, applied, cursor != nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked(key, false)
	return nil
}

// LanguagesChanged schedules a pass for langs after the debounce interval.
// Calls within the interval collapse into the last one.
func (c *Coordinator) LanguagesChanged(langs []string) {
	key := ocr.LanguageKey(langs)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.opts.Debounce, func() { c.apply(key) })
}

// Apply switches to langs immediately, bypassing the debounce.
func (c *Coordinator) Apply(langs []string) {
	c.apply(ocr.LanguageKey(langs))
}

func (c *Coordinator) apply(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return
	}
	if c.status.State == StateRunning && c.status.Target == key {
		return
	}
	if c.cancel != nil {
		logging.Info("OCR reindex for %q superseded by %q", c.status.Target, key)
	}
	c.startLocked(key, true)
}

// startLocked cancels any running pass and starts a new one for key. With
// reset the persisted cursor is cleared first. c.mu must be held.
func (c *Coordinator) startLocked(key string, reset bool) {
	prevDone := c.done
	if c.cancel != nil {
		c.cancel()
	}

	ctx, cancel := context.WithCancel(c.base)
	c.gen++
	gen := c.gen
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.status = Status{State: StateRunning, Target: key, StartedAt: time.Now()}

	go func() {
		defer close(done)
		defer cancel()
		if prevDone != nil {
			<-prevDone
		}
		metrics.ReindexRunning.Set(1)
		state, err := c.run(ctx, gen, key, reset)
		c.finish(gen, state, err)
	}()
}

// Stop cancels any pending or running pass and waits for it to end. Later
// LanguagesChanged calls are ignored until Resume.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.disabled = true
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Wait blocks until the current pass, if any, ends.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the current or last pass.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) finish(gen uint64, state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.ReindexPassesTotal.WithLabelValues(string(state)).Inc()
	if gen != c.gen {
		// A newer pass owns the status.
		return
	}
	metrics.ReindexRunning.Set(0)
	c.status.State = state
	c.status.FinishedAt = time.Now()
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.cancel = nil
}

// active reports whether the pass for gen should keep going.
func (c *Coordinator) active(ctx context.Context, gen uint64) bool {
	if ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && !c.disabled
}

// stopped classifies why the pass for gen is no longer active.
func (c *Coordinator) stopped(gen uint64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return StateSuperseded
	}
	return StateCanceled
}

func (c *Coordinator) count(gen uint64, fn func(s *Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		fn(&c.status)
	}
}

func (c *Coordinator) run(ctx context.Context, gen uint64, key string, reset bool) (state State, err error) {
	processed := 0
	defer func() {
		if processed > 0 || state == StateCompleted {
			c.store.NotifyChanged(ChangeReason)
		}
		logging.Info("OCR reindex for %q %s after %d items", key, state, processed)
	}()

	if reset {
		if err := retry(ctx, c, func() error { return c.store.ClearReindexCursor(ctx) }); err != nil {
			return c.failure(ctx, gen, err)
		}
	}

	var cursor *database.ReindexCursor
	err = retry(ctx, c, func() (err error) {
		cursor, err = c.store.ReindexCursor(ctx)
		return err
	})
	if err != nil {
		return c.failure(ctx, gen, err)
	}
	if cursor != nil && cursor.Key != key {
		cursor = nil
	}

	for {
		if !c.active(ctx, gen) {
			return c.stopped(gen), nil
		}

		var batch []*database.CaptureItem
		err := retry(ctx, c, func() (err error) {
			batch, err = c.store.ReindexCandidates(ctx, key, cursor, BatchSize)
			return err
		})
		if err != nil {
			return c.failure(ctx, gen, err)
		}

		if len(batch) == 0 {
			if err := retry(ctx, c, func() error { return c.store.SetAppliedOCRKey(ctx, key) }); err != nil {
				return c.failure(ctx, gen, err)
			}
			if err := retry(ctx, c, func() error { return c.store.ClearReindexCursor(ctx) }); err != nil {
				return c.failure(ctx, gen, err)
			}
			return StateCompleted, nil
		}

		for _, item := range batch {
			if !c.active(ctx, gen) {
				return c.stopped(gen), nil
			}

			if err := c.process(ctx, gen, key, item); err != nil {
				if ctx.Err() != nil {
					return c.stopped(gen), nil
				}
				metrics.ReindexItemsProcessed.WithLabelValues("error").Inc()
				c.count(gen, func(s *Status) { s.Errors++; s.LastError = err.Error() })
				logging.Warn("OCR reindex of %s failed: %v", item.ID, err)
			}

			next := database.ReindexCursor{CreatedAt: item.CreatedAt, ID: item.ID, Key: key}
			if err := retry(ctx, c, func() error { return c.store.SetReindexCursor(ctx, next) }); err != nil {
				return c.failure(ctx, gen, err)
			}
			cursor = &next
			processed++
			c.count(gen, func(s *Status) { s.Processed++ })

			if processed%YieldEvery == 0 {
				if err := sleep(ctx, c.opts.YieldPause); err != nil {
					return c.stopped(gen), nil
				}
			}
		}
	}
}

func (c *Coordinator) failure(ctx context.Context, gen uint64, err error) (State, error) {
	if ctx.Err() != nil {
		return c.stopped(gen), nil
	}
	logging.Error("OCR reindex failed: %v", err)
	return StateFailed, err
}

// process brings one item's OCR fields in line with key.
func (c *Coordinator) process(ctx context.Context, gen uint64, key string, item *database.CaptureItem) error {
	relabel := func() error {
		if err := retry(ctx, c, func() error { return c.store.SetOCRLangs(ctx, item.ID, key, false) }); err != nil {
			return err
		}
		metrics.ReindexItemsProcessed.WithLabelValues("relabel").Inc()
		c.count(gen, func(s *Status) { s.Relabeled++ })
		logging.Debug("OCR reindex relabeled %s", item.ID)
		return nil
	}

	if ocr.SameSet(item.OCRLangs, key) {
		return relabel()
	}

	img, ok := c.store.LoadBestImage(item)
	if !ok {
		return relabel()
	}
	text, err := c.recognizer.Recognize(ctx, img, ocr.ParseLanguageKey(key))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Debug("OCR of %s failed, relabeling only: %v", item.ID, err)
		return relabel()
	}
	if text == "" {
		return relabel()
	}

	if err := retry(ctx, c, func() error { return c.store.SetOCR(ctx, item.ID, &text, key, false) }); err != nil {
		return err
	}
	metrics.ReindexItemsProcessed.WithLabelValues("recognized").Inc()
	c.count(gen, func(s *Status) { s.Recognized++ })
	logging.Debug("OCR reindex recognized %s (%d chars)", item.ID, len(text))
	return nil
}

// retry calls fn until it succeeds, fails with a non-busy error, or ctx ends.
func retry(ctx context.Context, c *Coordinator, fn func() error) error {
	for {
		err := fn()
		if err == nil || !c.opts.Busy(err) {
			return err
		}
		if serr := sleep(ctx, c.opts.RetryDelay); serr != nil {
			return errors.Join(serr, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
