package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"capture-library/internal/assets"
	"capture-library/internal/cleanup"
	"capture-library/internal/database"
	"capture-library/internal/library"
	"capture-library/internal/ocr"
	"capture-library/internal/reindex"
	"capture-library/internal/startup"

	"github.com/urfave/cli/v2"
)

// env holds what commands share: the loaded config and a lazily opened
// library.
type env struct {
	cfg        *startup.Config
	lib        *library.Library
	recognizer ocr.Recognizer
}

func (e *env) library() *library.Library {
	if e.lib == nil {
		if e.recognizer == nil {
			rec, _, err := ocr.Detect()
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v; text recognition disabled\n", err)
			}
			e.recognizer = rec
		}
		e.lib = library.New(e.cfg.LibraryConfig(e.recognizer))
	}
	return e.lib
}

func (e *env) close() {
	if e.lib != nil {
		e.lib.Close()
		e.lib = nil
	}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "capturectl",
		Usage:   "Inspect and maintain a capture library",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"CAPTURE_CONFIG"}, Usage: "Path to a TOML config file"},
			&cli.StringFlag{Name: "library-dir", Aliases: []string{"d"}, Usage: "Library directory (overrides config and CAPTURE_LIBRARY_DIR)"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := startup.LoadConfig(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if dir := c.String("library-dir"); dir != "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				cfg.LibraryDir = abs
			}
			e.cfg = cfg
			return nil
		},
		After: func(*cli.Context) error {
			e.close()
			return nil
		},
		Commands: []*cli.Command{
			statsCmd(e),
			searchCmd(e),
			addCmd(e),
			cleanupCmd(e),
			reindexCmd(e),
			importCmd(e),
			sweepCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

var errDropped = errors.New("request failed or library busy; see log output")

func statsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show item count, pinned count and total bytes",
		Action: func(c *cli.Context) error {
			stats, ok := e.library().Stats(c.Context)
			if !ok {
				return outputError(errDropped)
			}
			return outputJSON(c, stats)
		},
	}
}

// searchHit is one line of search output.
type searchHit struct {
	ID        string   `json:"id"`
	CreatedAt int64    `json:"createdAt"`
	AppName   string   `json:"appName,omitempty"`
	Note      string   `json:"note,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Pinned    bool     `json:"pinned,omitempty"`
	Score     *float64 `json:"score,omitempty"`
}

func newHit(item *database.CaptureItem) searchHit {
	return searchHit{
		ID:        item.ID,
		CreatedAt: item.CreatedAt,
		AppName:   item.AppName,
		Note:      item.Note,
		Tags:      item.Tags(),
		Pinned:    item.IsPinned,
	}
}

func searchCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search captures by text, reranked by relevance",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum number of results"},
			&cli.BoolFlag{Name: "pinned", Usage: "Only pinned captures"},
			&cli.StringFlag{Name: "app", Usage: "Only captures from this bundle id"},
			&cli.StringFlag{Name: "tag", Usage: "Only captures with this tag"},
			&cli.BoolFlag{Name: "explain", Usage: "Include blended relevance scores"},
		},
		Action: func(c *cli.Context) error {
			f := database.Filter{
				Text:        strings.Join(c.Args().Slice(), " "),
				PinnedOnly:  c.Bool("pinned"),
				AppBundleID: c.String("app"),
				Tag:         c.String("tag"),
				Sort:        database.SortRelevance,
			}
			lib := e.library()

			if c.Bool("explain") {
				results, ok := lib.Explain(c.Context, f, c.Int("limit"), 0)
				if !ok {
					return outputError(errDropped)
				}
				hits := make([]searchHit, 0, len(results))
				for _, r := range results {
					h := newHit(r.Item)
					score := r.Score
					h.Score = &score
					hits = append(hits, h)
				}
				return outputJSON(c, hits)
			}

			items, ok := lib.Search(c.Context, f, c.Int("limit"), 0)
			if !ok {
				return outputError(errDropped)
			}
			hits := make([]searchHit, 0, len(items))
			for _, it := range items {
				hits = append(hits, newHit(it))
			}
			return outputJSON(c, hits)
		},
	}
}

func addCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add an image file as a new capture",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "note", Usage: "Note text"},
			&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
			&cli.BoolFlag{Name: "pin", Usage: "Pin the new capture"},
			&cli.StringFlag{Name: "app", Usage: "Source app name"},
			&cli.StringFlag{Name: "type", Value: string(database.CaptureTypeArea), Usage: "Capture type: area|window|fullscreen"},
			&cli.BoolFlag{Name: "keep-original", Usage: "Copy the file into the originals tier"},
			&cli.BoolFlag{Name: "ocr", Usage: "Run text recognition after adding"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("exactly one image path is required", 1)
			}
			path := c.Args().First()

			data, err := os.ReadFile(path)
			if err != nil {
				return outputError(err)
			}
			img, err := assets.LoadImage(path)
			if err != nil {
				return outputError(fmt.Errorf("decoding %s: %w", path, err))
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return outputError(err)
			}

			sum := sha256.Sum256(data)
			lib := e.library()
			item, ok := lib.Add(c.Context, library.NewCapture{
				Image:        img,
				CaptureType:  database.CaptureType(c.String("type")),
				Trigger:      database.TriggerMenu,
				AppName:      c.String("app"),
				ExternalPath: abs,
				ContentHash:  hex.EncodeToString(sum[:]),
				IsPinned:     c.Bool("pin"),
				Note:         c.String("note"),
				Tags:         database.ParseTags(c.String("tags")),
			})
			if !ok {
				return outputError(errDropped)
			}

			if c.Bool("keep-original") {
				if !lib.SetOriginal(c.Context, item.ID, filepath.Ext(path), data) {
					return outputError(errDropped)
				}
			}
			if c.Bool("ocr") {
				if _, ok := lib.RecognizeItem(c.Context, item.ID); !ok {
					return outputError(errDropped)
				}
			}
			if item, ok = lib.Get(c.Context, item.ID); !ok {
				return outputError(errDropped)
			}
			return outputJSON(c, item)
		},
	}
}

func cleanupCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Apply retention, count and size limits now",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "retention-days", Value: -1, Usage: "Override retention days (0 disables)"},
			&cli.Int64Flag{Name: "max-items", Value: -1, Usage: "Override item limit (0 disables)"},
			&cli.Int64Flag{Name: "max-bytes", Value: -1, Usage: "Override byte limit (0 disables)"},
		},
		Action: func(c *cli.Context) error {
			policy := overridePolicy(e.cfg.CleanupPolicy(), c.Int("retention-days"), c.Int64("max-items"), c.Int64("max-bytes"))
			rep, ok := e.library().RunCleanupWith(c.Context, policy)
			if !ok {
				return outputError(errDropped)
			}
			return outputJSON(c, rep)
		},
	}
}

// overridePolicy replaces each limit whose override is not negative.
func overridePolicy(p cleanup.Policy, retentionDays int, maxItems, maxBytes int64) cleanup.Policy {
	if retentionDays >= 0 {
		p.RetentionDays = retentionDays
	}
	if maxItems >= 0 {
		p.MaxItems = maxItems
	}
	if maxBytes >= 0 {
		p.MaxBytes = maxBytes
	}
	return p
}

func reindexCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "reindex",
		Usage: "Relabel or re-recognize OCR text for a language set",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "lang", Aliases: []string{"l"}, Usage: "Target OCR language (repeatable); defaults to the configured set"},
			&cli.BoolFlag{Name: "resume", Usage: "Continue an interrupted pass instead of starting over"},
		},
		Action: func(c *cli.Context) error {
			langs := c.StringSlice("lang")
			if len(langs) == 0 {
				langs = e.cfg.OCRLanguages
			}
			lib := e.library()
			lib.SetOCRLanguages(langs)

			coord := reindex.New(lib.Indexing(), e.recognizer, &reindex.Options{
				Busy: func(err error) bool { return errors.Is(err, library.ErrQueueFull) },
			})
			if c.Bool("resume") {
				if err := coord.Resume(c.Context, langs); err != nil {
					return outputError(err)
				}
			} else {
				coord.Apply(langs)
			}

			done := make(chan struct{})
			go func() {
				coord.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-c.Context.Done():
				coord.Stop()
			}
			return outputJSON(c, coord.Status())
		},
	}
}

func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import a legacy history file (runs once per library)",
		ArgsUsage: "<history.json>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("exactly one history file is required", 1)
			}
			rep, ok := e.library().ImportLegacy(c.Context, c.Args().First())
			if !ok {
				return outputError(errDropped)
			}
			return outputJSON(c, rep)
		},
	}
}

func sweepCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Remove asset files that no capture references",
		Action: func(c *cli.Context) error {
			n, ok := e.library().SweepOrphans(c.Context)
			if !ok {
				return outputError(errDropped)
			}
			return outputJSON(c, map[string]int{"removed": n})
		},
	}
}

// outputJSON writes v as indented JSON to the app's writer.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if errors.Is(err, context.Canceled) {
		return cli.Exit("interrupted", 130)
	}
	return cli.Exit(err.Error(), 1)
}
