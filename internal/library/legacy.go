package library

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"time"

	"capture-library/internal/assets"
	"capture-library/internal/database"
	"capture-library/internal/filesystem"
	"capture-library/internal/logging"
	"capture-library/internal/workers"
)

// legacyChunk bounds how many decoded images are held in memory at once.
const legacyChunk = 32

// LegacyEntry is one record of the pre-library history file.
type LegacyEntry struct {
	Path        string   `json:"path"`
	CreatedAt   int64    `json:"createdAt"` // ms since epoch
	AppName     string   `json:"appName,omitempty"`
	AppBundleID string   `json:"appBundleId,omitempty"`
	Pinned      bool     `json:"pinned,omitempty"`
	Note        string   `json:"note,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ImportReport summarizes a legacy import.
type ImportReport struct {
	Imported     int  `json:"imported"`
	Placeholders int  `json:"placeholders"`
	Failed       int  `json:"failed"`
	AlreadyDone  bool `json:"alreadyDone"`
}

// ReadLegacyHistory decodes a JSON array of legacy entries.
func ReadLegacyHistory(r io.Reader) ([]LegacyEntry, error) {
	var entries []LegacyEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding legacy history: %w", err)
	}
	return entries, nil
}

// ImportLegacy imports the history file at path once. Later calls report
// AlreadyDone without reading the file. Images are decoded in parallel; an
// entry whose file cannot be read gets a placeholder thumbnail.
func (l *Library) ImportLegacy(ctx context.Context, path string) (ImportReport, bool) {
	return general(l, "import_legacy", func() (ImportReport, error) {
		return l.importLegacy(ctx, path)
	})
}

func (l *Library) importLegacy(ctx context.Context, path string) (ImportReport, error) {
	var rep ImportReport

	doneAt, err := l.worker.LegacyImportedAt(ctx)
	if err != nil {
		return rep, err
	}
	if doneAt > 0 {
		rep.AlreadyDone = true
		logging.Debug("Legacy history already imported at %s", time.UnixMilli(doneAt).Format(time.RFC3339))
		return rep, nil
	}

	f, err := filesystem.Open(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return rep, fmt.Errorf("opening legacy history: %w", err)
	}
	entries, err := ReadLegacyHistory(f)
	if closeErr := f.Close(); closeErr != nil {
		logging.Warn("Failed to close %s: %v", path, closeErr)
	}
	if err != nil {
		return rep, err
	}

	logging.Info("Importing %d legacy history entries from %s", len(entries), path)
	start := time.Now()

	for lo := 0; lo < len(entries); lo += legacyChunk {
		hi := min(lo+legacyChunk, len(entries))
		chunk := entries[lo:hi]

		images := make([]image.Image, len(chunk))
		err := workers.Each(ctx, workers.ForCPU(0), len(chunk), func(_ context.Context, i int) error {
			img, err := assets.LoadImage(chunk[i].Path)
			if err != nil {
				logging.Debug("Legacy file %s unreadable, using placeholder: %v", chunk[i].Path, err)
				return nil
			}
			images[i] = img
			return nil
		})
		if err != nil {
			return rep, err
		}

		for i, e := range chunk {
			c := NewCapture{
				Image:        images[i],
				Placeholder:  images[i] == nil,
				CaptureType:  database.CaptureTypeArea,
				CaptureMode:  database.CaptureModeQuick,
				Trigger:      database.TriggerMenu,
				AppBundleID:  e.AppBundleID,
				AppName:      e.AppName,
				ExternalPath: e.Path,
				IsPinned:     e.Pinned,
				Note:         e.Note,
				Tags:         e.Tags,
			}
			if e.CreatedAt > 0 {
				c.CreatedAt = time.UnixMilli(e.CreatedAt)
			}
			if _, err := l.worker.Import(ctx, c); err != nil {
				rep.Failed++
				logging.Warn("Legacy entry %s not imported: %v", e.Path, err)
				continue
			}
			rep.Imported++
			if c.Placeholder {
				rep.Placeholders++
			}
		}
	}

	if err := l.worker.MarkLegacyImported(ctx); err != nil {
		return rep, err
	}
	logging.Info("Legacy import finished in %v: %d imported (%d placeholders), %d failed",
		time.Since(start).Round(time.Millisecond), rep.Imported, rep.Placeholders, rep.Failed)
	if rep.Imported > 0 {
		l.worker.NotifyChanged(ReasonImported)
	}
	return rep, nil
}
