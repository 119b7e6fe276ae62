package database

import "strings"

// CaptureType classifies what region of the screen was captured.
type CaptureType string

const (
	CaptureTypeArea       CaptureType = "area"
	CaptureTypeWindow     CaptureType = "window"
	CaptureTypeFullscreen CaptureType = "fullscreen"
)

// CaptureMode is the interaction mode the capture was taken in.
type CaptureMode string

const (
	CaptureModeQuick    CaptureMode = "quick"
	CaptureModeAdvanced CaptureMode = "advanced"
	CaptureModeOCR      CaptureMode = "ocr"
)

// TriggerSource records what started the capture.
type TriggerSource string

const (
	TriggerMenu       TriggerSource = "menu"
	TriggerHotkey     TriggerSource = "hotkey"
	TriggerIntent     TriggerSource = "intent"
	TriggerAutomation TriggerSource = "automation"
)

// SortMode selects the ordering of FetchPage results.
type SortMode string

const (
	// SortPinnedFirst orders pinned items first, then newest first.
	SortPinnedFirst SortMode = "pinned"
	// SortCreated orders newest first regardless of pin state.
	SortCreated SortMode = "created"
	// SortRelevance orders by full-text rank when free text is present and
	// falls back to SortPinnedFirst otherwise.
	SortRelevance SortMode = "relevance"
)

// Size is a pixel (or point) size.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Embedding is a cached semantic vector for an item.
type Embedding struct {
	Model      string `json:"model"`
	Dim        int    `json:"dim"`
	Vector     []byte `json:"-"`
	SourceHash string `json:"sourceHash"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// Matches reports whether the embedding was produced by the given model and
// dimension from content with the given hash.
func (e *Embedding) Matches(model string, dim int, sourceHash string) bool {
	if e == nil || len(e.Vector) == 0 {
		return false
	}
	return e.Model == model && e.Dim == dim && e.SourceHash == sourceHash
}

// CaptureItem is one captured image and everything known about it.
// Timestamps are milliseconds since the Unix epoch.
type CaptureItem struct {
	ID          string        `json:"id"`
	CreatedAt   int64         `json:"createdAt"`
	UpdatedAt   int64         `json:"updatedAt"`
	CaptureType CaptureType   `json:"captureType"`
	CaptureMode CaptureMode   `json:"captureMode"`
	Trigger     TriggerSource `json:"trigger"`

	AppBundleID string `json:"appBundleId,omitempty"`
	AppName     string `json:"appName,omitempty"`
	AppPID      int    `json:"appPid,omitempty"`

	SelectionSize *Size  `json:"selectionSize,omitempty"`
	ExternalPath  string `json:"externalPath,omitempty"`

	ThumbPath    string `json:"thumbPath"`
	ThumbSize    Size   `json:"thumbSize"`
	PreviewPath  string `json:"previewPath,omitempty"`
	PreviewSize  *Size  `json:"previewSize,omitempty"`
	OriginalPath string `json:"originalPath,omitempty"`

	ContentHash string `json:"contentHash,omitempty"`

	IsPinned bool   `json:"isPinned"`
	PinnedAt *int64 `json:"pinnedAt,omitempty"`

	Note     string `json:"note,omitempty"`
	TagCache string `json:"-"`

	OCRText      *string `json:"ocrText,omitempty"`
	OCRLangs     string  `json:"ocrLangs,omitempty"`
	OCRUpdatedAt *int64  `json:"ocrUpdatedAt,omitempty"`

	Embedding *Embedding `json:"-"`

	BytesThumb    int64 `json:"bytesThumb"`
	BytesPreview  int64 `json:"bytesPreview"`
	BytesOriginal int64 `json:"bytesOriginal"`
	BytesTotal    int64 `json:"bytesTotal"`
}

// Tags returns the item's tags in stored order.
func (c *CaptureItem) Tags() []string {
	return strings.Fields(c.TagCache)
}

// OCRString returns the OCR text or "" when none was recorded.
func (c *CaptureItem) OCRString() string {
	if c.OCRText == nil {
		return ""
	}
	return *c.OCRText
}

// Tag is a tag with the number of items carrying it.
type Tag struct {
	Name      string `json:"name"`
	ItemCount int    `json:"itemCount"`
}

// AppCount is one bucket of the application histogram.
type AppCount struct {
	BundleID string `json:"bundleId"`
	Name     string `json:"name,omitempty"`
	Count    int    `json:"count"`
}

// LibraryStats are global counters over all items.
type LibraryStats struct {
	ItemCount   int64 `json:"itemCount"`
	PinnedCount int64 `json:"pinnedCount"`
	TotalBytes  int64 `json:"totalBytes"`
}

// AssetPaths are the on-disk assets an item referenced when it was deleted.
type AssetPaths struct {
	ID       string
	Thumb    string
	Preview  string
	Original string
}

// All returns the non-empty relative paths.
func (a AssetPaths) All() []string {
	paths := make([]string, 0, 3)
	for _, p := range []string{a.Thumb, a.Preview, a.Original} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// PreviewCandidate is an unpinned item holding a preview asset.
type PreviewCandidate struct {
	ID           string
	PreviewPath  string
	BytesPreview int64
}

// EvictionCandidate is an unpinned item eligible for whole-item deletion.
type EvictionCandidate struct {
	ID         string
	CreatedAt  int64
	BytesTotal int64
}

// ReindexCursor marks the last item a reindex pass processed.
type ReindexCursor struct {
	CreatedAt int64  `json:"createdAt"`
	ID        string `json:"id"`
	Key       string `json:"key"`
}
