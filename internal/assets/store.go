package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"capture-library/internal/filesystem"
	"capture-library/internal/logging"
	"capture-library/internal/metrics"

	"github.com/disintegration/imaging"
)

// Subdirectories of the asset root.
const (
	ThumbsDir    = "thumbs"
	PreviewsDir  = "previews"
	OriginalsDir = "originals"
)

// Default render settings for the derived tiers.
const (
	DefaultThumbnailMaxDimension = 320
	DefaultThumbnailQuality      = 82
	DefaultPreviewMaxDimension   = 1600
	DefaultPreviewQuality        = 86
)

// Options tunes a Store. Zero fields fall back to the defaults above.
type Options struct {
	ThumbnailMaxDimension int
	ThumbnailQuality      int
	PreviewMaxDimension   int
	PreviewQuality        int
}

// Rendered describes one asset written to disk.
type Rendered struct {
	Path   string // relative to the store root
	Width  int
	Height int
	Bytes  int64
}

// File is an asset found on disk by ListFiles.
type File struct {
	Path string // relative to the store root
	ID   string
}

// Store owns an asset root directory. It keeps no mutable state, so methods
// are safe to call from any goroutine.
type Store struct {
	root string
	opts Options
}

// Open creates (if needed) the asset root and its tier directories.
func Open(root string, opts *Options) (*Store, error) {
	s := &Store{root: root}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.ThumbnailMaxDimension <= 0 {
		s.opts.ThumbnailMaxDimension = DefaultThumbnailMaxDimension
	}
	if s.opts.ThumbnailQuality <= 0 {
		s.opts.ThumbnailQuality = DefaultThumbnailQuality
	}
	if s.opts.PreviewMaxDimension <= 0 {
		s.opts.PreviewMaxDimension = DefaultPreviewMaxDimension
	}
	if s.opts.PreviewQuality <= 0 {
		s.opts.PreviewQuality = DefaultPreviewQuality
	}

	if err := s.ensureDirs(); err != nil {
		return nil, err
	}
	logging.Debug("Asset store opened at %s", root)
	return s, nil
}

func (s *Store) ensureDirs() error {
	for _, dir := range []string{ThumbsDir, PreviewsDir, OriginalsDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return &IOError{Op: "open", Path: dir, Err: err}
		}
	}
	return nil
}

// Root returns the asset root directory.
func (s *Store) Root() string {
	return s.root
}

// Abs resolves a relative asset path against the store root.
func (s *Store) Abs(rel string) string {
	return Resolve(s.root, rel)
}

// Resolve joins a relative asset path onto root. Empty, absolute and
// escaping paths resolve to "".
func Resolve(root, rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return ""
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.Join(root, clean)
}

// WriteThumbnail renders the thumbnail tier for id.
func (s *Store) WriteThumbnail(id string, img image.Image) (Rendered, error) {
	return s.render("thumb", ThumbsDir, id, img, s.opts.ThumbnailMaxDimension, s.opts.ThumbnailQuality)
}

// WritePreview renders the preview tier for id.
func (s *Store) WritePreview(id string, img image.Image) (Rendered, error) {
	return s.render("preview", PreviewsDir, id, img, s.opts.PreviewMaxDimension, s.opts.PreviewQuality)
}

// WritePlaceholderThumbnail writes the generic placeholder as id's thumbnail.
func (s *Store) WritePlaceholderThumbnail(id string) (Rendered, error) {
	return s.render("placeholder", ThumbsDir, id, MakePlaceholderThumbnail(), s.opts.ThumbnailMaxDimension, s.opts.ThumbnailQuality)
}

// render scales img to fit maxDim (never upscaling), encodes it as JPEG and
// writes it to dir/<id>.jpg.
func (s *Store) render(tier, dir, id string, img image.Image, maxDim, quality int) (Rendered, error) {
	start := time.Now()
	rel := filepath.ToSlash(filepath.Join(dir, id+".jpg"))

	r, err := func() (Rendered, error) {
		if img == nil || img.Bounds().Empty() {
			return Rendered{}, &IOError{Op: "scale", Path: rel, Err: ErrEmptyImage}
		}

		scaled := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
			return Rendered{}, &IOError{Op: "encode", Path: rel, Err: err}
		}

		if err := writeAtomic(s.Abs(rel), buf.Bytes()); err != nil {
			return Rendered{}, &IOError{Op: "write", Path: rel, Err: err}
		}

		b := scaled.Bounds()
		return Rendered{Path: rel, Width: b.Dx(), Height: b.Dy(), Bytes: int64(buf.Len())}, nil
	}()

	metrics.AssetRenderDuration.WithLabelValues(tier).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AssetWritesTotal.WithLabelValues(tier, "error").Inc()
		logging.Warn("Asset %s for %s failed: %v", tier, id, err)
		return Rendered{}, err
	}
	metrics.AssetWritesTotal.WithLabelValues(tier, "success").Inc()
	metrics.AssetWriteBytes.WithLabelValues(tier).Add(float64(r.Bytes))
	return r, nil
}

// WriteOriginal stores caller-provided original bytes as originals/<id><ext>.
func (s *Store) WriteOriginal(id, ext string, data []byte) (Rendered, error) {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	rel := filepath.ToSlash(filepath.Join(OriginalsDir, id+strings.ToLower(ext)))
	if err := writeAtomic(s.Abs(rel), data); err != nil {
		metrics.AssetWritesTotal.WithLabelValues("original", "error").Inc()
		return Rendered{}, &IOError{Op: "write", Path: rel, Err: err}
	}
	metrics.AssetWritesTotal.WithLabelValues("original", "success").Inc()
	metrics.AssetWriteBytes.WithLabelValues("original").Add(float64(len(data)))

	r := Rendered{Path: rel, Bytes: int64(len(data))}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		r.Width, r.Height = cfg.Width, cfg.Height
	}
	return r, nil
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place.
func writeAtomic(path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("invalid asset path")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	return nil
}

// Read returns the bytes of a stored asset.
func (s *Store) Read(rel string) ([]byte, error) {
	abs := s.Abs(rel)
	if abs == "" {
		return nil, &IOError{Op: "read", Path: rel, Err: fs.ErrInvalid}
	}
	return filesystem.ReadFile(abs, filesystem.DefaultRetryConfig())
}

// DeleteIfExists removes an asset. Missing files and empty paths are ignored
// and failures are only logged.
func (s *Store) DeleteIfExists(rel string) {
	abs := s.Abs(rel)
	if abs == "" {
		return
	}
	err := os.Remove(abs)
	switch {
	case err == nil:
		metrics.AssetDeletesTotal.WithLabelValues("deleted").Inc()
	case os.IsNotExist(err):
		metrics.AssetDeletesTotal.WithLabelValues("missing").Inc()
	default:
		metrics.AssetDeletesTotal.WithLabelValues("error").Inc()
		logging.Warn("Failed to delete asset %s: %v", rel, err)
	}
}

// ListFiles walks the tier directories and returns every asset file with the
// item id encoded in its name.
func (s *Store) ListFiles() ([]File, error) {
	var files []File
	for _, dir := range []string{ThumbsDir, PreviewsDir, OriginalsDir} {
		entries, err := os.ReadDir(filepath.Join(s.root, dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &IOError{Op: "list", Path: dir, Err: err}
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") {
				continue
			}
			files = append(files, File{
				Path: dir + "/" + name,
				ID:   strings.TrimSuffix(name, filepath.Ext(name)),
			})
		}
	}
	return files, nil
}

// Clear removes every asset and recreates the empty tier directories.
func (s *Store) Clear() error {
	for _, dir := range []string{ThumbsDir, PreviewsDir, OriginalsDir} {
		if err := os.RemoveAll(filepath.Join(s.root, dir)); err != nil {
			return &IOError{Op: "clear", Path: dir, Err: err}
		}
	}
	return s.ensureDirs()
}
