package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"capture-library/internal/filesystem"
	"capture-library/internal/logging"

	// Image format decoders
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP format support
)

const (
	// MaxImageDimension is the largest width or height decoded at full size.
	// Larger sources are downscaled right after decoding.
	MaxImageDimension = 8192

	// MaxImagePixels caps decoded sources at ~40MP (~160MB in RGBA).
	MaxImagePixels = 40_000_000
)

// LoadImage decodes an image file with EXIF orientation applied, downscaling
// it when it exceeds MaxImageDimension or MaxImagePixels.
func LoadImage(path string) (image.Image, error) {
	return loadImageConstrained(path, MaxImageDimension, MaxImagePixels)
}

func loadImageConstrained(path string, maxDimension, maxPixels int) (image.Image, error) {
	width, height, err := imageDimensions(path)
	if err != nil {
		logging.Debug("Could not read image dimensions for %s: %v", path, err)
		return openImage(path)
	}

	if width <= maxDimension && height <= maxDimension && width*height <= maxPixels {
		return openImage(path)
	}

	targetWidth, targetHeight := width, height
	if width > maxDimension || height > maxDimension {
		if width > height {
			targetWidth = maxDimension
			targetHeight = height * maxDimension / width
		} else {
			targetHeight = maxDimension
			targetWidth = width * maxDimension / height
		}
	}
	if pixels := targetWidth * targetHeight; pixels > maxPixels {
		scale := float64(maxPixels) / float64(pixels)
		targetWidth = int(float64(targetWidth) * scale)
		targetHeight = int(float64(targetHeight) * scale)
	}

	logging.Info("Constraining large image %s from %dx%d to %dx%d", path, width, height, targetWidth, targetHeight)

	img, err := openImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return imaging.Resize(img, targetWidth, targetHeight, imaging.Lanczos), nil
}

func openImage(path string) (image.Image, error) {
	f, err := filesystem.Open(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return imaging.Decode(f, imaging.AutoOrientation(true))
}

func imageDimensions(path string) (int, int, error) {
	f, err := filesystem.Open(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

var (
	placeholderBackground = color.NRGBA{R: 0xE5, G: 0xE7, B: 0xEB, A: 0xFF}
	placeholderFrame      = color.NRGBA{R: 0x9C, G: 0xA3, B: 0xAF, A: 0xFF}
)

// MakePlaceholderThumbnail draws the generic image shown for history entries
// whose file could not be read.
func MakePlaceholderThumbnail() image.Image {
	const w, h = DefaultThumbnailMaxDimension, DefaultThumbnailMaxDimension * 5 / 8

	img := imaging.New(w, h, placeholderBackground)
	frame := imaging.New(w/3, h/3, placeholderFrame)
	inner := imaging.New(w/3-8, h/3-8, placeholderBackground)
	frame = imaging.Paste(frame, inner, image.Pt(4, 4))
	return imaging.PasteCenter(img, frame)
}

// MakePlaceholderThumbnailData returns the placeholder encoded as JPEG.
func MakePlaceholderThumbnailData() ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, MakePlaceholderThumbnail(), &jpeg.Options{Quality: DefaultThumbnailQuality}); err != nil {
		return nil, &IOError{Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}
