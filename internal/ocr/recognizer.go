package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strings"

	"capture-library/internal/logging"
)

// Recognizer turns an image into text. Implementations should fail soft:
// an unreadable image yields empty text rather than an error where possible.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, languages []string) (string, error)
}

// Nop recognizes nothing. With it a reindex pass only relabels items.
type Nop struct{}

func (Nop) Recognize(context.Context, image.Image, []string) (string, error) { return "", nil }

// Tesseract runs the tesseract CLI, feeding the image as PNG on stdin.
type Tesseract struct {
	Path string
}

// NewTesseract locates the tesseract binary on PATH.
func NewTesseract() (*Tesseract, error) {
	path, err := exec.LookPath("tesseract")
	if err != nil {
		return nil, fmt.Errorf("tesseract not found: %w", err)
	}
	logging.Debug("Using tesseract: %s", path)
	return &Tesseract{Path: path}, nil
}

// Recognize implements Recognizer.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image, languages []string) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", nil
	}

	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return "", fmt.Errorf("failed to encode image for ocr: %w", err)
	}

	args := []string{"stdin", "stdout"}
	if codes := NormalizeLanguages(languages); len(codes) > 0 {
		mapped := make([]string, len(codes))
		for i, c := range codes {
			mapped[i] = tesseractCode(c)
		}
		args = append(args, "-l", strings.Join(mapped, "+"))
	}

	cmd := exec.CommandContext(ctx, t.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = &in
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %v, stderr: %s", err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Detect returns tesseract when it is installed and Nop otherwise, along with
// a name for logging. A non-nil error explains why Nop was chosen.
func Detect() (Recognizer, string, error) {
	t, err := NewTesseract()
	if err != nil {
		return Nop{}, "none", err
	}
	return t, "tesseract (" + t.Path + ")", nil
}
