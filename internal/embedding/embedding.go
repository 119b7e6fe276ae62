package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"strings"
)

// MaxOCRRunes is how much OCR text contributes to an item's semantic text.
const MaxOCRRunes = 2000

var (
	// ErrEmptyText is returned when there is nothing to embed.
	ErrEmptyText = errors.New("embedding: empty text")
	// ErrInvalidVector is returned when stored bytes do not decode to dim floats.
	ErrInvalidVector = errors.New("embedding: invalid vector")
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	// Embed returns an L2-normalized vector of length Dim.
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
	ModelName() string
}

// Normalize scales v to unit length in place and returns it. Zero vectors are
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// CosineSimilarity computes similarity between two embeddings.
// Returns 0 if the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EncodeVector packs v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// DecodeVector unpacks a vector stored by EncodeVector, checking it holds
// exactly dim values.
func DecodeVector(data []byte, dim int) ([]float32, error) {
	if dim <= 0 || len(data) != 4*dim {
		return nil, ErrInvalidVector
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, nil
}

// SemanticText is the text an item's embedding is computed from: app name,
// tags, note and the first MaxOCRRunes of OCR text, newline-joined.
func SemanticText(appName, tagCache, note, ocrText string) string {
	if r := []rune(ocrText); len(r) > MaxOCRRunes {
		ocrText = string(r[:MaxOCRRunes])
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{appName, tagCache, note, ocrText} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentHash is the hex SHA-256 of text, used to gate cached embeddings.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
