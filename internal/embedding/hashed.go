package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashedWordModelName identifies vectors produced by HashedWordModel.
const HashedWordModelName = "hashed-word-v1"

// DefaultHashedDim is the vector size of the built-in word model.
const DefaultHashedDim = 256

// HashedWordModel is a word-level embedder using signed feature hashing.
// Latin-script words become one feature each; runs of Han, Kana or Hangul
// become overlapping character bigrams since those scripts have no spaces.
type HashedWordModel struct {
	dim int
}

// NewHashedWordModel returns a model with dim buckets (DefaultHashedDim when
// dim <= 0).
func NewHashedWordModel(dim int) *HashedWordModel {
	if dim <= 0 {
		dim = DefaultHashedDim
	}
	return &HashedWordModel{dim: dim}
}

func (m *HashedWordModel) Dim() int          { return m.dim }
func (m *HashedWordModel) ModelName() string { return HashedWordModelName }

// Embed implements Embedder.
func (m *HashedWordModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	features := Features(text)
	if len(features) == 0 {
		return nil, ErrEmptyText
	}

	v := make([]float32, m.dim)
	for _, f := range features {
		h := fnv.New64a()
		_, _ = h.Write([]byte(f))
		sum := h.Sum64()
		idx := int(sum % uint64(m.dim))
		if sum>>63 == 1 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	return Normalize(v), nil
}

// Features splits text into the hashed model's features.
func Features(text string) []string {
	var (
		out  []string
		word []rune
		cjk  []rune
	)
	flushWord := func() {
		if len(word) > 0 {
			out = append(out, string(word))
			word = word[:0]
		}
	}
	flushCJK := func() {
		switch len(cjk) {
		case 0:
		case 1:
			out = append(out, string(cjk))
		default:
			for i := 0; i+1 < len(cjk); i++ {
				out = append(out, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return out
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
