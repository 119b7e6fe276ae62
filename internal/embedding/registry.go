package embedding

import (
	"context"
	"sync"
	"unicode"

	"capture-library/internal/logging"

	"golang.org/x/sync/singleflight"
)

// Loader provides models for a language. Either method may return a nil
// Embedder (with a nil error) when no model exists for that language.
type Loader interface {
	SentenceModel(ctx context.Context, lang string) (Embedder, error)
	WordModel(ctx context.Context, lang string) (Embedder, error)
}

// BuiltinLoader has no sentence models and serves HashedWordModel as the
// word model for every language.
type BuiltinLoader struct {
	Dim int
}

func (BuiltinLoader) SentenceModel(context.Context, string) (Embedder, error) { return nil, nil }

func (l BuiltinLoader) WordModel(context.Context, string) (Embedder, error) {
	return NewHashedWordModel(l.Dim), nil
}

// Registry resolves and caches one Embedder per language: the sentence model
// when the loader has one, else the word model. Loaded models are immutable
// so cached values are shared freely.
type Registry struct {
	loader Loader

	mu    sync.RWMutex
	cache map[string]Embedder

	group singleflight.Group
}

// NewRegistry returns a Registry over loader.
func NewRegistry(loader Loader) *Registry {
	return &Registry{loader: loader, cache: make(map[string]Embedder)}
}

// ForLanguage returns the embedder for lang, or nil if none could be loaded.
// Concurrent first calls for the same language share a single load.
func (r *Registry) ForLanguage(ctx context.Context, lang string) Embedder {
	r.mu.RLock()
	e, ok := r.cache[lang]
	r.mu.RUnlock()
	if ok {
		return e
	}

	v, _, _ := r.group.Do(lang, func() (any, error) {
		r.mu.RLock()
		e, ok := r.cache[lang]
		r.mu.RUnlock()
		if ok {
			return e, nil
		}

		e = r.load(ctx, lang)
		r.mu.Lock()
		r.cache[lang] = e
		r.mu.Unlock()
		return e, nil
	})
	e, _ = v.(Embedder)
	return e
}

func (r *Registry) load(ctx context.Context, lang string) Embedder {
	e, err := r.loader.SentenceModel(ctx, lang)
	if err != nil {
		logging.Warn("Sentence model for %q failed to load: %v", lang, err)
	}
	if e != nil {
		logging.Debug("Using sentence model %s for %q", e.ModelName(), lang)
		return e
	}

	e, err = r.loader.WordModel(ctx, lang)
	if err != nil {
		logging.Warn("Word model for %q failed to load: %v", lang, err)
		return nil
	}
	if e != nil {
		logging.Debug("Using word model %s for %q", e.ModelName(), lang)
	}
	return e
}

// DetectLanguage guesses the language of a query from its script: Han maps to
// zh, Kana to ja, Hangul to ko. Anything else yields preferred, or "en".
func DetectLanguage(text, preferred string) string {
	var han, kana, hangul bool
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana = true
		case unicode.Is(unicode.Hangul, r):
			hangul = true
		case unicode.Is(unicode.Han, r):
			han = true
		}
	}
	switch {
	case kana:
		return "ja"
	case hangul:
		return "ko"
	case han:
		return "zh"
	case preferred != "":
		return preferred
	default:
		return "en"
	}
}
