package search

import (
	"context"
	"sort"
	"sync"
	"time"

	"capture-library/internal/database"
	"capture-library/internal/embedding"
	"capture-library/internal/logging"
	"capture-library/internal/metrics"
)

const (
	lexicalWeight  = 0.6
	semanticWeight = 0.4

	// DefaultMaxWriteBacks caps background embedding writes per Rerank call.
	DefaultMaxWriteBacks = 40
)

// EmbeddingWriter persists a recomputed item embedding.
type EmbeddingWriter interface {
	SetEmbedding(ctx context.Context, id string, e database.Embedding) error
}

// Options tunes a Ranker.
type Options struct {
	// PreferredLanguage is used when the query's script does not identify
	// a language.
	PreferredLanguage string
	MaxWriteBacks     int
	Clock             func() time.Time
}

// Result is one reranked item with its component scores.
type Result struct {
	Item     *database.CaptureItem
	Rank     int // position in the lexical page
	Lexical  float64
	Semantic float64
	Score    float64
}

// Ranker reranks lexical result pages. It is safe for concurrent use.
type Ranker struct {
	registry *embedding.Registry
	writer   EmbeddingWriter
	opts     Options

	wg sync.WaitGroup
}

// NewRanker returns a Ranker. writer may be nil to disable write-back.
func NewRanker(registry *embedding.Registry, writer EmbeddingWriter, opts *Options) *Ranker {
	r := &Ranker{registry: registry, writer: writer}
	if opts != nil {
		r.opts = *opts
	}
	if r.opts.MaxWriteBacks <= 0 {
		r.opts.MaxWriteBacks = DefaultMaxWriteBacks
	}
	if r.opts.Clock == nil {
		r.opts.Clock = time.Now
	}
	return r
}

// ShouldRerank reports whether a filter asks for relevance ordering over
// indexable free text.
func ShouldRerank(f database.Filter) bool {
	if f.Sort != database.SortRelevance {
		return false
	}
	_, ok := database.BuildMatchQuery(f.Text)
	return ok
}

// Rerank returns items reordered by blended score.
func (r *Ranker) Rerank(ctx context.Context, query string, items []*database.CaptureItem) []*database.CaptureItem {
	results := r.Rank(ctx, query, items)
	out := make([]*database.CaptureItem, len(results))
	for i, res := range results {
		out[i] = res.Item
	}
	return out
}

type writeBack struct {
	id  string
	emb database.Embedding
}

// Rank scores items, which must be in lexical rank order, and returns them
// sorted by final score. Ties go to the newer item, then the better lexical
// rank.
func (r *Ranker) Rank(ctx context.Context, query string, items []*database.CaptureItem) []Result {
	results := make([]Result, len(items))
	n := len(items)
	for i, item := range items {
		results[i] = Result{Item: item, Rank: i, Lexical: lexicalScore(i, n)}
	}
	if n == 0 {
		return results
	}
	metrics.SearchRerankTotal.Inc()

	model := r.registry.ForLanguage(ctx, embedding.DetectLanguage(query, r.opts.PreferredLanguage))
	var queryVec []float32
	if model != nil {
		v, err := model.Embed(ctx, query)
		if err != nil {
			logging.Debug("Query embedding failed for %q: %v", query, err)
		} else {
			queryVec = embedding.Normalize(v)
		}
	}

	var pending []writeBack
	if queryVec != nil {
		for i := range results {
			vec, wb := r.itemVector(ctx, model, results[i].Item)
			if wb != nil {
				if len(pending) < r.opts.MaxWriteBacks {
					pending = append(pending, *wb)
				} else {
					metrics.SearchEmbeddingWriteBacks.WithLabelValues("skipped").Inc()
				}
			}
			results[i].Semantic = semanticScore(queryVec, vec)
		}
	}

	for i := range results {
		results[i].Score = lexicalWeight*results[i].Lexical + semanticWeight*results[i].Semantic
	}

	sort.SliceStable(results, func(a, b int) bool {
		ra, rb := results[a], results[b]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		if ra.Item.CreatedAt != rb.Item.CreatedAt {
			return ra.Item.CreatedAt > rb.Item.CreatedAt
		}
		return ra.Rank < rb.Rank
	})

	r.scheduleWriteBacks(ctx, pending)
	return results
}

// itemVector returns the cached vector when it is still valid for model,
// else recomputes it and returns the write-back to persist it.
func (r *Ranker) itemVector(ctx context.Context, model embedding.Embedder, item *database.CaptureItem) ([]float32, *writeBack) {
	text := embedding.SemanticText(item.AppName, item.TagCache, item.Note, item.OCRString())
	hash := embedding.ContentHash(text)

	if item.Embedding.Matches(model.ModelName(), model.Dim(), hash) {
		if vec, err := embedding.DecodeVector(item.Embedding.Vector, item.Embedding.Dim); err == nil {
			metrics.SearchEmbeddingCache.WithLabelValues("hit").Inc()
			return vec, nil
		}
	}
	metrics.SearchEmbeddingCache.WithLabelValues("miss").Inc()

	vec, err := model.Embed(ctx, text)
	if err != nil {
		return nil, nil
	}
	vec = embedding.Normalize(vec)
	return vec, &writeBack{
		id: item.ID,
		emb: database.Embedding{
			Model:      model.ModelName(),
			Dim:        len(vec),
			Vector:     embedding.EncodeVector(vec),
			SourceHash: hash,
			UpdatedAt:  r.opts.Clock().UnixMilli(),
		},
	}
}

func (r *Ranker) scheduleWriteBacks(ctx context.Context, pending []writeBack) {
	if r.writer == nil || len(pending) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for _, wb := range pending {
			if err := r.writer.SetEmbedding(bg, wb.id, wb.emb); err != nil {
				metrics.SearchEmbeddingWriteBacks.WithLabelValues("error").Inc()
				logging.Debug("Embedding write-back for %s failed: %v", wb.id, err)
				continue
			}
			metrics.SearchEmbeddingWriteBacks.WithLabelValues("success").Inc()
		}
	}()
}

// Wait blocks until scheduled write-backs finish.
func (r *Ranker) Wait() {
	r.wg.Wait()
}

// lexicalScore maps rank 0 to 1 and the last rank to 0.
func lexicalScore(rank, n int) float64 {
	if n <= 1 {
		return 1
	}
	return 1 - float64(rank)/float64(n-1)
}

func semanticScore(query, item []float32) float64 {
	if query == nil || item == nil {
		return 0
	}
	s := (embedding.CosineSimilarity(query, item) + 1) / 2
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
