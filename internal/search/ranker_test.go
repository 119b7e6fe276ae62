package search

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"capture-library/internal/database"
	"capture-library/internal/embedding"
)

// keywordEmbedder maps text to a fixed 2-d vector by keyword so tests can
// place items precisely relative to the query.
type keywordEmbedder struct {
	vectors map[string][]float32
	calls   atomic.Int32
}

func (k *keywordEmbedder) Dim() int          { return 2 }
func (k *keywordEmbedder) ModelName() string { return "keyword-test" }

func (k *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	k.calls.Add(1)
	for kw, v := range k.vectors {
		if strings.Contains(text, kw) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no vector for %q", text)
}

type fixedLoader struct {
	e embedding.Embedder
}

func (l fixedLoader) SentenceModel(context.Context, string) (embedding.Embedder, error) {
	if l.e == nil {
		return nil, nil
	}
	return l.e, nil
}

func (fixedLoader) WordModel(context.Context, string) (embedding.Embedder, error) { return nil, nil }

type recordingWriter struct {
	mu     sync.Mutex
	writes map[string]database.Embedding
	ctxErr error
}

func (w *recordingWriter) SetEmbedding(ctx context.Context, id string, e database.Embedding) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writes == nil {
		w.writes = make(map[string]database.Embedding)
	}
	if ctx.Err() != nil {
		w.ctxErr = ctx.Err()
	}
	w.writes[id] = e
	return nil
}

func item(id, note string, createdAt int64) *database.CaptureItem {
	return &database.CaptureItem{ID: id, Note: note, CreatedAt: createdAt}
}

func order(items []*database.CaptureItem) string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return strings.Join(ids, ",")
}

func TestLexicalScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rank, n int
		want    float64
	}{
		{0, 1, 1},
		{0, 3, 1},
		{1, 3, 0.5},
		{2, 3, 0},
		{1, 5, 0.75},
	}
	for _, tt := range tests {
		if got := lexicalScore(tt.rank, tt.n); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("lexicalScore(%d, %d) = %v, want %v", tt.rank, tt.n, got, tt.want)
		}
	}
}

func TestShouldRerank(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    database.Filter
		want bool
	}{
		{"relevance with text", database.Filter{Sort: database.SortRelevance, Text: "invoice"}, true},
		{"relevance without text", database.Filter{Sort: database.SortRelevance}, false},
		{"punctuation only", database.Filter{Sort: database.SortRelevance, Text: "!!! ??"}, false},
		{"created sort", database.Filter{Sort: database.SortCreated, Text: "invoice"}, false},
	}
	for _, tt := range tests {
		if got := ShouldRerank(tt.f); got != tt.want {
			t.Errorf("%s: ShouldRerank = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRankBlendsSemanticSignal(t *testing.T) {
	t.Parallel()

	emb := &keywordEmbedder{vectors: map[string][]float32{
		"query":    {1, 0},
		"opposite": {-1, 0},
		"same":     {1, 0},
		"sideways": {0, 1},
	}}
	r := NewRanker(embedding.NewRegistry(fixedLoader{e: emb}), nil, nil)

	items := []*database.CaptureItem{
		item("a", "opposite", 3),
		item("b", "same", 2),
		item("c", "sideways", 1),
	}
	results := r.Rank(context.Background(), "query", items)

	// a: 0.6*1 + 0.4*0 = 0.6; b: 0.6*0.5 + 0.4*1 = 0.7; c: 0 + 0.4*0.5 = 0.2
	want := map[string]float64{"a": 0.6, "b": 0.7, "c": 0.2}
	got := make([]*database.CaptureItem, len(results))
	for i, res := range results {
		got[i] = res.Item
		if math.Abs(res.Score-want[res.Item.ID]) > 1e-6 {
			t.Errorf("score(%s) = %v, want %v", res.Item.ID, res.Score, want[res.Item.ID])
		}
	}
	if order(got) != "b,a,c" {
		t.Errorf("order = %s, want b,a,c", order(got))
	}
	for _, res := range results {
		if res.Semantic < 0 || res.Semantic > 1 {
			t.Errorf("semantic score %v outside [0,1]", res.Semantic)
		}
	}
}

func TestRankWithoutModelKeepsLexicalOrder(t *testing.T) {
	t.Parallel()

	r := NewRanker(embedding.NewRegistry(fixedLoader{}), nil, nil)
	items := []*database.CaptureItem{item("a", "", 1), item("b", "", 3), item("c", "", 2)}

	got := r.Rerank(context.Background(), "query", items)
	if order(got) != "a,b,c" {
		t.Errorf("order = %s, want lexical order a,b,c", order(got))
	}
	if out := r.Rerank(context.Background(), "query", nil); len(out) != 0 {
		t.Errorf("empty page reranked to %d items", len(out))
	}
}

func TestRankItemWithoutEmbeddingScoresZeroSemantic(t *testing.T) {
	t.Parallel()

	emb := &keywordEmbedder{vectors: map[string][]float32{"query": {1, 0}}}
	r := NewRanker(embedding.NewRegistry(fixedLoader{e: emb}), nil, nil)

	// "blank" has no vector, so Embed fails for it.
	results := r.Rank(context.Background(), "query", []*database.CaptureItem{item("x", "blank", 1)})
	if results[0].Semantic != 0 {
		t.Errorf("semantic = %v, want 0", results[0].Semantic)
	}
	if results[0].Score != lexicalWeight {
		t.Errorf("score = %v, want %v", results[0].Score, lexicalWeight)
	}
}

func TestRankReusesMatchingCachedEmbedding(t *testing.T) {
	t.Parallel()

	emb := &keywordEmbedder{vectors: map[string][]float32{"query": {1, 0}, "cached": {0, 1}}}
	writer := &recordingWriter{}
	r := NewRanker(embedding.NewRegistry(fixedLoader{e: emb}), writer, nil)

	it := item("a", "cached", 1)
	text := embedding.SemanticText(it.AppName, it.TagCache, it.Note, it.OCRString())
	it.Embedding = &database.Embedding{
		Model:      emb.ModelName(),
		Dim:        2,
		Vector:     embedding.EncodeVector([]float32{1, 0}),
		SourceHash: embedding.ContentHash(text),
	}

	results := r.Rank(context.Background(), "query", []*database.CaptureItem{it})
	r.Wait()

	if n := emb.calls.Load(); n != 1 {
		t.Errorf("embedder called %d times, want 1 (query only)", n)
	}
	// The cached vector {1,0} wins over what the model would produce now.
	if math.Abs(results[0].Semantic-1) > 1e-6 {
		t.Errorf("semantic = %v, want 1 from cache", results[0].Semantic)
	}
	if len(writer.writes) != 0 {
		t.Errorf("cache hit should not write back, got %d writes", len(writer.writes))
	}
}

func TestRankWritesBackStaleEmbeddings(t *testing.T) {
	t.Parallel()

	emb := &keywordEmbedder{vectors: map[string][]float32{"query": {1, 0}, "note": {0, 1}}}
	writer := &recordingWriter{}
	r := NewRanker(embedding.NewRegistry(fixedLoader{e: emb}), writer, &Options{MaxWriteBacks: 2})

	stale := item("a", "note one", 3)
	stale.Embedding = &database.Embedding{
		Model: emb.ModelName(), Dim: 2,
		Vector:     embedding.EncodeVector([]float32{1, 0}),
		SourceHash: "outdated",
	}
	items := []*database.CaptureItem{stale, item("b", "note two", 2), item("c", "note three", 1)}

	ctx, cancel := context.WithCancel(context.Background())
	r.Rank(ctx, "query", items)
	cancel()
	r.Wait()

	if len(writer.writes) != 2 {
		t.Fatalf("write-backs = %d, want cap of 2", len(writer.writes))
	}
	if writer.ctxErr != nil {
		t.Errorf("write-back saw canceled context: %v", writer.ctxErr)
	}
	wb, ok := writer.writes["a"]
	if !ok {
		t.Fatal("stale item a was not refreshed")
	}
	wantHash := embedding.ContentHash(embedding.SemanticText("", "", "note one", ""))
	if wb.SourceHash != wantHash || wb.Model != emb.ModelName() || wb.Dim != 2 {
		t.Errorf("write-back = %+v", wb)
	}
}
