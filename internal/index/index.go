// Package index chunks documents and answers similarity queries over the
// chunks of a single request.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intellimesh/internal/config"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/runlog"
)

// DefaultTopK is the number of passages a query returns.
const DefaultTopK = 4

// Chunk is one indexed window of a document.
type Chunk struct {
	ID       string
	URL      string
	Title    string
	Position int
	Content  string
}

// Options tunes chunking and retrieval.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// OptionsFromConfig maps the index configuration onto Options.
func OptionsFromConfig(cfg config.IndexConfig) Options {
	return Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		TopK:         cfg.TopK,
	}
}

// Builder turns documents into a queryable Index.
type Builder struct {
	chunker Chunker
	topK    int
	log     runlog.Sink
}

// NewBuilder creates a Builder. A nil log discards output.
func NewBuilder(opts Options, log runlog.Sink) *Builder {
	if log == nil {
		log = runlog.Discard{}
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	overlap := opts.ChunkOverlap
	if opts.ChunkSize <= 0 && overlap == 0 {
		overlap = DefaultChunkOverlap
	}
	return &Builder{
		chunker: NewChunker(opts.ChunkSize, overlap),
		topK:    topK,
		log:     log,
	}
}

// Build chunks docs and indexes the chunks. Documents with blank content are
// skipped. The result lives only as long as the caller holds it.
func (b *Builder) Build(ctx context.Context, docs []model.Document) (*Index, error) {
	b.log.Write("Chunker: Splitting documents into chunks...")

	var chunks []Chunk
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "index: build")
		}
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		for i, text := range b.chunker.Split(doc.Content) {
			chunks = append(chunks, Chunk{
				ID:       uuid.NewString(),
				URL:      doc.URL,
				Title:    doc.Title,
				Position: i,
				Content:  text,
			})
		}
	}
	b.log.Write(fmt.Sprintf("Chunker: Created %d chunks.", len(chunks)))

	corpus := make([]string, len(chunks))
	for i, c := range chunks {
		corpus[i] = c.Content
	}
	vec := fitVectorizer(corpus)
	vectors := make([][]float64, len(chunks))
	for i, text := range corpus {
		vectors[i] = vec.embed(text)
	}

	b.log.Write("Chunker: Vectorstore ready.")
	return &Index{chunks: chunks, vectors: vectors, vec: vec, topK: b.topK}, nil
}

// Index is an in-memory similarity index over one request's chunks.
type Index struct {
	chunks  []Chunk
	vectors [][]float64
	vec     *vectorizer
	topK    int
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Chunks returns the indexed chunks in insertion order.
func (ix *Index) Chunks() []Chunk {
	return append([]Chunk(nil), ix.chunks...)
}

// Query returns up to top_k passages ordered by descending cosine similarity
// to text. Ties keep insertion order. An empty index yields no passages.
func (ix *Index) Query(ctx context.Context, text string) ([]model.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "index: query")
	}
	if len(ix.chunks) == 0 {
		return []model.Passage{}, nil
	}

	q := ix.vec.embed(text)
	scores := make([]float64, len(ix.vectors))
	for i, v := range ix.vectors {
		scores[i] = dot(q, v)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	n := min(ix.topK, len(order))
	out := make([]model.Passage, 0, n)
	for _, i := range order[:n] {
		c := ix.chunks[i]
		out = append(out, model.Passage{
			Content: c.Content,
			URL:     c.URL,
			Title:   c.Title,
			Score:   scores[i],
		})
	}
	return out, nil
}

// Sources returns the distinct non-empty URLs of the indexed chunks in first
// seen order.
func (ix *Index) Sources() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range ix.chunks {
		if c.URL == "" {
			continue
		}
		if _, ok := seen[c.URL]; ok {
			continue
		}
		seen[c.URL] = struct{}{}
		out = append(out, c.URL)
	}
	return out
}
