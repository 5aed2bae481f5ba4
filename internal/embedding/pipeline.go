package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/koopa0/kioku/internal/vecstore"
)

const (
	// DefaultBatchSize is the number of chunks sent per model request.
	DefaultBatchSize = 32

	// DefaultConcurrency is the number of model requests in flight at once.
	DefaultConcurrency = 4
)

// Embeddable is a storable record whose content can be embedded.
type Embeddable interface {
	vecstore.Table

	// EmbeddingText returns the content to embed for this record.
	EmbeddingText() string
}

// Pipeline batches record content through an embedding model. It holds no
// connection to any store; callers pass its output to a store's write path.
type Pipeline struct {
	embedder    Embedder
	chunker     *Chunker
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunker splits record content with c before embedding. Without a
// chunker each record embeds as a single chunk.
func WithChunker(c *Chunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// WithBatchSize caps the number of chunks per model request.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithConcurrency caps the number of model requests in flight.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRateLimit spaces model requests to at most perMinute per minute.
// Zero or negative disables limiting.
func WithRateLimit(perMinute int) Option {
	return func(p *Pipeline) {
		if perMinute > 0 {
			p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

// NewPipeline builds a pipeline over embedder.
func NewPipeline(embedder Embedder, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		embedder:    embedder,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) split(text string) []string {
	if p.chunker == nil {
		return []string{text}
	}
	return p.chunker.Split(text)
}

// Embed embeds the content of every record and pairs each record with its
// chunk embeddings, ready for a store write. The whole set either embeds
// successfully or the first failure is returned and no partial result; a
// record batch is only ever persisted complete.
//
// Model requests run concurrently up to the configured limits. The output
// preserves record order, and chunk order within each record.
func Embed[T Embeddable](ctx context.Context, p *Pipeline, records []T) ([]vecstore.EmbeddedRecord[T], error) {
	if len(records) == 0 {
		return nil, nil
	}

	type chunkRef struct {
		record int
		text   string
	}
	var chunks []chunkRef
	for i, rec := range records {
		for _, text := range p.split(rec.EmbeddingText()) {
			chunks = append(chunks, chunkRef{record: i, text: text})
		}
	}

	vecs := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for start := 0; start < len(chunks); start += p.batchSize {
		end := min(start+p.batchSize, len(chunks))
		g.Go(func() error {
			if p.limiter != nil {
				if err := p.limiter.Wait(gctx); err != nil {
					return fmt.Errorf("wait for embedding rate limit: %w", err)
				}
			}
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].text
			}
			out, err := p.embedder.EmbedTexts(gctx, texts)
			if err != nil {
				return err
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts: %w",
					len(out), len(texts), vecstore.ErrModel)
			}
			copy(vecs[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]vecstore.EmbeddedRecord[T], len(records))
	for i, rec := range records {
		out[i].Record = rec
	}
	for i, ch := range chunks {
		out[ch.record].Embeddings = append(out[ch.record].Embeddings, vecstore.Embedding{
			Text: ch.text,
			Vec:  vecs[i],
		})
	}
	p.logger.Debug("embedded records", "records", len(records), "chunks", len(chunks))
	return out, nil
}
