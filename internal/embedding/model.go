// Package embedding turns record content into fixed-width vectors.
//
// Model adapts a Genkit ai.Embedder into the narrow Embedder interface the
// stores consume, pinning the model name and vector width at construction.
// Pipeline batches and parallelizes embedding calls for whole record sets,
// optionally chunking long content first, and either embeds everything or
// reports the first failure without partial results.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"

	"github.com/koopa0/kioku/internal/vecstore"
)

// Embedder produces one fixed-width vector per input text.
// Implementations must be safe for concurrent use.
type Embedder interface {
	Dims() int
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Model wraps a Genkit embedder with a declared vector width. Every
// response is checked against that width, so a misconfigured dimensionality
// surfaces as ErrDimensionMismatch at the first call instead of corrupting
// a store.
type Model struct {
	embedder ai.Embedder
	name     string
	dims     int
}

// NewModel wraps embedder. name is used in error messages and logs; dims
// is the width the model is expected to produce.
func NewModel(embedder ai.Embedder, name string, dims int) (*Model, error) {
	if embedder == nil {
		return nil, errors.New("embedding model is nil")
	}
	if dims <= 0 {
		return nil, fmt.Errorf("embedding dimensionality must be positive, got %d", dims)
	}
	return &Model{embedder: embedder, name: name, dims: dims}, nil
}

// Name returns the configured model name.
func (m *Model) Name() string { return m.name }

// Dims returns the vector width the model produces.
func (m *Model) Dims() int { return m.dims }

// EmbedTexts embeds all texts in a single model request and returns one
// vector per text, in input order.
func (m *Model) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := m.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embed %d texts with %s: %w: %w", len(texts), m.name, vecstore.ErrModel, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("model %s returned %d embeddings for %d texts: %w",
			m.name, len(resp.Embeddings), len(texts), vecstore.ErrModel)
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("model %s returned an empty embedding at position %d: %w",
				m.name, i, vecstore.ErrModel)
		}
		if len(emb.Embedding) != m.dims {
			return nil, fmt.Errorf("model %s returned a %d-wide vector, configured for %d: %w",
				m.name, len(emb.Embedding), m.dims, vecstore.ErrDimensionMismatch)
		}
		out[i] = emb.Embedding
	}
	return out, nil
}
