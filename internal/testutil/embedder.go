// Package testutil provides shared helpers for tests: deterministic
// embedders, migrated scratch databases and quiet loggers.
package testutil

import (
	"context"
	"hash/fnv"
	"os"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// StubEmbedder is a deterministic in-process embedder. Texts listed in
// Vecs get their canned vector; everything else gets a hash-derived
// vector, so equal texts always embed equally. The zero knobs make it
// fail on demand: Err is returned verbatim, Wide widens every computed
// vector by one element.
//
// Safe for concurrent use.
type StubEmbedder struct {
	Width int
	Vecs  map[string][]float32
	Err   error
	Wide  bool

	mu    sync.Mutex
	calls int
}

// NewStubEmbedder returns a stub producing vectors of the given width.
func NewStubEmbedder(dims int) *StubEmbedder {
	return &StubEmbedder{Width: dims}
}

func (s *StubEmbedder) Dims() int { return s.Width }

// Calls reports how many times EmbedTexts has been invoked.
func (s *StubEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls++
	if s.Err != nil {
		return nil, s.Err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := s.Vecs[text]; ok {
			out[i] = vec
			continue
		}
		width := s.Width
		if s.Wide {
			width++
		}
		h := fnv.New32a()
		h.Write([]byte(text))
		sum := h.Sum32()
		vec := make([]float32, width)
		for j := range vec {
			vec[j] = float32((sum>>(j%4))&0xff) / 255
		}
		out[i] = vec
	}
	return out, nil
}

// SetupGeminiEmbedder creates a real Google AI embedder for integration
// tests. Skips the test when GEMINI_API_KEY is not set.
func SetupGeminiEmbedder(t *testing.T) ai.Embedder {
	t.Helper()

	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set - skipping test requiring embedder")
	}

	g := genkit.Init(context.Background(), genkit.WithPlugins(&googlegenai.GoogleAI{}))
	return googlegenai.GoogleAIEmbedder(g, "gemini-embedding-001")
}
