package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/koopa0/kioku/internal/embedding"
	"github.com/koopa0/kioku/internal/knowledge"
	"github.com/koopa0/kioku/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu      sync.Mutex
	batches [][]knowledge.Document
	err     error
}

func (f *fakeStore) AddDocuments(ctx context.Context, docs []knowledge.Document) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	batch := make([]knowledge.Document, len(docs))
	copy(batch, docs)
	f.batches = append(f.batches, batch)
	return int64(len(docs)), nil
}

func (f *fakeStore) all() []knowledge.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []knowledge.Document
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFileChunksAndStores(t *testing.T) {
	store := &fakeStore{}
	ing := New(store, log.NewNop(), WithChunker(embedding.NewChunker(10)))

	path := writeFile(t, t.TempDir(), "notes.md", strings.Repeat("x", 25))

	n, err := ing.File(context.Background(), path)
	if err != nil {
		t.Fatalf("File() error: %v", err)
	}
	if n != 3 {
		t.Errorf("File() = %d chunks, want 3", n)
	}

	docs := store.all()
	if len(docs) != 3 {
		t.Fatalf("stored %d docs, want 3", len(docs))
	}
	abs, _ := filepath.Abs(path)
	for i, doc := range docs {
		if doc.SourceID != abs {
			t.Errorf("doc[%d].SourceID = %q, want %q", i, doc.SourceID, abs)
		}
		if doc.ID == "" {
			t.Errorf("doc[%d] has empty id", i)
		}
		if doc.CreatedAt.IsZero() {
			t.Errorf("doc[%d] has zero created_at", i)
		}
	}
}

func TestFileStableIDsAcrossRuns(t *testing.T) {
	store := &fakeStore{}
	ing := New(store, log.NewNop(), WithChunker(embedding.NewChunker(10)))

	path := writeFile(t, t.TempDir(), "notes.md", strings.Repeat("y", 25))
	ctx := context.Background()

	if _, err := ing.File(ctx, path); err != nil {
		t.Fatalf("File() first run error: %v", err)
	}
	if _, err := ing.File(ctx, path); err != nil {
		t.Fatalf("File() second run error: %v", err)
	}

	if len(store.batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(store.batches))
	}
	first, second := store.batches[0], store.batches[1]
	if len(first) != len(second) {
		t.Fatalf("batch sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d id changed across runs: %q vs %q", i, first[i].ID, second[i].ID)
		}
	}
}

func TestFileRejections(t *testing.T) {
	store := &fakeStore{}
	ing := New(store, log.NewNop(), WithMaxFileSize(10))
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, dir, "blob.bin", "binary")
		if _, err := ing.File(ctx, path); err == nil {
			t.Error("File() accepted .bin")
		}
	})

	t.Run("over size limit", func(t *testing.T) {
		path := writeFile(t, dir, "big.md", strings.Repeat("z", 50))
		if _, err := ing.File(ctx, path); err == nil {
			t.Error("File() accepted oversized file")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ing.File(ctx, filepath.Join(dir, "absent.md")); err == nil {
			t.Error("File() accepted missing file")
		}
	})

	t.Run("directory", func(t *testing.T) {
		if _, err := ing.File(ctx, dir); err == nil {
			t.Error("File() accepted a directory")
		}
	})

	if len(store.all()) != 0 {
		t.Errorf("rejected sources still stored %d docs", len(store.all()))
	}
}

func TestDirectoryWalks(t *testing.T) {
	store := &fakeStore{}
	ing := New(store, log.NewNop())

	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha notes")
	writeFile(t, dir, "b.txt", "beta notes")
	writeFile(t, dir, "c.bin", "skip me")
	writeFile(t, dir, "empty.md", "   ")
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o750); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, ".git"), "d.md", "hidden")
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	writeFile(t, sub, "e.md", "nested notes")

	res, err := ing.Directory(context.Background(), dir)
	if err != nil {
		t.Fatalf("Directory() error: %v", err)
	}
	if res.FilesAdded != 3 {
		t.Errorf("FilesAdded = %d, want 3", res.FilesAdded)
	}
	if res.FilesSkipped != 2 {
		t.Errorf("FilesSkipped = %d, want 2 (binary and empty)", res.FilesSkipped)
	}
	if res.FilesFailed != 0 {
		t.Errorf("FilesFailed = %d, want 0", res.FilesFailed)
	}
	if res.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", res.Chunks)
	}

	for _, doc := range store.all() {
		if strings.Contains(doc.Content, "hidden") {
			t.Error("hidden directory content was ingested")
		}
	}
}

func TestDirectoryStoreFailureCounted(t *testing.T) {
	store := &fakeStore{err: errors.New("store down")}
	ing := New(store, log.NewNop())

	dir := t.TempDir()
	writeFile(t, dir, "a.md", "alpha")

	res, err := ing.Directory(context.Background(), dir)
	if err != nil {
		t.Fatalf("Directory() error: %v", err)
	}
	if res.FilesFailed != 1 || res.FilesAdded != 0 {
		t.Errorf("result = %+v, want one failed file", res)
	}
}

func TestURLExtractsArticle(t *testing.T) {
	para := strings.Repeat("Vector search finds nearest neighbors in embedding space. ", 12)
	page := `<!DOCTYPE html><html><head><title>Understanding Vector Search</title></head>
<body><article><h1>Understanding Vector Search</h1>
<p>` + para + `</p><p>` + para + `</p><p>` + para + `</p>
</article></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	store := &fakeStore{}
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	ing := New(store, log.NewNop(), WithHTTPClient(client))

	n, err := ing.URL(context.Background(), srv.URL+"/post")
	if err != nil {
		t.Fatalf("URL() error: %v", err)
	}
	if n < 1 {
		t.Fatalf("URL() = %d chunks, want at least 1", n)
	}

	docs := store.all()
	if docs[0].SourceID != srv.URL+"/post" {
		t.Errorf("SourceID = %q, want %q", docs[0].SourceID, srv.URL+"/post")
	}
	if !strings.Contains(docs[0].Content, "Understanding Vector Search") {
		t.Errorf("first chunk missing title: %q", docs[0].Content[:min(80, len(docs[0].Content))])
	}
	if !strings.Contains(docs[0].Content, "nearest neighbors") {
		t.Error("article body missing from chunks")
	}
}

func TestURLBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store := &fakeStore{}
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	ing := New(store, log.NewNop(), WithHTTPClient(client))

	if _, err := ing.URL(context.Background(), srv.URL); err == nil {
		t.Error("URL() accepted 404 response")
	}
	if len(store.all()) != 0 {
		t.Error("failed fetch still stored documents")
	}
}

func TestURLRejectsScheme(t *testing.T) {
	ing := New(&fakeStore{}, log.NewNop())
	if _, err := ing.URL(context.Background(), "ftp://example.com/file"); err == nil {
		t.Error("URL() accepted ftp scheme")
	}
}

func TestIngestDispatch(t *testing.T) {
	store := &fakeStore{}
	ing := New(store, log.NewNop())
	ctx := context.Background()

	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", "dispatch me")

	res, err := ing.Ingest(ctx, path)
	if err != nil {
		t.Fatalf("Ingest(file) error: %v", err)
	}
	if res.FilesAdded != 1 || res.Chunks != 1 {
		t.Errorf("Ingest(file) = %+v", res)
	}

	res, err = ing.Ingest(ctx, dir)
	if err != nil {
		t.Fatalf("Ingest(dir) error: %v", err)
	}
	if res.FilesAdded != 1 {
		t.Errorf("Ingest(dir) = %+v, want 1 file", res)
	}
}
