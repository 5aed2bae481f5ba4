// Package ingest turns local files and web pages into knowledge base
// documents: it reads the source, extracts plain text, chunks long
// content and hands the chunks to the document store.
package ingest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/google/uuid"

	"github.com/koopa0/kioku/internal/embedding"
	"github.com/koopa0/kioku/internal/knowledge"
)

// DocumentStore accepts document batches. *knowledge.Base satisfies it.
type DocumentStore interface {
	AddDocuments(ctx context.Context, docs []knowledge.Document) (int64, error)
}

// DefaultMaxFileSize caps how much of a single source is read.
const DefaultMaxFileSize = 1 << 20 // 1 MiB

// DefaultHTTPTimeout bounds a URL fetch.
const DefaultHTTPTimeout = 30 * time.Second

// defaultExtensions are the file types ingested unless overridden.
var defaultExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".go":       true,
	".py":       true,
	".js":       true,
	".ts":       true,
	".java":     true,
	".c":        true,
	".cpp":      true,
	".h":        true,
	".rs":       true,
	".rb":       true,
	".sh":       true,
	".yaml":     true,
	".yml":      true,
	".json":     true,
	".toml":     true,
	".xml":      true,
	".html":     true,
	".css":      true,
	".sql":      true,
}

// Result summarizes one ingestion run.
type Result struct {
	FilesAdded   int
	FilesSkipped int
	FilesFailed  int
	Chunks       int
	Duration     time.Duration
}

// Ingestor reads sources and writes their chunks to a DocumentStore.
type Ingestor struct {
	store   DocumentStore
	chunker *embedding.Chunker
	exts    map[string]bool
	client  *http.Client
	maxSize int64
	logger  *slog.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithChunker replaces the default chunker.
func WithChunker(c *embedding.Chunker) Option {
	return func(ing *Ingestor) { ing.chunker = c }
}

// WithExtensions replaces the default set of ingestable file extensions.
// Extensions are matched case-insensitively and must include the dot.
func WithExtensions(exts []string) Option {
	return func(ing *Ingestor) {
		m := make(map[string]bool, len(exts))
		for _, ext := range exts {
			m[strings.ToLower(ext)] = true
		}
		ing.exts = m
	}
}

// WithHTTPClient replaces the default HTTP client used for URL sources.
func WithHTTPClient(c *http.Client) Option {
	return func(ing *Ingestor) { ing.client = c }
}

// WithMaxFileSize changes the per-source size cap in bytes.
func WithMaxFileSize(n int64) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.maxSize = n
		}
	}
}

// New creates an Ingestor writing to store.
func New(store DocumentStore, logger *slog.Logger, opts ...Option) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}

	ing := &Ingestor{
		store:   store,
		chunker: embedding.NewChunker(0),
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
		maxSize: DefaultMaxFileSize,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(ing)
	}
	if ing.exts == nil {
		ing.exts = make(map[string]bool, len(defaultExtensions))
		for k, v := range defaultExtensions {
			ing.exts[k] = v
		}
	}
	return ing
}

// Ingest dispatches target by form: http(s) URLs are fetched, existing
// directories walked, everything else treated as a single file.
func (ing *Ingestor) Ingest(ctx context.Context, target string) (*Result, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		start := time.Now()
		n, err := ing.URL(ctx, target)
		if err != nil {
			return nil, err
		}
		return &Result{FilesAdded: 1, Chunks: n, Duration: time.Since(start)}, nil
	}

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return ing.Directory(ctx, target)
	}

	start := time.Now()
	n, err := ing.File(ctx, target)
	if err != nil {
		return nil, err
	}
	res := &Result{FilesAdded: 1, Chunks: n, Duration: time.Since(start)}
	if n == 0 {
		res.FilesAdded, res.FilesSkipped = 0, 1
	}
	return res, nil
}

// File ingests a single file and returns the number of chunks written.
// The file is read through an os.Root scoped to its parent directory,
// so symlinks cannot escape it.
func (ing *Ingestor) File(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolve path %q: %w", path, err)
	}

	root, err := os.OpenRoot(filepath.Dir(absPath))
	if err != nil {
		return 0, fmt.Errorf("open parent of %q: %w", path, err)
	}
	defer func() { _ = root.Close() }()

	name := filepath.Base(absPath)
	info, err := root.Stat(name)
	if err != nil {
		return 0, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%q is a directory, use Directory", path)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !ing.exts[ext] {
		return 0, fmt.Errorf("unsupported file type %q", ext)
	}
	if info.Size() > ing.maxSize {
		return 0, fmt.Errorf("file %q is %d bytes, over the %d byte limit", path, info.Size(), ing.maxSize)
	}

	content, err := root.ReadFile(name)
	if err != nil {
		return 0, fmt.Errorf("read %q: %w", path, err)
	}

	return ing.addChunks(ctx, absPath, string(content))
}

// Directory walks dir and ingests every supported file in it. Hidden
// files and directories are skipped; a file that fails does not stop
// the walk.
func (ing *Ingestor) Directory(ctx context.Context, dir string) (*Result, error) {
	start := time.Now()

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve path %q: %w", dir, err)
	}
	root, err := os.OpenRoot(absDir)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", dir, err)
	}
	defer func() { _ = root.Close() }()

	res := &Result{}
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			res.FilesFailed++
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !ing.exts[strings.ToLower(filepath.Ext(name))] {
			res.FilesSkipped++
			return nil
		}

		rel, err := filepath.Rel(absDir, path)
		if err != nil {
			res.FilesFailed++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			res.FilesFailed++
			return nil
		}
		if info.Size() > ing.maxSize {
			res.FilesSkipped++
			return nil
		}

		content, err := root.ReadFile(rel)
		if err != nil {
			res.FilesFailed++
			return nil
		}

		n, err := ing.addChunks(ctx, path, string(content))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ing.logger.Warn("skipping file", "path", path, "error", err)
			res.FilesFailed++
			return nil
		}
		if n == 0 {
			res.FilesSkipped++
			return nil
		}
		res.FilesAdded++
		res.Chunks += n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", dir, err)
	}

	res.Duration = time.Since(start)
	ing.logger.Info("ingested directory", "dir", dir,
		"added", res.FilesAdded, "skipped", res.FilesSkipped,
		"failed", res.FilesFailed, "chunks", res.Chunks)
	return res, nil
}

// URL fetches a web page, extracts its readable article text and
// ingests it. Returns the number of chunks written.
func (ing *Ingestor) URL(ctx context.Context, rawURL string) (int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return 0, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build request for %q: %w", rawURL, err)
	}

	resp, err := ing.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %q: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %q: unexpected status %s", rawURL, resp.Status)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, ing.maxSize), u)
	if err != nil {
		return 0, fmt.Errorf("extract article from %q: %w", rawURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if article.Title != "" {
		text = article.Title + "\n\n" + text
	}

	return ing.addChunks(ctx, u.String(), text)
}

func (ing *Ingestor) addChunks(ctx context.Context, sourceID, text string) (int, error) {
	chunks := ing.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	docs := make([]knowledge.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = knowledge.Document{
			ID:        chunkID(sourceID, i),
			SourceID:  sourceID,
			Content:   chunk,
			CreatedAt: now,
		}
	}

	if _, err := ing.store.AddDocuments(ctx, docs); err != nil {
		return 0, fmt.Errorf("store chunks of %q: %w", sourceID, err)
	}

	ing.logger.Debug("ingested source", "source_id", sourceID, "chunks", len(docs))
	return len(docs), nil
}

// chunkID derives a stable UUID from the source and chunk position, so
// re-ingesting a source replaces its chunks instead of stacking
// duplicates.
func chunkID(sourceID string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceID+"#"+strconv.Itoa(i))).String()
}
