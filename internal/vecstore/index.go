package vecstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Embedder produces fixed-width embedding vectors for text.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Dims reports the width of the vectors the model produces.
	Dims() int

	// EmbedTexts embeds each text, returning one vector per input in
	// input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is one nearest-neighbour result with its decoded record.
// Distance is the vec0 distance, smaller is closer. A record indexed
// under several chunks can match more than once, once per chunk.
type Match[T Table] struct {
	ID       string
	Distance float64
	Record   T
}

// ScoredID is one nearest-neighbour result without the record payload.
type ScoredID struct {
	ID       string
	Distance float64
}

// Index answers nearest-neighbour queries against a store. It embeds the
// query text with its own model, which must produce vectors of the width
// the store was opened with.
type Index[T Table] struct {
	store    *Store[T]
	embedder Embedder
	logger   *slog.Logger

	topNSQL    string
	topNIDsSQL string
}

// NewIndex builds an index over store using embedder for query embedding.
func NewIndex[T Table](embedder Embedder, store *Store[T], logger *slog.Logger) *Index[T] {
	ix := &Index[T]{
		store:    store,
		embedder: embedder,
		logger:   logger,
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	for _, col := range store.schema {
		b.WriteString("d.")
		b.WriteString(col.Name)
		b.WriteString(", ")
	}
	b.WriteString("e.distance FROM ")
	b.WriteString(store.annTable)
	b.WriteString(" e JOIN ")
	b.WriteString(store.table)
	b.WriteString(" d ON e.rowid = d.rowid WHERE e.embedding MATCH ? AND k = ? ORDER BY e.distance")
	ix.topNSQL = b.String()

	ix.topNIDsSQL = fmt.Sprintf(
		"SELECT d.%s, e.distance FROM %s e JOIN %s d ON e.rowid = d.rowid WHERE e.embedding MATCH ? AND k = ? ORDER BY e.distance",
		store.idColumn, store.annTable, store.table)

	return ix
}

// TopN returns the n nearest records to query in ascending distance
// order. Rows whose stored values no longer decode into T are skipped
// with a warning rather than failing the whole query.
func (ix *Index[T]) TopN(ctx context.Context, query string, n int) ([]Match[T], error) {
	if n <= 0 {
		return nil, nil
	}
	blob, err := ix.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := ix.store.db.QueryContext(ctx, ix.topNSQL, blob, n)
	if err != nil {
		return nil, fmt.Errorf("query %s matches: %w: %w", ix.store.table, ErrDatabase, err)
	}
	defer rows.Close()

	schema := ix.store.schema
	matches := make([]Match[T], 0, n)
	for rows.Next() {
		vals := make([]any, len(schema)+1)
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s match: %w: %w", ix.store.table, ErrDatabase, err)
		}

		var distance float64
		switch d := vals[len(schema)].(type) {
		case float64:
			distance = d
		case int64:
			distance = float64(d)
		}

		rec, id, err := decodeRecord[T](schema, vals[:len(schema)])
		if err != nil {
			ix.logger.Warn("skipping undecodable row", "table", ix.store.table, "id", id, "error", err)
			continue
		}
		matches = append(matches, Match[T]{ID: id, Distance: distance, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s matches: %w: %w", ix.store.table, ErrDatabase, err)
	}
	return matches, nil
}

// TopNIDs is TopN without decoding record payloads, for callers that only
// need identifiers and distances.
func (ix *Index[T]) TopNIDs(ctx context.Context, query string, n int) ([]ScoredID, error) {
	if n <= 0 {
		return nil, nil
	}
	blob, err := ix.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := ix.store.db.QueryContext(ctx, ix.topNIDsSQL, blob, n)
	if err != nil {
		return nil, fmt.Errorf("query %s ids: %w: %w", ix.store.table, ErrDatabase, err)
	}
	defer rows.Close()

	ids := make([]ScoredID, 0, n)
	for rows.Next() {
		var scored ScoredID
		if err := rows.Scan(&scored.ID, &scored.Distance); err != nil {
			return nil, fmt.Errorf("scan %s id: %w: %w", ix.store.table, ErrDatabase, err)
		}
		ids = append(ids, scored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s ids: %w: %w", ix.store.table, ErrDatabase, err)
	}
	return ids, nil
}

func (ix *Index[T]) embedQuery(ctx context.Context, query string) ([]byte, error) {
	vecs, err := ix.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w: %w", ErrModel, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding model returned %d vectors for one query: %w", len(vecs), ErrModel)
	}
	if len(vecs[0]) != ix.store.dims {
		return nil, fmt.Errorf("query embedding width %d does not match store width %d: %w",
			len(vecs[0]), ix.store.dims, ErrDimensionMismatch)
	}
	return SerializeEmbedding(vecs[0]), nil
}

// decodeRecord rebuilds a record from scanned column values by encoding
// them as a JSON object and decoding into T, so record types control their
// own field mapping through json tags. The id is returned separately so a
// failed decode can still be attributed to a record.
func decodeRecord[T Table](schema []Column, vals []any) (T, string, error) {
	var rec T
	m := make(map[string]any, len(schema))
	for i, col := range schema {
		m[col.Name] = normalizeValue(vals[i])
	}
	id, _ := m[schema[0].Name].(string)

	data, err := json.Marshal(m)
	if err != nil {
		return rec, id, fmt.Errorf("encode row: %w: %w", ErrSerialization, err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, id, fmt.Errorf("decode row into %T: %w: %w", rec, ErrSerialization, err)
	}
	return rec, id, nil
}

// normalizeValue maps driver values into JSON-friendly ones. SQLite TEXT
// scans as []byte, which would otherwise encode as base64.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
