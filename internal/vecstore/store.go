package vecstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Embedding is one embedded chunk of a record: the chunk text and its
// vector. A record may carry several chunks, each stored as its own ANN
// row pointing back at the same relational row.
type Embedding struct {
	Text string
	Vec  []float32
}

// EmbeddedRecord pairs a record with the embeddings of its content.
type EmbeddedRecord[T Table] struct {
	Record     T
	Embeddings []Embedding
}

// Store persists records of type T together with their embeddings.
//
// It manages two tables: a relational table named by T's schema and a vec0
// virtual table named "<table>_embeddings" whose rows are keyed by the
// relational rowid. All writes go through a transaction so the two tables
// never observe each other in a half-written state.
//
// The store holds no connection state of its own and is safe for
// concurrent use; serialization of writers is the database handle's
// concern.
type Store[T Table] struct {
	db     *sql.DB
	logger *slog.Logger

	table    string
	annTable string
	dims     int
	schema   []Column
	idColumn string

	// columnPos maps column name to schema position, for validating the
	// per-record column values.
	columnPos map[string]int

	selectRowidSQL      string
	deleteEmbeddingsSQL string
	insertEmbeddingSQL  string
}

// New opens a store for T over db, creating the relational table, its
// secondary indexes and the vec0 table if they do not exist. dims is the
// embedding width; if the vec0 table already exists with a different
// width, New fails with ErrDimensionMismatch instead of letting reads and
// writes fail one by one later.
func New[T Table](ctx context.Context, db *sql.DB, dims int, logger *slog.Logger) (*Store[T], error) {
	if dims <= 0 {
		return nil, fmt.Errorf("embedding dimensionality must be positive, got %d: %w", dims, ErrDimensionMismatch)
	}

	var zero T
	table := zero.TableName()
	schema := zero.Schema()
	if err := validateSchema(table, schema); err != nil {
		return nil, err
	}

	s := &Store[T]{
		db:        db,
		logger:    logger,
		table:     table,
		annTable:  table + "_embeddings",
		dims:      dims,
		schema:    schema,
		idColumn:  schema[0].Name,
		columnPos: make(map[string]int, len(schema)),
	}
	for i, col := range schema {
		if _, ok := s.columnPos[col.Name]; ok {
			return nil, fmt.Errorf("duplicate column %q in table %q: %w", col.Name, table, ErrInvalidIdentifier)
		}
		s.columnPos[col.Name] = i
	}
	s.selectRowidSQL = "SELECT rowid FROM " + s.table + " WHERE " + s.idColumn + " = ?"
	s.deleteEmbeddingsSQL = "DELETE FROM " + s.annTable + " WHERE rowid = ?"
	s.insertEmbeddingSQL = "INSERT INTO " + s.annTable + " (rowid, embedding) VALUES (?, ?)"

	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Table returns the relational table name.
func (s *Store[T]) Table() string { return s.table }

// Dims returns the embedding width the store was opened with.
func (s *Store[T]) Dims() int { return s.dims }

func (s *Store[T]) ensureSchema(ctx context.Context) error {
	if err := s.checkExistingDims(ctx); err != nil {
		return err
	}

	stmts := []string{s.createTableSQL()}
	for _, col := range s.schema {
		if col.Indexed {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", s.table, col.Name, s.table, col.Name))
		}
	}
	stmts = append(stmts, fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])", s.annTable, s.dims))

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema for table %q: %w: %w", s.table, ErrDatabase, err)
		}
	}
	s.logger.Debug("vector store schema ready", "table", s.table, "dimensions", s.dims)
	return nil
}

// checkExistingDims compares the declared width of an existing vec0 table
// against the configured one. A fresh database passes trivially.
func (s *Store[T]) checkExistingDims(ctx context.Context) error {
	var ddl string
	err := s.db.QueryRowContext(ctx,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", s.annTable,
	).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect table %q: %w: %w", s.annTable, ErrDatabase, err)
	}

	existing, ok := parseVectorWidth(ddl)
	if !ok {
		return fmt.Errorf("table %q exists but is not a vec0 embedding table: %w", s.annTable, ErrDatabase)
	}
	if existing != s.dims {
		return fmt.Errorf("table %q stores %d-dimensional embeddings, store configured for %d: %w",
			s.annTable, existing, s.dims, ErrDimensionMismatch)
	}
	return nil
}

// parseVectorWidth extracts D from a "... float[D] ..." vec0 declaration.
func parseVectorWidth(ddl string) (int, bool) {
	i := strings.Index(ddl, "float[")
	if i < 0 {
		return 0, false
	}
	rest := ddl[i+len("float["):]
	j := strings.IndexByte(rest, ']')
	if j < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest[:j]))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (s *Store[T]) createTableSQL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(s.table)
	b.WriteString(" (")
	for i, col := range s.schema {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col.Name)
		b.WriteByte(' ')
		b.WriteString(col.Type)
	}
	b.WriteString(")")
	return b.String()
}

// WriteBatch writes the batch inside its own transaction and returns the
// rowid of the last record written. Records are matched by id: writing an
// id that already exists replaces the relational row and all of its ANN
// rows. On any failure the transaction rolls back and the database is left
// exactly as it was. An empty batch is a no-op.
func (s *Store[T]) WriteBatch(ctx context.Context, batch []EmbeddedRecord[T]) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w: %w", ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	last, err := s.WriteBatchTx(ctx, tx, batch)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w: %w", ErrDatabase, err)
	}
	return last, nil
}

// WriteBatchTx writes the batch inside a transaction owned by the caller,
// which lets record writes commit atomically with the caller's own
// statements. The caller commits or rolls back; WriteBatchTx does neither.
func (s *Store[T]) WriteBatchTx(ctx context.Context, tx *sql.Tx, batch []EmbeddedRecord[T]) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	annStmt, err := tx.PrepareContext(ctx, s.insertEmbeddingSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare embedding insert: %w: %w", ErrDatabase, err)
	}
	defer annStmt.Close()

	var last int64
	for _, rec := range batch {
		rowid, err := s.writeRecord(ctx, tx, annStmt, rec)
		if err != nil {
			return 0, err
		}
		last = rowid
	}
	s.logger.Debug("wrote record batch", "table", s.table, "records", len(batch), "last_rowid", last)
	return last, nil
}

func (s *Store[T]) writeRecord(ctx context.Context, tx *sql.Tx, annStmt *sql.Stmt, rec EmbeddedRecord[T]) (int64, error) {
	id := rec.Record.RecordID()
	for _, emb := range rec.Embeddings {
		if len(emb.Vec) != s.dims {
			return 0, fmt.Errorf("record %q: embedding width %d does not match store width %d: %w",
				id, len(emb.Vec), s.dims, ErrDimensionMismatch)
		}
	}
	names, args := s.columnArgs(rec.Record)

	// Replacing an existing record assigns a fresh rowid, so the ANN rows
	// keyed by the old rowid must go first or they would be orphaned.
	var prior int64
	err := tx.QueryRowContext(ctx, s.selectRowidSQL, id).Scan(&prior)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, fmt.Errorf("look up rowid for record %q: %w: %w", id, ErrDatabase, err)
	default:
		if _, err := tx.ExecContext(ctx, s.deleteEmbeddingsSQL, prior); err != nil {
			return 0, fmt.Errorf("delete stale embeddings for record %q: %w: %w", id, ErrDatabase, err)
		}
		s.logger.Debug("replacing record", "table", s.table, "id", id)
	}

	res, err := tx.ExecContext(ctx, insertRecordSQL(s.table, names), args...)
	if err != nil {
		return 0, fmt.Errorf("insert record %q: %w: %w", id, ErrDatabase, err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read rowid for record %q: %w: %w", id, ErrDatabase, err)
	}

	for i, emb := range rec.Embeddings {
		if _, err := annStmt.ExecContext(ctx, rowid, SerializeEmbedding(emb.Vec)); err != nil {
			return 0, fmt.Errorf("insert embedding %d of record %q: %w: %w", i, id, ErrDatabase, err)
		}
	}
	return rowid, nil
}

// columnArgs turns a record's column values into an ordered column list
// and argument slice, after checking them against the declared schema.
// A violation here is a bug in the record type, not a runtime condition,
// so it panics instead of returning an error.
func (s *Store[T]) columnArgs(rec T) ([]string, []any) {
	values := rec.ColumnValues()
	if len(values) == 0 {
		panic(fmt.Sprintf("vecstore: record %q of table %s supplies no column values", rec.RecordID(), s.table))
	}
	if values[0].Name != s.idColumn {
		panic(fmt.Sprintf("vecstore: record %q of table %s must list column %s first, got %s",
			rec.RecordID(), s.table, s.idColumn, values[0].Name))
	}
	if v, ok := values[0].Value.(string); !ok || v != rec.RecordID() {
		panic(fmt.Sprintf("vecstore: record %q of table %s supplies a different id value %v",
			rec.RecordID(), s.table, values[0].Value))
	}

	names := make([]string, len(values))
	args := make([]any, len(values))
	prev := -1
	for i, cv := range values {
		pos, ok := s.columnPos[cv.Name]
		if !ok {
			panic(fmt.Sprintf("vecstore: record %q of table %s supplies undeclared column %q", rec.RecordID(), s.table, cv.Name))
		}
		if pos <= prev {
			panic(fmt.Sprintf("vecstore: record %q of table %s supplies column %q out of schema order", rec.RecordID(), s.table, cv.Name))
		}
		prev = pos
		names[i] = cv.Name
		args[i] = cv.Value
	}
	return names, args
}

func insertRecordSQL(table string, names []string) string {
	var b strings.Builder
	b.WriteString("INSERT OR REPLACE INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(name)
	}
	b.WriteString(") VALUES (")
	for i := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	b.WriteString(")")
	return b.String()
}
