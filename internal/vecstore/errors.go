package vecstore

import "errors"

// Failures are classified into three families so that callers can react to
// the class without inspecting messages: storage failures, encoding
// failures and embedding model failures. Wrapped causes stay on the chain,
// so errors.Is matches both the class sentinel and the underlying error.
var (
	// ErrDatabase classifies connection, SQL and transaction failures.
	ErrDatabase = errors.New("database error")

	// ErrSerialization classifies embedding blob and record encoding
	// failures.
	ErrSerialization = errors.New("serialization error")

	// ErrModel classifies failures reported by the embedding model.
	ErrModel = errors.New("embedding model error")

	// ErrDimensionMismatch reports an embedding whose width differs from
	// the width the store was created with. It is returned when opening a
	// store over an existing table of a different width and when a write
	// or query supplies a vector of the wrong width.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidIdentifier reports a table or column name outside the
	// allowed character set.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)
