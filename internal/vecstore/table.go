// Package vecstore implements a schema-driven vector store over SQLite.
//
// Each storable record type describes itself through the Table interface:
// a table name, an ordered column schema, a unique record identifier and a
// projection of the record into column values. From that description the
// store creates the relational table plus a parallel vec0 virtual table
// holding one embedding row per chunk of the record's content, keyed by the
// relational row's numeric rowid. Writes are transactional across both
// tables; reads run a KNN query against the vec0 table and join back to the
// relational rows.
//
// The package deliberately performs no retries and no partial writes: a
// batch either commits in full or leaves no trace. See the Store and Index
// types for the write and read paths.
package vecstore

import "fmt"

// Column describes one column of a record's relational table.
// Type is the SQL type fragment used verbatim in the CREATE TABLE
// statement (for example "TEXT PRIMARY KEY" or "TIMESTAMP DEFAULT
// CURRENT_TIMESTAMP"). Indexed columns get a secondary index.
type Column struct {
	Name    string
	Type    string
	Indexed bool
}

// ColumnValue is one column's value for a specific record.
type ColumnValue struct {
	Name  string
	Value any
}

// Table is the capability a record type implements to be storable.
//
// TableName and Schema describe the type and must be callable on a zero
// value. ColumnValues must list a value for every schema column the record
// supplies, in schema order with the id column first; columns whose SQL
// type carries a database-side DEFAULT may be omitted. A record whose
// ColumnValues disagree with its Schema is a programming error and makes
// the store panic rather than write a corrupt row.
type Table interface {
	// TableName returns the relational table name, constant per type.
	TableName() string

	// Schema returns the ordered column definitions.
	Schema() []Column

	// RecordID returns the record's unique identifier, used for upsert
	// matching. Named so that implementing types can keep a plain ID
	// field.
	RecordID() string

	// ColumnValues projects the record into column values.
	ColumnValues() []ColumnValue
}

// validIdentifier reports whether s is a safe SQL identifier: non-empty,
// lowercase letters, digits and underscores only. Table and column names
// are authored in code, never taken from external input, but the store
// still rejects anything else before interpolating names into SQL.
func validIdentifier(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return true
}

// validateSchema checks the table name and every column name of a schema.
func validateSchema(table string, columns []Column) error {
	if !validIdentifier(table) {
		return fmt.Errorf("invalid table name %q: %w", table, ErrInvalidIdentifier)
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %q declares no columns: %w", table, ErrInvalidIdentifier)
	}
	for _, col := range columns {
		if !validIdentifier(col.Name) {
			return fmt.Errorf("invalid column name %q in table %q: %w", col.Name, table, ErrInvalidIdentifier)
		}
	}
	return nil
}
