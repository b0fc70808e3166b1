// Package engine defines the storage-engine contract the classifier,
// verifiers, and applicators are built against: Group/Table/Transaction
// with opaque column-key identifiers, deliberately abstract so the
// storage backend stays swappable.
//
// internal/engine/sqlite provides the one concrete implementation used by
// this repository's tests and CLI.
package engine

import "github.com/arkilian/schemaengine/pkg/schema"

// ColumnInfo describes one bound column as reported by a live Table.
type ColumnInfo struct {
	Name       string
	Key        schema.ColumnKey
	Type       schema.PropertyType
	Nullable   bool
	ObjectType string // non-empty for link columns (Type.Base() == TypeObject)
}

// Table is a live, bound physical table.
type Table interface {
	Name() string
	Key() schema.TableKey
	TableType() schema.TableType
	SetTableType(t schema.TableType, handleBacklinksAutomatically bool) error

	Columns() []ColumnInfo
	Column(name string) (ColumnInfo, bool)
	// RowCount reports how many rows the table currently holds, used by
	// codec.IsEmpty to answer "is this group empty" without the caller
	// needing engine-specific access.
	RowCount() (int64, error)

	// AddColumn adds a scalar column. For collection properties the engine
	// is expected to interpret PropertyType's Array/Set/Dictionary flags.
	AddColumn(name string, propType schema.PropertyType, nullable bool) (schema.ColumnKey, error)
	// AddLinkColumn adds a column linking to another object type's table.
	AddLinkColumn(name string, targetTable string) (schema.ColumnKey, error)
	RemoveColumn(key schema.ColumnKey) error
	RenameColumn(key schema.ColumnKey, newName string) error
	SetNullability(key schema.ColumnKey, nullable bool, throwOnNull bool) error

	PrimaryKeyColumn() (schema.ColumnKey, bool)
	SetPrimaryKeyColumn(key schema.ColumnKey) error

	AddSearchIndex(key schema.ColumnKey, kind schema.IndexKind) error
	RemoveSearchIndex(key schema.ColumnKey) error
}

// Group is a set of tables.
type Group interface {
	// Table returns the live table named name, if it exists.
	Table(name string) (Table, bool)
	// TableNames lists every physical table name in the group, including
	// internal ones; callers wanting only user object tables filter with
	// internal/codec.IsInternalTable.
	TableNames() []string

	AddTable(name string, tableType schema.TableType) (Table, error)
	AddTableWithPrimaryKey(name, pkColumnName string, pkType schema.PropertyType, pkNullable bool, tableType schema.TableType) (Table, error)
	GetOrAddTable(name string, tableType schema.TableType) (Table, error)
	RemoveTable(name string) error
}

// Transaction is a Group bound to the caller's write transaction, plus the
// metadata-store operations and the post-callback consistency checkpoint,
// ValidatePrimaryColumns.
//
// No Transaction implementation commits or rolls back internally — the
// engine relies on the surrounding transaction and never commits on its
// own. Commit/Rollback are exposed here purely so tests can drive a
// transaction end to end; apply_schema_changes itself never calls them.
type Transaction interface {
	Group

	EnsureMetadataTable() error
	SchemaVersion() (uint64, error)
	SetSchemaVersion(v uint64) error

	ValidatePrimaryColumns() error

	Commit() error
	Rollback() error
}

// SnapshotRecorder is an optional capability: implementations may persist
// a compressed snapshot of the last-applied target schema for postmortem
// diagnostics. The driver uses it via a type assertion and skips the step
// silently when a Transaction does not implement it.
type SnapshotRecorder interface {
	RecordSchemaSnapshot(targetVersion uint64, schemaJSON []byte) error
}
