// Package sqlite is the one concrete implementation of the engine.Group /
// engine.Table / engine.Transaction contract, backed by a real SQLite
// database via mattn/go-sqlite3. It exists so the classifier, verifiers,
// and applicators have a real engine to run against in tests instead of a
// mock: a single-writer connection, mutex-guarded transactions, and
// ALTER-TABLE-based DDL.
//
// SQLite has no native concept of opaque, regeneration-sensitive table and
// column keys, nor of a primary-key column that can be redefined in
// place, so a small shadow catalog (schemaengine_tables /
// schemaengine_columns) tracks that bookkeeping alongside the physical
// tables.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	"github.com/arkilian/schemaengine/internal/codec"
	"github.com/arkilian/schemaengine/internal/engine"
	"github.com/arkilian/schemaengine/pkg/schema"
)

// NotVersioned is the sentinel meaning "schema version never initialised".
const NotVersioned uint64 = ^uint64(0)

var createCatalogSQL = []string{
	`CREATE TABLE IF NOT EXISTS schemaengine_tables (
		name TEXT PRIMARY KEY,
		table_key INTEGER NOT NULL,
		table_type INTEGER NOT NULL,
		pk_column TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS schemaengine_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		column_key INTEGER NOT NULL,
		prop_type INTEGER NOT NULL,
		nullable INTEGER NOT NULL,
		object_type TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (table_name, column_name)
	)`,
	`CREATE TABLE IF NOT EXISTS metadata (version INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS schema_snapshots (
		version INTEGER PRIMARY KEY,
		schema_json BLOB NOT NULL
	)`,
}

// Engine owns the single write connection to a SQLite file. The storage
// engine is single-writer-per-group: Begin takes a process mutex for the
// duration of the transaction.
type Engine struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	keys *schema.KeyGenerator
}

// Open opens (creating if necessary) the SQLite file at path and ensures
// the shadow catalog tables exist.
func Open(path string) (*Engine, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("schemaengine: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range createCatalogSQL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("schemaengine: failed to initialize catalog: %w", err)
		}
	}

	return &Engine{db: db, path: path, keys: schema.NewKeyGenerator()}, nil
}

// Close closes the underlying database connection.
func (e *Engine) Close() error { return e.db.Close() }

// Begin starts a write transaction, blocking until any other in-flight
// transaction on this engine has committed or rolled back.
func (e *Engine) Begin(ctx context.Context) (*Txn, error) {
	e.mu.Lock()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("schemaengine: failed to begin transaction: %w", err)
	}
	return &Txn{e: e, tx: tx}, nil
}

// Txn implements engine.Transaction against one *sql.Tx.
type Txn struct {
	e      *Engine
	tx     *sql.Tx
	closed bool
}

var _ engine.Transaction = (*Txn)(nil)
var _ engine.SnapshotRecorder = (*Txn)(nil)

func (t *Txn) release() {
	if !t.closed {
		t.closed = true
		t.e.mu.Unlock()
	}
}

// Commit commits the underlying transaction. apply_schema_changes itself
// never calls this — the caller's surrounding transaction owns commit —
// but tests exercising the engine end to end need it.
func (t *Txn) Commit() error {
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("schemaengine: commit failed: %w", err)
	}
	return nil
}

// Rollback rolls back the underlying transaction.
func (t *Txn) Rollback() error {
	defer t.release()
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("schemaengine: rollback failed: %w", err)
	}
	return nil
}

// EnsureMetadataTable is idempotent: if the metadata table already has a
// row, it is left alone; otherwise a single row is inserted with
// version = NotVersioned.
func (t *Txn) EnsureMetadataTable() error {
	var count int
	if err := t.tx.QueryRow(`SELECT COUNT(*) FROM metadata`).Scan(&count); err != nil {
		return fmt.Errorf("schemaengine: failed to inspect metadata table: %w", err)
	}
	if count > 0 {
		return nil
	}
	notVersioned := NotVersioned
	if _, err := t.tx.Exec(`INSERT INTO metadata (version) VALUES (?)`, int64(notVersioned)); err != nil {
		return fmt.Errorf("schemaengine: failed to seed metadata table: %w", err)
	}
	return nil
}

// SchemaVersion returns the current schema_version, or NotVersioned if the
// metadata table has never been initialised.
func (t *Txn) SchemaVersion() (uint64, error) {
	var v int64
	err := t.tx.QueryRow(`SELECT version FROM metadata LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return NotVersioned, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schemaengine: failed to read schema version: %w", err)
	}
	return uint64(v), nil
}

// SetSchemaVersion overwrites the single metadata row's version column.
func (t *Txn) SetSchemaVersion(v uint64) error {
	res, err := t.tx.Exec(`UPDATE metadata SET version = ?`, int64(v))
	if err != nil {
		return fmt.Errorf("schemaengine: failed to write schema version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := t.tx.Exec(`INSERT INTO metadata (version) VALUES (?)`, int64(v)); err != nil {
			return fmt.Errorf("schemaengine: failed to seed schema version: %w", err)
		}
	}
	return nil
}

// RecordSchemaSnapshot stores a snappy-compressed JSON snapshot of the
// last-applied target schema, for postmortem diagnostics when
// apply_schema_changes fails partway through a migration.
func (t *Txn) RecordSchemaSnapshot(targetVersion uint64, schemaJSON []byte) error {
	compressed := snappy.Encode(nil, schemaJSON)
	_, err := t.tx.Exec(`INSERT OR REPLACE INTO schema_snapshots (version, schema_json) VALUES (?, ?)`,
		int64(targetVersion), compressed)
	if err != nil {
		return fmt.Errorf("schemaengine: failed to record schema snapshot: %w", err)
	}
	return nil
}

// ValidatePrimaryColumns checks that every table with a declared primary
// key column still has it bound; it is the final consistency checkpoint
// run after Manual mode and after a migration callback.
func (t *Txn) ValidatePrimaryColumns() error {
	rows, err := t.tx.Query(`SELECT name, pk_column FROM schemaengine_tables WHERE pk_column IS NOT NULL AND pk_column != ''`)
	if err != nil {
		return fmt.Errorf("schemaengine: failed to enumerate primary keys: %w", err)
	}
	defer rows.Close()

	var broken []string
	for rows.Next() {
		var tableName, pkColumn string
		if err := rows.Scan(&tableName, &pkColumn); err != nil {
			return fmt.Errorf("schemaengine: failed to scan primary key row: %w", err)
		}
		var count int
		err := t.tx.QueryRow(`SELECT COUNT(*) FROM schemaengine_columns WHERE table_name = ? AND column_name = ?`,
			tableName, pkColumn).Scan(&count)
		if err != nil || count == 0 {
			broken = append(broken, tableName)
		}
	}
	if len(broken) > 0 {
		return fmt.Errorf("schemaengine: primary key column missing for table(s): %s", strings.Join(broken, ", "))
	}
	return nil
}

// TableNames lists every physical table name known to the shadow catalog,
// including internal ones.
func (t *Txn) TableNames() []string {
	rows, err := t.tx.Query(`SELECT name FROM schemaengine_tables ORDER BY rowid`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if rows.Scan(&n) == nil {
			names = append(names, n)
		}
	}
	return names
}

// Table returns the live table named name, if the shadow catalog knows it.
func (t *Txn) Table(name string) (engine.Table, bool) {
	var tableKey int64
	var tableType int
	err := t.tx.QueryRow(`SELECT table_key, table_type FROM schemaengine_tables WHERE name = ?`, name).
		Scan(&tableKey, &tableType)
	if err != nil {
		return nil, false
	}
	return &table{txn: t, name: name, key: schema.TableKey(tableKey), tableType: schema.TableType(tableType)}, true
}

// GetOrAddTable returns the existing table named name, or creates it.
func (t *Txn) GetOrAddTable(name string, tableType schema.TableType) (engine.Table, error) {
	if tbl, ok := t.Table(name); ok {
		return tbl, nil
	}
	return t.AddTable(name, tableType)
}

// AddTable creates a physical table whose only column is a placeholder
// (rowid_placeholder, which the shadow catalog does not list), and
// registers it in the shadow catalog.
func (t *Txn) AddTable(name string, tableType schema.TableType) (engine.Table, error) {
	if _, err := t.tx.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (rowid_placeholder INTEGER)`, quoteIdent(name))); err != nil {
		return nil, fmt.Errorf("schemaengine: failed to create table %s: %w", name, err)
	}
	key := t.e.keys.TableKeyFor(name)
	if _, err := t.tx.Exec(`INSERT INTO schemaengine_tables (name, table_key, table_type, pk_column) VALUES (?, ?, ?, NULL)`,
		name, int64(key), int(tableType)); err != nil {
		return nil, fmt.Errorf("schemaengine: failed to register table %s: %w", name, err)
	}
	return &table{txn: t, name: name, key: key, tableType: tableType}, nil
}

// AddTableWithPrimaryKey creates a table whose first column is a
// primary-key column of the given scalar type.
func (t *Txn) AddTableWithPrimaryKey(name, pkColumnName string, pkType schema.PropertyType, pkNullable bool, tableType schema.TableType) (engine.Table, error) {
	tbl, err := t.AddTable(name, tableType)
	if err != nil {
		return nil, err
	}
	key, err := tbl.AddColumn(pkColumnName, pkType, pkNullable)
	if err != nil {
		return nil, err
	}
	if err := tbl.SetPrimaryKeyColumn(key); err != nil {
		return nil, err
	}
	return tbl, nil
}

// RemoveTable drops the physical table and its shadow-catalog entries.
func (t *Txn) RemoveTable(name string) error {
	if _, err := t.tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(name))); err != nil {
		return fmt.Errorf("schemaengine: failed to drop table %s: %w", name, err)
	}
	if _, err := t.tx.Exec(`DELETE FROM schemaengine_columns WHERE table_name = ?`, name); err != nil {
		return fmt.Errorf("schemaengine: failed to clear columns for %s: %w", name, err)
	}
	if _, err := t.tx.Exec(`DELETE FROM schemaengine_tables WHERE name = ?`, name); err != nil {
		return fmt.Errorf("schemaengine: failed to unregister table %s: %w", name, err)
	}
	return nil
}

// table implements engine.Table.
type table struct {
	txn       *Txn
	name      string
	key       schema.TableKey
	tableType schema.TableType
}

func (tb *table) Name() string              { return tb.name }
func (tb *table) Key() schema.TableKey      { return tb.key }
func (tb *table) TableType() schema.TableType { return tb.tableType }

// SetTableType updates the shadow catalog's record of table_type.
// handleBacklinksAutomatically is accepted but neither stored nor acted
// on: this adapter performs no physical back-link rewrite — that is a
// real-engine concern the shadow catalog does not model.
func (tb *table) SetTableType(t schema.TableType, handleBacklinksAutomatically bool) error {
	_, err := tb.txn.tx.Exec(`UPDATE schemaengine_tables SET table_type = ? WHERE name = ?`, int(t), tb.name)
	if err != nil {
		return fmt.Errorf("schemaengine: failed to set table type for %s: %w", tb.name, err)
	}
	tb.tableType = t
	return nil
}

func (tb *table) Columns() []engine.ColumnInfo {
	rows, err := tb.txn.tx.Query(`SELECT column_name, column_key, prop_type, nullable, object_type FROM schemaengine_columns WHERE table_name = ?`, tb.name)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []engine.ColumnInfo
	for rows.Next() {
		var ci engine.ColumnInfo
		var key int64
		var propType int
		var nullable int
		if err := rows.Scan(&ci.Name, &key, &propType, &nullable, &ci.ObjectType); err != nil {
			continue
		}
		ci.Key = schema.ColumnKey(key)
		ci.Type = schema.PropertyType(propType)
		ci.Nullable = nullable != 0
		out = append(out, ci)
	}
	return out
}

// RowCount reports the physical table's row count, used by
// codec.IsEmpty to decide whether a group has any user data at all.
func (tb *table) RowCount() (int64, error) {
	var count int64
	err := tb.txn.tx.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(tb.name))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("schemaengine: failed to count rows in %s: %w", tb.name, err)
	}
	return count, nil
}

func (tb *table) Column(name string) (engine.ColumnInfo, bool) {
	for _, c := range tb.Columns() {
		if c.Name == name {
			return c, true
		}
	}
	return engine.ColumnInfo{}, false
}

func (tb *table) columnByKey(key schema.ColumnKey) (engine.ColumnInfo, bool) {
	for _, c := range tb.Columns() {
		if c.Key == key {
			return c, true
		}
	}
	return engine.ColumnInfo{}, false
}

func (tb *table) AddColumn(name string, propType schema.PropertyType, nullable bool) (schema.ColumnKey, error) {
	sqlType := sqliteAffinity(propType)
	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, quoteIdent(tb.name), quoteIdent(name), sqlType)
	if _, err := tb.txn.tx.Exec(stmt); err != nil {
		return 0, fmt.Errorf("schemaengine: failed to add column %s.%s: %w", tb.name, name, err)
	}
	key := tb.txn.e.keys.ColumnKeyFor(tb.name, name)
	_, err := tb.txn.tx.Exec(`INSERT INTO schemaengine_columns (table_name, column_name, column_key, prop_type, nullable, object_type) VALUES (?, ?, ?, ?, ?, '')`,
		tb.name, name, int64(key), int(propType), boolToInt(nullable))
	if err != nil {
		return 0, fmt.Errorf("schemaengine: failed to register column %s.%s: %w", tb.name, name, err)
	}
	return key, nil
}

func (tb *table) AddLinkColumn(name string, targetTable string) (schema.ColumnKey, error) {
	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s INTEGER`, quoteIdent(tb.name), quoteIdent(name))
	if _, err := tb.txn.tx.Exec(stmt); err != nil {
		return 0, fmt.Errorf("schemaengine: failed to add link column %s.%s: %w", tb.name, name, err)
	}
	key := tb.txn.e.keys.ColumnKeyFor(tb.name, name)
	objectType := codec.ObjectTypeForTableName(targetTable)
	_, err := tb.txn.tx.Exec(`INSERT INTO schemaengine_columns (table_name, column_name, column_key, prop_type, nullable, object_type) VALUES (?, ?, ?, ?, 1, ?)`,
		tb.name, name, int64(key), int(schema.TypeObject), objectType)
	if err != nil {
		return 0, fmt.Errorf("schemaengine: failed to register link column %s.%s: %w", tb.name, name, err)
	}
	return key, nil
}

// RemoveColumn drops the physical column (SQLite 3.35+) and its catalog
// entry. The column_key becomes permanently stale: a later AddColumn of
// the same name mints a new key.
func (tb *table) RemoveColumn(key schema.ColumnKey) error {
	col, ok := tb.columnByKey(key)
	if !ok {
		return fmt.Errorf("schemaengine: no such column key on table %s", tb.name)
	}
	stmt := fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`, quoteIdent(tb.name), quoteIdent(col.Name))
	if _, err := tb.txn.tx.Exec(stmt); err != nil {
		return fmt.Errorf("schemaengine: failed to drop column %s.%s: %w", tb.name, col.Name, err)
	}
	if _, err := tb.txn.tx.Exec(`DELETE FROM schemaengine_columns WHERE table_name = ? AND column_name = ?`, tb.name, col.Name); err != nil {
		return fmt.Errorf("schemaengine: failed to unregister column %s.%s: %w", tb.name, col.Name, err)
	}
	// Clear pk_column if this was the primary key.
	if _, err := tb.txn.tx.Exec(`UPDATE schemaengine_tables SET pk_column = NULL WHERE name = ? AND pk_column = ?`, tb.name, col.Name); err != nil {
		return fmt.Errorf("schemaengine: failed to clear primary key for %s: %w", tb.name, err)
	}
	return nil
}

// RenameColumn renames the physical column (SQLite 3.25+) and updates the
// catalog in place, preserving the column_key — a rename is a data-
// preserving operation, unlike remove-and-re-add.
func (tb *table) RenameColumn(key schema.ColumnKey, newName string) error {
	col, ok := tb.columnByKey(key)
	if !ok {
		return fmt.Errorf("schemaengine: no such column key on table %s", tb.name)
	}
	stmt := fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`, quoteIdent(tb.name), quoteIdent(col.Name), quoteIdent(newName))
	if _, err := tb.txn.tx.Exec(stmt); err != nil {
		return fmt.Errorf("schemaengine: failed to rename column %s.%s: %w", tb.name, col.Name, err)
	}
	if _, err := tb.txn.tx.Exec(`UPDATE schemaengine_columns SET column_name = ? WHERE table_name = ? AND column_name = ?`,
		newName, tb.name, col.Name); err != nil {
		return fmt.Errorf("schemaengine: failed to re-register renamed column %s.%s: %w", tb.name, newName, err)
	}
	if _, err := tb.txn.tx.Exec(`UPDATE schemaengine_tables SET pk_column = ? WHERE name = ? AND pk_column = ?`,
		newName, tb.name, col.Name); err != nil {
		return fmt.Errorf("schemaengine: failed to update primary key reference for %s: %w", tb.name, err)
	}
	return nil
}

// SetNullability toggles the catalog's nullable flag in place. SQLite has
// no ALTER COLUMN, and this adapter keeps nullability only in the shadow
// catalog (AddColumn adds no NOT NULL constraint), so no physical DDL is
// needed here — only the catalog bookkeeping that callers observe through
// Columns()/Column(). throwOnNull is ignored: existing values are not
// checked when a column is made required. apply.go's MakePropertyRequired
// handling removes and re-adds the column instead of calling this method.
func (tb *table) SetNullability(key schema.ColumnKey, nullable bool, throwOnNull bool) error {
	col, ok := tb.columnByKey(key)
	if !ok {
		return fmt.Errorf("schemaengine: no such column key on table %s", tb.name)
	}
	_, err := tb.txn.tx.Exec(`UPDATE schemaengine_columns SET nullable = ? WHERE table_name = ? AND column_name = ?`,
		boolToInt(nullable), tb.name, col.Name)
	if err != nil {
		return fmt.Errorf("schemaengine: failed to set nullability for %s.%s: %w", tb.name, col.Name, err)
	}
	return nil
}

func (tb *table) PrimaryKeyColumn() (schema.ColumnKey, bool) {
	var pkColumn sql.NullString
	err := tb.txn.tx.QueryRow(`SELECT pk_column FROM schemaengine_tables WHERE name = ?`, tb.name).Scan(&pkColumn)
	if err != nil || !pkColumn.Valid || pkColumn.String == "" {
		return 0, false
	}
	col, ok := tb.Column(pkColumn.String)
	if !ok {
		return 0, false
	}
	return col.Key, true
}

func (tb *table) SetPrimaryKeyColumn(key schema.ColumnKey) error {
	if key == schema.NoColumnKey {
		_, err := tb.txn.tx.Exec(`UPDATE schemaengine_tables SET pk_column = NULL WHERE name = ?`, tb.name)
		if err != nil {
			return fmt.Errorf("schemaengine: failed to clear primary key for %s: %w", tb.name, err)
		}
		return nil
	}
	col, ok := tb.columnByKey(key)
	if !ok {
		return fmt.Errorf("schemaengine: no such column key on table %s", tb.name)
	}
	_, err := tb.txn.tx.Exec(`UPDATE schemaengine_tables SET pk_column = ? WHERE name = ?`, col.Name, tb.name)
	if err != nil {
		return fmt.Errorf("schemaengine: failed to set primary key for %s: %w", tb.name, err)
	}
	return nil
}

func (tb *table) AddSearchIndex(key schema.ColumnKey, kind schema.IndexKind) error {
	col, ok := tb.columnByKey(key)
	if !ok {
		return fmt.Errorf("schemaengine: no such column key on table %s", tb.name)
	}
	idxName := indexName(tb.name, col.Name, kind)
	stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`, quoteIdent(idxName), quoteIdent(tb.name), quoteIdent(col.Name))
	if _, err := tb.txn.tx.Exec(stmt); err != nil {
		return fmt.Errorf("schemaengine: failed to add search index on %s.%s: %w", tb.name, col.Name, err)
	}
	return nil
}

func (tb *table) RemoveSearchIndex(key schema.ColumnKey) error {
	col, ok := tb.columnByKey(key)
	if !ok {
		return fmt.Errorf("schemaengine: no such column key on table %s", tb.name)
	}
	for _, kind := range []schema.IndexKind{schema.IndexGeneral, schema.IndexFullText} {
		idxName := indexName(tb.name, col.Name, kind)
		if _, err := tb.txn.tx.Exec(fmt.Sprintf(`DROP INDEX IF EXISTS %s`, quoteIdent(idxName))); err != nil {
			return fmt.Errorf("schemaengine: failed to drop search index on %s.%s: %w", tb.name, col.Name, err)
		}
	}
	return nil
}

func indexName(table, column string, kind schema.IndexKind) string {
	suffix := "idx"
	if kind == schema.IndexFullText {
		suffix = "fts"
	}
	return fmt.Sprintf("schemaengine_%s_%s_%s", table, column, suffix)
}

func sqliteAffinity(t schema.PropertyType) string {
	switch t.Base() {
	case schema.TypeInt, schema.TypeBool, schema.TypeDate, schema.TypeObject:
		return "INTEGER"
	case schema.TypeFloat, schema.TypeDouble:
		return "REAL"
	case schema.TypeString, schema.TypeObjectID, schema.TypeDecimal, schema.TypeUUID:
		return "TEXT"
	case schema.TypeData, schema.TypeMixed:
		return "BLOB"
	default:
		return "BLOB"
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
