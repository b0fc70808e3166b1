// Package metadata implements the metadata store — a single reserved
// table holding one scalar schema_version — plus schema_from_group, the
// routine that rediscovers a live Schema value from a bound engine.Group
// by walking its physical tables through the table-name codec.
package metadata

import (
	"github.com/arkilian/schemaengine/internal/codec"
	"github.com/arkilian/schemaengine/internal/engine"
	"github.com/arkilian/schemaengine/pkg/schema"
)

// NotVersioned is u64::MAX, meaning "never initialised".
const NotVersioned uint64 = ^uint64(0)

// CreateMetadataTables is idempotent: it delegates to the Transaction's
// own EnsureMetadataTable, which leaves an existing row alone and seeds a
// fresh one at NotVersioned otherwise.
func CreateMetadataTables(tx engine.Transaction) error {
	return tx.EnsureMetadataTable()
}

// GetSchemaVersion returns the current schema_version.
func GetSchemaVersion(tx engine.Transaction) (uint64, error) {
	return tx.SchemaVersion()
}

// SetSchemaVersion overwrites the stored schema_version.
func SetSchemaVersion(tx engine.Transaction, v uint64) error {
	return tx.SetSchemaVersion(v)
}

// SchemaFromGroup rediscovers a Schema from a live group by walking its
// physical tables, decoding object-type names via the table-name codec,
// and skipping internal tables. This is the only safe way to observe a
// schema after a migration callback has run — incremental tracking of the
// callback's writes is not attempted.
func SchemaFromGroup(g engine.Group) (schema.Schema, error) {
	var objects []schema.ObjectSchema
	for _, tableName := range g.TableNames() {
		if codec.IsInternalTable(tableName) {
			continue
		}
		objectType := codec.ObjectTypeForTableName(tableName)
		tbl, ok := g.Table(tableName)
		if !ok {
			continue
		}
		obj := schema.ObjectSchema{
			Name:      objectType,
			TableType: tbl.TableType(),
			TableKey:  tbl.Key(),
		}
		if pkKey, ok := tbl.PrimaryKeyColumn(); ok {
			if col, ok := tbl.Column(pkColumnName(tbl, pkKey)); ok {
				obj.PrimaryKey = col.Name
			}
		}
		for _, col := range tbl.Columns() {
			prop := schema.Property{
				Name:       col.Name,
				Type:       col.Type.WithNullable(col.Nullable),
				ObjectType: col.ObjectType,
				IsPrimary:  col.Name == obj.PrimaryKey,
				ColumnKey:  col.Key,
			}
			obj.PersistedProperties = append(obj.PersistedProperties, prop)
		}
		objects = append(objects, obj)
	}
	return schema.New(objects...), nil
}

func pkColumnName(tbl engine.Table, key schema.ColumnKey) string {
	for _, c := range tbl.Columns() {
		if c.Key == key {
			return c.Name
		}
	}
	return ""
}

// SetSchemaKeys resolves table_key and column_key for every ObjectSchema
// in target by looking up the corresponding live table in g, mutating
// target in place. Must be re-run after any structural change (including
// inside a migration callback) before the caller treats target's keys as
// current.
func SetSchemaKeys(g engine.Group, target *schema.Schema) error {
	for _, obj := range target.Objects() {
		tableName := codec.TableNameForObjectType(obj.Name)
		tbl, ok := g.Table(tableName)
		if !ok {
			continue
		}
		obj.TableKey = tbl.Key()
		for i := range obj.PersistedProperties {
			p := &obj.PersistedProperties[i]
			if p.Type.Base() == schema.TypeLinkingObjects {
				continue
			}
			if col, ok := tbl.Column(p.Name); ok {
				p.ColumnKey = col.Key
			}
		}
	}
	return nil
}
