// Package codec implements the bijection between object-type names and
// physical table names, and the related notion of which tables are
// "internal" (invisible to schema_from_group and is_empty).
package codec

import (
	"fmt"
	"strings"

	"github.com/arkilian/schemaengine/internal/engine"
)

// TablePrefix is prepended to every object-type name to form its physical
// table name.
const TablePrefix = "class_"

// internalPrefix marks tables that carry TablePrefix but are still not user
// object tables: it is checked against the decoded object-type name, e.g.
// realm's own bookkeeping tables.
const internalPrefix = "__"

// TableNameForObjectType returns the physical table name for an
// object-type name.
func TableNameForObjectType(objectType string) string {
	return TablePrefix + objectType
}

// ObjectTypeForTableName returns the object-type name the physical table
// name decodes to, or "" if the table name does not carry TablePrefix.
func ObjectTypeForTableName(tableName string) string {
	if !strings.HasPrefix(tableName, TablePrefix) {
		return ""
	}
	return tableName[len(TablePrefix):]
}

// IsInternalTable reports whether a physical table name names an internal
// table: one whose decoded object-type is empty (no TablePrefix) or begins
// with "__". Internal tables are invisible to schema_from_group and
// is_empty.
func IsInternalTable(tableName string) bool {
	objectType := ObjectTypeForTableName(tableName)
	return objectType == "" || strings.HasPrefix(objectType, internalPrefix)
}

// IsEmpty reports whether every non-internal table in group holds zero
// rows, used by callers deciding whether a ReadOnly-mode open of an empty
// file is tolerable even though the in-memory schema does not yet match
// the on-disk one.
func IsEmpty(group engine.Group) (bool, error) {
	for _, name := range group.TableNames() {
		if IsInternalTable(name) {
			continue
		}
		tbl, ok := group.Table(name)
		if !ok {
			continue
		}
		count, err := tbl.RowCount()
		if err != nil {
			return false, fmt.Errorf("codec: failed to check emptiness of %s: %w", name, err)
		}
		if count > 0 {
			return false, nil
		}
	}
	return true, nil
}
