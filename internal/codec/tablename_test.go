package codec

import (
	"testing"

	"github.com/arkilian/schemaengine/internal/engine"
	"github.com/arkilian/schemaengine/pkg/schema"
)

// fakeTable is a minimal engine.Table stand-in exercising only what
// IsEmpty touches (RowCount); every other method is unreachable from
// this test and panics if called, so a stray dependency on it shows up
// immediately.
type fakeTable struct {
	name     string
	rowCount int64
	rowErr   error
}

func (f *fakeTable) Name() string                { return f.name }
func (f *fakeTable) Key() schema.TableKey        { panic("not needed") }
func (f *fakeTable) TableType() schema.TableType { panic("not needed") }
func (f *fakeTable) SetTableType(schema.TableType, bool) error { panic("not needed") }
func (f *fakeTable) Columns() []engine.ColumnInfo               { panic("not needed") }
func (f *fakeTable) Column(string) (engine.ColumnInfo, bool)    { panic("not needed") }
func (f *fakeTable) RowCount() (int64, error)                   { return f.rowCount, f.rowErr }
func (f *fakeTable) AddColumn(string, schema.PropertyType, bool) (schema.ColumnKey, error) {
	panic("not needed")
}
func (f *fakeTable) AddLinkColumn(string, string) (schema.ColumnKey, error) { panic("not needed") }
func (f *fakeTable) RemoveColumn(schema.ColumnKey) error                    { panic("not needed") }
func (f *fakeTable) RenameColumn(schema.ColumnKey, string) error            { panic("not needed") }
func (f *fakeTable) SetNullability(schema.ColumnKey, bool, bool) error      { panic("not needed") }
func (f *fakeTable) PrimaryKeyColumn() (schema.ColumnKey, bool)             { panic("not needed") }
func (f *fakeTable) SetPrimaryKeyColumn(schema.ColumnKey) error             { panic("not needed") }
func (f *fakeTable) AddSearchIndex(schema.ColumnKey, schema.IndexKind) error {
	panic("not needed")
}
func (f *fakeTable) RemoveSearchIndex(schema.ColumnKey) error { panic("not needed") }

type fakeGroup struct {
	tables map[string]*fakeTable
	order  []string
}

func (g *fakeGroup) Table(name string) (engine.Table, bool) {
	tbl, ok := g.tables[name]
	return tbl, ok
}
func (g *fakeGroup) TableNames() []string { return g.order }
func (g *fakeGroup) AddTable(string, schema.TableType) (engine.Table, error) {
	panic("not needed")
}
func (g *fakeGroup) AddTableWithPrimaryKey(string, string, schema.PropertyType, bool, schema.TableType) (engine.Table, error) {
	panic("not needed")
}
func (g *fakeGroup) GetOrAddTable(string, schema.TableType) (engine.Table, error) {
	panic("not needed")
}
func (g *fakeGroup) RemoveTable(string) error { panic("not needed") }

func TestTableNameForObjectType(t *testing.T) {
	t.Parallel()
	if got := TableNameForObjectType("Dog"); got != "class_Dog" {
		t.Errorf("got %q, want %q", got, "class_Dog")
	}
}

func TestObjectTypeForTableName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		table string
		want  string
	}{
		{"class_Dog", "Dog"},
		{"class_", ""},
		{"sqlite_master", ""},
		{"__metadata", ""},
	}
	for _, tt := range tests {
		if got := ObjectTypeForTableName(tt.table); got != tt.want {
			t.Errorf("ObjectTypeForTableName(%q) = %q, want %q", tt.table, got, tt.want)
		}
	}
}

func TestIsInternalTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		table string
		want  bool
	}{
		{"class_Dog", false},
		{"sqlite_master", true},     // no TablePrefix at all
		{"class___realm_ids", true}, // decodes to "__realm_ids"
	}
	for _, tt := range tests {
		if got := IsInternalTable(tt.table); got != tt.want {
			t.Errorf("IsInternalTable(%q) = %v, want %v", tt.table, got, tt.want)
		}
	}
}

func TestTableNameRoundTrip(t *testing.T) {
	t.Parallel()
	objectType := "Person"
	if got := ObjectTypeForTableName(TableNameForObjectType(objectType)); got != objectType {
		t.Errorf("round trip: got %q, want %q", got, objectType)
	}
}

func TestIsEmpty_AllTablesEmpty(t *testing.T) {
	g := &fakeGroup{
		order: []string{"class_Dog", "class_Cat"},
		tables: map[string]*fakeTable{
			"class_Dog": {name: "class_Dog", rowCount: 0},
			"class_Cat": {name: "class_Cat", rowCount: 0},
		},
	}
	empty, err := IsEmpty(g)
	if err != nil {
		t.Fatalf("IsEmpty failed: %v", err)
	}
	if !empty {
		t.Error("IsEmpty should report true when every table has zero rows")
	}
}

func TestIsEmpty_OneTableHasRows(t *testing.T) {
	g := &fakeGroup{
		order: []string{"class_Dog"},
		tables: map[string]*fakeTable{
			"class_Dog": {name: "class_Dog", rowCount: 3},
		},
	}
	empty, err := IsEmpty(g)
	if err != nil {
		t.Fatalf("IsEmpty failed: %v", err)
	}
	if empty {
		t.Error("IsEmpty should report false when a table has rows")
	}
}

func TestIsEmpty_IgnoresInternalTables(t *testing.T) {
	g := &fakeGroup{
		order: []string{"__metadata", "class_Dog"},
		tables: map[string]*fakeTable{
			"__metadata": {name: "__metadata", rowCount: 100},
			"class_Dog":  {name: "class_Dog", rowCount: 0},
		},
	}
	empty, err := IsEmpty(g)
	if err != nil {
		t.Fatalf("IsEmpty failed: %v", err)
	}
	if !empty {
		t.Error("IsEmpty should ignore internal tables entirely")
	}
}
