// Package schema holds the in-memory data model for the schema-evolution
// core: property types, object schemas, and full schemas, plus the opaque
// storage handles they carry once bound to a live group.
package schema

import "sort"

// PropertyType is a bitfield: a base scalar kind composed with collection
// and nullability flags.
type PropertyType uint32

const (
	TypeInt PropertyType = 1 << iota
	TypeBool
	TypeFloat
	TypeDouble
	TypeString
	TypeDate
	TypeData
	TypeObjectID
	TypeDecimal
	TypeUUID
	TypeMixed
	TypeObject
	TypeLinkingObjects

	// Flag bits, placed above the scalar kinds.
	FlagNullable PropertyType = 1 << 20
	FlagArray    PropertyType = 1 << 21
	FlagSet      PropertyType = 1 << 22
	FlagDictionary PropertyType = 1 << 23
)

const baseTypeMask PropertyType = FlagNullable - 1

// Base returns the scalar kind with all flag bits cleared.
func (t PropertyType) Base() PropertyType { return t & baseTypeMask }

func (t PropertyType) HasFlag(flag PropertyType) bool { return t&flag != 0 }

func (t PropertyType) IsNullable() bool { return t.HasFlag(FlagNullable) }

func (t PropertyType) IsCollection() bool {
	return t.HasFlag(FlagArray) || t.HasFlag(FlagSet) || t.HasFlag(FlagDictionary)
}

// WithNullable returns t with the nullable flag set or cleared.
func (t PropertyType) WithNullable(nullable bool) PropertyType {
	if nullable {
		return t | FlagNullable
	}
	return t &^ FlagNullable
}

// String renders the base scalar kind the way diagnostic messages quote it
// ("string", "int", ...), matching the lower-case identifiers the original
// object-store's error templates use.
func (t PropertyType) String() string {
	switch t.Base() {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeDate:
		return "date"
	case TypeData:
		return "data"
	case TypeObjectID:
		return "object id"
	case TypeDecimal:
		return "decimal128"
	case TypeUUID:
		return "uuid"
	case TypeMixed:
		return "mixed"
	case TypeObject:
		return "object"
	case TypeLinkingObjects:
		return "linking objects"
	default:
		return "unknown"
	}
}

// TableType mirrors ObjectSchema.table_type.
type TableType int

const (
	TableTypeTopLevel TableType = iota
	TableTypeTopLevelAsymmetric
	TableTypeEmbedded
)

func (t TableType) String() string {
	switch t {
	case TableTypeTopLevel:
		return "TopLevel"
	case TableTypeTopLevelAsymmetric:
		return "TopLevelAsymmetric"
	case TableTypeEmbedded:
		return "Embedded"
	default:
		return "Unknown"
	}
}

// IndexKind distinguishes a plain search index from a full-text one.
type IndexKind int

const (
	IndexGeneral IndexKind = iota
	IndexFullText
)

// Property is one field of an ObjectSchema, equivalent to a column.
type Property struct {
	Name                 string
	Type                 PropertyType
	ObjectType           string // set when Type.Base() == TypeObject or TypeLinkingObjects
	LinkOriginProperty   string // for LinkingObjects: the property on ObjectType that points back
	IsPrimary            bool
	RequiresIndex        bool
	RequiresFullTextIndex bool

	// ColumnKey is an opaque handle filled in by set_schema_keys once the
	// property is bound to a live table column. Zero means unbound.
	ColumnKey ColumnKey
}

// Equal reports whether two properties are identical for classification
// purposes (ignores ColumnKey, which is a storage-binding artifact, not
// part of the schema's logical shape).
func (p Property) Equal(o Property) bool {
	return p.Name == o.Name &&
		p.Type == o.Type &&
		p.ObjectType == o.ObjectType &&
		p.IsPrimary == o.IsPrimary &&
		p.RequiresIndex == o.RequiresIndex &&
		p.RequiresFullTextIndex == o.RequiresFullTextIndex
}

// ObjectSchema is the named shape of one kind of object — equivalent to a
// table declaration.
type ObjectSchema struct {
	Name                string
	TableType           TableType
	PersistedProperties []Property
	ComputedProperties  []Property
	PrimaryKey          string // property name, or "" for none

	// TableKey is an opaque handle filled in by set_schema_keys.
	TableKey TableKey
}

// Property looks up a persisted or computed property by name.
func (o *ObjectSchema) Property(name string) (Property, bool) {
	for _, p := range o.PersistedProperties {
		if p.Name == name {
			return p, true
		}
	}
	for _, p := range o.ComputedProperties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// PrimaryKeyProperty returns the property marking the primary key, if any.
func (o *ObjectSchema) PrimaryKeyProperty() (Property, bool) {
	if o.PrimaryKey == "" {
		return Property{}, false
	}
	return o.Property(o.PrimaryKey)
}

// Schema is an ordered collection of ObjectSchema, keyed by name.
type Schema struct {
	objects map[string]*ObjectSchema
	order   []string
}

// New builds a Schema from a list of object schemas. Order of iteration
// over Objects() follows insertion order, not name order; Names() gives
// the sorted order that the classifier walks.
func New(objects ...ObjectSchema) Schema {
	s := Schema{objects: make(map[string]*ObjectSchema, len(objects))}
	for i := range objects {
		o := objects[i]
		s.objects[o.Name] = &o
		s.order = append(s.order, o.Name)
	}
	return s
}

// Find returns the object schema named name, if present.
func (s Schema) Find(name string) (*ObjectSchema, bool) {
	o, ok := s.objects[name]
	return o, ok
}

// Objects returns the object schemas in stable, deterministic order: the
// order they were added in. Compare does not depend on this order; it
// walks Names().
func (s Schema) Objects() []*ObjectSchema {
	out := make([]*ObjectSchema, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.objects[name])
	}
	return out
}

// Names returns a sorted copy of the object-type names in the schema. Used
// where a stable, name-based (rather than insertion-based) enumeration is
// required — e.g. diffing two schemas whose insertion orders differ.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of object schemas.
func (s Schema) Len() int { return len(s.objects) }
