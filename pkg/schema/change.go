package schema

// Kind discriminates the SchemaChange variants. Go has no tagged union, so
// a single Change struct carries every variant's fields and Kind says which
// ones are meaningful — the idiomatic substitute for the source's
// visitor-over-a-discriminated-union (see the classifier and applicators,
// which switch exhaustively on Kind).
type Kind int

const (
	AddTable Kind = iota
	RemoveTable
	ChangeTableType
	AddInitialProperties
	AddProperty
	RemoveProperty
	ChangePropertyType
	MakePropertyNullable
	MakePropertyRequired
	ChangePrimaryKey
	AddIndex
	RemoveIndex
)

func (k Kind) String() string {
	switch k {
	case AddTable:
		return "AddTable"
	case RemoveTable:
		return "RemoveTable"
	case ChangeTableType:
		return "ChangeTableType"
	case AddInitialProperties:
		return "AddInitialProperties"
	case AddProperty:
		return "AddProperty"
	case RemoveProperty:
		return "RemoveProperty"
	case ChangePropertyType:
		return "ChangePropertyType"
	case MakePropertyNullable:
		return "MakePropertyNullable"
	case MakePropertyRequired:
		return "MakePropertyRequired"
	case ChangePrimaryKey:
		return "ChangePrimaryKey"
	case AddIndex:
		return "AddIndex"
	case RemoveIndex:
		return "RemoveIndex"
	default:
		return "Unknown"
	}
}

// Change is one atomic delta between two schemas. Fields not relevant to
// Kind are left zero. Object always names the object-type the change
// applies to; Property/OldProperty/NewProperty carry pointers-by-value
// into the compared schemas (copied at classification time, per the design
// note on shared ownership of schema pointers — Go has no dangling-pointer
// risk here since these are value copies, not references into a Schema
// that might be freed).
type Change struct {
	Kind Kind

	Object string

	// ChangeTableType
	OldTableType TableType
	NewTableType TableType

	// AddProperty, RemoveProperty, MakePropertyNullable, MakePropertyRequired,
	// AddIndex, RemoveIndex
	Property Property

	// ChangePropertyType
	OldProperty Property
	NewProperty Property

	// ChangePrimaryKey: HasProperty is false when the change removes the PK.
	HasProperty bool

	// AddIndex
	IndexKind IndexKind
}

// NeedsMigration reports whether changes contains at least one of the
// seven variants whose application requires a migration round-trip, per
// §4.3: AddProperty, RemoveProperty, ChangeTableType, ChangePrimaryKey,
// ChangePropertyType, MakePropertyNullable, MakePropertyRequired.
func NeedsMigration(changes []Change) bool {
	for _, c := range changes {
		switch c.Kind {
		case AddProperty, RemoveProperty, ChangeTableType, ChangePrimaryKey,
			ChangePropertyType, MakePropertyNullable, MakePropertyRequired:
			return true
		}
	}
	return false
}
