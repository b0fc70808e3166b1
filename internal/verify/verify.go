// Package verify implements the five mode-specific legality verifiers.
// Each is a total visitor over every change.Kind: unhandled variants are
// illegal and accumulate into an error list, so the caller sees every
// violation in one throw instead of just the first.
package verify

import (
	"fmt"

	"github.com/arkilian/schemaengine/internal/schemaerr"
	"github.com/arkilian/schemaengine/pkg/schema"
)

// describe renders one change as the human-readable line the original
// object-store's SchemaDifferenceExplainer produces, verbatim down to
// punctuation — these strings are part of the external error contract.
func describe(c schema.Change) string {
	switch c.Kind {
	case schema.AddTable:
		return fmt.Sprintf("Class '%s' has been added.", c.Object)
	case schema.RemoveTable:
		return fmt.Sprintf("Class '%s' has been removed.", c.Object)
	case schema.ChangeTableType:
		return fmt.Sprintf("Class '%s' has been changed from %s to %s.", c.Object, c.OldTableType, c.NewTableType)
	case schema.AddInitialProperties:
		return fmt.Sprintf("Initial properties for class '%s' have been added.", c.Object)
	case schema.AddProperty:
		return fmt.Sprintf("Property '%s.%s' has been added.", c.Object, c.Property.Name)
	case schema.RemoveProperty:
		return fmt.Sprintf("Property '%s.%s' has been removed.", c.Object, c.Property.Name)
	case schema.ChangePropertyType:
		return fmt.Sprintf("Property '%s.%s' has been changed from '%s' to '%s'.",
			c.Object, c.OldProperty.Name, c.OldProperty.Type, c.NewProperty.Type)
	case schema.MakePropertyNullable:
		return fmt.Sprintf("Property '%s.%s' has been made optional.", c.Object, c.Property.Name)
	case schema.MakePropertyRequired:
		return fmt.Sprintf("Property '%s.%s' has been made required.", c.Object, c.Property.Name)
	case schema.ChangePrimaryKey:
		if !c.HasProperty {
			return fmt.Sprintf("Primary Key for class '%s' has been removed.", c.Object)
		}
		return fmt.Sprintf("Primary Key for class '%s' has been added.", c.Object)
	case schema.AddIndex:
		return fmt.Sprintf("Property '%s.%s' has been made indexed.", c.Object, c.Property.Name)
	case schema.RemoveIndex:
		return fmt.Sprintf("Property '%s.%s' has been made unindexed.", c.Object, c.Property.Name)
	default:
		return fmt.Sprintf("Unknown change against class '%s'.", c.Object)
	}
}

// Describe renders one change the same way the verifiers do internally;
// exported for callers (e.g. the schemadiff CLI) that need to print a
// diff without duplicating the message templates.
func Describe(c schema.Change) string { return describe(c) }

func descriptions(changes []schema.Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, describe(c))
	}
	return out
}

func isKindIn(k schema.Kind, allowed ...schema.Kind) bool {
	for _, a := range allowed {
		if k == a {
			return true
		}
	}
	return false
}

func violations(changes []schema.Change, allowed ...schema.Kind) []schema.Change {
	var bad []schema.Change
	for _, c := range changes {
		if !isKindIn(c.Kind, allowed...) {
			bad = append(bad, c)
		}
	}
	return bad
}

// NoChangesRequired is used by Manual mode after the callback runs: no
// change at all is tolerated.
func NoChangesRequired(changes []schema.Change) error {
	if len(changes) == 0 {
		return nil
	}
	return schemaerr.SchemaMismatch(
		"A migration did not make all required changes.",
		descriptions(changes),
	)
}

// NoMigrationRequired is used by Automatic mode when the stored version
// equals the target version: only pure-additive changes are tolerated.
func NoMigrationRequired(changes []schema.Change) error {
	bad := violations(changes, schema.AddTable, schema.AddInitialProperties, schema.AddIndex, schema.RemoveIndex)
	if len(bad) == 0 {
		return nil
	}
	return schemaerr.SchemaMismatch(
		"The following changes cannot be made without a migration:",
		descriptions(bad),
	)
}

// ValidAdditiveChanges is used by AdditiveDiscovered/AdditiveExplicit.
// Besides validating legality, it reports (via the second return value)
// whether there is any work at all for apply_additive_changes to do, per
// the original's `any_other_change || (any_index_change && update_indexes)`
// formula.
func ValidAdditiveChanges(changes []schema.Change, updateIndexes bool) (bool, error) {
	bad := violations(changes, schema.AddTable, schema.AddInitialProperties, schema.AddProperty,
		schema.RemoveProperty, schema.AddIndex, schema.RemoveIndex)
	if len(bad) > 0 {
		msgs := append(descriptions(bad), schemaerr.DevelopmentModeHint)
		return false, schemaerr.InvalidSchemaChange(
			"The following changes cannot be made in additive-only schema mode:",
			msgs,
		)
	}

	var anyOther, anyIndex bool
	for _, c := range changes {
		switch c.Kind {
		case schema.AddIndex, schema.RemoveIndex:
			anyIndex = true
		default:
			anyOther = true
		}
	}
	return anyOther || (anyIndex && updateIndexes), nil
}

// ValidExternalChanges is used when accepting a schema discovered from an
// external writer (e.g. a sync client bootstrapping against a server
// schema): additive changes plus RemoveIndex are tolerated; RemoveTable and
// RemoveProperty are always reported even though they are "merely"
// destructive rather than a structural conflict, because external changes
// must never silently drop a class or a property.
func ValidExternalChanges(changes []schema.Change) error {
	// RemoveTable is excluded from violations here and appended by the loop
	// below, so each RemoveTable is reported once, after the other violations.
	bad := violations(changes, schema.AddTable, schema.AddInitialProperties, schema.AddProperty,
		schema.AddIndex, schema.RemoveIndex, schema.RemoveTable)
	var reported []schema.Change
	reported = append(reported, bad...)
	for _, c := range changes {
		if c.Kind == schema.RemoveTable {
			reported = append(reported, c)
		}
	}
	if len(reported) == 0 {
		return nil
	}
	msgs := descriptions(reported)
	msgs = append(msgs, schemaerr.DevelopmentModeHint)
	return schemaerr.InvalidSchemaChange(
		"The following changes cannot be made when using a synchronized Realm:",
		msgs,
	)
}

// CompatibleForImmutableAndReadonly checks changes for Immutable and
// ReadOnly modes with one allowed set, which includes RemoveProperty and
// ChangeTableType for both modes. Immutable gets no stricter check here or
// elsewhere, and ApplySchemaChanges does not call this function.
func CompatibleForImmutableAndReadonly(changes []schema.Change) error {
	bad := violations(changes, schema.AddTable, schema.AddInitialProperties, schema.ChangeTableType,
		schema.RemoveProperty, schema.AddIndex, schema.RemoveIndex)
	if len(bad) == 0 {
		return nil
	}
	return schemaerr.SchemaMismatch(
		"The following changes cannot be made in read-only schema mode:",
		descriptions(bad),
	)
}
