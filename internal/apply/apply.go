// Package apply implements the five applicators, property renaming, and
// the apply_schema_changes driver that sequences them around an optional
// user migration callback.
package apply

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/arkilian/schemaengine/internal/classifier"
	"github.com/arkilian/schemaengine/internal/codec"
	"github.com/arkilian/schemaengine/internal/engine"
	"github.com/arkilian/schemaengine/internal/metadata"
	"github.com/arkilian/schemaengine/internal/schemaerr"
	"github.com/arkilian/schemaengine/internal/verify"
	"github.com/arkilian/schemaengine/pkg/schema"
)

// MigrationFunc is the user-supplied callback. It runs synchronously
// inside the caller's write transaction, between the pre- and
// post-migration applicators, and may call RenameProperty. It must not
// commit tx.
type MigrationFunc func(tx engine.Transaction, target *schema.Schema) error

// Options carries the flags the driver threads through to the
// applicators.
type Options struct {
	// UpdateIndexes controls whether apply_additive_changes touches index
	// state at all (an additive caller may want to skip index syncing for
	// speed and let it happen lazily elsewhere).
	UpdateIndexes bool
	// HandleBacklinksAutomatically is passed through to the storage engine
	// when a ChangeTableType converts a table to Embedded.
	HandleBacklinksAutomatically bool
	// SetSchemaVersionOnVersionDecrease permits apply_additive_changes to
	// write a version even when it is lower than the one on disk — an
	// escape hatch for callers intentionally reopening an older schema.
	SetSchemaVersionOnVersionDecrease bool
}

// ApplySchemaChanges is the canonical driver. changes must be
// classifier.Compare(current, target); current and target are the Schemas
// that produced it. The versionless (including ReadOnly), Manual and
// migration paths write target's version exactly once; the additive path
// writes it only as maybeWriteVersion allows, and the path where the stored
// version already equals target leaves the version row untouched.
func ApplySchemaChanges(tx engine.Transaction, current, target schema.Schema, changes []schema.Change,
	mode schema.Mode, targetVersion uint64, callback MigrationFunc, opts Options) error {

	start := time.Now()
	defer func() {
		log.Printf("schemaengine: apply_schema_changes(mode=%s) took %s", mode, time.Since(start))
	}()

	if err := metadata.CreateMetadataTables(tx); err != nil {
		return err
	}

	if mode.IsAdditive() {
		hasWork, err := verify.ValidAdditiveChanges(changes, opts.UpdateIndexes)
		if err != nil {
			return err
		}
		if hasWork {
			if err := applyAdditiveChanges(tx, target, changes, opts.UpdateIndexes); err != nil {
				return err
			}
		}
		if err := maybeWriteVersion(tx, targetVersion, opts.SetSchemaVersionOnVersionDecrease); err != nil {
			return err
		}
		return metadata.SetSchemaKeys(tx, &target)
	}

	version, err := metadata.GetSchemaVersion(tx)
	if err != nil {
		return err
	}

	if version == metadata.NotVersioned {
		if mode != schema.ModeReadOnly {
			if err := createInitialTables(tx, target, changes); err != nil {
				return err
			}
		} else if empty, err := codec.IsEmpty(tx); err == nil {
			// ReadOnly never writes tables here regardless of this result;
			// logged so an empty-but-versionless open is distinguishable
			// from one carrying unexpected data.
			log.Printf("schemaengine: opening versionless file in ReadOnly mode, group empty=%v", empty)
		}
		if err := metadata.SetSchemaVersion(tx, targetVersion); err != nil {
			return err
		}
		return metadata.SetSchemaKeys(tx, &target)
	}

	if mode == schema.ModeManual {
		if callback != nil {
			if err := callback(tx, &target); err != nil {
				return err
			}
		}
		live, err := metadata.SchemaFromGroup(tx)
		if err != nil {
			return err
		}
		postChanges, err := classifier.Compare(live, target)
		if err != nil {
			return err
		}
		if err := verify.NoChangesRequired(postChanges); err != nil {
			return err
		}
		if err := tx.ValidatePrimaryColumns(); err != nil {
			return err
		}
		if err := metadata.SetSchemaKeys(tx, &target); err != nil {
			return err
		}
		return metadata.SetSchemaVersion(tx, targetVersion)
	}

	if version == targetVersion {
		if err := applyNonMigrationChanges(tx, target, changes); err != nil {
			return err
		}
		return metadata.SetSchemaKeys(tx, &target)
	}

	// Migration path.
	oldSchema, err := metadata.SchemaFromGroup(tx)
	if err != nil {
		return err
	}
	if err := applyPreMigrationChanges(tx, target, changes); err != nil {
		return err
	}

	if callback != nil {
		if err := metadata.SetSchemaKeys(tx, &target); err != nil {
			return err
		}
		if err := callback(tx, &target); err != nil {
			return err
		}
		live, err := metadata.SchemaFromGroup(tx) // re-read: the callback may have mutated anything
		if err != nil {
			return err
		}
		postChanges, err := classifier.Compare(live, target)
		if err != nil {
			return err
		}
		if err := applyPostMigrationChanges(tx, target, postChanges, oldSchema, true, opts.HandleBacklinksAutomatically); err != nil {
			return err
		}
		if err := tx.ValidatePrimaryColumns(); err != nil {
			return err
		}
	} else {
		if err := applyPostMigrationChanges(tx, target, changes, schema.Schema{}, false, opts.HandleBacklinksAutomatically); err != nil {
			return err
		}
	}

	if err := metadata.SetSchemaVersion(tx, targetVersion); err != nil {
		return err
	}
	if err := metadata.SetSchemaKeys(tx, &target); err != nil {
		return err
	}
	if recorder, ok := tx.(engine.SnapshotRecorder); ok {
		if blob, err := json.Marshal(summarize(target)); err == nil {
			_ = recorder.RecordSchemaSnapshot(targetVersion, blob)
		}
	}
	return nil
}

func maybeWriteVersion(tx engine.Transaction, targetVersion uint64, setOnDecrease bool) error {
	version, err := metadata.GetSchemaVersion(tx)
	if err != nil {
		return err
	}
	if version < targetVersion || version == metadata.NotVersioned || setOnDecrease {
		return metadata.SetSchemaVersion(tx, targetVersion)
	}
	return nil
}

// summarize reduces a Schema to a JSON-friendly shape for snapshotting;
// opaque keys are omitted since they are rebinding artifacts, not part of
// the logical schema being recorded for postmortem diagnosis.
func summarize(s schema.Schema) map[string]any {
	out := make(map[string]any)
	for _, o := range s.Objects() {
		props := make([]string, 0, len(o.PersistedProperties))
		for _, p := range o.PersistedProperties {
			props = append(props, fmt.Sprintf("%s:%s", p.Name, p.Type))
		}
		out[o.Name] = props
	}
	return out
}

// --- helpers shared by the applicators -------------------------------------

func tableFor(tx engine.Transaction, objectType string) (engine.Table, bool) {
	return tx.Table(codec.TableNameForObjectType(objectType))
}

// addPropertyColumn materializes one property as a physical column (or
// link column for Object-typed properties) plus whichever search indexes
// it declares. LinkingObjects properties are computed and never
// materialized.
func addPropertyColumn(tbl engine.Table, p schema.Property) error {
	if p.Type.Base() == schema.TypeLinkingObjects {
		return nil
	}

	var key schema.ColumnKey
	var err error
	if p.Type.Base() == schema.TypeObject {
		key, err = tbl.AddLinkColumn(p.Name, codec.TableNameForObjectType(p.ObjectType))
	} else {
		key, err = tbl.AddColumn(p.Name, p.Type, p.Type.IsNullable())
	}
	if err != nil {
		return err
	}

	if p.RequiresIndex {
		if err := tbl.AddSearchIndex(key, schema.IndexGeneral); err != nil {
			return err
		}
	}
	if p.RequiresFullTextIndex {
		if err := tbl.AddSearchIndex(key, schema.IndexFullText); err != nil {
			return err
		}
	}
	return nil
}

func addTable(tx engine.Transaction, target schema.Schema, objectType string) (engine.Table, error) {
	obj, ok := target.Find(objectType)
	if !ok {
		return nil, schemaerr.InvalidSchemaChange(
			fmt.Sprintf("Class '%s' is not present in the target schema.", objectType), nil)
	}
	tableName := codec.TableNameForObjectType(objectType)

	if obj.PrimaryKey != "" {
		pk, has := obj.PrimaryKeyProperty()
		if !has {
			return nil, schemaerr.InvalidProperty(
				fmt.Sprintf("Primary key '%s' for class '%s' is not a declared property.", obj.PrimaryKey, objectType))
		}
		return tx.AddTableWithPrimaryKey(tableName, pk.Name, pk.Type, pk.Type.IsNullable(), obj.TableType)
	}
	return tx.AddTable(tableName, obj.TableType)
}

// addInitialProperties adds every persisted property of objectType except
// the primary key column, which AddTable already created.
func addInitialProperties(tx engine.Transaction, target schema.Schema, objectType string) error {
	obj, ok := target.Find(objectType)
	if !ok {
		return nil
	}
	tbl, ok := tableFor(tx, objectType)
	if !ok {
		return schemaerr.NoSuchTable(fmt.Sprintf("No such table for class '%s'.", objectType))
	}
	for _, p := range obj.PersistedProperties {
		if p.Name == obj.PrimaryKey {
			continue
		}
		if err := addPropertyColumn(tbl, p); err != nil {
			return err
		}
	}
	return nil
}

func columnKeyFor(tbl engine.Table, name string) (schema.ColumnKey, bool) {
	col, ok := tbl.Column(name)
	if !ok {
		return 0, false
	}
	return col.Key, true
}

// --- create_initial_tables --------------------------------------------------

// createInitialTables handles a brand-new file (version == NotVersioned).
// Every variant is implemented here, not only AddTable/AddInitialProperties,
// to tolerate slightly malformed files produced by older writers (§4.5).
func createInitialTables(tx engine.Transaction, target schema.Schema, changes []schema.Change) error {
	for _, c := range changes {
		if err := applyAnyChange(tx, target, c); err != nil {
			return err
		}
	}
	return nil
}

// applyAnyChange executes every variant unconditionally; only
// create_initial_tables uses it, since a brand-new file may legitimately
// need any change kind applied in one pass.
func applyAnyChange(tx engine.Transaction, target schema.Schema, c schema.Change) error {
	switch c.Kind {
	case schema.AddTable:
		_, err := addTable(tx, target, c.Object)
		return err
	case schema.AddInitialProperties:
		return addInitialProperties(tx, target, c.Object)
	case schema.RemoveTable:
		return tx.RemoveTable(codec.TableNameForObjectType(c.Object))
	case schema.ChangeTableType:
		return changeTableType(tx, c, true)
	case schema.AddProperty:
		return addProperty(tx, c)
	case schema.RemoveProperty:
		return removeProperty(tx, c)
	case schema.ChangePropertyType:
		return changePropertyType(tx, c)
	case schema.MakePropertyNullable:
		return makePropertyNullable(tx, c)
	case schema.MakePropertyRequired:
		return makePropertyRequired(tx, c)
	case schema.ChangePrimaryKey:
		return changePrimaryKey(tx, c)
	case schema.AddIndex:
		return addIndex(tx, c)
	case schema.RemoveIndex:
		return removeIndex(tx, c)
	default:
		return schemaerr.IllegalOperation(fmt.Sprintf("unreachable schema change kind %s", c.Kind))
	}
}

func changeTableType(tx engine.Transaction, c schema.Change, handleBacklinksAutomatically bool) error {
	tbl, ok := tableFor(tx, c.Object)
	if !ok {
		return schemaerr.NoSuchTable(fmt.Sprintf("No such table for class '%s'.", c.Object))
	}
	return tbl.SetTableType(c.NewTableType, handleBacklinksAutomatically)
}

func addProperty(tx engine.Transaction, c schema.Change) error {
	tbl, ok := tableFor(tx, c.Object)
	if !ok {
		return schemaerr.NoSuchTable(fmt.Sprintf("No such table for class '%s'.", c.Object))
	}
	return addPropertyColumn(tbl, c.Property)
}

func removeProperty(tx engine.Transaction, c schema.Change) error {
	tbl, ok := tableFor(tx, c.Object)
	if !ok {
		return nil // table already gone; nothing to remove
	}
	key, ok := columnKeyFor(tbl, c.Property.Name)
	if !ok {
		return nil // already removed
	}
	return tbl.RemoveColumn(key)
}

// changePropertyType removes the old column and re-adds it under the new
// type — data is lost, per §4.5's explicit note.
func changePropertyType(tx engine.Transaction, c schema.Change) error {
	tbl, ok := tableFor(tx, c.Object)
	if !ok {
		return schemaerr.NoSuchTable(fmt.Sprintf("No such table for class '%s'.", c.Object))
	}
	if key, ok := columnKeyFor(tbl, c.OldProperty.Name); ok {
		if err := tbl.RemoveColumn(key); err != nil {
			return err
		}
	}
	return addPropertyColumn(tbl, c.NewProperty)
}

func makePropertyNullable(tx engine.Transaction, c schema.Change) error {
	tbl, ok := tableFor(tx, c.Object)
	if !ok {
		return schemaerr.NoSuchTable(fmt.Sprintf("No such table for class '%s'.", c.Object))
	}
	key, ok := columnKeyFor(tbl, c.Property.Name)
	if !ok {
		return schemaerr.InvalidProperty(fmt.Sprintf("Property '%s.%s' does not exist.", c.Object, c.Property.Name))
	}
	return tbl.SetNullability(key, true, false)
}

// makePropertyRequired removes and re-adds the column required — data is
// lost, per §4.5's explicit note (in-place narrowing cannot validate
// existing nulls without a full table scan the engine contract does not
// expose).
func makePropertyRequired(tx engine.Transaction, c schema.Change) error {
	tbl, ok := tableFor(tx, c.Object)
	if !ok {
		return schemaerr.NoSuchTable(fmt.Sprintf("No such table for class '%s'.", c.Object))
	}
	if key, ok := columnKeyFor(tbl, c.Property.Name); ok {
		if err := tbl.RemoveColumn(key); err != nil {
			return err
		}
	}
	required := c.Property
	required.Type = required.Type.WithNullable(false)
	return addPropertyColumn(tbl, required)
}

func changePrimaryKey(tx engine.Transaction, c schema.Change) error {
	tbl, ok := tableFor(tx, c.Object)
	if !ok {
		return schemaerr.NoSuchTable(fmt.Sprintf("No such table for class '%s'.", c.Object))
	}
	if !c.HasProperty {
		return tbl.SetPrimaryKeyColumn(schema.NoColumnKey)
	}
	key, ok := columnKeyFor(tbl, c.Property.Name)
	if !ok {
		return schemaerr.InvalidProperty(fmt.Sprintf("Primary key property '%s.%s' does not exist.", c.Object, c.Property.Name))
	}
	return tbl.SetPrimaryKeyColumn(key)
}

func addIndex(tx engine.Transaction, c schema.Change) error {
	tbl, ok := tableFor(tx, c.Object)
	if !ok {
		return schemaerr.NoSuchTable(fmt.Sprintf("No such table for class '%s'.", c.Object))
	}
	key, ok := columnKeyFor(tbl, c.Property.Name)
	if !ok {
		return schemaerr.InvalidProperty(fmt.Sprintf("Property '%s.%s' does not exist.", c.Object, c.Property.Name))
	}
	return tbl.AddSearchIndex(key, c.IndexKind)
}

func removeIndex(tx engine.Transaction, c schema.Change) error {
	tbl, ok := tableFor(tx, c.Object)
	if !ok {
		return nil
	}
	key, ok := columnKeyFor(tbl, c.Property.Name)
	if !ok {
		return nil
	}
	return tbl.RemoveSearchIndex(key)
}

// --- apply_non_migration_changes --------------------------------------------

// applyNonMigrationChanges is used when the stored version already equals
// the target version: only the silently-allowed additive set may appear.
// verify.NoMigrationRequired reports every other change as SchemaMismatch
// before anything is applied.
func applyNonMigrationChanges(tx engine.Transaction, target schema.Schema, changes []schema.Change) error {
	if err := verify.NoMigrationRequired(changes); err != nil {
		return err
	}
	for _, c := range changes {
		switch c.Kind {
		case schema.AddTable:
			if _, err := addTable(tx, target, c.Object); err != nil {
				return err
			}
		case schema.AddInitialProperties:
			if err := addInitialProperties(tx, target, c.Object); err != nil {
				return err
			}
		case schema.AddIndex:
			if err := addIndex(tx, c); err != nil {
				return err
			}
		case schema.RemoveIndex:
			if err := removeIndex(tx, c); err != nil {
				return err
			}
		default:
			return schemaerr.SchemaMismatch(
				"The following changes require a migration but none was performed:",
				[]string{describeForError(c)},
			)
		}
	}
	return nil
}

func describeForError(c schema.Change) string {
	// Uses the verifiers' wording so every mismatch bullet reads the same.
	return verify.Describe(c)
}

// --- apply_additive_changes --------------------------------------------------

// applyAdditiveChanges executes AddTable, AddInitialProperties, AddProperty,
// and — only if updateIndexes — AddIndex/RemoveIndex. RemoveProperty is
// silently ignored; every migration-requiring variant is a silent no-op
// (the verifier has already guaranteed they cannot matter here).
func applyAdditiveChanges(tx engine.Transaction, target schema.Schema, changes []schema.Change, updateIndexes bool) error {
	for _, c := range changes {
		switch c.Kind {
		case schema.AddTable:
			if _, err := addTable(tx, target, c.Object); err != nil {
				return err
			}
		case schema.AddInitialProperties:
			if err := addInitialProperties(tx, target, c.Object); err != nil {
				return err
			}
		case schema.AddProperty:
			if err := addProperty(tx, c); err != nil {
				return err
			}
		case schema.AddIndex:
			if updateIndexes {
				if err := addIndex(tx, c); err != nil {
					return err
				}
			}
		case schema.RemoveIndex:
			if updateIndexes {
				if err := removeIndex(tx, c); err != nil {
					return err
				}
			}
		case schema.RemoveProperty:
			// silently ignored
		default:
			// migration-requiring variant: silent no-op
		}
	}
	return nil
}

// --- apply_pre_migration_changes --------------------------------------------

// applyPreMigrationChanges runs before the user callback. It defers
// ChangeTableType and RemoveProperty to apply_post_migration_changes; for
// ChangePrimaryKey it clears the primary key now (final rebinding happens
// post-migration).
func applyPreMigrationChanges(tx engine.Transaction, target schema.Schema, changes []schema.Change) error {
	for _, c := range changes {
		switch c.Kind {
		case schema.AddTable:
			if _, err := addTable(tx, target, c.Object); err != nil {
				return err
			}
		case schema.AddInitialProperties:
			if err := addInitialProperties(tx, target, c.Object); err != nil {
				return err
			}
		case schema.AddProperty:
			if err := addProperty(tx, c); err != nil {
				return err
			}
		case schema.ChangePropertyType:
			if err := changePropertyType(tx, c); err != nil {
				return err
			}
		case schema.MakePropertyNullable:
			if err := makePropertyNullable(tx, c); err != nil {
				return err
			}
		case schema.MakePropertyRequired:
			if err := makePropertyRequired(tx, c); err != nil {
				return err
			}
		case schema.AddIndex:
			if err := addIndex(tx, c); err != nil {
				return err
			}
		case schema.RemoveIndex:
			if err := removeIndex(tx, c); err != nil {
				return err
			}
		case schema.ChangePrimaryKey:
			tbl, ok := tableFor(tx, c.Object)
			if ok {
				if err := tbl.SetPrimaryKeyColumn(schema.NoColumnKey); err != nil {
					return err
				}
			}
		case schema.RemoveTable:
			// Safe to drop immediately: nothing downstream can observe a
			// rename against a table that no longer exists.
			if err := tx.RemoveTable(codec.TableNameForObjectType(c.Object)); err != nil {
				return err
			}
		case schema.ChangeTableType, schema.RemoveProperty:
			// deferred to apply_post_migration_changes
		}
	}
	return nil
}

// --- apply_post_migration_changes -------------------------------------------

// applyPostMigrationChanges runs after the user callback, against a
// possibly-rediscovered change sequence. didRereadSchema gates
// AddInitialProperties (meaningless unless the schema was actually
// re-read); oldSchema is used to validate RemoveProperty against a
// dangling rename. ChangePrimaryKey performs the final rebind here, after
// applyPreMigrationChanges cleared it.
func applyPostMigrationChanges(tx engine.Transaction, target schema.Schema, changes []schema.Change,
	oldSchema schema.Schema, didRereadSchema bool, handleBacklinksAutomatically bool) error {

	for _, c := range changes {
		switch c.Kind {
		case schema.AddInitialProperties:
			if didRereadSchema {
				if err := addInitialProperties(tx, target, c.Object); err != nil {
					return err
				}
			}
		case schema.ChangeTableType:
			if err := changeTableType(tx, c, handleBacklinksAutomatically); err != nil {
				return err
			}
		case schema.ChangePrimaryKey:
			if err := changePrimaryKey(tx, c); err != nil {
				return err
			}
		case schema.RemoveProperty:
			if didRereadSchema {
				obj, ok := oldSchema.Find(c.Object)
				if !ok {
					return schemaerr.InvalidProperty(
						fmt.Sprintf("Renamed property '%s.%s' does not exist.", c.Object, c.Property.Name))
				}
				if _, has := obj.Property(c.Property.Name); !has {
					return schemaerr.InvalidProperty(
						fmt.Sprintf("Renamed property '%s.%s' does not exist.", c.Object, c.Property.Name))
				}
			}
			if err := removeProperty(tx, c); err != nil {
				return err
			}
		default:
			// everything else was either already applied pre-migration or
			// is a structural no-op in this phase.
		}
	}
	return nil
}

// --- rename_property ---------------------------------------------------------

// RenameProperty preserves column data across a rename. Called from inside
// a migration callback. Preconditions checked in order per §4.7; step 5
// ("if the on-disk table does not yet declare new_name") is a deliberate
// early return supporting a multi-step rename across two migrations.
func RenameProperty(tx engine.Transaction, target *schema.Schema, objectType, oldName, newName string) error {
	tableName := codec.TableNameForObjectType(objectType)
	tbl, ok := tx.Table(tableName)
	if !ok {
		return schemaerr.NoSuchTable(fmt.Sprintf("No such table for object type '%s'.", objectType))
	}

	obj, ok := target.Find(objectType)
	if !ok {
		return schemaerr.InvalidProperty(fmt.Sprintf("Type '%s' does not exist in the target schema.", objectType))
	}

	if _, has := obj.Property(oldName); has {
		return schemaerr.InvalidProperty(fmt.Sprintf(
			"Cannot rename property '%s.%s' to '%s' because the target schema still declares '%s.%s'.",
			objectType, oldName, newName, objectType, oldName))
	}

	oldCol, ok := tbl.Column(oldName)
	if !ok {
		return schemaerr.InvalidProperty(fmt.Sprintf("Renamed property '%s.%s' does not exist.", objectType, oldName))
	}

	newCol, newExists := tbl.Column(newName)
	if !newExists {
		// Multi-step rename: the target's new name has not reached the
		// on-disk table yet. Rename now and stop; a later migration will
		// see old_name gone and new_name already correct.
		if err := tbl.RenameColumn(oldCol.Key, newName); err != nil {
			return err
		}
		patchColumnKey(obj, newName, oldCol.Key)
		return nil
	}

	if oldCol.Type.Base() != newCol.Type.Base() || oldCol.ObjectType != newCol.ObjectType {
		return schemaerr.InvalidProperty(fmt.Sprintf(
			"Cannot rename property '%s.%s' to '%s' because it would change from type '%s' to '%s'.",
			objectType, oldName, newName, oldCol.Type, newCol.Type))
	}

	if oldCol.Nullable && !newCol.Nullable {
		return schemaerr.InvalidProperty(fmt.Sprintf(
			"Cannot rename property '%s.%s' to '%s' because it would change from optional to required.",
			objectType, oldName, newName))
	}
	widenAfterReuse := !oldCol.Nullable && newCol.Nullable

	if err := tbl.RemoveColumn(newCol.Key); err != nil {
		return err
	}
	if err := tbl.RenameColumn(oldCol.Key, newName); err != nil {
		return err
	}
	if widenAfterReuse {
		if err := tbl.SetNullability(oldCol.Key, true, false); err != nil {
			return err
		}
	}
	patchColumnKey(obj, newName, oldCol.Key)
	return nil
}

func patchColumnKey(obj *schema.ObjectSchema, name string, key schema.ColumnKey) {
	for i := range obj.PersistedProperties {
		if obj.PersistedProperties[i].Name == name {
			obj.PersistedProperties[i].ColumnKey = key
			return
		}
	}
}
