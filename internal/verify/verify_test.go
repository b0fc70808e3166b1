package verify

import (
	"strings"
	"testing"

	"github.com/arkilian/schemaengine/pkg/schema"
)

func TestDescribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		change schema.Change
		want   string
	}{
		{"add table", schema.Change{Kind: schema.AddTable, Object: "Dog"}, "Class 'Dog' has been added."},
		{"remove table", schema.Change{Kind: schema.RemoveTable, Object: "Dog"}, "Class 'Dog' has been removed."},
		{
			"change table type",
			schema.Change{Kind: schema.ChangeTableType, Object: "Dog", OldTableType: schema.TableTypeTopLevel, NewTableType: schema.TableTypeEmbedded},
			"Class 'Dog' has been changed from TopLevel to Embedded.",
		},
		{"add initial properties", schema.Change{Kind: schema.AddInitialProperties, Object: "Dog"}, "Initial properties for class 'Dog' have been added."},
		{
			"add property",
			schema.Change{Kind: schema.AddProperty, Object: "Dog", Property: schema.Property{Name: "name"}},
			"Property 'Dog.name' has been added.",
		},
		{
			"remove property",
			schema.Change{Kind: schema.RemoveProperty, Object: "Dog", Property: schema.Property{Name: "name"}},
			"Property 'Dog.name' has been removed.",
		},
		{
			"change property type",
			schema.Change{
				Kind: schema.ChangePropertyType, Object: "Dog",
				OldProperty: schema.Property{Name: "name", Type: schema.TypeString},
				NewProperty: schema.Property{Name: "name", Type: schema.TypeInt},
			},
			"Property 'Dog.name' has been changed from 'string' to 'int'.",
		},
		{
			"make nullable",
			schema.Change{Kind: schema.MakePropertyNullable, Object: "Dog", Property: schema.Property{Name: "name"}},
			"Property 'Dog.name' has been made optional.",
		},
		{
			"make required",
			schema.Change{Kind: schema.MakePropertyRequired, Object: "Dog", Property: schema.Property{Name: "name"}},
			"Property 'Dog.name' has been made required.",
		},
		{
			"primary key added",
			schema.Change{Kind: schema.ChangePrimaryKey, Object: "Dog", HasProperty: true},
			"Primary Key for class 'Dog' has been added.",
		},
		{
			"primary key removed",
			schema.Change{Kind: schema.ChangePrimaryKey, Object: "Dog", HasProperty: false},
			"Primary Key for class 'Dog' has been removed.",
		},
		{
			"add index",
			schema.Change{Kind: schema.AddIndex, Object: "Dog", Property: schema.Property{Name: "name"}},
			"Property 'Dog.name' has been made indexed.",
		},
		{
			"remove index",
			schema.Change{Kind: schema.RemoveIndex, Object: "Dog", Property: schema.Property{Name: "name"}},
			"Property 'Dog.name' has been made unindexed.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Describe(tt.change); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNoChangesRequired(t *testing.T) {
	t.Parallel()
	if err := NoChangesRequired(nil); err != nil {
		t.Errorf("NoChangesRequired(nil) = %v, want nil", err)
	}
	err := NoChangesRequired([]schema.Change{{Kind: schema.AddTable, Object: "Dog"}})
	if err == nil {
		t.Fatal("NoChangesRequired with a pending change should error")
	}
	if !strings.Contains(err.Error(), "A migration did not make all required changes.") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestNoMigrationRequired(t *testing.T) {
	t.Parallel()
	ok := []schema.Change{
		{Kind: schema.AddTable, Object: "Dog"},
		{Kind: schema.AddInitialProperties, Object: "Dog"},
		{Kind: schema.AddIndex, Object: "Dog"},
		{Kind: schema.RemoveIndex, Object: "Dog"},
	}
	if err := NoMigrationRequired(ok); err != nil {
		t.Errorf("NoMigrationRequired with only additive changes = %v, want nil", err)
	}

	bad := append(ok, schema.Change{Kind: schema.AddProperty, Object: "Dog"})
	if err := NoMigrationRequired(bad); err == nil {
		t.Error("NoMigrationRequired with an AddProperty change should error")
	}
}

func TestValidAdditiveChanges(t *testing.T) {
	t.Parallel()
	changes := []schema.Change{
		{Kind: schema.AddTable, Object: "Dog"},
		{Kind: schema.AddInitialProperties, Object: "Dog"},
		{Kind: schema.AddProperty, Object: "Dog"},
	}
	hasWork, err := ValidAdditiveChanges(changes, true)
	if err != nil {
		t.Fatalf("ValidAdditiveChanges returned error: %v", err)
	}
	if !hasWork {
		t.Error("expected hasWork=true when a non-index change is present")
	}

	indexOnly := []schema.Change{{Kind: schema.AddIndex, Object: "Dog"}}
	hasWork, err = ValidAdditiveChanges(indexOnly, false)
	if err != nil {
		t.Fatalf("ValidAdditiveChanges returned error: %v", err)
	}
	if hasWork {
		t.Error("expected hasWork=false for index-only changes with updateIndexes=false")
	}

	hasWork, err = ValidAdditiveChanges(indexOnly, true)
	if err != nil {
		t.Fatalf("ValidAdditiveChanges returned error: %v", err)
	}
	if !hasWork {
		t.Error("expected hasWork=true for index-only changes with updateIndexes=true")
	}

	illegal := []schema.Change{{Kind: schema.ChangePropertyType, Object: "Dog"}}
	if _, err := ValidAdditiveChanges(illegal, true); err == nil {
		t.Error("ValidAdditiveChanges should reject ChangePropertyType")
	}
}

func TestValidExternalChanges(t *testing.T) {
	t.Parallel()
	ok := []schema.Change{
		{Kind: schema.AddTable, Object: "Dog"},
		{Kind: schema.AddInitialProperties, Object: "Dog"},
		{Kind: schema.AddProperty, Object: "Dog"},
		{Kind: schema.RemoveIndex, Object: "Dog"},
	}
	if err := ValidExternalChanges(ok); err != nil {
		t.Errorf("ValidExternalChanges with only tolerated changes = %v, want nil", err)
	}

	withRemoveTable := append(ok, schema.Change{Kind: schema.RemoveTable, Object: "Cat"})
	if err := ValidExternalChanges(withRemoveTable); err == nil {
		t.Error("ValidExternalChanges should always reject RemoveTable")
	}

	withRemoveProperty := append(ok, schema.Change{Kind: schema.RemoveProperty, Object: "Dog"})
	if err := ValidExternalChanges(withRemoveProperty); err == nil {
		t.Error("ValidExternalChanges should reject RemoveProperty")
	}
}

func TestCompatibleForImmutableAndReadonly(t *testing.T) {
	t.Parallel()
	ok := []schema.Change{
		{Kind: schema.AddTable, Object: "Dog"},
		{Kind: schema.AddInitialProperties, Object: "Dog"},
		{Kind: schema.ChangeTableType, Object: "Dog"},
		{Kind: schema.RemoveProperty, Object: "Dog"},
		{Kind: schema.AddIndex, Object: "Dog"},
		{Kind: schema.RemoveIndex, Object: "Dog"},
	}
	if err := CompatibleForImmutableAndReadonly(ok); err != nil {
		t.Errorf("CompatibleForImmutableAndReadonly with tolerated changes = %v, want nil", err)
	}

	bad := append(ok, schema.Change{Kind: schema.AddProperty, Object: "Dog"})
	if err := CompatibleForImmutableAndReadonly(bad); err == nil {
		t.Error("CompatibleForImmutableAndReadonly should reject AddProperty")
	}
}
