package classifier

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/arkilian/schemaengine/pkg/schema"
)

var objectNames = []string{"Dog", "Cat", "Bird", "Fish", "Horse"}

var propertyNames = []string{"name", "age", "weight", "owner", "bio"}

// buildSchema turns a small integer-encoded description into a Schema: one
// object per bit set in presence, each carrying the first propCount
// property names, nullable/indexed per the corresponding flag bits. This
// keeps the generator to plain gen.IntRange/gen.Bool combinators rather
// than reflection-based struct generators.
func buildSchema(presence, propCount int, nullable, indexed bool) schema.Schema {
	var objs []schema.ObjectSchema
	for i, name := range objectNames {
		if presence&(1<<uint(i)) == 0 {
			continue
		}
		n := propCount
		if n > len(propertyNames) {
			n = len(propertyNames)
		}
		props := make([]schema.Property, 0, n)
		for j := 0; j < n; j++ {
			props = append(props, schema.Property{
				Name:          propertyNames[j],
				Type:          schema.TypeString.WithNullable(nullable),
				RequiresIndex: indexed,
			})
		}
		objs = append(objs, schema.ObjectSchema{Name: name, PersistedProperties: props})
	}
	return schema.New(objs...)
}

// TestProperty_CompareDeterministic validates that Compare is a pure
// function of its inputs: running it repeatedly on the same pair of
// schemas always produces the identical change sequence, regardless of
// the classifier's internal goroutine fan-out.
func TestProperty_CompareDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Compare(a, b) is stable across repeated invocations", prop.ForAll(
		func(curPresence, tgtPresence, curProps, tgtProps int, curNullable, tgtNullable, curIndexed, tgtIndexed bool) bool {
			current := buildSchema(curPresence, curProps, curNullable, curIndexed)
			target := buildSchema(tgtPresence, tgtProps, tgtNullable, tgtIndexed)

			first, err := Compare(current, target)
			if err != nil {
				return false
			}
			for i := 0; i < 5; i++ {
				next, err := Compare(current, target)
				if err != nil || len(next) != len(first) {
					return false
				}
				for j := range first {
					if next[j] != first[j] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(0, 1<<len(objectNames)-1),
		gen.IntRange(0, 1<<len(objectNames)-1),
		gen.IntRange(0, len(propertyNames)),
		gen.IntRange(0, len(propertyNames)),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("Compare(a, a) always reports no changes", prop.ForAll(
		func(presence, propCount int, nullable, indexed bool) bool {
			s := buildSchema(presence, propCount, nullable, indexed)
			changes, err := Compare(s, s)
			return err == nil && len(changes) == 0
		},
		gen.IntRange(0, 1<<len(objectNames)-1),
		gen.IntRange(0, len(propertyNames)),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
