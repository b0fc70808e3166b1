// Package classifier implements the change classifier: given a current and
// a target Schema, it produces a deterministic, ordered sequence of
// schema.Change values.
package classifier

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/arkilian/schemaengine/pkg/schema"
)

// Compare classifies the difference between current and target. The
// result is deterministic: identical inputs always produce a
// byte-identical (field-for-field identical) sequence.
//
// Per-object-type diffing fans out to one goroutine per object-type name,
// with no concurrency limit, since each object type's diff is independent
// of every other's, but the fan-out never leaks into the observable order:
// each result lands in a slice slot given by its name's position in the
// sorted name list, and the slots are concatenated in that order.
func Compare(current, target schema.Schema) ([]schema.Change, error) {
	names := unionNames(current, target)

	perObject := make([][]schema.Change, len(names))
	g, _ := errgroup.WithContext(context.Background())
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			cur, _ := current.Find(name)
			tgt, _ := target.Find(name)
			perObject[i] = diffObject(name, cur, tgt)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []schema.Change
	for _, changes := range perObject {
		out = append(out, changes...)
	}
	return out, nil
}

func unionNames(a, b schema.Schema) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, n := range a.Names() {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	for _, n := range b.Names() {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// diffObject classifies the delta for one object type. Per the ordering
// contract (§4.3): AddTable strictly precedes AddInitialProperties, which
// strictly precedes any other per-property change against the same table.
func diffObject(name string, cur, tgt *schema.ObjectSchema) []schema.Change {
	switch {
	case cur == nil && tgt == nil:
		return nil
	case cur == nil && tgt != nil:
		return []schema.Change{
			{Kind: schema.AddTable, Object: name},
			{Kind: schema.AddInitialProperties, Object: name},
		}
	case cur != nil && tgt == nil:
		return []schema.Change{{Kind: schema.RemoveTable, Object: name}}
	}

	var changes []schema.Change

	if cur.TableType != tgt.TableType {
		changes = append(changes, schema.Change{
			Kind:         schema.ChangeTableType,
			Object:       name,
			OldTableType: cur.TableType,
			NewTableType: tgt.TableType,
		})
	}

	curProps := propsByName(cur)
	tgtProps := propsByName(tgt)

	for _, pname := range sortedKeys(curProps) {
		if _, ok := tgtProps[pname]; !ok {
			changes = append(changes, schema.Change{Kind: schema.RemoveProperty, Object: name, Property: curProps[pname]})
		}
	}

	for _, pname := range sortedKeys(tgtProps) {
		cp, inCur := curProps[pname]
		tp := tgtProps[pname]

		if !inCur {
			changes = append(changes, schema.Change{Kind: schema.AddProperty, Object: name, Property: tp})
			continue
		}

		if cp.Type.Base() != tp.Type.Base() || cp.ObjectType != tp.ObjectType {
			changes = append(changes, schema.Change{
				Kind: schema.ChangePropertyType, Object: name,
				OldProperty: cp, NewProperty: tp,
			})
			continue // a type change subsumes nullability/index deltas for this property
		}

		if !cp.Type.IsNullable() && tp.Type.IsNullable() {
			changes = append(changes, schema.Change{Kind: schema.MakePropertyNullable, Object: name, Property: tp})
		} else if cp.Type.IsNullable() && !tp.Type.IsNullable() {
			changes = append(changes, schema.Change{Kind: schema.MakePropertyRequired, Object: name, Property: tp})
		}

		if !cp.RequiresIndex && tp.RequiresIndex {
			changes = append(changes, schema.Change{Kind: schema.AddIndex, Object: name, Property: tp, IndexKind: schema.IndexGeneral})
		} else if cp.RequiresIndex && !tp.RequiresIndex {
			changes = append(changes, schema.Change{Kind: schema.RemoveIndex, Object: name, Property: tp})
		}
		if !cp.RequiresFullTextIndex && tp.RequiresFullTextIndex {
			changes = append(changes, schema.Change{Kind: schema.AddIndex, Object: name, Property: tp, IndexKind: schema.IndexFullText})
		} else if cp.RequiresFullTextIndex && !tp.RequiresFullTextIndex {
			changes = append(changes, schema.Change{Kind: schema.RemoveIndex, Object: name, Property: tp})
		}
	}

	if cur.PrimaryKey != tgt.PrimaryKey {
		prop, has := tgt.PrimaryKeyProperty()
		changes = append(changes, schema.Change{
			Kind: schema.ChangePrimaryKey, Object: name,
			Property: prop, HasProperty: has,
		})
	}

	return changes
}

func propsByName(o *schema.ObjectSchema) map[string]schema.Property {
	m := make(map[string]schema.Property, len(o.PersistedProperties))
	for _, p := range o.PersistedProperties {
		m[p.Name] = p
	}
	return m
}

func sortedKeys(m map[string]schema.Property) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
