package schema

import "testing"

func TestKeyGenerator_TableKeyFor_Deterministic(t *testing.T) {
	t.Parallel()
	g1 := NewKeyGenerator()
	g2 := NewKeyGenerator()

	if g1.TableKeyFor("Dog") != g2.TableKeyFor("Dog") {
		t.Error("first-generation keys for the same name should match across generators")
	}
}

func TestKeyGenerator_TableKeyFor_DiffersPerGeneration(t *testing.T) {
	t.Parallel()
	g := NewKeyGenerator()

	first := g.TableKeyFor("Dog")
	second := g.TableKeyFor("Dog")

	if first == second {
		t.Error("re-adding a dropped table must not reuse its previous key")
	}
	if first == NoTableKey || second == NoTableKey {
		t.Error("generated keys must never equal the zero/unbound sentinel")
	}
}

func TestKeyGenerator_ColumnKeyFor_DiffersPerColumnAndTable(t *testing.T) {
	t.Parallel()
	g := NewKeyGenerator()

	dogName := g.ColumnKeyFor("Dog", "name")
	dogAge := g.ColumnKeyFor("Dog", "age")
	catName := g.ColumnKeyFor("Cat", "name")

	if dogName == dogAge {
		t.Error("different columns on the same table must get different keys")
	}
	if dogName == catName {
		t.Error("the same column name on different tables must get different keys")
	}
}

func TestKeyGenerator_Independent_Counters(t *testing.T) {
	t.Parallel()
	g := NewKeyGenerator()

	// Bumping Dog's generation should not affect Cat's first key.
	g.TableKeyFor("Dog")
	g.TableKeyFor("Dog")
	catFirst := g.TableKeyFor("Cat")

	g2 := NewKeyGenerator()
	catFirstFresh := g2.TableKeyFor("Cat")

	if catFirst != catFirstFresh {
		t.Error("one name's generation counter must not perturb another name's keys")
	}
}
