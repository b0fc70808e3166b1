package schema

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// TableKey and ColumnKey are opaque storage-engine handles. They are stable
// for the lifetime of the table/column they name, but a column that is
// dropped and re-added (ChangePropertyType, MakePropertyRequired) gets a
// new key — callers must treat a previously observed key as stale once the
// underlying column has been removed, and re-resolve via set_schema_keys.
type TableKey uint64
type ColumnKey uint64

// The zero value of each key type means "unbound".
const (
	NoTableKey  TableKey  = 0
	NoColumnKey ColumnKey = 0
)

// KeyGenerator derives deterministic-but-generation-sensitive keys from
// table/column names. Hashing alone would make every "drop column X, add
// column X back" cycle produce the identical key, which would violate the
// invariant that a stale key must not silently resolve to a newly created
// column; a monotonic per-name generation counter, folded into the hash
// seed, breaks that coincidence.
type KeyGenerator struct {
	mu         sync.Mutex
	generation map[string]uint32
}

// NewKeyGenerator returns a ready-to-use generator.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{generation: make(map[string]uint32)}
}

// TableKeyFor returns a fresh TableKey for the table name, bumping its
// generation counter so a later add-after-remove does not collide.
func (g *KeyGenerator) TableKeyFor(name string) TableKey {
	return TableKey(g.next("table:" + name))
}

// ColumnKeyFor returns a fresh ColumnKey for the qualified "table.column"
// name.
func (g *KeyGenerator) ColumnKeyFor(table, column string) ColumnKey {
	return ColumnKey(g.next("column:" + table + "." + column))
}

func (g *KeyGenerator) next(qualified string) uint64 {
	g.mu.Lock()
	gen := g.generation[qualified]
	g.generation[qualified] = gen + 1
	g.mu.Unlock()

	h := murmur3.New64WithSeed(gen)
	h.Write([]byte(qualified))
	sum := h.Sum64()
	if sum == 0 {
		sum = 1 // zero is reserved for "unbound"
	}
	return sum
}
