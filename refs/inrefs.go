// ABOUTME: Lazily built inverse reference index across a loaded dump
// ABOUTME: Adds synthetic inrefs for named roots and the operand stack
package refs

import (
	"sync"

	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/object"
)

// Inref is one incoming reference to an object: either from a heap object
// (Owner set), a named root (FromRoot), or the operand stack (FromStack).
type Inref struct {
	Owner    object.Address
	Role     string
	Strength Strength

	FromRoot bool
	RootName string

	FromStack bool
}

// InrefIndex is the lazily built, cached inverse of Outrefs across every
// object in a Dump. Build it once per Dump and reuse it; a fresh
// InrefIndex recomputes everything from scratch.
type InrefIndex struct {
	d     *dump.Dump
	once  sync.Once
	index map[object.Address][]Inref
}

// NewInrefIndex creates an index over d. Nothing is computed until the
// first Get call.
func NewInrefIndex(d *dump.Dump) *InrefIndex {
	return &InrefIndex{d: d}
}

func (idx *InrefIndex) build() {
	idx.index = make(map[object.Address][]Inref)
	idx.d.ForEach(func(o *object.Object) {
		for _, r := range Outrefs(idx.d, o) {
			if r.Target == 0 || idx.d.IsImmortal(r.Target) {
				continue
			}
			idx.index[r.Target] = append(idx.index[r.Target], Inref{
				Owner:    o.Address,
				Role:     r.Role,
				Strength: r.Strength,
			})
		}
	})
	for name, addr := range idx.d.Roots {
		if addr == 0 || idx.d.IsImmortal(addr) {
			continue
		}
		idx.index[addr] = append(idx.index[addr], Inref{
			FromRoot: true,
			RootName: name,
			Role:     name,
			Strength: StrengthStrong,
		})
	}
	for _, addr := range idx.d.Stack {
		if addr == 0 || idx.d.IsImmortal(addr) {
			continue
		}
		idx.index[addr] = append(idx.index[addr], Inref{
			FromStack: true,
			Role:      "a value on the stack",
			Strength:  StrengthStrong,
		})
	}
}

// Get returns every inref pointing at addr, building the index on first
// use. Immortal addresses always return nil; the singletons are
// considered referenced from everywhere and nowhere in particular.
func (idx *InrefIndex) Get(addr object.Address) []Inref {
	idx.once.Do(idx.build)
	return idx.index[addr]
}

// Len reports how many distinct objects have at least one inref, forcing
// the index to build if it hasn't already.
func (idx *InrefIndex) Len() int {
	idx.once.Do(idx.build)
	return len(idx.index)
}
