// ABOUTME: Implements the five-category reachability classification
// ABOUTME: Three ordered walks assign each object at most one color

// Package reachability implements the five-category reachability
// classification: three ordered walks over a loaded dump.Dump that
// assign each heap object at most one category, precedence coming purely
// from walk order.
package reachability

import (
	"fmt"

	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/object"
	"github.com/prateek/pmat/refs"
)

// Color is a reachability category. The zero value, None, means an object
// was never reached by any walk.
type Color uint8

const (
	None Color = iota
	Symtab
	User
	Padlist
	Lexical
	Internal
)

func (c Color) String() string {
	switch c {
	case None:
		return "none"
	case Symtab:
		return "symtab"
	case User:
		return "user"
	case Padlist:
		return "padlist"
	case Lexical:
		return "lexical"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("Color(%d)", uint8(c))
	}
}

// Well-known root-table names a producer is expected to supply. Any dump
// that uses different names simply yields more objects unclassified by
// the symtab/user-data walks, picked up by the internal
// walk's "remaining unclassified named roots" seed instead.
const (
	rootDefaultStash = "defstash"
	rootMainCode     = "maincv"
)

// Result is the outcome of Classify: every object's assigned Color, None
// for anything unreached.
type Result struct {
	colors map[object.Address]Color
}

// Color returns addr's assigned category, None if it was never reached.
func (r *Result) Color(addr object.Address) Color {
	return r.colors[addr]
}

// Counts tallies how many addresses fall into each non-None category.
func (r *Result) Counts() map[Color]int {
	counts := make(map[Color]int)
	for _, c := range r.colors {
		counts[c]++
	}
	return counts
}

// classifier carries the shared state across all three walks.
type classifier struct {
	d      *dump.Dump
	colors map[object.Address]Color
}

// assign sets addr's color if it doesn't have one yet, and reports whether
// it did so. A color, once assigned, is never overwritten — this is what
// gives the three walks their precedence.
func (c *classifier) assign(addr object.Address, color Color) bool {
	if addr == 0 {
		return false
	}
	if _, ok := c.colors[addr]; ok {
		return false
	}
	c.colors[addr] = color
	return true
}

// Classify runs the three ordered walks over d and returns every reached
// object's category.
func Classify(d *dump.Dump) *Result {
	c := &classifier{d: d, colors: make(map[object.Address]Color)}

	userSeed := c.symtabWalk()
	c.userDataWalk(userSeed)
	c.internalWalk()

	return &Result{colors: c.colors}
}

// symtabWalk is the first walk, over the symbol table: a recursive descent
// of the package-stash tree starting at the default stash. It returns the
// user-data candidates accumulated along the way, to seed the next walk.
func (c *classifier) symtabWalk() []object.Address {
	var candidates []object.Address
	visitedStash := make(map[object.Address]bool)

	var walkStash func(addr object.Address)
	walkStash = func(addr object.Address) {
		if addr == 0 || visitedStash[addr] {
			return
		}
		visitedStash[addr] = true
		stashObj, ok := c.d.Get(addr)
		if !ok || stashObj.Stash == nil {
			return
		}
		h := &stashObj.Stash.Hash

		for _, key := range h.Keys {
			target := h.Values[key]
			if target == 0 {
				continue
			}
			if len(key) >= 2 && key[len(key)-2:] == "::" {
				if globObj, ok := c.d.Get(target); ok && globObj.Kind == object.KindGlob && globObj.Glob != nil {
					walkStash(globObj.Glob.Hash)
				}
				continue
			}
			valObj, ok := c.d.Get(target)
			if ok && valObj.Kind == object.KindGlob && valObj.Glob != nil {
				c.assign(target, Symtab)
				g := valObj.Glob
				candidates = append(candidates, g.Scalar, g.Array, g.Hash, g.Code, g.IO, g.Form)
				continue
			}
			candidates = append(candidates, target)
		}

		if h.Backrefs != 0 {
			c.assign(h.Backrefs, Internal)
		}
		for _, m := range stashObj.Magic {
			c.assign(m.Obj, Internal)
			c.assign(m.Ptr, Internal)
		}
	}

	walkStash(c.d.Roots[rootDefaultStash])
	return candidates
}

// userDataWalk is the second walk, over user data: breadth-first over
// everything symtabWalk surfaced, plus the main-code CODE object.
func (c *classifier) userDataWalk(seed []object.Address) {
	queue := append([]object.Address{}, seed...)
	queue = append(queue, c.d.Roots[rootMainCode])
	visited := make(map[object.Address]bool)

	enqueue := func(addr object.Address) {
		if addr != 0 {
			queue = append(queue, addr)
		}
	}

	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		if addr == 0 || visited[addr] {
			continue
		}
		visited[addr] = true

		obj, ok := c.d.Get(addr)
		if !ok {
			continue
		}
		c.assign(addr, User)

		switch obj.Kind {
		case object.KindRef:
			if obj.Ref != nil {
				enqueue(obj.Ref.RV)
			}
		case object.KindArray:
			if obj.Array != nil {
				for _, e := range obj.Array.Elements {
					enqueue(e)
				}
			}
		case object.KindHash:
			if obj.Hash != nil {
				for _, v := range obj.Hash.Values {
					enqueue(v)
				}
			}
		case object.KindGlob:
			// Terminal: a GLOB reached from here is expected to carry
			// only an IO slot, already covered by the enqueue that
			// brought us here.
		case object.KindCode:
			c.codeSubstructure(obj, enqueue)
		case object.KindLvalue:
			if obj.Lvalue != nil {
				c.assign(obj.Lvalue.Target, Internal)
			}
		case object.KindIO, object.KindRegexp, object.KindFormat:
			// ignored
		}
	}
}

// codeSubstructure colors a CODE's padlist, padnames, pads, and the
// implicit args array of each pad as Padlist/Internal, colors each pad's
// named slot Lexical (recursing into its value), and each unnamed
// non-empty slot Internal. It then enqueues the CODE's outside scope,
// constant value, and embedded constants/glob-refs for ordinary user-data
// recursion.
func (c *classifier) codeSubstructure(obj *object.Object, enqueue func(object.Address)) {
	code := obj.Code
	if code == nil {
		return
	}

	if code.Padlist != 0 {
		c.assign(code.Padlist, Padlist)
		padlist, ok := c.d.Get(code.Padlist)
		if ok && padlist.Array != nil {
			elements := padlist.Array.Elements
			var padnames *object.Object
			if len(elements) > 0 && elements[0] != 0 {
				c.assign(elements[0], Padlist)
				padnames, _ = c.d.Get(elements[0])
			}
			for depth := 1; depth < len(elements); depth++ {
				c.padSubstructure(elements[depth], padnames, enqueue)
			}
		}
	}

	enqueue(code.Outside)
	enqueue(code.ConstVal)
	for _, addr := range code.Constants {
		enqueue(addr)
	}
	for _, addr := range code.GlobRefs {
		enqueue(addr)
	}
}

// padSubstructure colors a single pad at some call depth Padlist, its
// implicit @_ args array Internal, and walks its slots against the
// parallel padnames array to tell named lexicals (Lexical, recursed as
// user data) from unnamed temporaries (Internal, left alone).
func (c *classifier) padSubstructure(padAddr object.Address, padnames *object.Object, enqueue func(object.Address)) {
	if padAddr == 0 {
		return
	}
	c.assign(padAddr, Padlist)
	pad, ok := c.d.Get(padAddr)
	if !ok || pad.Array == nil {
		return
	}
	elements := pad.Array.Elements
	if len(elements) > 0 {
		c.assign(elements[0], Internal)
	}
	for i := 1; i < len(elements); i++ {
		slot := elements[i]
		if slot == 0 {
			continue
		}
		if c.padSlotIsNamed(padnames, i) {
			c.assign(slot, Lexical)
			enqueue(slot)
			continue
		}
		c.assign(slot, Internal)
	}
}

func (c *classifier) padSlotIsNamed(padnames *object.Object, i int) bool {
	if padnames == nil || padnames.Array == nil || i >= len(padnames.Array.Elements) {
		return false
	}
	nameAddr := padnames.Array.Elements[i]
	if nameAddr == 0 {
		return false
	}
	nameObj, ok := c.d.Get(nameAddr)
	return ok && nameObj.Scalar != nil && nameObj.Scalar.HasPV && len(nameObj.Scalar.PV) > 0
}

// internalWalk is the third and last walk: it colors Internal
// every remaining unclassified named root plus every target the earlier
// two walks marked Internal, then recurses through CoreOutrefs — the
// variant that skips magic annotations and bless-package edges, so those
// don't distort the classification of objects only reachable internally.
func (c *classifier) internalWalk() {
	var queue []object.Address
	for _, addr := range c.d.Roots {
		if _, ok := c.colors[addr]; !ok {
			queue = append(queue, addr)
		}
	}
	for addr, color := range c.colors {
		if color == Internal {
			queue = append(queue, addr)
		}
	}

	visited := make(map[object.Address]bool)
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		if addr == 0 || visited[addr] {
			continue
		}
		visited[addr] = true
		c.assign(addr, Internal)

		obj, ok := c.d.Get(addr)
		if !ok {
			continue
		}
		for _, r := range refs.CoreOutrefs(c.d, obj) {
			if r.Target == 0 {
				continue
			}
			if _, ok := c.colors[r.Target]; ok {
				continue
			}
			c.colors[r.Target] = Internal
			queue = append(queue, r.Target)
		}
	}
}
