// ABOUTME: Implements the reference engine enumerating per-object outrefs
// ABOUTME: Classifies each reference by strength with a stable role name

// Package refs implements the reference engine: per-object outrefs
// with stable, exactly-named roles and four-valued strength, plus the
// inverse inrefs index built lazily over a loaded dump.Dump.
package refs

import (
	"fmt"

	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/object"
)

// Strength classifies how an outref affects reachability and refcounting.
type Strength uint8

const (
	StrengthStrong Strength = iota
	StrengthWeak
	StrengthIndirect
	StrengthInferred
)

func (s Strength) String() string {
	switch s {
	case StrengthStrong:
		return "strong"
	case StrengthWeak:
		return "weak"
	case StrengthIndirect:
		return "indirect"
	case StrengthInferred:
		return "inferred"
	default:
		return fmt.Sprintf("Strength(%d)", uint8(s))
	}
}

// Ref is one outgoing reference from an object.
type Ref struct {
	Role     string
	Strength Strength
	Target   object.Address
}

// StrengthSet is a filter multiset for Filter and Count. A nil StrengthSet
// matches everything.
type StrengthSet map[Strength]bool

// NewStrengthSet builds a StrengthSet from the given strengths.
func NewStrengthSet(strengths ...Strength) StrengthSet {
	s := make(StrengthSet, len(strengths))
	for _, st := range strengths {
		s[st] = true
	}
	return s
}

// Contains reports whether st is in the set.
func (s StrengthSet) Contains(st Strength) bool { return s != nil && s[st] }

// Filter returns the subset of refs whose strength is in allowed. A nil
// allowed returns refs unchanged.
func Filter(refs []Ref, allowed StrengthSet) []Ref {
	if allowed == nil {
		return refs
	}
	out := make([]Ref, 0, len(refs))
	for _, r := range refs {
		if allowed.Contains(r.Strength) {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of obj's outrefs in allowed, without building
// the filtered slice. A nil allowed counts every outref.
func Count(d *dump.Dump, obj *object.Object, allowed StrengthSet) int {
	all := Outrefs(d, obj)
	if allowed == nil {
		return len(all)
	}
	n := 0
	for _, r := range all {
		if allowed.Contains(r.Strength) {
			n++
		}
	}
	return n
}

// Outrefs returns obj's complete outref set: its variant-specific
// references, any magic annotations, and a bless-package reference if
// blessed. This is the public view used by inrefs construction and by
// every CLI-facing size/trace command.
func Outrefs(d *dump.Dump, obj *object.Object) []Ref {
	out := CoreOutrefs(d, obj)
	out = append(out, magicOutrefs(obj)...)
	if obj.Blessed != 0 {
		out = append(out, Ref{Role: "the bless package", Strength: StrengthWeak, Target: obj.Blessed})
	}
	return out
}

// CoreOutrefs returns obj's variant-specific outrefs only, omitting magic
// annotations and the bless-package link. Reachability's internal walk
// uses this variant so that magic/bless edges don't distort
// classification precedence.
func CoreOutrefs(d *dump.Dump, obj *object.Object) []Ref {
	switch obj.Kind {
	case object.KindGlob:
		return globOutrefs(obj)
	case object.KindScalar:
		return scalarOutrefs(obj)
	case object.KindRef:
		return refOutrefs(d, obj)
	case object.KindArray:
		return arrayOutrefs(d, obj)
	case object.KindHash:
		return hashOutrefs(d, obj.Hash)
	case object.KindStash:
		return stashOutrefs(d, obj)
	case object.KindCode:
		return codeOutrefs(d, obj)
	case object.KindIO:
		return ioOutrefs(obj)
	case object.KindLvalue:
		return lvalueOutrefs(obj)
	case object.KindPadlist:
		return padlistOutrefs(obj)
	case object.KindPadnames:
		return padnamesOutrefs(obj)
	case object.KindPad:
		return padOutrefs(d, obj)
	default:
		return nil
	}
}

// directOrIndirect emits the direct reference to target under role, plus
// — when target is itself an unmagicked REF — a synthetic indirect
// reference to that REF's own referrant, role suffixed " via RV".
func directOrIndirect(d *dump.Dump, role string, strength Strength, target object.Address) []Ref {
	if target == 0 {
		return nil
	}
	out := []Ref{{Role: role, Strength: strength, Target: target}}
	if tgt, ok := d.Get(target); ok && tgt.Kind == object.KindRef && len(tgt.Magic) == 0 && tgt.Ref != nil && tgt.Ref.RV != 0 {
		out = append(out, Ref{Role: role + " via RV", Strength: StrengthIndirect, Target: tgt.Ref.RV})
	}
	return out
}

func magicOutrefs(obj *object.Object) []Ref {
	var out []Ref
	for _, m := range obj.Magic {
		s := StrengthWeak
		if m.Refcounted {
			s = StrengthStrong
		}
		x := string(rune(m.Type))
		if m.Obj != 0 {
			out = append(out, Ref{Role: fmt.Sprintf("'%s' magic object", x), Strength: s, Target: m.Obj})
		}
		if m.Ptr != 0 {
			out = append(out, Ref{Role: fmt.Sprintf("'%s' magic pointer", x), Strength: s, Target: m.Ptr})
		}
	}
	return out
}

func globOutrefs(obj *object.Object) []Ref {
	g := obj.Glob
	if g == nil {
		return nil
	}
	var out []Ref
	add := func(role string, addr object.Address, weak bool) {
		if addr == 0 {
			return
		}
		s := StrengthStrong
		if weak {
			s = StrengthWeak
		}
		out = append(out, Ref{Role: role, Strength: s, Target: addr})
	}
	add("the scalar", g.Scalar, false)
	add("the array", g.Array, false)
	add("the hash", g.Hash, false)
	add("the code", g.Code, false)
	add("the io", g.IO, false)
	add("the form", g.Form, false)
	add("the egv", g.EGV, g.EGV == obj.Address)
	return out
}

func scalarOutrefs(obj *object.Object) []Ref {
	s := obj.Scalar
	if s == nil || s.OurStash == 0 {
		return nil
	}
	return []Ref{{Role: "the our stash", Strength: StrengthStrong, Target: s.OurStash}}
}

func refOutrefs(d *dump.Dump, obj *object.Object) []Ref {
	r := obj.Ref
	if r == nil {
		return nil
	}
	strength := StrengthStrong
	if r.Weak {
		strength = StrengthWeak
	}
	var out []Ref
	out = append(out, directOrIndirect(d, "the referrant", strength, r.RV)...)
	if r.OurStash != 0 {
		out = append(out, Ref{Role: "the our stash", Strength: StrengthStrong, Target: r.OurStash})
	}
	return out
}

func arrayOutrefs(d *dump.Dump, obj *object.Object) []Ref {
	a := obj.Array
	if a == nil {
		return nil
	}
	strength := StrengthStrong
	if !a.Real {
		strength = StrengthWeak
	}
	var out []Ref
	for i, e := range a.Elements {
		if e == 0 {
			continue
		}
		out = append(out, directOrIndirect(d, fmt.Sprintf("element [%d]", i), strength, e)...)
	}
	return out
}

func hashOutrefs(d *dump.Dump, h *object.Hash) []Ref {
	if h == nil {
		return nil
	}
	var out []Ref
	if h.Backrefs != 0 {
		if tgt, ok := d.Get(h.Backrefs); ok {
			switch {
			case tgt.Kind == object.KindArray:
				out = append(out, Ref{Role: "the backrefs list", Strength: StrengthStrong, Target: h.Backrefs})
				if tgt.Array != nil {
					for _, e := range tgt.Array.Elements {
						if e == 0 {
							continue
						}
						out = append(out, Ref{Role: "a backref", Strength: StrengthIndirect, Target: e})
					}
				}
			case tgt.Kind == object.KindRef:
				out = append(out, Ref{Role: "a backref", Strength: StrengthWeak, Target: h.Backrefs})
			}
		}
	}
	// The shared-string table's value slots are refcounts, not object
	// addresses; it exposes keys but never value references.
	if h.IsStringTable {
		return out
	}
	for _, k := range h.Keys {
		v, ok := h.Values[k]
		if !ok || v == 0 {
			continue
		}
		out = append(out, directOrIndirect(d, fmt.Sprintf("value {%s}", k), StrengthStrong, v)...)
	}
	return out
}

func stashOutrefs(d *dump.Dump, obj *object.Object) []Ref {
	s := obj.Stash
	if s == nil {
		return nil
	}
	out := hashOutrefs(d, &s.Hash)
	add := func(role string, addr object.Address) {
		if addr == 0 {
			return
		}
		out = append(out, Ref{Role: role, Strength: StrengthStrong, Target: addr})
	}
	add("the mro linear all HV", s.MroLinearAll)
	add("the mro linear current", s.MroLinearCurrent)
	add("the mro next::method", s.MroNextMethod)
	add("the mro ISA cache", s.MroISACache)
	return out
}

func codeOutrefs(d *dump.Dump, obj *object.Object) []Ref {
	c := obj.Code
	if c == nil {
		return nil
	}
	var out []Ref
	if c.Outside != 0 {
		s := StrengthStrong
		if c.WeakOutside {
			s = StrengthWeak
		}
		out = append(out, Ref{Role: "the scope", Strength: s, Target: c.Outside})
	}
	if c.Stash != 0 {
		out = append(out, Ref{Role: "the stash", Strength: StrengthWeak, Target: c.Stash})
	}
	if c.Glob != 0 {
		s := StrengthWeak
		if c.GlobRefcounted {
			s = StrengthStrong
		}
		out = append(out, Ref{Role: "the glob", Strength: s, Target: c.Glob})
	}
	if c.ConstVal != 0 {
		out = append(out, Ref{Role: "the constant value", Strength: StrengthStrong, Target: c.ConstVal})
	}
	if c.ProtoSub != 0 {
		out = append(out, Ref{Role: "the protosub", Strength: StrengthInferred, Target: c.ProtoSub})
	}
	for _, addr := range c.Constants {
		if addr == 0 {
			continue
		}
		out = append(out, Ref{Role: "a constant", Strength: StrengthStrong, Target: addr})
	}
	for _, addr := range c.GlobRefs {
		if addr == 0 {
			continue
		}
		out = append(out, Ref{Role: "a referenced glob", Strength: StrengthStrong, Target: addr})
	}
	if c.Padlist != 0 {
		out = append(out, Ref{Role: "the padlist", Strength: StrengthStrong, Target: c.Padlist})
	}

	padlist, hasPadlist := d.Get(c.Padlist)
	if hasPadlist && padlist.Array != nil {
		elements := padlist.Array.Elements
		if len(elements) > 0 && elements[0] != 0 {
			out = append(out, Ref{Role: "the padnames", Strength: StrengthIndirect, Target: elements[0]})
		}
		for depth := 1; depth < len(elements); depth++ {
			if elements[depth] == 0 {
				continue
			}
			out = append(out, Ref{Role: fmt.Sprintf("pad at depth %d", depth), Strength: StrengthIndirect, Target: elements[depth]})
		}
	} else if c.PadnamesAddr != 0 {
		out = append(out, Ref{Role: "the padnames", Strength: StrengthStrong, Target: c.PadnamesAddr})
	}
	return out
}

func ioOutrefs(obj *object.Object) []Ref {
	io := obj.IO
	if io == nil {
		return nil
	}
	var out []Ref
	add := func(role string, addr object.Address) {
		if addr == 0 {
			return
		}
		out = append(out, Ref{Role: role, Strength: StrengthStrong, Target: addr})
	}
	add("the top GV", io.TopGV)
	add("the format GV", io.FormatGV)
	add("the bottom GV", io.BottomGV)
	return out
}

func lvalueOutrefs(obj *object.Object) []Ref {
	lv := obj.Lvalue
	if lv == nil || lv.Target == 0 {
		return nil
	}
	return []Ref{{Role: "the target", Strength: StrengthStrong, Target: lv.Target}}
}

func padlistOutrefs(obj *object.Object) []Ref {
	a := obj.Array
	if a == nil {
		return nil
	}
	var out []Ref
	for depth, e := range a.Elements {
		if e == 0 {
			continue
		}
		if depth == 0 {
			out = append(out, Ref{Role: "the padnames", Strength: StrengthStrong, Target: e})
			continue
		}
		out = append(out, Ref{Role: fmt.Sprintf("pad at depth %d", depth), Strength: StrengthStrong, Target: e})
	}
	return out
}

func padnamesOutrefs(obj *object.Object) []Ref {
	a := obj.Array
	if a == nil {
		return nil
	}
	var out []Ref
	for i := 1; i < len(a.Elements); i++ {
		e := a.Elements[i]
		if e == 0 {
			continue
		}
		out = append(out, Ref{Role: fmt.Sprintf("padname [%d]", i), Strength: StrengthStrong, Target: e})
	}
	return out
}

func padOutrefs(d *dump.Dump, obj *object.Object) []Ref {
	a := obj.Array
	if a == nil {
		return nil
	}
	var out []Ref
	if len(a.Elements) > 0 {
		out = append(out, directOrIndirect(d, "the @_ av", StrengthStrong, a.Elements[0])...)
	}

	var padnames *object.Object
	if obj.OwningCode != 0 {
		if code, ok := d.Get(obj.OwningCode); ok && code.Code != nil {
			if padlist, ok := d.Get(code.Code.Padlist); ok && padlist.Array != nil && len(padlist.Array.Elements) > 0 {
				padnames, _ = d.Get(padlist.Array.Elements[0])
			}
		}
	}

	for i := 1; i < len(a.Elements); i++ {
		e := a.Elements[i]
		if e == 0 {
			continue
		}
		role := fmt.Sprintf("elem [%d]", i)
		if padnames != nil && padnames.Array != nil && i < len(padnames.Array.Elements) && padnames.Array.Elements[i] != 0 {
			if nameObj, ok := d.Get(padnames.Array.Elements[i]); ok && nameObj.Scalar != nil && nameObj.Scalar.HasPV {
				role = string(nameObj.Scalar.PV)
			}
		}
		out = append(out, directOrIndirect(d, role, StrengthStrong, e)...)
	}
	return out
}
