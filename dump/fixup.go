// ABOUTME: Post-load fixup pass resolving cross-object invariants
// ABOUTME: Reclassifies padlists, propagates glob back-links, and scrubs pad constants
package dump

import "github.com/prateek/pmat/object"

// fixup runs the post-load pass: every step here only ever sets
// fields to a value derived purely from already-loaded state, so running
// it more than once over the same Dump leaves it unchanged.
func fixup(d *Dump) error {
	propagateGlobBackLinks(d)
	flagHashBackrefs(d)
	reinterpretStringTable(d)
	reclassifyPadlists(d)
	resolveIthreadsIndices(d)
	resolveProtoSubs(d)
	return nil
}

// propagateGlobBackLinks sets GlobAddr on every object reachable through
// one of a GLOB's scalar/array/hash/code slots, so a reverse-trace through
// such an object can report "the scalar slot of glob main::foo" instead of
// stopping at an anonymous SCALAR.
func propagateGlobBackLinks(d *Dump) {
	for _, o := range d.objects {
		if o.Kind != object.KindGlob || o.Glob == nil {
			continue
		}
		for _, slot := range []object.Address{o.Glob.Scalar, o.Glob.Array, o.Glob.Hash, o.Glob.Code} {
			if slot == 0 {
				continue
			}
			if target, ok := d.objects[slot]; ok {
				target.GlobAddr = o.Address
			}
		}
	}
}

// hashOf returns the embedded or direct Hash for a HASH or STASH object,
// or nil for anything else.
func hashOf(o *object.Object) *object.Hash {
	switch o.Kind {
	case object.KindHash:
		return o.Hash
	case object.KindStash:
		if o.Stash == nil {
			return nil
		}
		return &o.Stash.Hash
	default:
		return nil
	}
}

// flagHashBackrefs marks the ARRAY a hash's backrefs pointer names so that
// reachability and reverse-trace can recognize it as a backref list rather
// than an ordinary array.
func flagHashBackrefs(d *Dump) {
	for _, o := range d.objects {
		h := hashOf(o)
		if h == nil || h.Backrefs == 0 {
			continue
		}
		if target, ok := d.objects[h.Backrefs]; ok && target.Kind == object.KindArray && target.Array != nil {
			target.Array.IsBackrefs = true
		}
	}
}

// reinterpretStringTable handles the interpreter's shared-string table,
// identified by the "stringtable" root. The producer stores per-key
// refcounts where an ordinary hash stores value pointers; treating those
// counts as object addresses would corrupt every downstream analysis, so
// the value slots are zeroed and the hash flagged. Keys stay visible.
func reinterpretStringTable(d *Dump) {
	addr, ok := d.Roots["stringtable"]
	if !ok {
		return
	}
	o, ok := d.objects[addr]
	if !ok {
		return
	}
	h := hashOf(o)
	if h == nil {
		return
	}
	h.IsStringTable = true
	for k := range h.Values {
		h.Values[k] = 0
	}
}

// reclassifyPadlists retags a CODE's padlist array and its elements as the
// synthetic PADLIST/PADNAMES/PAD subtypes. A padlist's
// element 0 is always its padnames array; elements 1..N are the pad at
// call depth N. CODE's explicit PadnamesAddr is only consulted as a
// fallback when the padlist array's element 0 is missing or zero; a CODE
// with no padlist array is skipped entirely.
func reclassifyPadlists(d *Dump) {
	for _, o := range d.objects {
		if o.Kind != object.KindCode || o.Code == nil {
			continue
		}
		c := o.Code
		if c.Padlist == 0 {
			continue
		}
		padlist, ok := d.objects[c.Padlist]
		if !ok || padlist.Array == nil {
			continue
		}
		padlist.Kind = object.KindPadlist
		padlist.OwningCode = o.Address

		elements := padlist.Array.Elements
		padnamesAddr := c.PadnamesAddr
		if len(elements) > 0 && elements[0] != 0 {
			padnamesAddr = elements[0]
		}
		if padnamesAddr != 0 {
			if padnames, ok := d.objects[padnamesAddr]; ok {
				padnames.Kind = object.KindPadnames
				padnames.OwningCode = o.Address
			}
		}

		for depth := 1; depth < len(elements); depth++ {
			padAddr := elements[depth]
			if padAddr == 0 {
				continue
			}
			pad, ok := d.objects[padAddr]
			if !ok {
				continue
			}
			pad.Kind = object.KindPad
			pad.OwningCode = o.Address
			pad.PadDepth = depth
		}
	}
}

// padnamesAddrOf returns the padnames address a CODE object resolves to,
// used by resolveProtoSubs: the padlist's element 0 when present and
// nonzero, otherwise the explicit PadnamesAddr (also when the padlist
// array itself is absent).
func padnamesAddrOf(d *Dump, code *object.Object) object.Address {
	padlist, ok := d.objects[code.Code.Padlist]
	if ok && padlist.Array != nil && len(padlist.Array.Elements) > 0 && padlist.Array.Elements[0] != 0 {
		return padlist.Array.Elements[0]
	}
	return code.Code.PadnamesAddr
}

// resolveProtoSubs infers the "protosub" link from a cloned closure
// CODE (IsCloned) back to the template CODE it was cloned from: any
// non-cloned CODE sharing the same padnames array. When more than one
// candidate exists, the numerically smallest address is chosen, for
// determinism.
func resolveProtoSubs(d *Dump) {
	byPadnames := make(map[object.Address]object.Address)
	for _, o := range d.objects {
		if o.Kind != object.KindCode || o.Code == nil || o.Code.IsCloned {
			continue
		}
		padnames := padnamesAddrOf(d, o)
		if padnames == 0 {
			continue
		}
		if existing, ok := byPadnames[padnames]; !ok || o.Address < existing {
			byPadnames[padnames] = o.Address
		}
	}
	for _, o := range d.objects {
		if o.Kind != object.KindCode || o.Code == nil || !o.Code.IsCloned {
			continue
		}
		padnames := padnamesAddrOf(d, o)
		if proto, ok := byPadnames[padnames]; ok && proto != o.Address {
			o.Code.ProtoSub = proto
		}
	}
}

// resolveIthreadsIndices resolves CODEx const-index and globref-index
// sub-records (ithreads mode) against pad 0 of the owning sub's padlist,
// appending the resolved address to Constants/GlobRefs and blanking the
// consumed index in every padlist element so it isn't double-reported as
// an ordinary pad element. The blanked-slot check also makes this step
// idempotent: a second run sees the slot already zeroed and skips it.
func resolveIthreadsIndices(d *Dump) {
	for _, o := range d.objects {
		if o.Kind != object.KindCode || o.Code == nil {
			continue
		}
		c := o.Code
		if len(c.ConstIndices) == 0 && len(c.GlobIndices) == 0 {
			continue
		}
		padlist, ok := d.objects[c.Padlist]
		if !ok || padlist.Array == nil || len(padlist.Array.Elements) == 0 {
			continue
		}
		pad0, ok := d.objects[padlist.Array.Elements[0]]
		if !ok || pad0.Array == nil {
			continue
		}

		// A consumed index is scrubbed from padnames and from every pad,
		// not just pad 0, so reachability cannot report the slot as user
		// data at any depth.
		blank := func(idx uint64) {
			for _, elemAddr := range padlist.Array.Elements {
				el, ok := d.objects[elemAddr]
				if !ok || el.Array == nil || idx >= uint64(len(el.Array.Elements)) {
					continue
				}
				el.Array.Elements[idx] = 0
			}
		}

		for _, idx := range c.ConstIndices {
			if idx >= uint64(len(pad0.Array.Elements)) {
				continue
			}
			if addr := pad0.Array.Elements[idx]; addr != 0 {
				c.Constants = append(c.Constants, addr)
				blank(idx)
			}
		}
		for _, idx := range c.GlobIndices {
			if idx >= uint64(len(pad0.Array.Elements)) {
				continue
			}
			if addr := pad0.Array.Elements[idx]; addr != 0 {
				c.GlobRefs = append(c.GlobRefs, addr)
				blank(idx)
			}
		}
	}
}
