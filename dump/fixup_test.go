// ABOUTME: Tests for the fixup pass
// ABOUTME: Covers padlist reclassification, protosub inference, and index scrubbing
package dump

import (
	"testing"

	"github.com/prateek/pmat/object"
)

func newTestDump() *Dump {
	return &Dump{
		Roots:   make(map[string]object.Address),
		objects: make(map[object.Address]*object.Object),
	}
}

func putArray(d *Dump, addr object.Address, elements []object.Address) *object.Object {
	o := &object.Object{Address: addr, Kind: object.KindArray, Array: &object.Array{Elements: elements}}
	d.objects[addr] = o
	return o
}

func TestReclassifyPadlistsLegacy(t *testing.T) {
	d := newTestDump()
	padnames := putArray(d, 0x10, nil)
	pad1 := putArray(d, 0x11, nil)
	padlist := putArray(d, 0x20, []object.Address{0x10, 0x11})
	code := &object.Object{
		Address: 0x30,
		Kind:    object.KindCode,
		Code:    &object.Code{Padlist: 0x20},
	}
	d.objects[code.Address] = code

	reclassifyPadlists(d)

	if padlist.Kind != object.KindPadlist || padlist.OwningCode != code.Address {
		t.Errorf("padlist: got kind=%v owner=%v", padlist.Kind, padlist.OwningCode)
	}
	if padnames.Kind != object.KindPadnames || padnames.OwningCode != code.Address {
		t.Errorf("padnames: got kind=%v owner=%v", padnames.Kind, padnames.OwningCode)
	}
	if pad1.Kind != object.KindPad || pad1.PadDepth != 1 || pad1.OwningCode != code.Address {
		t.Errorf("pad1: got kind=%v depth=%d owner=%v", pad1.Kind, pad1.PadDepth, pad1.OwningCode)
	}
}

func TestReclassifyPadlistsFallsBackToExplicitPadnames(t *testing.T) {
	// A padlist array with no element 0 (unusual, but the fallback must
	// still resolve padnames from CODE's explicit pointer).
	d := newTestDump()
	padnames := putArray(d, 0x10, nil)
	padlist := putArray(d, 0x20, []object.Address{0, 0x12})
	pad1 := putArray(d, 0x12, nil)
	code := &object.Object{
		Address: 0x30,
		Kind:    object.KindCode,
		Code:    &object.Code{Padlist: 0x20, PadnamesAddr: 0x10},
	}
	d.objects[code.Address] = code

	reclassifyPadlists(d)

	if padnames.Kind != object.KindPadnames {
		t.Errorf("got padnames kind=%v", padnames.Kind)
	}
	if pad1.Kind != object.KindPad || pad1.PadDepth != 1 {
		t.Errorf("got pad1 kind=%v depth=%d, want PAD at depth 1", pad1.Kind, pad1.PadDepth)
	}
	if padlist.Kind != object.KindPadlist {
		t.Errorf("got padlist kind=%v", padlist.Kind)
	}
}

func TestResolveProtoSubs(t *testing.T) {
	d := newTestDump()
	putArray(d, 0x10, nil) // shared padnames
	padlistA := putArray(d, 0x20, []object.Address{0x10})
	padlistB := putArray(d, 0x21, []object.Address{0x10})
	_ = padlistA
	_ = padlistB
	template := &object.Object{Address: 0x30, Kind: object.KindCode, Code: &object.Code{Padlist: 0x20, IsClone: true}}
	clone := &object.Object{Address: 0x31, Kind: object.KindCode, Code: &object.Code{Padlist: 0x21, IsCloned: true}}
	d.objects[template.Address] = template
	d.objects[clone.Address] = clone

	reclassifyPadlists(d)
	resolveProtoSubs(d)

	if clone.Code.ProtoSub != template.Address {
		t.Errorf("got ProtoSub=%v, want %v", clone.Code.ProtoSub, template.Address)
	}
	if template.Code.ProtoSub != 0 {
		t.Errorf("non-cloned template should not get a ProtoSub, got %v", template.Code.ProtoSub)
	}
}

func TestResolveIthreadsIndices(t *testing.T) {
	d := newTestDump()
	constTarget := &object.Object{Address: 0x40, Kind: object.KindScalar, Scalar: &object.Scalar{}}
	d.objects[constTarget.Address] = constTarget
	globTarget := &object.Object{Address: 0x41, Kind: object.KindGlob, Glob: &object.Glob{}}
	d.objects[globTarget.Address] = globTarget

	pad0 := putArray(d, 0x11, []object.Address{constTarget.Address, globTarget.Address})
	pad1 := putArray(d, 0x12, []object.Address{constTarget.Address, globTarget.Address})
	putArray(d, 0x20, []object.Address{0x11, 0x12})
	code := &object.Object{
		Address: 0x30,
		Kind:    object.KindCode,
		Code: &object.Code{
			Padlist:      0x20,
			ConstIndices: []uint64{0},
			GlobIndices:  []uint64{1},
		},
	}
	d.objects[code.Address] = code

	resolveIthreadsIndices(d)

	if len(code.Code.Constants) != 1 || code.Code.Constants[0] != constTarget.Address {
		t.Fatalf("got Constants=%v, want [%v]", code.Code.Constants, constTarget.Address)
	}
	if len(code.Code.GlobRefs) != 1 || code.Code.GlobRefs[0] != globTarget.Address {
		t.Fatalf("got GlobRefs=%v, want [%v]", code.Code.GlobRefs, globTarget.Address)
	}
	if pad0.Array.Elements[0] != 0 || pad0.Array.Elements[1] != 0 {
		t.Errorf("expected resolved pad-0 slots to be blanked, got %v", pad0.Array.Elements)
	}
	if pad1.Array.Elements[0] != 0 || pad1.Array.Elements[1] != 0 {
		t.Errorf("expected the same indices blanked at depth 1, got %v", pad1.Array.Elements)
	}

	// idempotence: rerunning must not re-append or fail on already-blanked slots.
	resolveIthreadsIndices(d)
	if len(code.Code.Constants) != 1 || len(code.Code.GlobRefs) != 1 {
		t.Errorf("rerun changed resolved slices: Constants=%v GlobRefs=%v", code.Code.Constants, code.Code.GlobRefs)
	}
}

func TestReinterpretStringTable(t *testing.T) {
	d := newTestDump()
	strtab := &object.Object{
		Address: 0x70,
		Kind:    object.KindHash,
		Hash: &object.Hash{
			Keys:   []string{"foo", "bar"},
			Values: map[string]object.Address{"foo": 3, "bar": 7}, // refcounts, not addresses
		},
	}
	d.objects[strtab.Address] = strtab
	other := &object.Object{
		Address: 0x71,
		Kind:    object.KindHash,
		Hash: &object.Hash{
			Keys:   []string{"k"},
			Values: map[string]object.Address{"k": 0x70},
		},
	}
	d.objects[other.Address] = other
	d.Roots["stringtable"] = strtab.Address

	reinterpretStringTable(d)

	if !strtab.Hash.IsStringTable {
		t.Error("expected the stringtable hash to be flagged")
	}
	for k, v := range strtab.Hash.Values {
		if v != 0 {
			t.Errorf("value {%s} = %v, want 0", k, v)
		}
	}
	if len(strtab.Hash.Keys) != 2 {
		t.Errorf("keys should stay visible, got %v", strtab.Hash.Keys)
	}
	if other.Hash.IsStringTable || other.Hash.Values["k"] != 0x70 {
		t.Errorf("ordinary hash was touched: %+v", other.Hash)
	}

	// rerun changes nothing further
	reinterpretStringTable(d)
	if !strtab.Hash.IsStringTable {
		t.Error("flag lost on rerun")
	}
}

func TestFlagHashBackrefsOnStash(t *testing.T) {
	d := newTestDump()
	backArr := putArray(d, 0x50, nil)
	stash := &object.Object{
		Address: 0x60,
		Kind:    object.KindStash,
		Stash:   &object.Stash{Hash: object.Hash{Backrefs: 0x50}},
	}
	d.objects[stash.Address] = stash

	flagHashBackrefs(d)

	if !backArr.Array.IsBackrefs {
		t.Error("expected STASH's backrefs array to be flagged")
	}
}
