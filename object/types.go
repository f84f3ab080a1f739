// ABOUTME: Defines the typed value-object model reconstructed from a dump
// ABOUTME: Covers every producer variant plus the synthetic pad subtypes

// Package object defines the typed value-object model reconstructed from
// a PMAT dump: the variant set of every kind the producer emits,
// the three fixup-assigned synthetic subtypes, and magic annotations.
//
// STASH extends HASH by composition (an embedded Hash plus extension
// fields), not inheritance, per the design note on avoiding inheritance
// across variants.
package object

import "fmt"

// Address is the producer interpreter's native pointer value for a heap
// object. It is the object's identity for the lifetime of a loaded dump.
type Address uint64

// String renders an address as the conventional "0x..." form used by the
// CLI front-ends and reverse-trace output.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Kind tags which variant an Object holds.
type Kind uint8

const (
	KindGlob Kind = iota + 1
	KindScalar
	KindRef
	KindArray
	KindHash
	KindStash
	KindCode
	KindIO
	KindLvalue
	KindRegexp
	KindFormat
	KindInvlist

	// Synthetic subtypes, assigned only during fixup; never
	// present directly in a wire record.
	KindPadlist
	KindPadnames
	KindPad
)

func (k Kind) String() string {
	switch k {
	case KindGlob:
		return "GLOB"
	case KindScalar:
		return "SCALAR"
	case KindRef:
		return "REF"
	case KindArray:
		return "ARRAY"
	case KindHash:
		return "HASH"
	case KindStash:
		return "STASH"
	case KindCode:
		return "CODE"
	case KindIO:
		return "IO"
	case KindLvalue:
		return "LVALUE"
	case KindRegexp:
		return "REGEXP"
	case KindFormat:
		return "FORMAT"
	case KindInvlist:
		return "INVLIST"
	case KindPadlist:
		return "PADLIST"
	case KindPadnames:
		return "PADNAMES"
	case KindPad:
		return "PAD"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Magic is a decoration attached post-facto to an object, associating it
// with an external object and/or pointer under a single-character type.
// Magic annotations are not objects themselves.
type Magic struct {
	Type       byte
	Refcounted bool
	Obj        Address // 0 if not present
	Ptr        Address // 0 if not present
}

// Object is a single heap value reconstructed from the dump. Exactly one
// of the variant-specific fields below is populated, selected by Kind.
type Object struct {
	Address   Address
	Kind      Kind
	Refcnt    uint32
	OwnedSize uint64
	Blessed   Address // 0 if not blessed
	Magic     []Magic

	// GlobAddr is the owning glob's address, populated by fixup for any
	// object reachable through a glob's scalar/array/hash/code slot.
	GlobAddr Address

	// OwningCode is populated by fixup for PADLIST/PADNAMES/PAD objects:
	// the address of the CODE object this pad structure belongs to.
	OwningCode Address

	// PadDepth is the call depth this PAD was parsed at (0 for PADLIST
	// and PADNAMES, which have no depth of their own).
	PadDepth int

	Glob   *Glob
	Scalar *Scalar
	Ref    *Ref
	Array  *Array
	Hash   *Hash
	Stash  *Stash
	Code   *Code
	IO     *IOSlots
	Lvalue *Lvalue
}

// Glob is a named multi-slot container registered under a key in a stash.
type Glob struct {
	Stash  Address
	Scalar Address
	Array  Address
	Hash   Address
	Code   Address
	EGV    Address
	IO     Address
	Form   Address
	Name   string
	File   string
	Line   uint64
}

// Scalar holds the optional unsigned-integer, signed-integer, float, and
// byte-string bodies of a scalar value. HasIV and HasUV both source from
// the same wire storage word (a tagged union in the producer), decoded
// independently here since either, both, or neither may be valid.
type Scalar struct {
	HasIV bool
	IV    int64
	HasUV bool
	UV    uint64
	HasNV bool
	NV    float64
	HasPV bool
	PV    []byte
	UTF8  bool
	// PVLen is the header's informational byte-length field; the
	// authoritative bytes are PV, read from the strings section.
	PVLen uint64

	// OurStash is the "our" declaration's package stash, if any.
	OurStash Address
}

// Ref is a reference-holding scalar whose body points at another object.
type Ref struct {
	RV       Address
	Weak     bool
	OurStash Address
}

// Array is an ordered sequence of addresses.
type Array struct {
	Elements   []Address
	Real       bool // false when the producer marked it !REAL (weak elements)
	IsBackrefs bool // set by fixup when this array is a hash's backrefs list
}

// Hash is an unordered mapping from byte-string keys to addresses. Keys is
// kept in wire order so iteration is deterministic across runs of the same
// dump.
type Hash struct {
	Keys     []string
	Values   map[string]Address
	Backrefs Address // 0 if none

	// IsStringTable is set by fixup on the interpreter's shared-string
	// table. Its wire "values" are refcounts, not object addresses; fixup
	// zeroes them and this flag records why the hash exposes no values.
	IsStringTable bool
}

// Stash extends Hash with class metadata, by composition.
type Stash struct {
	Hash

	ClassName string

	MroLinearAll     Address
	MroLinearCurrent Address
	MroNextMethod    Address
	MroISACache      Address
}

// Code is a compiled subroutine.
type Code struct {
	Stash    Address
	Glob     Address
	Outside  Address
	Padlist  Address
	ConstVal Address

	File string
	Line uint64

	// OpRoot is nonzero when the sub is implemented in bytecode (as
	// opposed to an XSUB).
	OpRoot Address

	IsClone        bool
	IsCloned       bool
	IsXSub         bool
	WeakOutside    bool
	GlobRefcounted bool

	// Constants and GlobRefs are embedded-constant-mode addresses
	// resolved during fixup from padlist-index CODEx sub-records.
	Constants []Address
	GlobRefs  []Address

	// ConstIndices and GlobIndices are the raw padlist-0 indices read
	// from CODEx tags 2 and 4 under ithreads mode. Fixup resolves each
	// against pad 0 and appends the result to Constants/GlobRefs, then
	// leaves these slices as a record of which indices were consumed.
	ConstIndices []uint64
	GlobIndices  []uint64

	// PadnamesAddr is the explicit padnames pointer read from the CODEx
	// sub-records. Fixup uses it only when the padlist's element 0 is
	// missing or zero.
	PadnamesAddr Address

	// ProtoSub is set by fixup for a cloned CODE (IsCloned) whose padnames
	// array is shared with a non-cloned CODE: the inferred "protosub" link
	// back to that template. Zero if none found.
	ProtoSub Address
}

// IOSlots holds a filehandle's associated globs.
type IOSlots struct {
	TopGV    Address
	FormatGV Address
	BottomGV Address
}

// Lvalue is a reference into part of another value.
type Lvalue struct {
	Type   byte
	Offset uint64
	Length uint64
	Target Address
}

// ContextType distinguishes call-context kinds.
type ContextType uint8

const (
	ContextSub ContextType = iota + 1
	ContextTry
	ContextEval
)

func (c ContextType) String() string {
	switch c {
	case ContextSub:
		return "SUB"
	case ContextTry:
		return "TRY"
	case ContextEval:
		return "EVAL"
	default:
		return fmt.Sprintf("ContextType(%d)", uint8(c))
	}
}

// Gimme is the calling context's expected return shape.
type Gimme uint8

const (
	GimmeVoid Gimme = iota
	GimmeScalar
	GimmeArray
)

func (g Gimme) String() string {
	switch g {
	case GimmeVoid:
		return "void"
	case GimmeScalar:
		return "scalar"
	case GimmeArray:
		return "array"
	default:
		return fmt.Sprintf("Gimme(%d)", uint8(g))
	}
}

// Context is one frame of the interpreter's call-context stack.
type Context struct {
	Type  ContextType
	Gimme Gimme
	File  string
	Line  uint64

	Code Address // SUB only
	Args Address // SUB only, 0 if none

	Source Address // EVAL only
}
