// ABOUTME: Tests for symbol resolution
// ABOUTME: Covers nested packages, missing names, and sigil slots
package symbols

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/errs"
)

// testBuilder assembles a minimal byte-exact PMAT stream for this
// package's tests, independent of any other package's test builder.
type testBuilder struct {
	buf bytes.Buffer
}

func (b *testBuilder) u8(v uint8) { b.buf.WriteByte(v) }
func (b *testBuilder) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}
func (b *testBuilder) f64(v float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	b.buf.Write(tmp[:])
}
func (b *testBuilder) ptr(v uint32) { b.u32(v) }
func (b *testBuilder) none()        { b.u32(0xffffffff) }
func (b *testBuilder) str(s string) {
	b.u32(uint32(len(s)))
	b.buf.WriteString(s)
}

func (b *testBuilder) scalarPlain(addr uint32, uv uint32) {
	b.u8(0x02)
	b.u8(0x02) // HasUV
	b.u32(uv)
	b.f64(0)
	b.u32(0)
	b.ptr(addr)
	b.u32(1)
	b.u32(0)
	b.ptr(0)
	b.ptr(0)
	b.none()
}

func (b *testBuilder) glob(addr uint32, scalar, array, hash, code uint32, name, file string) {
	b.u8(0x01)
	b.u32(1) // line
	b.ptr(addr)
	b.u32(1)
	b.u32(0)
	b.ptr(0)
	b.ptr(0)      // stash
	b.ptr(scalar) // scalar
	b.ptr(array)  // array
	b.ptr(hash)   // hash
	b.ptr(code)   // code
	b.ptr(0)      // egv
	b.ptr(0)      // io
	b.ptr(0)      // form
	b.str(name)
	b.str(file)
}

func (b *testBuilder) stash(addr uint32, keys []string, values []uint32, class string) {
	b.u8(0x06)
	b.u32(uint32(len(keys)))
	b.ptr(addr)
	b.u32(1)
	b.u32(0)
	b.ptr(0)
	b.ptr(0)
	b.ptr(0)
	b.ptr(0)
	b.ptr(0)
	b.ptr(0)
	b.str(class)
	for i, k := range keys {
		b.str(k)
		b.ptr(values[i])
	}
}

// buildSymbolFixture builds a stash tree rooted at defstash:
//
//	defstash --"Foo::"--> glob(hash=0xA200) --stash 0xA200-- "bar" --> glob(scalar=0x1000)
//
// so "$Foo::bar" resolves to 0x1000.
func buildSymbolFixture(t *testing.T) *dump.Dump {
	var b testBuilder

	b.buf.WriteString("PMAT")
	b.u8(0)
	b.u8(0)
	b.u8(1)
	b.u8(1)
	b.u32(1)

	rows := []struct{ hdr, ptrs, strs uint8 }{
		{4, 8, 2},  // GLOB
		{17, 1, 1}, // SCALAR
		{1, 2, 0},  // REF
		{5, 0, 0},  // ARRAY
		{4, 1, 0},  // HASH
		{4, 5, 1},  // STASH
		{9, 5, 1},  // CODE
		{0, 3, 0},  // IO
		{9, 1, 0},  // LVALUE
		{0, 0, 0},  // REGEXP
		{0, 0, 0},  // FORMAT
		{0, 0, 0},  // INVLIST
	}
	b.u8(uint8(len(rows)))
	for _, r := range rows {
		b.u8(r.hdr)
		b.u8(r.ptrs)
		b.u8(r.strs)
	}

	b.ptr(0)
	b.ptr(0)
	b.ptr(0)

	b.u32(1)
	b.str("defstash")
	b.ptr(0xA000)

	b.u32(0) // stack length

	b.scalarPlain(0x1000, 99)

	b.glob(0xA100, 0, 0, 0xA200, 0, "Foo", "")
	b.glob(0xA300, 0x1000, 0, 0, 0, "bar", "t.pl")

	b.stash(0xA200, []string{"bar"}, []uint32{0xA300}, "Foo")
	b.stash(0xA000, []string{"Foo::"}, []uint32{0xA100}, "main")

	b.u8(0)
	b.u8(0)

	d, err := dump.Load(bytes.NewReader(b.buf.Bytes()), dump.Options{})
	if err != nil {
		t.Fatalf("building fixture: %v", err)
	}
	return d
}

func TestResolveSymbolNested(t *testing.T) {
	d := buildSymbolFixture(t)
	addr, err := ResolveSymbol(d, "$Foo::bar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != 0x1000 {
		t.Errorf("got %v, want 0x1000", addr)
	}
}

func TestResolveSymbolMissingPackage(t *testing.T) {
	d := buildSymbolFixture(t)
	_, err := ResolveSymbol(d, "$Bar::baz")
	if !errors.Is(err, errs.ErrNoSuchSymbol) {
		t.Fatalf("got %v, want ErrNoSuchSymbol", err)
	}
}

func TestResolveSymbolWrongSigilSlot(t *testing.T) {
	d := buildSymbolFixture(t)
	_, err := ResolveSymbol(d, "@Foo::bar")
	if !errors.Is(err, errs.ErrNoSuchSymbol) {
		t.Fatalf("got %v, want ErrNoSuchSymbol for unbound array slot", err)
	}
}

func TestResolveSymbolMissingSigil(t *testing.T) {
	d := buildSymbolFixture(t)
	_, err := ResolveSymbol(d, "Foo::bar")
	if !errors.Is(err, errs.ErrNoSuchSymbol) {
		t.Fatalf("got %v, want ErrNoSuchSymbol", err)
	}
}

func TestSplitPackageDefaultPrefix(t *testing.T) {
	for _, dotted := range []string{"::baz", "main::baz", "baz"} {
		got := splitPackage(dotted)
		if len(got) != 1 || got[0] != "baz" {
			t.Errorf("splitPackage(%q) = %v, want [baz]", dotted, got)
		}
	}
}

func TestResolveSymbolMainPrefix(t *testing.T) {
	d := buildSymbolFixture(t)
	for _, name := range []string{"$Foo::bar", "$::Foo::bar", "$main::Foo::bar"} {
		addr, err := ResolveSymbol(d, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if addr != 0x1000 {
			t.Errorf("%s resolved to %v, want 0x1000", name, addr)
		}
	}
}

func TestSplitPackageMultiSegment(t *testing.T) {
	got := splitPackage("Foo::Bar::baz")
	want := []string{"Foo", "Bar", "baz"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
