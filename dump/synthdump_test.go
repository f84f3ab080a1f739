// ABOUTME: In-memory builder assembling byte-exact PMAT streams for tests
// ABOUTME: Stands in for a real producer without any on-disk fixtures
package dump

import (
	"bytes"
	"encoding/binary"
	"math"
)

// synthBuilder assembles a byte-exact PMAT dump stream for tests: a
// hand-rollable stand-in for a real producer, used only under _test.go.
type synthBuilder struct {
	buf bytes.Buffer
}

func (b *synthBuilder) u8(v uint8) { b.buf.WriteByte(v) }

func (b *synthBuilder) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *synthBuilder) f64(v float64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	b.buf.Write(tmp[:])
}

func (b *synthBuilder) ptr(v uint32) { b.u32(v) }

func (b *synthBuilder) str(s string) {
	b.u32(uint32(len(s)))
	b.buf.WriteString(s)
}

func (b *synthBuilder) none() { b.u32(0xffffffff) }

// header writes the 8-byte preamble plus interpreter version for a
// little-endian, 4-byte int/ptr, 8-byte float, non-ithreads dump.
func (b *synthBuilder) header(major, minor uint8) {
	b.buf.WriteString("PMAT")
	b.u8(0) // flags
	b.u8(0) // reserved
	b.u8(major)
	b.u8(minor)
	b.u32(1) // interpreter version
}

type typeRow struct{ hdr, ptrs, strs uint8 }

var standardTypeRows = []typeRow{
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

func (b *synthBuilder) typeSizeTable(rows []typeRow) {
	b.u8(uint8(len(rows)))
	for _, r := range rows {
		b.u8(r.hdr)
		b.u8(r.ptrs)
		b.u8(r.strs)
	}
}

func (b *synthBuilder) immortals(undef, yes, no uint32) {
	b.ptr(undef)
	b.ptr(yes)
	b.ptr(no)
}

func (b *synthBuilder) roots(names map[string]uint32) {
	b.u32(uint32(len(names)))
	for name, addr := range names {
		b.str(name)
		b.ptr(addr)
	}
}

func (b *synthBuilder) stack(addrs []uint32) {
	b.u32(uint32(len(addrs)))
	for _, a := range addrs {
		b.ptr(a)
	}
}

func (b *synthBuilder) scalarIV(addr, iv uint32) {
	b.u8(tagScalar)
	b.u8(0x01) // HasIV
	b.u32(iv)
	b.f64(0)
	b.u32(0)
	b.ptr(addr)
	b.u32(1)
	b.u32(0)
	b.ptr(0)
	b.ptr(0)
	b.none()
}

func (b *synthBuilder) glob(addr uint32, name, file string, line uint32, scalar, array, hash, code uint32) {
	b.u8(tagGlob)
	b.u32(line)
	b.ptr(addr)
	b.u32(1)
	b.u32(0)
	b.ptr(0)
	b.ptr(0) // stash
	b.ptr(scalar)
	b.ptr(array)
	b.ptr(hash)
	b.ptr(code)
	b.ptr(0) // egv
	b.ptr(0) // io
	b.ptr(0) // form
	b.str(name)
	b.str(file)
}

func (b *synthBuilder) array(addr uint32, elements []uint32) {
	b.u8(tagArray)
	b.u32(uint32(len(elements)))
	b.u8(0)
	b.ptr(addr)
	b.u32(1)
	b.u32(0)
	b.ptr(0)
	for _, e := range elements {
		b.ptr(e)
	}
}

func (b *synthBuilder) hash(addr uint32, backrefs uint32, pairs map[string]uint32) {
	b.u8(tagHash)
	b.u32(uint32(len(pairs)))
	b.ptr(addr)
	b.u32(1)
	b.u32(0)
	b.ptr(0)
	b.ptr(backrefs)
	for k, v := range pairs {
		b.str(k)
		b.ptr(v)
	}
}

func (b *synthBuilder) ctxSubFrame(gimme uint8, file string, line, cv, args uint32) {
	b.u8(ctxSub)
	b.u8(gimme)
	b.str(file)
	b.u32(line)
	b.ptr(cv)
	b.ptr(args)
}

func (b *synthBuilder) ctxTryFrame(gimme uint8, file string, line uint32) {
	b.u8(ctxTry)
	b.u8(gimme)
	b.str(file)
	b.u32(line)
}

func (b *synthBuilder) ctxEvalFrame(gimme uint8, file string, line, src uint32) {
	b.u8(ctxEval)
	b.u8(gimme)
	b.str(file)
	b.u32(line)
	b.ptr(src)
}

func buildBasicDump() []byte {
	var b synthBuilder
	b.header(1, 1)
	b.typeSizeTable(standardTypeRows)
	b.immortals(0, 0, 0)
	b.roots(map[string]uint32{"main::foo": 0x2000})
	b.stack([]uint32{0x1000})

	b.scalarIV(0x1000, 42)
	b.glob(0x2000, "foo", "t.pl", 10, 0x1000, 0, 0, 0)
	b.array(0x3000, []uint32{0x1000})
	b.hash(0x4000, 0x3000, map[string]uint32{"k": 0x1000})
	b.u8(tagEOF)

	b.u8(ctxEOF)
	return b.buf.Bytes()
}
