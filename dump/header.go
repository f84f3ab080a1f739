// ABOUTME: Parses the dump header's size table, immortals, roots, and stack
// ABOUTME: Shared by the loader before the heap body is read
package dump

import (
	"github.com/pkg/errors"

	"github.com/prateek/pmat/object"
	"github.com/prateek/pmat/reader"
)

// readTypeSizeTable parses the per-type size table: a count followed by that many
// (header-bytes, ptr-count, str-count) triples, one per SV type tag in
// wire order (tags are 1-based; see loader.sizesForTag).
func readTypeSizeTable(rd *reader.Reader) ([]typeSizes, error) {
	n, err := rd.ReadU8()
	if err != nil {
		return nil, errors.Wrap(err, "reading type count")
	}
	out := make([]typeSizes, n)
	for i := range out {
		hdr, err := rd.ReadU8()
		if err != nil {
			return nil, errors.Wrapf(err, "reading type %d header-bytes", i)
		}
		ptrs, err := rd.ReadU8()
		if err != nil {
			return nil, errors.Wrapf(err, "reading type %d ptr-count", i)
		}
		strs, err := rd.ReadU8()
		if err != nil {
			return nil, errors.Wrapf(err, "reading type %d str-count", i)
		}
		out[i] = typeSizes{headerBytes: hdr, numPtrs: ptrs, numStrs: strs}
	}
	return out, nil
}

// sizesForTag returns the type-size table row for the given SV tag
// (1-based), or the zero value if the table is shorter than this
// producer's tag range allows (an older producer emitting a type this
// loader doesn't expect to see that far into the table).
func (l *loader) sizesForTag(tag uint8) typeSizes {
	idx := int(tag) - 1
	if idx < 0 || idx >= len(l.types) {
		return typeSizes{}
	}
	return l.types[idx]
}

// readImmortals parses the three immortal singleton addresses.
func readImmortals(rd *reader.Reader) (undef, yes, no object.Address, err error) {
	u, err := rd.ReadPointer()
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "reading undef address")
	}
	y, err := rd.ReadPointer()
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "reading yes address")
	}
	n, err := rd.ReadPointer()
	if err != nil {
		return 0, 0, 0, errors.Wrap(err, "reading no address")
	}
	return object.Address(u), object.Address(y), object.Address(n), nil
}

// readRoots parses the named-root table.
func readRoots(rd *reader.Reader, d *Dump) error {
	n, err := rd.ReadU32()
	if err != nil {
		return errors.Wrap(err, "reading root count")
	}
	for i := uint32(0); i < n; i++ {
		nameBytes, ok, err := rd.ReadString()
		if err != nil {
			return errors.Wrapf(err, "reading root %d name", i)
		}
		name := ""
		if ok {
			name = string(nameBytes)
		}
		addr, err := rd.ReadPointer()
		if err != nil {
			return errors.Wrapf(err, "reading root %d address", i)
		}
		d.Roots[name] = object.Address(addr)
	}
	return nil
}

// readStack parses the operand-stack snapshot.
func readStack(rd *reader.Reader, d *Dump) error {
	n, err := rd.ReadUint()
	if err != nil {
		return errors.Wrap(err, "reading stack length")
	}
	ptrs, err := rd.ReadPointerArrayOfN(n)
	if err != nil {
		return errors.Wrap(err, "reading stack")
	}
	d.Stack = make([]object.Address, len(ptrs))
	for i, p := range ptrs {
		d.Stack[i] = object.Address(p)
	}
	return nil
}
