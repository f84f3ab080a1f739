// ABOUTME: Decodes the heap body's SV and magic-annotation records
// ABOUTME: One decoder per variant, defensive against unknown trailing fields
package dump

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/prateek/pmat/errs"
	"github.com/prateek/pmat/object"
	"github.com/prateek/pmat/reader"
)

// SV record tags. Tag 0 terminates the heap body; tag 0x80 is a
// magic annotation attached to the object named by its owner address
// rather than a heap object in its own right.
const (
	tagEOF      = 0x00
	tagGlob     = 0x01
	tagScalar   = 0x02
	tagRef      = 0x03
	tagArray    = 0x04
	tagHash     = 0x05
	tagStash    = 0x06
	tagCode     = 0x07
	tagIO       = 0x08
	tagLvalue   = 0x09
	tagRegexp   = 0x0a
	tagFormat   = 0x0b
	tagInvlist  = 0x0c
	tagMagic    = 0x80
)

// CODEx sub-record tags, nested inside a CODE record's trailing loop.
const (
	codexEOF         = 0
	codexConst       = 1
	codexConstIndex  = 2
	codexGlobRef     = 3
	codexGlobRefIndex = 4
	codexLegacyConst = 5
	codexLegacyGlob  = 6
	codexPadnames    = 7
	codexPadAtDepth  = 8
)

// fieldReader decodes a per-type fixed header whose declared byte length
// (from the type-size table) may be shorter than the fields this loader
// knows about — an older producer that predates some trailing field — or
// longer — a newer producer with appended fields this loader doesn't know
// about. Once the bounded blob is exhausted, every further read yields the
// zero value instead of an error: a missing trailing field reads as
// "absent", which is what keeps old and new producers both loadable.
type fieldReader struct {
	rd   *reader.Reader
	fail bool
}

func newFieldReader(blob []byte, cfg reader.Config) *fieldReader {
	return &fieldReader{rd: reader.New(bytes.NewReader(blob), cfg)}
}

func (f *fieldReader) u8() uint8 {
	if f.fail {
		return 0
	}
	v, err := f.rd.ReadU8()
	if err != nil {
		f.fail = true
		return 0
	}
	return v
}

func (f *fieldReader) uintv() uint64 {
	if f.fail {
		return 0
	}
	v, err := f.rd.ReadUint()
	if err != nil {
		f.fail = true
		return 0
	}
	return v
}

func (f *fieldReader) ptr() uint64 {
	if f.fail {
		return 0
	}
	v, err := f.rd.ReadPointer()
	if err != nil {
		f.fail = true
		return 0
	}
	return v
}

func (f *fieldReader) floatv() float64 {
	if f.fail {
		return 0
	}
	v, err := f.rd.ReadFloat()
	if err != nil {
		f.fail = true
		return 0
	}
	return v
}

// readTypeHeader reads the declared-length fixed header blob for a record
// and hands back a fieldReader bounded to exactly that many bytes.
func (l *loader) readTypeHeader(n uint8) (*fieldReader, error) {
	if n == 0 {
		return newFieldReader(nil, l.cfg), nil
	}
	blob, err := l.rd.ReadExact(int(n))
	if err != nil {
		return nil, errors.Wrap(err, "reading type header")
	}
	return newFieldReader(blob, l.cfg), nil
}

// readCommonHeader reads the four fields present on every SV record,
// following the per-type fixed header.
func (l *loader) readCommonHeader() (addr object.Address, refcnt uint32, ownedSize uint64, blessed object.Address, err error) {
	a, err := l.rd.ReadPointer()
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "reading object address")
	}
	rc, err := l.rd.ReadU32()
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "reading refcount")
	}
	sz, err := l.rd.ReadUint()
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "reading owned size")
	}
	bl, err := l.rd.ReadPointer()
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "reading blessed stash")
	}
	return object.Address(a), rc, sz, object.Address(bl), nil
}

// readGenericPtrsStrs reads the type's declared pointer and string
// arrays. Slots beyond what a given variant names are carried along and
// discarded; slots a variant names but the
// producer omitted read back as zero/absent via ptrAt/strAt/bytesAt.
func (l *loader) readGenericPtrsStrs(sizes typeSizes) (ptrs []uint64, strs [][]byte, strOk []bool, err error) {
	ptrs, err = l.rd.ReadPointerArrayOfN(uint64(sizes.numPtrs))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "reading generic pointers")
	}
	strs = make([][]byte, sizes.numStrs)
	strOk = make([]bool, sizes.numStrs)
	for i := range strs {
		data, ok, err := l.rd.ReadString()
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "reading generic string %d", i)
		}
		strs[i] = data
		strOk[i] = ok
	}
	return ptrs, strs, strOk, nil
}

func ptrAt(ptrs []uint64, i int) object.Address {
	if i < 0 || i >= len(ptrs) {
		return 0
	}
	return object.Address(ptrs[i])
}

func bytesAt(strs [][]byte, ok []bool, i int) ([]byte, bool) {
	if i < 0 || i >= len(strs) || !ok[i] {
		return nil, false
	}
	return strs[i], true
}

func strAt(strs [][]byte, ok []bool, i int) string {
	b, present := bytesAt(strs, ok, i)
	if !present {
		return ""
	}
	return string(b)
}

func addrSlice(ptrs []uint64) []object.Address {
	out := make([]object.Address, len(ptrs))
	for i, p := range ptrs {
		out[i] = object.Address(p)
	}
	return out
}

// readHeapBody parses the heap body: the tag loop over every remaining SV
// and magic-annotation record, until the tag-0 terminator.
func (l *loader) readHeapBody(d *Dump) error {
	log := l.opts.Logger
	pending := make(map[object.Address][]object.Magic)
	processed := 0

	for {
		tag, err := l.rd.ReadU8()
		if err != nil {
			return errors.Wrap(err, "reading heap record tag")
		}
		if tag == tagEOF {
			break
		}
		if tag == tagMagic {
			owner, mg, err := l.readMagicRecord(d)
			if err != nil {
				return err
			}
			pending[owner] = append(pending[owner], mg)
			continue
		}

		obj, err := l.readSVRecord(tag)
		if err != nil {
			return err
		}
		if obj.Address == 0 {
			// A zero address can never be looked up again; the record is
			// unreferenceable, so drop it rather than poison the map.
			log.Warn().Str("kind", obj.Kind.String()).Msg("discarding record with zero address")
			continue
		}
		d.objects[obj.Address] = obj

		processed++
		d.reportProgress("heap", processed)
	}

	applied := 0
	for owner, mags := range pending {
		if o, ok := d.objects[owner]; ok {
			o.Magic = append(o.Magic, mags...)
			applied++
		}
	}
	log.Debug().Int("magic", applied).Int("magicOrphaned", len(pending)-applied).Msg("magic annotations applied")

	return nil
}

// readSVRecord decodes one non-magic heap record, given its already-read
// tag byte.
func (l *loader) readSVRecord(tag uint8) (*object.Object, error) {
	sizes := l.sizesForTag(tag)
	fr, err := l.readTypeHeader(sizes.headerBytes)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagGlob:
		return l.readGlob(fr, sizes)
	case tagScalar:
		return l.readScalar(fr, sizes)
	case tagRef:
		return l.readRef(fr, sizes)
	case tagArray:
		return l.readArray(fr, sizes)
	case tagHash:
		return l.readHash(fr, sizes)
	case tagStash:
		return l.readStash(fr, sizes)
	case tagCode:
		return l.readCode(fr, sizes)
	case tagIO:
		return l.readIO(fr, sizes)
	case tagLvalue:
		return l.readLvalue(fr, sizes)
	case tagRegexp:
		return l.readOpaque(fr, sizes, object.KindRegexp)
	case tagFormat:
		return l.readOpaque(fr, sizes, object.KindFormat)
	case tagInvlist:
		return l.readOpaque(fr, sizes, object.KindInvlist)
	default:
		return nil, errors.Wrapf(errs.ErrUnknownTag, "SV tag %#x", tag)
	}
}

func (l *loader) readGlob(fr *fieldReader, sizes typeSizes) (*object.Object, error) {
	line := fr.uintv()
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	ptrs, strs, strOk, err := l.readGenericPtrsStrs(sizes)
	if err != nil {
		return nil, err
	}
	glob := &object.Glob{
		Stash:  ptrAt(ptrs, 0),
		Scalar: ptrAt(ptrs, 1),
		Array:  ptrAt(ptrs, 2),
		Hash:   ptrAt(ptrs, 3),
		Code:   ptrAt(ptrs, 4),
		EGV:    ptrAt(ptrs, 5),
		IO:     ptrAt(ptrs, 6),
		Form:   ptrAt(ptrs, 7),
		Line:   line,
		Name:   strAt(strs, strOk, 0),
		File:   strAt(strs, strOk, 1),
	}
	return &object.Object{Address: addr, Kind: object.KindGlob, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed, Glob: glob}, nil
}

func (l *loader) readScalar(fr *fieldReader, sizes typeSizes) (*object.Object, error) {
	flags := fr.u8()
	uv := fr.uintv()
	nv := fr.floatv()
	pvlen := fr.uintv()
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	ptrs, strs, strOk, err := l.readGenericPtrsStrs(sizes)
	if err != nil {
		return nil, err
	}
	scalar := &object.Scalar{
		HasIV:    flags&0x01 != 0,
		IV:       int64(uv),
		HasUV:    flags&0x02 != 0,
		UV:       uv,
		HasNV:    flags&0x04 != 0,
		NV:       nv,
		HasPV:    flags&0x08 != 0,
		UTF8:     flags&0x10 != 0,
		PVLen:    pvlen,
		OurStash: ptrAt(ptrs, 0),
	}
	if pv, ok := bytesAt(strs, strOk, 0); ok {
		scalar.PV = pv
	}
	return &object.Object{Address: addr, Kind: object.KindScalar, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed, Scalar: scalar}, nil
}

func (l *loader) readRef(fr *fieldReader, sizes typeSizes) (*object.Object, error) {
	flags := fr.u8()
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	ptrs, _, _, err := l.readGenericPtrsStrs(sizes)
	if err != nil {
		return nil, err
	}
	ref := &object.Ref{
		RV:       ptrAt(ptrs, 0),
		Weak:     flags&0x01 != 0,
		OurStash: ptrAt(ptrs, 1),
	}
	return &object.Object{Address: addr, Kind: object.KindRef, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed, Ref: ref}, nil
}

func (l *loader) readArray(fr *fieldReader, sizes typeSizes) (*object.Object, error) {
	n := fr.uintv()
	flags := fr.u8()
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	if _, _, _, err := l.readGenericPtrsStrs(sizes); err != nil {
		return nil, err
	}
	elements, err := l.rd.ReadPointerArrayOfN(n)
	if err != nil {
		return nil, errors.Wrap(err, "reading array elements")
	}
	arr := &object.Array{
		Elements: addrSlice(elements),
		Real:     flags&0x01 == 0,
	}
	return &object.Object{Address: addr, Kind: object.KindArray, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed, Array: arr}, nil
}

// readHashPairs reads n consecutive (string key, pointer value) pairs, the
// trailing variable body shared by HASH and STASH.
func (l *loader) readHashPairs(n uint64) (keys []string, values map[string]object.Address, err error) {
	capHint := n
	if capHint > 1<<16 {
		capHint = 1 << 16
	}
	keys = make([]string, 0, capHint)
	values = make(map[string]object.Address, capHint)
	for i := uint64(0); i < n; i++ {
		keyBytes, _, err := l.rd.ReadString()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading hash key %d", i)
		}
		val, err := l.rd.ReadPointer()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading hash value %d", i)
		}
		key := string(keyBytes)
		keys = append(keys, key)
		values[key] = object.Address(val)
	}
	return keys, values, nil
}

func (l *loader) readHash(fr *fieldReader, sizes typeSizes) (*object.Object, error) {
	nKeys := fr.uintv()
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	ptrs, _, _, err := l.readGenericPtrsStrs(sizes)
	if err != nil {
		return nil, err
	}
	keys, values, err := l.readHashPairs(nKeys)
	if err != nil {
		return nil, err
	}
	hash := &object.Hash{Keys: keys, Values: values, Backrefs: ptrAt(ptrs, 0)}
	return &object.Object{Address: addr, Kind: object.KindHash, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed, Hash: hash}, nil
}

func (l *loader) readStash(fr *fieldReader, sizes typeSizes) (*object.Object, error) {
	nKeys := fr.uintv()
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	ptrs, strs, strOk, err := l.readGenericPtrsStrs(sizes)
	if err != nil {
		return nil, err
	}
	keys, values, err := l.readHashPairs(nKeys)
	if err != nil {
		return nil, err
	}
	stash := &object.Stash{
		Hash:             object.Hash{Keys: keys, Values: values, Backrefs: ptrAt(ptrs, 0)},
		ClassName:        strAt(strs, strOk, 0),
		MroLinearAll:     ptrAt(ptrs, 1),
		MroLinearCurrent: ptrAt(ptrs, 2),
		MroNextMethod:    ptrAt(ptrs, 3),
		MroISACache:      ptrAt(ptrs, 4),
	}
	return &object.Object{Address: addr, Kind: object.KindStash, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed, Stash: stash}, nil
}

func (l *loader) readCode(fr *fieldReader, sizes typeSizes) (*object.Object, error) {
	line := fr.uintv()
	flags := fr.u8()
	oproot := fr.ptr()
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	ptrs, strs, strOk, err := l.readGenericPtrsStrs(sizes)
	if err != nil {
		return nil, err
	}
	code := &object.Code{
		Stash:          ptrAt(ptrs, 0),
		Glob:           ptrAt(ptrs, 1),
		Outside:        ptrAt(ptrs, 2),
		Padlist:        ptrAt(ptrs, 3),
		ConstVal:       ptrAt(ptrs, 4),
		File:           strAt(strs, strOk, 0),
		Line:           line,
		OpRoot:         object.Address(oproot),
		IsClone:        flags&0x01 != 0,
		IsCloned:       flags&0x02 != 0,
		IsXSub:         flags&0x04 != 0,
		WeakOutside:    flags&0x08 != 0,
		GlobRefcounted: flags&0x10 != 0,
	}

	for {
		sub, err := l.rd.ReadU8()
		if err != nil {
			return nil, errors.Wrap(err, "reading CODEx sub-tag")
		}
		if sub == codexEOF {
			break
		}
		switch sub {
		case codexConst:
			p, err := l.rd.ReadPointer()
			if err != nil {
				return nil, errors.Wrap(err, "reading CODEx const")
			}
			code.Constants = append(code.Constants, object.Address(p))
		case codexConstIndex:
			idx, err := l.rd.ReadUint()
			if err != nil {
				return nil, errors.Wrap(err, "reading CODEx const index")
			}
			code.ConstIndices = append(code.ConstIndices, idx)
		case codexGlobRef:
			p, err := l.rd.ReadPointer()
			if err != nil {
				return nil, errors.Wrap(err, "reading CODEx globref")
			}
			code.GlobRefs = append(code.GlobRefs, object.Address(p))
		case codexGlobRefIndex:
			idx, err := l.rd.ReadUint()
			if err != nil {
				return nil, errors.Wrap(err, "reading CODEx globref index")
			}
			code.GlobIndices = append(code.GlobIndices, idx)
		case codexLegacyConst:
			// legacy shape: uint index, string value. Superseded by
			// codexConst/codexConstIndex; read and discard.
			if _, err := l.rd.ReadUint(); err != nil {
				return nil, errors.Wrap(err, "reading legacy CODEx const index")
			}
			if _, _, err := l.rd.ReadString(); err != nil {
				return nil, errors.Wrap(err, "reading legacy CODEx const value")
			}
		case codexLegacyGlob:
			// legacy shape: two uints, one pointer. Superseded; discard.
			if _, err := l.rd.ReadUint(); err != nil {
				return nil, errors.Wrap(err, "reading legacy CODEx globref field 1")
			}
			if _, err := l.rd.ReadUint(); err != nil {
				return nil, errors.Wrap(err, "reading legacy CODEx globref field 2")
			}
			if _, err := l.rd.ReadPointer(); err != nil {
				return nil, errors.Wrap(err, "reading legacy CODEx globref pointer")
			}
		case codexPadnames:
			p, err := l.rd.ReadPointer()
			if err != nil {
				return nil, errors.Wrap(err, "reading CODEx padnames")
			}
			code.PadnamesAddr = object.Address(p)
		case codexPadAtDepth:
			// per-depth pad pointer: redundant with walking Padlist's own
			// elements during fixup, read and discard.
			if _, err := l.rd.ReadUint(); err != nil {
				return nil, errors.Wrap(err, "reading CODEx pad depth")
			}
			if _, err := l.rd.ReadPointer(); err != nil {
				return nil, errors.Wrap(err, "reading CODEx pad pointer")
			}
		default:
			return nil, errors.Wrapf(errs.ErrUnknownTag, "CODEx sub-tag %#x", sub)
		}
	}

	return &object.Object{Address: addr, Kind: object.KindCode, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed, Code: code}, nil
}

func (l *loader) readIO(fr *fieldReader, sizes typeSizes) (*object.Object, error) {
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	ptrs, _, _, err := l.readGenericPtrsStrs(sizes)
	if err != nil {
		return nil, err
	}
	io := &object.IOSlots{TopGV: ptrAt(ptrs, 0), FormatGV: ptrAt(ptrs, 1), BottomGV: ptrAt(ptrs, 2)}
	return &object.Object{Address: addr, Kind: object.KindIO, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed, IO: io}, nil
}

func (l *loader) readLvalue(fr *fieldReader, sizes typeSizes) (*object.Object, error) {
	typ := fr.u8()
	off := fr.uintv()
	length := fr.uintv()
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	ptrs, _, _, err := l.readGenericPtrsStrs(sizes)
	if err != nil {
		return nil, err
	}
	lv := &object.Lvalue{Type: typ, Offset: off, Length: length, Target: ptrAt(ptrs, 0)}
	return &object.Object{Address: addr, Kind: object.KindLvalue, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed, Lvalue: lv}, nil
}

// readOpaque reads a REGEXP, FORMAT, or INVLIST record: no known header or
// pointer/string fields, so whatever the producer declares is consumed and
// discarded. OwnedSize is still meaningful for sizing purposes.
func (l *loader) readOpaque(fr *fieldReader, sizes typeSizes, kind object.Kind) (*object.Object, error) {
	addr, refcnt, ownedSize, blessed, err := l.readCommonHeader()
	if err != nil {
		return nil, err
	}
	if _, _, _, err := l.readGenericPtrsStrs(sizes); err != nil {
		return nil, err
	}
	return &object.Object{Address: addr, Kind: kind, Refcnt: refcnt, OwnedSize: ownedSize, Blessed: blessed}, nil
}

// readMagicRecord decodes a tag-0x80 magic annotation. The record's shape
// changed between producers, keyed here on the format-minor version:
// format-minor 0 uses the legacy packed-flag shape, anything
// else uses the current shape with an explicit flags byte and both an
// object and a raw pointer target.
func (l *loader) readMagicRecord(d *Dump) (object.Address, object.Magic, error) {
	if d.VersionMinor == 0 {
		if l.opts.Strict {
			return 0, object.Magic{}, errors.Wrap(errs.ErrUnknownTag, "legacy magic-record shape refused under strict mode")
		}
		owner, err := l.rd.ReadPointer()
		if err != nil {
			return 0, object.Magic{}, errors.Wrap(err, "reading legacy magic owner")
		}
		typeAndFlag, err := l.rd.ReadU8()
		if err != nil {
			return 0, object.Magic{}, errors.Wrap(err, "reading legacy magic type")
		}
		obj, err := l.rd.ReadPointer()
		if err != nil {
			return 0, object.Magic{}, errors.Wrap(err, "reading legacy magic object")
		}
		mg := object.Magic{
			Type:       typeAndFlag &^ 0x80,
			Refcounted: typeAndFlag&0x80 != 0,
			Obj:        object.Address(obj),
		}
		return object.Address(owner), mg, nil
	}

	owner, err := l.rd.ReadPointer()
	if err != nil {
		return 0, object.Magic{}, errors.Wrap(err, "reading magic owner")
	}
	mgType, err := l.rd.ReadU8()
	if err != nil {
		return 0, object.Magic{}, errors.Wrap(err, "reading magic type")
	}
	flags, err := l.rd.ReadU8()
	if err != nil {
		return 0, object.Magic{}, errors.Wrap(err, "reading magic flags")
	}
	obj, err := l.rd.ReadPointer()
	if err != nil {
		return 0, object.Magic{}, errors.Wrap(err, "reading magic object")
	}
	ptr, err := l.rd.ReadPointer()
	if err != nil {
		return 0, object.Magic{}, errors.Wrap(err, "reading magic pointer")
	}
	mg := object.Magic{
		Type:       mgType,
		Refcounted: flags&0x01 != 0,
		Obj:        object.Address(obj),
		Ptr:        object.Address(ptr),
	}
	return object.Address(owner), mg, nil
}
