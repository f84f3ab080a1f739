// ABOUTME: Implements the top-level PMAT dump loader and the loaded Dump type
// ABOUTME: Parses the header sections and drives the record and fixup passes

// Package dump implements the PMAT binary dump-file loader and the
// post-load fixup pass: the two-pass process that turns a byte
// stream into a fully cross-referenced object.Object graph.
package dump

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/prateek/pmat/errs"
	"github.com/prateek/pmat/object"
	"github.com/prateek/pmat/reader"
)

const (
	supportedMajor = 1

	flagBigEndian  = 1 << 0
	flagIntSize8   = 1 << 1
	flagPtrSize8   = 1 << 2
	flagFloatLong  = 1 << 3
	flagIthreads   = 1 << 4
	knownFlagsMask = flagBigEndian | flagIntSize8 | flagPtrSize8 | flagFloatLong | flagIthreads
)

// Options configures a Load call. The zero value is valid: logging is
// disabled, progress callbacks are skipped, and the loader falls back to
// the legacy magic-record shape when the dump carries it.
type Options struct {
	// Logger receives structured debug/warn events as the dump is parsed
	// and fixed up. The zero value is a disabled logger.
	Logger zerolog.Logger

	// Strict, when true, refuses the legacy (format-minor 0) magic-record
	// shape instead of falling back to it. Defaults to permissive
	// (false), so dumps from older producers still load.
	Strict bool

	// ProgressInterval is how many heap records are processed between
	// OnProgress invocations. Zero disables progress reporting even if
	// OnProgress is set.
	ProgressInterval int

	// OnProgress is invoked inline, synchronously, purely for
	// informational purposes; it must not mutate the Dump being built.
	OnProgress func(stage string, processed int)
}

// Immortals holds the three singleton addresses read from the header.
type Immortals struct {
	Undef object.Address
	Yes   object.Address
	No    object.Address
}

// Dump is a fully loaded and fixed-up PMAT dump file: the object graph
// plus the roots, stack, and context-stack snapshot it was built from.
// Dump owns every Object; analyses hold only addresses and look objects up
// through Get.
type Dump struct {
	Order     binary.ByteOrder
	IntSize   int
	PtrSize   int
	FloatSize int
	Ithreads  bool

	VersionMajor  uint8
	VersionMinor  uint8
	InterpVersion uint32

	Immortals Immortals

	// Roots maps a well-known root name to its address. Unknown names
	// from the dump are retained verbatim.
	Roots map[string]object.Address

	// Stack is the operand-stack snapshot, in dump order.
	Stack []object.Address

	// Contexts is the call-context stack, in dump order.
	Contexts []object.Context

	objects map[object.Address]*object.Object

	opts Options
}

// NumObjects returns the number of objects loaded, including the
// synthesized SCALAR objects for each nonzero immortal address.
func (d *Dump) NumObjects() int { return len(d.objects) }

// Get looks up an object by address. It returns (nil, false) for an
// address that is not in the heap and is not one of the three immortals —
// the non-fatal "no such object" outcome, not an error.
func (d *Dump) Get(addr object.Address) (*object.Object, bool) {
	if addr == 0 {
		return nil, false
	}
	o, ok := d.objects[addr]
	return o, ok
}

// IsImmortal reports whether addr names one of the three singletons.
func (d *Dump) IsImmortal(addr object.Address) bool {
	return addr != 0 && (addr == d.Immortals.Undef || addr == d.Immortals.Yes || addr == d.Immortals.No)
}

// ForEach calls fn once for every heap object, in unspecified order.
func (d *Dump) ForEach(fn func(*object.Object)) {
	for _, o := range d.objects {
		fn(o)
	}
}

// RootName returns the root name bound to addr, if any. Multiple root
// names may alias the same address; RootName returns one arbitrarily
// chosen name among them (reverse-trace treats this as "a" root label).
func (d *Dump) RootName(addr object.Address) (string, bool) {
	for name, a := range d.Roots {
		if a == addr {
			return name, true
		}
	}
	return "", false
}

func (d *Dump) reportProgress(stage string, processed int) {
	if d.opts.OnProgress == nil || d.opts.ProgressInterval <= 0 {
		return
	}
	if processed%d.opts.ProgressInterval == 0 {
		d.opts.OnProgress(stage, processed)
	}
}

// Load decodes a PMAT dump from r, building the full object graph and
// running the fixup pass. Any error returned is fatal: no partial Dump is
// exposed on error.
func Load(r io.Reader, opts Options) (*Dump, error) {
	l := &loader{opts: opts}
	d, err := l.load(r)
	if err != nil {
		return nil, err
	}
	if err := fixup(d); err != nil {
		return nil, err
	}
	return d, nil
}

// loader carries the transient state needed only while decoding; none of
// it survives into the returned Dump.
type loader struct {
	opts  Options
	rd    *reader.Reader
	cfg   reader.Config
	types []typeSizes
}

// typeSizes is one row of the header's per-type size table.
type typeSizes struct {
	headerBytes uint8
	numPtrs     uint8
	numStrs     uint8
}

func (l *loader) load(r io.Reader) (*Dump, error) {
	log := l.opts.Logger

	cfg, ithreads, major, minor, interpVersion, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	log.Debug().Uint8("major", major).Uint8("minor", minor).Msg("header parsed")

	l.cfg = cfg
	l.rd = reader.New(r, cfg)

	types, err := readTypeSizeTable(l.rd)
	if err != nil {
		return nil, err
	}
	l.types = types
	log.Debug().Int("types", len(types)).Msg("type-size table parsed")

	d := &Dump{
		Order:         cfg.Order,
		IntSize:       cfg.IntSize,
		PtrSize:       cfg.PtrSize,
		FloatSize:     cfg.FloatSize,
		Ithreads:      ithreads,
		VersionMajor:  major,
		VersionMinor:  minor,
		InterpVersion: interpVersion,
		Roots:         make(map[string]object.Address),
		objects:       make(map[object.Address]*object.Object),
		opts:          l.opts,
	}

	undef, yes, no, err := readImmortals(l.rd)
	if err != nil {
		return nil, err
	}
	d.Immortals = Immortals{Undef: undef, Yes: yes, No: no}
	for _, addr := range []object.Address{undef, yes, no} {
		if addr != 0 {
			d.objects[addr] = &object.Object{Address: addr, Kind: object.KindScalar, Scalar: &object.Scalar{}}
		}
	}

	if err := readRoots(l.rd, d); err != nil {
		return nil, err
	}
	log.Debug().Int("roots", len(d.Roots)).Msg("root table parsed")

	if err := readStack(l.rd, d); err != nil {
		return nil, err
	}
	log.Debug().Int("stack", len(d.Stack)).Msg("stack snapshot parsed")

	if err := l.readHeapBody(d); err != nil {
		return nil, err
	}
	log.Debug().Int("objects", len(d.objects)).Msg("heap body parsed")

	if err := l.readContexts(d); err != nil {
		return nil, err
	}
	log.Debug().Int("contexts", len(d.Contexts)).Msg("context stack parsed")

	return d, nil
}

// readHeader parses the fixed header through the interpreter-version
// field and returns the derived reader.Config plus the version fields.
func readHeader(r io.Reader) (cfg reader.Config, ithreads bool, major, minor uint8, interpVersion uint32, err error) {
	preamble := make([]byte, 8)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return reader.Config{}, false, 0, 0, 0, errors.Wrap(errs.ErrTruncated, "reading header preamble")
	}

	if string(preamble[:4]) != "PMAT" {
		return reader.Config{}, false, 0, 0, 0, errors.Wrapf(errs.ErrBadMagic, "got %q", preamble[:4])
	}

	flags := preamble[4]
	if flags&^knownFlagsMask != 0 {
		return reader.Config{}, false, 0, 0, 0, errors.Wrapf(errs.ErrUnknownFlag, "flags byte %#x", flags)
	}

	cfg = reader.Config{
		Order:     binary.LittleEndian,
		IntSize:   4,
		PtrSize:   4,
		FloatSize: 8,
	}
	if flags&flagBigEndian != 0 {
		cfg.Order = binary.BigEndian
	}
	if flags&flagIntSize8 != 0 {
		cfg.IntSize = 8
	}
	if flags&flagPtrSize8 != 0 {
		cfg.PtrSize = 8
	}
	if flags&flagFloatLong != 0 {
		cfg.FloatSize = 10
	}
	ithreads = flags&flagIthreads != 0

	// preamble[5] is the reserved zero byte; the format does not require
	// enforcing it, so it is not validated.
	major = preamble[6]
	minor = preamble[7]
	if major != supportedMajor {
		return reader.Config{}, false, 0, 0, 0, errors.Wrapf(errs.ErrBadVersion, "major %d, supported %d", major, supportedMajor)
	}

	rd := reader.New(r, cfg)
	interpVersion, err = rd.ReadU32()
	if err != nil {
		return reader.Config{}, false, 0, 0, 0, errors.Wrap(err, "reading interpreter version")
	}

	return cfg, ithreads, major, minor, interpVersion, nil
}
