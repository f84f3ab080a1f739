// ABOUTME: Endian- and width-aware primitive reader over a byte stream
// ABOUTME: Handles uint, pointer, float, and length-prefixed string reads

// Package reader provides an endian- and width-aware primitive reader over
// a byte stream, per the PMAT binary format's fixed-width, no-padding
// encoding. It is stateless beyond its position in the underlying stream:
// callers configure the endianness and the integer/pointer/float widths
// once and then call the typed Read* methods in wire order.
package reader

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/prateek/pmat/errs"
)

// Config describes the per-dump primitive widths and byte order that a
// Reader decodes with. IntSize and PtrSize are 4 or 8; FloatSize is 8, 10,
// or 16.
type Config struct {
	Order     binary.ByteOrder
	IntSize   int
	PtrSize   int
	FloatSize int
}

// Reader is a width-aware primitive decoder over an io.Reader.
type Reader struct {
	r   io.Reader
	cfg Config
	pos int64
}

// New wraps r with the given configuration.
func New(r io.Reader, cfg Config) *Reader {
	return &Reader{r: r, cfg: cfg}
}

// Pos returns the number of bytes consumed so far, for error context.
func (r *Reader) Pos() int64 { return r.pos }

// ReadExact reads exactly n bytes, failing with errs.ErrTruncated on EOF.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, errors.Wrapf(errs.ErrTruncated, "reading %d bytes at offset %d: %v", n, r.pos, err)
	}
	r.pos += int64(n)
	return buf, nil
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32 reads a 4-byte unsigned integer in the configured endian.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.ReadExact(4)
	if err != nil {
		return 0, err
	}
	return r.cfg.Order.Uint32(b), nil
}

// ReadU64 reads an 8-byte unsigned integer in the configured endian.
func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.ReadExact(8)
	if err != nil {
		return 0, err
	}
	return r.cfg.Order.Uint64(b), nil
}

// ReadUint reads an IntSize-byte unsigned integer.
func (r *Reader) ReadUint() (uint64, error) {
	return r.readWidth(r.cfg.IntSize)
}

// ReadPointer reads a PtrSize-byte address value.
func (r *Reader) ReadPointer() (uint64, error) {
	return r.readWidth(r.cfg.PtrSize)
}

func (r *Reader) readWidth(width int) (uint64, error) {
	switch width {
	case 4:
		v, err := r.ReadU32()
		return uint64(v), err
	case 8:
		return r.ReadU64()
	default:
		return 0, errors.Errorf("reader: unsupported width %d", width)
	}
}

// ReadFloat reads a FloatSize-byte IEEE-754-family float. 8-byte bodies
// decode as float64 directly; 10- and 16-byte bodies are the producer's
// long double representation, approximated here as a float64 by
// decodeLongDouble (exponent rebiased, mantissa truncated to 52 bits) —
// sufficient for display and comparison purposes, which is all this
// analyzer does with float bodies.
func (r *Reader) ReadFloat() (float64, error) {
	switch r.cfg.FloatSize {
	case 8:
		b, err := r.ReadExact(8)
		if err != nil {
			return 0, err
		}
		bits := r.cfg.Order.Uint64(b)
		return math.Float64frombits(bits), nil
	case 10, 16:
		b, err := r.ReadExact(r.cfg.FloatSize)
		if err != nil {
			return 0, err
		}
		return decodeLongDouble(b, r.cfg.Order), nil
	default:
		return 0, errors.Errorf("reader: unsupported float width %d", r.cfg.FloatSize)
	}
}

// decodeLongDouble approximates an 80-bit (padded to 10 or 16 bytes)
// extended-precision float as a float64: sign, 15-bit exponent, and the
// top 63 bits of the 64-bit explicit-integer-bit mantissa.
func decodeLongDouble(b []byte, order binary.ByteOrder) float64 {
	buf := make([]byte, len(b))
	copy(buf, b)
	if order == binary.BigEndian {
		for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}
	mantissa := binary.LittleEndian.Uint64(buf[0:8])
	signExp := binary.LittleEndian.Uint16(buf[8:10])
	sign := signExp >> 15
	exp := int(signExp & 0x7fff)

	if exp == 0 && mantissa == 0 {
		if sign == 1 {
			return math.Copysign(0, -1)
		}
		return 0
	}
	// Unbias the 80-bit exponent (bias 16383) and rebias for float64 (1023),
	// dropping the explicit integer bit and truncating the mantissa to 52
	// bits.
	unbiased := exp - 16383
	f64exp := unbiased + 1023
	if f64exp <= 0 || f64exp >= 0x7ff {
		if sign == 1 {
			return math.Copysign(math.MaxFloat64, -1)
		}
		return math.MaxFloat64
	}
	f64mantissa := (mantissa << 1) >> 12
	bits := uint64(sign)<<63 | uint64(f64exp)<<52 | f64mantissa
	return math.Float64frombits(bits)
}

// noneUint is the "-1" sentinel meaning "absent" for a length field of the
// configured integer width.
func (r *Reader) noneUint() uint64 {
	if r.cfg.IntSize == 4 {
		return uint64(uint32(0xffffffff))
	}
	return 0xffffffffffffffff
}

// ReadString reads a length-prefixed string: an IntSize-byte length
// followed by that many bytes. A length equal to the all-ones sentinel of
// the configured integer width means "absent" (ok=false), not a
// zero-length string.
func (r *Reader) ReadString() (data []byte, ok bool, err error) {
	length, err := r.ReadUint()
	if err != nil {
		return nil, false, err
	}
	if length == r.noneUint() {
		return nil, false, nil
	}
	if length > 1<<30 {
		return nil, false, errors.Errorf("reader: implausible string length %d at offset %d", length, r.pos)
	}
	data, err = r.ReadExact(int(length))
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// ReadPointerArrayOfN reads n consecutive pointer-width addresses. n comes
// straight off the wire, so it only sizes the allocation up to a cap; a
// count the stream can't actually back fails with Truncated part-way
// rather than allocating up front.
func (r *Reader) ReadPointerArrayOfN(n uint64) ([]uint64, error) {
	capHint := n
	if capHint > 1<<16 {
		capHint = 1 << 16
	}
	out := make([]uint64, 0, capHint)
	for i := uint64(0); i < n; i++ {
		v, err := r.ReadPointer()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
