// Package field reads unsigned integers and bits out of packet header bytes.
//
// Bit positions count from the most significant bit, so bit 0 of 0x80 is 1.
// Every offset a protocol needs is written down once as a Field table entry
// and read relative to the layer's start offset.
package field

import (
	"errors"

	"firestige.xyz/dissector/internal/core"
)

// Bits returns the eight bits of b, most significant first.
func Bits(b byte) [8]uint8 {
	var out [8]uint8
	for i := 0; i < 8; i++ {
		out[i] = (b >> (7 - i)) & 1
	}
	return out
}

// Bitfield extracts width bits of b beginning at start.
func Bitfield(b byte, start, width int) (uint8, error) {
	if width < 1 || start < 0 || start+width > 8 {
		return 0, &core.RangeError{Field: "bitfield", Lo: start, Hi: start + width - 1, Len: 8}
	}
	mask := uint8(uint16(1)<<uint(width) - 1)
	return (b >> uint(8-start-width)) & mask, nil
}

// Uint interprets buf[lo..hi] (inclusive) as a big-endian unsigned integer.
func Uint(buf []byte, lo, hi int) (uint64, error) {
	if lo < 0 || hi < lo || hi >= len(buf) || hi-lo >= 8 {
		return 0, &core.RangeError{Lo: lo, Hi: hi, Len: len(buf)}
	}
	var v uint64
	for _, b := range buf[lo : hi+1] {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// Field locates one header field relative to the start of its layer.
type Field struct {
	Name   string
	Offset int // first byte
	Bit    int // first bit within Offset
	Width  int // in bits
}

// Bytes returns how many bytes the field touches.
func (f Field) Bytes() int {
	return (f.Bit + f.Width + 7) / 8
}

// Read returns the field value from a layer starting at base.
func (f Field) Read(buf []byte, base int) (uint64, error) {
	if f.Width < 1 || f.Bit < 0 || f.Bit > 7 || f.Bit+f.Width > 64 {
		return 0, &core.RangeError{Field: f.Name, Lo: f.Bit, Hi: f.Bit + f.Width - 1, Len: 64}
	}
	n := f.Bytes()
	lo := base + f.Offset
	raw, err := Uint(buf, lo, lo+n-1)
	if err != nil {
		var re *core.RangeError
		if errors.As(err, &re) {
			re.Field = f.Name
		}
		return 0, err
	}
	shift := uint(n*8 - f.Bit - f.Width)
	mask := uint64(1)<<uint(f.Width) - 1
	return (raw >> shift) & mask, nil
}

// Reader reads a sequence of fields from one layer and keeps the first error,
// so analyzers can extract a whole header before checking once.
type Reader struct {
	buf  []byte
	base int
	err  error
}

// NewReader returns a Reader over buf for a layer starting at base.
func NewReader(buf []byte, base int) Reader {
	return Reader{buf: buf, base: base}
}

// Err returns the first error met by the reader.
func (r *Reader) Err() error { return r.err }

// Uint reads f, or returns 0 once the reader has failed.
func (r *Reader) Uint(f Field) uint64 {
	if r.err != nil {
		return 0
	}
	v, err := f.Read(r.buf, r.base)
	if err != nil {
		r.err = err
	}
	return v
}

// Uint8, Uint16 and Uint32 read f truncated to the result width.
func (r *Reader) Uint8(f Field) uint8 { return uint8(r.Uint(f)) }

func (r *Reader) Uint16(f Field) uint16 { return uint16(r.Uint(f)) }

func (r *Reader) Uint32(f Field) uint32 { return uint32(r.Uint(f)) }

// Flag reports whether f is non-zero.
func (r *Reader) Flag(f Field) bool { return r.Uint(f) != 0 }

// Bytes returns the layer-relative range [lo, hi) without copying.
func (r *Reader) Bytes(lo, hi int) []byte {
	if r.err != nil {
		return nil
	}
	start, end := r.base+lo, r.base+hi
	if lo < 0 || hi < lo || end > len(r.buf) {
		r.err = &core.RangeError{Field: "bytes", Lo: start, Hi: end - 1, Len: len(r.buf)}
		return nil
	}
	return r.buf[start:end]
}
