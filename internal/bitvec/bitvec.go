// Package bitvec provides an unpacked bit representation, one bit per byte,
// and conversions to and from packed MSB-first byte buffers.
package bitvec

import (
	"errors"
	"fmt"
)

// ErrUnaligned is returned when a bit sequence cannot be packed into whole bytes.
var ErrUnaligned = errors.New("bit length is not a multiple of 8")

// Bits is an ordered sequence of single-bit values, each element 0 or 1.
type Bits []byte

// FromBytes interprets raw unpacked samples, treating any non-zero byte as 1.
func FromBytes(raw []byte) Bits {
	out := make(Bits, len(raw))
	for i, v := range raw {
		if v != 0 {
			out[i] = 1
		}
	}
	return out
}

// Pack packs bits MSB-first into bytes.
func Pack(b Bits) ([]byte, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: got %d bits", ErrUnaligned, len(b))
	}
	out := make([]byte, len(b)/8)
	for i, bit := range b {
		if bit != 0 {
			out[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return out, nil
}

// Unpack expands bytes into bits, MSB first.
func Unpack(p []byte) Bits {
	out := make(Bits, 0, len(p)*8)
	for _, v := range p {
		for i := 7; i >= 0; i-- {
			out = append(out, (v>>uint(i))&1)
		}
	}
	return out
}

// FromUint returns the low width bits of v, MSB first.
func FromUint(v uint64, width int) Bits {
	out := make(Bits, width)
	for i := 0; i < width; i++ {
		out[i] = byte(v>>uint(width-1-i)) & 1
	}
	return out
}

// Uint interprets b as an MSB-first unsigned integer. At most the last 64 bits
// contribute.
func (b Bits) Uint() uint64 {
	var v uint64
	for _, bit := range b {
		v = v<<1 | uint64(bit&1)
	}
	return v
}

// String renders the bits as a string of '0' and '1'.
func (b Bits) String() string {
	s := make([]byte, len(b))
	for i, bit := range b {
		if bit != 0 {
			s[i] = '1'
		} else {
			s[i] = '0'
		}
	}
	return string(s)
}

// Parse converts a string of '0' and '1' characters into Bits. Spaces and
// underscores are ignored.
func Parse(s string) (Bits, error) {
	out := make(Bits, 0, len(s))
	for i, c := range s {
		switch c {
		case '0':
			out = append(out, 0)
		case '1':
			out = append(out, 1)
		case ' ', '_':
		default:
			return nil, fmt.Errorf("invalid bit character %q at %d", c, i)
		}
	}
	return out, nil
}

// Flip inverts the bits at the given positions in place.
func (b Bits) Flip(positions ...int) {
	for _, p := range positions {
		b[p] ^= 1
	}
}
