// Package golay implements the extended binary Golay(24,12,8) code used on the
// link: each 12-bit data group is carried in a 24-bit codeword laid out as
// 12 parity bits followed by the 12 data bits. Decoding is hard-decision and
// bounded-distance via a syndrome table covering every error pattern of weight
// three or less.
package golay

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/signalsfoundry/groundlink/internal/bitvec"
)

const (
	// DataBits is the number of data bits per codeword.
	DataBits = 12
	// CodewordBits is the number of bits in a codeword.
	CodewordBits = 24
	// CorrectionRadius is the number of bit errors per codeword that are
	// always corrected.
	CorrectionRadius = 3
)

var (
	// ErrFraming is returned when a buffer is not a whole number of blocks.
	ErrFraming = errors.New("golay: framing error")
	// ErrUncorrectable marks a codeword with more errors than the correction
	// radius when the decoder could detect it.
	ErrUncorrectable = errors.New("golay: uncorrectable codeword")
)

// parityRows are the rows of the parity half of the generator matrix; parity
// bit i (MSB first) is the parity of data AND parityRows[i].
var parityRows = [DataBits]uint16{
	0x8ED, 0x1DB, 0x3B5, 0x769, 0xED1, 0xDA3,
	0xB47, 0x68F, 0xD1D, 0xA3B, 0x477, 0xFFE,
}

type syndromeEntry struct {
	pattern uint32
	weight  int8
}

var syndromes = buildSyndromeTable()

func buildSyndromeTable() *[1 << DataBits]syndromeEntry {
	var t [1 << DataBits]syndromeEntry
	for i := range t {
		t[i].weight = -1
	}
	add := func(e uint32) {
		s := syndrome(e)
		if t[s].weight < 0 {
			t[s] = syndromeEntry{pattern: e, weight: int8(bits.OnesCount32(e))}
		}
	}
	add(0)
	for a := 0; a < CodewordBits; a++ {
		add(1 << a)
		for b := a + 1; b < CodewordBits; b++ {
			add(1<<a | 1<<b)
			for c := b + 1; c < CodewordBits; c++ {
				add(1<<a | 1<<b | 1<<c)
			}
		}
	}
	return &t
}

func parity(data uint16) uint16 {
	var p uint16
	for i, row := range parityRows {
		p |= uint16(bits.OnesCount16(data&row)&1) << uint(DataBits-1-i)
	}
	return p
}

func syndrome(word uint32) uint16 {
	data := uint16(word & 0xFFF)
	return parity(data) ^ uint16(word>>DataBits&0xFFF)
}

// Encode maps a 12-bit data group to its 24-bit codeword. Bits above the low
// 12 are ignored.
func Encode(data uint16) uint32 {
	data &= 0xFFF
	return uint32(parity(data))<<DataBits | uint32(data)
}

// Decode returns the data group of the nearest codeword and the number of
// corrected bits. When the received word is further than CorrectionRadius
// from any codeword it returns the received data bits unchanged together with
// ErrUncorrectable. With four errors the failure is always detected; with
// five or more the decoder may silently return a different data group.
func Decode(word uint32) (uint16, int, error) {
	word &= 0xFFFFFF
	entry := syndromes[syndrome(word)]
	if entry.weight < 0 {
		return uint16(word & 0xFFF), 0, ErrUncorrectable
	}
	return uint16((word ^ entry.pattern) & 0xFFF), int(entry.weight), nil
}

// BlockResult reports the outcome of decoding one codeword.
type BlockResult struct {
	Index     int
	Corrected int
	Err       error
}

// EncodeBits encodes an unpacked bit sequence 12 bits at a time.
func EncodeBits(in bitvec.Bits) (bitvec.Bits, error) {
	if len(in)%DataBits != 0 {
		return nil, fmt.Errorf("%w: %d data bits is not a multiple of %d", ErrFraming, len(in), DataBits)
	}
	out := make(bitvec.Bits, 0, len(in)*2)
	for i := 0; i < len(in); i += DataBits {
		data := uint16(in[i : i+DataBits].Uint())
		out = append(out, bitvec.FromUint(uint64(Encode(data)), CodewordBits)...)
	}
	return out, nil
}

// DecodeBits decodes an unpacked bit sequence 24 bits at a time. Per-block
// failures are reported in the returned results and do not abort the call;
// only a length that is not a whole number of codewords is an error.
func DecodeBits(in bitvec.Bits) (bitvec.Bits, []BlockResult, error) {
	if len(in)%CodewordBits != 0 {
		return nil, nil, fmt.Errorf("%w: %d coded bits is not a multiple of %d", ErrFraming, len(in), CodewordBits)
	}
	n := len(in) / CodewordBits
	out := make(bitvec.Bits, 0, n*DataBits)
	results := make([]BlockResult, n)
	for i := 0; i < n; i++ {
		word := uint32(in[i*CodewordBits : (i+1)*CodewordBits].Uint())
		data, corrected, err := Decode(word)
		results[i] = BlockResult{Index: i, Corrected: corrected, Err: err}
		out = append(out, bitvec.FromUint(uint64(data), DataBits)...)
	}
	return out, results, nil
}
