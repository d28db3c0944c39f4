package golay

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/groundlink/internal/bitvec"
)

var (
	// DefaultPreamble is the sync marker that precedes every coded frame.
	DefaultPreamble = []byte{0x32, 0x6F, 0x19, 0xD3}
	// DefaultPostamble terminates every coded frame.
	DefaultPostamble = []byte{0x77, 0x10, 0xDE, 0xF1}
)

// Framer encodes and decodes frames laid out as packed preamble bytes, the
// coded payload as unpacked bits (one byte per bit), then packed postamble
// bytes. Only the lengths of the markers matter for decoding; their contents
// are passed through untouched.
type Framer struct {
	Preamble  []byte
	Postamble []byte
}

// NewFramer returns a Framer using the default link markers.
func NewFramer() Framer {
	return Framer{Preamble: DefaultPreamble, Postamble: DefaultPostamble}
}

// Encode Golay-encodes data bits and wraps them with the markers.
func (f Framer) Encode(data bitvec.Bits) ([]byte, error) {
	coded, err := EncodeBits(data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(f.Preamble)+len(coded)+len(f.Postamble))
	out = append(out, f.Preamble...)
	out = append(out, coded...)
	out = append(out, f.Postamble...)
	return out, nil
}

// Decoded is the result of decoding one frame.
type Decoded struct {
	Preamble  []byte
	Data      bitvec.Bits
	Postamble []byte
	Blocks    []BlockResult
}

// Decode decodes the payload region of frame. A payload that is not a whole
// number of codewords rejects the entire frame with ErrFraming.
func (f Framer) Decode(frame []byte) (*Decoded, error) {
	pre, post := len(f.Preamble), len(f.Postamble)
	if len(frame) < pre+post {
		return nil, fmt.Errorf("%w: frame of %d bytes shorter than markers (%d)", ErrFraming, len(frame), pre+post)
	}
	payload := bitvec.FromBytes(frame[pre : len(frame)-post])
	data, blocks, err := DecodeBits(payload)
	if err != nil {
		return nil, err
	}
	return &Decoded{
		Preamble:  append([]byte(nil), frame[:pre]...),
		Data:      data,
		Postamble: append([]byte(nil), frame[len(frame)-post:]...),
		Blocks:    blocks,
	}, nil
}

// Uncorrectable returns the number of blocks that could not be decoded.
func (d *Decoded) Uncorrectable() int {
	n := 0
	for _, b := range d.Blocks {
		if b.Err != nil {
			n++
		}
	}
	return n
}

// CorrectedBits returns the total number of bit errors corrected.
func (d *Decoded) CorrectedBits() int {
	n := 0
	for _, b := range d.Blocks {
		n += b.Corrected
	}
	return n
}

// Err joins the per-block failures, or returns nil when every block decoded.
func (d *Decoded) Err() error {
	var errs []error
	for _, b := range d.Blocks {
		if b.Err != nil {
			errs = append(errs, fmt.Errorf("block %d: %w", b.Index, b.Err))
		}
	}
	return errors.Join(errs...)
}

// Unpacked renders the frame with the data left one bit per byte between the
// packed markers.
func (d *Decoded) Unpacked() []byte {
	out := make([]byte, 0, len(d.Preamble)+len(d.Data)+len(d.Postamble))
	out = append(out, d.Preamble...)
	out = append(out, d.Data...)
	return append(out, d.Postamble...)
}

// Packed renders the frame with the data packed MSB first between the
// markers. The data must be a whole number of bytes.
func (d *Decoded) Packed() ([]byte, error) {
	data, err := bitvec.Pack(d.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFraming, err)
	}
	out := make([]byte, 0, len(d.Preamble)+len(data)+len(d.Postamble))
	out = append(out, d.Preamble...)
	out = append(out, data...)
	return append(out, d.Postamble...), nil
}

// PackedData returns only the decoded data, packed MSB first.
func (d *Decoded) PackedData() ([]byte, error) {
	data, err := bitvec.Pack(d.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFraming, err)
	}
	return data, nil
}
