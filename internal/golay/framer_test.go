package golay

import (
	"bytes"
	"errors"
	"testing"

	"github.com/signalsfoundry/groundlink/internal/bitvec"
)

func frame(t *testing.T, payload bitvec.Bits) []byte {
	t.Helper()
	out := append([]byte{}, DefaultPreamble...)
	out = append(out, payload...)
	return append(out, DefaultPostamble...)
}

func TestFramerDecodeNoErrors(t *testing.T) {
	in := frame(t, append(mustBits(t, encoded1), mustBits(t, encoded2)...))
	if len(in) != 56 {
		t.Fatalf("input frame length = %d, want 56", len(in))
	}

	dec, err := NewFramer().Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := dec.Err(); err != nil {
		t.Fatalf("Decoded.Err: %v", err)
	}

	want := frame(t, append(mustBits(t, message1), mustBits(t, message2)...))
	if got := dec.Unpacked(); !bytes.Equal(got, want) {
		t.Fatalf("Unpacked = % x, want % x", got, want)
	}

	packed, err := dec.Packed()
	if err != nil {
		t.Fatalf("Packed: %v", err)
	}
	wantPacked := append(append([]byte{}, DefaultPreamble...), 0xE3, 0x95, 0x64)
	wantPacked = append(wantPacked, DefaultPostamble...)
	if !bytes.Equal(packed, wantPacked) {
		t.Fatalf("Packed = % x, want % x", packed, wantPacked)
	}
}

func TestFramerDecodePassesMarkersThrough(t *testing.T) {
	in := frame(t, mustBits(t, encoded1))
	in[0], in[len(in)-1] = 0xAA, 0x55

	dec, err := NewFramer().Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Preamble[0] != 0xAA || dec.Postamble[3] != 0x55 {
		t.Fatalf("markers were altered: pre=% x post=% x", dec.Preamble, dec.Postamble)
	}
}

func TestFramerDecodeReportsUncorrectableBlock(t *testing.T) {
	in := frame(t, append(mustBits(t, encoded1), flipped(t, encoded2, 7, 10, 11, 22)...))

	dec, err := NewFramer().Decode(in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Uncorrectable() != 1 {
		t.Fatalf("Uncorrectable = %d, want 1", dec.Uncorrectable())
	}
	if !errors.Is(dec.Err(), ErrUncorrectable) {
		t.Fatalf("Err = %v, want ErrUncorrectable", dec.Err())
	}
	if dec.Blocks[0].Err != nil {
		t.Fatalf("first block err = %v, want nil", dec.Blocks[0].Err)
	}
}

func TestFramerDecodeRejectsBadLength(t *testing.T) {
	f := NewFramer()
	for _, n := range []int{0, 7, 8 + 23, 8 + 25} {
		if _, err := f.Decode(make([]byte, n)); !errors.Is(err, ErrFraming) {
			t.Fatalf("Decode(%d bytes) err = %v, want ErrFraming", n, err)
		}
	}
}

func TestFramerEncodeDecodeRoundTrip(t *testing.T) {
	data := bitvec.Unpack([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02})
	f := NewFramer()

	coded, err := f.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(coded) != 8+2*len(data) {
		t.Fatalf("coded length = %d, want %d", len(coded), 8+2*len(data))
	}
	dec, err := f.Decode(coded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := dec.PackedData()
	if err != nil {
		t.Fatalf("PackedData: %v", err)
	}
	if !bytes.Equal(got, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02}) {
		t.Fatalf("PackedData = % x", got)
	}
}
