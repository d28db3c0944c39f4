package packet

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/groundlink/internal/bitvec"
	"github.com/signalsfoundry/groundlink/internal/prbs"
	"pgregory.net/rapid"
)

func TestSequenceWireLayout(t *testing.T) {
	b, err := Sequence{Index: 0x01020304, Payload: []byte{0xAA, 0xBB}}.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if want := []byte{0x04, 0x03, 0x02, 0x01, 0xAA, 0xBB}; !bytes.Equal(b, want) {
		t.Fatalf("wire = % x, want % x", b, want)
	}
}

func TestSequenceRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		idx := rapid.Uint32().Draw(t, "idx")
		payload := rapid.SliceOf(rapid.Byte()).Draw(t, "payload")

		b, _ := Sequence{Index: idx, Payload: payload}.MarshalBinary()
		got, err := Parse(b, len(payload))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if got.Index != idx || !bytes.Equal(got.Payload, payload) {
			t.Fatalf("round trip = %+v", got)
		}
	})
}

func TestParseWrongLength(t *testing.T) {
	if _, err := Parse(make([]byte, 10), 8); !errors.Is(err, ErrWrongLength) {
		t.Fatalf("Parse err = %v, want ErrWrongLength", err)
	}
}

func TestHeaderStamperIncrements(t *testing.T) {
	var s HeaderStamper
	first := s.Stamp([]byte{0xFF})
	second := s.Stamp([]byte{0xFF})
	if !bytes.Equal(first, []byte{0, 0, 0, 0, 0xFF}) {
		t.Fatalf("first = % x", first)
	}
	if !bytes.Equal(second, []byte{1, 0, 0, 0, 0xFF}) {
		t.Fatalf("second = % x", second)
	}
}

func TestHeaderStamperConcurrent(t *testing.T) {
	var s HeaderStamper
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Stamp(nil)
			}
		}()
	}
	wg.Wait()
	if got := s.Stamped(); got != 800 {
		t.Fatalf("Stamped = %d, want 800", got)
	}
}

func TestSyncWordBits(t *testing.T) {
	bits, err := SyncWordBits(0x1ACF, 2)
	if err != nil {
		t.Fatalf("SyncWordBits: %v", err)
	}
	if got := bits.String(); got != "0001101011001111" {
		t.Fatalf("bits = %s", got)
	}
	out := PrependSync(bits, bitvec.Bits{1, 0})
	if len(out) != 18 || out[16] != 1 || out[17] != 0 {
		t.Fatalf("PrependSync = %s", out)
	}
	if _, err := SyncWordBits(1, 0); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("zero-length sync err = %v", err)
	}
}

func TestSourceBoundedAndContinuous(t *testing.T) {
	src, err := NewSource(SourceConfig{Mode: prbs.PRBS31, ResetLen: 50, PacketLenBits: 64, NumPackets: 3})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	gen, _ := prbs.New(prbs.PRBS31, 50)

	for i := 0; i < 3; i++ {
		got, ok := src.Next()
		if !ok {
			t.Fatalf("packet %d missing", i)
		}
		want := gen.GenerateAfter(64, uint64(i*64))
		if got.String() != want.String() {
			t.Fatalf("packet %d diverged from the sequence", i)
		}
	}
	if _, ok := src.Next(); ok {
		t.Fatalf("source produced more than NumPackets")
	}
}

func TestNewSourceRejectsZeroLength(t *testing.T) {
	_, err := NewSource(SourceConfig{Mode: prbs.PRBS31, ResetLen: 50})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
	_, err = NewSource(SourceConfig{Mode: prbs.PRBS31, PacketLenBits: 8})
	if !errors.Is(err, prbs.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want prbs.ErrInvalidConfiguration", err)
	}
}
