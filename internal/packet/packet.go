// Package packet defines the sequence-numbered test packet carried over the
// link and the helpers that build it: a PRBS payload source, an incrementing
// little-endian header and an optional sync-word prefix.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/groundlink/internal/bitvec"
	"github.com/signalsfoundry/groundlink/internal/prbs"
)

// HeaderLen is the size in bytes of the sequence header.
const HeaderLen = 4

var (
	// ErrInvalidConfiguration is returned for zero-length packets or bad sync words.
	ErrInvalidConfiguration = errors.New("packet: invalid configuration")
	// ErrWrongLength is returned when a buffer does not match the configured packet size.
	ErrWrongLength = errors.New("packet: wrong length")
)

// Sequence is a test packet: a 4-byte little-endian index followed by the
// packed payload.
type Sequence struct {
	Index   uint32
	Payload []byte
}

// MarshalBinary encodes the packet in its wire layout.
func (p Sequence) MarshalBinary() ([]byte, error) {
	out := make([]byte, HeaderLen+len(p.Payload))
	binary.LittleEndian.PutUint32(out, p.Index)
	copy(out[HeaderLen:], p.Payload)
	return out, nil
}

// Parse decodes a packet whose payload must be exactly payloadLen bytes.
func Parse(b []byte, payloadLen int) (Sequence, error) {
	if len(b) != HeaderLen+payloadLen {
		return Sequence{}, fmt.Errorf("%w: expecting %d bytes, got %d", ErrWrongLength, HeaderLen+payloadLen, len(b))
	}
	return Sequence{
		Index:   binary.LittleEndian.Uint32(b),
		Payload: append([]byte(nil), b[HeaderLen:]...),
	}, nil
}

// HeaderStamper prefixes payloads with an incrementing index starting at 0.
// It is safe for concurrent use.
type HeaderStamper struct {
	mu   sync.Mutex
	next uint32
}

// Stamp returns the payload prefixed with the next index.
func (s *HeaderStamper) Stamp(payload []byte) []byte {
	s.mu.Lock()
	idx := s.next
	s.next++
	s.mu.Unlock()

	b, _ := Sequence{Index: idx, Payload: payload}.MarshalBinary()
	return b
}

// Stamped returns how many payloads have been stamped.
func (s *HeaderStamper) Stamped() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// SyncWordBits expands the low byteLen bytes of word into bits, MSB first.
func SyncWordBits(word uint64, byteLen int) (bitvec.Bits, error) {
	if byteLen <= 0 || byteLen > 8 {
		return nil, fmt.Errorf("%w: sync word length %d out of range 1..8", ErrInvalidConfiguration, byteLen)
	}
	return bitvec.FromUint(word, byteLen*8), nil
}

// PrependSync returns sync followed by the unpacked payload bits.
func PrependSync(sync bitvec.Bits, unpacked bitvec.Bits) bitvec.Bits {
	out := make(bitvec.Bits, 0, len(sync)+len(unpacked))
	out = append(out, sync...)
	return append(out, unpacked...)
}

// SourceConfig configures a PRBS packet source.
type SourceConfig struct {
	Mode          prbs.Mode
	ResetLen      int
	PacketLenBits int
	// NumPackets bounds the number of packets produced; 0 means unbounded.
	NumPackets int
}

// Source emits consecutive PRBS payloads of a fixed length.
type Source struct {
	gen  *prbs.Generator
	cfg  SourceConfig
	sent int
}

// NewSource validates cfg and constructs a Source.
func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.PacketLenBits <= 0 || cfg.PacketLenBits%8 != 0 {
		return nil, fmt.Errorf("%w: packet length %d bits must be a positive multiple of 8", ErrInvalidConfiguration, cfg.PacketLenBits)
	}
	if cfg.NumPackets < 0 {
		return nil, fmt.Errorf("%w: negative packet count", ErrInvalidConfiguration)
	}
	gen, err := prbs.New(cfg.Mode, cfg.ResetLen)
	if err != nil {
		return nil, err
	}
	return &Source{gen: gen, cfg: cfg}, nil
}

// Next returns the next payload as unpacked bits, or false once NumPackets
// have been produced.
func (s *Source) Next() (bitvec.Bits, bool) {
	if s.cfg.NumPackets > 0 && s.sent >= s.cfg.NumPackets {
		return nil, false
	}
	s.sent++
	return s.gen.Generate(s.cfg.PacketLenBits), true
}

// NextPacked is Next with the payload packed into bytes.
func (s *Source) NextPacked() ([]byte, bool) {
	bits, ok := s.Next()
	if !ok {
		return nil, false
	}
	b, err := bitvec.Pack(bits)
	if err != nil {
		// PacketLenBits is validated to be byte aligned.
		panic(err)
	}
	return b, true
}

// Sent returns the number of packets produced so far.
func (s *Source) Sent() int { return s.sent }
