// Package prbs generates pseudorandom binary sequences from a linear-feedback
// shift register. The sequence is precomputed for one cycle of ResetLen bits
// and repeats exactly after that, so a sink can regenerate the bits at any
// absolute position without replaying the register.
package prbs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/signalsfoundry/groundlink/internal/bitvec"
)

// DefaultResetLen is the default cycle length in bits.
const DefaultResetLen = 100000

// ErrInvalidConfiguration is returned for a zero cycle length or unknown mode.
var ErrInvalidConfiguration = errors.New("prbs: invalid configuration")

// Mode selects one of the fixed feedback polynomials.
type Mode int

const (
	PRBS7 Mode = iota
	PRBS15
	PRBS23
	PRBS31
)

var modeTaps = map[Mode][]int{
	PRBS7:  {0, 6, 7},
	PRBS15: {0, 14, 15},
	PRBS23: {0, 18, 23},
	PRBS31: {0, 28, 31},
}

func (m Mode) String() string {
	switch m {
	case PRBS7:
		return "PRBS7"
	case PRBS15:
		return "PRBS15"
	case PRBS23:
		return "PRBS23"
	case PRBS31:
		return "PRBS31"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a mode name such as "PRBS31" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PRBS7":
		return PRBS7, nil
	case "PRBS15":
		return PRBS15, nil
	case "PRBS23":
		return PRBS23, nil
	case "PRBS31", "":
		return PRBS31, nil
	default:
		return PRBS31, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Taps returns a copy of the polynomial tap positions.
func (m Mode) Taps() []int {
	return append([]int(nil), modeTaps[m]...)
}

// Generator produces a repeating PRBS cycle. A Generator is not safe for
// concurrent Generate calls; GenerateAfter only reads the precomputed cycle and
// may be called concurrently.
type Generator struct {
	mode   Mode
	pregen bitvec.Bits
	cursor int
}

// New precomputes one cycle of resetLen bits for the given mode.
func New(mode Mode, resetLen int) (*Generator, error) {
	taps, ok := modeTaps[mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidConfiguration, int(mode))
	}
	if resetLen <= 0 {
		return nil, fmt.Errorf("%w: reset length must be positive, got %d", ErrInvalidConfiguration, resetLen)
	}

	reg := seed(taps)
	pregen := make(bitvec.Bits, resetLen)
	for i := range pregen {
		pregen[i] = step(reg, taps)
	}
	return &Generator{mode: mode, pregen: pregen}, nil
}

// seed returns the initial register: all ones except every fourth position.
func seed(taps []int) bitvec.Bits {
	n := 0
	for _, t := range taps {
		if t > n {
			n = t
		}
	}
	reg := make(bitvec.Bits, n+1)
	for i := range reg {
		if i%4 != 0 {
			reg[i] = 1
		}
	}
	return reg
}

// step advances the register by one bit and returns the bit shifted in.
func step(reg bitvec.Bits, taps []int) byte {
	var bit byte
	for _, t := range taps[1:] {
		bit ^= reg[t]
	}
	copy(reg[1:], reg[:len(reg)-1])
	reg[0] = bit
	return bit
}

// Mode returns the generator's polynomial mode.
func (g *Generator) Mode() Mode { return g.mode }

// ResetLen returns the cycle length in bits.
func (g *Generator) ResetLen() int { return len(g.pregen) }

// Cursor returns the position within the cycle of the next bit Generate will
// return.
func (g *Generator) Cursor() int { return g.cursor }

// Generate returns the next n bits of the sequence, continuing across cycle
// resets.
func (g *Generator) Generate(n int) bitvec.Bits {
	out := g.read(g.cursor, n)
	g.cursor = (g.cursor + n) % len(g.pregen)
	return out
}

// Reset rewinds the generator to the start of the cycle.
func (g *Generator) Reset() { g.cursor = 0 }

// GenerateAfter returns the n bits found at absolute position offset in the
// infinite repetition of the cycle. It does not move the cursor.
func (g *Generator) GenerateAfter(n int, offset uint64) bitvec.Bits {
	start := int(offset % uint64(len(g.pregen)))
	return g.read(start, n)
}

func (g *Generator) read(start, n int) bitvec.Bits {
	if n <= 0 {
		return bitvec.Bits{}
	}
	out := make(bitvec.Bits, 0, n)
	for n > 0 {
		chunk := min(n, len(g.pregen)-start)
		out = append(out, g.pregen[start:start+chunk]...)
		n -= chunk
		start = 0
	}
	return out
}
