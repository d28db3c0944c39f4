package model

import (
	"fmt"
	"strings"
	"time"
)

// Framing identifies how a telemetry payload is framed on the wire.
type Framing int

const (
	FramingBitstream Framing = iota
	FramingAX25
	FramingIQ
)

func (f Framing) String() string {
	switch f {
	case FramingBitstream:
		return "BITSTREAM"
	case FramingAX25:
		return "AX25"
	case FramingIQ:
		return "IQ"
	default:
		return fmt.Sprintf("Framing(%d)", int(f))
	}
}

// ParseFraming converts a framing name (case-insensitive) to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BITSTREAM":
		return FramingBitstream, nil
	case "AX25":
		return FramingAX25, nil
	case "IQ":
		return FramingIQ, nil
	default:
		return FramingBitstream, fmt.Errorf("unknown telemetry framing %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Framing) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Framing) UnmarshalText(b []byte) error {
	v, err := ParseFraming(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// TelemetryRecord is a framed chunk of downlinked data bound for the
// ground-station API.
type TelemetryRecord struct {
	PlanID              string    `json:"plan_id"`
	Framing             Framing   `json:"framing"`
	Data                []byte    `json:"data"`
	DownlinkFrequencyHz float64   `json:"downlink_frequency_hz,omitempty"`
	FirstByteReceived   time.Time `json:"first_byte_received"`
	LastByteReceived    time.Time `json:"last_byte_received"`
}

// Command is an uplink command pushed by the ground-station API.
type Command struct {
	PlanID string   `json:"plan_id"`
	Frames [][]byte `json:"frames"`
}
