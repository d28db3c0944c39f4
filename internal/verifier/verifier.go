// Package verifier checks received PRBS test packets against the expected
// sequence and accumulates link-quality statistics.
//
// Packets arrive on two channels. The "all" channel counts every frame seen
// before FEC. The "corrected" channel carries decoded packets with their
// sequence header; each is checked for length, regenerated from the PRBS at
// index*packet_len_bits and compared byte for byte.
package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/groundlink/internal/bitvec"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/packet"
	"github.com/signalsfoundry/groundlink/internal/prbs"
)

var (
	// ErrInvalidConfiguration is returned by New for unusable settings.
	ErrInvalidConfiguration = errors.New("verifier: invalid configuration")
	// ErrWrongLength marks a corrected packet of the wrong size.
	ErrWrongLength = packet.ErrWrongLength
	// ErrPayloadMismatch marks a corrected packet whose payload differs from
	// the expected sequence.
	ErrPayloadMismatch = errors.New("verifier: payload mismatch")
	// ErrIndexOutOfRange marks a packet index at or beyond the expected count.
	ErrIndexOutOfRange = errors.New("verifier: packet index out of range")
	// ErrFinalized is returned for packets observed after statistics were taken.
	ErrFinalized = errors.New("verifier: statistics already finalized")
)

// Outcome classifies an observed packet.
type Outcome string

const (
	OutcomeReceived    Outcome = "received"
	OutcomeCorrect     Outcome = "correct"
	OutcomeWrongLength Outcome = "wrong_length"
	OutcomeErroneous   Outcome = "erroneous"
)

// MetricsRecorder receives per-packet outcomes.
type MetricsRecorder interface {
	RecordPacket(outcome Outcome)
}

// Config describes the transmitted test sequence.
type Config struct {
	Mode            prbs.Mode `yaml:"prbs_mode" json:"prbs_mode"`
	ResetLen        int       `yaml:"reset_len" json:"reset_len"`
	PacketLenBits   int       `yaml:"packet_len_bits" json:"packet_len_bits"`
	ExpectedPackets int       `yaml:"num_packets" json:"num_packets"`
}

// Validate reports whether the configuration can drive a verifier.
func (c Config) Validate() error {
	if c.PacketLenBits <= 0 || c.PacketLenBits%8 != 0 {
		return fmt.Errorf("%w: packet length %d bits must be a positive multiple of 8", ErrInvalidConfiguration, c.PacketLenBits)
	}
	if c.ExpectedPackets <= 0 {
		return fmt.Errorf("%w: expected packet count must be positive, got %d", ErrInvalidConfiguration, c.ExpectedPackets)
	}
	if c.ResetLen <= 0 {
		return fmt.Errorf("%w: reset length must be positive, got %d", ErrInvalidConfiguration, c.ResetLen)
	}
	return nil
}

// PayloadLen returns the payload size in bytes, excluding the header.
func (c Config) PayloadLen() int { return c.PacketLenBits / 8 }

// Statistics summarises a verification run.
type Statistics struct {
	Expected       int     `yaml:"expected_packets" json:"expected_packets"`
	Received       int     `yaml:"received_packets" json:"received_packets"`
	Correct        int     `yaml:"correct_packets_after_fec" json:"correct_packets_after_fec"`
	WrongLength    int     `yaml:"wrong_length_packets_after_fec" json:"wrong_length_packets_after_fec"`
	Erroneous      int     `yaml:"erroneous_packets_after_fec" json:"erroneous_packets_after_fec"`
	Unique         int     `yaml:"unique_packets_after_fec" json:"unique_packets_after_fec"`
	Duplicates     int     `yaml:"duplicates" json:"duplicates"`
	FrameErrorRate float64 `yaml:"frame_error_rate" json:"frame_error_rate"`
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger used for per-packet warnings.
func WithLogger(l logging.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// WithMetricsRecorder reports packet outcomes to r.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(v *Verifier) { v.metrics = r }
}

// Verifier accumulates statistics. It is safe for concurrent use.
type Verifier struct {
	cfg     Config
	gen     *prbs.Generator
	log     logging.Logger
	metrics MetricsRecorder

	mu          sync.Mutex
	received    int
	correct     int
	wrongLength int
	erroneous   int
	collected   []int
	stats       *Statistics
}

// New constructs a Verifier for cfg.
func New(cfg Config, opts ...Option) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gen, err := prbs.New(cfg.Mode, cfg.ResetLen)
	if err != nil {
		return nil, err
	}
	v := &Verifier{
		cfg:       cfg,
		gen:       gen,
		log:       logging.Noop(),
		collected: make([]int, cfg.ExpectedPackets),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Config returns the verifier configuration.
func (v *Verifier) Config() Config { return v.cfg }

// ObserveAll counts a frame on the pre-FEC channel.
func (v *Verifier) ObserveAll(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stats != nil {
		return ErrFinalized
	}
	v.received++
	v.record(OutcomeReceived)
	return nil
}

// ObserveCorrected checks a decoded packet (header plus payload) and returns
// its index. Rejected packets are counted and reported through the error;
// they never abort the run.
func (v *Verifier) ObserveCorrected(ctx context.Context, b []byte) (uint32, error) {
	// Regenerating the expected payload only reads the precomputed cycle, so
	// it runs outside the lock.
	pkt, parseErr := packet.Parse(b, v.cfg.PayloadLen())
	var expected []byte
	if parseErr == nil {
		bits := v.gen.GenerateAfter(v.cfg.PacketLenBits, uint64(pkt.Index)*uint64(v.cfg.PacketLenBits))
		expected, _ = bitvec.Pack(bits)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stats != nil {
		return 0, ErrFinalized
	}

	switch {
	case parseErr != nil:
		v.wrongLength++
		v.record(OutcomeWrongLength)
		v.log.Warn(ctx, "received packet with the wrong length",
			logging.Int("expected_bytes", packet.HeaderLen+v.cfg.PayloadLen()),
			logging.Int("got_bytes", len(b)),
		)
		return 0, parseErr
	case !bytes.Equal(expected, pkt.Payload):
		v.erroneous++
		v.record(OutcomeErroneous)
		v.log.Warn(ctx, "received erroneous packet after FEC", logging.Any("index", pkt.Index))
		return pkt.Index, fmt.Errorf("%w: packet %d", ErrPayloadMismatch, pkt.Index)
	case uint64(pkt.Index) >= uint64(v.cfg.ExpectedPackets):
		v.erroneous++
		v.record(OutcomeErroneous)
		v.log.Warn(ctx, "received packet index beyond expected count",
			logging.Any("index", pkt.Index),
			logging.Int("expected_packets", v.cfg.ExpectedPackets),
		)
		return pkt.Index, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, pkt.Index, v.cfg.ExpectedPackets)
	}

	v.correct++
	v.collected[pkt.Index]++
	v.record(OutcomeCorrect)
	return pkt.Index, nil
}

func (v *Verifier) record(o Outcome) {
	if v.metrics != nil {
		v.metrics.RecordPacket(o)
	}
}

// Statistics finalizes the run on first call and returns the same snapshot on
// every later call.
func (v *Verifier) Statistics() Statistics {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stats == nil {
		unique, dupes := 0, 0
		for _, n := range v.collected {
			if n > 0 {
				unique++
			}
			if n > 1 {
				dupes += n - 1
			}
		}
		v.stats = &Statistics{
			Expected:       v.cfg.ExpectedPackets,
			Received:       v.received,
			Correct:        v.correct,
			WrongLength:    v.wrongLength,
			Erroneous:      v.erroneous,
			Unique:         unique,
			Duplicates:     dupes,
			FrameErrorRate: 1 - float64(unique)/float64(v.cfg.ExpectedPackets),
		}
	}
	return *v.stats
}

// Finalized reports whether Statistics has been taken.
func (v *Verifier) Finalized() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats != nil
}

// Collected returns a copy of the per-index receive counts.
func (v *Verifier) Collected() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]int(nil), v.collected...)
}
