// Package evaluation runs the offline receiver-evaluation workflow: generate
// Golay-framed PRBS test frames to a folder, replay a folder of received
// frames through the decoder and verifier, and write a YAML report.
package evaluation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/signalsfoundry/groundlink/internal/bitvec"
	"github.com/signalsfoundry/groundlink/internal/golay"
	"github.com/signalsfoundry/groundlink/internal/packet"
	"github.com/signalsfoundry/groundlink/internal/prbs"
	"github.com/signalsfoundry/groundlink/internal/verifier"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfiguration is returned for unusable evaluation settings.
var ErrInvalidConfiguration = errors.New("evaluation: invalid configuration")

// SharedParams describe the test sequence both sides agree on.
type SharedParams struct {
	Mode          prbs.Mode `yaml:"prbs_mode"`
	ResetLen      int       `yaml:"reset_len"`
	PacketLenBits int       `yaml:"packet_len_bits"`
	NumPackets    int       `yaml:"num_packets"`
	Preamble      string    `yaml:"preamble,omitempty"`
	Postamble     string    `yaml:"postamble,omitempty"`
	// SyncWord is an optional hex access code of up to 8 bytes sent as
	// unpacked bits ahead of each frame.
	SyncWord string `yaml:"sync_word,omitempty"`
}

// GeneratorParams configure frame generation.
type GeneratorParams struct {
	OutputFolder string `yaml:"output_folder"`
	// BitFlipsPerFrame flips this many distinct coded bits in every frame.
	BitFlipsPerFrame int   `yaml:"bit_flips_per_frame"`
	FlipSeed         int64 `yaml:"flip_seed"`
	// DropPackets lists packet indices that are not written, emulating loss.
	DropPackets []int `yaml:"drop_packets,omitempty"`
}

// EvaluatorParams configure the offline evaluation.
type EvaluatorParams struct {
	InputFolder      string        `yaml:"input_folder"`
	InterPacketDelay time.Duration `yaml:"inter_packet_delay"`
}

// Config is the receiver-evaluation configuration file.
type Config struct {
	Shared           SharedParams    `yaml:"shared_params"`
	Generator        GeneratorParams `yaml:"generator_params"`
	Evaluator        EvaluatorParams `yaml:"evaluator_params"`
	ReportOutputFile string          `yaml:"report_output_file,omitempty"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("evaluation: read config: %w", err)
	}
	cfg := Config{Shared: SharedParams{Mode: prbs.PRBS31}}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("evaluation: parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Shared.ResetLen == 0 {
		c.Shared.ResetLen = prbs.DefaultResetLen
	}
	if c.Shared.Preamble == "" {
		c.Shared.Preamble = hex.EncodeToString(golay.DefaultPreamble)
	}
	if c.Shared.Postamble == "" {
		c.Shared.Postamble = hex.EncodeToString(golay.DefaultPostamble)
	}
}

// Validate reports whether the shared parameters describe a codable frame.
func (c Config) Validate() error {
	if err := c.VerifierConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	dataBits := (packet.HeaderLen*8 + c.Shared.PacketLenBits)
	if dataBits%golay.DataBits != 0 {
		return fmt.Errorf("%w: header plus payload (%d bits) is not a multiple of %d", ErrInvalidConfiguration, dataBits, golay.DataBits)
	}
	if _, err := c.Framer(); err != nil {
		return err
	}
	if _, err := c.SyncBits(); err != nil {
		return err
	}
	if c.Generator.BitFlipsPerFrame < 0 || c.Generator.BitFlipsPerFrame > dataBits*2 {
		return fmt.Errorf("%w: bit_flips_per_frame %d out of range", ErrInvalidConfiguration, c.Generator.BitFlipsPerFrame)
	}
	if c.Evaluator.InterPacketDelay < 0 {
		return fmt.Errorf("%w: negative inter_packet_delay", ErrInvalidConfiguration)
	}
	return nil
}

// VerifierConfig derives the verifier settings.
func (c Config) VerifierConfig() verifier.Config {
	return verifier.Config{
		Mode:            c.Shared.Mode,
		ResetLen:        c.Shared.ResetLen,
		PacketLenBits:   c.Shared.PacketLenBits,
		ExpectedPackets: c.Shared.NumPackets,
	}
}

// Framer builds the Golay framer from the configured markers.
func (c Config) Framer() (golay.Framer, error) {
	pre, err := hex.DecodeString(c.Shared.Preamble)
	if err != nil {
		return golay.Framer{}, fmt.Errorf("%w: preamble: %v", ErrInvalidConfiguration, err)
	}
	post, err := hex.DecodeString(c.Shared.Postamble)
	if err != nil {
		return golay.Framer{}, fmt.Errorf("%w: postamble: %v", ErrInvalidConfiguration, err)
	}
	return golay.Framer{Preamble: pre, Postamble: post}, nil
}

// SyncBits returns the configured sync word as MSB-first bits, or nil when
// none is set.
func (c Config) SyncBits() (bitvec.Bits, error) {
	if c.Shared.SyncWord == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(c.Shared.SyncWord)
	if err != nil {
		return nil, fmt.Errorf("%w: sync_word: %v", ErrInvalidConfiguration, err)
	}
	var word uint64
	for _, b := range raw {
		word = word<<8 | uint64(b)
	}
	bits, err := packet.SyncWordBits(word, len(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: sync_word: %v", ErrInvalidConfiguration, err)
	}
	return bits, nil
}

// FrameLen is the size in bytes of one generated frame file.
func (c Config) FrameLen() int {
	dataBits := packet.HeaderLen*8 + c.Shared.PacketLenBits
	coded := dataBits / golay.DataBits * golay.CodewordBits
	return len(c.Shared.SyncWord)/2*8 + len(c.Shared.Preamble)/2 + coded + len(c.Shared.Postamble)/2
}

// ReportPath expands strftime directives in the report file name.
func (c Config) ReportPath(now time.Time) (string, error) {
	if c.ReportOutputFile == "" {
		return "", nil
	}
	path, err := strftime.Format(c.ReportOutputFile, now)
	if err != nil {
		return "", fmt.Errorf("%w: report_output_file: %v", ErrInvalidConfiguration, err)
	}
	return path, nil
}
