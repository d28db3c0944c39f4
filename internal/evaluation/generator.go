package evaluation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/signalsfoundry/groundlink/internal/bitvec"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/packet"
)

// GenerateResult summarises a generator run.
type GenerateResult struct {
	Written     int
	Dropped     int
	FlippedBits int
}

// FrameName is the file name used for the frame carrying packet index i.
func FrameName(i int) string {
	return fmt.Sprintf("frame_%06d.bin", i)
}

// Generate writes one Golay-framed packet per file into the output folder.
// Each frame carries the 4-byte sequence header followed by the next PRBS
// payload, behind the sync word when one is configured. Configured bit flips
// land in the coded region only.
func Generate(ctx context.Context, cfg Config, log logging.Logger) (GenerateResult, error) {
	if log == nil {
		log = logging.Noop()
	}
	var res GenerateResult
	if cfg.Generator.OutputFolder == "" {
		return res, fmt.Errorf("%w: generator output_folder is required", ErrInvalidConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	framer, err := cfg.Framer()
	if err != nil {
		return res, err
	}
	sync, err := cfg.SyncBits()
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(cfg.Generator.OutputFolder, 0o755); err != nil {
		return res, fmt.Errorf("evaluation: create output folder: %w", err)
	}

	src, err := packet.NewSource(packet.SourceConfig{
		Mode:          cfg.Shared.Mode,
		ResetLen:      cfg.Shared.ResetLen,
		PacketLenBits: cfg.Shared.PacketLenBits,
		NumPackets:    cfg.Shared.NumPackets,
	})
	if err != nil {
		return res, err
	}

	drop := make(map[int]bool, len(cfg.Generator.DropPackets))
	for _, i := range cfg.Generator.DropPackets {
		drop[i] = true
	}
	seed := uint64(cfg.Generator.FlipSeed)
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	stamper := &packet.HeaderStamper{}

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		payload, ok := src.NextPacked()
		if !ok {
			break
		}
		stamped := stamper.Stamp(payload)
		if drop[i] {
			res.Dropped++
			continue
		}

		frame, err := framer.Encode(bitvec.Unpack(stamped))
		if err != nil {
			return res, fmt.Errorf("evaluation: encode packet %d: %w", i, err)
		}
		res.FlippedBits += flipCodedBits(frame, len(framer.Preamble), len(frame)-len(framer.Postamble), cfg.Generator.BitFlipsPerFrame, rng)
		if len(sync) > 0 {
			frame = packet.PrependSync(sync, bitvec.Bits(frame))
		}

		if err := os.WriteFile(filepath.Join(cfg.Generator.OutputFolder, FrameName(i)), frame, 0o644); err != nil {
			return res, fmt.Errorf("evaluation: write frame %d: %w", i, err)
		}
		res.Written++
	}

	log.Info(ctx, "frames generated",
		logging.String("folder", cfg.Generator.OutputFolder),
		logging.Int("written", res.Written),
		logging.Int("dropped", res.Dropped),
		logging.Int("flipped_bits", res.FlippedBits),
	)
	return res, nil
}

// flipCodedBits inverts n distinct unpacked bits in frame[start:end].
func flipCodedBits(frame []byte, start, end, n int, rng *rand.Rand) int {
	span := end - start
	if n <= 0 || span <= 0 {
		return 0
	}
	n = min(n, span)
	for _, off := range rng.Perm(span)[:n] {
		frame[start+off] ^= 1
	}
	return n
}
