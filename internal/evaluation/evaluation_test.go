package evaluation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/signalsfoundry/groundlink/internal/bitvec"
	"github.com/signalsfoundry/groundlink/internal/observability"
	"github.com/signalsfoundry/groundlink/internal/prbs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPackets = 30

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Shared: SharedParams{
			Mode:          prbs.PRBS15,
			ResetLen:      1000,
			PacketLenBits: 64,
			NumPackets:    testPackets,
		},
		Generator: GeneratorParams{OutputFolder: dir, FlipSeed: 7},
		Evaluator: EvaluatorParams{InputFolder: dir},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestGenerateAndEvaluateCleanLink(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	gen, err := Generate(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, testPackets, gen.Written)
	assert.Zero(t, gen.FlippedBits)

	info, err := os.Stat(filepath.Join(cfg.Generator.OutputFolder, FrameName(0)))
	require.NoError(t, err)
	// 4 + 4 marker bytes plus 96 data bits coded to 192 unpacked bits.
	assert.Equal(t, int64(200), info.Size())
	assert.Equal(t, 200, cfg.FrameLen())

	res, err := Evaluate(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, testPackets, res.Frames)
	assert.Equal(t, testPackets, res.Statistics.Received)
	assert.Equal(t, testPackets, res.Statistics.Correct)
	assert.Equal(t, testPackets, res.Statistics.Unique)
	assert.Zero(t, res.Statistics.FrameErrorRate)
}

func TestEvaluateCorrectsBitFlips(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.BitFlipsPerFrame = 3
	ctx := context.Background()

	gen, err := Generate(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*testPackets, gen.FlippedBits)

	reg := prometheus.NewRegistry()
	rec, err := observability.NewLinkCollector(reg)
	require.NoError(t, err)

	res, err := Evaluate(ctx, cfg, WithRecorder(rec))
	require.NoError(t, err)
	assert.Equal(t, 3*testPackets, res.CorrectedBits)
	assert.Zero(t, res.Uncorrectable)
	assert.Equal(t, testPackets, res.Statistics.Correct)
	assert.Equal(t, float64(3*testPackets), testutil.ToFloat64(rec.GolayCorrectedBits))
	assert.Equal(t, float64(testPackets), testutil.ToFloat64(rec.VerifierPackets.WithLabelValues("received")))
	assert.Zero(t, testutil.ToFloat64(rec.FrameErrorRate))
}

func TestEvaluateCountsDroppedPackets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.DropPackets = []int{3, 7, 29}
	ctx := context.Background()

	gen, err := Generate(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, gen.Dropped)
	_, err = os.Stat(filepath.Join(cfg.Generator.OutputFolder, FrameName(7)))
	assert.True(t, os.IsNotExist(err))

	res, err := Evaluate(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, testPackets-3, res.Statistics.Received)
	assert.Equal(t, testPackets-3, res.Statistics.Unique)
	assert.InDelta(t, 3.0/testPackets, res.Statistics.FrameErrorRate, 1e-12)
}

func TestGenerateAndEvaluateWithSyncWord(t *testing.T) {
	cfg := testConfig(t)
	cfg.Shared.SyncWord = "1acffc1d"
	require.NoError(t, cfg.Validate())
	ctx := context.Background()

	_, err := Generate(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 200+32, cfg.FrameLen())

	first := filepath.Join(cfg.Generator.OutputFolder, FrameName(0))
	raw, err := os.ReadFile(first)
	require.NoError(t, err)
	require.Len(t, raw, cfg.FrameLen())
	assert.Equal(t, "00011010110011111111110000011101", bitvec.Bits(raw[:32]).String())

	// A flipped access-code bit loses the frame.
	raw[5] ^= 1
	require.NoError(t, os.WriteFile(first, raw, 0o644))

	res, err := Evaluate(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Undecodable)
	assert.Equal(t, testPackets, res.Statistics.Received)
	assert.Equal(t, testPackets-1, res.Statistics.Unique)
	assert.InDelta(t, 1.0/testPackets, res.Statistics.FrameErrorRate, 1e-12)
}

func TestValidateRejectsBadSyncWord(t *testing.T) {
	cfg := testConfig(t)
	for _, word := range []string{"zz", "0102030405060708090a"} {
		cfg.Shared.SyncWord = word
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration, word)
	}
}

func TestEvaluateHeavyNoise(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generator.BitFlipsPerFrame = 60
	ctx := context.Background()

	_, err := Generate(ctx, cfg, nil)
	require.NoError(t, err)

	res, err := Evaluate(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, testPackets, res.Statistics.Received)
	assert.Positive(t, res.Uncorrectable)
	assert.LessOrEqual(t, res.Statistics.Correct, testPackets-res.Uncorrectable)
	assert.Positive(t, res.Statistics.FrameErrorRate)
}

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	a := testConfig(t)
	a.Generator.BitFlipsPerFrame = 5
	b := a
	b.Generator.OutputFolder = t.TempDir()

	_, err := Generate(context.Background(), a, nil)
	require.NoError(t, err)
	_, err = Generate(context.Background(), b, nil)
	require.NoError(t, err)

	fa, err := os.ReadFile(filepath.Join(a.Generator.OutputFolder, FrameName(4)))
	require.NoError(t, err)
	fb, err := os.ReadFile(filepath.Join(b.Generator.OutputFolder, FrameName(4)))
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestFolderSourceSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin"), []byte{1, 2, 3}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte{4, 5, 6}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	var names []string
	n, err := FolderSource{Dir: dir, FrameLen: 3}.Run(context.Background(), func(_ context.Context, name string, frame []byte) error {
		names = append(names, name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a.bin", "b.bin"}, names)
}

func TestFolderSourceDelayAndCancel(t *testing.T) {
	dir := t.TempDir()
	for i := range 3 {
		require.NoError(t, os.WriteFile(filepath.Join(dir, FrameName(i)), []byte{byte(i)}, 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n, err := FolderSource{Dir: dir, FrameLen: 1, Delay: time.Hour}.Run(ctx, func(context.Context, string, []byte) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)

	start := time.Now()
	n, err = FolderSource{Dir: dir, FrameLen: 1, Delay: 10 * time.Millisecond}.Run(context.Background(), func(context.Context, string, []byte) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.yaml")
	raw := `
shared_params:
  prbs_mode: PRBS7
  reset_len: 500
  packet_len_bits: 64
  num_packets: 10
generator_params:
  output_folder: /tmp/frames
  bit_flips_per_frame: 2
  flip_seed: 42
evaluator_params:
  input_folder: /tmp/frames
  inter_packet_delay: 5ms
report_output_file: reports/eval-%Y%m%d.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, prbs.PRBS7, cfg.Shared.Mode)
	assert.Equal(t, 500, cfg.Shared.ResetLen)
	assert.Equal(t, 5*time.Millisecond, cfg.Evaluator.InterPacketDelay)
	assert.Equal(t, "326f19d3", cfg.Shared.Preamble)

	reportPath, err := cfg.ReportPath(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "reports/eval-20260301.yaml", reportPath)
}

func TestValidateRejectsUncodablePacketLength(t *testing.T) {
	cfg := Config{Shared: SharedParams{Mode: prbs.PRBS31, PacketLenBits: 8, NumPackets: 1}}
	cfg.ApplyDefaults()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg.Shared.PacketLenBits = 16
	assert.NoError(t, cfg.Validate())

	cfg.Shared.Preamble = "zz"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
}

func TestWriteReport(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReportOutputFile = filepath.Join(t.TempDir(), "out", "report-%Y.yaml")

	_, err := Generate(context.Background(), cfg, nil)
	require.NoError(t, err)
	res, err := Evaluate(context.Background(), cfg)
	require.NoError(t, err)

	path, err := WriteReport(cfg, res.Statistics, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "report-2026.yaml", filepath.Base(path))

	rep, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, testPackets, rep.Statistics.Correct)
	assert.Equal(t, prbs.PRBS15, rep.Configuration.Shared.Mode)

	cfg.ReportOutputFile = ""
	path, err = WriteReport(cfg, res.Statistics, time.Now())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestEvaluateRequiresInputFolder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Evaluator.InputFolder = ""
	_, err := Evaluate(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
