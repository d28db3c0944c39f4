package evaluation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/verifier"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/signalsfoundry/groundlink/internal/evaluation"

// Recorder observes evaluation progress. observability.LinkCollector
// satisfies it.
type Recorder interface {
	verifier.MetricsRecorder
	RecordGolayBlock(corrected int, err error)
	SetFrameErrorRate(fer float64)
}

// Option customises Evaluate.
type Option func(*evaluator)

// WithLogger sets the evaluation logger.
func WithLogger(l logging.Logger) Option {
	return func(e *evaluator) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder attaches metrics.
func WithRecorder(r Recorder) Option {
	return func(e *evaluator) { e.rec = r }
}

type evaluator struct {
	log logging.Logger
	rec Recorder
}

// Result is the outcome of an evaluation run.
type Result struct {
	Frames        int
	Undecodable   int
	Uncorrectable int
	CorrectedBits int
	Statistics    verifier.Statistics
}

// Evaluate replays the input folder. Every frame counts towards the received
// total; frames whose codewords all decode are checked against the expected
// PRBS sequence. Frames with any uncorrectable codeword are dropped.
func Evaluate(ctx context.Context, cfg Config, opts ...Option) (Result, error) {
	e := &evaluator{log: logging.Noop()}
	for _, opt := range opts {
		opt(e)
	}
	var res Result
	if cfg.Evaluator.InputFolder == "" {
		return res, fmt.Errorf("%w: evaluator input_folder is required", ErrInvalidConfiguration)
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

	vopts := []verifier.Option{verifier.WithLogger(e.log)}
	if e.rec != nil {
		vopts = append(vopts, verifier.WithMetricsRecorder(e.rec))
	}
	v, err := verifier.New(cfg.VerifierConfig(), vopts...)
	if err != nil {
		return res, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "evaluation.Evaluate")
	defer span.End()

	src := FolderSource{
		Dir:      cfg.Evaluator.InputFolder,
		FrameLen: cfg.FrameLen(),
		Delay:    cfg.Evaluator.InterPacketDelay,
		Log:      e.log,
	}
	frames, err := src.Run(ctx, func(ctx context.Context, name string, frame []byte) error {
		if err := v.ObserveAll(ctx); err != nil {
			return err
		}
		if !bytes.HasPrefix(frame, sync) {
			res.Undecodable++
			e.log.Warn(ctx, "frame rejected", logging.String("file", name), logging.String("reason", "sync word mismatch"))
			return nil
		}
		decoded, err := framer.Decode(frame[len(sync):])
		if err != nil {
			res.Undecodable++
			e.log.Warn(ctx, "frame rejected", logging.String("file", name), logging.Err(err))
			return nil
		}
		for _, b := range decoded.Blocks {
			if e.rec != nil {
				e.rec.RecordGolayBlock(b.Corrected, b.Err)
			}
		}
		res.CorrectedBits += decoded.CorrectedBits()
		if decoded.Err() != nil {
			res.Uncorrectable++
			e.log.Debug(ctx, "dropping frame with uncorrectable codewords",
				logging.String("file", name),
				logging.Int("blocks", decoded.Uncorrectable()),
			)
			return nil
		}
		data, err := decoded.PackedData()
		if err != nil {
			res.Undecodable++
			return nil
		}
		if _, err := v.ObserveCorrected(ctx, data); errors.Is(err, verifier.ErrFinalized) {
			return err
		}
		return nil
	})
	res.Frames = frames
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	res.Statistics = v.Statistics()
	if e.rec != nil {
		e.rec.SetFrameErrorRate(res.Statistics.FrameErrorRate)
	}
	span.SetAttributes(
		attribute.Int("frames", res.Frames),
		attribute.Int("unique_packets", res.Statistics.Unique),
		attribute.Float64("frame_error_rate", res.Statistics.FrameErrorRate),
	)
	e.log.Info(ctx, "evaluation complete",
		logging.Int("frames", res.Frames),
		logging.Int("uncorrectable_frames", res.Uncorrectable),
		logging.Int("corrected_bits", res.CorrectedBits),
		logging.Float("frame_error_rate", res.Statistics.FrameErrorRate),
	)
	return res, nil
}

// Report is the persisted evaluation result.
type Report = verifier.Report[Config]

// WriteReport writes the report to the configured output file, expanding
// strftime directives against now. It returns the path written, or "" when
// no output file is configured.
func WriteReport(cfg Config, stats verifier.Statistics, now time.Time) (path string, err error) {
	path, err = cfg.ReportPath(now)
	if err != nil || path == "" {
		return "", err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("evaluation: create report folder: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("evaluation: write report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			path, err = "", fmt.Errorf("evaluation: close report: %w", cerr)
		}
	}()
	if err := verifier.WriteReport(f, Report{Configuration: cfg, Statistics: stats}); err != nil {
		return "", err
	}
	return path, nil
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("evaluation: read report: %w", err)
	}
	defer f.Close()
	return verifier.ReadReport[Config](f)
}
