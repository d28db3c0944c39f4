// Command linkeval runs the offline receiver evaluation. "generate" writes
// Golay-framed PRBS test frames to a folder, "evaluate" replays a folder of
// received frames through the decoder and verifier and writes a report, and
// "run" does both.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/groundlink/internal/evaluation"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/observability"
)

var errUsage = errors.New("usage: linkeval [flags] generate|evaluate|run")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "linkeval: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("linkeval", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "evaluation.yaml", "Path to the evaluation YAML configuration")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "pretty", "Log format: text, json, pretty")
	inputFolder := fs.String("input-folder", "", "Override evaluator_params.input_folder")
	outputFolder := fs.String("output-folder", "", "Override generator_params.output_folder")
	reportFile := fs.String("report", "", "Override report_output_file (strftime patterns allowed)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	command := fs.Arg(0)
	switch command {
	case "generate", "evaluate", "run":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	log := logging.New(logging.Config{Level: *logLevel, Format: *logFormat, Output: os.Stderr})

	cfg, err := evaluation.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *inputFolder != "" {
		cfg.Evaluator.InputFolder = *inputFolder
	}
	if *outputFolder != "" {
		cfg.Generator.OutputFolder = *outputFolder
	}
	if *reportFile != "" {
		cfg.ReportOutputFile = *reportFile
	}
	if command == "run" && cfg.Evaluator.InputFolder == "" {
		cfg.Evaluator.InputFolder = cfg.Generator.OutputFolder
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv("linkeval"), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	if command == "generate" || command == "run" {
		res, err := evaluation.Generate(ctx, cfg, log)
		if err != nil {
			return err
		}
		log.Info(ctx, "frames generated",
			logging.String("folder", cfg.Generator.OutputFolder),
			logging.Int("written", res.Written),
			logging.Int("dropped", res.Dropped),
			logging.Int("flipped_bits", res.FlippedBits),
		)
	}
	if command == "generate" {
		return nil
	}

	rec, err := observability.NewLinkCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	res, err := evaluation.Evaluate(ctx, cfg, evaluation.WithLogger(log), evaluation.WithRecorder(rec))
	if err != nil {
		return err
	}
	log.Info(ctx, "evaluation finished",
		logging.Int("frames", res.Frames),
		logging.Int("undecodable", res.Undecodable),
		logging.Int("uncorrectable", res.Uncorrectable),
		logging.Int("corrected_bits", res.CorrectedBits),
	)

	path, err := evaluation.WriteReport(cfg, res.Statistics, time.Now())
	if err != nil {
		return err
	}
	if path != "" {
		log.Info(ctx, "report written", logging.String("path", path))
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"statistics": res.Statistics}); err != nil {
		return err
	}
	return enc.Close()
}
