package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/signalsfoundry/groundlink/internal/doppler"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/relay"
	"github.com/signalsfoundry/groundlink/model"
)

// logPublisher writes corrections to the log when no broker is configured.
func logPublisher(log logging.Logger) doppler.Publisher {
	return doppler.PublisherFunc(func(ctx context.Context, s doppler.Shift) error {
		log.Info(ctx, "doppler correction",
			logging.String("time", s.Time.Format("15:04:05.000")),
			logging.Float("downlink_hz", s.DownlinkHz),
			logging.Float("uplink_hz", s.UplinkHz),
			logging.Float("range_rate", s.RangeRate),
		)
		return nil
	})
}

// fanout delivers each record to every sink, attempting all of them.
func fanout[T any](sinks ...relay.Sink[T]) relay.Sink[T] {
	return relay.SinkFunc[T](func(ctx context.Context, item T) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Send(ctx, item); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// commandWriter stores each command frame as a file named
// command_<seq>_<frame>.bin under dir.
type commandWriter struct {
	dir string
	log logging.Logger

	mu  sync.Mutex
	seq int
}

func newCommandSink(dir string, log logging.Logger) relay.Sink[model.Command] {
	if dir == "" {
		return relay.SinkFunc[model.Command](func(ctx context.Context, cmd model.Command) error {
			log.Info(ctx, "command received",
				logging.String("plan_id", cmd.PlanID),
				logging.Int("frames", len(cmd.Frames)),
			)
			return nil
		})
	}
	return &commandWriter{dir: dir, log: log}
}

func (w *commandWriter) Send(ctx context.Context, cmd model.Command) error {
	w.mu.Lock()
	seq := w.seq
	w.seq++
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create command folder: %w", err)
	}
	for i, frame := range cmd.Frames {
		name := filepath.Join(w.dir, fmt.Sprintf("command_%06d_%02d.bin", seq, i))
		if err := os.WriteFile(name, frame, 0o644); err != nil {
			return fmt.Errorf("write command frame: %w", err)
		}
	}
	w.log.Debug(ctx, "command written",
		logging.String("plan_id", cmd.PlanID),
		logging.Int("frames", len(cmd.Frames)),
	)
	return nil
}
