// Package session runs the two activities of a link session: the Doppler
// correction scheduler and the telemetry/command relay.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/groundlink/internal/doppler"
	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/internal/relay"
	"github.com/signalsfoundry/groundlink/model"
	"github.com/signalsfoundry/groundlink/timectrl"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("session: already started")

// Recorder receives scheduler and relay metrics.
type Recorder interface {
	doppler.MetricsRecorder
	relay.MetricsRecorder
}

// Config configures a Session.
type Config struct {
	Doppler          doppler.Config `yaml:"doppler"`
	RelayPollTimeout time.Duration  `yaml:"relay_poll_timeout"`
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces the wall clock used by the Doppler scheduler.
func WithClock(c timectrl.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithRecorder attaches metrics to the scheduler and the telemetry relay.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.rec = r }
}

// WithCommandSink forwards commands received from the ground-station API to
// sink through a second relay.
func WithCommandSink(sink relay.Sink[model.Command]) Option {
	return func(s *Session) { s.commandSink = sink }
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Session owns one pass: a Doppler scheduler publishing corrections and a
// relay forwarding telemetry (and optionally commands).
type Session struct {
	id          string
	log         logging.Logger
	clock       timectrl.Clock
	rec         Recorder
	commandSink relay.Sink[model.Command]

	scheduler *doppler.Scheduler
	telemetry *relay.Relay[model.TelemetryRecord]
	commands  *relay.Relay[model.Command]

	mu      sync.Mutex
	started bool
	done    chan struct{}
	err     error
}

// New builds a session. plans feeds the scheduler, pub receives corrections,
// and sink receives telemetry.
func New(cfg Config, plans doppler.PlanSource, pub doppler.Publisher, sink relay.Sink[model.TelemetryRecord], opts ...Option) (*Session, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: telemetry sink is required", doppler.ErrInvalidConfiguration)
	}
	s := &Session{
		id:   uuid.NewString(),
		log:  logging.Noop(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("session_id", s.id))

	schedOpts := []doppler.Option{doppler.WithLogger(s.log)}
	if s.clock != nil {
		schedOpts = append(schedOpts, doppler.WithClock(s.clock))
	}
	relayOpts := []relay.Option{
		relay.WithLogger(s.log),
		relay.WithPollTimeout(cfg.RelayPollTimeout),
	}
	if s.rec != nil {
		schedOpts = append(schedOpts, doppler.WithMetricsRecorder(s.rec))
	}

	scheduler, err := doppler.NewScheduler(cfg.Doppler, plans, pub, schedOpts...)
	if err != nil {
		return nil, err
	}
	s.scheduler = scheduler

	telemetryOpts := relayOpts
	if s.rec != nil {
		telemetryOpts = append(append([]relay.Option(nil), relayOpts...), relay.WithMetricsRecorder(s.rec))
	}
	s.telemetry = relay.New[model.TelemetryRecord](sink, telemetryOpts...)
	if s.commandSink != nil {
		s.commands = relay.New[model.Command](s.commandSink, relayOpts...)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start launches the relays and the scheduler. ctx bounds the whole session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	if err := s.telemetry.Start(ctx); err != nil {
		return err
	}
	if s.commands != nil {
		if err := s.commands.Start(ctx); err != nil {
			return err
		}
	}

	s.log.Info(ctx, "session started")
	go func() {
		err := s.scheduler.Run(ctx)
		if err != nil {
			s.log.Error(ctx, "doppler scheduler failed", logging.Err(err))
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

// SendTelemetry queues a telemetry record for forwarding.
func (s *Session) SendTelemetry(rec model.TelemetryRecord) error {
	return s.telemetry.Enqueue(rec)
}

// HandleCommand queues a command for the command sink. Commands are dropped
// with a warning when no command sink is configured.
func (s *Session) HandleCommand(cmd model.Command) {
	if s.commands == nil {
		s.log.Warn(context.Background(), "no command sink; dropping command", logging.String("plan_id", cmd.PlanID))
		return
	}
	if err := s.commands.Enqueue(cmd); err != nil {
		s.log.Warn(context.Background(), "command rejected", logging.Err(err))
	}
}

// Done is closed when the Doppler scheduler has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the scheduler finishes and returns its error.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the scheduler, waits for it to return, then drains the telemetry
// relay followed by the command relay. Queued telemetry is forwarded, not
// discarded.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	s.scheduler.Stop()
	var errs []error
	if started {
		select {
		case <-s.done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for doppler scheduler: %w", ctx.Err()))
		}
	}
	if err := s.telemetry.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry relay: %w", err))
	}
	if s.commands != nil {
		if err := s.commands.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("command relay: %w", err))
		}
	}
	s.log.Info(ctx, "session stopped")
	return errors.Join(errs...)
}
