package doppler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/groundlink/internal/logging"
	"github.com/signalsfoundry/groundlink/model"
	"github.com/signalsfoundry/groundlink/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/groundlink/internal/doppler"

const (
	// DefaultLookBehind and DefaultLookAhead bound the AOS window searched for
	// the plan.
	DefaultLookBehind = 120 * time.Second
	DefaultLookAhead  = time.Hour

	pollInterval = time.Second
	pollSlack    = 1100 * time.Millisecond
)

// PlanSource lists plans for a ground station whose AOS falls in a window.
type PlanSource interface {
	ListPlans(ctx context.Context, groundStationID string, aosAfter, aosBefore time.Time) ([]model.Plan, error)
}

// Publisher receives corrections as they fall due.
type Publisher interface {
	PublishShift(ctx context.Context, s Shift) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, s Shift) error

// PublishShift calls f.
func (f PublisherFunc) PublishShift(ctx context.Context, s Shift) error { return f(ctx, s) }

// MetricsRecorder observes scheduler progress.
type MetricsRecorder interface {
	RecordShiftPublished(s Shift, lateness time.Duration)
	RecordShiftSkipped()
}

// Config configures a Scheduler.
type Config struct {
	GroundStationID      string        `yaml:"ground_station_id"`
	PlanID               string        `yaml:"plan_id"`
	DownlinkHz           float64       `yaml:"downlink_frequency_hz"`
	UplinkHz             float64       `yaml:"uplink_frequency_hz"`
	CorrectionsPerSecond int           `yaml:"corrections_per_second"`
	Verbose              bool          `yaml:"verbose"`
	LookBehind           time.Duration `yaml:"look_behind"`
	LookAhead            time.Duration `yaml:"look_ahead"`
}

// ApplyDefaults fills unset window bounds and density.
func (c *Config) ApplyDefaults() {
	if c.CorrectionsPerSecond == 0 {
		c.CorrectionsPerSecond = 1
	}
	if c.LookBehind == 0 {
		c.LookBehind = DefaultLookBehind
	}
	if c.LookAhead == 0 {
		c.LookAhead = DefaultLookAhead
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.PlanID == "":
		return fmt.Errorf("%w: plan id is required", ErrInvalidConfiguration)
	case c.GroundStationID == "":
		return fmt.Errorf("%w: ground station id is required", ErrInvalidConfiguration)
	case c.CorrectionsPerSecond < 1:
		return fmt.Errorf("%w: corrections per second must be at least 1", ErrInvalidConfiguration)
	}
	return nil
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c timectrl.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder reports publish and skip events to r.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// Scheduler fetches one plan, interpolates its track and publishes each
// correction at its timestamp. Corrections already in the past are skipped.
// Waits are split into polls of at most about 1.1s so Stop takes effect
// promptly.
type Scheduler struct {
	cfg     Config
	plans   PlanSource
	pub     Publisher
	clock   timectrl.Clock
	log     logging.Logger
	metrics MetricsRecorder

	mu      sync.Mutex
	stopped bool
}

// NewScheduler validates cfg and constructs a Scheduler.
func NewScheduler(cfg Config, plans PlanSource, pub Publisher, opts ...Option) (*Scheduler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if plans == nil || pub == nil {
		return nil, fmt.Errorf("%w: plan source and publisher are required", ErrInvalidConfiguration)
	}
	s := &Scheduler{
		cfg:   cfg,
		plans: plans,
		pub:   pub,
		clock: timectrl.System(),
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("plan_id", cfg.PlanID))
	return s, nil
}

// Stop asks Run to return at its next poll boundary.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Run drives the pass. It returns nil once every correction has been handled
// or the scheduler was stopped or ctx cancelled. Plan lookup failures are
// returned to the caller without retry.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "doppler.Run",
		trace.WithAttributes(
			attribute.String("groundlink.plan.id", s.cfg.PlanID),
			attribute.String("groundlink.ground_station.id", s.cfg.GroundStationID),
		))
	defer span.End()

	track, err := s.loadTrack(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("corrections", len(track)))

	for _, sample := range track {
		if s.isStopped() || ctx.Err() != nil {
			return nil
		}
		if sample.Time.Before(s.clock.Now()) {
			s.log.Debug(ctx, "skipping correction in the past", logging.String("time", sample.Time.Format(time.RFC3339Nano)))
			if s.metrics != nil {
				s.metrics.RecordShiftSkipped()
			}
			continue
		}
		if !s.waitUntil(ctx, sample.Time) {
			return nil
		}
		s.publish(ctx, sample)
	}
	return nil
}

func (s *Scheduler) loadTrack(ctx context.Context) ([]model.CoordinateSample, error) {
	now := s.clock.Now()
	plans, err := s.plans.ListPlans(ctx, s.cfg.GroundStationID, now.Add(-s.cfg.LookBehind), now.Add(s.cfg.LookAhead))
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	s.log.Debug(ctx, "fetched plans", logging.Int("count", len(plans)))

	var plan *model.Plan
	for i := range plans {
		if plans[i].ID == s.cfg.PlanID {
			plan = &plans[i]
			break
		}
	}
	if plan == nil {
		return nil, fmt.Errorf("%w: %q for ground station %q", ErrPlanNotFound, s.cfg.PlanID, s.cfg.GroundStationID)
	}
	if len(plan.Coordinates) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyPlan, s.cfg.PlanID)
	}

	track, err := Interpolate(plan.Coordinates, s.cfg.CorrectionsPerSecond)
	if err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "interpolated satellite coordinates", logging.Int("count", len(track)))
	return track, nil
}

// waitUntil sleeps in bounded polls until t. It returns false if the
// scheduler was stopped or ctx cancelled while waiting.
func (s *Scheduler) waitUntil(ctx context.Context, t time.Time) bool {
	for t.Sub(s.clock.Now()) > pollSlack {
		if !s.sleep(ctx, pollInterval) {
			return false
		}
		if s.isStopped() {
			return false
		}
	}
	return s.sleep(ctx, t.Sub(s.clock.Now())) && !s.isStopped()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

func (s *Scheduler) publish(ctx context.Context, sample model.CoordinateSample) {
	shift := ComputeShift(sample.RangeRate, s.cfg.DownlinkHz, s.cfg.UplinkHz)
	shift.Time = sample.Time

	now := s.clock.Now()
	if s.cfg.Verbose {
		s.log.Debug(ctx, "publishing doppler correction",
			logging.String("scheduled", sample.Time.Format(time.RFC3339Nano)),
			logging.String("now", now.Format(time.RFC3339Nano)),
			logging.Float("downlink_shift_hz", shift.DownlinkShiftHz),
			logging.Float("uplink_shift_hz", shift.UplinkShiftHz),
		)
	}
	if err := s.pub.PublishShift(ctx, shift); err != nil {
		s.log.Warn(ctx, "failed to publish doppler correction", logging.Err(err))
		return
	}
	if s.metrics != nil {
		s.metrics.RecordShiftPublished(shift, now.Sub(sample.Time))
	}
}
