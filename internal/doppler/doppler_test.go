package doppler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/groundlink/model"
	"github.com/signalsfoundry/groundlink/timectrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(sec * float64(time.Second)))
}

func TestInterpolateKnownVector(t *testing.T) {
	in := []model.CoordinateSample{
		{Time: at(2), RangeRate: 2.1},
		{Time: at(3), RangeRate: 2.4},
		{Time: at(4), RangeRate: 2.9},
	}
	got, err := Interpolate(in, 2)
	require.NoError(t, err)

	want := []struct {
		t, rate float64
	}{{2.0, 2.1}, {2.5, 2.25}, {3.0, 2.4}, {3.5, 2.65}, {4.0, 2.9}}
	require.Len(t, got, len(want))
	for i, w := range want {
		assert.True(t, got[i].Time.Equal(at(w.t)), "sample %d time = %v, want %v", i, got[i].Time, at(w.t))
		assert.InDelta(t, w.rate, got[i].RangeRate, 1e-12, "sample %d", i)
	}
	assert.Equal(t, in[2], got[len(got)-1], "last sample must be preserved verbatim")
}

func TestInterpolateDegenerateInputs(t *testing.T) {
	got, err := Interpolate(nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	one := []model.CoordinateSample{{Time: at(0), RangeRate: -7}}
	got, err = Interpolate(one, 5)
	require.NoError(t, err)
	assert.Equal(t, one, got)
}

func TestInterpolateRejectsBadInput(t *testing.T) {
	_, err := Interpolate([]model.CoordinateSample{{Time: at(0)}}, 0)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Interpolate([]model.CoordinateSample{{Time: at(1)}, {Time: at(1)}}, 1)
	assert.ErrorIs(t, err, ErrUnorderedSamples)
}

func TestInterpolateProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		cps := rapid.IntRange(1, 10).Draw(t, "cps")
		samples := make([]model.CoordinateSample, n)
		for i := range samples {
			samples[i] = model.CoordinateSample{
				Time:      at(float64(i)),
				RangeRate: rapid.Float64Range(-8000, 8000).Draw(t, "rate"),
			}
		}

		got, err := Interpolate(samples, cps)
		if err != nil {
			t.Fatalf("Interpolate: %v", err)
		}
		if len(got) != (n-1)*cps+1 {
			t.Fatalf("len = %d, want %d", len(got), (n-1)*cps+1)
		}
		if got[len(got)-1] != samples[n-1] {
			t.Fatalf("last sample changed")
		}
		for i := 0; i < n-1; i++ {
			if got[i*cps] != samples[i] {
				t.Fatalf("original sample %d not preserved at its slot", i)
			}
		}
		for i := 1; i < len(got); i++ {
			if !got[i].Time.After(got[i-1].Time) {
				t.Fatalf("times not strictly increasing at %d", i)
			}
		}
	})
}

func TestComputeShiftKnownValue(t *testing.T) {
	s := ComputeShift(2.1e7, 1e6, 2e6)
	assert.InDelta(t, 70048.46, s.DownlinkShiftHz, 0.01)
	assert.InDelta(t, 929951.54, s.DownlinkHz, 0.01)
	assert.InDelta(t, 2*70048.46, s.UplinkShiftHz, 0.02)
	assert.InDelta(t, 2e6+2*70048.46, s.UplinkHz, 0.02)
}

type fakePlans struct {
	plans            []model.Plan
	err              error
	gotAfter, gotBfr time.Time
}

func (f *fakePlans) ListPlans(_ context.Context, _ string, after, before time.Time) ([]model.Plan, error) {
	f.gotAfter, f.gotBfr = after, before
	return f.plans, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	shifts []Shift
}

func (r *recordingPublisher) PublishShift(_ context.Context, s Shift) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shifts = append(r.shifts, s)
	return nil
}

func (r *recordingPublisher) snapshot() []Shift {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Shift(nil), r.shifts...)
}

type countingMetrics struct {
	mu                 sync.Mutex
	published, skipped int
}

func (m *countingMetrics) RecordShiftPublished(Shift, time.Duration) {
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordShiftSkipped() {
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
}

func baseConfig() Config {
	return Config{
		GroundStationID:      "gs-1",
		PlanID:               "plan-1",
		DownlinkHz:           437.5e6,
		UplinkHz:             145.9e6,
		CorrectionsPerSecond: 2,
		Verbose:              true,
	}
}

func TestSchedulerPublishesOnTime(t *testing.T) {
	clock := timectrl.NewTimeController(epoch, time.Second, timectrl.Accelerated)
	plans := &fakePlans{plans: []model.Plan{
		{ID: "other"},
		{ID: "plan-1", Coordinates: []model.CoordinateSample{
			{Time: at(2), RangeRate: 2.1},
			{Time: at(3), RangeRate: 2.4},
			{Time: at(4), RangeRate: 2.9},
		}},
	}}
	pub := &recordingPublisher{}
	metrics := &countingMetrics{}

	s, err := NewScheduler(baseConfig(), plans, pub, WithClock(clock), WithMetricsRecorder(metrics))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	assert.True(t, plans.gotAfter.Equal(epoch.Add(-120*time.Second)))
	assert.True(t, plans.gotBfr.Equal(epoch.Add(time.Hour)))

	shifts := pub.snapshot()
	require.Len(t, shifts, 5)
	for i, want := range []float64{2, 2.5, 3, 3.5, 4} {
		assert.True(t, shifts[i].Time.Equal(at(want)), "shift %d at %v", i, shifts[i].Time)
	}
	assert.InDelta(t, 437.5e6*2.25/SpeedOfLight, shifts[1].DownlinkShiftHz, 1e-9)
	assert.True(t, clock.Now().Equal(at(4)))
	assert.Equal(t, 5, metrics.published)
}

func TestSchedulerSkipsPastCorrections(t *testing.T) {
	clock := timectrl.NewTimeController(epoch, time.Second, timectrl.Accelerated)
	plans := &fakePlans{plans: []model.Plan{{ID: "plan-1", Coordinates: []model.CoordinateSample{
		{Time: at(-2), RangeRate: 0},
		{Time: at(-1), RangeRate: 10},
		{Time: at(1), RangeRate: 30},
	}}}}
	pub := &recordingPublisher{}
	metrics := &countingMetrics{}

	s, err := NewScheduler(baseConfig(), plans, pub, WithClock(clock), WithMetricsRecorder(metrics))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	shifts := pub.snapshot()
	require.Len(t, shifts, 2)
	assert.InDelta(t, 20.0, shifts[0].RangeRate, 1e-12)
	assert.InDelta(t, 30.0, shifts[1].RangeRate, 1e-12)
	assert.Equal(t, 3, metrics.skipped)
}

func TestSchedulerLongWaitUsesBoundedPolls(t *testing.T) {
	clock := timectrl.NewTimeController(epoch, time.Second, timectrl.Accelerated)
	var waits []time.Time
	clock.AddListener(func(now time.Time) { waits = append(waits, now) })

	plans := &fakePlans{plans: []model.Plan{{ID: "plan-1", Coordinates: []model.CoordinateSample{
		{Time: at(10.5), RangeRate: 1},
	}}}}
	s, err := NewScheduler(baseConfig(), plans, &recordingPublisher{}, WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	prev := epoch
	for _, w := range waits {
		if step := w.Sub(prev); step > pollSlack {
			t.Fatalf("slept %v in one go, want at most %v", step, pollSlack)
		}
		prev = w
	}
	assert.True(t, clock.Now().Equal(at(10.5)))
}

func TestSchedulerPlanErrors(t *testing.T) {
	boom := errors.New("unavailable")
	tests := []struct {
		name  string
		plans *fakePlans
		want  error
	}{
		{name: "missing plan", plans: &fakePlans{plans: []model.Plan{{ID: "other"}}}, want: ErrPlanNotFound},
		{name: "empty plan", plans: &fakePlans{plans: []model.Plan{{ID: "plan-1"}}}, want: ErrEmptyPlan},
		{name: "source failure", plans: &fakePlans{err: boom}, want: boom},
		{name: "unordered", plans: &fakePlans{plans: []model.Plan{{ID: "plan-1", Coordinates: []model.CoordinateSample{
			{Time: at(5)}, {Time: at(4)},
		}}}}, want: ErrUnorderedSamples},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			s, err := NewScheduler(baseConfig(), tc.plans, pub)
			require.NoError(t, err)
			err = s.Run(context.Background())
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, pub.snapshot())
		})
	}
}

func TestSchedulerStopInterruptsWait(t *testing.T) {
	now := time.Now()
	plans := &fakePlans{plans: []model.Plan{{ID: "plan-1", Coordinates: []model.CoordinateSample{
		{Time: now.Add(30 * time.Second), RangeRate: 1},
	}}}}
	pub := &recordingPublisher{}
	s, err := NewScheduler(baseConfig(), plans, pub)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	s.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
		if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
			t.Fatalf("stop took %v", elapsed)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	assert.Empty(t, pub.snapshot())
}

// stopOnSleepClock runs stop whenever the scheduler starts a sleep.
type stopOnSleepClock struct {
	timectrl.Clock
	stop func()
}

func (c *stopOnSleepClock) After(d time.Duration) <-chan time.Time {
	c.stop()
	return c.Clock.After(d)
}

func TestSchedulerStopDuringFinalSleepPublishesNothing(t *testing.T) {
	clock := &stopOnSleepClock{Clock: timectrl.NewTimeController(epoch, time.Second, timectrl.Accelerated)}
	plans := &fakePlans{plans: []model.Plan{{ID: "plan-1", Coordinates: []model.CoordinateSample{
		{Time: at(0.5), RangeRate: 1},
	}}}}
	pub := &recordingPublisher{}
	metrics := &countingMetrics{}
	s, err := NewScheduler(baseConfig(), plans, pub, WithClock(clock), WithMetricsRecorder(metrics))
	require.NoError(t, err)
	clock.stop = s.Stop

	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, pub.snapshot())
	assert.Zero(t, metrics.published)
}

func TestSchedulerContextCancel(t *testing.T) {
	now := time.Now()
	plans := &fakePlans{plans: []model.Plan{{ID: "plan-1", Coordinates: []model.CoordinateSample{
		{Time: now.Add(time.Minute), RangeRate: 1},
	}}}}
	s, err := NewScheduler(baseConfig(), plans, &recordingPublisher{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler ignored cancellation")
	}
}

func TestNewSchedulerValidates(t *testing.T) {
	cfg := baseConfig()
	cfg.PlanID = ""
	_, err := NewScheduler(cfg, &fakePlans{}, &recordingPublisher{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewScheduler(baseConfig(), nil, &recordingPublisher{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	cfg = baseConfig()
	cfg.CorrectionsPerSecond = -1
	_, err = NewScheduler(cfg, &fakePlans{}, &recordingPublisher{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestPublisherFunc(t *testing.T) {
	var got Shift
	var p Publisher = PublisherFunc(func(_ context.Context, s Shift) error {
		got = s
		return nil
	})
	require.NoError(t, p.PublishShift(context.Background(), Shift{RangeRate: 3}))
	assert.Equal(t, 3.0, got.RangeRate)
	assert.False(t, math.IsNaN(got.DownlinkHz))
}
