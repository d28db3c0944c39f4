package timectrl

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestRealTimeControllerTracksWallClock(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	time.Sleep(5 * time.Millisecond)
	got := tc.Now().Sub(start)
	if got < 5*time.Millisecond || got > time.Second {
		t.Fatalf("elapsed = %v, want about 5ms", got)
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, Accelerated)

	done := tc.Start(15*time.Millisecond, nil)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestAcceleratedAfterJumpsAndNotifies(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, Accelerated)

	var calls atomic.Int32
	tc.AddListener(func(time.Time) { calls.Add(1) })

	select {
	case got := <-tc.After(90 * time.Minute):
		if want := start.Add(90 * time.Minute); !got.Equal(want) {
			t.Fatalf("After fired at %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("accelerated After did not fire immediately")
	}
	if calls.Load() != 1 {
		t.Fatalf("listener calls = %d, want 1", calls.Load())
	}
}

func TestStartStopsOnSignal(t *testing.T) {
	tc := NewTimeController(time.Now(), time.Millisecond, RealTime)
	stop := make(chan struct{})
	done := tc.Start(0, stop)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Start did not exit after stop")
	}
}
