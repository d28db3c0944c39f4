package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueFIFOAndTimeout(t *testing.T) {
	q := NewQueue[int]()
	q.Put(1)
	q.Put(2)

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		got, err := q.Get(ctx, 10*time.Millisecond)
		if err != nil || got != want {
			t.Fatalf("Get = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := q.Get(ctx, 10*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Get on empty queue err = %v, want ErrTimeout", err)
	}
}

func TestQueueGetWakesOnPut(t *testing.T) {
	q := NewQueue[string]()
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Put("hello")
	}()
	got, err := q.Get(context.Background(), time.Second)
	if err != nil || got != "hello" {
		t.Fatalf("Get = %q, %v", got, err)
	}
}

func TestQueueGetHonoursContext(t *testing.T) {
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Get(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("Get err = %v, want context.Canceled", err)
	}
}

func TestQueueJoinWaitsForTaskDone(t *testing.T) {
	q := NewQueue[int]()
	q.Put(1)
	q.Put(2)

	joined := make(chan error, 1)
	go func() { joined <- q.Join(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case <-joined:
			t.Fatalf("Join returned with %d items unfinished", 2-i)
		case <-time.After(20 * time.Millisecond):
		}
		if _, ok := q.TryGet(); !ok {
			t.Fatalf("TryGet found no item")
		}
		if err := q.TaskDone(); err != nil {
			t.Fatalf("TaskDone: %v", err)
		}
	}

	select {
	case err := <-joined:
		if err != nil {
			t.Fatalf("Join: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Join did not return after all tasks done")
	}
	if err := q.TaskDone(); !errors.Is(err, ErrTaskDoneUnderflow) {
		t.Fatalf("extra TaskDone err = %v", err)
	}
}

func TestQueueJoinTimeout(t *testing.T) {
	q := NewQueue[int]()
	q.Put(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Join(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Join err = %v, want DeadlineExceeded", err)
	}
}
