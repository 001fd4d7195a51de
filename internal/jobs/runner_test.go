package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunnerRunsImmediatelyAndOnTicks(t *testing.T) {
	var runs atomic.Int64
	r := NewRunner(zerolog.Nop(), Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	r.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	r.Stop()

	if n := runs.Load(); n < 2 {
		t.Fatalf("job ran %d times, want the immediate run plus ticks", n)
	}
}

func TestRunnerRetriesAfterFailure(t *testing.T) {
	var runs atomic.Int64
	r := NewRunner(zerolog.Nop(), Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			if runs.Add(1) == 1 {
				return errors.New("boom")
			}
			return nil
		},
	})

	r.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	r.Stop()

	if n := runs.Load(); n < 2 {
		t.Fatalf("job ran %d times, want it retried after the failure", n)
	}
}

func TestRunnerStopWaitsForInFlightRun(t *testing.T) {
	var finished atomic.Bool
	r := NewRunner(zerolog.Nop(), Job{
		Name:     "slow",
		Interval: time.Hour,
		Run: func(context.Context) error {
			time.Sleep(30 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	r.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	r.Stop()

	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight run finished")
	}
}

func TestRunnerRunsJobsIndependently(t *testing.T) {
	var a, b atomic.Int64
	r := NewRunner(zerolog.Nop(),
		Job{Name: "a", Interval: time.Hour, Run: func(context.Context) error { a.Add(1); return nil }},
		Job{Name: "b", Interval: time.Hour, Run: func(context.Context) error { b.Add(1); return nil }},
	)

	r.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	r.Stop()

	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("runs = %d/%d, want one immediate run each", a.Load(), b.Load())
	}
}

func TestStopWithoutStart(t *testing.T) {
	NewRunner(zerolog.Nop()).Stop()
}
