package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestGoErrorCancelsGroup(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))

	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })

	waitFor(t, func() bool { return s.Context().Err() != nil })
	if err := s.Err(); !errors.Is(err, boom) {
		t.Fatalf("Err() = %v, want wrapped boom", err)
	}
}

func TestGoRestartRetriesWithBackoff(t *testing.T) {
	s := NewSupervisor(context.Background())

	var runs atomic.Int64
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) <= 2 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return ctx.Err()
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	waitFor(t, func() bool { return runs.Load() == 3 })
	if err := s.Err(); err != nil {
		t.Fatalf("transient failures surfaced as fatal: %v", err)
	}

	s.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestGoRestartGivesUpAndFails(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))

	var runs atomic.Int64
	s.GoRestart("doomed", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("persistent")
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithMaxRestarts(2),
		WithFatalOnFinalError(true))

	waitFor(t, func() bool { return s.Context().Err() != nil })
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want initial + 2 restarts", got)
	}
	if s.Err() == nil {
		t.Fatal("final error not recorded")
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	s := NewSupervisor(context.Background())

	var runs atomic.Int64
	s.GoRestart("oneshot", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("clean exit restarted: runs = %d", got)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))

	s.Go("panicky", func(ctx context.Context) error { panic("kaboom") })

	waitFor(t, func() bool { return s.Err() != nil })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Wait(ctx)
}
