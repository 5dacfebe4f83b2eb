package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/videoloom/internal/clock"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestTicker_CapsAtNinetyNinePercent(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	rec := &eventRecorder{}

	ticker := Start(fake, "clean", 10, "cleaning transcript", rec.record)

	for i := 0; i < 20; i++ {
		fake.Advance(1 * time.Second)
	}
	waitForEvents(t, rec, 15)

	ticker.Stop(true)
	waitForEvents(t, rec, 16)

	events := rec.snapshot()
	var sawCapped bool
	for _, e := range events[:len(events)-1] {
		require.Equal(t, StatusRunning, e.Status)
		require.LessOrEqual(t, e.Progress, 99.0)
		if e.Progress == 99 {
			sawCapped = true
		}
	}
	require.True(t, sawCapped, "expected progress to cap at 99%% once elapsed exceeds estimate")

	final := events[len(events)-1]
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, 100.0, final.Progress)
}

func TestTicker_MonotonicNonDecreasingWhileRunning(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	rec := &eventRecorder{}
	ticker := Start(fake, "longread", 30, "writing longread", rec.record)

	for i := 0; i < 5; i++ {
		fake.Advance(1 * time.Second)
	}
	waitForEvents(t, rec, 5)
	ticker.Stop(true)

	events := rec.snapshot()
	prev := -1.0
	for _, e := range events[:len(events)-1] {
		require.GreaterOrEqual(t, e.Progress, prev)
		prev = e.Progress
	}
}

func TestTicker_FailureEmitsFailedStatus(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	rec := &eventRecorder{}
	ticker := Start(fake, "transcribe", 60, "transcribing", rec.record)
	fake.Advance(2 * time.Second)
	waitForEvents(t, rec, 2)

	ticker.Stop(false)
	waitForEvents(t, rec, 3)

	events := rec.snapshot()
	require.Equal(t, StatusFailed, events[len(events)-1].Status)
}

func TestTicker_StopTwicePanics(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	rec := &eventRecorder{}
	ticker := Start(fake, "parse", 1, "parsing", rec.record)
	ticker.Stop(true)
	require.Panics(t, func() { ticker.Stop(true) })
}

func TestRunWithTicker_PropagatesError(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	rec := &eventRecorder{}
	wantErr := context.Canceled

	err := RunWithTicker(context.Background(), fake, "save", 1, "saving", rec.record, func(ctx context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	events := rec.snapshot()
	require.Equal(t, StatusFailed, events[len(events)-1].Status)
}

func waitForEvents(t *testing.T, rec *eventRecorder, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.snapshot()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(rec.snapshot()))
}
