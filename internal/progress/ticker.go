package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antigravity-dev/videoloom/internal/clock"
)

// Status is the coarse status code a stage reports alongside its progress
// percentage.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSkipped   Status = "skipped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Event is the progress surface forwarded by the caller to any transport:
// `{ type: "progress", stage, status, progress, message,
// estimated_seconds, elapsed_seconds }`.
type Event struct {
	Type             string  `json:"type"`
	Stage            string  `json:"stage"`
	Status           Status  `json:"status"`
	Progress         float64 `json:"progress"`
	Message          string  `json:"message"`
	EstimatedSeconds float64 `json:"estimatedSeconds"`
	ElapsedSeconds   float64 `json:"elapsedSeconds"`
}

// Callback receives progress events as a stage runs. Implementations must
// not block indefinitely; the ticker invokes it synchronously once per
// tick.
type Callback func(Event)

const tickInterval = 1 * time.Second

// Ticker drives periodic progress callbacks for a single running stage. It
// is cooperative: callers must call Stop when the stage completes (success
// or failure) so the background goroutine exits and a terminal event is
// emitted.
type Ticker struct {
	clk      clock.Clock
	stage    string
	estimate float64 // seconds
	cb       Callback
	message  string

	mu      sync.Mutex
	started time.Time
	done    chan struct{}
	stopped bool
}

// Start begins ticking for stage, estimated to take estimateSeconds, and
// returns the Ticker handle. The first callback fires after one tick
// interval, not immediately. message is included verbatim on every event
// until Stop.
func Start(clk clock.Clock, stage string, estimateSeconds float64, message string, cb Callback) *Ticker {
	t := &Ticker{
		clk:      clk,
		stage:    stage,
		estimate: estimateSeconds,
		cb:       cb,
		message:  message,
		started:  clk.Now(),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Ticker) run() {
	ticker := t.clk.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C():
			t.emit(StatusRunning)
		}
	}
}

// emit computes percent = min(99, elapsed/estimated*100) and invokes the
// callback. A stage that overruns its estimate by more than 1.5x keeps
// reporting 99%, never regressing and never claiming completion early.
func (t *Ticker) emit(status Status) {
	elapsed := t.clk.Now().Sub(t.started).Seconds()
	percent := 0.0
	if t.estimate > 0 {
		percent = elapsed / t.estimate * 100
	} else if elapsed > 0 {
		percent = 100
	}
	if status == StatusRunning {
		if percent > 99 {
			percent = 99
		}
		if percent < 0 {
			percent = 0
		}
	}
	t.cb(Event{
		Type:             "progress",
		Stage:            t.stage,
		Status:           status,
		Progress:         percent,
		Message:          t.message,
		EstimatedSeconds: t.estimate,
		ElapsedSeconds:   elapsed,
	})
}

// Stop cancels the ticking goroutine and emits a final terminal event at
// 100% (on success) or the failed status with whatever percent had been
// reached (on failure). Safe to call exactly once; a second call panics to
// surface a programming error rather than silently double-emitting.
func (t *Ticker) Stop(success bool) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		panic(fmt.Sprintf("progress: Ticker for stage %q stopped twice", t.stage))
	}
	t.stopped = true
	t.mu.Unlock()

	close(t.done)
	if success {
		t.emitFinal(StatusCompleted, 100)
		return
	}
	elapsed := t.clk.Now().Sub(t.started).Seconds()
	reached := 0.0
	if t.estimate > 0 {
		reached = elapsed / t.estimate * 100
	}
	if reached > 99 {
		reached = 99
	}
	t.emitFinal(StatusFailed, reached)
}

func (t *Ticker) emitFinal(status Status, percent float64) {
	elapsed := t.clk.Now().Sub(t.started).Seconds()
	t.cb(Event{
		Type:             "progress",
		Stage:            t.stage,
		Status:           status,
		Progress:         percent,
		Message:          t.message,
		EstimatedSeconds: t.estimate,
		ElapsedSeconds:   elapsed,
	})
}

// RunWithTicker is a convenience wrapper used by the orchestrator: it
// starts a ticker for stage, runs fn, stops the ticker with the outcome,
// and returns fn's error.
func RunWithTicker(ctx context.Context, clk clock.Clock, stage string, estimateSeconds float64, message string, cb Callback, fn func(context.Context) error) error {
	t := Start(clk, stage, estimateSeconds, message, cb)
	err := fn(ctx)
	t.Stop(err == nil)
	return err
}
