// Package uplink is the periodic send timer. Each firing calls the tick
// function; what gets sent, and to whom, is decided elsewhere.
package uplink

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInterval is returned by Start for a non-positive interval.
var ErrInterval = errors.New("uplink: interval must be positive")

// Timer fires tick at a fixed interval while armed.
type Timer struct {
	cron *cron.Cron
	tick func()

	mu    sync.Mutex
	entry cron.EntryID
	armed bool
}

// New creates a disarmed timer. Call Close when done.
func New(tick func()) *Timer {
	t := &Timer{cron: cron.New(), tick: tick}
	t.cron.Start()
	return t
}

// Start arms the timer. Arming an armed timer replaces its schedule.
func (t *Timer) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrInterval
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		t.cron.Remove(t.entry)
	}
	t.entry = t.cron.Schedule(every{interval}, cron.FuncJob(t.tick))
	t.armed = true
	slog.Debug("[UPLINK] armed", "interval", interval)
	return nil
}

// Stop disarms the timer. A tick already running is not interrupted.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return
	}
	t.cron.Remove(t.entry)
	t.armed = false
	slog.Debug("[UPLINK] disarmed")
}

// Armed reports whether the timer is running.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Close stops the scheduler and waits for a running tick to return.
func (t *Timer) Close() {
	t.Stop()
	<-t.cron.Stop().Done()
}

// every is a fixed-delay schedule. cron.Every rounds down to whole seconds,
// which rules out sub-second intervals.
type every struct {
	delay time.Duration
}

func (e every) Next(t time.Time) time.Time {
	return t.Add(e.delay)
}
