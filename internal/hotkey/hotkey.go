// Package hotkey turns a global key combo into button presses using gohook.
// Holding the combo yields one press; presses closer together than the
// debounce window are dropped.
package hotkey

import (
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// DefaultDebounce is the minimum spacing between two accepted presses.
const DefaultDebounce = 50 * time.Millisecond

// Press is emitted on the channel returned by Presses.
type Press struct {
	At time.Time
}

// Listener watches a global key combo and emits presses.
type Listener struct {
	keys []string
	ch   chan Press
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	deb debouncer
}

// NewListener creates a Listener for the given key combo.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "u"]).
// A non-positive debounce uses DefaultDebounce.
func NewListener(keys []string, debounce time.Duration) *Listener {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Listener{
		keys: keys,
		ch:   make(chan Press, 16),
		done: make(chan struct{}),
		deb:  debouncer{window: debounce},
	}
}

// Presses returns the channel that receives presses.
// The channel is closed when Stop is called.
func (l *Listener) Presses() <-chan Press {
	return l.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(e hook.Event) {
		l.down(time.Now())
	})
	hook.Register(hook.KeyUp, l.keys, func(e hook.Event) {
		l.up()
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

func (l *Listener) down(now time.Time) {
	l.mu.Lock()
	ok := l.deb.down(now)
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case l.ch <- Press{At: now}:
	default: // don't block if channel is full
	}
}

func (l *Listener) up() {
	l.mu.Lock()
	l.deb.up()
	l.mu.Unlock()
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// debouncer accepts a key-down only when the key was released since the last
// accepted press and the window has passed.
type debouncer struct {
	window time.Duration
	held   bool
	last   time.Time
}

func (d *debouncer) down(now time.Time) bool {
	if d.held {
		return false // auto-repeat
	}
	d.held = true
	if !d.last.IsZero() && now.Sub(d.last) < d.window {
		return false
	}
	d.last = now
	return true
}

func (d *debouncer) up() {
	d.held = false
}
