// Package relay is the event dispatcher. It owns the central's context and
// runs a single goroutine that takes one platform event at a time, passes it
// through the device manager, discovery and UART handlers, steps the state
// machine and executes the commands it returns. Callbacks from the radio,
// timers and storage only ever post events.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/chaz8081/nusbridge/internal/ble"
	"github.com/chaz8081/nusbridge/internal/bond"
	"github.com/chaz8081/nusbridge/internal/central"
	"github.com/chaz8081/nusbridge/internal/indicator"
	"github.com/chaz8081/nusbridge/internal/inject"
)

var (
	// ErrLocalDisconnect is the reason reported for links we closed.
	ErrLocalDisconnect = errors.New("relay: disconnected locally")
	// ErrLinkLost is the reason reported when the stack drops a link.
	ErrLinkLost = errors.New("relay: link lost")
)

// Bonds is the device manager the relay consults.
type Bonds interface {
	Pending() int
	Lookup(ctx context.Context, addr string) (bond.Bond, error)
	Whitelist(ctx context.Context, max int) ([]string, [][16]byte, error)
	SecuritySetup(addr string) (bond.Bond, error)
}

// Timer is the periodic uplink timer.
type Timer interface {
	Start(interval time.Duration) error
	Stop()
}

// Options configures a Relay.
type Options struct {
	ConnectTimeout time.Duration
	UART           ble.UARTOptions
	QueueSize      int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		UART:           ble.DefaultUARTOptions(),
		QueueSize:      256,
	}
}

// envelope is one queued event plus the platform objects that travel with
// it into the handlers. The state machine only sees ev.
type envelope struct {
	ev      central.Event
	conn    ble.Connection  // Connected
	uart    *ble.UARTClient // DiscoveryComplete
	addr    string          // ContextStored: peer the bond belongs to
	scanGen uint64          // ScanTimeout: scan it belongs to
}

// link is the platform side of a session.
type link struct {
	addr string
	conn ble.Connection
	uart *ble.UARTClient
}

// Relay wires the central state machine to the platform.
type Relay struct {
	state   *central.Context
	adapter ble.Adapter
	bonds   Bonds
	panel   indicator.Panel
	sink    inject.Sink
	timer   Timer
	opts    Options

	events     chan envelope
	done       chan struct{}
	nextHandle atomic.Uint32

	// Owned by the loop goroutine.
	ctx       context.Context
	links     map[central.ConnHandle]*link
	bonding   map[string]central.ConnHandle // addr -> link awaiting its bond write
	whitelist central.Whitelist
	scanGen   uint64
	scanTimer *time.Timer
}

// New creates a relay. Nothing runs until Run.
func New(cfg central.Config, adapter ble.Adapter, bonds Bonds, panel indicator.Panel, sink inject.Sink, timer Timer, opts Options) *Relay {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Relay{
		state:   central.NewContext(cfg),
		adapter: adapter,
		bonds:   bonds,
		panel:   panel,
		sink:    sink,
		timer:   timer,
		opts:    opts,
		events:  make(chan envelope, opts.QueueSize),
		done:    make(chan struct{}),
		links:   make(map[central.ConnHandle]*link),
		bonding: make(map[string]central.ConnHandle),
	}
}

// Post queues an event, blocking while the queue is full. It returns false
// once the relay has stopped.
func (r *Relay) Post(ev central.Event) bool {
	return r.post(envelope{ev: ev})
}

func (r *Relay) post(env envelope) bool {
	select {
	case r.events <- env:
		return true
	case <-r.done:
		return false
	}
}

// offer queues an event unless the queue is full. Used from radio and timer
// callbacks, which must not block.
func (r *Relay) offer(env envelope) {
	select {
	case r.events <- env:
	case <-r.done:
	default:
		slog.Warn("[RELAY] event queue full, dropping event", "event", fmt.Sprintf("%T", env.ev))
	}
}

// Tick posts an uplink tick. It never blocks.
func (r *Relay) Tick() {
	r.offer(envelope{ev: central.UplinkTick{}})
}

// StorageComplete reports a finished bond write. Wire it to the bond
// manager's completion callback.
func (r *Relay) StorageComplete(c bond.Completion) {
	switch c.Op {
	case "delete":
		r.post(envelope{ev: central.ContextDeleted{Device: central.DeviceHandle(c.Bond.ID), Err: c.Err}})
	default:
		r.post(envelope{
			ev:   central.ContextStored{Device: central.DeviceHandle(c.Bond.ID), Err: c.Err},
			addr: c.Bond.Addr,
		})
	}
	r.post(envelope{ev: central.FlashOperation{Err: c.Err}})
}

// State returns the central context. Only safe once Run has returned.
func (r *Relay) State() *central.Context {
	return r.state
}

// Run boots the central and processes events until ctx is done or the
// central faults. A fault is returned wrapping central.ErrFault.
func (r *Relay) Run(ctx context.Context) error {
	r.ctx = ctx
	defer r.shutdown()

	r.refreshWhitelist()
	if err := r.dispatch(envelope{ev: central.Boot{}}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-r.events:
			if err := r.dispatch(env); err != nil {
				return err
			}
		}
	}
}

// dispatch runs one event through the handlers and the state machine, then
// executes the resulting commands. It returns non-nil only on halt.
func (r *Relay) dispatch(env envelope) error {
	for _, handle := range []func(envelope) (envelope, bool){r.deviceManager, r.discovery, r.uartClient} {
		var ok bool
		if env, ok = handle(env); !ok {
			return nil
		}
	}

	cmds := central.Step(r.state, env.ev, r.env())
	for _, cmd := range cmds {
		if h, ok := cmd.(central.Halt); ok {
			return h.Err
		}
		err := r.execute(cmd)
		if err == nil {
			continue
		}
		if r.ctx.Err() != nil {
			return r.ctx.Err() // shutting down, not a fault
		}
		if cmd.Policy() == central.FailLog {
			slog.Warn("[RELAY] command failed", "command", fmt.Sprintf("%T", cmd), "error", err)
			continue
		}
		slog.Error("[RELAY] command failed", "command", fmt.Sprintf("%T", cmd), "error", err)
		return r.dispatch(envelope{ev: central.Fault{Err: fmt.Errorf("%T: %w", cmd, err)}})
	}
	return nil
}

func (r *Relay) env() central.Env {
	return central.Env{
		StoragePending: r.bonds.Pending(),
		Whitelist:      r.whitelist,
	}
}

// deviceManager tracks links and bonds. Returning false drops the event.
func (r *Relay) deviceManager(env envelope) (envelope, bool) {
	switch e := env.ev.(type) {
	case central.Connected:
		if env.conn != nil {
			r.links[e.Handle] = &link{addr: e.Addr, conn: env.conn}
		}
	case central.Disconnected:
		if l, ok := r.links[e.Handle]; ok {
			delete(r.links, e.Handle)
			if h, ok := r.bonding[l.addr]; ok && h == e.Handle {
				delete(r.bonding, l.addr)
			}
		}
	case central.ContextStored:
		if h, ok := r.bonding[env.addr]; ok {
			delete(r.bonding, env.addr)
			e.Handle = h
			env.ev = e
		}
		if e.Err == nil {
			r.refreshWhitelist()
		}
	case central.ScanTimeout:
		if env.scanGen != r.scanGen {
			return env, false // a scan that was already stopped
		}
		r.stopScanTimer()
		if err := r.adapter.StopScan(); err != nil {
			slog.Warn("[SCAN] stop after timeout failed", "error", err)
		}
	}
	return env, true
}

// discovery attaches the UART client found for a link.
func (r *Relay) discovery(env envelope) (envelope, bool) {
	e, ok := env.ev.(central.DiscoveryComplete)
	if !ok {
		return env, true
	}
	l, ok := r.links[e.Handle]
	if !ok {
		return env, false // link dropped while discovering
	}
	l.uart = env.uart
	return env, true
}

// uartClient drops notifications that arrive for links already gone.
func (r *Relay) uartClient(env envelope) (envelope, bool) {
	e, ok := env.ev.(central.Notification)
	if !ok {
		return env, true
	}
	_, ok = r.links[e.Handle]
	return env, ok
}

// close drops the link, through its UART client once discovery found one.
func (l *link) close() error {
	if l.uart != nil {
		return l.uart.Close()
	}
	return l.conn.Disconnect()
}

func (r *Relay) refreshWhitelist() {
	addrs, irks, err := r.bonds.Whitelist(r.ctx, central.MaxWhitelistAddrs)
	if err != nil {
		slog.Warn("[BOND] reading whitelist failed", "error", err)
		return
	}
	r.whitelist = central.NewWhitelist(addrs, irks)
	slog.Debug("[BOND] whitelist refreshed", "addrs", len(addrs))
}

func (r *Relay) newSessionID() string {
	return ulid.Make().String()
}

// shutdown releases the radio and timers. Links are closed so peers see a
// clean disconnect.
func (r *Relay) shutdown() {
	close(r.done)
	r.stopScanTimer()
	r.timer.Stop()
	if err := r.adapter.StopScan(); err != nil {
		slog.Warn("[SCAN] stop on shutdown failed", "error", err)
	}
	for h, l := range r.links {
		if err := l.close(); err != nil {
			slog.Warn("[CONN] disconnect on shutdown failed", "addr", l.addr, "error", err)
		}
		delete(r.links, h)
	}
}
