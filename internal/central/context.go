// Package central holds the application-level state of the BLE central and
// the transition function that drives it. Step consumes one platform event at
// a time and returns the side effects (scan, connect, LED, uplink) for the
// relay to execute, so every decision here can be tested without a radio.
package central

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/chaz8081/nusbridge/internal/advdata"
)

// ErrFault marks the terminal fault state. Every error returned by
// Context.Fault wraps it.
var ErrFault = errors.New("central: unrecoverable fault")

// Whitelist bounds, matching common controller limits.
const (
	MaxWhitelistAddrs = 8
	MaxWhitelistIRKs  = 8
)

// ConnHandle identifies a live link.
type ConnHandle uint16

// DeviceHandle identifies a bonded peer in the device manager. Zero means
// the peer is not bonded.
type DeviceHandle uint32

// NoDevice is the DeviceHandle of an unbonded peer.
const NoDevice DeviceHandle = 0

// LED is one of the status indicators.
type LED int

const (
	LEDScanning LED = iota
	LEDConnected
	LEDAssert
)

func (l LED) String() string {
	switch l {
	case LEDScanning:
		return "scanning"
	case LEDConnected:
		return "connected"
	case LEDAssert:
		return "assert"
	default:
		return "unknown"
	}
}

// ConnParams are the GAP connection parameters requested on connect.
// SlaveLatency is informational; host stacks choose the latency themselves.
type ConnParams struct {
	MinInterval        time.Duration
	MaxInterval        time.Duration
	SlaveLatency       uint16
	SupervisionTimeout time.Duration
}

// Config is the static configuration of the central.
type Config struct {
	Target           advdata.UUID // service UUID a peer must advertise
	MaxPeers         int
	ScanInterval     time.Duration
	ScanWindow       time.Duration
	ActiveScan       bool
	WhitelistTimeout time.Duration
	Conn             ConnParams
	UplinkInterval   time.Duration
	Payload          []byte
}

// DefaultConfig returns the stock timings: 100 ms interval, 50 ms
// window, 30 s whitelist phase, 7.5-30 ms connection interval, 4 s
// supervision timeout and a 1 s uplink.
func DefaultConfig() Config {
	return Config{
		Target:           advdata.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"),
		MaxPeers:         1,
		ScanInterval:     100 * time.Millisecond,
		ScanWindow:       50 * time.Millisecond,
		ActiveScan:       true,
		WhitelistTimeout: 30 * time.Second,
		Conn: ConnParams{
			MinInterval:        7500 * time.Microsecond,
			MaxInterval:        30 * time.Millisecond,
			SlaveLatency:       0,
			SupervisionTimeout: 4 * time.Second,
		},
		UplinkInterval: time.Second,
		Payload:        []byte("ping"),
	}
}

// Whitelist is the bounded set of bonded peers a selective scan accepts.
type Whitelist struct {
	Addrs []string
	IRKs  [][16]byte
}

// NewWhitelist builds a whitelist, dropping entries past the bounds.
func NewWhitelist(addrs []string, irks [][16]byte) Whitelist {
	if len(addrs) > MaxWhitelistAddrs {
		addrs = addrs[:MaxWhitelistAddrs]
	}
	if len(irks) > MaxWhitelistIRKs {
		irks = irks[:MaxWhitelistIRKs]
	}
	return Whitelist{Addrs: addrs, IRKs: irks}
}

// Empty reports whether the whitelist holds neither addresses nor IRKs.
func (w Whitelist) Empty() bool {
	return len(w.Addrs) == 0 && len(w.IRKs) == 0
}

// Contains reports whether addr is whitelisted.
func (w Whitelist) Contains(addr string) bool {
	return slices.Contains(w.Addrs, addr)
}

// ScanParameters describe one scan session.
type ScanParameters struct {
	Interval  time.Duration
	Window    time.Duration
	Active    bool
	Selective bool       // only report whitelisted advertisers
	Whitelist *Whitelist // set when Selective
	Timeout   time.Duration
}

// ScanMode is the scan controller state.
type ScanMode int

const (
	ScanIdle ScanMode = iota
	ScanWhitelist
	ScanGeneral
)

func (m ScanMode) String() string {
	switch m {
	case ScanIdle:
		return "idle"
	case ScanWhitelist:
		return "whitelist"
	case ScanGeneral:
		return "general"
	default:
		return "unknown"
	}
}

// ScanState is owned by the scan controller.
type ScanState struct {
	Mode   ScanMode
	Params ScanParameters
	// FellBack latches once the whitelist phase has timed out; later scans
	// are general.
	FellBack bool
}

// DiscoveryState tracks service discovery on one link.
type DiscoveryState int

const (
	DiscoveryIdle DiscoveryState = iota
	DiscoveryRunning
	DiscoveryDone
)

// PeerSession is the per-link state, created on connect and dropped on
// disconnect.
type PeerSession struct {
	ID          string
	Handle      ConnHandle
	Addr        string
	Device      DeviceHandle
	Discovery   DiscoveryState
	Secured     bool
	Notifying   bool
	ConnectedAt time.Time
}

// Env is what the outside world looks like when an event is processed.
type Env struct {
	StoragePending int       // persistent storage operations in flight
	Whitelist      Whitelist // built from the bond store
}

// Context is the session context of the central. It is owned by the
// application root and only touched by Step.
type Context struct {
	cfg Config

	scan         ScanState
	sessions     map[ConnHandle]*PeerSession
	connecting   bool
	pendingAddr  string
	memoryAccess bool
	uplinkArmed  bool
	fault        error
}

// NewContext returns an idle context.
func NewContext(cfg Config) *Context {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 1
	}
	return &Context{
		cfg:      cfg,
		sessions: make(map[ConnHandle]*PeerSession),
	}
}

// Config returns the configuration the context was built with.
func (c *Context) Config() Config { return c.cfg }

// PeerCount returns the number of live sessions.
func (c *Context) PeerCount() int { return len(c.sessions) }

// Scan returns the scan controller state.
func (c *Context) Scan() ScanState { return c.scan }

// Connecting reports whether a connection request is outstanding.
func (c *Context) Connecting() bool { return c.connecting }

// MemoryAccessInProgress reports whether a scan start is waiting on storage.
func (c *Context) MemoryAccessInProgress() bool { return c.memoryAccess }

// UplinkArmed reports whether the periodic uplink timer is running.
func (c *Context) UplinkArmed() bool { return c.uplinkArmed }

// Fault returns the terminal fault, or nil.
func (c *Context) Fault() error { return c.fault }

// Session returns the session for h.
func (c *Context) Session(h ConnHandle) (*PeerSession, bool) {
	s, ok := c.sessions[h]
	return s, ok
}

// Sessions returns the live sessions ordered by handle.
func (c *Context) Sessions() []*PeerSession {
	out := make([]*PeerSession, 0, len(c.sessions))
	for _, h := range slices.Sorted(maps.Keys(c.sessions)) {
		out = append(out, c.sessions[h])
	}
	return out
}

func (c *Context) hasPeer(addr string) bool {
	for _, s := range c.sessions {
		if s.Addr == addr {
			return true
		}
	}
	return false
}

func (c *Context) anyNotifying() bool {
	for _, s := range c.sessions {
		if s.Notifying {
			return true
		}
	}
	return false
}
