package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/nusbridge/internal/ble"
	"github.com/chaz8081/nusbridge/internal/bond"
	"github.com/chaz8081/nusbridge/internal/central"
)

// execute performs one command. Slow radio work (connect, discovery) runs
// on its own goroutine and reports back through an event.
func (r *Relay) execute(cmd central.Command) error {
	switch c := cmd.(type) {
	case central.StartScan:
		return r.startScan(c.Params)
	case central.StopScan:
		r.scanGen++
		r.stopScanTimer()
		return r.adapter.StopScan()
	case central.Connect:
		go r.connect(c)
		return nil
	case central.AcceptConnParams:
		// The host stack negotiates connection parameters itself.
		slog.Debug("[CONN] peer parameter request", "handle", c.Handle, "min", c.Params.MinInterval, "max", c.Params.MaxInterval)
		return nil
	case central.StartDiscovery:
		l, ok := r.links[c.Handle]
		if !ok {
			return fmt.Errorf("no link for handle %d", c.Handle)
		}
		go r.discover(c.Handle, l.conn)
		return nil
	case central.SecuritySetup:
		return r.securitySetup(c)
	case central.EnableNotifications:
		l, ok := r.links[c.Handle]
		if !ok || l.uart == nil {
			return fmt.Errorf("no UART client for handle %d", c.Handle)
		}
		if l.uart.Notifying() {
			return nil
		}
		h := c.Handle
		return l.uart.EnableNotifications(func(data []byte) {
			r.offer(envelope{ev: central.Notification{Handle: h, Data: data}})
		})
	case central.SendPayload:
		l, ok := r.links[c.Handle]
		if !ok || l.uart == nil {
			// Invalid state: the link went away with the event in flight.
			slog.Debug("[UART] dropping payload for closed link", "handle", c.Handle)
			return nil
		}
		return l.uart.Send(r.ctx, c.Data)
	case central.StartUplink:
		return r.timer.Start(c.Interval)
	case central.StopUplink:
		r.timer.Stop()
		return nil
	case central.SetLED:
		return r.panel.SetLED(c.LED, c.On)
	case central.ShowStatus:
		return r.panel.Show(c.Text)
	case central.Deliver:
		return r.sink.Deliver(c.Addr, c.Data)
	case central.Disconnect:
		l, ok := r.links[c.Handle]
		if !ok {
			return nil
		}
		if err := l.close(); err != nil {
			return err
		}
		// Not every host stack reports local disconnects; the state machine
		// ignores the duplicate if one does.
		r.offer(envelope{ev: central.Disconnected{Handle: c.Handle, Reason: ErrLocalDisconnect}})
		return nil
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}

func (r *Relay) startScan(p central.ScanParameters) error {
	r.scanGen++
	r.stopScanTimer()
	err := r.adapter.StartScan(func(adv ble.Advertisement) {
		r.offer(envelope{ev: central.AdvReport{Addr: adv.Addr, RSSI: adv.RSSI, Data: adv.Data}})
	}, func(err error) {
		r.post(envelope{ev: central.Fault{Err: fmt.Errorf("scan ended: %w", err)}})
	})
	if err != nil {
		return err
	}
	if p.Timeout > 0 {
		gen := r.scanGen
		r.scanTimer = time.AfterFunc(p.Timeout, func() {
			r.post(envelope{ev: central.ScanTimeout{}, scanGen: gen})
		})
	}
	return nil
}

func (r *Relay) stopScanTimer() {
	if r.scanTimer != nil {
		r.scanTimer.Stop()
		r.scanTimer = nil
	}
}

// connect dials the peer and posts Connected (plus ContextLoaded for a
// bonded peer) or ConnTimeout.
func (r *Relay) connect(c central.Connect) {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.ConnectTimeout)
	defer cancel()

	conn, err := r.adapter.Connect(ctx, c.Addr, ble.ConnParams{
		MinInterval:        c.Params.MinInterval,
		MaxInterval:        c.Params.MaxInterval,
		SupervisionTimeout: c.Params.SupervisionTimeout,
	})
	if err != nil {
		r.post(envelope{ev: central.ConnTimeout{Addr: c.Addr, Err: err}})
		return
	}

	h := central.ConnHandle(r.nextHandle.Add(1))
	gate := &dropGate{report: func() {
		r.post(envelope{ev: central.Disconnected{Handle: h, Reason: ErrLinkLost}})
	}}
	conn.OnDisconnect(gate.lost)

	device := central.NoDevice
	b, lookupErr := r.bonds.Lookup(ctx, c.Addr)
	switch {
	case lookupErr == nil:
		device = central.DeviceHandle(b.ID)
	case bond.IsNotFound(lookupErr):
		lookupErr = nil
	}

	if !r.post(envelope{
		ev: central.Connected{
			Handle:    h,
			Addr:      c.Addr,
			Device:    device,
			SessionID: r.newSessionID(),
			At:        time.Now(),
		},
		conn: conn,
	}) {
		conn.Disconnect()
		return
	}
	if device != central.NoDevice || lookupErr != nil {
		r.post(envelope{ev: central.ContextLoaded{Handle: h, Device: device, Err: lookupErr}})
	}
	gate.release()
}

// dropGate holds a link loss reported during connection setup until the
// setup events are queued, so Disconnected never overtakes Connected.
type dropGate struct {
	report func()

	mu   sync.Mutex
	open bool
	held bool
}

func (g *dropGate) lost() {
	g.mu.Lock()
	if !g.open {
		g.held = true
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.report()
}

func (g *dropGate) release() {
	g.mu.Lock()
	g.open = true
	held := g.held
	g.held = false
	g.mu.Unlock()
	if held {
		g.report()
	}
}

// discover looks for the UART service and posts the outcome.
func (r *Relay) discover(h central.ConnHandle, conn ble.Connection) {
	uart, err := ble.DiscoverUART(conn, r.opts.UART)
	if err != nil {
		r.post(envelope{ev: central.DiscoveryFailed{Handle: h, Err: err}})
		return
	}
	r.post(envelope{ev: central.DiscoveryComplete{Handle: h}, uart: uart})
}

// securitySetup secures the link. A bonded peer reuses its stored keys; a
// new one gets fresh keys at once and its bond write completes later through
// StorageComplete.
func (r *Relay) securitySetup(c central.SecuritySetup) error {
	if c.Device == central.NoDevice {
		if _, err := r.bonds.SecuritySetup(c.Addr); err != nil {
			return err
		}
		r.bonding[c.Addr] = c.Handle
		slog.Info("[BOND] bonding new peer", "addr", c.Addr, "handle", c.Handle)
	}
	r.offer(envelope{ev: central.LinkSecured{Handle: c.Handle}})
	r.offer(envelope{ev: central.SecuritySetupComplete{Handle: c.Handle, Device: c.Device}})
	return nil
}
