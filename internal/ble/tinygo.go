package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/nusbridge/internal/advdata"
	"tinygo.org/x/bluetooth"
)

// ErrScanning is returned by StartScan while a scan is already running.
var ErrScanning = errors.New("ble: scan already running")

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows). On macOS peer addresses are CoreBluetooth UUIDs
// rather than MAC addresses; they are carried as opaque strings either way.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter
	target  advdata.UUID
	service bluetooth.UUID

	// mu protects connections and scanDone.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by peer address
	scanDone    chan struct{}                // non-nil while a scan runs
}

// NewTinyGoAdapter creates an adapter on the system default controller.
// target is the service UUID used when rebuilding advertising payloads the
// host stack only exposes in parsed form.
func NewTinyGoAdapter(target advdata.UUID) (*TinyGoAdapter, error) {
	svc, err := bluetooth.ParseUUID(target.String())
	if err != nil {
		return nil, fmt.Errorf("ble: parse target UUID: %w", err)
	}
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		target:      target,
		service:     svc,
		connections: make(map[string]*tinyGoConnection),
	}, nil
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// Fired with connected=false when a peer drops.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[addr]
		delete(a.connections, addr)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})
	return nil
}

func (a *TinyGoAdapter) StartScan(handler func(Advertisement), failed func(error)) error {
	a.mu.Lock()
	if a.scanDone != nil {
		a.mu.Unlock()
		return ErrScanning
	}
	done := make(chan struct{})
	a.scanDone = done
	a.mu.Unlock()

	// Scan blocks until StopScan, so it runs on its own goroutine.
	go func() {
		defer close(done)
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			handler(Advertisement{
				Addr: result.Address.String(),
				RSSI: int(result.RSSI),
				Name: result.LocalName(),
				Data: a.payload(result),
			})
		})
		a.mu.Lock()
		a.scanDone = nil
		a.mu.Unlock()
		if err != nil {
			slog.Error("[BLE] scan ended with error", "error", err)
			if failed != nil {
				failed(fmt.Errorf("ble: scan: %w", err))
			}
		}
	}()
	return nil
}

// payload returns the raw AD bytes of result. Host stacks that only hand out
// parsed fields get an equivalent payload rebuilt from what they report.
func (a *TinyGoAdapter) payload(result bluetooth.ScanResult) []byte {
	if raw := result.Bytes(); len(raw) > 0 {
		return raw
	}
	var b advdata.Builder
	if result.HasServiceUUID(a.service) {
		b.AddService128(a.target)
	}
	b.AddName(result.LocalName())
	data, err := b.Bytes()
	if err != nil {
		slog.Debug("[BLE] advertisement truncated", "addr", result.Address.String(), "error", err)
	}
	return data
}

// StopScan stops the scan and waits for it to wind down, so a StartScan
// right after it succeeds.
func (a *TinyGoAdapter) StopScan() error {
	a.mu.Lock()
	done := a.scanDone
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	if err := a.adapter.StopScan(); err != nil {
		return fmt.Errorf("ble: stop scan: %w", err)
	}
	<-done
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, addr string, params ConnParams) (Connection, error) {
	var address bluetooth.Address
	address.Set(addr)

	p := bluetooth.ConnectionParams{
		MinInterval: bluetooth.NewDuration(params.MinInterval),
		MaxInterval: bluetooth.NewDuration(params.MaxInterval),
		Timeout:     bluetooth.NewDuration(params.SupervisionTimeout),
	}
	if deadline, ok := ctx.Deadline(); ok {
		p.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	// Track the link before dialing so a drop reported while Connect is
	// still returning reaches it.
	conn := &tinyGoConnection{addr: addr}
	a.mu.Lock()
	a.connections[addr] = conn
	a.mu.Unlock()

	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(address, p)
		ch <- connectResult{device, err}
	}()

	result, err := awaitConnect(ctx, ch, func(late connectResult) {
		slog.Warn("[BLE] connect finished after timeout, dropping link", "addr", addr)
		if err := late.device.Disconnect(); err != nil {
			slog.Warn("[BLE] dropping late link failed", "addr", addr, "error", err)
		}
	})
	if err == nil {
		err = result.err
	}
	if err != nil {
		a.forget(addr, conn)
		return nil, fmt.Errorf("ble: connect to %s: %w", addr, err)
	}
	conn.device = result.device
	return conn, nil
}

type connectResult struct {
	device bluetooth.Device
	err    error
}

// awaitConnect waits for a dial on ch or for ctx to end. A dial that
// succeeds after ctx ended is passed to late.
func awaitConnect(ctx context.Context, ch <-chan connectResult, late func(connectResult)) (connectResult, error) {
	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		go func() {
			if result := <-ch; result.err == nil {
				late(result)
			}
		}()
		return connectResult{}, ctx.Err()
	}
}

// forget removes conn from the tracked links if it is still the one for addr.
func (a *TinyGoAdapter) forget(addr string, conn *tinyGoConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connections[addr] == conn {
		delete(a.connections, addr)
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	addr   string
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
	dropped      bool
}

func (c *tinyGoConnection) Address() string { return c.addr }

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	chrUUID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{chrUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}
	return &tinyGoCharacteristic{char: chars[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

// OnDisconnect registers cb. If the link already dropped, cb runs at once.
func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	dropped := c.dropped
	c.mu.Unlock()
	if dropped && cb != nil {
		cb()
	}
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	c.dropped = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The stack reuses buf after the callback returns.
		cp := make([]byte, len(buf))
		copy(cp, buf)
		cb(cp)
	})
}
