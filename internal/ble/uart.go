package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UARTOptions configures a UART client.
type UARTOptions struct {
	ChunkSize       int           // max bytes per write (default MaxPayloadBytes)
	InterChunkDelay time.Duration // minimum spacing between writes (default 20ms)
	Burst           int           // writes allowed back to back before pacing kicks in
}

// DefaultUARTOptions returns sensible defaults.
func DefaultUARTOptions() UARTOptions {
	return UARTOptions{
		ChunkSize:       MaxPayloadBytes,
		InterChunkDelay: 20 * time.Millisecond,
		Burst:           1,
	}
}

// UARTClient talks to the Nordic UART Service on one peer: writes go to the
// RX characteristic, notifications arrive on TX.
type UARTClient struct {
	conn    Connection
	rx      Characteristic
	tx      Characteristic
	limiter *rate.Limiter
	opts    UARTOptions

	mu        sync.Mutex
	notifying bool
}

// DiscoverUART finds the UART service characteristics on conn.
func DiscoverUART(conn Connection, opts UARTOptions) (*UARTClient, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = MaxPayloadBytes
	}
	if opts.InterChunkDelay <= 0 {
		opts.InterChunkDelay = 20 * time.Millisecond
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	rx, err := conn.DiscoverCharacteristic(ServiceUUID, RXCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: discover RX characteristic: %w", err)
	}
	tx, err := conn.DiscoverCharacteristic(ServiceUUID, TXCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: discover TX characteristic: %w", err)
	}
	slog.Debug("[BLE] UART service discovered", "addr", conn.Address())

	return &UARTClient{
		conn:    conn,
		rx:      rx,
		tx:      tx,
		limiter: rate.NewLimiter(rate.Every(opts.InterChunkDelay), opts.Burst),
		opts:    opts,
	}, nil
}

// Addr returns the peer address.
func (u *UARTClient) Addr() string {
	return u.conn.Address()
}

// EnableNotifications subscribes to TX. Calling it again is a no-op.
func (u *UARTClient) EnableNotifications(cb func(data []byte)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.notifying {
		return nil
	}
	if err := u.tx.Subscribe(cb); err != nil {
		return fmt.Errorf("ble: enable TX notifications: %w", err)
	}
	u.notifying = true
	return nil
}

// Notifying reports whether TX notifications are enabled.
func (u *UARTClient) Notifying() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.notifying
}

// Send writes data to RX in ChunkSize pieces, paced by the limiter.
func (u *UARTClient) Send(ctx context.Context, data []byte) error {
	for _, chunk := range Chunk(data, u.opts.ChunkSize) {
		if err := u.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ble: pace write to %s: %w", u.Addr(), err)
		}
		if err := u.rx.Write(chunk); err != nil {
			return fmt.Errorf("ble: write to %s: %w", u.Addr(), err)
		}
	}
	return nil
}

// Close disconnects the peer.
func (u *UARTClient) Close() error {
	return u.conn.Disconnect()
}
