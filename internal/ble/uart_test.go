package ble

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastOptions() UARTOptions {
	opts := DefaultUARTOptions()
	opts.InterChunkDelay = time.Microsecond
	opts.Burst = 64
	return opts
}

func TestDiscoverUARTFindsCharacteristics(t *testing.T) {
	conn := newMockConnection("AA:BB:CC:DD:EE:FF")
	u, err := DiscoverUART(conn, fastOptions())
	if err != nil {
		t.Fatalf("DiscoverUART() error = %v", err)
	}
	if u.Addr() != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Addr() = %q", u.Addr())
	}
	if u.Notifying() {
		t.Error("new client should not be notifying")
	}
}

func TestDiscoverUARTMissingCharacteristic(t *testing.T) {
	for _, missing := range []string{RXCharUUID, TXCharUUID} {
		conn := newMockConnection("AA:BB:CC:DD:EE:FF")
		conn.missing = missing
		if _, err := DiscoverUART(conn, fastOptions()); err == nil {
			t.Errorf("DiscoverUART() without %s should fail", missing)
		}
	}
}

func TestUARTSendWritesToRX(t *testing.T) {
	conn := newMockConnection("AA:BB:CC:DD:EE:FF")
	u, _ := DiscoverUART(conn, fastOptions())

	if err := u.Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if conn.rxChar.writeCount() != 1 {
		t.Fatalf("RX writes = %d, want 1", conn.rxChar.writeCount())
	}
	if !bytes.Equal(conn.rxChar.writes[0], []byte("ping")) {
		t.Errorf("RX write = %q, want %q", conn.rxChar.writes[0], "ping")
	}
	if conn.txChar.writeCount() != 0 {
		t.Error("Send() should never write TX")
	}
}

func TestUARTSendChunksLongData(t *testing.T) {
	conn := newMockConnection("AA:BB:CC:DD:EE:FF")
	u, _ := DiscoverUART(conn, fastOptions())

	data := []byte(strings.Repeat("0123456789", 5)) // 50 bytes
	if err := u.Send(context.Background(), data); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if conn.rxChar.writeCount() != 3 {
		t.Fatalf("RX writes = %d, want 3", conn.rxChar.writeCount())
	}
	if got := bytes.Join(conn.rxChar.writes, nil); !bytes.Equal(got, data) {
		t.Errorf("reassembled = %q, want %q", got, data)
	}
}

func TestUARTSendEmpty(t *testing.T) {
	conn := newMockConnection("AA:BB:CC:DD:EE:FF")
	u, _ := DiscoverUART(conn, fastOptions())
	if err := u.Send(context.Background(), nil); err != nil {
		t.Fatalf("Send(nil) error = %v", err)
	}
	if conn.rxChar.writeCount() != 0 {
		t.Errorf("Send(nil) produced %d writes, want 0", conn.rxChar.writeCount())
	}
}

func TestUARTSendWriteError(t *testing.T) {
	conn := newMockConnection("AA:BB:CC:DD:EE:FF")
	conn.rxChar.writeErr = errors.New("link lost")
	u, _ := DiscoverUART(conn, fastOptions())
	if err := u.Send(context.Background(), []byte("ping")); err == nil {
		t.Error("Send() should report the write error")
	}
}

func TestUARTSendPaced(t *testing.T) {
	conn := newMockConnection("AA:BB:CC:DD:EE:FF")
	opts := DefaultUARTOptions()
	opts.InterChunkDelay = 10 * time.Millisecond
	u, _ := DiscoverUART(conn, opts)

	start := time.Now()
	if err := u.Send(context.Background(), make([]byte, 4*MaxPayloadBytes)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	// Burst of 1: the first write is immediate, the other three wait.
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("4 writes took %v, want at least ~30ms of pacing", elapsed)
	}
}

func TestUARTSendCancelled(t *testing.T) {
	conn := newMockConnection("AA:BB:CC:DD:EE:FF")
	opts := DefaultUARTOptions()
	opts.InterChunkDelay = time.Hour
	u, _ := DiscoverUART(conn, opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := u.Send(ctx, make([]byte, 2*MaxPayloadBytes)); err == nil {
		t.Error("Send() with cancelled context should fail")
	}
}

func TestUARTEnableNotificationsOnce(t *testing.T) {
	conn := newMockConnection("AA:BB:CC:DD:EE:FF")
	u, _ := DiscoverUART(conn, fastOptions())

	var got []byte
	if err := u.EnableNotifications(func(data []byte) { got = data }); err != nil {
		t.Fatalf("EnableNotifications() error = %v", err)
	}
	if err := u.EnableNotifications(func([]byte) {}); err != nil {
		t.Fatalf("second EnableNotifications() error = %v", err)
	}
	if conn.txChar.subscribe != 1 {
		t.Errorf("TX subscriptions = %d, want 1", conn.txChar.subscribe)
	}
	if !u.Notifying() {
		t.Error("Notifying() = false after enabling")
	}

	conn.txChar.SimulateNotification([]byte("hello"))
	if string(got) != "hello" {
		t.Errorf("notification = %q, want %q", got, "hello")
	}
}

func TestUARTClose(t *testing.T) {
	conn := newMockConnection("AA:BB:CC:DD:EE:FF")
	u, _ := DiscoverUART(conn, fastOptions())
	u.Close()
	if !conn.disconnected {
		t.Error("Close() should disconnect the peer")
	}
}
