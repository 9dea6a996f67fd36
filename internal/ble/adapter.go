// Package ble is the radio side of the bridge: scanning, connecting and
// talking to the Nordic UART Service on each peer. Everything above it works
// against the interfaces here so it can run against a mock radio in tests.
package ble

import (
	"context"
	"time"
)

// Nordic UART Service UUIDs.
const (
	ServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	RXCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // central writes
	TXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // peer notifies
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic without response.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Advertisement is one scan report. Data holds the raw AD structures.
type Advertisement struct {
	Addr string
	RSSI int
	Name string
	Data []byte
}

// ConnParams are the GAP parameters requested when connecting.
type ConnParams struct {
	MinInterval        time.Duration
	MaxInterval        time.Duration
	SupervisionTimeout time.Duration
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// Address is the peer address the connection was made to.
	Address() string
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// StartScan starts scanning in the background and calls handler for
	// every advertisement until StopScan. If the stack ends the scan on its
	// own with an error, failed is called with it; failed may be nil.
	StartScan(handler func(Advertisement), failed func(error)) error
	// StopScan stops a running scan. Stopping an idle adapter is not an error.
	StopScan() error
	// Connect establishes a connection to the peer at addr.
	Connect(ctx context.Context, addr string, params ConnParams) (Connection, error)
}
