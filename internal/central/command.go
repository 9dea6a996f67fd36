package central

import "time"

// FailurePolicy says what the relay does when a command fails.
type FailurePolicy int

const (
	// FailFatal funnels the error into the fault state.
	FailFatal FailurePolicy = iota
	// FailLog logs the error and carries on; a later event may retry.
	FailLog
)

// Command is a side effect requested by Step.
type Command interface {
	Policy() FailurePolicy
}

// StartScan starts scanning with the given parameters.
type StartScan struct {
	Params ScanParameters
}

// StopScan stops the current scan.
type StopScan struct{}

// Connect requests a link to Addr.
type Connect struct {
	Addr   string
	Scan   ScanParameters
	Params ConnParams
}

// AcceptConnParams accepts parameters requested by the peer.
type AcceptConnParams struct {
	Handle ConnHandle
	Params ConnParams
}

// StartDiscovery looks for the UART service on a link.
type StartDiscovery struct {
	Handle ConnHandle
}

// SecuritySetup starts the security (bonding) procedure on a link.
type SecuritySetup struct {
	Handle ConnHandle
	Addr   string
	Device DeviceHandle
}

// EnableNotifications subscribes to the peer's TX characteristic.
type EnableNotifications struct {
	Handle ConnHandle
}

// SendPayload writes data to the peer's RX characteristic.
type SendPayload struct {
	Handle ConnHandle
	Data   []byte
}

// StartUplink arms the periodic uplink timer.
type StartUplink struct {
	Interval time.Duration
}

// StopUplink disarms the periodic uplink timer.
type StopUplink struct{}

// SetLED drives a status LED.
type SetLED struct {
	LED LED
	On  bool
}

// ShowStatus writes a line to the character display.
type ShowStatus struct {
	Text string
}

// Deliver hands data received from a peer to the local sink.
type Deliver struct {
	Handle ConnHandle
	Addr   string
	Data   []byte
}

// Disconnect closes a link.
type Disconnect struct {
	Handle ConnHandle
}

// Halt stops the application after a fault.
type Halt struct {
	Err error
}

func (StartScan) Policy() FailurePolicy           { return FailFatal }
func (StopScan) Policy() FailurePolicy            { return FailLog }
func (Connect) Policy() FailurePolicy             { return FailLog }
func (AcceptConnParams) Policy() FailurePolicy    { return FailFatal }
func (StartDiscovery) Policy() FailurePolicy      { return FailFatal }
func (SecuritySetup) Policy() FailurePolicy       { return FailFatal }
func (EnableNotifications) Policy() FailurePolicy { return FailFatal }
func (SendPayload) Policy() FailurePolicy         { return FailFatal }
func (StartUplink) Policy() FailurePolicy         { return FailFatal }
func (StopUplink) Policy() FailurePolicy          { return FailFatal }
func (SetLED) Policy() FailurePolicy              { return FailLog }
func (ShowStatus) Policy() FailurePolicy          { return FailLog }
func (Deliver) Policy() FailurePolicy             { return FailLog }
func (Disconnect) Policy() FailurePolicy          { return FailLog }
func (Halt) Policy() FailurePolicy                { return FailFatal }
