package central

import "time"

// Event is anything the platform reports to the central. The set is closed.
type Event interface {
	event()
}

// Boot is posted once after initialization.
type Boot struct{}

// AdvReport is one received advertisement.
type AdvReport struct {
	Addr string
	RSSI int
	Data []byte // raw AD structures, at most 31 bytes
}

// ScanTimeout reports that a scan with a timeout has ended.
type ScanTimeout struct{}

// ConnTimeout reports that a connection request did not complete.
type ConnTimeout struct {
	Addr string
	Err  error
}

// ConnParamUpdateRequest is a peer asking for new connection parameters.
type ConnParamUpdateRequest struct {
	Handle ConnHandle
	Params ConnParams
}

// Connected reports an established link. Device is set when the peer was
// already bonded.
type Connected struct {
	Handle    ConnHandle
	Addr      string
	Device    DeviceHandle
	SessionID string
	At        time.Time
}

// Disconnected reports a lost or closed link.
type Disconnected struct {
	Handle ConnHandle
	Reason error
}

// SecuritySetupRequest is a peer asking the central to secure the link.
type SecuritySetupRequest struct {
	Handle ConnHandle
}

// SecuritySetupComplete reports the end of a security procedure.
type SecuritySetupComplete struct {
	Handle ConnHandle
	Device DeviceHandle
	Err    error
}

// LinkSecured reports an encrypted link.
type LinkSecured struct {
	Handle ConnHandle
}

// ContextLoaded reports that stored bond context was applied to a link.
type ContextLoaded struct {
	Handle ConnHandle
	Device DeviceHandle
	Err    error
}

// ContextStored reports a bond context write.
type ContextStored struct {
	Handle ConnHandle
	Device DeviceHandle
	Err    error
}

// ContextDeleted reports a bond context removal.
type ContextDeleted struct {
	Device DeviceHandle
	Err    error
}

// DiscoveryComplete reports that the UART service was found on a link.
type DiscoveryComplete struct {
	Handle ConnHandle
}

// DiscoveryFailed reports that service discovery did not find the UART
// service.
type DiscoveryFailed struct {
	Handle ConnHandle
	Err    error
}

// Notification carries data the peer sent on its TX characteristic.
type Notification struct {
	Handle ConnHandle
	Data   []byte
}

// UplinkTick is one firing of the periodic uplink timer.
type UplinkTick struct{}

// FlashOperation reports the completion of a persistent storage operation.
// Err is informational; both outcomes release a deferred scan.
type FlashOperation struct {
	Err error
}

// ButtonPressed is the send button.
type ButtonPressed struct{}

// Input is local data to forward to every ready peer.
type Input struct {
	Data []byte
}

// Fault moves the central into its terminal state.
type Fault struct {
	Err error
}

func (Boot) event()                   {}
func (AdvReport) event()              {}
func (ScanTimeout) event()            {}
func (ConnTimeout) event()            {}
func (ConnParamUpdateRequest) event() {}
func (Connected) event()              {}
func (Disconnected) event()           {}
func (SecuritySetupRequest) event()   {}
func (SecuritySetupComplete) event()  {}
func (LinkSecured) event()            {}
func (ContextLoaded) event()          {}
func (ContextStored) event()          {}
func (ContextDeleted) event()         {}
func (DiscoveryComplete) event()      {}
func (DiscoveryFailed) event()        {}
func (Notification) event()           {}
func (UplinkTick) event()             {}
func (FlashOperation) event()         {}
func (ButtonPressed) event()          {}
func (Input) event()                  {}
func (Fault) event()                  {}
