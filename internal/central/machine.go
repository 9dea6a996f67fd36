package central

import (
	"fmt"
	"log/slog"
)

// Step applies one event to c and returns the commands to execute, in
// order. Once c has faulted, Step ignores everything.
func Step(c *Context, ev Event, env Env) []Command {
	if c.fault != nil {
		return nil
	}

	switch e := ev.(type) {
	case Boot:
		return c.startScan(env)
	case AdvReport:
		return c.onAdvReport(e)
	case ScanTimeout:
		return c.onScanTimeout(env)
	case ConnTimeout:
		return c.onConnTimeout(e, env)
	case ConnParamUpdateRequest:
		return c.onConnParamUpdate(e)
	case Connected:
		return c.onConnected(e, env)
	case Disconnected:
		return c.onDisconnected(e, env)
	case SecuritySetupRequest:
		return c.onSecurityRequest(e)
	case SecuritySetupComplete:
		return c.onSecurityComplete(e)
	case LinkSecured:
		if s, ok := c.sessions[e.Handle]; ok {
			s.Secured = true
		}
		return nil
	case ContextLoaded:
		if e.Err != nil {
			return c.enterFault(fmt.Errorf("load device context: %w", e.Err))
		}
		if s, ok := c.sessions[e.Handle]; ok {
			s.Device = e.Device
		}
		return nil
	case ContextStored:
		if e.Err != nil {
			return c.enterFault(fmt.Errorf("store device context: %w", e.Err))
		}
		if s, ok := c.sessions[e.Handle]; ok && e.Device != NoDevice {
			s.Device = e.Device
		}
		return nil
	case ContextDeleted:
		if e.Err != nil {
			return c.enterFault(fmt.Errorf("delete device context: %w", e.Err))
		}
		return nil
	case DiscoveryComplete:
		return c.onDiscoveryComplete(e)
	case DiscoveryFailed:
		return c.onDiscoveryFailed(e)
	case Notification:
		s, ok := c.sessions[e.Handle]
		if !ok {
			return nil
		}
		return []Command{Deliver{Handle: s.Handle, Addr: s.Addr, Data: e.Data}}
	case UplinkTick, ButtonPressed:
		return c.broadcast(c.cfg.Payload)
	case Input:
		cmds := c.broadcast(e.Data)
		if len(cmds) == 0 {
			slog.Warn("[UART] no peer ready, dropping input", "bytes", len(e.Data))
		}
		return cmds
	case FlashOperation:
		return c.onFlashOperation(e, env)
	case Fault:
		return c.enterFault(e.Err)
	default:
		slog.Debug("[CENTRAL] unhandled event", "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

// enterFault records the terminal state and asks the relay to halt.
func (c *Context) enterFault(err error) []Command {
	c.fault = fmt.Errorf("%w: %w", ErrFault, err)
	slog.Error("[CENTRAL] fault", "error", err)
	return []Command{
		SetLED{LED: LEDAssert, On: true},
		Halt{Err: c.fault},
	}
}

// broadcast sends data to every peer with notifications enabled.
func (c *Context) broadcast(data []byte) []Command {
	var cmds []Command
	for _, s := range c.Sessions() {
		if s.Notifying {
			cmds = append(cmds, SendPayload{Handle: s.Handle, Data: data})
		}
	}
	return cmds
}
