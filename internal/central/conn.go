package central

import "log/slog"

func (c *Context) onConnected(e Connected, env Env) []Command {
	if e.Addr == c.pendingAddr {
		c.connecting = false
		c.pendingAddr = ""
	}
	if _, dup := c.sessions[e.Handle]; dup {
		slog.Warn("[CONN] duplicate connection handle", "handle", e.Handle)
		return nil
	}
	if len(c.sessions) >= c.cfg.MaxPeers {
		slog.Warn("[CONN] peer limit reached, refusing link", "addr", e.Addr, "max", c.cfg.MaxPeers)
		return []Command{Disconnect{Handle: e.Handle}}
	}

	c.sessions[e.Handle] = &PeerSession{
		ID:          e.SessionID,
		Handle:      e.Handle,
		Addr:        e.Addr,
		Device:      e.Device,
		Discovery:   DiscoveryRunning,
		ConnectedAt: e.At,
	}
	slog.Info("[CONN] connected", "addr", e.Addr, "handle", e.Handle, "session", e.SessionID, "peers", len(c.sessions))

	cmds := []Command{
		SetLED{LED: LEDConnected, On: true},
		ShowStatus{Text: "Connected"},
		StartDiscovery{Handle: e.Handle},
	}
	if len(c.sessions) < c.cfg.MaxPeers {
		cmds = append(cmds, c.startScan(env)...)
	}
	return cmds
}

func (c *Context) onDisconnected(e Disconnected, env Env) []Command {
	s, ok := c.sessions[e.Handle]
	if !ok {
		return nil
	}
	wasFull := len(c.sessions) == c.cfg.MaxPeers
	delete(c.sessions, e.Handle)
	slog.Info("[CONN] disconnected", "addr", s.Addr, "session", s.ID, "reason", e.Reason, "peers", len(c.sessions))

	cmds := []Command{ShowStatus{Text: "Disconnected"}}
	if len(c.sessions) == 0 {
		cmds = append(cmds, SetLED{LED: LEDConnected, On: false})
	}
	if c.uplinkArmed && !c.anyNotifying() {
		c.uplinkArmed = false
		cmds = append(cmds, StopUplink{})
	}
	if wasFull {
		cmds = append(cmds, c.startScan(env)...)
	}
	return cmds
}

func (c *Context) onConnTimeout(e ConnTimeout, env Env) []Command {
	if !c.connecting {
		return nil
	}
	slog.Warn("[CONN] connection request timed out", "addr", e.Addr, "error", e.Err)
	c.connecting = false
	c.pendingAddr = ""
	return c.startScan(env)
}

func (c *Context) onConnParamUpdate(e ConnParamUpdateRequest) []Command {
	if _, ok := c.sessions[e.Handle]; !ok {
		return nil
	}
	return []Command{AcceptConnParams{Handle: e.Handle, Params: e.Params}}
}

func (c *Context) onSecurityRequest(e SecuritySetupRequest) []Command {
	s, ok := c.sessions[e.Handle]
	if !ok {
		return nil
	}
	return []Command{SecuritySetup{Handle: s.Handle, Addr: s.Addr, Device: s.Device}}
}

func (c *Context) onSecurityComplete(e SecuritySetupComplete) []Command {
	s, ok := c.sessions[e.Handle]
	if !ok {
		return nil
	}
	if e.Err != nil {
		slog.Warn("[CONN] security setup failed", "addr", s.Addr, "error", e.Err)
		return nil
	}
	s.Secured = true
	if e.Device != NoDevice {
		s.Device = e.Device
	}
	if s.Discovery != DiscoveryDone || s.Notifying {
		return nil
	}
	s.Notifying = true
	return []Command{EnableNotifications{Handle: s.Handle}}
}

// onDiscoveryComplete bonds, subscribes to the peer's TX characteristic,
// sends one payload and arms the uplink timer.
func (c *Context) onDiscoveryComplete(e DiscoveryComplete) []Command {
	s, ok := c.sessions[e.Handle]
	if !ok {
		return nil
	}
	s.Discovery = DiscoveryDone

	cmds := []Command{SecuritySetup{Handle: s.Handle, Addr: s.Addr, Device: s.Device}}
	if !s.Notifying {
		s.Notifying = true
		cmds = append(cmds, EnableNotifications{Handle: s.Handle})
	}
	cmds = append(cmds, SendPayload{Handle: s.Handle, Data: c.cfg.Payload})
	if !c.uplinkArmed {
		c.uplinkArmed = true
		cmds = append(cmds, StartUplink{Interval: c.cfg.UplinkInterval})
	}
	return cmds
}

func (c *Context) onDiscoveryFailed(e DiscoveryFailed) []Command {
	s, ok := c.sessions[e.Handle]
	if !ok {
		return nil
	}
	s.Discovery = DiscoveryIdle
	slog.Warn("[CONN] UART service not found, dropping link", "addr", s.Addr, "error", e.Err)
	return []Command{Disconnect{Handle: s.Handle}}
}
