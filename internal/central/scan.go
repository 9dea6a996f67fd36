package central

import (
	"errors"
	"log/slog"

	"github.com/chaz8081/nusbridge/internal/advdata"
)

// startScan starts a whitelist scan when bonded peers exist and the
// whitelist phase has not timed out yet, and a general scan otherwise. It is
// deferred while storage is busy; the next FlashOperation retries it.
func (c *Context) startScan(env Env) []Command {
	switch {
	case c.scan.Mode != ScanIdle, c.connecting:
		return nil
	case len(c.sessions) >= c.cfg.MaxPeers:
		return nil
	}

	if env.StoragePending > 0 {
		c.memoryAccess = true
		slog.Debug("[SCAN] storage busy, deferring scan", "pending", env.StoragePending)
		return nil
	}

	params := ScanParameters{
		Interval: c.cfg.ScanInterval,
		Window:   c.cfg.ScanWindow,
		Active:   c.cfg.ActiveScan,
	}
	if env.Whitelist.Empty() || c.scan.FellBack {
		c.scan.Mode = ScanGeneral
	} else {
		wl := env.Whitelist
		params.Selective = true
		params.Whitelist = &wl
		params.Timeout = c.cfg.WhitelistTimeout
		c.scan.Mode = ScanWhitelist
	}
	c.scan.Params = params

	slog.Info("[SCAN] starting", "mode", c.scan.Mode, "peers", len(c.sessions))
	return []Command{
		StartScan{Params: params},
		SetLED{LED: LEDScanning, On: true},
		ShowStatus{Text: "Scanning"},
	}
}

func (c *Context) onScanTimeout(env Env) []Command {
	mode := c.scan.Mode
	c.scan.Mode = ScanIdle
	if mode != ScanWhitelist {
		slog.Info("[SCAN] timed out", "mode", mode)
		return []Command{SetLED{LED: LEDScanning, On: false}}
	}

	slog.Info("[SCAN] whitelist phase timed out, switching to general scan")
	c.scan.FellBack = true
	if cmds := c.startScan(env); len(cmds) > 0 {
		return cmds
	}
	return []Command{SetLED{LED: LEDScanning, On: false}}
}

func (c *Context) onAdvReport(e AdvReport) []Command {
	if c.scan.Mode == ScanIdle || c.connecting {
		return nil
	}
	if c.scan.Params.Selective && !c.scan.Params.Whitelist.Contains(e.Addr) {
		return nil
	}
	if c.hasPeer(e.Addr) {
		return nil
	}
	if _, err := advdata.MatchService128(e.Data, c.cfg.Target); err != nil {
		if !errors.Is(err, advdata.ErrNotFound) {
			slog.Debug("[SCAN] ignoring advertisement", "addr", e.Addr, "error", err)
		}
		return nil
	}

	slog.Info("[SCAN] target service found", "addr", e.Addr, "rssi", e.RSSI)
	params := c.scan.Params
	params.Selective = false
	params.Whitelist = nil

	c.scan.Mode = ScanIdle
	c.connecting = true
	c.pendingAddr = e.Addr
	return []Command{
		StopScan{},
		SetLED{LED: LEDScanning, On: false},
		Connect{Addr: e.Addr, Scan: params, Params: c.cfg.Conn},
	}
}

func (c *Context) onFlashOperation(e FlashOperation, env Env) []Command {
	if e.Err != nil {
		slog.Warn("[SCAN] storage operation failed", "error", e.Err)
	}
	if !c.memoryAccess {
		return nil
	}
	c.memoryAccess = false
	return c.startScan(env)
}
