// Package indicator drives the user-facing status outputs: three LEDs, a
// one-line status display and the bond-erase button read at boot.
package indicator

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/chaz8081/nusbridge/internal/central"
)

// Panel is where LED and display commands land.
type Panel interface {
	SetLED(led central.LED, on bool) error
	Show(text string) error
}

// LogPanel is the panel for hosts without GPIO: LED changes are logged and
// status lines go to the display writer, if any.
type LogPanel struct {
	mu      sync.Mutex
	leds    map[central.LED]bool
	display io.Writer
}

// NewLogPanel creates a LogPanel. display may be nil.
func NewLogPanel(display io.Writer) *LogPanel {
	return &LogPanel{leds: make(map[central.LED]bool), display: display}
}

func (p *LogPanel) SetLED(led central.LED, on bool) error {
	p.mu.Lock()
	changed := p.leds[led] != on
	p.leds[led] = on
	p.mu.Unlock()
	if changed {
		slog.Info("[LED] "+led.String(), "on", on)
	}
	return nil
}

// LED reports the last state set for led.
func (p *LogPanel) LED(led central.LED) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leds[led]
}

func (p *LogPanel) Show(text string) error {
	return show(p.display, text)
}

func show(w io.Writer, text string) error {
	if w == nil {
		slog.Info("[DISPLAY] " + text)
		return nil
	}
	if _, err := fmt.Fprintln(w, text); err != nil {
		return fmt.Errorf("indicator: display: %w", err)
	}
	return nil
}

var _ Panel = (*LogPanel)(nil)
