package indicator

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/chaz8081/nusbridge/internal/central"
)

// Pins names the GPIO lines (e.g. "GPIO17") used for the status LEDs.
// An empty name leaves that LED unconnected.
type Pins struct {
	Scanning  string
	Connected string
	Assert    string
}

// GPIOPanel drives status LEDs on real GPIO lines through periph.io.
type GPIOPanel struct {
	leds    map[central.LED]gpio.PinIO
	display io.Writer
}

// NewGPIOPanel initializes periph.io and resolves the LED pins. All LEDs
// start off.
func NewGPIOPanel(pins Pins, display io.Writer) (*GPIOPanel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("indicator: periph host init: %w", err)
	}
	return newGPIOPanel(gpioreg.ByName, pins, display)
}

func newGPIOPanel(resolve func(string) gpio.PinIO, pins Pins, display io.Writer) (*GPIOPanel, error) {
	p := &GPIOPanel{leds: make(map[central.LED]gpio.PinIO), display: display}
	for led, name := range map[central.LED]string{
		central.LEDScanning:  pins.Scanning,
		central.LEDConnected: pins.Connected,
		central.LEDAssert:    pins.Assert,
	} {
		if name == "" {
			continue
		}
		pin := resolve(name)
		if pin == nil {
			return nil, fmt.Errorf("indicator: %s LED pin %s not found", led, name)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("indicator: %s LED pin %s: %w", led, name, err)
		}
		p.leds[led] = pin
	}
	return p, nil
}

func (p *GPIOPanel) SetLED(led central.LED, on bool) error {
	pin, ok := p.leds[led]
	if !ok {
		return nil
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := pin.Out(level); err != nil {
		return fmt.Errorf("indicator: set %s LED: %w", led, err)
	}
	return nil
}

func (p *GPIOPanel) Show(text string) error {
	return show(p.display, text)
}

var _ Panel = (*GPIOPanel)(nil)

// ReadButton samples an active-low button once. An empty name means no
// button is fitted and reads as released.
func ReadButton(name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	if _, err := host.Init(); err != nil {
		return false, fmt.Errorf("indicator: periph host init: %w", err)
	}
	return readButton(gpioreg.ByName(name), name, gpio.PullUp)
}

func readButton(pin gpio.PinIO, name string, pull gpio.Pull) (bool, error) {
	if pin == nil {
		return false, fmt.Errorf("indicator: button pin %s not found", name)
	}
	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return false, fmt.Errorf("indicator: button pin %s to input: %w", name, err)
	}
	return pin.Read() == gpio.Low, nil
}
