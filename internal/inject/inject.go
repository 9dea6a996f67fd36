// Package inject is the local end of the bridge: data peers send is handed
// to a Sink (printed, typed or pasted into the active application), and
// lines typed on the host become input for the peers.
package inject

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-vgo/robotgo"
)

// Sink receives data sent by a peer.
type Sink interface {
	Deliver(addr string, data []byte) error
}

// Methods accepted by NewInjector.
const (
	MethodStdout = "stdout"
	MethodType   = "type"
	MethodPaste  = "paste"
)

// keyboard is the slice of robotgo the injector uses.
type keyboard interface {
	Type(text string)
	ReadAll() (string, error)
	WriteAll(text string) error
	KeyTap(key string, modifiers ...string) error
}

type robotKeyboard struct{}

func (robotKeyboard) Type(text string) { robotgo.Type(text) }
func (robotKeyboard) ReadAll() (string, error) { return robotgo.ReadAll() }
func (robotKeyboard) WriteAll(text string) error { return robotgo.WriteAll(text) }

func (robotKeyboard) KeyTap(key string, mods ...string) error {
	args := make([]any, len(mods))
	for i, m := range mods {
		args[i] = m
	}
	return robotgo.KeyTap(key, args...)
}

// Injector delivers peer data using the configured method.
type Injector struct {
	method string
	out    io.Writer
	kb     keyboard

	mu sync.Mutex // keeps deliveries from interleaving
}

// NewInjector creates an Injector. method is "stdout" (default), "type"
// (keystroke simulation) or "paste" (clipboard). out is where "stdout"
// writes.
func NewInjector(method string, out io.Writer) *Injector {
	if method == "" {
		method = MethodStdout
	}
	return &Injector{method: method, out: out, kb: robotKeyboard{}}
}

// Deliver hands data from the peer at addr to the host.
func (inj *Injector) Deliver(addr string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	inj.mu.Lock()
	defer inj.mu.Unlock()

	switch inj.method {
	case MethodType:
		return inj.typeText(printable(data))
	case MethodPaste:
		return inj.paste(printable(data))
	default:
		text := strings.TrimRight(printable(data), "\r\n")
		if _, err := fmt.Fprintf(inj.out, "[%s] %s\n", addr, text); err != nil {
			return fmt.Errorf("inject: write: %w", err)
		}
		return nil
	}
}

// typeText simulates individual keystrokes. Preserves clipboard contents
// but is slower for long text.
func (inj *Injector) typeText(text string) error {
	inj.kb.Type(text)
	return nil
}

// paste copies text to the clipboard and pastes it.
// Faster for long text; the previous clipboard is restored afterwards.
func (inj *Injector) paste(text string) error {
	prev, _ := inj.kb.ReadAll()

	if err := inj.kb.WriteAll(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}
	if err := inj.kb.KeyTap("v", pasteModifier()); err != nil {
		return fmt.Errorf("inject: key tap paste: %w", err)
	}

	// Best effort
	_ = inj.kb.WriteAll(prev)
	return nil
}

func pasteModifier() string {
	if runtime.GOOS == "darwin" {
		return "cmd"
	}
	return "ctrl"
}

// printable renders peer bytes as text, replacing invalid UTF-8.
func printable(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

var _ Sink = (*Injector)(nil)
