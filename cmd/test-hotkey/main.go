// Command test-hotkey is a manual test for the send-button hotkey.
// Run it, then press the combo to see debounced presses.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--keys ctrl+shift+u] [--debounce 50ms]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/nusbridge/internal/hotkey"
)

func main() {
	keysFlag := flag.String("keys", "ctrl+shift+u", "key combo, '+' separated")
	debounce := flag.Duration("debounce", hotkey.DefaultDebounce, "minimum time between presses")
	flag.Parse()

	keys := strings.Split(*keysFlag, "+")
	fmt.Printf("Listening for %s (debounce %s)...\n", *keysFlag, *debounce)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.NewListener(keys, *debounce)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	go func() {
		start := time.Now()
		n := 0
		for p := range listener.Presses() {
			n++
			fmt.Printf(">>> PRESS #%d at +%s\n", n, p.At.Sub(start).Round(time.Millisecond))
		}
		fmt.Println("Press channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
