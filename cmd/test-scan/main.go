// Command test-scan is a manual test for the BLE adapter and advertisement
// filter. It scans for a while and prints every advertisement, marking the
// ones that carry the target service.
//
// Usage:
//
//	go run ./cmd/test-scan [--service UUID] [--duration 10s] [--all] [--fields]
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chaz8081/nusbridge/internal/advdata"
	"github.com/chaz8081/nusbridge/internal/ble"
)

func main() {
	service := flag.String("service", ble.ServiceUUID, "128-bit service UUID to match")
	duration := flag.Duration("duration", 10*time.Second, "how long to scan")
	all := flag.Bool("all", false, "print advertisements without the service too")
	showFields := flag.Bool("fields", false, "list the AD structures of each advertisement")
	flag.Parse()

	target, err := advdata.ParseUUID(*service)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	adapter, err := ble.NewTinyGoAdapter(target)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if err := adapter.Enable(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scanning for %s for %s...\n", target, *duration)

	var mu sync.Mutex
	seen := make(map[string]bool)
	err = adapter.StartScan(func(adv ble.Advertisement) {
		_, matchErr := advdata.MatchService128(adv.Data, target)
		match := matchErr == nil
		if !match && !*all {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if seen[adv.Addr] {
			return
		}
		seen[adv.Addr] = true

		mark := " "
		if match {
			mark = "*"
		}
		name := adv.Name
		if name == "" {
			name = advdata.LocalName(adv.Data)
		}
		fmt.Printf("%s %s  %4d dBm  %q\n", mark, adv.Addr, adv.RSSI, name)
		if !match && !errors.Is(matchErr, advdata.ErrNotFound) {
			fmt.Printf("    malformed advertisement: %v\n", matchErr)
		}
		if *showFields {
			fields, err := advdata.Fields(adv.Data)
			for _, f := range fields {
				fmt.Printf("    type 0x%02x  % x\n", f.Type, f.Value(adv.Data))
			}
			if err != nil {
				fmt.Printf("    %v\n", err)
			}
		}
	}, func(err error) {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	time.Sleep(*duration)
	if err := adapter.StopScan(); err != nil {
		fmt.Printf("Error: %v\n", err)
	}

	mu.Lock()
	fmt.Printf("\nDone! %d device(s) seen.\n", len(seen))
	mu.Unlock()
}
