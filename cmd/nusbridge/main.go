package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/nusbridge/internal/ble"
	"github.com/chaz8081/nusbridge/internal/bond"
	"github.com/chaz8081/nusbridge/internal/central"
	"github.com/chaz8081/nusbridge/internal/config"
	"github.com/chaz8081/nusbridge/internal/hotkey"
	"github.com/chaz8081/nusbridge/internal/indicator"
	"github.com/chaz8081/nusbridge/internal/inject"
	"github.com/chaz8081/nusbridge/internal/relay"
	"github.com/chaz8081/nusbridge/internal/uplink"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/nusbridge/config.yaml)")
	eraseBonds := flag.Bool("erase-bonds", false, "delete all stored bonds before starting")
	forget := flag.String("forget", "", "delete the bond for one peer address and exit")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	centralCfg, err := cfg.Central()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	printBanner(cfg)

	// Open the bond store
	root, err := bond.LoadOrCreateRoot(cfg.Bonds.SecretPath)
	if err != nil {
		log.Fatalf("Failed to load identity key: %v", err)
	}
	store, err := bond.OpenStore(cfg.Bonds.Path, root)
	if err != nil {
		log.Fatalf("Failed to open bond store: %v", err)
	}
	bonds := bond.NewManager(store, root)
	defer bonds.Close()

	if *forget != "" {
		if err := forgetPeer(bonds, *forget); err != nil {
			bonds.Close()
			log.Fatalf("forget %s: %v", *forget, err)
		}
		log.Printf("Bond for %s deleted", *forget)
		return
	}

	pressed, err := indicator.ReadButton(cfg.GPIO.EraseButton)
	if err != nil {
		log.Printf("WARNING: could not read erase button: %v", err)
	}
	if *eraseBonds || pressed {
		if err := bonds.EraseAll(context.Background()); err != nil {
			bonds.Close()
			log.Fatalf("Failed to erase bonds: %v", err)
		}
		log.Println("All bonds erased")
	}

	panel := newPanel(cfg)
	sink := inject.NewInjector(cfg.Sink.Method, os.Stdout)
	log.Printf("Peer data sink ready (method: %s)", cfg.Sink.Method)

	// Bring up the radio
	adapter, err := ble.NewTinyGoAdapter(centralCfg.Target)
	if err != nil {
		bonds.Close()
		log.Fatalf("Failed to create BLE adapter: %v", err)
	}
	if err := adapter.Enable(); err != nil {
		bonds.Close()
		log.Fatalf("Failed to enable BLE adapter: %v\n\nCheck that Bluetooth is on and this process may use it.", err)
	}
	log.Println("BLE adapter ready")

	var r *relay.Relay
	timer := uplink.New(func() { r.Tick() })
	defer timer.Close()

	opts := relay.DefaultOptions()
	opts.ConnectTimeout = cfg.Connection.ConnectTimeout
	r = relay.New(centralCfg, adapter, bonds, panel, sink, timer, opts)
	bonds.OnComplete = r.StorageComplete

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Hotkey.Enabled {
		listener := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Debounce)
		go listener.Start()
		go func() {
			for range listener.Presses() {
				r.Post(central.ButtonPressed{})
			}
		}()
		log.Printf("Hotkey listener ready (%s)", strings.Join(cfg.Hotkey.Keys, "+"))
	}

	// Lines typed on stdin go to every connected peer.
	go func() {
		err := inject.ReadInput(ctx, os.Stdin, func(data []byte) {
			r.Post(central.Input{Data: data})
		})
		if err != nil {
			slog.Warn("[INPUT] stdin closed", "error", err)
		}
	}()

	log.Println("Ready! Scanning for peers. Ctrl+C to quit.")

	err = r.Run(ctx)
	switch {
	case errors.Is(err, central.ErrFault):
		log.Printf("ERROR: %v", err)
		if cfg.OnFault == "exit" {
			timer.Close()
			bonds.Close()
			os.Exit(1)
		}
		log.Println("Halted. Ctrl+C to quit.")
		<-ctx.Done()
	case err != nil && !errors.Is(err, context.Canceled):
		log.Printf("ERROR: %v", err)
	}

	log.Println("Goodbye!")
	if cfg.Hotkey.Enabled {
		timer.Close()
		bonds.Close()
		// Exit directly to avoid gohook's C cleanup crash.
		os.Exit(0)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or writes and uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, write one with the defaults
	written, err := config.WriteDefault()
	if err != nil {
		log.Printf("WARNING: could not write default config: %v", err)
	} else if written != "" {
		log.Printf("Default config written to %s", written)
	}
	return config.Default(), nil
}

// newPanel returns the GPIO panel when pins are configured, falling back to
// logging LED changes.
func newPanel(cfg *config.Config) indicator.Panel {
	if cfg.GPIO.Enabled() {
		p, err := indicator.NewGPIOPanel(indicator.Pins{
			Scanning:  cfg.GPIO.ScanLED,
			Connected: cfg.GPIO.ConnectedLED,
			Assert:    cfg.GPIO.AssertLED,
		}, nil)
		if err == nil {
			log.Println("GPIO status LEDs ready")
			return p
		}
		log.Printf("WARNING: GPIO panel unavailable, logging LED changes instead: %v", err)
	}
	return indicator.NewLogPanel(nil)
}

// forgetPeer deletes the bond for addr and waits for the write to finish.
func forgetPeer(bonds *bond.Manager, addr string) error {
	b, err := bonds.Lookup(context.Background(), addr)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	bonds.OnComplete = func(c bond.Completion) { done <- c.Err }
	bonds.Delete(b)
	return <-done
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== nusbridge ===")
	fmt.Printf("  Service:  %s\n", cfg.TargetService)
	fmt.Printf("  Peers:    %d max\n", cfg.MaxPeers)
	fmt.Printf("  Scan:     %s / %s (whitelist %s)\n", cfg.Scan.Interval, cfg.Scan.Window, cfg.Scan.WhitelistTimeout)
	fmt.Printf("  Conn:     %s-%s, timeout %s\n", cfg.Connection.MinInterval, cfg.Connection.MaxInterval, cfg.Connection.SupervisionTimeout)
	fmt.Printf("  Uplink:   %q every %s\n", cfg.Uplink.Payload, cfg.Uplink.Interval)
	fmt.Printf("  Bonds:    %s\n", cfg.Bonds.Path)
	fmt.Printf("  Sink:     %s\n", cfg.Sink.Method)
	fmt.Printf("  On fault: %s\n", cfg.OnFault)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("=================")
}
