package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/doorman-monitor/internal/ble"
	"github.com/chaz8081/doorman-monitor/internal/config"
	"github.com/chaz8081/doorman-monitor/internal/dashboard"
	"github.com/chaz8081/doorman-monitor/internal/redispub"
	"github.com/chaz8081/doorman-monitor/internal/sched"
	"github.com/chaz8081/doorman-monitor/internal/session"
	"github.com/chaz8081/doorman-monitor/internal/state"
)

const scanTimeout = 15 * time.Second

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/doorman-monitor/config.yaml)")
	initConfig := flag.Bool("init-config", false, "write a default config file and exit")
	scanOnly := flag.Bool("scan", false, "scan for lock BLE devices and exit")
	pollOnce := flag.Bool("poll-once", false, "connect, read state once, and exit")
	verbose := flag.Bool("verbose", false, "verbose logging")
	port := flag.Int("port", 0, "override dashboard port")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
		} else {
			log.Printf("Default config written to %s", path)
		}
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *port != 0 {
		cfg.Web.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	level := config.ParseLogLevel(cfg.LogLevel)
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	adapter := bluetooth.DefaultAdapter

	if *scanOnly {
		runScan(adapter)
		return
	}

	key := deviceKey(cfg)
	ledger := state.NewLedger(cfg.EventsFile(), state.DefaultMaxMemoryEvents)
	scheduler := sched.New(cfg.SchedulerConfig())
	coordinator := session.New(ble.NewLinkDriver(adapter), ledger, key)
	coordinator.RegisterActivityCallback(scheduler.OnActivity)
	scanner := ble.NewScanner(adapter)

	if *pollOnce {
		runPollOnce(ledger, coordinator, scanner)
		return
	}

	printBanner(cfg)

	// Optional Redis state mirror
	if cfg.Redis.Enabled {
		publisher, err := redispub.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer publisher.Close()
		publisher.Attach(ledger)
		log.Printf("Redis state mirror enabled (%s)", cfg.Redis.Addr)
	}

	// Observer dashboard
	web := dashboard.New(ledger, scheduler, coordinator.Diagnostics)
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	if err := web.Start(addr); err != nil {
		log.Fatalf("dashboard: %v", err)
	}
	log.Printf("Dashboard: http://%s", addr)

	// Advertisement feed and link session
	if err := scanner.Start(coordinator.FeedAdvertisement); err != nil {
		log.Fatalf("BLE scanner: %v", err)
	}
	if err := coordinator.Start(); err != nil {
		if err == session.ErrNoKey {
			log.Printf("WARNING: no lock key configured; running without polling.")
			log.Printf("Add lock.key to the config to enable monitoring.")
		} else {
			log.Fatalf("session: %v", err)
		}
	}

	// Duty-cycle loop. The battery cadence is checked per poll so the
	// slower battery bookkeeping advances independently of the main
	// interval.
	ctx, cancel := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		scheduler.Run(ctx, func(ctx context.Context) error {
			batteryDue := scheduler.ShouldPollBattery()
			if err := coordinator.PollOnce(ctx); err != nil {
				return err
			}
			if batteryDue {
				scheduler.MarkBatteryPolled()
			}
			return nil
		})
	}()

	log.Println("Monitor running. Ctrl+C to quit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)

	// Stop issuing polls before tearing the session down.
	cancel()
	<-schedDone
	scanner.Stop()
	coordinator.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := web.Stop(shutdownCtx); err != nil {
		log.Printf("dashboard shutdown: %v", err)
	}
	log.Println("Shutdown complete.")
}

// runScan performs a one-shot discovery scan and prints the results.
func runScan(adapter *bluetooth.Adapter) {
	log.Printf("Scanning for lock BLE devices (%s)...", scanTimeout)
	locks, err := ble.ScanForLocks(adapter, scanTimeout)
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	if len(locks) == 0 {
		fmt.Println("No lock devices found. Make sure the lock is powered on and in range.")
		return
	}
	fmt.Printf("Found %d device(s):\n", len(locks))
	for _, l := range locks {
		name := l.Name
		if name == "" {
			name = "(no name)"
		}
		fmt.Printf("  %-20s %s  RSSI %d dBm\n", name, l.Address, l.RSSI)
	}
}

// runPollOnce starts the monitor, waits for the first state change,
// prints the snapshot, and exits.
func runPollOnce(ledger *state.Ledger, coordinator *session.Coordinator, scanner *ble.Scanner) {
	updated := make(chan struct{}, 1)
	ledger.Subscribe(func(state.Snapshot, state.ChangeEvent) {
		select {
		case updated <- struct{}{}:
		default:
		}
	})

	if err := scanner.Start(coordinator.FeedAdvertisement); err != nil {
		log.Fatalf("BLE scanner: %v", err)
	}
	if err := coordinator.Start(); err != nil {
		log.Fatalf("session: %v", err)
	}
	defer func() {
		scanner.Stop()
		coordinator.Stop()
	}()

	log.Println("Connecting to lock and reading state...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	go coordinator.PollOnce(ctx)

	select {
	case <-updated:
		// Give trailing fields a moment to arrive.
		time.Sleep(3 * time.Second)
	case <-ctx.Done():
		log.Println("Timeout waiting for lock response. The lock may be out of range.")
		return
	}

	snap := ledger.Snapshot()
	fmt.Printf("  Lock:     %s\n", snap.LockPosition)
	fmt.Printf("  Door:     %s\n", snap.DoorPosition)
	if snap.BatteryPercent != nil {
		fmt.Printf("  Battery:  %d%%\n", *snap.BatteryPercent)
	} else {
		fmt.Println("  Battery:  unknown")
	}
	if snap.RSSI != nil {
		fmt.Printf("  RSSI:     %d dBm\n", *snap.RSSI)
	}
	fmt.Printf("  Model:    %s\n", snap.Model)
	fmt.Printf("  Serial:   %s\n", snap.Serial)
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// deviceKey builds the link target identity from the config.
func deviceKey(cfg *config.Config) session.DeviceKey {
	return session.DeviceKey{
		Name:                cfg.Lock.Name,
		Address:             cfg.Lock.Address,
		Key:                 cfg.LockKey(),
		KeyIndex:            cfg.Lock.KeyIndex,
		IdleDisconnectDelay: cfg.IdleDisconnectDelay(),
		AlwaysConnected:     cfg.Lock.AlwaysConnected,
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== doorman-monitor ===")
	fmt.Printf("  Lock:    %s\n", lockLabel(cfg))
	fmt.Printf("  Key:     %s\n", keyLabel(cfg))
	fmt.Printf("  Poll:    %ds active / %ds normal / %ds quiet\n",
		cfg.Poll.ActiveIntervalSec, cfg.Poll.NormalIntervalSec, cfg.Poll.QuietIntervalSec)
	fmt.Printf("  Quiet:   %02d:00-%02d:00\n", cfg.Poll.QuietHoursStart, cfg.Poll.QuietHoursEnd)
	fmt.Printf("  Events:  %s\n", cfg.EventsFile())
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=======================")
}

func lockLabel(cfg *config.Config) string {
	switch {
	case cfg.Lock.Name != "" && cfg.Lock.Address != "":
		return fmt.Sprintf("%s (%s)", cfg.Lock.Name, cfg.Lock.Address)
	case cfg.Lock.Name != "":
		return cfg.Lock.Name
	case cfg.Lock.Address != "":
		return cfg.Lock.Address
	default:
		return "auto"
	}
}

func keyLabel(cfg *config.Config) string {
	if cfg.Lock.Key == "" {
		return "not configured"
	}
	return "configured"
}
