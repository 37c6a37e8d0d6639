// Command tlscope is the thin CLI surface spec.md §6 describes as
// "external to the core": it wires the Packet Ingest pipeline, Ping
// Sweeper, Gateway Detector, Peer Identity, Overlay Discovery, Overlay
// Transport and Topology Graph together, and does nothing else. Grounded
// on doublezero's controlplane/internet-latency-collector/cmd/collector
// (cobra root + subcommands, signal.NotifyContext, a WaitGroup/error-
// channel shutdown join) and client/doublezerod/cmd/doublezerod (slog
// setup, flag-driven fatal-on-invalid-input exits).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/DangSage/TLScope-sub001/internal/capture"
	"github.com/DangSage/TLScope-sub001/internal/config"
	"github.com/DangSage/TLScope-sub001/internal/events"
	"github.com/DangSage/TLScope-sub001/internal/filter"
	"github.com/DangSage/TLScope-sub001/internal/gateway"
	"github.com/DangSage/TLScope-sub001/internal/identity"
	"github.com/DangSage/TLScope-sub001/internal/overlay/discovery"
	"github.com/DangSage/TLScope-sub001/internal/overlay/transport"
	"github.com/DangSage/TLScope-sub001/internal/persistence"
	"github.com/DangSage/TLScope-sub001/internal/ping"
	"github.com/DangSage/TLScope-sub001/internal/topology"
)

// set by -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

var (
	configPath string

	scanSubnet      string
	scanStartHost   int
	scanEndHost     int
	scanTimeoutMS   int
	scanConcurrency int

	startUsername  string
	startInterface string
	startNoCapture bool
	startNoScan    bool
)

func newLogger() *slog.Logger {
	if info, err := os.Stdout.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{TimeFormat: time.Kitchen}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func main() {
	log := newLogger()
	slog.SetDefault(log)

	root := &cobra.Command{
		Use:   "tlscope",
		Short: "passive LAN observer and peer overlay",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a tlscope.yaml override file")

	root.AddCommand(newScanCmd(log), newStartCmd(log), newUITestCmd(log), newVersionCmd())

	if err := root.Execute(); err != nil {
		log.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tlscope %s (%s)\n", version, commit)
		},
	}
}

// newScanCmd implements spec.md §6's `scan` subcommand: a one-shot ping
// sweep with no capture, overlay, or persistence wiring.
func newScanCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "run a one-shot ping sweep of a /24",
		RunE: func(cmd *cobra.Command, args []string) error {
			subnet := scanSubnet
			if subnet == "" {
				iface, err := resolveInterface(startInterface)
				if err != nil {
					return fmt.Errorf("scan: %w", err)
				}
				detected, err := ping.SubnetBaseForInterface(iface)
				if err != nil {
					return fmt.Errorf("scan: auto-detect subnet: %w", err)
				}
				subnet = detected
			}

			cfg := ping.Config{
				SubnetBase:  subnet,
				StartHost:   scanStartHost,
				EndHost:     scanEndHost,
				Timeout:     time.Duration(scanTimeoutMS) * time.Millisecond,
				Concurrency: scanConcurrency,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sweeper := ping.New(log)
			results, err := sweeper.Sweep(ctx, cfg, func(s ping.Summary) {
				log.Info("scan complete", "subnet", s.Subnet, "responsive", s.ResponsiveHosts, "scanned", s.TotalScanned, "duration", s.Duration)
			})
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			for r := range results {
				fmt.Printf("%-16s  %s\n", r.IP, r.RTT)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scanSubnet, "subnet", "", "subnet base A.B.C (auto-detected from --interface if omitted)")
	cmd.Flags().IntVar(&scanStartHost, "start", 1, "first host to scan")
	cmd.Flags().IntVar(&scanEndHost, "end", 254, "last host to scan")
	cmd.Flags().IntVar(&scanTimeoutMS, "timeout", 500, "per-host timeout in milliseconds")
	cmd.Flags().IntVar(&scanConcurrency, "concurrency", 50, "max in-flight probes")
	cmd.Flags().StringVar(&startInterface, "interface", "", "interface to derive the subnet from")
	return cmd
}

// newUITestCmd implements spec.md §6's `uitest` subcommand. The
// interactive terminal UI itself is an external collaborator (non-goal);
// this subcommand only validates the fixture name and seeds a Topology
// Graph with the fixture's canned devices (no connections), proving the
// data a real UI would render is well-formed.
func newUITestCmd(log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:       "uitest [Simple|Complex|StressTest]",
		Short:     "load a canned topology fixture for UI development",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"Simple", "Complex", "StressTest"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fixture := args[0]
			graph := topology.NewGraph(topology.WithLogger(log))
			count, err := seedFixture(graph, fixture)
			if err != nil {
				return err
			}
			log.Info("uitest fixture loaded", "fixture", fixture, "devices", count)
			fmt.Println(graph.ExportDOT())
			return nil
		},
	}
}

// seedFixture populates graph with a deterministic device count per
// fixture name, standing in for the real UI test harness's scripted
// scenarios.
func seedFixture(graph *topology.Graph, fixture string) (int, error) {
	counts := map[string]int{"Simple": 3, "Complex": 12, "StressTest": 200}
	n, ok := counts[fixture]
	if !ok {
		return 0, fmt.Errorf("uitest: unknown fixture %q (want Simple, Complex, or StressTest)", fixture)
	}
	for i := 0; i < n; i++ {
		mac := fmt.Sprintf("02:00:00:00:%02x:%02x", i/256, i%256)
		graph.AddDevice(&topology.Device{
			MAC:          mac,
			IP:           fmt.Sprintf("192.168.1.%d", (i%253)+1),
			FriendlyName: fmt.Sprintf("fixture-host-%d", i),
		})
	}
	return n, nil
}

// newStartCmd implements spec.md §6's `start` subcommand: the long-running
// service that wires capture, sweeping, gateway detection, the overlay,
// and persistence around a shared Topology Graph.
func newStartCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run the passive observer and peer overlay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(log)
		},
	}
	cmd.Flags().StringVar(&startUsername, "username", "", "overlay username; omit to disable the overlay")
	cmd.Flags().StringVar(&startInterface, "interface", "", "capture interface; auto-selected if omitted")
	cmd.Flags().BoolVar(&startNoCapture, "no-capture", false, "disable the packet-capture engine")
	cmd.Flags().BoolVar(&startNoScan, "no-scan", false, "disable the ping sweeper")
	return cmd
}

func runStart(log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("start: fatal initialization failure: %w", err)
	}
	if startInterface != "" {
		cfg.Interface = startInterface
	}

	if !startNoCapture || !startNoScan {
		iface, err := resolveInterface(cfg.Interface)
		if err != nil {
			return fmt.Errorf("start: fatal initialization failure: %w", err)
		}
		cfg.Interface = iface
	}

	var key *identity.KeyPair
	overlayEnabled := startUsername != ""
	if overlayEnabled {
		if cfg.SSHPrivateKey == "" {
			return fmt.Errorf("start: fatal initialization failure: overlay enabled but no SSH key is configured")
		}
		key, err = identity.LoadPrivateKey(cfg.SSHPrivateKey, cfg.CertPassword)
		if err != nil {
			return fmt.Errorf("start: fatal initialization failure: %w", err)
		}
	}

	sink, err := openSink()
	if err != nil {
		return fmt.Errorf("start: fatal initialization failure: %w", err)
	}
	bus := events.NewBus()
	graph := topology.NewGraph(topology.WithLogger(log), topology.WithSink(sink), topology.WithBus(bus))

	detector := gateway.New(gateway.WithLogger(log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	if !startNoCapture {
		engine, err := capture.NewEngine(capture.DefaultConfig(cfg.Interface), graph, filter.Default(), detector, log)
		if err != nil {
			return fmt.Errorf("start: fatal initialization failure: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer engine.Stop()
			if err := engine.Start(ctx); err != nil {
				errCh <- fmt.Errorf("capture: %w", err)
			}
		}()
	}

	if !startNoScan {
		subnet, err := ping.SubnetBaseForInterface(cfg.Interface)
		if err != nil {
			return fmt.Errorf("start: fatal initialization failure: %w", err)
		}
		sweepCfg := ping.Config{
			SubnetBase:  subnet,
			StartHost:   cfg.PingStartHost,
			EndHost:     cfg.PingEndHost,
			Timeout:     cfg.PingTimeout,
			Concurrency: cfg.PingConcurrency,
		}
		sweeper := ping.New(log)
		results, err := sweeper.Sweep(ctx, sweepCfg, func(s ping.Summary) {
			log.Info("ping sweep complete", "subnet", s.Subnet, "responsive", s.ResponsiveHosts, "scanned", s.TotalScanned, "duration", s.Duration)
		})
		if err != nil {
			return fmt.Errorf("start: fatal initialization failure: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ping.RegisterScanPending(ctx, graph, results, log)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		detector.RunRefreshLoop(ctx, graph, cfg.GatewayRefreshEvery)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		graph.RunCleanupLoop(ctx, cfg.CleanupInterval)
	}()

	if overlayEnabled {
		table := discovery.NewTable(bus)
		self := discovery.Self{
			Username: startUsername,
			Key:      key,
			TLSPort:  cfg.TransportPort,
			Version:  version,
		}
		disco, err := discovery.New(self, table, log)
		if err != nil {
			return fmt.Errorf("start: fatal initialization failure: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			disco.Run(ctx)
		}()

		mgr := transport.NewManager(startUsername, key, table, graph, bus, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer mgr.Stop()
			if err := mgr.ListenAndServe(ctx); err != nil {
				errCh <- fmt.Errorf("transport: %w", err)
			}
		}()
	}

	log.Info("tlscope started", "interface", cfg.Interface, "overlay", overlayEnabled, "username", startUsername)

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveInterface validates name against the host's capture-capable
// devices, or picks the first non-loopback device when name is empty
// (spec §7 kind 5: "no interfaces available" is a fatal init failure).
func resolveInterface(name string) (string, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("enumerate interfaces: %w", err)
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no capture-capable interfaces available")
	}
	if name != "" {
		for _, d := range devices {
			if d.Name == name {
				return name, nil
			}
		}
		return "", fmt.Errorf("interface %q not found", name)
	}
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), "loop") {
			continue
		}
		if len(d.Addresses) == 0 {
			continue
		}
		return d.Name, nil
	}
	return "", fmt.Errorf("no non-loopback interface with an address was found")
}

// openSink returns an async-wrapped JSONFileSink when TLSCOPE_STATE_FILE
// is set, or a NoopSink otherwise. Mirrors doublezero's "persistence is
// optional, correctness never depends on it" stance (spec §1).
func openSink() (persistence.Sink, error) {
	path := os.Getenv("TLSCOPE_STATE_FILE")
	if path == "" {
		return persistence.NoopSink{}, nil
	}
	sink, err := persistence.NewJSONFileSink(path)
	if err != nil {
		return nil, err
	}
	return persistence.NewAsyncSink(sink, 256, slog.Default()), nil
}
