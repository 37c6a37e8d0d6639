// Package capture is the Packet Ingest pipeline (spec §4.3): a live
// gopacket/pcap capture loop that parses Ethernet/ARP/IPv4/TCP/UDP/DHCP
// and feeds device and connection observations into the Topology Graph.
// Structured in the manner of the netscope capture engine (a Config,
// an Engine holding the pcap handle, a blocking Start(ctx, ...) loop
// driven by packetSource.Packets()), adapted from that engine's
// flow-correlation pipeline to TLScope's graph-observation pipeline.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/DangSage/TLScope-sub001/internal/filter"
	"github.com/DangSage/TLScope-sub001/internal/topology"
)

// Config holds the tunables NewEngine needs to open a live capture handle.
type Config struct {
	Interface   string
	SnapLen     int32
	Promiscuous bool
	// ReadTimeout is pcap's poll timeout (spec §6 "read timeout 1s").
	ReadTimeout time.Duration
	// PTRCacheTTL bounds how long a resolved (or failed) PTR lookup is
	// remembered before a repeat observation triggers a fresh lookup.
	PTRCacheTTL time.Duration
	// PTRTimeout is the per-lookup deadline (spec §4.3 "2-second timeout").
	PTRTimeout time.Duration
}

// DefaultConfig returns sane capture parameters for interfaceName.
func DefaultConfig(interfaceName string) *Config {
	return &Config{
		Interface:   interfaceName,
		SnapLen:     65536,
		Promiscuous: true,
		ReadTimeout: time.Second,
		PTRCacheTTL: 10 * time.Minute,
		PTRTimeout:  2 * time.Second,
	}
}

// Engine owns the pcap handle and drives observations into a Topology
// Graph. It has no notion of "ready" itself; SetReady on the graph is
// flipped by Start once the handle is active, per spec §5's capture-ready
// latch.
type Engine struct {
	cfg    *Config
	log    *slog.Logger
	graph  *topology.Graph
	policy *filter.Policy
	arp    ARPObserver
	ptr    *ptrResolver

	handle       *pcap.Handle
	packetSource *gopacket.PacketSource

	packetsProcessed atomic.Uint64
	bytesProcessed   atomic.Uint64

	running atomic.Bool
}

// NewEngine opens a live capture handle on cfg.Interface and returns an
// Engine ready to Start. graph and policy must be non-nil; arp may be nil,
// in which case ARP observations are discarded.
func NewEngine(cfg *Config, graph *topology.Graph, policy *filter.Policy, arp ARPObserver, log *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("capture: config cannot be nil")
	}
	if graph == nil || policy == nil {
		return nil, fmt.Errorf("capture: graph and policy are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if arp == nil {
		arp = noopARPObserver{}
	}

	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("capture: inactive handle: %w", err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(cfg.SnapLen)); err != nil {
		return nil, fmt.Errorf("capture: set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("capture: set promiscuous: %w", err)
	}
	if err := inactive.SetTimeout(cfg.ReadTimeout); err != nil {
		return nil, fmt.Errorf("capture: set read timeout: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("capture: activate: %w", err)
	}

	return &Engine{
		cfg:          cfg,
		log:          log,
		graph:        graph,
		policy:       policy,
		arp:          arp,
		ptr:          newPTRResolver(cfg.PTRCacheTTL, cfg.PTRTimeout, log),
		handle:       handle,
		packetSource: gopacket.NewPacketSource(handle, handle.LinkType()),
	}, nil
}

// Start runs the capture loop until ctx is canceled or the packet channel
// closes. It flips the graph's capture-ready latch once the loop is
// actually receiving from the handle, suppressing any events from
// observations the handle's own startup enumeration might otherwise leak
// (spec §5).
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("capture: engine already running")
	}
	defer e.running.Store(false)

	e.graph.SetReady(true)
	defer e.graph.SetReady(false)

	e.log.Info("capture started", "interface", e.cfg.Interface)

	packets := e.packetSource.Packets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case packet, ok := <-packets:
			if !ok {
				return nil
			}
			if packet == nil {
				continue
			}
			e.handlePacket(packet)
		}
	}
}

// Stop closes the pcap handle and the PTR resolver's cache, unblocking any
// in-progress Start loop's next read with a typed error treated as normal
// shutdown (spec §5).
func (e *Engine) Stop() {
	if e.handle != nil {
		e.handle.Close()
	}
	e.ptr.stop()
}

// Stats reports cumulative capture throughput and pcap-level drops.
func (e *Engine) Stats() (processed, bytes, dropped uint64) {
	processed = e.packetsProcessed.Load()
	bytes = e.bytesProcessed.Load()
	if e.handle != nil {
		if s, err := e.handle.Stats(); err == nil {
			dropped = uint64(s.PacketsDropped)
		}
	}
	return
}

func (e *Engine) handlePacket(packet gopacket.Packet) {
	e.packetsProcessed.Add(1)
	e.bytesProcessed.Add(uint64(packet.Metadata().Length))

	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return // spec §4.3 step 1: drop anything that is not Ethernet.
	}
	_ = eth

	at := packet.Metadata().Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	} else {
		at = at.UTC()
	}

	if arpLayer, ok := packet.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		e.handleARP(arpLayer, at)
		return
	}

	ipLayer, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return
	}
	e.handleIPv4(packet, eth, ipLayer, at)
}
