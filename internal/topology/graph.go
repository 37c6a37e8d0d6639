// Package topology is the Topology Graph (spec §4.6): a directed
// multigraph of Device vertices and Connection-tagged edges that owns
// deduplication, classification, eviction, and merge. It is the only
// shared mutable state in the core (spec §5) and is guarded by a single
// RWMutex, in the manner of doublezero's *NetlinkManager in
// internal/manager/manager.go.
package topology

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/DangSage/TLScope-sub001/internal/events"
	"github.com/DangSage/TLScope-sub001/internal/persistence"
)

// EvictionHorizon is how long a device may go unobserved before
// cleanup_inactive_devices removes it (spec §3 "Device", lifecycle).
const EvictionHorizon = 2 * time.Minute

// RateResetWindow is how often a connection's recent-window packet count
// resets to zero (spec §3 "Connection", lifecycle).
const RateResetWindow = 30 * time.Second

// Option configures a Graph at construction time, following
// doublezero's functional-options idiom (internal/manager/manager.go).
type Option func(*Graph)

// WithLogger sets the graph's logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(g *Graph) { g.log = log }
}

// WithSink sets the persistence sink devices/connections are mirrored to.
// Defaults to persistence.NoopSink{}.
func WithSink(sink persistence.Sink) Option {
	return func(g *Graph) { g.sink = sink }
}

// WithBus sets the event bus used to publish discovery/detection events.
// Defaults to a fresh, unshared bus.
func WithBus(bus *events.Bus) Option {
	return func(g *Graph) { g.bus = bus }
}

// WithClock overrides the time source, for deterministic eviction and
// rate-reset tests (mirrors doublezero's injectable NowFunc in
// internal/probing/scheduler.go).
func WithClock(clock clockwork.Clock) Option {
	return func(g *Graph) { g.clock = clock }
}

// Graph holds devices (vertices) and connections (edges) plus the
// secondary indices spec §4.6 requires: mac_lc -> device, ip -> mac_lc.
type Graph struct {
	mu sync.RWMutex

	devices     map[string]*Device
	connections map[ConnKey]*Connection
	ipIndex     map[string]string // ip -> mac_lc

	log   *slog.Logger
	sink  persistence.Sink
	bus   *events.Bus
	clock clockwork.Clock

	// ready gates public event emission until the capture pipeline's
	// start_capture call has returned successfully (spec §5, "capture
	// ready latch"). The graph itself is usable before ready is set;
	// only outbound events are suppressed.
	ready bool
}

// NewGraph returns an empty graph ready for observations.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		devices:     make(map[string]*Device),
		connections: make(map[ConnKey]*Connection),
		ipIndex:     make(map[string]string),
		log:         slog.Default(),
		sink:        persistence.NoopSink{},
		bus:         events.NewBus(),
		clock:       clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Bus returns the event bus subscribers should register against.
func (g *Graph) Bus() *events.Bus { return g.bus }

// SetReady flips the capture-ready latch; events published before this
// call are suppressed so stale enumeration events never leak (spec §5).
func (g *Graph) SetReady(ready bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ready = ready
}

func (g *Graph) publish(kind events.Kind, payload any) {
	if !g.ready {
		return
	}
	g.bus.Publish(events.Event{Kind: kind, Payload: payload})
}

// now returns the graph's current time, respecting an injected clock.
func (g *Graph) now() time.Time { return g.clock.Now().UTC() }

// AddDevice inserts d as a new vertex, or delegates to UpdateDevice if its
// MAC is already known (spec §4.6 add_device).
func (g *Graph) AddDevice(d *Device) *Device {
	g.mu.Lock()
	if existing, ok := g.devices[d.MAC]; ok {
		g.mu.Unlock()
		return g.UpdateDevice(existing.MAC, d)
	}
	if d.FirstSeen.IsZero() {
		d.FirstSeen = g.now()
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = d.FirstSeen
	}
	if d.OpenPorts == nil {
		d.OpenPorts = make(map[uint16]struct{})
	}
	g.devices[d.MAC] = d
	if d.IP != "" {
		g.ipIndex[d.IP] = d.MAC
	}
	snapshot := d.clone()
	g.mu.Unlock()

	g.sink.SaveDevice(context.Background(), deviceRecord(snapshot))
	g.publish(events.DeviceDiscovered, snapshot)
	return d
}

// UpdateDevice folds patch into the existing device keyed by mac (spec
// §4.6 update_device): non-empty IP, hostname, vendor and friendly name
// are copied, rewriting the IP index if the IP changed; LastSeen only
// moves forward; patch's PacketCount and ByteCount are added to the
// device's totals; patch's open ports are added to the set. Returns the
// updated device, or nil if mac is unknown.
func (g *Graph) UpdateDevice(mac string, patch *Device) *Device {
	g.mu.Lock()
	existing, ok := g.devices[mac]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	if patch.IP != "" && patch.IP != existing.IP {
		if existing.IP != "" {
			delete(g.ipIndex, existing.IP)
		}
		existing.IP = patch.IP
		g.ipIndex[patch.IP] = existing.MAC
	}
	if patch.Hostname != "" {
		existing.Hostname = patch.Hostname
	}
	if patch.Vendor != "" {
		existing.Vendor = patch.Vendor
	}
	if patch.FriendlyName != "" {
		existing.FriendlyName = patch.FriendlyName
	}
	if patch.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = patch.LastSeen
	}
	existing.PacketCount += patch.PacketCount
	existing.ByteCount += patch.ByteCount
	for port := range patch.OpenPorts {
		existing.OpenPorts[port] = struct{}{}
	}
	if patch.IsScanPending {
		existing.IsScanPending = true
	}
	snapshot := existing.clone()
	g.mu.Unlock()

	g.sink.SaveDevice(context.Background(), deviceRecord(snapshot))
	g.publish(events.DeviceUpdated, snapshot)
	return existing
}

// UpgradeScanPending replaces a scan-pending placeholder's synthetic MAC
// with a real one observed on the wire, moving its history to the new key
// without creating a duplicate vertex (spec §4.4, scenario 4).
func (g *Graph) UpgradeScanPending(ip, realMAC, vendor string) *Device {
	g.mu.Lock()
	oldMAC, ok := g.ipIndex[ip]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	old, ok := g.devices[oldMAC]
	if !ok || !old.IsScanPending {
		g.mu.Unlock()
		return nil
	}
	delete(g.devices, oldMAC)
	old.MAC = realMAC
	old.Vendor = vendor
	old.IsScanPending = false
	g.devices[realMAC] = old
	g.ipIndex[ip] = realMAC
	snapshot := old.clone()
	g.mu.Unlock()

	g.sink.SaveDevice(context.Background(), deviceRecord(snapshot))
	g.publish(events.DeviceUpdated, snapshot)
	return old
}

// DeviceByMAC returns a defensive copy of the device keyed by mac, or nil.
func (g *Graph) DeviceByMAC(mac string) *Device {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.devices[mac]
	if !ok {
		return nil
	}
	return d.clone()
}

// DeviceByIP returns a defensive copy of the device currently owning ip,
// or nil (spec §8: "ip_index[d.ip] = d.mac").
func (g *Graph) DeviceByIP(ip string) *Device {
	g.mu.RLock()
	defer g.mu.RUnlock()
	mac, ok := g.ipIndex[ip]
	if !ok {
		return nil
	}
	d, ok := g.devices[mac]
	if !ok {
		return nil
	}
	return d.clone()
}

// Devices returns a defensive copy of every vertex.
func (g *Graph) Devices() []*Device {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Device, 0, len(g.devices))
	for _, d := range g.devices {
		out = append(out, d.clone())
	}
	return out
}

// containsDevice reports whether mac is a known vertex. Caller must hold
// at least a read lock.
func (g *Graph) containsDevice(mac string) bool {
	_, ok := g.devices[mac]
	return ok
}

// AddConnection ensures both endpoints exist, then merges the observation
// into the edge for (src, dst, proto), creating it on first sight (spec
// §4.6 add_connection). src and dst must already be known vertex keys;
// AddConnection does not fabricate endpoints, matching §7's "defensive
// checks precede every mutation touching secondary indices".
func (g *Graph) AddConnection(srcMAC, dstMAC, proto string, mutate func(c *Connection)) *Connection {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.containsDevice(srcMAC) || !g.containsDevice(dstMAC) {
		return nil
	}

	key := ConnKey{Source: srcMAC, Destination: dstMAC, Protocol: proto}
	c, existed := g.connections[key]
	if !existed {
		now := g.now()
		c = &Connection{Key: key, FirstSeen: now, LastSeen: now, LastRateUpdate: now, ConnectionType: ConnInternet}
		g.connections[key] = c
	}

	mutate(c)
	snapshot := c.clone()

	if !existed {
		g.mu.Unlock()
		g.sink.SaveConnection(context.Background(), connectionRecord(snapshot))
		g.publish(events.ConnectionDetected, snapshot)
		g.mu.Lock()
	}
	return c
}

// ConnectionsFor returns a defensive copy of every edge touching mac,
// either as source or destination.
func (g *Graph) ConnectionsFor(mac string) []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Connection
	for _, c := range g.connections {
		if c.Key.Source == mac || c.Key.Destination == mac {
			out = append(out, c.clone())
		}
	}
	return out
}

// Connections returns a defensive copy of every edge.
func (g *Graph) Connections() []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Connection, 0, len(g.connections))
	for _, c := range g.connections {
		out = append(out, c.clone())
	}
	return out
}

// CleanupInactiveDevices removes vertices unseen for longer than
// EvictionHorizon, together with every incident edge, from both the
// vertex set and the indices (spec §4.6 cleanup_inactive_devices).
// Returns the number of devices evicted.
func (g *Graph) CleanupInactiveDevices() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-EvictionHorizon)
	var evicted []string
	for mac, d := range g.devices {
		if d.LastSeen.Before(cutoff) {
			evicted = append(evicted, mac)
		}
	}
	for _, mac := range evicted {
		d := g.devices[mac]
		delete(g.devices, mac)
		if d.IP != "" && g.ipIndex[d.IP] == mac {
			delete(g.ipIndex, d.IP)
		}
		for key := range g.connections {
			if key.Source == mac || key.Destination == mac {
				delete(g.connections, key)
			}
		}
		g.sink.DeleteDevice(context.Background(), deviceRecord(d))
		g.publish(events.DeviceEvicted, d.clone())
	}
	return len(evicted)
}

// ResetConnectionRates zeroes the recent-window packet count for every
// edge whose rate window has elapsed (spec §4.6 reset_connection_rates).
func (g *Graph) ResetConnectionRates() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var reset int
	for _, c := range g.connections {
		if now.Sub(c.LastRateUpdate) >= RateResetWindow {
			c.RecentPacketCount = 0
			c.LastRateUpdate = now
			reset++
		}
	}
	return reset
}

// RunCleanupLoop is the cleanup sidecar (spec §4.3): it runs
// CleanupInactiveDevices and ResetConnectionRates every interval until ctx
// is canceled. Intended to be launched in its own goroutine.
func (g *Graph) RunCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := g.CleanupInactiveDevices()
			reset := g.ResetConnectionRates()
			if evicted > 0 || reset > 0 {
				g.log.Debug("topology cleanup", "evicted", evicted, "rate_reset", reset)
			}
		}
	}
}
