// Package gateway is the Gateway Detector (spec §4.5): it inspects OS
// routing state and ARP-destination diversity to flag which devices are
// routers, then tells the Topology Graph to reclassify connections that
// cross a newly-identified gateway. Grounded on doublezero's
// internal/routing (vishvananda/netlink route enumeration) and
// internal/netlink (Netlinker-style interface segregation so the
// detector is testable without a real kernel routing table).
package gateway

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	nl "github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/DangSage/TLScope-sub001/internal/address"
	"github.com/DangSage/TLScope-sub001/internal/topology"
)

// Netlinker is the subset of vishvananda/netlink's surface the detector
// needs, narrowed in the manner of doublezero's internal/routing.Netlinker
// so tests can substitute a fake routing table.
type Netlinker interface {
	LinkList() ([]nl.Link, error)
	RouteList(link nl.Link, family int) ([]nl.Route, error)
}

type realNetlink struct{}

func (realNetlink) LinkList() ([]nl.Link, error) { return nl.LinkList() }
func (realNetlink) RouteList(link nl.Link, family int) ([]nl.Route, error) {
	return nl.RouteList(link, family)
}

// Detector implements the four-strategy fallback chain of spec §4.5.
type Detector struct {
	nlh       Netlinker
	procRoute func() string
	log       *slog.Logger

	mu      sync.Mutex
	arpDiv  map[string]map[string]struct{} // senderMAC -> set of target IPs
	cached  string                         // cached gateway IP, invalidated on network change
	invalid bool
}

// Option configures a Detector at construction.
type Option func(*Detector)

// WithNetlinker overrides the routing-table backend, for tests.
func WithNetlinker(nlh Netlinker) Option {
	return func(d *Detector) { d.nlh = nlh }
}

// WithLogger overrides the detector's logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Detector) { d.log = log }
}

// withProcRouteFunc overrides the /proc/net/route strategy, for tests
// that must not depend on the host's real routing table.
func withProcRouteFunc(f func() string) Option {
	return func(d *Detector) { d.procRoute = f }
}

// New returns a Detector backed by the real kernel routing table unless
// overridden.
func New(opts ...Option) *Detector {
	d := &Detector{
		nlh:       realNetlink{},
		procRoute: detectFromProcNetRoute,
		log:       slog.Default(),
		arpDiv:    make(map[string]map[string]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ObserveARP implements internal/capture.ARPObserver: it records
// (senderMAC -> targetIP) in the detector's private diversity table (spec
// §4.3 step 2, §5 "protected by its own mutex").
func (d *Detector) ObserveARP(senderMAC, targetIP string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	targets, ok := d.arpDiv[senderMAC]
	if !ok {
		targets = make(map[string]struct{})
		d.arpDiv[senderMAC] = targets
	}
	targets[targetIP] = struct{}{}
}

// InvalidateOnNetworkChange clears the cached gateway so the next Detect
// call re-runs the strategy chain (spec §4.5 "network-address-changed
// notification").
func (d *Detector) InvalidateOnNetworkChange() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalid = true
	d.cached = ""
}

// Detect runs the strategy chain in order and returns the gateway IP
// found, or "" if none of the strategies produced a candidate.
func (d *Detector) Detect(graph *topology.Graph) string {
	d.mu.Lock()
	if d.cached != "" && !d.invalid {
		ip := d.cached
		d.mu.Unlock()
		return ip
	}
	d.invalid = false
	d.mu.Unlock()

	if ip := d.detectFromRoutingTable(); ip != "" {
		d.setCached(ip)
		return ip
	}
	if ip := d.procRoute(); ip != "" {
		d.setCached(ip)
		return ip
	}
	if ip := d.detectFromARPDiversity(graph); ip != "" {
		d.setCached(ip)
		return ip
	}
	if ip := detectFromHighestPacketCount(graph); ip != "" {
		d.setCached(ip)
		return ip
	}
	return ""
}

func (d *Detector) setCached(ip string) {
	d.mu.Lock()
	d.cached = ip
	d.mu.Unlock()
}

// detectFromRoutingTable implements spec §4.5 strategy 1: enumerate the
// kernel's IPv4 routes across every operational non-loopback interface
// and return the gateway of the lowest-metric default route (destination
// nil), following doublezero's netlink.RouteList(link, FAMILY_V4) usage
// in internal/netlink/netlink_linux.go.
func (d *Detector) detectFromRoutingTable() string {
	links, err := d.nlh.LinkList()
	if err != nil {
		d.log.Debug("gateway: link list failed", "err", err)
		return ""
	}

	var bestGw string
	bestMetric := -1
	for _, link := range links {
		attrs := link.Attrs()
		if attrs == nil || attrs.Flags&net.FlagLoopback != 0 || attrs.Flags&net.FlagUp == 0 {
			continue
		}
		routes, err := d.nlh.RouteList(link, nl.FAMILY_V4)
		if err != nil {
			continue
		}
		for _, r := range routes {
			if r.Dst != nil || r.Gw == nil {
				continue
			}
			if r.Protocol == unix.RTPROT_KERNEL {
				continue // directly-connected route, never a default gateway
			}
			if bestMetric == -1 || r.Priority < bestMetric {
				bestMetric = r.Priority
				bestGw = r.Gw.String()
			}
		}
	}
	return bestGw
}

// detectFromARPDiversity implements spec §4.5 strategy 3: the MAC recorded
// as ARP source for the most distinct target IPs is a likely gateway.
// Returns the IP that MAC currently holds in graph, or "" if the MAC has
// no diversity lead or isn't a known device yet.
func (d *Detector) detectFromARPDiversity(graph *topology.Graph) string {
	mac := d.bestARPDiversityMAC()
	if mac == "" || graph == nil {
		return ""
	}
	dev := graph.DeviceByMAC(mac)
	if dev == nil {
		return ""
	}
	return dev.IP
}

// detectFromHighestPacketCount implements spec §4.5 strategy 4: the
// local, non-virtual device with the highest packet count.
func detectFromHighestPacketCount(graph *topology.Graph) string {
	if graph == nil {
		return ""
	}
	var best *topology.Device
	for _, dev := range graph.Devices() {
		if dev.IsVirtual || !address.IsLocal(dev.IP) {
			continue
		}
		if best == nil || dev.PacketCount > best.PacketCount {
			best = dev
		}
	}
	if best == nil {
		return ""
	}
	return best.IP
}

// Refresh implements spec §4.5's full refresh cycle: clear gateway flags,
// run Detect, set flags on the winning device, then reclassify edges.
// Returns the number of connections whose type changed.
func (d *Detector) Refresh(graph *topology.Graph) int {
	graph.ClearAllGatewayFlags()

	ip := d.Detect(graph)
	if ip == "" {
		return graph.UpdateConnectionTypes()
	}

	dev := graph.DeviceByIP(ip)
	if dev == nil {
		return graph.UpdateConnectionTypes()
	}

	role := topology.RoleDefault
	if d.isInferred(ip) {
		role = topology.RoleDefaultInferred
	}
	graph.MarkGateway(dev.MAC, true, role)

	return graph.UpdateConnectionTypes()
}

func (d *Detector) bestARPDiversityMAC() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var bestMAC string
	bestCount := 0
	for mac, targets := range d.arpDiv {
		if len(targets) > bestCount {
			bestCount = len(targets)
			bestMAC = mac
		}
	}
	return bestMAC
}

// isInferred reports whether ip was found via ARP-diversity or
// packet-count fallback rather than the authoritative routing table,
// warranting the "(Inferred)" role label (spec §4.5 strategy 3).
func (d *Detector) isInferred(ip string) bool {
	return d.detectFromRoutingTable() == "" && d.procRoute() == ""
}

// RunRefreshLoop re-runs Refresh every interval until ctx is canceled
// (spec §4.5 "runs periodically").
func (d *Detector) RunRefreshLoop(ctx context.Context, graph *topology.Graph, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed := d.Refresh(graph)
			if changed > 0 {
				d.log.Debug("gateway refresh reclassified connections", "changed", changed)
			}
		}
	}
}
