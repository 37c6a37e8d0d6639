package topology

import (
	"fmt"
	"time"
)

// GatewayRole labels a device the Gateway Detector has identified as a
// router. Exactly one device may hold RoleDefault at a time (spec §4.5,
// GLOSSARY "Gateway role").
type GatewayRole string

const (
	RoleNone            GatewayRole = ""
	RoleDefault         GatewayRole = "Default"
	RoleSecondary       GatewayRole = "Secondary"
	RoleDefaultInferred GatewayRole = "Default (Inferred)"
)

// ConnType classifies where a connection's remote endpoint sits relative
// to the local L2 segment (spec §4.3, GLOSSARY).
type ConnType string

const (
	ConnDirectL2 ConnType = "DirectL2"
	ConnRoutedL3 ConnType = "RoutedL3"
	ConnInternet ConnType = "Internet"
	ConnTLSPeer  ConnType = "TLSPeer"
)

// VirtualKeyPrefix is prepended to an IP to form the synthetic vertex key
// for a device seen only across a gateway (GLOSSARY "Virtual device").
const VirtualKeyPrefix = "virtual-"

// VirtualKey returns the synthetic device key for ip.
func VirtualKey(ip string) string {
	return VirtualKeyPrefix + ip
}

// ScanPendingVendor is the vendor placeholder the Ping Sweeper assigns a
// scan-discovered device before a real MAC is observed (GLOSSARY
// "Scan-pending device").
const ScanPendingVendor = "Scan Discovered (MAC pending)"

// ScanPendingMACPrefix identifies a synthetic MAC minted by the Ping
// Sweeper for a host that answered an echo request but hasn't yet been
// seen on the wire.
const ScanPendingMACPrefix = "scan-pending-"

// ScanPendingMAC returns the synthetic MAC the Ping Sweeper assigns ip.
func ScanPendingMAC(ip string) string {
	return ScanPendingMACPrefix + ip
}

// IsScanPendingMAC reports whether mac was minted by ScanPendingMAC.
func IsScanPendingMAC(mac string) bool {
	return len(mac) > len(ScanPendingMACPrefix) && mac[:len(ScanPendingMACPrefix)] == ScanPendingMACPrefix
}

// IsVirtualKey reports whether key was minted by VirtualKey.
func IsVirtualKey(key string) bool {
	return len(key) > len(VirtualKeyPrefix) && key[:len(VirtualKeyPrefix)] == VirtualKeyPrefix
}

// Device is a network entity observed on-wire or seeded by the Ping
// Sweeper (spec §3 "Device").
type Device struct {
	MAC string // canonical lowercase key; "virtual-<ip>" for virtual devices
	IP  string

	Hostname     string
	Vendor       string
	FriendlyName string

	FirstSeen time.Time
	LastSeen  time.Time

	PacketCount uint64
	ByteCount   uint64
	OpenPorts   map[uint16]struct{}

	IsGateway        bool
	IsDefaultGateway bool
	GatewayRole      GatewayRole

	IsTLScopePeer bool
	PeerID        string // opaque back-reference to an identity.Peer; never a pointer (spec §9)

	IsVirtual     bool
	IsScanPending bool
}

// clone returns a deep-enough copy for safe handoff to event subscribers
// outside the graph's lock.
func (d *Device) clone() *Device {
	cp := *d
	cp.OpenPorts = make(map[uint16]struct{}, len(d.OpenPorts))
	for p := range d.OpenPorts {
		cp.OpenPorts[p] = struct{}{}
	}
	return &cp
}

// ConnKey is the identity of a Connection: (source, destination, protocol)
// — at most one edge per triple (spec §3 "Connection").
type ConnKey struct {
	Source      string
	Destination string
	Protocol    string
}

func (k ConnKey) String() string {
	return fmt.Sprintf("%s->%s/%s", k.Source, k.Destination, k.Protocol)
}

// Connection is a directed flow between two devices.
type Connection struct {
	Key ConnKey

	SourcePort    uint16
	DestPort      uint16
	HasSourcePort bool
	HasDestPort   bool

	FirstSeen time.Time
	LastSeen  time.Time

	PacketCount       uint64
	RecentPacketCount uint64
	ByteCount         uint64

	TCPState string

	IsTLSPeerConnection bool

	MinTTL     uint8
	MaxTTL     uint8
	AvgTTL     float64
	TTLSamples uint64

	ConnectionType ConnType

	LastRateUpdate time.Time
}

func (c *Connection) clone() *Connection {
	cp := *c
	return &cp
}

// ObserveTTL folds a new TTL sample into the running min/max/average,
// maintaining the invariant min_ttl <= avg_ttl <= max_ttl (spec §8). It is
// exported so callers mutating a Connection through AddConnection's
// mutate callback (e.g. the Packet Ingest pipeline) can fold in a sample
// without reaching into unexported graph internals.
func (c *Connection) ObserveTTL(ttl uint8) {
	c.observeTTL(ttl)
}

func (c *Connection) observeTTL(ttl uint8) {
	if c.TTLSamples == 0 {
		c.MinTTL, c.MaxTTL = ttl, ttl
		c.AvgTTL = float64(ttl)
		c.TTLSamples = 1
		return
	}
	if ttl < c.MinTTL {
		c.MinTTL = ttl
	}
	if ttl > c.MaxTTL {
		c.MaxTTL = ttl
	}
	c.AvgTTL = (c.AvgTTL*float64(c.TTLSamples) + float64(ttl)) / float64(c.TTLSamples+1)
	c.TTLSamples++
}
