// Package persistence defines the write-through contract the Topology
// Graph writes through to (spec §6 "Persistence contract"), plus an
// async wrapper implementing spec §9's "fire-and-forget persistence"
// redesign flag: a bounded channel and a dedicated writer goroutine, so
// the capture hot path never blocks on a slow or failing store.
//
// Record types are plain data, independent of the topology package, so
// persistence has no import-cycle back to the graph it serves — the
// graph converts its Device/Connection into these records at the call
// site (spec §9 "Global logger / process-wide filter counters" applies
// the same "pass explicit dependencies" spirit here).
package persistence

import (
	"context"
	"time"
)

// DeviceRecord is the persisted shape of a topology.Device.
type DeviceRecord struct {
	MAC          string
	IP           string
	Hostname     string
	Vendor       string
	FriendlyName string
	FirstSeen    time.Time
	LastSeen     time.Time
	PacketCount  uint64
	ByteCount    uint64
	OpenPorts    []uint16

	IsGateway        bool
	IsDefaultGateway bool
	GatewayRole      string

	IsTLScopePeer bool
	PeerID        string

	IsVirtual     bool
	IsScanPending bool
}

// ConnectionRecord is the persisted shape of a topology.Connection.
type ConnectionRecord struct {
	Source      string
	Destination string
	Protocol    string

	SourcePort int32 // -1 when absent
	DestPort   int32 // -1 when absent

	FirstSeen time.Time
	LastSeen  time.Time

	PacketCount       uint64
	RecentPacketCount uint64
	ByteCount         uint64

	TCPState string

	IsTLSPeerConnection bool

	MinTTL uint8
	MaxTTL uint8
	AvgTTL float64

	ConnectionType string
}

// Sink is the swappable persistence contract (spec §6). The real
// implementation (SQLite-backed) lives outside the core; the core only
// depends on this interface and must remain correct against NoopSink.
type Sink interface {
	SaveDevice(ctx context.Context, d DeviceRecord)
	DeleteDevice(ctx context.Context, d DeviceRecord)
	SaveConnection(ctx context.Context, c ConnectionRecord)
	LoadDevices(ctx context.Context) ([]DeviceRecord, error)
}

// NoopSink discards everything; the core's correctness must not depend on
// persistence succeeding (spec §1 "the core remains correct if it is
// replaced by a no-op").
type NoopSink struct{}

func (NoopSink) SaveDevice(context.Context, DeviceRecord)         {}
func (NoopSink) DeleteDevice(context.Context, DeviceRecord)       {}
func (NoopSink) SaveConnection(context.Context, ConnectionRecord) {}
func (NoopSink) LoadDevices(context.Context) ([]DeviceRecord, error) {
	return nil, nil
}
