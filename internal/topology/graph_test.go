package topology

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, clock clockwork.Clock) *Graph {
	t.Helper()
	return NewGraph(WithClock(clock))
}

func TestAddDeviceThenUpdateDeviceInPlace(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newTestGraph(t, clock)

	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.10"})
	got := g.DeviceByMAC("aa:bb:cc:dd:ee:01")
	require.NotNil(t, got)
	require.Equal(t, "192.168.1.10", got.IP)
	require.True(t, got.LastSeen.Equal(got.FirstSeen))

	clock.Advance(time.Minute)
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.11", LastSeen: clock.Now().UTC(), PacketCount: 5})

	got = g.DeviceByMAC("aa:bb:cc:dd:ee:01")
	require.Equal(t, "192.168.1.11", got.IP)
	require.Equal(t, uint64(5), got.PacketCount)
	require.True(t, got.LastSeen.After(got.FirstSeen))

	require.Nil(t, g.DeviceByIP("192.168.1.10"))
	require.Equal(t, "aa:bb:cc:dd:ee:01", g.DeviceByIP("192.168.1.11").MAC)
}

func TestAddConnectionRequiresKnownEndpoints(t *testing.T) {
	g := NewGraph()
	c := g.AddConnection("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP", func(c *Connection) {})
	require.Nil(t, c, "connection must not be created when endpoints are unknown")
}

func TestAddConnectionMergesOnSameTriple(t *testing.T) {
	g := NewGraph()
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:01"})
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:02"})

	g.AddConnection("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP", func(c *Connection) {
		c.PacketCount++
		c.observeTTL(64)
	})
	first := g.AddConnection("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP", func(c *Connection) {
		c.PacketCount++
		c.observeTTL(60)
	})

	require.Equal(t, uint64(2), first.PacketCount)
	require.Len(t, g.Connections(), 1, "same triple must not create a second edge")
	require.LessOrEqual(t, first.MinTTL, first.MaxTTL)
}

func TestTLSPeerIsSticky(t *testing.T) {
	g := NewGraph()
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:01"})
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:02"})

	g.MarkTLSPeer("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP")
	c := g.AddConnection("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP", func(c *Connection) {
		c.PacketCount++
	})
	require.Equal(t, ConnTLSPeer, c.ConnectionType)
	require.True(t, c.IsTLSPeerConnection)
}

func TestCleanupInactiveDevicesRemovesDanglingEdges(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newTestGraph(t, clock)

	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:01"})
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:02"})
	g.AddConnection("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP", func(c *Connection) {})

	clock.Advance(EvictionHorizon + time.Second)
	evicted := g.CleanupInactiveDevices()

	require.Equal(t, 2, evicted)
	require.Empty(t, g.Devices())
	require.Empty(t, g.Connections())
}

func TestCleanupInactiveDevicesKeepsFreshDevices(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newTestGraph(t, clock)
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:01"})

	clock.Advance(EvictionHorizon - time.Second)
	evicted := g.CleanupInactiveDevices()
	require.Equal(t, 0, evicted)
	require.Len(t, g.Devices(), 1)
}

func TestResetConnectionRates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := newTestGraph(t, clock)
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:01"})
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:02"})
	g.AddConnection("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP", func(c *Connection) {
		c.RecentPacketCount = 10
	})

	clock.Advance(RateResetWindow)
	reset := g.ResetConnectionRates()
	require.Equal(t, 1, reset)

	conns := g.Connections()
	require.Len(t, conns, 1)
	require.Equal(t, uint64(0), conns[0].RecentPacketCount)
}

func TestMergeGraphIsIdempotent(t *testing.T) {
	g := NewGraph()
	devices := []*Device{
		{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.10", LastSeen: time.Now().UTC()},
		{MAC: "aa:bb:cc:dd:ee:02", IP: "192.168.1.11", LastSeen: time.Now().UTC()},
	}
	conns := []*Connection{
		{Key: ConnKey{Source: "aa:bb:cc:dd:ee:01", Destination: "aa:bb:cc:dd:ee:02", Protocol: "TCP"}, LastSeen: time.Now().UTC()},
	}

	g.MergeGraph(devices, conns)
	g.MergeGraph(devices, conns)

	require.Len(t, g.Devices(), 2)
	require.Len(t, g.Connections(), 1)
}

func TestClassifyConnection(t *testing.T) {
	require.Equal(t, ConnTLSPeer, ClassifyConnection(false, true, 64, true))
	require.Equal(t, ConnInternet, ClassifyConnection(true, false, 64, false))
	require.Equal(t, ConnDirectL2, ClassifyConnection(false, true, 64, false))
	require.Equal(t, ConnRoutedL3, ClassifyConnection(false, true, 55, false))
	require.Equal(t, ConnInternet, ClassifyConnection(false, true, 10, false))
	require.Equal(t, ConnInternet, ClassifyConnection(false, false, 64, false))
}

func TestShortestPath(t *testing.T) {
	g := NewGraph()
	g.AddDevice(&Device{MAC: "a"})
	g.AddDevice(&Device{MAC: "b"})
	g.AddDevice(&Device{MAC: "c"})
	g.AddConnection("a", "b", "TCP", func(c *Connection) {})
	g.AddConnection("b", "c", "TCP", func(c *Connection) {})

	path := g.ShortestPath("a", "c")
	require.Equal(t, []string{"a", "b", "c"}, path)

	require.Nil(t, g.ShortestPath("a", "zzz"))
}

func TestMarkGatewaySetsDefaultFlag(t *testing.T) {
	g := NewGraph()
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:01"})

	g.MarkGateway("aa:bb:cc:dd:ee:01", true, RoleDefault)

	gw := g.DefaultGateway()
	require.NotNil(t, gw)
	require.Equal(t, "aa:bb:cc:dd:ee:01", gw.MAC)
	require.True(t, gw.IsGateway)
	require.True(t, gw.IsDefaultGateway)
	require.Equal(t, RoleDefault, gw.GatewayRole)

	g.ClearAllGatewayFlags()
	require.Nil(t, g.DefaultGateway())
}

func TestMarkGatewayInferredRoleIsAlsoDefault(t *testing.T) {
	g := NewGraph()
	g.AddDevice(&Device{MAC: "aa:bb:cc:dd:ee:02"})

	g.MarkGateway("aa:bb:cc:dd:ee:02", true, RoleDefaultInferred)

	gw := g.DefaultGateway()
	require.NotNil(t, gw)
	require.True(t, gw.IsDefaultGateway)
}

func TestUpgradeScanPending(t *testing.T) {
	g := NewGraph()
	g.AddDevice(&Device{MAC: ScanPendingMAC("192.168.1.50"), IP: "192.168.1.50", IsScanPending: true, Vendor: ScanPendingVendor})

	upgraded := g.UpgradeScanPending("192.168.1.50", "aa:bb:cc:dd:ee:99", "Acme Corp")
	require.NotNil(t, upgraded)
	require.Equal(t, "aa:bb:cc:dd:ee:99", upgraded.MAC)
	require.False(t, upgraded.IsScanPending)

	require.Nil(t, g.DeviceByMAC(ScanPendingMAC("192.168.1.50")))
	require.NotNil(t, g.DeviceByMAC("aa:bb:cc:dd:ee:99"))
	require.Len(t, g.Devices(), 1, "upgrade must not create a duplicate vertex")
}
