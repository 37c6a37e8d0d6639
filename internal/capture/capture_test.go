package capture

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DangSage/TLScope-sub001/internal/filter"
	"github.com/DangSage/TLScope-sub001/internal/topology"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return &Engine{
		log:    slog.Default(),
		graph:  topology.NewGraph(),
		policy: filter.Default(),
		arp:    noopARPObserver{},
		ptr:    newPTRResolver(time.Minute, time.Second, slog.Default()),
	}
}

func TestObserveDeviceCreatesThenUpdates(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()

	d := e.observeDevice("AA:BB:CC:DD:EE:01", "192.168.1.10", 100, now)
	require.NotNil(t, d)
	require.Equal(t, "aa:bb:cc:dd:ee:01", d.MAC)

	d2 := e.observeDevice("aa:bb:cc:dd:ee:01", "192.168.1.11", 50, now.Add(time.Second))
	require.Equal(t, "192.168.1.11", d2.IP)
}

func TestObserveDeviceRejectsUtilityIP(t *testing.T) {
	e := newTestEngine(t)
	d := e.observeDevice("aa:bb:cc:dd:ee:01", "127.0.0.1", 0, time.Now().UTC())
	require.Nil(t, d)
}

func TestObserveDeviceRejectsUtilityMAC(t *testing.T) {
	e := newTestEngine(t)
	d := e.observeDevice("ff:ff:ff:ff:ff:ff", "192.168.1.10", 0, time.Now().UTC())
	require.Nil(t, d)
}

func TestObserveDeviceEnforcesDuplicateIPPolicy(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()
	e.observeDevice("aa:bb:cc:dd:ee:01", "192.168.1.10", 0, now)

	d := e.observeDevice("aa:bb:cc:dd:ee:02", "192.168.1.10", 0, now)
	require.Nil(t, d, "a different MAC must not be allowed to claim an owned IP")
}

func TestObserveDeviceUpgradesScanPending(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()
	e.graph.AddDevice(&topology.Device{
		MAC: topology.ScanPendingMAC("192.168.1.50"), IP: "192.168.1.50",
		IsScanPending: true, Vendor: topology.ScanPendingVendor,
	})

	d := e.observeDevice("aa:bb:cc:dd:ee:99", "192.168.1.50", 10, now)
	require.NotNil(t, d)
	require.Equal(t, "aa:bb:cc:dd:ee:99", d.MAC)
	require.False(t, d.IsScanPending)
	require.Len(t, e.graph.Devices(), 1)
}

func TestObserveVirtualDevice(t *testing.T) {
	e := newTestEngine(t)
	d := e.observeVirtualDevice("8.8.8.8", 64, time.Now().UTC())
	require.NotNil(t, d)
	require.True(t, d.IsVirtual)
	require.Equal(t, topology.VirtualKey("8.8.8.8"), d.MAC)
}

func TestObserveConnectionClassifiesDirectL2(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()
	e.observeDevice("aa:bb:cc:dd:ee:01", "192.168.1.10", 0, now)
	e.observeDevice("aa:bb:cc:dd:ee:02", "192.168.1.11", 0, now)

	c := e.observeConnection("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP", 51000, 443, true, true, 100, 64, now)
	require.NotNil(t, c)
	require.Equal(t, topology.ConnDirectL2, c.ConnectionType)
	require.Contains(t, e.graph.DeviceByMAC("aa:bb:cc:dd:ee:02").OpenPorts, uint16(443))
}

func TestObserveConnectionMarksTLSPeerSticky(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()
	e.observeDevice("aa:bb:cc:dd:ee:01", "192.168.1.10", 0, now)
	e.observeDevice("aa:bb:cc:dd:ee:02", "192.168.1.11", 0, now)

	c := e.observeConnection("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP", 51000, 8443, true, true, 100, 10, now)
	require.NotNil(t, c)
	require.Equal(t, topology.ConnTLSPeer, c.ConnectionType)

	c2 := e.observeConnection("aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "TCP", 51000, 9999, true, true, 100, 10, now.Add(time.Second))
	require.Equal(t, topology.ConnTLSPeer, c2.ConnectionType, "TLSPeer must stay sticky on a later non-8443 observation")
}

func TestParseDHCPRejectsShortPayload(t *testing.T) {
	_, ok := parseDHCP(make([]byte, 239))
	require.False(t, ok)
}

func TestParseDHCPExtractsOfferedIPAndClientMAC(t *testing.T) {
	payload := make([]byte, 240)
	copy(payload[16:20], []byte{192, 168, 1, 50})
	copy(payload[28:34], []byte{0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f})

	offer, ok := parseDHCP(payload)
	require.True(t, ok)
	require.Equal(t, "192.168.1.50", offer.IP)
	require.Equal(t, "0a:0b:0c:0d:0e:0f", offer.MAC)
}

func TestVendorForMACKnownAndUnknownPrefix(t *testing.T) {
	require.Equal(t, "Raspberry Pi Foundation", vendorForMAC("b8:27:eb:11:22:33"))
	require.Equal(t, "", vendorForMAC("ff:ee:dd:11:22:33"))
}
