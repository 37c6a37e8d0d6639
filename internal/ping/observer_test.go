package ping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DangSage/TLScope-sub001/internal/topology"
)

func TestRegisterScanPendingCreatesPlaceholderDevices(t *testing.T) {
	graph := topology.NewGraph()
	results := make(chan Result, 3)
	results <- Result{IP: "192.168.1.1", RTT: time.Millisecond}
	results <- Result{IP: "192.168.1.50", RTT: 2 * time.Millisecond}
	results <- Result{IP: "192.168.1.200", RTT: 3 * time.Millisecond}
	close(results)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	RegisterScanPending(ctx, graph, results, nil)

	require.Len(t, graph.Devices(), 3)
	dev := graph.DeviceByIP("192.168.1.50")
	require.NotNil(t, dev)
	require.Equal(t, topology.ScanPendingMAC("192.168.1.50"), dev.MAC)
	require.Equal(t, topology.ScanPendingVendor, dev.Vendor)
	require.True(t, dev.IsScanPending)
}

func TestRegisterScanPendingStopsOnContextCancel(t *testing.T) {
	graph := topology.NewGraph()
	results := make(chan Result)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RegisterScanPending(ctx, graph, results, nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RegisterScanPending did not return after context cancellation")
	}
}
