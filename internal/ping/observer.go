package ping

import (
	"context"
	"log/slog"

	"github.com/DangSage/TLScope-sub001/internal/topology"
)

// RegisterScanPending drains results, creating a scan-pending placeholder
// device per responding host (spec §4.4: synthetic MAC
// "scan-pending-"+ip, vendor "Scan Discovered (MAC pending)"). A later
// Packet Ingest observation on the same IP upgrades the placeholder via
// topology.Graph.UpgradeScanPending; the duplicate-IP rule does not apply
// to these placeholders.
func RegisterScanPending(ctx context.Context, graph *topology.Graph, results <-chan Result, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			graph.AddDevice(&topology.Device{
				MAC:           topology.ScanPendingMAC(r.IP),
				IP:            r.IP,
				Vendor:        topology.ScanPendingVendor,
				IsScanPending: true,
			})
			log.Debug("ping sweep host responded", "ip", r.IP, "rtt", r.RTT)
		}
	}
}
