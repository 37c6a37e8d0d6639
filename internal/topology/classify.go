package topology

import (
	"github.com/DangSage/TLScope-sub001/internal/address"
	"github.com/DangSage/TLScope-sub001/internal/events"
)

// ClassifyConnection implements spec §4.3's classification algorithm: on
// identical (destVirtual, destLocal, ttl, isTLSPeer) the result is stable
// (spec §8). TLSPeer is sticky — once a connection is TLSPeer it is never
// downgraded (spec §3, §9).
func ClassifyConnection(destVirtual, destLocal bool, ttl uint8, isTLSPeer bool) ConnType {
	if isTLSPeer {
		return ConnTLSPeer
	}
	if destVirtual {
		return ConnInternet
	}
	if destLocal {
		switch {
		case ttl >= 62:
			return ConnDirectL2
		case ttl >= 50:
			return ConnRoutedL3
		default:
			return ConnInternet
		}
	}
	return ConnInternet
}

// reclassify applies ClassifyConnection to c in place, honoring the sticky
// TLSPeer invariant regardless of what the caller computed.
func reclassify(c *Connection, destVirtual, destLocal bool, ttl uint8) {
	wasTLSPeer := c.IsTLSPeerConnection
	newType := ClassifyConnection(destVirtual, destLocal, ttl, wasTLSPeer)
	if wasTLSPeer {
		c.ConnectionType = ConnTLSPeer
		return
	}
	c.ConnectionType = newType
}

// MarkTLSPeer sets a connection's sticky TLSPeer flag and type (spec §4.3
// step 4: "TCP source/destination port 8443 marks the connection as
// TLSPeer (sticky)").
func (g *Graph) MarkTLSPeer(srcMAC, dstMAC, proto string) *Connection {
	return g.AddConnection(srcMAC, dstMAC, proto, func(c *Connection) {
		c.IsTLSPeerConnection = true
		c.ConnectionType = ConnTLSPeer
	})
}

// UpdateConnectionTypes iterates every edge, reclassifying it against the
// current device set (spec §4.6 update_connection_types). Called after
// the Gateway Detector refreshes device flags. Returns the number of
// edges whose type changed.
func (g *Graph) UpdateConnectionTypes() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := 0
	for _, c := range g.connections {
		dst, ok := g.devices[c.Key.Destination]
		if !ok {
			continue
		}
		before := c.ConnectionType
		reclassify(c, dst.IsVirtual, !dst.IsVirtual && isLocalDevice(dst), averageTTL(c))
		if c.ConnectionType != before {
			changed++
		}
	}
	return changed
}

// MarkGateway sets or clears a device's gateway flags (spec §4.5: "clears
// is_gateway / is_default_gateway / gateway_role on every device before
// each refresh, then sets them on the winner"). IsGateway takes the value
// of isGateway whatever the role; passing isGateway false with RoleNone
// clears the device's gateway status entirely.
func (g *Graph) MarkGateway(mac string, isGateway bool, role GatewayRole) *Device {
	g.mu.Lock()
	existing, ok := g.devices[mac]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	existing.IsGateway = isGateway
	existing.GatewayRole = role
	existing.IsDefaultGateway = isGateway && (role == RoleDefault || role == RoleDefaultInferred)
	snapshot := existing.clone()
	g.mu.Unlock()

	g.publish(events.DeviceUpdated, snapshot)
	return existing
}

// ClearAllGatewayFlags clears gateway flags from every device, the first
// step of the Gateway Detector's refresh cycle (spec §4.5).
func (g *Graph) ClearAllGatewayFlags() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range g.devices {
		d.IsGateway = false
		d.GatewayRole = RoleNone
		d.IsDefaultGateway = false
	}
}

// isLocalDevice reports whether d's IP is in a private range; virtual
// devices are never "local" for classification purposes.
func isLocalDevice(d *Device) bool {
	if d.IsVirtual {
		return false
	}
	return address.IsLocal(d.IP)
}

// averageTTL rounds a connection's running average TTL to the nearest
// whole number for classification, since the classifier operates on a
// single observed TTL per spec §4.3 but the edge stores an aggregate.
func averageTTL(c *Connection) uint8 {
	if c.AvgTTL <= 0 {
		return 0
	}
	return uint8(c.AvgTTL + 0.5)
}
