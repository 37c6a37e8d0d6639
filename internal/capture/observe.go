package capture

import (
	"time"

	"github.com/DangSage/TLScope-sub001/internal/address"
	"github.com/DangSage/TLScope-sub001/internal/topology"
)

// observeDevice implements spec §4.3's observe_device: reject utility
// addresses and duplicate-IP claims per policy, update an existing device
// in place or create a new one, and spawn a PTR lookup on first sight.
// Returns nil when the observation was rejected.
func (e *Engine) observeDevice(mac, ip string, byteCount uint64, at time.Time) *topology.Device {
	mac = address.CanonicalMAC(mac)

	if address.IsUtilityMAC(mac) {
		return nil
	}
	if e.policy.RejectUtility(ip) {
		return nil
	}

	existingByIP := e.graph.DeviceByIP(ip)
	if existingByIP != nil && !existingByIP.IsScanPending {
		if e.policy.RejectDuplicateIP(existingByIP.MAC, mac) {
			return nil
		}
	}

	isNew := e.graph.DeviceByMAC(mac) == nil

	patch := &topology.Device{
		MAC:         mac,
		IP:          ip,
		LastSeen:    at,
		PacketCount: 1,
		ByteCount:   byteCount,
	}

	var d *topology.Device
	if isNew {
		if upgraded := e.graph.UpgradeScanPending(ip, mac, vendorForMAC(mac)); upgraded != nil {
			d = upgraded
		} else {
			patch.FirstSeen = at
			patch.Vendor = vendorForMAC(mac)
			d = e.graph.AddDevice(patch)
			e.ptr.lookup(ip, func(hostname string) {
				e.graph.UpdateDevice(mac, &topology.Device{Hostname: hostname})
			})
		}
	} else {
		d = e.graph.UpdateDevice(mac, patch)
	}
	return d
}

// observeVirtualDevice implements spec §4.3's fallback for a filtered MAC
// whose IP is otherwise legal: a synthetic vertex representing a remote
// host reached through a gateway (GLOSSARY "Virtual device").
func (e *Engine) observeVirtualDevice(ip string, byteCount uint64, at time.Time) *topology.Device {
	key := topology.VirtualKey(ip)
	patch := &topology.Device{
		MAC:         key,
		IP:          ip,
		FirstSeen:   at,
		LastSeen:    at,
		PacketCount: 1,
		ByteCount:   byteCount,
		IsVirtual:   true,
	}
	if e.graph.DeviceByMAC(key) != nil {
		return e.graph.UpdateDevice(key, patch)
	}
	return e.graph.AddDevice(patch)
}

// observeConnection implements spec §4.3's observe_connection: classify
// the flow, then merge-or-insert it into the graph.
func (e *Engine) observeConnection(srcMAC, dstMAC, proto string, sport, dport uint16, hasSport, hasDport bool, payloadLen int, ttl uint8, at time.Time) *topology.Connection {
	dst := e.graph.DeviceByMAC(dstMAC)
	if dst == nil {
		return nil
	}

	isTLSPeer := (hasSport && sport == 8443) || (hasDport && dport == 8443)
	destLocal := !dst.IsVirtual && address.IsLocal(dst.IP)

	if hasDport {
		e.graph.UpdateDevice(dstMAC, &topology.Device{OpenPorts: map[uint16]struct{}{dport: {}}})
	}

	return e.graph.AddConnection(srcMAC, dstMAC, proto, func(c *topology.Connection) {
		if hasSport {
			c.SourcePort, c.HasSourcePort = sport, true
		}
		if hasDport {
			c.DestPort, c.HasDestPort = dport, true
		}
		c.LastSeen = at
		c.PacketCount++
		c.RecentPacketCount++
		c.ByteCount += uint64(payloadLen)
		c.ObserveTTL(ttl)

		if isTLSPeer {
			c.IsTLSPeerConnection = true
		}
		c.ConnectionType = topology.ClassifyConnection(dst.IsVirtual, destLocal, ttl, c.IsTLSPeerConnection)
	})
}

// applyFilters implements spec §4.3 step 3's ordered filter chain: non-local
// first, then HTTP ports. A rejected packet increments the matching
// counter and observes nothing.
func (e *Engine) applyFilters(srcIP, dstIP string, sport, dport uint16) bool {
	if e.policy.RejectNonLocal(srcIP) || e.policy.RejectNonLocal(dstIP) {
		return false
	}
	if e.policy.RejectHTTP(sport, dport) {
		return false
	}
	return true
}
