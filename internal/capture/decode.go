package capture

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/DangSage/TLScope-sub001/internal/address"
)

// discoveryPort is the UDP destination port TLScope's overlay discovery
// uses; packets to it are recognized and left for the overlay component
// rather than observed as ordinary traffic (spec §4.3 step 3).
const discoveryPort = 8442

// tlsPeerPort marks a TCP connection as TLSPeer when it appears as either
// endpoint's port (spec §4.3 step 4).
const tlsPeerPort = 8443

// handleARP implements spec §4.3 step 2: observe the sender as a device
// and feed the Gateway Detector's ARP-diversity table.
func (e *Engine) handleARP(arp *layers.ARP, at time.Time) {
	senderMAC := formatHardwareAddr(arp.SourceHwAddress)
	senderIP := formatProtAddr(arp.SourceProtAddress)
	targetIP := formatProtAddr(arp.DstProtAddress)

	if senderMAC == "" || senderIP == "" {
		return
	}
	e.observeDevice(senderMAC, senderIP, 0, at)

	if targetIP != "" {
		e.arp.ObserveARP(address.CanonicalMAC(senderMAC), targetIP)
	}
}

// handleIPv4 implements spec §4.3 step 3: apply filters, observe both
// endpoints (falling back to virtual devices), dispatch DHCP snooping on
// UDP 67/68, and observe the connection when both endpoints resolved.
func (e *Engine) handleIPv4(packet gopacket.Packet, eth *layers.Ethernet, ip *layers.IPv4, at time.Time) {
	srcIP, dstIP := ip.SrcIP.String(), ip.DstIP.String()
	payloadLen := len(ip.Payload)
	ttl := ip.TTL

	var (
		sport, dport      uint16
		hasSport, hasDport bool
		proto             string
	)

	if tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		sport, dport, hasSport, hasDport = uint16(tcp.SrcPort), uint16(tcp.DstPort), true, true
		proto = "TCP"
	} else if udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		sport, dport, hasSport, hasDport = uint16(udp.SrcPort), uint16(udp.DstPort), true, true
		proto = "UDP"

		if dport == 67 || dport == 68 || sport == 67 || sport == 68 {
			e.handleDHCP(udp.Payload, at)
		}
		if dport == discoveryPort {
			return // overlay discovery owns this traffic, not ingest.
		}
	} else {
		proto = "other"
	}

	if !e.applyFilters(srcIP, dstIP, sport, dport) {
		return
	}

	srcMAC := formatHardwareAddrMAC(eth.SrcMAC)
	dstMAC := formatHardwareAddrMAC(eth.DstMAC)

	srcDev := e.observeDevice(srcMAC, srcIP, uint64(payloadLen), at)
	if srcDev == nil && !e.policy.IsUtility(srcIP) {
		srcDev = e.observeVirtualDevice(srcIP, uint64(payloadLen), at)
	}
	dstDev := e.observeDevice(dstMAC, dstIP, uint64(payloadLen), at)
	if dstDev == nil && !e.policy.IsUtility(dstIP) {
		dstDev = e.observeVirtualDevice(dstIP, uint64(payloadLen), at)
	}

	if srcDev == nil || dstDev == nil {
		return
	}

	e.observeConnection(srcDev.MAC, dstDev.MAC, proto, sport, dport, hasSport, hasDport, payloadLen, ttl, at)

	if (hasSport && sport == tlsPeerPort) || (hasDport && dport == tlsPeerPort) {
		e.graph.MarkTLSPeer(srcDev.MAC, dstDev.MAC, proto)
	}
}

func (e *Engine) handleDHCP(payload []byte, at time.Time) {
	offer, ok := parseDHCP(payload)
	if !ok {
		return
	}
	e.observeDevice(offer.MAC, offer.IP, 0, at)
}

func formatHardwareAddr(b []byte) string {
	if len(b) != 6 {
		return ""
	}
	return net.HardwareAddr(b).String()
}

func formatHardwareAddrMAC(mac []byte) string {
	return formatHardwareAddr(mac)
}

func formatProtAddr(b []byte) string {
	if len(b) != 4 {
		return ""
	}
	return net.IP(b).String()
}
