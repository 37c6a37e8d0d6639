package topology

import "github.com/DangSage/TLScope-sub001/internal/persistence"

func deviceRecord(d *Device) persistence.DeviceRecord {
	ports := make([]uint16, 0, len(d.OpenPorts))
	for p := range d.OpenPorts {
		ports = append(ports, p)
	}
	return persistence.DeviceRecord{
		MAC:              d.MAC,
		IP:               d.IP,
		Hostname:         d.Hostname,
		Vendor:           d.Vendor,
		FriendlyName:     d.FriendlyName,
		FirstSeen:        d.FirstSeen,
		LastSeen:         d.LastSeen,
		PacketCount:      d.PacketCount,
		ByteCount:        d.ByteCount,
		OpenPorts:        ports,
		IsGateway:        d.IsGateway,
		IsDefaultGateway: d.IsDefaultGateway,
		GatewayRole:      string(d.GatewayRole),
		IsTLScopePeer:    d.IsTLScopePeer,
		PeerID:           d.PeerID,
		IsVirtual:        d.IsVirtual,
		IsScanPending:    d.IsScanPending,
	}
}

func connectionRecord(c *Connection) persistence.ConnectionRecord {
	srcPort, dstPort := int32(-1), int32(-1)
	if c.HasSourcePort {
		srcPort = int32(c.SourcePort)
	}
	if c.HasDestPort {
		dstPort = int32(c.DestPort)
	}
	return persistence.ConnectionRecord{
		Source:              c.Key.Source,
		Destination:         c.Key.Destination,
		Protocol:            c.Key.Protocol,
		SourcePort:          srcPort,
		DestPort:            dstPort,
		FirstSeen:           c.FirstSeen,
		LastSeen:            c.LastSeen,
		PacketCount:         c.PacketCount,
		RecentPacketCount:   c.RecentPacketCount,
		ByteCount:           c.ByteCount,
		TCPState:            c.TCPState,
		IsTLSPeerConnection: c.IsTLSPeerConnection,
		MinTTL:              c.MinTTL,
		MaxTTL:              c.MaxTTL,
		AvgTTL:              c.AvgTTL,
		ConnectionType:      string(c.ConnectionType),
	}
}
