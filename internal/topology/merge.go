package topology

// MergeGraph bulk-imports a peer's devices and connections (spec §4.6
// merge_graph): add-or-update each device, then add each connection.
// Idempotent — calling it twice with the same input leaves the vertex and
// edge sets unchanged (spec §8). New device data never overwrites a
// fresher LastSeen already recorded locally.
func (g *Graph) MergeGraph(devices []*Device, connections []*Connection) {
	for _, incoming := range devices {
		g.mergeDevice(incoming)
	}
	for _, incoming := range connections {
		g.mergeConnection(incoming)
	}
}

func (g *Graph) mergeDevice(incoming *Device) {
	g.mu.RLock()
	existing, ok := g.devices[incoming.MAC]
	g.mu.RUnlock()

	if !ok {
		cp := incoming.clone()
		g.AddDevice(cp)
		return
	}

	if !incoming.LastSeen.After(existing.LastSeen) {
		// Incoming data is not fresher; leave the local device untouched,
		// so LastSeen never rolls backwards (spec §4.6 "New device data
		// never overwrites a fresher last_seen").
		return
	}
	g.UpdateDevice(incoming.MAC, incoming)
}

func (g *Graph) mergeConnection(incoming *Connection) {
	g.AddConnection(incoming.Key.Source, incoming.Key.Destination, incoming.Key.Protocol, func(c *Connection) {
		if incoming.LastSeen.After(c.LastSeen) {
			c.LastSeen = incoming.LastSeen
		}
		c.PacketCount += incoming.PacketCount
		c.ByteCount += incoming.ByteCount
		if incoming.IsTLSPeerConnection {
			c.IsTLSPeerConnection = true
			c.ConnectionType = ConnTLSPeer
		}
	})
}
