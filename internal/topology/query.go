package topology

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// Gateways returns every device currently flagged IsGateway.
func (g *Graph) Gateways() []*Device {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Device
	for _, d := range g.devices {
		if d.IsGateway {
			out = append(out, d.clone())
		}
	}
	return out
}

// DefaultGateway returns the single device flagged IsDefaultGateway, or
// nil if none is set (GLOSSARY: "one and only one may be Default").
func (g *Graph) DefaultGateway() *Device {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, d := range g.devices {
		if d.IsDefaultGateway {
			return d.clone()
		}
	}
	return nil
}

// Partition is the three-tier split the UI renders (spec §4.6 "Topology
// queries").
type Partition struct {
	RemoteAndVirtual []*Device
	Gateways         []*Device
	Local            []*Device
}

// Partition splits every device into remote/virtual, gateway, or local
// buckets.
func (g *Graph) Partition() Partition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var p Partition
	for _, d := range g.devices {
		cp := d.clone()
		switch {
		case d.IsGateway:
			p.Gateways = append(p.Gateways, cp)
		case d.IsVirtual:
			p.RemoteAndVirtual = append(p.RemoteAndVirtual, cp)
		default:
			p.Local = append(p.Local, cp)
		}
	}
	return p
}

// ConnectionsByType returns every edge of the given type.
func (g *Graph) ConnectionsByType(t ConnType) []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Connection
	for _, c := range g.connections {
		if c.ConnectionType == t {
			out = append(out, c.clone())
		}
	}
	return out
}

// DeviceToGatewayEdges returns every edge whose destination is a device
// currently flagged IsGateway.
func (g *Graph) DeviceToGatewayEdges() []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Connection
	for _, c := range g.connections {
		if dst, ok := g.devices[c.Key.Destination]; ok && dst.IsGateway {
			out = append(out, c.clone())
		}
	}
	return out
}

// GatewayToInternetEdges returns every edge whose source is a gateway and
// whose type is Internet.
func (g *Graph) GatewayToInternetEdges() []*Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Connection
	for _, c := range g.connections {
		if c.ConnectionType != ConnInternet {
			continue
		}
		if src, ok := g.devices[c.Key.Source]; ok && src.IsGateway {
			out = append(out, c.clone())
		}
	}
	return out
}

// ProtocolHistogram counts edges by protocol label.
func (g *Graph) ProtocolHistogram() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]int)
	for _, c := range g.connections {
		out[c.Key.Protocol]++
	}
	return out
}

// DestinationPortHistogram counts edges by destination port, for edges
// that have one.
func (g *Graph) DestinationPortHistogram() map[uint16]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[uint16]int)
	for _, c := range g.connections {
		if c.HasDestPort {
			out[c.DestPort]++
		}
	}
	return out
}

// ShortestPath runs unit-weight Dijkstra from src to dst over the current
// edge set, for visualization (spec §4.6 "shortest path"). Returns the
// vertex keys on the path, including src and dst, or nil if unreachable.
func (g *Graph) ShortestPath(src, dst string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.devices[src]; !ok {
		return nil
	}
	if _, ok := g.devices[dst]; !ok {
		return nil
	}

	adj := make(map[string][]string)
	for key := range g.connections {
		adj[key.Source] = append(adj[key.Source], key.Destination)
		adj[key.Destination] = append(adj[key.Destination], key.Source) // undirected for path-finding
	}

	dist := map[string]int{src: 0}
	prev := make(map[string]string)
	visited := make(map[string]bool)

	pq := &vertexHeap{{key: src, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(vertexDist)
		if visited[cur.key] {
			continue
		}
		visited[cur.key] = true
		if cur.key == dst {
			break
		}
		for _, next := range adj[cur.key] {
			nd := cur.dist + 1
			if existing, ok := dist[next]; !ok || nd < existing {
				dist[next] = nd
				prev[next] = cur.key
				heap.Push(pq, vertexDist{key: next, dist: nd})
			}
		}
	}

	if _, ok := dist[dst]; !ok {
		return nil
	}

	var path []string
	for at := dst; ; {
		path = append([]string{at}, path...)
		if at == src {
			break
		}
		p, ok := prev[at]
		if !ok {
			return nil
		}
		at = p
	}
	return path
}

type vertexDist struct {
	key  string
	dist int
}

type vertexHeap []vertexDist

func (h vertexHeap) Len() int            { return len(h) }
func (h vertexHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h vertexHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *vertexHeap) Push(x any)         { *h = append(*h, x.(vertexDist)) }
func (h *vertexHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ExportDOT renders the current graph as Graphviz DOT text (spec §4.6
// export_dot), for external visualization tools.
func (g *Graph) ExportDOT() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var b strings.Builder
	b.WriteString("digraph tlscope {\n")
	keys := make([]string, 0, len(g.devices))
	for k := range g.devices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d := g.devices[k]
		label := d.MAC
		if d.IP != "" {
			label = fmt.Sprintf("%s\\n%s", d.MAC, d.IP)
		}
		shape := "box"
		if d.IsGateway {
			shape = "doubleoctagon"
		} else if d.IsVirtual {
			shape = "ellipse"
		}
		fmt.Fprintf(&b, "  %q [label=%q shape=%s];\n", k, label, shape)
	}
	edgeKeys := make([]ConnKey, 0, len(g.connections))
	for k := range g.connections {
		edgeKeys = append(edgeKeys, k)
	}
	sort.Slice(edgeKeys, func(i, j int) bool { return edgeKeys[i].String() < edgeKeys[j].String() })
	for _, k := range edgeKeys {
		c := g.connections[k]
		fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", k.Source, k.Destination, string(c.ConnectionType))
	}
	b.WriteString("}\n")
	return b.String()
}
