package transport

import (
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"github.com/DangSage/TLScope-sub001/internal/events"
	"github.com/DangSage/TLScope-sub001/internal/identity"
	"github.com/DangSage/TLScope-sub001/internal/topology"
)

// Handlers are the callbacks a Connection's message loop invokes for the
// GRAPH_SYNC / DEVICE_UPDATE vocabulary (spec §4.8, §4.6
// "merge_graph ... bulk import from a peer").
type Handlers struct {
	Graph *topology.Graph
}

// Connection is one TLS stream bound to a named peer (spec §4.8
// "Store the TLS stream in active_connections[username]").
type Connection struct {
	conn     *tls.Conn
	username string
	log      *slog.Logger
	handlers Handlers

	mu    sync.Mutex
	state ConnState
}

func newConnection(conn *tls.Conn, username string, handlers Handlers, log *slog.Logger) *Connection {
	return &Connection{conn: conn, username: username, handlers: handlers, log: log, state: StateEstablished}
}

// Username identifies this connection's remote peer.
func (c *Connection) Username() string { return c.username }

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close closes the underlying TLS stream.
func (c *Connection) Close() error {
	c.setState(StateClosed)
	return c.conn.Close()
}

// SendPing writes a PING frame (spec §4.8 "PING -> responder replies
// PONG").
func (c *Connection) SendPing() error {
	return writeFrame(c.conn, pingMessage{Type: TypePing})
}

// SendGraphSync writes a GRAPH_SYNC frame carrying the caller's current
// device/connection snapshots, for bulk peer-to-peer synchronization
// (spec §4.6 merge_graph).
func (c *Connection) SendGraphSync(devices, connections []json.RawMessage) error {
	return writeFrame(c.conn, graphSyncMessage{Type: TypeGraphSync, Devices: devices, Connections: connections})
}

// SendDeviceUpdate writes a single DEVICE_UPDATE frame.
func (c *Connection) SendDeviceUpdate(device json.RawMessage) error {
	return writeFrame(c.conn, deviceUpdateMessage{Type: TypeDeviceUpdate, Device: device})
}

// Run loops reading frames until the stream errs or EOFs, dispatching
// by message type (spec §4.8 "loop on handle_messages"). The returned
// error is the terminal read error (io.EOF on clean close). Run publishes
// peer_disconnected on bus before returning; the caller is responsible for
// removing the connection from active_connections.
func (c *Connection) Run(bus *events.Bus) error {
	c.setState(StateStreaming)
	for {
		var env envelope
		if err := readFrame(c.conn, &env); err != nil {
			c.setState(StateClosed)
			if bus != nil {
				bus.Publish(events.Event{Kind: events.PeerDisconnected, Payload: c.username})
			}
			return err
		}
		c.dispatch(env)
	}
}

func (c *Connection) dispatch(env envelope) {
	switch env.Type {
	case TypePing:
		if err := writeFrame(c.conn, pingMessage{Type: TypePong}); err != nil {
			c.log.Debug("transport: pong write failed", "peer", c.username, "err", err)
		}
	case TypePong:
		// no-op: liveness is inferred from any successful frame read.
	case TypeGraphSync:
		var m graphSyncMessage
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			c.log.Debug("transport: malformed GRAPH_SYNC", "peer", c.username, "err", err)
			return
		}
		c.applyGraphSync(m)
	case TypeDeviceUpdate:
		var m deviceUpdateMessage
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			c.log.Debug("transport: malformed DEVICE_UPDATE", "peer", c.username, "err", err)
			return
		}
		c.applyDeviceUpdate(m)
	default:
		c.log.Debug("transport: unknown message type", "peer", c.username, "type", env.Type)
	}
}

func (c *Connection) applyGraphSync(m graphSyncMessage) {
	if c.handlers.Graph == nil {
		return
	}
	devices := make([]*topology.Device, 0, len(m.Devices))
	for _, raw := range m.Devices {
		var d topology.Device
		if err := json.Unmarshal(raw, &d); err == nil {
			devices = append(devices, &d)
		}
	}
	connections := make([]*topology.Connection, 0, len(m.Connections))
	for _, raw := range m.Connections {
		var conn topology.Connection
		if err := json.Unmarshal(raw, &conn); err == nil {
			connections = append(connections, &conn)
		}
	}
	c.handlers.Graph.MergeGraph(devices, connections)
}

func (c *Connection) applyDeviceUpdate(m deviceUpdateMessage) {
	if c.handlers.Graph == nil {
		return
	}
	var d topology.Device
	if err := json.Unmarshal(m.Device, &d); err != nil {
		c.log.Debug("transport: malformed device in DEVICE_UPDATE", "err", err)
		return
	}
	c.handlers.Graph.MergeGraph([]*topology.Device{&d}, nil)
}

// remoteAddr returns the connection's remote network address. Nothing in
// the package calls it.
func (c *Connection) remoteAddr() net.Addr { return c.conn.RemoteAddr() }

// signatureFor signs challenge with k and base64-encodes it for the
// PEER_IDENTIFICATION message (spec §4.8 client step 3).
func signatureFor(k *identity.KeyPair, challenge []byte) (string, error) {
	sig, err := k.Sign(challenge)
	if err != nil {
		return "", err
	}
	return encodeSignature(sig), nil
}
