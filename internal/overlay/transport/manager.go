package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/DangSage/TLScope-sub001/internal/events"
	"github.com/DangSage/TLScope-sub001/internal/identity"
	"github.com/DangSage/TLScope-sub001/internal/topology"
)

// TLSPort is the well-known TLS transport port (spec §4.8, §6).
const TLSPort = 8443

// PeerLookup resolves a username to the peer record the handshake
// verifies against (spec §4.8 server step 4: "Look up the peer by
// username in the discovery table"). Satisfied by discovery.Table.
type PeerLookup interface {
	Get(username string) *identity.Peer
}

// Manager owns active_connections (spec §5 "accessed only from accept and
// connect paths; it is protected") and runs the TLS accept loop.
type Manager struct {
	self     string
	key      *identity.KeyPair
	peers    PeerLookup
	graph    *topology.Graph
	bus      *events.Bus
	log      *slog.Logger
	listener net.Listener

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewManager constructs a Manager. The server's self-signed certificate is
// derived from key when ListenAndServe starts (spec §4.8 "Certificates").
func NewManager(username string, key *identity.KeyPair, peers PeerLookup, graph *topology.Graph, bus *events.Bus, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{self: username, key: key, peers: peers, graph: graph, bus: bus, log: log, conns: make(map[string]*Connection)}
}

// ActiveConnection returns the live connection for username, or nil.
func (m *Manager) ActiveConnection(username string) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[username]
}

func (m *Manager) store(c *Connection) {
	m.mu.Lock()
	m.conns[c.username] = c
	m.mu.Unlock()
}

func (m *Manager) remove(username string) {
	m.mu.Lock()
	delete(m.conns, username)
	m.mu.Unlock()
}

// ListenAndServe binds 0.0.0.0:8443, accepting TLS connections until ctx
// is canceled (spec §4.8 "TLS server").
func (m *Manager) ListenAndServe(ctx context.Context) error {
	cert, err := identity.SelfSignedCertificate(m.key, m.self)
	if err != nil {
		return fmt.Errorf("transport: build server certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", TLSPort), tlsCfg)
	if err != nil {
		return fmt.Errorf("transport: listen :%d: %w", TLSPort, err)
	}
	m.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Debug("transport: accept failed", "err", err)
			continue
		}
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			_ = conn.Close()
			continue
		}
		go m.serverHandshake(tlsConn)
	}
}

// serverHandshake implements spec §4.8's TLS-server handshake steps 2-6.
func (m *Manager) serverHandshake(conn *tls.Conn) {
	if err := conn.Handshake(); err != nil {
		m.log.Debug("transport: TLS handshake failed", "err", err)
		_ = conn.Close()
		return
	}

	challenge, err := newChallenge()
	if err != nil {
		_ = conn.Close()
		return
	}
	if err := writeFrame(conn, challengeMessage{Type: TypeChallenge, Challenge: encodeChallenge(challenge)}); err != nil {
		_ = conn.Close()
		return
	}

	var ident peerIdentificationMessage
	if err := readFrame(conn, &ident); err != nil {
		m.log.Debug("transport: read PEER_IDENTIFICATION failed", "err", err)
		_ = conn.Close()
		return
	}

	peer := m.peers.Get(ident.Username)
	if peer == nil {
		m.log.Debug("transport: unknown peer username, closing", "username", ident.Username)
		_ = conn.Close()
		return
	}

	verified := m.verifyIdentification(ident, challenge, peer)
	peer.IsVerified = verified
	if !verified {
		m.log.Debug("transport: signature verification failed, proceeding unverified", "username", ident.Username)
	}

	c := newConnection(conn, ident.Username, Handlers{Graph: m.graph}, m.log)
	m.store(c)
	peer.IsConnected = true
	if m.bus != nil {
		m.bus.Publish(events.Event{Kind: events.PeerConnected, Payload: peer})
	}

	err = c.Run(m.bus)
	m.log.Debug("transport: connection closed", "username", ident.Username, "err", err)
	m.remove(ident.Username)
	peer.IsConnected = false
}

func (m *Manager) verifyIdentification(ident peerIdentificationMessage, challenge []byte, peer *identity.Peer) bool {
	presented, _, _, _, err := ssh.ParseAuthorizedKey([]byte(ident.SSHPublicKey))
	if err != nil {
		return false
	}
	if identity.Fingerprint(presented) != peer.SSHPublicKeyFingerprint {
		return false // asserted key doesn't match the key discovery recorded for this username
	}
	sig, err := decodeSignature(ident.Signature)
	if err != nil {
		return false
	}
	return identity.VerifySignature(presented, challenge, sig)
}

// Dial implements spec §4.8's TLS-client handshake against peer (steps
// 1-5). The server certificate is always checked against
// peer.SSHPublicKeyFingerprint; if that fingerprint is empty the check
// fails and Dial returns an error.
func (m *Manager) Dial(ctx context.Context, peer *identity.Peer) (*Connection, error) {
	addr := fmt.Sprintf("%s:%d", peer.IP, peer.TLSPort)
	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: true, // custom verification below replaces the default chain check
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("transport: server presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("transport: parse server certificate: %w", err)
			}
			return identity.VerifyCertificateMatchesSSHKey(cert, peer.SSHPublicKeyFingerprint)
		},
	}
	conn := tls.Client(rawConn, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: TLS handshake with %s: %w", peer.Username, err)
	}

	var challenge challengeMessage
	if err := readFrame(conn, &challenge); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: read challenge: %w", err)
	}
	raw, err := decodeChallenge(challenge.Challenge)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if m.key == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: no SSH private key configured")
	}
	sig, err := signatureFor(m.key, raw)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	ident := peerIdentificationMessage{
		Type:         TypePeerIdentification,
		Username:     m.self,
		SSHPublicKey: string(ssh.MarshalAuthorizedKey(m.key.PublicKey)),
		Signature:    sig,
	}
	if err := writeFrame(conn, ident); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: send identification: %w", err)
	}

	c := newConnection(conn, peer.Username, Handlers{Graph: m.graph}, m.log)
	m.store(c)
	go func() {
		err := c.Run(m.bus)
		m.log.Debug("transport: connection closed", "username", peer.Username, "err", err)
		m.remove(peer.Username)
	}()
	return c, nil
}

// Stop closes the accept listener and every active connection (spec §5
// "stop on overlay cancels ... closes listener and all active TLS
// streams").
func (m *Manager) Stop() {
	if m.listener != nil {
		_ = m.listener.Close()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for username, c := range m.conns {
		_ = c.Close()
		delete(m.conns, username)
	}
}
