// Package discovery is Overlay Discovery (spec §4.7): a UDP broadcast
// announce/listen loop that seeds the peer table. Grounded on
// doublezero's internal/liveness broadcast-socket shape (udp.go's
// golang.org/x/net/ipv4 control-message wrapper), generalized from
// BFD-style liveness packets to a JSON DISCOVERY announcement.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"

	"github.com/DangSage/TLScope-sub001/internal/events"
	"github.com/DangSage/TLScope-sub001/internal/identity"
)

// Port is the well-known UDP discovery port (spec §4.7, §6).
const Port = 8442

// AnnounceInterval is how often the sender broadcasts (spec §4.7 "every
// 30s").
const AnnounceInterval = 30 * time.Second

// message is the wire payload for UDP Discovery (spec §4.7, §6). Field
// names are lowercase to match the spec's JSON vocabulary exactly, since
// other TLScope implementations on the wire expect these exact keys.
type message struct {
	Type                    string `json:"type"`
	Username                string `json:"username"`
	SSHPublicKey            string `json:"ssh_public_key"`
	AvatarType              string `json:"avatar_type"`
	AvatarColor             string `json:"avatar_color"`
	CombinedRandomartAvatar string `json:"combined_randomart_avatar"`
	Port                    int    `json:"port"`
	Version                 string `json:"version"`
}

// Self describes the local identity announced on the wire.
type Self struct {
	Username    string
	Key         *identity.KeyPair
	AvatarType  string
	AvatarColor string
	Randomart   string
	TLSPort     int
	Version     string
}

func (s Self) toMessage() message {
	return message{
		Type:                    "DISCOVERY",
		Username:                s.Username,
		SSHPublicKey:            string(ssh.MarshalAuthorizedKey(s.Key.PublicKey)),
		AvatarType:              s.AvatarType,
		AvatarColor:             s.AvatarColor,
		CombinedRandomartAvatar: s.Randomart,
		Port:                    s.TLSPort,
		Version:                 s.Version,
	}
}

// Table is the discovered-peer set (spec §4.7 receiver semantics). It is
// the authoritative lookup Overlay Transport consults for "look up the
// peer by username" (spec §4.8 server step 4).
type Table struct {
	mu    sync.RWMutex
	peers map[string]*identity.Peer
	bus   *events.Bus
	clock func() time.Time
}

// NewTable returns an empty peer table publishing to bus.
func NewTable(bus *events.Bus) *Table {
	return &Table{
		peers: make(map[string]*identity.Peer),
		bus:   bus,
		clock: time.Now,
	}
}

// Get returns the peer registered under username, or nil.
func (t *Table) Get(username string) *identity.Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peers[username]
}

// observe records or refreshes a peer entry from a received announcement
// (spec §4.7 receiver: "For new usernames ... emit peer_discovered. For
// known usernames, refresh last_connected").
func (t *Table) observe(m message, remoteIP string) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(m.SSHPublicKey))
	if err != nil {
		return
	}

	t.mu.Lock()
	now := t.clock()
	existing, known := t.peers[m.Username]
	if known {
		existing.LastConnected = now
		existing.IP = remoteIP
		t.mu.Unlock()
		return
	}
	peer := &identity.Peer{
		Username:                m.Username,
		IP:                      remoteIP,
		TLSPort:                 m.Port,
		SSHPublicKey:            pub,
		SSHPublicKeyFingerprint: identity.Fingerprint(pub),
		AvatarType:              m.AvatarType,
		AvatarColor:             m.AvatarColor,
		CombinedRandomart:       m.CombinedRandomartAvatar,
		Version:                 m.Version,
		FirstSeen:               now,
		LastConnected:           now,
	}
	t.peers[m.Username] = peer
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(events.Event{Kind: events.PeerDiscovered, Payload: peer})
	}
}

// Service runs the announce-broadcast and receive loops (spec §4.7).
type Service struct {
	self  Self
	table *Table
	log   *slog.Logger

	conn *net.UDPConn
}

// New constructs a Service bound to 0.0.0.0:8442 with broadcast enabled.
func New(self Self, table *Table, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: bind 0.0.0.0:%d: %w", Port, err)
	}
	if err := enableBroadcast(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("discovery: enable broadcast: %w", err)
	}
	return &Service{self: self, table: table, log: log, conn: conn}, nil
}

// enableBroadcast sets SO_BROADCAST on conn's underlying file descriptor;
// without it the kernel refuses sends to 255.255.255.255 with EACCES.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Close releases the discovery socket.
func (s *Service) Close() error { return s.conn.Close() }

// Run starts the announce and receive loops and blocks until ctx is
// canceled (spec §5 "parallel threads for ... UDP listener").
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.announceLoop(ctx) }()
	go func() { defer wg.Done(); s.receiveLoop(ctx) }()
	<-ctx.Done()
	_ = s.conn.Close()
	wg.Wait()
}

func (s *Service) announceLoop(ctx context.Context) {
	s.broadcast()
	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Service) broadcast() {
	s.sendTo(&net.UDPAddr{IP: net.IPv4bcast, Port: Port})
}

// Probe sends a directed unicast discovery announcement to host (spec
// §4.7 "Directed probing to a specific host ... for targeted
// re-discovery").
func (s *Service) Probe(host string) {
	s.sendTo(&net.UDPAddr{IP: net.ParseIP(host), Port: Port})
}

func (s *Service) sendTo(addr *net.UDPAddr) {
	payload, err := json.Marshal(s.self.toMessage())
	if err != nil {
		s.log.Debug("discovery: marshal announcement failed", "err", err)
		return
	}
	if _, err := s.conn.WriteToUDP(payload, addr); err != nil {
		s.log.Debug("discovery: send failed", "addr", addr, "err", err)
	}
}

func (s *Service) receiveLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("discovery: read failed", "err", err)
			continue
		}
		s.handle(buf[:n], remote)
	}
}

func (s *Service) handle(payload []byte, remote *net.UDPAddr) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		s.log.Debug("discovery: malformed payload", "err", err)
		return
	}
	if m.Type != "DISCOVERY" {
		s.log.Debug("discovery: unknown message type", "type", m.Type)
		return
	}
	if m.Username == s.self.Username {
		return
	}
	s.table.observe(m, remote.IP.String())
}
