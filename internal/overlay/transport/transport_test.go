package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DangSage/TLScope-sub001/internal/events"
	"github.com/DangSage/TLScope-sub001/internal/identity"
	"github.com/DangSage/TLScope-sub001/internal/topology"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := pingMessage{Type: TypePing}
	require.NoError(t, writeFrame(&buf, in))

	var out envelope
	require.NoError(t, readFrame(&buf, &out))
	require.Equal(t, TypePing, out.Type)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, graphSyncMessage{Type: TypeGraphSync}))

	// Overwrite the length prefix with something past MaxFrameBytes.
	oversized := buf.Bytes()
	oversized[0], oversized[1], oversized[2], oversized[3] = 0xff, 0xff, 0xff, 0x7f

	var out envelope
	require.Error(t, readFrame(bytes.NewReader(oversized), &out))
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	zero := []byte{0, 0, 0, 0}
	var out envelope
	require.Error(t, readFrame(bytes.NewReader(zero), &out))
}

func TestEnvelopeDispatchesByType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, deviceUpdateMessage{Type: TypeDeviceUpdate, Device: []byte(`{"mac":"aa:bb"}`)}))

	var env envelope
	require.NoError(t, readFrame(&buf, &env))
	require.Equal(t, TypeDeviceUpdate, env.Type)

	var m deviceUpdateMessage
	require.NoError(t, json.Unmarshal(env.Raw, &m))
	require.Equal(t, `{"mac":"aa:bb"}`, string(m.Device))
}

func TestConnStateString(t *testing.T) {
	require.Equal(t, "established", StateEstablished.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Contains(t, ConnState(99).String(), "unknown")
}

func TestChallengeEncodeDecodeRoundTrip(t *testing.T) {
	b, err := newChallenge()
	require.NoError(t, err)
	require.Len(t, b, challengeSize)

	decoded, err := decodeChallenge(encodeChallenge(b))
	require.NoError(t, err)
	require.Equal(t, b, decoded)
}

func TestSignAndVerifyChallenge(t *testing.T) {
	k, err := identity.GenerateEphemeralKey()
	require.NoError(t, err)

	challenge, err := newChallenge()
	require.NoError(t, err)

	sig, err := k.Sign(challenge)
	require.NoError(t, err)

	decoded, err := decodeSignature(encodeSignature(sig))
	require.NoError(t, err)
	require.True(t, identity.VerifySignature(k.PublicKey, challenge, decoded))
}

type staticPeerLookup struct {
	peer *identity.Peer
}

func (s staticPeerLookup) Get(username string) *identity.Peer {
	if s.peer != nil && s.peer.Username == username {
		return s.peer
	}
	return nil
}

// TestHandshakeEstablishesVerifiedConnection drives a real client/server
// handshake over loopback TCP (spec §4.8): the client dials, verifies the
// server's self-signed certificate against the expected SSH fingerprint,
// answers the CHALLENGE, and the server marks the resulting peer verified.
// The server side is driven directly through serverHandshake rather than
// ListenAndServe, since ListenAndServe binds the fixed well-known port.
func TestHandshakeEstablishesVerifiedConnection(t *testing.T) {
	serverKey, err := identity.GenerateEphemeralKey()
	require.NoError(t, err)
	clientKey, err := identity.GenerateEphemeralKey()
	require.NoError(t, err)

	clientPeer := &identity.Peer{
		Username:                "client",
		SSHPublicKeyFingerprint: identity.Fingerprint(clientKey.PublicKey),
	}
	serverPeer := &identity.Peer{
		Username:                "server",
		SSHPublicKeyFingerprint: identity.Fingerprint(serverKey.PublicKey),
	}

	cert, err := identity.SelfSignedCertificate(serverKey, "server")
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	serverPeer.IP = "127.0.0.1"
	serverPeer.TLSPort = addr.Port

	serverGraph := topology.NewGraph()
	serverMgr := NewManager("server", serverKey, staticPeerLookup{peer: clientPeer}, serverGraph, events.NewBus(), slog.Default())

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		tlsConn, ok := conn.(*tls.Conn)
		if !ok {
			return
		}
		serverMgr.serverHandshake(tlsConn)
	}()

	clientGraph := topology.NewGraph()
	clientMgr := NewManager("client", clientKey, staticPeerLookup{peer: serverPeer}, clientGraph, events.NewBus(), slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := clientMgr.Dial(ctx, serverPeer)
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.Equal(t, "server", conn.Username())

	require.Eventually(t, func() bool {
		return clientPeer.IsVerified
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	<-accepted
}
