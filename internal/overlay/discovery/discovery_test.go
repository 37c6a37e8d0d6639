package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DangSage/TLScope-sub001/internal/events"
	"github.com/DangSage/TLScope-sub001/internal/identity"
)

func testPeerMessage(t *testing.T, username string) message {
	t.Helper()
	k, err := identity.GenerateEphemeralKey()
	require.NoError(t, err)
	self := Self{Username: username, Key: k, TLSPort: 8443, Version: "test"}
	return self.toMessage()
}

func TestObserveNewUsernameEmitsPeerDiscovered(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	table := NewTable(bus)
	m := testPeerMessage(t, "alice")

	table.observe(m, "192.168.1.50")

	peer := table.Get("alice")
	require.NotNil(t, peer)
	require.Equal(t, "192.168.1.50", peer.IP)
	require.False(t, peer.FirstSeen.IsZero())

	ev := <-sub.C()
	require.Equal(t, events.PeerDiscovered, ev.Kind)
}

func TestObserveKnownUsernameRefreshesLastConnectedWithoutNewEvent(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	table := NewTable(bus)
	m := testPeerMessage(t, "bob")
	table.observe(m, "192.168.1.50")
	<-sub.C() // drain the discovery event

	later := table.Get("bob").LastConnected.Add(time.Minute)
	table.clock = func() time.Time { return later }
	table.observe(m, "192.168.1.51")

	select {
	case <-sub.C():
		t.Fatal("expected no event for a re-announcement from a known peer")
	default:
	}
	require.Equal(t, "192.168.1.51", table.Get("bob").IP)
	require.Equal(t, later, table.Get("bob").LastConnected)
}

func TestObserveRejectsUnparseablePublicKey(t *testing.T) {
	table := NewTable(nil)
	table.observe(message{Type: "DISCOVERY", Username: "eve", SSHPublicKey: "not-a-key"}, "192.168.1.1")
	require.Nil(t, table.Get("eve"))
}
