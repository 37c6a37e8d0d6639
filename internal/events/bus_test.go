package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(Event{Kind: DeviceDiscovered, Payload: "aa:bb:cc:dd:ee:01"})

	select {
	case ev := <-sub.C():
		require.Equal(t, DeviceDiscovered, ev.Kind)
		require.Equal(t, "aa:bb:cc:dd:ee:01", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.Len())

	b.Publish(Event{Kind: PeerConnected})
	_, ok := <-sub.C()
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(Event{Kind: ConnectionDetected})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestMultipleSubscribersEachGetEvent(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)

	b.Publish(Event{Kind: GatewayChanged})

	for _, sub := range []*Subscription{s1, s2} {
		select {
		case ev := <-sub.C():
			require.Equal(t, GatewayChanged, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}
