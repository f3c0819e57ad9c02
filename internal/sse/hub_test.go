package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesEveryAddressOnce(t *testing.T) {
	hub := NewHub()
	alice, unsubscribeAlice := hub.Subscribe("Alice@Example.com")
	defer unsubscribeAlice()
	bob, unsubscribeBob := hub.Subscribe("bob@example.com")
	defer unsubscribeBob()

	hub.Broadcast([]string{"alice@example.com", " ALICE@example.com", ""}, []byte("hello"))

	require.Len(t, alice, 1)
	assert.Equal(t, []byte("hello"), <-alice)
	assert.Empty(t, bob)
}

func TestBroadcastDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe("a@example.com")
	defer unsubscribe()

	for i := 0; i < cap(ch)+4; i++ {
		hub.Broadcast([]string{"a@example.com"}, []byte("x"))
	}
	assert.Len(t, ch, cap(ch))
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe("a@example.com")
	assert.Equal(t, 1, hub.Subscribers("a@example.com"))

	unsubscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("a@example.com"))
}

func TestEvent(t *testing.T) {
	payload, err := Event("mail", map[string]string{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, "event: mail\ndata: {\"id\":\"1\"}\n\n", string(payload))

	_, err = Event("mail", make(chan int))
	assert.Error(t, err)
}
