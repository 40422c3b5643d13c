package hub

import (
	"encoding/json"
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

func subscribe(t *testing.T, r *Registry, id string, topic Topic) {
	t.Helper()
	_, err := r.Subscribe(id, topic)
	require.NoError(t, err)
}

func TestBroadcaster_EndToEndJournalScenario(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)
	topic := JournalTopic("42")

	a, peerA := newAuthenticated(t, r, "1")
	subscribe(t, r, a, topic)
	bID, peerB := newAuthenticated(t, r, "2")
	subscribe(t, r, bID, topic)

	msg := testEvent{Type: "new_message", Content: "hi"}
	assert.Equal(t, 2, b.BroadcastToTopic(topic, msg))
	assert.Equal(t, []string{"new_message"}, peerA.types(t))
	assert.Equal(t, []string{"new_message"}, peerB.types(t))

	r.Remove(a)
	assert.Equal(t, 1, b.BroadcastToTopic(topic, msg))
	assert.Len(t, peerA.frames(), 1)
	assert.Len(t, peerB.frames(), 2)
}

func TestBroadcaster_Isolation(t *testing.T) {
	tests := []struct {
		name        string
		failure     error
		wantEvicted bool
	}{
		{name: "closed socket", failure: ErrPeerClosed},
		{name: "full buffer", failure: ErrSendBufferFull, wantEvicted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := metrics.NewRegistry()
			r := NewRegistry(nil)
			b := NewBroadcaster(r, nil, reg)
			topic := JournalTopic("1")

			var healthy []*mockPeer
			for i := 0; i < 4; i++ {
				id, peer := newAuthenticated(t, r, "u")
				subscribe(t, r, id, topic)
				healthy = append(healthy, peer)
			}
			broken := &mockPeer{sendErr: tt.failure}
			brokenID := r.Register(broken)
			require.NoError(t, r.BindIdentity(brokenID, "v", ""))
			subscribe(t, r, brokenID, topic)

			assert.Equal(t, 4, b.BroadcastToTopic(topic, testEvent{Type: "new_message"}))
			for _, p := range healthy {
				assert.Len(t, p.frames(), 1)
			}
			assert.EqualValues(t, 1, metrics.GetOrRegisterCounter("broadcast.failed", reg).Count())
			assert.EqualValues(t, 4, metrics.GetOrRegisterCounter("broadcast.delivered", reg).Count())

			_, err := r.Lookup(brokenID)
			if tt.wantEvicted {
				assert.ErrorIs(t, err, ErrNotFound)
				assert.True(t, broken.closed)
				assert.EqualValues(t, 1, metrics.GetOrRegisterCounter("broadcast.evicted", reg).Count())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBroadcaster_PanickingPeerDoesNotAbortFanOut(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)
	topic := JournalTopic("1")

	id := r.Register(panicPeer{})
	require.NoError(t, r.BindIdentity(id, "x", ""))
	subscribe(t, r, id, topic)
	okID, ok := newAuthenticated(t, r, "y")
	subscribe(t, r, okID, topic)

	assert.Equal(t, 1, b.BroadcastToTopic(topic, testEvent{Type: "new_message"}))
	assert.Len(t, ok.frames(), 1)
}

func TestBroadcaster_Excluding(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)
	topic := JournalTopic("7")

	a, peerA := newAuthenticated(t, r, "1")
	subscribe(t, r, a, topic)
	bID, peerB := newAuthenticated(t, r, "2")
	subscribe(t, r, bID, topic)

	assert.Equal(t, 1, b.BroadcastExcluding(topic, testEvent{Type: "user_typing"}, a))
	assert.Empty(t, peerA.frames())
	assert.Equal(t, []string{"user_typing"}, peerB.types(t))
}

func TestBroadcaster_ToUserMultiDevice(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)

	_, phone := newAuthenticated(t, r, "u1")
	_, tablet := newAuthenticated(t, r, "u1")
	_, other := newAuthenticated(t, r, "u2")

	assert.Equal(t, 2, b.BroadcastToUser("u1", testEvent{Type: "notification"}))
	assert.Len(t, phone.frames(), 1)
	assert.Len(t, tablet.frames(), 1)
	assert.Empty(t, other.frames())
}

func TestBroadcaster_EmptyTopicIsNoop(t *testing.T) {
	b := NewBroadcaster(NewRegistry(nil), nil, nil)
	assert.Zero(t, b.BroadcastToTopic(JournalTopic("nobody"), testEvent{Type: "new_message"}))
	assert.Zero(t, b.BroadcastToUser("nobody", testEvent{Type: "notification"}))
}

func TestBroadcaster_OrderPreserved(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)
	topic := JournalTopic("1")
	id, peer := newAuthenticated(t, r, "u")
	subscribe(t, r, id, topic)

	for _, content := range []string{"a", "b", "c"} {
		b.BroadcastToTopic(topic, testEvent{Type: "new_message", Content: content})
	}

	var got []string
	for _, f := range peer.frames() {
		var ev testEvent
		require.NoError(t, json.Unmarshal(f, &ev))
		got = append(got, ev.Content)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestBroadcaster_SendTo(t *testing.T) {
	r := NewRegistry(nil)
	b := NewBroadcaster(r, nil, nil)
	peer := &mockPeer{}
	id := r.Register(peer)

	require.NoError(t, b.SendTo(id, testEvent{Type: "pong"}))
	assert.Equal(t, []string{"pong"}, peer.types(t))
	assert.ErrorIs(t, b.SendTo("missing", testEvent{Type: "pong"}), ErrNotFound)
}

type panicPeer struct{}

func (panicPeer) Send([]byte) error { panic("send on closed channel") }
func (panicPeer) Close() error      { return nil }
