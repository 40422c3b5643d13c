package publish

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/journal-realtime/internal/directory"
	"github.com/Tyrowin/journal-realtime/internal/hub"
	"github.com/Tyrowin/journal-realtime/internal/notify"
)

type peer struct {
	mu     sync.Mutex
	events []map[string]any
}

func (p *peer) Send(frame []byte) error {
	var ev map[string]any
	if err := json.Unmarshal(frame, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *peer) Close() error { return nil }

func (p *peer) received() []map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]any(nil), p.events...)
}

type queue struct {
	pushes []notify.Push
	err    error
}

func (q *queue) Enqueue(p notify.Push) error {
	if q.err != nil {
		return q.err
	}
	q.pushes = append(q.pushes, p)
	return nil
}

type fixture struct {
	registry *hub.Registry
	queue    *queue
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewStatic()
	dir.Link("u1", "u2")

	registry := hub.NewRegistry(nil)
	q := &queue{}
	return &fixture{
		registry: registry,
		queue:    q,
		svc:      NewService(registry, hub.NewBroadcaster(registry, nil, nil), dir, q, nil),
	}
}

func (f *fixture) online(t *testing.T, user string, topics ...hub.Topic) *peer {
	t.Helper()
	p := &peer{}
	id := f.registry.Register(p)
	require.NoError(t, f.registry.BindIdentity(id, user, user))
	_, err := f.registry.Subscribe(id, hub.UserTopic(user))
	require.NoError(t, err)
	for _, topic := range topics {
		_, err := f.registry.Subscribe(id, topic)
		require.NoError(t, err)
	}
	return p
}

// TestPublishMessage_PartnerWatching verifies that subscribers of journal:42
// receive new_message and nobody gets a notification.
func TestPublishMessage_PartnerWatching(t *testing.T) {
	f := newFixture(t)
	journal := hub.JournalTopic("42")
	sender := f.online(t, "u1", journal)
	partner := f.online(t, "u2", journal)

	res, err := f.svc.PublishMessage(context.Background(), "42", "u1", json.RawMessage(`{"id":7,"text":"hi"}`))
	require.NoError(t, err)

	assert.Equal(t, Result{Delivered: 2}, res)
	for _, p := range []*peer{sender, partner} {
		evs := p.received()
		require.Len(t, evs, 1)
		assert.Equal(t, "new_message", evs[0]["type"])
		assert.Equal(t, "42", evs[0]["journalId"])
		assert.Equal(t, map[string]any{"id": float64(7), "text": "hi"}, evs[0]["message"])
	}
	assert.Empty(t, f.queue.pushes)
}

func TestPublishMessage_PartnerElsewhere(t *testing.T) {
	f := newFixture(t)
	f.online(t, "u1", hub.JournalTopic("42"))
	partner := f.online(t, "u2")

	res, err := f.svc.PublishMessage(context.Background(), "42", "u1", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)

	assert.Equal(t, Result{Delivered: 1, Notified: 1}, res)
	evs := partner.received()
	require.Len(t, evs, 1)
	assert.Equal(t, "notification", evs[0]["type"])
	assert.Equal(t, "new_message", evs[0]["kind"])
	assert.Equal(t, map[string]any{"journalId": "42", "senderId": "u1"}, evs[0]["data"])
	assert.Empty(t, f.queue.pushes)
}

func TestPublishMessage_PartnerOffline(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.PublishMessage(context.Background(), "42", "u1", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)

	assert.Equal(t, Result{Pushed: true}, res)
	require.Len(t, f.queue.pushes, 1)
	assert.Equal(t, "u2", f.queue.pushes[0].UserID)
	assert.Equal(t, "42", f.queue.pushes[0].Data["journalId"])
}

func TestPublishMessage_NoPartner(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.PublishMessage(context.Background(), "42", "u9", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, f.queue.pushes)
}

func TestPublishMessage_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.PublishMessage(ctx, "", "u1", json.RawMessage(`{}`))
	assert.Error(t, err)
	_, err = f.svc.PublishMessage(ctx, "42", "u1", json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestNotify(t *testing.T) {
	f := newFixture(t)
	phone := f.online(t, "u1")
	laptop := f.online(t, "u1")

	res, err := f.svc.Notify(context.Background(), "u1", Notification{Title: "Game invite", Body: "Join?"})
	require.NoError(t, err)
	assert.Equal(t, Result{Notified: 2}, res)
	assert.Len(t, phone.received(), 1)
	assert.Len(t, laptop.received(), 1)

	res, err = f.svc.Notify(context.Background(), "u3", Notification{Title: "Hello"})
	require.NoError(t, err)
	assert.True(t, res.Pushed)

	f.queue.err = notify.ErrQueueFull
	_, err = f.svc.Notify(context.Background(), "u3", Notification{Title: "Hello"})
	assert.ErrorIs(t, err, notify.ErrQueueFull)
}
