// Package protocol defines the JSON envelopes exchanged over the realtime
// socket: inbound client events, outbound server events and error codes.
package protocol

import (
	"encoding/json"
	"time"
)

// Name is the websocket subprotocol advertised to clients.
const Name = "journal-chat"

// EventType is the "type" discriminator of every envelope.
type EventType string

// Client events.
const (
	Ping               EventType = "ping"
	Auth               EventType = "auth"
	SubscribeJournal   EventType = "subscribe_journal"
	UnsubscribeJournal EventType = "unsubscribe_journal"
	TypingStart        EventType = "typing_start"
	TypingStop         EventType = "typing_stop"
	MessageRead        EventType = "message_read"
	JoinGame           EventType = "join_game"
	SpinBottle         EventType = "spin_bottle"
	DrawCard           EventType = "draw_card"
	NextTurn           EventType = "next_turn"
	ToggleMode         EventType = "toggle_mode"
)

// Server events.
const (
	Connected           EventType = "connected"
	Pong                EventType = "pong"
	AuthSuccess         EventType = "auth_success"
	Error               EventType = "error"
	JournalSubscribed   EventType = "journal_subscribed"
	JournalUnsubscribed EventType = "journal_unsubscribed"
	UserTyping          EventType = "user_typing"
	NewMessage          EventType = "new_message"
	Notification        EventType = "notification"
	PartnerJoined       EventType = "partner_joined"
	GameReady           EventType = "game_ready"
	SpinStarted         EventType = "spin_started"
	SpinResult          EventType = "spin_result"
	CardDrawn           EventType = "card_drawn"
	YourTurn            EventType = "your_turn"
	ModeUpdate          EventType = "mode_update"
)

// Note: the server echoes message_read with the same type name as the client
// event, so MessageRead is used in both directions.

// Fields are the type-specific members of an outbound event.
type Fields map[string]any

// Event is an outbound envelope. It marshals to a flat object holding type,
// timestamp and the fields.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Fields    Fields
}

// New builds an event stamped with the current time.
func New(t EventType, fields Fields) Event {
	return Event{Type: t, Timestamp: time.Now(), Fields: fields}
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}
