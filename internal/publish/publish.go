// Package publish turns application events (a journal message was saved, a
// user must be notified) into realtime fan-out with an offline push fallback.
package publish

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/journal-realtime/internal/directory"
	"github.com/Tyrowin/journal-realtime/internal/hub"
	"github.com/Tyrowin/journal-realtime/internal/notify"
	"github.com/Tyrowin/journal-realtime/internal/protocol"
)

// Enqueuer accepts offline pushes.
type Enqueuer interface {
	Enqueue(p notify.Push) error
}

// Notification is a message for a user's personal channel.
type Notification struct {
	Title string            `json:"title" validate:"required"`
	Body  string            `json:"body"`
	Kind  string            `json:"kind,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Result reports how a publication was delivered.
type Result struct {
	Delivered int  `json:"delivered"`
	Notified  int  `json:"notified"`
	Pushed    bool `json:"pushed"`
}

// Service publishes messages and notifications.
type Service struct {
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	partners    directory.PartnerLookup
	pushes      Enqueuer
	log         *zap.Logger
}

// NewService creates a Service. partners may be nil, in which case no partner
// notification is attempted.
func NewService(registry *hub.Registry, broadcaster *hub.Broadcaster, partners directory.PartnerLookup, pushes Enqueuer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		registry:    registry,
		broadcaster: broadcaster,
		partners:    partners,
		pushes:      pushes,
		log:         log,
	}
}

// PublishMessage broadcasts a saved journal message to the journal's
// subscribers. The sender's partner is told through their personal channel
// when connected but not looking at the journal, or by push when offline.
func (s *Service) PublishMessage(ctx context.Context, journalID, senderID string, message json.RawMessage) (Result, error) {
	if journalID == "" || senderID == "" {
		return Result{}, errors.New("journal id and sender id are required")
	}
	if len(message) == 0 || !json.Valid(message) {
		return Result{}, errors.Wrap(protocol.ErrMalformedPayload, "message must be valid JSON")
	}

	topic := hub.JournalTopic(journalID)
	res := Result{
		Delivered: s.broadcaster.BroadcastToTopic(topic, protocol.New(protocol.NewMessage, protocol.Fields{
			"journalId": journalID,
			"senderId":  senderID,
			"message":   message,
		})),
	}

	if s.partners == nil {
		return res, nil
	}
	partnerID, err := s.partners.PartnerOf(ctx, senderID)
	if errors.Is(err, directory.ErrNoPartner) {
		return res, nil
	}
	if err != nil {
		return res, errors.Wrapf(err, "resolve partner of %s", senderID)
	}

	if s.watching(partnerID, topic) {
		return res, nil
	}

	note := Notification{
		Title: "New journal entry",
		Body:  "Your partner wrote in your journal",
		Kind:  "new_message",
		Data:  map[string]string{"journalId": journalID, "senderId": senderID},
	}
	res.Notified, res.Pushed, err = s.deliver(partnerID, note)
	return res, err
}

// Notify sends notification to every connection of userID, or pushes it when
// the user is offline.
func (s *Service) Notify(_ context.Context, userID string, notification Notification) (Result, error) {
	if userID == "" {
		return Result{}, errors.New("user id is required")
	}
	var res Result
	var err error
	res.Notified, res.Pushed, err = s.deliver(userID, notification)
	return res, err
}

func (s *Service) deliver(userID string, note Notification) (int, bool, error) {
	fields := protocol.Fields{
		"title": note.Title,
		"body":  note.Body,
	}
	if note.Kind != "" {
		fields["kind"] = note.Kind
	}
	if len(note.Data) > 0 {
		fields["data"] = note.Data
	}

	if n := s.broadcaster.BroadcastToUser(userID, protocol.New(protocol.Notification, fields)); n > 0 {
		return n, false, nil
	}
	if s.pushes == nil {
		return 0, false, nil
	}

	err := s.pushes.Enqueue(notify.Push{
		UserID: userID,
		Title:  note.Title,
		Body:   note.Body,
		Data:   note.Data,
	})
	if err != nil {
		s.log.Warn("offline push not queued", zap.String("userId", userID), zap.Error(err))
		return 0, false, errors.Wrapf(err, "push to %s", userID)
	}
	return 0, true, nil
}

// watching reports whether any connection of userID is subscribed to topic.
func (s *Service) watching(userID string, topic hub.Topic) bool {
	for _, id := range s.registry.ConnectionsForUser(userID) {
		if s.registry.IsSubscribed(id, topic) {
			return true
		}
	}
	return false
}
