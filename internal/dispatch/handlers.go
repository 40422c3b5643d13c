package dispatch

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Tyrowin/journal-realtime/internal/game"
	"github.com/Tyrowin/journal-realtime/internal/hub"
	"github.com/Tyrowin/journal-realtime/internal/protocol"
)

func (d *Dispatcher) handlePing(_ context.Context, c hub.Connection, _ protocol.Inbound) error {
	d.Reply(c.ID, protocol.New(protocol.Pong, nil))
	return nil
}

func (d *Dispatcher) handleAuth(ctx context.Context, c hub.Connection, in protocol.Inbound) error {
	token, err := in.Text("token")
	if err != nil {
		return err
	}
	return d.Authenticate(ctx, c.ID, token)
}

func (d *Dispatcher) handleSubscribeJournal(ctx context.Context, c hub.Connection, in protocol.Inbound) error {
	journalID, err := in.ID("journalId")
	if err != nil {
		return err
	}
	allowed, err := d.access.CanAccessJournal(ctx, c.UserID, journalID)
	if err != nil {
		return errors.Wrapf(err, "check access to journal %s", journalID)
	}
	if !allowed {
		return errors.Wrapf(ErrForbidden, "journal %s", journalID)
	}
	if _, err := d.registry.Subscribe(c.ID, hub.JournalTopic(journalID)); err != nil {
		return err
	}
	d.Reply(c.ID, protocol.New(protocol.JournalSubscribed, protocol.Fields{"journalId": journalID}))
	return nil
}

func (d *Dispatcher) handleUnsubscribeJournal(_ context.Context, c hub.Connection, in protocol.Inbound) error {
	journalID, err := in.ID("journalId")
	if err != nil {
		return err
	}
	d.registry.Unsubscribe(c.ID, hub.JournalTopic(journalID))
	d.Reply(c.ID, protocol.New(protocol.JournalUnsubscribed, protocol.Fields{"journalId": journalID}))
	return nil
}

func (d *Dispatcher) handleTyping(typing bool) handlerFunc {
	return func(_ context.Context, c hub.Connection, in protocol.Inbound) error {
		journalID, topic, err := d.subscribedJournal(c, in)
		if err != nil {
			return err
		}
		d.broadcaster.BroadcastExcluding(topic, protocol.New(protocol.UserTyping, protocol.Fields{
			"journalId":   journalID,
			"userId":      c.UserID,
			"displayName": c.DisplayName,
			"isTyping":    typing,
		}), c.ID)
		return nil
	}
}

func (d *Dispatcher) handleMessageRead(_ context.Context, c hub.Connection, in protocol.Inbound) error {
	messageID, err := in.ID("messageId")
	if err != nil {
		return err
	}
	journalID, topic, err := d.subscribedJournal(c, in)
	if err != nil {
		return err
	}
	d.broadcaster.BroadcastExcluding(topic, protocol.New(protocol.MessageRead, protocol.Fields{
		"messageId": messageID,
		"journalId": journalID,
		"readBy":    c.UserID,
		"readAt":    time.Now().UTC(),
	}), c.ID)
	return nil
}

func (d *Dispatcher) subscribedJournal(c hub.Connection, in protocol.Inbound) (string, hub.Topic, error) {
	journalID, err := in.ID("journalId")
	if err != nil {
		return "", "", err
	}
	topic := hub.JournalTopic(journalID)
	if !d.registry.IsSubscribed(c.ID, topic) {
		return "", "", errors.Wrapf(ErrNotSubscribed, "journal %s", journalID)
	}
	return journalID, topic, nil
}

func (d *Dispatcher) handleJoinGame(_ context.Context, c hub.Connection, in protocol.Inbound) error {
	coupleID, err := in.ID("coupleId")
	if err != nil {
		return err
	}
	topic := hub.GameTopic(coupleID)
	joined, err := d.registry.Subscribe(c.ID, topic)
	if err != nil {
		return err
	}
	turn := d.games.Join(coupleID, c.UserID)

	if joined {
		d.broadcaster.BroadcastExcluding(topic, protocol.New(protocol.PartnerJoined, protocol.Fields{
			"coupleId":    coupleID,
			"userId":      c.UserID,
			"displayName": c.DisplayName,
		}), c.ID)
	}

	players := d.registry.UsersOf(topic)
	if len(players) >= 2 {
		state, _ := d.games.State(coupleID)
		d.broadcaster.BroadcastToTopic(topic, protocol.New(protocol.GameReady, protocol.Fields{
			"coupleId":  coupleID,
			"players":   players,
			"turn":      turn,
			"isExtreme": state.Extreme,
		}))
	}
	return nil
}

func (d *Dispatcher) handleSpinBottle(_ context.Context, c hub.Connection, in protocol.Inbound) error {
	coupleID, topic, err := d.gameRoom(c, in)
	if err != nil {
		return err
	}

	started := func() {
		d.broadcaster.BroadcastToTopic(topic, protocol.New(protocol.SpinStarted, protocol.Fields{
			"coupleId": coupleID,
			"spunBy":   c.UserID,
		}))
	}
	resolved := func(res game.SpinResult) {
		d.broadcaster.BroadcastToTopic(topic, protocol.New(protocol.SpinResult, protocol.Fields{
			"coupleId":       res.CoupleID,
			"spunBy":         res.SpunBy,
			"selectedUserId": res.SelectedUserID,
		}))
	}
	return d.games.Spin(coupleID, c.UserID, d.registry.UsersOf(topic), started, resolved)
}

func (d *Dispatcher) handleDrawCard(_ context.Context, c hub.Connection, in protocol.Inbound) error {
	coupleID, topic, err := d.gameRoom(c, in)
	if err != nil {
		return err
	}
	cardType, err := in.Text("cardType")
	if err != nil {
		return err
	}
	text, err := in.Text("text")
	if err != nil {
		return err
	}

	card, err := d.games.DrawCard(coupleID, c.UserID, cardType, text)
	if err != nil {
		return err
	}
	d.broadcaster.BroadcastToTopic(topic, protocol.New(protocol.CardDrawn, protocol.Fields{
		"coupleId": coupleID,
		"cardType": card.Type,
		"text":     card.Text,
		"drawnBy":  card.DrawnBy,
	}))
	return nil
}

func (d *Dispatcher) handleNextTurn(_ context.Context, c hub.Connection, in protocol.Inbound) error {
	coupleID, topic, err := d.gameRoom(c, in)
	if err != nil {
		return err
	}
	next, err := d.games.NextTurn(coupleID, d.registry.UsersOf(topic))
	if err != nil {
		return err
	}
	d.broadcaster.BroadcastToTopic(topic, protocol.New(protocol.YourTurn, protocol.Fields{
		"coupleId": coupleID,
		"userId":   next,
	}))
	return nil
}

func (d *Dispatcher) handleToggleMode(_ context.Context, c hub.Connection, in protocol.Inbound) error {
	coupleID, topic, err := d.gameRoom(c, in)
	if err != nil {
		return err
	}
	extreme, err := in.Bool("isExtreme")
	if err != nil {
		return err
	}
	extreme, err = d.games.ToggleMode(coupleID, extreme)
	if err != nil {
		return err
	}
	d.broadcaster.BroadcastToTopic(topic, protocol.New(protocol.ModeUpdate, protocol.Fields{
		"coupleId":  coupleID,
		"isExtreme": extreme,
		"changedBy": c.UserID,
	}))
	return nil
}

// gameRoom resolves the coupleId of a game event and checks the sender
// joined that room.
func (d *Dispatcher) gameRoom(c hub.Connection, in protocol.Inbound) (string, hub.Topic, error) {
	coupleID, err := in.ID("coupleId")
	if err != nil {
		return "", "", err
	}
	topic := hub.GameTopic(coupleID)
	if !d.registry.IsSubscribed(c.ID, topic) {
		return "", "", errors.Wrapf(ErrNotInGame, "couple %s", coupleID)
	}
	return coupleID, topic, nil
}
