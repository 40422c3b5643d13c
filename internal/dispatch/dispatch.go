// Package dispatch routes inbound client events to their handlers and
// reports every failure back to the originating connection only.
package dispatch

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/journal-realtime/internal/auth"
	"github.com/Tyrowin/journal-realtime/internal/directory"
	"github.com/Tyrowin/journal-realtime/internal/game"
	"github.com/Tyrowin/journal-realtime/internal/hub"
	"github.com/Tyrowin/journal-realtime/internal/protocol"
)

var (
	// ErrForbidden is returned when the directory denies access to a journal.
	ErrForbidden = errors.New("access denied")
	// ErrNotSubscribed is returned for journal events on a journal the
	// connection has not subscribed to.
	ErrNotSubscribed = errors.New("not subscribed to journal")
	// ErrNotInGame is returned for game events sent before join_game.
	ErrNotInGame = errors.New("not in game room")
)

// TokenVerifier validates credentials presented by a client.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type handlerFunc func(ctx context.Context, c hub.Connection, in protocol.Inbound) error

type route struct {
	requiresAuth bool
	handle       handlerFunc
}

// Dispatcher handles the inbound frames of every connection.
type Dispatcher struct {
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	verifier    TokenVerifier
	access      directory.JournalAccess
	games       *game.Service
	log         *zap.Logger
	routes      map[protocol.EventType]route
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithJournalAccess sets the collaborator consulted by subscribe_journal.
// Without it every journal is open.
func WithJournalAccess(access directory.JournalAccess) Option {
	return func(d *Dispatcher) {
		d.access = access
	}
}

// New creates a Dispatcher.
func New(registry *hub.Registry, broadcaster *hub.Broadcaster, verifier TokenVerifier, games *game.Service, log *zap.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		registry:    registry,
		broadcaster: broadcaster,
		verifier:    verifier,
		access:      directory.AllowAll{},
		games:       games,
		log:         log,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.routes = map[protocol.EventType]route{
		protocol.Ping:               {requiresAuth: false, handle: d.handlePing},
		protocol.Auth:               {requiresAuth: false, handle: d.handleAuth},
		protocol.SubscribeJournal:   {requiresAuth: true, handle: d.handleSubscribeJournal},
		protocol.UnsubscribeJournal: {requiresAuth: true, handle: d.handleUnsubscribeJournal},
		protocol.TypingStart:        {requiresAuth: true, handle: d.handleTyping(true)},
		protocol.TypingStop:         {requiresAuth: true, handle: d.handleTyping(false)},
		protocol.MessageRead:        {requiresAuth: true, handle: d.handleMessageRead},
		protocol.JoinGame:           {requiresAuth: true, handle: d.handleJoinGame},
		protocol.SpinBottle:         {requiresAuth: true, handle: d.handleSpinBottle},
		protocol.DrawCard:           {requiresAuth: true, handle: d.handleDrawCard},
		protocol.NextTurn:           {requiresAuth: true, handle: d.handleNextTurn},
		protocol.ToggleMode:         {requiresAuth: true, handle: d.handleToggleMode},
	}
	return d
}

// Connected greets a freshly registered connection.
func (d *Dispatcher) Connected(connectionID string) {
	d.Reply(connectionID, protocol.New(protocol.Connected, protocol.Fields{
		"connectionId": connectionID,
		"protocol":     protocol.Name,
	}))
}

// Handle processes one inbound frame. Frames of connections that are no
// longer registered are dropped.
func (d *Dispatcher) Handle(ctx context.Context, connectionID string, frame []byte) {
	c, err := d.registry.Lookup(connectionID)
	if err != nil {
		d.log.Debug("dropping frame of closed connection", zap.String("connectionId", connectionID))
		return
	}

	in, err := protocol.Parse(frame)
	if err != nil {
		d.fail(connectionID, "", err)
		return
	}

	r, ok := d.routes[in.Type]
	if !ok {
		d.Reply(connectionID, protocol.ErrorEvent(protocol.CodeUnknownEvent, "unknown event type "+string(in.Type), in.Type))
		return
	}
	if r.requiresAuth && !c.Authenticated() {
		d.Reply(connectionID, protocol.ErrorEvent(protocol.CodeNotAuthenticated, "authenticate first", in.Type))
		return
	}

	if err := r.handle(ctx, c, in); err != nil {
		d.fail(connectionID, in.Type, err)
	}
}

// Authenticate verifies token and binds the resulting identity to the
// connection.
func (d *Dispatcher) Authenticate(_ context.Context, connectionID, token string) error {
	identity, err := d.verifier.Verify(token)
	if err != nil {
		return err
	}
	return d.Bind(connectionID, identity)
}

// Bind attaches identity to the connection, joins its personal channel and
// confirms with auth_success. The handshake token path and the auth event
// both end here.
func (d *Dispatcher) Bind(connectionID string, identity auth.Identity) error {
	if err := d.registry.BindIdentity(connectionID, identity.UserID, identity.DisplayName); err != nil {
		return err
	}
	if _, err := d.registry.Subscribe(connectionID, hub.UserTopic(identity.UserID)); err != nil {
		return err
	}

	d.log.Info("connection authenticated",
		zap.String("connectionId", connectionID),
		zap.String("userId", identity.UserID))
	d.Reply(connectionID, protocol.New(protocol.AuthSuccess, protocol.Fields{
		"userId":      identity.UserID,
		"displayName": identity.DisplayName,
	}))
	return nil
}

// fail turns err into an error event for the sender.
func (d *Dispatcher) fail(connectionID string, origin protocol.EventType, err error) {
	if errors.Is(err, hub.ErrNotFound) {
		return
	}
	code, message := classify(err)
	if code == protocol.CodeInternal {
		d.log.Error("handler failed",
			zap.String("connectionId", connectionID),
			zap.String("event", string(origin)),
			zap.Error(err))
	}
	d.Reply(connectionID, protocol.ErrorEvent(code, message, origin))
}

func classify(err error) (protocol.Code, string) {
	switch {
	case errors.Is(err, protocol.ErrMalformedPayload):
		return protocol.CodeMalformed, err.Error()
	case errors.Is(err, auth.ErrExpired):
		return protocol.CodeTokenExpired, "token expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return protocol.CodeInvalidToken, "invalid token"
	case errors.Is(err, hub.ErrAlreadyBound):
		return protocol.CodeAlreadyBound, "connection is bound to another user"
	case errors.Is(err, hub.ErrNotAuthenticated):
		return protocol.CodeNotAuthenticated, "authenticate first"
	case errors.Is(err, ErrForbidden):
		return protocol.CodeForbidden, ErrForbidden.Error()
	case errors.Is(err, ErrNotSubscribed):
		return protocol.CodeNotSubscribed, ErrNotSubscribed.Error()
	case errors.Is(err, ErrNotInGame), errors.Is(err, game.ErrNoRoom):
		return protocol.CodeNotInGame, ErrNotInGame.Error()
	case errors.Is(err, game.ErrSpinInProgress):
		return protocol.CodeSpinInProgress, game.ErrSpinInProgress.Error()
	default:
		return protocol.CodeInternal, "internal error"
	}
}

// Reply sends event to a single connection. Connections that are gone are
// ignored.
func (d *Dispatcher) Reply(connectionID string, event protocol.Event) {
	if err := d.broadcaster.SendTo(connectionID, event); err != nil && !errors.Is(err, hub.ErrNotFound) {
		d.log.Debug("reply not delivered",
			zap.String("connectionId", connectionID),
			zap.String("event", string(event.Type)),
			zap.Error(err))
	}
}
