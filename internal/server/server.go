// Package server constructs the realtime HTTP service: it wires the registry,
// dispatcher, game rooms and push queue together and owns their lifecycle.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/Tyrowin/journal-realtime/internal/auth"
	"github.com/Tyrowin/journal-realtime/internal/config"
	"github.com/Tyrowin/journal-realtime/internal/directory"
	"github.com/Tyrowin/journal-realtime/internal/dispatch"
	"github.com/Tyrowin/journal-realtime/internal/game"
	"github.com/Tyrowin/journal-realtime/internal/hub"
	"github.com/Tyrowin/journal-realtime/internal/notify"
	"github.com/Tyrowin/journal-realtime/internal/protocol"
	"github.com/Tyrowin/journal-realtime/internal/publish"
)

// Server is the realtime service.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	metrics     metrics.Registry
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	games       *game.Service
	dispatcher  *dispatch.Dispatcher
	publisher   *publish.Service
	verifier    *auth.Verifier
	pushes      *notify.Queue
	pusher      notify.Pusher
	partners    directory.PartnerLookup
	access      directory.JournalAccess

	origins  *originPolicy
	upgrader websocket.Upgrader
	validate *validator.Validate
	router   *mux.Router
	http     *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders client registration against shutdown: once closing is set
	// no client is registered and no pump is added to wg.
	mu      sync.Mutex
	closing bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithDirectory sets the partner and journal access collaborators.
func WithDirectory(partners directory.PartnerLookup, access directory.JournalAccess) Option {
	return func(s *Server) {
		s.partners = partners
		s.access = access
	}
}

// WithPusher sets the backend used for offline pushes.
func WithPusher(p notify.Pusher) Option {
	return func(s *Server) {
		s.pusher = p
	}
}

// WithMetrics sets the metrics registry exposed on /stats.
func WithMetrics(reg metrics.Registry) Option {
	return func(s *Server) {
		s.metrics = reg
	}
}

// New builds a Server from cfg and starts its background workers. Shutdown
// must be called to release them.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		metrics:  metrics.NewRegistry(),
		partners: directory.NewStatic(),
		access:   directory.AllowAll{},
		validate: validator.New(),
	}
	s.pusher = notify.LogPusher{Log: log.Named("push")}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = hub.NewRegistry(log.Named("hub"), hub.WithTopicDrained(s.topicDrained))
	s.broadcaster = hub.NewBroadcaster(s.registry, log.Named("broadcast"), s.metrics)
	s.games = game.NewService(cfg.SpinDelay, log.Named("game"))

	s.verifier = auth.NewVerifier(cfg.JWTSecret)
	s.dispatcher = dispatch.New(s.registry, s.broadcaster, s.verifier, s.games, log.Named("dispatch"),
		dispatch.WithJournalAccess(s.access))

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pushes = notify.NewQueue(s.pusher, cfg.Push.QueueSize, log.Named("push"), s.metrics)
	go s.pushes.Run(s.ctx)
	s.publisher = publish.NewService(s.registry, s.broadcaster, s.partners, s.pushes, log.Named("publish"))

	s.origins = newOriginPolicy(cfg, log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{protocol.Name},
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         cfg.Port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry exposes the connection registry.
func (s *Server) Registry() *hub.Registry {
	return s.registry
}

// Publisher exposes the service used by application code to fan out saved
// messages and notifications.
func (s *Server) Publisher() *publish.Service {
	return s.publisher
}

// ListenAndServe serves until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}

// Shutdown stops accepting connections, closes every client, waits for their
// pumps and stops the game timers and the push worker. Errors of all steps
// are combined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	var result *multierror.Error

	if err := s.http.Shutdown(ctx); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "http shutdown"))
	}

	closed := s.registry.CloseAll()
	s.log.Info("closed client connections", zap.Int("count", closed))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, errors.Wrap(ctx.Err(), "waiting for client goroutines"))
	}

	s.games.Close()
	s.cancel()
	select {
	case <-s.pushes.Done():
	case <-ctx.Done():
		result = multierror.Append(result, errors.Wrap(ctx.Err(), "waiting for push worker"))
	}

	if err := result.ErrorOrNil(); err != nil {
		s.log.Error("shutdown incomplete", zap.Error(err))
		return err
	}
	s.log.Info("shutdown completed")
	return nil
}

// topicDrained frees the state attached to topics nobody listens to anymore.
func (s *Server) topicDrained(topic hub.Topic) {
	if topic.Kind() == hub.KindGame {
		s.games.Drop(topic.Key())
	}
}

// accepting reports whether new clients may still connect.
func (s *Server) accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closing
}

// serveClient registers an upgraded connection and starts its pumps. A
// connection upgraded while shutdown is under way is closed right away.
func (s *Server) serveClient(conn *websocket.Conn, addr string, identity *auth.Identity) {
	client := newClient(conn, s, addr)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteWait))
		_ = conn.Close()
		return
	}
	client.id = s.registry.Register(client)
	s.wg.Add(2)
	s.mu.Unlock()

	client.log = s.log.With(zap.String("connectionId", client.id), zap.String("remoteAddr", addr))
	client.log.Info("client connected", zap.Int("connections", s.registry.ConnectionCount()))

	s.dispatcher.Connected(client.id)
	if identity != nil {
		if err := s.dispatcher.Bind(client.id, *identity); err != nil {
			client.log.Warn("binding handshake identity", zap.Error(err))
		}
	}

	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump(s.ctx)
	}()
}
