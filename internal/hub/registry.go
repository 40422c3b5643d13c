// Package hub tracks live connections, the identities bound to them, and the
// topics they subscribe to. All shared indexes live behind one lock so that a
// disconnect can never leave a dangling subscriber behind.
package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for connection ids that are not (or no longer) registered.
	ErrNotFound = errors.New("connection not found")
	// ErrAlreadyBound is returned when a connection already carries another identity.
	ErrAlreadyBound = errors.New("connection already bound to another user")
	// ErrNotAuthenticated is returned for subscriptions attempted before identity binding.
	ErrNotAuthenticated = errors.New("connection is not authenticated")
	// ErrPeerClosed is returned by a Peer whose transport is closing or closed.
	ErrPeerClosed = errors.New("peer closed")
	// ErrSendBufferFull is returned by a Peer that cannot accept more frames.
	ErrSendBufferFull = errors.New("peer send buffer full")
)

// Peer is the transport half of a connection. Send must not block: it either
// queues the frame or fails with ErrPeerClosed or ErrSendBufferFull.
type Peer interface {
	Send(frame []byte) error
	Close() error
}

// Connection is a point-in-time copy of a registered connection.
type Connection struct {
	ID          string
	UserID      string
	DisplayName string
	Topics      []Topic
	CreatedAt   time.Time
}

// Authenticated reports whether an identity has been bound.
func (c Connection) Authenticated() bool {
	return c.UserID != ""
}

// Stats summarizes the registry for introspection endpoints and tests.
type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Users         int `json:"users"`
	Topics        int `json:"topics"`
}

type connection struct {
	id          string
	userID      string
	displayName string
	peer        Peer
	topics      map[Topic]struct{}
	createdAt   time.Time
}

// Registry is the in-memory store of connections and subscriptions.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*connection
	users       map[string]map[string]struct{}
	topics      map[Topic]map[string]struct{}

	onDrained func(Topic)
	log       *zap.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithTopicDrained installs a hook that runs, outside the registry lock, every
// time a topic loses its last subscriber.
func WithTopicDrained(fn func(Topic)) Option {
	return func(r *Registry) {
		r.onDrained = fn
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger, opts ...Option) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		connections: make(map[string]*connection),
		users:       make(map[string]map[string]struct{}),
		topics:      make(map[Topic]map[string]struct{}),
		log:         log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a new unauthenticated connection for peer and returns its id.
func (r *Registry) Register(peer Peer) string {
	c := &connection{
		id:        uuid.NewString(),
		peer:      peer,
		topics:    make(map[Topic]struct{}),
		createdAt: time.Now(),
	}

	r.mu.Lock()
	r.connections[c.id] = c
	total := len(r.connections)
	r.mu.Unlock()

	r.log.Debug("connection registered", zap.String("connectionId", c.id), zap.Int("connections", total))
	return c.id
}

// Remove deletes the connection and cascades it out of every topic and the
// user index. It reports whether anything was removed; repeated calls are
// no-ops.
func (r *Registry) Remove(connectionID string) bool {
	r.mu.Lock()
	c, ok := r.connections[connectionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.connections, connectionID)
	if c.userID != "" {
		r.detachUser(c.userID, connectionID)
	}
	var drained []Topic
	for topic := range c.topics {
		if r.detachTopic(topic, connectionID) {
			drained = append(drained, topic)
		}
	}
	onDrained := r.onDrained
	total := len(r.connections)
	r.mu.Unlock()

	r.log.Debug("connection removed",
		zap.String("connectionId", connectionID),
		zap.String("userId", c.userID),
		zap.Int("connections", total))
	r.notifyDrained(onDrained, drained)
	return true
}

// BindIdentity attaches a user to the connection. Binding is permanent: a
// second call with the same user is accepted, any other user fails with
// ErrAlreadyBound.
func (r *Registry) BindIdentity(connectionID, userID, displayName string) error {
	if userID == "" {
		return errors.New("empty user id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[connectionID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "bind %s", connectionID)
	}
	if c.userID != "" {
		if c.userID != userID {
			return errors.Wrapf(ErrAlreadyBound, "connection %s is bound to %s", connectionID, c.userID)
		}
		return nil
	}
	c.userID = userID
	c.displayName = displayName
	ids, ok := r.users[userID]
	if !ok {
		ids = make(map[string]struct{})
		r.users[userID] = ids
	}
	ids[connectionID] = struct{}{}
	return nil
}

// Lookup returns a snapshot of the connection.
func (r *Registry) Lookup(connectionID string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connections[connectionID]
	if !ok {
		return Connection{}, errors.Wrapf(ErrNotFound, "lookup %s", connectionID)
	}
	return c.snapshot(), nil
}

// ConnectionsForUser lists every live connection bound to userID.
func (r *Registry) ConnectionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.users[userID])
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connections)
}

// TopicCount returns the number of topics that currently have subscribers.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.topics)
}

// Stats returns a summary of the indexes.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Connections: len(r.connections),
		Users:       len(r.users),
		Topics:      len(r.topics),
	}
	for _, c := range r.connections {
		if c.userID != "" {
			s.Authenticated++
		}
	}
	return s
}

// CloseAll closes every registered peer. The peers' own shutdown path is
// expected to call Remove.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	peers := make([]Peer, 0, len(r.connections))
	for _, c := range r.connections {
		peers = append(peers, c.peer)
	}
	r.mu.RUnlock()

	for _, p := range peers {
		if err := p.Close(); err != nil {
			r.log.Debug("closing peer", zap.Error(err))
		}
	}
	return len(peers)
}

func (r *Registry) detachUser(userID, connectionID string) {
	ids := r.users[userID]
	delete(ids, connectionID)
	if len(ids) == 0 {
		delete(r.users, userID)
	}
}

// detachTopic removes one edge and reports whether the topic became empty.
func (r *Registry) detachTopic(topic Topic, connectionID string) bool {
	ids, ok := r.topics[topic]
	if !ok {
		return false
	}
	delete(ids, connectionID)
	if len(ids) == 0 {
		delete(r.topics, topic)
		return true
	}
	return false
}

func (r *Registry) notifyDrained(fn func(Topic), drained []Topic) {
	if fn == nil {
		return
	}
	for _, topic := range drained {
		fn(topic)
	}
}

func (c *connection) snapshot() Connection {
	topics := make([]Topic, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return Connection{
		ID:          c.id,
		UserID:      c.userID,
		DisplayName: c.displayName,
		Topics:      topics,
		CreatedAt:   c.createdAt,
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
