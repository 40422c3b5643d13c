// Package hub implements topic membership on top of the registry indexes.
package hub

import (
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Subscribe adds the connection to topic. Subscribing twice is a no-op; the
// returned flag reports whether a new edge was created. Only connections with
// a bound identity may subscribe.
func (r *Registry) Subscribe(connectionID string, topic Topic) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[connectionID]
	if !ok {
		return false, errors.Wrapf(ErrNotFound, "subscribe %s", connectionID)
	}
	if c.userID == "" {
		return false, errors.Wrapf(ErrNotAuthenticated, "subscribe %s to %s", connectionID, topic)
	}
	if _, ok := c.topics[topic]; ok {
		return false, nil
	}
	c.topics[topic] = struct{}{}
	ids, ok := r.topics[topic]
	if !ok {
		ids = make(map[string]struct{})
		r.topics[topic] = ids
	}
	ids[connectionID] = struct{}{}

	r.log.Debug("subscribed",
		zap.String("connectionId", connectionID),
		zap.Stringer("topic", topic),
		zap.Int("subscribers", len(ids)))
	return true, nil
}

// Unsubscribe removes the edge between connection and topic. It reports
// whether an edge existed; a missing edge is not an error.
func (r *Registry) Unsubscribe(connectionID string, topic Topic) bool {
	r.mu.Lock()
	c, ok := r.connections[connectionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, ok := c.topics[topic]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(c.topics, topic)
	drained := r.detachTopic(topic, connectionID)
	onDrained := r.onDrained
	r.mu.Unlock()

	if drained {
		r.log.Debug("topic drained", zap.Stringer("topic", topic))
		r.notifyDrained(onDrained, []Topic{topic})
	}
	return true
}

// SubscribersOf lists the connections subscribed to topic.
func (r *Registry) SubscribersOf(topic Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.topics[topic])
}

// TopicsOf lists the topics a connection is subscribed to.
func (r *Registry) TopicsOf(connectionID string) []Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connections[connectionID]
	if !ok {
		return nil
	}
	return c.snapshot().Topics
}

// IsSubscribed reports whether the connection is currently in topic.
func (r *Registry) IsSubscribed(connectionID string, topic Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.topics[topic][connectionID]
	return ok
}

// UsersOf returns the distinct user ids that have at least one connection in
// topic, sorted.
func (r *Registry) UsersOf(topic Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range r.topics[topic] {
		if c, ok := r.connections[id]; ok && c.userID != "" {
			seen[c.userID] = struct{}{}
		}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
