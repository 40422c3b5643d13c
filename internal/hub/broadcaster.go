// Package hub fans serialized events out to the live connections of a topic
// or a user without letting one dead socket affect the others.
package hub

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// Broadcaster delivers events to registry connections.
type Broadcaster struct {
	registry  *Registry
	log       *zap.Logger
	delivered metrics.Counter
	failed    metrics.Counter
	evicted   metrics.Counter
}

type deliveryFailure struct {
	connectionID string
	peer         Peer
	err          error
}

// NewBroadcaster creates a Broadcaster over registry. Delivery counters are
// registered in reg when it is not nil.
func NewBroadcaster(registry *Registry, log *zap.Logger, reg metrics.Registry) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Broadcaster{
		registry:  registry,
		log:       log,
		delivered: metrics.GetOrRegisterCounter("broadcast.delivered", reg),
		failed:    metrics.GetOrRegisterCounter("broadcast.failed", reg),
		evicted:   metrics.GetOrRegisterCounter("broadcast.evicted", reg),
	}
}

// BroadcastToTopic delivers event to every connection subscribed to topic and
// returns the number of successful deliveries. A topic without subscribers is
// a successful no-op.
func (b *Broadcaster) BroadcastToTopic(topic Topic, event any) int {
	return b.fanOut(topic.String(), event, "", func(r *Registry) map[string]struct{} {
		return r.topics[topic]
	})
}

// BroadcastExcluding is BroadcastToTopic without the connection identified by
// excludeConnectionID, used when the sender must not receive its own echo.
func (b *Broadcaster) BroadcastExcluding(topic Topic, event any, excludeConnectionID string) int {
	return b.fanOut(topic.String(), event, excludeConnectionID, func(r *Registry) map[string]struct{} {
		return r.topics[topic]
	})
}

// BroadcastToUser delivers event to every live connection bound to userID.
func (b *Broadcaster) BroadcastToUser(userID string, event any) int {
	return b.fanOut("user "+userID, event, "", func(r *Registry) map[string]struct{} {
		return r.users[userID]
	})
}

// SendTo delivers event to a single connection.
func (b *Broadcaster) SendTo(connectionID string, event any) error {
	frame, err := encode(event)
	if err != nil {
		return err
	}

	r := b.registry
	r.mu.RLock()
	c, ok := r.connections[connectionID]
	if !ok {
		r.mu.RUnlock()
		return errors.Wrapf(ErrNotFound, "send to %s", connectionID)
	}
	err = safeSend(c.peer, frame)
	r.mu.RUnlock()

	if err != nil {
		b.handleFailures("connection "+connectionID, []deliveryFailure{{connectionID: connectionID, peer: c.peer, err: err}})
		return err
	}
	b.delivered.Inc(1)
	return nil
}

// fanOut holds the registry read lock for the whole delivery so that a
// connection removed before the call returns never receives the frame.
// Peer.Send is non-blocking, which keeps the critical section short.
func (b *Broadcaster) fanOut(target string, event any, exclude string, pick func(*Registry) map[string]struct{}) int {
	frame, err := encode(event)
	if err != nil {
		b.log.Error("dropping broadcast", zap.String("target", target), zap.Error(err))
		return 0
	}

	r := b.registry
	delivered := 0
	var failures []deliveryFailure

	r.mu.RLock()
	for id := range pick(r) {
		if id == exclude {
			continue
		}
		c, ok := r.connections[id]
		if !ok {
			continue
		}
		if err := safeSend(c.peer, frame); err != nil {
			failures = append(failures, deliveryFailure{connectionID: id, peer: c.peer, err: err})
			continue
		}
		delivered++
	}
	r.mu.RUnlock()

	b.delivered.Inc(int64(delivered))
	b.handleFailures(target, failures)
	return delivered
}

// handleFailures logs and counts failed deliveries and evicts peers that can
// no longer keep up. It runs after the read lock has been released.
func (b *Broadcaster) handleFailures(target string, failures []deliveryFailure) {
	if len(failures) == 0 {
		return
	}
	b.failed.Inc(int64(len(failures)))

	var merr *multierror.Error
	for _, f := range failures {
		merr = multierror.Append(merr, errors.Wrapf(f.err, "connection %s", f.connectionID))
		if !errors.Is(f.err, ErrSendBufferFull) {
			continue
		}
		if b.registry.Remove(f.connectionID) {
			b.evicted.Inc(1)
			if err := f.peer.Close(); err != nil {
				b.log.Debug("closing evicted peer", zap.String("connectionId", f.connectionID), zap.Error(err))
			}
		}
	}
	b.log.Warn("delivery failures",
		zap.String("target", target),
		zap.Int("failed", len(failures)),
		zap.Error(merr.ErrorOrNil()))
}

func safeSend(peer Peer, frame []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Wrap(ErrPeerClosed, fmt.Sprint("recovered: ", rec))
		}
	}()
	return peer.Send(frame)
}

func encode(event any) ([]byte, error) {
	if frame, ok := event.([]byte); ok {
		return frame, nil
	}
	frame, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(err, "encode event")
	}
	return frame, nil
}
