// Package notify hands offline deliveries to the push-notification
// collaborator. The realtime path only enqueues; a worker goroutine owns the
// slow network call so a broadcast never waits on it.
package notify

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Enqueue when the worker is saturated.
var ErrQueueFull = errors.New("push queue full")

// Push is one notification for a user without a live connection.
type Push struct {
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Pusher delivers a push notification.
type Pusher interface {
	Push(ctx context.Context, p Push) error
}

// Queue is a bounded channel of pushes drained by a single worker.
type Queue struct {
	pushes chan Push
	pusher Pusher
	log    *zap.Logger

	sent    metrics.Counter
	failed  metrics.Counter
	dropped metrics.Counter

	once sync.Once
	done chan struct{}
}

// NewQueue creates a queue holding at most size pending pushes.
func NewQueue(pusher Pusher, size int, log *zap.Logger, reg metrics.Registry) *Queue {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Queue{
		pushes:  make(chan Push, size),
		pusher:  pusher,
		log:     log,
		sent:    metrics.GetOrRegisterCounter("push.sent", reg),
		failed:  metrics.GetOrRegisterCounter("push.failed", reg),
		dropped: metrics.GetOrRegisterCounter("push.dropped", reg),
		done:    make(chan struct{}),
	}
}

// Enqueue schedules p without blocking.
func (q *Queue) Enqueue(p Push) error {
	select {
	case q.pushes <- p:
		return nil
	default:
		q.dropped.Inc(1)
		return errors.Wrapf(ErrQueueFull, "push for %s", p.UserID)
	}
}

// Run drains the queue until ctx is cancelled. Pushes still queued at that
// point are dropped. Run must be called at most once.
func (q *Queue) Run(ctx context.Context) {
	defer q.once.Do(func() { close(q.done) })

	for {
		select {
		case <-ctx.Done():
			if n := len(q.pushes); n > 0 {
				q.dropped.Inc(int64(n))
				q.log.Warn("dropping queued pushes on shutdown", zap.Int("pending", n))
			}
			return
		case p := <-q.pushes:
			q.deliver(ctx, p)
		}
	}
}

// Done is closed once Run has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) deliver(ctx context.Context, p Push) {
	if err := q.pusher.Push(ctx, p); err != nil {
		q.failed.Inc(1)
		q.log.Error("push delivery failed", zap.String("userId", p.UserID), zap.Error(err))
		return
	}
	q.sent.Inc(1)
}

// LogPusher only logs pushes. It is used when no push backend is configured.
type LogPusher struct {
	Log *zap.Logger
}

// Push implements Pusher.
func (l LogPusher) Push(_ context.Context, p Push) error {
	if l.Log != nil {
		l.Log.Info("push notification", zap.String("userId", p.UserID), zap.String("title", p.Title))
	}
	return nil
}
