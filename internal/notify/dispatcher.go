package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grocerp/backend/internal/domain"
	"grocerp/backend/internal/metrics"
	"grocerp/backend/internal/xid"
)

const (
	defaultQueueSize = 256
	persistTimeout   = 5 * time.Second
)

// Sink persists a notification into the in-app inbox.
type Sink interface {
	CreateNotification(ctx context.Context, n domain.Notification) error
}

// PersistedFunc runs on the worker after a notification reached the inbox.
type PersistedFunc func(ctx context.Context, n domain.Notification)

// Dispatcher queues notifications in memory and persists them on a single
// worker goroutine so callers never wait on the inbox write. Enqueue never
// blocks: a full queue drops the notification and logs it.
type Dispatcher struct {
	sink    Sink
	logger  zerolog.Logger
	metrics *metrics.Registry

	mu        sync.RWMutex
	closed    bool
	persisted PersistedFunc
	queue     chan domain.Notification
	done      chan struct{}
}

func NewDispatcher(sink Sink, size int, logger zerolog.Logger, m *metrics.Registry) *Dispatcher {
	if size < 1 {
		size = defaultQueueSize
	}
	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		metrics: m,
		queue:   make(chan domain.Notification, size),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// OnPersisted registers fn to run after every successful inbox write. Readers
// of derived views (cached dashboards) hook in here so they never refresh
// before the row is visible.
func (d *Dispatcher) OnPersisted(fn PersistedFunc) {
	d.mu.Lock()
	d.persisted = fn
	d.mu.Unlock()
}

// Enqueue reports whether the notification was accepted.
func (d *Dispatcher) Enqueue(notifications ...domain.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.count("closed", len(notifications))
		return false
	}

	accepted := true
	now := time.Now().UTC()
	for _, n := range notifications {
		if n.ID == "" {
			n.ID = xid.New("ntf")
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		select {
		case d.queue <- n:
			d.count("queued", 1)
		default:
			accepted = false
			d.count("dropped", 1)
			d.logger.Warn().Str("kind", n.Kind).Str("entity_id", n.EntityID).Msg("notification queue full; dropping")
		}
	}
	d.depth()
	return accepted
}

// Close stops accepting work and waits until the queue is drained or ctx
// expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.persist(n)
	}
}

func (d *Dispatcher) persist(n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := d.sink.CreateNotification(ctx, n)
	d.depth()
	if err != nil {
		d.count("failed", 1)
		d.logger.Warn().Err(err).Str("kind", n.Kind).Str("entity_id", n.EntityID).Msg("failed to persist notification")
		return
	}
	d.count("persisted", 1)

	d.mu.RLock()
	hook := d.persisted
	d.mu.RUnlock()
	if hook != nil {
		hook(ctx, n)
	}
}

func (d *Dispatcher) count(result string, n int) {
	if d.metrics == nil || n == 0 {
		return
	}
	d.metrics.NotificationsQueued.WithLabelValues(result).Add(float64(n))
}

func (d *Dispatcher) depth() {
	if d.metrics == nil {
		return
	}
	d.metrics.QueueDepth.Set(float64(len(d.queue)))
}
