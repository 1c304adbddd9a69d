package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/internal/metrics"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DispatcherConfig tunes notification delivery.
type DispatcherConfig struct {
	QueueSize       int
	Workers         int
	AttemptTimeout  time.Duration
	MaxRetryElapsed time.Duration
}

// temporary is implemented by sink errors that know whether a retry can help.
type temporary interface {
	Temporary() bool
}

// NotificationDispatcher implements ports.NotificationQueue. Enqueue never blocks:
// when the queue is full the notification is dropped. Delivery runs on a pond
// worker pool with exponential backoff.
type NotificationDispatcher struct {
	sink    ports.Notifier
	cfg     DispatcherConfig
	metrics *metrics.Metrics
	log     zerolog.Logger

	newBackOff func() backoff.BackOff

	mu      sync.RWMutex
	started bool
	closed  bool
	queue   chan domain.Notification
	pool    pond.Pool
	done    chan struct{}
}

// NewNotificationDispatcher creates a dispatcher. Call Start before Enqueue.
func NewNotificationDispatcher(sink ports.Notifier, cfg DispatcherConfig, m *metrics.Metrics, log zerolog.Logger) *NotificationDispatcher {
	d := &NotificationDispatcher{
		sink:    sink,
		cfg:     cfg,
		metrics: m,
		log:     log,
		queue:   make(chan domain.Notification, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	d.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxElapsedTime = cfg.MaxRetryElapsed
		return b
	}
	return d
}

// Start begins draining the queue. Deliveries still retrying when ctx ends are abandoned.
// Start after Stop is a no-op.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.pool = pond.NewPool(
		d.cfg.Workers,
		pond.WithQueueSize(d.cfg.Workers),
		pond.WithContext(ctx),
	)
	go d.pump(ctx)
}

func (d *NotificationDispatcher) pump(ctx context.Context) {
	defer close(d.done)
	for n := range d.queue {
		d.metrics.SetNotifyQueueLength(len(d.queue))
		d.pool.Submit(func() {
			d.deliver(ctx, n)
		})
	}
}

// Enqueue queues n for delivery. It returns false if n was dropped.
func (d *NotificationDispatcher) Enqueue(n domain.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.ObserveNotification("dropped")
		return false
	}
	select {
	case d.queue <- n:
		d.metrics.SetNotifyQueueLength(len(d.queue))
		return true
	default:
		d.metrics.ObserveNotification("dropped")
		d.log.Warn().Int64("account_id", n.AccountID).Str("kind", string(n.Kind)).Msg("notification queue full, dropping")
		return false
	}
}

// Stop refuses new notifications, then waits for queued ones to finish or ctx to end.
// A dispatcher that was never started discards its queue and returns at once.
func (d *NotificationDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		if n := len(d.queue); n > 0 {
			d.log.Warn().Int("discarded", n).Msg("notification dispatcher stopped before start")
		}
		return nil
	}

	finished := make(chan struct{})
	go func() {
		<-d.done
		if d.pool != nil {
			d.pool.StopAndWait()
		}
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		d.log.Warn().Int("pending", len(d.queue)).Msg("notification dispatcher stop timed out")
		return ctx.Err()
	}
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n domain.Notification) {
	log := d.log.With().Int64("account_id", n.AccountID).Str("kind", string(n.Kind)).Logger()

	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()

		err := d.sink.Send(callCtx, n.ExternalID, n.Text)
		if err == nil {
			return nil
		}
		var t temporary
		if errors.As(err, &t) && !t.Temporary() {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("notification delivery failed, retrying")
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(d.newBackOff(), ctx)); err != nil {
		d.metrics.ObserveNotification("failed")
		log.Error().Err(err).Int("attempts", attempt).Msg("notification not delivered")
		return
	}
	d.metrics.ObserveNotification("sent")
	log.Debug().Int("attempts", attempt).Msg("notification delivered")
}
