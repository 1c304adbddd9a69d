package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deposit-ledger/internal/core/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	externalID int64
	text       string
}

// fakeSink fails the first failures calls with err, then succeeds.
type fakeSink struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    atomic.Int32
	sent     []sentMessage
}

func (f *fakeSink) Send(ctx context.Context, externalID int64, text string) error {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	f.sent = append(f.sent, sentMessage{externalID, text})
	return nil
}

func (f *fakeSink) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "chat not found" }
func (permanentErr) Temporary() bool { return false }

func newTestDispatcher(sink *fakeSink, queueSize int) *NotificationDispatcher {
	d := NewNotificationDispatcher(sink, DispatcherConfig{
		QueueSize:       queueSize,
		Workers:         2,
		AttemptTimeout:  time.Second,
		MaxRetryElapsed: time.Second,
	}, nil, zerolog.Nop())
	d.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
	}
	return d
}

func TestNotificationDispatcher_DeliversQueued(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(sink, 10)
	d.Start(context.Background())

	assert.True(t, d.Enqueue(domain.Notification{AccountID: 1, ExternalID: 100, Text: "a"}))
	assert.True(t, d.Enqueue(domain.Notification{AccountID: 2, ExternalID: 200, Text: "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.ElementsMatch(t, []sentMessage{{100, "a"}, {200, "b"}}, sink.messages())
}

func TestNotificationDispatcher_RetriesTransientErrors(t *testing.T) {
	sink := &fakeSink{failures: 2, err: errors.New("502")}
	d := newTestDispatcher(sink, 10)
	d.Start(context.Background())

	d.Enqueue(domain.Notification{ExternalID: 1, Text: "x"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.Equal(t, int32(3), sink.calls.Load())
	assert.Len(t, sink.messages(), 1)
}

func TestNotificationDispatcher_PermanentErrorStopsRetrying(t *testing.T) {
	sink := &fakeSink{failures: 10, err: permanentErr{}}
	d := newTestDispatcher(sink, 10)
	d.Start(context.Background())

	d.Enqueue(domain.Notification{ExternalID: 1, Text: "x"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.Equal(t, int32(1), sink.calls.Load())
	assert.Empty(t, sink.messages())
}

func TestNotificationDispatcher_DropsWhenFull(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(sink, 1)
	// Not started: nothing drains the queue.

	assert.True(t, d.Enqueue(domain.Notification{ExternalID: 1}))
	assert.False(t, d.Enqueue(domain.Notification{ExternalID: 2}))
}

func TestNotificationDispatcher_RejectsAfterStop(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(sink, 10)
	d.Start(context.Background())

	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.Enqueue(domain.Notification{ExternalID: 1}))
	require.NoError(t, d.Stop(context.Background()), "stop is idempotent")
}

func TestNotificationDispatcher_StopWithoutStartReturnsAtOnce(t *testing.T) {
	sink := &fakeSink{}
	d := newTestDispatcher(sink, 10)
	require.True(t, d.Enqueue(domain.Notification{ExternalID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, d.Stop(ctx))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Zero(t, sink.calls.Load())

	d.Start(context.Background())
	assert.False(t, d.Enqueue(domain.Notification{ExternalID: 2}))
	require.NoError(t, d.Stop(context.Background()))
}
