package sub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"money-service/internal/domain"
)

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (d *memDeduper) FirstSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDeduper) Forget(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

func encode(t *testing.T, evt *domain.Event) []byte {
	t.Helper()
	b, err := json.Marshal(evt)
	require.NoError(t, err)
	return b
}

func newTestConsumer(dedupe Deduper, handler Handler) *Consumer {
	return NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}, Topic: "money.events"}, dedupe, handler, zap.NewNop())
}

func TestProcess_DeliversOncePerEventID(t *testing.T) {
	var handled []string
	dedupe := &memDeduper{seen: map[string]bool{}}
	c := newTestConsumer(dedupe, func(_ context.Context, evt *domain.Event) error {
		handled = append(handled, evt.ID)
		return nil
	})

	msg := encode(t, &domain.Event{ID: "evt-1", Type: domain.EventPurchaseRequested})
	require.NoError(t, c.Process(testContext(t), msg))
	require.NoError(t, c.Process(testContext(t), msg))
	assert.Equal(t, []string{"evt-1"}, handled)
}

func TestProcess_FailedHandlerIsRetriedOnRedelivery(t *testing.T) {
	calls := 0
	dedupe := &memDeduper{seen: map[string]bool{}}
	c := newTestConsumer(dedupe, func(context.Context, *domain.Event) error {
		calls++
		if calls == 1 {
			return errors.New("database down")
		}
		return nil
	})

	msg := encode(t, &domain.Event{ID: "evt-2", Type: domain.EventPaymentSucceeded})
	assert.Error(t, c.Process(testContext(t), msg))
	require.NoError(t, c.Process(testContext(t), msg))
	assert.Equal(t, 2, calls)
}

func TestProcess_DedupeOutageStillDelivers(t *testing.T) {
	calls := 0
	c := newTestConsumer(&memDeduper{err: errors.New("redis down")}, func(context.Context, *domain.Event) error {
		calls++
		return nil
	})

	require.NoError(t, c.Process(testContext(t), encode(t, &domain.Event{ID: "evt-3"})))
	assert.Equal(t, 1, calls)
}

func TestProcess_DropsUndecodable(t *testing.T) {
	c := newTestConsumer(nil, func(context.Context, *domain.Event) error {
		t.Fatal("handler must not run")
		return nil
	})
	assert.NoError(t, c.Process(testContext(t), []byte("not json")))
	assert.NoError(t, c.Process(testContext(t), []byte(`{"type":"purchase.requested"}`)))
}

func TestDeliver_RetriesSameMessageUntilHandled(t *testing.T) {
	calls := 0
	dedupe := &memDeduper{seen: map[string]bool{}}
	c := newTestConsumer(dedupe, func(context.Context, *domain.Event) error {
		calls++
		if calls < 3 {
			return errors.New("database down")
		}
		return nil
	})
	var waits []time.Duration
	c.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	msg := kafka.Message{Offset: 7, Value: encode(t, &domain.Event{ID: "evt-5", Type: domain.EventWithdrawalFailed})}
	require.NoError(t, c.deliver(testContext(t), msg))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{retryBackoff, 2 * retryBackoff}, waits)
}

func TestDeliver_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	calls := 0
	c := newTestConsumer(nil, func(context.Context, *domain.Event) error {
		calls++
		return errors.New("database down")
	})
	c.wait = func(ctx context.Context, _ time.Duration) error {
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	}

	err := c.deliver(ctx, kafka.Message{Value: encode(t, &domain.Event{ID: "evt-6"})})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, retryBackoff, backoff(0))
	assert.Equal(t, 4*retryBackoff, backoff(2))
	assert.Equal(t, maxBackoff, backoff(6))
	assert.Equal(t, maxBackoff, backoff(100))
}
