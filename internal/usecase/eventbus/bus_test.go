package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seerlord/internal/domain"
	"seerlord/internal/infra/logger"
)

func TestBusTypedSubscription(t *testing.T) {
	bus := New(logger.Discard())
	defer bus.Close()

	var mu sync.Mutex
	var got []domain.Event

	unsub := bus.Subscribe(domain.EventSkillRetrieved, func(ctx context.Context, e domain.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer unsub()

	bus.Publish(context.Background(), domain.NewEvent(domain.EventSkillRetrieved, map[string]string{"name": "LearnGerman"}))
	bus.Publish(context.Background(), domain.NewEvent(domain.EventPlanCreated, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.EventSkillRetrieved, got[0].Type)
	assert.Equal(t, "LearnGerman", got[0].Payload["name"])
}

func TestBusSubscribeAll(t *testing.T) {
	bus := New(logger.Discard())
	defer bus.Close()

	var count sync.WaitGroup
	count.Add(2)
	bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		count.Done()
	})

	bus.Publish(context.Background(), domain.NewEvent(domain.EventSkillEvolved, nil))
	bus.Publish(context.Background(), domain.NewEvent(domain.EventTaskCompleted, nil))

	done := make(chan struct{})
	go func() { count.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers did not run")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := New(logger.Discard())
	defer bus.Close()

	called := make(chan struct{}, 4)
	unsub := bus.Subscribe(domain.EventSkillEvolved, func(ctx context.Context, e domain.Event) {
		called <- struct{}{}
	})
	unsub()

	bus.Publish(context.Background(), domain.NewEvent(domain.EventSkillEvolved, nil))
	bus.Close()

	select {
	case <-called:
		t.Fatal("handler ran after unsubscribe")
	default:
	}
}

func TestBusRecoversPanickingHandler(t *testing.T) {
	bus := New(logger.Discard())

	bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		panic("boom")
	})

	bus.Publish(context.Background(), domain.NewEvent(domain.EventTaskFailed, nil))
	// Close waits for the handler; the panic must not escape the bus.
	bus.Close()
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := New(logger.Discard())
	bus.Close()

	called := false
	bus.SubscribeAll(func(ctx context.Context, e domain.Event) { called = true })
	bus.Publish(context.Background(), domain.NewEvent(domain.EventPlanCreated, nil))
	assert.False(t, called)
}

func TestBusCloseDuringPublishes(t *testing.T) {
	bus := New(logger.Discard())

	var delivered atomic.Int64
	bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		delivered.Add(1)
	})

	// Publishers racing Close must either deliver before Close returns or
	// drop the event; Close must account for every started handler.
	var publishers sync.WaitGroup
	for i := 0; i < 8; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(context.Background(), domain.NewEvent(domain.EventPlanCreated, nil))
			}
		}()
	}
	bus.Close()
	closedAt := delivered.Load()
	publishers.Wait()

	// Nothing slipped in after Close observed quiescence.
	assert.Equal(t, closedAt, delivered.Load())
}
