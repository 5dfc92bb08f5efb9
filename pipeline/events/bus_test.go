package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/apexmarketing/contentpipeline/pipeline/logging"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(logging.NopLogger{})
	var count atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(TypeEscalationRaised, func(_ context.Context, _ Event) {
			count.Add(1)
		})
	}

	bus.Publish(context.Background(), EscalationRaised{DeliverableID: "d-1", Timestamp: time.Now()})
	bus.Flush()
	assert.Equal(t, int32(3), count.Load())
}

func TestPublishFiltersByType(t *testing.T) {
	bus := NewBus(logging.NopLogger{})
	var escalations, reviews atomic.Int32
	bus.Subscribe(TypeEscalationRaised, func(_ context.Context, _ Event) { escalations.Add(1) })
	bus.Subscribe(TypeDeliverableReviewed, func(_ context.Context, _ Event) { reviews.Add(1) })

	bus.Publish(context.Background(), DeliverableReviewed{DeliverableID: "d-1"})
	bus.Flush()
	assert.Zero(t, escalations.Load())
	assert.Equal(t, int32(1), reviews.Load())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(logging.NopLogger{})
	var count atomic.Int32
	unsub := bus.Subscribe(TypeAuditRunCompleted, func(_ context.Context, _ Event) { count.Add(1) })

	bus.Publish(context.Background(), AuditRunCompleted{RunID: "r-1"})
	bus.Flush()
	unsub()
	bus.Publish(context.Background(), AuditRunCompleted{RunID: "r-2"})
	bus.Flush()

	assert.Equal(t, int32(1), count.Load())
}

func TestPanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := NewBus(logging.NopLogger{})
	var delivered atomic.Int32
	bus.Subscribe(TypeEscalationRaised, func(_ context.Context, _ Event) { panic("bad subscriber") })
	bus.Subscribe(TypeEscalationRaised, func(_ context.Context, _ Event) { delivered.Add(1) })

	bus.Publish(context.Background(), EscalationRaised{DeliverableID: "d-1"})
	bus.Flush()
	assert.Equal(t, int32(1), delivered.Load())
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus(logging.NopLogger{})
	var count atomic.Int32
	bus.Subscribe(TypeDeliverableReviewed, func(_ context.Context, _ Event) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), DeliverableReviewed{DeliverableID: "d"})
		}()
	}
	wg.Wait()
	bus.Flush()
	assert.Equal(t, int32(20), count.Load())
}

func TestPublishDoesNotWaitForSlowSubscriber(t *testing.T) {
	bus := NewBus(logging.NopLogger{})
	release := make(chan struct{})
	bus.Subscribe(TypeEscalationRaised, func(_ context.Context, _ Event) {
		<-release
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), EscalationRaised{DeliverableID: "d-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)
	bus.Flush()
}

func TestHandlerContextSurvivesPublisherCancellation(t *testing.T) {
	bus := NewBus(logging.NopLogger{})
	errs := make(chan error, 1)
	bus.Subscribe(TypeEscalationRaised, func(ctx context.Context, _ Event) {
		errs <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, EscalationRaised{DeliverableID: "d-1"})
	bus.Flush()

	assert.NoError(t, <-errs, "handlers must outlive the publishing stage's context")
}
