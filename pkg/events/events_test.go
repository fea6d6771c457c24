package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	received := make(chan SyncEvent, 1)
	b.Subscribe(func(ctx context.Context, ev SyncEvent) {
		received <- ev
	})

	b.Publish(SyncEvent{DocumentID: "doc-1", Channel: ChannelSync, Phase: PhaseSucceeded})

	select {
	case ev := <-received:
		assert.Equal(t, "doc-1", ev.DocumentID)
		assert.NotEmpty(t, ev.ID, "Publish stamps an ID when one isn't set")
		assert.False(t, ev.Timestamp.IsZero(), "Publish stamps a timestamp when one isn't set")
	case <-time.After(time.Second):
		t.Fatal("event was never delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	count := 0
	sub := b.Subscribe(func(ctx context.Context, ev SyncEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	b.Unsubscribe(sub)

	b.Publish(SyncEvent{DocumentID: "doc-1"})

	// Publish another event through a second subscriber to get a
	// synchronization point without sleeping arbitrarily.
	done := make(chan struct{})
	b.Subscribe(func(ctx context.Context, ev SyncEvent) {
		close(done)
	})
	b.Publish(SyncEvent{DocumentID: "doc-2"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sentinel event was never delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count, "unsubscribed handler must not receive further events")
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := New()
	defer b.Close()

	const n = 3
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		b.Subscribe(func(ctx context.Context, ev SyncEvent) {
			wg.Done()
		})
	}
	b.Publish(SyncEvent{DocumentID: "doc-1"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not every subscriber received the event")
	}
}

func TestCloseIsNotReentrant(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	assert.Error(t, b.Close(), "closing an already-closed bus reports an error rather than panicking")
}

func TestFullQueueDropsRatherThanBlocks(t *testing.T) {
	b := New(WithBufferSize(1))
	defer b.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	var startOnce sync.Once
	b.Subscribe(func(ctx context.Context, ev SyncEvent) {
		startOnce.Do(func() { close(started) })
		<-block
	})

	// The first publish is picked up by the worker and blocks in the
	// handler; the buffer still has room for one more.
	b.Publish(SyncEvent{DocumentID: "first"})
	<-started
	b.Publish(SyncEvent{DocumentID: "second"})

	done := make(chan struct{})
	go func() {
		b.Publish(SyncEvent{DocumentID: "third"}) // must not block even though the queue is full
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue instead of dropping")
	}
	close(block)
}
