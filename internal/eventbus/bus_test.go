package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlersRunInPriorityOrder(t *testing.T) {
	b := New(16)
	defer b.Shutdown(time.Second)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	b.Subscribe(FileChanged, 10, func(ctx context.Context, evt Event) HandlerResult {
		mu.Lock()
		order = append(order, 10)
		mu.Unlock()
		return HandlerResult{}
	})
	b.Subscribe(FileChanged, 1, func(ctx context.Context, evt Event) HandlerResult {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return HandlerResult{}
	})
	b.Subscribe(FileChanged, 5, func(ctx context.Context, evt Event) HandlerResult {
		mu.Lock()
		order = append(order, 5)
		mu.Unlock()
		close(done)
		return HandlerResult{}
	})

	b.Publish(context.Background(), Event{Kind: FileChanged})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handlers")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, []int{1, 5, 10}, order)
}

func TestHandlerCanTransformPayloadForDownstream(t *testing.T) {
	b := New(16)
	defer b.Shutdown(time.Second)

	done := make(chan string, 1)
	b.Subscribe(NoteParsed, 1, func(ctx context.Context, evt Event) HandlerResult {
		return HandlerResult{Payload: "transformed"}
	})
	b.Subscribe(NoteParsed, 2, func(ctx context.Context, evt Event) HandlerResult {
		done <- evt.Payload.(string)
		return HandlerResult{}
	})

	b.Publish(context.Background(), Event{Kind: NoteParsed, Payload: "original"})
	select {
	case v := <-done:
		assert.Equal(t, "transformed", v)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestFailingHandlerDoesNotBlockChain(t *testing.T) {
	b := New(16)
	defer b.Shutdown(time.Second)

	second := make(chan struct{})
	b.Subscribe(ErrorEvent, 1, func(ctx context.Context, evt Event) HandlerResult { return HandlerResult{} })
	b.Subscribe(EntityStored, 1, func(ctx context.Context, evt Event) HandlerResult {
		return HandlerResult{Err: assertErr}
	})
	b.Subscribe(EntityStored, 2, func(ctx context.Context, evt Event) HandlerResult {
		close(second)
		return HandlerResult{}
	})

	b.Publish(context.Background(), Event{Kind: EntityStored})
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second handler never ran")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(16)
	defer b.Shutdown(time.Second)

	calls := make(chan struct{}, 10)
	tok := b.Subscribe(BlocksUpdated, 1, func(ctx context.Context, evt Event) HandlerResult {
		calls <- struct{}{}
		return HandlerResult{}
	})
	b.Unsubscribe(BlocksUpdated, tok)
	b.Publish(context.Background(), Event{Kind: BlocksUpdated})

	select {
	case <-calls:
		t.Fatal("handler should have been unsubscribed")
	case <-time.After(100 * time.Millisecond):
	}
}

var assertErr = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "boom" }
