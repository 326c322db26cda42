package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_SubscribeUntilDone(t *testing.T) {
	n := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := n.Subscribe(ctx)
	require.NotNil(t, ch)
	assert.Equal(t, 1, n.Listeners())

	cancel()
	require.Eventually(t, func() bool { return n.Listeners() == 0 }, time.Second, 5*time.Millisecond)

	_, open := <-ch
	assert.False(t, open, "channel closed after cancel")
}

func TestNotifier_Publish(t *testing.T) {
	n := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := n.Subscribe(ctx)
	ch2 := n.Subscribe(ctx)

	ev := n.Publish("b1")
	assert.Equal(t, Event{Version: 1, BuildID: "b1"}, ev)

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, ev, got)
		case <-time.After(time.Second):
			t.Fatal("listener did not receive event")
		}
	}
	assert.Equal(t, ev, n.Last())
}

func TestNotifier_SlowListenerGetsLatest(t *testing.T) {
	n := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := n.Subscribe(ctx)
	n.Publish("b1")
	n.Publish("b2")
	n.Publish("b3")

	got := <-ch
	assert.Equal(t, uint64(3), got.Version)
	assert.Equal(t, "b3", got.BuildID)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestNotifier_NoListeners(t *testing.T) {
	n := New()
	assert.Equal(t, Event{}, n.Last())
	assert.NotPanics(t, func() { n.Publish("") })
	assert.Equal(t, uint64(1), n.Last().Version)
}

func TestNotifier_ConcurrentPublish(t *testing.T) {
	n := New()
	ctx, cancel := context.WithCancel(context.Background())

	for range 5 {
		n.Subscribe(ctx)
	}

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Publish("x")
		}()
	}
	wg.Wait()
	cancel()

	assert.Equal(t, uint64(20), n.Last().Version)
	require.Eventually(t, func() bool { return n.Listeners() == 0 }, time.Second, 5*time.Millisecond)
}
