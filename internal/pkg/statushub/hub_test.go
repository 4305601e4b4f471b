package statushub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsignal/DocSignal/internal/pkg/docstate"
)

func statusSource(statuses map[string]string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, documentID string) (string, error) {
		return statuses[documentID], nil
	}
}

func newTestHub(statuses map[string]string) *Hub {
	return NewHub(Options{
		SubscriberBuffer:  4,
		HeartbeatInterval: time.Hour, // driven manually in tests
		TerminalGrace:     25 * time.Millisecond,
		CurrentStatus:     statusSource(statuses),
	})
}

func recvFrame(t *testing.T, ch <-chan Frame) Frame {
	t.Helper()
	select {
	case frame, ok := <-ch:
		require.True(t, ok, "channel closed before expected frame")
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func assertClosed(t *testing.T, ch <-chan Frame) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed within deadline")
		}
	}
}

func TestSubscribeDeliversBaseline(t *testing.T) {
	hub := newTestHub(map[string]string{"doc-1": docstate.STATUS_CHUNKED})

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	defer sub.Close()

	frame := recvFrame(t, sub.C)
	assert.Equal(t, EventStatusUpdate, frame.Event)
	assert.Equal(t, docstate.STATUS_CHUNKED, frame.Status)
	assert.Equal(t, "doc-1", frame.DocumentID)
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := newTestHub(map[string]string{"doc-1": docstate.STATUS_PENDING})

	first, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	defer first.Close()
	second, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	defer second.Close()

	recvFrame(t, first.C)  // baseline
	recvFrame(t, second.C) // baseline

	hub.Publish("doc-1", docstate.STATUS_INDEXED)

	for _, sub := range []*Subscription{first, second} {
		frame := recvFrame(t, sub.C)
		assert.Equal(t, docstate.STATUS_INDEXED, frame.Status)
	}
}

func TestPublishIsScopedPerDocument(t *testing.T) {
	hub := newTestHub(map[string]string{
		"doc-1": docstate.STATUS_PENDING,
		"doc-2": docstate.STATUS_PENDING,
	})

	sub, err := hub.Subscribe(context.Background(), "doc-2")
	require.NoError(t, err)
	defer sub.Close()
	recvFrame(t, sub.C) // baseline

	hub.Publish("doc-1", docstate.STATUS_INDEXED)

	select {
	case frame := <-sub.C:
		t.Fatalf("doc-2 subscriber received foreign frame %+v", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTerminalPublishClosesAfterGrace(t *testing.T) {
	hub := newTestHub(map[string]string{"doc-1": docstate.STATUS_KEYWORD_INDEXED})

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	recvFrame(t, sub.C) // baseline

	hub.Publish("doc-1", docstate.STATUS_READY)

	frame := recvFrame(t, sub.C)
	assert.Equal(t, docstate.STATUS_READY, frame.Status)

	assertClosed(t, sub.C)
	assert.Equal(t, 0, hub.SubscriberCount("doc-1"))
}

func TestLateSubscriberAfterTerminalGetsBaselineAndClose(t *testing.T) {
	hub := newTestHub(map[string]string{"doc-1": docstate.STATUS_READY})

	hub.Publish("doc-1", docstate.STATUS_READY)

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)

	frame := recvFrame(t, sub.C)
	assert.Equal(t, docstate.STATUS_READY, frame.Status)
	assertClosed(t, sub.C)
}

func TestSubscribeTerminalBaselineClosesImmediately(t *testing.T) {
	// Even with no publish ever seen by this hub instance, a subscriber
	// whose baseline is already terminal must not be parked on a document
	// that will never publish again.
	hub := newTestHub(map[string]string{"doc-1": docstate.STATUS_READY})

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)

	frame := recvFrame(t, sub.C)
	assert.Equal(t, docstate.STATUS_READY, frame.Status)
	assertClosed(t, sub.C)
}

func TestSubscribeAfterTerminalTeardownSeesTerminal(t *testing.T) {
	hub := newTestHub(map[string]string{"doc-1": docstate.STATUS_READY})

	// Terminal publish with nobody listening, then the grace period runs
	// out and the registry is torn down.
	hub.Publish("doc-1", docstate.STATUS_READY)
	time.Sleep(60 * time.Millisecond)

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)

	frame := recvFrame(t, sub.C)
	assert.Equal(t, docstate.STATUS_READY, frame.Status)
	assertClosed(t, sub.C)
}

func TestSubscribeDeletedBaselineClosesWithDeletedFrame(t *testing.T) {
	hub := newTestHub(map[string]string{"doc-1": docstate.STATUS_DELETED})

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)

	frame := recvFrame(t, sub.C)
	assert.Equal(t, EventDocumentDeleted, frame.Event)
	assertClosed(t, sub.C)
}

func TestPublishDuringSubscribeIsNotLost(t *testing.T) {
	// A publish that lands while the subscription's baseline is being
	// resolved must wait for the registration and then be delivered.
	var hub *Hub
	published := make(chan struct{})
	var once sync.Once

	hub = NewHub(Options{
		SubscriberBuffer:  4,
		HeartbeatInterval: time.Hour,
		TerminalGrace:     25 * time.Millisecond,
		CurrentStatus: func(ctx context.Context, documentID string) (string, error) {
			once.Do(func() {
				go func() {
					hub.Publish("doc-1", docstate.STATUS_INDEXED)
					close(published)
				}()
			})
			return docstate.STATUS_PENDING, nil
		},
	})

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publish did not complete")
	}

	frame := recvFrame(t, sub.C)
	assert.Equal(t, docstate.STATUS_PENDING, frame.Status, "baseline first")
	frame = recvFrame(t, sub.C)
	assert.Equal(t, docstate.STATUS_INDEXED, frame.Status, "racing publish delivered after registration")
}

func TestPublishDeletedClosesImmediately(t *testing.T) {
	hub := newTestHub(map[string]string{"doc-1": docstate.STATUS_INDEXED})

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	recvFrame(t, sub.C) // baseline

	hub.PublishDeleted("doc-1")

	frame := recvFrame(t, sub.C)
	assert.Equal(t, EventDocumentDeleted, frame.Event)
	assertClosed(t, sub.C)
	assert.Equal(t, 0, hub.SubscriberCount("doc-1"))
}

func TestFullBufferEvictsDeadSubscriber(t *testing.T) {
	hub := NewHub(Options{
		SubscriberBuffer:  1,
		HeartbeatInterval: time.Hour,
		TerminalGrace:     25 * time.Millisecond,
		CurrentStatus:     statusSource(map[string]string{"doc-1": docstate.STATUS_PENDING}),
	})

	dead, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	live, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	defer live.Close()
	recvFrame(t, live.C) // baseline; dead never drains

	// Baseline fills the dead subscriber's single-slot buffer, so the next
	// publish cannot be delivered and must evict it.
	hub.Publish("doc-1", docstate.STATUS_CHUNKED)

	assert.Equal(t, 1, hub.SubscriberCount("doc-1"))
	frame := recvFrame(t, live.C)
	assert.Equal(t, docstate.STATUS_CHUNKED, frame.Status)

	// The evicted channel still holds the undrained baseline, then closes.
	frame = recvFrame(t, dead.C)
	assert.Equal(t, docstate.STATUS_PENDING, frame.Status)
	assertClosed(t, dead.C)
}

func TestHeartbeatEvictsAfterMaxMisses(t *testing.T) {
	hub := NewHub(Options{
		SubscriberBuffer:    1,
		HeartbeatInterval:   time.Hour,
		MaxMissedHeartbeats: 2,
		TerminalGrace:       25 * time.Millisecond,
		CurrentStatus:       statusSource(map[string]string{"doc-1": docstate.STATUS_PENDING}),
	})

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	// Buffer holds the undrained baseline, so heartbeats cannot land.

	hub.sweepHeartbeats()
	assert.Equal(t, 1, hub.SubscriberCount("doc-1"), "one miss must not evict yet")

	hub.sweepHeartbeats()
	assert.Equal(t, 0, hub.SubscriberCount("doc-1"))

	recvFrame(t, sub.C) // baseline drains out
	assertClosed(t, sub.C)
}

func TestHeartbeatDeliveryResetsMissCounter(t *testing.T) {
	hub := NewHub(Options{
		SubscriberBuffer:    1,
		HeartbeatInterval:   time.Hour,
		MaxMissedHeartbeats: 2,
		TerminalGrace:       25 * time.Millisecond,
		CurrentStatus:       statusSource(map[string]string{"doc-1": docstate.STATUS_PENDING}),
	})

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)
	defer sub.Close()

	hub.sweepHeartbeats() // miss 1, buffer still holds the baseline
	recvFrame(t, sub.C)   // drain baseline

	hub.sweepHeartbeats() // lands, counter resets
	frame := recvFrame(t, sub.C)
	assert.Equal(t, EventHeartbeat, frame.Event)

	hub.sweepHeartbeats() // earlier miss must not have accumulated
	assert.Equal(t, 1, hub.SubscriberCount("doc-1"))
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := newTestHub(map[string]string{"doc-1": docstate.STATUS_PENDING})

	sub, err := hub.Subscribe(context.Background(), "doc-1")
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.SubscriberCount("doc-1"))
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	hub := newTestHub(map[string]string{})
	hub.Publish("nobody-home", docstate.STATUS_INDEXED)
	hub.PublishDeleted("nobody-home")
}
