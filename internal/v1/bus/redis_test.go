package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestNilServiceIsNoOp(t *testing.T) {
	var svc *Service

	assert.NoError(t, svc.Publish(context.Background(), "room-1", "system", nil))
	assert.NoError(t, svc.Ping(context.Background()))
	assert.NoError(t, svc.Close())
	assert.Nil(t, svc.Client())

	// Subscribe on a nil service must not spawn anything.
	svc.Subscribe(context.Background(), "room-1", nil, func(PubSubPayload) {
		t.Fatal("handler must never run in single-instance mode")
	})
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan PubSubPayload, 1)
	var wg sync.WaitGroup
	svc.Subscribe(ctx, "room-1", &wg, func(p PubSubPayload) {
		received <- p
	})

	// Give the subscriber a moment to register before publishing.
	require.Eventually(t, func() bool {
		err := svc.Publish(context.Background(), "room-1", "playback",
			map[string]any{"action": "play"})
		require.NoError(t, err)
		select {
		case p := <-received:
			assert.Equal(t, "room-1", p.RoomID)
			assert.Equal(t, "playback", p.Event)
			assert.JSONEq(t, `{"action":"play"}`, string(p.Payload))
			return true
		default:
			return false
		}
	}, 2*time.Second, 50*time.Millisecond)

	cancel()
	wg.Wait()
}

func TestPublishIsRoomScoped(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	other := make(chan PubSubPayload, 1)
	svc.Subscribe(ctx, "room-other", &wg, func(p PubSubPayload) {
		other <- p
	})

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, svc.Publish(context.Background(), "room-1", "system", nil))

	select {
	case <-other:
		t.Fatal("event leaked across room channels")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	wg.Wait()
}

func TestPing(t *testing.T) {
	svc := newTestService(t)
	assert.NoError(t, svc.Ping(context.Background()))
}

func TestNewService_ConnectionFailure(t *testing.T) {
	_, err := NewService("127.0.0.1:1", "")
	require.Error(t, err)
}
