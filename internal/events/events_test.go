package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
)

type mockQueue struct {
	sendFn func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error
}

func (m *mockQueue) SendWithRetry(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
	return m.sendFn(ctx, s, key, v)
}

func testEvent(jobID uuid.UUID) Event {
	return Event{
		Name:       AttemptCompleted,
		JobUID:     jobID,
		AttemptUID: uuid.New(),
		Kind:       model.KindRestore,
		At:         time.Now().UTC(),
	}
}

// PUBLISH - KEYED BY JOB, PAYLOAD ROUND-TRIPS
func TestPublisher_Publish_OK(t *testing.T) {
	jobID := uuid.New()
	ev := testEvent(jobID)

	var sentKey, sentPayload []byte
	queue := &mockQueue{
		sendFn: func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
			sentKey = key
			sentPayload = v
			return nil
		},
	}

	NewPublisher(queue).Publish(context.Background(), ev)

	require.Equal(t, jobID.String(), string(sentKey))

	var decoded Event
	require.NoError(t, json.Unmarshal(sentPayload, &decoded))
	require.Equal(t, ev.Name, decoded.Name)
	require.Equal(t, ev.AttemptUID, decoded.AttemptUID)
}

// PUBLISH - QUEUE FAILURE NEVER PROPAGATES
func TestPublisher_Publish_QueueDown(t *testing.T) {
	queue := &mockQueue{
		sendFn: func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
			return errors.New("kafka down")
		},
	}

	// best-effort contract: the caller's state transition already happened
	NewPublisher(queue).Publish(context.Background(), testEvent(uuid.New()))
}

// HUB - FAN-OUT PER JOB, OTHER JOBS STAY QUIET
func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()

	jobA := uuid.New()
	jobB := uuid.New()

	subA1, cancelA1 := hub.Subscribe(jobA.String())
	subA2, cancelA2 := hub.Subscribe(jobA.String())
	subB, cancelB := hub.Subscribe(jobB.String())
	defer cancelA1()
	defer cancelA2()
	defer cancelB()

	ev := testEvent(jobA)
	hub.Broadcast(ev)

	require.Equal(t, ev, <-subA1)
	require.Equal(t, ev, <-subA2)

	select {
	case got := <-subB:
		t.Fatalf("subscriber of another job received %v", got)
	default:
	}
}

// HUB - A STALLED SUBSCRIBER DROPS EVENTS INSTEAD OF BLOCKING
func TestHub_Broadcast_NonBlocking(t *testing.T) {
	hub := NewHub()

	jobID := uuid.New()
	sub, cancel := hub.Subscribe(jobID.String())
	defer cancel()

	for range 50 {
		hub.Broadcast(testEvent(jobID))
	}

	require.Len(t, sub, 16)
}

// HUB - CANCEL DETACHES AND CLOSES THE CHANNEL
func TestHub_Subscribe_Cancel(t *testing.T) {
	hub := NewHub()

	jobID := uuid.New()
	sub, cancel := hub.Subscribe(jobID.String())
	cancel()

	hub.Broadcast(testEvent(jobID))

	_, open := <-sub
	require.False(t, open)
}
