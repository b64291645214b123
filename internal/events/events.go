// Package events fans state-transition notifications out to interested
// clients. Transitions are published to a kafka topic so that worker-side
// inline completions reach API-side SSE subscribers; delivery is best-effort
// and clients re-fetch job state on reconnect.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

const (
	AttemptCompleted = "attempt_completed"
	AttemptFailed    = "attempt_failed"
)

type Event struct {
	Name       string     `json:"name"`
	JobUID     uuid.UUID  `json:"job_uid"`
	AttemptUID uuid.UUID  `json:"attempt_uid"`
	Kind       model.Kind `json:"kind"`
	Error      string     `json:"error,omitempty"`
	At         time.Time  `json:"at"`
}

// QueuePublisher - contract for the events topic producer
type QueuePublisher interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error
}

var retryStrategy = retry.Strategy{
	Attempts: 3,
	Delay:    500 * time.Millisecond,
	Backoff:  2,
}

type Publisher struct {
	queue QueuePublisher
}

func NewPublisher(q QueuePublisher) *Publisher {
	return &Publisher{queue: q}
}

// Publish is best-effort: a lost event is recoverable by re-fetching the job,
// so failures are logged and never fail the state transition itself.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Failed to marshal event %q for job %q: %v", ev.Name, ev.JobUID, err)
		return
	}
	if err := p.queue.SendWithRetry(ctx, retryStrategy, []byte(ev.JobUID.String()), payload); err != nil {
		log.Printf("Failed to publish event %q for job %q: %v", ev.Name, ev.JobUID, err)
	}
}

//----------------------------------

// Hub - in-process fan-out of events to per-job SSE subscriptions.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan Event]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[jobID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
		h.mu.Unlock()
		close(ch)
	}

	return ch, cancel
}

// Broadcast never blocks: a subscriber that can't keep up loses events and
// re-syncs through the job endpoint.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[ev.JobUID.String()] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Pump drains the events topic into the hub until the context is canceled.
func (h *Hub) Pump(ctx context.Context, queue <-chan kafkago.Message, cons *wbfkafka.Consumer) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-queue:
			if !ok {
				log.Println("Events channel closed, stopping hub pump...")
				return
			}
			var ev Event
			if err := json.Unmarshal(msg.Value, &ev); err != nil {
				log.Printf("Failed to decode event message: %v", err)
			} else {
				h.Broadcast(ev)
			}
			if err := cons.Commit(ctx, msg); err != nil {
				log.Printf("Failed to commit event-message: %v", err)
			}
		}
	}
}
