package wsession

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultMaxQueueSize = 100

// QueuedMessage is an outbound frame waiting for an open transport.
type QueuedMessage struct {
	ID         string
	Type       string
	Payload    json.RawMessage
	EnqueuedAt time.Time
	Retries    uint
}

func (m QueuedMessage) frame() Frame {
	return Frame{Type: m.Type, Payload: m.Payload}
}

func newQueuedMessage(f Frame, now time.Time) QueuedMessage {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return QueuedMessage{
		ID:         id.String(),
		Type:       f.Type,
		Payload:    f.Payload,
		EnqueuedAt: now,
	}
}

// messageQueue is a bounded FIFO. When full, the newest message is rejected rather than evicting
// older ones, so replay keeps the earliest client intent.
type messageQueue struct {
	mu      sync.Mutex
	items   []QueuedMessage
	max     int
	logger  Logger
	metrics *Metrics
}

func newMessageQueue(logger Logger, max int, metrics *Metrics) *messageQueue {
	if max <= 0 {
		max = DefaultMaxQueueSize
	}
	return &messageQueue{
		max:     max,
		logger:  logger.WithField("component", "message_queue"),
		metrics: metrics,
	}
}

// Enqueue appends m and reports whether it was accepted.
func (q *messageQueue) Enqueue(m QueuedMessage) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.max {
		q.logger.Warnf("queue full (%d), dropping %s message %s", q.max, m.Type, m.ID)
		q.metrics.queueDropped()
		return false
	}

	q.items = append(q.items, m)
	q.metrics.setQueueDepth(len(q.items))
	return true
}

// requeue puts msgs back at the head, ahead of anything enqueued meanwhile. Entries that do not
// fit are dropped from the tail.
func (q *messageQueue) requeue(msgs []QueuedMessage) int {
	if len(msgs) == 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]QueuedMessage, 0, len(msgs)+len(q.items))
	merged = append(merged, msgs...)
	merged = append(merged, q.items...)

	dropped := 0
	if len(merged) > q.max {
		dropped = len(merged) - q.max
		for _, m := range merged[q.max:] {
			q.logger.Warnf("queue full (%d), dropping %s message %s on requeue", q.max, m.Type, m.ID)
			q.metrics.queueDropped()
		}
		merged = merged[:q.max]
	}

	q.items = merged
	q.metrics.setQueueDepth(len(q.items))
	return dropped
}

// DrainAll empties the queue and returns its contents in enqueue order.
func (q *messageQueue) DrainAll() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	q.metrics.setQueueDepth(0)
	return items
}

func (q *messageQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()

	q.metrics.setQueueDepth(0)
}

func (q *messageQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
