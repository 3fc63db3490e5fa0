package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
)

// TopicDeliveryRecorded is published once per appended delivery record.
const TopicDeliveryRecorded = "delivery.recorded"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// DeliveryEvent announces a delivery record to downstream consumers.
type DeliveryEvent struct {
	ID          string    `json:"id"`
	RecordID    int64     `json:"record_id"`
	MessageID   int       `json:"message_id"`
	UserID      int       `json:"user_id"`
	Recipient   string    `json:"recipient"`
	Outcome     string    `json:"outcome"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// DecodeEvent accepts an in-process event or its JSON encoding.
func DecodeEvent(payload any) (DeliveryEvent, error) {
	switch p := payload.(type) {
	case DeliveryEvent:
		return p, nil
	case *DeliveryEvent:
		if p == nil {
			return DeliveryEvent{}, fmt.Errorf("nil delivery event")
		}
		return *p, nil
	case []byte:
		var ev DeliveryEvent
		if err := json.Unmarshal(p, &ev); err != nil {
			return DeliveryEvent{}, fmt.Errorf("decode delivery event: %w", err)
		}
		return ev, nil
	}
	return DeliveryEvent{}, fmt.Errorf("unexpected payload type %T", payload)
}

// InMemoryQueue delivers to in-process subscribers with retry
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	log      *zap.Logger
	backoff  time.Duration
	wg       sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
		log:      logger.OrNop(log),
		backoff:  500 * time.Millisecond,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish hands the payload to every subscriber of topic. Publishing to a
// topic nobody listens to is not an error; events are best-effort.
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	for _, handler := range handlers {
		job := JobPayload{Topic: topic, Payload: payload, MaxRetries: 3}
		q.wg.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	defer q.wg.Done()
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		q.log.Warn("job failed",
			zap.String("topic", job.Topic), zap.Int("attempt", job.RetryCount), zap.Int("max_retries", job.MaxRetries), zap.Error(err))

		if job.RetryCount > job.MaxRetries {
			q.log.Error("job permanently failed", zap.String("topic", job.Topic), zap.Int("attempts", job.RetryCount))
			return
		}

		// Linear backoff before retry
		time.Sleep(time.Duration(job.RetryCount) * q.backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every in-flight job has finished.
func (q *InMemoryQueue) Wait() { q.wg.Wait() }
