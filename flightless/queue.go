package flightless

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// messageQueue buffers inbound messages between the gateway handler and
// the single goroutine that runs the engine. Push never blocks: when the
// queue is full the message is dropped.
type messageQueue struct {
	ch      chan Message
	config  *QueueConfig
	logger  *slog.Logger
	now     func() time.Time
	dropped atomic.Int64
	expired atomic.Int64
}

func newMessageQueue(config *QueueConfig, logger *slog.Logger) *messageQueue {
	size := DefaultQueueSize
	if config != nil && config.Size > 0 {
		size = config.Size
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &messageQueue{
		ch:     make(chan Message, size),
		config: config,
		logger: logger.With(loggerNameKey, "queue"),
		now:    time.Now,
	}
}

// Push enqueues m, returning false if the queue was full
func (q *messageQueue) Push(m Message) bool {
	if m.Received.IsZero() {
		m.Received = q.now()
	}
	select {
	case q.ch <- m:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn(
			"queue full, dropping message",
			"queue_size", len(q.ch),
			slog.Group("message", messageLogAttrs(m)...),
		)
		return false
	}
}

// Pop blocks until a message is available or ctx is done. Messages
// older than QueueConfig.MaxAge are discarded.
func (q *messageQueue) Pop(ctx context.Context) (Message, error) {
	for {
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case m := <-q.ch:
			if q.config != nil && q.config.MaxAge > 0 {
				if age := q.now().Sub(m.Received); age > q.config.MaxAge {
					q.expired.Add(1)
					q.logger.WarnContext(
						ctx,
						"discarded old message",
						"age", age,
						"max_age", q.config.MaxAge,
						slog.Group("message", messageLogAttrs(m)...),
					)
					continue
				}
			}
			return m, nil
		}
	}
}

func (q *messageQueue) Len() int {
	return len(q.ch)
}
