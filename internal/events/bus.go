package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/teleclaude/teleclaude/internal/common/logger"
)

// queueCapacity bounds each consumer's undelivered backlog. When a consumer
// falls this far behind, its oldest event is dropped and the gap is reported
// through a synthetic error event at the next read.
const queueCapacity = 64

// ErrClosed is returned by Next after the consumer has been closed.
var ErrClosed = errors.New("events: consumer closed")

// Bus fans events out per session. Publishing never blocks: slow consumers
// lose their oldest events rather than stalling the producer.
type Bus struct {
	mu        sync.Mutex
	consumers map[string][]*Consumer
	logger    *logger.Logger
}

// NewBus creates an event bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		consumers: make(map[string][]*Consumer),
		logger:    log.WithFields(zap.String("component", "events")),
	}
}

// Publish delivers the event to every consumer subscribed to its session.
func (b *Bus) Publish(ev *Event) {
	b.mu.Lock()
	consumers := make([]*Consumer, len(b.consumers[ev.SessionID]))
	copy(consumers, b.consumers[ev.SessionID])
	b.mu.Unlock()

	for _, c := range consumers {
		c.enqueue(ev)
	}

	b.logger.Debug("published event",
		zap.String("session_id", ev.SessionID),
		zap.String("kind", string(ev.Kind)))
}

// Subscribe attaches a new consumer to a session's feed.
func (b *Bus) Subscribe(sessionID string) *Consumer {
	c := &Consumer{
		bus:       b,
		sessionID: sessionID,
		notify:    make(chan struct{}, 1),
	}

	b.mu.Lock()
	b.consumers[sessionID] = append(b.consumers[sessionID], c)
	b.mu.Unlock()

	return c
}

func (b *Bus) unsubscribe(c *Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.consumers[c.sessionID]
	for i, sub := range subs {
		if sub == c {
			b.consumers[c.sessionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.consumers[c.sessionID]) == 0 {
		delete(b.consumers, c.sessionID)
	}
}

// Consumer is one attached reader of a session's event feed. Events arrive in
// publish order; a consumer that overruns its queue sees a synthetic error
// event marking the gap before real traffic resumes.
type Consumer struct {
	bus       *Bus
	sessionID string

	mu     sync.Mutex
	queue  []*Event
	lossy  bool
	closed bool
	notify chan struct{}
}

func (c *Consumer) enqueue(ev *Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= queueCapacity {
		c.queue = c.queue[1:]
		c.lossy = true
		c.bus.logger.Warn("consumer queue full, dropping oldest event",
			zap.String("session_id", c.sessionID))
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Next blocks until the next event is available or ctx is cancelled.
// Delivering a return_to_terminal or superseded event closes the consumer.
func (c *Consumer) Next(ctx context.Context) (*Event, error) {
	for {
		c.mu.Lock()
		if c.lossy {
			c.lossy = false
			c.mu.Unlock()
			return New(c.sessionID, KindError, "event stream overflow, some events were dropped"), nil
		}
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			if ev.terminal() {
				c.Close()
			}
			return ev, nil
		}
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.notify:
		}
	}
}

// Close detaches the consumer from the bus. Safe to call more than once.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.bus.unsubscribe(c)

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// SessionID returns the session this consumer is attached to.
func (c *Consumer) SessionID() string {
	return c.sessionID
}
