package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/log"
)

// Event is one bus message. Topics are segmented with ':' or '.'
// (task:completed, checkpoint.reached).
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   map[string]any
}

// Handler receives events matching a subscription. Handlers for one
// event run sequentially in registration order and are awaited.
type Handler func(ctx context.Context, evt Event) error

type subscription struct {
	id      int
	pattern string
	handler Handler
}

// Bus is a process-wide pub/sub broker with glob topic subscriptions:
// '*' matches one topic segment, '**' any run of segments, '?' one
// character.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	logger zerolog.Logger
}

// NewBus creates an isolated bus instance
func NewBus() *Bus {
	return &Bus{logger: log.WithComponent("events")}
}

// Subscribe registers a handler for topics matching pattern and
// returns an unsubscribe function
func (b *Bus) Subscribe(pattern string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers an event to every matching subscriber, one at a
// time in registration order. Handler errors are logged and do not
// stop delivery to later subscribers.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !TopicMatches(s.pattern, evt.Topic) {
			continue
		}
		if err := s.handler(ctx, evt); err != nil {
			b.logger.Error().
				Err(err).
				Str("topic", evt.Topic).
				Str("pattern", s.pattern).
				Msg("Event handler failed")
		}
	}
}

// SubscriberCount returns the number of active subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// TopicMatches reports whether a glob pattern matches a topic. Both
// sides are segmented on ':' and '.' before matching.
func TopicMatches(pattern, topic string) bool {
	ok, err := doublestar.Match(normalize(pattern), normalize(topic))
	return err == nil && ok
}

func normalize(topic string) string {
	return strings.NewReplacer(":", "/", ".", "/").Replace(topic)
}
