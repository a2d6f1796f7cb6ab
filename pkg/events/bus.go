package events

import (
	"log/slog"
	"strings"
	"sync"
)

// Handler consumes one event. Errors and panics are logged and contained;
// they never reach other handlers or the producer.
type Handler func(Event) error

// matcher is a pattern compiled at subscribe time. Patterns are glob-style
// over event_type: "*" matches everything, "entity.*" matches the family,
// anything else matches exactly.
type matcher struct {
	all    bool
	prefix string
	exact  string
}

func compilePattern(pattern string) matcher {
	switch {
	case pattern == "*":
		return matcher{all: true}
	case strings.HasSuffix(pattern, ".*"):
		return matcher{prefix: strings.TrimSuffix(pattern, "*")}
	default:
		return matcher{exact: pattern}
	}
}

func (m matcher) matches(eventType string) bool {
	switch {
	case m.all:
		return true
	case m.prefix != "":
		return strings.HasPrefix(eventType, m.prefix)
	default:
		return m.exact == eventType
	}
}

type subscriber struct {
	name     string
	matchers []matcher
	handler  Handler
	queue    chan Event
}

func (s *subscriber) wants(eventType string) bool {
	for _, m := range s.matchers {
		if m.matches(eventType) {
			return true
		}
	}
	return false
}

// Bus is the in-process event bus. Publishing is non-blocking for the
// producer; each subscriber runs its handler sequentially on its own
// goroutine, so events published in order are handled in order per
// subscriber, while subscribers run concurrently with each other.
type Bus struct {
	mu       sync.RWMutex
	subs     []*subscriber
	inflight sync.WaitGroup
	logger   *slog.Logger
	closed   bool
}

// queueDepth bounds each subscriber's backlog. Delivery is best-effort: a
// full queue drops the event for that subscriber with a log line.
const queueDepth = 1024

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a named handler for the given patterns. Order of
// subscription is irrelevant.
func (b *Bus) Subscribe(name string, handler Handler, patterns ...string) {
	ms := make([]matcher, 0, len(patterns))
	for _, p := range patterns {
		ms = append(ms, compilePattern(p))
	}
	sub := &subscriber{
		name:     name,
		matchers: ms,
		handler:  handler,
		queue:    make(chan Event, queueDepth),
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.run(sub)
}

func (b *Bus) run(sub *subscriber) {
	for ev := range sub.queue {
		b.deliver(sub, ev)
		b.inflight.Done()
	}
}

func (b *Bus) deliver(sub *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscriber", sub.name, "event_type", ev.Type(), "panic", r)
		}
	}()
	if err := sub.handler(ev); err != nil {
		b.logger.Warn("event handler failed",
			"subscriber", sub.name, "event_type", ev.Type(), "error", err)
	}
}

// Publish fans the event out to every matching subscriber. It never blocks
// the producer and never returns handler errors.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !sub.wants(ev.Type()) {
			continue
		}
		b.inflight.Add(1)
		select {
		case sub.queue <- ev:
		default:
			b.inflight.Done()
			b.logger.Warn("subscriber queue full, dropping event",
				"subscriber", sub.name, "event_type", ev.Type())
		}
	}
}

// Drain waits until all queued deliveries have been handled. Used by tests
// and by graceful shutdown before the final usage flush.
func (b *Bus) Drain() {
	b.inflight.Wait()
}

// Close drains and stops all subscriber goroutines.
func (b *Bus) Close() {
	b.inflight.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.queue)
	}
}
