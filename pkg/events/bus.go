package events

import (
	"log/slog"
	"sync"
)

// Handler receives events synchronously. Handlers must not assume
// ownership of slices inside the event.
type Handler func(Event)

// Bus is a per-call publish/subscribe hub. Emit delivers to kind
// subscribers first, then to catch-all taps, each in subscription
// order. A panicking handler is recovered and logged; it never stops
// delivery to the handlers after it.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]Handler
	taps []Handler
	log  *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subs: make(map[Kind][]Handler),
		log:  log,
	}
}

// Subscribe registers h for a single event kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], h)
}

// SubscribeAll registers h for every event kind. Taps run after the
// kind-specific subscribers.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, h)
}

// Emit delivers ev to all matching handlers on the calling goroutine.
func (b *Bus) Emit(ev Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	handlers := b.subs[ev.EventKind()]
	taps := b.taps
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, ev)
	}
	for _, h := range taps {
		b.dispatch(h, ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				slog.String("kind", string(ev.EventKind())),
				slog.Any("panic", r),
			)
		}
	}()
	h(ev)
}
