package events

import (
	"sync"

	"commitvault/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans an event out to several emitters in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// Broadcaster delivers emitted events to live subscribers and keeps a bounded
// backlog for late joiners. Slow subscribers drop events rather than block
// the emitting transition.
type Broadcaster struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan *types.Event
	backlog []*types.Event
	limit   int
	buffer  int
}

// NewBroadcaster creates a broadcaster retaining up to backlog events and
// buffering buffer events per subscriber.
func NewBroadcaster(backlog, buffer int) *Broadcaster {
	if backlog < 0 {
		backlog = 0
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{subs: make(map[uint64]chan *types.Event), limit: backlog, buffer: buffer}
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 {
		b.backlog = append(b.backlog, payload)
		if len(b.backlog) > b.limit {
			b.backlog = b.backlog[len(b.backlog)-b.limit:]
		}
	}
	for _, ch := range b.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribe registers a subscriber. It returns the live channel, a cancel
// function that must be called to release it, and a copy of the backlog.
func (b *Broadcaster) Subscribe() (<-chan *types.Event, func(), []*types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan *types.Event, b.buffer)
	b.subs[id] = ch
	backlog := append([]*types.Event(nil), b.backlog...)
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, backlog
}
