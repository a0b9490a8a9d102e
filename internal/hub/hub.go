package hub

import (
	"log"
	"sync"
	"time"

	"nodewatch/internal/protocol"
	"nodewatch/internal/types"
)

type Kind int

const (
	EventState Kind = iota
	EventFrame
	EventError
)

func (k Kind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventFrame:
		return "frame"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one state transition, inbound frame or surfaced error of a
// connection manager.
type Event struct {
	Kind     Kind
	Wallet   string
	State    types.ConnectionState
	Previous types.ConnectionState
	Frame    protocol.Envelope
	Err      error
	Reason   string
	At       time.Time
}

func StateEvent(wallet string, prev, next types.ConnectionState, err error) Event {
	return Event{
		Kind:     EventState,
		Wallet:   wallet,
		State:    next,
		Previous: prev,
		Err:      err,
		Reason:   types.Reason(err),
		At:       time.Now(),
	}
}

func FrameEvent(wallet string, state types.ConnectionState, env protocol.Envelope) Event {
	return Event{Kind: EventFrame, Wallet: wallet, State: state, Frame: env, At: time.Now()}
}

func ErrorEvent(wallet string, state types.ConnectionState, err error) Event {
	return Event{Kind: EventError, Wallet: wallet, State: state, Err: err, Reason: types.Reason(err), At: time.Now()}
}

type listener struct {
	id uint64
	fn func(Event)
}

// feed forwards events to one channel subscriber in publish order. Events
// queue while the reader is busy so Publish never blocks and never drops.
type feed struct {
	ch    chan Event
	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
}

func newFeed(buffer int) *feed {
	f := &feed{
		ch:   make(chan Event, buffer),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *feed) push(evt Event) {
	f.mu.Lock()
	f.queue = append(f.queue, evt)
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *feed) run() {
	defer close(f.done)
	defer close(f.ch)
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			select {
			case <-f.wake:
				continue
			case <-f.quit:
				return
			}
		}
		evt := f.queue[0]
		f.queue[0] = Event{}
		f.queue = f.queue[1:]
		f.mu.Unlock()

		select {
		case f.ch <- evt:
		case <-f.quit:
			return
		}
	}
}

// Hub fans events out to callbacks, delivered synchronously in publish
// order, and to channels, fed in publish order through a per-subscriber queue.
type Hub struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners []listener
	subs      map[chan Event]*feed
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]*feed{}}
}

// Subscribe registers fn and returns an idempotent unsubscribe func.
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, listener{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, l := range h.listeners {
		if l.id == id {
			h.listeners = append(h.listeners[:i:i], h.listeners[i+1:]...)
			return
		}
	}
}

func (h *Hub) SubscribeChan(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	f := newFeed(buffer)
	h.mu.Lock()
	h.subs[f.ch] = f
	h.mu.Unlock()
	return f.ch
}

// Unsubscribe discards undelivered events and closes ch.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	f, exists := h.subs[ch]
	delete(h.subs, ch)
	h.mu.Unlock()
	if exists {
		close(f.quit)
		<-f.done
	}
}

// Publish must be called from a single goroutine per hub to keep ordering.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	listeners := make([]listener, len(h.listeners))
	copy(listeners, h.listeners)
	for _, f := range h.subs {
		f.push(evt)
	}
	h.mu.RUnlock()

	for _, l := range listeners {
		deliver(l, evt)
	}
}

func deliver(l listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("hub: listener %d panicked on %s event: %v", l.id, evt.Kind, r)
		}
	}()
	l.fn(evt)
}

// Len reports callback plus channel subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners) + len(h.subs)
}

// Backlog reports events queued behind channel subscribers that have not
// kept up.
func (h *Hub) Backlog() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, f := range h.subs {
		n += f.pending()
	}
	return n
}
