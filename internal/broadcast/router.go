// Package broadcast fans framed session output out to subscribers.
//
// Each session owns one Router. Delivery never blocks the publisher: every
// subscriber has a bounded queue and, when it is full, the oldest queued
// message is dropped to make room for the new one.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
)

// Kind identifies the type of a routed message
type Kind string

const (
	KindStart  Kind = "start"
	KindStdout Kind = "stdout"
	KindStderr Kind = "stderr"
	KindDone   Kind = "done"
	KindMesg   Kind = "mesg"
)

// Message is one framed event delivered to subscribers
type Message struct {
	Kind     Kind   `json:"kind"`
	Selector string `json:"selector"`
	Payload  string `json:"payload,omitempty"`
	First    bool   `json:"first,omitempty"`
}

// Subscription is a single subscriber's view of a router
type Subscription struct {
	ID string

	mu      sync.Mutex
	ch      chan Message
	closed  bool
	dropped atomic.Int64
}

// Messages returns the channel messages are delivered on. It is closed when
// the subscriber is removed or the router shuts down.
func (s *Subscription) Messages() <-chan Message {
	return s.ch
}

// Dropped returns how many messages were discarded because the queue was full
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		// queue full: discard the oldest entry and retry
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Router delivers messages to the current set of subscribers
type Router struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	bufferSize int
	closed     bool
	logger     *slog.Logger
}

// NewRouter creates a router whose subscriber queues hold bufferSize messages.
// A non-positive size uses the default.
func NewRouter(bufferSize int, logger *slog.Logger) *Router {
	if bufferSize <= 0 {
		bufferSize = config.DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		subs:       make(map[string]*Subscription),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a new subscriber. Only messages broadcast after this call
// are delivered. Subscribing to a closed router yields a closed subscription.
func (r *Router) Subscribe() *Subscription {
	sub := &Subscription{
		ID: uuid.New().String(),
		ch: make(chan Message, r.bufferSize),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		sub.close()
		return sub
	}
	r.subs[sub.ID] = sub
	r.logger.Debug("Subscriber added", "subscriber", sub.ID, "subscribers", len(r.subs))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are ignored.
func (r *Router) Unsubscribe(id string) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	delete(r.subs, id)
	remaining := len(r.subs)
	r.mu.Unlock()

	if ok {
		sub.close()
		r.logger.Debug("Subscriber removed", "subscriber", id, "subscribers", remaining)
	}
}

// Broadcast delivers msg to every subscriber
func (r *Router) Broadcast(msg Message) {
	r.BroadcastOther(msg, "")
}

// BroadcastOther delivers msg to every subscriber except exclude
func (r *Router) BroadcastOther(msg Message, exclude string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}
	for id, sub := range r.subs {
		if id == exclude {
			continue
		}
		sub.deliver(msg)
	}
}

// Has reports whether id is a current subscriber
func (r *Router) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[id]
	return ok
}

// Count returns the number of current subscribers
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close removes every subscriber. Further broadcasts are discarded.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for id, sub := range r.subs {
		delete(r.subs, id)
		sub.close()
	}
}
