// Package broadcast holds the connection registry and fans logical events out to
// every live connection, projecting each event per recipient.
package broadcast

import (
	"log"
	"sort"

	"github.com/sasha-s/go-deadlock"

	"cellarena.io/internal/metrics"
	"cellarena.io/internal/protocol"
)

// Observer receives every dispatched logical event. Observe must not block.
type Observer interface {
	Observe(ev protocol.Event)
}

// Registry is the connections store. Its lock is last in the world's lock order
// (cells, players, connections) and is never held across socket I/O.
type Registry struct {
	log     *log.Logger
	metrics *metrics.Metrics

	mu        deadlock.Mutex
	conns     map[uint32]*Outbox
	observers map[int]Observer
	nextObs   int
}

func NewRegistry(logger *log.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		log:       logger,
		metrics:   m,
		conns:     make(map[uint32]*Outbox),
		observers: make(map[int]Observer),
	}
}

// Register adds o. An existing entry for the same client id is closed and replaced.
func (r *Registry) Register(o *Outbox) {
	r.mu.Lock()
	prev := r.conns[o.ID()]
	r.conns[o.ID()] = o
	r.mu.Unlock()
	if prev != nil && prev != o {
		prev.Close(protocol.ErrConnClosed)
	}
}

// Remove deletes the entry for clientID and returns it.
func (r *Registry) Remove(clientID uint32) (*Outbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.conns[clientID]
	if ok {
		delete(r.conns, clientID)
	}
	return o, ok
}

// Terminate removes clientID and hands its session a final event before closing
// the outbox. The session's own writer delivers the frame and closes the socket.
func (r *Registry) Terminate(clientID uint32, final protocol.Event, reason string) bool {
	o, ok := r.Remove(clientID)
	if !ok {
		return false
	}
	frame, _ := protocol.NewFrames(final).For(clientID)
	o.Terminate(frame, reason)
	return true
}

func (r *Registry) Has(clientID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[clientID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// IDs returns the registered client ids in ascending order.
func (r *Registry) IDs() []uint32 {
	r.mu.Lock()
	ids := make([]uint32, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Subscribe attaches an observer. The returned func detaches it.
func (r *Registry) Subscribe(o Observer) (cancel func()) {
	r.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = o
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// CloseAll closes every registered outbox (shutdown path).
func (r *Registry) CloseAll(reason string) {
	for _, o := range r.snapshot() {
		o.Close(reason)
	}
}

// Dispatch delivers one event to every live connection. Delivery is best effort
// per recipient: a closed or full outbox is skipped and does not affect others.
func (r *Registry) Dispatch(ev protocol.Event) {
	r.DispatchAll([]protocol.Event{ev})
}

// DispatchAll delivers events in order. The recipient list is copied once under
// the lock; enqueueing happens after it is released.
func (r *Registry) DispatchAll(events []protocol.Event) {
	if len(events) == 0 {
		return
	}
	targets, observers := r.snapshotWithObservers()

	sent, dropped := 0, 0
	for _, ev := range events {
		frames := protocol.NewFrames(ev)
		for _, o := range targets {
			b, ok := frames.For(o.ID())
			if !ok {
				continue
			}
			if o.Send(b) {
				sent++
				continue
			}
			dropped++
			if reason := o.Reason(); reason == protocol.ErrSlowConsumer && r.log != nil {
				r.log.Printf("client=%d dropped %s: outbox %s", o.ID(), ev.Kind, reason)
			}
		}
		for _, obs := range observers {
			obs.Observe(ev)
		}
	}
	r.metrics.Broadcast(sent, dropped)
}

func (r *Registry) snapshot() []*Outbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Outbox, 0, len(r.conns))
	for _, o := range r.conns {
		out = append(out, o)
	}
	return out
}

func (r *Registry) snapshotWithObservers() ([]*Outbox, []Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Outbox, 0, len(r.conns))
	for _, o := range r.conns {
		out = append(out, o)
	}
	obs := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		obs = append(obs, o)
	}
	return out, obs
}
