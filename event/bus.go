// Package event provides the lifecycle/application event bus: a buffering,
// priority-ordered multicaster with optional parent-bus propagation.
//
// Events published before the multicast collaborator is initialized are
// buffered in insertion order; activating the bus flushes the buffer and
// switches to immediate delivery.
package event

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Event is any value published through the bus.
type Event any

// Listener receives published events. A non-nil error from OnEvent aborts
// delivery of that event and propagates to the publisher (except for quiet
// publishes, where it is logged instead).
type Listener interface {
	OnEvent(e Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(e Event) error

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(e Event) error { return f(e) }

// Prioritized listeners are delivered in ascending priority order, ahead of
// listeners without a priority, which keep registration order.
type Prioritized interface {
	Priority() int
}

// Multicaster delivers one event to an ordered listener set.
type Multicaster interface {
	Multicast(e Event, listeners []Listener) error
}

// SerialMulticaster delivers sequentially on the calling goroutine and stops
// at the first listener error.
type SerialMulticaster struct{}

// Multicast implements Multicaster.
func (SerialMulticaster) Multicast(e Event, listeners []Listener) error {
	for _, l := range listeners {
		if err := l.OnEvent(e); err != nil {
			return err
		}
	}
	return nil
}

type registration struct {
	listener Listener
	priority int
	hasPrio  bool
	seq      int
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for swallowed delivery errors.
func WithLogger(log *zap.Logger) Option {
	return func(b *Bus) { b.log = log }
}

// WithParent chains the bus to a parent: every event is also published to
// the parent after local delivery completes.
func WithParent(parent *Bus) Option {
	return func(b *Bus) { b.parent = parent }
}

// Bus buffers and multicasts events.
type Bus struct {
	mu     sync.Mutex
	log    *zap.Logger
	parent *Bus

	registrations []registration
	nextSeq       int

	mc        Multicaster
	buffering bool
	buffer    []Event
}

// NewBus creates a bus in buffering mode with no multicaster.
func NewBus(opts ...Option) *Bus {
	b := &Bus{log: zap.NewNop(), buffering: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddListener registers a listener. Priority is taken from the Prioritized
// interface when implemented. The registration set holds each listener once:
// re-adding an already registered listener is a no-op, so sources that
// re-announce listeners on every bootstrap cycle never duplicate delivery.
func (b *Bus) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.containsLocked(l) {
		return
	}
	reg := registration{listener: l, seq: b.nextSeq}
	b.nextSeq++
	if p, ok := l.(Prioritized); ok {
		reg.priority, reg.hasPrio = p.Priority(), true
	}
	b.registrations = append(b.registrations, reg)
}

// AddListenerWithPriority registers a listener with an explicit priority,
// overriding any Prioritized implementation. An already registered listener
// keeps its original registration.
func (b *Bus) AddListenerWithPriority(l Listener, priority int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.containsLocked(l) {
		return
	}
	b.registrations = append(b.registrations,
		registration{listener: l, priority: priority, hasPrio: true, seq: b.nextSeq})
	b.nextSeq++
}

// RemoveListener drops a previously registered listener.
func (b *Bus) RemoveListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.registrations[:0]
	for _, reg := range b.registrations {
		if !sameListener(reg.listener, l) {
			kept = append(kept, reg)
		}
	}
	b.registrations = kept
}

func (b *Bus) containsLocked(l Listener) bool {
	for _, reg := range b.registrations {
		if sameListener(reg.listener, l) {
			return true
		}
	}
	return false
}

// sameListener compares listener identity without panicking on uncomparable
// dynamic types; two distinct ListenerFunc values are never the same.
func sameListener(a, b Listener) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// ListenerSet is an opaque snapshot of the registered listeners.
type ListenerSet struct{ registrations []registration }

// Snapshot captures the current listener set.
func (b *Bus) Snapshot() ListenerSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ListenerSet{registrations: append([]registration(nil), b.registrations...)}
}

// Restore replaces the listener set with a snapshot.
func (b *Bus) Restore(set ListenerSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registrations = append([]registration(nil), set.registrations...)
}

// SetMulticaster installs the multicast collaborator. Delivery stays
// deferred until Activate flushes the early buffer.
func (b *Bus) SetMulticaster(mc Multicaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mc = mc
}

// StartBuffering re-opens the early-event buffer (each bootstrap cycle).
func (b *Bus) StartBuffering() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffering = true
}

// Activate flushes the buffered events through the multicaster in insertion
// order and switches to immediate delivery. The first delivery error stops
// the flush and is returned.
func (b *Bus) Activate() error {
	b.mu.Lock()
	if b.mc == nil {
		b.mc = SerialMulticaster{}
	}
	b.buffering = false
	buffered := b.buffer
	b.buffer = nil
	b.mu.Unlock()

	for _, e := range buffered {
		if err := b.deliver(e); err != nil {
			return err
		}
	}
	return nil
}

// DiscardBuffer drops buffered events (bootstrap rollback).
func (b *Bus) DiscardBuffer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer = nil
}

// Publish delivers e, or buffers it when the multicaster is not initialized
// yet. After local delivery the event is also published to the parent bus.
func (b *Bus) Publish(e Event) error {
	b.mu.Lock()
	if b.buffering || b.mc == nil {
		b.buffer = append(b.buffer, e)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return b.deliver(e)
}

// PublishQuiet delivers e, logging listener failures instead of propagating
// them. Used for shutdown events, where one broken listener must not starve
// the rest.
func (b *Bus) PublishQuiet(e Event) {
	b.mu.Lock()
	if b.buffering || b.mc == nil {
		b.buffer = append(b.buffer, e)
		b.mu.Unlock()
		return
	}
	listeners := b.orderedLocked()
	parent := b.parent
	b.mu.Unlock()

	for _, l := range listeners {
		if err := l.OnEvent(e); err != nil {
			b.log.Warn("listener failed during quiet publish", zap.Error(err))
		}
	}
	if parent != nil {
		parent.PublishQuiet(e)
	}
}

// deliver multicasts locally then propagates to the parent. Listeners run
// outside the bus lock so they may publish further events without
// deadlocking.
func (b *Bus) deliver(e Event) error {
	b.mu.Lock()
	mc := b.mc
	listeners := b.orderedLocked()
	parent := b.parent
	b.mu.Unlock()

	if err := mc.Multicast(e, listeners); err != nil {
		return err
	}
	if parent != nil {
		return parent.Publish(e)
	}
	return nil
}

// orderedLocked returns listeners sorted by explicit priority when present,
// else registration order.
func (b *Bus) orderedLocked() []Listener {
	regs := append([]registration(nil), b.registrations...)
	for i := 1; i < len(regs); i++ {
		for j := i; j > 0 && lessReg(regs[j], regs[j-1]); j-- {
			regs[j], regs[j-1] = regs[j-1], regs[j]
		}
	}
	listeners := make([]Listener, len(regs))
	for i, reg := range regs {
		listeners[i] = reg.listener
	}
	return listeners
}

func lessReg(a, b registration) bool {
	if a.hasPrio && b.hasPrio {
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	}
	if a.hasPrio != b.hasPrio {
		return a.hasPrio
	}
	return a.seq < b.seq
}
