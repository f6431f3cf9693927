package container

import (
	"sync"

	"go.uber.org/zap"
)

// InstanceCache owns singleton storage and the cycle-breaking early-reference
// protocol. Each singleton name moves through three tiers:
//
//  1. completed: fully-initialized instances
//  2. early: a partially-constructed instance, visible only while its own
//     construction is in progress, handed out to break reference cycles
//  3. factory: a one-shot producer registered when construction starts; it is
//     invoked at most once to mint the early reference (possibly substituting
//     a wrapper) and removed immediately after use
//
// Prototype-scoped components bypass the cache entirely.
type InstanceCache struct {
	mu  sync.RWMutex
	log *zap.Logger

	completed  map[string]any
	early      map[string]any
	factories  map[string]func() any
	inCreation map[string]struct{}

	order      []string // completion order
	dependents map[string][]string
	destroyers map[string]func(any) error
}

// NewInstanceCache creates an empty cache. A nil logger defaults to nop.
func NewInstanceCache(log *zap.Logger) *InstanceCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &InstanceCache{
		log:        log,
		completed:  make(map[string]any),
		early:      make(map[string]any),
		factories:  make(map[string]func() any),
		inCreation: make(map[string]struct{}),
		dependents: make(map[string][]string),
		destroyers: make(map[string]func(any) error),
	}
}

// GetSingleton returns the instance for name if one is visible: a completed
// instance always, an early reference only while name is under construction.
// Completed lookups never block on unrelated construction.
func (c *InstanceCache) GetSingleton(name string) (any, bool) {
	c.mu.RLock()
	if v, ok := c.completed[name]; ok {
		c.mu.RUnlock()
		return v, true
	}
	if _, creating := c.inCreation[name]; !creating {
		c.mu.RUnlock()
		return nil, false
	}
	if v, ok := c.early[name]; ok {
		c.mu.RUnlock()
		return v, true
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.completed[name]; ok {
		return v, true
	}
	if _, creating := c.inCreation[name]; !creating {
		return nil, false
	}
	if v, ok := c.early[name]; ok {
		return v, true
	}
	if factory, ok := c.factories[name]; ok {
		v := factory()
		c.early[name] = v
		delete(c.factories, name)
		return v, true
	}
	return nil, false
}

// ContainsSingleton reports whether name has a completed instance.
func (c *InstanceCache) ContainsSingleton(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.completed[name]
	return ok
}

// IsInCreation reports whether name is currently being constructed.
func (c *InstanceCache) IsInCreation(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.inCreation[name]
	return ok
}

// CreateSingleton builds the singleton for name under the in-creation guard.
//
// If name is already marked in creation this is a constructor-level cycle: no
// partial instance exists yet, so it cannot be broken and a
// CircularReferenceError is raised. Otherwise construct runs with an expose
// callback: calling expose(factory) registers the one-shot early-reference
// producer the moment a raw instance exists, before property injection.
//
// On success the finished instance moves to the completed tier and tiers 2/3
// are cleared. On any failure every trace of name is cleared before the error
// is re-raised: no partial singleton is ever visible outside an active
// construction.
func (c *InstanceCache) CreateSingleton(name string, construct func(expose func(func() any)) (any, error)) (any, error) {
	c.mu.Lock()
	if v, ok := c.completed[name]; ok {
		c.mu.Unlock()
		return v, nil
	}
	if _, creating := c.inCreation[name]; creating {
		c.mu.Unlock()
		return nil, CircularReferenceError{Name: name}
	}
	c.inCreation[name] = struct{}{}
	c.mu.Unlock()

	expose := func(factory func() any) {
		c.mu.Lock()
		c.factories[name] = factory
		c.mu.Unlock()
	}

	instance, err := construct(expose)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.early, name)
	delete(c.factories, name)
	delete(c.inCreation, name)
	if err != nil {
		return nil, err
	}
	c.completed[name] = instance
	c.order = append(c.order, name)
	return instance, nil
}

// RegisterInstance places a pre-built instance directly in the completed
// tier (manually-registered singletons).
func (c *InstanceCache) RegisterInstance(name string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.completed[name]; !ok {
		c.order = append(c.order, name)
	}
	c.completed[name] = v
}

// SingletonNames returns completed names in completion order.
func (c *InstanceCache) SingletonNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// RegisterDependent records that dependent holds a reference to name, so
// destruction can run dependents before their dependencies.
func (c *InstanceCache) RegisterDependent(name, dependent string) {
	if name == dependent || name == "" || dependent == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.dependents[name] {
		if d == dependent {
			return
		}
	}
	c.dependents[name] = append(c.dependents[name], dependent)
}

// RegisterDestroyer attaches a destroy hook to name, invoked once when the
// singleton is destroyed.
func (c *InstanceCache) RegisterDestroyer(name string, fn func(any) error) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyers[name] = fn
}

// DestroySingleton destroys one singleton (and its dependents first), used
// when a definition override evicts a stale instance.
func (c *InstanceCache) DestroySingleton(name string) {
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	destroyed := make(map[string]struct{})
	c.destroyOne(name, snapshot, destroyed)
	c.mu.Lock()
	c.removeLocked(destroyed)
	c.mu.Unlock()
}

// DestroySingletons destroys every completed singleton, dependents before
// dependencies where edges were recorded, otherwise reverse registration
// order. Per-instance failures are logged without aborting the rest.
func (c *InstanceCache) DestroySingletons() {
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	destroyed := make(map[string]struct{})
	for i := len(snapshot.order) - 1; i >= 0; i-- {
		c.destroyOne(snapshot.order[i], snapshot, destroyed)
	}

	c.mu.Lock()
	c.removeLocked(destroyed)
	c.mu.Unlock()
}

// Clear releases all state. Construction in progress is the caller's problem:
// lifecycle transitions are serialized above this cache.
func (c *InstanceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = make(map[string]any)
	c.early = make(map[string]any)
	c.factories = make(map[string]func() any)
	c.inCreation = make(map[string]struct{})
	c.order = nil
	c.dependents = make(map[string][]string)
	c.destroyers = make(map[string]func(any) error)
}

type cacheSnapshot struct {
	completed  map[string]any
	order      []string
	dependents map[string][]string
	destroyers map[string]func(any) error
}

func (c *InstanceCache) snapshotLocked() cacheSnapshot {
	snap := cacheSnapshot{
		completed:  make(map[string]any, len(c.completed)),
		order:      append([]string(nil), c.order...),
		dependents: make(map[string][]string, len(c.dependents)),
		destroyers: make(map[string]func(any) error, len(c.destroyers)),
	}
	for k, v := range c.completed {
		snap.completed[k] = v
	}
	for k, v := range c.dependents {
		snap.dependents[k] = append([]string(nil), v...)
	}
	for k, v := range c.destroyers {
		snap.destroyers[k] = v
	}
	return snap
}

func (c *InstanceCache) destroyOne(name string, snap cacheSnapshot, destroyed map[string]struct{}) {
	if _, done := destroyed[name]; done {
		return
	}
	instance, ok := snap.completed[name]
	if !ok {
		return
	}
	destroyed[name] = struct{}{}

	// Dependents go first.
	for _, dep := range snap.dependents[name] {
		c.destroyOne(dep, snap, destroyed)
	}

	if fn := snap.destroyers[name]; fn != nil {
		if err := fn(instance); err != nil {
			c.log.Warn("destroy hook failed", zap.String("name", name), zap.Error(err))
		}
	}
	if d, ok := instance.(Disposable); ok {
		if err := d.Destroy(); err != nil {
			c.log.Warn("disposable destroy failed", zap.String("name", name), zap.Error(err))
		}
	}
}

func (c *InstanceCache) removeLocked(destroyed map[string]struct{}) {
	if len(destroyed) == 0 {
		return
	}
	remaining := c.order[:0]
	for _, n := range c.order {
		if _, gone := destroyed[n]; gone {
			delete(c.completed, n)
			delete(c.dependents, n)
			delete(c.destroyers, n)
		} else {
			remaining = append(remaining, n)
		}
	}
	c.order = remaining
}
