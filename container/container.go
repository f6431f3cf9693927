// Package container implements the object-graph construction engine: a
// definition registry with inheritance merging (DefinitionStore), a
// cycle-safe singleton cache (InstanceCache), type-directed dependency
// resolution with deterministic tie-breaking (Resolver), and a multi-phase
// bootstrap/shutdown state machine with all-or-nothing rollback (Container).
//
// Parsing of configuration formats into definitions, proxy generation and
// resource loading are external collaborators; the container consumes
// definitions and an opaque interception capability only.
package container

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sghaida/krate/event"
	"github.com/sghaida/krate/props"
)

// MulticasterComponent names the definition that, when present, supplies the
// event multicast collaborator. It must implement event.Multicaster and wins
// over the default serial multicaster.
const MulticasterComponent = "eventMulticaster"

// ScopeStrategy implements a custom instance scope. Get either returns an
// existing scoped instance for name or invokes create for a fresh one.
type ScopeStrategy interface {
	Get(name string, create func() (any, error)) (any, error)
}

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger shared by the container and its collaborators.
func WithLogger(log *zap.Logger) Option {
	return func(c *Container) { c.log = log }
}

// WithParent chains this container to a parent: definitions are inherited
// (local ones shadow), singleton identity stays with the owning container,
// and events propagate to the parent bus after local delivery.
func WithParent(parent *Container) Option {
	return func(c *Container) { c.parent = parent }
}

// WithEnvironment sets the property environment validated during Refresh.
func WithEnvironment(env *props.Environment) Option {
	return func(c *Container) { c.env = env }
}

// WithRequiredProperties lists property keys that must resolve before
// bootstrap proceeds.
func WithRequiredProperties(keys ...string) Option {
	return func(c *Container) { c.requiredProps = append(c.requiredProps, keys...) }
}

// WithOverridePolicy controls whether definition overrides are allowed.
func WithOverridePolicy(allow bool) Option {
	return func(c *Container) { c.allowOverride = allow }
}

// WithTypeSatisfier replaces the reflect-assignability type predicate.
func WithTypeSatisfier(s TypeSatisfier) Option {
	return func(c *Container) { c.satisfies = s }
}

// WithRefreshHook installs the bootstrap extension hook, run after
// collaborator initialization and before eager instantiation.
func WithRefreshHook(hook func(*Container) error) Option {
	return func(c *Container) { c.refreshHook = hook }
}

// WithCloseHook installs the teardown extension hook, run after singleton
// destruction.
func WithCloseHook(hook func(*Container)) Option {
	return func(c *Container) { c.closeHook = hook }
}

// Container orchestrates bootstrap and teardown over the store, cache and
// resolver. States: NEW -> ACTIVE -> CLOSED (terminal); a failed Refresh
// rolls back to inactive.
type Container struct {
	id            string
	log           *zap.Logger
	parent        *Container
	env           *props.Environment
	requiredProps []string
	allowOverride bool
	satisfies     TypeSatisfier
	refreshHook   func(*Container) error
	closeHook     func(*Container)

	// lifecycleMu serializes Refresh and Close; constructionMu serializes
	// first-time singleton construction (held across the whole synchronous
	// graph walk, recursion rides the resolution context instead of
	// re-locking).
	lifecycleMu    sync.Mutex
	constructionMu sync.Mutex

	active atomic.Bool
	closed atomic.Bool

	store    *DefinitionStore
	cache    *InstanceCache
	resolver *Resolver
	bus      *event.Bus

	defProcessors    []DefinitionPostProcessor
	userInterceptors []InstanceInterceptor
	scopes           map[Scope]ScopeStrategy

	// interceptorMu guards the assembled pipeline: a re-refresh rebuilds it
	// while lookups on other goroutines may be mid-construction.
	interceptorMu sync.RWMutex
	interceptors  []InstanceInterceptor

	listenerSnapshot event.ListenerSet
	hasSnapshot      bool
	startTime        time.Time
}

// New creates a container in the NEW state. Definitions may be registered
// before or after construction; nothing is instantiated until Refresh.
func New(opts ...Option) *Container {
	c := &Container{
		id:            uuid.NewString(),
		log:           zap.NewNop(),
		allowOverride: true,
		satisfies:     AssignableSatisfier,
		scopes:        make(map[Scope]ScopeStrategy),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.env == nil {
		c.env = props.NewEnvironment(props.Env())
	}

	storeOpts := []StoreOption{WithStoreLogger(c.log), WithOverride(c.allowOverride)}
	busOpts := []event.Option{event.WithLogger(c.log)}
	if c.parent != nil {
		storeOpts = append(storeOpts, WithParentStore(c.parent.store))
		busOpts = append(busOpts, event.WithParent(c.parent.bus))
	}
	c.store = NewDefinitionStore(storeOpts...)
	c.cache = NewInstanceCache(c.log)
	c.bus = event.NewBus(busOpts...)
	c.resolver = NewResolver(c.store, c.cache, c.satisfies, c.log)
	c.resolver.SetInstanceSource(c.getForResolution)
	return c
}

// ID returns the container's unique identity.
func (c *Container) ID() string { return c.id }

// IsActive reports whether the last Refresh completed and Close has not run.
func (c *Container) IsActive() bool { return c.active.Load() && !c.closed.Load() }

// IsClosed reports whether Close has run. CLOSED is terminal.
func (c *Container) IsClosed() bool { return c.closed.Load() }

// Store exposes the definition registry for definition-source collaborators
// and post-processors.
func (c *Container) Store() *DefinitionStore { return c.store }

// Environment returns the property environment.
func (c *Container) Environment() *props.Environment { return c.env }

// RegisterDefinition registers def under its own name. Overriding a name
// that already produced a singleton destroys the stale instance.
func (c *Container) RegisterDefinition(def *Definition) error {
	if def == nil {
		return ErrNilDefinition
	}
	hadSingleton := c.cache.ContainsSingleton(def.Name())
	if err := c.store.Register(def.Name(), def); err != nil {
		return err
	}
	if hadSingleton {
		c.cache.DestroySingleton(def.Name())
	}
	return nil
}

// RemoveDefinition removes the definition and destroys any live singleton
// built from it.
func (c *Container) RemoveDefinition(name string) error {
	if err := c.store.Remove(name); err != nil {
		return err
	}
	c.cache.DestroySingleton(name)
	return nil
}

// GetDefinition returns the raw registered definition.
func (c *Container) GetDefinition(name string) (*Definition, error) {
	return c.store.Definition(name)
}

// MergedDefinition returns the fully-merged view of a definition.
func (c *Container) MergedDefinition(name string) (*Definition, error) {
	return c.store.Merged(name)
}

// RegisterAlias maps alias onto an existing component name.
func (c *Container) RegisterAlias(name, alias string) error {
	return c.store.RegisterAlias(name, alias)
}

// RegisterInstance registers a pre-built singleton under name; it becomes an
// autowire candidate by dynamic type.
func (c *Container) RegisterInstance(name string, v any) error {
	if name == "" {
		return ErrEmptyName
	}
	c.cache.RegisterInstance(name, v)
	return nil
}

// AddDefinitionPostProcessor registers a definition-level post-processor for
// the next Refresh.
func (c *Container) AddDefinitionPostProcessor(p DefinitionPostProcessor) {
	c.defProcessors = append(c.defProcessors, p)
}

// AddInterceptor registers an instance interceptor (registration only; it
// takes part in construction from the next Refresh on).
func (c *Container) AddInterceptor(ic InstanceInterceptor) {
	c.userInterceptors = append(c.userInterceptors, ic)
}

// RegisterScope installs a strategy for a custom scope name.
func (c *Container) RegisterScope(scope Scope, strategy ScopeStrategy) {
	c.scopes[scope] = strategy
}

// AddListener registers an event listener.
func (c *Container) AddListener(l event.Listener) { c.bus.AddListener(l) }

// Publish publishes an event: buffered before bootstrap completes, delivered
// immediately afterwards with delivery errors propagated to the caller.
func (c *Container) Publish(e event.Event) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.bus.Publish(e)
}

// Refresh bootstraps the container. On failure in any phase after
// preparation, every singleton created so far is destroyed (individual
// failures logged), shared caches are cleared, the container is left
// inactive and the original error is returned wrapped in RefreshError.
func (c *Container) Refresh() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}

	// Phase 1: prepare. Record start time, mark active, validate required
	// configuration, snapshot externally-registered listeners, open the
	// early-event buffer.
	c.startTime = time.Now()
	c.active.Store(true)
	if err := c.env.Require(c.requiredProps...); err != nil {
		c.active.Store(false)
		return RefreshError{Err: err}
	}
	c.listenerSnapshot = c.bus.Snapshot()
	c.hasSnapshot = true
	c.bus.StartBuffering()

	if err := c.doRefresh(); err != nil {
		c.rollback()
		return RefreshError{Err: err}
	}
	c.log.Info("container refreshed",
		zap.String("id", c.id),
		zap.Int("definitions", c.store.Len()),
		zap.Duration("took", time.Since(c.startTime)))
	return nil
}

func (c *Container) doRefresh() error {
	// Phase 2: the definition store for this cycle (the external definition
	// source may have mutated it up to this point).
	store := c.store

	// Phase 3: container-internal resolvable values.
	c.resolver.ClearResolvables()
	c.resolver.RegisterResolvable(reflect.TypeOf(c), c)
	c.resolver.RegisterResolvable(reflect.TypeOf(c.env), c.env)
	c.resolver.RegisterResolvable(reflect.TypeOf(c.bus), c.bus)

	// Phase 4: definition-level post-processors, ordered by priority. No
	// instances exist yet.
	for _, p := range sortByPriority(c.defProcessors) {
		if err := p.ProcessDefinitions(store); err != nil {
			return err
		}
	}

	// Phase 5: assemble the interceptor pipeline, registration only plus
	// definitions whose declared type is itself an interceptor.
	c.setInterceptors(append([]InstanceInterceptor(nil), c.userInterceptors...))
	if err := c.registerInterceptorComponents(); err != nil {
		return err
	}

	// Phase 6: event-multicast collaborator; a container-supplied definition
	// wins over the default.
	if err := c.initMulticaster(); err != nil {
		return err
	}

	// Phase 7: extension hook.
	if c.refreshHook != nil {
		if err := c.refreshHook(c); err != nil {
			return err
		}
	}

	// Phase 8: listeners are registered; flush the early-event buffer.
	if err := c.bus.Activate(); err != nil {
		return err
	}

	// Phase 9: freeze the store and eagerly instantiate every non-lazy
	// singleton, driving the resolver across the whole graph.
	store.Freeze()
	if err := c.preInstantiateSingletons(); err != nil {
		return err
	}

	// Phase 10: start lifecycle components and announce the refreshed graph.
	return c.startLifecycle()
}

func (c *Container) registerInterceptorComponents() error {
	interceptorType := TypeOf[InstanceInterceptor]()
	for _, name := range c.store.Names() {
		def, err := c.store.Merged(name)
		if err != nil {
			return err
		}
		if def.typ == nil || def.abstract || !def.typ.Implements(interceptorType) {
			continue
		}
		v, err := c.getForResolution(newResolutionContext(), name)
		if err != nil {
			return err
		}
		if ic, ok := v.(InstanceInterceptor); ok {
			c.appendInterceptor(ic)
		}
	}
	return nil
}

func (c *Container) currentInterceptors() []InstanceInterceptor {
	c.interceptorMu.RLock()
	defer c.interceptorMu.RUnlock()
	return c.interceptors
}

func (c *Container) setInterceptors(ics []InstanceInterceptor) {
	c.interceptorMu.Lock()
	c.interceptors = ics
	c.interceptorMu.Unlock()
}

// appendInterceptor replaces the pipeline slice instead of growing it in
// place; snapshots held by in-flight constructions stay intact.
func (c *Container) appendInterceptor(ic InstanceInterceptor) {
	c.interceptorMu.Lock()
	c.interceptors = append(append([]InstanceInterceptor(nil), c.interceptors...), ic)
	c.interceptorMu.Unlock()
}

func (c *Container) initMulticaster() error {
	if !c.store.Contains(MulticasterComponent) {
		return nil
	}
	v, err := c.getForResolution(newResolutionContext(), MulticasterComponent)
	if err != nil {
		return err
	}
	mc, ok := v.(event.Multicaster)
	if !ok {
		return TypeMismatchError{
			Name:     MulticasterComponent,
			Required: TypeOf[event.Multicaster](),
			Actual:   valueType(v),
		}
	}
	c.bus.SetMulticaster(mc)
	return nil
}

func (c *Container) preInstantiateSingletons() error {
	for _, name := range c.store.Names() {
		def, err := c.store.Merged(name)
		if err != nil {
			return err
		}
		if def.abstract || def.scope != ScopeSingleton || def.lazy {
			continue
		}
		if _, err := c.getForResolution(newResolutionContext(), name); err != nil {
			return err
		}
	}
	// All-singletons-ready callbacks, and component listeners join the bus.
	for _, name := range c.cache.SingletonNames() {
		v, ok := c.cache.GetSingleton(name)
		if !ok {
			continue
		}
		if ready, ok := v.(SingletonsReady); ok {
			ready.SingletonsReady()
		}
		if l, ok := v.(event.Listener); ok {
			c.bus.AddListener(l)
		}
	}
	return nil
}

func (c *Container) startLifecycle() error {
	for _, name := range c.cache.SingletonNames() {
		v, ok := c.cache.GetSingleton(name)
		if !ok {
			continue
		}
		if lc, ok := v.(Lifecycle); ok {
			if err := lc.Start(); err != nil {
				return err
			}
		}
	}
	return c.bus.Publish(RefreshedEvent{ContainerID: c.id, When: time.Now()})
}

// rollback is the all-or-nothing guarantee: best-effort destruction of every
// singleton created so far, cache and metadata reset, listener set restored.
// No partially-bootstrapped container remains usable.
func (c *Container) rollback() {
	c.cache.DestroySingletons()
	c.cache.Clear()
	c.store.ClearMerged()
	c.setInterceptors(nil)
	c.bus.DiscardBuffer()
	c.bus.Restore(c.listenerSnapshot)
	c.bus.StartBuffering()
	c.active.Store(false)
	c.log.Warn("refresh rolled back", zap.String("id", c.id))
}

// Close tears the container down. It is idempotent and safe under concurrent
// or repeated invocation, including from a process-exit hook: only the first
// caller's compare-and-set proceeds.
func (c *Container) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.log.Info("closing container", zap.String("id", c.id))
	c.bus.PublishQuiet(ClosedEvent{ContainerID: c.id, When: time.Now()})

	// Stop lifecycle components, newest first; failures are logged only.
	names := c.cache.SingletonNames()
	for i := len(names) - 1; i >= 0; i-- {
		v, ok := c.cache.GetSingleton(names[i])
		if !ok {
			continue
		}
		if lc, ok := v.(Lifecycle); ok {
			if err := lc.Stop(); err != nil {
				c.log.Warn("lifecycle stop failed",
					zap.String("name", names[i]), zap.Error(err))
			}
		}
	}

	c.cache.DestroySingletons()
	c.cache.Clear()
	c.store.ClearMerged()
	c.setInterceptors(nil)

	if c.closeHook != nil {
		c.closeHook(c)
	}
	if c.hasSnapshot {
		c.bus.Restore(c.listenerSnapshot)
	}
	c.active.Store(false)
	return nil
}

// GetInstance returns the component registered under name (or an alias),
// constructing it first when needed.
func (c *Container) GetInstance(name string) (any, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.getForResolution(newResolutionContext(), name)
}

// GetInstanceArgs is GetInstance with explicit constructor arguments,
// overriding the definition's declared ones. Explicit arguments are invalid
// for an already-created singleton.
func (c *Container) GetInstanceArgs(name string, args ...any) (any, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	canonical := c.store.Canonical(name)
	def, err := c.store.Merged(canonical)
	if err != nil {
		return nil, err
	}
	return c.createFromDefinition(newResolutionContext(), canonical, def, args)
}

// GetByType resolves the single component assignable to t, applying the
// primary/priority tie-breaks when several candidates match.
func (c *Container) GetByType(t reflect.Type) (any, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.resolver.Resolve(newResolutionContext(), Descriptor{Type: t, Required: true})
}

// GetInstancesOfType returns every eligible component assignable to t,
// keyed by name. Zero matches yield an empty map.
func (c *Container) GetInstancesOfType(t reflect.Type) (map[string]any, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	v, err := c.resolver.Resolve(newResolutionContext(), Descriptor{Type: t, Shape: ShapeMap})
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	mv := reflect.ValueOf(v)
	for _, key := range mv.MapKeys() {
		out[key.String()] = mv.MapIndex(key).Interface()
	}
	return out, nil
}

// ResolveDependency satisfies an arbitrary dependency descriptor; this is
// the entry point injection frameworks layered on top use.
func (c *Container) ResolveDependency(d Descriptor) (any, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	return c.resolver.Resolve(newResolutionContext(), d)
}

func (c *Container) guard() error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.active.Load() {
		return ErrNotActive
	}
	return nil
}

// getForResolution is the re-entrant get-or-create path driven by the
// resolver. Singleton identity stays with the container owning the
// definition: names not defined locally delegate to the parent.
func (c *Container) getForResolution(ctx *resolutionContext, name string) (any, error) {
	name = c.store.Canonical(name)
	if v, ok := c.cache.GetSingleton(name); ok {
		return v, nil
	}
	if !c.store.Contains(name) && c.parent != nil {
		if v, ok := c.parent.cache.GetSingleton(name); ok {
			return v, nil
		}
		return c.parent.getForResolution(newResolutionContext(), name)
	}
	def, err := c.store.Merged(name)
	if err != nil {
		return nil, err
	}
	return c.createFromDefinition(ctx, name, def, nil)
}

func (c *Container) createFromDefinition(ctx *resolutionContext, name string, def *Definition, explicitArgs []any) (any, error) {
	if def.abstract {
		return nil, DefinitionConflictError{Name: name, Reason: "abstract definition is not instantiable"}
	}

	switch def.scope {
	case ScopeSingleton:
		if len(explicitArgs) > 0 && c.cache.ContainsSingleton(name) {
			return nil, DefinitionConflictError{Name: name, Reason: "explicit arguments for an already-created singleton"}
		}
		if !ctx.locked {
			c.constructionMu.Lock()
			ctx.locked = true
			defer func() {
				ctx.locked = false
				ctx.done = true
				c.constructionMu.Unlock()
			}()
			// Another goroutine may have finished it while we waited.
			if v, ok := c.cache.GetSingleton(name); ok {
				return v, nil
			}
		}
		if c.cache.IsInCreation(name) {
			// GetSingleton already failed to surface an early reference, so
			// this cycle is constructor-level and unbreakable.
			return nil, CircularReferenceError{Name: name, Chain: append([]string(nil), ctx.chain...)}
		}
		return c.cache.CreateSingleton(name, func(expose func(func() any)) (any, error) {
			return c.buildInstance(ctx, name, def, explicitArgs, expose)
		})

	case ScopePrototype:
		if _, cycling := ctx.prototypes[name]; cycling {
			return nil, PrototypeCycleError{Name: name, Chain: append([]string(nil), ctx.chain...)}
		}
		ctx.prototypes[name] = struct{}{}
		defer delete(ctx.prototypes, name)
		return c.buildInstance(ctx, name, def, explicitArgs, nil)

	default:
		if strategy, ok := c.scopes[def.scope]; ok {
			return strategy.Get(name, func() (any, error) {
				return c.buildInstance(ctx, name, def, explicitArgs, nil)
			})
		}
		return nil, DefinitionConflictError{Name: name, Reason: "unknown scope " + string(def.scope)}
	}
}

// buildInstance runs the construction pipeline: resolve constructor
// arguments, produce the raw instance, expose the early reference (singleton
// only), inject properties, then interceptors and init hooks.
func (c *Container) buildInstance(ctx *resolutionContext, name string, def *Definition, explicitArgs []any, expose func(func() any)) (any, error) {
	ctx.chain = append(ctx.chain, name)
	defer func() { ctx.chain = ctx.chain[:len(ctx.chain)-1] }()

	resolved := explicitArgs
	if resolved == nil {
		for _, a := range def.args {
			if a.hasValue {
				resolved = append(resolved, a.value)
				continue
			}
			v, err := c.resolver.Resolve(ctx, a.descriptorFor(name, "", len(ctx.chain)))
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, v)
		}
	}

	var raw any
	switch {
	case def.factoryComponent != "":
		owner, err := c.getForResolution(ctx, def.factoryComponent)
		if err != nil {
			return nil, err
		}
		raw, err = def.factory(append([]any{owner}, resolved...)...)
		if err != nil {
			return nil, err
		}
	case def.factory != nil:
		var err error
		raw, err = def.factory(resolved...)
		if err != nil {
			return nil, err
		}
	default:
		var err error
		raw, err = constructByType(name, def)
		if err != nil {
			return nil, err
		}
	}
	if raw == nil {
		return nil, DefinitionConflictError{Name: name, Reason: "factory produced a nil instance"}
	}

	// Early exposure happens before property injection: dependents caught in
	// a settable-reference cycle receive this reference.
	if expose != nil {
		instance := raw
		expose(func() any { return c.earlyReference(name, instance) })
	}

	for _, p := range def.properties {
		var v any
		if p.Arg.hasValue {
			v = p.Arg.value
		} else if p.Arg.desc != nil {
			var err error
			v, err = c.resolver.Resolve(ctx, p.Arg.descriptorFor(name, p.Name, len(ctx.chain)))
			if err != nil {
				return nil, err
			}
		}
		if p.Bind == nil {
			continue
		}
		if err := p.Bind(raw, v); err != nil {
			return nil, err
		}
	}

	interceptors := c.currentInterceptors()
	current := raw
	for _, ic := range interceptors {
		next, err := ic.BeforeInit(name, current)
		if err != nil {
			return nil, err
		}
		if next != nil {
			current = next
		}
	}

	if def.initFn != nil {
		if err := def.initFn(current); err != nil {
			return nil, err
		}
	}
	if init, ok := current.(Initializer); ok {
		if err := init.Init(); err != nil {
			return nil, err
		}
	}

	for _, ic := range interceptors {
		next, err := ic.AfterInit(name, current)
		if err != nil {
			return nil, err
		}
		if next != nil {
			current = next
		}
	}

	if def.scope == ScopeSingleton && def.destroyFn != nil {
		c.cache.RegisterDestroyer(name, def.destroyFn)
	}
	return current, nil
}

// earlyReference runs the early-reference interceptors, letting a proxying
// interceptor substitute the reference dependents see mid-cycle.
func (c *Container) earlyReference(name string, instance any) any {
	current := instance
	for _, ic := range c.currentInterceptors() {
		if early, ok := ic.(EarlyReferenceInterceptor); ok {
			if next := early.EarlyReference(name, current); next != nil {
				current = next
			}
		}
	}
	return current
}

// constructByType builds an instance by reflection when no factory is
// declared. Only pointer-to-struct declared types support this; anything
// else needs a factory.
func constructByType(name string, def *Definition) (any, error) {
	t := def.typ
	if t == nil {
		return nil, DefinitionConflictError{Name: name, Reason: "no factory and no declared type"}
	}
	if t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct {
		return reflect.New(t.Elem()).Interface(), nil
	}
	return nil, DefinitionConflictError{Name: name, Reason: "no factory for non-pointer type " + t.String()}
}
