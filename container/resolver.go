package container

import (
	"errors"
	"iter"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// resolutionContext rides along one synchronous graph walk: the creation
// chain for error reporting, the set of prototypes currently in creation
// (prototype cycles have no cache tier to detect them), and whether the
// construction lock is already held by this walk.
type resolutionContext struct {
	chain      []string
	prototypes map[string]struct{}
	locked     bool
	done       bool
}

func newResolutionContext() *resolutionContext {
	return &resolutionContext{prototypes: make(map[string]struct{})}
}

// instanceSource obtains (or creates) the instance registered under a name.
// The Container wires itself in here; this is the re-entrant path on which
// the InstanceCache cycle detection applies.
type instanceSource func(ctx *resolutionContext, name string) (any, error)

type resolvableValue struct {
	typ   reflect.Type
	value any
}

// candidate is one entry of the resolution candidate set: an instance when
// already materialized, otherwise the declared type.
type candidate struct {
	name        string
	instance    any
	hasInstance bool
	typ         reflect.Type
	def         *Definition
}

// Resolver finds and tie-breaks components for a dependency descriptor.
type Resolver struct {
	store     *DefinitionStore
	cache     *InstanceCache
	log       *zap.Logger
	satisfies TypeSatisfier

	// mu guards the shortcut table: a re-refresh rebuilds it while lookups
	// on other goroutines read it.
	mu         sync.RWMutex
	resolvable []resolvableValue

	source instanceSource
}

// NewResolver builds a resolver over a store and cache. A nil satisfier
// defaults to reflect assignability; a nil logger to nop.
func NewResolver(store *DefinitionStore, cache *InstanceCache, satisfies TypeSatisfier, log *zap.Logger) *Resolver {
	if satisfies == nil {
		satisfies = AssignableSatisfier
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{store: store, cache: cache, satisfies: satisfies, log: log}
}

// SetInstanceSource wires the get-or-create callback. Must be set before the
// first Resolve.
func (r *Resolver) SetInstanceSource(fn instanceSource) { r.source = fn }

// RegisterResolvable adds a framework-level shortcut value for a type. The
// shortcut table is consulted before definition enumeration and wins
// outright for scalar descriptors.
func (r *Resolver) RegisterResolvable(typ reflect.Type, value any) {
	if typ == nil {
		typ = valueType(value)
	}
	r.mu.Lock()
	r.resolvable = append(r.resolvable, resolvableValue{typ: typ, value: value})
	r.mu.Unlock()
}

// ClearResolvables empties the shortcut table (Refresh re-registers).
func (r *Resolver) ClearResolvables() {
	r.mu.Lock()
	r.resolvable = nil
	r.mu.Unlock()
}

// Resolve satisfies a dependency descriptor: shortcut table first, then
// type-directed candidate search with self-reference exclusion, eligibility
// filtering and deterministic tie-breaking. Multi-element shapes collect all
// matches; scalars disambiguate via primary, then lowest priority, then
// declaring-site name match.
func (r *Resolver) Resolve(ctx *resolutionContext, d Descriptor) (any, error) {
	if d.Type == nil {
		return r.resolveByName(ctx, d)
	}
	switch d.Shape {
	case ShapeSlice:
		return r.resolveSlice(ctx, d)
	case ShapeMap:
		return r.resolveMap(ctx, d)
	case ShapeStream:
		return r.resolveStream(ctx, d)
	default:
		return r.resolveScalar(ctx, d)
	}
}

func (r *Resolver) resolveByName(ctx *resolutionContext, d Descriptor) (any, error) {
	if d.Name == "" {
		return nil, DefinitionNotFoundError{Name: ""}
	}
	v, err := r.source(ctx, r.store.Canonical(d.Name))
	if err != nil {
		if _, notFound := asDefinitionNotFound(err); notFound && !d.Required {
			return nil, nil
		}
		return nil, err
	}
	r.recordDependent(d, r.store.Canonical(d.Name))
	return v, nil
}

func (r *Resolver) resolveScalar(ctx *resolutionContext, d Descriptor) (any, error) {
	// Shortcut table: highest priority, at most one result.
	r.mu.RLock()
	resolvable := r.resolvable
	r.mu.RUnlock()
	for _, rv := range resolvable {
		if r.satisfies(rv.typ, d.Type) {
			return rv.value, nil
		}
	}

	candidates, err := r.findCandidates(ctx, d, d.Type)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		if d.Required {
			return nil, NoMatchError{Type: d.Type, Requester: d.Requester}
		}
		return nil, nil
	}

	chosen := candidates[0]
	if len(candidates) > 1 {
		name, err := r.determineCandidate(candidates, d)
		if err != nil {
			return nil, err
		}
		if name == "" {
			if d.Required {
				return nil, AmbiguousMatchError{Type: d.Type, Candidates: candidateNames(candidates)}
			}
			return nil, nil
		}
		for _, c := range candidates {
			if c.name == name {
				chosen = c
				break
			}
		}
	}
	return r.materialize(ctx, d, chosen)
}

// materialize turns a candidate into a concrete value, triggering singleton
// construction when only the type is known, and applies the final
// type-compatibility check against the requested type.
func (r *Resolver) materialize(ctx *resolutionContext, d Descriptor, c candidate) (any, error) {
	v := c.instance
	if !c.hasInstance {
		var err error
		v, err = r.source(ctx, c.name)
		if err != nil {
			return nil, err
		}
	}
	if v == nil {
		if d.Required {
			return nil, NoMatchError{Type: d.Type, Requester: d.Requester}
		}
		return nil, nil
	}
	if !r.satisfies(valueType(v), d.Type) {
		return nil, TypeMismatchError{Name: c.name, Required: d.Type, Actual: valueType(v)}
	}
	r.recordDependent(d, c.name)
	return v, nil
}

func (r *Resolver) resolveSlice(ctx *resolutionContext, d Descriptor) (any, error) {
	candidates, err := r.findCandidates(ctx, d, d.Type)
	if err != nil {
		return nil, err
	}
	sortCandidatesByOrder(candidates)

	out := reflect.MakeSlice(reflect.SliceOf(d.Type), 0, len(candidates))
	for _, c := range candidates {
		if c.instance == nil {
			continue
		}
		if !r.satisfies(valueType(c.instance), d.Type) {
			return nil, TypeMismatchError{Name: c.name, Required: d.Type, Actual: valueType(c.instance)}
		}
		out = reflect.Append(out, reflect.ValueOf(c.instance))
		r.recordDependent(d, c.name)
	}
	return out.Interface(), nil
}

func (r *Resolver) resolveMap(ctx *resolutionContext, d Descriptor) (any, error) {
	candidates, err := r.findCandidates(ctx, d, d.Type)
	if err != nil {
		return nil, err
	}
	out := reflect.MakeMapWithSize(reflect.MapOf(reflect.TypeOf(""), d.Type), len(candidates))
	for _, c := range candidates {
		if c.instance == nil {
			continue
		}
		if !r.satisfies(valueType(c.instance), d.Type) {
			return nil, TypeMismatchError{Name: c.name, Required: d.Type, Actual: valueType(c.instance)}
		}
		out.SetMapIndex(reflect.ValueOf(c.name), reflect.ValueOf(c.instance))
		r.recordDependent(d, c.name)
	}
	return out.Interface(), nil
}

// resolveStream returns an iter.Seq[any] that materializes candidates on
// iteration. Candidates failing to materialize at that point are logged and
// skipped: an iterator has no error channel.
func (r *Resolver) resolveStream(ctx *resolutionContext, d Descriptor) (any, error) {
	candidates, err := r.findCandidates(ctx, d, d.Type)
	if err != nil {
		return nil, err
	}
	if d.Ordered {
		sortCandidatesByOrder(candidates)
	}
	seq := iter.Seq[any](func(yield func(any) bool) {
		iterCtx := ctx
		if ctx.done {
			iterCtx = newResolutionContext()
		}
		for _, c := range candidates {
			v := c.instance
			if !c.hasInstance {
				var err error
				v, err = r.source(iterCtx, c.name)
				if err != nil {
					r.log.Warn("stream element skipped",
						zap.String("name", c.name), zap.Error(err))
					continue
				}
			}
			if v == nil || !r.satisfies(valueType(v), d.Type) {
				continue
			}
			r.recordDependent(d, c.name)
			if !yield(v) {
				return
			}
		}
	})
	return seq, nil
}

// findCandidates enumerates definitions (plus manually-registered instances)
// assignable to elemType, in three passes mirroring the resolution contract:
// first excluding self-references and ineligible candidates, then, only if
// nothing matched, admitting self-references as an absolute fallback — for
// multi-element descriptors never the requester itself, only candidates
// whose owning factory is the requester.
func (r *Resolver) findCandidates(ctx *resolutionContext, d Descriptor, elemType reflect.Type) ([]candidate, error) {
	type meta struct {
		name string
		def  *Definition
		typ  reflect.Type
	}

	names := r.store.NamesIncludingAncestors()
	known := make(map[string]struct{}, len(names))
	metas := make([]meta, 0, len(names))
	for _, name := range names {
		known[name] = struct{}{}
		def, err := r.store.Merged(name)
		if err != nil {
			if _, notFound := asDefinitionNotFound(err); notFound {
				continue
			}
			return nil, err
		}
		typ := def.typ
		if typ == nil {
			if v, ok := r.cache.GetSingleton(name); ok {
				typ = valueType(v)
			}
		}
		metas = append(metas, meta{name: name, def: def, typ: typ})
	}
	// Manually-registered instances without definitions.
	for _, name := range r.cache.SingletonNames() {
		if _, shadowed := known[name]; shadowed {
			continue
		}
		v, ok := r.cache.GetSingleton(name)
		if !ok {
			continue
		}
		metas = append(metas, meta{name: name, typ: valueType(v)})
	}

	matches := func(m meta) bool {
		if m.def != nil {
			if m.def.abstract || !m.def.autowire {
				return false
			}
		}
		return r.satisfies(m.typ, elemType)
	}
	selfRef := func(m meta) bool {
		if d.Requester == "" {
			return false
		}
		return m.name == d.Requester || (m.def != nil && m.def.factoryComponent == d.Requester)
	}

	var out []candidate
	for _, m := range metas {
		if matches(m) && !selfRef(m) {
			c, err := r.addCandidate(ctx, d, m.name, m.def, m.typ, elemType)
			if err != nil {
				return nil, err
			}
			if c != nil {
				out = append(out, *c)
			}
		}
	}
	if len(out) == 0 {
		// Self references as a final pass; in a multi-element collection a
		// component never collects itself, only factory-owned siblings.
		for _, m := range metas {
			if matches(m) && selfRef(m) && (!d.multiElement() || m.name != d.Requester) {
				c, err := r.addCandidate(ctx, d, m.name, m.def, m.typ, elemType)
				if err != nil {
					return nil, err
				}
				if c != nil {
					out = append(out, *c)
				}
			}
		}
	}
	return out, nil
}

// addCandidate builds one candidate entry: an instance for multi-element
// shapes (they resolve everything) or for already-completed singletons,
// otherwise just the declared type to avoid early initialization ahead of
// tie-breaking.
func (r *Resolver) addCandidate(ctx *resolutionContext, d Descriptor, name string, def *Definition, typ, elemType reflect.Type) (*candidate, error) {
	materializeNow := d.Shape == ShapeSlice || d.Shape == ShapeMap
	if materializeNow {
		v, err := r.source(ctx, name)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		return &candidate{name: name, instance: v, hasInstance: true, typ: typ, def: def}, nil
	}
	if v, ok := r.cache.GetSingleton(name); ok {
		return &candidate{name: name, instance: v, hasInstance: true, typ: typ, def: def}, nil
	}
	return &candidate{name: name, typ: typ, def: def}, nil
}

// determineCandidate tie-breaks multiple matches: exactly one local primary,
// then lowest declared priority, then an exact name/alias match against the
// declaring site. Empty means unresolved.
func (r *Resolver) determineCandidate(candidates []candidate, d Descriptor) (string, error) {
	if name, err := r.determinePrimary(candidates, d); name != "" || err != nil {
		return name, err
	}
	if name, err := r.determineHighestPriority(candidates, d); name != "" || err != nil {
		return name, err
	}
	if d.Name != "" {
		for _, c := range candidates {
			if c.name == d.Name || r.store.Canonical(d.Name) == c.name {
				return c.name, nil
			}
		}
	}
	return "", nil
}

func (r *Resolver) determinePrimary(candidates []candidate, d Descriptor) (string, error) {
	primary := ""
	for _, c := range candidates {
		if c.def == nil || !c.def.primary {
			continue
		}
		if primary == "" {
			primary = c.name
			continue
		}
		candidateLocal := r.store.Contains(c.name)
		primaryLocal := r.store.Contains(primary)
		switch {
		case candidateLocal && primaryLocal:
			return "", AmbiguousPrimaryError{Type: d.Type, Candidates: candidateNames(candidates)}
		case candidateLocal:
			primary = c.name
		}
	}
	return primary, nil
}

func (r *Resolver) determineHighestPriority(candidates []candidate, d Descriptor) (string, error) {
	best := ""
	bestPriority := 0
	for _, c := range candidates {
		if c.def == nil {
			continue
		}
		p, ok := c.def.PriorityValue()
		if !ok {
			continue
		}
		if best == "" {
			best, bestPriority = c.name, p
			continue
		}
		switch {
		case p == bestPriority:
			return "", AmbiguousPriorityError{Type: d.Type, Priority: p, Candidates: candidateNames(candidates)}
		case p < bestPriority:
			best, bestPriority = c.name, p
		}
	}
	return best, nil
}

func (r *Resolver) recordDependent(d Descriptor, name string) {
	if d.Requester != "" {
		r.cache.RegisterDependent(name, d.Requester)
	}
}

func candidateNames(candidates []candidate) []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}
	return names
}

// sortCandidatesByOrder sorts by the explicit order attribute when declared,
// keeping undeclared candidates after declared ones in declaration order.
func sortCandidatesByOrder(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		oi, iok := orderOf(candidates[i])
		oj, jok := orderOf(candidates[j])
		if iok && jok {
			return oi < oj
		}
		return iok && !jok
	})
}

func orderOf(c candidate) (int, bool) {
	if c.def == nil {
		return 0, false
	}
	return c.def.OrderValue()
}

func asDefinitionNotFound(err error) (DefinitionNotFoundError, bool) {
	var nf DefinitionNotFoundError
	if errors.As(err, &nf) {
		return nf, true
	}
	return DefinitionNotFoundError{}, false
}
