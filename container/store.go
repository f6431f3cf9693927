package container

import (
	"sync"

	"go.uber.org/zap"
)

// StoreOption configures a DefinitionStore.
type StoreOption func(*DefinitionStore)

// WithStoreLogger sets the logger; default is a nop logger.
func WithStoreLogger(log *zap.Logger) StoreOption {
	return func(s *DefinitionStore) { s.log = log }
}

// WithParentStore chains this store to a parent: enumeration includes
// ancestor definitions, local ones shadow inherited ones.
func WithParentStore(parent *DefinitionStore) StoreOption {
	return func(s *DefinitionStore) { s.parent = parent }
}

// WithOverride controls whether re-registering an existing name replaces the
// definition (logged) or raises a DefinitionConflictError. Default: allowed.
func WithOverride(allow bool) StoreOption {
	return func(s *DefinitionStore) { s.allowOverride = allow }
}

// DefinitionStore is the registry of named component definitions. It owns the
// merged-definition cache: merged views are computed lazily per name and
// invalidated, with cascade to all children, whenever the underlying
// definition changes. Staleness is explicit, never silent.
type DefinitionStore struct {
	mu            sync.RWMutex
	log           *zap.Logger
	parent        *DefinitionStore
	allowOverride bool

	definitions map[string]*Definition
	names       []string // registration order
	aliases     map[string]string
	merged      map[string]*Definition

	frozen      bool
	frozenNames []string
}

// NewDefinitionStore creates an empty store.
func NewDefinitionStore(opts ...StoreOption) *DefinitionStore {
	s := &DefinitionStore{
		log:           zap.NewNop(),
		allowOverride: true,
		definitions:   make(map[string]*Definition),
		aliases:       make(map[string]string),
		merged:        make(map[string]*Definition),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates def and stores it under name. Overriding an existing
// definition is gated by the override policy; an allowed override is logged
// louder when the incoming role outranks the existing one, quieter when the
// content is equivalent.
func (s *DefinitionStore) Register(name string, def *Definition) error {
	if name == "" {
		return ErrEmptyName
	}
	if def == nil {
		return ErrNilDefinition
	}
	if def.parent == name {
		return DefinitionConflictError{Name: name, Reason: "definition cannot be its own parent"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.definitions[name]
	if exists {
		if !s.allowOverride {
			return DefinitionConflictError{Name: name, Reason: "override is disallowed"}
		}
		switch {
		case existing.role < def.role:
			s.log.Warn("overriding user-level definition with a framework-generated one",
				zap.String("name", name),
				zap.Stringer("was", existing.role),
				zap.Stringer("now", def.role))
		case !def.equivalent(existing):
			s.log.Info("overriding definition with a different one", zap.String("name", name))
		default:
			s.log.Debug("overriding definition with an equivalent one", zap.String("name", name))
		}
		s.definitions[name] = def
	} else {
		s.definitions[name] = def
		s.names = append(s.names, name)
		// Post-freeze registrations stay legal but drop the snapshot.
		s.frozenNames = nil
	}

	s.invalidateLocked(name)
	return nil
}

// Remove deletes the definition under name and invalidates derived caches.
func (s *DefinitionStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.definitions[name]; !ok {
		return DefinitionNotFoundError{Name: name}
	}
	delete(s.definitions, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
	s.frozenNames = nil
	s.invalidateLocked(name)
	return nil
}

// Definition returns the raw registered definition, consulting ancestors when
// the name is not local.
func (s *DefinitionStore) Definition(name string) (*Definition, error) {
	s.mu.RLock()
	def, ok := s.definitions[name]
	s.mu.RUnlock()
	if ok {
		return def, nil
	}
	if s.parent != nil {
		return s.parent.Definition(name)
	}
	return nil, DefinitionNotFoundError{Name: name}
}

// Contains reports whether name is registered in this store, ignoring
// ancestors. The primary tie-break uses this to tell local definitions from
// inherited ones.
func (s *DefinitionStore) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.definitions[name]
	return ok
}

// Names returns the registered names in declaration order. Once frozen, the
// snapshot taken by Freeze is reused until a registration invalidates it.
func (s *DefinitionStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		if s.frozenNames == nil {
			s.frozenNames = append([]string(nil), s.names...)
		}
		return s.frozenNames
	}
	return append([]string(nil), s.names...)
}

// NamesIncludingAncestors returns ancestor names first (so local declaration
// order still decides ties among locals), with shadowed names dropped.
func (s *DefinitionStore) NamesIncludingAncestors() []string {
	if s.parent == nil {
		return s.Names()
	}
	inherited := s.parent.NamesIncludingAncestors()
	local := s.Names()
	out := make([]string, 0, len(inherited)+len(local))
	for _, n := range inherited {
		if !s.Contains(n) {
			out = append(out, n)
		}
	}
	return append(out, local...)
}

// Freeze snapshots the name enumeration for fast iteration. Registration
// stays possible afterwards but invalidates the snapshot.
func (s *DefinitionStore) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	s.frozenNames = append([]string(nil), s.names...)
}

// IsFrozen reports whether Freeze has been called.
func (s *DefinitionStore) IsFrozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// RegisterAlias maps alias to name. Alias overriding follows the definition
// override policy, and an alias may not shadow a registered definition.
func (s *DefinitionStore) RegisterAlias(name, alias string) error {
	if name == "" || alias == "" {
		return ErrEmptyName
	}
	if name == alias {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[alias]; ok {
		return DefinitionConflictError{Name: alias, Reason: "alias would shadow a definition"}
	}
	if existing, ok := s.aliases[alias]; ok && existing != name {
		if !s.allowOverride {
			return DefinitionConflictError{Name: alias, Reason: "alias override is disallowed"}
		}
		s.log.Info("re-pointing alias",
			zap.String("alias", alias), zap.String("was", existing), zap.String("now", name))
	}
	// Reject alias chains that would loop back.
	seen := map[string]struct{}{alias: {}}
	for target := name; target != ""; {
		if _, dup := seen[target]; dup {
			return DefinitionConflictError{Name: alias, Reason: "alias cycle"}
		}
		seen[target] = struct{}{}
		target = s.aliases[target]
	}
	s.aliases[alias] = name
	return nil
}

// Aliases returns all aliases pointing at name.
func (s *DefinitionStore) Aliases(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for alias, target := range s.aliases {
		if s.canonicalLocked(target) == name {
			out = append(out, alias)
		}
	}
	return out
}

// Canonical follows the alias chain to the underlying component name.
func (s *DefinitionStore) Canonical(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canonicalLocked(name)
}

func (s *DefinitionStore) canonicalLocked(name string) string {
	for {
		target, ok := s.aliases[name]
		if !ok {
			return name
		}
		name = target
	}
}

// Merged resolves the parent chain for name into a fully-merged definition,
// child fields overriding parent fields, and caches the result until the
// definition (or an ancestor in its chain) changes. A parent-reference cycle
// raises DefinitionConflictError.
func (s *DefinitionStore) Merged(name string) (*Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergedLocked(name, nil)
}

func (s *DefinitionStore) mergedLocked(name string, visiting map[string]struct{}) (*Definition, error) {
	if m, ok := s.merged[name]; ok {
		return m, nil
	}
	def, ok := s.definitions[name]
	if !ok {
		if s.parent != nil {
			return s.parent.Merged(name)
		}
		return nil, DefinitionNotFoundError{Name: name}
	}

	var m *Definition
	if def.parent == "" {
		m = def.clone()
	} else {
		if _, cycling := visiting[name]; cycling {
			return nil, DefinitionConflictError{Name: name, Reason: "parent chain cycle"}
		}
		if visiting == nil {
			visiting = make(map[string]struct{})
		}
		visiting[name] = struct{}{}
		parentMerged, err := s.mergedLocked(def.parent, visiting)
		if err != nil {
			if _, notFound := err.(DefinitionNotFoundError); notFound {
				return nil, DefinitionConflictError{Name: name, Reason: "parent " + def.parent + " not found"}
			}
			return nil, err
		}
		delete(visiting, name)
		m = def.mergedFrom(parentMerged)
	}

	s.merged[name] = m
	return m, nil
}

// invalidateLocked drops the merged view for name and cascades to every
// definition whose parent chain passes through it. The seen set keeps a
// malformed parent cycle from recursing forever; the cycle itself is reported
// at merge time.
func (s *DefinitionStore) invalidateLocked(name string) {
	s.invalidateCascade(name, map[string]struct{}{})
}

func (s *DefinitionStore) invalidateCascade(name string, seen map[string]struct{}) {
	if _, done := seen[name]; done {
		return
	}
	seen[name] = struct{}{}
	delete(s.merged, name)
	for childName, child := range s.definitions {
		if child.parent == name {
			s.invalidateCascade(childName, seen)
		}
	}
}

// ClearMerged drops every cached merged view; used by the Refresh rollback
// path to reset shared metadata caches.
func (s *DefinitionStore) ClearMerged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged = make(map[string]*Definition)
}

// Len returns the number of locally registered definitions.
func (s *DefinitionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.definitions)
}
