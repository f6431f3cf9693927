package container

import "reflect"

// Scope controls instance caching: singletons are cached per name for the
// container's lifetime, prototypes are built fresh on every request. Custom
// scopes are delegated to a registered ScopeStrategy.
type Scope string

const (
	ScopeSingleton Scope = "singleton"
	ScopePrototype Scope = "prototype"
)

// Role classifies who a definition belongs to; overriding a definition with
// one of a higher role (user -> support -> infrastructure) is logged louder.
type Role int

const (
	RoleUser Role = iota
	RoleSupport
	RoleInfrastructure
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleSupport:
		return "support"
	case RoleInfrastructure:
		return "infrastructure"
	default:
		return "user"
	}
}

// Factory produces a raw component instance from already-resolved constructor
// arguments. For factory-method definitions the owning component is passed as
// the first argument.
type Factory func(args ...any) (any, error)

// Explicit-set bits. Merge folds a child over its parent field-by-field, and
// a bool or zero int cannot express "not set", so every chaining setter also
// records that its field was set.
const (
	setType uint32 = 1 << iota
	setScope
	setLazy
	setAbstract
	setFactory
	setArgs
	setProperties
	setPrimary
	setPriority
	setOrder
	setAutowire
	setInit
	setDestroy
	setRole
)

// Definition is the declarative recipe for one named component.
//
// Definitions are built with chaining setters:
//
//	def := container.Define[*UserService]("users").
//	    WithFactory(func(args ...any) (any, error) { return NewUserService(), nil }).
//	    WithProperty(container.Prop("db", container.ByTypeOf[*DB](),
//	        container.Setter(func(s *UserService, db *DB) { s.DB = db })))
type Definition struct {
	name             string
	typ              reflect.Type
	scope            Scope
	lazy             bool
	abstract         bool
	parent           string
	factory          Factory
	factoryComponent string
	args             []Arg
	properties       []Property
	primary          bool
	priority         *int
	order            *int
	autowire         bool
	initFn           func(any) error
	destroyFn        func(any) error
	role             Role
	set              uint32
}

// NewDefinition starts a definition for name with the given declared type.
// Defaults: singleton scope, eager, autowire-eligible, user role.
func NewDefinition(name string, typ reflect.Type) *Definition {
	d := &Definition{name: name, scope: ScopeSingleton, autowire: true}
	if typ != nil {
		d.typ = typ
		d.set |= setType
	}
	return d
}

// Define starts a definition for name declared as type T.
func Define[T any](name string) *Definition {
	return NewDefinition(name, TypeOf[T]())
}

// WithScope sets the instance scope.
func (d *Definition) WithScope(s Scope) *Definition {
	d.scope = s
	d.set |= setScope
	return d
}

// Lazy defers singleton construction to first lookup instead of the eager
// pass during Refresh.
func (d *Definition) Lazy() *Definition {
	d.lazy = true
	d.set |= setLazy
	return d
}

// Abstract marks the definition as a template: it can serve as a merge
// parent but is never instantiated.
func (d *Definition) Abstract() *Definition {
	d.abstract = true
	d.set |= setAbstract
	return d
}

// WithParent names the parent definition this one inherits from.
func (d *Definition) WithParent(name string) *Definition {
	d.parent = name
	return d
}

// WithFactory sets the instance producer.
func (d *Definition) WithFactory(f Factory) *Definition {
	d.factory = f
	d.set |= setFactory
	return d
}

// WithFactoryComponent names the component owning the factory method; it is
// resolved first and passed to the factory as the leading argument.
func (d *Definition) WithFactoryComponent(name string, f Factory) *Definition {
	d.factoryComponent = name
	d.factory = f
	d.set |= setFactory
	return d
}

// WithArgs sets the constructor arguments, each a literal or a dependency
// request.
func (d *Definition) WithArgs(args ...Arg) *Definition {
	d.args = args
	d.set |= setArgs
	return d
}

// WithProperty appends a post-construction assignment.
func (d *Definition) WithProperty(p Property) *Definition {
	d.properties = append(d.properties, p)
	d.set |= setProperties
	return d
}

// Primary flags this definition as the preferred candidate when several
// match the same required type.
func (d *Definition) Primary() *Definition {
	d.primary = true
	d.set |= setPrimary
	return d
}

// WithPriority sets the numeric tie-break priority; the lowest declared value
// wins among type-matching candidates.
func (d *Definition) WithPriority(p int) *Definition {
	v := p
	d.priority = &v
	d.set |= setPriority
	return d
}

// WithOrder sets the explicit position used when this component is collected
// into multi-element dependencies.
func (d *Definition) WithOrder(o int) *Definition {
	v := o
	d.order = &v
	d.set |= setOrder
	return d
}

// NotAutowireCandidate excludes this definition from type-directed
// resolution; it stays reachable by name.
func (d *Definition) NotAutowireCandidate() *Definition {
	d.autowire = false
	d.set |= setAutowire
	return d
}

// WithInit sets the init hook, run after property injection.
func (d *Definition) WithInit(fn func(any) error) *Definition {
	d.initFn = fn
	d.set |= setInit
	return d
}

// WithDestroy sets the destroy hook, run during singleton destruction.
func (d *Definition) WithDestroy(fn func(any) error) *Definition {
	d.destroyFn = fn
	d.set |= setDestroy
	return d
}

// WithRole classifies the definition.
func (d *Definition) WithRole(r Role) *Definition {
	d.role = r
	d.set |= setRole
	return d
}

// Name returns the component name.
func (d *Definition) Name() string { return d.name }

// Type returns the declared type, which may be nil before merging when the
// parent supplies it.
func (d *Definition) Type() reflect.Type { return d.typ }

// ScopeName returns the instance scope.
func (d *Definition) ScopeName() Scope { return d.scope }

// IsLazy reports whether eager instantiation is skipped.
func (d *Definition) IsLazy() bool { return d.lazy }

// IsAbstract reports whether the definition is a template only.
func (d *Definition) IsAbstract() bool { return d.abstract }

// ParentName returns the parent definition name, if any.
func (d *Definition) ParentName() string { return d.parent }

// IsPrimary reports the primary tie-break flag.
func (d *Definition) IsPrimary() bool { return d.primary }

// PriorityValue returns the declared priority, if any.
func (d *Definition) PriorityValue() (int, bool) {
	if d.priority == nil {
		return 0, false
	}
	return *d.priority, true
}

// OrderValue returns the declared collection order, if any.
func (d *Definition) OrderValue() (int, bool) {
	if d.order == nil {
		return 0, false
	}
	return *d.order, true
}

// IsAutowireCandidate reports eligibility for type-directed resolution.
func (d *Definition) IsAutowireCandidate() bool { return d.autowire }

// RoleValue returns the definition role.
func (d *Definition) RoleValue() Role { return d.role }

// FactoryComponent returns the owning factory component name, if any.
func (d *Definition) FactoryComponent() string { return d.factoryComponent }

func (d *Definition) isSet(bit uint32) bool { return d.set&bit != 0 }

// clone returns a shallow copy with its own args/properties slices.
func (d *Definition) clone() *Definition {
	cp := *d
	if len(d.args) > 0 {
		cp.args = append([]Arg(nil), d.args...)
	}
	if len(d.properties) > 0 {
		cp.properties = append([]Property(nil), d.properties...)
	}
	return &cp
}

// mergedFrom folds child d over an already-merged parent: the child overrides
// every field it explicitly set, constructor args replace wholesale, and
// properties merge by name with the child winning.
func (d *Definition) mergedFrom(parent *Definition) *Definition {
	m := parent.clone()
	m.name = d.name
	m.parent = ""
	m.factoryComponent = d.factoryComponent
	if m.factoryComponent == "" {
		m.factoryComponent = parent.factoryComponent
	}
	if d.isSet(setType) {
		m.typ = d.typ
	}
	if d.isSet(setScope) {
		m.scope = d.scope
	}
	if d.isSet(setLazy) {
		m.lazy = d.lazy
	}
	if d.isSet(setAbstract) {
		m.abstract = d.abstract
	} else {
		// A concrete child of an abstract parent is instantiable.
		m.abstract = false
	}
	if d.isSet(setFactory) {
		m.factory = d.factory
	}
	if d.isSet(setArgs) {
		m.args = append([]Arg(nil), d.args...)
	}
	if d.isSet(setProperties) {
		m.properties = mergeProperties(m.properties, d.properties)
	}
	if d.isSet(setPrimary) {
		m.primary = d.primary
	}
	if d.isSet(setPriority) {
		m.priority = d.priority
	}
	if d.isSet(setOrder) {
		m.order = d.order
	}
	if d.isSet(setAutowire) {
		m.autowire = d.autowire
	}
	if d.isSet(setInit) {
		m.initFn = d.initFn
	}
	if d.isSet(setDestroy) {
		m.destroyFn = d.destroyFn
	}
	if d.isSet(setRole) {
		m.role = d.role
	}
	m.set |= d.set
	return m
}

func mergeProperties(parent, child []Property) []Property {
	merged := append([]Property(nil), parent...)
	for _, p := range child {
		replaced := false
		for i, existing := range merged {
			if existing.Name != "" && existing.Name == p.Name {
				merged[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, p)
		}
	}
	return merged
}

// equivalent is a best-effort content comparison used only to pick a log
// level when an override is allowed. Functions are not comparable, so two
// definitions with identical metadata but different hooks rank as equivalent.
func (d *Definition) equivalent(other *Definition) bool {
	if other == nil {
		return false
	}
	return d.typ == other.typ &&
		d.scope == other.scope &&
		d.lazy == other.lazy &&
		d.abstract == other.abstract &&
		d.parent == other.parent &&
		d.primary == other.primary &&
		d.autowire == other.autowire &&
		d.role == other.role &&
		intPtrEq(d.priority, other.priority) &&
		intPtrEq(d.order, other.order) &&
		len(d.args) == len(other.args) &&
		len(d.properties) == len(other.properties)
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
