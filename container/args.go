package container

import "reflect"

// Arg is one constructor-argument or property-value source: either a literal
// value or a dependency request described by a Descriptor.
type Arg struct {
	value    any
	hasValue bool
	desc     *Descriptor
}

// Value wraps a literal value.
func Value(v any) Arg {
	return Arg{value: v, hasValue: true}
}

// ByType requests a required scalar dependency of the given type.
func ByType(t reflect.Type) Arg {
	return Arg{desc: &Descriptor{Type: t, Required: true}}
}

// ByTypeOf requests a required scalar dependency of type T.
func ByTypeOf[T any]() Arg {
	return ByType(TypeOf[T]())
}

// OptionalOf requests an optional scalar dependency of type T; absence
// resolves to the zero value instead of an error.
func OptionalOf[T any]() Arg {
	return Arg{desc: &Descriptor{Type: TypeOf[T](), Required: false}}
}

// ByName requests the component registered under name (or one of its
// aliases), whatever its type.
func ByName(name string) Arg {
	return Arg{desc: &Descriptor{Name: name, Required: true}}
}

// SliceOf requests every eligible candidate of element type T as a []T,
// ordered by the explicit order attribute when present, else by declaration
// order. Zero candidates resolve to an empty slice, never an error.
func SliceOf[T any]() Arg {
	return Arg{desc: &Descriptor{Type: TypeOf[T](), Shape: ShapeSlice}}
}

// MapOf requests every eligible candidate of element type T as a
// map[string]T keyed by component name.
func MapOf[T any]() Arg {
	return Arg{desc: &Descriptor{Type: TypeOf[T](), Shape: ShapeMap}}
}

// StreamOf requests an iter.Seq[any] that resolves candidates of type T
// lazily on iteration, in declaration order.
func StreamOf[T any]() Arg {
	return Arg{desc: &Descriptor{Type: TypeOf[T](), Shape: ShapeStream}}
}

// OrderedStreamOf is StreamOf with order-attribute sorting.
func OrderedStreamOf[T any]() Arg {
	return Arg{desc: &Descriptor{Type: TypeOf[T](), Shape: ShapeStream, Ordered: true}}
}

// descriptorFor stamps requester/name-hint context onto the Arg's descriptor.
func (a Arg) descriptorFor(requester, nameHint string, nesting int) Descriptor {
	d := *a.desc
	d.Requester = requester
	if d.Name == "" {
		d.Name = nameHint
	}
	d.Nesting = nesting
	return d
}

// Property is a post-construction assignment: resolved after the instance has
// been exposed for cycle breaking, which is what lets two singletons linked
// only through properties reference each other.
type Property struct {
	// Name identifies the property for merge override and name-hint
	// tie-breaking.
	Name string
	// Arg supplies the value.
	Arg Arg
	// Bind attaches the resolved value to the target instance.
	Bind func(target, value any) error
}

// Prop builds a Property from an untyped bind function.
func Prop(name string, arg Arg, bind func(target, value any) error) Property {
	return Property{Name: name, Arg: arg, Bind: bind}
}

// Setter adapts a typed bind function into a Property bind, returning a
// TypeMismatchError when either side has an unexpected type.
func Setter[T any, D any](fn func(target *T, dep D)) func(target, value any) error {
	return func(target, value any) error {
		t, ok := target.(*T)
		if !ok {
			return TypeMismatchError{Required: TypeOf[*T](), Actual: valueType(target)}
		}
		if value == nil {
			var zero D
			fn(t, zero)
			return nil
		}
		d, ok := value.(D)
		if !ok {
			return TypeMismatchError{Required: TypeOf[D](), Actual: valueType(value)}
		}
		fn(t, d)
		return nil
	}
}
