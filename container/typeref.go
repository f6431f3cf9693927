package container

import "reflect"

// TypeOf returns the reflect.Type for T. Unlike reflect.TypeOf on a value it
// works for interface types as well:
//
//	container.TypeOf[io.Writer]()
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// TypeSatisfier decides whether a candidate type can satisfy a target type.
// The default is reflect assignability; environments that cannot rely on
// runtime introspection may plug in an explicit tag/identity predicate via
// WithTypeSatisfier.
type TypeSatisfier func(candidate, target reflect.Type) bool

// AssignableSatisfier is the default TypeSatisfier.
func AssignableSatisfier(candidate, target reflect.Type) bool {
	if candidate == nil || target == nil {
		return false
	}
	return candidate.AssignableTo(target)
}

// valueType returns the dynamic type of v, or nil for a nil value.
func valueType(v any) reflect.Type {
	if v == nil {
		return nil
	}
	return reflect.TypeOf(v)
}
