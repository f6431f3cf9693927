package container

import "sort"

// DefinitionPostProcessor runs during Refresh, after the store is prepared
// and before any instance is created. It may add or alter definitions.
// Processors implementing Prioritized run in ascending priority order;
// unprioritized ones follow in registration order.
type DefinitionPostProcessor interface {
	ProcessDefinitions(store *DefinitionStore) error
}

// Prioritized orders post-processors and event listeners: lower runs first.
type Prioritized interface {
	Priority() int
}

// InstanceInterceptor is the opaque interception capability of the instance
// pipeline. Either hook may replace the instance (returning a wrapper or
// proxy); returning the input unchanged is the no-op. The core never depends
// on how a wrapper is built, only that the final value stays type-compatible
// with the request site.
type InstanceInterceptor interface {
	// BeforeInit runs after property injection, before init hooks.
	BeforeInit(name string, instance any) (any, error)
	// AfterInit runs after init hooks.
	AfterInit(name string, instance any) (any, error)
}

// EarlyReferenceInterceptor lets an interceptor substitute the early
// reference handed out for cycle breaking, so dependents caught in a cycle
// see the same wrapper the finished singleton will be.
type EarlyReferenceInterceptor interface {
	EarlyReference(name string, instance any) any
}

// sortByPriority orders items ascending by Prioritized priority, keeping
// unprioritized items after prioritized ones in their original order.
func sortByPriority[T any](items []T) []T {
	out := append([]T(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := any(out[i]).(Prioritized)
		pj, jok := any(out[j]).(Prioritized)
		if iok && jok {
			return pi.Priority() < pj.Priority()
		}
		return iok && !jok
	})
	return out
}
