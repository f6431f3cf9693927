package container

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
)

var (
	// ErrClosed is returned when a lifecycle transition or lookup is attempted
	// on a container that has already been closed. CLOSED is terminal.
	ErrClosed = errors.New("container: closed")

	// ErrNotActive is returned when an instance lookup is attempted before a
	// successful Refresh, or after a failed one.
	ErrNotActive = errors.New("container: not active")

	// ErrNilDefinition is returned when a nil definition is registered.
	ErrNilDefinition = errors.New("container: nil definition")

	// ErrEmptyName is returned when a definition or alias is registered under
	// an empty name.
	ErrEmptyName = errors.New("container: empty component name")
)

// DefinitionConflictError is returned when a definition cannot be registered
// or resolved: disallowed override, parent-chain cycle, alias collision, or an
// attempt to instantiate an abstract (template-only) definition.
type DefinitionConflictError struct {
	Name   string
	Reason string
}

// Error implements the error interface.
func (e DefinitionConflictError) Error() string {
	// Example: container: definition conflict for "db": override is disallowed
	return "container: definition conflict for " + strconv.Quote(e.Name) + ": " + e.Reason
}

// DefinitionNotFoundError is returned when no definition exists under a name.
type DefinitionNotFoundError struct{ Name string }

// Error implements the error interface.
func (e DefinitionNotFoundError) Error() string {
	// Example: container: no definition named "db"
	return "container: no definition named " + strconv.Quote(e.Name)
}

// CircularReferenceError is returned for an unbreakable constructor-level
// cycle: the requested singleton is already in creation and no partial
// instance exists yet to hand out.
type CircularReferenceError struct {
	Name  string
	Chain []string
}

// Error implements the error interface.
func (e CircularReferenceError) Error() string {
	// Example: container: circular reference while creating "a" (a -> b -> a)
	msg := "container: circular reference while creating " + strconv.Quote(e.Name)
	if len(e.Chain) > 0 {
		msg += " (" + strings.Join(e.Chain, " -> ") + " -> " + e.Name + ")"
	}
	return msg
}

// PrototypeCycleError is returned when a dependency cycle passes through a
// prototype-scoped component. Prototypes are never exposed early, so such a
// cycle has no alternate path and cannot be broken.
type PrototypeCycleError struct {
	Name  string
	Chain []string
}

// Error implements the error interface.
func (e PrototypeCycleError) Error() string {
	msg := "container: prototype cycle through " + strconv.Quote(e.Name)
	if len(e.Chain) > 0 {
		msg += " (" + strings.Join(e.Chain, " -> ") + " -> " + e.Name + ")"
	}
	return msg
}

// AmbiguousPrimaryError is returned when more than one locally-defined
// candidate for the same required type is flagged primary.
type AmbiguousPrimaryError struct {
	Type       reflect.Type
	Candidates []string
}

// Error implements the error interface.
func (e AmbiguousPrimaryError) Error() string {
	return "container: more than one primary candidate for " + typeName(e.Type) +
		" among " + quoteJoin(e.Candidates)
}

// AmbiguousPriorityError is returned when two candidates declare the same
// lowest priority value for the same required type.
type AmbiguousPriorityError struct {
	Type       reflect.Type
	Priority   int
	Candidates []string
}

// Error implements the error interface.
func (e AmbiguousPriorityError) Error() string {
	return "container: multiple candidates for " + typeName(e.Type) +
		" share priority " + strconv.Itoa(e.Priority) + ": " + quoteJoin(e.Candidates)
}

// AmbiguousMatchError is returned when a required scalar dependency matches
// several candidates and no primary, priority, or name hint disambiguates.
type AmbiguousMatchError struct {
	Type       reflect.Type
	Candidates []string
}

// Error implements the error interface.
func (e AmbiguousMatchError) Error() string {
	return "container: ambiguous match for " + typeName(e.Type) +
		": candidates " + quoteJoin(e.Candidates)
}

// NoMatchError is returned when a required scalar dependency matches nothing.
type NoMatchError struct {
	Type      reflect.Type
	Requester string
}

// Error implements the error interface.
func (e NoMatchError) Error() string {
	msg := "container: no candidate for required dependency of type " + typeName(e.Type)
	if e.Requester != "" {
		msg += " requested by " + strconv.Quote(e.Requester)
	}
	return msg
}

// TypeMismatchError is returned when a concretely produced value (possibly a
// substituted wrapper) is not assignable to the requested type.
type TypeMismatchError struct {
	Name     string
	Required reflect.Type
	Actual   reflect.Type
}

// Error implements the error interface.
func (e TypeMismatchError) Error() string {
	return "container: component " + strconv.Quote(e.Name) + " is of type " +
		typeName(e.Actual) + ", not assignable to " + typeName(e.Required)
}

// RefreshError wraps any error that aborted a Refresh after rollback.
type RefreshError struct{ Err error }

// Error implements the error interface.
func (e RefreshError) Error() string { return "container: refresh failed: " + e.Err.Error() }

// Unwrap exposes the original bootstrap error to errors.Is / errors.As.
func (e RefreshError) Unwrap() error { return e.Err }

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = strconv.Quote(n)
	}
	return strings.Join(quoted, ", ")
}
