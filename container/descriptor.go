package container

import "reflect"

// Shape describes how many matches a dependency site expects and how they are
// delivered.
type Shape int

const (
	// ShapeScalar expects exactly one match (or absence when optional).
	ShapeScalar Shape = iota
	// ShapeSlice collects every eligible candidate into a typed slice.
	ShapeSlice
	// ShapeMap collects every eligible candidate into a name-keyed map.
	// Keys are component names, which keeps the key type textual.
	ShapeMap
	// ShapeStream yields candidates lazily, resolving each on iteration.
	ShapeStream
)

// Descriptor describes one dependency site: the type to satisfy, the shape of
// the injection point, and enough context for self-reference exclusion and
// name-hint tie-breaking.
//
// For multi-element shapes Type is the element type.
type Descriptor struct {
	Type     reflect.Type
	Shape    Shape
	Required bool

	// Ordered requests order-attribute sorting for stream shapes. Slice
	// shapes are always sorted; maps preserve declaration order.
	Ordered bool

	// Requester is the name of the component declaring this dependency,
	// used to exclude self-references. Empty for external lookups.
	Requester string

	// Name is the declaring-site name hint: it breaks ties as a last resort
	// (exact name or alias match) and drives pure by-name references.
	Name string

	// Nesting is the depth of the injection point within the graph walk.
	Nesting int
}

// multiElement reports whether the descriptor expects zero-or-more matches.
func (d Descriptor) multiElement() bool { return d.Shape != ShapeScalar }
