package container

import "iter"

// Get resolves the single component assignable to T.
//
//	repo, err := container.Get[UserRepository](c)
func Get[T any](c *Container) (T, error) {
	var zero T
	v, err := c.GetByType(TypeOf[T]())
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, TypeMismatchError{Required: TypeOf[T](), Actual: valueType(v)}
	}
	return t, nil
}

// GetNamed resolves the component registered under name, typed as T.
func GetNamed[T any](c *Container, name string) (T, error) {
	var zero T
	v, err := c.GetInstance(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, TypeMismatchError{Name: name, Required: TypeOf[T](), Actual: valueType(v)}
	}
	return t, nil
}

// MustGet is Get or panic. Useful in composition roots and tests where a
// missing component should fail fast.
func MustGet[T any](c *Container) T {
	v, err := Get[T](c)
	if err != nil {
		panic(err)
	}
	return v
}

// MustGetNamed is GetNamed or panic.
func MustGetNamed[T any](c *Container, name string) T {
	v, err := GetNamed[T](c, name)
	if err != nil {
		panic(err)
	}
	return v
}

// AllOf collects every eligible component assignable to T, ordered by the
// explicit order attribute when present, else declaration order. Zero
// candidates yield an empty slice.
func AllOf[T any](c *Container) ([]T, error) {
	v, err := c.ResolveDependency(Descriptor{Type: TypeOf[T](), Shape: ShapeSlice})
	if err != nil {
		return nil, err
	}
	return v.([]T), nil
}

// MapOfType collects every eligible component assignable to T, keyed by
// component name.
func MapOfType[T any](c *Container) (map[string]T, error) {
	v, err := c.ResolveDependency(Descriptor{Type: TypeOf[T](), Shape: ShapeMap})
	if err != nil {
		return nil, err
	}
	return v.(map[string]T), nil
}

// StreamOfType yields components assignable to T lazily, resolving each on
// iteration.
func StreamOfType[T any](c *Container) (iter.Seq[T], error) {
	v, err := c.ResolveDependency(Descriptor{Type: TypeOf[T](), Shape: ShapeStream})
	if err != nil {
		return nil, err
	}
	seq := v.(iter.Seq[any])
	return func(yield func(T) bool) {
		for item := range seq {
			t, ok := item.(T)
			if !ok {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}, nil
}
