package ecs

// ComponentID identifies a component type inside a Registry.
type ComponentID uint32

// Component is a data record attached to an entity. TypeID must not dereference its
// receiver: the generic helpers call it on a nil pointer to find the table for T.
type Component interface {
	TypeID() ComponentID
}

// IDOf returns the ComponentID for T.
func IDOf[T Component]() ComponentID {
	var zero T
	return zero.TypeID()
}

// Get returns the component of type T attached to e.
func Get[T Component](r *Registry, e Entity) (T, bool) {
	var zero T
	c, ok := r.Component(e, zero.TypeID())
	if !ok {
		return zero, false
	}
	typed, ok := c.(T)
	return typed, ok
}

// Has reports whether e has a component of type T.
func Has[T Component](r *Registry, e Entity) bool {
	return r.Has(e, IDOf[T]())
}

// Remove detaches the T component from e.
func Remove[T Component](r *Registry, e Entity) bool {
	return r.Remove(e, IDOf[T]())
}

// EmplaceOrGet returns the existing T of e, or attaches ctor() and returns it.
func EmplaceOrGet[T Component](r *Registry, e Entity, ctor func() T) (T, error) {
	if c, ok := Get[T](r, e); ok {
		return c, nil
	}
	c := ctor()
	if err := r.Emplace(e, c); err != nil {
		var zero T
		return zero, err
	}
	return c, nil
}
