package components

import (
	"errors"
	"slices"

	"github.com/zeusync/prefabkit/internal/core/ecs"
)

var ErrHierarchyCycle = errors.New("parent would create a hierarchy cycle")

// Parent returns e's parent, or ecs.Null.
func Parent(reg *ecs.Registry, e ecs.Entity) ecs.Entity {
	if tr, ok := ecs.Get[*Transform](reg, e); ok && reg.Valid(tr.Parent) {
		return tr.Parent
	}
	return ecs.Null
}

// Children returns the live children of e in order.
func Children(reg *ecs.Registry, e ecs.Entity) []ecs.Entity {
	tr, ok := ecs.Get[*Transform](reg, e)
	if !ok {
		return nil
	}
	out := make([]ecs.Entity, 0, len(tr.Children))
	for _, c := range tr.Children {
		if reg.Valid(c) {
			out = append(out, c)
		}
	}
	return out
}

// IsDescendant reports whether e is ancestor or lies below it.
func IsDescendant(reg *ecs.Registry, e, ancestor ecs.Entity) bool {
	for cur := e; reg.Valid(cur); cur = Parent(reg, cur) {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// SetParent re-links child under parent (ecs.Null detaches), keeping both sides of the
// link consistent. The child is appended to the parent's children if not already there.
func SetParent(reg *ecs.Registry, child, parent ecs.Entity) error {
	if !reg.Valid(child) {
		return ecs.ErrInvalidEntity
	}
	if reg.Valid(parent) && IsDescendant(reg, parent, child) {
		return ErrHierarchyCycle
	}
	tr, err := ecs.EmplaceOrGet(reg, child, NewTransform)
	if err != nil {
		return err
	}
	if tr.Parent != parent {
		detach(reg, child, tr.Parent)
	}
	if !reg.Valid(parent) {
		tr.Parent = ecs.Null
		return nil
	}
	tr.Parent = parent
	ptr, err := ecs.EmplaceOrGet(reg, parent, NewTransform)
	if err != nil {
		return err
	}
	if !slices.Contains(ptr.Children, child) {
		ptr.Children = append(ptr.Children, child)
	}
	return nil
}

// DestroyTree destroys e and all of its descendants, unlinking e from its parent.
// It returns the number of entities destroyed.
func DestroyTree(reg *ecs.Registry, e ecs.Entity) int {
	if !reg.Valid(e) {
		return 0
	}
	detach(reg, e, Parent(reg, e))
	return destroyTree(reg, e)
}

// Roots returns the entities without a live parent, in slot order.
func Roots(reg *ecs.Registry) []ecs.Entity {
	return reg.Entities().Filter(func(e ecs.Entity) bool {
		return Parent(reg, e).IsNull()
	}).Collect()
}

// Descendants returns e and everything below it in depth-first pre-order.
func Descendants(reg *ecs.Registry, e ecs.Entity) []ecs.Entity {
	if !reg.Valid(e) {
		return nil
	}
	out := []ecs.Entity{e}
	for _, c := range Children(reg, e) {
		out = append(out, Descendants(reg, c)...)
	}
	return out
}

func destroyTree(reg *ecs.Registry, e ecs.Entity) int {
	n := 0
	for _, c := range Children(reg, e) {
		n += destroyTree(reg, c)
	}
	if reg.Destroy(e) {
		n++
	}
	return n
}

func detach(reg *ecs.Registry, child, parent ecs.Entity) {
	ptr, ok := ecs.Get[*Transform](reg, parent)
	if !ok {
		return
	}
	ptr.Children = slices.DeleteFunc(ptr.Children, func(c ecs.Entity) bool { return c == child })
}
