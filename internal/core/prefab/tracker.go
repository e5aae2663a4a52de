package prefab

import (
	"bytes"
	"cmp"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/properties"
	"github.com/zeusync/prefabkit/internal/core/snapshot"
)

var (
	ErrNotInstance   = errors.New("entity is not a prefab instance root")
	ErrNoTemplateID  = errors.New("entity has no template id")
	ErrNotInInstance = errors.New("entity is not part of a prefab instance")
)

// OverrideView is one override as presented to the inspector.
type OverrideView struct {
	Entity  ecs.Entity
	UID     uuid.UUID
	Path    string
	Display string
}

// Tracker records how prefab instances diverge from their templates. The state lives in the
// Prefab component of each instance root, kept sorted so saved scenes stay stable.
type Tracker struct {
	reg *ecs.Registry
}

func NewTracker(reg *ecs.Registry) *Tracker {
	return &Tracker{reg: reg}
}

func (t *Tracker) prefab(root ecs.Entity) (*components.Prefab, error) {
	p, ok := ecs.Get[*components.Prefab](t.reg, root)
	if !ok {
		return nil, ErrNotInstance
	}
	return p, nil
}

func compareOverrides(a, b components.Override) int {
	if c := bytes.Compare(a.Entity[:], b.Entity[:]); c != 0 {
		return c
	}
	return strings.Compare(a.Path, b.Path)
}

func compareUIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// Record adds an override for the property at path of the template entity uid. It reports
// false when the property was already covered by an override.
func (t *Tracker) Record(root ecs.Entity, uid uuid.UUID, path string) (bool, error) {
	p, err := t.prefab(root)
	if err != nil {
		return false, err
	}
	if uid == uuid.Nil {
		return false, ErrNoTemplateID
	}
	if covered(p.Overrides, uid, path) {
		return false, nil
	}
	o := components.Override{Entity: uid, Path: path}
	idx, _ := slices.BinarySearchFunc(p.Overrides, o, compareOverrides)
	p.Overrides = slices.Insert(p.Overrides, idx, o)
	return true, nil
}

// Forget drops the override at path and every override below it.
func (t *Tracker) Forget(root ecs.Entity, uid uuid.UUID, path string) bool {
	p, err := t.prefab(root)
	if err != nil {
		return false
	}
	n := len(p.Overrides)
	p.Overrides = slices.DeleteFunc(p.Overrides, func(o components.Override) bool {
		return o.Entity == uid && properties.Covers(path, o.Path)
	})
	return len(p.Overrides) != n
}

// MarkRemoved records that the instance deleted the template entity uid and drops the
// overrides of that entity and, while it is still live, of its descendants. Marking an
// entity twice is a no-op.
func (t *Tracker) MarkRemoved(root ecs.Entity, uid uuid.UUID) (bool, error) {
	p, err := t.prefab(root)
	if err != nil {
		return false, err
	}
	if uid == uuid.Nil {
		return false, ErrNoTemplateID
	}
	idx, found := slices.BinarySearchFunc(p.Removed, uid, compareUIDs)
	if found {
		return false, nil
	}
	p.Removed = slices.Insert(p.Removed, idx, uid)
	gone := map[uuid.UUID]struct{}{uid: {}}
	if e, ok := Seed(t.reg, root)[uid]; ok {
		for _, d := range components.Descendants(t.reg, e) {
			gone[components.StableID(t.reg, d)] = struct{}{}
		}
	}
	p.Overrides = slices.DeleteFunc(p.Overrides, func(o components.Override) bool {
		_, drop := gone[o.Entity]
		return drop
	})
	return true, nil
}

// Restore un-deletes the template entity uid.
func (t *Tracker) Restore(root ecs.Entity, uid uuid.UUID) bool {
	p, err := t.prefab(root)
	if err != nil {
		return false
	}
	idx, found := slices.BinarySearchFunc(p.Removed, uid, compareUIDs)
	if !found {
		return false
	}
	p.Removed = slices.Delete(p.Removed, idx, idx+1)
	return true
}

// Clear drops every override and removed entity of the instance.
func (t *Tracker) Clear(root ecs.Entity) {
	if p, err := t.prefab(root); err == nil {
		p.Overrides, p.Removed = nil, nil
	}
}

func (t *Tracker) Dirty(root ecs.Entity) bool {
	p, err := t.prefab(root)
	return err == nil && p.Dirty()
}

// Has reports whether the property at path of uid is covered by an override, either
// exactly or through an override of an enclosing path.
func (t *Tracker) Has(root ecs.Entity, uid uuid.UUID, path string) bool {
	p, err := t.prefab(root)
	return err == nil && covered(p.Overrides, uid, path)
}

func (t *Tracker) Removed(root ecs.Entity) []uuid.UUID {
	p, err := t.prefab(root)
	if err != nil {
		return nil
	}
	return slices.Clone(p.Removed)
}

func (t *Tracker) IsRemoved(root ecs.Entity, uid uuid.UUID) bool {
	p, err := t.prefab(root)
	if err != nil {
		return false
	}
	_, found := slices.BinarySearchFunc(p.Removed, uid, compareUIDs)
	return found
}

// Filter returns the property filter a sync of root installs: instance placement of the
// root and every overridden property keep their values. Entities of nested instances keep
// the placement and overrides of their own instance as well.
func (t *Tracker) Filter(root ecs.Entity) snapshot.PropertyFilter {
	rootUID := components.StableID(t.reg, root)
	return func(e ecs.Entity, path string) bool {
		if e == root {
			return isPlacement(path) || t.Has(root, rootUID, path)
		}
		uid := components.StableID(t.reg, e)
		if uid == uuid.Nil {
			return false
		}
		if t.Has(root, uid, path) {
			return true
		}
		nested, ok := InstanceRoot(t.reg, e)
		if !ok || nested == root {
			return false
		}
		return (e == nested && isPlacement(path)) || t.Has(nested, uid, path)
	}
}

// Rekey moves the overrides and removals of root recorded against the template id from
// onto to.
func (t *Tracker) Rekey(root ecs.Entity, from, to uuid.UUID) bool {
	p, err := t.prefab(root)
	if err != nil || from == to {
		return false
	}
	changed := false
	for i := range p.Overrides {
		if p.Overrides[i].Entity == from {
			p.Overrides[i].Entity = to
			changed = true
		}
	}
	for i := range p.Removed {
		if p.Removed[i] == from {
			p.Removed[i] = to
			changed = true
		}
	}
	if changed {
		slices.SortFunc(p.Overrides, compareOverrides)
		slices.SortFunc(p.Removed, compareUIDs)
	}
	return changed
}

// List returns the overrides of root with the live entity they apply to and a display path
// such as "Crate › Model › Cast Shadows".
func (t *Tracker) List(root ecs.Entity) []OverrideView {
	p, err := t.prefab(root)
	if err != nil {
		return nil
	}
	seed := Seed(t.reg, root)
	out := make([]OverrideView, 0, len(p.Overrides))
	for _, o := range p.Overrides {
		e := seed[o.Entity]
		name := components.Name(t.reg, e)
		if name == "" {
			name = o.Entity.String()[:8]
		}
		out = append(out, OverrideView{
			Entity:  e,
			UID:     o.Entity,
			Path:    o.Path,
			Display: name + " › " + properties.Label(o.Path),
		})
	}
	slices.SortStableFunc(out, func(a, b OverrideView) int {
		return cmp.Compare(a.Display, b.Display)
	})
	return out
}

func covered(overrides []components.Override, uid uuid.UUID, path string) bool {
	for _, o := range overrides {
		if o.Entity == uid && properties.Covers(o.Path, path) {
			return true
		}
	}
	return false
}

var placement = []string{"Transform/Position", "Transform/Rotation", "Transform/Parent"}

func isPlacement(path string) bool {
	for _, p := range placement {
		if properties.Covers(p, path) {
			return true
		}
	}
	return false
}

// Seed maps the template ids of the instance subtree to their live entities. Nested
// instances are included, since applying an instance writes them inline into its template.
func Seed(reg *ecs.Registry, root ecs.Entity) map[uuid.UUID]ecs.Entity {
	out := make(map[uuid.UUID]ecs.Entity)
	for _, e := range components.Descendants(reg, root) {
		uid := components.StableID(reg, e)
		if _, dup := out[uid]; uid != uuid.Nil && !dup {
			out[uid] = e
		}
	}
	return out
}

// members lists the entities owned by the instance rooted at root, stopping at nested
// instance roots.
func members(reg *ecs.Registry, root ecs.Entity) []ecs.Entity {
	var out []ecs.Entity
	var walk func(e ecs.Entity)
	walk = func(e ecs.Entity) {
		out = append(out, e)
		for _, child := range components.Children(reg, e) {
			if !ecs.Has[*components.Prefab](reg, child) {
				walk(child)
			}
		}
	}
	if reg.Valid(root) {
		walk(root)
	}
	return out
}

// InstanceRoot walks up from e to the nearest prefab instance root.
func InstanceRoot(reg *ecs.Registry, e ecs.Entity) (ecs.Entity, bool) {
	for cur := e; reg.Valid(cur); cur = components.Parent(reg, cur) {
		if ecs.Has[*components.Prefab](reg, cur) {
			return cur, true
		}
	}
	return ecs.Null, false
}

// Instances returns the roots of every instance of the template source, in slot order.
func Instances(reg *ecs.Registry, source string) []ecs.Entity {
	return reg.View(components.PrefabComponent).Filter(func(e ecs.Entity) bool {
		p, _ := ecs.Get[*components.Prefab](reg, e)
		return source == "" || p.Source == source
	}).Collect()
}
