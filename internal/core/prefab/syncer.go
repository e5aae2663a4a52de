package prefab

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/google/uuid"
	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/events/bus"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/internal/core/properties"
	"github.com/zeusync/prefabkit/internal/core/snapshot"
)

// Syncer re-applies templates to their live instances.
type Syncer struct {
	engine    *snapshot.Engine
	templates *Templates
	bus       bus.EventBus
	log       log.Log
}

func NewSyncer(engine *snapshot.Engine, templates *Templates, eventBus bus.EventBus, logger log.Log) *Syncer {
	return &Syncer{
		engine:    engine,
		templates: templates,
		bus:       eventBus,
		log:       logger.Named("prefab"),
	}
}

func (s *Syncer) Templates() *Templates {
	return s.templates
}

// Sync reloads the template of the instance rooted at root onto it. Entities are matched
// by template id and updated in place; overridden properties and the placement of the root
// keep their values, entities missing from the template are destroyed and new template
// entities are created. Nested instances are matched when the template carries them inline
// and are otherwise left alone.
//
// A template that fails to decode part way leaves the instance as far as it got.
func (s *Syncer) Sync(reg *ecs.Registry, root ecs.Entity) error {
	p, ok := ecs.Get[*components.Prefab](reg, root)
	if !ok {
		return ErrNotInstance
	}
	source := p.Source
	archive, _, err := s.templates.Archive(source)
	if err != nil {
		s.log.Error("failed to read template", log.String("asset", source), log.Error(err))
		return err
	}

	placed, _ := ecs.Get[*components.Transform](reg, root)
	saved := components.Clone(placed)
	parent := components.Parent(reg, root)

	rootUID := components.StableID(reg, root)
	owned := make(map[ecs.Entity]struct{})
	for _, e := range members(reg, root) {
		owned[e] = struct{}{}
	}

	tracker := NewTracker(reg)
	sess := s.engine.NewSession(reg)
	restore := sess.SetFilter(tracker.Filter(root))
	defer restore()

	pushed := sess.PushLoad(snapshot.LoadContext{
		Update:  true,
		Target:  root,
		Seed:    Seed(reg, root),
		Removed: tracker.Removed(root),
	})
	if _, err = s.engine.LoadArchive(sess, reg, archive, snapshot.LoadContext{}); err != nil {
		sess.PopLoad(pushed)
		s.log.Error("failed to sync prefab instance",
			log.String("asset", source), log.Stringer("root", root), log.Error(err))
		return err
	}
	destroyed := sess.CleanupUnconsumedFunc(func(e ecs.Entity) bool {
		_, ok := owned[e]
		return ok
	})
	sess.PopLoad(pushed)
	if uid := components.StableID(reg, root); uid != rootUID && uid != uuid.Nil {
		tracker.Rekey(root, rootUID, uid)
	}

	if tr, ok := ecs.Get[*components.Transform](reg, root); ok && placed != nil {
		tr.Position, tr.Rotation = saved.Position, saved.Rotation
	}
	if components.Parent(reg, root) != parent {
		if err = components.SetParent(reg, root, parent); err != nil {
			return err
		}
	}

	s.log.Debug("synced prefab instance",
		log.String("asset", source), log.Stringer("root", root), log.Int("destroyed", destroyed))
	if s.bus != nil {
		return s.bus.Publish(bus.NewEvent(bus.TypeInstanceSynced, "prefab", bus.InstanceSynced{
			Root:      root,
			Source:    source,
			Destroyed: destroyed,
		}))
	}
	return nil
}

// Instantiate creates a new instance of template source under parent.
func (s *Syncer) Instantiate(reg *ecs.Registry, source string, parent ecs.Entity) (ecs.Entity, error) {
	archive, _, err := s.templates.Archive(source)
	if err != nil {
		return ecs.Null, err
	}
	root, err := s.engine.LoadArchive(nil, reg, archive, snapshot.LoadContext{})
	if err != nil {
		s.log.Error("failed to instantiate prefab", log.String("asset", source), log.Error(err))
		return root, err
	}
	if err = reg.Emplace(root, &components.Prefab{Source: source}); err != nil {
		return root, err
	}
	if reg.Valid(parent) {
		if err = components.SetParent(reg, root, parent); err != nil {
			return root, err
		}
	}
	return root, nil
}

// tree is a template loaded into a scratch registry.
type tree struct {
	reg   *ecs.Registry
	root  ecs.Entity
	byUID map[uuid.UUID]ecs.Entity
}

func (s *Syncer) load(source string) (*tree, error) {
	archive, _, err := s.templates.Archive(source)
	if err != nil {
		return nil, err
	}
	reg := ecs.NewRegistry()
	root, err := s.engine.LoadArchive(nil, reg, archive, snapshot.LoadContext{})
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", source, err)
	}
	return &tree{reg: reg, root: root, byUID: Seed(reg, root)}, nil
}

// TemplateValue returns the template value of the property at path of the template entity
// uid. It reports false when the template has no such entity or component.
func (s *Syncer) TemplateValue(source string, uid uuid.UUID, path string) (any, bool, error) {
	t, err := s.load(source)
	if err != nil {
		return nil, false, err
	}
	e, ok := t.byUID[uid]
	if !ok {
		return nil, false, nil
	}
	name, rest := properties.Head(path)
	c, err := snapshot.ComponentByName(t.reg, e, name)
	if errors.Is(err, snapshot.ErrUnknownComponent) {
		return nil, false, err
	}
	if err != nil {
		return nil, false, nil
	}
	if rest == "" {
		return c, true, nil
	}
	v, err := properties.Get(c, rest)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Divergence is how an instance differs from its template.
type Divergence struct {
	Overrides []components.Override
	// Removed lists template entities the instance no longer has.
	Removed []uuid.UUID
	// Added lists instance entities without a template counterpart.
	Added []ecs.Entity
}

// structural components carry identity or bookkeeping rather than authored values.
var structural = []string{"ID", "PrefabID", "Prefab", "Root"}

// Diff compares the instance rooted at root against its template.
func (s *Syncer) Diff(reg *ecs.Registry, root ecs.Entity) (*Divergence, error) {
	p, ok := ecs.Get[*components.Prefab](reg, root)
	if !ok {
		return nil, ErrNotInstance
	}
	t, err := s.load(p.Source)
	if err != nil {
		return nil, err
	}

	out := &Divergence{}
	seed := Seed(reg, root)
	for uid, te := range t.byUID {
		ie, ok := seed[uid]
		if !ok {
			out.Removed = append(out.Removed, uid)
			continue
		}
		for _, path := range diffEntity(reg, ie, t.reg, te) {
			if ie == root && isPlacement(path) {
				continue
			}
			out.Overrides = append(out.Overrides, components.Override{Entity: uid, Path: path})
		}
	}
	for _, e := range members(reg, root) {
		if _, known := t.byUID[components.StableID(reg, e)]; !known {
			out.Added = append(out.Added, e)
		}
	}
	slices.SortFunc(out.Overrides, compareOverrides)
	slices.SortFunc(out.Removed, compareUIDs)
	return out, nil
}

func diffEntity(reg *ecs.Registry, e ecs.Entity, treg *ecs.Registry, te ecs.Entity) []string {
	var paths []string
	for _, c := range snapshot.Codecs {
		if slices.Contains(structural, c.Name()) {
			continue
		}
		ic, iok := reg.Component(e, c.TypeID())
		tc, tok := treg.Component(te, c.TypeID())
		switch {
		case !iok && !tok:
		case iok != tok:
			paths = append(paths, c.Name())
		default:
			paths = append(paths, properties.Diff(ic, tc, c.Name())...)
		}
	}
	return paths
}

// Equal reports whether two property values are the same.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
