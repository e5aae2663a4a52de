package snapshot

import (
	"github.com/google/uuid"
	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
)

// CloneMode tells the codecs whether a pass is producing a copy of live entities.
type CloneMode uint8

const (
	CloneNone CloneMode = iota
	// CloneObject duplicates plain entities: template ids and prefab links are dropped and
	// unique ids regenerated.
	CloneObject
	// ClonePrefabInstance duplicates a prefab instance: the copy stays linked to the same
	// template, only unique ids are regenerated.
	ClonePrefabInstance
)

func (m CloneMode) String() string {
	switch m {
	case CloneObject:
		return "cloning_object"
	case ClonePrefabInstance:
		return "cloning_prefab_instance"
	default:
		return "none"
	}
}

// SaveContext parameterizes one save pass.
type SaveContext struct {
	// ToPrefab writes a reusable template: prefab links and unique ids are left out, template
	// ids are generated where missing and carried on every reference.
	ToPrefab bool
	Clone    CloneMode
	// Source is the root of the saved subtree, or ecs.Null for a whole scene. References
	// leaving the subtree are resolved against the live registry on load.
	Source ecs.Entity
}

// LoadContext parameterizes one load pass.
type LoadContext struct {
	Clone CloneMode
	// Target receives the first record of the pass instead of a fresh entity.
	Target ecs.Entity
	// Seed maps template ids to live entities that should be updated in place.
	Seed map[uuid.UUID]ecs.Entity
	// Removed lists template ids whose records are skipped along with their subtrees.
	Removed []uuid.UUID
	// Update marks a pass that re-applies a template onto existing entities: registered
	// components the template no longer carries are removed.
	Update bool
}

// PropertyFilter reports whether the property at path of e must keep its current value.
// Paths start with the component name, e.g. "Transform/Position".
type PropertyFilter func(e ecs.Entity, path string) bool

// UIDMapping is a pre-seeded template id binding.
type UIDMapping struct {
	Entity   ecs.Entity
	Consumed bool
}

type saveState struct {
	SaveContext
	ids     map[ecs.Entity]uint64
	next    uint64
	members map[ecs.Entity]struct{}
}

type loadState struct {
	LoadContext
	byStream    map[uint64]ecs.Entity
	byUID       map[uuid.UUID]*UIDMapping
	removed     map[uuid.UUID]struct{}
	created     map[ecs.Entity]struct{}
	loaded      []ecs.Entity
	loadedSet   map[ecs.Entity]struct{}
	targetBound bool
}

// Session carries the state of one save or load operation through every codec call.
// At most one save and one load context are active at a time; pushing while one is active
// piggybacks on it and only the push that activated a context may pop it.
type Session struct {
	reg    *ecs.Registry
	log    log.Log
	codecs []ComponentCodec
	filter PropertyFilter
	save   *saveState
	load   *loadState
}

// NewSession binds a session to a registry.
func NewSession(reg *ecs.Registry, logger log.Log) *Session {
	if logger == nil {
		logger = log.Provide()
	}
	return &Session{reg: reg, log: logger, codecs: Codecs}
}

func (s *Session) Registry() *ecs.Registry {
	return s.reg
}

func (s *Session) Logger() log.Log {
	return s.log
}

// PushSave activates a save context. It returns false, leaving the active context in
// place, when one is already active.
func (s *Session) PushSave(ctx SaveContext) bool {
	if s.save != nil {
		return false
	}
	s.save = &saveState{
		SaveContext: ctx,
		ids:         make(map[ecs.Entity]uint64),
	}
	return true
}

// PopSave tears the save context down if pushed is the result of the push that activated it.
func (s *Session) PopSave(pushed bool) {
	if pushed {
		s.save = nil
	}
}

// SaveActive reports whether a save context is active.
func (s *Session) SaveActive() bool {
	return s.save != nil
}

// Save returns the active save context.
func (s *Session) Save() (SaveContext, bool) {
	if s.save == nil {
		return SaveContext{}, false
	}
	return s.save.SaveContext, true
}

// PushLoad activates a load context, seeding the template id table from ctx.Seed.
func (s *Session) PushLoad(ctx LoadContext) bool {
	if s.load != nil {
		return false
	}
	st := &loadState{
		LoadContext: ctx,
		byStream:    make(map[uint64]ecs.Entity),
		byUID:       make(map[uuid.UUID]*UIDMapping, len(ctx.Seed)),
		removed:     make(map[uuid.UUID]struct{}, len(ctx.Removed)),
		created:     make(map[ecs.Entity]struct{}),
		loadedSet:   make(map[ecs.Entity]struct{}),
	}
	for uid, e := range ctx.Seed {
		st.byUID[uid] = &UIDMapping{Entity: e}
	}
	for _, uid := range ctx.Removed {
		st.removed[uid] = struct{}{}
	}
	s.load = st
	return true
}

// PopLoad finishes and tears down the load context if pushed activated it. Finishing
// destroys placeholders whose records never arrived, applies clone fix-ups and strips the
// transient root markers.
func (s *Session) PopLoad(pushed bool) {
	if !pushed || s.load == nil {
		return
	}
	s.finishLoad()
	s.load = nil
}

// LoadActive reports whether a load context is active.
func (s *Session) LoadActive() bool {
	return s.load != nil
}

// Load returns the active load context.
func (s *Session) Load() (LoadContext, bool) {
	if s.load == nil {
		return LoadContext{}, false
	}
	return s.load.LoadContext, true
}

// SeedUID pre-binds a template id to a live entity for the active load.
func (s *Session) SeedUID(uid uuid.UUID, e ecs.Entity) {
	if s.load == nil || uid == uuid.Nil {
		return
	}
	s.load.byUID[uid] = &UIDMapping{Entity: e}
}

// Mapping returns the pre-seeded binding for uid.
func (s *Session) Mapping(uid uuid.UUID) (UIDMapping, bool) {
	if s.load == nil {
		return UIDMapping{}, false
	}
	m, ok := s.load.byUID[uid]
	if !ok {
		return UIDMapping{}, false
	}
	return *m, true
}

// Loaded returns the entities whose records were decoded by the active load, in order.
func (s *Session) Loaded() []ecs.Entity {
	if s.load == nil {
		return nil
	}
	return append([]ecs.Entity(nil), s.load.loaded...)
}

// SetFilter installs f and returns a function restoring the previous filter.
func (s *Session) SetFilter(f PropertyFilter) (restore func()) {
	prev := s.filter
	s.filter = f
	return func() { s.filter = prev }
}

// keep consults the installed filter.
func (s *Session) keep(e ecs.Entity, path string) bool {
	return s.filter != nil && s.filter(e, path)
}

// CleanupUnconsumed destroys every pre-seeded entity that the load did not match, with
// its subtree, and returns how many entities were destroyed.
func (s *Session) CleanupUnconsumed() int {
	return s.CleanupUnconsumedFunc(nil)
}

// CleanupUnconsumedFunc is CleanupUnconsumed restricted to the entities owned reports.
// A nil owned matches every entity.
func (s *Session) CleanupUnconsumedFunc(owned func(ecs.Entity) bool) int {
	if s.load == nil {
		return 0
	}
	destroyed := 0
	for uid, m := range s.load.byUID {
		if m.Consumed || !s.reg.Valid(m.Entity) {
			continue
		}
		if owned != nil && !owned(m.Entity) {
			continue
		}
		n := components.DestroyTree(s.reg, m.Entity)
		destroyed += n
		s.log.Debug("destroyed entity missing from template",
			log.Stringer("uid", uid), log.Stringer("entity", m.Entity), log.Int("count", n))
	}
	return destroyed
}

func (s *Session) finishLoad() {
	st := s.load
	for e := range st.created {
		if _, ok := st.loadedSet[e]; ok {
			continue
		}
		if s.reg.Destroy(e) {
			s.log.Debug("dropped unresolved entity reference", log.Stringer("entity", e))
		}
	}

	for _, e := range st.loaded {
		if !s.reg.Valid(e) {
			continue
		}
		isRoot := ecs.Has[*components.Root](s.reg, e)
		switch st.Clone {
		case CloneObject:
			ecs.Remove[*components.PrefabID](s.reg, e)
			ecs.Remove[*components.Prefab](s.reg, e)
			s.regenerateID(e)
		case ClonePrefabInstance:
			s.regenerateID(e)
		}
		if isRoot {
			ecs.Remove[*components.Root](s.reg, e)
		}
	}
}

func (s *Session) regenerateID(e ecs.Entity) {
	id, ok := ecs.Get[*components.ID](s.reg, e)
	if !ok {
		if _, err := components.EnsureID(s.reg, e); err != nil {
			s.log.Warn("failed to assign id to clone", log.Stringer("entity", e), log.Error(err))
		}
		return
	}
	id.UID = uuid.New()
}
