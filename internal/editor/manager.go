// Package editor drives prefab editing on top of a scene: deferred per-frame actions,
// override bookkeeping and writing instances back to their templates.
package editor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/zeusync/prefabkit/internal/core/assets"
	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/events/bus"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/internal/core/prefab"
	"github.com/zeusync/prefabkit/internal/core/properties"
	"github.com/zeusync/prefabkit/internal/core/scene"
	"github.com/zeusync/prefabkit/internal/core/snapshot"
	"github.com/zeusync/prefabkit/pkg/concurrent"
	"github.com/zeusync/prefabkit/pkg/sequence"
)

var (
	ErrPlaying    = errors.New("scene is in play mode")
	ErrNotPlaying = errors.New("scene is not in play mode")
)

// Action priorities. Higher runs first within a frame.
const (
	PrioritySync    = 0
	PriorityRefresh = 1
	PriorityEdit    = 2
)

type action struct {
	name string
	run  func() error
}

// Manager owns the editing state of one scene. Edits are applied on the caller goroutine;
// work queued with Defer runs on the next Update. Defer may be called from any goroutine.
type Manager struct {
	scene   *scene.Scene
	assets  *assets.Manager
	engine  *snapshot.Engine
	syncer  *prefab.Syncer
	tracker *prefab.Tracker
	bus     bus.EventBus
	log     log.Log

	mu      sync.Mutex
	queue   *sequence.PriorityQueue[action]
	pending map[ecs.Entity]struct{}

	checkpoint *scene.Checkpoint
}

func NewManager(sc *scene.Scene, am *assets.Manager, engine *snapshot.Engine, syncer *prefab.Syncer, eventBus bus.EventBus, logger log.Log) *Manager {
	return &Manager{
		scene:   sc,
		assets:  am,
		engine:  engine,
		syncer:  syncer,
		tracker: prefab.NewTracker(sc.Registry()),
		bus:     eventBus,
		log:     logger.Named("editor"),
		queue:   sequence.NewPriorityQueue[action](),
		pending: make(map[ecs.Entity]struct{}),
	}
}

func (m *Manager) Scene() *scene.Scene {
	return m.scene
}

func (m *Manager) Engine() *snapshot.Engine {
	return m.engine
}

// Defer queues fn to run on the next Update.
func (m *Manager) Defer(name string, priority int, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.Enqueue(action{name: name, run: fn}, priority)
}

// Pending returns the number of queued actions.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Update runs the actions queued before the call. Actions queued while it runs wait for
// the next frame. Failed actions are logged and their errors joined.
func (m *Manager) Update() error {
	m.mu.Lock()
	batch := make([]action, 0, m.queue.Len())
	for m.queue.Len() > 0 {
		a, _ := m.queue.Dequeue()
		batch = append(batch, a)
	}
	m.mu.Unlock()

	var errs []error
	for _, a := range batch {
		if err := a.run(); err != nil {
			m.log.Warn("deferred action failed", log.String("action", a.name), log.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", a.name, err))
		}
	}
	return errors.Join(errs...)
}

// SyncPrefabEntity queues a sync of the instance rooted at root. Queuing the same root twice
// before it runs is a no-op.
func (m *Manager) SyncPrefabEntity(root ecs.Entity) {
	m.mu.Lock()
	if _, queued := m.pending[root]; queued {
		m.mu.Unlock()
		return
	}
	m.pending[root] = struct{}{}
	m.mu.Unlock()

	m.Defer("sync "+root.String(), PrioritySync, func() error {
		m.mu.Lock()
		delete(m.pending, root)
		m.mu.Unlock()

		reg := m.scene.Registry()
		if !reg.Valid(root) || !ecs.Has[*components.Prefab](reg, root) {
			return nil
		}
		return m.syncer.Sync(reg, root)
	})
}

// SyncPrefabInstances queues a sync of every instance of the template source. An empty
// source queues every instance in the scene. It returns the number of instances queued.
func (m *Manager) SyncPrefabInstances(source string) int {
	roots := prefab.Instances(m.scene.Registry(), source)
	for _, root := range roots {
		m.SyncPrefabEntity(root)
	}
	return len(roots)
}

// Instantiate creates an instance of the template source under parent.
func (m *Manager) Instantiate(source string, parent ecs.Entity) (ecs.Entity, error) {
	return m.syncer.Instantiate(m.scene.Registry(), source, parent)
}

// Duplicate clones e next to itself. Instance roots stay linked to their template.
func (m *Manager) Duplicate(e ecs.Entity) (ecs.Entity, error) {
	reg := m.scene.Registry()
	mode := snapshot.CloneObject
	if ecs.Has[*components.Prefab](reg, e) {
		mode = snapshot.ClonePrefabInstance
	}
	return m.engine.Clone(reg, e, mode)
}

// Overrides lists the overrides of the instance rooted at root for display.
func (m *Manager) Overrides(root ecs.Entity) []prefab.OverrideView {
	return m.tracker.List(root)
}

// Removed lists the template entities the instance deleted.
func (m *Manager) Removed(root ecs.Entity) []uuid.UUID {
	return m.tracker.Removed(root)
}

// RevertOverride drops the override at path and queues a sync so the template value
// comes back.
func (m *Manager) RevertOverride(root ecs.Entity, uid uuid.UUID, path string) bool {
	if !m.tracker.Forget(root, uid, path) {
		return false
	}
	m.changed(root)
	m.SyncPrefabEntity(root)
	return true
}

// RestoreRemoved brings back a deleted template entity on the next sync.
func (m *Manager) RestoreRemoved(root ecs.Entity, uid uuid.UUID) bool {
	if !m.tracker.Restore(root, uid) {
		return false
	}
	m.changed(root)
	m.SyncPrefabEntity(root)
	return true
}

// RevertAll drops every override and removal of the instance.
func (m *Manager) RevertAll(root ecs.Entity) error {
	if !ecs.Has[*components.Prefab](m.scene.Registry(), root) {
		return prefab.ErrNotInstance
	}
	m.tracker.Clear(root)
	m.changed(root)
	m.SyncPrefabEntity(root)
	return nil
}

// ApplyAll writes the instance rooted at root back as its template. On success the
// instance has no overrides left and every other instance of the template is queued for
// sync. On failure the overrides are kept and a notification is published.
func (m *Manager) ApplyAll(root ecs.Entity) error {
	reg := m.scene.Registry()
	p, ok := ecs.Get[*components.Prefab](reg, root)
	if !ok {
		return prefab.ErrNotInstance
	}
	source := p.Source

	data, err := m.engine.SaveToBytes(nil, reg, root, snapshot.SaveOptions{ToPrefab: true})
	if err != nil {
		return m.fail("failed to save prefab", source, err)
	}
	if err = m.assets.WriteAtomic(source, data); err != nil {
		return m.fail("failed to write prefab", source, err)
	}
	if _, err = m.syncer.Templates().Put(source, data); err != nil {
		return m.fail("failed to cache prefab", source, err)
	}
	m.tracker.Clear(root)
	m.changed(root)

	for _, other := range prefab.Instances(reg, source) {
		if other != root {
			m.SyncPrefabEntity(other)
		}
	}
	m.log.Info("applied prefab", log.String("asset", source), log.Stringer("root", root))
	return m.publish(bus.TypePrefabApplied, bus.PrefabApplied{Root: root, Source: source})
}

// SetProperty assigns value to the property at path of e. Inside a prefab instance the
// edit is recorded as an override, or the override is dropped when the value matches the
// template again. A path naming only the component replaces the whole component.
func (m *Manager) SetProperty(e ecs.Entity, path string, value any) error {
	reg := m.scene.Registry()
	name, rest := properties.Head(path)
	comp, err := snapshot.ComponentByName(reg, e, name)
	if err != nil {
		return err
	}

	var current any
	if rest == "" {
		c, ok := value.(ecs.Component)
		if !ok || c.TypeID() != comp.TypeID() {
			return fmt.Errorf("%s: %T: %w", path, value, properties.ErrNotAssignable)
		}
		keepLinks(comp, c)
		if err = reg.Emplace(e, c); err != nil {
			return err
		}
		current = c
	} else {
		if err = properties.Set(comp, rest, value); err != nil {
			return err
		}
		if current, err = properties.Get(comp, rest); err != nil {
			return err
		}
	}

	m.log.Debug("set property", log.Stringer("entity", e), log.String("path", path), log.Any("value", current))
	root, ok := prefab.InstanceRoot(reg, e)
	uid := components.StableID(reg, e)
	if !ok || uid == uuid.Nil {
		return nil
	}
	p, _ := ecs.Get[*components.Prefab](reg, root)
	tmpl, found, err := m.syncer.TemplateValue(p.Source, uid, path)
	if err != nil {
		m.log.Warn("failed to read template value",
			log.String("asset", p.Source), log.String("path", path), log.Error(err))
	}
	if found && same(current, tmpl, rest == "") {
		if m.tracker.Forget(root, uid, path) {
			m.changed(root)
		}
		return nil
	}
	added, err := m.tracker.Record(root, uid, path)
	if err != nil {
		return err
	}
	if added {
		m.changed(root)
	}
	return nil
}

// keepLinks carries the hierarchy links of prev, which are not editable properties, over
// to its replacement next.
func keepLinks(prev, next ecs.Component) {
	switch n := next.(type) {
	case *components.Transform:
		if p, ok := prev.(*components.Transform); ok {
			n.Parent, n.Children = p.Parent, slices.Clone(p.Children)
		}
	case *components.Skin:
		if p, ok := prev.(*components.Skin); ok {
			n.Bones = slices.Clone(p.Bones)
		}
	}
}

// same compares an edited value with its template value. Whole components are compared
// by their editable properties only.
func same(value, tmpl any, whole bool) bool {
	if whole {
		return reflect.TypeOf(value) == reflect.TypeOf(tmpl) && len(properties.Diff(value, tmpl, "")) == 0
	}
	return prefab.Equal(value, tmpl)
}

// DeleteEntity destroys e and its subtree. Deleting a template entity of an instance is
// remembered so syncs do not bring it back.
func (m *Manager) DeleteEntity(e ecs.Entity) (int, error) {
	reg := m.scene.Registry()
	if !reg.Valid(e) {
		return 0, ecs.ErrInvalidEntity
	}
	if root, ok := prefab.InstanceRoot(reg, components.Parent(reg, e)); ok && !ecs.Has[*components.Prefab](reg, e) {
		if uid := components.StableID(reg, e); uid != uuid.Nil {
			if _, err := m.tracker.MarkRemoved(root, uid); err != nil {
				return 0, err
			}
			m.changed(root)
		}
	}
	return components.DestroyTree(reg, e), nil
}

// DetectOverrides compares the instance with its template and records every difference
// as an override. It returns the number of overrides added.
func (m *Manager) DetectOverrides(root ecs.Entity) (int, error) {
	div, err := m.syncer.Diff(m.scene.Registry(), root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range div.Overrides {
		added, err := m.tracker.Record(root, o.Entity, o.Path)
		if err != nil {
			return n, err
		}
		if added {
			n++
		}
	}
	for _, uid := range div.Removed {
		if _, err = m.tracker.MarkRemoved(root, uid); err != nil {
			return n, err
		}
	}
	if n > 0 || len(div.Removed) > 0 {
		m.changed(root)
	}
	return n, nil
}

// AssetChanged queues a refresh of the template id. When its content differs from the
// cached copy every instance is queued for sync.
func (m *Manager) AssetChanged(change assets.Change) {
	m.Defer("refresh "+change.ID, PriorityRefresh, func() error {
		changed, err := m.syncer.Templates().Refresh(change.ID)
		if err != nil {
			m.syncer.Templates().Invalidate(change.ID)
			return err
		}
		if err = m.publish(bus.TypeAssetChanged, bus.AssetChanged{Path: change.ID, Op: change.Op.String()}); err != nil {
			return err
		}
		if changed {
			n := m.SyncPrefabInstances(change.ID)
			m.log.Debug("template changed", log.String("asset", change.ID), log.Int("instances", n))
		}
		return nil
	})
}

// Watch feeds template changes under the asset root into AssetChanged until ctx is done.
func (m *Manager) Watch(ctx context.Context, ext string) error {
	w, err := m.assets.NewWatcher(ext)
	if err != nil {
		return err
	}
	return w.Run(ctx, m.AssetChanged)
}

// PreloadTemplates reads every template with extension ext below dir into the template
// cache. An empty dir means the whole asset root.
func (m *Manager) PreloadTemplates(ctx context.Context, dir, ext string, workers int) (int, error) {
	ids, err := m.assets.List(ext)
	if err != nil {
		return 0, err
	}
	if dir != "" {
		prefix := strings.TrimSuffix(dir, "/") + "/"
		ids = slices.DeleteFunc(ids, func(id string) bool { return !strings.HasPrefix(id, prefix) })
	}
	loaded, err := m.assets.Preload(ctx, ids, workers)
	if err != nil {
		return 0, err
	}
	// decoding is independent per template; the cache is mutex-guarded
	var cached atomic.Int64
	err = concurrent.Concurrent(sequence.From(loaded), func(a assets.Asset) error {
		if _, err := m.syncer.Templates().Put(a.ID, a.Data); err != nil {
			m.log.Warn("skipping unreadable template", log.String("asset", a.ID), log.Error(err))
			return err
		}
		cached.Add(1)
		return nil
	})
	return int(cached.Load()), err
}

// EnterPlayMode checkpoints the scene. When id is not empty the checkpoint is also
// written to that asset so it survives a crash during play.
func (m *Manager) EnterPlayMode(id string) error {
	if m.checkpoint != nil {
		return ErrPlaying
	}
	cp, err := m.scene.Checkpoint()
	if err != nil {
		return err
	}
	if id != "" {
		if err = m.assets.WriteAtomic(id, cp.Data); err != nil {
			return m.fail("failed to write checkpoint", id, err)
		}
	}
	m.checkpoint = cp
	return nil
}

// ExitPlayMode puts the scene back into the state captured by EnterPlayMode.
func (m *Manager) ExitPlayMode() error {
	if m.checkpoint == nil {
		return ErrNotPlaying
	}
	cp := m.checkpoint
	m.checkpoint = nil
	m.mu.Lock()
	clear(m.pending)
	m.queue = sequence.NewPriorityQueue[action]()
	m.mu.Unlock()
	return m.scene.Restore(cp)
}

func (m *Manager) Playing() bool {
	return m.checkpoint != nil
}

func (m *Manager) changed(root ecs.Entity) {
	p, ok := ecs.Get[*components.Prefab](m.scene.Registry(), root)
	if !ok {
		return
	}
	if err := m.publish(bus.TypeOverridesChanged, bus.OverridesChanged{Root: root, Count: len(p.Overrides)}); err != nil {
		m.log.Warn("overrides changed handler failed", log.Error(err))
	}
}

func (m *Manager) fail(msg, source string, err error) error {
	m.log.Error(msg, log.String("asset", source), log.Error(err))
	if perr := m.publish(bus.TypeNotification, bus.Notification{
		Severity: bus.SeverityError,
		Message:  fmt.Sprintf("%s %s", msg, source),
		Err:      err,
	}); perr != nil {
		m.log.Warn("notification handler failed", log.Error(perr))
	}
	return err
}

func (m *Manager) publish(typ string, data any) error {
	if m.bus == nil {
		return nil
	}
	return m.bus.Publish(bus.NewEvent(typ, "editor", data))
}
