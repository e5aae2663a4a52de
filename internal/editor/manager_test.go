package editor

import (
	"context"
	"errors"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/prefabkit/internal/core/assets"
	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/events/bus"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/internal/core/prefab"
	"github.com/zeusync/prefabkit/internal/core/scene"
	"github.com/zeusync/prefabkit/internal/core/snapshot"
)

const crateID = "prefabs/crate.prefab"

var (
	red  = components.Color{R: 1, A: 1}
	blue = components.Color{B: 1, A: 1}
)

type fixture struct {
	m      *Manager
	assets *assets.Manager
	engine *snapshot.Engine
	bus    bus.EventBus

	tmpl       *ecs.Registry
	ta, tb, tc ecs.Entity
	u1, u2, u3 uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		assets: assets.NewManager(t.TempDir(), log.Nop()),
		engine: snapshot.NewEngine(log.Nop()),
		bus:    bus.New(),
		tmpl:   ecs.NewRegistry(),
	}
	sc := scene.New("test", f.engine, log.Nop())
	syncer := prefab.NewSyncer(f.engine, prefab.NewTemplates(f.assets), f.bus, log.Nop())
	f.m = NewManager(sc, f.assets, f.engine, syncer, f.bus, log.Nop())

	// template A{B, C}, B carries a red model
	f.ta = f.spawnTemplate(t, "A", ecs.Null)
	f.tb = f.spawnTemplate(t, "B", f.ta)
	f.tc = f.spawnTemplate(t, "C", f.ta)
	require.NoError(t, f.tmpl.Emplace(f.tb, &components.Model{Mesh: "box.mesh", Color: red}))
	f.u1 = components.StableID(f.tmpl, f.ta)
	f.u2 = components.StableID(f.tmpl, f.tb)
	f.u3 = components.StableID(f.tmpl, f.tc)
	f.publish(t)
	return f
}

func (f *fixture) spawnTemplate(t *testing.T, name string, parent ecs.Entity) ecs.Entity {
	t.Helper()
	e := f.tmpl.Create()
	require.NoError(t, f.tmpl.Emplace(e, &components.Tag{Name: name}))
	require.NoError(t, components.SetParent(f.tmpl, e, parent))
	_, err := components.EnsurePrefabID(f.tmpl, e)
	require.NoError(t, err)
	return e
}

func (f *fixture) publish(t *testing.T) {
	t.Helper()
	data, err := f.engine.SaveToBytes(nil, f.tmpl, f.ta, snapshot.SaveOptions{ToPrefab: true})
	require.NoError(t, err)
	require.NoError(t, f.assets.WriteAtomic(crateID, data))
}

func (f *fixture) instantiate(t *testing.T) ecs.Entity {
	t.Helper()
	root, err := f.m.Instantiate(crateID, ecs.Null)
	require.NoError(t, err)
	return root
}

func (f *fixture) child(root ecs.Entity, uid uuid.UUID) (ecs.Entity, bool) {
	e, ok := prefab.Seed(f.m.Scene().Registry(), root)[uid]
	return e, ok
}

func (f *fixture) model(t *testing.T, root ecs.Entity) *components.Model {
	t.Helper()
	b, ok := f.child(root, f.u2)
	require.True(t, ok)
	m, ok := ecs.Get[*components.Model](f.m.Scene().Registry(), b)
	require.True(t, ok)
	return m
}

func TestUpdateRunsQueuedActionsByPriority(t *testing.T) {
	f := newFixture(t)
	var order []string
	f.m.Defer("sync", PrioritySync, func() error { order = append(order, "sync"); return nil })
	f.m.Defer("edit", PriorityEdit, func() error { order = append(order, "edit"); return nil })
	f.m.Defer("fail", PriorityRefresh, func() error {
		order = append(order, "fail")
		f.m.Defer("later", PriorityEdit, func() error { order = append(order, "later"); return nil })
		return errors.New("boom")
	})
	require.Equal(t, 3, f.m.Pending())

	err := f.m.Update()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail: boom")
	assert.Equal(t, []string{"edit", "fail", "sync"}, order)
	assert.Equal(t, 1, f.m.Pending(), "actions queued while running wait for the next frame")

	require.NoError(t, f.m.Update())
	assert.Equal(t, "later", order[len(order)-1])
	assert.Zero(t, f.m.Pending())
}

func TestSyncPrefabEntityIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	f.m.SyncPrefabEntity(root)
	f.m.SyncPrefabEntity(root)
	assert.Equal(t, 1, f.m.Pending())
	require.NoError(t, f.m.Update())

	f.m.SyncPrefabEntity(root)
	assert.Equal(t, 1, f.m.Pending(), "a root can be queued again once its sync ran")
}

func TestAssetChangedResyncsInstances(t *testing.T) {
	f := newFixture(t)
	first := f.instantiate(t)
	second := f.instantiate(t)

	m, _ := ecs.Get[*components.Model](f.tmpl, f.tb)
	m.Color = blue
	f.publish(t)

	var changed bus.AssetChanged
	_, err := f.bus.Subscribe(bus.TypeAssetChanged, func(e bus.Event) error {
		changed, _ = bus.Payload[bus.AssetChanged](e)
		return nil
	})
	require.NoError(t, err)

	f.m.AssetChanged(assets.Change{ID: crateID, Op: fsnotify.Write})
	require.NoError(t, f.m.Update())
	assert.Equal(t, crateID, changed.Path)
	assert.Equal(t, 2, f.m.Pending())
	assert.Equal(t, red, f.model(t, first).Color, "syncs run on the next frame")

	require.NoError(t, f.m.Update())
	assert.Equal(t, blue, f.model(t, first).Color)
	assert.Equal(t, blue, f.model(t, second).Color)

	f.m.AssetChanged(assets.Change{ID: crateID, Op: fsnotify.Write})
	require.NoError(t, f.m.Update())
	assert.Zero(t, f.m.Pending(), "unchanged content does not resync")
}

func TestSetPropertyTracksOverrides(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	b, _ := f.child(root, f.u2)

	var counts []int
	_, err := f.bus.Subscribe(bus.TypeOverridesChanged, func(e bus.Event) error {
		p, _ := bus.Payload[bus.OverridesChanged](e)
		counts = append(counts, p.Count)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.m.SetProperty(b, "Model/Color", blue))
	views := f.m.Overrides(root)
	require.Len(t, views, 1)
	assert.Equal(t, b, views[0].Entity)
	assert.Equal(t, f.u2, views[0].UID)
	assert.Equal(t, "Model/Color", views[0].Path)
	assert.Contains(t, views[0].Display, "B")

	require.NoError(t, f.m.SetProperty(b, "Model/Color/R", 0.5))
	assert.Len(t, f.m.Overrides(root), 1, "covered by the enclosing override")

	require.NoError(t, f.m.SetProperty(b, "Model/Color", red))
	assert.Empty(t, f.m.Overrides(root), "matching the template drops the override")
	assert.Equal(t, []int{1, 0}, counts)

	err = f.m.SetProperty(b, "Collider/Radius", 1.0)
	assert.ErrorIs(t, err, snapshot.ErrUnknownComponent)
}

func TestSetPropertyOutsideInstance(t *testing.T) {
	f := newFixture(t)
	e, err := f.m.Scene().Spawn("lamp", ecs.Null)
	require.NoError(t, err)
	require.NoError(t, f.m.Scene().Registry().Emplace(e, &components.Light{Kind: components.PointLight}))

	require.NoError(t, f.m.SetProperty(e, "Light/Intensity", 2.5))
	l, _ := ecs.Get[*components.Light](f.m.Scene().Registry(), e)
	assert.Equal(t, float32(2.5), l.Intensity)

	require.NoError(t, f.m.SetProperty(e, "Light", &components.Light{Kind: components.SpotLight}))
	l, _ = ecs.Get[*components.Light](f.m.Scene().Registry(), e)
	assert.Equal(t, components.SpotLight, l.Kind)
}

func TestSetWholeTransformKeepsHierarchy(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	reg := f.m.Scene().Registry()
	b, _ := f.child(root, f.u2)

	tr := components.NewTransform()
	tr.Position = components.Vec3{X: 3}
	require.NoError(t, f.m.SetProperty(b, "Transform", tr))
	assert.Equal(t, root, components.Parent(reg, b))
	assert.Contains(t, components.Children(reg, root), b)
	views := f.m.Overrides(root)
	require.Len(t, views, 1)
	assert.Equal(t, "Transform", views[0].Path)

	require.NoError(t, f.m.SetProperty(b, "Transform", components.NewTransform()))
	assert.Empty(t, f.m.Overrides(root), "links do not count as a difference from the template")
	require.NoError(t, f.m.SetProperty(b, "Transform", tr))

	data, err := f.m.Scene().Save()
	require.NoError(t, err)
	roots, err := f.m.Scene().Load(data)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	loaded, ok := f.child(roots[0], f.u2)
	require.True(t, ok)
	assert.Equal(t, roots[0], components.Parent(reg, loaded))
	assert.Len(t, components.Children(reg, roots[0]), 2)
	ltr, _ := ecs.Get[*components.Transform](reg, loaded)
	assert.Equal(t, components.Vec3{X: 3}, ltr.Position)
}

func TestRevertOverride(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	b, _ := f.child(root, f.u2)

	require.NoError(t, f.m.SetProperty(b, "Model/Mesh", "sphere.mesh"))
	require.NoError(t, f.m.SetProperty(b, "Model/Color", blue))
	require.Len(t, f.m.Overrides(root), 2)

	assert.True(t, f.m.RevertOverride(root, f.u2, "Model/Mesh"))
	assert.False(t, f.m.RevertOverride(root, f.u2, "Model/Mesh"))
	require.NoError(t, f.m.Update())

	assert.Equal(t, "box.mesh", f.model(t, root).Mesh)
	assert.Equal(t, blue, f.model(t, root).Color, "other overrides survive")

	require.NoError(t, f.m.RevertAll(root))
	require.NoError(t, f.m.Update())
	assert.Equal(t, red, f.model(t, root).Color)
	assert.Empty(t, f.m.Overrides(root))
}

func TestDeleteAndRestoreTemplateEntity(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	c, _ := f.child(root, f.u3)

	n, err := f.m.DeleteEntity(c)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{f.u3}, f.m.Removed(root))

	f.m.SyncPrefabEntity(root)
	require.NoError(t, f.m.Update())
	_, ok := f.child(root, f.u3)
	assert.False(t, ok, "deleted entity stays deleted across syncs")

	assert.True(t, f.m.RestoreRemoved(root, f.u3))
	require.NoError(t, f.m.Update())
	_, ok = f.child(root, f.u3)
	assert.True(t, ok)
	assert.Empty(t, f.m.Removed(root))

	_, err = f.m.DeleteEntity(ecs.Null)
	assert.ErrorIs(t, err, ecs.ErrInvalidEntity)
}

func TestApplyAll(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	other := f.instantiate(t)
	reg := f.m.Scene().Registry()
	b, _ := f.child(root, f.u2)
	require.NoError(t, f.m.SetProperty(b, "Model/Color", blue))

	var applied bus.PrefabApplied
	_, err := f.bus.Subscribe(bus.TypePrefabApplied, func(e bus.Event) error {
		applied, _ = bus.Payload[bus.PrefabApplied](e)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.m.ApplyAll(root))
	assert.Empty(t, f.m.Overrides(root))
	assert.Equal(t, root, applied.Root)
	assert.Equal(t, crateID, applied.Source)

	written, err := f.assets.Read(crateID)
	require.NoError(t, err)
	again, err := f.engine.SaveToBytes(nil, reg, root, snapshot.SaveOptions{ToPrefab: true})
	require.NoError(t, err)
	assert.Equal(t, written, again, "template matches the instance byte for byte")

	assert.Equal(t, 1, f.m.Pending())
	require.NoError(t, f.m.Update())
	assert.Equal(t, blue, f.model(t, other).Color)
}

func TestApplyAllWriteFailureKeepsOverrides(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	b, _ := f.child(root, f.u2)
	require.NoError(t, f.m.SetProperty(b, "Model/Color", blue))
	p, _ := ecs.Get[*components.Prefab](f.m.Scene().Registry(), root)
	p.Source = "../outside.prefab"

	var note bus.Notification
	_, err := f.bus.Subscribe(bus.TypeNotification, func(e bus.Event) error {
		note, _ = bus.Payload[bus.Notification](e)
		return nil
	})
	require.NoError(t, err)

	err = f.m.ApplyAll(root)
	assert.ErrorIs(t, err, assets.ErrInvalidID)
	assert.Equal(t, bus.SeverityError, note.Severity)
	assert.ErrorIs(t, note.Err, assets.ErrInvalidID)
	assert.Len(t, f.m.Overrides(root), 1)

	assert.ErrorIs(t, f.m.ApplyAll(ecs.Null), prefab.ErrNotInstance)
}

func TestDetectOverrides(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	reg := f.m.Scene().Registry()
	b, _ := f.child(root, f.u2)
	c, _ := f.child(root, f.u3)

	m, _ := ecs.Get[*components.Model](reg, b)
	m.Mesh = "sphere.mesh"
	components.DestroyTree(reg, c)

	n, err := f.m.DetectOverrides(root)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	views := f.m.Overrides(root)
	require.Len(t, views, 1)
	assert.Equal(t, "Model/Mesh", views[0].Path)
	assert.Equal(t, []uuid.UUID{f.u3}, f.m.Removed(root))

	n, err = f.m.DetectOverrides(root)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDuplicate(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	reg := f.m.Scene().Registry()

	dup, err := f.m.Duplicate(root)
	require.NoError(t, err)
	p, ok := ecs.Get[*components.Prefab](reg, dup)
	require.True(t, ok)
	assert.Equal(t, crateID, p.Source)
	assert.Equal(t, f.u1, components.StableID(reg, dup))

	id1, _ := ecs.Get[*components.ID](reg, root)
	id2, _ := ecs.Get[*components.ID](reg, dup)
	assert.NotEqual(t, id1.UID, id2.UID)

	lamp, err := f.m.Scene().Spawn("lamp", ecs.Null)
	require.NoError(t, err)
	copied, err := f.m.Duplicate(lamp)
	require.NoError(t, err)
	assert.Equal(t, "lamp", components.Name(reg, copied))
	assert.False(t, ecs.Has[*components.PrefabID](reg, copied))
}

func TestPreloadTemplates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.assets.WriteAtomic("prefabs/broken.prefab", []byte("{not json")))
	require.NoError(t, f.assets.WriteAtomic("scratch/ignored.prefab", []byte("{not json")))

	n, err := f.m.PreloadTemplates(context.Background(), "prefabs", ".prefab", 2)
	assert.ErrorIs(t, err, snapshot.ErrMalformedStream)
	assert.Equal(t, 1, n)
	_, ok := f.m.syncer.Templates().Checksum(crateID)
	assert.True(t, ok)
}

func TestPlayModeRestoresScene(t *testing.T) {
	f := newFixture(t)
	root := f.instantiate(t)
	reg := f.m.Scene().Registry()

	require.NoError(t, f.m.EnterPlayMode("checkpoints/play.bin"))
	assert.ErrorIs(t, f.m.EnterPlayMode(""), ErrPlaying)
	data, err := f.assets.Read("checkpoints/play.bin")
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	f.model(t, root).Color = blue
	_, err = f.m.Scene().Spawn("projectile", ecs.Null)
	require.NoError(t, err)
	f.m.SyncPrefabEntity(root)

	require.NoError(t, f.m.ExitPlayMode())
	assert.False(t, f.m.Playing())
	assert.Zero(t, f.m.Pending(), "queued work is dropped with the play session")
	roots := f.m.Scene().Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, red, f.model(t, roots[0]).Color)
	assert.Equal(t, 3, reg.Len())
	assert.ErrorIs(t, f.m.ExitPlayMode(), ErrNotPlaying)
}
