package prefab

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/events/bus"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/internal/core/snapshot"
)

type memSource map[string][]byte

func (m memSource) Read(id string) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

var red = components.Color{R: 1, A: 1}

type crate struct {
	reg        *ecs.Registry
	a, b, c    ecs.Entity
	u1, u2, u3 uuid.UUID
}

func spawn(t *testing.T, reg *ecs.Registry, name string, parent ecs.Entity) ecs.Entity {
	t.Helper()
	e := reg.Create()
	require.NoError(t, reg.Emplace(e, &components.Tag{Name: name}))
	require.NoError(t, reg.Emplace(e, components.NewTransform()))
	if reg.Valid(parent) {
		require.NoError(t, components.SetParent(reg, e, parent))
	}
	return e
}

// newCrate authors the template A{B, C} where B carries a red model.
func newCrate(t *testing.T) *crate {
	t.Helper()
	reg := ecs.NewRegistry()
	c := &crate{reg: reg}
	c.a = spawn(t, reg, "A", ecs.Null)
	c.b = spawn(t, reg, "B", c.a)
	c.c = spawn(t, reg, "C", c.a)
	require.NoError(t, reg.Emplace(c.b, &components.Model{Mesh: "box.mesh", Color: red}))
	var err error
	c.u1, err = components.EnsurePrefabID(reg, c.a)
	require.NoError(t, err)
	c.u2, err = components.EnsurePrefabID(reg, c.b)
	require.NoError(t, err)
	c.u3, err = components.EnsurePrefabID(reg, c.c)
	require.NoError(t, err)
	return c
}

func (c *crate) publish(t *testing.T, en *snapshot.Engine, src memSource) {
	t.Helper()
	data, err := en.SaveToBytes(nil, c.reg, c.a, snapshot.SaveOptions{ToPrefab: true})
	require.NoError(t, err)
	src["crate"] = data
}

type fixture struct {
	src    memSource
	bus    bus.EventBus
	syncer *Syncer
	tmpl   *crate
	scene  *ecs.Registry
	world  ecs.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	en := snapshot.NewEngine(log.Nop())
	f := &fixture{src: memSource{}, bus: bus.New(), tmpl: newCrate(t), scene: ecs.NewRegistry()}
	f.tmpl.publish(t, en, f.src)
	f.syncer = NewSyncer(en, NewTemplates(f.src), f.bus, log.Nop())
	f.world = spawn(t, f.scene, "world", ecs.Null)
	return f
}

// republish saves the edited template and refreshes the cache.
func (f *fixture) republish(t *testing.T) {
	t.Helper()
	f.tmpl.publish(t, f.syncer.engine, f.src)
	changed, err := f.syncer.Templates().Refresh("crate")
	require.NoError(t, err)
	require.True(t, changed)
}

func (f *fixture) child(root ecs.Entity, uid uuid.UUID) (ecs.Entity, bool) {
	e, ok := Seed(f.scene, root)[uid]
	return e, ok
}

func TestInstantiate(t *testing.T) {
	f := newFixture(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)

	p, ok := ecs.Get[*components.Prefab](f.scene, root)
	require.True(t, ok)
	assert.Equal(t, "crate", p.Source)
	assert.False(t, p.Dirty())
	assert.Equal(t, f.world, components.Parent(f.scene, root))
	assert.Equal(t, f.tmpl.u1, components.StableID(f.scene, root))

	children := components.Children(f.scene, root)
	require.Len(t, children, 2)
	assert.Equal(t, f.tmpl.u2, components.StableID(f.scene, children[0]))
	assert.Equal(t, f.tmpl.u3, components.StableID(f.scene, children[1]))
	assert.Equal(t, []ecs.Entity{root}, Instances(f.scene, "crate"))
	assert.Empty(t, Instances(f.scene, "barrel"))

	second, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)
	id1, _ := ecs.Get[*components.ID](f.scene, root)
	id2, _ := ecs.Get[*components.ID](f.scene, second)
	assert.NotEqual(t, id1.UID, id2.UID, "instances get their own unique ids")
}

func TestSyncPreservesOverridesAndDropsDeletedChildren(t *testing.T) {
	f := newFixture(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)
	tracker := NewTracker(f.scene)

	b, ok := f.child(root, f.tmpl.u2)
	require.True(t, ok)
	btr, _ := ecs.Get[*components.Transform](f.scene, b)
	btr.Position = components.Vec3{X: 5}
	added, err := tracker.Record(root, f.tmpl.u2, "Transform/Position")
	require.NoError(t, err)
	require.True(t, added)

	rtr, _ := ecs.Get[*components.Transform](f.scene, root)
	rtr.Position = components.Vec3{X: 10, Z: 3}

	// template edit: B turns blue and moves, C is deleted
	blue := components.Color{B: 1, A: 1}
	model, _ := ecs.Get[*components.Model](f.tmpl.reg, f.tmpl.b)
	model.Color = blue
	ttr, _ := ecs.Get[*components.Transform](f.tmpl.reg, f.tmpl.b)
	ttr.Position = components.Vec3{Y: 7}
	ttr.Scale = components.Vec3{X: 2, Y: 2, Z: 2}
	components.DestroyTree(f.tmpl.reg, f.tmpl.c)
	f.republish(t)

	var synced bus.InstanceSynced
	_, err = f.bus.Subscribe(bus.TypeInstanceSynced, func(e bus.Event) error {
		synced, _ = bus.Payload[bus.InstanceSynced](e)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.syncer.Sync(f.scene, root))

	assert.True(t, f.scene.Valid(b), "matched children are updated in place")
	btr, _ = ecs.Get[*components.Transform](f.scene, b)
	assert.Equal(t, components.Vec3{X: 5}, btr.Position, "overridden property keeps its value")
	assert.Equal(t, components.Vec3{X: 2, Y: 2, Z: 2}, btr.Scale)
	bm, _ := ecs.Get[*components.Model](f.scene, b)
	assert.Equal(t, blue, bm.Color, "property without override follows the template")

	_, ok = f.child(root, f.tmpl.u3)
	assert.False(t, ok)
	assert.Len(t, components.Children(f.scene, root), 1)

	rtr, _ = ecs.Get[*components.Transform](f.scene, root)
	assert.Equal(t, components.Vec3{X: 10, Z: 3}, rtr.Position, "instance placement survives")
	assert.Equal(t, f.world, components.Parent(f.scene, root))
	assert.True(t, tracker.Has(root, f.tmpl.u2, "Transform/Position/X"))

	assert.Equal(t, root, synced.Root)
	assert.Equal(t, "crate", synced.Source)
	assert.Equal(t, 1, synced.Destroyed)
}

func TestSyncAddsNewTemplateChildren(t *testing.T) {
	f := newFixture(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)

	d := spawn(t, f.tmpl.reg, "D", f.tmpl.b)
	u4, err := components.EnsurePrefabID(f.tmpl.reg, d)
	require.NoError(t, err)
	f.republish(t)

	require.NoError(t, f.syncer.Sync(f.scene, root))
	got, ok := f.child(root, u4)
	require.True(t, ok)
	b, _ := f.child(root, f.tmpl.u2)
	assert.Equal(t, b, components.Parent(f.scene, got))
	assert.Equal(t, "D", components.Name(f.scene, got))
}

func TestRemovedChildrenStayRemoved(t *testing.T) {
	f := newFixture(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)
	tracker := NewTracker(f.scene)

	c, _ := f.child(root, f.tmpl.u3)
	components.DestroyTree(f.scene, c)
	added, err := tracker.MarkRemoved(root, f.tmpl.u3)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = tracker.MarkRemoved(root, f.tmpl.u3)
	require.NoError(t, err)
	assert.False(t, added, "removing twice is a no-op")
	assert.True(t, tracker.Dirty(root))

	require.NoError(t, f.syncer.Sync(f.scene, root))
	_, ok := f.child(root, f.tmpl.u3)
	assert.False(t, ok)

	require.True(t, tracker.Restore(root, f.tmpl.u3))
	assert.False(t, tracker.Restore(root, f.tmpl.u3))
	require.NoError(t, f.syncer.Sync(f.scene, root))
	_, ok = f.child(root, f.tmpl.u3)
	assert.True(t, ok)
	assert.False(t, tracker.Dirty(root))
}

func TestRevertOneOverride(t *testing.T) {
	f := newFixture(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)
	tracker := NewTracker(f.scene)

	b, _ := f.child(root, f.tmpl.u2)
	bm, _ := ecs.Get[*components.Model](f.scene, b)
	bm.Mesh = "sphere.mesh"
	_, err = tracker.Record(root, f.tmpl.u2, "Model/Mesh")
	require.NoError(t, err)

	require.NoError(t, f.syncer.Sync(f.scene, root))
	assert.Equal(t, "sphere.mesh", bm.Mesh)

	require.True(t, tracker.Forget(root, f.tmpl.u2, "Model/Mesh"))
	require.NoError(t, f.syncer.Sync(f.scene, root))
	bm, _ = ecs.Get[*components.Model](f.scene, b)
	assert.Equal(t, "box.mesh", bm.Mesh)
}

func TestSyncNotInstance(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.syncer.Sync(f.scene, f.world), ErrNotInstance)
}

func TestSyncMissingTemplate(t *testing.T) {
	f := newFixture(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)
	p, _ := ecs.Get[*components.Prefab](f.scene, root)
	p.Source = "barrel"
	assert.Error(t, f.syncer.Sync(f.scene, root))
}

func TestTracker(t *testing.T) {
	f := newFixture(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)
	tracker := NewTracker(f.scene)

	_, err = tracker.Record(f.world, f.tmpl.u2, "Model")
	assert.ErrorIs(t, err, ErrNotInstance)
	_, err = tracker.Record(root, uuid.Nil, "Model")
	assert.ErrorIs(t, err, ErrNoTemplateID)

	added, err := tracker.Record(root, f.tmpl.u2, "Model")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = tracker.Record(root, f.tmpl.u2, "Model/Color")
	require.NoError(t, err)
	assert.False(t, added, "already covered by the component override")
	_, err = tracker.Record(root, f.tmpl.u1, "Tag/Name")
	require.NoError(t, err)

	assert.True(t, tracker.Has(root, f.tmpl.u2, "Model/Color/R"))
	assert.False(t, tracker.Has(root, f.tmpl.u2, "Transform"))

	views := tracker.List(root)
	require.Len(t, views, 2)
	assert.Equal(t, "A › Tag › Name", views[0].Display)
	assert.Equal(t, root, views[0].Entity)
	assert.Equal(t, "B › Model", views[1].Display)

	filter := tracker.Filter(root)
	b, _ := f.child(root, f.tmpl.u2)
	assert.True(t, filter(root, "Transform/Position"))
	assert.True(t, filter(root, "Tag/Name"))
	assert.False(t, filter(root, "Transform/Scale"))
	assert.True(t, filter(b, "Model"))
	assert.False(t, filter(b, "Transform/Position"))
	assert.False(t, filter(f.world, "Model"))

	_, err = tracker.MarkRemoved(root, f.tmpl.u2)
	require.NoError(t, err)
	assert.False(t, tracker.Has(root, f.tmpl.u2, "Model"), "removing an entity drops its overrides")
	assert.True(t, tracker.IsRemoved(root, f.tmpl.u2))

	tracker.Clear(root)
	assert.False(t, tracker.Dirty(root))
	assert.Empty(t, tracker.List(root))
}

func TestDiff(t *testing.T) {
	f := newFixture(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)

	rtr, _ := ecs.Get[*components.Transform](f.scene, root)
	rtr.Position = components.Vec3{X: 4}
	b, _ := f.child(root, f.tmpl.u2)
	tag, _ := ecs.Get[*components.Tag](f.scene, b)
	tag.Name = "Lid"
	require.NoError(t, f.scene.Emplace(b, &components.Light{Intensity: 1}))
	c, _ := f.child(root, f.tmpl.u3)
	components.DestroyTree(f.scene, c)
	local := spawn(t, f.scene, "local", root)

	d, err := f.syncer.Diff(f.scene, root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []components.Override{
		{Entity: f.tmpl.u2, Path: "Tag/Name"},
		{Entity: f.tmpl.u2, Path: "Light"},
	}, d.Overrides)
	assert.Equal(t, []uuid.UUID{f.tmpl.u3}, d.Removed)
	assert.Equal(t, []ecs.Entity{local}, d.Added)

	v, ok, err := f.syncer.TemplateValue("crate", f.tmpl.u2, "Tag/Name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", v)
	assert.True(t, Equal("B", v))
	_, ok, err = f.syncer.TemplateValue("crate", f.tmpl.u2, "Light/Range")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTemplatesChecksum(t *testing.T) {
	f := newFixture(t)
	tmpl := f.syncer.Templates()
	_, ok := tmpl.Checksum("crate")
	assert.False(t, ok)

	_, sum, err := tmpl.Archive("crate")
	require.NoError(t, err)
	cached, ok := tmpl.Checksum("crate")
	require.True(t, ok)
	assert.Equal(t, sum, cached)

	changed, err := tmpl.Refresh("crate")
	require.NoError(t, err)
	assert.False(t, changed, "identical bytes are not a change")

	_, err = tmpl.Put("broken", []byte("{oops"))
	assert.ErrorIs(t, err, snapshot.ErrMalformedStream)

	tmpl.Invalidate("crate")
	_, ok = tmpl.Checksum("crate")
	assert.False(t, ok)
}

func TestSyncKeepsInstanceWhenTemplateRootIDChanges(t *testing.T) {
	f := newFixture(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)
	tracker := NewTracker(f.scene)
	b, _ := f.child(root, f.tmpl.u2)

	tag, _ := ecs.Get[*components.Tag](f.scene, root)
	tag.Name = "Box"
	_, err = tracker.Record(root, f.tmpl.u1, "Tag/Name")
	require.NoError(t, err)

	fresh := uuid.New()
	pid, _ := ecs.Get[*components.PrefabID](f.tmpl.reg, f.tmpl.a)
	pid.UID = fresh
	f.republish(t)

	require.NoError(t, f.syncer.Sync(f.scene, root))
	require.True(t, f.scene.Valid(root), "the instance root is reused")
	assert.Equal(t, fresh, components.StableID(f.scene, root))
	assert.True(t, f.scene.Valid(b))
	assert.Len(t, components.Children(f.scene, root), 2)
	assert.Equal(t, f.world, components.Parent(f.scene, root))
	assert.Equal(t, "Box", components.Name(f.scene, root))
	assert.True(t, tracker.Has(root, fresh, "Tag/Name"), "root overrides follow the new id")
	assert.False(t, tracker.Has(root, f.tmpl.u1, "Tag/Name"))

	require.NoError(t, f.syncer.Sync(f.scene, root))
	assert.True(t, f.scene.Valid(root))
	assert.Equal(t, "Box", components.Name(f.scene, root))
}

// publishBarrel authors the template X{Y} as "barrel".
func (f *fixture) publishBarrel(t *testing.T) (ux, uy uuid.UUID) {
	t.Helper()
	reg := ecs.NewRegistry()
	x := spawn(t, reg, "X", ecs.Null)
	y := spawn(t, reg, "Y", x)
	var err error
	ux, err = components.EnsurePrefabID(reg, x)
	require.NoError(t, err)
	uy, err = components.EnsurePrefabID(reg, y)
	require.NoError(t, err)
	data, err := f.syncer.engine.SaveToBytes(nil, reg, x, snapshot.SaveOptions{ToPrefab: true})
	require.NoError(t, err)
	f.src["barrel"] = data
	return ux, uy
}

func TestSyncMatchesNestedInstanceWrittenIntoTemplate(t *testing.T) {
	f := newFixture(t)
	_, uy := f.publishBarrel(t)
	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)
	b, _ := f.child(root, f.tmpl.u2)
	nested, err := f.syncer.Instantiate(f.scene, "barrel", b)
	require.NoError(t, err)
	require.Len(t, components.Descendants(f.scene, root), 5)

	data, err := f.syncer.engine.SaveToBytes(nil, f.scene, root, snapshot.SaveOptions{ToPrefab: true})
	require.NoError(t, err)
	changed, err := f.syncer.Templates().Put("crate", data)
	require.NoError(t, err)
	require.True(t, changed)

	y, ok := Seed(f.scene, nested)[uy]
	require.True(t, ok)
	tag, _ := ecs.Get[*components.Tag](f.scene, y)
	tag.Name = "Hoop"
	_, err = NewTracker(f.scene).Record(nested, uy, "Tag/Name")
	require.NoError(t, err)

	require.NoError(t, f.syncer.Sync(f.scene, root))
	assert.Len(t, components.Descendants(f.scene, root), 5, "nested entities are matched, not copied")
	require.True(t, f.scene.Valid(nested))
	require.True(t, f.scene.Valid(y))
	assert.Equal(t, b, components.Parent(f.scene, nested))
	assert.Equal(t, nested, components.Parent(f.scene, y))
	assert.Equal(t, "Hoop", components.Name(f.scene, y), "nested overrides keep their values")
	assert.Equal(t, []ecs.Entity{nested}, Instances(f.scene, "barrel"))

	// a nested instance the template does not carry belongs to the instance, not the template
	extra, err := f.syncer.Instantiate(f.scene, "barrel", root)
	require.NoError(t, err)
	require.NoError(t, f.syncer.Sync(f.scene, root))
	assert.True(t, f.scene.Valid(extra))
	assert.Len(t, components.Descendants(f.scene, root), 7)
}

func TestMarkRemovedDropsOverridesOfDescendants(t *testing.T) {
	f := newFixture(t)
	d := spawn(t, f.tmpl.reg, "D", f.tmpl.b)
	u4, err := components.EnsurePrefabID(f.tmpl.reg, d)
	require.NoError(t, err)
	f.republish(t)

	root, err := f.syncer.Instantiate(f.scene, "crate", f.world)
	require.NoError(t, err)
	tracker := NewTracker(f.scene)
	_, err = tracker.Record(root, u4, "Tag/Name")
	require.NoError(t, err)
	_, err = tracker.Record(root, f.tmpl.u3, "Tag/Name")
	require.NoError(t, err)

	_, err = tracker.MarkRemoved(root, f.tmpl.u2)
	require.NoError(t, err)
	assert.False(t, tracker.Has(root, u4, "Tag/Name"))
	assert.True(t, tracker.Has(root, f.tmpl.u3, "Tag/Name"))
	assert.Equal(t, []uuid.UUID{f.tmpl.u2}, tracker.Removed(root))
}
