// Package components holds the component types the snapshot codec knows how to persist.
package components

import (
	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/zeusync/prefabkit/internal/core/ecs"
)

const (
	IDComponent ecs.ComponentID = iota + 1
	PrefabIDComponent
	TagComponent
	LayerComponent
	TransformComponent
	ModelComponent
	LightComponent
	SkinComponent
	PrefabComponent
	RootComponent
)

// ID is the generic per-entity unique id. It is regenerated whenever an entity is cloned.
type ID struct {
	UID uuid.UUID `json:"uid" yaml:"uid"`
}

func (*ID) TypeID() ecs.ComponentID { return IDComponent }

// PrefabID links an entity to "the same entity" in its prefab template. All instances of a
// template share these ids; they are what a sync matches children by.
type PrefabID struct {
	UID uuid.UUID `json:"uid" yaml:"uid"`
}

func (*PrefabID) TypeID() ecs.ComponentID { return PrefabIDComponent }

type Tag struct {
	Name string `json:"name" yaml:"name"`
}

func (*Tag) TypeID() ecs.ComponentID { return TagComponent }

type Layer struct {
	Mask uint32 `json:"mask" yaml:"mask"`
}

func (*Layer) TypeID() ecs.ComponentID { return LayerComponent }

// DefaultLayer is the mask given to entities that carry no explicit layer.
const DefaultLayer uint32 = 1

// Transform holds local placement and the parent/child links of the scene hierarchy.
// Parent is a weak handle; Children is ordered.
type Transform struct {
	Position Vec3         `json:"position" yaml:"position"`
	Rotation Quat         `json:"rotation" yaml:"rotation"`
	Scale    Vec3         `json:"scale" yaml:"scale"`
	Parent   ecs.Entity   `json:"-" yaml:"-" prop:"-"`
	Children []ecs.Entity `json:"-" yaml:"-" prop:"-"`
}

func (*Transform) TypeID() ecs.ComponentID { return TransformComponent }

// NewTransform returns an identity transform.
func NewTransform() *Transform {
	return &Transform{Rotation: IdentityQuat, Scale: Vec3{X: 1, Y: 1, Z: 1}}
}

type Model struct {
	Mesh        string `json:"mesh" yaml:"mesh"`
	Material    string `json:"material" yaml:"material"`
	Color       Color  `json:"color" yaml:"color"`
	CastShadows bool   `json:"cast_shadows" yaml:"cast_shadows"`
}

func (*Model) TypeID() ecs.ComponentID { return ModelComponent }

type LightKind uint8

const (
	DirectionalLight LightKind = iota
	PointLight
	SpotLight
)

type Light struct {
	Kind      LightKind `json:"kind" yaml:"kind"`
	Color     Color     `json:"color" yaml:"color"`
	Intensity float32   `json:"intensity" yaml:"intensity"`
	Range     float32   `json:"range" yaml:"range"`
}

func (*Light) TypeID() ecs.ComponentID { return LightComponent }

// Skin binds a mesh to bone entities, usually elsewhere in the same hierarchy.
type Skin struct {
	Bones []ecs.Entity `json:"-" yaml:"-" prop:"-"`
}

func (*Skin) TypeID() ecs.ComponentID { return SkinComponent }

// Override names one locally modified property of one template entity.
type Override struct {
	Entity uuid.UUID `json:"entity" yaml:"entity"`
	Path   string    `json:"path" yaml:"path"`
}

// Prefab marks the root of a prefab instance: the template it came from and what the
// instance changed relative to it. Overrides and Removed are kept sorted.
type Prefab struct {
	Source    string      `json:"source" yaml:"source"`
	Overrides []Override  `json:"overrides,omitempty" yaml:"overrides,omitempty" prop:"-"`
	Removed   []uuid.UUID `json:"removed,omitempty" yaml:"removed,omitempty" prop:"-"`
}

func (*Prefab) TypeID() ecs.ComponentID { return PrefabComponent }

// Dirty reports whether the instance has diverged from its template.
func (p *Prefab) Dirty() bool {
	return len(p.Overrides) > 0 || len(p.Removed) > 0
}

// Root marks the root entity of a saved subtree. It only lives on an entity for the
// duration of a save or load.
type Root struct{}

func (*Root) TypeID() ecs.ComponentID { return RootComponent }

// Clone deep-copies a component value.
func Clone[T any](src *T) *T {
	dst := new(T)
	if src == nil {
		return dst
	}
	if err := copier.CopyWithOption(dst, src, copier.Option{DeepCopy: true}); err != nil {
		*dst = *src
	}
	return dst
}

// EnsureID gives e a generic unique id if it has none, and returns it.
func EnsureID(reg *ecs.Registry, e ecs.Entity) (uuid.UUID, error) {
	id, err := ecs.EmplaceOrGet(reg, e, func() *ID { return &ID{} })
	if err != nil {
		return uuid.Nil, err
	}
	if id.UID == uuid.Nil {
		id.UID = uuid.New()
	}
	return id.UID, nil
}

// EnsurePrefabID gives e a template id if it has none, and returns it.
func EnsurePrefabID(reg *ecs.Registry, e ecs.Entity) (uuid.UUID, error) {
	id, err := ecs.EmplaceOrGet(reg, e, func() *PrefabID { return &PrefabID{} })
	if err != nil {
		return uuid.Nil, err
	}
	if id.UID == uuid.Nil {
		id.UID = uuid.New()
	}
	return id.UID, nil
}

// StableID returns e's template id, or uuid.Nil.
func StableID(reg *ecs.Registry, e ecs.Entity) uuid.UUID {
	if id, ok := ecs.Get[*PrefabID](reg, e); ok {
		return id.UID
	}
	return uuid.Nil
}

// Name returns the tag name of e, or an empty string.
func Name(reg *ecs.Registry, e ecs.Entity) string {
	if tag, ok := ecs.Get[*Tag](reg, e); ok {
		return tag.Name
	}
	return ""
}
