package snapshot

import (
	"slices"

	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/properties"
	"github.com/zeusync/prefabkit/pkg/encoding"
)

// valueCodec persists components that hold no entity references and archive as themselves.
type valueCodec[T any, P interface {
	*T
	ecs.Component
}] struct {
	name      string
	legacy    string
	save      func(s *Session, e ecs.Entity) bool
	ensure    func(s *Session, e ecs.Entity) error
	removable bool
}

func (c valueCodec[T, P]) Name() string            { return c.name }
func (c valueCodec[T, P]) Legacy() string          { return c.legacy }
func (c valueCodec[T, P]) TypeID() ecs.ComponentID { return ecs.IDOf[P]() }
func (c valueCodec[T, P]) RemovableOnUpdate() bool { return c.removable }

func (c valueCodec[T, P]) ShouldSave(s *Session, e ecs.Entity) bool {
	return c.save == nil || c.save(s, e)
}

func (c valueCodec[T, P]) Save(s *Session, e ecs.Entity) (any, error) {
	v, ok := ecs.Get[P](s.reg, e)
	if !ok {
		return nil, ecs.ErrInvalidEntity
	}
	return *components.Clone((*T)(v)), nil
}

func (c valueCodec[T, P]) Load(s *Session, e ecs.Entity, f encoding.Field) error {
	var incoming T
	if err := decodeField(f, &incoming); err != nil {
		return err
	}
	return mergeValue[T, P](s, e, c.name, incoming)
}

func (c valueCodec[T, P]) Ensure(s *Session, e ecs.Entity) error {
	if c.ensure == nil {
		return nil
	}
	return c.ensure(s, e)
}

var (
	idCodec = valueCodec[components.ID, *components.ID]{
		name:   "ID",
		legacy: "id_component",
		save:   notToPrefab,
		ensure: func(s *Session, e ecs.Entity) error {
			_, err := components.EnsureID(s.reg, e)
			return err
		},
	}
	prefabIDCodec = valueCodec[components.PrefabID, *components.PrefabID]{
		name:   "PrefabID",
		legacy: "prefab_id_component",
		save: func(s *Session, _ ecs.Entity) bool {
			return s.save.Clone != CloneObject
		},
	}
	tagCodec = valueCodec[components.Tag, *components.Tag]{
		name:   "Tag",
		legacy: "tag_component",
		ensure: func(s *Session, e ecs.Entity) error {
			_, err := ecs.EmplaceOrGet(s.reg, e, func() *components.Tag { return &components.Tag{} })
			return err
		},
	}
	layerCodec = valueCodec[components.Layer, *components.Layer]{
		name:   "Layer",
		legacy: "layer_component",
		ensure: func(s *Session, e ecs.Entity) error {
			_, err := ecs.EmplaceOrGet(s.reg, e, func() *components.Layer {
				return &components.Layer{Mask: components.DefaultLayer}
			})
			return err
		},
	}
	modelCodec = valueCodec[components.Model, *components.Model]{
		name:      "Model",
		legacy:    "model_component",
		removable: true,
	}
	lightCodec = valueCodec[components.Light, *components.Light]{
		name:      "Light",
		legacy:    "light_component",
		removable: true,
	}
)

func notToPrefab(s *Session, _ ecs.Entity) bool {
	return !s.save.ToPrefab
}

type transformDTO struct {
	Position components.Vec3 `json:"position" yaml:"position"`
	Rotation components.Quat `json:"rotation" yaml:"rotation"`
	Scale    components.Vec3 `json:"scale" yaml:"scale"`
	Parent   encoding.Ref    `json:"parent" yaml:"parent"`
	Children []encoding.Ref  `json:"children,omitempty" yaml:"children,omitempty"`
}

type transformCodec struct{}

func (transformCodec) Name() string            { return "Transform" }
func (transformCodec) Legacy() string          { return "transform_component" }
func (transformCodec) TypeID() ecs.ComponentID { return components.TransformComponent }

func (transformCodec) ShouldSave(*Session, ecs.Entity) bool { return true }

func (transformCodec) Save(s *Session, e ecs.Entity) (any, error) {
	tr, ok := ecs.Get[*components.Transform](s.reg, e)
	if !ok {
		return nil, ecs.ErrInvalidEntity
	}
	dto := transformDTO{
		Position: tr.Position,
		Rotation: tr.Rotation,
		Scale:    tr.Scale,
		Parent:   s.WriteRef(tr.Parent, true),
	}
	for _, child := range components.Children(s.reg, e) {
		if ref := s.WriteRef(child, false); !ref.IsNull() {
			dto.Children = append(dto.Children, ref)
		}
	}
	return dto, nil
}

// parentOf peeks at the parent reference of an archived record.
func parentOf(fields encoding.Fields) (encoding.Ref, bool) {
	f, present, err := lookup(fields, transformCodec{})
	if err != nil || !present {
		return encoding.Ref{}, false
	}
	var dto transformDTO
	if f.Decode(&dto) != nil {
		return encoding.Ref{}, false
	}
	return dto.Parent, true
}

func (c transformCodec) Load(s *Session, e ecs.Entity, f encoding.Field) error {
	var dto transformDTO
	if err := decodeField(f, &dto); err != nil {
		return err
	}
	tr, err := ecs.EmplaceOrGet(s.reg, e, components.NewTransform)
	if err != nil {
		return err
	}

	incoming := *tr
	incoming.Position, incoming.Rotation, incoming.Scale = dto.Position, dto.Rotation, dto.Scale
	if s.filter == nil {
		*tr = incoming
	} else if err = properties.Merge(tr, &incoming, c.Name(), func(path string) bool {
		return s.keep(e, path)
	}); err != nil {
		return err
	}

	children := make([]ecs.Entity, 0, len(dto.Children)+len(tr.Children))
	for _, ref := range dto.Children {
		child := s.ResolveRef(ref)
		if !s.reg.Valid(child) || child == e || slices.Contains(children, child) {
			continue
		}
		children = append(children, child)
	}
	// children attached outside the template stay after the template's own
	for _, child := range tr.Children {
		if s.reg.Valid(child) && !slices.Contains(children, child) && components.Parent(s.reg, child) == e {
			children = append(children, child)
		}
	}
	tr.Children = children

	if s.keep(e, properties.Join(c.Name(), "Parent")) {
		return nil
	}
	return components.SetParent(s.reg, e, s.ResolveRef(dto.Parent))
}

type skinDTO struct {
	Bones []encoding.Ref `json:"bones" yaml:"bones"`
}

type skinCodec struct{}

func (skinCodec) Name() string                         { return "Skin" }
func (skinCodec) Legacy() string                       { return "skin_component" }
func (skinCodec) TypeID() ecs.ComponentID              { return components.SkinComponent }
func (skinCodec) RemovableOnUpdate() bool              { return true }
func (skinCodec) ShouldSave(*Session, ecs.Entity) bool { return true }

func (skinCodec) Save(s *Session, e ecs.Entity) (any, error) {
	skin, ok := ecs.Get[*components.Skin](s.reg, e)
	if !ok {
		return nil, ecs.ErrInvalidEntity
	}
	dto := skinDTO{Bones: make([]encoding.Ref, len(skin.Bones))}
	for i, bone := range skin.Bones {
		dto.Bones[i] = s.WriteRef(bone, false)
	}
	return dto, nil
}

func (skinCodec) Load(s *Session, e ecs.Entity, f encoding.Field) error {
	var dto skinDTO
	if err := decodeField(f, &dto); err != nil {
		return err
	}
	skin, err := ecs.EmplaceOrGet(s.reg, e, func() *components.Skin { return &components.Skin{} })
	if err != nil {
		return err
	}
	// bone order is significant, unresolved bones stay as null slots
	skin.Bones = make([]ecs.Entity, len(dto.Bones))
	for i, ref := range dto.Bones {
		skin.Bones[i] = s.ResolveRef(ref)
	}
	return nil
}

type prefabCodec struct{}

func (prefabCodec) Name() string            { return "Prefab" }
func (prefabCodec) Legacy() string          { return "prefab_component" }
func (prefabCodec) TypeID() ecs.ComponentID { return components.PrefabComponent }

func (prefabCodec) ShouldSave(s *Session, e ecs.Entity) bool {
	return notToPrefab(s, e)
}

func (prefabCodec) Save(s *Session, e ecs.Entity) (any, error) {
	p, ok := ecs.Get[*components.Prefab](s.reg, e)
	if !ok {
		return nil, ecs.ErrInvalidEntity
	}
	return *components.Clone(p), nil
}

func (c prefabCodec) Load(s *Session, e ecs.Entity, f encoding.Field) error {
	var incoming components.Prefab
	if err := decodeField(f, &incoming); err != nil {
		return err
	}
	return mergeValue[components.Prefab, *components.Prefab](s, e, c.Name(), incoming)
}

type rootCodec struct{}

func (rootCodec) Name() string                         { return "Root" }
func (rootCodec) Legacy() string                       { return "root_component" }
func (rootCodec) TypeID() ecs.ComponentID              { return components.RootComponent }
func (rootCodec) ShouldSave(*Session, ecs.Entity) bool { return true }

func (rootCodec) Save(*Session, ecs.Entity) (any, error) {
	return true, nil
}

func (rootCodec) Load(s *Session, e ecs.Entity, f encoding.Field) error {
	var marked bool
	if err := decodeField(f, &marked); err != nil {
		return err
	}
	if !marked {
		return nil
	}
	return s.reg.Emplace(e, &components.Root{})
}
