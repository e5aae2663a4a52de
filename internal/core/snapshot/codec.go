package snapshot

import (
	"fmt"

	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/properties"
	"github.com/zeusync/prefabkit/pkg/encoding"
)

// ComponentCodec persists one component type.
//
// Records carry a `has_<Name>` flag and the value under `<Name>`. Streams written before
// the current naming use `has_<Legacy>` and `<Legacy>`; both are accepted on load.
type ComponentCodec interface {
	Name() string
	Legacy() string
	TypeID() ecs.ComponentID

	// ShouldSave reports whether the component of e is written by the active save.
	ShouldSave(s *Session, e ecs.Entity) bool
	// Save returns the value to archive for e.
	Save(s *Session, e ecs.Entity) (any, error)
	// Load decodes f onto e, honoring the session property filter.
	Load(s *Session, e ecs.Entity, f encoding.Field) error
}

// Ensurer is implemented by codecs whose component every loaded entity must carry.
type Ensurer interface {
	Ensure(s *Session, e ecs.Entity) error
}

// Removable is implemented by codecs whose component is dropped from an entity when an
// update load finds it missing from the template.
type Removable interface {
	RemovableOnUpdate() bool
}

// PresenceKey is the `has_` flag written for a component key.
func PresenceKey(key string) string {
	return "has_" + key
}

// Codecs is the component table, in load order.
var Codecs = []ComponentCodec{
	idCodec,
	prefabIDCodec,
	tagCodec,
	layerCodec,
	transformCodec{},
	modelCodec,
	lightCodec,
	skinCodec{},
	prefabCodec{},
	rootCodec{},
}

// CodecByName finds a codec in the session table by current or legacy name.
func (s *Session) CodecByName(name string) (ComponentCodec, bool) {
	for _, c := range s.codecs {
		if c.Name() == name || c.Legacy() == name {
			return c, true
		}
	}
	return nil, false
}

// ComponentByName returns the component of e registered under name.
func ComponentByName(reg *ecs.Registry, e ecs.Entity, name string) (ecs.Component, error) {
	for _, c := range Codecs {
		if c.Name() != name {
			continue
		}
		comp, ok := reg.Component(e, c.TypeID())
		if !ok {
			return nil, fmt.Errorf("%s has no %s: %w", e, name, ecs.ErrInvalidEntity)
		}
		return comp, nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownComponent)
}

// WithCodecs appends codecs to the session table.
func (s *Session) WithCodecs(codecs ...ComponentCodec) *Session {
	s.codecs = append(append([]ComponentCodec(nil), s.codecs...), codecs...)
	return s
}

// saveComponents builds the components object of e.
func (s *Session) saveComponents(e ecs.Entity) (map[string]any, error) {
	out := make(map[string]any, 2*len(s.codecs))
	for _, c := range s.codecs {
		if !s.reg.Has(e, c.TypeID()) || !c.ShouldSave(s, e) {
			continue
		}
		v, err := c.Save(s, e)
		if err != nil {
			return nil, fmt.Errorf("save %s of %s: %w", c.Name(), e, err)
		}
		out[PresenceKey(c.Name())] = true
		out[c.Name()] = v
	}
	return out, nil
}

// lookup finds the value of c in fields under its current or legacy key.
func lookup(fields encoding.Fields, c ComponentCodec) (encoding.Field, bool, error) {
	for _, key := range []string{c.Name(), c.Legacy()} {
		if key == "" {
			continue
		}
		present, ok := fields.Flag(PresenceKey(key))
		if !ok || !present {
			continue
		}
		f, ok := fields[key]
		if !ok {
			return nil, false, fmt.Errorf("%s flagged present without a value: %w", key, ErrMalformedStream)
		}
		return f, true, nil
	}
	return nil, false, nil
}

// loadComponents applies the components object of one record onto e.
func (s *Session) loadComponents(e ecs.Entity, fields encoding.Fields) error {
	for _, c := range s.codecs {
		f, present, err := lookup(fields, c)
		if err != nil {
			return err
		}
		if s.keep(e, c.Name()) {
			continue
		}
		if present {
			if err = c.Load(s, e, f); err != nil {
				return fmt.Errorf("load %s of %s: %w", c.Name(), e, err)
			}
			continue
		}
		if r, ok := c.(Removable); ok && r.RemovableOnUpdate() && s.load.Update {
			s.reg.Remove(e, c.TypeID())
		}
		if en, ok := c.(Ensurer); ok {
			if err = en.Ensure(s, e); err != nil {
				return fmt.Errorf("ensure %s of %s: %w", c.Name(), e, err)
			}
		}
	}
	return nil
}

// decodeField wraps decode failures as malformed stream errors.
func decodeField(f encoding.Field, v any) error {
	if err := f.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedStream, err)
	}
	return nil
}

// mergeValue writes incoming onto the component of e, keeping filtered properties of an
// existing component.
func mergeValue[T any, P interface {
	*T
	ecs.Component
}](s *Session, e ecs.Entity, name string, incoming T) error {
	current, ok := ecs.Get[P](s.reg, e)
	if !ok {
		v := incoming
		return s.reg.Emplace(e, P(&v))
	}
	if s.filter == nil {
		*current = incoming
		return nil
	}
	return properties.Merge((*T)(current), &incoming, name, func(path string) bool {
		return s.keep(e, path)
	})
}
