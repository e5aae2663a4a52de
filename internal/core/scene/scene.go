// Package scene owns the registry edited as one scene and its play-mode checkpoints.
package scene

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/zeusync/prefabkit/internal/core/assets"
	"github.com/zeusync/prefabkit/internal/core/components"
	"github.com/zeusync/prefabkit/internal/core/ecs"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/internal/core/snapshot"
	"github.com/zeusync/prefabkit/pkg/encoding"
)

type Scene struct {
	Name string

	reg    *ecs.Registry
	engine *snapshot.Engine
	log    log.Log
}

func New(name string, engine *snapshot.Engine, logger log.Log) *Scene {
	return &Scene{
		Name:   name,
		reg:    ecs.NewRegistry(),
		engine: engine,
		log:    logger.Named("scene").With(log.String("scene", name)),
	}
}

func (s *Scene) Registry() *ecs.Registry {
	return s.reg
}

// Spawn creates a named entity with an identity transform under parent.
func (s *Scene) Spawn(name string, parent ecs.Entity) (ecs.Entity, error) {
	e := s.reg.Create()
	if err := s.reg.Emplace(e, &components.Tag{Name: name}); err != nil {
		return ecs.Null, err
	}
	if err := s.reg.Emplace(e, &components.Layer{Mask: components.DefaultLayer}); err != nil {
		return ecs.Null, err
	}
	if _, err := components.EnsureID(s.reg, e); err != nil {
		return ecs.Null, err
	}
	if err := components.SetParent(s.reg, e, parent); err != nil {
		s.reg.Destroy(e)
		return ecs.Null, err
	}
	return e, nil
}

func (s *Scene) Roots() []ecs.Entity {
	return components.Roots(s.reg)
}

// Save encodes the whole scene.
func (s *Scene) Save() ([]byte, error) {
	return s.engine.SaveScene(nil, s.reg)
}

// Load replaces the scene content with data.
func (s *Scene) Load(data []byte) ([]ecs.Entity, error) {
	s.reg.Clear()
	roots, err := s.engine.LoadScene(nil, s.reg, data)
	if err != nil {
		s.log.Error("failed to load scene", log.Error(err))
		return roots, err
	}
	return roots, nil
}

// SaveAsset writes the scene to the asset id.
func (s *Scene) SaveAsset(m *assets.Manager, id string) error {
	data, err := s.Save()
	if err != nil {
		return err
	}
	if err = m.WriteAtomic(id, data); err != nil {
		s.log.Error("failed to write scene", log.String("asset", id), log.Error(err))
		return err
	}
	return nil
}

// LoadAsset replaces the scene content with the asset id.
func (s *Scene) LoadAsset(m *assets.Manager, id string) ([]ecs.Entity, error) {
	data, err := m.Read(id)
	if err != nil {
		return nil, err
	}
	return s.Load(data)
}

// Checkpoint is a snapshot of a scene taken before entering play mode.
type Checkpoint struct {
	Data     []byte
	Checksum uint64
	Taken    time.Time
}

// Checkpoint captures the scene in the binary format.
func (s *Scene) Checkpoint() (*Checkpoint, error) {
	data, err := s.engine.Using(encoding.Binary).SaveScene(nil, s.reg)
	if err != nil {
		return nil, err
	}
	return &Checkpoint{Data: data, Checksum: xxhash.Sum64(data), Taken: time.Now()}, nil
}

// Restore puts the scene back into the state captured by cp.
func (s *Scene) Restore(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("restore %s: nil checkpoint", s.Name)
	}
	if xxhash.Sum64(cp.Data) != cp.Checksum {
		return fmt.Errorf("restore %s: checkpoint checksum mismatch: %w", s.Name, snapshot.ErrMalformedStream)
	}
	_, err := s.Load(cp.Data)
	return err
}
