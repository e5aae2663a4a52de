// Package assets maps logical asset ids to files under the project root.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/renameio/v2"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
	"github.com/zeusync/prefabkit/pkg/concurrent"
	"github.com/zeusync/prefabkit/pkg/sequence"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidID     = errors.New("invalid asset id")
)

// Manager reads and writes assets. Ids are slash separated paths relative to the root,
// e.g. "prefabs/crate.prefab".
type Manager struct {
	root string
	log  log.Log
}

func NewManager(root string, logger log.Log) *Manager {
	return &Manager{root: filepath.Clean(root), log: logger.Named("assets")}
}

func (m *Manager) Root() string {
	return m.root
}

// Path resolves id to a file path. Ids escaping the root are rejected.
func (m *Manager) Path(id string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(id, `\`, "/"))
	if id == "" || clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return filepath.Join(m.root, filepath.FromSlash(clean)), nil
}

// ID is the inverse of Path.
func (m *Manager) ID(p string) (string, error) {
	rel, err := filepath.Rel(m.root, p)
	if err != nil {
		return "", err
	}
	id := filepath.ToSlash(rel)
	if id == ".." || strings.HasPrefix(id, "../") {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidID)
	}
	return id, nil
}

func (m *Manager) Read(id string) ([]byte, error) {
	p, err := m.Path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, ErrAssetNotFound)
	}
	return data, err
}

// WriteAtomic replaces the asset with data. Readers see either the old or the new content.
func (m *Manager) WriteAtomic(id string, data []byte) error {
	p, err := m.Path(id)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err = renameio.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	m.log.Debug("wrote asset", log.String("asset", id), log.Int("bytes", len(data)))
	return nil
}

// Checksum hashes the current content of the asset.
func (m *Manager) Checksum(id string) (uint64, error) {
	data, err := m.Read(id)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

// List returns the ids of every asset with the given extension, sorted.
func (m *Manager) List(ext string) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (ext != "" && filepath.Ext(p) != ext) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		id, err := m.ID(p)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	slices.Sort(ids)
	return ids, err
}

// Asset is a preloaded asset.
type Asset struct {
	ID       string
	Data     []byte
	Checksum uint64
}

// Preload reads the given assets concurrently. The result follows the order of ids.
func (m *Manager) Preload(ctx context.Context, ids []string, workers int) ([]Asset, error) {
	return concurrent.ParallelMap(ctx, sequence.From(ids), workers, func(ctx context.Context, id string) (Asset, error) {
		if err := ctx.Err(); err != nil {
			return Asset{}, err
		}
		data, err := m.Read(id)
		if err != nil {
			return Asset{}, err
		}
		return Asset{ID: id, Data: data, Checksum: xxhash.Sum64(data)}, nil
	})
}
