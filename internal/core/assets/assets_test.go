package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), log.Nop())
}

func TestPath(t *testing.T) {
	m := newManager(t)
	p, err := m.Path("prefabs/crate.prefab")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), "prefabs", "crate.prefab"), p)

	id, err := m.ID(p)
	require.NoError(t, err)
	assert.Equal(t, "prefabs/crate.prefab", id)

	for _, bad := range []string{"", ".", "../secret", "/etc/passwd", "a/../../b"} {
		_, err = m.Path(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestWriteAtomicAndRead(t *testing.T) {
	m := newManager(t)
	_, err := m.Read("prefabs/crate.prefab")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	require.NoError(t, m.WriteAtomic("prefabs/crate.prefab", []byte("v1")))
	require.NoError(t, m.WriteAtomic("prefabs/crate.prefab", []byte("v2")))
	data, err := m.Read("prefabs/crate.prefab")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(filepath.Join(m.Root(), "prefabs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")

	assert.Error(t, m.WriteAtomic("prefabs", []byte("v3")), "a directory cannot be replaced")
	data, err = m.Read("prefabs/crate.prefab")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	sum, err := m.Checksum("prefabs/crate.prefab")
	require.NoError(t, err)
	assert.Equal(t, xxhash.Sum64String("v2"), sum)
}

func TestListAndPreload(t *testing.T) {
	m := newManager(t)
	for _, id := range []string{"b.prefab", "nested/a.prefab", "scene.json"} {
		require.NoError(t, m.WriteAtomic(id, []byte(id)))
	}
	ids, err := m.List(".prefab")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.prefab", "nested/a.prefab"}, ids)

	loaded, err := m.Preload(context.Background(), ids, 2)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	for i, a := range loaded {
		assert.Equal(t, ids[i], a.ID)
		assert.Equal(t, ids[i], string(a.Data))
		assert.Equal(t, xxhash.Sum64String(ids[i]), a.Checksum)
	}

	_, err = m.Preload(context.Background(), []string{"b.prefab", "missing.prefab"}, 2)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestWatcher(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.WriteAtomic("prefabs/crate.prefab", []byte("v1")))

	w, err := m.NewWatcher(".prefab")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Change, 16)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(c Change) { changes <- c }) }()

	require.NoError(t, m.WriteAtomic("prefabs/notes.txt", []byte("ignored")))
	require.NoError(t, m.WriteAtomic("prefabs/crate.prefab", []byte("v2")))

	select {
	case c := <-changes:
		assert.Equal(t, "prefabs/crate.prefab", c.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case err = <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
