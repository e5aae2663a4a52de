package prefab

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/zeusync/prefabkit/internal/core/snapshot"
	"github.com/zeusync/prefabkit/pkg/encoding"
)

// Source reads template assets by id.
type Source interface {
	Read(id string) ([]byte, error)
}

type template struct {
	sum     uint64
	archive *encoding.Archive
}

// Templates caches decoded template archives keyed by asset id. Entries are validated by
// xxhash checksum so rewriting a template with identical bytes does not trigger resyncs.
type Templates struct {
	src     Source
	mu      sync.Mutex
	entries map[string]template
}

func NewTemplates(src Source) *Templates {
	return &Templates{src: src, entries: make(map[string]template)}
}

// Archive returns the decoded template id, reading it on first use.
func (t *Templates) Archive(id string) (*encoding.Archive, uint64, error) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	t.mu.Unlock()
	if ok {
		return entry.archive, entry.sum, nil
	}
	if _, err := t.Refresh(id); err != nil {
		return nil, 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry = t.entries[id]
	return entry.archive, entry.sum, nil
}

// Refresh re-reads template id and reports whether its content changed.
func (t *Templates) Refresh(id string) (bool, error) {
	data, err := t.src.Read(id)
	if err != nil {
		return false, err
	}
	return t.Put(id, data)
}

// Put stores freshly written template bytes and reports whether they differ from the
// cached version.
func (t *Templates) Put(id string, data []byte) (bool, error) {
	sum := xxhash.Sum64(data)
	t.mu.Lock()
	prev, ok := t.entries[id]
	t.mu.Unlock()
	if ok && prev.sum == sum {
		return false, nil
	}

	archive, err := encoding.Detect(data).Decode(data)
	if err != nil {
		return false, fmt.Errorf("template %s: %w: %v", id, snapshot.ErrMalformedStream, err)
	}
	t.mu.Lock()
	t.entries[id] = template{sum: sum, archive: archive}
	t.mu.Unlock()
	return true, nil
}

// Invalidate drops the cached template id.
func (t *Templates) Invalidate(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

// Checksum returns the checksum of the cached template id.
func (t *Templates) Checksum(id string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[id]
	return entry.sum, ok
}
