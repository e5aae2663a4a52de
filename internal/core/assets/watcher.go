package assets

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/zeusync/prefabkit/internal/core/observability/log"
)

// Change is a modification of an asset on disk.
type Change struct {
	ID string
	Op fsnotify.Op
}

// Watcher reports changes to assets with a given extension.
type Watcher struct {
	m   *Manager
	ext string
	w   *fsnotify.Watcher
}

// NewWatcher watches every directory under the manager root.
func (m *Manager) NewWatcher(ext string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Watcher{m: m, ext: ext, w: w}, nil
}

// Run delivers changes to handle until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, handle func(Change)) error {
	defer w.w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			w.m.log.Warn("asset watcher error", log.Error(err))
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err = w.w.Add(ev.Name); err != nil {
						w.m.log.Warn("failed to watch directory", log.String("path", ev.Name), log.Error(err))
					}
					continue
				}
			}
			change, ok := w.change(ev)
			if ok {
				handle(change)
			}
		}
	}
}

func (w *Watcher) change(ev fsnotify.Event) (Change, bool) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return Change{}, false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || (w.ext != "" && filepath.Ext(base) != w.ext) {
		return Change{}, false
	}
	id, err := w.m.ID(ev.Name)
	if err != nil {
		return Change{}, false
	}
	return Change{ID: id, Op: ev.Op}, true
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.w.Close()
	if errors.Is(err, fsnotify.ErrClosed) {
		return nil
	}
	return err
}
