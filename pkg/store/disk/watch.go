package diskstore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reports keys under prefix whose files were written, created,
// removed or renamed. Directories created after the call are watched too.
func (s *diskstore) Watch(ctx context.Context, prefix string, fn func(key string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := os.MkdirAll(s.root, 0755); err != nil {
		return err
	}
	err = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	const mask = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&mask == 0 || strings.HasPrefix(filepath.Base(ev.Name), tmpPrefix) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						slog.Warn("failed to watch directory", "path", ev.Name, "err", err)
					}
					continue
				}
			}
			rel, err := filepath.Rel(s.root, ev.Name)
			if err != nil {
				continue
			}
			key := filepath.ToSlash(rel)
			if strings.HasPrefix(key, prefix) {
				fn(key)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file watcher error", "root", s.root, "err", err)
		}
	}
}
