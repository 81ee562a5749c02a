package diskstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/moonwalker/tuner/pkg/store"
)

const tmpPrefix = ".tmp-"

var ErrKeyOutsideRoot = errors.New("key escapes store root")

// diskstore keeps one file per key below root, keys are slash separated
// relative paths.
type diskstore struct {
	root string
}

func New(root string) store.Store {
	return &diskstore{root: root}
}

func (s *diskstore) Name() string {
	return "file:" + s.root
}

func (s *diskstore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrKeyOutsideRoot, key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *diskstore) Get(key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	val, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	return val, err
}

// Set writes to a temp file in the target directory and renames it over the
// old file, so readers see either the old or the new document.
func (s *diskstore) Set(key string, value []byte, options *store.WriteOptions) (err error) {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err = os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, tmpPrefix+filepath.Base(p)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(value); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, p)
}

func (s *diskstore) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *diskstore) Exists(key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Scan walks root in lexical order. A missing root is an empty store.
func (s *diskstore) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	i := 0
	stop := errors.New("stop")

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == s.root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		inside, done := store.Window(i, skip, limit)
		i++
		if done {
			return stop
		}
		if !inside {
			return nil
		}

		val, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		fn(key, val)
		return nil
	})

	if errors.Is(err, stop) {
		return nil
	}
	return err
}

func (s *diskstore) Close() error {
	return nil
}
