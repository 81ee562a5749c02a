package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

type WriteOptions struct {
	ContentType string
	TTL         int64
}

// Store is a key/value backend holding whole documents.
// Set must replace a value in one step, readers never see a partial write.
type Store interface {
	Name() string

	Get(key string) ([]byte, error)
	Set(key string, value []byte, options *WriteOptions) error

	Delete(key string) error
	Exists(key string) (bool, error)

	Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error

	Close() error
}

// Window reports whether the i-th match of a scan falls inside skip/limit
// and whether the scan can stop.
func Window(i, skip, limit int) (inside bool, done bool) {
	if i < skip {
		return false, false
	}
	if limit > 0 && i >= skip+limit {
		return false, true
	}
	return true, false
}

// Watcher is implemented by stores that can report changed keys.
// Watch blocks until ctx is done or the watch fails.
type Watcher interface {
	Watch(ctx context.Context, prefix string, fn func(key string)) error
}
