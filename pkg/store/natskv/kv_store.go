package natskvstore

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/moonwalker/tuner/pkg/store"
	"github.com/moonwalker/tuner/pkg/streams"
)

const opTimeout = 10 * time.Second

// NATS kv keys may not contain slashes, they are mapped to dots.
type kvstore struct {
	nc     *nats.Conn
	bucket *streams.Bucket
}

func New(opts streams.Options, bucket string) (store.Store, error) {
	nc, err := streams.Connect(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	b, err := streams.OpenBucket(ctx, nc, bucket, 10, 0)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &kvstore{nc: nc, bucket: b}, nil
}

func (s *kvstore) Name() string {
	return "nats:" + s.bucket.Name()
}

func (s *kvstore) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	val, found, err := s.bucket.Get(ctx, EncodeKey(key))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return val, nil
}

func (s *kvstore) Set(key string, value []byte, options *store.WriteOptions) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.bucket.Put(ctx, EncodeKey(key), value)
	return err
}

func (s *kvstore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return s.bucket.Delete(ctx, EncodeKey(key))
}

func (s *kvstore) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if err == store.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *kvstore) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	keys, err := s.bucket.Keys(ctx, EncodeKey(prefix))
	if err != nil {
		return err
	}

	for i, k := range keys {
		inside, done := store.Window(i, skip, limit)
		if done {
			break
		}
		if !inside {
			continue
		}
		val, found, err := s.bucket.Get(ctx, k)
		if err != nil {
			return err
		}
		if found {
			fn(DecodeKey(k), val)
		}
	}
	return nil
}

func (s *kvstore) Watch(ctx context.Context, prefix string, fn func(key string)) error {
	return s.bucket.Watch(ctx, EncodeKey(prefix), func(key string) {
		fn(DecodeKey(key))
	})
}

func (s *kvstore) Close() error {
	return s.nc.Drain()
}

func EncodeKey(key string) string {
	b := []byte(key)
	for i, c := range b {
		if c == '/' {
			b[i] = '.'
		}
	}
	return string(b)
}

func DecodeKey(key string) string {
	b := []byte(key)
	for i, c := range b {
		if c == '.' && i > 0 && i < len(b)-1 && !isExtension(b[i+1:]) {
			b[i] = '/'
		}
	}
	return string(b)
}

// isExtension reports whether rest is the final dotted segment of a file
// name, like "yaml" in "rules.default.yaml".
func isExtension(rest []byte) bool {
	for _, c := range rest {
		if c == '.' {
			return false
		}
	}
	return true
}
