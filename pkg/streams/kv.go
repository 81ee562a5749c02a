package streams

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type KeyHistory struct {
	Created  time.Time `json:"created"`
	Revision uint64    `json:"revision"`
	Value    string    `json:"value"`
}

// Bucket is a JetStream key/value bucket.
type Bucket struct {
	name string
	kv   jetstream.KeyValue
}

// OpenBucket binds to bucket, creating it when missing.
func OpenBucket(ctx context.Context, nc *nats.Conn, bucket string, history int, ttl time.Duration) (*Bucket, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketNotFound) {
			cfg := jetstream.KeyValueConfig{
				Bucket:   bucket,
				MaxBytes: MAX_BYTES,
			}
			if history > 0 {
				cfg.History = uint8(history)
			}
			if ttl != 0 {
				cfg.TTL = ttl
			}
			kv, err = js.CreateKeyValue(ctx, cfg)
		}
		if err != nil {
			return nil, err
		}
	}

	return &Bucket{name: bucket, kv: kv}, nil
}

func (b *Bucket) Name() string {
	return b.name
}

// Get returns the value of key, found is false for missing or deleted keys.
func (b *Bucket) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	start := time.Now()
	kve, err := b.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	slog.Debug("get value by key", "bucket", b.name, "key", key, elapsed(start))

	return kve.Value(), true, nil
}

func (b *Bucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	start := time.Now()
	rev, err := b.kv.Put(ctx, key, value)

	slog.Debug("put key-value", "bucket", b.name, "key", key, elapsed(start))

	return rev, err
}

// Update writes value only when key is still at revision.
func (b *Bucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return b.kv.Update(ctx, key, value, revision)
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := b.kv.Delete(ctx, key)

	slog.Debug("delete key-value", "bucket", b.name, "key", key, elapsed(start))

	return err
}

// Keys lists the live keys starting with prefix, sorted.
func (b *Bucket) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := b.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	defer lister.Stop()

	resp := make([]string, 0)
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			resp = append(resp, key)
		}
	}
	sort.Strings(resp)

	return resp, nil
}

func (b *Bucket) History(ctx context.Context, key string) ([]KeyHistory, error) {
	kveH, err := b.kv.History(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return []KeyHistory{}, nil
	}
	if err != nil {
		return nil, err
	}

	hist := make([]KeyHistory, 0, len(kveH))
	for _, h := range kveH {
		hist = append(hist, KeyHistory{
			Created:  h.Created(),
			Revision: h.Revision(),
			Value:    string(h.Value()),
		})
	}
	return hist, nil
}

// Watch calls fn with every key updated or deleted after the call.
// It blocks until ctx is done.
func (b *Bucket) Watch(ctx context.Context, prefix string, fn func(key string)) error {
	w, err := b.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	if err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-w.Updates():
			if !ok {
				return ctx.Err()
			}
			if e == nil || !strings.HasPrefix(e.Key(), prefix) {
				continue
			}
			fn(e.Key())
		}
	}
}
