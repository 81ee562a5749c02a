package redistore

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/moonwalker/tuner/pkg/store"
)

type redistore struct {
	url  string
	pool *redis.Pool
}

func New(redisURL string) store.Store {
	return &redistore{
		url: redisURL,
		pool: &redis.Pool{
			MaxActive:   5,
			MaxIdle:     5,
			IdleTimeout: 5 * time.Minute,
			Wait:        true,
			Dial: func() (redis.Conn, error) {
				return redis.DialURL(redisURL)
			},
		},
	}
}

func (s *redistore) Name() string {
	return "redis:" + redactURL(s.url)
}

func (s *redistore) Get(key string) (value []byte, err error) {
	defer debugDuration(time.Now(), "GET", key)

	c := s.pool.Get()
	defer c.Close()

	value, err = redis.Bytes(c.Do("GET", key))
	if err == redis.ErrNil {
		return nil, store.ErrNotFound
	}
	return value, err
}

func (s *redistore) Set(key string, value []byte, options *store.WriteOptions) error {
	cmd := "SET"
	useTTL := options != nil && options.TTL > 0
	if useTTL {
		cmd = "SETEX"
	}

	defer debugDuration(time.Now(), cmd, key)

	c := s.pool.Get()
	defer c.Close()

	var err error
	if useTTL {
		_, err = c.Do(cmd, key, options.TTL, value)
	} else {
		_, err = c.Do(cmd, key, value)
	}
	return err
}

func (s *redistore) Delete(key string) error {
	defer debugDuration(time.Now(), "DEL", key)

	c := s.pool.Get()
	defer c.Close()

	_, err := c.Do("DEL", key)
	return err
}

func (s *redistore) Exists(key string) (bool, error) {
	defer debugDuration(time.Now(), "EXISTS", key)

	c := s.pool.Get()
	defer c.Close()

	return redis.Bool(c.Do("EXISTS", key))
}

// Scan collects every key under prefix first, SCAN gives no ordering
// so skip and limit apply to the sorted key list.
func (s *redistore) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	defer debugDuration(time.Now(), "SCAN", prefix)

	c := s.pool.Get()
	defer c.Close()

	var (
		cursor int
		keys   []string
		all    []string
	)

	for {
		values, err := redis.Values(c.Do("SCAN", cursor, "MATCH", prefix+"*", "COUNT", 100))
		if err != nil {
			return err
		}

		_, err = redis.Scan(values, &cursor, &keys)
		if err != nil {
			return err
		}
		all = append(all, keys...)

		if cursor == 0 {
			break
		}
	}

	sort.Strings(all)

	for i, key := range all {
		inside, done := store.Window(i, skip, limit)
		if done {
			break
		}
		if !inside {
			continue
		}
		val, err := redis.Bytes(c.Do("GET", key))
		if err == redis.ErrNil {
			// deleted since the scan
			continue
		}
		if err != nil {
			return err
		}
		fn(key, val)
	}

	return nil
}

// Watch reports set, del and expired events for keys under prefix,
// the server must allow keyspace notifications to be configured.
func (s *redistore) Watch(ctx context.Context, prefix string, fn func(key string)) error {
	kn := NewKeyspaceNotifications(s.pool)
	cb := func(key, _ string) { fn(key) }
	kn.KeyChanged(prefix+"*", cb)
	kn.KeyDeleted(prefix+"*", cb)
	kn.KeyExpired(prefix+"*", cb)
	return kn.Listen(ctx)
}

func (s *redistore) Close() error {
	return s.pool.Close()
}

func redactURL(u string) string {
	at := strings.LastIndex(u, "@")
	scheme := strings.Index(u, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return u
	}
	return u[:scheme+3] + "***" + u[at:]
}

func debugDuration(start time.Time, cmd string, args ...interface{}) {
	elapsed := time.Since(start)
	slog.Debug("redis command", "cmd", cmd, "args", args, "took", elapsed.String())
}
