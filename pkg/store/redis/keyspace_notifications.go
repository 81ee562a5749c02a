package redistore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gomodule/redigo/redis"
)

const (
	// E: keyevent events
	// g: generic commands
	// $: string commands
	// x: expired events
	knconfig   = "Eg$x"
	psubchan   = "__keyevent@*__:*"
	locksuffix = "__lock"
)

type changedCallback func(string, string)
type expiredCallback func(string, string)
type deletedCallback func(string, string)

type KeyspaceNotifications struct {
	withLock         bool
	redisPool        *redis.Pool
	mu               sync.RWMutex
	changedCallbacks map[string]changedCallback
	expiredCallbacks map[string]expiredCallback
	deletedCallbacks map[string]deletedCallback
}

type KeyspaceNotificationsOption func(*KeyspaceNotifications)

// NotifyWithLock makes only one listener handle each event when several
// processes watch the same keys.
func NotifyWithLock() KeyspaceNotificationsOption {
	return func(kn *KeyspaceNotifications) {
		kn.withLock = true
	}
}

func NewKeyspaceNotifications(pool *redis.Pool, opts ...KeyspaceNotificationsOption) *KeyspaceNotifications {
	kn := &KeyspaceNotifications{
		redisPool:        pool,
		changedCallbacks: make(map[string]changedCallback),
		expiredCallbacks: make(map[string]expiredCallback),
		deletedCallbacks: make(map[string]deletedCallback),
	}

	for _, opt := range opts {
		opt(kn)
	}

	return kn
}

func (k *KeyspaceNotifications) Listen(ctx context.Context) error {
	// connection for pubsub
	pubSubConn := k.redisPool.Get()
	defer pubSubConn.Close()

	// set keyspace notifications config
	_, err := pubSubConn.Do("CONFIG", "SET", "notify-keyspace-events", knconfig)
	if err != nil {
		return err
	}

	// subscribe to all key events
	psc := redis.PubSubConn{Conn: pubSubConn}
	err = psc.PSubscribe(psubchan)
	if err != nil {
		return err
	}

	// unblock Receive on cancel
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			psc.PUnsubscribe()
		case <-stop:
		}
	}()

	// lock
	var lockConn redis.Conn
	if k.withLock {
		// connection for locks
		lockConn = k.redisPool.Get()
		defer lockConn.Close()
	}

	// event handler
	eventHandler := func(op, key string) {
		switch op {
		case "set":
			k.changedHandler(key)
		case "del":
			k.deletedHandler(key)
		case "expired":
			k.expiredHandler(key)
		}
	}

	for {
		switch v := psc.Receive().(type) {
		case redis.Message:
			// parse key
			key := string(v.Data)

			// skip lock events
			if strings.HasSuffix(key, locksuffix) {
				continue
			}

			// parse event
			event := parseRedisEvent(v.Channel)

			// with locking
			if k.withLock {
				if k.lock(lockConn, key) {
					eventHandler(event, key)
					k.release(lockConn, key)
				}
			} else {
				eventHandler(event, key)
			}

		case redis.Subscription:
			if v.Kind == "punsubscribe" && v.Count == 0 {
				return ctx.Err()
			}

		case error:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return v
		}
	}
}

func (k *KeyspaceNotifications) KeyChanged(pattern string, cb changedCallback) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.changedCallbacks[pattern] = cb
}

func (k *KeyspaceNotifications) KeyDeleted(pattern string, cb deletedCallback) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.deletedCallbacks[pattern] = cb
}

func (k *KeyspaceNotifications) KeyExpired(pattern string, cb expiredCallback) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.expiredCallbacks[pattern] = cb
}

// private

func (k *KeyspaceNotifications) lock(conn redis.Conn, key string) bool {
	i, _ := redis.Int(conn.Do("SETNX", fmt.Sprintf("%s:%s", key, locksuffix), 1))
	return i != 0
}

func (k *KeyspaceNotifications) release(conn redis.Conn, key string) {
	conn.Do("DEL", fmt.Sprintf("%s:%s", key, locksuffix))
}

func (k *KeyspaceNotifications) changedHandler(key string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	dispatch(k.changedCallbacks, key)
}

func (k *KeyspaceNotifications) deletedHandler(key string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	dispatch(k.deletedCallbacks, key)
}

func (k *KeyspaceNotifications) expiredHandler(key string) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	dispatch(k.expiredCallbacks, key)
}

func dispatch[T ~func(string, string)](callbacks map[string]T, key string) {
	for pattern, cb := range callbacks {
		if matched, match := match(pattern, key); matched {
			cb(key, match)
		}
	}
}

func match(pattern string, value string) (matched bool, match string) {
	i := strings.Index(pattern, "*")
	if i > -1 {
		pattern = strings.Replace(pattern, "*", "", 1)
		if strings.HasPrefix(value, pattern) {
			matched = true
			match = value[i:]
		}
		return
	}
	return pattern == value, value
}

// parseRedisEvent maps "__keyevent@<db>__:<event>" to the event name.
func parseRedisEvent(channel string) string {
	if !strings.HasPrefix(channel, "__keyevent@") {
		return ""
	}
	i := strings.Index(channel, "__:")
	if i < 0 {
		return ""
	}
	return channel[i+3:]
}
