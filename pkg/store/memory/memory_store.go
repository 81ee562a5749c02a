package memstore

import (
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/moonwalker/tuner/pkg/store"
)

type memstore struct {
	sync.RWMutex
	data map[string][]byte
}

func New() store.Store {
	return &memstore{data: make(map[string][]byte)}
}

func (s *memstore) Name() string {
	return "mem"
}

func (s *memstore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	val, ok := s.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(val), nil
}

func (s *memstore) Set(key string, value []byte, options *store.WriteOptions) error {
	s.Lock()
	defer s.Unlock()
	s.data[key] = slices.Clone(value)
	return nil
}

func (s *memstore) Delete(key string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memstore) Exists(key string) (bool, error) {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *memstore) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	s.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = slices.Clone(s.data[k])
	}
	s.RUnlock()

	for i, k := range keys {
		inside, done := store.Window(i, skip, limit)
		if done {
			break
		}
		if inside {
			fn(k, vals[i])
		}
	}
	return nil
}

func (s *memstore) Close() error {
	return nil
}
