package boltstore

import (
	"bytes"
	"slices"
	"sync"

	"github.com/boltdb/bolt"

	"github.com/moonwalker/tuner/pkg/store"
)

type boltstore struct {
	sync.Mutex
	storePath  string
	bucketName []byte

	db     *bolt.DB
	opened bool
}

func New(storePath string, bucketName string) store.Store {
	return &boltstore{storePath: storePath, bucketName: []byte(bucketName)}
}

func (s *boltstore) Name() string {
	return "bolt:" + s.storePath + "/" + string(s.bucketName)
}

func (s *boltstore) open() (err error) {
	s.Lock()
	defer s.Unlock()

	if s.opened {
		return
	}

	s.db, err = bolt.Open(s.storePath, 0600, nil)
	if err != nil {
		return
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucketName)
		return err
	})

	if err == nil {
		s.opened = true
	}

	return
}

func (s *boltstore) Get(key string) (val []byte, err error) {
	err = s.open()
	if err != nil {
		return
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucketName)
		// values are only valid inside the transaction
		val = slices.Clone(b.Get([]byte(key)))
		return nil
	})
	if err == nil && val == nil {
		err = store.ErrNotFound
	}

	return
}

func (s *boltstore) Set(key string, val []byte, options *store.WriteOptions) (err error) {
	err = s.open()
	if err != nil {
		return
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucketName)
		return b.Put([]byte(key), val)
	})
}

func (s *boltstore) Exists(key string) (exists bool, err error) {
	err = s.open()
	if err != nil {
		return
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(s.bucketName).Get([]byte(key)) != nil
		return nil
	})

	return
}

func (s *boltstore) Delete(key string) (err error) {
	err = s.open()
	if err != nil {
		return
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucketName)
		return b.Delete([]byte(key))
	})
}

func (s *boltstore) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) (err error) {
	err = s.open()
	if err != nil {
		return
	}

	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucketName).Cursor()
		p := []byte(prefix)
		i := 0
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			inside, done := store.Window(i, skip, limit)
			i++
			if done {
				break
			}
			if inside {
				fn(string(k), slices.Clone(v))
			}
		}
		return nil
	})
}

func (s *boltstore) Close() error {
	s.Lock()
	defer s.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false
	return s.db.Close()
}
