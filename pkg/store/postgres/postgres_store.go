package pgstore

import (
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"

	"github.com/moonwalker/tuner/pkg/mime"
	"github.com/moonwalker/tuner/pkg/store"
)

const tblName = "documents"

type document struct {
	Key         string `gorm:"primary_key"`
	Value       []byte
	ContentType string
	UpdatedAt   time.Time
}

func (d *document) TableName() string {
	return tblName
}

type pgstore struct {
	connectionString string

	once sync.Once
	db   *gorm.DB
	err  error
}

func New(connectionString string) store.Store {
	return &pgstore{connectionString: connectionString}
}

func (s *pgstore) Name() string {
	return "postgres:" + tblName
}

func (s *pgstore) open() (*gorm.DB, error) {
	s.once.Do(func() {
		s.db, s.err = gorm.Open("postgres", s.connectionString)
		if s.err != nil {
			return
		}
		s.err = s.db.AutoMigrate(&document{}).Error
	})
	return s.db, s.err
}

func (s *pgstore) Get(key string) ([]byte, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	var row document
	res := db.First(&row, "key = ?", key)
	if gorm.IsRecordNotFoundError(res.Error) {
		return nil, store.ErrNotFound
	}
	if res.Error != nil {
		return nil, res.Error
	}

	return row.Value, nil
}

// Set upserts the row, Save falls back to an insert when no row was updated.
func (s *pgstore) Set(key string, value []byte, options *store.WriteOptions) error {
	db, err := s.open()
	if err != nil {
		return err
	}

	ctype := mime.Detect(key, value)
	if options != nil && len(options.ContentType) > 0 {
		ctype = options.ContentType
	}

	return db.Save(&document{
		Key:         key,
		Value:       value,
		ContentType: ctype,
	}).Error
}

func (s *pgstore) Delete(key string) error {
	db, err := s.open()
	if err != nil {
		return err
	}

	return db.Where("key = ?", key).Delete(&document{}).Error
}

func (s *pgstore) Exists(key string) (bool, error) {
	db, err := s.open()
	if err != nil {
		return false, err
	}

	var count int
	err = db.Model(&document{}).Where("key = ?", key).Count(&count).Error
	return count > 0, err
}

func (s *pgstore) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	db, err := s.open()
	if err != nil {
		return err
	}

	query := db.Where("key LIKE ?", escapeLike(prefix)+"%").Order("key").Offset(skip)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []document
	if err := query.Find(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		fn(row.Key, row.Value)
	}

	return nil
}

func (s *pgstore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
