package repo

import (
	"log/slog"
	"path"
	"strings"

	"github.com/moonwalker/tuner/pkg/store"
	diskstore "github.com/moonwalker/tuner/pkg/store/disk"
)

const DefaultSourceKey = "custom_rules.yaml"

var documentExts = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// Source is one rules document in a store.
type Source struct {
	Name  string
	Store store.Store
	Key   string
}

func NewSource(st store.Store, key string) Source {
	return Source{Store: st, Key: key}
}

func (s Source) String() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Store == nil {
		return s.Key
	}
	return s.Store.Name() + "/" + s.Key
}

func (s Source) same(o Source) bool {
	return s.Store == o.Store && s.Key == o.Key
}

// IsDocument reports whether key names a rules document.
func IsDocument(key string) bool {
	return documentExts[strings.ToLower(path.Ext(key))]
}

// Discover lists the rules documents directly under prefix, in key order.
func Discover(st store.Store, prefix string) ([]Source, error) {
	res := make([]Source, 0)
	err := st.Scan(prefix, 0, 0, func(key string, _ []byte) {
		rest := strings.TrimPrefix(key, prefix)
		rest = strings.TrimPrefix(rest, "/")
		if strings.Contains(rest, "/") || !IsDocument(key) {
			return
		}
		res = append(res, NewSource(st, key))
	})
	return res, err
}

// DiskSources lists the rules files in dir, together with the
// custom_rules.yaml fallback for rules of unknown origin.
func DiskSources(dir string) (sources []Source, fallback Source) {
	st := diskstore.New(dir)
	fallback = NewSource(st, DefaultSourceKey)

	sources, err := Discover(st, "")
	if err != nil {
		slog.Warn("failed to list rules directory", "dir", dir, "err", err)
		return []Source{}, fallback
	}
	if len(sources) == 0 {
		slog.Warn("no rules found", "dir", dir)
	}
	return sources, fallback
}
