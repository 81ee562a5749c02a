package repo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moonwalker/tuner/pkg/store"
)

var ErrNotWatchable = errors.New("no rules source can be watched")

// Watch reloads every source when one of them changes in a store that
// can report changes. Bursts of changes within the debounce window cause
// one reload. Watch blocks until ctx is done.
func (r *Repo) Watch(ctx context.Context) error {
	type watched struct {
		w    store.Watcher
		keys map[string]bool
	}

	var targets []*watched
	seen := map[store.Store]*watched{}
	for _, src := range r.Sources() {
		w, ok := src.Store.(store.Watcher)
		if !ok {
			r.logger.Debug("rules source cannot be watched", "source", src.String())
			continue
		}
		t, ok := seen[src.Store]
		if !ok {
			t = &watched{w: w, keys: map[string]bool{}}
			seen[src.Store] = t
			targets = append(targets, t)
		}
		t.keys[src.Key] = true
	}
	if r.defaultSource != nil {
		if t, ok := seen[r.defaultSource.Store]; ok {
			t.keys[r.defaultSource.Key] = true
		}
	}
	if len(targets) == 0 {
		return ErrNotWatchable
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changed := make(chan string, 1)
	errc := make(chan error, len(targets))

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t *watched) {
			defer wg.Done()
			err := t.w.Watch(ctx, "", func(key string) {
				if !t.keys[key] {
					return
				}
				select {
				case changed <- key:
				default:
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				errc <- err
			}
		}(t)
	}
	defer wg.Wait()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case err := <-errc:
			cancel()
			return err

		case key := <-changed:
			r.logger.Debug("rules source changed", "key", key)
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Reset(r.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			stats := r.Reload(ctx)
			r.logger.Info("rules reloaded after change", "rules", stats.Rules, "skipped", stats.SourcesSkipped)
		}
	}
}
