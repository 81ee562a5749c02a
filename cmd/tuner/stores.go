package main

import (
	"context"
	"fmt"

	"github.com/moonwalker/tuner/pkg/profile"
	"github.com/moonwalker/tuner/pkg/rules/engine"
	"github.com/moonwalker/tuner/pkg/rules/repo"
	"github.com/moonwalker/tuner/pkg/store"
	"github.com/moonwalker/tuner/pkg/store/backend"
)

// stores opens each store url once.
type stores map[string]store.Store

func (s stores) open(url string) (store.Store, error) {
	if st, ok := s[url]; ok {
		return st, nil
	}
	st, err := backend.Open(url)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", url, err)
	}
	s[url] = st
	return st, nil
}

func (s stores) Close() {
	for _, st := range s {
		st.Close()
	}
}

// openRepo loads the configured rule sources.
func (a *app) openRepo(ctx context.Context, opened stores) (*repo.Repo, error) {
	rc := a.cfg.Rules
	policy, err := repo.ParseDuplicatePolicy(rc.Duplicates)
	if err != nil {
		return nil, err
	}

	var sources []repo.Source
	var fallback repo.Source
	if len(rc.Sources) == 0 {
		sources, fallback = repo.DiskSources(rc.Dir)
	} else {
		for _, sc := range rc.Sources {
			st, err := opened.open(sc.Store)
			if err != nil {
				return nil, err
			}
			if sc.Key != "" {
				sources = append(sources, repo.NewSource(st, sc.Key))
				continue
			}
			found, err := repo.Discover(st, "")
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", st.Name(), err)
			}
			sources = append(sources, found...)
		}
	}

	if rc.DefaultSource.Store != "" {
		st, err := opened.open(rc.DefaultSource.Store)
		if err != nil {
			return nil, err
		}
		key := rc.DefaultSource.Key
		if key == "" {
			key = repo.DefaultSourceKey
		}
		fallback = repo.NewSource(st, key)
	}

	opts := []repo.Option{
		repo.WithDuplicatePolicy(policy),
		repo.WithStrict(rc.Strict),
		repo.WithDebounce(rc.Debounce),
	}
	if fallback.Store != nil {
		opts = append(opts, repo.WithDefaultSource(fallback))
	}

	r := repo.New(a.logger, opts...)
	stats := r.Load(ctx, sources...)
	a.logger.Info("rules loaded",
		"sources", stats.Sources,
		"skipped", stats.SourcesSkipped,
		"rules", stats.Rules,
		"dropped", stats.Dropped,
	)
	return r, nil
}

func (a *app) openEngine(ctx context.Context, opened stores) (*repo.Repo, *engine.Engine, error) {
	r, err := a.openRepo(ctx, opened)
	if err != nil {
		return nil, nil, err
	}
	return r, engine.New(r, a.logger), nil
}

func (a *app) openProfiles(ctx context.Context, opened stores) (*profile.Manager, error) {
	st, err := opened.open(a.cfg.Profiles.Store)
	if err != nil {
		return nil, err
	}
	m := profile.New(st, a.cfg.Profiles.Key, a.logger)
	if err := m.Load(ctx); err != nil {
		return nil, err
	}
	if a.cfg.Profiles.Active != "" && !m.ActivateProfile(a.cfg.Profiles.Active) {
		return nil, fmt.Errorf("%w: %q", profile.ErrUnknownProfile, a.cfg.Profiles.Active)
	}
	return m, nil
}
