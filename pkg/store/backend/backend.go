// Package backend opens a store.Store from a url.
//
//	mem://
//	file:///var/lib/tuner          file://./rules
//	bolt:///var/lib/tuner.db?bucket=tuner
//	redis://localhost:6379/0
//	s3://bucket?region=eu-central-1
//	r2://bucket                    CFL_ACCOUNT_ID, CFL_R2_ACCESS_KEY_ID, CFL_R2_ACCESS_KEY_SECRET
//	postgres://user@host/db?sslmode=disable
//	nats://localhost:4222/bucket   NATS_NKEY_USER, NATS_NKEY_SEED, NATS_CREDENTIALS
//	cfkv://namespace               CFL_ACCOUNT_ID, CFL_WORKERS_TOKEN
package backend

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/moonwalker/tuner/pkg/env"
	"github.com/moonwalker/tuner/pkg/store"
	boltstore "github.com/moonwalker/tuner/pkg/store/bolt"
	cfkvstore "github.com/moonwalker/tuner/pkg/store/cfkv"
	diskstore "github.com/moonwalker/tuner/pkg/store/disk"
	memstore "github.com/moonwalker/tuner/pkg/store/memory"
	natskvstore "github.com/moonwalker/tuner/pkg/store/natskv"
	pgstore "github.com/moonwalker/tuner/pkg/store/postgres"
	r2store "github.com/moonwalker/tuner/pkg/store/r2"
	redistore "github.com/moonwalker/tuner/pkg/store/redis"
	s3store "github.com/moonwalker/tuner/pkg/store/s3"
	"github.com/moonwalker/tuner/pkg/streams"
)

const defaultBucket = "tuner"

var ErrUnknownScheme = errors.New("unknown store scheme")

// Open returns the store for rawURL. A url without a scheme is a directory.
func Open(rawURL string) (store.Store, error) {
	if !strings.Contains(rawURL, "://") {
		return diskstore.New(rawURL), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "mem", "memory":
		return memstore.New(), nil

	case "file":
		return diskstore.New(hostPath(u)), nil

	case "bolt":
		bucket := u.Query().Get("bucket")
		if bucket == "" {
			bucket = defaultBucket
		}
		return boltstore.New(hostPath(u), bucket), nil

	case "redis", "rediss":
		return redistore.New(rawURL), nil

	case "s3":
		return s3store.New(u.Host, u.Query().Get("region")), nil

	case "r2":
		return r2store.New(u.Host, r2store.Credentials{
			AccountID:       env.Get("CFL_ACCOUNT_ID", ""),
			AccessKeyID:     env.Get("CFL_R2_ACCESS_KEY_ID", ""),
			AccessKeySecret: env.Get("CFL_R2_ACCESS_KEY_SECRET", ""),
		}), nil

	case "postgres", "postgresql":
		return pgstore.New(rawURL), nil

	case "nats", "tls":
		bucket := strings.Trim(u.Path, "/")
		if bucket == "" {
			bucket = defaultBucket
		}
		conn := *u
		conn.Path = ""
		return natskvstore.New(streams.Options{
			URL:             conn.String(),
			Name:            "tuner",
			NkeyUser:        env.Get("NATS_NKEY_USER", ""),
			NkeySeed:        env.Get("NATS_NKEY_SEED", ""),
			CredentialsPath: env.Get("NATS_CREDENTIALS", ""),
		}, bucket)

	case "cfkv":
		return cfkvstore.New(cfkvstore.Config{
			AccountID:   env.Get("CFL_ACCOUNT_ID", ""),
			NamespaceID: u.Host,
			Token:       env.Get("CFL_WORKERS_TOKEN", ""),
		}), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, u.Scheme)
}

// file://./rules keeps the relative path in the host part.
func hostPath(u *url.URL) string {
	if u.Host == "" {
		return u.Path
	}
	return u.Host + u.Path
}
