package env

import (
	"os"
	"strconv"
	"time"

	"log/slog"
)

func Must(key string) string {
	res := os.Getenv(key)
	if len(res) == 0 {
		slog.Error("env var must be set", "key", key)
		os.Exit(1)
	}
	return res
}

// Get returns the value of key, or def when it is unset or empty.
func Get(key string, def string) string {
	if res := os.Getenv(key); len(res) > 0 {
		return res
	}
	return def
}

func Lookup(key string) (string, bool) {
	res, ok := os.LookupEnv(key)
	if !ok || len(res) == 0 {
		return "", false
	}
	return res, true
}

func Bool(key string, def bool) bool {
	res, ok := Lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(res)
	if err != nil {
		slog.Warn("invalid bool env var, using default", "key", key, "value", res)
		return def
	}
	return b
}

func Duration(key string, def time.Duration) time.Duration {
	res, ok := Lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(res)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", res)
		return def
	}
	return d
}

func Int(key string, def int) int {
	res, ok := Lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(res)
	if err != nil {
		slog.Warn("invalid int env var, using default", "key", key, "value", res)
		return def
	}
	return n
}
