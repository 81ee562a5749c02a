package repo

import (
	"fmt"
	"strings"
	"time"
)

// DuplicatePolicy decides what happens when a rule id is loaded twice.
type DuplicatePolicy int

const (
	// LastWins replaces the earlier rule and its origin, keeping its position.
	LastWins DuplicatePolicy = iota
	// FirstWins keeps the earlier rule.
	FirstWins
	// Reject drops the later rule and logs it as an error.
	Reject
)

func (p DuplicatePolicy) String() string {
	switch p {
	case FirstWins:
		return "first-wins"
	case Reject:
		return "reject"
	}
	return "last-wins"
}

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last-wins", "last_wins", "last":
		return LastWins, nil
	case "first-wins", "first_wins", "first":
		return FirstWins, nil
	case "reject":
		return Reject, nil
	}
	return LastWins, fmt.Errorf("unknown duplicate policy: %q", s)
}

type Option func(*Repo)

// WithDefaultSource sets where rules without a known origin are saved.
func WithDefaultSource(src Source) Option {
	return func(r *Repo) {
		r.defaultSource = &src
	}
}

func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(r *Repo) {
		r.policy = p
	}
}

// WithStrict skips a whole source when any of its records is malformed.
// By default only the malformed records are dropped.
func WithStrict(strict bool) Option {
	return func(r *Repo) {
		r.strict = strict
	}
}

// WithDebounce sets how long Watch waits for changes to settle.
func WithDebounce(d time.Duration) Option {
	return func(r *Repo) {
		r.debounce = d
	}
}
