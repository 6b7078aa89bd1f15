// Package secrets resolves provider credentials by name.
//
// The gateway treats credential storage as an opaque name → value lookup.
// A value may hold several comma-separated API keys; those are served through
// a rotating ring so a rate-limited key can be benched without disabling the
// provider.
package secrets

import (
	"os"
	"strings"
	"sync"
	"time"
)

// Store resolves a credential by name. ok is false when the name is unknown,
// which the gateway surfaces as a configuration error and never retries.
type Store interface {
	Lookup(name string) (value string, ok bool)
}

// RateLimitMarker is implemented by stores that can bench a rate-limited key
// until a reset time. Benched keys are skipped by ring rotation.
type RateLimitMarker interface {
	MarkRateLimited(name, key string, until time.Time)
}

// Static is an in-memory Store for tests and embedding callers.
type Static map[string]string

// Lookup returns the value stored under name.
func (s Static) Lookup(name string) (string, bool) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Env reads credentials from process environment variables. A variable whose
// value contains commas is treated as a ring of keys and rotated per lookup.
type Env struct {
	mu    sync.Mutex
	rings map[string]*Ring
}

// NewEnv creates an environment-backed credential store.
func NewEnv() *Env {
	return &Env{rings: make(map[string]*Ring)}
}

// Lookup resolves name against the environment. Multi-key values rotate
// round-robin across calls.
func (e *Env) Lookup(name string) (string, bool) {
	if name == "" {
		return "", false
	}

	val := os.Getenv(name)
	if val == "" {
		return "", false
	}

	if !strings.Contains(val, ",") {
		return strings.TrimSpace(val), true
	}

	e.mu.Lock()
	ring, ok := e.rings[name]
	if !ok {
		ring = NewRing(splitKeys(val))
		e.rings[name] = ring
	}
	e.mu.Unlock()

	return ring.Next()
}

// MarkRateLimited benches one key of a ring until the reset time. Single-key
// credentials have no ring and are left untouched; retry backoff covers them.
func (e *Env) MarkRateLimited(name, key string, until time.Time) {
	e.mu.Lock()
	ring, ok := e.rings[name]
	e.mu.Unlock()

	if ok {
		ring.MarkRateLimited(key, until)
	}
}

func splitKeys(s string) []string {
	var keys []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

// Ring serves API keys round-robin and skips keys that are benched after a
// rate limit, until their reset time passes.
type Ring struct {
	mu      sync.Mutex
	keys    []ringEntry
	current int
}

type ringEntry struct {
	key     string
	benched bool
	resetAt time.Time
}

// NewRing creates a ring over the given keys.
func NewRing(keys []string) *Ring {
	entries := make([]ringEntry, len(keys))
	for i, k := range keys {
		entries[i] = ringEntry{key: k}
	}
	return &Ring{keys: entries}
}

// Next returns the next usable key. When every key is benched it returns the
// one with the earliest reset so the caller can still attempt the request.
func (r *Ring) Next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.keys)
	if n == 0 {
		return "", false
	}

	now := time.Now()
	for i := 0; i < n; i++ {
		idx := (r.current + i) % n
		entry := &r.keys[idx]

		if entry.benched && now.After(entry.resetAt) {
			entry.benched = false
		}
		if !entry.benched {
			r.current = (idx + 1) % n
			return entry.key, true
		}
	}

	// All benched: hand out the earliest-resetting key.
	earliest := 0
	for i := 1; i < n; i++ {
		if r.keys[i].resetAt.Before(r.keys[earliest].resetAt) {
			earliest = i
		}
	}
	return r.keys[earliest].key, true
}

// MarkRateLimited benches key until the given reset time.
func (r *Ring) MarkRateLimited(key string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.keys {
		if r.keys[i].key == key {
			r.keys[i].benched = true
			r.keys[i].resetAt = until
			return
		}
	}
}

// Size returns the number of keys in the ring.
func (r *Ring) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
