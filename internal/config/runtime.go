package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// ConfigStore loads persisted key/value overrides, typically from the
// system_configs table.
type ConfigStore interface {
	All(ctx context.Context) (map[string]string, error)
}

// Runtime resolves configuration keys through layered sources: values
// loaded from the database first, then the process environment, then a
// caller-supplied default. It replaces attribute-magic style dynamic
// settings with an explicit Resolve call.
type Runtime struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewRuntime() *Runtime {
	return &Runtime{values: make(map[string]string)}
}

// Init seeds the memory layer from the store. Call once at startup;
// later Set calls keep the layer current.
func (r *Runtime) Init(ctx context.Context, store ConfigStore) error {
	values, err := store.All(ctx)
	if err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range values {
		r.values[k] = v
	}
	return nil
}

func (r *Runtime) Set(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}

// Resolve returns the first non-empty value among database override,
// environment variable and fallback.
func (r *Runtime) Resolve(key, fallback string) string {
	r.mu.RLock()
	v, ok := r.values[key]
	r.mu.RUnlock()
	if ok && v != "" {
		return v
	}
	if env := os.Getenv(key); env != "" {
		return env
	}
	return fallback
}

func (r *Runtime) ResolveInt(key string, fallback int) int {
	raw := r.Resolve(key, "")
	if raw == "" {
		return fallback
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return i
}
