// Package config loads environment-backed configuration structs.
//
// Structs are annotated with `env` tags (github.com/caarlos0/env) and a
// .env file, if present, is loaded once per process before parsing.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrNilPointer indicates a nil target was passed to Load.
	ErrNilPointer = errors.New("config: target must be a non-nil pointer")
	// ErrParsingConfig indicates environment parsing failed.
	ErrParsingConfig = errors.New("config: failed to parse environment")
)

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]any)

	dotenvOnce sync.Once
)

// Load parses environment variables into cfg. Each distinct struct type
// is parsed once per process; later calls return the cached value so
// every consumer observes the same configuration.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		// Missing .env files are fine; real environments set vars directly.
		_ = godotenv.Load()
	})

	key := typeName[T]()

	cacheMu.RLock()
	if cached, ok := cache[key]; ok {
		*cfg = cached.(T)
		cacheMu.RUnlock()
		return nil
	}
	cacheMu.RUnlock()

	if err := env.Parse(cfg); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	cacheMu.Lock()
	// First writer wins so concurrent loaders agree on one value.
	if cached, ok := cache[key]; ok {
		*cfg = cached.(T)
	} else {
		cache[key] = *cfg
	}
	cacheMu.Unlock()

	return nil
}

// MustLoad works like Load but panics on failure. Use for configuration
// the service cannot start without.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

func typeName[T any]() string {
	var zero T
	if t := reflect.TypeOf(zero); t != nil {
		return t.String()
	}
	return fmt.Sprintf("%T", *new(T))
}
