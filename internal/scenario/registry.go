package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/framerelay/internal/relay"
)

var (
	ErrUnknownScenario   = errors.New("scenario: unknown scenario")
	ErrDuplicateScenario = errors.New("scenario: duplicate scenario")
)

// Func drives one scenario over a connected relay.
type Func func(ctx context.Context, r *relay.Relay) error

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{}}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process registry populated with the built-in scenarios.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		registerBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

func (reg *Registry) Register(name string, fn Func) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.funcs[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateScenario, name)
	}
	reg.funcs[name] = fn
	return nil
}

func (reg *Registry) Lookup(name string) (Func, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	fn, ok := reg.funcs[name]
	return fn, ok
}

func (reg *Registry) Names() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.funcs))
	for name := range reg.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run looks up name and drives it over r. Cancelling ctx closes r, which is
// the only way to interrupt blocked relay I/O.
func (reg *Registry) Run(ctx context.Context, name string, r *relay.Relay) error {
	fn, ok := reg.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	stop := context.AfterFunc(ctx, func() { _ = r.Close() })
	defer stop()

	err := fn(ctx, r)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}
