// Package strategy defines the Strategy interface for signal producers,
// a Registry of strategy factories, and the Backtester that replays bars
// through a strategy into per-symbol trade ledgers.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tradelab/internal/domain"
)

// ErrUnknownStrategy is returned when a name has no registered factory.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy is the interface that all trading strategies must implement. An
// instance holds indicator state for exactly one symbol's bar stream.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup required before the strategy begins
	// processing bars.
	Init(ctx context.Context) error

	// OnBar is called with each bar in time order. It returns at most one
	// signal; nil means no signal for this bar.
	OnBar(ctx context.Context, bar domain.Bar) (*domain.Signal, error)
}

// Factory builds a fresh Strategy instance.
type Factory func() Strategy

// Registry holds named strategy factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory to the registry, keyed by the Name() of the
// strategy it builds. A later registration under the same name replaces the
// earlier one.
func (r *Registry) Register(f Factory) {
	name := f().Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds a new instance of the named strategy.
func (r *Registry) New(name string) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return f(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
