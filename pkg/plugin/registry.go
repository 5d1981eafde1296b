package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/logger"
)

// EventKind describes a registry mutation.
type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventUnregistered EventKind = "unregistered"
	EventCleared      EventKind = "cleared"
)

// Event is delivered to observers after a successful mutation.
type Event struct {
	Kind       EventKind  `json:"kind"`
	Capability Capability `json:"capability"`
	Plugin     string     `json:"plugin,omitempty"`
	Version    string     `json:"version,omitempty"`
	Error      string     `json:"error,omitempty"`
	Time       time.Time  `json:"time"`
}

// Registry is a name-keyed store of shared plugin instances for one
// capability. Lookups take the read lock; mutations take the write lock only
// for the map operation itself.
type Registry[T Plugin] struct {
	capability Capability

	// lifecycle serializes Register/Unregister/ClearAll so Initialize and
	// Shutdown run at most once per instance without holding mu.
	lifecycle sync.Mutex
	mu        sync.RWMutex
	entries   map[string]T
	poisoned  atomic.Bool

	observers []func(Event)
	log       *slog.Logger
}

// NewRegistry builds an empty registry for the given capability.
func NewRegistry[T Plugin](capability Capability, opts ...RegistryOption) *Registry[T] {
	o := buildOptions(opts)
	return &Registry[T]{
		capability: capability,
		entries:    make(map[string]T),
		observers:  o.observers,
		log:        o.logger.With(slog.String("capability", string(capability))),
	}
}

// Capability returns the capability served by the registry.
func (r *Registry[T]) Capability() Capability { return r.capability }

// Register validates the plugin name, initializes the plugin and inserts it.
// A name that is already present is rejected.
func (r *Registry[T]) Register(p T) error {
	if any(p) == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin cannot be nil")
	}
	name := p.Name()
	if err := ValidateName(name); err != nil {
		return err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.contains(name) {
		return xerrors.New(xerrors.CodeAlreadyRegistered,
			fmt.Sprintf("%s %q already registered", r.capability, name), xerrors.WithPlugin(name))
	}
	if err := callGuarded("initialize", p.Initialize); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailed, err,
			fmt.Sprintf("initialize %s %q", r.capability, name), xerrors.WithPlugin(name))
	}
	if !r.mutate(func(m map[string]T) { m[name] = p }) {
		_ = callGuarded("shutdown", p.Shutdown)
		return xerrors.New(xerrors.CodeUnknown, "registry mutation failed", xerrors.WithPlugin(name))
	}

	logger.Audit().Info("plugin registered",
		slog.String("capability", string(r.capability)),
		slog.String("plugin", name),
		slog.String("version", p.Version()))
	r.emit(Event{Kind: EventRegistered, Plugin: name, Version: p.Version()})
	return nil
}

// Unregister removes the named plugin and calls its Shutdown. A shutdown
// error is returned but the entry stays removed.
func (r *Registry[T]) Unregister(name string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	var (
		removed T
		found   bool
	)
	r.mutate(func(m map[string]T) {
		removed, found = m[name]
		delete(m, name)
	})
	if !found {
		return r.notFound(name)
	}

	ev := Event{Kind: EventUnregistered, Plugin: name, Version: removed.Version()}
	var err error
	if shutdownErr := callGuarded("shutdown", removed.Shutdown); shutdownErr != nil {
		err = xerrors.Wrap(xerrors.CodeShutdownFailed, shutdownErr,
			fmt.Sprintf("shutdown %s %q", r.capability, name), xerrors.WithPlugin(name))
		ev.Error = err.Error()
		r.log.Warn("plugin shutdown failed", slog.String("plugin", name), slog.Any("error", shutdownErr))
	}
	logger.Audit().Info("plugin unregistered",
		slog.String("capability", string(r.capability)),
		slog.String("plugin", name))
	r.emit(ev)
	return err
}

// Get returns the shared instance registered under name. Removing the entry
// later does not invalidate the returned value.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.RLock()
	p, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, r.notFound(name)
	}
	return p, nil
}

// List returns the registered names in lexicographic order.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Snapshot returns the registered plugins ordered by name.
func (r *Registry[T]) Snapshot() []T {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]T, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name])
	}
	r.mu.RUnlock()
	return out
}

// Len returns the number of registered plugins.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ClearAll removes every plugin, calling Shutdown on each in name order.
// Shutdown errors are joined; a failing plugin never stops the sweep.
func (r *Registry[T]) ClearAll() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	var old map[string]T
	r.mutate(func(map[string]T) {
		old = r.entries
		r.entries = make(map[string]T)
	})
	names := make([]string, 0, len(old))
	for name := range old {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if err := callGuarded("shutdown", old[name].Shutdown); err != nil {
			errs = append(errs, xerrors.Wrap(xerrors.CodeShutdownFailed, err,
				fmt.Sprintf("shutdown %s %q", r.capability, name), xerrors.WithPlugin(name)))
		}
	}
	err := errors.Join(errs...)
	logger.Audit().Info("registry cleared",
		slog.String("capability", string(r.capability)),
		slog.Int("removed", len(names)))
	ev := Event{Kind: EventCleared}
	if err != nil {
		ev.Error = err.Error()
	}
	r.emit(ev)
	return err
}

// Poisoned reports whether a mutation ever panicked while holding the lock.
// A poisoned registry keeps serving its last-known contents.
func (r *Registry[T]) Poisoned() bool { return r.poisoned.Load() }

func (r *Registry[T]) contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// mutate runs fn under the write lock. A panic inside fn marks the registry
// poisoned instead of propagating.
func (r *Registry[T]) mutate(fn func(map[string]T)) (ok bool) {
	r.mu.Lock()
	defer func() {
		if rec := recover(); rec != nil {
			r.poisoned.Store(true)
			r.log.Warn("registry mutation panicked, continuing with last-known contents", slog.Any("panic", rec))
			ok = false
		}
		r.mu.Unlock()
	}()
	fn(r.entries)
	return true
}

func (r *Registry[T]) notFound(name string) error {
	return xerrors.New(xerrors.CodeNotFound,
		fmt.Sprintf("%s %q not registered", r.capability, name), xerrors.WithPlugin(name))
}

func (r *Registry[T]) emit(ev Event) {
	if len(r.observers) == 0 {
		return
	}
	ev.Capability = r.capability
	ev.Time = time.Now().UTC()
	for _, obs := range r.observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Warn("registry observer panicked", slog.Any("panic", rec))
				}
			}()
			obs(ev)
		}()
	}
}

// callGuarded runs a lifecycle hook, converting a panic into an error that
// carries the FOREIGN_PANIC code.
func callGuarded(stage string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(stage, rec)
		}
	}()
	return fn()
}
