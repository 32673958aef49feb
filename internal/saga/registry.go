package saga

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"reservation-service/internal/apperrors"
)

// ErrRegistrySealed is returned by Register after Seal.
var ErrRegistrySealed = errors.New("saga registry is sealed")

// Registry maps saga names to definitions. It is filled at start-up and
// sealed before the first execution.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]Named
	sealed bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Named)}
}

// Register adds a definition. Names must be unique.
func (r *Registry) Register(def Named) error {
	if def == nil || def.SagaName() == "" {
		return errors.New("saga definition must have a name")
	}
	if err := validate(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("failed to register saga %s: %w", def.SagaName(), ErrRegistrySealed)
	}
	if _, exists := r.defs[def.SagaName()]; exists {
		return fmt.Errorf("saga already registered: %s", def.SagaName())
	}
	r.defs[def.SagaName()] = def
	return nil
}

// MustRegister is Register that panics, for wiring code.
func (r *Registry) MustRegister(def Named) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Seal rejects further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Names returns the registered saga names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the type-erased definition registered under name.
func (r *Registry) Lookup(name string) (Named, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// lookupTyped resolves name to a definition over context type C. A definition
// registered for another context type is reported as not found.
func lookupTyped[C any](r *Registry, name string) (*Definition[C], error) {
	def, ok := r.Lookup(name)
	if !ok {
		return nil, apperrors.SagaNotFound(name)
	}
	typed, ok := def.(*Definition[C])
	if !ok {
		return nil, apperrors.Wrap(apperrors.KindSagaNotFound,
			fmt.Errorf("context type %T does not match definition", *new(C)),
			"saga not registered for this context: %s", name)
	}
	return typed, nil
}

type stepChecker interface {
	checkSteps() error
}

func validate(def Named) error {
	if c, ok := def.(stepChecker); ok {
		return c.checkSteps()
	}
	return nil
}

func (d *Definition[C]) checkSteps() error {
	seen := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("saga %s: step %d has no name", d.Name, i)
		}
		if s.Execute == nil {
			return fmt.Errorf("saga %s: step %s has no execute function", d.Name, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("saga %s: duplicate step %s", d.Name, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}
