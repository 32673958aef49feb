// Package saga runs named sequences of steps against a typed execution
// context and rolls completed steps back in reverse order when one fails.
//
// A saga is declared once with Define, registered in a Registry and run with
// Execute. Steps mutate the context through a pointer; the value they leave
// behind is what later steps and compensations observe.
package saga

import (
	"context"

	"reservation-service/internal/models"
)

// Step is one unit of work. Compensate is optional.
type Step[C any] struct {
	Name       string
	Execute    func(ctx context.Context, sc *C) error
	Compensate func(ctx context.Context, sc *C) error
}

// Definition is an ordered list of steps registered under a name.
type Definition[C any] struct {
	Name  string
	Steps []Step[C]
}

// Define builds a definition from steps in execution order.
func Define[C any](name string, steps ...Step[C]) *Definition[C] {
	return &Definition[C]{Name: name, Steps: steps}
}

// SagaName implements Named.
func (d *Definition[C]) SagaName() string {
	return d.Name
}

// StepNames returns the step names in execution order.
func (d *Definition[C]) StepNames() []string {
	names := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		names[i] = s.Name
	}
	return names
}

// Named is the type-erased view of a Definition held by the Registry.
type Named interface {
	SagaName() string
	StepNames() []string
}

// CompensationOutcome reports one compensation attempted during rollback.
type CompensationOutcome struct {
	Step  string `json:"step"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// Succeeded reports whether the compensation ran without error.
func (o CompensationOutcome) Succeeded() bool {
	return o.Err == nil
}

// Result is the outcome of one saga run. The executor never returns a Go
// error; failures are described here.
type Result[C any] struct {
	ExecutionID   string
	Success       bool
	Context       C
	Err           error
	FailedStep    string
	Compensated   bool
	Compensations []CompensationOutcome
}

// FullyCompensated reports whether every compensation of a failed run succeeded.
func (r Result[C]) FullyCompensated() bool {
	if r.Success {
		return false
	}
	for _, c := range r.Compensations {
		if c.Err != nil {
			return false
		}
	}
	return true
}

// Journal receives an audit record for every step and compensation.
// Records are never read back for recovery.
type Journal interface {
	RecordStep(ctx context.Context, rec models.StepRecord) error
}

// Journal phases and statuses.
const (
	PhaseExecute    = "EXECUTE"
	PhaseCompensate = "COMPENSATE"

	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)
