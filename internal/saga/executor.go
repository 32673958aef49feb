package saga

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Executor runs registered sagas. It holds no per-run state, so concurrent
// executions are independent of each other.
type Executor struct {
	registry    *Registry
	journal     Journal
	stepTimeout time.Duration
	logger      *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithJournal records every step to j.
func WithJournal(j Journal) Option {
	return func(e *Executor) { e.journal = j }
}

// WithStepTimeout bounds each step with a deadline. Zero disables it.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stepTimeout = d }
}

// WithLogger overrides the global logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates a new saga executor
func NewExecutor(registry *Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		logger:   util.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor resolves names against.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs the saga registered under name with a copy of initial.
// On the first failing step it runs the compensations of the completed steps
// in reverse order and reports every compensation outcome in the result.
func Execute[C any](ctx context.Context, e *Executor, name string, initial C) Result[C] {
	executionID := uuid.NewString()

	def, err := lookupTyped[C](e.registry, name)
	if err != nil {
		e.logger.Warn("Saga not found", zap.String("saga", name), zap.Error(err))
		util.SagaExecutionsTotal.WithLabelValues(name, "not_found").Inc()
		return Result[C]{ExecutionID: executionID, Context: initial, Err: err}
	}

	ctx, span := util.StartSpan(ctx, "saga."+name, trace.WithAttributes(
		attribute.String("saga.name", name),
		attribute.String("saga.execution_id", executionID),
	))
	defer span.End()

	log := e.logger.With(zap.String("saga", name), zap.String("execution_id", executionID))
	log.Info("Saga started", zap.Int("steps", len(def.Steps)))

	sc := initial
	completed := make([]Step[C], 0, len(def.Steps))

	for _, step := range def.Steps {
		if err := runStep(ctx, e, name, executionID, step, &sc); err != nil {
			log.Error("Saga step failed",
				zap.String("step", step.Name),
				zap.Error(err))
			util.RecordError(span, err)

			outcomes := compensate(context.WithoutCancel(ctx), e, name, executionID, completed, &sc)
			result := Result[C]{
				ExecutionID:   executionID,
				Context:       sc,
				Err:           err,
				FailedStep:    step.Name,
				Compensated:   true,
				Compensations: outcomes,
			}

			outcome := "compensated"
			if !result.FullyCompensated() {
				outcome = "compensation_failed"
			}
			util.SagaExecutionsTotal.WithLabelValues(name, outcome).Inc()
			log.Warn("Saga rolled back",
				zap.String("failed_step", step.Name),
				zap.Int("compensations", len(outcomes)),
				zap.Bool("fully_compensated", result.FullyCompensated()))
			return result
		}
		if step.Compensate != nil {
			completed = append(completed, step)
		}
	}

	util.SagaExecutionsTotal.WithLabelValues(name, "completed").Inc()
	log.Info("Saga completed")
	return Result[C]{ExecutionID: executionID, Success: true, Context: sc}
}

func runStep[C any](ctx context.Context, e *Executor, sagaName, executionID string, step Step[C], sc *C) (err error) {
	ctx, span := util.StartSpan(ctx, "saga."+sagaName+"."+step.Name)
	defer span.End()

	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Saga step panicked",
				zap.String("saga", sagaName),
				zap.String("step", step.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("step %s panicked: %v", step.Name, r)
		}

		elapsed := time.Since(start)
		util.SagaStepLatency.WithLabelValues(sagaName, step.Name).Observe(elapsed.Seconds())
		status := StatusCompleted
		if err != nil {
			status = StatusFailed
			util.SagaStepFailuresTotal.WithLabelValues(sagaName, step.Name).Inc()
			util.RecordError(span, err)
		}
		e.record(ctx, executionID, sagaName, step.Name, PhaseExecute, status, err, elapsed)
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	return step.Execute(ctx, sc)
}

func compensate[C any](ctx context.Context, e *Executor, sagaName, executionID string, completed []Step[C], sc *C) []CompensationOutcome {
	outcomes := make([]CompensationOutcome, 0, len(completed))
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		err := runCompensation(ctx, e, sagaName, executionID, step, sc)
		outcome := CompensationOutcome{Step: step.Name, Err: err}
		label := "succeeded"
		if err != nil {
			outcome.Error = err.Error()
			label = "failed"
			e.logger.Error("Compensation failed",
				zap.String("saga", sagaName),
				zap.String("execution_id", executionID),
				zap.String("step", step.Name),
				zap.Error(err))
		}
		util.SagaCompensationsTotal.WithLabelValues(sagaName, step.Name, label).Inc()
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func runCompensation[C any](ctx context.Context, e *Executor, sagaName, executionID string, step Step[C], sc *C) (err error) {
	ctx, span := util.StartSpan(ctx, "saga."+sagaName+"."+step.Name+".compensate")
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation %s panicked: %v", step.Name, r)
		}
		status := StatusCompleted
		if err != nil {
			status = StatusFailed
			util.RecordError(span, err)
		}
		e.record(ctx, executionID, sagaName, step.Name, PhaseCompensate, status, err, time.Since(start))
	}()

	return step.Compensate(ctx, sc)
}

func (e *Executor) record(ctx context.Context, executionID, sagaName, step, phase, status string, stepErr error, elapsed time.Duration) {
	if e.journal == nil {
		return
	}
	rec := models.StepRecord{
		ExecutionID: executionID,
		Saga:        sagaName,
		Step:        step,
		Phase:       phase,
		Status:      status,
		DurationMs:  elapsed.Milliseconds(),
		RecordedAt:  time.Now().UTC(),
	}
	if stepErr != nil {
		rec.Error = stepErr.Error()
	}
	if err := e.journal.RecordStep(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("Failed to journal saga step",
			zap.String("saga", sagaName),
			zap.String("step", step),
			zap.Error(err))
	}
}
