package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reservation-service/internal/apperrors"
	"reservation-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type trailCtx struct {
	Count int
	Trail []string
	Seen  map[string]int
}

type memJournal struct {
	mu      sync.Mutex
	records []models.StepRecord
	err     error
}

func (j *memJournal) RecordStep(_ context.Context, rec models.StepRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return j.err
}

// record appends name to the trail and bumps the counter.
func record(name string) func(context.Context, *trailCtx) error {
	return func(_ context.Context, sc *trailCtx) error {
		sc.Trail = append(sc.Trail, name)
		sc.Count++
		return nil
	}
}

func fail(msg string) func(context.Context, *trailCtx) error {
	return func(context.Context, *trailCtx) error {
		return errors.New(msg)
	}
}

func newTestExecutor(t *testing.T, opts ...Option) (*Registry, *Executor) {
	t.Helper()
	r := NewRegistry()
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	return r, NewExecutor(r, opts...)
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	r, e := newTestExecutor(t)
	r.MustRegister(Define("ordered",
		Step[trailCtx]{Name: "a", Execute: record("a")},
		Step[trailCtx]{Name: "b", Execute: record("b")},
		Step[trailCtx]{Name: "c", Execute: record("c")},
	))

	initial := trailCtx{Count: 10}
	res := Execute(context.Background(), e, "ordered", initial)

	require.True(t, res.Success)
	assert.NoError(t, res.Err)
	assert.False(t, res.Compensated)
	assert.Equal(t, []string{"a", "b", "c"}, res.Context.Trail)
	assert.Equal(t, 13, res.Context.Count)
	assert.Equal(t, 10, initial.Count, "initial context must not be mutated")
	assert.NotEmpty(t, res.ExecutionID)
}

func TestExecuteUnknownSaga(t *testing.T) {
	_, e := newTestExecutor(t)

	res := Execute(context.Background(), e, "missing", trailCtx{})

	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, apperrors.ErrSagaNotFound))
	assert.Equal(t, apperrors.KindSagaNotFound, apperrors.KindOf(res.Err))
	assert.False(t, res.Compensated)
	assert.Empty(t, res.Context.Trail)
}

func TestExecuteCompensatesInReverseOrder(t *testing.T) {
	r, e := newTestExecutor(t)

	var undone []string
	undo := func(name string) func(context.Context, *trailCtx) error {
		return func(context.Context, *trailCtx) error {
			undone = append(undone, name)
			return nil
		}
	}

	r.MustRegister(Define("rollback",
		Step[trailCtx]{Name: "s1", Execute: record("s1"), Compensate: undo("s1")},
		Step[trailCtx]{Name: "s2", Execute: record("s2")},
		Step[trailCtx]{Name: "s3", Execute: record("s3"), Compensate: undo("s3")},
		Step[trailCtx]{Name: "s4", Execute: fail("boom"), Compensate: undo("s4")},
		Step[trailCtx]{Name: "s5", Execute: record("s5"), Compensate: undo("s5")},
	))

	res := Execute(context.Background(), e, "rollback", trailCtx{})

	assert.False(t, res.Success)
	assert.True(t, res.Compensated)
	assert.True(t, res.FullyCompensated())
	assert.EqualError(t, res.Err, "boom")
	assert.Equal(t, "s4", res.FailedStep)
	assert.Equal(t, []string{"s3", "s1"}, undone)
	assert.Equal(t, []string{"s1", "s2", "s3"}, res.Context.Trail, "no step after the failure runs")
	require.Len(t, res.Compensations, 2)
	assert.Equal(t, "s3", res.Compensations[0].Step)
	assert.True(t, res.Compensations[0].Succeeded())
}

func TestCompensationSeesLaterMutations(t *testing.T) {
	r, e := newTestExecutor(t)

	var seenID string
	r.MustRegister(Define("visibility",
		Step[trailCtx]{
			Name:    "first",
			Execute: record("first"),
			Compensate: func(_ context.Context, sc *trailCtx) error {
				seenID = sc.Trail[len(sc.Trail)-1]
				return nil
			},
		},
		Step[trailCtx]{Name: "second", Execute: record("second")},
		Step[trailCtx]{Name: "third", Execute: fail("nope")},
	))

	res := Execute(context.Background(), e, "visibility", trailCtx{})

	assert.False(t, res.Success)
	assert.Equal(t, "second", seenID)
}

func TestCompensationFailureIsCollectedAndRollbackContinues(t *testing.T) {
	r, e := newTestExecutor(t)

	var undone []string
	r.MustRegister(Define("partial",
		Step[trailCtx]{Name: "s1", Execute: record("s1"), Compensate: func(context.Context, *trailCtx) error {
			undone = append(undone, "s1")
			return nil
		}},
		Step[trailCtx]{Name: "s2", Execute: record("s2"), Compensate: func(context.Context, *trailCtx) error {
			return errors.New("store unavailable")
		}},
		Step[trailCtx]{Name: "s3", Execute: fail("payment failed")},
	))

	res := Execute(context.Background(), e, "partial", trailCtx{})

	assert.False(t, res.Success)
	assert.True(t, res.Compensated)
	assert.False(t, res.FullyCompensated())
	assert.EqualError(t, res.Err, "payment failed")
	assert.Equal(t, []string{"s1"}, undone)
	require.Len(t, res.Compensations, 2)
	assert.Equal(t, "s2", res.Compensations[0].Step)
	assert.Equal(t, "store unavailable", res.Compensations[0].Error)
	assert.True(t, res.Compensations[1].Succeeded())
}

func TestFirstStepFailureHasNothingToCompensate(t *testing.T) {
	r, e := newTestExecutor(t)
	r.MustRegister(Define("early", Step[trailCtx]{Name: "validate", Execute: fail("invalid")}))

	res := Execute(context.Background(), e, "early", trailCtx{})

	assert.False(t, res.Success)
	assert.True(t, res.Compensated)
	assert.True(t, res.FullyCompensated())
	assert.Empty(t, res.Compensations)
}

func TestPanickingStepIsTreatedAsFailure(t *testing.T) {
	r, e := newTestExecutor(t)

	compensated := false
	r.MustRegister(Define("panics",
		Step[trailCtx]{Name: "ok", Execute: record("ok"), Compensate: func(context.Context, *trailCtx) error {
			compensated = true
			return nil
		}},
		Step[trailCtx]{Name: "explode", Execute: func(_ context.Context, sc *trailCtx) error {
			sc.Seen["x"] = 1 // nil map
			return nil
		}},
	))

	res := Execute(context.Background(), e, "panics", trailCtx{})

	assert.False(t, res.Success)
	assert.Equal(t, "explode", res.FailedStep)
	assert.Contains(t, res.Err.Error(), "panicked")
	assert.True(t, compensated)
}

func TestCancelledCallerStillCompensates(t *testing.T) {
	r, e := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	var compCtxErr error = errors.New("not called")
	r.MustRegister(Define("cancel",
		Step[trailCtx]{Name: "s1", Execute: record("s1"), Compensate: func(ctx context.Context, _ *trailCtx) error {
			compCtxErr = ctx.Err()
			return nil
		}},
		Step[trailCtx]{Name: "s2", Execute: func(context.Context, *trailCtx) error {
			cancel()
			return context.Canceled
		}},
	))

	res := Execute(ctx, e, "cancel", trailCtx{})

	assert.False(t, res.Success)
	assert.NoError(t, compCtxErr)
}

func TestStepTimeout(t *testing.T) {
	r, e := newTestExecutor(t, WithStepTimeout(20*time.Millisecond))
	r.MustRegister(Define("slow", Step[trailCtx]{Name: "wait", Execute: func(ctx context.Context, _ *trailCtx) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}}))

	res := Execute(context.Background(), e, "slow", trailCtx{})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestJournalRecordsStepsAndCompensations(t *testing.T) {
	j := &memJournal{err: errors.New("journal down")}
	r, e := newTestExecutor(t, WithJournal(j))
	r.MustRegister(Define("journaled",
		Step[trailCtx]{Name: "s1", Execute: record("s1"), Compensate: func(context.Context, *trailCtx) error { return nil }},
		Step[trailCtx]{Name: "s2", Execute: fail("x")},
	))

	res := Execute(context.Background(), e, "journaled", trailCtx{})

	require.Len(t, j.records, 3, "journal errors must not stop the saga")
	assert.Equal(t, PhaseExecute, j.records[0].Phase)
	assert.Equal(t, StatusCompleted, j.records[0].Status)
	assert.Equal(t, "s2", j.records[1].Step)
	assert.Equal(t, StatusFailed, j.records[1].Status)
	assert.Equal(t, "x", j.records[1].Error)
	assert.Equal(t, PhaseCompensate, j.records[2].Phase)
	for _, rec := range j.records {
		assert.Equal(t, res.ExecutionID, rec.ExecutionID)
		assert.Equal(t, "journaled", rec.Saga)
	}
}

func TestConcurrentExecutionsAreIndependent(t *testing.T) {
	r, e := newTestExecutor(t)
	r.MustRegister(Define("count",
		Step[trailCtx]{Name: "a", Execute: record("a")},
		Step[trailCtx]{Name: "b", Execute: record("b")},
	))

	var wg sync.WaitGroup
	results := make([]Result[trailCtx], 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Execute(context.Background(), e, "count", trailCtx{Count: i})
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.Success)
		assert.Equal(t, i+2, res.Context.Count)
	}
}
