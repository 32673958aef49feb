package saga

import (
	"context"
	"errors"
	"testing"

	"reservation-service/internal/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type otherCtx struct{ ID string }

func noop(context.Context, *trailCtx) error { return nil }

func TestRegistryRegisterAndNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Define("b", Step[trailCtx]{Name: "one", Execute: noop})))
	require.NoError(t, r.Register(Define("a", Step[trailCtx]{Name: "one", Execute: noop})))

	assert.Equal(t, []string{"a", "b"}, r.Names())

	def, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, []string{"one"}, def.StepNames())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Define("confirm", Step[trailCtx]{Name: "one", Execute: noop})))

	err := r.Register(Define("confirm", Step[trailCtx]{Name: "two", Execute: noop}))
	assert.Error(t, err)
	assert.Len(t, r.Names(), 1)
}

func TestRegistryRejectsInvalidDefinitions(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register(Define[trailCtx]("")))
	assert.Error(t, r.Register(Define("x", Step[trailCtx]{Execute: noop})))
	assert.Error(t, r.Register(Define("x", Step[trailCtx]{Name: "no-exec"})))
	assert.Error(t, r.Register(Define("x",
		Step[trailCtx]{Name: "dup", Execute: noop},
		Step[trailCtx]{Name: "dup", Execute: noop},
	)))
	assert.Empty(t, r.Names())
}

func TestRegistrySealed(t *testing.T) {
	r := NewRegistry()
	r.Seal()

	err := r.Register(Define("late", Step[trailCtx]{Name: "one", Execute: noop}))
	assert.True(t, errors.Is(err, ErrRegistrySealed))
	assert.True(t, r.Sealed())
}

func TestLookupTypedMismatchIsSagaNotFound(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Define("confirm", Step[trailCtx]{Name: "one", Execute: noop}))

	_, err := lookupTyped[otherCtx](r, "confirm")
	assert.True(t, errors.Is(err, apperrors.ErrSagaNotFound))

	_, err = lookupTyped[trailCtx](r, "missing")
	assert.True(t, errors.Is(err, apperrors.ErrSagaNotFound))

	def, err := lookupTyped[trailCtx](r, "confirm")
	require.NoError(t, err)
	assert.Equal(t, "confirm", def.Name)
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Define("x", Step[trailCtx]{Name: "one", Execute: noop}))
	assert.Panics(t, func() {
		r.MustRegister(Define("x", Step[trailCtx]{Name: "one", Execute: noop}))
	})
}
