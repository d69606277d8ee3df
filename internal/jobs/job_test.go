package jobs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateQueued, StateProcessing}:    true,
		{StateProcessing, StateCompleted}: true,
		{StateProcessing, StateFailed}:    true,
	}
	states := []State{StateQueued, StateProcessing, StateCompleted, StateFailed}
	for _, from := range states {
		for _, to := range states {
			err := ValidateTransition(from, to)
			if allowed[[2]State{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			}
		}
	}
}

func TestStateClientStatus(t *testing.T) {
	assert.Equal(t, "processing", StateQueued.ClientStatus())
	assert.Equal(t, "processing", StateProcessing.ClientStatus())
	assert.Equal(t, "processed", StateCompleted.ClientStatus())
	assert.Equal(t, "failed", StateFailed.ClientStatus())

	assert.False(t, StateQueued.IsTerminal())
	assert.False(t, StateProcessing.IsTerminal())
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}

func TestErrorTypes(t *testing.T) {
	nf := &NotFoundError{ID: "x", Message: MsgImageNotFound}
	assert.ErrorIs(t, nf, ErrNotFound)
	assert.Contains(t, nf.Error(), "Image not found.")

	cause := errors.New("model exploded")
	ie := &InferenceError{JobID: "j1", Err: cause}
	assert.ErrorIs(t, ie, cause)
	assert.Contains(t, ie.Error(), "j1")

	ioe := &IOError{Op: "write", Path: "/tmp/x.jpg", Err: cause}
	var target *IOError
	require.ErrorAs(t, error(ioe), &target)
	assert.Equal(t, "write", target.Op)
	assert.ErrorIs(t, ioe, cause)
}
