package infer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seantiz/asyncinfer/internal/infer"
)

func TestTaskErrorMatching(t *testing.T) {
	cause := errors.New("bad input")
	err := fmt.Errorf("wrapped: %w", &infer.TaskError{Index: 4, Kind: infer.ErrEngineFailure, Err: cause})

	assert.True(t, infer.IsEngineFailure(err))
	assert.False(t, infer.IsTimeout(err))
	assert.ErrorIs(t, err, cause)

	idx, ok := infer.TaskIndex(err)
	assert.True(t, ok)
	assert.Equal(t, 4, idx)
	assert.Equal(t, "wrapped: task 4: engine failure: bad input", err.Error())
}

func TestTaskErrorWithoutCause(t *testing.T) {
	err := &infer.TaskError{Index: 0, Kind: infer.ErrTimeout}

	assert.True(t, infer.IsTimeout(err))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "task 0: inference timed out", err.Error())
}

func TestTaskIndexOnPlainError(t *testing.T) {
	_, ok := infer.TaskIndex(errors.New("plain"))
	assert.False(t, ok)
}

func TestOutcomeKind(t *testing.T) {
	assert.Equal(t, infer.KindSuccess, infer.Outcome{}.Kind())
	assert.Equal(t, infer.KindTimeout, infer.Outcome{Err: &infer.TaskError{Kind: infer.ErrTimeout}}.Kind())
	assert.Equal(t, infer.KindEngineFailure, infer.Outcome{Err: errors.New("other")}.Kind())
}
