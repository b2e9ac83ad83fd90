package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTemporary_TrueForTransientError(t *testing.T) {
	err := Transient("op", errors.New("boom"))
	assert.True(t, IsTemporary(err))
}

func TestIsTemporary_FalseForFatalError(t *testing.T) {
	err := Fatal("op", errors.New("boom"))
	assert.False(t, IsTemporary(err))
}

func TestIsTemporary_FalseForPlainError(t *testing.T) {
	assert.False(t, IsTemporary(errors.New("plain")))
}

func TestIsTemporary_FalseForNil(t *testing.T) {
	assert.False(t, IsTemporary(nil))
}

func TestIsTemporary_SeesThroughWrappedChain(t *testing.T) {
	cause := Transient("op", errors.New("boom"))
	wrapped := fmt.Errorf("context: %w", cause)
	assert.True(t, IsTemporary(wrapped))
}

func TestTransient_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Transient("op", nil))
}

func TestFatal_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Fatal("op", nil))
}

func TestTransientError_UnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Transient("op", cause)
	assert.ErrorIs(t, err, cause)
}

func TestCorruptEventError_IsNeverTemporary(t *testing.T) {
	err := &CorruptEventError{EventID: "e1", Err: errors.New("bad json")}
	assert.False(t, IsTemporary(err))
	assert.Contains(t, err.Error(), "e1")
}
