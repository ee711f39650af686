package errorutil

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryClassification(t *testing.T) {
	assert.True(t, IsRetryable(NewStoreUnavailable(errors.New("conn refused"))))
	assert.True(t, IsRetryable(NewConflict("version changed", nil)))

	assert.False(t, IsRetryable(NewAccessDenied("agent-a")))
	assert.False(t, IsRetryable(NewAlreadyLocked("agent-a", time.Now())))
	assert.False(t, IsRetryable(NewInvalidTransition("CLOSED", "CLOSE")))
	assert.False(t, IsRetryable(NewAlreadyRated(4)))
}

func TestHolderFrom(t *testing.T) {
	assert.Equal(t, "agent-a", HolderFrom(NewAccessDenied("agent-a")))
	assert.Equal(t, "agent-b", HolderFrom(NewAlreadyLocked("agent-b", time.Now())))
	assert.Equal(t, "", HolderFrom(NewAccessDenied("")))
	assert.Equal(t, "", HolderFrom(errors.New("plain")))
}

func TestCodeOfUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("acquire: %w", NewAlreadyLocked("agent-a", time.Now()))
	assert.Equal(t, CodeAlreadyLocked, CodeOf(wrapped))
	assert.True(t, IsAlreadyLocked(wrapped))
}

func TestDomainErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewStoreUnavailable(cause)
	assert.True(t, errors.Is(err, cause))
}
