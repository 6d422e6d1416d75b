package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("resolve: %w", NotFound("contacts.Get", "contact %s", "c1"))

	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "resolve: contacts.Get: contact c1", err.Error())
}

func TestTransportKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Transport("gateway.Send", cause)

	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, cause)
}

func TestRetryExhaustedMessage(t *testing.T) {
	err := RetryExhausted("jobs.process", 3, errors.New("x"))
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
