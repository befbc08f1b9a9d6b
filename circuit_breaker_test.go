package extend

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/extend/messaging"
)

func TestConnectSucceeded(t *testing.T) {
	assert.True(t, connectSucceeded(nil))
	assert.True(t, connectSucceeded(&messaging.RedirectError{Addresses: []string{"a:1"}}))
	assert.True(t, connectSucceeded(errors.Wrap(context.Canceled, "extend: dial")))
	assert.False(t, connectSucceeded(errors.New("connection refused")))
	assert.False(t, connectSucceeded(&messaging.HandshakeError{Message: "rejected by peer"}))
}

func TestCircuitBreakerTrips(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, 0, time.Minute)("a:1")
	fail := func() (*messaging.Connection, error) { return nil, errors.New("refused") }

	for range 3 {
		_, err := cb.Execute(fail)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(fail)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreakerIgnoresRedirects(t *testing.T) {
	cb := DefaultCircuitBreaker("a:1")
	redirect := func() (*messaging.Connection, error) {
		return nil, &messaging.RedirectError{Addresses: []string{"b:1"}}
	}

	for range 5 {
		_, err := cb.Execute(redirect)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Zero(t, cb.Counts().TotalFailures)
}
