package pubsub

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationError(t *testing.T) {
	err := NewConfigurationError(ErrNoSessionProvider, "orders")
	wrapped := fmt.Errorf("invoke: %w", err)

	assert.True(t, IsConfigurationError(wrapped))
	assert.ErrorIs(t, wrapped, ErrNoSessionProvider)
	assert.ErrorIs(t, wrapped, ErrConfiguration)
	assert.Equal(t, ErrNoSessionProvider.Error()+": orders", err.Error())
	assert.Equal(t, ErrAsyncSessionUnsupported.Error(), NewConfigurationError(ErrAsyncSessionUnsupported, "").Error())

	assert.False(t, IsConfigurationError(errors.New("business failure")))
	assert.False(t, IsConfigurationError(&HandlerError{Subscription: "orders", Cause: ErrHandlerReturnedFalse}))
}

func TestHandlerError(t *testing.T) {
	err := &HandlerError{Subscription: "orders", Cause: ErrHandlerReturnedFalse}
	assert.ErrorIs(t, err, ErrHandlerReturnedFalse)
	assert.Contains(t, err.Error(), "orders")

	panicked := &HandlerError{Subscription: "orders", Panic: "nil map"}
	assert.Contains(t, panicked.Error(), "panicked: nil map")
}

func TestStartupAndTransportErrorsUnwrap(t *testing.T) {
	cause := errors.New("not found")

	var startup *StartupError
	assert.ErrorAs(t, fmt.Errorf("run: %w", &StartupError{Subscription: "orders", Cause: cause}), &startup)
	assert.ErrorIs(t, startup, cause)

	var transport *TransportError
	assert.ErrorAs(t, fmt.Errorf("run: %w", &TransportError{Subscription: "orders", Cause: cause}), &transport)
	assert.ErrorIs(t, transport, cause)
}
