package pubsub

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration           = errors.New("pubsub: configuration error")
	ErrEmptyName               = errors.New("pubsub: subscription name is required")
	ErrUnsupportedHandler      = errors.New("pubsub: unsupported handler signature")
	ErrNoSessionProvider       = errors.New("pubsub: handler requires a session but no session provider is configured")
	ErrAsyncSessionUnsupported = errors.New("pubsub: asynchronous handler requires an asynchronous session provider")
	ErrHandlerReturnedFalse    = errors.New("pubsub: handler returned false")
	ErrAlreadyExists           = errors.New("pubsub: resource already exists")
)

// ConfigurationError is a caller bug: it repeats for every message until the
// binding or the process configuration is fixed.
type ConfigurationError struct {
	Cause  error
	Detail string
}

// NewConfigurationError wraps cause with detail.
func NewConfigurationError(cause error, detail string) *ConfigurationError {
	return &ConfigurationError{Cause: cause, Detail: detail}
}

func (e *ConfigurationError) Error() string {
	if e.Detail == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%s: %s", e.Cause.Error(), e.Detail)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// Is makes every ConfigurationError match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// IsConfigurationError reports whether err is, or wraps, a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// HandlerError is a failure raised by user code: a returned error, a false
// result, or a recovered panic.
type HandlerError struct {
	Subscription string
	Cause        error
	Panic        any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler for %s panicked: %v", e.Subscription, e.Panic)
	}
	return fmt.Sprintf("handler for %s failed: %v", e.Subscription, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

// StartupError reports a failure while bringing up a subscription stream.
type StartupError struct {
	Subscription string
	Cause        error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("failed to start subscription %s: %v", e.Subscription, e.Cause)
}

func (e *StartupError) Unwrap() error { return e.Cause }

// TransportError reports a broker-side fault that ended a stream.
type TransportError struct {
	Subscription string
	Cause        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream for %s failed: %v", e.Subscription, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
