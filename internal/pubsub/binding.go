package pubsub

import "fmt"

// AckMode selects how handling outcomes are acknowledged to the broker.
type AckMode int

const (
	// AtLeastOnce acks on success and nacks on failure.
	AtLeastOnce AckMode = iota
	// ExactlyOnce requests an ack commitment up front, confirms it on success and
	// cancels it on failure.
	ExactlyOnce
)

func (m AckMode) String() string {
	switch m {
	case AtLeastOnce:
		return "at_least_once"
	case ExactlyOnce:
		return "exactly_once"
	default:
		return fmt.Sprintf("AckMode(%d)", int(m))
	}
}

// Binding attaches a handler to a subscription. Bindings are values and are
// never mutated after registration.
type Binding struct {
	// Name is the subscription name or full path and the registry key.
	Name string
	// Topic, when set, creates the subscription against this topic before streaming.
	Topic   string
	Handler Handler
	AckMode AckMode
}

// Validate reports malformed bindings.
func (b Binding) Validate() error {
	if b.Name == "" {
		return NewConfigurationError(ErrEmptyName, "")
	}
	if !b.Handler.Valid() {
		return NewConfigurationError(ErrUnsupportedHandler, "binding "+b.Name+" has no handler")
	}
	if b.AckMode != AtLeastOnce && b.AckMode != ExactlyOnce {
		return NewConfigurationError(ErrConfiguration, fmt.Sprintf("binding %s has unknown ack mode %d", b.Name, int(b.AckMode)))
	}
	return nil
}
