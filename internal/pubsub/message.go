package pubsub

import "time"

// Message is the broker-independent view of a delivered message handed to handlers.
type Message struct {
	// ID is the broker-assigned message ID
	ID string
	// Data is the raw payload
	Data []byte
	// Attributes carries the message attributes, never nil for delivered messages
	Attributes map[string]string
	// PublishTime is when the broker accepted the message, zero if unknown
	PublishTime time.Time
	// DeliveryAttempt counts deliveries when the broker tracks it (dead lettering), zero otherwise
	DeliveryAttempt int
}

// Attribute returns the named attribute or "" when missing.
func (m *Message) Attribute(key string) string {
	if m == nil || m.Attributes == nil {
		return ""
	}
	return m.Attributes[key]
}

// String returns the payload as a string.
func (m *Message) String() string {
	if m == nil {
		return ""
	}
	return string(m.Data)
}
