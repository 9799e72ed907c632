package pubsub

import (
	"context"
	"fmt"
)

// Supported handler shapes. Bool results are treated like errors: false fails the message.
type (
	HandlerFunc          func(msg *Message) error
	BoolHandlerFunc      func(msg *Message) bool
	SessionHandlerFunc   func(msg *Message, s Scope) error
	BoolSessionHandler   func(msg *Message, s Scope) bool
	AsyncHandlerFunc     func(ctx context.Context, msg *Message) error
	AsyncBoolHandlerFunc func(ctx context.Context, msg *Message) bool
	AsyncSessionHandler  func(ctx context.Context, msg *Message, s AsyncScope) error
	AsyncBoolSession     func(ctx context.Context, msg *Message, s AsyncScope) bool
)

// HandlerKind is the execution classification computed once at registration.
type HandlerKind int

const (
	KindSync HandlerKind = iota
	KindSyncSession
	KindAsync
	KindAsyncSession
)

func (k HandlerKind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindSyncSession:
		return "sync_session"
	case KindAsync:
		return "async"
	case KindAsyncSession:
		return "async_session"
	default:
		return fmt.Sprintf("HandlerKind(%d)", int(k))
	}
}

// Handler is a classified, immutable handler. The zero value is not usable.
type Handler struct {
	kind  HandlerKind
	sync  func(*Message, Scope) error
	async func(context.Context, *Message, AsyncScope) error
}

// NewHandler classifies fn. Anything other than the supported shapes is a
// configuration error.
func NewHandler(fn any) (Handler, error) {
	switch f := fn.(type) {
	case nil:
		return Handler{}, NewConfigurationError(ErrUnsupportedHandler, "handler is nil")
	case HandlerFunc:
		return NewHandler((func(*Message) error)(f))
	case BoolHandlerFunc:
		return NewHandler((func(*Message) bool)(f))
	case SessionHandlerFunc:
		return NewHandler((func(*Message, Scope) error)(f))
	case BoolSessionHandler:
		return NewHandler((func(*Message, Scope) bool)(f))
	case AsyncHandlerFunc:
		return NewHandler((func(context.Context, *Message) error)(f))
	case AsyncBoolHandlerFunc:
		return NewHandler((func(context.Context, *Message) bool)(f))
	case AsyncSessionHandler:
		return NewHandler((func(context.Context, *Message, AsyncScope) error)(f))
	case AsyncBoolSession:
		return NewHandler((func(context.Context, *Message, AsyncScope) bool)(f))

	case func(*Message) error:
		if f == nil {
			break
		}
		return Handler{kind: KindSync, sync: func(m *Message, _ Scope) error { return f(m) }}, nil
	case func(*Message) bool:
		if f == nil {
			break
		}
		return Handler{kind: KindSync, sync: func(m *Message, _ Scope) error { return boolResult(f(m)) }}, nil
	case func(*Message, Scope) error:
		if f == nil {
			break
		}
		return Handler{kind: KindSyncSession, sync: f}, nil
	case func(*Message, Scope) bool:
		if f == nil {
			break
		}
		return Handler{kind: KindSyncSession, sync: func(m *Message, s Scope) error { return boolResult(f(m, s)) }}, nil
	case func(context.Context, *Message) error:
		if f == nil {
			break
		}
		return Handler{kind: KindAsync, async: func(ctx context.Context, m *Message, _ AsyncScope) error { return f(ctx, m) }}, nil
	case func(context.Context, *Message) bool:
		if f == nil {
			break
		}
		return Handler{kind: KindAsync, async: func(ctx context.Context, m *Message, _ AsyncScope) error { return boolResult(f(ctx, m)) }}, nil
	case func(context.Context, *Message, AsyncScope) error:
		if f == nil {
			break
		}
		return Handler{kind: KindAsyncSession, async: f}, nil
	case func(context.Context, *Message, AsyncScope) bool:
		if f == nil {
			break
		}
		return Handler{kind: KindAsyncSession, async: func(ctx context.Context, m *Message, s AsyncScope) error {
			return boolResult(f(ctx, m, s))
		}}, nil
	default:
		return Handler{}, NewConfigurationError(ErrUnsupportedHandler, fmt.Sprintf("%T", fn))
	}

	return Handler{}, NewConfigurationError(ErrUnsupportedHandler, "handler is nil")
}

func boolResult(ok bool) error {
	if !ok {
		return ErrHandlerReturnedFalse
	}
	return nil
}

// Kind returns the handler classification.
func (h Handler) Kind() HandlerKind { return h.kind }

// NeedsSession reports whether the handler declared a session parameter.
func (h Handler) NeedsSession() bool {
	return h.kind == KindSyncSession || h.kind == KindAsyncSession
}

// Async reports whether the handler is context-aware.
func (h Handler) Async() bool {
	return h.kind == KindAsync || h.kind == KindAsyncSession
}

// Valid reports whether h came from NewHandler.
func (h Handler) Valid() bool {
	return h.sync != nil || h.async != nil
}

// CallSync invokes a sync handler. s is nil for handlers without a session.
func (h Handler) CallSync(msg *Message, s Scope) error {
	if h.sync == nil {
		return NewConfigurationError(ErrUnsupportedHandler, "handler is not synchronous")
	}
	return h.sync(msg, s)
}

// CallAsync invokes an async handler. s is nil for handlers without a session.
func (h Handler) CallAsync(ctx context.Context, msg *Message, s AsyncScope) error {
	if h.async == nil {
		return NewConfigurationError(ErrUnsupportedHandler, "handler is not asynchronous")
	}
	return h.async(ctx, msg, s)
}
