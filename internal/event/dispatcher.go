package event

import (
	"context"
	"log"
)

// Handler consumes one envelope. Implementations must be idempotent:
// delivery is at-least-once and redelivery of a processed envelope has to
// land in the same state.
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Dispatcher routes envelopes to one handler per event type. Unknown
// types are logged and dropped so old consumers survive new producers.
type Dispatcher struct {
	handlers map[Type]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[Type]Handler{}}
}

func (d *Dispatcher) Register(t Type, h Handler) {
	d.handlers[t] = h
}

func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	h, ok := d.handlers[env.Type]
	if !ok {
		log.Printf("[events] no handler for type=%s id=%s, dropping", env.Type, env.ID)
		return nil
	}
	return h.Handle(ctx, env)
}
