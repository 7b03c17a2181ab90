package cqrs

import (
	"context"
	"reflect"
)

// CommandHandler handles commands of type C and produces a result of type R.
// A handler is shared across concurrent dispatches and must be safe for reentrant use.
type CommandHandler[C any, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

// CommandHandlerFunc adapts a function to a CommandHandler
type CommandHandlerFunc[C any, R any] func(ctx context.Context, cmd C) (R, error)

// Handle implements CommandHandler
func (f CommandHandlerFunc[C, R]) Handle(ctx context.Context, cmd C) (R, error) {
	return f(ctx, cmd)
}

// CommandBus routes write-intent messages to their handler.
type CommandBus struct {
	dispatcher
}

// NewCommandBus creates a CommandBus with its own registry unless WithRegistry is given
func NewCommandBus(opts ...Option) *CommandBus {
	return &CommandBus{dispatcher: newDispatcher("command", opts)}
}

// Register stores h as the handler for key, replacing any earlier handler.
func (b *CommandBus) Register(key reflect.Type, h HandlerFunc) {
	b.registry.Register(key, h)
}

// Registered reports whether a handler exists for key
func (b *CommandBus) Registered(key reflect.Type) bool {
	return b.registry.Registered(key)
}

// Execute passes cmd to the handler registered for key. Every failure is a *CommandError.
func (b *CommandBus) Execute(ctx context.Context, key reflect.Type, cmd any) (any, error) {
	out, found, err := b.execute(ctx, key, cmd)
	if !found {
		return nil, &CommandError{Kind: CommandHandlerNotFound, Reason: keyName(key), Err: ErrHandlerNotFound}
	}
	if err != nil {
		return nil, toCommandError(err)
	}
	return out, nil
}

// RegisterCommand registers h for commands of type C.
// C may be an interface: Dispatch reaches h when its command argument has that static
// type, e.g. Dispatch[R](ctx, bus, Notifier(n)). A concrete value passed as itself is
// looked up under its own type.
func RegisterCommand[C any, R any](bus *CommandBus, h CommandHandler[C, R]) {
	bus.Register(KeyFor[C](), erase[C, R](h.Handle))
}

// Dispatch executes cmd on bus and returns its result as R.
// R is usually given explicitly while C is inferred: Dispatch[string](ctx, bus, CreateUser{...}).
func Dispatch[R any, C any](ctx context.Context, bus *CommandBus, cmd C) (R, error) {
	var zero R
	out, err := bus.Execute(ctx, dispatchKey(bus.registry, cmd), cmd)
	if err != nil {
		return zero, err
	}
	r, err := narrow[R](out)
	if err != nil {
		return zero, toCommandError(err)
	}
	return r, nil
}
