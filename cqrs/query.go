package cqrs

import (
	"context"
	"reflect"
)

// QueryHandler answers queries of type Q with a result of type R.
// Queries are expected to be read-only; nothing here enforces it.
type QueryHandler[Q any, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

// QueryHandlerFunc adapts a function to a QueryHandler
type QueryHandlerFunc[Q any, R any] func(ctx context.Context, query Q) (R, error)

// Handle implements QueryHandler
func (f QueryHandlerFunc[Q, R]) Handle(ctx context.Context, query Q) (R, error) {
	return f(ctx, query)
}

// QueryBus routes read-intent messages to their handler.
type QueryBus struct {
	dispatcher
}

// NewQueryBus creates a QueryBus
func NewQueryBus(opts ...Option) *QueryBus {
	return &QueryBus{dispatcher: newDispatcher("query", opts)}
}

// Register stores h as the handler for key, replacing any earlier handler.
func (b *QueryBus) Register(key reflect.Type, h HandlerFunc) {
	b.registry.Register(key, h)
}

// Registered reports whether a handler exists for key
func (b *QueryBus) Registered(key reflect.Type) bool {
	return b.registry.Registered(key)
}

// Execute passes query to the handler registered for key. Every failure is a *QueryError.
func (b *QueryBus) Execute(ctx context.Context, key reflect.Type, query any) (any, error) {
	out, found, err := b.execute(ctx, key, query)
	if !found {
		return nil, &QueryError{Kind: QueryHandlerNotFound, Reason: keyName(key), Err: ErrHandlerNotFound}
	}
	if err != nil {
		return nil, toQueryError(err)
	}
	return out, nil
}

// RegisterQuery registers h for queries of type Q. Interface types of Q follow the
// same rule as RegisterCommand.
func RegisterQuery[Q any, R any](bus *QueryBus, h QueryHandler[Q, R]) {
	bus.Register(KeyFor[Q](), erase[Q, R](h.Handle))
}

// Ask executes query on bus and returns its result as R
func Ask[R any, Q any](ctx context.Context, bus *QueryBus, query Q) (R, error) {
	var zero R
	out, err := bus.Execute(ctx, dispatchKey(bus.registry, query), query)
	if err != nil {
		return zero, err
	}
	r, err := narrow[R](out)
	if err != nil {
		return zero, toQueryError(err)
	}
	return r, nil
}
