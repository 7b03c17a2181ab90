// Package cqrs dispatches commands and queries to handlers registered per message type.
package cqrs

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
)

var (
	// ErrHandlerNotFound is returned by Registry.Execute when no handler is registered for a key
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrTypeMismatch is returned when a handler receives a message of the wrong runtime type
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrResultTypeMismatch is returned when a handler result is not of the declared result type
	ErrResultTypeMismatch = errors.New("result type mismatch")
)

// HandlerFunc is the type-erased form every handler is stored as.
type HandlerFunc func(ctx context.Context, msg any) (any, error)

// Registry maps a message type to exactly one handler.
// It is safe for concurrent registration and lookup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]HandlerFunc
}

// NewRegistry returns an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: map[reflect.Type]HandlerFunc{},
	}
}

// Register stores h for key. A later registration for the same key replaces the earlier one.
func (r *Registry) Register(key reflect.Type, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = h
}

// Registered reports whether a handler exists for key
func (r *Registry) Registered(key reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[key]
	return ok
}

// Keys returns the registered message types, sorted by name.
func (r *Registry) Keys() []reflect.Type {
	r.mu.RLock()
	keys := make([]reflect.Type, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Execute looks up the handler for key and invokes it with msg.
// The handler runs outside the registry lock.
func (r *Registry) Execute(ctx context.Context, key reflect.Type, msg any) (any, error) {
	h, ok := r.lookup(key)
	if !ok {
		return nil, ErrHandlerNotFound
	}
	return h(ctx, msg)
}

func (r *Registry) lookup(key reflect.Type) (HandlerFunc, bool) {
	if key == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[key]
	return h, ok
}

// dispatchKey picks the key a message of static type M is dispatched under.
// A handler registered for an interface type M is found first; otherwise the
// dynamic type of msg decides.
func dispatchKey[M any](r *Registry, msg M) reflect.Type {
	static := KeyFor[M]()
	if static.Kind() != reflect.Interface || r.Registered(static) {
		return static
	}
	return KeyOf(msg)
}

// KeyOf returns the registry key for the dynamic type of msg. A nil msg has a nil key.
func KeyOf(msg any) reflect.Type {
	return reflect.TypeOf(msg)
}

// KeyFor returns the registry key for the static type T
func KeyFor[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// erase wraps a typed handler so it can be stored in a Registry.
func erase[M any, R any](fn func(ctx context.Context, msg M) (R, error)) HandlerFunc {
	return func(ctx context.Context, msg any) (any, error) {
		typed, ok := msg.(M)
		if !ok {
			return nil, ErrTypeMismatch
		}
		return fn(ctx, typed)
	}
}

// narrow converts a type-erased result back to R.
func narrow[R any](out any) (R, error) {
	var zero R
	if out == nil {
		if nillable(reflect.TypeFor[R]()) {
			return zero, nil
		}
		return zero, ErrResultTypeMismatch
	}
	r, ok := out.(R)
	if !ok {
		return zero, ErrResultTypeMismatch
	}
	return r, nil
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}
