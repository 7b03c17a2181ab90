package cqrs

import (
	"context"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const tracerName = "github.com/cannahum/eventsourcing-lite/cqrs"

// Option configures a CommandBus or QueryBus
type Option func(*dispatcher)

// WithLogger sets the logger used to report dispatches and failures
func WithLogger(logger *zap.Logger) Option {
	return func(d *dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTracer wraps every dispatch in a span started from tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(d *dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithRegistry makes the bus use an existing registry instead of a new one
func WithRegistry(r *Registry) Option {
	return func(d *dispatcher) {
		if r != nil {
			d.registry = r
		}
	}
}

// dispatcher is the part shared by the command and query buses.
type dispatcher struct {
	kind     string
	registry *Registry
	logger   *zap.Logger
	tracer   trace.Tracer
}

func newDispatcher(kind string, opts []Option) dispatcher {
	d := dispatcher{
		kind:     kind,
		registry: NewRegistry(),
		logger:   zap.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&d)
	}
	d.logger = d.logger.With(zap.String("bus", kind))
	return d
}

// execute runs the handler of key. found is false only when no handler is registered for key,
// errors coming out of a handler always have found set.
func (d *dispatcher) execute(ctx context.Context, key reflect.Type, msg any) (out any, found bool, err error) {
	name := keyName(key)

	ctx, span := d.tracer.Start(ctx, d.kind+" "+name,
		trace.WithAttributes(
			attribute.String("cqrs.kind", d.kind),
			attribute.String("cqrs.message_type", name),
		),
	)
	defer span.End()

	d.logger.Debug("dispatching", zap.String("message_type", name))

	h, found := d.registry.lookup(key)
	if !found {
		err = ErrHandlerNotFound
	} else {
		out, err = h(ctx, msg)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("dispatch failed",
			zap.String("message_type", name),
			zap.Bool("handler_found", found),
			zap.Error(err),
		)
		return nil, found, err
	}
	return out, true, nil
}

func keyName(key reflect.Type) string {
	if key == nil {
		return "<nil>"
	}
	return key.String()
}
