package eventsourcing

import "fmt"

// AggregateErrorKind classifies an AggregateError
type AggregateErrorKind int

const (
	EventApplicationFailed AggregateErrorKind = iota + 1
	InvalidStateTransition
	NotFound
	VersionConflict
	SerializationError
)

func (k AggregateErrorKind) String() string {
	switch k {
	case EventApplicationFailed:
		return "event application failed"
	case InvalidStateTransition:
		return "invalid state transition"
	case NotFound:
		return "aggregate not found"
	case VersionConflict:
		return "version conflict"
	case SerializationError:
		return "serialization error"
	default:
		return "unknown aggregate error"
	}
}

// AggregateError is returned by aggregates and the Repository.
// Expected and Actual are only set for VersionConflict.
type AggregateError struct {
	Kind     AggregateErrorKind
	Reason   string
	Expected uint64
	Actual   uint64
	Err      error
}

func (e *AggregateError) Error() string {
	if e.Kind == VersionConflict {
		return fmt.Sprintf("%s: expected %d, actual %d", e.Kind, e.Expected, e.Actual)
	}
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *AggregateError) Unwrap() error {
	return e.Err
}

// Is matches any *AggregateError of the same kind
func (e *AggregateError) Is(target error) bool {
	t, ok := target.(*AggregateError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Aggregate error sentinels for errors.Is
var (
	ErrEventApplicationFailed = &AggregateError{Kind: EventApplicationFailed}
	ErrInvalidStateTransition = &AggregateError{Kind: InvalidStateTransition}
	ErrNotFound               = &AggregateError{Kind: NotFound}
	ErrVersionConflict        = &AggregateError{Kind: VersionConflict}
	ErrSerialization          = &AggregateError{Kind: SerializationError}
)

// ApplyFailed is returned by ApplyEvent for an event the aggregate cannot fold
func ApplyFailed(format string, args ...any) error {
	return &AggregateError{Kind: EventApplicationFailed, Reason: fmt.Sprintf(format, args...)}
}

// InvalidTransition is returned by command logic when the current state forbids a change
func InvalidTransition(format string, args ...any) error {
	return &AggregateError{Kind: InvalidStateTransition, Reason: fmt.Sprintf(format, args...)}
}
