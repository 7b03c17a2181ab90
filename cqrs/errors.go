package cqrs

import (
	"errors"
	"fmt"
)

// CommandErrorKind classifies a CommandError
type CommandErrorKind int

const (
	CommandExecutionFailed CommandErrorKind = iota + 1
	CommandHandlerNotFound
	CommandValidationError
	CommandBusinessRuleViolation
)

func (k CommandErrorKind) String() string {
	switch k {
	case CommandExecutionFailed:
		return "command execution failed"
	case CommandHandlerNotFound:
		return "command handler not found"
	case CommandValidationError:
		return "command validation error"
	case CommandBusinessRuleViolation:
		return "business rule violation"
	default:
		return "unknown command error"
	}
}

// CommandError is returned by the CommandBus.
type CommandError struct {
	Kind   CommandErrorKind
	Reason string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is matches any *CommandError of the same kind, so the Err* sentinels work with errors.Is.
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Command error sentinels for errors.Is
var (
	ErrCommandExecutionFailed = &CommandError{Kind: CommandExecutionFailed}
	ErrCommandHandlerNotFound = &CommandError{Kind: CommandHandlerNotFound}
	ErrCommandValidation      = &CommandError{Kind: CommandValidationError}
	ErrCommandBusinessRule    = &CommandError{Kind: CommandBusinessRuleViolation}
)

// ValidationError is returned by command handlers that reject malformed input
func ValidationError(reason string) error {
	return &CommandError{Kind: CommandValidationError, Reason: reason}
}

// BusinessRuleViolation is returned by command handlers when a domain rule forbids the command
func BusinessRuleViolation(reason string) error {
	return &CommandError{Kind: CommandBusinessRuleViolation, Reason: reason}
}

// QueryErrorKind classifies a QueryError
type QueryErrorKind int

const (
	QueryExecutionFailed QueryErrorKind = iota + 1
	QueryHandlerNotFound
	QueryNotFound
	QueryInvalidParameters
)

func (k QueryErrorKind) String() string {
	switch k {
	case QueryExecutionFailed:
		return "query execution failed"
	case QueryHandlerNotFound:
		return "query handler not found"
	case QueryNotFound:
		return "not found"
	case QueryInvalidParameters:
		return "invalid parameters"
	default:
		return "unknown query error"
	}
}

// QueryError is returned by the QueryBus.
type QueryError struct {
	Kind   QueryErrorKind
	Reason string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is matches any *QueryError of the same kind.
func (e *QueryError) Is(target error) bool {
	t, ok := target.(*QueryError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// Query error sentinels for errors.Is
var (
	ErrQueryExecutionFailed  = &QueryError{Kind: QueryExecutionFailed}
	ErrQueryHandlerNotFound  = &QueryError{Kind: QueryHandlerNotFound}
	ErrQueryNotFound         = &QueryError{Kind: QueryNotFound}
	ErrQueryInvalidParameter = &QueryError{Kind: QueryInvalidParameters}
)

// NotFound is returned by query handlers when the requested read model entry does not exist
func NotFound(reason string) error {
	return &QueryError{Kind: QueryNotFound, Reason: reason}
}

// InvalidParameters is returned by query handlers that reject their parameters
func InvalidParameters(reason string) error {
	return &QueryError{Kind: QueryInvalidParameters, Reason: reason}
}

// toCommandError classifies an error returned by a command handler. HandlerNotFound is
// reserved for a failed lookup of the dispatched command, so a handler's own not-found
// (from a nested dispatch, say) becomes ExecutionFailed.
func toCommandError(err error) error {
	var ce *CommandError
	if errors.As(err, &ce) && ce.Kind != CommandHandlerNotFound {
		return err
	}
	return &CommandError{Kind: CommandExecutionFailed, Reason: err.Error(), Err: err}
}

func toQueryError(err error) error {
	var qe *QueryError
	if errors.As(err, &qe) && qe.Kind != QueryHandlerNotFound {
		return err
	}
	return &QueryError{Kind: QueryExecutionFailed, Reason: err.Error(), Err: err}
}
