package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DomainError is a business-rule violation. It is never retried; the
// offending rule and the values that tripped it travel to the caller intact.
type DomainError struct {
	Rule    string
	Message string
	Details map[string]any
}

// NewDomainError creates a domain error for the given rule.
func NewDomainError(rule, message string, details map[string]any) DomainError {
	return DomainError{Rule: rule, Message: message, Details: details}
}

// Error implements the error interface.
func (e DomainError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Rule, e.Message)
	}

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return fmt.Sprintf("%s: %s (%s)", e.Rule, e.Message, strings.Join(pairs, " "))
}

// ConflictError is an optimistic-concurrency failure at append time: the
// event ID or the (aggregate, version) slot was already taken. The command
// service retries these from the reconstitution step.
type ConflictError struct {
	AggregateID string
	Version     int64
}

// NewConflictError creates a conflict error for the contested version slot.
func NewConflictError(aggregateID string, version int64) ConflictError {
	return ConflictError{AggregateID: aggregateID, Version: version}
}

// Error implements the error interface.
func (e ConflictError) Error() string {
	return fmt.Sprintf("append conflict on aggregate %q at version %d", e.AggregateID, e.Version)
}

// TransportError wraps network or store unavailability. The command service
// surfaces it untouched; the stream consumer backs off and retries.
type TransportError struct {
	Op    string
	Cause error
}

// NewTransportError wraps cause as a transport failure of the named store
// operation.
func NewTransportError(op string, cause error) TransportError {
	return TransportError{Op: op, Cause: cause}
}

// Error implements the error interface.
func (e TransportError) Error() string {
	return fmt.Sprintf("transport failure in %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e TransportError) Unwrap() error { return e.Cause }

// SerializationError means a stored or streamed record could not be decoded.
// Re-delivery would fail identically, so consumers log and skip the record.
type SerializationError struct {
	Reason string
	Cause  error
}

// NewSerializationError creates a serialization error.
func NewSerializationError(reason string, cause error) SerializationError {
	return SerializationError{Reason: reason, Cause: cause}
}

// Error implements the error interface.
func (e SerializationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("serialization: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("serialization: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e SerializationError) Unwrap() error { return e.Cause }

// ProjectionError means one projection target rejected an update. It is
// logged per target and never halts the stream consumer.
type ProjectionError struct {
	Target  string
	EventID string
	Cause   error
}

// NewProjectionError wraps a target failure for the given event.
func NewProjectionError(target, eventID string, cause error) ProjectionError {
	return ProjectionError{Target: target, EventID: eventID, Cause: cause}
}

// Error implements the error interface.
func (e ProjectionError) Error() string {
	return fmt.Sprintf("projection target %s failed for event %s: %v", e.Target, e.EventID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e ProjectionError) Unwrap() error { return e.Cause }

// IsDomainError reports whether err is (or wraps) a DomainError.
func IsDomainError(err error) bool {
	var de DomainError
	return errors.As(err, &de)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te TransportError
	return errors.As(err, &te)
}
