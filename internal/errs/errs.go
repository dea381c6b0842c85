// Package errs defines the error taxonomy shared by the query compiler and
// service layers. Validation errors are caller-input problems (4xx), config
// errors are schema/programming mistakes (5xx), not-found is a non-exceptional
// lookup miss.
package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel matched by errors.Is for lookup misses.
var ErrNotFound = errors.New("crudsql: entity not found")

// ValidationError reports malformed caller input: unknown operators, wrong
// arity, unresolvable field or relation paths, duplicate aggregate aliases.
type ValidationError struct {
	Field string // offending field or dotted relation path
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("crudsql: %s", e.Msg)
	}
	return fmt.Sprintf("crudsql: %s: %s", e.Field, e.Msg)
}

// Validation returns a ValidationError naming the offending field or path.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ConfigError reports a schema or programming mistake: missing entity
// metadata, relation recursion past the maximum depth, invalid cardinality
// state. These are not expected in correctly configured deployments.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("crudsql: configuration: %s", e.Msg)
}

// Config returns a ConfigError.
func Config(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}

// NotFoundError is raised by orFail lookups that match no row.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("crudsql: %s not found (id=%v)", e.Entity, e.ID)
	}
	return fmt.Sprintf("crudsql: %s not found", e.Entity)
}

// Is lets errors.Is(err, ErrNotFound) match a NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// NotFound returns a NotFoundError for the given entity and lookup id.
func NotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}
