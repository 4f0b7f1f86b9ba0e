// Package apperr holds the error taxonomy shared by every layer of the service.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
)

// Kind is the stable, client-visible classification of an error.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindInternal        Kind = "internal"
)

// KindOf classifies err. Anything outside the taxonomy is internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// ValidationError carries per-field messages. It matches ErrInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

// Invalid builds a ValidationError from field/message pairs.
func Invalid(field, msg string, more ...string) *ValidationError {
	v := &ValidationError{Fields: map[string]string{field: msg}}
	for i := 0; i+1 < len(more); i += 2 {
		v.Fields[more[i]] = more[i+1]
	}
	return v
}

// Add records another field problem and returns v for chaining.
func (v *ValidationError) Add(field, msg string) *ValidationError {
	if v.Fields == nil {
		v.Fields = map[string]string{}
	}
	v.Fields[field] = msg
	return v
}

// OrNil returns nil when no field problem was recorded.
func (v *ValidationError) OrNil() error {
	if v == nil || len(v.Fields) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(parts, "; "))
}

func (v *ValidationError) Unwrap() error { return ErrInvalidInput }

// Details returns the per-field messages attached to err, if any.
func Details(err error) map[string]string {
	var v *ValidationError
	if errors.As(err, &v) && len(v.Fields) > 0 {
		out := make(map[string]string, len(v.Fields))
		for k, m := range v.Fields {
			out[k] = m
		}
		return out
	}
	return nil
}

// PublicMessage returns the text that may leave the process for err.
// Internal errors collapse to a fixed message.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindUnauthenticated:
		return "authentication required"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		var v *ValidationError
		if errors.As(err, &v) {
			return "invalid input"
		}
		return err.Error()
	case KindNotFound:
		return "not found"
	case KindConflict:
		return err.Error()
	default:
		return "internal error"
	}
}
