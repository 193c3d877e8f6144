// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package errs implements the structured error taxonomy used across tsim
// (spec §7): every error surfaced past a component boundary carries a Kind
// so callers can classify failures without string matching.
package errs

import (
	stderrors "errors"
	"fmt"
)

// Kind categorizes an error per the taxonomy in spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindInternal
	KindValidation
	KindFactInvalid        // malformed or missing required fields in a fact document
	KindSetupPartial       // topology realization failed mid-way; rollback attempted
	KindLockTimeout        // a bounded lock acquisition failed
	KindPathLoop           // forwarding simulation revisited a (router, out-interface) pair
	KindPathBlackhole      // forwarding simulation found no matching route
	KindNamespaceOp        // an underlying ip/iptables/ipset/nsenter invocation failed
	KindRegistryCorruption // a registry file failed to parse even after one retry
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindValidation:
		return "validation"
	case KindFactInvalid:
		return "fact_invalid"
	case KindSetupPartial:
		return "setup_partial"
	case KindLockTimeout:
		return "lock_timeout"
	case KindPathLoop:
		return "path_loop"
	case KindPathBlackhole:
		return "path_blackhole"
	case KindNamespaceOp:
		return "namespace_op"
	case KindRegistryCorruption:
		return "registry_corruption"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is the structured error type threaded through every component.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Attributes map[string]any
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Underlying }

// New creates an Error of the given Kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates an Error of the given Kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err as an Error of the given Kind. Returns nil if err is nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// Attr attaches an attribute to err's chain, wrapping non-*Error values as KindInternal.
func Attr(err error, key string, val any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !stderrors.As(err, &e) {
		e = &Error{Kind: KindInternal, Message: err.Error(), Underlying: err}
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = val
	return e
}

// GetKind returns the Kind of err, or KindUnknown if err is not (or does not wrap) an *Error.
func GetKind(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// GetAttributes collects attributes from every *Error in err's chain, innermost losing ties.
func GetAttributes(err error) map[string]any {
	attrs := make(map[string]any)
	cur := err
	for cur != nil {
		var e *Error
		if !stderrors.As(cur, &e) {
			break
		}
		for k, v := range e.Attributes {
			if _, ok := attrs[k]; !ok {
				attrs[k] = v
			}
		}
		cur = e.Underlying
	}
	return attrs
}

func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Unwrap(err error) error { return stderrors.Unwrap(err) }

// Sentinel control-flow values. Per spec §7 these are never wrapped as *Error:
// they are expected outcomes of Get(), not failures.
var (
	ErrCacheMiss  = stderrors.New("cache miss")
	ErrCacheStale = stderrors.New("cache stale")
)
