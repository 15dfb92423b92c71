// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

// Package parqerr defines the stable error kinds ParqueDB surfaces to callers.
package parqerr

import (
	"errors"
	"fmt"
)

// Kind is a stable, retry-predicate-friendly error identity.
type Kind string

const (
	KindNotFound         Kind = "NotFound"
	KindVersionMismatch  Kind = "VersionMismatchError"
	KindConcurrency      Kind = "ConcurrencyError"
	KindPreconditionFail Kind = "PreconditionFailed"
	KindCircuitOpen      Kind = "CircuitOpenError"
	KindAbort            Kind = "AbortError"
	KindInvalidInput     Kind = "InvalidInput"
	KindTransient        Kind = "TransientError"
	KindPermanent        Kind = "PermanentError"
)

// Error is the concrete error type every kind above is wrapped in.
type Error struct {
	Kind    Kind
	Message string
	Version int64 // populated for VersionMismatchError when known
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, parqerr.NotFound) work against a *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newKind(k Kind) *Error { return &Error{Kind: k} }

// Sentinel values usable with errors.Is.
var (
	NotFound         = newKind(KindNotFound)
	VersionMismatch  = newKind(KindVersionMismatch)
	Concurrency      = newKind(KindConcurrency)
	PreconditionFail = newKind(KindPreconditionFail)
	CircuitOpen      = newKind(KindCircuitOpen)
	Abort            = newKind(KindAbort)
	InvalidInput     = newKind(KindInvalidInput)
	Transient        = newKind(KindTransient)
	Permanent        = newKind(KindPermanent)
)

// New builds a new Error of the given kind with a formatted message.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a new Error of the given kind wrapping cause.
func Wrap(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithVersion attaches the caller's expected version to a VersionMismatchError.
func (e *Error) WithVersion(v int64) *Error {
	e.Version = v
	return e
}

// KindOf returns the Kind of err if it (or something it wraps) is a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is of the given kind.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

// Retryable is the default retry predicate: ConcurrencyError
// and VersionMismatchError are retryable by default, as is any error
// explicitly tagged TransientError. CircuitOpenError and AbortError are not.
func Retryable(err error) bool {
	switch k, ok := KindOf(err); {
	case !ok:
		return false
	case k == KindConcurrency, k == KindVersionMismatch, k == KindTransient:
		return true
	default:
		return false
	}
}
