// Package uploaderr defines the user-facing error kinds of the uploader.
//
// Every error carries a short machine-checkable Kind plus a human-readable
// detail naming the offending file, sample or project. Errors compare equal
// under errors.Is when their kinds match, so callers can test
//
//	if errors.Is(err, uploaderr.ErrProjectNotFound) { ... }
package uploaderr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an uploader error.
type Kind string

const (
	KindSheet           Kind = "sheet"
	KindStructural      Kind = "structural"
	KindPairing         Kind = "pairing"
	KindSampleList      Kind = "sample_list"
	KindProjectNotFound Kind = "project_not_found"
	KindSampleNotFound  Kind = "sample_not_found"
	KindRemoteTransfer  Kind = "remote_transfer"
	KindAuth            Kind = "auth"
	KindRunLocked       Kind = "run_locked"
)

// AuthReason subdivides KindAuth errors.
type AuthReason string

const (
	AuthBadCredentials  AuthReason = "bad_credentials"
	AuthBadClientID     AuthReason = "bad_client_id"
	AuthBadClientSecret AuthReason = "bad_client_secret"
	AuthUnknown         AuthReason = "unknown"
)

// Error is the uploader's typed error.
type Error struct {
	Kind   Kind
	Detail string
	Err    error

	// AuthReason is set for KindAuth errors.
	AuthReason AuthReason

	// Uploaded lists the samples confirmed by the server before a run failed.
	Uploaded []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.AuthReason != "" {
		b.WriteString(" (" + string(e.AuthReason) + ")")
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Detail == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrSheet           = &Error{Kind: KindSheet}
	ErrStructural      = &Error{Kind: KindStructural}
	ErrPairing         = &Error{Kind: KindPairing}
	ErrSampleList      = &Error{Kind: KindSampleList}
	ErrProjectNotFound = &Error{Kind: KindProjectNotFound}
	ErrSampleNotFound  = &Error{Kind: KindSampleNotFound}
	ErrRemoteTransfer  = &Error{Kind: KindRemoteTransfer}
	ErrAuth            = &Error{Kind: KindAuth}
	ErrRunLocked       = &Error{Kind: KindRunLocked}
)

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UploadedSamples returns the partial-success list carried by err, if any.
func UploadedSamples(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Uploaded
	}
	return nil
}
