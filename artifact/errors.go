// Copyright 2023 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

// Package artifact implements the single-pass parser and verifier for
// Mender's v3 Artifact format: a tar-of-tars with per-entry checksum
// verification and a detached signature over the manifest.
package artifact

import "github.com/pkg/errors"

// Kind classifies an artifact error the way callers need to react to it,
// without tying them to a concrete error type.
type Kind int

const (
	// KindParse covers malformed version, manifest line, JSON, or entry
	// names.
	KindParse Kind = iota
	// KindIntegrity covers checksum mismatch, signature failure,
	// unexpected EOF, and trailing bytes.
	KindIntegrity
)

// Error is the error type returned by this package; it carries a Kind so
// callers can classify a failure without string matching.
type Error struct {
	kind Kind
	msg  string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return e.msg + ": " + e.wrapped.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

func (e *Error) Kind() Kind {
	return e.kind
}

func newParseError(format string, args ...interface{}) error {
	return &Error{kind: KindParse, msg: errors.Errorf(format, args...).Error()}
}

func newIntegrityError(format string, args ...interface{}) error {
	return &Error{kind: KindIntegrity, msg: errors.Errorf(format, args...).Error()}
}

func wrapParseError(err error, context string) error {
	return &Error{kind: KindParse, msg: context, wrapped: err}
}

// IsParseError reports whether err (or a cause it wraps) is a parse error.
func IsParseError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == KindParse
}

// IsIntegrityError reports whether err (or a cause it wraps) is an
// integrity error (checksum mismatch, signature failure, truncation).
func IsIntegrityError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.kind == KindIntegrity
}

// ErrTarExtraData is returned when bytes remain in the outer archive
// after the last expected entry has been consumed.
var ErrTarExtraData = newIntegrityError("unexpected data found after the last expected " +
	"Artifact entry")
