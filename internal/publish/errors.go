// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"fmt"

	"github.com/pkg/errors"
)

// Class buckets a publish failure for transport-level handling. Every
// class except internal failures carries an actionable message that is
// reported verbatim to the publishing client.
type Class int

const (
	// ClassValidation covers malformed names, versions, metadata,
	// licenses, URLs, features, and artifacts. Never mutates state.
	ClassValidation Class = iota
	// ClassRights means the caller authenticated but is not an owner.
	ClassRights
	// ClassRateLimit means the action is throttled.
	ClassRateLimit
	// ClassSizeLimit means the payload or its decompressed contents
	// exceed the effective cap.
	ClassSizeLimit
	// ClassConflict covers duplicate versions and reserved names.
	ClassConflict
	// ClassDependencyResolution means a dependency names a crate the
	// catalog does not know.
	ClassDependencyResolution
)

// Error is a user-facing publish failure. Internal failures (database,
// object store) are ordinary errors and must not leak detail; use
// AsError to distinguish.
type Error struct {
	Class  Class
	Detail string
}

func (e *Error) Error() string { return e.Detail }

// AsError extracts a user-facing publish error from err's chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}

func validationErrf(format string, args ...any) error {
	return &Error{Class: ClassValidation, Detail: fmt.Sprintf(format, args...)}
}

func rightsErr(detail string) error {
	return &Error{Class: ClassRights, Detail: detail}
}

func rateLimitErrf(format string, args ...any) error {
	return &Error{Class: ClassRateLimit, Detail: fmt.Sprintf(format, args...)}
}

func sizeLimitErrf(format string, args ...any) error {
	return &Error{Class: ClassSizeLimit, Detail: fmt.Sprintf(format, args...)}
}

func conflictErrf(format string, args ...any) error {
	return &Error{Class: ClassConflict, Detail: fmt.Sprintf(format, args...)}
}

func depResolutionErrf(format string, args ...any) error {
	return &Error{Class: ClassDependencyResolution, Detail: fmt.Sprintf(format, args...)}
}
