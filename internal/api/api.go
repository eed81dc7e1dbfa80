// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package api maps pipeline errors onto transport status codes and
// implements the publish endpoint's request/response framing.
package api

import (
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/crateworks/registry/internal/auth"
	"github.com/crateworks/registry/internal/publish"
)

// AsStatus creates a gRPC status with the given code and error message.
func AsStatus(code codes.Code, err error) error {
	return status.New(code, err.Error()).Err()
}

var grpcToHTTP = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.FailedPrecondition: http.StatusBadRequest,
	codes.OutOfRange:         http.StatusBadRequest,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.Unauthenticated:    http.StatusUnauthorized,
}

// HTTPStatus resolves a status error to its HTTP equivalent.
func HTTPStatus(err error) int {
	s, ok := grpcToHTTP[status.Convert(err).Code()]
	if !ok {
		return http.StatusInternalServerError
	}
	return s
}

var classToCode = map[publish.Class]codes.Code{
	publish.ClassValidation:           codes.InvalidArgument,
	publish.ClassRights:               codes.PermissionDenied,
	publish.ClassRateLimit:            codes.ResourceExhausted,
	publish.ClassSizeLimit:            codes.OutOfRange,
	publish.ClassConflict:             codes.AlreadyExists,
	publish.ClassDependencyResolution: codes.FailedPrecondition,
}

// ClassifyPublishError buckets a publish failure into a status error.
// Authorization failures become Unauthenticated; anything without a
// user-facing class is Internal.
func ClassifyPublishError(err error) error {
	if pe, ok := publish.AsError(err); ok {
		code, known := classToCode[pe.Class]
		if !known {
			code = codes.Unknown
		}
		return AsStatus(code, pe)
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		return AsStatus(codes.Unauthenticated, err)
	}
	return AsStatus(codes.Internal, err)
}
