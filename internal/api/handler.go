// Copyright 2025 The Crateworks Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/crateworks/registry/internal/publish"
)

// errorBody is the error payload shape the publishing client expects.
type errorBody struct {
	Errors []errorDetail `json:"errors"`
}

type errorDetail struct {
	Detail string `json:"detail"`
}

// PublishHandler serves the crate-publish route. For compatibility
// with existing client tooling, failures attributable to the upload
// (validation, rights, limits, conflicts) are reported as HTTP 200
// with an error-shaped body; infrastructure failures surface as 5xx
// without leaking internal detail.
func PublishHandler(p *publish.Publisher, maxBody int64) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBody))
		if err != nil {
			writeCargoError(rw, "request body too large or unreadable")
			return
		}
		good, err := p.Publish(r.Context(), r.Header.Get("Authorization"), body)
		if err != nil {
			st := ClassifyPublishError(err)
			switch status.Convert(st).Code() {
			case codes.Internal:
				log.Println(errors.Wrap(err, "publish failed"))
				http.Error(rw, "internal server error", http.StatusInternalServerError)
			case codes.Unauthenticated:
				writeJSON(rw, http.StatusForbidden, errorBody{Errors: []errorDetail{{Detail: status.Convert(st).Message()}}})
			default:
				writeCargoError(rw, status.Convert(st).Message())
			}
			return
		}
		writeJSON(rw, http.StatusOK, good)
	}
}

func writeCargoError(rw http.ResponseWriter, detail string) {
	writeJSON(rw, http.StatusOK, errorBody{Errors: []errorDetail{{Detail: detail}}})
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Println(errors.Wrap(err, "encoding response"))
	}
}
