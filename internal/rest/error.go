// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pbinitiative/zenflow/internal/log"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
)

const (
	ErrorTypeBadRequest = "BAD_REQUEST"
	ErrorTypeNotFound   = "NOT_FOUND"
	ErrorTypeConflict   = "CONFLICT"
	ErrorTypeValidation = "VALIDATION"
	ErrorTypeError      = "ERROR"
)

type ApiError struct {
	Message  string   `json:"message"`
	Type     string   `json:"type"`
	Problems []string `json:"problems,omitempty"`
}

// apiErrorFrom maps the typed engine errors to a status code and response body.
func apiErrorFrom(err error) (int, ApiError) {
	var (
		notFound        *bpmn.WorkflowNotFoundError
		bookmarkMissing *bpmn.WorkflowBookmarkNotFoundError
		jobNotFound     *bpmn.JobNotFoundError
		invalidState    *bpmn.WorkflowInvalidStateError
		validationErr   *model.ValidationError
		engineErr       *bpmn.BpmnEngineError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &bookmarkMissing), errors.As(err, &jobNotFound):
		return http.StatusNotFound, ApiError{Message: err.Error(), Type: ErrorTypeNotFound}
	case errors.As(err, &invalidState), errors.Is(err, bpmn.ErrInstanceLocked):
		return http.StatusConflict, ApiError{Message: err.Error(), Type: ErrorTypeConflict}
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, ApiError{Message: validationErr.Msg, Type: ErrorTypeValidation, Problems: validationErr.Problems}
	case errors.As(err, &engineErr):
		return http.StatusBadRequest, ApiError{Message: err.Error(), Type: ErrorTypeBadRequest}
	}
	return http.StatusInternalServerError, ApiError{Message: err.Error(), Type: ErrorTypeError}
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := apiErrorFrom(err)
	if status == http.StatusInternalServerError {
		log.Errorf(r.Context(), "Request %s %s failed: %s", r.Method, r.URL.Path, err)
	}
	writeError(w, r, status, body)
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadRequest, ApiError{Message: err.Error(), Type: ErrorTypeBadRequest})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, resp interface{}) {
	writeJSON(w, r, status, resp)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, resp interface{}) {
	body, err := json.Marshal(resp)
	if err != nil {
		log.Errorf(r.Context(), "Server error: %s", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
