// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"errors"
	"fmt"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// ErrInstanceLocked is returned when the instance lock could not be acquired within the configured retries.
// Another caller is advancing the instance, the operation can be retried later.
var ErrInstanceLocked = errors.New("workflow instance is locked by another operation")

type BpmnEngineError struct {
	Msg string
}

func (e *BpmnEngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &BpmnEngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

type WorkflowNotFoundError struct {
	DefinitionId string
	InstanceKey  int64
}

func (e *WorkflowNotFoundError) Error() string {
	if e.DefinitionId != "" {
		return fmt.Sprintf("workflow %s not found", e.DefinitionId)
	}
	return fmt.Sprintf("workflow instance %d not found", e.InstanceKey)
}

type JobNotFoundError struct {
	JobKey int64
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job %d not found", e.JobKey)
}

type WorkflowBookmarkNotFoundError struct {
	InstanceKey  int64
	BookmarkName string
}

func (e *WorkflowBookmarkNotFoundError) Error() string {
	if e.InstanceKey == 0 {
		return fmt.Sprintf("no workflow instance waits on bookmark %s", e.BookmarkName)
	}
	return fmt.Sprintf("workflow instance %d has no bookmark %s", e.InstanceKey, e.BookmarkName)
}

type WorkflowInvalidStateError struct {
	InstanceKey int64
	Status      runtime.InstanceStatus
	Operation   string
}

func (e *WorkflowInvalidStateError) Error() string {
	return fmt.Sprintf("can not %s workflow instance %d in status %s", e.Operation, e.InstanceKey, e.Status)
}

// ActivityFaultError is a business fault raised by an activity, it is routed to the error handlers of the activity.
type ActivityFaultError struct {
	Code    string
	Message string
}

func (e *ActivityFaultError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type ExpressionEvaluationError struct {
	Msg string
	Err error
}

func (e *ExpressionEvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + "\nerror: " + e.Err.Error()
	}
	return e.Msg
}

func (e *ExpressionEvaluationError) Unwrap() error {
	return e.Err
}

const (
	FaultCodeExpression     = "EXPRESSION_ERROR"
	FaultCodeNoMatchingPath = "NO_MATCHING_PATH"
	FaultCodeHandlerPanic   = "HANDLER_PANIC"
	FaultCodeJobFailed      = "JOB_FAILED"
	FaultCodeInvalidConfig  = "INVALID_CONFIGURATION"
)

// asActivityFault converts errors raised while executing an activity into a fault code and message.
// Errors that are not activity faults are infrastructure errors and are returned to the caller.
func asActivityFault(err error) (string, string, bool) {
	var faultErr *ActivityFaultError
	if errors.As(err, &faultErr) {
		return faultErr.Code, faultErr.Message, true
	}
	var expressionErr *ExpressionEvaluationError
	if errors.As(err, &expressionErr) {
		return FaultCodeExpression, expressionErr.Error(), true
	}
	return "", "", false
}
