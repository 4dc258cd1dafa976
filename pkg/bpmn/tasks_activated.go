// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"maps"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

type taskResult int

const (
	taskResultNone taskResult = iota
	taskResultCompleted
	taskResultFailed
)

// activatedTask is handed to a registered task handler
type activatedTask struct {
	key             int64
	instanceKey     int64
	definitionId    string
	version         int
	activityId      string
	activityName    string
	taskType        string
	attempt         int
	createdAt       time.Time
	variables       runtime.VariableHolder
	outputVariables map[string]any

	result      taskResult
	failCode    string
	failMessage string
}

// ActivatedTask represents an abstraction for the activated task or job.
// Don't forget to call Fail or Complete when your handler is done.
// A handler returning without calling either leaves the task to be completed asynchronously.
type ActivatedTask interface {
	// Key the key, a unique identifier for the task. It is the job key for asynchronous tasks.
	Key() int64

	InstanceKey() int64

	DefinitionId() string

	Version() int

	ActivityId() string

	ActivityName() string

	// TaskType is the configured "type" of the activity
	TaskType() string

	// Variable from the instance's variable context
	Variable(key string) any

	GetLocalVariables() map[string]any

	// SetOutputVariable stores a value merged into the instance variables on Complete
	SetOutputVariable(key string, value any)

	GetOutputVariables() map[string]any

	// Attempt is 1 for the first execution and grows with every retry of a job
	Attempt() int

	CreatedAt() time.Time

	// Fail reports a business fault with the given code.
	// Fail and Complete mutual exclude each other
	Fail(code string, message string)

	// Complete the task with the output variables set so far.
	// Fail and Complete mutual exclude each other
	Complete()
}

func (at *activatedTask) Key() int64 {
	return at.key
}

func (at *activatedTask) InstanceKey() int64 {
	return at.instanceKey
}

func (at *activatedTask) DefinitionId() string {
	return at.definitionId
}

func (at *activatedTask) Version() int {
	return at.version
}

func (at *activatedTask) ActivityId() string {
	return at.activityId
}

func (at *activatedTask) ActivityName() string {
	return at.activityName
}

func (at *activatedTask) TaskType() string {
	return at.taskType
}

func (at *activatedTask) Variable(key string) any {
	return at.variables.GetVariable(key)
}

func (at *activatedTask) GetLocalVariables() map[string]any {
	return at.variables.LocalVariables()
}

func (at *activatedTask) SetOutputVariable(key string, value any) {
	at.outputVariables[key] = value
}

func (at *activatedTask) GetOutputVariables() map[string]any {
	return maps.Clone(at.outputVariables)
}

func (at *activatedTask) Attempt() int {
	return at.attempt
}

func (at *activatedTask) CreatedAt() time.Time {
	return at.createdAt
}

func (at *activatedTask) Fail(code string, message string) {
	if at.result != taskResultNone {
		return
	}
	if code == "" {
		code = FaultCodeJobFailed
	}
	at.result = taskResultFailed
	at.failCode = code
	at.failMessage = message
}

func (at *activatedTask) Complete() {
	if at.result != taskResultNone {
		return
	}
	at.result = taskResultCompleted
}
