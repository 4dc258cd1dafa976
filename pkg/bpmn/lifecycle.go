// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/statemachine"
)

type lifecycleTrigger string

const (
	triggerStart     lifecycleTrigger = "start"
	triggerSuspend   lifecycleTrigger = "suspend"
	triggerResume    lifecycleTrigger = "resume"
	triggerComplete  lifecycleTrigger = "complete"
	triggerFault     lifecycleTrigger = "fault"
	triggerCancel    lifecycleTrigger = "cancel"
	triggerTerminate lifecycleTrigger = "terminate"
	triggerRetry     lifecycleTrigger = "retry"
)

// newLifecycleMachine builds the status machine of a workflow instance:
// Created -> Running -> {Suspended <-> Running} -> {Completed, Faulted, Cancelled, Terminated}.
func newLifecycleMachine(c clock.Clock) (*statemachine.Machine[runtime.InstanceStatus, lifecycleTrigger, *runtime.WorkflowInstance], error) {
	closeInstance := func(ctx context.Context, t statemachine.Transition[runtime.InstanceStatus, lifecycleTrigger], instance *runtime.WorkflowInstance) error {
		now := c.Now()
		instance.CompletedAt = &now
		return nil
	}
	reopenInstance := func(ctx context.Context, t statemachine.Transition[runtime.InstanceStatus, lifecycleTrigger], instance *runtime.WorkflowInstance) error {
		instance.CompletedAt = nil
		return nil
	}

	b := statemachine.NewBuilder[runtime.InstanceStatus, lifecycleTrigger, *runtime.WorkflowInstance]().
		Initial(runtime.InstanceStatusCreated)
	b.State(runtime.InstanceStatusCreated).
		Permit(triggerStart, runtime.InstanceStatusRunning).
		Permit(triggerCancel, runtime.InstanceStatusCancelled).
		Permit(triggerTerminate, runtime.InstanceStatusTerminated)
	b.State(runtime.InstanceStatusRunning).
		OnEntry(reopenInstance).
		Permit(triggerSuspend, runtime.InstanceStatusSuspended).
		Permit(triggerComplete, runtime.InstanceStatusCompleted).
		Permit(triggerFault, runtime.InstanceStatusFaulted).
		Permit(triggerCancel, runtime.InstanceStatusCancelled).
		Permit(triggerTerminate, runtime.InstanceStatusTerminated)
	b.State(runtime.InstanceStatusSuspended).
		Permit(triggerResume, runtime.InstanceStatusRunning).
		Permit(triggerCancel, runtime.InstanceStatusCancelled).
		Permit(triggerTerminate, runtime.InstanceStatusTerminated)
	b.State(runtime.InstanceStatusFaulted).
		OnEntry(closeInstance).
		Permit(triggerRetry, runtime.InstanceStatusRunning).
		Permit(triggerTerminate, runtime.InstanceStatusTerminated).
		Terminal()
	b.State(runtime.InstanceStatusCompleted).OnEntry(closeInstance).Terminal()
	b.State(runtime.InstanceStatusCancelled).OnEntry(closeInstance).Terminal()
	b.State(runtime.InstanceStatusTerminated).OnEntry(closeInstance).Terminal()
	return b.Build()
}

// transition fires the trigger against the instance status and returns WorkflowInvalidStateError when it is not permitted.
func (engine *Engine) transition(ctx context.Context, instance *runtime.WorkflowInstance, trigger lifecycleTrigger) error {
	res, err := engine.lifecycle.Fire(ctx, instance.Status, trigger, instance)
	if err != nil {
		return err
	}
	if !res.IsSuccess {
		return &WorkflowInvalidStateError{InstanceKey: instance.Key, Status: instance.Status, Operation: string(trigger)}
	}
	instance.Status = res.State
	instance.UpdatedAt = engine.clock.Now()
	return nil
}

// statusesPermitting lists the statuses from which trigger can be fired, used for compare-and-set status updates.
func (engine *Engine) statusesPermitting(trigger lifecycleTrigger) []runtime.InstanceStatus {
	res := make([]runtime.InstanceStatus, 0)
	for _, state := range engine.lifecycle.States() {
		if engine.lifecycle.CanFire(state, trigger) {
			res = append(res, state)
		}
	}
	return res
}
