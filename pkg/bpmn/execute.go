// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// execution is an instance together with the definition version it runs on.
// It is only used while the instance lock is held.
type execution struct {
	instance   *runtime.WorkflowInstance
	version    model.ProcessVersion
	definition *model.ExecutableDefinition
}

func (engine *Engine) newExecution(ctx context.Context, instance *runtime.WorkflowInstance) (*execution, error) {
	version, err := engine.loadVersion(ctx, instance.DefinitionId, instance.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition of instance %d: %w", instance.Key, err)
	}
	return &execution{
		instance:   instance,
		version:    version,
		definition: version.Model,
	}, nil
}

// run executes ready branches one activity at a time until no branch is ready or a fault stops the instance.
// The stored status is checked before every step, a concurrent cancel or terminate ends the run.
func (engine *Engine) run(ctx context.Context, exec *execution) error {
	inst := exec.instance
	for inst.Fault == nil {
		ready := inst.BranchesInState(runtime.BranchStateReady)
		if len(ready) == 0 {
			break
		}
		stored, err := engine.persistence.FindInstanceByKey(ctx, inst.Key)
		if err != nil {
			return fmt.Errorf("failed to check status of instance %d: %w", inst.Key, err)
		}
		if stored.Status.IsClosed() {
			engine.logger.Info("instance closed during execution", "instanceKey", inst.Key, "status", stored.Status)
			*inst = stored
			return nil
		}
		if err := engine.step(ctx, exec, ready[0]); err != nil {
			return err
		}
	}
	return engine.finalize(ctx, exec)
}

// step executes the current activity of a branch. Activity faults are routed to error handlers or fault the branch,
// any other error aborts the run.
func (engine *Engine) step(ctx context.Context, exec *execution, branchKey int64) (retErr error) {
	branch := exec.instance.Branch(branchKey)
	activity, ok := exec.definition.Activity(branch.ActivityId)
	if !ok {
		return engine.fault(ctx, exec, model.Activity{Id: branch.ActivityId}, branchKey,
			FaultCodeInvalidConfig, fmt.Sprintf("activity %s is not part of the definition", branch.ActivityId), engine.clock.Now())
	}

	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("activity:%s", activity.Id), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeInstanceKey, exec.instance.Key),
		attribute.String(otelPkg.AttributeActivityId, activity.Id),
		attribute.String(otelPkg.AttributeActivityType, string(activity.Type)),
		attribute.Int64(otelPkg.AttributeBranchKey, branchKey),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	engine.metrics.ActivitiesExecuted.Add(ctx, 1, metric.WithAttributes(
		attribute.String(otelPkg.AttributeActivityType, string(activity.Type)),
	))
	started := engine.clock.Now()
	err := engine.executeActivity(ctx, exec, activity, branchKey, started)
	if err == nil {
		return nil
	}
	if code, msg, isFault := asActivityFault(err); isFault {
		return engine.fault(ctx, exec, activity, branchKey, code, msg, started)
	}
	return err
}

func (engine *Engine) executeActivity(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, started time.Time) error {
	switch activity.Type {
	case model.ActivityTypeStart:
		return engine.leave(ctx, exec, activity, branchKey, nil, started)
	case model.ActivityTypeEnd:
		exec.instance.MarkCompleted(activity.Id)
		exec.instance.RemoveBranch(branchKey)
		return engine.record(ctx, exec, activity, branchKey, runtime.OutcomeCompleted, nil, "", started)
	case model.ActivityTypeTask:
		return engine.executeTask(ctx, exec, activity, branchKey, started)
	case model.ActivityTypeUserTask:
		return engine.executeUserTask(ctx, exec, activity, branchKey, started)
	case model.ActivityTypeServiceTask:
		return engine.executeServiceTask(ctx, exec, activity, branchKey, started)
	case model.ActivityTypeExclusiveGateway:
		return engine.executeExclusiveGateway(ctx, exec, activity, branchKey, started)
	case model.ActivityTypeInclusiveGateway:
		return engine.executeInclusiveGateway(ctx, exec, activity, branchKey, started)
	case model.ActivityTypeParallelGateway:
		return engine.executeParallelGateway(ctx, exec, activity, branchKey, started)
	}
	return &ActivityFaultError{
		Code:    FaultCodeInvalidConfig,
		Message: fmt.Sprintf("activity %s has unsupported type %s", activity.Id, activity.Type),
	}
}

// executeTask waits on a timer when a delay is configured, runs a registered handler,
// waits on a configured bookmark or otherwise passes through.
func (engine *Engine) executeTask(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, started time.Time) error {
	if delay, ok := activity.ConfigString(model.ConfigDelay); ok {
		fireAt, err := engine.durationFrom(delay, started)
		if err != nil {
			return &ActivityFaultError{Code: FaultCodeInvalidConfig, Message: fmt.Sprintf("activity %s: %s", activity.Id, err)}
		}
		bookmark := timerBookmarkName(activity.Id)
		if err := engine.wait(ctx, exec, activity, branchKey, bookmark, started); err != nil {
			return err
		}
		_, err = engine.scheduleTimer(ctx, exec.instance.Key, activity.Id, bookmark, fireAt, "")
		return err
	}
	if handler := engine.findTaskHandler(activity); handler != nil {
		return engine.runHandlerInline(ctx, exec, activity, branchKey, handler, started)
	}
	if bookmark, ok := activity.ConfigString(model.ConfigBookmark); ok {
		return engine.wait(ctx, exec, activity, branchKey, bookmark, started)
	}
	return engine.leave(ctx, exec, activity, branchKey, nil, started)
}

// executeUserTask always waits, optionally with a timeout timer scheduled against the same bookmark.
func (engine *Engine) executeUserTask(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, started time.Time) error {
	bookmark, ok := activity.ConfigString(model.ConfigBookmark)
	if !ok {
		bookmark = activity.Id
	}
	var fireAt time.Time
	timeout, hasTimeout := activity.ConfigString(model.ConfigTimeout)
	if hasTimeout {
		var err error
		fireAt, err = engine.durationFrom(timeout, started)
		if err != nil {
			return &ActivityFaultError{Code: FaultCodeInvalidConfig, Message: fmt.Sprintf("activity %s: %s", activity.Id, err)}
		}
	}
	if err := engine.wait(ctx, exec, activity, branchKey, bookmark, started); err != nil {
		return err
	}
	if hasTimeout {
		if _, err := engine.scheduleTimer(ctx, exec.instance.Key, activity.Id, bookmark, fireAt, ""); err != nil {
			return err
		}
	}
	return nil
}

// executeServiceTask runs the handler synchronously unless the task is async or no handler is registered,
// in which case a job is created and the branch waits for it.
func (engine *Engine) executeServiceTask(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, started time.Time) error {
	handler := engine.findTaskHandler(activity)
	if handler == nil || activity.ConfigBool(model.ConfigAsync) {
		return engine.createJob(ctx, exec, activity, branchKey, started, started)
	}
	return engine.runHandlerInline(ctx, exec, activity, branchKey, handler, started)
}

// runHandlerInline runs the handler within the execution. A handler that neither completes nor fails
// turns the task into a job retried later.
func (engine *Engine) runHandlerInline(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, handler func(task ActivatedTask), started time.Time) error {
	taskType, _ := activity.ConfigString(model.ConfigTaskType)
	task := engine.newActivatedTask(exec, activity, engine.generateKey(), taskType, 1, started)
	if err := invokeHandler(handler, task); err != nil {
		return &ActivityFaultError{Code: FaultCodeHandlerPanic, Message: err.Error()}
	}
	switch task.result {
	case taskResultCompleted:
		return engine.leave(ctx, exec, activity, branchKey, task.outputVariables, started)
	case taskResultFailed:
		return &ActivityFaultError{Code: task.failCode, Message: task.failMessage}
	}
	return engine.createJob(ctx, exec, activity, branchKey, started, started.Add(engine.jobRetryInterval))
}

func (engine *Engine) newActivatedTask(exec *execution, activity model.Activity, key int64, taskType string, attempt int, createdAt time.Time) *activatedTask {
	instanceScope := runtime.NewVariableHolder(nil, maps.Clone(exec.instance.Variables))
	return &activatedTask{
		key:             key,
		instanceKey:     exec.instance.Key,
		definitionId:    exec.instance.DefinitionId,
		version:         exec.instance.Version,
		activityId:      activity.Id,
		activityName:    activity.Name,
		taskType:        taskType,
		attempt:         attempt,
		createdAt:       createdAt,
		variables:       runtime.NewVariableHolder(&instanceScope, nil),
		outputVariables: map[string]any{},
	}
}

func invokeHandler(handler func(task ActivatedTask), task *activatedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler of activity %s panicked: %v", task.activityId, r)
		}
	}()
	handler(task)
	return nil
}

// leave completes the activity and moves the branch along the first matching outgoing transition.
// A branch of an activity without outgoing transitions ends.
func (engine *Engine) leave(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, output map[string]any, started time.Time) error {
	exec.instance.SetVariables(output)
	next, err := engine.nextActivity(exec.definition, activity, exec.instance.Variables)
	if err != nil {
		return err
	}
	if err := engine.complete(ctx, exec, activity, branchKey, output, started); err != nil {
		return err
	}
	if next == "" {
		exec.instance.RemoveBranch(branchKey)
		return nil
	}
	engine.moveBranch(exec, branchKey, next)
	return nil
}

func (engine *Engine) complete(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, output map[string]any, started time.Time) error {
	exec.instance.MarkCompleted(activity.Id)
	return engine.record(ctx, exec, activity, branchKey, runtime.OutcomeCompleted, output, "", started)
}

func (engine *Engine) moveBranch(exec *execution, branchKey int64, target string) {
	branch := exec.instance.Branch(branchKey)
	branch.ActivityId = target
	branch.State = runtime.BranchStateReady
	branch.PassedJoin = ""
}

// fork continues the branch on the first target and creates a new branch for every other target.
func (engine *Engine) fork(exec *execution, branchKey int64, targets []string) {
	now := engine.clock.Now()
	for i, target := range targets {
		if i == 0 {
			engine.moveBranch(exec, branchKey, target)
			continue
		}
		exec.instance.AddBranch(runtime.Branch{
			Key:        engine.generateKey(),
			ActivityId: target,
			State:      runtime.BranchStateReady,
			CreatedAt:  now,
		})
	}
}

// wait suspends the branch on a bookmark.
func (engine *Engine) wait(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, bookmark string, started time.Time) error {
	if existing, ok := exec.instance.FindBookmark(bookmark); ok && existing.BranchKey != branchKey {
		return &ActivityFaultError{
			Code:    FaultCodeInvalidConfig,
			Message: fmt.Sprintf("bookmark %s is already held by activity %s", bookmark, existing.ActivityId),
		}
	}
	exec.instance.RemoveBookmark(bookmark)
	exec.instance.AddBookmark(runtime.Bookmark{
		Name:       bookmark,
		ActivityId: activity.Id,
		BranchKey:  branchKey,
		CreatedAt:  engine.clock.Now(),
	})
	exec.instance.Branch(branchKey).State = runtime.BranchStateWaiting
	return engine.record(ctx, exec, activity, branchKey, runtime.OutcomeSuspended, map[string]any{"bookmark": bookmark}, "", started)
}

// fault routes the fault to the first matching error handler of the activity.
// Without a handler the branch and the instance are faulted.
func (engine *Engine) fault(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, code string, message string, started time.Time) error {
	inst := exec.instance
	branch := inst.Branch(branchKey)
	for _, h := range activity.ErrorHandlers {
		if !h.Matches(code) {
			continue
		}
		inst.SetVariables(map[string]any{
			"error": map[string]any{
				"code":       code,
				"message":    message,
				"activityId": activity.Id,
			},
		})
		engine.logger.Debug("fault routed to error handler", "instanceKey", inst.Key, "activityId", activity.Id, "code", code, "target", h.TargetActivityId)
		if err := engine.record(ctx, exec, activity, branchKey, runtime.OutcomeHandled, nil, fmt.Sprintf("%s: %s", code, message), started); err != nil {
			return err
		}
		branch.ActivityId = h.TargetActivityId
		branch.State = runtime.BranchStateReady
		branch.PassedJoin = ""
		return nil
	}

	branch.State = runtime.BranchStateFaulted
	inst.Fault = &runtime.Fault{
		Code:       code,
		Message:    message,
		ActivityId: activity.Id,
		BranchKey:  branchKey,
		OccurredAt: engine.clock.Now(),
	}
	inst.FaultCount++
	engine.logger.Warn("activity faulted", "instanceKey", inst.Key, "activityId", activity.Id, "code", code, "message", message)
	return engine.record(ctx, exec, activity, branchKey, runtime.OutcomeFaulted, nil, fmt.Sprintf("%s: %s", code, message), started)
}

// finalize moves the instance to Faulted, Completed or Suspended and stores it.
func (engine *Engine) finalize(ctx context.Context, exec *execution) error {
	inst := exec.instance
	var trigger lifecycleTrigger
	switch {
	case inst.Fault != nil:
		trigger = triggerFault
	case len(inst.Branches) == 0:
		trigger = triggerComplete
		inst.Output = maps.Clone(inst.Variables)
		inst.Bookmarks = []runtime.Bookmark{}
	default:
		trigger = triggerSuspend
	}
	if err := engine.transition(ctx, inst, trigger); err != nil {
		return err
	}
	if err := engine.persistence.SaveInstance(ctx, *inst); err != nil {
		if errors.Is(err, storage.ErrInstanceClosed) {
			stored, findErr := engine.persistence.FindInstanceByKey(ctx, inst.Key)
			if findErr != nil {
				return errors.Join(err, findErr)
			}
			engine.logger.Info("instance closed during execution", "instanceKey", inst.Key, "status", stored.Status)
			*inst = stored
			return nil
		}
		return fmt.Errorf("failed to save instance %d: %w", inst.Key, err)
	}

	attrs := metric.WithAttributes(attribute.String(otelPkg.AttributeDefinitionId, inst.DefinitionId))
	switch inst.Status {
	case runtime.InstanceStatusCompleted:
		engine.metrics.InstancesCompleted.Add(ctx, 1, attrs)
	case runtime.InstanceStatusFaulted:
		engine.metrics.InstancesFaulted.Add(ctx, 1, attrs)
	}
	return nil
}

func (engine *Engine) record(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, outcome runtime.ExecutionOutcome, output map[string]any, errMsg string, started time.Time) error {
	now := engine.clock.Now()
	record := runtime.ExecutionRecord{
		Key:          engine.generateKey(),
		InstanceKey:  exec.instance.Key,
		BranchKey:    branchKey,
		ActivityId:   activity.Id,
		ActivityName: activity.Name,
		ActivityType: string(activity.Type),
		Timestamp:    now,
		Duration:     now.Sub(started),
		Outcome:      outcome,
		Output:       maps.Clone(output),
		Error:        errMsg,
	}
	if err := engine.persistence.AppendExecutionRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to append execution record of instance %d: %w", exec.instance.Key, err)
	}
	return nil
}

// resumeBookmark continues a suspended instance from the activity owning the bookmark.
// The caller holds the instance lock.
func (engine *Engine) resumeBookmark(ctx context.Context, exec *execution, bookmark runtime.Bookmark, input map[string]any) error {
	inst := exec.instance
	if err := engine.transition(ctx, inst, triggerResume); err != nil {
		return err
	}
	inst.RemoveBookmark(bookmark.Name)
	if err := engine.cancelBookmarkTimers(ctx, inst.Key, bookmark.Name); err != nil {
		return err
	}
	started := engine.clock.Now()
	activity, ok := exec.definition.Activity(bookmark.ActivityId)
	if !ok || inst.Branch(bookmark.BranchKey) == nil {
		return newEngineErrorf("bookmark %s of instance %d points to unknown activity %s or branch %d",
			bookmark.Name, inst.Key, bookmark.ActivityId, bookmark.BranchKey)
	}
	if err := engine.leave(ctx, exec, activity, bookmark.BranchKey, input, started); err != nil {
		code, msg, isFault := asActivityFault(err)
		if !isFault {
			return err
		}
		if err := engine.fault(ctx, exec, activity, bookmark.BranchKey, code, msg, started); err != nil {
			return err
		}
	}
	return engine.run(ctx, exec)
}
