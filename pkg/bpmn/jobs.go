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

	"github.com/cenkalti/backoff/v4"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const jobBookmarkPrefix = "job:"

// createJob persists a pending job for the activity and suspends the branch on the job bookmark.
func (engine *Engine) createJob(ctx context.Context, exec *execution, activity model.Activity, branchKey int64, started time.Time, nextAttemptAt time.Time) error {
	taskType, _ := activity.ConfigString(model.ConfigTaskType)
	key := engine.generateKey()
	job := runtime.Job{
		Key:           key,
		InstanceKey:   exec.instance.Key,
		ActivityId:    activity.Id,
		BranchKey:     branchKey,
		BookmarkName:  fmt.Sprintf("%s%d", jobBookmarkPrefix, key),
		Type:          taskType,
		State:         runtime.JobStatePending,
		Variables:     maps.Clone(exec.instance.Variables),
		MaxAttempts:   activity.ConfigInt(model.ConfigRetries, DefaultJobMaxAttempts),
		NextAttemptAt: nextAttemptAt,
		CreatedAt:     engine.clock.Now(),
	}
	if job.MaxAttempts < 1 {
		job.MaxAttempts = 1
	}
	if err := engine.wait(ctx, exec, activity, branchKey, job.BookmarkName, started); err != nil {
		return err
	}
	if err := engine.persistence.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	engine.metrics.JobsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String(otelPkg.AttributeJobType, job.Type),
	))
	return nil
}

func (engine *Engine) findJob(ctx context.Context, jobKey int64) (runtime.Job, error) {
	job, err := engine.persistence.FindJobByKey(ctx, jobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return job, &JobNotFoundError{JobKey: jobKey}
	}
	if err != nil {
		return job, fmt.Errorf("failed to load job %d: %w", jobKey, err)
	}
	return job, nil
}

// ExecuteJob runs the registered handler of a due job and completes or fails it with the handler result.
// Jobs without a handler, or whose handler neither completes nor fails, are postponed.
func (engine *Engine) ExecuteJob(ctx context.Context, job runtime.Job) (retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("job:%s", job.Type), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeJobKey, job.Key),
		attribute.Int64(otelPkg.AttributeInstanceKey, job.InstanceKey),
		attribute.String(otelPkg.AttributeJobType, job.Type),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	job, err := engine.findJob(ctx, job.Key)
	if err != nil {
		return err
	}
	if job.State != runtime.JobStatePending {
		return nil
	}
	inst, err := engine.persistence.FindInstanceByKey(ctx, job.InstanceKey)
	if errors.Is(err, storage.ErrNotFound) {
		return engine.cancelJob(ctx, job)
	}
	if err != nil {
		return fmt.Errorf("failed to load instance %d: %w", job.InstanceKey, err)
	}
	switch {
	case inst.Status == runtime.InstanceStatusFaulted:
		return engine.postponeJob(ctx, job)
	case inst.Status.IsTerminal():
		return engine.cancelJob(ctx, job)
	}

	exec, err := engine.newExecution(ctx, &inst)
	if err != nil {
		return err
	}
	activity, ok := exec.definition.Activity(job.ActivityId)
	if !ok {
		_, err := engine.FailJob(ctx, job.Key, FaultCodeInvalidConfig, fmt.Sprintf("activity %s is not part of the definition", job.ActivityId))
		return err
	}
	handler := engine.findTaskHandler(activity)
	if handler == nil {
		engine.logger.Debug("no handler for job", "jobKey", job.Key, "type", job.Type)
		return engine.postponeJob(ctx, job)
	}

	task := engine.newActivatedTask(exec, activity, job.Key, job.Type, job.Attempts+1, job.CreatedAt)
	if err := invokeHandler(handler, task); err != nil {
		_, failErr := engine.FailJob(ctx, job.Key, FaultCodeHandlerPanic, err.Error())
		return failErr
	}
	switch task.result {
	case taskResultCompleted:
		_, err = engine.CompleteJob(ctx, job.Key, task.GetOutputVariables())
	case taskResultFailed:
		_, err = engine.FailJob(ctx, job.Key, task.failCode, task.failMessage)
	default:
		err = engine.postponeJob(ctx, job)
	}
	return err
}

// CompleteJob resumes the instance waiting for the job with output merged into its variables.
func (engine *Engine) CompleteJob(ctx context.Context, jobKey int64, output map[string]any) (result ExecutionResult, retErr error) {
	job, err := engine.findJob(ctx, jobKey)
	if err != nil {
		return ExecutionResult{}, err
	}
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("job:%s:complete", job.Type), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeJobKey, job.Key),
		attribute.Int64(otelPkg.AttributeInstanceKey, job.InstanceKey),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	lock, err := engine.lockInstance(ctx, job.InstanceKey)
	if err != nil {
		return ExecutionResult{InstanceKey: job.InstanceKey}, err
	}
	defer lock.release(ctx)

	job, err = engine.findJob(ctx, jobKey)
	if err != nil {
		return ExecutionResult{InstanceKey: job.InstanceKey}, err
	}
	if job.State != runtime.JobStatePending {
		return ExecutionResult{InstanceKey: job.InstanceKey}, newEngineErrorf("job %d is already %s", job.Key, job.State)
	}
	inst, err := engine.findInstance(ctx, job.InstanceKey)
	if err != nil {
		return ExecutionResult{InstanceKey: job.InstanceKey}, err
	}
	if inst.Status != runtime.InstanceStatusSuspended {
		return newExecutionResult(inst), &WorkflowInvalidStateError{InstanceKey: inst.Key, Status: inst.Status, Operation: "complete job of"}
	}
	bm, ok := inst.FindBookmark(job.BookmarkName)
	if !ok {
		if err := engine.cancelJob(ctx, job); err != nil {
			return newExecutionResult(inst), err
		}
		return newExecutionResult(inst), &WorkflowBookmarkNotFoundError{InstanceKey: inst.Key, BookmarkName: job.BookmarkName}
	}

	exec, err := engine.newExecution(ctx, &inst)
	if err != nil {
		return newExecutionResult(inst), err
	}
	if err := engine.resumeBookmark(ctx, exec, bm, output); err != nil {
		return newExecutionResult(inst), err
	}

	now := engine.clock.Now()
	job.State = runtime.JobStateCompleted
	job.CompletedAt = &now
	job.Variables = maps.Clone(output)
	if err := engine.persistence.SaveJob(ctx, job); err != nil {
		return newExecutionResult(inst), fmt.Errorf("failed to save job %d: %w", job.Key, err)
	}
	engine.metrics.JobsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String(otelPkg.AttributeJobType, job.Type),
	))
	return newExecutionResult(inst), nil
}

// FailJob records a failed attempt. The job is retried with exponential backoff until MaxAttempts is reached,
// afterwards the waiting branch faults with the given code and the activity error handlers apply.
func (engine *Engine) FailJob(ctx context.Context, jobKey int64, code string, message string) (result ExecutionResult, retErr error) {
	if code == "" {
		code = FaultCodeJobFailed
	}
	job, err := engine.findJob(ctx, jobKey)
	if err != nil {
		return ExecutionResult{}, err
	}
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("job:%s:fail", job.Type), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeJobKey, job.Key),
		attribute.Int64(otelPkg.AttributeInstanceKey, job.InstanceKey),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()
	if job.State != runtime.JobStatePending {
		return ExecutionResult{InstanceKey: job.InstanceKey}, newEngineErrorf("job %d is already %s", job.Key, job.State)
	}
	engine.metrics.JobsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(otelPkg.AttributeJobType, job.Type),
	))

	job.Attempts++
	job.LastError = fmt.Sprintf("%s: %s", code, message)
	if job.Attempts < job.MaxAttempts {
		job.NextAttemptAt = engine.clock.Now().Add(engine.jobRetryDelay(job.Attempts))
		if err := engine.persistence.SaveJob(ctx, job); err != nil {
			return ExecutionResult{InstanceKey: job.InstanceKey}, fmt.Errorf("failed to save job %d: %w", job.Key, err)
		}
		engine.logger.Debug("job attempt failed", "jobKey", job.Key, "attempt", job.Attempts, "nextAttemptAt", job.NextAttemptAt)
		inst, err := engine.findInstance(ctx, job.InstanceKey)
		if err != nil {
			return ExecutionResult{InstanceKey: job.InstanceKey}, err
		}
		return newExecutionResult(inst), nil
	}

	lock, err := engine.lockInstance(ctx, job.InstanceKey)
	if err != nil {
		return ExecutionResult{InstanceKey: job.InstanceKey}, err
	}
	defer lock.release(ctx)

	now := engine.clock.Now()
	job.State = runtime.JobStateFailed
	job.CompletedAt = &now
	if err := engine.persistence.SaveJob(ctx, job); err != nil {
		return ExecutionResult{InstanceKey: job.InstanceKey}, fmt.Errorf("failed to save job %d: %w", job.Key, err)
	}
	inst, err := engine.findInstance(ctx, job.InstanceKey)
	if err != nil {
		return ExecutionResult{InstanceKey: job.InstanceKey}, err
	}
	bm, ok := inst.FindBookmark(job.BookmarkName)
	if !ok || inst.Status != runtime.InstanceStatusSuspended {
		engine.logger.Info("failed job no longer awaited", "jobKey", job.Key, "instanceKey", inst.Key, "status", inst.Status)
		return newExecutionResult(inst), nil
	}

	exec, err := engine.newExecution(ctx, &inst)
	if err != nil {
		return newExecutionResult(inst), err
	}
	if err := engine.transition(ctx, &inst, triggerResume); err != nil {
		return newExecutionResult(inst), err
	}
	inst.RemoveBookmark(bm.Name)
	activity, ok := exec.definition.Activity(bm.ActivityId)
	if !ok {
		activity = model.Activity{Id: bm.ActivityId}
	}
	if err := engine.fault(ctx, exec, activity, bm.BranchKey, code, message, now); err != nil {
		return newExecutionResult(inst), err
	}
	if err := engine.run(ctx, exec); err != nil {
		return newExecutionResult(inst), err
	}
	return newExecutionResult(inst), nil
}

// jobRetryDelay is the deterministic exponential delay before attempt+1.
func (engine *Engine) jobRetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(engine.jobRetryInterval),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(engine.jobRetryInterval*64),
		backoff.WithMaxElapsedTime(0),
	)
	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (engine *Engine) postponeJob(ctx context.Context, job runtime.Job) error {
	job.NextAttemptAt = engine.clock.Now().Add(engine.jobRetryInterval)
	if err := engine.persistence.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to postpone job %d: %w", job.Key, err)
	}
	return nil
}

func (engine *Engine) cancelJob(ctx context.Context, job runtime.Job) error {
	now := engine.clock.Now()
	job.State = runtime.JobStateCancelled
	job.CompletedAt = &now
	if err := engine.persistence.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to cancel job %d: %w", job.Key, err)
	}
	return nil
}

// cancelPendingJobs cancels every pending job of a closed instance.
func (engine *Engine) cancelPendingJobs(ctx context.Context, instanceKey int64) error {
	jobs, err := engine.persistence.FindInstanceJobs(ctx, instanceKey, runtime.JobStatePending)
	if err != nil {
		return fmt.Errorf("failed to load jobs of instance %d: %w", instanceKey, err)
	}
	var errJoin error
	for _, job := range jobs {
		errJoin = errors.Join(errJoin, engine.cancelJob(ctx, job))
	}
	return errJoin
}
