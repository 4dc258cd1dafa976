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
	"slices"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ExecutionResult describes the state an operation left an instance in.
// Err is only set on results of bulk operations, single instance operations return the error directly.
type ExecutionResult struct {
	InstanceKey int64
	Status      runtime.InstanceStatus
	Bookmarks   []string
	Fault       *runtime.Fault
	Output      map[string]any
	Err         error
}

func newExecutionResult(inst runtime.WorkflowInstance) ExecutionResult {
	bookmarks := make([]string, 0, len(inst.Bookmarks))
	for _, b := range inst.Bookmarks {
		bookmarks = append(bookmarks, b.Name)
	}
	res := ExecutionResult{
		InstanceKey: inst.Key,
		Status:      inst.Status,
		Bookmarks:   bookmarks,
		Output:      maps.Clone(inst.Output),
	}
	if inst.Fault != nil {
		f := *inst.Fault
		res.Fault = &f
	}
	return res
}

type StartOptions struct {
	// Version starts a specific version instead of the published one
	Version       int
	CorrelationId string
	TenantId      string
}

type SignalOptions struct {
	// InstanceKey targets a single instance
	InstanceKey   int64
	CorrelationId string
	// DefinitionId scopes the lookup to instances of one definition
	DefinitionId string
}

func traceEnd(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// StartNew creates an instance of the published version of the definition (id or key) and runs it
// until it completes, waits on a bookmark or faults.
func (engine *Engine) StartNew(ctx context.Context, definitionId string, input map[string]any, options StartOptions) (result ExecutionResult, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("start:%s", definitionId), trace.WithAttributes(
		attribute.String(otelPkg.AttributeDefinitionId, definitionId),
	))
	defer func() { traceEnd(span, retErr) }()

	def, err := engine.findDefinition(ctx, definitionId)
	if err != nil {
		return ExecutionResult{}, err
	}
	versionNumber := options.Version
	if versionNumber == 0 {
		if !def.IsPublished() {
			return ExecutionResult{}, &WorkflowNotFoundError{DefinitionId: definitionId}
		}
		versionNumber = def.PublishedVersion
	}
	version, err := engine.loadVersion(ctx, def.Id, versionNumber)
	if err != nil {
		return ExecutionResult{}, err
	}
	start, ok := version.Model.StartActivity()
	if !ok {
		return ExecutionResult{}, &model.ValidationError{Msg: fmt.Sprintf("version %d of %s has no start activity", versionNumber, def.Id)}
	}
	span.SetAttributes(attribute.Int(otelPkg.AttributeVersion, versionNumber))

	now := engine.clock.Now()
	inst := runtime.WorkflowInstance{
		Key:          engine.generateKey(),
		DefinitionId: def.Id,
		Version:      versionNumber,
		Status:       engine.lifecycle.Initial(),
		Branches: []runtime.Branch{{
			Key:        engine.generateKey(),
			ActivityId: start.Id,
			State:      runtime.BranchStateReady,
			CreatedAt:  now,
		}},
		CompletedActivities: []string{},
		Variables:           maps.Clone(input),
		Input:               maps.Clone(input),
		Bookmarks:           []runtime.Bookmark{},
		JoinExpectations:    map[string]int{},
		CorrelationId:       options.CorrelationId,
		TenantId:            options.TenantId,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if inst.Variables == nil {
		inst.Variables = map[string]any{}
	}
	span.SetAttributes(attribute.Int64(otelPkg.AttributeInstanceKey, inst.Key))
	if err := engine.persistence.SaveInstance(ctx, inst); err != nil {
		return ExecutionResult{}, fmt.Errorf("failed to save instance %d: %w", inst.Key, err)
	}

	lock, err := engine.lockInstance(ctx, inst.Key)
	if err != nil {
		return newExecutionResult(inst), err
	}
	defer lock.release(ctx)

	if err := engine.transition(ctx, &inst, triggerStart); err != nil {
		return newExecutionResult(inst), err
	}
	engine.metrics.InstancesStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String(otelPkg.AttributeDefinitionId, def.Id),
	))
	engine.logger.Debug("instance started", "instanceKey", inst.Key, "definitionId", def.Id, "version", versionNumber)
	exec := &execution{instance: &inst, version: version, definition: version.Model}
	if err := engine.run(ctx, exec); err != nil {
		return newExecutionResult(inst), err
	}
	return newExecutionResult(inst), nil
}

// Resume consumes the bookmark of a suspended instance, merges input into its variables and continues
// from the activity owning the bookmark.
func (engine *Engine) Resume(ctx context.Context, instanceKey int64, bookmarkName string, input map[string]any) (result ExecutionResult, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("resume:%s", bookmarkName), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeInstanceKey, instanceKey),
		attribute.String(otelPkg.AttributeBookmark, bookmarkName),
	))
	defer func() { traceEnd(span, retErr) }()

	lock, err := engine.lockInstance(ctx, instanceKey)
	if err != nil {
		return ExecutionResult{InstanceKey: instanceKey}, err
	}
	defer lock.release(ctx)

	inst, err := engine.findInstance(ctx, instanceKey)
	if err != nil {
		return ExecutionResult{InstanceKey: instanceKey}, err
	}
	if inst.Status != runtime.InstanceStatusSuspended {
		return newExecutionResult(inst), &WorkflowInvalidStateError{InstanceKey: instanceKey, Status: inst.Status, Operation: "resume"}
	}
	bm, ok := inst.FindBookmark(bookmarkName)
	if !ok {
		return newExecutionResult(inst), &WorkflowBookmarkNotFoundError{InstanceKey: instanceKey, BookmarkName: bookmarkName}
	}
	exec, err := engine.newExecution(ctx, &inst)
	if err != nil {
		return newExecutionResult(inst), err
	}
	if err := engine.resumeBookmark(ctx, exec, bm, input); err != nil {
		return newExecutionResult(inst), err
	}
	return newExecutionResult(inst), nil
}

// Signal resumes the oldest instance waiting on a bookmark with the given name.
// Instances that were advanced by someone else in the meantime are skipped.
func (engine *Engine) Signal(ctx context.Context, name string, input map[string]any, options SignalOptions) (ExecutionResult, error) {
	if options.InstanceKey != 0 {
		return engine.Resume(ctx, options.InstanceKey, name, input)
	}
	candidates, err := engine.signalCandidates(ctx, name, options)
	if err != nil {
		return ExecutionResult{}, err
	}
	var lockErr error
	for _, candidate := range candidates {
		res, err := engine.Resume(ctx, candidate.Key, name, input)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, ErrInstanceLocked):
			lockErr = err
		case !isStale(err):
			return res, err
		}
	}
	if lockErr != nil {
		return ExecutionResult{}, lockErr
	}
	return ExecutionResult{}, &WorkflowBookmarkNotFoundError{BookmarkName: name}
}

// BroadcastSignal resumes every instance waiting on a bookmark with the given name.
// Failures are reported per instance in ExecutionResult.Err.
func (engine *Engine) BroadcastSignal(ctx context.Context, name string, input map[string]any, options SignalOptions) ([]ExecutionResult, error) {
	if options.InstanceKey != 0 {
		res, err := engine.Resume(ctx, options.InstanceKey, name, input)
		res.Err = err
		return []ExecutionResult{res}, nil
	}
	candidates, err := engine.signalCandidates(ctx, name, options)
	if err != nil {
		return nil, err
	}
	results := make([]ExecutionResult, 0, len(candidates))
	for _, candidate := range candidates {
		res, err := engine.Resume(ctx, candidate.Key, name, input)
		if isStale(err) {
			continue
		}
		res.InstanceKey = candidate.Key
		res.Err = err
		results = append(results, res)
	}
	return results, nil
}

func (engine *Engine) signalCandidates(ctx context.Context, name string, options SignalOptions) ([]runtime.WorkflowInstance, error) {
	candidates, err := engine.persistence.FindInstancesByBookmark(ctx, name, options.DefinitionId)
	if err != nil {
		return nil, fmt.Errorf("failed to find instances waiting on %s: %w", name, err)
	}
	if options.CorrelationId != "" {
		candidates = slices.DeleteFunc(candidates, func(inst runtime.WorkflowInstance) bool {
			return inst.CorrelationId != options.CorrelationId
		})
	}
	return candidates, nil
}

// isStale reports errors caused by an instance that moved on between lookup and lock.
func isStale(err error) bool {
	var bookmarkErr *WorkflowBookmarkNotFoundError
	var stateErr *WorkflowInvalidStateError
	return errors.As(err, &bookmarkErr) || errors.As(err, &stateErr)
}

// TriggerEvent resumes all instances waiting on a bookmark named after the event and starts every published
// definition whose start activity is triggered by the event.
func (engine *Engine) TriggerEvent(ctx context.Context, eventName string, data map[string]any) (results []ExecutionResult, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("event:%s", eventName), trace.WithAttributes(
		attribute.String(otelPkg.AttributeEventName, eventName),
	))
	defer func() { traceEnd(span, retErr) }()

	results, err := engine.BroadcastSignal(ctx, eventName, data, SignalOptions{})
	if err != nil {
		return nil, err
	}
	definitions, err := engine.persistence.FindDefinitions(ctx)
	if err != nil {
		return results, fmt.Errorf("failed to list definitions: %w", err)
	}
	for _, def := range definitions {
		if !def.IsPublished() {
			continue
		}
		version, err := engine.loadVersion(ctx, def.Id, def.PublishedVersion)
		if err != nil {
			results = append(results, ExecutionResult{Err: err})
			continue
		}
		start, ok := version.Model.StartActivity()
		if !ok {
			continue
		}
		if trigger, ok := start.ConfigString(model.ConfigTrigger); !ok || trigger != eventName {
			continue
		}
		res, err := engine.StartNew(ctx, def.Id, data, StartOptions{})
		res.Err = err
		results = append(results, res)
	}
	return results, nil
}

// Cancel stops a non terminal instance. A running execution notices the change before its next step.
func (engine *Engine) Cancel(ctx context.Context, instanceKey int64) (retErr error) {
	ctx, span := engine.tracer.Start(ctx, "cancel", trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeInstanceKey, instanceKey),
	))
	defer func() { traceEnd(span, retErr) }()
	return engine.close(ctx, instanceKey, triggerCancel, runtime.InstanceStatusCancelled, "")
}

// Terminate forces an instance to stop regardless of its status, unless it already completed or was stopped.
func (engine *Engine) Terminate(ctx context.Context, instanceKey int64, reason string) (retErr error) {
	ctx, span := engine.tracer.Start(ctx, "terminate", trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeInstanceKey, instanceKey),
	))
	defer func() { traceEnd(span, retErr) }()
	return engine.close(ctx, instanceKey, triggerTerminate, runtime.InstanceStatusTerminated, reason)
}

// close sets the status with a compare-and-set against every status the trigger is permitted from,
// and cancels timers and jobs of the instance afterwards.
func (engine *Engine) close(ctx context.Context, instanceKey int64, trigger lifecycleTrigger, to runtime.InstanceStatus, reason string) error {
	inst, err := engine.persistence.UpdateInstanceStatus(ctx, instanceKey, engine.statusesPermitting(trigger), to, reason, engine.clock.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return &WorkflowNotFoundError{InstanceKey: instanceKey}
	}
	if errors.Is(err, storage.ErrStatusConflict) {
		return &WorkflowInvalidStateError{InstanceKey: instanceKey, Status: inst.Status, Operation: string(trigger)}
	}
	if err != nil {
		return fmt.Errorf("failed to %s instance %d: %w", trigger, instanceKey, err)
	}
	engine.metrics.InstancesCancelled.Add(ctx, 1, metric.WithAttributes(
		attribute.String(otelPkg.AttributeDefinitionId, inst.DefinitionId),
		attribute.String(otelPkg.AttributeInstanceStatus, string(to)),
	))
	engine.logger.Info("instance closed", "instanceKey", instanceKey, "status", to, "reason", reason)
	return errors.Join(
		engine.cancelBookmarkTimers(ctx, instanceKey, ""),
		engine.cancelPendingJobs(ctx, instanceKey),
	)
}

// Retry re-executes the faulted activities of a faulted instance. History is kept, RetryCount increments.
func (engine *Engine) Retry(ctx context.Context, instanceKey int64, input map[string]any) (result ExecutionResult, retErr error) {
	ctx, span := engine.tracer.Start(ctx, "retry", trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeInstanceKey, instanceKey),
	))
	defer func() { traceEnd(span, retErr) }()

	lock, err := engine.lockInstance(ctx, instanceKey)
	if err != nil {
		return ExecutionResult{InstanceKey: instanceKey}, err
	}
	defer lock.release(ctx)

	inst, err := engine.findInstance(ctx, instanceKey)
	if err != nil {
		return ExecutionResult{InstanceKey: instanceKey}, err
	}
	if inst.Status != runtime.InstanceStatusFaulted {
		return newExecutionResult(inst), &WorkflowInvalidStateError{InstanceKey: instanceKey, Status: inst.Status, Operation: "retry"}
	}
	exec, err := engine.newExecution(ctx, &inst)
	if err != nil {
		return newExecutionResult(inst), err
	}
	if err := engine.transition(ctx, &inst, triggerRetry); err != nil {
		return newExecutionResult(inst), err
	}
	inst.RetryCount++
	inst.Fault = nil
	for i := range inst.Branches {
		if inst.Branches[i].State == runtime.BranchStateFaulted {
			inst.Branches[i].State = runtime.BranchStateReady
		}
	}
	inst.SetVariables(input)
	engine.logger.Info("retrying instance", "instanceKey", instanceKey, "retryCount", inst.RetryCount)
	if err := engine.run(ctx, exec); err != nil {
		return newExecutionResult(inst), err
	}
	return newExecutionResult(inst), nil
}

func (engine *Engine) GetInstance(ctx context.Context, instanceKey int64) (runtime.WorkflowInstance, error) {
	return engine.findInstance(ctx, instanceKey)
}

// QueryInstances returns a page of instances matching the query ordered by creation time.
func (engine *Engine) QueryInstances(ctx context.Context, query storage.InstanceQuery) (storage.InstancePage, error) {
	page, err := engine.persistence.FindInstances(ctx, query.Normalize())
	if err != nil {
		return storage.InstancePage{}, fmt.Errorf("failed to query instances: %w", err)
	}
	return page, nil
}

// GetHistory returns the execution records of the instance in the order they were written.
func (engine *Engine) GetHistory(ctx context.Context, instanceKey int64) ([]runtime.ExecutionRecord, error) {
	if _, err := engine.findInstance(ctx, instanceKey); err != nil {
		return nil, err
	}
	records, err := engine.persistence.FindExecutionRecords(ctx, instanceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of instance %d: %w", instanceKey, err)
	}
	return records, nil
}

// GetJobs returns the jobs of the instance in the given state.
func (engine *Engine) GetJobs(ctx context.Context, instanceKey int64, state runtime.JobState) ([]runtime.Job, error) {
	jobs, err := engine.persistence.FindInstanceJobs(ctx, instanceKey, state)
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs of instance %d: %w", instanceKey, err)
	}
	return jobs, nil
}

func (engine *Engine) findInstance(ctx context.Context, instanceKey int64) (runtime.WorkflowInstance, error) {
	inst, err := engine.persistence.FindInstanceByKey(ctx, instanceKey)
	if errors.Is(err, storage.ErrNotFound) {
		return inst, &WorkflowNotFoundError{InstanceKey: instanceKey}
	}
	if err != nil {
		return inst, fmt.Errorf("failed to load instance %d: %w", instanceKey, err)
	}
	return inst, nil
}
