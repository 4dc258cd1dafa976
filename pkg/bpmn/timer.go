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
	"strings"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/senseyeio/duration"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const timerBookmarkPrefix = "timer:"

func timerBookmarkName(activityId string) string {
	return timerBookmarkPrefix + activityId
}

// durationFrom shifts from by an ISO-8601 duration (PT10M, P1D). Go durations (10m) are accepted as well.
func (engine *Engine) durationFrom(value string, from time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, newEngineErrorf("empty duration")
	}
	d, err := duration.ParseISO8601(value)
	if err == nil {
		return d.Shift(from), nil
	}
	goDuration, goErr := time.ParseDuration(value)
	if goErr != nil {
		return time.Time{}, &BpmnEngineError{Msg: fmt.Sprintf("Error parsing duration '%s'. Error:%s", value, err.Error())}
	}
	return from.Add(goDuration), nil
}

func (engine *Engine) scheduleTimer(ctx context.Context, instanceKey int64, activityId string, bookmark string, fireAt time.Time, recurrence string) (runtime.Timer, error) {
	t := runtime.Timer{
		Key:          engine.generateKey(),
		InstanceKey:  instanceKey,
		ActivityId:   activityId,
		BookmarkName: bookmark,
		FireAt:       fireAt,
		Recurrence:   recurrence,
		State:        runtime.TimerStateScheduled,
		CreatedAt:    engine.clock.Now(),
	}
	if err := engine.persistence.SaveTimer(ctx, t); err != nil {
		return t, fmt.Errorf("failed to save timer: %w", err)
	}
	engine.logger.Debug("timer scheduled", "instanceKey", instanceKey, "bookmark", bookmark, "fireAt", fireAt)
	return t, nil
}

// ScheduleTimer schedules a timer resuming bookmark of the instance at fireAt.
// A recurring timer is scheduled again after firing as long as the instance holds the bookmark again.
func (engine *Engine) ScheduleTimer(ctx context.Context, instanceKey int64, bookmark string, fireAt time.Time, recurrence string) (runtime.Timer, error) {
	if recurrence != "" {
		if _, err := engine.durationFrom(recurrence, fireAt); err != nil {
			return runtime.Timer{}, err
		}
	}
	lock, err := engine.lockInstance(ctx, instanceKey)
	if err != nil {
		return runtime.Timer{}, err
	}
	defer lock.release(ctx)

	inst, err := engine.findInstance(ctx, instanceKey)
	if err != nil {
		return runtime.Timer{}, err
	}
	if inst.Status.IsTerminal() {
		return runtime.Timer{}, &WorkflowInvalidStateError{InstanceKey: instanceKey, Status: inst.Status, Operation: "schedule timer for"}
	}
	bm, ok := inst.FindBookmark(bookmark)
	if !ok {
		return runtime.Timer{}, &WorkflowBookmarkNotFoundError{InstanceKey: instanceKey, BookmarkName: bookmark}
	}
	return engine.scheduleTimer(ctx, instanceKey, bm.ActivityId, bookmark, fireAt, recurrence)
}

// FireTimer resumes the bookmark of a due timer. Timers of closed instances or of consumed bookmarks are cancelled,
// timers of faulted instances stay scheduled until the instance is retried.
func (engine *Engine) FireTimer(ctx context.Context, timer runtime.Timer) (result ExecutionResult, retErr error) {
	ctx, span := engine.tracer.Start(ctx, fmt.Sprintf("timer:%d", timer.Key), trace.WithAttributes(
		attribute.Int64(otelPkg.AttributeTimerKey, timer.Key),
		attribute.Int64(otelPkg.AttributeInstanceKey, timer.InstanceKey),
		attribute.String(otelPkg.AttributeBookmark, timer.BookmarkName),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	lock, err := engine.lockInstance(ctx, timer.InstanceKey)
	if err != nil {
		return ExecutionResult{InstanceKey: timer.InstanceKey}, err
	}
	defer lock.release(ctx)

	timer, err = engine.persistence.FindTimerByKey(ctx, timer.Key)
	if err != nil {
		return ExecutionResult{InstanceKey: timer.InstanceKey}, fmt.Errorf("failed to load timer %d: %w", timer.Key, err)
	}
	if timer.State != runtime.TimerStateScheduled {
		return ExecutionResult{InstanceKey: timer.InstanceKey}, nil
	}
	inst, err := engine.persistence.FindInstanceByKey(ctx, timer.InstanceKey)
	if errors.Is(err, storage.ErrNotFound) {
		return ExecutionResult{InstanceKey: timer.InstanceKey}, engine.persistence.CancelTimer(ctx, timer.Key)
	}
	if err != nil {
		return ExecutionResult{InstanceKey: timer.InstanceKey}, fmt.Errorf("failed to load instance %d: %w", timer.InstanceKey, err)
	}
	switch {
	case inst.Status == runtime.InstanceStatusFaulted:
		engine.logger.Debug("timer of faulted instance postponed", "timerKey", timer.Key, "instanceKey", inst.Key)
		return newExecutionResult(inst), nil
	case inst.Status.IsTerminal():
		return newExecutionResult(inst), engine.persistence.CancelTimer(ctx, timer.Key)
	case inst.Status != runtime.InstanceStatusSuspended:
		engine.logger.Debug("timer of instance in status "+string(inst.Status)+" postponed", "timerKey", timer.Key, "instanceKey", inst.Key)
		return newExecutionResult(inst), nil
	}
	bm, ok := inst.FindBookmark(timer.BookmarkName)
	if !ok {
		engine.logger.Debug("timer bookmark already consumed", "timerKey", timer.Key, "bookmark", timer.BookmarkName)
		return newExecutionResult(inst), engine.persistence.CancelTimer(ctx, timer.Key)
	}

	if err := engine.persistence.MarkTimerTriggered(ctx, timer.Key, engine.clock.Now()); err != nil {
		return newExecutionResult(inst), fmt.Errorf("failed to mark timer %d triggered: %w", timer.Key, err)
	}
	engine.metrics.TimersFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String(otelPkg.AttributeDefinitionId, inst.DefinitionId),
	))

	exec, err := engine.newExecution(ctx, &inst)
	if err != nil {
		return newExecutionResult(inst), err
	}
	var input map[string]any
	if activity, ok := exec.definition.Activity(bm.ActivityId); ok && activity.Type == model.ActivityTypeUserTask {
		input = map[string]any{"timedOut": true}
	}
	if err := engine.resumeBookmark(ctx, exec, bm, input); err != nil {
		return newExecutionResult(inst), err
	}

	if timer.Recurrence != "" && !inst.Status.IsTerminal() {
		if err := engine.rearmTimer(ctx, inst, timer); err != nil {
			return newExecutionResult(inst), err
		}
	}
	return newExecutionResult(inst), nil
}

// rearmTimer schedules the next occurrence of a recurring timer when the instance holds its bookmark again
// and no other timer is scheduled for it.
func (engine *Engine) rearmTimer(ctx context.Context, inst runtime.WorkflowInstance, timer runtime.Timer) error {
	bm, ok := inst.FindBookmark(timer.BookmarkName)
	if !ok {
		return nil
	}
	scheduled, err := engine.persistence.FindInstanceTimers(ctx, inst.Key, runtime.TimerStateScheduled)
	if err != nil {
		return fmt.Errorf("failed to load timers of instance %d: %w", inst.Key, err)
	}
	for _, t := range scheduled {
		if t.BookmarkName == timer.BookmarkName {
			return nil
		}
	}
	now := engine.clock.Now()
	next := timer.FireAt
	for !next.After(now) {
		shifted, err := engine.durationFrom(timer.Recurrence, next)
		if err != nil {
			return err
		}
		if !shifted.After(next) {
			return newEngineErrorf("recurrence %s of timer %d does not advance", timer.Recurrence, timer.Key)
		}
		next = shifted
	}
	_, err = engine.scheduleTimer(ctx, inst.Key, bm.ActivityId, timer.BookmarkName, next, timer.Recurrence)
	return err
}

// cancelBookmarkTimers cancels scheduled timers waiting for a bookmark that was consumed.
func (engine *Engine) cancelBookmarkTimers(ctx context.Context, instanceKey int64, bookmark string) error {
	timers, err := engine.persistence.FindInstanceTimers(ctx, instanceKey, runtime.TimerStateScheduled)
	if err != nil {
		return fmt.Errorf("failed to load timers of instance %d: %w", instanceKey, err)
	}
	var errJoin error
	for _, t := range timers {
		if bookmark != "" && t.BookmarkName != bookmark {
			continue
		}
		errJoin = errors.Join(errJoin, engine.persistence.CancelTimer(ctx, t.Key))
	}
	return errJoin
}
