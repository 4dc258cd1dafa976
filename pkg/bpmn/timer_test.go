// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"testing"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduledTimers(t *testing.T, engine *Engine, instanceKey int64) []runtime.Timer {
	t.Helper()
	timers, err := engine.persistence.FindInstanceTimers(t.Context(), instanceKey, runtime.TimerStateScheduled)
	require.NoError(t, err)
	return timers
}

func TestDelayedTaskWaitsForTimer(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t)
	cp := CallPath{}
	cp.register(t, engine, "remind")
	def := deployDesign(t, engine, "delayed-task.yaml")
	started := mock.Now()

	// given
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)
	require.Equal(t, runtime.InstanceStatusSuspended, res.Status)
	assert.Equal(t, []string{"timer:wait"}, res.Bookmarks)
	timers := scheduledTimers(t, engine, res.InstanceKey)
	require.Len(t, timers, 1)
	assert.Equal(t, started.Add(10*time.Minute), timers[0].FireAt)

	due, err := engine.persistence.FindDueTimers(t.Context(), mock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// when
	mock.Add(10 * time.Minute)
	due, err = engine.persistence.FindDueTimers(t.Context(), mock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	fired, err := engine.FireTimer(t.Context(), due[0])

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, fired.Status)
	assert.Equal(t, "remind", cp.String())
	timer, err := engine.persistence.FindTimerByKey(t.Context(), due[0].Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.TimerStateTriggered, timer.State)
	assert.Empty(t, scheduledTimers(t, engine, res.InstanceKey))
}

func TestFiringTimerTwiceResumesOnce(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t)
	cp := CallPath{}
	cp.register(t, engine, "remind")
	def := deployDesign(t, engine, "delayed-task.yaml")
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)
	timers := scheduledTimers(t, engine, res.InstanceKey)
	require.Len(t, timers, 1)
	mock.Add(time.Hour)

	// when
	_, err = engine.FireTimer(t.Context(), timers[0])
	require.NoError(t, err)
	_, err = engine.FireTimer(t.Context(), timers[0])

	// then
	require.NoError(t, err)
	assert.Equal(t, "remind", cp.String())
}

func TestUserTaskTimeoutResumesWithTimedOut(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t)
	cp := CallPath{}
	cp.register(t, engine, "escalate", "accepted")
	def := deployDesign(t, engine, "user-task-timeout.yaml")

	// given
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"review"}, res.Bookmarks)
	timers := scheduledTimers(t, engine, res.InstanceKey)
	require.Len(t, timers, 1)
	assert.Equal(t, "review", timers[0].BookmarkName)

	// when
	mock.Add(time.Hour)
	fired, err := engine.FireTimer(t.Context(), timers[0])

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, fired.Status)
	assert.Equal(t, "escalate", cp.String())
	assert.Equal(t, true, fired.Output["timedOut"])
}

func TestResumingUserTaskCancelsItsTimeout(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t)
	cp := CallPath{}
	cp.register(t, engine, "escalate", "accepted")
	def := deployDesign(t, engine, "user-task-timeout.yaml")
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)
	timers := scheduledTimers(t, engine, res.InstanceKey)
	require.Len(t, timers, 1)

	// when
	resumed, err := engine.Resume(t.Context(), res.InstanceKey, "review", map[string]any{"timedOut": false})
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.InstanceStatusCompleted, resumed.Status)
	assert.Equal(t, "accepted", cp.String())
	assert.Empty(t, scheduledTimers(t, engine, res.InstanceKey))

	mock.Add(2 * time.Hour)
	_, err = engine.FireTimer(t.Context(), timers[0])
	require.NoError(t, err)
	assert.Equal(t, "accepted", cp.String())
}

func TestCancelCancelsScheduledTimers(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t)
	def := deployDesign(t, engine, "delayed-task.yaml")
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)
	timers := scheduledTimers(t, engine, res.InstanceKey)
	require.Len(t, timers, 1)

	// when
	require.NoError(t, engine.Cancel(t.Context(), res.InstanceKey))

	// then
	assert.Empty(t, scheduledTimers(t, engine, res.InstanceKey))
	mock.Add(time.Hour)
	due, err := engine.persistence.FindDueTimers(t.Context(), mock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	fired, err := engine.FireTimer(t.Context(), timers[0])
	require.NoError(t, err)
	inst, err := engine.GetInstance(t.Context(), res.InstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCancelled, inst.Status)
	assert.Equal(t, res.InstanceKey, fired.InstanceKey)
}

func TestScheduleTimerOnExistingBookmark(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t)
	def := deployDesign(t, engine, "fork-join.yaml")
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)
	fireAt := mock.Now().Add(30 * time.Minute)

	// when
	timer, err := engine.ScheduleTimer(t.Context(), res.InstanceKey, "finance", fireAt, "")
	require.NoError(t, err)
	mock.Add(30 * time.Minute)
	fired, err := engine.FireTimer(t.Context(), timer)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusSuspended, fired.Status)
	assert.Equal(t, []string{"legal"}, fired.Bookmarks)
	assert.Equal(t, "approve-finance", timer.ActivityId)
}

func TestRecurringTimerIsNotRearmedWhenBookmarkIsConsumed(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t)
	def := deployDesign(t, engine, "fork-join.yaml")
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)

	// given
	timer, err := engine.ScheduleTimer(t.Context(), res.InstanceKey, "finance", mock.Now().Add(time.Hour), "PT1H")
	require.NoError(t, err)

	// when
	mock.Add(time.Hour)
	_, err = engine.FireTimer(t.Context(), timer)

	// then
	require.NoError(t, err)
	assert.Empty(t, scheduledTimers(t, engine, res.InstanceKey))
}

func TestScheduleTimerRejectsInvalidInput(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t)
	def := deployDesign(t, engine, "fork-join.yaml")
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)

	// when
	_, errRecurrence := engine.ScheduleTimer(t.Context(), res.InstanceKey, "finance", mock.Now(), "every hour")
	_, errBookmark := engine.ScheduleTimer(t.Context(), res.InstanceKey, "unknown", mock.Now(), "")

	// then
	var engineErr *BpmnEngineError
	assert.ErrorAs(t, errRecurrence, &engineErr)
	var bookmarkErr *WorkflowBookmarkNotFoundError
	assert.ErrorAs(t, errBookmark, &bookmarkErr)
}

func TestDurationFromAcceptsIsoAndGoDurations(t *testing.T) {
	from := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		value    string
		expected time.Time
	}{
		{"PT10M", from.Add(10 * time.Minute)},
		{"P1D", from.AddDate(0, 0, 1)},
		{"PT1H30M", from.Add(90 * time.Minute)},
		{"45s", from.Add(45 * time.Second)},
	}
	for _, test := range tests {
		t.Run(test.value, func(t *testing.T) {
			at, err := bpmnEngine.durationFrom(test.value, from)
			assert.NoError(t, err)
			assert.Equal(t, test.expected, at)
		})
	}

	_, err := bpmnEngine.durationFrom("soon", from)
	assert.Error(t, err)
	_, err = bpmnEngine.durationFrom("", from)
	assert.Error(t, err)
}
