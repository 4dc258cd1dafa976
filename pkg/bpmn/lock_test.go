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

func TestOperationsOnLockedInstanceReturnErrInstanceLocked(t *testing.T) {
	// setup
	engine, _ := newMockClockEngine(t, EngineWithLocking(time.Minute, 2, time.Millisecond))
	def := deployDesign(t, engine, "event-start.yaml")
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)

	// given
	ok, err := engine.coordinator.TryAcquireInstanceLock(t.Context(), res.InstanceKey, "other-engine", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// when
	_, err = engine.Resume(t.Context(), res.InstanceKey, "order-confirmed", nil)

	// then
	assert.ErrorIs(t, err, ErrInstanceLocked)
	inst, err := engine.GetInstance(t.Context(), res.InstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusSuspended, inst.Status)

	// when
	require.NoError(t, engine.coordinator.ReleaseInstanceLock(t.Context(), res.InstanceKey, "other-engine"))
	resumed, err := engine.Resume(t.Context(), res.InstanceKey, "order-confirmed", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, resumed.Status)
}

func TestExpiredLockIsTakenOver(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t, EngineWithLocking(time.Minute, 1, time.Millisecond))
	def := deployDesign(t, engine, "event-start.yaml")
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)

	// given
	ok, err := engine.coordinator.TryAcquireInstanceLock(t.Context(), res.InstanceKey, "crashed-engine", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// when
	mock.Add(2 * time.Second)
	resumed, err := engine.Resume(t.Context(), res.InstanceKey, "order-confirmed", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, resumed.Status)
}

func TestLockIsRenewedWhileHandlerRunsLongerThanTTL(t *testing.T) {
	// setup
	engine, mock := newMockClockEngine(t, EngineWithLocking(time.Minute, 1, time.Millisecond))
	var takenOver bool
	h := engine.NewTaskHandler().Id("id").Handler(func(task ActivatedTask) {
		for range 6 {
			mock.Add(20 * time.Second)
			time.Sleep(5 * time.Millisecond)
		}
		ok, err := engine.coordinator.TryAcquireInstanceLock(t.Context(), task.InstanceKey(), "other-engine", time.Minute)
		require.NoError(t, err)
		takenOver = ok
		task.Complete()
	})
	defer engine.RemoveHandler(h)
	def := deployDesign(t, engine, "simple-task.yaml")

	// when
	res, err := engine.StartNew(t.Context(), def.Id, nil, StartOptions{})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, res.Status)
	assert.False(t, takenOver)
	ok, err := engine.coordinator.TryAcquireInstanceLock(t.Context(), res.InstanceKey, "other-engine", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
