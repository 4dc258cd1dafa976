// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"testing"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForkUncontrolledJoinIsRejected(t *testing.T) {
	// given
	design := loadDesign(t, "fork-uncontrolled-join.yaml")

	// when
	_, _, err := bpmnEngine.SaveDefinition(t.Context(), SaveDefinitionCmd{Design: design})

	// then
	var validationErr *model.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, err.Error(), "parallel split fork has no matching parallel join")
}

func TestForkControlledParallelJoin(t *testing.T) {
	// setup
	cp := CallPath{}
	cp.register(t, bpmnEngine, "task-a", "task-b", "task-c", "after-join")

	// given
	def := deployDesign(t, bpmnEngine, "fork-join-tasks.yaml")

	// when
	res, err := bpmnEngine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.InstanceStatusCompleted, res.Status)
	assert.Equal(t, "task-a,task-b,task-c,after-join", cp.String())
	assert.Equal(t, []runtime.ExecutionOutcome{runtime.OutcomeArrived, runtime.OutcomeArrived, runtime.OutcomeCompleted},
		historyOutcomes(t, bpmnEngine, res.InstanceKey, "join"))
}

func TestForkJoinAcrossSeparateResumesPassesJoinOnce(t *testing.T) {
	// setup
	cp := CallPath{}
	cp.register(t, bpmnEngine, "after-join")

	// given
	def := deployDesign(t, bpmnEngine, "fork-join.yaml")
	res, err := bpmnEngine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)
	require.Equal(t, runtime.InstanceStatusSuspended, res.Status)
	assert.ElementsMatch(t, []string{"finance", "legal"}, res.Bookmarks)

	// when
	first, err := bpmnEngine.Resume(t.Context(), res.InstanceKey, "finance", map[string]any{"financeApproved": true})
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.InstanceStatusSuspended, first.Status)
	assert.Equal(t, []string{"legal"}, first.Bookmarks)
	assert.Empty(t, cp.String())

	// when
	second, err := bpmnEngine.Resume(t.Context(), res.InstanceKey, "legal", map[string]any{"legalApproved": true})
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.InstanceStatusCompleted, second.Status)
	assert.Equal(t, "after-join", cp.String())
	assert.Equal(t, true, second.Output["financeApproved"])
	assert.Equal(t, true, second.Output["legalApproved"])
	assert.Equal(t, []runtime.ExecutionOutcome{runtime.OutcomeArrived, runtime.OutcomeCompleted},
		historyOutcomes(t, bpmnEngine, res.InstanceKey, "join"))
}

func TestForkJoinResumeOrderDoesNotMatter(t *testing.T) {
	// setup
	cp := CallPath{}
	cp.register(t, bpmnEngine, "after-join")

	// given
	def := deployDesign(t, bpmnEngine, "fork-join.yaml")
	res, err := bpmnEngine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)

	// when
	_, err = bpmnEngine.Resume(t.Context(), res.InstanceKey, "legal", nil)
	require.NoError(t, err)
	final, err := bpmnEngine.Resume(t.Context(), res.InstanceKey, "finance", nil)
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.InstanceStatusCompleted, final.Status)
	assert.Equal(t, "after-join", cp.String())
}

func TestNestedForkJoin(t *testing.T) {
	// setup
	cp := CallPath{}
	cp.register(t, bpmnEngine, "task-a", "task-b", "task-c")

	// given
	def := deployDesign(t, bpmnEngine, "nested-fork-join.yaml")

	// when
	res, err := bpmnEngine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)

	// then
	assert.Equal(t, runtime.InstanceStatusCompleted, res.Status)
	assert.Equal(t, "task-a,task-c,task-b", cp.String())
	assert.Equal(t, []runtime.ExecutionOutcome{runtime.OutcomeArrived, runtime.OutcomeCompleted},
		historyOutcomes(t, bpmnEngine, res.InstanceKey, "inner-join"))
	assert.Equal(t, []runtime.ExecutionOutcome{runtime.OutcomeArrived, runtime.OutcomeCompleted},
		historyOutcomes(t, bpmnEngine, res.InstanceKey, "outer-join"))
}

func TestFaultInOneBranchStopsOtherBranchesUntilRetry(t *testing.T) {
	// setup
	cp := CallPath{}
	cp.register(t, bpmnEngine, "task-b", "task-c", "after-join")
	failing := true
	h := bpmnEngine.NewTaskHandler().Id("task-a").Handler(func(task ActivatedTask) {
		if failing {
			task.Fail("UNAVAILABLE", "try again later")
			return
		}
		task.Complete()
	})
	defer bpmnEngine.RemoveHandler(h)

	// given
	def := deployDesign(t, bpmnEngine, "fork-join-tasks.yaml")
	res, err := bpmnEngine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	require.NoError(t, err)
	require.Equal(t, runtime.InstanceStatusFaulted, res.Status)
	assert.Empty(t, cp.String())

	// when
	failing = false
	retried, err := bpmnEngine.Retry(t.Context(), res.InstanceKey, nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, retried.Status)
	assert.Equal(t, "task-b,task-c,after-join", cp.String())
	assert.Equal(t, []runtime.ExecutionOutcome{runtime.OutcomeFaulted, runtime.OutcomeCompleted},
		historyOutcomes(t, bpmnEngine, res.InstanceKey, "task-a"))
}

func TestRetryAfterFaultLeavingParallelJoinPassesJoinOnce(t *testing.T) {
	// given
	def := deployDesign(t, bpmnEngine, "fork-join-guarded.yaml")
	res, err := bpmnEngine.StartNew(t.Context(), def.Id, map[string]any{"approved": false}, StartOptions{})
	require.NoError(t, err)
	require.Equal(t, runtime.InstanceStatusFaulted, res.Status)
	require.NotNil(t, res.Fault)
	assert.Equal(t, FaultCodeNoMatchingPath, res.Fault.Code)
	assert.Equal(t, "join", res.Fault.ActivityId)

	// when
	retried, err := bpmnEngine.Retry(t.Context(), res.InstanceKey, map[string]any{"approved": true})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusSuspended, retried.Status)
	assert.Equal(t, []string{"release"}, retried.Bookmarks)
	assert.Equal(t, []runtime.ExecutionOutcome{runtime.OutcomeArrived, runtime.OutcomeFaulted, runtime.OutcomeCompleted},
		historyOutcomes(t, bpmnEngine, res.InstanceKey, "join"))

	// when
	resumed, err := bpmnEngine.Resume(t.Context(), res.InstanceKey, "release", nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, resumed.Status)
}

func TestRetryAfterFaultLeavingInclusiveJoinPassesJoinOnce(t *testing.T) {
	// given
	def := deployDesign(t, bpmnEngine, "inclusive-join-guarded.yaml")
	res, err := bpmnEngine.StartNew(t.Context(), def.Id, map[string]any{"email": true, "sms": true, "approved": false}, StartOptions{})
	require.NoError(t, err)
	require.Equal(t, runtime.InstanceStatusFaulted, res.Status)
	require.NotNil(t, res.Fault)
	assert.Equal(t, "merge", res.Fault.ActivityId)

	// when
	retried, err := bpmnEngine.Retry(t.Context(), res.InstanceKey, map[string]any{"approved": true})

	// then
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusSuspended, retried.Status)
	assert.Equal(t, []string{"follow-up"}, retried.Bookmarks)
	assert.Equal(t, []runtime.ExecutionOutcome{runtime.OutcomeArrived, runtime.OutcomeFaulted, runtime.OutcomeCompleted},
		historyOutcomes(t, bpmnEngine, res.InstanceKey, "merge"))
}
