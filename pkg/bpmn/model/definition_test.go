// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func linearDefinition() ExecutableDefinition {
	return ExecutableDefinition{
		Id:   "linear",
		Name: "Linear",
		Activities: []Activity{
			{Id: "start", Type: ActivityTypeStart},
			{Id: "task", Type: ActivityTypeTask},
			{Id: "end", Type: ActivityTypeEnd},
		},
		Transitions: []Transition{
			{Id: "f1", SourceActivityId: "start", TargetActivityId: "task"},
			{Id: "f2", SourceActivityId: "task", TargetActivityId: "end"},
		},
	}
}

func TestValidateAcceptsLinearDefinition(t *testing.T) {
	def := linearDefinition()

	res := def.Validate()

	assert.True(t, res.Valid())
	assert.Empty(t, res.Warnings)
	assert.NoError(t, res.Err())
}

func TestValidateRequiresExactlyOneStart(t *testing.T) {
	// given
	noStart := linearDefinition()
	noStart.Activities[0].Type = ActivityTypeTask
	twoStarts := linearDefinition()
	twoStarts.Activities[1].Type = ActivityTypeStart

	// when
	noStartRes := noStart.Validate()
	twoStartsRes := twoStarts.Validate()

	// then
	assert.False(t, noStartRes.Valid())
	assert.Contains(t, noStartRes.Errors, "definition has no start activity")
	assert.False(t, twoStartsRes.Valid())
	var validationErr *ValidationError
	assert.ErrorAs(t, twoStartsRes.Err(), &validationErr)
}

func TestValidateDetectsDanglingTransitions(t *testing.T) {
	def := linearDefinition()
	def.Transitions = append(def.Transitions, Transition{Id: "f3", SourceActivityId: "task", TargetActivityId: "ghost"})

	res := def.Validate()

	assert.False(t, res.Valid())
	assert.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "ghost")
}

func TestValidateWarnsAboutUnreachableActivitiesAndMissingEnd(t *testing.T) {
	// given
	def := linearDefinition()
	def.Activities = append(def.Activities, Activity{Id: "island", Type: ActivityTypeTask})
	def.Activities[2].Type = ActivityTypeTask

	// when
	res := def.Validate()

	// then
	assert.True(t, res.Valid())
	assert.Contains(t, res.Warnings, "definition has no end activity")
	assert.Contains(t, res.Warnings, "activity island is not reachable from start start")
}

func TestOutgoingTransitionsAreOrderedByPriority(t *testing.T) {
	def := ExecutableDefinition{
		Transitions: []Transition{
			{Id: "a", SourceActivityId: "gw", TargetActivityId: "x", Priority: 2},
			{Id: "b", SourceActivityId: "gw", TargetActivityId: "y", Priority: 1},
			{Id: "c", SourceActivityId: "gw", TargetActivityId: "z", Priority: 2},
			{Id: "d", SourceActivityId: "other", TargetActivityId: "z"},
		},
	}

	out := def.OutgoingTransitions("gw")

	ids := []string{}
	for _, tr := range out {
		ids = append(ids, tr.Id)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestParseActivityType(t *testing.T) {
	testCases := []struct {
		in       string
		expected ActivityType
	}{
		{"start", ActivityTypeStart},
		{"exclusiveGateway", ActivityTypeExclusiveGateway},
		{"PARALLEL_GATEWAY", ActivityTypeParallelGateway},
		{"inclusive-gateway", ActivityTypeInclusiveGateway},
		{"userTask", ActivityTypeUserTask},
		{"ServiceTask", ActivityTypeServiceTask},
	}
	for _, c := range testCases {
		actual, err := ParseActivityType(c.in)
		assert.NoError(t, err)
		assert.Equal(t, c.expected, actual)
	}
	_, err := ParseActivityType("subProcess")
	assert.Error(t, err)
}

func TestActivityConfigAccessors(t *testing.T) {
	a := Activity{Config: map[string]any{
		"async":   true,
		"retries": json.Number("5"),
		"timeout": "PT1M",
		"count":   float64(2),
	}}

	assert.True(t, a.ConfigBool(ConfigAsync))
	assert.Equal(t, 5, a.ConfigInt(ConfigRetries, 3))
	assert.Equal(t, 2, a.ConfigInt("count", 0))
	assert.Equal(t, 7, a.ConfigInt("missing", 7))
	timeout, ok := a.ConfigString(ConfigTimeout)
	assert.True(t, ok)
	assert.Equal(t, "PT1M", timeout)
	_, ok = a.ConfigString("missing")
	assert.False(t, ok)
}
