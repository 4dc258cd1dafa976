// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package designer

import (
	"testing"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exclusiveDesign() Design {
	return Design{
		Id:          "approval",
		Name:        "Approval",
		Description: "routes big amounts to a manager",
		Nodes: []Node{
			{Id: "start", Type: "start", IsStart: true},
			{Id: "gw", Type: "exclusiveGateway"},
			{Id: "A", Type: "task", Config: map[string]any{"type": "manager"}},
			{Id: "B", Type: "task"},
			{Id: "end", Type: "end"},
		},
		Edges: []Edge{
			{Id: "e1", Source: "start", Target: "gw"},
			{Id: "e2", Source: "gw", Target: "A", Condition: "amount >= 100"},
			{Id: "e3", Source: "gw", Target: "B", IsDefault: true},
			{Id: "e4", Source: "A", Target: "end"},
			{Id: "e5", Source: "B", Target: "end"},
		},
	}
}

func forkJoinDesign() Design {
	return Design{
		Id:   "fork-join",
		Name: "Fork join",
		Nodes: []Node{
			{Id: "start", Type: "start", IsStart: true},
			{Id: "fork", Type: "parallelGateway", Config: map[string]any{"direction": "split"}},
			{Id: "X", Type: "userTask"},
			{Id: "Y", Type: "userTask"},
			{Id: "J", Type: "parallelGateway", Config: map[string]any{"direction": "join"}},
			{Id: "end", Type: "end"},
		},
		Edges: []Edge{
			{Source: "start", Target: "fork"},
			{Source: "fork", Target: "X"},
			{Source: "fork", Target: "Y"},
			{Source: "X", Target: "J"},
			{Source: "Y", Target: "J"},
			{Source: "J", Target: "end"},
		},
	}
}

func TestCompileExclusiveGatewayBuildsConditionMapAndDefault(t *testing.T) {
	// when
	def, err := ToExecutableDefinition(exclusiveDesign())

	// then
	require.NoError(t, err)
	gw, ok := def.Activity("gw")
	require.True(t, ok)
	assert.Equal(t, model.ActivityTypeExclusiveGateway, gw.Type)
	assert.Equal(t, map[string]string{"A": "amount >= 100"}, gw.Conditions)
	assert.Equal(t, "B", gw.DefaultPath)
	assert.Equal(t, model.DirectionSplit, gw.Direction)
	start, ok := def.StartActivity()
	assert.True(t, ok)
	assert.Equal(t, "start", start.Id)
}

func TestCompileRejectsGatewayFlowWithoutConditionOrDefault(t *testing.T) {
	// given
	d := exclusiveDesign()
	d.Edges[2].IsDefault = false

	// when
	_, err := ToExecutableDefinition(d)

	// then
	var validationErr *model.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Problems[0], "no condition")
}

func TestCompileAcceptsExclusiveGatewayWithoutDefault(t *testing.T) {
	d := exclusiveDesign()
	d.Edges[2].IsDefault = false
	d.Edges[2].Condition = "amount < 100"

	def, err := ToExecutableDefinition(d)

	require.NoError(t, err)
	gw, _ := def.Activity("gw")
	assert.Empty(t, gw.DefaultPath)
	assert.Len(t, gw.Conditions, 2)
}

func TestCompileRequiresExactlyOneStartNode(t *testing.T) {
	// given
	none := exclusiveDesign()
	none.Nodes[0].IsStart = false
	none.Nodes[0].Type = "task"
	two := exclusiveDesign()
	two.Nodes = append(two.Nodes, Node{Id: "start2", Type: "start", IsStart: true})

	// when
	_, errNone := ToExecutableDefinition(none)
	_, errTwo := ToExecutableDefinition(two)

	// then
	assert.ErrorContains(t, errNone, "exactly one start node")
	assert.ErrorContains(t, errTwo, "exactly one start node")
}

func TestCompileParallelSplitAndJoin(t *testing.T) {
	def, err := ToExecutableDefinition(forkJoinDesign())

	require.NoError(t, err)
	fork, _ := def.Activity("fork")
	join, _ := def.Activity("J")
	assert.Equal(t, []string{"X", "Y"}, fork.OutgoingPaths)
	assert.Equal(t, "J", fork.JoinActivityId)
	assert.Equal(t, model.DirectionJoin, join.Direction)
	assert.Equal(t, 2, join.ExpectedArrivals)
}

func TestCompileInfersParallelDirection(t *testing.T) {
	d := forkJoinDesign()
	d.Nodes[1].Config = nil
	d.Nodes[4].Config = nil

	def, err := ToExecutableDefinition(d)

	require.NoError(t, err)
	fork, _ := def.Activity("fork")
	join, _ := def.Activity("J")
	assert.Equal(t, model.DirectionSplit, fork.Direction)
	assert.Equal(t, model.DirectionJoin, join.Direction)
}

func TestCompileRejectsSplitWithoutMatchingJoin(t *testing.T) {
	// given a split whose branches end separately
	d := forkJoinDesign()
	d.Nodes = append(d.Nodes[:4], Node{Id: "end", Type: "end"}, Node{Id: "end2", Type: "end"})
	d.Edges = []Edge{
		{Source: "start", Target: "fork"},
		{Source: "fork", Target: "X"},
		{Source: "fork", Target: "Y"},
		{Source: "X", Target: "end"},
		{Source: "Y", Target: "end2"},
	}

	// when
	_, err := ToExecutableDefinition(d)

	// then
	assert.ErrorContains(t, err, "no matching parallel join")
}

func TestCompileRejectsJoinWithWrongArrivalCount(t *testing.T) {
	// given a third flow into the join from outside the fork
	d := forkJoinDesign()
	d.Nodes = append(d.Nodes, Node{Id: "Z", Type: "task"})
	d.Edges = append(d.Edges, Edge{Source: "X", Target: "Z"}, Edge{Source: "Z", Target: "J"})

	// when
	_, err := ToExecutableDefinition(d)

	// then
	assert.ErrorContains(t, err, "expects 3 arrivals")
}

func TestCompileNestedForkJoin(t *testing.T) {
	// given
	d := Design{
		Id: "nested",
		Nodes: []Node{
			{Id: "start", Type: "start", IsStart: true},
			{Id: "outer", Type: "parallelGateway", Config: map[string]any{"direction": "split"}},
			{Id: "A", Type: "task"},
			{Id: "inner", Type: "parallelGateway", Config: map[string]any{"direction": "split"}},
			{Id: "B", Type: "task"},
			{Id: "C", Type: "task"},
			{Id: "innerJoin", Type: "parallelGateway", Config: map[string]any{"direction": "join"}},
			{Id: "outerJoin", Type: "parallelGateway", Config: map[string]any{"direction": "join"}},
			{Id: "end", Type: "end"},
		},
		Edges: []Edge{
			{Source: "start", Target: "outer"},
			{Source: "outer", Target: "A"},
			{Source: "outer", Target: "inner"},
			{Source: "inner", Target: "B"},
			{Source: "inner", Target: "C"},
			{Source: "B", Target: "innerJoin"},
			{Source: "C", Target: "innerJoin"},
			{Source: "innerJoin", Target: "outerJoin"},
			{Source: "A", Target: "outerJoin"},
			{Source: "outerJoin", Target: "end"},
		},
	}

	// when
	def, err := ToExecutableDefinition(d)

	// then
	require.NoError(t, err)
	outer, _ := def.Activity("outer")
	inner, _ := def.Activity("inner")
	assert.Equal(t, "outerJoin", outer.JoinActivityId)
	assert.Equal(t, "innerJoin", inner.JoinActivityId)
}

func TestCompileInclusiveSplitRecordsJoin(t *testing.T) {
	d := Design{
		Id: "inclusive",
		Nodes: []Node{
			{Id: "start", Type: "start", IsStart: true},
			{Id: "split", Type: "inclusiveGateway"},
			{Id: "A", Type: "task"},
			{Id: "B", Type: "task"},
			{Id: "merge", Type: "inclusiveGateway"},
			{Id: "end", Type: "end"},
		},
		Edges: []Edge{
			{Source: "start", Target: "split"},
			{Source: "split", Target: "A", Condition: "a = true"},
			{Source: "split", Target: "B", Condition: "b = true"},
			{Source: "A", Target: "merge"},
			{Source: "B", Target: "merge"},
			{Source: "merge", Target: "end"},
		},
	}

	def, err := ToExecutableDefinition(d)

	require.NoError(t, err)
	split, _ := def.Activity("split")
	merge, _ := def.Activity("merge")
	assert.Equal(t, "merge", split.JoinActivityId)
	assert.Equal(t, model.DirectionJoin, merge.Direction)
}

func TestCompileReadsErrorHandlers(t *testing.T) {
	d := exclusiveDesign()
	d.Nodes[2].Config["errorHandlers"] = []any{map[string]any{"code": "REJECTED", "target": "B"}}

	def, err := ToExecutableDefinition(d)

	require.NoError(t, err)
	a, _ := def.Activity("A")
	assert.Equal(t, []model.ErrorHandler{{Code: "REJECTED", TargetActivityId: "B"}}, a.ErrorHandlers)
}

func TestCompileReturnsWarnings(t *testing.T) {
	d := exclusiveDesign()
	d.Nodes = append(d.Nodes, Node{Id: "orphan", Type: "task"})

	def, res, err := Compile(d)

	require.NoError(t, err)
	assert.NotNil(t, def)
	assert.Contains(t, res.Warnings, "activity orphan is not reachable from start start")
}
