// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"fmt"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// EXCLUSIVE_GATEWAY ==============================================

func (engine *Engine) executeExclusiveGateway(ctx context.Context, exec *execution, gateway model.Activity, branchKey int64, started time.Time) error {
	// a converging exclusive gateway routes every arrival without synchronization
	if len(gateway.Conditions) == 0 && gateway.DefaultPath == "" {
		return engine.leave(ctx, exec, gateway, branchKey, nil, started)
	}
	target, err := engine.exclusivelyFilterByConditions(exec.definition, gateway, exec.instance.Variables)
	if err != nil {
		return err
	}
	if err := engine.complete(ctx, exec, gateway, branchKey, map[string]any{"path": target}, started); err != nil {
		return err
	}
	engine.moveBranch(exec, branchKey, target)
	return nil
}

// INCLUSIVE_GATEWAY ==============================================

func (engine *Engine) executeInclusiveGateway(ctx context.Context, exec *execution, gateway model.Activity, branchKey int64, started time.Time) error {
	if gateway.Direction == model.DirectionJoin {
		expected, ok := exec.instance.JoinExpectations[gateway.Id]
		if !ok {
			expected = len(exec.definition.IncomingTransitions(gateway.Id))
		}
		return engine.join(ctx, exec, gateway, branchKey, expected, started)
	}
	if len(gateway.Conditions) == 0 && gateway.DefaultPath == "" {
		return engine.leave(ctx, exec, gateway, branchKey, nil, started)
	}
	targets, err := engine.inclusivelyFilterByConditions(exec.definition, gateway, exec.instance.Variables)
	if err != nil {
		return err
	}
	if gateway.JoinActivityId != "" {
		if exec.instance.JoinExpectations == nil {
			exec.instance.JoinExpectations = map[string]int{}
		}
		exec.instance.JoinExpectations[gateway.JoinActivityId] = len(targets)
	}
	if err := engine.complete(ctx, exec, gateway, branchKey, map[string]any{"paths": targets}, started); err != nil {
		return err
	}
	engine.fork(exec, branchKey, targets)
	return nil
}

// PARALLEL_GATEWAY ==============================================

func (engine *Engine) executeParallelGateway(ctx context.Context, exec *execution, gateway model.Activity, branchKey int64, started time.Time) error {
	if gateway.Direction == model.DirectionJoin {
		expected := gateway.ExpectedArrivals
		if expected == 0 {
			expected = len(exec.definition.IncomingTransitions(gateway.Id))
		}
		return engine.join(ctx, exec, gateway, branchKey, expected, started)
	}
	if len(gateway.OutgoingPaths) == 0 {
		return engine.leave(ctx, exec, gateway, branchKey, nil, started)
	}
	if err := engine.complete(ctx, exec, gateway, branchKey, map[string]any{"paths": gateway.OutgoingPaths}, started); err != nil {
		return err
	}
	engine.fork(exec, branchKey, gateway.OutgoingPaths)
	return nil
}

// join is the synchronization barrier of converging parallel and inclusive gateways.
// Every arrival increments the persisted counter of (instance, join), only the arrival reaching
// the expected count continues, the others end their branch. The passing branch remembers the join,
// so a retry after a fault on the outgoing flow does not arrive a second time.
func (engine *Engine) join(ctx context.Context, exec *execution, gateway model.Activity, branchKey int64, expected int, started time.Time) error {
	inst := exec.instance
	branch := inst.Branch(branchKey)
	if branch.PassedJoin == gateway.Id {
		return engine.leave(ctx, exec, gateway, branchKey, nil, started)
	}
	count, reached, err := engine.coordinator.IncrementJoinCounter(ctx, inst.Key, gateway.Id, expected)
	if err != nil {
		return fmt.Errorf("failed to increment join counter %s of instance %d: %w", gateway.Id, inst.Key, err)
	}
	if !reached {
		inst.RemoveBranch(branchKey)
		engine.logger.Debug("branch arrived at join", "instanceKey", inst.Key, "join", gateway.Id, "arrived", count, "expected", expected)
		return engine.record(ctx, exec, gateway, branchKey, runtime.OutcomeArrived,
			map[string]any{"arrived": count, "expected": expected}, "", started)
	}
	if err := engine.coordinator.ResetJoinCounter(ctx, inst.Key, gateway.Id); err != nil {
		return fmt.Errorf("failed to reset join counter %s of instance %d: %w", gateway.Id, inst.Key, err)
	}
	branch.PassedJoin = gateway.Id
	delete(inst.JoinExpectations, gateway.Id)
	return engine.leave(ctx, exec, gateway, branchKey, nil, started)
}
