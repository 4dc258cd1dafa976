// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/script"
)

// evaluateCondition returns true for an empty expression. A false result is a non-match,
// an evaluation error or a non boolean result is returned as *ExpressionEvaluationError.
func (engine *Engine) evaluateCondition(activityId string, target string, expression string, variables map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}
	ok, err := script.EvaluateCondition(engine.evaluator, expression, variables)
	if err != nil {
		return false, &ExpressionEvaluationError{
			Msg: fmt.Sprintf("Error evaluating condition of flow from '%s' to '%s'", activityId, target),
			Err: err,
		}
	}
	return ok, nil
}

// exclusivelyFilterByConditions
// A diverging exclusive gateway takes exactly one path: conditions are evaluated in the priority
// order of the outgoing transitions and the first one evaluating to true wins.
// The default path is taken when no condition matches, without a default path the gateway faults.
func (engine *Engine) exclusivelyFilterByConditions(def *model.ExecutableDefinition, gateway model.Activity, variables map[string]any) (string, error) {
	for _, t := range def.OutgoingTransitions(gateway.Id) {
		expression, ok := gateway.Conditions[t.TargetActivityId]
		if !ok {
			continue
		}
		match, err := engine.evaluateCondition(gateway.Id, t.TargetActivityId, expression, variables)
		if err != nil {
			return "", err
		}
		if match {
			return t.TargetActivityId, nil
		}
	}
	if gateway.DefaultPath != "" {
		return gateway.DefaultPath, nil
	}
	return "", &ActivityFaultError{
		Code:    FaultCodeNoMatchingPath,
		Message: fmt.Sprintf("no condition of gateway %s matched and it has no default path", gateway.Id),
	}
}

// inclusivelyFilterByConditions
// A diverging inclusive gateway evaluates all conditions and takes every path whose condition is true.
// The default path is used only when none matches.
func (engine *Engine) inclusivelyFilterByConditions(def *model.ExecutableDefinition, gateway model.Activity, variables map[string]any) ([]string, error) {
	targets := make([]string, 0)
	for _, t := range def.OutgoingTransitions(gateway.Id) {
		expression, ok := gateway.Conditions[t.TargetActivityId]
		if !ok {
			continue
		}
		match, err := engine.evaluateCondition(gateway.Id, t.TargetActivityId, expression, variables)
		if err != nil {
			return nil, err
		}
		if match {
			targets = append(targets, t.TargetActivityId)
		}
	}
	if len(targets) > 0 {
		return targets, nil
	}
	if gateway.DefaultPath != "" {
		return []string{gateway.DefaultPath}, nil
	}
	return nil, &ActivityFaultError{
		Code:    FaultCodeNoMatchingPath,
		Message: fmt.Sprintf("no condition of gateway %s matched and it has no default path", gateway.Id),
	}
}

// nextActivity picks the first outgoing transition, in priority order, whose condition is empty or true.
// Returns an empty id when the activity has no outgoing transitions.
func (engine *Engine) nextActivity(def *model.ExecutableDefinition, activity model.Activity, variables map[string]any) (string, error) {
	outgoing := def.OutgoingTransitions(activity.Id)
	if len(outgoing) == 0 {
		return "", nil
	}
	for _, t := range outgoing {
		match, err := engine.evaluateCondition(activity.Id, t.TargetActivityId, t.Condition, variables)
		if err != nil {
			return "", err
		}
		if match {
			return t.TargetActivityId, nil
		}
	}
	return "", &ActivityFaultError{
		Code:    FaultCodeNoMatchingPath,
		Message: fmt.Sprintf("no outgoing transition of activity %s matched", activity.Id),
	}
}
