// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import (
	"fmt"
	"slices"
)

// ExecutableDefinition is the compiled activity/transition graph the engine runs.
type ExecutableDefinition struct {
	Id          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Activities  []Activity   `json:"activities"`
	Transitions []Transition `json:"transitions"`
}

func (d *ExecutableDefinition) Activity(id string) (Activity, bool) {
	for _, a := range d.Activities {
		if a.Id == id {
			return a, true
		}
	}
	return Activity{}, false
}

// StartActivity returns the first activity of type START.
func (d *ExecutableDefinition) StartActivity() (Activity, bool) {
	for _, a := range d.Activities {
		if a.Type == ActivityTypeStart {
			return a, true
		}
	}
	return Activity{}, false
}

// OutgoingTransitions returns transitions leaving activityId ordered by priority.
func (d *ExecutableDefinition) OutgoingTransitions(activityId string) []Transition {
	res := make([]Transition, 0)
	for _, t := range d.Transitions {
		if t.SourceActivityId == activityId {
			res = append(res, t)
		}
	}
	slices.SortStableFunc(res, func(a, b Transition) int {
		return a.Priority - b.Priority
	})
	return res
}

func (d *ExecutableDefinition) IncomingTransitions(activityId string) []Transition {
	res := make([]Transition, 0)
	for _, t := range d.Transitions {
		if t.TargetActivityId == activityId {
			res = append(res, t)
		}
	}
	return res
}

type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns a *ValidationError when the result contains errors, nil otherwise.
func (r ValidationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Msg: "workflow definition is invalid", Problems: r.Errors}
}

func (r *ValidationResult) errorf(format string, a ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, a...))
}

func (r *ValidationResult) warnf(format string, a ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, a...))
}

// Validate runs the structural checks: exactly one start, no dangling transition endpoints,
// reachability from the start (warning) and presence of an end activity (warning).
func (d *ExecutableDefinition) Validate() ValidationResult {
	res := ValidationResult{}
	ids := make(map[string]Activity, len(d.Activities))
	starts := []string{}
	hasEnd := false
	for _, a := range d.Activities {
		if a.Id == "" {
			res.errorf("activity with empty id")
			continue
		}
		if _, dup := ids[a.Id]; dup {
			res.errorf("duplicate activity id %s", a.Id)
			continue
		}
		ids[a.Id] = a
		switch a.Type {
		case ActivityTypeStart:
			starts = append(starts, a.Id)
		case ActivityTypeEnd:
			hasEnd = true
		case "":
			res.errorf("activity %s has no type", a.Id)
		}
	}
	switch len(starts) {
	case 0:
		res.errorf("definition has no start activity")
	case 1:
	default:
		res.errorf("definition has %d start activities %v, exactly one is required", len(starts), starts)
	}
	if !hasEnd {
		res.warnf("definition has no end activity")
	}

	adjacency := map[string][]string{}
	for _, t := range d.Transitions {
		if _, ok := ids[t.SourceActivityId]; !ok {
			res.errorf("transition %s references unknown source activity %q", t.Id, t.SourceActivityId)
			continue
		}
		if _, ok := ids[t.TargetActivityId]; !ok {
			res.errorf("transition %s references unknown target activity %q", t.Id, t.TargetActivityId)
			continue
		}
		adjacency[t.SourceActivityId] = append(adjacency[t.SourceActivityId], t.TargetActivityId)
	}
	for _, a := range d.Activities {
		for _, h := range a.ErrorHandlers {
			if _, ok := ids[h.TargetActivityId]; !ok {
				res.errorf("error handler of activity %s references unknown activity %q", a.Id, h.TargetActivityId)
				continue
			}
			adjacency[a.Id] = append(adjacency[a.Id], h.TargetActivityId)
		}
	}

	if len(starts) == 1 {
		reached := Reachable(starts[0], adjacency)
		for _, a := range d.Activities {
			if _, ok := reached[a.Id]; !ok && a.Id != "" {
				res.warnf("activity %s is not reachable from start %s", a.Id, starts[0])
			}
		}
	}
	return res
}

// Reachable returns the breadth-first distance of every node reachable from origin, origin included.
func Reachable(origin string, adjacency map[string][]string) map[string]int {
	distance := map[string]int{origin: 0}
	queue := []string{origin}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if _, seen := distance[next]; seen {
				continue
			}
			distance[next] = distance[current] + 1
			queue = append(queue, next)
		}
	}
	return distance
}
