// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package designer

import (
	"fmt"
	"maps"
	"strings"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
)

// ToExecutableDefinition compiles the design and returns a *model.ValidationError when it is not executable.
func ToExecutableDefinition(d Design) (*model.ExecutableDefinition, error) {
	def, _, err := Compile(d)
	return def, err
}

// Compile converts the design into an executable definition, resolves gateway data
// (condition maps, default paths, fan-out sets, join arrival counts) and runs the structural validation.
// Warnings of the validation are returned alongside a valid definition.
func Compile(d Design) (*model.ExecutableDefinition, model.ValidationResult, error) {
	c := compiler{design: d}
	def := c.compile()
	if len(c.problems) > 0 {
		res := model.ValidationResult{Errors: c.problems}
		return nil, res, res.Err()
	}
	res := def.Validate()
	if err := res.Err(); err != nil {
		return nil, res, err
	}
	return def, res, nil
}

type compiler struct {
	design   Design
	problems []string
	outgoing map[string][]Edge
	incoming map[string][]Edge
	forward  map[string][]string
}

func (c *compiler) problemf(format string, a ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, a...))
}

func (c *compiler) compile() *model.ExecutableDefinition {
	def := &model.ExecutableDefinition{
		Id:          c.design.Id,
		Name:        c.design.Name,
		Description: c.design.Description,
		Activities:  make([]model.Activity, 0, len(c.design.Nodes)),
		Transitions: make([]model.Transition, 0, len(c.design.Edges)),
	}
	c.outgoing = map[string][]Edge{}
	c.incoming = map[string][]Edge{}
	c.forward = map[string][]string{}
	for i, e := range c.design.Edges {
		if e.Id == "" {
			e.Id = fmt.Sprintf("flow-%d", i+1)
		}
		c.outgoing[e.Source] = append(c.outgoing[e.Source], e)
		c.incoming[e.Target] = append(c.incoming[e.Target], e)
		c.forward[e.Source] = append(c.forward[e.Source], e.Target)
		def.Transitions = append(def.Transitions, model.Transition{
			Id:               e.Id,
			SourceActivityId: e.Source,
			TargetActivityId: e.Target,
			Condition:        strings.TrimSpace(e.Condition),
			Priority:         e.Priority,
			IsDefault:        e.IsDefault,
		})
	}

	starts := 0
	for _, n := range c.design.Nodes {
		if n.IsStart {
			starts++
		}
	}
	if starts != 1 {
		c.problemf("design must flag exactly one start node, found %d", starts)
	}

	for _, n := range c.design.Nodes {
		activity, ok := c.compileNode(n)
		if ok {
			def.Activities = append(def.Activities, activity)
		}
	}
	if len(c.problems) == 0 {
		c.matchJoins(def)
	}
	return def
}

func (c *compiler) compileNode(n Node) (model.Activity, bool) {
	var activityType model.ActivityType
	if n.Type == "" && n.IsStart {
		activityType = model.ActivityTypeStart
	} else {
		t, err := model.ParseActivityType(n.Type)
		if err != nil {
			c.problemf("node %s: %s", n.Id, err)
			return model.Activity{}, false
		}
		activityType = t
	}
	if n.IsStart && activityType != model.ActivityTypeStart {
		c.problemf("node %s is flagged as start but has type %s", n.Id, activityType)
	}
	if !n.IsStart && activityType == model.ActivityTypeStart {
		c.problemf("node %s has type %s but is not flagged as start", n.Id, activityType)
	}
	activity := model.Activity{
		Id:     n.Id,
		Name:   n.Label,
		Type:   activityType,
		Config: maps.Clone(n.Config),
	}
	activity.ErrorHandlers = errorHandlers(n.Config)

	switch activityType {
	case model.ActivityTypeExclusiveGateway, model.ActivityTypeInclusiveGateway:
		c.compileConditionalGateway(&activity)
	case model.ActivityTypeParallelGateway:
		c.compileParallelGateway(&activity, n)
	}
	return activity, true
}

// compileConditionalGateway builds the target -> condition map of a diverging gateway.
// Every outgoing edge must either carry a condition or be the single default.
func (c *compiler) compileConditionalGateway(activity *model.Activity) {
	out := c.outgoing[activity.Id]
	in := c.incoming[activity.Id]
	if len(out) <= 1 {
		if len(in) > 1 {
			activity.Direction = model.DirectionJoin
		}
		return
	}
	activity.Direction = model.DirectionSplit
	activity.Conditions = make(map[string]string, len(out))
	for _, e := range out {
		condition := strings.TrimSpace(e.Condition)
		if e.IsDefault {
			if activity.DefaultPath != "" {
				c.problemf("gateway %s has more than one default flow", activity.Id)
				continue
			}
			activity.DefaultPath = e.Target
			continue
		}
		if condition == "" {
			c.problemf("gateway %s: flow %s to %s has no condition and is not the default flow", activity.Id, e.Id, e.Target)
			continue
		}
		activity.Conditions[e.Target] = condition
	}
}

func (c *compiler) compileParallelGateway(activity *model.Activity, n Node) {
	out := c.outgoing[n.Id]
	in := c.incoming[n.Id]
	direction := model.GatewayDirection(strings.ToLower(fmt.Sprint(n.Config[model.ConfigDirection])))
	switch direction {
	case model.DirectionSplit, model.DirectionJoin:
	case "", "<nil>":
		direction = model.DirectionSplit
		if len(in) > 1 && len(out) <= 1 {
			direction = model.DirectionJoin
		}
	default:
		c.problemf("parallel gateway %s has unknown direction %q", n.Id, direction)
		return
	}
	activity.Direction = direction
	if direction == model.DirectionSplit {
		activity.OutgoingPaths = make([]string, 0, len(out))
		for _, e := range out {
			activity.OutgoingPaths = append(activity.OutgoingPaths, e.Target)
		}
		return
	}
	activity.ExpectedArrivals = len(in)
}

// matchJoins pairs every split with the closest join that all of its branches reach.
// Parallel splits must be matched by a join expecting exactly one arrival per branch.
// Inclusive splits are matched when such a join exists, the runtime decides the arrival count.
func (c *compiler) matchJoins(def *model.ExecutableDefinition) {
	byId := map[string]*model.Activity{}
	for i := range def.Activities {
		byId[def.Activities[i].Id] = &def.Activities[i]
	}
	for i := range def.Activities {
		split := &def.Activities[i]
		if split.Direction != model.DirectionSplit {
			continue
		}
		if split.Type != model.ActivityTypeParallelGateway && split.Type != model.ActivityTypeInclusiveGateway {
			continue
		}
		targets := split.OutgoingPaths
		if split.Type == model.ActivityTypeInclusiveGateway {
			targets = c.forward[split.Id]
		}
		joinId := c.closestCommonJoin(split, targets, byId)
		if split.Type == model.ActivityTypeParallelGateway {
			if joinId == "" {
				c.problemf("parallel split %s has no matching parallel join", split.Id)
				continue
			}
			join := byId[joinId]
			if join.ExpectedArrivals != len(split.OutgoingPaths) {
				c.problemf("parallel join %s expects %d arrivals but split %s forks into %d branches",
					join.Id, join.ExpectedArrivals, split.Id, len(split.OutgoingPaths))
				continue
			}
		}
		split.JoinActivityId = joinId
	}
}

func (c *compiler) closestCommonJoin(split *model.Activity, targets []string, byId map[string]*model.Activity) string {
	if len(targets) == 0 {
		return ""
	}
	branchReach := make([]map[string]int, 0, len(targets))
	for _, target := range targets {
		branchReach = append(branchReach, model.Reachable(target, c.forward))
	}
	fromSplit := model.Reachable(split.Id, c.forward)
	best := ""
	bestDistance := -1
	for id, distance := range fromSplit {
		candidate, ok := byId[id]
		if !ok || id == split.Id || candidate.Type != split.Type || candidate.Direction != model.DirectionJoin {
			continue
		}
		reachedByAll := true
		for _, reach := range branchReach {
			if _, ok := reach[id]; !ok {
				reachedByAll = false
				break
			}
		}
		if !reachedByAll {
			continue
		}
		if bestDistance == -1 || distance < bestDistance || (distance == bestDistance && id < best) {
			best = id
			bestDistance = distance
		}
	}
	return best
}

// errorHandlers reads the optional "errorHandlers" node configuration:
// a list of {code, target} objects.
func errorHandlers(config map[string]any) []model.ErrorHandler {
	raw, ok := config["errorHandlers"].([]any)
	if !ok {
		return nil
	}
	handlers := make([]model.ErrorHandler, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		code, _ := m["code"].(string)
		target, _ := m["target"].(string)
		if target == "" {
			continue
		}
		if code == "" {
			code = "*"
		}
		handlers = append(handlers, model.ErrorHandler{Code: code, TargetActivityId: target})
	}
	return handlers
}
