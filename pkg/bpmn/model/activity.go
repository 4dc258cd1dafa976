// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type ActivityType string
type GatewayDirection string

const (
	ActivityTypeStart            ActivityType = "START"
	ActivityTypeEnd              ActivityType = "END"
	ActivityTypeTask             ActivityType = "TASK"
	ActivityTypeUserTask         ActivityType = "USER_TASK"
	ActivityTypeServiceTask      ActivityType = "SERVICE_TASK"
	ActivityTypeExclusiveGateway ActivityType = "EXCLUSIVE_GATEWAY"
	ActivityTypeParallelGateway  ActivityType = "PARALLEL_GATEWAY"
	ActivityTypeInclusiveGateway ActivityType = "INCLUSIVE_GATEWAY"

	DirectionSplit GatewayDirection = "split"
	DirectionJoin  GatewayDirection = "join"
)

// Well known activity configuration keys.
const (
	ConfigDirection = "direction"
	ConfigBookmark  = "bookmark"
	ConfigTimeout   = "timeout"
	ConfigDelay     = "delay"
	ConfigAsync     = "async"
	ConfigTaskType  = "type"
	ConfigRetries   = "retries"
	ConfigTrigger   = "trigger"
)

var activityTypeAliases = map[string]ActivityType{
	"START":            ActivityTypeStart,
	"STARTEVENT":       ActivityTypeStart,
	"END":              ActivityTypeEnd,
	"ENDEVENT":         ActivityTypeEnd,
	"TASK":             ActivityTypeTask,
	"USERTASK":         ActivityTypeUserTask,
	"SERVICETASK":      ActivityTypeServiceTask,
	"EXCLUSIVEGATEWAY": ActivityTypeExclusiveGateway,
	"PARALLELGATEWAY":  ActivityTypeParallelGateway,
	"INCLUSIVEGATEWAY": ActivityTypeInclusiveGateway,
}

// ParseActivityType accepts both the canonical form (EXCLUSIVE_GATEWAY) and designer forms (exclusiveGateway, exclusive-gateway).
func ParseActivityType(s string) (ActivityType, error) {
	normalized := strings.ToUpper(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	t, ok := activityTypeAliases[normalized]
	if !ok {
		return "", fmt.Errorf("unknown activity type %q", s)
	}
	return t, nil
}

func (t ActivityType) IsGateway() bool {
	switch t {
	case ActivityTypeExclusiveGateway, ActivityTypeParallelGateway, ActivityTypeInclusiveGateway:
		return true
	}
	return false
}

// ErrorHandler routes a runtime fault with matching Code to another activity instead of faulting the instance.
// Code "*" matches any fault.
type ErrorHandler struct {
	Code             string `json:"code"`
	TargetActivityId string `json:"targetActivityId"`
}

func (h ErrorHandler) Matches(code string) bool {
	return h.Code == "*" || h.Code == code
}

type Activity struct {
	Id     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Type   ActivityType   `json:"type"`
	Config map[string]any `json:"config,omitempty"`

	// Conditions maps target activity id to the condition expression of an exclusive or inclusive gateway
	Conditions       map[string]string `json:"conditions,omitempty"`
	DefaultPath      string            `json:"defaultPath,omitempty"`
	Direction        GatewayDirection  `json:"direction,omitempty"`
	OutgoingPaths    []string          `json:"outgoingPaths,omitempty"`
	ExpectedArrivals int               `json:"expectedArrivals,omitempty"`
	// JoinActivityId is the join matched to a split gateway
	JoinActivityId string `json:"joinActivityId,omitempty"`

	ErrorHandlers []ErrorHandler `json:"errorHandlers,omitempty"`
}

func (a Activity) ConfigString(key string) (string, bool) {
	v, ok := a.Config[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, val != ""
	default:
		return fmt.Sprint(val), true
	}
}

func (a Activity) ConfigBool(key string) bool {
	switch val := a.Config[key].(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	}
	return false
}

func (a Activity) ConfigInt(key string, def int) int {
	switch val := a.Config[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

type Transition struct {
	Id               string `json:"id"`
	SourceActivityId string `json:"sourceActivityId"`
	TargetActivityId string `json:"targetActivityId"`
	Condition        string `json:"condition,omitempty"`
	// Priority orders outgoing transitions, lower first. Equal priorities keep declaration order.
	Priority  int  `json:"priority,omitempty"`
	IsDefault bool `json:"isDefault,omitempty"`
}
