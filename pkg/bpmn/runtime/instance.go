// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import (
	"maps"
	"slices"
	"time"
)

type InstanceStatus string

const (
	InstanceStatusCreated    InstanceStatus = "Created"
	InstanceStatusRunning    InstanceStatus = "Running"
	InstanceStatusSuspended  InstanceStatus = "Suspended"
	InstanceStatusCompleted  InstanceStatus = "Completed"
	InstanceStatusFaulted    InstanceStatus = "Faulted"
	InstanceStatusCancelled  InstanceStatus = "Cancelled"
	InstanceStatusTerminated InstanceStatus = "Terminated"
)

// IsTerminal reports whether no further execution is possible.
// Faulted counts as terminal, only a retry brings such instance back to Running.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusFaulted, InstanceStatusCancelled, InstanceStatusTerminated:
		return true
	}
	return false
}

// IsClosed reports whether the instance was stopped from outside and must not be overwritten by an execution.
func (s InstanceStatus) IsClosed() bool {
	return s == InstanceStatusCancelled || s == InstanceStatusTerminated
}

type BranchState string

const (
	// BranchStateReady branch is queued to execute its activity
	BranchStateReady BranchState = "READY"
	// BranchStateWaiting branch holds a bookmark and waits for resume, signal or timer
	BranchStateWaiting BranchState = "WAITING"
	// BranchStateFaulted branch failed on its activity, retry re-executes it
	BranchStateFaulted BranchState = "FAULTED"
)

// Branch is one independently advancing path of an instance.
type Branch struct {
	Key        int64       `json:"key"`
	ActivityId string      `json:"activityId"`
	State      BranchState `json:"state"`
	// PassedJoin is the join whose barrier the branch already passed while it still sits on the join
	PassedJoin string    `json:"passedJoin,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Bookmark is a named durable suspension point owned by an activity of a branch.
type Bookmark struct {
	Name       string    `json:"name"`
	ActivityId string    `json:"activityId"`
	BranchKey  int64     `json:"branchKey"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Fault struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	ActivityId string    `json:"activityId"`
	BranchKey  int64     `json:"branchKey"`
	OccurredAt time.Time `json:"occurredAt"`
}

type WorkflowInstance struct {
	Key          int64          `json:"key"`
	DefinitionId string         `json:"definitionId"`
	Version      int            `json:"version"`
	Status       InstanceStatus `json:"status"`

	Branches            []Branch       `json:"branches"`
	CompletedActivities []string       `json:"completedActivities"`
	Variables           map[string]any `json:"variables"`
	Input               map[string]any `json:"input,omitempty"`
	Output              map[string]any `json:"output,omitempty"`
	Bookmarks           []Bookmark     `json:"bookmarks"`
	// JoinExpectations holds the arrival count recorded by an inclusive split for its join
	JoinExpectations map[string]int `json:"joinExpectations,omitempty"`

	Fault             *Fault `json:"fault,omitempty"`
	FaultCount        int    `json:"faultCount"`
	RetryCount        int    `json:"retryCount"`
	TerminationReason string `json:"terminationReason,omitempty"`

	CorrelationId string `json:"correlationId,omitempty"`
	TenantId      string `json:"tenantId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (wi *WorkflowInstance) Branch(key int64) *Branch {
	for i := range wi.Branches {
		if wi.Branches[i].Key == key {
			return &wi.Branches[i]
		}
	}
	return nil
}

func (wi *WorkflowInstance) AddBranch(branch Branch) {
	wi.Branches = append(wi.Branches, branch)
}

func (wi *WorkflowInstance) RemoveBranch(key int64) {
	wi.Branches = slices.DeleteFunc(wi.Branches, func(b Branch) bool {
		return b.Key == key
	})
}

// BranchesInState returns keys of branches in the given state in their stored order.
func (wi *WorkflowInstance) BranchesInState(state BranchState) []int64 {
	keys := make([]int64, 0)
	for _, b := range wi.Branches {
		if b.State == state {
			keys = append(keys, b.Key)
		}
	}
	return keys
}

func (wi *WorkflowInstance) FindBookmark(name string) (Bookmark, bool) {
	for _, b := range wi.Bookmarks {
		if b.Name == name {
			return b, true
		}
	}
	return Bookmark{}, false
}

func (wi *WorkflowInstance) AddBookmark(bookmark Bookmark) {
	wi.Bookmarks = append(wi.Bookmarks, bookmark)
}

func (wi *WorkflowInstance) RemoveBookmark(name string) {
	wi.Bookmarks = slices.DeleteFunc(wi.Bookmarks, func(b Bookmark) bool {
		return b.Name == name
	})
}

// MarkCompleted adds the activity to the completed set.
func (wi *WorkflowInstance) MarkCompleted(activityId string) {
	if !slices.Contains(wi.CompletedActivities, activityId) {
		wi.CompletedActivities = append(wi.CompletedActivities, activityId)
	}
}

func (wi *WorkflowInstance) SetVariables(variables map[string]any) {
	if wi.Variables == nil {
		wi.Variables = make(map[string]any, len(variables))
	}
	maps.Copy(wi.Variables, variables)
}

// Clone returns a copy that does not share slices or top level maps with wi.
func (wi WorkflowInstance) Clone() WorkflowInstance {
	c := wi
	c.Branches = slices.Clone(wi.Branches)
	c.CompletedActivities = slices.Clone(wi.CompletedActivities)
	c.Bookmarks = slices.Clone(wi.Bookmarks)
	c.Variables = maps.Clone(wi.Variables)
	c.Input = maps.Clone(wi.Input)
	c.Output = maps.Clone(wi.Output)
	c.JoinExpectations = maps.Clone(wi.JoinExpectations)
	if wi.Fault != nil {
		f := *wi.Fault
		c.Fault = &f
	}
	if wi.CompletedAt != nil {
		t := *wi.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
