// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import "time"

type ExecutionOutcome string

const (
	OutcomeCompleted ExecutionOutcome = "COMPLETED"
	OutcomeSuspended ExecutionOutcome = "SUSPENDED"
	OutcomeFaulted   ExecutionOutcome = "FAULTED"
	// OutcomeArrived a branch reached a join which still waits for other branches
	OutcomeArrived ExecutionOutcome = "ARRIVED"
	// OutcomeHandled a fault was routed to an error handler
	OutcomeHandled ExecutionOutcome = "HANDLED"
)

// ExecutionRecord is an append only audit entry written for every activity transition.
type ExecutionRecord struct {
	Key          int64            `json:"key"`
	InstanceKey  int64            `json:"instanceKey"`
	BranchKey    int64            `json:"branchKey"`
	ActivityId   string           `json:"activityId"`
	ActivityName string           `json:"activityName,omitempty"`
	ActivityType string           `json:"activityType"`
	Timestamp    time.Time        `json:"timestamp"`
	Duration     time.Duration    `json:"duration"`
	Outcome      ExecutionOutcome `json:"outcome"`
	Output       map[string]any   `json:"output,omitempty"`
	Error        string           `json:"error,omitempty"`
}
