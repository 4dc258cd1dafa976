// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import "time"

type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
)

// Job is the persisted asynchronous execution of a service task.
// The owning branch waits on BookmarkName until the job completes.
type Job struct {
	Key           int64          `json:"key"`
	InstanceKey   int64          `json:"instanceKey"`
	ActivityId    string         `json:"activityId"`
	BranchKey     int64          `json:"branchKey"`
	BookmarkName  string         `json:"bookmarkName"`
	Type          string         `json:"type"`
	State         JobState       `json:"state"`
	Variables     map[string]any `json:"variables,omitempty"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"maxAttempts"`
	NextAttemptAt time.Time      `json:"nextAttemptAt"`
	LastError     string         `json:"lastError,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

func (j Job) IsDue(now time.Time) bool {
	return j.State == JobStatePending && !j.NextAttemptAt.After(now)
}
