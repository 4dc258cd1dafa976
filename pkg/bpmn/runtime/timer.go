// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import "time"

type TimerState string

const (
	TimerStateScheduled TimerState = "SCHEDULED"
	TimerStateTriggered TimerState = "TRIGGERED"
	TimerStateCancelled TimerState = "CANCELLED"
)

// Timer is a scheduled synthetic signal against a bookmark of an instance.
type Timer struct {
	Key          int64      `json:"key"`
	InstanceKey  int64      `json:"instanceKey"`
	ActivityId   string     `json:"activityId"`
	BookmarkName string     `json:"bookmarkName"`
	FireAt       time.Time  `json:"fireAt"`
	Recurrence   string     `json:"recurrence,omitempty"`
	State        TimerState `json:"state"`
	CreatedAt    time.Time  `json:"createdAt"`
	TriggeredAt  *time.Time `json:"triggeredAt,omitempty"`
}

func (t Timer) IsDue(now time.Time) bool {
	return t.State == TimerStateScheduled && !t.FireAt.After(now)
}
