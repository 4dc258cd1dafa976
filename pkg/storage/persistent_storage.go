// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storage

import (
	"context"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// Storage is the persistence contract of the engine.
//
// Methods that are expected to return exactly one match MUST return ErrNotFound when the result does not exist
type Storage interface {
	DefinitionStorageReader
	DefinitionStorageWriter
	InstanceStorageReader
	InstanceStorageWriter
	Coordinator
	HistoryStorage
	TimerStorageReader
	TimerStorageWriter
	JobStorageReader
	JobStorageWriter

	GenerateId() int64
}

type DefinitionStorageReader interface {
	FindDefinitionById(ctx context.Context, definitionId string) (model.WorkflowDefinition, error)

	FindDefinitionByKey(ctx context.Context, key string) (model.WorkflowDefinition, error)

	// FindDefinitions returns all definitions ordered by key
	FindDefinitions(ctx context.Context) ([]model.WorkflowDefinition, error)

	FindVersion(ctx context.Context, definitionId string, version int) (model.ProcessVersion, error)

	// FindVersions returns the versions of a definition ordered from 1 to the latest
	FindVersions(ctx context.Context, definitionId string) ([]model.ProcessVersion, error)
}

type DefinitionStorageWriter interface {
	// SaveDefinition persists the definition envelope and overwrites prior data stored with the same id
	SaveDefinition(ctx context.Context, definition model.WorkflowDefinition) error

	// SaveVersion stores a new version, returns ErrVersionImmutable when the stored version is already published
	SaveVersion(ctx context.Context, version model.ProcessVersion) error

	// PublishVersion marks the version as the published one of its definition
	PublishVersion(ctx context.Context, definitionId string, version int, publishedAt time.Time) error

	// UnpublishDefinition withdraws the published version, new instances can not be started afterwards
	UnpublishDefinition(ctx context.Context, definitionId string) error
}

type InstanceStorageReader interface {
	FindInstanceByKey(ctx context.Context, instanceKey int64) (runtime.WorkflowInstance, error)

	FindInstances(ctx context.Context, query InstanceQuery) (InstancePage, error)

	// FindInstancesByBookmark returns non terminal instances holding a bookmark with the given name
	// ordered by creation time. Empty definitionId matches all definitions.
	FindInstancesByBookmark(ctx context.Context, bookmarkName string, definitionId string) ([]runtime.WorkflowInstance, error)
}

type InstanceStorageWriter interface {
	// SaveInstance persists the instance. It returns ErrInstanceClosed when the stored instance
	// was cancelled or terminated in the meantime, the stored state is kept in that case.
	SaveInstance(ctx context.Context, instance runtime.WorkflowInstance) error

	DeleteInstance(ctx context.Context, instanceKey int64) error

	// UpdateInstanceStatus atomically changes the status when the stored status is one of from.
	// Returns ErrStatusConflict together with the stored instance otherwise.
	UpdateInstanceStatus(ctx context.Context, instanceKey int64, from []runtime.InstanceStatus, to runtime.InstanceStatus, reason string, at time.Time) (runtime.WorkflowInstance, error)
}

// InstanceLocker guards the execution of a single instance. Locks are persisted records with holder and expiry,
// an expired lock can be taken over by another holder.
type InstanceLocker interface {
	TryAcquireInstanceLock(ctx context.Context, instanceKey int64, holder string, ttl time.Duration) (bool, error)
	ReleaseInstanceLock(ctx context.Context, instanceKey int64, holder string) error
}

// JoinCounter keeps the arrival counts of joins keyed by (instance, join activity).
type JoinCounter interface {
	// IncrementJoinCounter increments the counter only while it is below expected.
	// Returns the resulting count and whether it reached expected with this call.
	IncrementJoinCounter(ctx context.Context, instanceKey int64, joinActivityId string, expected int) (int, bool, error)
	ResetJoinCounter(ctx context.Context, instanceKey int64, joinActivityId string) error
}

// Coordinator bundles the primitives several engine processes use to cooperate on one instance.
type Coordinator interface {
	InstanceLocker
	JoinCounter
}

type HistoryStorage interface {
	AppendExecutionRecord(ctx context.Context, record runtime.ExecutionRecord) error

	// FindExecutionRecords returns records of the instance in the order they were appended
	FindExecutionRecords(ctx context.Context, instanceKey int64) ([]runtime.ExecutionRecord, error)
}

type TimerStorageReader interface {
	FindTimerByKey(ctx context.Context, timerKey int64) (runtime.Timer, error)

	// FindDueTimers returns scheduled timers with FireAt not after now ordered by FireAt
	FindDueTimers(ctx context.Context, now time.Time, limit int) ([]runtime.Timer, error)

	FindInstanceTimers(ctx context.Context, instanceKey int64, state runtime.TimerState) ([]runtime.Timer, error)
}

type TimerStorageWriter interface {
	// SaveTimer schedules the timer or overwrites prior data stored with given key
	SaveTimer(ctx context.Context, timer runtime.Timer) error

	MarkTimerTriggered(ctx context.Context, timerKey int64, at time.Time) error

	CancelTimer(ctx context.Context, timerKey int64) error

	TryAcquireTimerLock(ctx context.Context, timerKey int64, holder string, ttl time.Duration) (bool, error)
	ReleaseTimerLock(ctx context.Context, timerKey int64, holder string) error
}

type JobStorageReader interface {
	FindJobByKey(ctx context.Context, jobKey int64) (runtime.Job, error)

	// FindDueJobs returns pending jobs with NextAttemptAt not after now ordered by NextAttemptAt
	FindDueJobs(ctx context.Context, now time.Time, limit int) ([]runtime.Job, error)

	FindInstanceJobs(ctx context.Context, instanceKey int64, state runtime.JobState) ([]runtime.Job, error)
}

type JobStorageWriter interface {
	// SaveJob persists the Job and overwrites prior data stored with given key
	SaveJob(ctx context.Context, job runtime.Job) error

	TryAcquireJobLock(ctx context.Context, jobKey int64, holder string, ttl time.Duration) (bool, error)
	ReleaseJobLock(ctx context.Context, jobKey int64, holder string) error
}
