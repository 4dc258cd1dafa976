// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storagetest

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	stdruntime "runtime"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	bpmnruntime "github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

// StorageTester is the contract suite every storage.Storage implementation has to pass.
type StorageTester struct {
	definition model.WorkflowDefinition
	instance   bpmnruntime.WorkflowInstance
}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestDefinitionStorageWriter,
		st.TestDefinitionStorageReader,
		st.TestPublishedVersionIsImmutable,
		st.TestUnpublishDefinition,
		st.TestInstanceStorageWriter,
		st.TestInstanceStorageReader,
		st.TestSaveInstanceRefusesClosedInstance,
		st.TestUpdateInstanceStatus,
		st.TestFindInstancesByBookmark,
		st.TestFindInstancesPaging,
		st.TestInstanceLock,
		st.TestJoinCounter,
		st.TestHistoryStorage,
		st.TestTimerStorageWriter,
		st.TestTimerStorageReader,
		st.TestTimerLock,
		st.TestJobStorageWriter,
		st.TestJobStorageReader,
		st.TestJobLock,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func getDefinition(r int64) model.WorkflowDefinition {
	now := time.Now().Truncate(time.Millisecond)
	return model.WorkflowDefinition{
		Id:            fmt.Sprintf("def-%d", r),
		Key:           fmt.Sprintf("key-%d", r),
		Name:          fmt.Sprintf("name-%d", r),
		Category:      "test",
		Tags:          []string{"a", "b"},
		Status:        model.DefinitionStatusDraft,
		LatestVersion: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func getVersion(definitionId string, version int) model.ProcessVersion {
	return model.ProcessVersion{
		DefinitionId: definitionId,
		Version:      version,
		Model: &model.ExecutableDefinition{
			Id: definitionId,
			Activities: []model.Activity{
				{Id: "start", Type: model.ActivityTypeStart},
				{Id: "end", Type: model.ActivityTypeEnd},
			},
			Transitions: []model.Transition{
				{Id: "t1", SourceActivityId: "start", TargetActivityId: "end"},
			},
		},
		ChangeDescription: fmt.Sprintf("version %d", version),
		CreatedAt:         time.Now().Truncate(time.Millisecond),
	}
}

func getInstance(r int64, d model.WorkflowDefinition) bpmnruntime.WorkflowInstance {
	now := time.Now().Truncate(time.Millisecond)
	return bpmnruntime.WorkflowInstance{
		Key:          r,
		DefinitionId: d.Id,
		Version:      1,
		Status:       bpmnruntime.InstanceStatusRunning,
		Branches: []bpmnruntime.Branch{
			{Key: r + 1, ActivityId: "review", State: bpmnruntime.BranchStateWaiting, CreatedAt: now},
		},
		Variables: map[string]any{
			"v1":   float64(123),
			"var2": "val2",
		},
		Bookmarks: []bpmnruntime.Bookmark{
			{Name: fmt.Sprintf("bookmark-%d", r), ActivityId: "review", BranchKey: r + 1, CreatedAt: now},
		},
		CorrelationId: fmt.Sprintf("corr-%d", r),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// PrepareTestData will prepare common data for the tests
func (st *StorageTester) PrepareTestData(s storage.Storage, t *testing.T) {
	r := s.GenerateId()

	st.definition = getDefinition(r)
	err := s.SaveDefinition(t.Context(), st.definition)
	assert.NoError(t, err)
	err = s.SaveVersion(t.Context(), getVersion(st.definition.Id, 1))
	assert.NoError(t, err)

	st.instance = getInstance(r, st.definition)
	err = s.SaveInstance(t.Context(), st.instance)
	assert.NoError(t, err)
}

func (st *StorageTester) TestDefinitionStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		def := getDefinition(r)

		err := s.SaveDefinition(t.Context(), def)
		assert.NoError(t, err)

		def.Name = "renamed"
		err = s.SaveDefinition(t.Context(), def)
		assert.NoError(t, err)

		definition, err := s.FindDefinitionById(t.Context(), def.Id)
		assert.NoError(t, err)
		assert.Equal(t, "renamed", definition.Name)
	}
}

func (st *StorageTester) TestDefinitionStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		def := getDefinition(r)
		require.NoError(t, s.SaveDefinition(t.Context(), def))
		require.NoError(t, s.SaveVersion(t.Context(), getVersion(def.Id, 2)))
		require.NoError(t, s.SaveVersion(t.Context(), getVersion(def.Id, 1)))

		definition, err := s.FindDefinitionByKey(t.Context(), def.Key)
		assert.NoError(t, err)
		assert.Equal(t, def.Id, definition.Id)
		assert.Equal(t, def.Tags, definition.Tags)

		definitions, err := s.FindDefinitions(t.Context())
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, len(definitions), 1)

		versions, err := s.FindVersions(t.Context(), def.Id)
		assert.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, 1, versions[0].Version)
		assert.Equal(t, 2, versions[1].Version)

		version, err := s.FindVersion(t.Context(), def.Id, 2)
		assert.NoError(t, err)
		assert.Equal(t, "version 2", version.ChangeDescription)
		assert.Len(t, version.Model.Activities, 2)

		_, err = s.FindVersion(t.Context(), def.Id, 3)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindDefinitionById(t.Context(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.FindDefinitionByKey(t.Context(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		versions, err = s.FindVersions(t.Context(), "missing")
		assert.NoError(t, err)
		assert.Empty(t, versions)
	}
}

func (st *StorageTester) TestPublishedVersionIsImmutable(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		def := getDefinition(r)
		require.NoError(t, s.SaveDefinition(t.Context(), def))
		require.NoError(t, s.SaveVersion(t.Context(), getVersion(def.Id, 1)))
		publishedAt := time.Now().Truncate(time.Millisecond)

		err := s.PublishVersion(t.Context(), def.Id, 1, publishedAt)
		assert.NoError(t, err)

		definition, err := s.FindDefinitionById(t.Context(), def.Id)
		assert.NoError(t, err)
		assert.True(t, definition.IsPublished())
		assert.Equal(t, 1, definition.PublishedVersion)
		version, err := s.FindVersion(t.Context(), def.Id, 1)
		assert.NoError(t, err)
		require.NotNil(t, version.PublishedAt)
		assert.True(t, publishedAt.Equal(*version.PublishedAt))

		err = s.SaveVersion(t.Context(), getVersion(def.Id, 1))
		assert.ErrorIs(t, err, storage.ErrVersionImmutable)

		err = s.PublishVersion(t.Context(), def.Id, 7, publishedAt)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestUnpublishDefinition(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		def := getDefinition(r)
		require.NoError(t, s.SaveDefinition(t.Context(), def))
		require.NoError(t, s.SaveVersion(t.Context(), getVersion(def.Id, 1)))
		require.NoError(t, s.PublishVersion(t.Context(), def.Id, 1, time.Now()))

		err := s.UnpublishDefinition(t.Context(), def.Id)
		assert.NoError(t, err)

		definition, err := s.FindDefinitionById(t.Context(), def.Id)
		assert.NoError(t, err)
		assert.False(t, definition.IsPublished())
		assert.Equal(t, model.DefinitionStatusDeprecated, definition.Status)

		err = s.UnpublishDefinition(t.Context(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestInstanceStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		inst := getInstance(r, st.definition)

		err := s.SaveInstance(t.Context(), inst)
		assert.NoError(t, err)

		inst.Variables["v1"] = float64(456)
		inst.MarkCompleted("start")
		err = s.SaveInstance(t.Context(), inst)
		assert.NoError(t, err)

		instance, err := s.FindInstanceByKey(t.Context(), inst.Key)
		assert.NoError(t, err)
		assert.Equal(t, float64(456), instance.Variables["v1"])
		assert.Equal(t, []string{"start"}, instance.CompletedActivities)

		err = s.DeleteInstance(t.Context(), inst.Key)
		assert.NoError(t, err)
		_, err = s.FindInstanceByKey(t.Context(), inst.Key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestInstanceStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		instance, err := s.FindInstanceByKey(t.Context(), st.instance.Key)
		assert.NoError(t, err)
		assert.Equal(t, st.instance.Key, instance.Key)
		assert.Equal(t, st.instance.CreatedAt.Truncate(time.Millisecond), instance.CreatedAt.Truncate(time.Millisecond))
		assert.Equal(t, st.instance.Variables, instance.Variables)
		assert.Equal(t, st.instance.Branches, instance.Branches)
		assert.Equal(t, st.instance.Bookmarks, instance.Bookmarks)

		// returned instances must not alias stored data
		instance.Variables["v1"] = "changed"
		again, err := s.FindInstanceByKey(t.Context(), st.instance.Key)
		assert.NoError(t, err)
		assert.Equal(t, float64(123), again.Variables["v1"])

		page, err := s.FindInstances(t.Context(), storage.InstanceQuery{CorrelationId: st.instance.CorrelationId})
		assert.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, st.instance.Key, page.Items[0].Key)
		assert.Equal(t, 1, page.TotalCount)

		_, err = s.FindInstanceByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestSaveInstanceRefusesClosedInstance(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		inst := getInstance(r, st.definition)
		require.NoError(t, s.SaveInstance(t.Context(), inst))
		_, err := s.UpdateInstanceStatus(t.Context(), inst.Key,
			[]bpmnruntime.InstanceStatus{bpmnruntime.InstanceStatusRunning}, bpmnruntime.InstanceStatusCancelled, "", time.Now())
		require.NoError(t, err)

		inst.Status = bpmnruntime.InstanceStatusCompleted
		err = s.SaveInstance(t.Context(), inst)

		assert.ErrorIs(t, err, storage.ErrInstanceClosed)
		stored, err := s.FindInstanceByKey(t.Context(), inst.Key)
		assert.NoError(t, err)
		assert.Equal(t, bpmnruntime.InstanceStatusCancelled, stored.Status)
	}
}

func (st *StorageTester) TestUpdateInstanceStatus(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		inst := getInstance(r, st.definition)
		require.NoError(t, s.SaveInstance(t.Context(), inst))
		at := time.Now().Truncate(time.Millisecond)

		updated, err := s.UpdateInstanceStatus(t.Context(), inst.Key,
			[]bpmnruntime.InstanceStatus{bpmnruntime.InstanceStatusRunning, bpmnruntime.InstanceStatusSuspended},
			bpmnruntime.InstanceStatusTerminated, "operator request", at)
		assert.NoError(t, err)
		assert.Equal(t, bpmnruntime.InstanceStatusTerminated, updated.Status)
		assert.Equal(t, "operator request", updated.TerminationReason)
		require.NotNil(t, updated.CompletedAt)

		stored, err := s.UpdateInstanceStatus(t.Context(), inst.Key,
			[]bpmnruntime.InstanceStatus{bpmnruntime.InstanceStatusRunning}, bpmnruntime.InstanceStatusCancelled, "", at)
		assert.ErrorIs(t, err, storage.ErrStatusConflict)
		assert.Equal(t, bpmnruntime.InstanceStatusTerminated, stored.Status)

		_, err = s.UpdateInstanceStatus(t.Context(), -1, nil, bpmnruntime.InstanceStatusCancelled, "", at)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestFindInstancesByBookmark(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		older := getInstance(r, st.definition)
		newer := getInstance(s.GenerateId(), st.definition)
		newer.Bookmarks = older.Bookmarks
		newer.CreatedAt = older.CreatedAt.Add(time.Second)
		finished := getInstance(s.GenerateId(), st.definition)
		finished.Bookmarks = older.Bookmarks
		finished.Status = bpmnruntime.InstanceStatusCompleted
		for _, inst := range []bpmnruntime.WorkflowInstance{newer, finished, older} {
			require.NoError(t, s.SaveInstance(t.Context(), inst))
		}
		name := older.Bookmarks[0].Name

		found, err := s.FindInstancesByBookmark(t.Context(), name, "")
		assert.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, older.Key, found[0].Key)
		assert.Equal(t, newer.Key, found[1].Key)

		found, err = s.FindInstancesByBookmark(t.Context(), name, "other-definition")
		assert.NoError(t, err)
		assert.Empty(t, found)
	}
}

func (st *StorageTester) TestFindInstancesPaging(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		def := getDefinition(s.GenerateId())
		base := time.Now().Truncate(time.Millisecond)
		for i := range 5 {
			inst := getInstance(s.GenerateId(), def)
			inst.CreatedAt = base.Add(time.Duration(i) * time.Second)
			if i%2 == 0 {
				inst.Status = bpmnruntime.InstanceStatusCompleted
			}
			require.NoError(t, s.SaveInstance(t.Context(), inst))
		}

		page, err := s.FindInstances(t.Context(), storage.InstanceQuery{DefinitionId: def.Id, Page: 2, Size: 2})
		assert.NoError(t, err)
		assert.Equal(t, 5, page.TotalCount)
		assert.Len(t, page.Items, 2)
		assert.Equal(t, base.Add(2*time.Second), page.Items[0].CreatedAt)

		page, err = s.FindInstances(t.Context(), storage.InstanceQuery{
			DefinitionId: def.Id,
			Statuses:     []bpmnruntime.InstanceStatus{bpmnruntime.InstanceStatusCompleted},
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, page.TotalCount)
		assert.Equal(t, storage.DefaultPageSize, page.Size)

		page, err = s.FindInstances(t.Context(), storage.InstanceQuery{DefinitionId: def.Id, Page: 9, Size: 2})
		assert.NoError(t, err)
		assert.Empty(t, page.Items)
	}
}

func (st *StorageTester) TestInstanceLock(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		key := s.GenerateId()

		ok, err := s.TryAcquireInstanceLock(t.Context(), key, "first", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.TryAcquireInstanceLock(t.Context(), key, "second", time.Minute)
		assert.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.TryAcquireInstanceLock(t.Context(), key, "first", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok, "lock is re-entrant for its holder")

		assert.Error(t, s.ReleaseInstanceLock(t.Context(), key, "second"))
		assert.NoError(t, s.ReleaseInstanceLock(t.Context(), key, "first"))

		ok, err = s.TryAcquireInstanceLock(t.Context(), key, "second", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, s.ReleaseInstanceLock(t.Context(), key, "second"))
	}
}

func (st *StorageTester) TestJoinCounter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		key := s.GenerateId()

		count, reached, err := s.IncrementJoinCounter(t.Context(), key, "join", 2)
		assert.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.False(t, reached)

		count, reached, err = s.IncrementJoinCounter(t.Context(), key, "join", 2)
		assert.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.True(t, reached)

		count, reached, err = s.IncrementJoinCounter(t.Context(), key, "join", 2)
		assert.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.False(t, reached, "counter never passes the expected arrivals")

		count, _, err = s.IncrementJoinCounter(t.Context(), key, "other", 2)
		assert.NoError(t, err)
		assert.Equal(t, 1, count)

		require.NoError(t, s.ResetJoinCounter(t.Context(), key, "join"))
		count, _, err = s.IncrementJoinCounter(t.Context(), key, "join", 2)
		assert.NoError(t, err)
		assert.Equal(t, 1, count)
	}
}

func (st *StorageTester) TestHistoryStorage(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		instanceKey := s.GenerateId()
		for i, activity := range []string{"start", "review", "end"} {
			err := s.AppendExecutionRecord(t.Context(), bpmnruntime.ExecutionRecord{
				Key:          s.GenerateId(),
				InstanceKey:  instanceKey,
				ActivityId:   activity,
				ActivityType: "TASK",
				Timestamp:    time.Now().Add(time.Duration(-i) * time.Minute),
				Outcome:      bpmnruntime.OutcomeCompleted,
			})
			assert.NoError(t, err)
		}

		records, err := s.FindExecutionRecords(t.Context(), instanceKey)
		assert.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "start", records[0].ActivityId)
		assert.Equal(t, "end", records[2].ActivityId)

		records, err = s.FindExecutionRecords(t.Context(), -1)
		assert.NoError(t, err)
		assert.Empty(t, records)
	}
}

func getTimer(key, instanceKey int64, fireAt time.Time) bpmnruntime.Timer {
	return bpmnruntime.Timer{
		Key:          key,
		InstanceKey:  instanceKey,
		ActivityId:   fmt.Sprintf("timer-%d", key),
		BookmarkName: fmt.Sprintf("timer:timer-%d", key),
		FireAt:       fireAt,
		State:        bpmnruntime.TimerStateScheduled,
		CreatedAt:    time.Now().Truncate(time.Millisecond),
	}
}

func (st *StorageTester) TestTimerStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		timer := getTimer(r, st.instance.Key, time.Now().Add(time.Hour))

		err := s.SaveTimer(t.Context(), timer)
		assert.NoError(t, err)

		at := time.Now().Truncate(time.Millisecond)
		err = s.MarkTimerTriggered(t.Context(), r, at)
		assert.NoError(t, err)
		stored, err := s.FindTimerByKey(t.Context(), r)
		assert.NoError(t, err)
		assert.Equal(t, bpmnruntime.TimerStateTriggered, stored.State)
		require.NotNil(t, stored.TriggeredAt)

		cancelled := getTimer(s.GenerateId(), st.instance.Key, time.Now())
		require.NoError(t, s.SaveTimer(t.Context(), cancelled))
		err = s.CancelTimer(t.Context(), cancelled.Key)
		assert.NoError(t, err)
		stored, err = s.FindTimerByKey(t.Context(), cancelled.Key)
		assert.NoError(t, err)
		assert.Equal(t, bpmnruntime.TimerStateCancelled, stored.State)

		assert.ErrorIs(t, s.MarkTimerTriggered(t.Context(), -1, at), storage.ErrNotFound)
	}
}

func (st *StorageTester) TestTimerStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		instanceKey := s.GenerateId()
		now := time.Now().Truncate(time.Millisecond)
		later := getTimer(s.GenerateId(), instanceKey, now.Add(-time.Minute))
		earlier := getTimer(s.GenerateId(), instanceKey, now.Add(-time.Hour))
		future := getTimer(s.GenerateId(), instanceKey, now.Add(time.Hour))
		for _, timer := range []bpmnruntime.Timer{later, earlier, future} {
			require.NoError(t, s.SaveTimer(t.Context(), timer))
		}

		due, err := s.FindDueTimers(t.Context(), now, 0)
		assert.NoError(t, err)
		dueKeys := make([]int64, 0)
		for _, timer := range due {
			if timer.InstanceKey == instanceKey {
				dueKeys = append(dueKeys, timer.Key)
			}
		}
		assert.Equal(t, []int64{earlier.Key, later.Key}, dueKeys)

		limited, err := s.FindDueTimers(t.Context(), now, 1)
		assert.NoError(t, err)
		assert.Len(t, limited, 1)

		scheduled, err := s.FindInstanceTimers(t.Context(), instanceKey, bpmnruntime.TimerStateScheduled)
		assert.NoError(t, err)
		assert.Len(t, scheduled, 3)

		_, err = s.FindTimerByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestTimerLock(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		key := s.GenerateId()

		ok, err := s.TryAcquireTimerLock(t.Context(), key, "worker-1", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.TryAcquireTimerLock(t.Context(), key, "worker-2", time.Minute)
		assert.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, s.ReleaseTimerLock(t.Context(), key, "worker-1"))
		ok, err = s.TryAcquireTimerLock(t.Context(), key, "worker-2", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
	}
}

func getJob(key, instanceKey int64, nextAttemptAt time.Time) bpmnruntime.Job {
	return bpmnruntime.Job{
		Key:           key,
		InstanceKey:   instanceKey,
		ActivityId:    fmt.Sprintf("job-%d", key),
		BranchKey:     key + 1,
		BookmarkName:  fmt.Sprintf("job:%d", key),
		Type:          "test-job",
		State:         bpmnruntime.JobStatePending,
		Variables:     map[string]any{"foo": "bar"},
		MaxAttempts:   3,
		NextAttemptAt: nextAttemptAt,
		CreatedAt:     time.Now().Truncate(time.Millisecond),
	}
}

func (st *StorageTester) TestJobStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := s.GenerateId()
		job := getJob(r, st.instance.Key, time.Now())

		err := s.SaveJob(t.Context(), job)
		assert.NoError(t, err)

		job.Attempts = 1
		job.LastError = "boom"
		err = s.SaveJob(t.Context(), job)
		assert.NoError(t, err)

		stored, err := s.FindJobByKey(t.Context(), r)
		assert.NoError(t, err)
		assert.Equal(t, 1, stored.Attempts)
		assert.Equal(t, "boom", stored.LastError)
		assert.Equal(t, job.Variables, stored.Variables)
	}
}

func (st *StorageTester) TestJobStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		instanceKey := s.GenerateId()
		now := time.Now().Truncate(time.Millisecond)
		due := getJob(s.GenerateId(), instanceKey, now.Add(-time.Second))
		notYet := getJob(s.GenerateId(), instanceKey, now.Add(time.Hour))
		done := getJob(s.GenerateId(), instanceKey, now.Add(-time.Hour))
		done.State = bpmnruntime.JobStateCompleted
		for _, job := range []bpmnruntime.Job{due, notYet, done} {
			require.NoError(t, s.SaveJob(t.Context(), job))
		}

		dueJobs, err := s.FindDueJobs(t.Context(), now, 0)
		assert.NoError(t, err)
		found := false
		for _, job := range dueJobs {
			assert.NotEqual(t, notYet.Key, job.Key)
			assert.NotEqual(t, done.Key, job.Key)
			if job.Key == due.Key {
				found = true
			}
		}
		assert.True(t, found)

		pending, err := s.FindInstanceJobs(t.Context(), instanceKey, bpmnruntime.JobStatePending)
		assert.NoError(t, err)
		assert.Len(t, pending, 2)

		_, err = s.FindJobByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func (st *StorageTester) TestJobLock(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		key := s.GenerateId()

		ok, err := s.TryAcquireJobLock(t.Context(), key, "worker-1", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.TryAcquireJobLock(t.Context(), key, "worker-2", time.Minute)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, s.ReleaseJobLock(t.Context(), key, "worker-1"))
	}
}
