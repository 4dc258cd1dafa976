// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/storage"
)

// Storage keeps workflow information in memory,
// please use NewStorage to create a new object of this type.
type Storage struct {
	mu    sync.RWMutex
	clock clock.Clock

	Definitions map[string]model.WorkflowDefinition
	Versions    map[string]map[int]model.ProcessVersion
	Instances   map[int64]runtime.WorkflowInstance
	Records     map[int64][]runtime.ExecutionRecord
	Timers      map[int64]runtime.Timer
	Jobs        map[int64]runtime.Job

	locks        map[string]lock
	joinCounters map[string]int
}

type lock struct {
	holder    string
	expiresAt time.Time
}

type StorageOption func(*Storage)

// WithClock replaces the clock used to expire locks.
func WithClock(c clock.Clock) StorageOption {
	return func(s *Storage) {
		s.clock = c
	}
}

func NewStorage(options ...StorageOption) *Storage {
	s := &Storage{
		clock:        clock.New(),
		Definitions:  make(map[string]model.WorkflowDefinition),
		Versions:     make(map[string]map[int]model.ProcessVersion),
		Instances:    make(map[int64]runtime.WorkflowInstance),
		Records:      make(map[int64][]runtime.ExecutionRecord),
		Timers:       make(map[int64]runtime.Timer),
		Jobs:         make(map[int64]runtime.Job),
		locks:        make(map[string]lock),
		joinCounters: make(map[string]int),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

var _ storage.Storage = &Storage{}

func (mem *Storage) GenerateId() int64 {
	return rand.Int63()
}

var _ storage.DefinitionStorageReader = &Storage{}

func (mem *Storage) FindDefinitionById(ctx context.Context, definitionId string) (model.WorkflowDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Definitions[definitionId]
	if !ok {
		return res, storage.ErrNotFound
	}
	return cloneDefinition(res), nil
}

func (mem *Storage) FindDefinitionByKey(ctx context.Context, key string) (model.WorkflowDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	for _, def := range mem.Definitions {
		if def.Key == key {
			return cloneDefinition(def), nil
		}
	}
	return model.WorkflowDefinition{}, storage.ErrNotFound
}

func (mem *Storage) FindDefinitions(ctx context.Context) ([]model.WorkflowDefinition, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]model.WorkflowDefinition, 0, len(mem.Definitions))
	for _, def := range mem.Definitions {
		res = append(res, cloneDefinition(def))
	}
	slices.SortFunc(res, func(a, b model.WorkflowDefinition) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return res, nil
}

func (mem *Storage) FindVersion(ctx context.Context, definitionId string, version int) (model.ProcessVersion, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Versions[definitionId][version]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindVersions(ctx context.Context, definitionId string) ([]model.ProcessVersion, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := slices.Collect(maps.Values(mem.Versions[definitionId]))
	if res == nil {
		res = make([]model.ProcessVersion, 0)
	}
	slices.SortFunc(res, func(a, b model.ProcessVersion) int {
		return a.Version - b.Version
	})
	return res, nil
}

var _ storage.DefinitionStorageWriter = &Storage{}

func (mem *Storage) SaveDefinition(ctx context.Context, definition model.WorkflowDefinition) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.Definitions[definition.Id] = cloneDefinition(definition)
	return nil
}

func (mem *Storage) SaveVersion(ctx context.Context, version model.ProcessVersion) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	versions, ok := mem.Versions[version.DefinitionId]
	if !ok {
		versions = make(map[int]model.ProcessVersion)
		mem.Versions[version.DefinitionId] = versions
	}
	if stored, ok := versions[version.Version]; ok && stored.PublishedAt != nil {
		return fmt.Errorf("version %d of %s: %w", version.Version, version.DefinitionId, storage.ErrVersionImmutable)
	}
	versions[version.Version] = version
	return nil
}

func (mem *Storage) PublishVersion(ctx context.Context, definitionId string, version int, publishedAt time.Time) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	def, ok := mem.Definitions[definitionId]
	if !ok {
		return storage.ErrNotFound
	}
	v, ok := mem.Versions[definitionId][version]
	if !ok {
		return storage.ErrNotFound
	}
	if v.PublishedAt == nil {
		v.PublishedAt = &publishedAt
		mem.Versions[definitionId][version] = v
	}
	def.Status = model.DefinitionStatusPublished
	def.PublishedVersion = version
	def.UpdatedAt = publishedAt
	mem.Definitions[definitionId] = def
	return nil
}

func (mem *Storage) UnpublishDefinition(ctx context.Context, definitionId string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	def, ok := mem.Definitions[definitionId]
	if !ok {
		return storage.ErrNotFound
	}
	def.Status = model.DefinitionStatusDeprecated
	def.UpdatedAt = mem.clock.Now()
	mem.Definitions[definitionId] = def
	return nil
}

var _ storage.InstanceStorageReader = &Storage{}

func (mem *Storage) FindInstanceByKey(ctx context.Context, instanceKey int64) (runtime.WorkflowInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Instances[instanceKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res.Clone(), nil
}

func (mem *Storage) FindInstances(ctx context.Context, query storage.InstanceQuery) (storage.InstancePage, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	matched := make([]runtime.WorkflowInstance, 0)
	for _, inst := range mem.Instances {
		if query.Matches(inst) {
			matched = append(matched, inst.Clone())
		}
	}
	slices.SortFunc(matched, compareInstances)
	return query.Paginate(matched), nil
}

func (mem *Storage) FindInstancesByBookmark(ctx context.Context, bookmarkName string, definitionId string) ([]runtime.WorkflowInstance, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.WorkflowInstance, 0)
	for _, inst := range mem.Instances {
		if inst.Status.IsTerminal() {
			continue
		}
		if definitionId != "" && inst.DefinitionId != definitionId {
			continue
		}
		if _, ok := inst.FindBookmark(bookmarkName); !ok {
			continue
		}
		res = append(res, inst.Clone())
	}
	slices.SortFunc(res, compareInstances)
	return res, nil
}

var _ storage.InstanceStorageWriter = &Storage{}

func (mem *Storage) SaveInstance(ctx context.Context, instance runtime.WorkflowInstance) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if stored, ok := mem.Instances[instance.Key]; ok && stored.Status.IsClosed() {
		return fmt.Errorf("instance %d is %s: %w", instance.Key, stored.Status, storage.ErrInstanceClosed)
	}
	mem.Instances[instance.Key] = instance.Clone()
	return nil
}

func (mem *Storage) DeleteInstance(ctx context.Context, instanceKey int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if _, ok := mem.Instances[instanceKey]; !ok {
		return storage.ErrNotFound
	}
	delete(mem.Instances, instanceKey)
	delete(mem.Records, instanceKey)
	return nil
}

func (mem *Storage) UpdateInstanceStatus(ctx context.Context, instanceKey int64, from []runtime.InstanceStatus, to runtime.InstanceStatus, reason string, at time.Time) (runtime.WorkflowInstance, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	inst, ok := mem.Instances[instanceKey]
	if !ok {
		return inst, storage.ErrNotFound
	}
	if len(from) > 0 && !slices.Contains(from, inst.Status) {
		return inst.Clone(), fmt.Errorf("instance %d is %s: %w", instanceKey, inst.Status, storage.ErrStatusConflict)
	}
	inst.Status = to
	inst.UpdatedAt = at
	if reason != "" {
		inst.TerminationReason = reason
	}
	if to.IsTerminal() {
		inst.CompletedAt = &at
	}
	mem.Instances[instanceKey] = inst
	return inst.Clone(), nil
}

var _ storage.Coordinator = &Storage{}

func (mem *Storage) TryAcquireInstanceLock(ctx context.Context, instanceKey int64, holder string, ttl time.Duration) (bool, error) {
	return mem.tryAcquire(fmt.Sprintf("instance:%d", instanceKey), holder, ttl), nil
}

func (mem *Storage) ReleaseInstanceLock(ctx context.Context, instanceKey int64, holder string) error {
	return mem.release(fmt.Sprintf("instance:%d", instanceKey), holder)
}

func (mem *Storage) IncrementJoinCounter(ctx context.Context, instanceKey int64, joinActivityId string, expected int) (int, bool, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	key := joinCounterKey(instanceKey, joinActivityId)
	count := mem.joinCounters[key]
	if count >= expected {
		return count, false, nil
	}
	count++
	mem.joinCounters[key] = count
	return count, count == expected, nil
}

func (mem *Storage) ResetJoinCounter(ctx context.Context, instanceKey int64, joinActivityId string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	delete(mem.joinCounters, joinCounterKey(instanceKey, joinActivityId))
	return nil
}

func joinCounterKey(instanceKey int64, joinActivityId string) string {
	return fmt.Sprintf("%d/%s", instanceKey, joinActivityId)
}

var _ storage.HistoryStorage = &Storage{}

func (mem *Storage) AppendExecutionRecord(ctx context.Context, record runtime.ExecutionRecord) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.Records[record.InstanceKey] = append(mem.Records[record.InstanceKey], record)
	return nil
}

func (mem *Storage) FindExecutionRecords(ctx context.Context, instanceKey int64) ([]runtime.ExecutionRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := slices.Clone(mem.Records[instanceKey])
	if res == nil {
		res = make([]runtime.ExecutionRecord, 0)
	}
	return res, nil
}

var _ storage.TimerStorageReader = &Storage{}

func (mem *Storage) FindTimerByKey(ctx context.Context, timerKey int64) (runtime.Timer, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Timers[timerKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindDueTimers(ctx context.Context, now time.Time, limit int) ([]runtime.Timer, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Timer, 0)
	for _, timer := range mem.Timers {
		if timer.IsDue(now) {
			res = append(res, timer)
		}
	}
	slices.SortFunc(res, func(a, b runtime.Timer) int {
		return cmp.Or(a.FireAt.Compare(b.FireAt), cmp.Compare(a.Key, b.Key))
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (mem *Storage) FindInstanceTimers(ctx context.Context, instanceKey int64, state runtime.TimerState) ([]runtime.Timer, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Timer, 0)
	for _, timer := range mem.Timers {
		if timer.InstanceKey != instanceKey {
			continue
		}
		if timer.State != state {
			continue
		}
		res = append(res, timer)
	}
	slices.SortFunc(res, func(a, b runtime.Timer) int {
		return a.FireAt.Compare(b.FireAt)
	})
	return res, nil
}

var _ storage.TimerStorageWriter = &Storage{}

func (mem *Storage) SaveTimer(ctx context.Context, timer runtime.Timer) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.Timers[timer.Key] = timer
	return nil
}

func (mem *Storage) MarkTimerTriggered(ctx context.Context, timerKey int64, at time.Time) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	timer, ok := mem.Timers[timerKey]
	if !ok {
		return storage.ErrNotFound
	}
	timer.State = runtime.TimerStateTriggered
	timer.TriggeredAt = &at
	mem.Timers[timerKey] = timer
	return nil
}

func (mem *Storage) CancelTimer(ctx context.Context, timerKey int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	timer, ok := mem.Timers[timerKey]
	if !ok {
		return storage.ErrNotFound
	}
	if timer.State == runtime.TimerStateScheduled {
		timer.State = runtime.TimerStateCancelled
		mem.Timers[timerKey] = timer
	}
	return nil
}

func (mem *Storage) TryAcquireTimerLock(ctx context.Context, timerKey int64, holder string, ttl time.Duration) (bool, error) {
	return mem.tryAcquire(fmt.Sprintf("timer:%d", timerKey), holder, ttl), nil
}

func (mem *Storage) ReleaseTimerLock(ctx context.Context, timerKey int64, holder string) error {
	return mem.release(fmt.Sprintf("timer:%d", timerKey), holder)
}

var _ storage.JobStorageReader = &Storage{}

func (mem *Storage) FindJobByKey(ctx context.Context, jobKey int64) (runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Jobs[jobKey]
	if !ok {
		return res, storage.ErrNotFound
	}
	res.Variables = maps.Clone(res.Variables)
	return res, nil
}

func (mem *Storage) FindDueJobs(ctx context.Context, now time.Time, limit int) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Job, 0)
	for _, job := range mem.Jobs {
		if job.IsDue(now) {
			job.Variables = maps.Clone(job.Variables)
			res = append(res, job)
		}
	}
	slices.SortFunc(res, func(a, b runtime.Job) int {
		return cmp.Or(a.NextAttemptAt.Compare(b.NextAttemptAt), cmp.Compare(a.Key, b.Key))
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (mem *Storage) FindInstanceJobs(ctx context.Context, instanceKey int64, state runtime.JobState) ([]runtime.Job, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Job, 0)
	for _, job := range mem.Jobs {
		if job.InstanceKey != instanceKey {
			continue
		}
		if job.State != state {
			continue
		}
		job.Variables = maps.Clone(job.Variables)
		res = append(res, job)
	}
	slices.SortFunc(res, func(a, b runtime.Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return res, nil
}

var _ storage.JobStorageWriter = &Storage{}

func (mem *Storage) SaveJob(ctx context.Context, job runtime.Job) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	job.Variables = maps.Clone(job.Variables)
	mem.Jobs[job.Key] = job
	return nil
}

func (mem *Storage) TryAcquireJobLock(ctx context.Context, jobKey int64, holder string, ttl time.Duration) (bool, error) {
	return mem.tryAcquire(fmt.Sprintf("job:%d", jobKey), holder, ttl), nil
}

func (mem *Storage) ReleaseJobLock(ctx context.Context, jobKey int64, holder string) error {
	return mem.release(fmt.Sprintf("job:%d", jobKey), holder)
}

// tryAcquire takes the lock when it is free, expired or already held by holder.
func (mem *Storage) tryAcquire(key string, holder string, ttl time.Duration) bool {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	now := mem.clock.Now()
	if l, ok := mem.locks[key]; ok && l.holder != holder && now.Before(l.expiresAt) {
		return false
	}
	mem.locks[key] = lock{holder: holder, expiresAt: now.Add(ttl)}
	return true
}

func (mem *Storage) release(key string, holder string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	l, ok := mem.locks[key]
	if !ok {
		return nil
	}
	if l.holder != holder {
		return fmt.Errorf("%s held by %s: %w", key, l.holder, storage.ErrLockNotHeld)
	}
	delete(mem.locks, key)
	return nil
}

func compareInstances(a, b runtime.WorkflowInstance) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Key, b.Key))
}

func cloneDefinition(def model.WorkflowDefinition) model.WorkflowDefinition {
	def.Tags = slices.Clone(def.Tags)
	return def
}
