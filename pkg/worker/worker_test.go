// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newEngine(t *testing.T) (*bpmn.Engine, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := inmemory.NewStorage(inmemory.WithClock(mock))
	engine, err := bpmn.NewEngine(bpmn.EngineWithStorage(store), bpmn.EngineWithClock(mock))
	require.NoError(t, err)
	return engine, mock
}

func deploy(t *testing.T, engine *bpmn.Engine, filename string) string {
	t.Helper()
	def, err := engine.DeployFromFile(t.Context(), filepath.Join("..", "bpmn", "test-cases", filename))
	require.NoError(t, err)
	return def.Id
}

// fakeEngine records the processed items and fails the configured ones.
type fakeEngine struct {
	store storage.Storage
	clock clock.Clock

	mu      sync.Mutex
	fired   []int64
	failing map[int64]error
	panics  map[int64]bool
}

func newFakeEngine(mock *clock.Mock) *fakeEngine {
	return &fakeEngine{
		store:   inmemory.NewStorage(inmemory.WithClock(mock)),
		clock:   mock,
		failing: map[int64]error{},
		panics:  map[int64]bool{},
	}
}

func (f *fakeEngine) FireTimer(ctx context.Context, timer runtime.Timer) (bpmn.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, timer.Key)
	if f.panics[timer.Key] {
		panic(fmt.Sprintf("timer %d exploded", timer.Key))
	}
	if err, ok := f.failing[timer.Key]; ok {
		return bpmn.ExecutionResult{}, err
	}
	return bpmn.ExecutionResult{InstanceKey: timer.InstanceKey}, f.store.MarkTimerTriggered(ctx, timer.Key, f.clock.Now())
}

func (f *fakeEngine) ExecuteJob(ctx context.Context, job runtime.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, job.Key)
	if err, ok := f.failing[job.Key]; ok {
		return err
	}
	job.State = runtime.JobStateCompleted
	return f.store.SaveJob(ctx, job)
}

func (f *fakeEngine) Storage() storage.Storage {
	return f.store
}

func (f *fakeEngine) Clock() clock.Clock {
	return f.clock
}

func (f *fakeEngine) processed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.fired...)
}

func (f *fakeEngine) saveTimer(t *testing.T, key int64, fireAt time.Time) runtime.Timer {
	t.Helper()
	timer := runtime.Timer{
		Key:          key,
		InstanceKey:  key * 10,
		BookmarkName: "wait",
		FireAt:       fireAt,
		State:        runtime.TimerStateScheduled,
		CreatedAt:    fireAt,
	}
	require.NoError(t, f.store.SaveTimer(t.Context(), timer))
	return timer
}

func TestPollTimersFiresDueTimer(t *testing.T) {
	// setup
	engine, mock := newEngine(t)
	var reminded bool
	h := engine.NewTaskHandler().Id("remind").Handler(func(task bpmn.ActivatedTask) {
		reminded = true
		task.Complete()
	})
	defer engine.RemoveHandler(h)
	definitionId := deploy(t, engine, "delayed-task.yaml")
	manager := NewManager(engine, Config{})

	// given
	res, err := engine.StartNew(t.Context(), definitionId, nil, bpmn.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, runtime.InstanceStatusSuspended, res.Status)
	assert.Equal(t, 0, manager.PollTimers(t.Context()))

	// when
	mock.Add(10 * time.Minute)
	processed := manager.PollTimers(t.Context())

	// then
	assert.Equal(t, 1, processed)
	assert.True(t, reminded)
	inst, err := engine.GetInstance(t.Context(), res.InstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, 0, manager.PollTimers(t.Context()))
}

func TestPollTimersSkipsTimerLockedByAnotherWorker(t *testing.T) {
	// setup
	mock := clock.NewMock()
	fake := newFakeEngine(mock)
	manager := NewManager(fake, Config{LockTTL: time.Minute}, WithWorkerId("worker-a"))
	timer := fake.saveTimer(t, 1, mock.Now())

	// given
	acquired, err := fake.store.TryAcquireTimerLock(t.Context(), timer.Key, "worker-b", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// when
	processed := manager.PollTimers(t.Context())

	// then
	assert.Equal(t, 0, processed)
	assert.Empty(t, fake.processed())

	// when
	mock.Add(2 * time.Minute)
	processed = manager.PollTimers(t.Context())

	// then
	assert.Equal(t, 1, processed)
	assert.Equal(t, []int64{timer.Key}, fake.processed())
}

func TestPollTimersReleasesLockAfterProcessing(t *testing.T) {
	// setup
	mock := clock.NewMock()
	fake := newFakeEngine(mock)
	manager := NewManager(fake, Config{}, WithWorkerId("worker-a"))
	timer := fake.saveTimer(t, 1, mock.Now())
	fake.failing[timer.Key] = errors.New("boom")

	// when
	manager.PollTimers(t.Context())

	// then
	acquired, err := fake.store.TryAcquireTimerLock(t.Context(), timer.Key, "worker-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestFailingItemsDoNotStopTheBatch(t *testing.T) {
	// setup
	mock := clock.NewMock()
	fake := newFakeEngine(mock)
	manager := NewManager(fake, Config{})
	now := mock.Now()
	fake.saveTimer(t, 1, now.Add(-3*time.Second))
	fake.saveTimer(t, 2, now.Add(-2*time.Second))
	fake.saveTimer(t, 3, now.Add(-time.Second))
	fake.failing[1] = errors.New("storage unavailable")
	fake.panics[2] = true

	// when
	processed := manager.PollTimers(t.Context())

	// then
	assert.Equal(t, 1, processed)
	assert.Equal(t, []int64{1, 2, 3}, fake.processed())
}

func TestLockedInstanceLeavesTimerDue(t *testing.T) {
	// setup
	mock := clock.NewMock()
	fake := newFakeEngine(mock)
	manager := NewManager(fake, Config{})
	timer := fake.saveTimer(t, 1, mock.Now())
	fake.failing[timer.Key] = fmt.Errorf("instance %d: %w", timer.InstanceKey, bpmn.ErrInstanceLocked)

	// when
	processed := manager.PollTimers(t.Context())

	// then
	assert.Equal(t, 0, processed)
	due, err := fake.store.FindDueTimers(t.Context(), mock.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestPollTimersRespectsBatchSize(t *testing.T) {
	// setup
	mock := clock.NewMock()
	fake := newFakeEngine(mock)
	manager := NewManager(fake, Config{BatchSize: 2})
	for key := int64(1); key <= 3; key++ {
		fake.saveTimer(t, key, mock.Now().Add(time.Duration(-key)*time.Second))
	}

	// when
	first := manager.PollTimers(t.Context())
	second := manager.PollTimers(t.Context())

	// then
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, []int64{3, 2, 1}, fake.processed())
}

func TestPollJobsExecutesDueJob(t *testing.T) {
	// setup
	engine, _ := newEngine(t)
	h := engine.NewTaskHandler().Type("payment").Handler(func(task bpmn.ActivatedTask) {
		task.SetOutputVariable("receipt", "r-1")
		task.Complete()
	})
	defer engine.RemoveHandler(h)
	definitionId := deploy(t, engine, "service-task.yaml")
	manager := NewManager(engine, Config{})

	// given
	res, err := engine.StartNew(t.Context(), definitionId, nil, bpmn.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, runtime.InstanceStatusSuspended, res.Status)

	// when
	processed := manager.PollJobs(t.Context())

	// then
	assert.Equal(t, 1, processed)
	inst, err := engine.GetInstance(t.Context(), res.InstanceKey)
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, "r-1", inst.Variables["receipt"])
}

func TestPollJobsSkipsJobLockedByAnotherWorker(t *testing.T) {
	// setup
	mock := clock.NewMock()
	fake := newFakeEngine(mock)
	manager := NewManager(fake, Config{LockTTL: time.Minute})
	job := runtime.Job{
		Key:           7,
		InstanceKey:   70,
		ActivityId:    "charge",
		Type:          "payment",
		State:         runtime.JobStatePending,
		NextAttemptAt: mock.Now(),
		CreatedAt:     mock.Now(),
	}
	require.NoError(t, fake.store.SaveJob(t.Context(), job))
	acquired, err := fake.store.TryAcquireJobLock(t.Context(), job.Key, "other", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// when
	processed := manager.PollJobs(t.Context())

	// then
	assert.Equal(t, 0, processed)
	assert.Empty(t, fake.processed())

	// when
	require.NoError(t, fake.store.ReleaseJobLock(t.Context(), job.Key, "other"))
	processed = manager.PollJobs(t.Context())

	// then
	assert.Equal(t, 1, processed)
	stored, err := fake.store.FindJobByKey(t.Context(), job.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.JobStateCompleted, stored.State)
}

func TestManagerLoopsRunUntilStopped(t *testing.T) {
	defer goleak.VerifyNone(t)

	// setup
	mock := clock.NewMock()
	fake := newFakeEngine(mock)
	manager := NewManager(fake, Config{TimerInterval: time.Second, JobInterval: time.Second})
	fake.saveTimer(t, 1, mock.Now())

	// when
	manager.Start(t.Context())
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return len(fake.processed()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	manager.Stop()

	// then
	assert.Equal(t, []int64{1}, fake.processed())
	manager.Stop()
}

func TestManagerLoopsStopOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	// setup
	mock := clock.NewMock()
	fake := newFakeEngine(mock)
	manager := NewManager(fake, Config{})
	ctx, cancel := context.WithCancel(t.Context())

	// when
	manager.Start(ctx)
	cancel()

	// then
	done := make(chan struct{})
	go func() {
		manager.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker loops did not stop after context cancellation")
	}
}
