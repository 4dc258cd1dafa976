// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package worker drives due timers and jobs of an engine from background loops.
// Several managers may poll the same storage, every item is claimed with a persisted lock before it is processed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/storage"
)

const (
	DefaultTimerInterval = 10 * time.Second
	DefaultJobInterval   = 5 * time.Second
	DefaultBatchSize     = 100
	DefaultLockTTL       = 30 * time.Second
)

// Engine is the part of the engine the workers drive.
type Engine interface {
	FireTimer(ctx context.Context, timer runtime.Timer) (bpmn.ExecutionResult, error)
	ExecuteJob(ctx context.Context, job runtime.Job) error
	Storage() storage.Storage
	Clock() clock.Clock
}

type Config struct {
	TimerInterval time.Duration
	JobInterval   time.Duration
	BatchSize     int
	LockTTL       time.Duration
}

func (c Config) withDefaults() Config {
	if c.TimerInterval <= 0 {
		c.TimerInterval = DefaultTimerInterval
	}
	if c.JobInterval <= 0 {
		c.JobInterval = DefaultJobInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	return c
}

// Manager runs the timer poller and the job processor.
type Manager struct {
	engine Engine
	store  storage.Storage
	clock  clock.Clock
	cfg    Config
	id     string
	logger hclog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ManagerOption = func(*Manager)

// WithWorkerId overrides the generated lock holder id of the manager.
func WithWorkerId(id string) ManagerOption {
	return func(m *Manager) {
		m.id = id
	}
}

func WithLogger(logger hclog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(engine Engine, cfg Config, options ...ManagerOption) *Manager {
	m := &Manager{
		engine: engine,
		store:  engine.Storage(),
		clock:  engine.Clock(),
		cfg:    cfg.withDefaults(),
		id:     uuid.NewString(),
		logger: hclog.Default().Named("worker"),
	}
	for _, option := range options {
		option(m)
	}
	m.logger = m.logger.With("workerId", m.id)
	return m
}

func (m *Manager) Id() string {
	return m.id
}

// Start launches both loops. They run until Stop is called or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(2)
	go m.loop(ctx, "timers", m.cfg.TimerInterval, m.PollTimers)
	go m.loop(ctx, "jobs", m.cfg.JobInterval, m.PollJobs)
	m.logger.Info(fmt.Sprintf("Workers started (timers every %s, jobs every %s)", m.cfg.TimerInterval, m.cfg.JobInterval))
}

// Stop cancels the loops and waits for the item in progress to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("Workers stopped")
}

func (m *Manager) loop(ctx context.Context, name string, interval time.Duration, poll func(ctx context.Context) int) {
	defer m.wg.Done()
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed := poll(ctx)
			if processed > 0 {
				m.logger.Debug("poll finished", "loop", name, "processed", processed)
			}
		}
	}
}

// PollTimers fires one batch of due timers and returns how many of them were processed by this manager.
// Failing timers are logged and do not stop the batch.
func (m *Manager) PollTimers(ctx context.Context) int {
	timers, err := m.store.FindDueTimers(ctx, m.clock.Now(), m.cfg.BatchSize)
	if err != nil {
		m.logger.Error(fmt.Sprintf("Failed to poll timers for processing: %s", err))
		return 0
	}
	processed := 0
	for _, timer := range timers {
		if ctx.Err() != nil {
			break
		}
		ok, err := m.fireTimer(ctx, timer)
		if err != nil {
			m.logItemError("timer", timer.Key, timer.InstanceKey, err)
			continue
		}
		if ok {
			processed++
		}
	}
	return processed
}

func (m *Manager) fireTimer(ctx context.Context, timer runtime.Timer) (claimed bool, err error) {
	acquired, err := m.store.TryAcquireTimerLock(ctx, timer.Key, m.id, m.cfg.LockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to lock timer: %w", err)
	}
	if !acquired {
		m.logger.Debug("timer is locked by another worker", "timerKey", timer.Key)
		return false, nil
	}
	defer func() {
		if err := m.store.ReleaseTimerLock(context.WithoutCancel(ctx), timer.Key, m.id); err != nil {
			m.logger.Warn("failed to release timer lock", "timerKey", timer.Key, "err", err)
		}
	}()
	err = safely(func() error {
		_, err := m.engine.FireTimer(ctx, timer)
		return err
	})
	return true, err
}

// PollJobs executes one batch of due jobs and returns how many of them were processed by this manager.
// Failing jobs are logged and do not stop the batch.
func (m *Manager) PollJobs(ctx context.Context) int {
	jobs, err := m.store.FindDueJobs(ctx, m.clock.Now(), m.cfg.BatchSize)
	if err != nil {
		m.logger.Error(fmt.Sprintf("Failed to poll jobs for processing: %s", err))
		return 0
	}
	processed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		ok, err := m.executeJob(ctx, job)
		if err != nil {
			m.logItemError("job", job.Key, job.InstanceKey, err)
			continue
		}
		if ok {
			processed++
		}
	}
	return processed
}

func (m *Manager) executeJob(ctx context.Context, job runtime.Job) (claimed bool, err error) {
	acquired, err := m.store.TryAcquireJobLock(ctx, job.Key, m.id, m.cfg.LockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to lock job: %w", err)
	}
	if !acquired {
		m.logger.Debug("job is locked by another worker", "jobKey", job.Key)
		return false, nil
	}
	defer func() {
		if err := m.store.ReleaseJobLock(context.WithoutCancel(ctx), job.Key, m.id); err != nil {
			m.logger.Warn("failed to release job lock", "jobKey", job.Key, "err", err)
		}
	}()
	err = safely(func() error {
		return m.engine.ExecuteJob(ctx, job)
	})
	return true, err
}

func (m *Manager) logItemError(kind string, key int64, instanceKey int64, err error) {
	if errors.Is(err, bpmn.ErrInstanceLocked) {
		// the instance is busy, the item stays due for the next poll
		m.logger.Debug(kind+" skipped, instance is locked", "key", key, "instanceKey", instanceKey)
		return
	}
	m.logger.Error(fmt.Sprintf("Failed to process %s %d of instance %d: %s", kind, key, instanceKey, err))
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
