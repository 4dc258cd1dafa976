// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

import (
	"context"
	"sync"
	"time"
)

type Runner interface {
	Runner()
}

type RunnerFactory interface {
	NewRunner() Runner
}

const poolCleanupInterval = 10 * time.Minute

// RunnerPool keeps between minVmPoolSize and maxVmPoolSize runners, runners are expensive to create.
type RunnerPool struct {
	pool               chan Runner
	runnerFactory      RunnerFactory
	activeRunnersCount int
	activeRunnersMu    *sync.Mutex
	maxVmPoolSize      int // max amount of active runners
	minVmPoolSize      int // min amount of active runners
}

func NewRunnerPool(ctx context.Context, runnerFactory RunnerFactory, maxVmPoolSize int, minVmPoolSize int) *RunnerPool {
	if maxVmPoolSize < minVmPoolSize {
		panic("vm pool min size is smaller than vm pool max size")
	}

	runtime := RunnerPool{
		pool:               make(chan Runner, maxVmPoolSize),
		runnerFactory:      runnerFactory,
		activeRunnersCount: 0,
		activeRunnersMu:    &sync.Mutex{},
		maxVmPoolSize:      maxVmPoolSize,
		minVmPoolSize:      minVmPoolSize,
	}

	//start min amount of runners
	for i := 0; i < minVmPoolSize; i++ {
		runtime.activeRunnersMu.Lock()
		runtime.pool <- runtime.runnerFactory.NewRunner()
		runtime.activeRunnersCount++
		runtime.activeRunnersMu.Unlock()
	}

	//cleanup idle runners periodically
	go func() {
		ticker := time.NewTicker(poolCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runtime.shrink()
			case <-ctx.Done():
				return
			}
		}
	}()
	return &runtime
}

// shrink drops idle runners above the minimal pool size, runners in use are never touched.
func (r *RunnerPool) shrink() {
	for len(r.pool) > r.minVmPoolSize {
		select {
		case <-r.pool:
			r.activeRunnersMu.Lock()
			r.activeRunnersCount--
			r.activeRunnersMu.Unlock()
		default:
			return
		}
	}
}

func (r *RunnerPool) GetRunnerFromPool() Runner {
	var runner Runner
	select {
	case runner = <-r.pool:
	default:
		r.activeRunnersMu.Lock()
		if r.activeRunnersCount < r.maxVmPoolSize {
			runner = r.runnerFactory.NewRunner()
			r.activeRunnersCount++
		}
		r.activeRunnersMu.Unlock()
		if runner == nil {
			runner = <-r.pool
		}
	}
	return runner
}

func (r *RunnerPool) ReturnRunnerToPool(runner Runner) {
	select {
	case r.pool <- runner:
	default:
		//delete runner if pool is full
		r.activeRunnersMu.Lock()
		r.activeRunnersCount--
		r.activeRunnersMu.Unlock()
	}
}

// ActiveRunners returns the amount of runners created and not yet dropped.
func (r *RunnerPool) ActiveRunners() int {
	r.activeRunnersMu.Lock()
	defer r.activeRunnersMu.Unlock()
	return r.activeRunnersCount
}
