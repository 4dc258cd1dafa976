// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var errLockBusy = errors.New("lock busy")

// instanceLock is held by exactly one engine operation advancing an instance.
// A heartbeat renews it every third of the lock TTL until it is released, so long running handlers keep it.
type instanceLock struct {
	engine      *Engine
	instanceKey int64
	holder      string

	stopHeartbeat context.CancelFunc
	heartbeatDone sync.WaitGroup
}

// lockInstance acquires the instance lock, retrying with exponential backoff while it is held by someone else.
// Returns ErrInstanceLocked when the retries are exhausted.
func (engine *Engine) lockInstance(ctx context.Context, instanceKey int64) (*instanceLock, error) {
	holder := uuid.NewString()
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(engine.lockRetryInterval),
		backoff.WithMaxElapsedTime(0),
	)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		ok, err := engine.coordinator.TryAcquireInstanceLock(ctx, instanceKey, holder, engine.lockTTL)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to acquire lock of instance %d: %w", instanceKey, err))
		}
		if !ok {
			engine.metrics.LockContentions.Add(ctx, 1, metric.WithAttributes(
				attribute.Int64(otelPkg.AttributeInstanceKey, instanceKey),
			))
			return errLockBusy
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, engine.lockRetries), ctx))
	if errors.Is(err, errLockBusy) {
		engine.logger.Debug("instance lock not acquired", "instanceKey", instanceKey, "attempts", attempt)
		return nil, fmt.Errorf("instance %d: %w", instanceKey, ErrInstanceLocked)
	}
	if err != nil {
		return nil, err
	}
	l := &instanceLock{engine: engine, instanceKey: instanceKey, holder: holder, stopHeartbeat: func() {}}
	if interval := engine.lockTTL / 3; interval > 0 {
		heartbeatCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		l.stopHeartbeat = cancel
		l.heartbeatDone.Add(1)
		go l.heartbeat(heartbeatCtx, engine.clock.Ticker(interval))
	}
	return l, nil
}

func (l *instanceLock) heartbeat(ctx context.Context, t *clock.Ticker) {
	defer l.heartbeatDone.Done()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ok, err := l.engine.coordinator.TryAcquireInstanceLock(ctx, l.instanceKey, l.holder, l.engine.lockTTL)
			if err != nil {
				l.engine.logger.Warn("failed to renew instance lock", "instanceKey", l.instanceKey, "err", err)
				continue
			}
			if !ok {
				l.engine.logger.Error("instance lock was taken over", "instanceKey", l.instanceKey)
				return
			}
		}
	}
}

// release is called deferred, failures are only logged since an expired lock is taken over anyway.
func (l *instanceLock) release(ctx context.Context) {
	l.stopHeartbeat()
	l.heartbeatDone.Wait()
	if err := l.engine.coordinator.ReleaseInstanceLock(context.WithoutCancel(ctx), l.instanceKey, l.holder); err != nil {
		l.engine.logger.Warn("failed to release instance lock", "instanceKey", l.instanceKey, "err", err)
	}
}
