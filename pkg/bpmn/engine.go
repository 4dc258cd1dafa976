// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"github.com/pbinitiative/zenflow/pkg/script"
	"github.com/pbinitiative/zenflow/pkg/script/feel"
	"github.com/pbinitiative/zenflow/pkg/statemachine"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLockTTL           = 30 * time.Second
	DefaultLockRetries       = 5
	DefaultLockRetryInterval = 50 * time.Millisecond
	DefaultJobRetryInterval  = 10 * time.Second
	DefaultJobMaxAttempts    = 3
	DefaultCacheSize         = 256
	DefaultCacheTTL          = 10 * time.Minute
)

type Engine struct {
	name        string
	persistence storage.Storage
	coordinator storage.Coordinator
	clock       clock.Clock
	evaluator   script.Evaluator
	snowflake   *snowflake.Node
	logger      hclog.Logger
	tracer      trace.Tracer
	metrics     *otelPkg.EngineMetrics
	lifecycle   *statemachine.Machine[runtime.InstanceStatus, lifecycleTrigger, *runtime.WorkflowInstance]

	versions  *expirable.LRU[string, model.ProcessVersion]
	cacheSize int
	cacheTTL  time.Duration

	taskHandlers   []*taskHandler
	taskhandlersMu *sync.RWMutex

	lockTTL           time.Duration
	lockRetries       uint64
	lockRetryInterval time.Duration
	jobRetryInterval  time.Duration
}

type EngineOption = func(*Engine)

// NewEngine creates a new workflow engine. Without EngineWithStorage the engine keeps its data in memory.
func NewEngine(options ...EngineOption) (*Engine, error) {
	engine := Engine{
		name:              fmt.Sprintf("Workflow-Engine-%d", getGlobalSnowflakeIdGenerator().Generate().Int64()),
		clock:             clock.New(),
		snowflake:         getGlobalSnowflakeIdGenerator(),
		logger:            hclog.Default().Named("engine"),
		tracer:            otel.GetTracerProvider().Tracer("workflow-engine"),
		taskHandlers:      []*taskHandler{},
		taskhandlersMu:    &sync.RWMutex{},
		cacheSize:         DefaultCacheSize,
		cacheTTL:          DefaultCacheTTL,
		lockTTL:           DefaultLockTTL,
		lockRetries:       DefaultLockRetries,
		lockRetryInterval: DefaultLockRetryInterval,
		jobRetryInterval:  DefaultJobRetryInterval,
	}

	for _, option := range options {
		option(&engine)
	}

	if engine.persistence == nil {
		engine.persistence = inmemory.NewStorage(inmemory.WithClock(engine.clock))
	}
	if engine.coordinator == nil {
		engine.coordinator = engine.persistence
	}
	if engine.evaluator == nil {
		engine.evaluator = script.NewExpressionRuntime(feel.NewFeelRuntime(), nil)
	}
	if engine.metrics == nil {
		metrics, err := otelPkg.NewMetrics(noop.NewMeterProvider().Meter("workflow-engine"))
		if err != nil {
			return nil, fmt.Errorf("failed to create engine metrics: %w", err)
		}
		engine.metrics = metrics
	}
	engine.versions = expirable.NewLRU[string, model.ProcessVersion](engine.cacheSize, nil, engine.cacheTTL)

	lifecycle, err := newLifecycleMachine(engine.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to build instance lifecycle: %w", err)
	}
	engine.lifecycle = lifecycle
	return &engine, nil
}

func EngineWithStorage(persistence storage.Storage) EngineOption {
	return func(engine *Engine) {
		engine.persistence = persistence
	}
}

// EngineWithCoordinator moves instance locks and join counters out of the storage,
// so that several engine processes can share the work.
func EngineWithCoordinator(coordinator storage.Coordinator) EngineOption {
	return func(engine *Engine) {
		engine.coordinator = coordinator
	}
}

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) {
		engine.name = name
		engine.logger = hclog.Default().Named(name)
	}
}

func EngineWithClock(c clock.Clock) EngineOption {
	return func(engine *Engine) {
		engine.clock = c
	}
}

// EngineWithEvaluator replaces the default FEEL evaluator of conditions.
func EngineWithEvaluator(evaluator script.Evaluator) EngineOption {
	return func(engine *Engine) {
		engine.evaluator = evaluator
	}
}

func EngineWithMetrics(metrics *otelPkg.EngineMetrics) EngineOption {
	return func(engine *Engine) {
		engine.metrics = metrics
	}
}

func EngineWithTracer(tracer trace.Tracer) EngineOption {
	return func(engine *Engine) {
		engine.tracer = tracer
	}
}

// EngineWithLocking configures the instance lock. Retries are spaced with exponential backoff starting at retryInterval.
func EngineWithLocking(ttl time.Duration, retries uint64, retryInterval time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.lockTTL = ttl
		engine.lockRetries = retries
		engine.lockRetryInterval = retryInterval
	}
}

func EngineWithJobRetryInterval(interval time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.jobRetryInterval = interval
	}
}

func EngineWithDefinitionCache(size int, ttl time.Duration) EngineOption {
	return func(engine *Engine) {
		engine.cacheSize = size
		engine.cacheTTL = ttl
	}
}

func (engine *Engine) Name() string {
	return engine.name
}

func (engine *Engine) Storage() storage.Storage {
	return engine.persistence
}

func (engine *Engine) Clock() clock.Clock {
	return engine.clock
}
