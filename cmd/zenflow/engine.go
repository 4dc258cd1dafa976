package main

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/pbinitiative/zenflow/internal/log"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	otelPkg "github.com/pbinitiative/zenflow/pkg/otel"
	"github.com/pbinitiative/zenflow/pkg/script"
	"github.com/pbinitiative/zenflow/pkg/script/feel"
	"github.com/pbinitiative/zenflow/pkg/script/js"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	redisCoordinator "github.com/pbinitiative/zenflow/pkg/storage/redis"
	"github.com/redis/go-redis/v9"
)

const (
	jsMaxVmPoolSize = 16
	jsMinVmPoolSize = 2
)

// newEngine builds the engine from the configuration. The returned func releases the redis connection.
func newEngine(ctx context.Context, conf config.Config, metrics *otelPkg.EngineMetrics) (*bpmn.Engine, func(), error) {
	options := []bpmn.EngineOption{
		bpmn.EngineWithName(conf.Name),
		bpmn.EngineWithStorage(inmemory.NewStorage()),
		bpmn.EngineWithEvaluator(newEvaluator(ctx, conf.Engine.ExpressionLanguage)),
		bpmn.EngineWithMetrics(metrics),
		bpmn.EngineWithLocking(conf.Engine.LockTTL.Duration(), conf.Engine.LockRetries, conf.Engine.LockRetryInterval.Duration()),
		bpmn.EngineWithJobRetryInterval(conf.Engine.JobRetryInterval.Duration()),
		bpmn.EngineWithDefinitionCache(conf.Engine.DefinitionCacheSize, conf.Engine.DefinitionCacheTTL.Duration()),
	}
	closeFn := func() {}
	if conf.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Username: conf.Redis.Username,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, closeFn, fmt.Errorf("failed to connect to redis %s: %w", conf.Redis.Addr, err)
		}
		options = append(options, bpmn.EngineWithCoordinator(redisCoordinator.NewCoordinator(rdb, redisCoordinator.WithKeyPrefix(conf.Redis.KeyPrefix))))
		closeFn = func() {
			if err := rdb.Close(); err != nil {
				log.Error("failed to close redis client: %s", err)
			}
		}
		log.Info("Instance locks and join counters are coordinated through redis %s", conf.Redis.Addr)
	}
	engine, err := bpmn.NewEngine(options...)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return engine, closeFn, nil
}

// newEvaluator routes unprefixed conditions to the configured language, js: prefixed ones always go to javascript.
func newEvaluator(ctx context.Context, language string) script.Evaluator {
	jsRuntime := js.NewJsRuntime(ctx, jsMaxVmPoolSize, jsMinVmPoolSize)
	if language == config.ExpressionLanguageJs {
		return script.NewExpressionRuntime(jsRuntime, jsRuntime)
	}
	return script.NewExpressionRuntime(feel.NewFeelRuntime(), jsRuntime)
}

func deployDefinitions(ctx context.Context, engine *bpmn.Engine, files []string) error {
	for _, file := range files {
		def, err := engine.DeployFromFile(ctx, file)
		if err != nil {
			return fmt.Errorf("failed to deploy %s: %w", file, err)
		}
		log.Info("Deployed %s as %s version %d", file, def.Key, def.PublishedVersion)
	}
	return nil
}
