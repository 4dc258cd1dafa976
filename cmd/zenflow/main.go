package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/pbinitiative/zenflow/internal/log"
	"github.com/pbinitiative/zenflow/internal/otel"
	"github.com/pbinitiative/zenflow/internal/rest"
	"github.com/pbinitiative/zenflow/pkg/worker"
)

func main() {
	log.Init()

	appContext, ctxCancel := context.WithCancel(context.Background())

	conf := config.InitConfig()

	openTelemetry, err := otel.SetupOtel(conf)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		os.Exit(1)
	}
	metrics, err := openTelemetry.EngineMetrics()
	if err != nil {
		log.Error("Failed to create engine metrics: %s", err)
		os.Exit(1)
	}

	engine, closeEngine, err := newEngine(appContext, conf, metrics)
	if err != nil {
		log.Error("Failed to start workflow engine: %s", err)
		os.Exit(1)
	}
	if err := deployDefinitions(appContext, engine, conf.Engine.Definitions); err != nil {
		log.Error("Failed to deploy definitions: %s", err)
		os.Exit(1)
	}

	var workers *worker.Manager
	if !conf.Workers.Disabled {
		workers = worker.NewManager(engine, worker.Config{
			TimerInterval: conf.Workers.TimerInterval.Duration(),
			JobInterval:   conf.Workers.JobInterval.Duration(),
			BatchSize:     conf.Workers.BatchSize,
			LockTTL:       conf.Workers.LockTTL.Duration(),
		})
		workers.Start(appContext)
	}

	// Start the public API
	svr := rest.NewServer(engine, conf)
	svr.Start()

	appStop := make(chan os.Signal, 2)
	handleSigterm(appStop, appContext)

	// cleanup
	svr.Stop(appContext)
	if workers != nil {
		workers.Stop()
	}
	ctxCancel()
	closeEngine()
	openTelemetry.Stop(context.Background())
}

func handleSigterm(appStop chan os.Signal, ctx context.Context) {
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Infof(ctx, "Received %s. Shutting down", sig.String())
}
