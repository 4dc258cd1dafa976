// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pbinitiative/zenflow/internal/types"
)

const (
	ExpressionLanguageFeel = "feel"
	ExpressionLanguageJs   = "js"
)

type Config struct {
	Name    string  `yaml:"name" json:"name" env:"APP_NAME" env-default:"zenflow"` // used for OTEL as an application identifier
	Server  Server  `yaml:"server" json:"server"`                                  // configuration of the public REST server
	Engine  Engine  `yaml:"engine" json:"engine"`
	Workers Workers `yaml:"workers" json:"workers"`
	Redis   Redis   `yaml:"redis" json:"redis"`
	Tracing Tracing `yaml:"tracing" json:"tracing"`
}

type Server struct {
	Context string `yaml:"context" json:"context" env:"REST_API_CONTEXT" env-default:"/"`
	Addr    string `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
	// CorsOrigins are the origins allowed to call the api from a browser, all origins when empty
	CorsOrigins []string `yaml:"corsOrigins" json:"corsOrigins" env:"REST_API_CORS_ORIGINS" env-separator:","`
}

type Engine struct {
	LockTTL           types.TTL `yaml:"lockTtl" json:"lockTtl" env:"ENGINE_LOCK_TTL" env-default:"30s"`
	LockRetries       uint64    `yaml:"lockRetries" json:"lockRetries" env:"ENGINE_LOCK_RETRIES" env-default:"5"`
	LockRetryInterval types.TTL `yaml:"lockRetryInterval" json:"lockRetryInterval" env:"ENGINE_LOCK_RETRY_INTERVAL" env-default:"50ms"`
	JobRetryInterval  types.TTL `yaml:"jobRetryInterval" json:"jobRetryInterval" env:"ENGINE_JOB_RETRY_INTERVAL" env-default:"10s"`
	// DefinitionCacheSize is the number of compiled process versions kept in memory
	DefinitionCacheSize int       `yaml:"definitionCacheSize" json:"definitionCacheSize" env:"ENGINE_DEFINITION_CACHE_SIZE" env-default:"200"`
	DefinitionCacheTTL  types.TTL `yaml:"definitionCacheTtl" json:"definitionCacheTtl" env:"ENGINE_DEFINITION_CACHE_TTL" env-default:"1h"`
	// ExpressionLanguage of conditions, feel or js
	ExpressionLanguage string `yaml:"expressionLanguage" json:"expressionLanguage" env:"ENGINE_EXPRESSION_LANGUAGE" env-default:"feel"`
	// Definitions are design files (json or yaml) deployed and published on startup
	Definitions []string `yaml:"definitions" json:"definitions" env:"ENGINE_DEFINITIONS" env-separator:","`
}

type Workers struct {
	// Disabled turns the timer poller and job processor of this process off
	Disabled      bool      `yaml:"disabled" json:"disabled" env:"WORKERS_DISABLED"`
	TimerInterval types.TTL `yaml:"timerInterval" json:"timerInterval" env:"WORKERS_TIMER_INTERVAL" env-default:"10s"`
	JobInterval   types.TTL `yaml:"jobInterval" json:"jobInterval" env:"WORKERS_JOB_INTERVAL" env-default:"5s"`
	BatchSize     int       `yaml:"batchSize" json:"batchSize" env:"WORKERS_BATCH_SIZE" env-default:"100"`
	LockTTL       types.TTL `yaml:"lockTtl" json:"lockTtl" env:"WORKERS_LOCK_TTL" env-default:"30s"`
}

// Redis enables the distributed instance locks and join counters when Addr is set.
type Redis struct {
	Addr      string `yaml:"addr" json:"addr" env:"REDIS_ADDR"`
	Username  string `yaml:"username" json:"username" env:"REDIS_USERNAME"`
	Password  string `yaml:"password" json:"-" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" json:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix" env:"REDIS_KEY_PREFIX" env-default:"zenflow"`
}

func (r Redis) Enabled() bool {
	return r.Addr != ""
}

type Tracing struct {
	Enabled         bool     `yaml:"enabled" json:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	Endpoint        string   `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TransferHeaders []string `yaml:"transferHeaders" json:"transferHeaders" env:"OTEL_TRANSFER_HEADERS" env-separator:","`
}

func (c Config) Validate() error {
	var errJoin error
	switch c.Engine.ExpressionLanguage {
	case ExpressionLanguageFeel, ExpressionLanguageJs:
	default:
		errJoin = errors.Join(errJoin, fmt.Errorf("unsupported expression language %q", c.Engine.ExpressionLanguage))
	}
	if c.Engine.LockTTL <= 0 {
		errJoin = errors.Join(errJoin, errors.New("engine lock ttl must be positive"))
	}
	if c.Engine.DefinitionCacheSize <= 0 {
		errJoin = errors.Join(errJoin, errors.New("definition cache size must be positive"))
	}
	if !c.Workers.Disabled && (c.Workers.TimerInterval <= 0 || c.Workers.JobInterval <= 0) {
		errJoin = errors.Join(errJoin, errors.New("worker intervals must be positive"))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errJoin = errors.Join(errJoin, errors.New("tracing endpoint is required when tracing is enabled"))
	}
	return errJoin
}

// Load reads the configuration file, env variables override its values.
// Without the file the configuration is read from env only.
func Load(fileName string) (Config, error) {
	c := Config{}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return c, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// InitConfig loads conf.yaml from the working directory or the file named by CONFIG_FILE.
func InitConfig() Config {
	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = filepath.Join(wd, "conf.yaml")
	}
	if _, err := os.Stat(fileName); errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	}
	c, err := Load(fileName)
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}
