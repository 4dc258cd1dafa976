// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package log is the process wide logger of the daemon. It configures the default hclog logger
// so component loggers created with hclog.Default().Named(...) share its level and format.
package log

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"
)

const (
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"
)

var logger = hclog.Default()

// Init sets up the default logger from LOG_LEVEL (trace, debug, info, warn, error) and LOG_FORMAT (text or json).
func Init() {
	InitWithOptions(os.Getenv(EnvLogLevel), os.Getenv(EnvLogFormat))
}

func InitWithOptions(level string, format string) {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	logger = hclog.New(&hclog.LoggerOptions{
		Name:       "zenflow",
		Level:      lvl,
		JSONFormat: strings.EqualFold(format, "json"),
		TimeFormat: "2006-01-02T15:04:05.000Z0700",
	})
	hclog.SetDefault(logger)
}

func Named(name string) hclog.Logger {
	return logger.Named(name)
}

func Info(format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Debugf logs with the trace and span id of the span stored in ctx.
func Debugf(ctx context.Context, format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...), traceArgs(ctx)...)
}

// Infof logs with the trace and span id of the span stored in ctx.
func Infof(ctx context.Context, format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...), traceArgs(ctx)...)
}

// Errorf logs with the trace and span id of the span stored in ctx.
func Errorf(ctx context.Context, format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...), traceArgs(ctx)...)
}

func traceArgs(ctx context.Context) []any {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return nil
	}
	return []any{"traceId", spanCtx.TraceID().String(), "spanId", spanCtx.SpanID().String()}
}
