// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenflow/internal/config"
	otelint "github.com/pbinitiative/zenflow/internal/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// respWriterWrapper records the status code and the number of written bytes
type respWriterWrapper struct {
	http.ResponseWriter

	written     int64
	statusCode  int
	wroteHeader bool
}

func (w *respWriterWrapper) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *respWriterWrapper) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Opentelemetry returns middleware that will trace and meter incoming requests.
// Spans are created by otelhttp and renamed to the matched chi route pattern.
func Opentelemetry(conf config.Config) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		meter := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			span := trace.SpanFromContext(r.Context())
			span.SetAttributes(getTransferHeaderAttributes(r, conf.Tracing.TransferHeaders)...)
			r = r.WithContext(getTransferHeadersCtx(r.Context(), r, conf.Tracing.TransferHeaders))

			rww := &respWriterWrapper{ResponseWriter: w}
			startTime := time.Now()
			next.ServeHTTP(rww, r)

			routePattern := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				routePattern = rctx.RoutePattern()
			}
			span.SetName(r.Method + " " + routePattern)
			if rww.written > 0 {
				span.SetAttributes(otelint.WroteBytesKey.Int64(rww.written))
			}
			setAfterServeMetrics(routePattern, r, rww, startTime)
		})
		return otelhttp.NewHandler(meter, conf.Name,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

func setAfterServeMetrics(routePattern string, r *http.Request, rww *respWriterWrapper, startTime time.Time) {
	if otelint.RequestTotal == nil {
		return
	}
	status := rww.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	tags := []attribute.KeyValue{
		attribute.String("path", routePattern),
		attribute.String("method", r.Method),
		attribute.Int("status", status),
	}
	otelint.RequestTotal.Add(r.Context(), 1)
	otelint.RequestUriTotal.Add(r.Context(), 1, metric.WithAttributes(tags...))
	if r.ContentLength >= 0 {
		otelint.RequestBodySize.Add(r.Context(), float64(r.ContentLength), metric.WithAttributes(tags...))
	}
	if rww.written > 0 {
		otelint.ResponseBodySize.Add(r.Context(), float64(rww.written), metric.WithAttributes(tags...))
	}
	latency := time.Since(startTime)
	otelint.RequestDuration.Record(r.Context(), latency.Seconds()*1000, metric.WithAttributes(tags...))
}

func getTransferHeadersCtx(ctx context.Context, r *http.Request, transferHeaders []string) context.Context {
	for _, header := range transferHeaders {
		hVal := r.Header.Get(header)
		ctx = context.WithValue(ctx, otelint.TransferHeaderKey(header), hVal)
	}
	return ctx
}

func getTransferHeaderAttributes(r *http.Request, transferHeaders []string) []attribute.KeyValue {
	attributes := make([]attribute.KeyValue, len(transferHeaders))
	for i, header := range transferHeaders {
		hVal := r.Header.Get(header)
		attributes[i] = attribute.String(header, hVal)
	}
	return attributes
}
