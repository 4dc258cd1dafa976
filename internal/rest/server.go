// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/pbinitiative/zenflow/internal/log"
	"github.com/pbinitiative/zenflow/internal/rest/middleware"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	engine *bpmn.Engine
	addr   string
	server *http.Server
}

func NewServer(engine *bpmn.Engine, conf config.Config) *Server {
	r := chi.NewRouter()
	s := Server{
		engine: engine,
		addr:   conf.Server.Addr,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.Cors(conf.Server.CorsOrigins))
	r.Use(middleware.Opentelemetry(conf))
	r.Use(middleware.StripEmptyQueryParams())

	r.Route(apiPrefix(conf.Server.Context), func(r chi.Router) {
		r.Route("/definitions", func(r chi.Router) {
			r.Get("/", s.ListDefinitions)
			r.Post("/", s.SaveDefinition)
			r.Post("/import", s.ImportDefinition)
			r.Route("/{definitionId}", func(r chi.Router) {
				r.Get("/", s.GetDefinition)
				r.Post("/publish", s.PublishDefinition)
				r.Post("/unpublish", s.UnpublishDefinition)
				r.Get("/export", s.ExportDefinition)
				r.Get("/versions/{version}", s.GetDefinitionVersion)
			})
		})
		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.QueryInstances)
			r.Post("/", s.StartInstance)
			r.Route("/{instanceKey}", func(r chi.Router) {
				r.Get("/", s.GetInstance)
				r.Get("/history", s.GetHistory)
				r.Get("/jobs", s.GetJobs)
				r.Post("/resume", s.ResumeInstance)
				r.Post("/cancel", s.CancelInstance)
				r.Post("/terminate", s.TerminateInstance)
				r.Post("/retry", s.RetryInstance)
			})
		})
		r.Post("/signals", s.Signal)
		r.Post("/events/{eventName}", s.TriggerEvent)
		r.Route("/jobs/{jobKey}", func(r chi.Router) {
			r.Post("/complete", s.CompleteJob)
			r.Post("/fail", s.FailJob)
		})
	})
	// register system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, r, http.StatusOK, map[string]string{
				"engine": engine.Name(),
				"status": "UP",
			})
		})
	})
	return &s
}

// apiPrefix joins the configured context path with the api version.
func apiPrefix(context string) string {
	return strings.TrimSuffix("/"+strings.Trim(context, "/"), "/") + "/v1"
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() net.Listener {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Error("failed to listen: %v", err)
		return nil
	}
	log.Info("ZenFlow REST server listening on %s", s.addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}
