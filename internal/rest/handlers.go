// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/designer"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenflow/pkg/ptr"
	"github.com/pbinitiative/zenflow/pkg/storage"
)

// decodeBody decodes the JSON body into v, an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	value := chi.URLParam(r, name)
	key, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, value)
	}
	return key, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return def, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, value)
	}
	return i, nil
}

func timeQuery(r *http.Request, name string) (*time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q, expected RFC3339 timestamp", name, value)
	}
	return &t, nil
}

func (s *Server) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	definitions, err := s.engine.ListDefinitions(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, DefinitionsResponse{Items: definitions})
}

func (s *Server) SaveDefinition(w http.ResponseWriter, r *http.Request) {
	var request SaveDefinitionRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if len(request.Design) == 0 || string(request.Design) == "null" {
		writeBadRequest(w, r, errors.New("design is required"))
		return
	}
	design, err := designer.DeserializeDesign(request.Design)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	definition, version, err := s.engine.SaveDefinition(r.Context(), bpmn.SaveDefinitionCmd{
		Id:                request.Id,
		Key:               request.Key,
		Name:              request.Name,
		Description:       request.Description,
		Category:          request.Category,
		Tags:              request.Tags,
		Design:            design,
		ChangeDescription: request.ChangeDescription,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if ptr.Deref(request.Publish, false) {
		definition, err = s.engine.PublishDefinition(r.Context(), definition.Id, version.Version)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
	}
	writeJSON(w, r, http.StatusCreated, SaveDefinitionResponse{Definition: definition, Version: version.Version})
}

func (s *Server) GetDefinition(w http.ResponseWriter, r *http.Request) {
	definition, err := s.engine.GetDefinition(r.Context(), chi.URLParam(r, "definitionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, definition)
}

func (s *Server) GetDefinitionVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeBadRequest(w, r, fmt.Errorf("invalid version %q", chi.URLParam(r, "version")))
		return
	}
	processVersion, err := s.engine.GetDefinitionVersion(r.Context(), chi.URLParam(r, "definitionId"), version)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, processVersion)
}

// PublishDefinition publishes the version given by the version query parameter, the latest version without it.
func (s *Server) PublishDefinition(w http.ResponseWriter, r *http.Request) {
	version, err := intQuery(r, "version", 0)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	definition, err := s.engine.GetDefinition(r.Context(), chi.URLParam(r, "definitionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	definition, err = s.engine.PublishDefinition(r.Context(), definition.Id, version)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, definition)
}

func (s *Server) UnpublishDefinition(w http.ResponseWriter, r *http.Request) {
	definition, err := s.engine.GetDefinition(r.Context(), chi.URLParam(r, "definitionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if err := s.engine.UnpublishDefinition(r.Context(), definition.Id); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ExportDefinition(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.ExportDefinition(r.Context(), chi.URLParam(r, "definitionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportDefinition creates a definition from an export document, publish=true publishes it right away.
func (s *Server) ImportDefinition(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	publish, _ := strconv.ParseBool(r.URL.Query().Get("publish"))
	definition, err := s.engine.ImportDefinition(r.Context(), data, publish)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, definition)
}

func (s *Server) StartInstance(w http.ResponseWriter, r *http.Request) {
	var request StartInstanceRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if request.DefinitionId == "" {
		writeBadRequest(w, r, errors.New("definitionId is required"))
		return
	}
	res, err := s.engine.StartNew(r.Context(), request.DefinitionId, request.Input, bpmn.StartOptions{
		Version:       ptr.Deref(request.Version, 0),
		CorrelationId: ptr.Deref(request.CorrelationId, ""),
		TenantId:      ptr.Deref(request.TenantId, ""),
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toExecutionResult(res))
}

func (s *Server) QueryInstances(w http.ResponseWriter, r *http.Request) {
	query, err := instanceQueryFrom(r)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	page, err := s.engine.QueryInstances(r.Context(), query)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []runtime.WorkflowInstance{}
	}
	writeJSON(w, r, http.StatusOK, InstancesPage{
		Items: items,
		PageMetadata: PageMetadata{
			Page:       page.Page,
			Size:       page.Size,
			Count:      len(items),
			TotalCount: page.TotalCount,
		},
	})
}

func instanceQueryFrom(r *http.Request) (storage.InstanceQuery, error) {
	values := r.URL.Query()
	query := storage.InstanceQuery{
		DefinitionId:  values.Get("definitionId"),
		CorrelationId: values.Get("correlationId"),
		TenantId:      values.Get("tenantId"),
	}
	for _, status := range values["status"] {
		query.Statuses = append(query.Statuses, runtime.InstanceStatus(status))
	}
	var err, errJoin error
	query.CreatedFrom, err = timeQuery(r, "createdFrom")
	errJoin = errors.Join(errJoin, err)
	query.CreatedTo, err = timeQuery(r, "createdTo")
	errJoin = errors.Join(errJoin, err)
	query.Page, err = intQuery(r, "page", storage.DefaultPage)
	errJoin = errors.Join(errJoin, err)
	query.Size, err = intQuery(r, "size", storage.DefaultPageSize)
	errJoin = errors.Join(errJoin, err)
	return query, errJoin
}

func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	key, err := int64Param(r, "instanceKey")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	instance, err := s.engine.GetInstance(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, instance)
}

func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	key, err := int64Param(r, "instanceKey")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	records, err := s.engine.GetHistory(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if records == nil {
		records = []runtime.ExecutionRecord{}
	}
	writeJSON(w, r, http.StatusOK, HistoryResponse{Items: records})
}

// GetJobs lists the jobs of an instance in the state given by the state query parameter, pending by default.
func (s *Server) GetJobs(w http.ResponseWriter, r *http.Request) {
	key, err := int64Param(r, "instanceKey")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	state := runtime.JobStatePending
	if value := r.URL.Query().Get("state"); value != "" {
		state = runtime.JobState(value)
	}
	jobs, err := s.engine.GetJobs(r.Context(), key, state)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []runtime.Job{}
	}
	writeJSON(w, r, http.StatusOK, JobsResponse{Items: jobs})
}

func (s *Server) ResumeInstance(w http.ResponseWriter, r *http.Request) {
	key, err := int64Param(r, "instanceKey")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var request ResumeRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	res, err := s.engine.Resume(r.Context(), key, request.Bookmark, request.Input)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toExecutionResult(res))
}

func (s *Server) CancelInstance(w http.ResponseWriter, r *http.Request) {
	key, err := int64Param(r, "instanceKey")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.engine.Cancel(r.Context(), key); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) TerminateInstance(w http.ResponseWriter, r *http.Request) {
	key, err := int64Param(r, "instanceKey")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var request TerminateRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if err := s.engine.Terminate(r.Context(), key, request.Reason); err != nil {
		writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RetryInstance(w http.ResponseWriter, r *http.Request) {
	key, err := int64Param(r, "instanceKey")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var request RetryRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	res, err := s.engine.Retry(r.Context(), key, request.Input)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toExecutionResult(res))
}

func (s *Server) Signal(w http.ResponseWriter, r *http.Request) {
	var request SignalRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if request.Name == "" {
		writeBadRequest(w, r, errors.New("name is required"))
		return
	}
	options := bpmn.SignalOptions{
		InstanceKey:   ptr.Deref(request.InstanceKey, 0),
		CorrelationId: ptr.Deref(request.CorrelationId, ""),
		DefinitionId:  ptr.Deref(request.DefinitionId, ""),
	}
	if request.Broadcast {
		results, err := s.engine.BroadcastSignal(r.Context(), request.Name, request.Input, options)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, ResultsResponse{Items: toExecutionResults(results)})
		return
	}
	res, err := s.engine.Signal(r.Context(), request.Name, request.Input, options)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toExecutionResult(res))
}

func (s *Server) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := decodeBody(r, &data); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	results, err := s.engine.TriggerEvent(r.Context(), chi.URLParam(r, "eventName"), data)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ResultsResponse{Items: toExecutionResults(results)})
}

func (s *Server) CompleteJob(w http.ResponseWriter, r *http.Request) {
	key, err := int64Param(r, "jobKey")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var request CompleteJobRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	res, err := s.engine.CompleteJob(r.Context(), key, request.Output)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toExecutionResult(res))
}

func (s *Server) FailJob(w http.ResponseWriter, r *http.Request) {
	key, err := int64Param(r, "jobKey")
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	var request FailJobRequest
	if err := decodeBody(r, &request); err != nil {
		writeBadRequest(w, r, err)
		return
	}
	if request.Code == "" {
		writeBadRequest(w, r, errors.New("code is required"))
		return
	}
	res, err := s.engine.FailJob(r.Context(), key, request.Code, request.Message)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toExecutionResult(res))
}
