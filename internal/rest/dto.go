// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package rest

import (
	"encoding/json"

	"github.com/pbinitiative/zenflow/pkg/bpmn"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

type SaveDefinitionRequest struct {
	Id                string          `json:"id,omitempty"`
	Key               string          `json:"key,omitempty"`
	Name              string          `json:"name,omitempty"`
	Description       string          `json:"description,omitempty"`
	Category          string          `json:"category,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
	Design            json.RawMessage `json:"design"`
	ChangeDescription string          `json:"changeDescription,omitempty"`
	Publish           *bool           `json:"publish,omitempty"`
}

type SaveDefinitionResponse struct {
	Definition model.WorkflowDefinition `json:"definition"`
	Version    int                      `json:"version"`
}

type StartInstanceRequest struct {
	DefinitionId  string         `json:"definitionId"`
	Version       *int           `json:"version,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	CorrelationId *string        `json:"correlationId,omitempty"`
	TenantId      *string        `json:"tenantId,omitempty"`
}

type ResumeRequest struct {
	Bookmark string         `json:"bookmark"`
	Input    map[string]any `json:"input,omitempty"`
}

type TerminateRequest struct {
	Reason string `json:"reason"`
}

type RetryRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

type SignalRequest struct {
	Name          string         `json:"name"`
	Input         map[string]any `json:"input,omitempty"`
	InstanceKey   *int64         `json:"instanceKey,omitempty"`
	CorrelationId *string        `json:"correlationId,omitempty"`
	DefinitionId  *string        `json:"definitionId,omitempty"`
	// Broadcast resumes every matching instance instead of the oldest one
	Broadcast bool `json:"broadcast,omitempty"`
}

type CompleteJobRequest struct {
	Output map[string]any `json:"output,omitempty"`
}

type FailJobRequest struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ExecutionResult struct {
	InstanceKey int64                  `json:"instanceKey"`
	Status      runtime.InstanceStatus `json:"status"`
	Bookmarks   []string               `json:"bookmarks"`
	Fault       *runtime.Fault         `json:"fault,omitempty"`
	Output      map[string]any         `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func toExecutionResult(res bpmn.ExecutionResult) ExecutionResult {
	result := ExecutionResult{
		InstanceKey: res.InstanceKey,
		Status:      res.Status,
		Bookmarks:   res.Bookmarks,
		Fault:       res.Fault,
		Output:      res.Output,
	}
	if result.Bookmarks == nil {
		result.Bookmarks = []string{}
	}
	if res.Err != nil {
		result.Error = res.Err.Error()
	}
	return result
}

func toExecutionResults(results []bpmn.ExecutionResult) []ExecutionResult {
	items := make([]ExecutionResult, 0, len(results))
	for _, res := range results {
		items = append(items, toExecutionResult(res))
	}
	return items
}

type PageMetadata struct {
	Page       int `json:"page"`
	Size       int `json:"size"`
	Count      int `json:"count"`
	TotalCount int `json:"totalCount"`
}

type InstancesPage struct {
	Items []runtime.WorkflowInstance `json:"items"`
	PageMetadata
}

type DefinitionsResponse struct {
	Items []model.WorkflowDefinition `json:"items"`
}

type HistoryResponse struct {
	Items []runtime.ExecutionRecord `json:"items"`
}

type JobsResponse struct {
	Items []runtime.Job `json:"items"`
}

type ResultsResponse struct {
	Items []ExecutionResult `json:"items"`
}
