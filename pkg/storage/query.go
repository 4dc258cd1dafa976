// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storage

import (
	"slices"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
)

// InstanceQuery filters instances, zero values do not filter.
type InstanceQuery struct {
	DefinitionId  string
	Statuses      []runtime.InstanceStatus
	CorrelationId string
	TenantId      string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Page          int
	Size          int
}

type InstancePage struct {
	Items      []runtime.WorkflowInstance
	Page       int
	Size       int
	TotalCount int
}

// Normalize applies the default paging.
func (q InstanceQuery) Normalize() InstanceQuery {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Size < 1 {
		q.Size = DefaultPageSize
	}
	return q
}

// Matches reports whether the instance passes all filters of the query.
func (q InstanceQuery) Matches(instance runtime.WorkflowInstance) bool {
	if q.DefinitionId != "" && instance.DefinitionId != q.DefinitionId {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, instance.Status) {
		return false
	}
	if q.CorrelationId != "" && instance.CorrelationId != q.CorrelationId {
		return false
	}
	if q.TenantId != "" && instance.TenantId != q.TenantId {
		return false
	}
	if q.CreatedFrom != nil && instance.CreatedAt.Before(*q.CreatedFrom) {
		return false
	}
	if q.CreatedTo != nil && instance.CreatedAt.After(*q.CreatedTo) {
		return false
	}
	return true
}

// Paginate cuts the page described by the query out of items, items are expected to be already filtered and sorted.
func (q InstanceQuery) Paginate(items []runtime.WorkflowInstance) InstancePage {
	q = q.Normalize()
	page := InstancePage{
		Items:      []runtime.WorkflowInstance{},
		Page:       q.Page,
		Size:       q.Size,
		TotalCount: len(items),
	}
	start := (q.Page - 1) * q.Size
	if start >= len(items) {
		return page
	}
	end := min(start+q.Size, len(items))
	page.Items = items[start:end]
	return page
}
