// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package model

import (
	"encoding/json"
	"time"
)

type DefinitionStatus string

const (
	DefinitionStatusDraft      DefinitionStatus = "Draft"
	DefinitionStatusPublished  DefinitionStatus = "Published"
	DefinitionStatusDeprecated DefinitionStatus = "Deprecated"
)

// WorkflowDefinition is the versioned envelope of a workflow.
// A new ProcessVersion is created on every save, published versions are never modified.
type WorkflowDefinition struct {
	Id               string           `json:"id"`
	Key              string           `json:"key"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	Category         string           `json:"category,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	Status           DefinitionStatus `json:"status"`
	LatestVersion    int              `json:"latestVersion"`
	PublishedVersion int              `json:"publishedVersion"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func (d WorkflowDefinition) IsPublished() bool {
	return d.Status == DefinitionStatusPublished && d.PublishedVersion > 0
}

// ProcessVersion is an immutable snapshot of a compiled definition.
type ProcessVersion struct {
	DefinitionId      string                `json:"definitionId"`
	Version           int                   `json:"version"`
	Model             *ExecutableDefinition `json:"model"`
	Design            json.RawMessage       `json:"design,omitempty"`
	ChangeDescription string                `json:"changeDescription,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
	PublishedAt       *time.Time            `json:"publishedAt,omitempty"`
}
