// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pbinitiative/zenflow/pkg/bpmn/designer"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveDefinitionCreatesDraftAndIncrementsVersions(t *testing.T) {
	// setup
	engine, _ := newMockClockEngine(t)
	design := loadDesign(t, "simple-task.yaml")

	// when
	def, v1, err := engine.SaveDefinition(t.Context(), SaveDefinitionCmd{Design: design, Category: "demo", Tags: []string{"a"}})
	require.NoError(t, err)
	def2, v2, err := engine.SaveDefinition(t.Context(), SaveDefinitionCmd{Design: design, ChangeDescription: "second"})
	require.NoError(t, err)

	// then
	assert.Equal(t, model.DefinitionStatusDraft, def.Status)
	assert.Equal(t, "simple-task", def.Key)
	assert.Equal(t, "Simple task", def.Name)
	assert.Equal(t, def.Id, def2.Id)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, 2, def2.LatestVersion)
	assert.Equal(t, "demo", def2.Category)
	assert.Equal(t, []string{"a"}, def2.Tags)

	stored, err := engine.GetDefinitionVersion(t.Context(), def.Key, 2)
	require.NoError(t, err)
	assert.Equal(t, "second", stored.ChangeDescription)
	require.NotNil(t, stored.Model)
	_, ok := stored.Model.Activity("id")
	assert.True(t, ok)
}

func TestSaveDefinitionRejectsInvalidDesign(t *testing.T) {
	// setup
	engine, _ := newMockClockEngine(t)
	design := designer.Design{
		Id: "broken",
		Nodes: []designer.Node{
			{Id: "a", Type: "task"},
		},
	}

	// when
	_, _, err := engine.SaveDefinition(t.Context(), SaveDefinitionCmd{Design: design})

	// then
	var validationErr *model.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	defs, err := engine.ListDefinitions(t.Context())
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestSaveDefinitionWithUnknownIdReturnsNotFound(t *testing.T) {
	// setup
	engine, _ := newMockClockEngine(t)

	// when
	_, _, err := engine.SaveDefinition(t.Context(), SaveDefinitionCmd{Id: "missing", Design: loadDesign(t, "simple-task.yaml")})

	// then
	var notFound *WorkflowNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestPublishAndUnpublishDefinition(t *testing.T) {
	// setup
	engine, _ := newMockClockEngine(t)
	def, _, err := engine.SaveDefinition(t.Context(), SaveDefinitionCmd{Design: loadDesign(t, "simple-task.yaml")})
	require.NoError(t, err)

	// when
	published, err := engine.PublishDefinition(t.Context(), def.Id, 0)

	// then
	require.NoError(t, err)
	assert.Equal(t, model.DefinitionStatusPublished, published.Status)
	assert.Equal(t, 1, published.PublishedVersion)
	version, err := engine.GetDefinitionVersion(t.Context(), def.Id, 1)
	require.NoError(t, err)
	assert.NotNil(t, version.PublishedAt)

	// when
	require.NoError(t, engine.UnpublishDefinition(t.Context(), def.Id))

	// then
	unpublished, err := engine.GetDefinition(t.Context(), def.Id)
	require.NoError(t, err)
	assert.Equal(t, model.DefinitionStatusDeprecated, unpublished.Status)
	_, err = engine.StartNew(t.Context(), def.Id, nil, StartOptions{})
	var notFound *WorkflowNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestPublishUnknownVersionReturnsNotFound(t *testing.T) {
	// setup
	engine, _ := newMockClockEngine(t)
	def, _, err := engine.SaveDefinition(t.Context(), SaveDefinitionCmd{Design: loadDesign(t, "simple-task.yaml")})
	require.NoError(t, err)

	// when
	_, err = engine.PublishDefinition(t.Context(), def.Id, 5)

	// then
	var notFound *WorkflowNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestExportAndImportDefinition(t *testing.T) {
	// setup
	source, _ := newMockClockEngine(t)
	target, _ := newMockClockEngine(t)
	def := deployDesign(t, source, "exclusive-gateway.yaml")

	// when
	data, err := source.ExportDefinition(t.Context(), def.Key)
	require.NoError(t, err)
	imported, err := target.ImportDefinition(t.Context(), data, true)
	require.NoError(t, err)

	// then
	assert.Equal(t, def.Key, imported.Key)
	assert.Equal(t, def.Name, imported.Name)
	assert.True(t, imported.IsPublished())
	res, err := target.StartNew(t.Context(), imported.Key, map[string]any{"amount": 150}, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, runtime.InstanceStatusCompleted, res.Status)
	inst, err := target.GetInstance(t.Context(), res.InstanceKey)
	require.NoError(t, err)
	assert.Contains(t, inst.CompletedActivities, "task-a")
}

func TestImportRejectsUnsupportedExportVersion(t *testing.T) {
	// setup
	engine, _ := newMockClockEngine(t)

	// when
	_, err := engine.ImportDefinition(t.Context(), []byte(`{"exportVersion":"2.0","key":"x","model":{}}`), false)

	// then
	var validationErr *model.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestDeployFromFileAcceptsJson(t *testing.T) {
	// setup
	engine, _ := newMockClockEngine(t)
	data, err := designer.SerializeDesign(loadDesign(t, "simple-task.yaml"))
	require.NoError(t, err)
	filename := filepath.Join(t.TempDir(), "simple-task.json")
	require.NoError(t, os.WriteFile(filename, data, 0o600))

	// when
	def, err := engine.DeployFromFile(t.Context(), filename)

	// then
	require.NoError(t, err)
	assert.True(t, def.IsPublished())
	assert.Equal(t, "simple-task", def.Key)
}
