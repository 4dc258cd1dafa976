// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pbinitiative/zenflow/pkg/bpmn/designer"
	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
	"github.com/pbinitiative/zenflow/pkg/storage"
)

// SaveDefinitionCmd creates a definition or adds a new version to an existing one.
// Id selects an existing definition, otherwise Key is looked up and a new definition is created when it is unknown.
type SaveDefinitionCmd struct {
	Id                string
	Key               string
	Name              string
	Description       string
	Category          string
	Tags              []string
	Design            designer.Design
	ChangeDescription string
}

// SaveDefinition compiles the design and stores it as the next version of the definition.
// Returns *model.ValidationError when the design is not executable.
func (engine *Engine) SaveDefinition(ctx context.Context, cmd SaveDefinitionCmd) (model.WorkflowDefinition, model.ProcessVersion, error) {
	compiled, result, err := designer.Compile(cmd.Design)
	if err != nil {
		return model.WorkflowDefinition{}, model.ProcessVersion{}, err
	}
	for _, warning := range result.Warnings {
		engine.logger.Warn("definition warning", "design", cmd.Design.Id, "warning", warning)
	}
	designData, err := designer.SerializeDesign(cmd.Design)
	if err != nil {
		return model.WorkflowDefinition{}, model.ProcessVersion{}, err
	}

	now := engine.clock.Now()
	def, err := engine.definitionForSave(ctx, cmd)
	if err != nil {
		return model.WorkflowDefinition{}, model.ProcessVersion{}, err
	}
	if def.Id == "" {
		def = model.WorkflowDefinition{
			Id:        uuid.NewString(),
			Key:       cmd.Key,
			Status:    model.DefinitionStatusDraft,
			CreatedAt: now,
		}
		if def.Key == "" {
			def.Key = cmd.Design.Id
		}
	}
	def.Name = firstNonEmpty(cmd.Name, cmd.Design.Name, def.Name, def.Key)
	def.Description = firstNonEmpty(cmd.Description, cmd.Design.Description, def.Description)
	if cmd.Category != "" {
		def.Category = cmd.Category
	}
	if cmd.Tags != nil {
		def.Tags = cmd.Tags
	}
	def.LatestVersion++
	def.UpdatedAt = now

	version := model.ProcessVersion{
		DefinitionId:      def.Id,
		Version:           def.LatestVersion,
		Model:             compiled,
		Design:            designData,
		ChangeDescription: cmd.ChangeDescription,
		CreatedAt:         now,
	}
	if err := engine.persistence.SaveVersion(ctx, version); err != nil {
		return def, version, fmt.Errorf("failed to save version %d of %s: %w", version.Version, def.Id, err)
	}
	if err := engine.persistence.SaveDefinition(ctx, def); err != nil {
		return def, version, fmt.Errorf("failed to save definition %s: %w", def.Id, err)
	}
	engine.logger.Info("definition saved", "definitionId", def.Id, "key", def.Key, "version", version.Version)
	return def, version, nil
}

func (engine *Engine) definitionForSave(ctx context.Context, cmd SaveDefinitionCmd) (model.WorkflowDefinition, error) {
	if cmd.Id != "" {
		def, err := engine.persistence.FindDefinitionById(ctx, cmd.Id)
		if errors.Is(err, storage.ErrNotFound) {
			return def, &WorkflowNotFoundError{DefinitionId: cmd.Id}
		}
		return def, err
	}
	key := cmd.Key
	if key == "" {
		key = cmd.Design.Id
	}
	def, err := engine.persistence.FindDefinitionByKey(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return model.WorkflowDefinition{}, nil
	}
	return def, err
}

// PublishDefinition validates and publishes a version, 0 selects the latest one.
// New instances start on the published version, running instances keep theirs.
func (engine *Engine) PublishDefinition(ctx context.Context, definitionId string, version int) (model.WorkflowDefinition, error) {
	def, err := engine.findDefinition(ctx, definitionId)
	if err != nil {
		return def, err
	}
	if version == 0 {
		version = def.LatestVersion
	}
	v, err := engine.loadVersion(ctx, def.Id, version)
	if err != nil {
		return def, err
	}
	if v.Model == nil {
		return def, &model.ValidationError{Msg: fmt.Sprintf("version %d of %s has no model", version, def.Id)}
	}
	if err := v.Model.Validate().Err(); err != nil {
		return def, err
	}
	if err := engine.persistence.PublishVersion(ctx, def.Id, version, engine.clock.Now()); err != nil {
		return def, fmt.Errorf("failed to publish version %d of %s: %w", version, def.Id, err)
	}
	engine.versions.Remove(versionCacheKey(def.Id, version))
	engine.logger.Info("definition published", "definitionId", def.Id, "version", version)
	return engine.findDefinition(ctx, def.Id)
}

// UnpublishDefinition deprecates the definition, no new instances can be started from it.
func (engine *Engine) UnpublishDefinition(ctx context.Context, definitionId string) error {
	def, err := engine.findDefinition(ctx, definitionId)
	if err != nil {
		return err
	}
	if err := engine.persistence.UnpublishDefinition(ctx, def.Id); err != nil {
		return fmt.Errorf("failed to unpublish %s: %w", def.Id, err)
	}
	return nil
}

// GetDefinition looks the definition up by id first and by key second.
func (engine *Engine) GetDefinition(ctx context.Context, idOrKey string) (model.WorkflowDefinition, error) {
	return engine.findDefinition(ctx, idOrKey)
}

func (engine *Engine) ListDefinitions(ctx context.Context) ([]model.WorkflowDefinition, error) {
	defs, err := engine.persistence.FindDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	return defs, nil
}

func (engine *Engine) GetDefinitionVersion(ctx context.Context, idOrKey string, version int) (model.ProcessVersion, error) {
	def, err := engine.findDefinition(ctx, idOrKey)
	if err != nil {
		return model.ProcessVersion{}, err
	}
	if version == 0 {
		version = def.LatestVersion
	}
	return engine.loadVersion(ctx, def.Id, version)
}

// ExportDefinition serializes the published version, or the latest one of an unpublished definition, into the export format.
func (engine *Engine) ExportDefinition(ctx context.Context, idOrKey string) ([]byte, error) {
	def, err := engine.findDefinition(ctx, idOrKey)
	if err != nil {
		return nil, err
	}
	version := def.LatestVersion
	if def.IsPublished() {
		version = def.PublishedVersion
	}
	v, err := engine.loadVersion(ctx, def.Id, version)
	if err != nil {
		return nil, err
	}
	design, err := designer.DeserializeDesign(v.Design)
	if err != nil {
		return nil, fmt.Errorf("failed to read design of version %d of %s: %w", version, def.Id, err)
	}
	return designer.MarshalExport(designer.NewExport(def, design, engine.clock.Now()))
}

// ImportDefinition saves an exported definition as a new version of the definition with the same key.
func (engine *Engine) ImportDefinition(ctx context.Context, data []byte, publish bool) (model.WorkflowDefinition, error) {
	export, err := designer.UnmarshalExport(data)
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	def, version, err := engine.SaveDefinition(ctx, SaveDefinitionCmd{
		Key:               export.Key,
		Name:              export.Name,
		Description:       export.Description,
		Category:          export.Category,
		Tags:              export.Tags,
		Design:            export.Model,
		ChangeDescription: fmt.Sprintf("imported from export %s of %s", export.ExportVersion, export.ExportedAt.Format("2006-01-02T15:04:05Z07:00")),
	})
	if err != nil {
		return def, err
	}
	if !publish {
		return def, nil
	}
	return engine.PublishDefinition(ctx, def.Id, version.Version)
}

// DeployFromFile saves and publishes a design read from a .json, .yaml or .yml file.
func (engine *Engine) DeployFromFile(ctx context.Context, filename string) (model.WorkflowDefinition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("failed to read design file %s: %w", filename, err)
	}
	var design designer.Design
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		design, err = designer.DeserializeDesignYAML(data)
	default:
		design, err = designer.DeserializeDesign(data)
	}
	if err != nil {
		return model.WorkflowDefinition{}, err
	}
	def, version, err := engine.SaveDefinition(ctx, SaveDefinitionCmd{
		Design:            design,
		ChangeDescription: fmt.Sprintf("deployed from %s", filepath.Base(filename)),
	})
	if err != nil {
		return def, err
	}
	return engine.PublishDefinition(ctx, def.Id, version.Version)
}

func (engine *Engine) findDefinition(ctx context.Context, idOrKey string) (model.WorkflowDefinition, error) {
	def, err := engine.persistence.FindDefinitionById(ctx, idOrKey)
	if err == nil {
		return def, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return def, fmt.Errorf("failed to load definition %s: %w", idOrKey, err)
	}
	def, err = engine.persistence.FindDefinitionByKey(ctx, idOrKey)
	if errors.Is(err, storage.ErrNotFound) {
		return def, &WorkflowNotFoundError{DefinitionId: idOrKey}
	}
	if err != nil {
		return def, fmt.Errorf("failed to load definition %s: %w", idOrKey, err)
	}
	return def, nil
}

// loadVersion returns the version from the cache, loading it from the store on a miss.
func (engine *Engine) loadVersion(ctx context.Context, definitionId string, version int) (model.ProcessVersion, error) {
	key := versionCacheKey(definitionId, version)
	if v, ok := engine.versions.Get(key); ok {
		return v, nil
	}
	v, err := engine.persistence.FindVersion(ctx, definitionId, version)
	if errors.Is(err, storage.ErrNotFound) {
		return v, &WorkflowNotFoundError{DefinitionId: fmt.Sprintf("%s version %d", definitionId, version)}
	}
	if err != nil {
		return v, fmt.Errorf("failed to load version %d of %s: %w", version, definitionId, err)
	}
	if v.Model == nil {
		return v, &model.ValidationError{Msg: fmt.Sprintf("version %d of %s has no model", version, definitionId)}
	}
	engine.versions.Add(key, v)
	return v, nil
}

func versionCacheKey(definitionId string, version int) string {
	return fmt.Sprintf("%s/%d", definitionId, version)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
