// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package designer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
)

const ExportVersion = "1.0"

// Export is the wire format used to move a workflow between installations.
type Export struct {
	ExportVersion string    `json:"exportVersion"`
	ExportedAt    time.Time `json:"exportedAt"`
	Key           string    `json:"key"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Tags          []string  `json:"tags"`
	Model         Design    `json:"model"`
}

func NewExport(def model.WorkflowDefinition, design Design, exportedAt time.Time) Export {
	tags := def.Tags
	if tags == nil {
		tags = []string{}
	}
	return Export{
		ExportVersion: ExportVersion,
		ExportedAt:    exportedAt.UTC(),
		Key:           def.Key,
		Name:          def.Name,
		Description:   def.Description,
		Category:      def.Category,
		Tags:          tags,
		Model:         design,
	}
}

func MarshalExport(e Export) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export of %s: %w", e.Key, err)
	}
	return data, nil
}

// UnmarshalExport decodes an export and rejects unknown major versions.
func UnmarshalExport(data []byte) (Export, error) {
	var e Export
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return Export{}, fmt.Errorf("failed to unmarshal export: %w", err)
	}
	if e.ExportVersion == "" {
		return Export{}, &model.ValidationError{Msg: "export has no exportVersion"}
	}
	if major(e.ExportVersion) != major(ExportVersion) {
		return Export{}, &model.ValidationError{Msg: fmt.Sprintf("unsupported export version %s", e.ExportVersion)}
	}
	if e.Key == "" {
		return Export{}, &model.ValidationError{Msg: "export has no key"}
	}
	return e, nil
}

func major(version string) string {
	m, _, _ := strings.Cut(version, ".")
	return m
}
