// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package designer holds the free-form graph produced by a workflow designer
// and compiles it into the executable definition the engine runs.
package designer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Design is the graph as drawn in a designer: nodes and edges with string conditions.
type Design struct {
	Id          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []Node `json:"nodes" yaml:"nodes"`
	Edges       []Edge `json:"edges" yaml:"edges"`
}

type Node struct {
	Id       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Label    string         `json:"label,omitempty" yaml:"label,omitempty"`
	IsStart  bool           `json:"isStart,omitempty" yaml:"isStart,omitempty"`
	Config   map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Position *Position      `json:"position,omitempty" yaml:"position,omitempty"`
}

type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type Edge struct {
	Id        string `json:"id" yaml:"id"`
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	IsDefault bool   `json:"isDefault,omitempty" yaml:"isDefault,omitempty"`
	Priority  int    `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// SerializeDesign encodes the design as JSON.
func SerializeDesign(d Design) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize design %s: %w", d.Id, err)
	}
	return data, nil
}

// DeserializeDesign decodes a JSON design. Numbers in node configuration are kept as json.Number
// so that serializing the result again reproduces them exactly.
func DeserializeDesign(data []byte) (Design, error) {
	var d Design
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return Design{}, fmt.Errorf("failed to deserialize design: %w", err)
	}
	return d, nil
}

// DeserializeDesignYAML decodes a design written in YAML.
func DeserializeDesignYAML(data []byte) (Design, error) {
	var d Design
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Design{}, fmt.Errorf("failed to deserialize yaml design: %w", err)
	}
	return d, nil
}
