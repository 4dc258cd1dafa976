// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package feel

import (
	"encoding/json"
	"fmt"

	"github.com/pbinitiative/feel"
	"github.com/pbinitiative/zenflow/pkg/script"
)

// Runtime evaluates FEEL expressions, the interpreter is stateless so no runner pool is needed.
type Runtime struct{}

var _ script.Evaluator = &Runtime{}

func NewFeelRuntime() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Evaluate(expression string, variableContext map[string]any) (any, error) {
	res, err := feel.EvalStringWithScope(expression, normalizeScope(variableContext))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %s: %w", expression, err)
	}
	return res, nil
}

// normalizeScope converts numbers to float64 so that values read from json and values set from go compare equally.
func normalizeScope(variables map[string]any) map[string]any {
	res := make(map[string]any, len(variables))
	for k, v := range variables {
		res[k] = normalizeValue(v)
	}
	return res
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case int:
		return float64(value)
	case int8:
		return float64(value)
	case int16:
		return float64(value)
	case int32:
		return float64(value)
	case int64:
		return float64(value)
	case uint:
		return float64(value)
	case uint8:
		return float64(value)
	case uint16:
		return float64(value)
	case uint32:
		return float64(value)
	case uint64:
		return float64(value)
	case float32:
		return float64(value)
	case json.Number:
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	case map[string]any:
		return normalizeScope(value)
	case []any:
		res := make([]any, len(value))
		for i, item := range value {
			res[i] = normalizeValue(item)
		}
		return res
	}
	return v
}
