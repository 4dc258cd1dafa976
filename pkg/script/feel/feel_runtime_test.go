// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package feel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_boolean_expression_evaluates(t *testing.T) {
	variables := map[string]interface{}{
		"aValue": 3,
	}

	result, err := NewFeelRuntime().Evaluate("aValue > 1", variables)

	assert.Nil(t, err)
	assert.Equal(t, true, result)
}

func Test_mathematical_expression_evaluates(t *testing.T) {
	variables := map[string]interface{}{
		"foo": 3,
		"bar": int64(7),
		"sum": json.Number("10"),
	}

	result, err := NewFeelRuntime().Evaluate("sum >= foo + bar", variables)

	assert.Nil(t, err)
	assert.Equal(t, true, result)
}

func Test_string_comparison_evaluates(t *testing.T) {
	variables := map[string]interface{}{
		"decision": "approved",
	}

	result, err := NewFeelRuntime().Evaluate(`decision = "approved"`, variables)

	assert.Nil(t, err)
	assert.Equal(t, true, result)
}

func Test_normalize_scope_converts_nested_numbers(t *testing.T) {
	scope := normalizeScope(map[string]any{
		"order": map[string]any{"amount": 150, "items": []any{int32(1), json.Number("2.5")}},
	})

	assert.Equal(t, map[string]any{
		"order": map[string]any{"amount": float64(150), "items": []any{float64(1), 2.5}},
	}, scope)
}
