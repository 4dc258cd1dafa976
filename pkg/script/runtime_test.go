// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvaluator struct {
	expressions []string
	result      any
}

func (e *recordingEvaluator) Evaluate(expression string, variableContext map[string]any) (any, error) {
	e.expressions = append(e.expressions, expression)
	return e.result, nil
}

func Test_expression_runtime_routes_by_prefix(t *testing.T) {
	feel := &recordingEvaluator{result: true}
	js := &recordingEvaluator{result: false}
	r := NewExpressionRuntime(feel, js)

	_, err := r.Evaluate("= amount > 1", nil)
	require.NoError(t, err)
	_, err = r.Evaluate("amount > 1", nil)
	require.NoError(t, err)
	_, err = r.Evaluate("js: amount > 1", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"amount > 1", "amount > 1"}, feel.expressions)
	assert.Equal(t, []string{"amount > 1"}, js.expressions)
}

func Test_expression_runtime_without_js(t *testing.T) {
	r := NewExpressionRuntime(&recordingEvaluator{}, nil)

	_, err := r.Evaluate("js: 1 + 1", nil)

	assert.ErrorContains(t, err, "not enabled")
}

func Test_condition_requires_boolean(t *testing.T) {
	_, err := EvaluateCondition(&recordingEvaluator{result: "yes"}, "x", nil)
	assert.ErrorContains(t, err, "boolean expected")

	ok, err := EvaluateCondition(&recordingEvaluator{result: true}, "x", nil)
	assert.NoError(t, err)
	assert.True(t, ok)
}

type countingFactory struct {
	created int
}

type dummyRunner struct{}

func (dummyRunner) Runner() {}

func (f *countingFactory) NewRunner() Runner {
	f.created++
	return dummyRunner{}
}

func Test_runner_pool_respects_limits(t *testing.T) {
	// given
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	factory := &countingFactory{}
	pool := NewRunnerPool(ctx, factory, 3, 1)

	// when
	runners := []Runner{pool.GetRunnerFromPool(), pool.GetRunnerFromPool(), pool.GetRunnerFromPool()}

	// then
	assert.Equal(t, 3, factory.created)
	assert.Equal(t, 3, pool.ActiveRunners())
	for _, runner := range runners {
		pool.ReturnRunnerToPool(runner)
	}

	pool.shrink()
	assert.Equal(t, 1, pool.ActiveRunners())
}
