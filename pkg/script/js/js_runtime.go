// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/pbinitiative/zenflow/pkg/script"
)

type JsRunnerFactory struct {
}

func (JsRunnerFactory) NewRunner() script.Runner {
	return newJsRunner()
}

// JsRuntime evaluates javascript expressions on pooled goja runtimes.
type JsRuntime struct {
	pool *script.RunnerPool
}

var _ script.Evaluator = &JsRuntime{}

func NewJsRuntime(ctx context.Context, maxVmPoolSize int, minVmPoolSize int) *JsRuntime {
	return &JsRuntime{
		pool: script.NewRunnerPool(ctx, JsRunnerFactory{}, maxVmPoolSize, minVmPoolSize),
	}
}

func (r *JsRuntime) Evaluate(expression string, variableContext map[string]any) (any, error) {
	var runner = r.pool.GetRunnerFromPool()
	defer r.pool.ReturnRunnerToPool(runner)

	return runner.(*JsRunner).evaluate(expression, variableContext)
}

type JsRunner struct {
	vm *goja.Runtime
}

func (r *JsRunner) Runner() {}

func newJsRunner() *JsRunner {
	r := JsRunner{vm: goja.New()}
	return &r
}

// evaluate exposes the variables as globals for the duration of the run, the runner is reused afterwards.
func (r *JsRunner) evaluate(expression string, variableContext map[string]any) (any, error) {
	for name, value := range variableContext {
		if err := r.vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("failed to set variable %s: %w", name, err)
		}
	}
	defer func() {
		global := r.vm.GlobalObject()
		for name := range variableContext {
			_ = global.Delete(name)
		}
	}()
	resp, err := r.vm.RunString(expression)
	if err != nil {
		return nil, fmt.Errorf("error running script \"%s\" : %w", expression, err)
	}
	return resp.Export(), nil
}
