// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

import (
	"fmt"
	"strings"
)

// Evaluator evaluates an expression against the variables of an instance.
type Evaluator interface {
	Evaluate(expression string, variableContext map[string]any) (any, error)
}

const (
	// JsPrefix selects the javascript evaluator
	JsPrefix = "js:"
	// FeelPrefix is the optional marker of a FEEL expression
	FeelPrefix = "="
)

// ExpressionRuntime routes expressions to the FEEL evaluator unless they carry the JsPrefix.
type ExpressionRuntime struct {
	feel Evaluator
	js   Evaluator
}

var _ Evaluator = &ExpressionRuntime{}

func NewExpressionRuntime(feel Evaluator, js Evaluator) *ExpressionRuntime {
	return &ExpressionRuntime{
		feel: feel,
		js:   js,
	}
}

func (r *ExpressionRuntime) Evaluate(expression string, variableContext map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if after, ok := strings.CutPrefix(expression, JsPrefix); ok {
		if r.js == nil {
			return nil, fmt.Errorf("javascript expressions are not enabled: %s", expression)
		}
		return r.js.Evaluate(strings.TrimSpace(after), variableContext)
	}
	expression = strings.TrimSpace(strings.TrimPrefix(expression, FeelPrefix))
	return r.feel.Evaluate(expression, variableContext)
}

// EvaluateCondition evaluates the expression and requires a boolean result.
func EvaluateCondition(evaluator Evaluator, expression string, variableContext map[string]any) (bool, error) {
	res, err := evaluator.Evaluate(expression, variableContext)
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %v (%T), boolean expected", expression, res, res)
	}
	return b, nil
}
