// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package runtime

import "maps"

// VariableHolder is a variable scope with an optional parent scope.
type VariableHolder struct {
	parent         *VariableHolder
	localVariables map[string]any
}

// NewVariableHolder creates a new VariableHolder with a given parent and localVariables map.
// If localVariables are not specified all parent.localVariables holder are copied into current localVariables.
func NewVariableHolder(parent *VariableHolder, localVariables map[string]any) VariableHolder {
	if localVariables == nil {
		localVariables = make(map[string]any)
		if parent != nil {
			maps.Copy(localVariables, parent.localVariables)
		}
	}
	return VariableHolder{
		parent:         parent,
		localVariables: localVariables,
	}
}

func (vh *VariableHolder) LocalVariables() map[string]any {
	return vh.localVariables
}

// GetVariable looks the key up in the local scope first and then in the parents.
func (vh *VariableHolder) GetVariable(key string) any {
	if v, ok := vh.localVariables[key]; ok {
		return v
	}
	if vh.parent != nil {
		return vh.parent.GetVariable(key)
	}
	return nil
}

func (vh *VariableHolder) SetLocalVariable(key string, val any) {
	vh.localVariables[key] = val
}

func (vh *VariableHolder) SetLocalVariables(variables map[string]any) {
	maps.Copy(vh.localVariables, variables)
}

func (vh *VariableHolder) DeleteLocalVariable(key string) {
	delete(vh.localVariables, key)
}

// PropagateVariables set a values with given keys to the parent VariableHolder
func (vh *VariableHolder) PropagateVariables(variables map[string]any) {
	if vh.parent != nil {
		vh.parent.SetLocalVariables(variables)
	}
}
