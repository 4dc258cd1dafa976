// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"slices"

	"github.com/pbinitiative/zenflow/pkg/bpmn/model"
)

type taskMatcher func(activity model.Activity) bool

type taskHandlerType string

const (
	taskHandlerForId   taskHandlerType = "TASK_HANDLER_ID"
	taskHandlerForType taskHandlerType = "TASK_HANDLER_TYPE"
)

type taskHandler struct {
	handlerType taskHandlerType
	matches     taskMatcher
	handler     func(task ActivatedTask)
}

type newTaskHandlerCommand struct {
	handlerType taskHandlerType
	matcher     taskMatcher
	append      func(handler *taskHandler)
}

type NewTaskHandlerCommand2 interface {
	// Handler is the actual handler to be executed
	Handler(func(task ActivatedTask)) *taskHandler
}

type NewTaskHandlerCommand1 interface {
	// Id defines a handler for a given activity id.
	// This is 1:1 relation between a handler and a task since activity ids are unique within a definition.
	Id(id string) NewTaskHandlerCommand2

	// Type defines a handler for tasks configured with the given "type".
	// This allows a single handler to be used for multiple tasks.
	Type(taskType string) NewTaskHandlerCommand2
}

// NewTaskHandler registers a handler function to be called for tasks and service tasks
func (engine *Engine) NewTaskHandler() NewTaskHandlerCommand1 {
	cmd := newTaskHandlerCommand{
		append: func(handler *taskHandler) {
			engine.taskhandlersMu.Lock()
			defer engine.taskhandlersMu.Unlock()
			engine.taskHandlers = append(engine.taskHandlers, handler)
		},
	}
	return cmd
}

// Id implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Id(id string) NewTaskHandlerCommand2 {
	thc.matcher = func(activity model.Activity) bool {
		return activity.Id == id
	}
	thc.handlerType = taskHandlerForId
	return thc
}

// Type implements NewTaskHandlerCommand1
func (thc newTaskHandlerCommand) Type(taskType string) NewTaskHandlerCommand2 {
	thc.matcher = func(activity model.Activity) bool {
		t, ok := activity.ConfigString(model.ConfigTaskType)
		return ok && t == taskType
	}
	thc.handlerType = taskHandlerForType
	return thc
}

// Handler implements NewTaskHandlerCommand2
func (thc newTaskHandlerCommand) Handler(f func(task ActivatedTask)) *taskHandler {
	th := taskHandler{
		handlerType: thc.handlerType,
		matches:     thc.matcher,
		handler:     f,
	}
	thc.append(&th)
	return &th
}

// RemoveHandler removes the handler created by Handler method
func (engine *Engine) RemoveHandler(handler *taskHandler) {
	engine.taskhandlersMu.Lock()
	defer engine.taskhandlersMu.Unlock()
	for i, hand := range engine.taskHandlers {
		if hand == handler {
			engine.taskHandlers = slices.Delete(engine.taskHandlers, i, i+1)
			return
		}
	}
}

// findTaskHandler prefers a handler registered for the activity id over one registered for its type.
func (engine *Engine) findTaskHandler(activity model.Activity) func(task ActivatedTask) {
	engine.taskhandlersMu.RLock()
	defer engine.taskhandlersMu.RUnlock()
	for _, handlerType := range []taskHandlerType{taskHandlerForId, taskHandlerForType} {
		for _, handler := range engine.taskHandlers {
			if handler.handlerType == handlerType && handler.matches(activity) {
				return handler.handler
			}
		}
	}
	return nil
}
