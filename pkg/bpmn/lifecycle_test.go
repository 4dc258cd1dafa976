// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"testing"

	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleTransitions(t *testing.T) {
	engine, mock := newMockClockEngine(t)

	tests := []struct {
		name     string
		from     runtime.InstanceStatus
		trigger  lifecycleTrigger
		expected runtime.InstanceStatus
		allowed  bool
	}{
		{"start created", runtime.InstanceStatusCreated, triggerStart, runtime.InstanceStatusRunning, true},
		{"suspend running", runtime.InstanceStatusRunning, triggerSuspend, runtime.InstanceStatusSuspended, true},
		{"resume suspended", runtime.InstanceStatusSuspended, triggerResume, runtime.InstanceStatusRunning, true},
		{"complete running", runtime.InstanceStatusRunning, triggerComplete, runtime.InstanceStatusCompleted, true},
		{"fault running", runtime.InstanceStatusRunning, triggerFault, runtime.InstanceStatusFaulted, true},
		{"retry faulted", runtime.InstanceStatusFaulted, triggerRetry, runtime.InstanceStatusRunning, true},
		{"terminate faulted", runtime.InstanceStatusFaulted, triggerTerminate, runtime.InstanceStatusTerminated, true},
		{"cancel suspended", runtime.InstanceStatusSuspended, triggerCancel, runtime.InstanceStatusCancelled, true},
		{"resume completed", runtime.InstanceStatusCompleted, triggerResume, runtime.InstanceStatusCompleted, false},
		{"cancel faulted", runtime.InstanceStatusFaulted, triggerCancel, runtime.InstanceStatusFaulted, false},
		{"retry suspended", runtime.InstanceStatusSuspended, triggerRetry, runtime.InstanceStatusSuspended, false},
		{"start running", runtime.InstanceStatusRunning, triggerStart, runtime.InstanceStatusRunning, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// given
			inst := runtime.WorkflowInstance{Key: 1, Status: test.from}

			// when
			err := engine.transition(t.Context(), &inst, test.trigger)

			// then
			assert.Equal(t, test.expected, inst.Status)
			if !test.allowed {
				var stateErr *WorkflowInvalidStateError
				require.ErrorAs(t, err, &stateErr)
				assert.Equal(t, test.from, stateErr.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, mock.Now(), inst.UpdatedAt)
			if inst.Status.IsTerminal() {
				assert.NotNil(t, inst.CompletedAt)
			} else {
				assert.Nil(t, inst.CompletedAt)
			}
		})
	}
}

func TestStatusesPermittingCloseTriggers(t *testing.T) {
	engine, _ := newMockClockEngine(t)

	assert.ElementsMatch(t, []runtime.InstanceStatus{
		runtime.InstanceStatusCreated,
		runtime.InstanceStatusRunning,
		runtime.InstanceStatusSuspended,
	}, engine.statusesPermitting(triggerCancel))
	assert.ElementsMatch(t, []runtime.InstanceStatus{
		runtime.InstanceStatusCreated,
		runtime.InstanceStatusRunning,
		runtime.InstanceStatusSuspended,
		runtime.InstanceStatusFaulted,
	}, engine.statusesPermitting(triggerTerminate))
}
