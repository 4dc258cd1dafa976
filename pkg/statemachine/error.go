// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package statemachine

type BuildError struct {
	Msg string
}

func (e *BuildError) Error() string {
	return "invalid state machine: " + e.Msg
}

type UnknownStateError struct {
	State string
}

func (e *UnknownStateError) Error() string {
	return "unknown state " + e.State
}

type GuardError struct {
	Transition string
	Err        error
}

func (e *GuardError) Error() string {
	return "guard of transition " + e.Transition + " failed: " + e.Err.Error()
}

func (e *GuardError) Unwrap() error {
	return e.Err
}
