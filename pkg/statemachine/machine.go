// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package statemachine is a generic state/trigger machine with a builder DSL.
//
// A Machine is immutable once built and holds no current state itself,
// the caller passes the current state to Fire and stores the returned one.
// This makes a single Machine safe to share between goroutines.
package statemachine

import (
	"context"
	"fmt"
)

// Transition describes an edge of the machine.
type Transition[S, T comparable] struct {
	Source  S
	Trigger T
	Target  S
	Guarded bool
}

// Result of firing a trigger. When IsSuccess is false State equals the state the trigger was fired from.
type Result[S, T comparable] struct {
	IsSuccess  bool
	State      S
	Previous   S
	Transition *Transition[S, T]
}

type transition[S, T comparable, C any] struct {
	Transition[S, T]
	guard Guard[C]
}

type transitionKey[S, T comparable] struct {
	state   S
	trigger T
}

type compiledState[S, T comparable, C any] struct {
	terminal  bool
	onEntry   []Action[S, T, C]
	available []Transition[S, T]
}

type Machine[S, T comparable, C any] struct {
	initial     S
	states      map[S]*compiledState[S, T, C]
	transitions map[transitionKey[S, T]][]transition[S, T, C]
	order       []S
	warnings    []string
}

// Initial returns the initial state.
func (m *Machine[S, T, C]) Initial() S {
	return m.initial
}

// States returns all states in declaration order.
func (m *Machine[S, T, C]) States() []S {
	return append([]S(nil), m.order...)
}

// Warnings returns non fatal problems found by Build.
func (m *Machine[S, T, C]) Warnings() []string {
	return m.warnings
}

// IsTerminal reports whether state was marked terminal.
func (m *Machine[S, T, C]) IsTerminal(state S) bool {
	cs, ok := m.states[state]
	return ok && cs.terminal
}

// AvailableTransitions returns the transitions declared for state without evaluating any guard.
func (m *Machine[S, T, C]) AvailableTransitions(state S) []Transition[S, T] {
	cs, ok := m.states[state]
	if !ok {
		return []Transition[S, T]{}
	}
	return append([]Transition[S, T](nil), cs.available...)
}

// CanFire reports whether at least one transition is declared for (state, trigger). Guards are not evaluated.
func (m *Machine[S, T, C]) CanFire(state S, trigger T) bool {
	return len(m.transitions[transitionKey[S, T]{state: state, trigger: trigger}]) > 0
}

// Fire looks up the transitions for (current, trigger) and takes the first one whose guard passes.
// A guard returning false is a non-match: Fire then returns IsSuccess=false and the unchanged state.
// Errors returned by a guard or an entry action are propagated and the state is left unchanged.
func (m *Machine[S, T, C]) Fire(ctx context.Context, current S, trigger T, c C) (Result[S, T], error) {
	res := Result[S, T]{State: current, Previous: current}
	if _, ok := m.states[current]; !ok {
		return res, &UnknownStateError{State: fmt.Sprint(current)}
	}
	for _, t := range m.transitions[transitionKey[S, T]{state: current, trigger: trigger}] {
		if t.guard != nil {
			ok, err := t.guard(ctx, c)
			if err != nil {
				return res, &GuardError{Transition: fmt.Sprintf("%v --%v--> %v", t.Source, t.Trigger, t.Target), Err: err}
			}
			if !ok {
				continue
			}
		}
		for _, action := range m.states[t.Target].onEntry {
			if err := action(ctx, t.Transition, c); err != nil {
				return res, fmt.Errorf("entry action of state %v failed: %w", t.Target, err)
			}
		}
		taken := t.Transition
		res.IsSuccess = true
		res.State = t.Target
		res.Transition = &taken
		return res, nil
	}
	return res, nil
}
