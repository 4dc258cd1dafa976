// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package statemachine

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// Guard decides whether a transition may be taken for the given context.
// Returning false makes the transition a non-match, returning an error aborts the firing.
type Guard[C any] func(ctx context.Context, c C) (bool, error)

// Action is executed when a state is entered through a transition.
type Action[S, T comparable, C any] func(ctx context.Context, transition Transition[S, T], c C) error

// Builder collects the states and transitions of a machine.
// Use NewBuilder to create one and Build to compile it into a Machine.
type Builder[S, T comparable, C any] struct {
	initial    S
	hasInitial bool
	states     map[S]*StateBuilder[S, T, C]
	order      []S
}

// StateBuilder configures a single state of the machine.
type StateBuilder[S, T comparable, C any] struct {
	state       S
	terminal    bool
	transitions []transition[S, T, C]
	onEntry     []Action[S, T, C]
}

func NewBuilder[S, T comparable, C any]() *Builder[S, T, C] {
	return &Builder[S, T, C]{
		states: map[S]*StateBuilder[S, T, C]{},
	}
}

// Initial declares the state a new subject starts in. The state must be declared with State as well.
func (b *Builder[S, T, C]) Initial(state S) *Builder[S, T, C] {
	b.initial = state
	b.hasInitial = true
	return b
}

// State declares a state, calling it again for the same state returns the existing configuration.
func (b *Builder[S, T, C]) State(state S) *StateBuilder[S, T, C] {
	if sb, ok := b.states[state]; ok {
		return sb
	}
	sb := &StateBuilder[S, T, C]{state: state}
	b.states[state] = sb
	b.order = append(b.order, state)
	return sb
}

// Permit adds an unconditional transition.
// Transitions for the same trigger are tried in the order they were declared and the first match wins.
func (sb *StateBuilder[S, T, C]) Permit(trigger T, target S) *StateBuilder[S, T, C] {
	return sb.PermitIf(trigger, target, nil)
}

// PermitIf adds a transition taken only when guard returns true.
func (sb *StateBuilder[S, T, C]) PermitIf(trigger T, target S, guard Guard[C]) *StateBuilder[S, T, C] {
	sb.transitions = append(sb.transitions, transition[S, T, C]{
		Transition: Transition[S, T]{
			Source:  sb.state,
			Trigger: trigger,
			Target:  target,
			Guarded: guard != nil,
		},
		guard: guard,
	})
	return sb
}

// OnEntry registers an action executed whenever the state is entered.
func (sb *StateBuilder[S, T, C]) OnEntry(action Action[S, T, C]) *StateBuilder[S, T, C] {
	sb.onEntry = append(sb.onEntry, action)
	return sb
}

// Terminal marks the state as final.
func (sb *StateBuilder[S, T, C]) Terminal() *StateBuilder[S, T, C] {
	sb.terminal = true
	return sb
}

// Build validates the configuration and compiles the (state, trigger) lookup table.
// A machine without any terminal state is built but reported in Machine.Warnings.
func (b *Builder[S, T, C]) Build() (*Machine[S, T, C], error) {
	if !b.hasInitial {
		return nil, &BuildError{Msg: "initial state is not declared"}
	}
	if _, ok := b.states[b.initial]; !ok {
		return nil, &BuildError{Msg: fmt.Sprintf("initial state %v is not a defined state", b.initial)}
	}

	m := &Machine[S, T, C]{
		initial:     b.initial,
		states:      make(map[S]*compiledState[S, T, C], len(b.states)),
		transitions: map[transitionKey[S, T]][]transition[S, T, C]{},
		order:       append([]S(nil), b.order...),
	}
	hasTerminal := false
	for _, state := range b.order {
		sb := b.states[state]
		cs := &compiledState[S, T, C]{
			terminal: sb.terminal,
			onEntry:  append([]Action[S, T, C](nil), sb.onEntry...),
		}
		for _, t := range sb.transitions {
			if _, ok := b.states[t.Target]; !ok {
				return nil, &BuildError{Msg: fmt.Sprintf("transition %v --%v--> %v targets an undefined state", t.Source, t.Trigger, t.Target)}
			}
			key := transitionKey[S, T]{state: state, trigger: t.Trigger}
			m.transitions[key] = append(m.transitions[key], t)
			cs.available = append(cs.available, t.Transition)
		}
		if sb.terminal {
			hasTerminal = true
		}
		m.states[state] = cs
	}
	if !hasTerminal {
		warning := "no terminal state is declared"
		m.warnings = append(m.warnings, warning)
		hclog.Default().Named("statemachine").Warn(warning)
	}
	return m, nil
}
