// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doorState string
type doorTrigger string

const (
	open   doorState = "open"
	closed doorState = "closed"
	locked doorState = "locked"
	broken doorState = "broken"

	push   doorTrigger = "push"
	pull   doorTrigger = "pull"
	lock   doorTrigger = "lock"
	unlock doorTrigger = "unlock"
	kick   doorTrigger = "kick"
)

type door struct {
	hasKey  bool
	entered []doorState
}

func buildDoor(t *testing.T) *Machine[doorState, doorTrigger, *door] {
	record := func(ctx context.Context, tr Transition[doorState, doorTrigger], d *door) error {
		d.entered = append(d.entered, tr.Target)
		return nil
	}
	b := NewBuilder[doorState, doorTrigger, *door]()
	b.Initial(closed)
	b.State(open).Permit(push, closed).OnEntry(record)
	b.State(closed).
		Permit(pull, open).
		PermitIf(lock, locked, func(ctx context.Context, d *door) (bool, error) { return d.hasKey, nil }).
		Permit(kick, broken).
		OnEntry(record)
	b.State(locked).PermitIf(unlock, closed, func(ctx context.Context, d *door) (bool, error) { return d.hasKey, nil }).OnEntry(record)
	b.State(broken).Terminal()
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestFireTakesTransitionAndRunsEntryAction(t *testing.T) {
	// given
	m := buildDoor(t)
	d := &door{}

	// when
	res, err := m.Fire(t.Context(), m.Initial(), pull, d)

	// then
	assert.NoError(t, err)
	assert.True(t, res.IsSuccess)
	assert.Equal(t, open, res.State)
	assert.Equal(t, closed, res.Previous)
	assert.Equal(t, []doorState{open}, d.entered)
}

func TestFireWithFalseGuardLeavesStateUnchanged(t *testing.T) {
	// given
	m := buildDoor(t)
	d := &door{hasKey: false}

	// when
	res, err := m.Fire(t.Context(), closed, lock, d)

	// then
	assert.NoError(t, err)
	assert.False(t, res.IsSuccess)
	assert.Equal(t, closed, res.State)
	assert.Empty(t, d.entered)
}

func TestFireWithUndeclaredTriggerIsNotSuccess(t *testing.T) {
	m := buildDoor(t)

	res, err := m.Fire(t.Context(), open, lock, &door{})

	assert.NoError(t, err)
	assert.False(t, res.IsSuccess)
	assert.Equal(t, open, res.State)
}

func TestFirePropagatesGuardError(t *testing.T) {
	// given
	boom := errors.New("boom")
	b := NewBuilder[doorState, doorTrigger, *door]()
	b.Initial(closed)
	b.State(closed).PermitIf(pull, open, func(ctx context.Context, d *door) (bool, error) { return false, boom })
	b.State(open).Terminal()
	m, err := b.Build()
	require.NoError(t, err)

	// when
	res, err := m.Fire(t.Context(), closed, pull, &door{})

	// then
	assert.ErrorIs(t, err, boom)
	var guardErr *GuardError
	assert.ErrorAs(t, err, &guardErr)
	assert.False(t, res.IsSuccess)
	assert.Equal(t, closed, res.State)
}

func TestFirstMatchingTransitionWins(t *testing.T) {
	// given
	b := NewBuilder[doorState, doorTrigger, *door]()
	b.Initial(closed)
	b.State(closed).
		PermitIf(kick, locked, func(ctx context.Context, d *door) (bool, error) { return d.hasKey, nil }).
		Permit(kick, open).
		Permit(kick, broken)
	b.State(open)
	b.State(locked)
	b.State(broken).Terminal()
	m, err := b.Build()
	require.NoError(t, err)

	// when
	withKey, err := m.Fire(t.Context(), closed, kick, &door{hasKey: true})
	require.NoError(t, err)
	withoutKey, err := m.Fire(t.Context(), closed, kick, &door{hasKey: false})
	require.NoError(t, err)

	// then
	assert.Equal(t, locked, withKey.State)
	assert.Equal(t, open, withoutKey.State)
}

func TestAvailableTransitionsDoesNotFire(t *testing.T) {
	m := buildDoor(t)
	d := &door{}

	transitions := m.AvailableTransitions(closed)

	assert.Len(t, transitions, 3)
	assert.Equal(t, pull, transitions[0].Trigger)
	assert.True(t, transitions[1].Guarded)
	assert.Empty(t, d.entered)
	assert.Empty(t, m.AvailableTransitions(doorState("unknown")))
}

func TestEntryActionErrorAbortsTransition(t *testing.T) {
	b := NewBuilder[doorState, doorTrigger, *door]()
	b.Initial(closed)
	b.State(closed).Permit(pull, open)
	b.State(open).OnEntry(func(ctx context.Context, tr Transition[doorState, doorTrigger], d *door) error {
		return errors.New("jammed")
	}).Terminal()
	m, err := b.Build()
	require.NoError(t, err)

	res, err := m.Fire(t.Context(), closed, pull, &door{})

	assert.Error(t, err)
	assert.False(t, res.IsSuccess)
	assert.Equal(t, closed, res.State)
}

func TestBuildValidation(t *testing.T) {
	t.Run("missing initial", func(t *testing.T) {
		b := NewBuilder[doorState, doorTrigger, *door]()
		b.State(open)
		_, err := b.Build()
		var buildErr *BuildError
		assert.ErrorAs(t, err, &buildErr)
	})
	t.Run("initial not defined", func(t *testing.T) {
		b := NewBuilder[doorState, doorTrigger, *door]()
		b.Initial(open)
		b.State(closed)
		_, err := b.Build()
		assert.Error(t, err)
	})
	t.Run("undefined target", func(t *testing.T) {
		b := NewBuilder[doorState, doorTrigger, *door]()
		b.Initial(open)
		b.State(open).Permit(push, closed)
		_, err := b.Build()
		assert.ErrorContains(t, err, "undefined state")
	})
	t.Run("no terminal state is a warning", func(t *testing.T) {
		b := NewBuilder[doorState, doorTrigger, *door]()
		b.Initial(open)
		b.State(open).Permit(push, closed)
		b.State(closed).Permit(pull, open)
		m, err := b.Build()
		assert.NoError(t, err)
		assert.Len(t, m.Warnings(), 1)
		assert.False(t, m.IsTerminal(open))
	})
}

func TestFireOnUnknownState(t *testing.T) {
	m := buildDoor(t)

	_, err := m.Fire(t.Context(), doorState("ajar"), push, &door{})

	var unknown *UnknownStateError
	assert.ErrorAs(t, err, &unknown)
}
