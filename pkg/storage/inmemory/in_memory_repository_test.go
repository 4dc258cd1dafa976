// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package inmemory_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pbinitiative/zenflow/pkg/storage"
	"github.com/pbinitiative/zenflow/pkg/storage/inmemory"
	"github.com/pbinitiative/zenflow/pkg/storage/storagetest"
	"github.com/stretchr/testify/assert"
)

func TestInMemoryStorage(t *testing.T) {
	var store storage.Storage = inmemory.NewStorage()

	tester := storagetest.StorageTester{}

	tests := tester.GetTests()
	tester.PrepareTestData(store, t)
	for name, testFunc := range tests {
		t.Run(name, testFunc(store, t))
	}
}

func TestExpiredLockCanBeTakenOver(t *testing.T) {
	// given
	mockClock := clock.NewMock()
	store := inmemory.NewStorage(inmemory.WithClock(mockClock))
	ok, err := store.TryAcquireInstanceLock(t.Context(), 1, "crashed", time.Second)
	assert.NoError(t, err)
	assert.True(t, ok)

	// when
	mockClock.Add(2 * time.Second)
	ok, err = store.TryAcquireInstanceLock(t.Context(), 1, "other", time.Second)

	// then
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Error(t, store.ReleaseInstanceLock(t.Context(), 1, "crashed"))
}
