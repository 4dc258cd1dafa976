// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"testing"

	"github.com/pbinitiative/zenflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupOtelWithoutTracing(t *testing.T) {
	// given
	conf := config.Config{Name: "zenflow-test"}

	// when
	o, err := SetupOtel(conf)
	require.NoError(t, err)
	defer o.Stop(t.Context())

	// then
	assert.NotNil(t, RequestTotal)
	assert.NotNil(t, RequestDuration)
	assert.Nil(t, o.tracerprovider)
	metrics, err := o.EngineMetrics()
	require.NoError(t, err)
	assert.NotNil(t, metrics.InstancesStarted)
	assert.NoError(t, InitNoopInstruments())
}

func TestOtlpEndpoint(t *testing.T) {
	assert.Equal(t, "collector:4318", otlpEndpoint("http://collector:4318/"))
	assert.Equal(t, "collector:4318", otlpEndpoint("https://collector:4318"))
	assert.Equal(t, "collector:4318", otlpEndpoint("collector:4318"))
}
