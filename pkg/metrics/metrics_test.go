// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RouterMessage("ok")
	m.RouterMessage("ok")
	m.RouterUnknown()
	m.BulkFrame("header")
	m.BulkFrame("data")
	m.BulkFrame("data")
	m.BulkTransfer()
	m.BulkBusy()
	m.ChainEmit(3)
	m.ChainSinkError("gatt")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.routerMessages.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routerUnknown))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bulkFrames.WithLabelValues("data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bulkTransfers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bulkBusy))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chainEmits.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chainSinkErrors.WithLabelValues("gatt")))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RouterMessage("ok")
		m.RouterUnknown()
		m.BulkFrame("data")
		m.BulkTransfer()
		m.BulkBusy()
		m.ChainEmit(0)
		m.ChainSinkError("ram")
	})
}
