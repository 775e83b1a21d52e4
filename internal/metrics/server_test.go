// Copyright 2026 The LinkMQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"io"
	"net/http"
	"testing"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerNewServer(t *testing.T) {
	log := logger.New(io.Discard, nil, logger.JSON)

	t.Run("Valid", func(t *testing.T) {
		conf := Configuration{Address: ":8888", Path: "/metrics", Profiling: true}

		s, err := NewServer(conf, nil, log)
		assert.Nil(t, err)
		assert.NotNil(t, s)
	})

	t.Run("MissingAddress", func(t *testing.T) {
		conf := Configuration{Address: "", Path: "/metrics"}

		s, err := NewServer(conf, nil, log)
		assert.Nil(t, s)
		assert.ErrorContains(t, err, "missing address")
	})

	t.Run("MissingPath", func(t *testing.T) {
		conf := Configuration{Address: ":8888", Path: ""}

		s, err := NewServer(conf, nil, log)
		assert.Nil(t, s)
		assert.ErrorContains(t, err, "missing path")
	})
}

func TestServerStartInvalidAddress(t *testing.T) {
	log := logger.New(io.Discard, nil, logger.JSON)
	conf := Configuration{Address: ".", Path: "/metrics"}

	s, err := NewServer(conf, nil, log)
	require.Nil(t, err)
	require.NotNil(t, s)

	err = s.Start()
	require.NotNil(t, err)
}

func TestServerExportsMetrics(t *testing.T) {
	log := logger.New(io.Discard, nil, logger.JSON)
	reg := prometheus.NewRegistry()
	counter := NewCounterVec("test", "requests_total", "Number of requests", "result")
	_, err := Register(reg, counter)
	require.Nil(t, err)
	counter.WithLabelValues("ok").Inc()

	s, err := NewServer(Configuration{Address: "127.0.0.1:0", Path: "/metrics"}, reg, log)
	require.Nil(t, err)

	err = s.Start()
	require.Nil(t, err)
	defer s.Stop()

	resp, err := http.Get("http://" + s.Addr().String() + "/metrics")
	require.Nil(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `linkmq_test_requests_total{result="ok"} 1`)
}

func TestRegisterAlreadyRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := Register(reg, NewCounterVec("test", "events_total", "Number of events", "type"))
	require.Nil(t, err)

	second, err := Register(reg, NewCounterVec("test", "events_total", "Number of events", "type"))
	require.Nil(t, err)
	assert.Same(t, first, second)
}

func TestRegisterConflict(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := Register(reg, NewCounterVec("test", "conflict", "Conflict", "type"))
	require.Nil(t, err)

	_, err = Register(reg, NewGauge("test", "conflict", "Conflict"))
	assert.NotNil(t, err)
}
