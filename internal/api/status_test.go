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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/ota"
	"github.com/iotali/linkmq/internal/session"
	"github.com/iotali/linkmq/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firmwareStub struct {
	status ota.Status
}

func (f *firmwareStub) Status() ota.Status {
	return f.status
}

func newTestTracker(fw FirmwareStatus) *Tracker {
	t := NewTracker("a1b2c3", "sensor-01", fw)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	t.now = func() time.Time { return now }
	return t
}

func TestTrackerInitialStatus(t *testing.T) {
	tr := newTestTracker(nil)

	st := tr.Status()
	assert.Equal(t, "a1b2c3", st.Device.ProductKey)
	assert.Equal(t, "sensor-01", st.Device.DeviceName)
	assert.Equal(t, StateDisconnected, st.Connection.State)
	assert.Nil(t, st.Connection.LastChangeAt)
	assert.Nil(t, st.Firmware)
}

func TestTrackerHandleEvent(t *testing.T) {
	tr := newTestTracker(nil)

	tr.HandleEvent(mqtt.Event{Type: mqtt.EventConnect})
	st := tr.Status()
	assert.Equal(t, StateConnected, st.Connection.State)
	require.NotNil(t, st.Connection.ConnectedAt)
	assert.Equal(t, 2026, st.Connection.ConnectedAt.Year())

	tr.HandleEvent(mqtt.Event{Type: mqtt.EventDisconnect, Cause: mqtt.CauseHeartbeat})
	st = tr.Status()
	assert.Equal(t, StateDisconnected, st.Connection.State)
	assert.Equal(t, "heartbeat disconnect", st.Connection.LastCause)
	assert.Nil(t, st.Connection.ConnectedAt)
	assert.Equal(t, 1, st.Connection.Disconnects)

	tr.HandleEvent(mqtt.Event{Type: mqtt.EventReconnect})
	tr.HandleEvent(mqtt.Event{Type: mqtt.EventDisconnect, Cause: mqtt.CauseNetwork})
	tr.HandleEvent(mqtt.Event{Type: mqtt.EventReconnect})

	st = tr.Status()
	assert.Equal(t, StateReconnected, st.Connection.State)
	assert.Equal(t, "network disconnect", st.Connection.LastCause)
	assert.Equal(t, 2, st.Connection.Reconnects)
	assert.Equal(t, 2, st.Connection.Disconnects)
	assert.NotNil(t, st.Connection.ConnectedAt)
}

func TestTrackerFirmwareStatus(t *testing.T) {
	version := gofakeit.AppVersion()
	fw := &firmwareStub{status: ota.Status{
		State:   ota.StateDownloading,
		Version: version,
		Module:  "default",
		Percent: 42,
	}}
	tr := newTestTracker(fw)

	st := tr.Status()
	require.NotNil(t, st.Firmware)
	assert.Equal(t, "downloading", st.Firmware.State)
	assert.Equal(t, version, st.Firmware.Version)
	assert.Equal(t, "default", st.Firmware.Module)
	assert.Equal(t, 42, st.Firmware.Percent)
}

func TestTrackerListen(t *testing.T) {
	tr := newTestTracker(nil)
	bus := session.NewEventBus(4)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Listen(ctx, bus)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(mqtt.Event{Type: mqtt.EventConnect})
		return tr.Status().Connection.State == StateConnected
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestHTTPServerStatus(t *testing.T) {
	log := mocks.NewLoggerStub()
	fw := &firmwareStub{status: ota.Status{State: ota.StateCompleted, Version: "1.2.0", Percent: 100}}
	tr := newTestTracker(fw)
	tr.HandleEvent(mqtt.Event{Type: mqtt.EventConnect})

	srv, err := NewHTTPServer(Configuration{Address: ":0"}, tr, log.Logger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	device := body["device"].(map[string]interface{})
	assert.Equal(t, "a1b2c3", device["productKey"])
	assert.Equal(t, "sensor-01", device["deviceName"])

	conn := body["connection"].(map[string]interface{})
	assert.Equal(t, "connected", conn["state"])
	assert.Equal(t, float64(0), conn["reconnects"])
	assert.NotContains(t, conn, "lastDisconnectCause")

	firmware := body["firmware"].(map[string]interface{})
	assert.Equal(t, "completed", firmware["state"])
	assert.Equal(t, "1.2.0", firmware["targetVersion"])
	assert.Equal(t, float64(100), firmware["percent"])
}
