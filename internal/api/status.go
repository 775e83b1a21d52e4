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
	"net/http"
	"time"

	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/ota"
	"github.com/iotali/linkmq/internal/safe"
	"github.com/labstack/echo/v4"
)

// Connection states reported by the status API.
const (
	StateDisconnected = "disconnected"
	StateConnected    = "connected"
	StateReconnected  = "reconnected"
)

// EventSource delivers the connection events to a listener.
type EventSource interface {
	Listen(ctx context.Context, fn func(mqtt.Event))
}

// FirmwareStatus provides the status of the firmware update.
type FirmwareStatus interface {
	Status() ota.Status
}

// Device identifies the device.
type Device struct {
	ProductKey string `json:"productKey"`
	DeviceName string `json:"deviceName"`
}

// Connection is the last observed state of the connection.
type Connection struct {
	State        string     `json:"state"`
	LastCause    string     `json:"lastDisconnectCause,omitempty"`
	Reconnects   int        `json:"reconnects"`
	Disconnects  int        `json:"disconnects"`
	LastChangeAt *time.Time `json:"lastChangeAt,omitempty"`
	ConnectedAt  *time.Time `json:"connectedAt,omitempty"`
}

// Firmware is the status of the firmware update.
type Firmware struct {
	State   string `json:"state"`
	Version string `json:"targetVersion,omitempty"`
	Module  string `json:"module,omitempty"`
	Percent int    `json:"percent"`
}

// Status is the response of the status endpoint.
type Status struct {
	Device     Device     `json:"device"`
	Connection Connection `json:"connection"`
	Firmware   *Firmware  `json:"firmware,omitempty"`
}

// Tracker keeps the last observed connection state of the device.
type Tracker struct {
	device   Device
	conn     *safe.Value[Connection]
	firmware FirmwareStatus
	now      func() time.Time
}

// NewTracker creates a Tracker of the device. The firmware status is optional.
func NewTracker(productKey, deviceName string, firmware FirmwareStatus) *Tracker {
	return &Tracker{
		device:   Device{ProductKey: productKey, DeviceName: deviceName},
		conn:     safe.NewValue(Connection{State: StateDisconnected}),
		firmware: firmware,
		now:      time.Now,
	}
}

// HandleEvent updates the connection state with the event.
func (t *Tracker) HandleEvent(e mqtt.Event) {
	now := t.now()

	t.conn.Update(func(c *Connection) {
		c.LastChangeAt = &now

		switch e.Type {
		case mqtt.EventConnect:
			c.State = StateConnected
			c.ConnectedAt = &now
		case mqtt.EventReconnect:
			c.State = StateReconnected
			c.ConnectedAt = &now
			c.Reconnects++
		case mqtt.EventDisconnect:
			c.State = StateDisconnected
			c.LastCause = e.Cause.String()
			c.ConnectedAt = nil
			c.Disconnects++
		}
	})
}

// Listen updates the connection state with the events of the source until the context is
// cancelled.
func (t *Tracker) Listen(ctx context.Context, src EventSource) {
	src.Listen(ctx, t.HandleEvent)
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	st := Status{Device: t.device, Connection: t.conn.Load()}

	if t.firmware != nil {
		fw := t.firmware.Status()
		st.Firmware = &Firmware{
			State:   fw.State.String(),
			Version: fw.Version,
			Module:  fw.Module,
			Percent: fw.Percent,
		}
	}
	return st
}

func (t *Tracker) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, t.Status())
}
