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

package session

import (
	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/metrics"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/prometheus/client_golang/prometheus"
)

// EventHandler handles the connection events.
type EventHandler interface {
	// HandleEvent handles the connection event. It must not block.
	HandleEvent(e mqtt.Event)
}

// EventHandlerFunc is an adapter to allow the use of ordinary functions as EventHandler.
type EventHandlerFunc func(e mqtt.Event)

// HandleEvent calls fn(e).
func (fn EventHandlerFunc) HandleEvent(e mqtt.Event) {
	fn(e)
}

// Notifier is the default EventHandler. It logs each connection state transition, counts it and
// publishes it into the EventBus, when there is one. It takes no recovery action: reconnection
// is done by the transport.
type Notifier struct {
	log    *logger.Logger
	bus    *EventBus
	events *prometheus.CounterVec
}

// NewNotifier creates a Notifier. The bus and the registerer are optional.
func NewNotifier(log *logger.Logger, bus *EventBus, reg prometheus.Registerer) *Notifier {
	n := &Notifier{log: log.WithPrefix("event"), bus: bus}

	if reg != nil {
		c, err := metrics.Register(reg,
			metrics.NewCounterVec("session", "events_total", "Number of connection events", "type"))
		if err != nil {
			n.log.Error().Msg("Failed to register session metrics: " + err.Error())
		} else {
			n.events = c
		}
	}

	return n
}

// HandleEvent handles the connection event.
func (n *Notifier) HandleEvent(e mqtt.Event) {
	switch e.Type {
	case mqtt.EventConnect:
		n.log.Info().Msg("Device connected")
	case mqtt.EventReconnect:
		n.log.Info().Msg("Device reconnected")
	case mqtt.EventDisconnect:
		n.log.Warn().Str("Cause", e.Cause.String()).Msg("Device disconnected")
	default:
		n.log.Warn().Int("Type", int(e.Type)).Msg("Unknown connection event")
		return
	}

	if n.events != nil {
		n.events.WithLabelValues(e.Type.String()).Inc()
	}
	if n.bus != nil {
		n.bus.Publish(e)
	}
}
