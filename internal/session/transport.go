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

// Package session owns the lifecycle of the device MQTT session: it configures the transport
// handle, runs the keepalive and receive loops, and dispatches connection events and inbound
// messages.
package session

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/mqtt/packet"
)

// Publisher publishes messages through the session.
type Publisher interface {
	// Publish publishes the payload into the topic.
	Publish(topic string, payload []byte, qos packet.QoS) error
}

// Transport is the MQTT transport handle consumed by the Manager.
//
// Implementations must allow Process and Receive to run concurrently in two goroutines, and
// Publish to be called from any goroutine. The Manager adds no lock around the handle.
type Transport interface {
	Publisher

	// Connect establishes the MQTT session.
	Connect(ctx context.Context) error

	// Disconnect closes the MQTT session.
	Disconnect() error

	// Deinit releases the handle.
	Deinit() error

	// Process runs the periodic work of the session (heartbeat, retransmissions).
	Process() error

	// Receive waits for one inbound packet, dispatches it and reconnects when the session was
	// lost.
	Receive() error

	// Subscribe subscribes to the topic filter.
	Subscribe(filter string, qos packet.QoS) error

	SetHost(host string) error
	SetPort(port int) error
	SetProductKey(pk string) error
	SetDeviceName(dn string) error
	SetDeviceSecret(ds string) error
	SetClientID(id string) error
	SetUsername(username string) error
	SetPassword(password string) error
	SetSecurityMode(mode string) error
	SetTLSConfig(conf *tls.Config) error
	SetKeepAlive(sec int) error
	SetReceiveTimeout(d time.Duration) error
	SetHandler(h mqtt.Handler) error
}
