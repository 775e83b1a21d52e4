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

package mocks

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/mqtt/packet"
	"github.com/stretchr/testify/mock"
)

// TransportMock is responsible to mock the MQTT transport handle.
type TransportMock struct {
	mock.Mock
}

// Connect establishes the MQTT session.
func (t *TransportMock) Connect(ctx context.Context) error {
	args := t.Called(ctx)
	return args.Error(0)
}

// Disconnect closes the MQTT session.
func (t *TransportMock) Disconnect() error {
	args := t.Called()
	return args.Error(0)
}

// Deinit releases the handle.
func (t *TransportMock) Deinit() error {
	args := t.Called()
	return args.Error(0)
}

// Process runs the periodic work of the session.
func (t *TransportMock) Process() error {
	args := t.Called()
	return args.Error(0)
}

// Receive waits for one inbound packet.
func (t *TransportMock) Receive() error {
	args := t.Called()
	return args.Error(0)
}

// Publish publishes the payload into the topic.
func (t *TransportMock) Publish(topic string, payload []byte, qos packet.QoS) error {
	args := t.Called(topic, payload, qos)
	return args.Error(0)
}

// Subscribe subscribes to the topic filter.
func (t *TransportMock) Subscribe(filter string, qos packet.QoS) error {
	args := t.Called(filter, qos)
	return args.Error(0)
}

// SetHost sets the host.
func (t *TransportMock) SetHost(host string) error {
	return t.Called(host).Error(0)
}

// SetPort sets the port.
func (t *TransportMock) SetPort(port int) error {
	return t.Called(port).Error(0)
}

// SetProductKey sets the product key.
func (t *TransportMock) SetProductKey(pk string) error {
	return t.Called(pk).Error(0)
}

// SetDeviceName sets the device name.
func (t *TransportMock) SetDeviceName(dn string) error {
	return t.Called(dn).Error(0)
}

// SetDeviceSecret sets the device secret.
func (t *TransportMock) SetDeviceSecret(ds string) error {
	return t.Called(ds).Error(0)
}

// SetClientID sets the client ID.
func (t *TransportMock) SetClientID(id string) error {
	return t.Called(id).Error(0)
}

// SetUsername sets the username.
func (t *TransportMock) SetUsername(username string) error {
	return t.Called(username).Error(0)
}

// SetPassword sets the password.
func (t *TransportMock) SetPassword(password string) error {
	return t.Called(password).Error(0)
}

// SetSecurityMode sets the security mode.
func (t *TransportMock) SetSecurityMode(mode string) error {
	return t.Called(mode).Error(0)
}

// SetTLSConfig sets the TLS configuration.
func (t *TransportMock) SetTLSConfig(conf *tls.Config) error {
	return t.Called(conf).Error(0)
}

// SetKeepAlive sets the keep alive.
func (t *TransportMock) SetKeepAlive(sec int) error {
	return t.Called(sec).Error(0)
}

// SetReceiveTimeout sets the receive timeout.
func (t *TransportMock) SetReceiveTimeout(d time.Duration) error {
	return t.Called(d).Error(0)
}

// SetHandler sets the handler.
func (t *TransportMock) SetHandler(h mqtt.Handler) error {
	return t.Called(h).Error(0)
}

// PublisherMock is responsible to mock a publisher.
type PublisherMock struct {
	mock.Mock
}

// Publish publishes the payload into the topic. The payload is copied before being recorded.
func (p *PublisherMock) Publish(topic string, payload []byte, qos packet.QoS) error {
	args := p.Called(topic, string(payload), qos)
	return args.Error(0)
}
