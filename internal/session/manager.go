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
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/mqtt/packet"
	"go.uber.org/multierr"
)

const (
	defaultProcessInterval = time.Second
	defaultRetryInterval   = time.Second
)

type managerState int

const (
	stateIdle managerState = iota
	stateConnected
	stateDisconnected
	stateReleased
)

// OptionFn is a function responsible to inject an option inside the Manager.
type OptionFn func(m *Manager)

// WithLogger is an option function to inject the logger.Logger inside the Manager.
func WithLogger(l *logger.Logger) OptionFn {
	return func(m *Manager) {
		m.log = l
	}
}

// WithEventHandler is an option function to replace the default Notifier.
func WithEventHandler(h EventHandler) OptionFn {
	return func(m *Manager) {
		m.events = h
	}
}

// WithProcessInterval is an option function to set the interval between Process calls.
func WithProcessInterval(d time.Duration) OptionFn {
	return func(m *Manager) {
		m.processInterval = d
	}
}

// WithRetryInterval is an option function to set the interval between Receive calls after a
// failure.
func WithRetryInterval(d time.Duration) OptionFn {
	return func(m *Manager) {
		m.retryInterval = d
	}
}

// Manager owns the lifecycle of the transport handle: New, Configure, Connect, Start and
// Shutdown, in this order.
//
// The Manager implements mqtt.Handler and is installed as the handler of the transport by
// Configure. Connection events go to the EventHandler and messages to the Mux.
type Manager struct {
	log             *logger.Logger
	transport       Transport
	events          EventHandler
	mux             Mux
	processInterval time.Duration
	retryInterval   time.Duration
	opts            Options

	mu             sync.Mutex
	state          managerState
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	processRunning atomic.Bool
	receiveRunning atomic.Bool
}

// New creates a Manager of the transport handle.
func New(t Transport, opts ...OptionFn) *Manager {
	m := &Manager{
		transport:       t,
		processInterval: defaultProcessInterval,
		retryInterval:   defaultRetryInterval,
	}

	for _, fn := range opts {
		fn(m)
	}

	if m.log == nil {
		m.log = logger.New(io.Discard, nil, logger.JSON)
	}
	m.log = m.log.WithPrefix("session")
	if m.events == nil {
		m.events = NewNotifier(m.log, nil, nil)
	}
	return m
}

// Configure applies the options into the transport handle and installs the Manager as its
// handler. It fails with mqtt.ErrInvalidState once the session was connected.
func (m *Manager) Configure(o Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateIdle {
		return mqtt.ErrInvalidState
	}

	t := m.transport
	setters := []struct {
		name string
		skip bool
		fn   func() error
	}{
		{"host", false, func() error { return t.SetHost(o.Host) }},
		{"port", o.Port == 0, func() error { return t.SetPort(o.Port) }},
		{"product key", false, func() error { return t.SetProductKey(o.ProductKey) }},
		{"device name", false, func() error { return t.SetDeviceName(o.DeviceName) }},
		{"device secret", false, func() error { return t.SetDeviceSecret(o.DeviceSecret) }},
		{"client ID", o.ClientID == "", func() error { return t.SetClientID(o.ClientID) }},
		{"username", o.Username == "", func() error { return t.SetUsername(o.Username) }},
		{"password", o.Password == "", func() error { return t.SetPassword(o.Password) }},
		{"security mode", o.SecurityMode == "", func() error { return t.SetSecurityMode(o.SecurityMode) }},
		{"TLS config", o.TLSConfig == nil, func() error { return t.SetTLSConfig(o.TLSConfig) }},
		{"keep alive", o.KeepAliveSec == 0, func() error { return t.SetKeepAlive(o.KeepAliveSec) }},
		{"receive timeout", o.ReceiveTimeout == 0, func() error {
			return t.SetReceiveTimeout(o.ReceiveTimeout)
		}},
		{"handler", false, func() error { return t.SetHandler(m) }},
	}

	for _, s := range setters {
		if s.skip {
			continue
		}
		if err := s.fn(); err != nil {
			return fmt.Errorf("failed to set %s: %w", s.name, err)
		}
	}

	m.opts = o
	m.log.Debug().
		Str("Host", o.Host).
		Int("Port", o.Port).
		Str("ProductKey", o.ProductKey).
		Str("DeviceName", o.DeviceName).
		Bool("TLS", o.TLSConfig != nil).
		Int("KeepAlive", o.KeepAliveSec).
		Msg("Session configured")
	return nil
}

// Handle registers the handler of the published messages matching the topic filter.
func (m *Manager) Handle(filter string, h MessageHandler) {
	m.mux.Handle(filter, h)
}

// HandleDefault sets the handler of the messages which match no topic filter.
func (m *Manager) HandleDefault(h MessageHandler) {
	m.mux.HandleDefault(h)
}

// Connect establishes the session. On failure, the error is a *mqtt.StateError and the Manager
// can still be shut down.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != stateIdle {
		m.mu.Unlock()
		return mqtt.ErrInvalidState
	}
	o := m.opts
	m.mu.Unlock()

	err := m.transport.Connect(ctx)
	if err != nil {
		m.log.Error().
			Str("Host", o.Host).
			Str("Port", strconv.Itoa(o.Port)).
			Str("ProductKey", o.ProductKey).
			Str("DeviceName", o.DeviceName).
			Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).
			Msg("Failed to connect, check the broker address and the device credential: " +
				err.Error())
		return err
	}

	m.mu.Lock()
	m.state = stateConnected
	m.mu.Unlock()
	return nil
}

// Start starts the keepalive and the receive loops. The session must be connected.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != stateConnected {
		return mqtt.ErrInvalidState
	}
	if m.cancel != nil {
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.processRunning.Store(true)
	m.receiveRunning.Store(true)

	m.wg.Add(2)
	go m.processLoop(ctx)
	go m.receiveLoop(ctx)

	m.log.Debug().Msg("Session loops started")
	return nil
}

// Running returns whether any of the loops is running or not.
func (m *Manager) Running() bool {
	return m.processRunning.Load() || m.receiveRunning.Load()
}

// Wait blocks until both loops have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Subscribe registers the handler, when not nil, for the topic filter and subscribes to it.
func (m *Manager) Subscribe(filter string, qos packet.QoS, h MessageHandler) error {
	if h != nil {
		m.mux.Handle(filter, h)
	}
	return m.transport.Subscribe(filter, qos)
}

// Publish publishes the payload into the topic.
func (m *Manager) Publish(topic string, payload []byte, qos packet.QoS) error {
	return m.transport.Publish(topic, payload, qos)
}

// Disconnect stops the loops, when running, and closes the session. Only the first call has an
// effect.
func (m *Manager) Disconnect() error {
	m.stopLoops()

	m.mu.Lock()
	if m.state != stateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = stateDisconnected
	m.mu.Unlock()

	if err := m.transport.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}

	m.log.Info().Msg("Session disconnected")
	return nil
}

// Shutdown stops both loops and waits for them to exit, then disconnects the session and
// releases the transport handle. No loop touches the handle after the loops have exited.
func (m *Manager) Shutdown() error {
	m.stopLoops()

	m.mu.Lock()
	if m.state == stateReleased {
		m.mu.Unlock()
		return nil
	}
	connected := m.state == stateConnected
	m.state = stateReleased
	m.mu.Unlock()

	var err error
	if connected {
		if e := m.transport.Disconnect(); e != nil {
			err = multierr.Append(err, fmt.Errorf("failed to disconnect: %w", e))
		}
	}
	if e := m.transport.Deinit(); e != nil {
		err = multierr.Append(err, fmt.Errorf("failed to release transport: %w", e))
	}

	if err != nil {
		m.log.Warn().Msg("Session shut down with errors: " + err.Error())
		return err
	}
	m.log.Info().Msg("Session shut down with success")
	return nil
}

func (m *Manager) stopLoops() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	m.processRunning.Store(false)
	m.receiveRunning.Store(false)
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// OnEvent forwards the connection event to the EventHandler.
func (m *Manager) OnEvent(e mqtt.Event) {
	m.events.HandleEvent(e)
}

// OnMessage forwards the inbound message to the Mux.
func (m *Manager) OnMessage(msg mqtt.Message) {
	m.mux.HandleMessage(msg)
}
