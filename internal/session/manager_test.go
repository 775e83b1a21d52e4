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
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/mqtt/packet"
	"github.com/iotali/linkmq/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// loopTransport is a transport double which records every call, so tests can check the order
// in which the Manager uses the handle.
type loopTransport struct {
	mu                  sync.Mutex
	calls               []string
	handler             mqtt.Handler
	running             func() bool
	runningAtDisconnect bool
	connectErr          error
	processErr          error
	receiveErr          error
	receiveDelay        time.Duration
}

func newLoopTransport() *loopTransport {
	return &loopTransport{receiveDelay: 5 * time.Millisecond}
}

func (t *loopTransport) record(call string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
}

func (t *loopTransport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *loopTransport) count(call string) int {
	n := 0
	for _, c := range t.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (t *loopTransport) Connect(context.Context) error {
	t.record("connect")
	return t.connectErr
}

func (t *loopTransport) Disconnect() error {
	t.record("disconnect")
	if t.running != nil {
		t.mu.Lock()
		t.runningAtDisconnect = t.running()
		t.mu.Unlock()
	}
	return nil
}

func (t *loopTransport) Deinit() error {
	t.record("deinit")
	return nil
}

func (t *loopTransport) Process() error {
	t.record("process")
	return t.processErr
}

func (t *loopTransport) Receive() error {
	t.record("receive")
	time.Sleep(t.receiveDelay)
	return t.receiveErr
}

func (t *loopTransport) Publish(string, []byte, packet.QoS) error {
	t.record("publish")
	return nil
}

func (t *loopTransport) Subscribe(string, packet.QoS) error {
	t.record("subscribe")
	return nil
}

func (t *loopTransport) SetHost(string) error                  { return nil }
func (t *loopTransport) SetPort(int) error                     { return nil }
func (t *loopTransport) SetProductKey(string) error            { return nil }
func (t *loopTransport) SetDeviceName(string) error            { return nil }
func (t *loopTransport) SetDeviceSecret(string) error          { return nil }
func (t *loopTransport) SetClientID(string) error              { return nil }
func (t *loopTransport) SetUsername(string) error              { return nil }
func (t *loopTransport) SetPassword(string) error              { return nil }
func (t *loopTransport) SetSecurityMode(string) error          { return nil }
func (t *loopTransport) SetTLSConfig(*tls.Config) error        { return nil }
func (t *loopTransport) SetKeepAlive(int) error                { return nil }
func (t *loopTransport) SetReceiveTimeout(time.Duration) error { return nil }

func (t *loopTransport) SetHandler(h mqtt.Handler) error {
	t.handler = h
	return nil
}

func lastIndex(calls []string, names ...string) int {
	idx := -1
	for i, c := range calls {
		for _, n := range names {
			if c == n {
				idx = i
			}
		}
	}
	return idx
}

func indexOf(calls []string, name string) int {
	for i, c := range calls {
		if c == name {
			return i
		}
	}
	return -1
}

func newTestManager(t *testing.T, tr Transport) *Manager {
	t.Helper()

	log := mocks.NewLoggerStub()
	m := New(tr,
		WithLogger(log.Logger()),
		WithProcessInterval(10*time.Millisecond),
		WithRetryInterval(10*time.Millisecond),
	)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func startTestManager(t *testing.T, tr *loopTransport) *Manager {
	t.Helper()

	m := newTestManager(t, tr)
	tr.running = m.Running
	require.Nil(t, m.Configure(Options{Host: "localhost"}))
	require.Nil(t, m.Connect(context.Background()))
	require.Nil(t, m.Start(context.Background()))
	return m
}

func TestManagerConfigure(t *testing.T) {
	tr := &mocks.TransportMock{}
	m := newTestManager(t, tr)

	tr.On("SetHost", "iot.example.com").Return(nil).Once()
	tr.On("SetPort", 1883).Return(nil).Once()
	tr.On("SetProductKey", "QrjKUuXE").Return(nil).Once()
	tr.On("SetDeviceName", "32test").Return(nil).Once()
	tr.On("SetDeviceSecret", "secret").Return(nil).Once()
	tr.On("SetSecurityMode", mqtt.SecurityModeTCP).Return(nil).Once()
	tr.On("SetKeepAlive", 60).Return(nil).Once()
	tr.On("SetReceiveTimeout", 2*time.Second).Return(nil).Once()
	tr.On("SetHandler", m).Return(nil).Once()
	tr.On("Deinit").Return(nil).Maybe()

	err := m.Configure(Options{
		Host:           "iot.example.com",
		Port:           1883,
		ProductKey:     "QrjKUuXE",
		DeviceName:     "32test",
		DeviceSecret:   "secret",
		SecurityMode:   mqtt.SecurityModeTCP,
		KeepAliveSec:   60,
		ReceiveTimeout: 2 * time.Second,
	})
	require.Nil(t, err)

	tr.AssertExpectations(t)
	tr.AssertNotCalled(t, "SetClientID", mock.Anything)
	tr.AssertNotCalled(t, "SetTLSConfig", mock.Anything)
}

func TestManagerConfigureError(t *testing.T) {
	tr := &mocks.TransportMock{}
	m := newTestManager(t, tr)
	tr.On("SetHost", mock.Anything).Return(mqtt.ErrInvalidState)
	tr.On("Deinit").Return(nil).Maybe()

	err := m.Configure(Options{Host: "iot.example.com"})
	assert.ErrorIs(t, err, mqtt.ErrInvalidState)
	assert.ErrorContains(t, err, "failed to set host")
	assert.Equal(t, mqtt.KindConfig, mqtt.KindOf(err))
}

func TestManagerConfigureAfterConnect(t *testing.T) {
	tr := newLoopTransport()
	m := newTestManager(t, tr)
	require.Nil(t, m.Configure(Options{Host: "localhost"}))
	require.Nil(t, m.Connect(context.Background()))

	err := m.Configure(Options{Host: "other"})
	assert.ErrorIs(t, err, mqtt.ErrInvalidState)
	assert.ErrorIs(t, m.Connect(context.Background()), mqtt.ErrInvalidState)
}

func TestManagerConnectError(t *testing.T) {
	tr := newLoopTransport()
	tr.connectErr = mqtt.ErrConnectRefused
	m := newTestManager(t, tr)
	require.Nil(t, m.Configure(Options{Host: "localhost"}))

	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, mqtt.ErrConnectRefused)
	assert.ErrorIs(t, m.Start(context.Background()), mqtt.ErrInvalidState)

	require.Nil(t, m.Shutdown())
	assert.Equal(t, []string{"connect", "deinit"}, tr.Calls())
}

func TestManagerLoops(t *testing.T) {
	tr := newLoopTransport()
	m := startTestManager(t, tr)

	assert.True(t, m.Running())
	assert.Eventually(t, func() bool {
		return tr.count("process") >= 2 && tr.count("receive") >= 2
	}, time.Second, 5*time.Millisecond)

	require.Nil(t, m.Start(context.Background()))
}

func TestManagerShutdownOrdering(t *testing.T) {
	tr := newLoopTransport()
	m := startTestManager(t, tr)

	assert.Eventually(t, func() bool {
		return tr.count("process") >= 1 && tr.count("receive") >= 1
	}, time.Second, 5*time.Millisecond)

	err := m.Shutdown()
	require.Nil(t, err)
	assert.False(t, m.Running())

	calls := tr.Calls()
	disconnect := indexOf(calls, "disconnect")
	deinit := indexOf(calls, "deinit")
	require.NotEqual(t, -1, disconnect)
	assert.Less(t, lastIndex(calls, "process", "receive"), disconnect)
	assert.Less(t, disconnect, deinit)
	assert.Equal(t, len(calls)-1, deinit)
	assert.False(t, tr.runningAtDisconnect)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, tr.Calls())

	require.Nil(t, m.Shutdown())
	assert.Equal(t, 1, tr.count("deinit"))
}

func TestManagerShutdownStopsLoopsWithinOnePoll(t *testing.T) {
	tr := newLoopTransport()
	tr.receiveDelay = 50 * time.Millisecond
	m := startTestManager(t, tr)

	assert.Eventually(t, func() bool { return tr.count("receive") >= 1 },
		time.Second, 5*time.Millisecond)
	receives := tr.count("receive")

	require.Nil(t, m.Shutdown())
	assert.LessOrEqual(t, tr.count("receive"), receives+1)
}

func TestManagerProcessLoopExecDisabled(t *testing.T) {
	tr := newLoopTransport()
	tr.processErr = mqtt.ErrExecDisabled
	m := startTestManager(t, tr)

	assert.Eventually(t, func() bool { return !m.processRunning.Load() },
		time.Second, 5*time.Millisecond)
	assert.True(t, m.receiveRunning.Load())
	assert.Equal(t, 1, tr.count("process"))
}

func TestManagerLoopsExecDisabled(t *testing.T) {
	tr := newLoopTransport()
	tr.processErr = mqtt.ErrExecDisabled
	tr.receiveErr = mqtt.ErrExecDisabled
	m := startTestManager(t, tr)

	m.Wait()
	assert.False(t, m.Running())
	assert.Equal(t, 1, tr.count("receive"))
}

func TestManagerReceiveLoopTransientError(t *testing.T) {
	tr := newLoopTransport()
	tr.receiveErr = mqtt.ErrNetworkClosed
	m := startTestManager(t, tr)

	assert.Eventually(t, func() bool { return tr.count("receive") >= 3 },
		time.Second, 5*time.Millisecond)
	assert.True(t, m.Running())
}

func TestManagerDisconnect(t *testing.T) {
	tr := newLoopTransport()
	m := startTestManager(t, tr)

	require.Nil(t, m.Disconnect())
	assert.False(t, m.Running())
	assert.False(t, tr.runningAtDisconnect)

	require.Nil(t, m.Disconnect())
	require.Nil(t, m.Shutdown())
	assert.Equal(t, 1, tr.count("disconnect"))
	assert.Equal(t, 1, tr.count("deinit"))
}

func TestManagerDispatch(t *testing.T) {
	tr := newLoopTransport()

	var events []mqtt.Event
	m := New(tr, WithEventHandler(EventHandlerFunc(func(e mqtt.Event) {
		events = append(events, e)
	})))
	require.Nil(t, m.Configure(Options{Host: "localhost"}))
	require.Same(t, m, tr.handler)

	var routed, fallback []mqtt.Message
	m.Handle("/sys/pk/dn/rrpc/request/+", MessageHandlerFunc(func(msg mqtt.Message) {
		routed = append(routed, msg)
	}))
	m.HandleDefault(MessageHandlerFunc(func(msg mqtt.Message) {
		fallback = append(fallback, msg)
	}))

	tr.handler.OnEvent(mqtt.Event{Type: mqtt.EventDisconnect, Cause: mqtt.CauseNetwork})
	tr.handler.OnMessage(mqtt.Message{Kind: mqtt.MessagePublish, Topic: "/sys/pk/dn/rrpc/request/1"})
	tr.handler.OnMessage(mqtt.Message{Kind: mqtt.MessagePublish, Topic: "/other"})
	tr.handler.OnMessage(mqtt.Message{Kind: mqtt.MessageHeartbeatResponse})

	assert.Equal(t, []mqtt.Event{{Type: mqtt.EventDisconnect, Cause: mqtt.CauseNetwork}}, events)
	require.Len(t, routed, 1)
	assert.Equal(t, "/sys/pk/dn/rrpc/request/1", routed[0].Topic)
	require.Len(t, fallback, 2)
	assert.Equal(t, mqtt.MessageHeartbeatResponse, fallback[1].Kind)
}

func TestManagerSubscribe(t *testing.T) {
	tr := &mocks.TransportMock{}
	m := newTestManager(t, tr)
	tr.On("Subscribe", "/ota/device/upgrade/pk/dn", packet.QoS1).Return(nil).Once()
	tr.On("Publish", "/ota/device/inform/pk/dn", []byte("{}"), packet.QoS0).Return(nil).Once()
	tr.On("Deinit").Return(nil).Maybe()

	var received []mqtt.Message
	err := m.Subscribe("/ota/device/upgrade/pk/dn", packet.QoS1,
		MessageHandlerFunc(func(msg mqtt.Message) { received = append(received, msg) }))
	require.Nil(t, err)

	err = m.Publish("/ota/device/inform/pk/dn", []byte("{}"), packet.QoS0)
	require.Nil(t, err)

	m.OnMessage(mqtt.Message{Kind: mqtt.MessagePublish, Topic: "/ota/device/upgrade/pk/dn"})
	assert.Len(t, received, 1)
	tr.AssertExpectations(t)
}
