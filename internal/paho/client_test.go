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

package paho

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/mqtt/packet"
	"github.com/iotali/linkmq/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker is the broker side of a net.Pipe. It answers CONNECT, SUBSCRIBE, PINGREQ and QoS 1
// PUBLISH packets and records every packet sent by the client.
type fakeBroker struct {
	conn net.Conn
	code packet.ReturnCode
	recv chan packet.Packet
	send chan packet.Packet
	done chan struct{}
	once sync.Once
}

func newFakeBroker(conn net.Conn, code packet.ReturnCode) *fakeBroker {
	b := &fakeBroker{
		conn: conn,
		code: code,
		recv: make(chan packet.Packet, 32),
		send: make(chan packet.Packet, 32),
		done: make(chan struct{}),
	}

	go b.readLoop()
	go b.writeLoop()
	return b
}

func (b *fakeBroker) readLoop() {
	rd := packet.NewReader(b.conn, packet.ReaderOptions{BufferSize: 1024, MaxPacketSize: 65536})
	for {
		pkt, err := rd.ReadPacket()
		if err != nil {
			close(b.recv)
			return
		}

		switch p := pkt.(type) {
		case *packet.Connect:
			b.push(&packet.ConnAck{ReturnCode: b.code})
		case *packet.Subscribe:
			codes := make([]byte, 0, len(p.Topics))
			for _, t := range p.Topics {
				codes = append(codes, byte(t.QoS))
			}
			b.push(&packet.SubAck{PacketID: p.PacketID, ReturnCodes: codes})
		case *packet.PingReq:
			b.push(&packet.PingResp{})
		case *packet.Publish:
			if p.QoS == packet.QoS1 {
				ack := packet.NewPubAck(p.PacketID)
				b.push(&ack)
			}
		}
		b.recv <- pkt
	}
}

func (b *fakeBroker) writeLoop() {
	wr := packet.NewWriter(1024)
	for {
		select {
		case p := <-b.send:
			if err := wr.WritePacket(b.conn, p); err != nil {
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *fakeBroker) push(p packet.Packet) {
	select {
	case b.send <- p:
	case <-b.done:
	}
}

func (b *fakeBroker) close() {
	b.once.Do(func() {
		close(b.done)
		_ = b.conn.Close()
	})
}

func (b *fakeBroker) expect(t *testing.T, typ packet.Type) packet.Packet {
	t.Helper()

	for {
		select {
		case pkt, ok := <-b.recv:
			require.True(t, ok, "connection closed while waiting for %v", typ)
			if pkt.Type() == typ {
				return pkt
			}
		case <-time.After(2 * time.Second):
			require.Failf(t, "timeout", "no %v received", typ)
			return nil
		}
	}
}

type pipeDialer struct {
	code    packet.ReturnCode
	brokers chan *fakeBroker
}

func (d *pipeDialer) open(_ *url.URL, _ pahomqtt.ClientOptions) (net.Conn, error) {
	client, server := net.Pipe()
	d.brokers <- newFakeBroker(server, d.code)
	return client, nil
}

func (d *pipeDialer) next(t *testing.T) *fakeBroker {
	t.Helper()

	select {
	case b := <-d.brokers:
		t.Cleanup(b.close)
		return b
	case <-time.After(2 * time.Second):
		require.Fail(t, "no connection opened")
		return nil
	}
}

type handlerRecorder struct {
	mu       sync.Mutex
	events   []mqtt.Event
	messages []mqtt.Message
}

func (h *handlerRecorder) OnEvent(e mqtt.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *handlerRecorder) OnMessage(m mqtt.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m.Payload = append([]byte(nil), m.Payload...)
	h.messages = append(h.messages, m)
}

func (h *handlerRecorder) Messages() []mqtt.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]mqtt.Message(nil), h.messages...)
}

func (h *handlerRecorder) Events() []mqtt.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]mqtt.Event(nil), h.events...)
}

func newTestClient(t *testing.T, code packet.ReturnCode) (*Client, *pipeDialer, *handlerRecorder) {
	t.Helper()

	d := &pipeDialer{code: code, brokers: make(chan *fakeBroker, 4)}
	h := &handlerRecorder{}
	log := mocks.NewLoggerStub()
	c := New(WithLogger(log.Logger()), WithConnectionFunc(d.open))

	require.NoError(t, c.SetHost("iot.example.com"))
	require.NoError(t, c.SetProductKey("QrjKUuXE"))
	require.NoError(t, c.SetDeviceName("32test"))
	require.NoError(t, c.SetDeviceSecret(gofakeit.Password(true, true, true, false, false, 32)))
	require.NoError(t, c.SetReceiveTimeout(100*time.Millisecond))
	require.NoError(t, c.SetHandler(h))
	t.Cleanup(func() { _ = c.Deinit() })
	return c, d, h
}

func connectTestClient(t *testing.T) (*Client, *fakeBroker, *handlerRecorder) {
	t.Helper()

	c, d, h := newTestClient(t, packet.ReturnCodeAccepted)
	require.NoError(t, c.Connect(context.Background()))

	b := d.next(t)
	b.expect(t, packet.CONNECT)
	return c, b, h
}

// receiveMessage calls Receive until a message of the kind is dispatched.
func receiveMessage(t *testing.T, c *Client, h *handlerRecorder, kind mqtt.MessageKind) mqtt.Message {
	t.Helper()

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Receive())
		for _, m := range h.Messages() {
			if m.Kind == kind {
				return m
			}
		}
	}
	require.Failf(t, "timeout", "no %v dispatched", kind)
	return mqtt.Message{}
}

func TestClientConnect(t *testing.T) {
	c, d, h := newTestClient(t, packet.ReturnCodeAccepted)
	require.NoError(t, c.SetKeepAlive(90))

	err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Connected())

	b := d.next(t)
	connect := b.expect(t, packet.CONNECT).(*packet.Connect)
	assert.True(t, strings.HasPrefix(connect.ClientID, "QrjKUuXE.32test|securemode=3,"))
	assert.Equal(t, "32test&QrjKUuXE", connect.Username)
	assert.Len(t, connect.Password, 64)
	assert.Equal(t, uint16(90), connect.KeepAlive)
	assert.True(t, connect.CleanSession)

	assert.Equal(t, []mqtt.Event{{Type: mqtt.EventConnect}}, h.Events())
}

func TestClientConnectExplicitIdentity(t *testing.T) {
	d := &pipeDialer{brokers: make(chan *fakeBroker, 1)}
	c := New(WithConnectionFunc(d.open))
	t.Cleanup(func() { _ = c.Deinit() })

	require.NoError(t, c.SetHost("iot.example.com"))
	require.NoError(t, c.SetClientID("client-1"))
	require.NoError(t, c.SetUsername("user"))
	require.NoError(t, c.SetPassword("pass"))
	require.NoError(t, c.Connect(context.Background()))

	connect := d.next(t).expect(t, packet.CONNECT).(*packet.Connect)
	assert.Equal(t, "client-1", connect.ClientID)
	assert.Equal(t, "user", connect.Username)
	assert.Equal(t, "pass", connect.Password)
}

func TestClientConnectRefused(t *testing.T) {
	c, d, h := newTestClient(t, packet.ReturnCodeNotAuthorized)

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, mqtt.ErrConnectRefused)
	assert.Equal(t, "-0x0301", mqtt.FormatCode(mqtt.CodeOf(err)))
	assert.False(t, c.Connected())
	assert.Empty(t, h.Events())

	_ = d.next(t)
	assert.ErrorIs(t, c.Process(), mqtt.ErrNotConnected)
}

func TestClientConnectMissingOptions(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(c *Client)
		err   error
	}{
		{"Host", func(c *Client) {}, mqtt.ErrMissingHost},
		{"ProductKey", func(c *Client) { _ = c.SetHost("h") }, mqtt.ErrMissingProductKey},
		{"DeviceName", func(c *Client) {
			_ = c.SetHost("h")
			_ = c.SetProductKey("pk")
		}, mqtt.ErrMissingDeviceName},
		{"DeviceSecret", func(c *Client) {
			_ = c.SetHost("h")
			_ = c.SetProductKey("pk")
			_ = c.SetDeviceName("dn")
		}, mqtt.ErrMissingDeviceSecret},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := New()
			tc.setup(c)

			err := c.Connect(context.Background())
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClientSetOptionAfterConnect(t *testing.T) {
	c, _, _ := connectTestClient(t)

	assert.ErrorIs(t, c.SetHost("other"), mqtt.ErrInvalidState)
	assert.ErrorIs(t, c.SetKeepAlive(60), mqtt.ErrInvalidState)
	assert.NoError(t, c.SetReceiveTimeout(time.Second))
	assert.ErrorIs(t, c.Connect(context.Background()), mqtt.ErrInvalidState)
}

func TestClientSubscribe(t *testing.T) {
	c, b, h := connectTestClient(t)

	err := c.Subscribe("/sys/QrjKUuXE/32test/rrpc/request/+", packet.QoS1)
	require.NoError(t, err)

	sub := b.expect(t, packet.SUBSCRIBE).(*packet.Subscribe)
	require.Len(t, sub.Topics, 1)
	assert.Equal(t, "/sys/QrjKUuXE/32test/rrpc/request/+", sub.Topics[0].Name)

	msg := receiveMessage(t, c, h, mqtt.MessageSubAck)
	assert.Zero(t, msg.SubAckResult)
	assert.Equal(t, packet.QoS1, msg.MaxQoS)
}

func TestClientSubscribeBeforeConnect(t *testing.T) {
	c, d, h := newTestClient(t, packet.ReturnCodeAccepted)
	require.NoError(t, c.Subscribe("/ota/device/upgrade/QrjKUuXE/32test", packet.QoS1))

	require.NoError(t, c.Connect(context.Background()))
	b := d.next(t)
	b.expect(t, packet.CONNECT)

	sub := b.expect(t, packet.SUBSCRIBE).(*packet.Subscribe)
	require.Len(t, sub.Topics, 1)
	assert.Equal(t, "/ota/device/upgrade/QrjKUuXE/32test", sub.Topics[0].Name)

	msg := receiveMessage(t, c, h, mqtt.MessageSubAck)
	assert.Zero(t, msg.SubAckResult)
}

func TestClientSubscribeInvalid(t *testing.T) {
	c, _, _ := connectTestClient(t)

	assert.ErrorIs(t, c.Subscribe("", packet.QoS0), mqtt.ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe("a/b", packet.QoS(2)), mqtt.ErrInvalidQoS)
}

func TestClientReceivePublish(t *testing.T) {
	c, b, h := connectTestClient(t)

	topic := "/sys/QrjKUuXE/32test/rrpc/request/42"
	payload := []byte(gofakeit.Sentence(5))
	pub := packet.NewPublish(0, topic, packet.QoS0, payload)
	b.push(&pub)

	msg := receiveMessage(t, c, h, mqtt.MessagePublish)
	assert.Equal(t, topic, msg.Topic)
	assert.Equal(t, payload, msg.Payload)
	assert.Equal(t, packet.QoS0, msg.QoS)
}

func TestClientReceiveTimeout(t *testing.T) {
	c, _, h := connectTestClient(t)

	start := time.Now()
	require.NoError(t, c.Receive())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Empty(t, h.Messages())
}

func TestClientPublish(t *testing.T) {
	c, b, h := connectTestClient(t)

	err := c.Publish("/sys/QrjKUuXE/32test/rrpc/response/42", []byte("ok"), packet.QoS0)
	require.NoError(t, err)

	pub := b.expect(t, packet.PUBLISH).(*packet.Publish)
	assert.Equal(t, "/sys/QrjKUuXE/32test/rrpc/response/42", pub.TopicName)
	assert.Equal(t, []byte("ok"), pub.Payload)

	err = c.Publish("/ota/device/inform/QrjKUuXE/32test", []byte("{}"), packet.QoS1)
	require.NoError(t, err)

	pub = b.expect(t, packet.PUBLISH).(*packet.Publish)
	assert.Equal(t, packet.QoS1, pub.QoS)

	ack := receiveMessage(t, c, h, mqtt.MessagePubAck)
	assert.Equal(t, pub.PacketID, ack.PacketID)
}

func TestClientPublishInvalid(t *testing.T) {
	c, _, _ := newTestClient(t, packet.ReturnCodeAccepted)

	assert.ErrorIs(t, c.Publish("a/+", nil, packet.QoS0), mqtt.ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish("a/b", nil, packet.QoS(2)), mqtt.ErrInvalidQoS)
	assert.ErrorIs(t, c.Publish("a/b", nil, packet.QoS0), mqtt.ErrNotConnected)
}

func TestClientDisconnect(t *testing.T) {
	c, b, _ := connectTestClient(t)

	require.NoError(t, c.Disconnect())
	b.expect(t, packet.DISCONNECT)

	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Process(), mqtt.ErrExecDisabled)
	assert.ErrorIs(t, c.Receive(), mqtt.ErrExecDisabled)
	assert.ErrorIs(t, c.Publish("a/b", nil, packet.QoS0), mqtt.ErrExecDisabled)
	assert.NoError(t, c.Disconnect())

	require.NoError(t, c.Deinit())
	assert.ErrorIs(t, c.Disconnect(), mqtt.ErrExecDisabled)
	assert.ErrorIs(t, c.SetHost("h"), mqtt.ErrExecDisabled)
}

func TestClientProcess(t *testing.T) {
	c, _, _ := newTestClient(t, packet.ReturnCodeAccepted)
	assert.ErrorIs(t, c.Process(), mqtt.ErrNotConnected)
	assert.ErrorIs(t, c.Receive(), mqtt.ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	assert.NoError(t, c.Process())
}
