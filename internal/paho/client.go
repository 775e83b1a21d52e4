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

// Package paho implements the session transport on top of the Eclipse Paho MQTT client.
//
// Paho runs its own network goroutines and reconnects by itself. The Client queues what Paho
// delivers (connection events, inbound messages and acknowledgements) and hands it to the
// mqtt.Handler from the goroutine which calls Receive, so the handler sees the same contract as
// with the native transport.
package paho

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/mqtt/packet"
)

const (
	defaultPort              = 1883
	defaultKeepAlive         = 60
	defaultReceiveTimeout    = 5 * time.Second
	defaultConnectTimeout    = 10 * time.Second
	defaultQueueSize         = 64
	disconnectQuiesce        = 250
	maxReconnectInterval     = 30 * time.Second
	defaultAcknowledgeWindow = 30 * time.Second
)

type clientState byte

const (
	stateInit clientState = iota
	stateConnected
	stateDisconnected
	stateReleased
)

// OptionFn is a function responsible to inject an option inside the Client.
type OptionFn func(c *Client)

// WithLogger is an option function to inject the logger.Logger inside the Client.
func WithLogger(l *logger.Logger) OptionFn {
	return func(c *Client) {
		c.log = l
	}
}

// WithConnectionFunc is an option function to replace the function used by Paho to open the
// network connections.
func WithConnectionFunc(fn pahomqtt.OpenConnectionFunc) OptionFn {
	return func(c *Client) {
		c.openConn = fn
	}
}

// WithClock is an option function to replace the clock used to sign the credential.
func WithClock(now func() time.Time) OptionFn {
	return func(c *Client) {
		c.now = now
	}
}

// inbound is an item delivered by Paho, waiting for Receive.
type inbound struct {
	event   *mqtt.Event
	message *mqtt.Message
}

// Client is a session transport backed by Paho. It is safe for concurrent use.
type Client struct {
	log          *logger.Logger
	openConn     pahomqtt.OpenConnectionFunc
	now          func() time.Time
	inbound      chan inbound
	done         chan struct{}
	reconnecting atomic.Bool

	mu            sync.Mutex
	state         clientState
	host          string
	port          int
	cred          mqtt.Credential
	explicit      mqtt.Identity
	securityMode  string
	tlsConf       *tls.Config
	keepAlive     int
	recvTimeout   time.Duration
	handler       mqtt.Handler
	client        pahomqtt.Client
	subscriptions map[string]packet.QoS
}

// New creates a Client.
func New(opts ...OptionFn) *Client {
	c := &Client{
		now:           time.Now,
		inbound:       make(chan inbound, defaultQueueSize),
		port:          defaultPort,
		securityMode:  mqtt.SecurityModeTCP,
		keepAlive:     defaultKeepAlive,
		recvTimeout:   defaultReceiveTimeout,
		done:          make(chan struct{}),
		subscriptions: make(map[string]packet.QoS),
	}

	for _, fn := range opts {
		fn(c)
	}

	if c.log == nil {
		c.log = logger.New(io.Discard, nil, logger.JSON)
	}
	c.log = c.log.WithPrefix("paho")
	return c
}

func (c *Client) setOption(fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateInit:
		fn()
		return nil
	case stateConnected:
		return mqtt.ErrInvalidState
	default:
		return mqtt.ErrExecDisabled
	}
}

// SetHost sets the host name or IP address of the broker.
func (c *Client) SetHost(host string) error {
	return c.setOption(func() { c.host = host })
}

// SetPort sets the port of the broker.
func (c *Client) SetPort(port int) error {
	return c.setOption(func() { c.port = port })
}

// SetProductKey sets the product key of the device.
func (c *Client) SetProductKey(pk string) error {
	return c.setOption(func() { c.cred.ProductKey = pk })
}

// SetDeviceName sets the device name.
func (c *Client) SetDeviceName(dn string) error {
	return c.setOption(func() { c.cred.DeviceName = dn })
}

// SetDeviceSecret sets the device secret.
func (c *Client) SetDeviceSecret(ds string) error {
	return c.setOption(func() { c.cred.DeviceSecret = ds })
}

// SetClientID sets an explicit client ID.
func (c *Client) SetClientID(id string) error {
	return c.setOption(func() { c.explicit.ClientID = id })
}

// SetUsername sets an explicit username.
func (c *Client) SetUsername(username string) error {
	return c.setOption(func() { c.explicit.Username = username })
}

// SetPassword sets an explicit password.
func (c *Client) SetPassword(password string) error {
	return c.setOption(func() { c.explicit.Password = password })
}

// SetSecurityMode sets the security mode announced in the signed client ID.
func (c *Client) SetSecurityMode(mode string) error {
	return c.setOption(func() { c.securityMode = mode })
}

// SetTLSConfig sets the TLS configuration. The connection uses TLS when it is not nil.
func (c *Client) SetTLSConfig(conf *tls.Config) error {
	return c.setOption(func() { c.tlsConf = conf })
}

// SetKeepAlive sets the keepalive, in seconds, clamped to the accepted range.
func (c *Client) SetKeepAlive(sec int) error {
	return c.setOption(func() { c.keepAlive = mqtt.ClampKeepAlive(sec) })
}

// SetReceiveTimeout sets the maximum amount of time a Receive call waits.
//
// It can also be changed while connected.
func (c *Client) SetReceiveTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateInit, stateConnected:
		c.recvTimeout = d
		return nil
	default:
		return mqtt.ErrExecDisabled
	}
}

// SetHandler sets the Handler of the connection events and inbound messages.
func (c *Client) SetHandler(h mqtt.Handler) error {
	return c.setOption(func() { c.handler = h })
}

// Connect connects to the broker and waits for its acknowledgement.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case stateConnected:
		c.mu.Unlock()
		return mqtt.ErrInvalidState
	case stateDisconnected, stateReleased:
		c.mu.Unlock()
		return mqtt.ErrExecDisabled
	}
	if err := c.validateLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	opts := c.clientOptionsLocked()
	client := pahomqtt.NewClient(opts)
	c.client = client
	c.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return mqtt.ErrConnectTimeout
	}

	if err := token.Error(); err != nil {
		c.log.Warn().Str("Broker", opts.Servers[0].String()).Msg("Failed to connect: " + err.Error())
		return connectError(err)
	}

	c.mu.Lock()
	c.state = stateConnected
	h := c.handler
	for f, qos := range c.subscriptions {
		c.subscribeLocked(f, qos)
	}
	c.mu.Unlock()

	c.log.Info().Str("ClientId", opts.ClientID).Msg("MQTT connected")
	if h != nil {
		h.OnEvent(mqtt.Event{Type: mqtt.EventConnect})
	}
	return nil
}

func (c *Client) validateLocked() error {
	if c.host == "" {
		return mqtt.ErrMissingHost
	}
	if c.explicit.ClientID != "" && c.explicit.Username != "" && c.explicit.Password != "" {
		return nil
	}
	switch {
	case c.cred.ProductKey == "":
		return mqtt.ErrMissingProductKey
	case c.cred.DeviceName == "":
		return mqtt.ErrMissingDeviceName
	case c.cred.DeviceSecret == "":
		return mqtt.ErrMissingDeviceSecret
	}
	return nil
}

func (c *Client) clientOptionsLocked() *pahomqtt.ClientOptions {
	id := c.explicit
	if id.ClientID == "" || id.Username == "" || id.Password == "" {
		id = c.cred.Sign(c.securityMode, c.now())
	}

	scheme := "tcp://"
	if c.tlsConf != nil {
		scheme = "ssl://"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(scheme+net.JoinHostPort(c.host, strconv.Itoa(c.port))).
		SetClientID(id.ClientID).
		SetUsername(id.Username).
		SetPassword(id.Password).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetKeepAlive(time.Duration(c.keepAlive)*time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetDefaultPublishHandler(c.onPublish).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if c.tlsConf != nil {
		opts.SetTLSConfig(c.tlsConf)
	}
	if c.openConn != nil {
		opts.SetCustomOpenConnectionFn(c.openConn)
	}
	return opts
}

func connectError(err error) error {
	switch {
	case errors.Is(err, packets.ErrorNetworkError):
		return mqtt.ErrConnectNetwork.WithReason(err.Error())
	case errors.Is(err, packets.ErrorProtocolViolation):
		return mqtt.ErrConnectProtocol.WithReason(err.Error())
	}

	for _, e := range packets.ConnErrors {
		if e != nil && errors.Is(err, e) {
			return mqtt.ErrConnectRefused.WithReason(err.Error())
		}
	}
	return mqtt.ErrConnectNetwork.WithReason(err.Error())
}

// Disconnect disconnects from the broker. The Process and Receive methods return
// ErrExecDisabled after it.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateReleased:
		return mqtt.ErrExecDisabled
	case stateInit, stateDisconnected:
		return nil
	}

	close(c.done)
	c.client.Disconnect(disconnectQuiesce)
	c.state = stateDisconnected
	c.log.Info().Msg("MQTT disconnected")
	return nil
}

// Deinit releases the Client. No other method can be used after it.
func (c *Client) Deinit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateReleased:
		return nil
	case stateConnected:
		close(c.done)
		c.client.Disconnect(0)
	case stateInit:
		close(c.done)
	}

	c.state = stateReleased
	return nil
}

// Connected returns whether the session is established or not.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected && c.client.IsConnectionOpen()
}

func (c *Client) checkConnectedLocked() error {
	switch c.state {
	case stateDisconnected, stateReleased:
		return mqtt.ErrExecDisabled
	case stateInit:
		return mqtt.ErrNotConnected
	}
	if !c.client.IsConnectionOpen() {
		return mqtt.ErrNotConnected
	}
	return nil
}

// Process checks the state of the session. Paho sends the heartbeats and reconnects by itself.
func (c *Client) Process() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateDisconnected, stateReleased:
		return mqtt.ErrExecDisabled
	case stateInit:
		return mqtt.ErrNotConnected
	}
	return nil
}

// Receive waits, up to the receive timeout, for one item delivered by Paho and dispatches it to
// the Handler.
func (c *Client) Receive() error {
	c.mu.Lock()
	if err := c.checkReceiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	h, timeout := c.handler, c.recvTimeout
	c.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case in := <-c.inbound:
		dispatch(h, in)
		return nil
	case <-t.C:
		return nil
	case <-c.done:
		return mqtt.ErrExecDisabled
	}
}

func (c *Client) checkReceiveLocked() error {
	switch c.state {
	case stateDisconnected, stateReleased:
		return mqtt.ErrExecDisabled
	case stateInit:
		return mqtt.ErrNotConnected
	}
	return nil
}

func dispatch(h mqtt.Handler, in inbound) {
	if h == nil {
		return
	}
	if in.event != nil {
		h.OnEvent(*in.event)
	}
	if in.message != nil {
		h.OnMessage(*in.message)
	}
}

// Publish publishes the payload into the topic. The acknowledgement of a QoS 1 message is
// delivered by Receive.
func (c *Client) Publish(topic string, payload []byte, qos packet.QoS) error {
	if !packet.ValidTopicName(topic) {
		return mqtt.ErrInvalidTopic.WithReason(topic)
	}
	if qos > packet.QoS1 {
		return mqtt.ErrInvalidQoS
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkConnectedLocked(); err != nil {
		return err
	}

	token := c.client.Publish(topic, byte(qos), false, payload)
	go c.awaitPublish(token, topic, qos)

	c.log.Debug().
		Str("Topic", topic).
		Uint8("QoS", uint8(qos)).
		Int("PayloadSize", len(payload)).
		Msg("Message published")
	return nil
}

func (c *Client) awaitPublish(token pahomqtt.Token, topic string, qos packet.QoS) {
	if !token.WaitTimeout(defaultAcknowledgeWindow) {
		c.log.Warn().Str("Topic", topic).Msg("Publication not acknowledged in time")
		return
	}
	if err := token.Error(); err != nil {
		c.log.Warn().Str("Topic", topic).Msg("Failed to publish: " + err.Error())
		return
	}
	if qos != packet.QoS1 {
		return
	}

	var id packet.ID
	if pt, ok := token.(*pahomqtt.PublishToken); ok {
		id = packet.ID(pt.MessageID())
	}
	c.enqueue(inbound{message: &mqtt.Message{Kind: mqtt.MessagePubAck, PacketID: id}})
}

// Subscribe subscribes to the topic filter. The subscription is kept by the Client and restored
// after every reconnection. The result is delivered by Receive.
func (c *Client) Subscribe(filter string, qos packet.QoS) error {
	if !packet.ValidTopicFilter(filter) {
		return mqtt.ErrInvalidTopic.WithReason(filter)
	}
	if qos > packet.QoS1 {
		return mqtt.ErrInvalidQoS
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateDisconnected, stateReleased:
		return mqtt.ErrExecDisabled
	}

	c.subscriptions[filter] = qos
	if c.state != stateConnected {
		return nil
	}
	c.subscribeLocked(filter, qos)
	return nil
}

func (c *Client) subscribeLocked(filter string, qos packet.QoS) {
	token := c.client.Subscribe(filter, byte(qos), nil)
	go c.awaitSubscribe(token, filter)
}

func (c *Client) awaitSubscribe(token pahomqtt.Token, filter string) {
	msg := mqtt.Message{Kind: mqtt.MessageSubAck, SubAckResult: mqtt.SubAckRefused}

	if !token.WaitTimeout(defaultAcknowledgeWindow) {
		c.log.Warn().Str("TopicFilter", filter).Msg("Subscription not acknowledged in time")
	} else if err := token.Error(); err != nil {
		c.log.Warn().Str("TopicFilter", filter).Msg("Failed to subscribe: " + err.Error())
	} else if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, ok := st.Result()[filter]; ok && code != packet.SubAckFailure {
			msg.SubAckResult = 0
			msg.MaxQoS = packet.QoS(code)
		}
	}

	c.enqueue(inbound{message: &msg})
}

func (c *Client) onPublish(_ pahomqtt.Client, m pahomqtt.Message) {
	c.enqueue(inbound{message: &mqtt.Message{
		Kind:     mqtt.MessagePublish,
		Topic:    m.Topic(),
		Payload:  m.Payload(),
		QoS:      packet.QoS(m.Qos()),
		PacketID: packet.ID(m.MessageID()),
	}})
}

func (c *Client) onConnect(_ pahomqtt.Client) {
	if !c.reconnecting.CompareAndSwap(true, false) {
		return
	}

	c.mu.Lock()
	if c.state == stateConnected {
		for f, qos := range c.subscriptions {
			c.subscribeLocked(f, qos)
		}
	}
	c.mu.Unlock()

	c.log.Info().Msg("MQTT reconnected")
	c.enqueue(inbound{event: &mqtt.Event{Type: mqtt.EventReconnect}})
}

func (c *Client) onConnectionLost(_ pahomqtt.Client, err error) {
	c.reconnecting.Store(true)
	c.log.Warn().Msg("MQTT connection lost: " + err.Error())
	c.enqueue(inbound{event: &mqtt.Event{Type: mqtt.EventDisconnect, Cause: mqtt.CauseNetwork}})
}

// enqueue blocks Paho until Receive takes the item, or until the Client is disconnected. It
// must not take the mutex: Disconnect holds it while Paho stops its goroutines.
func (c *Client) enqueue(in inbound) {
	select {
	case c.inbound <- in:
	case <-c.done:
	}
}
