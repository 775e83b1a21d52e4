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

// Package mqtt implements the device side of an MQTT 3.1.1 session with the
// IoT platform: credential signing, heartbeat, QoS 1 retransmission and
// automatic reconnection.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/mqtt/packet"
	"github.com/prometheus/client_golang/prometheus"
)

// The accepted range, in seconds, of the keep alive.
const (
	MinKeepAlive = 30
	MaxKeepAlive = 1200
)

const (
	defaultPort             = 1883
	defaultKeepAlive        = 60 * time.Second
	defaultConnectTimeout   = 10 * time.Second
	defaultReceiveTimeout   = 5 * time.Second
	defaultRepublishTimeout = 3 * time.Second
	defaultBufferSize       = 4096
	defaultMaxPacketSize    = 1 << 20
	maxHeartbeatLost        = 2
	minReconnectBackoff     = time.Second
	maxReconnectBackoff     = 30 * time.Second
)

// Dialer opens a network connection to the address.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

type clientState int

const (
	stateInit clientState = iota
	stateConnected
	stateLost
	stateDisconnected
	stateReleased
)

var stateToString = map[clientState]string{
	stateInit:         "init",
	stateConnected:    "connected",
	stateLost:         "lost",
	stateDisconnected: "disconnected",
	stateReleased:     "released",
}

func (s clientState) String() string {
	return stateToString[s]
}

type inflightMessage struct {
	pkt    *packet.Publish
	sentAt time.Time
}

type dialParams struct {
	address   string
	host      string
	identity  Identity
	keepAlive time.Duration
	tlsConf   *tls.Config
}

// Client is the handle of a device MQTT session.
//
// The Client is safe for concurrent use: the Process and Receive methods are expected to run
// in two different goroutines, and Publish and Subscribe can be called from any goroutine,
// including from the Handler. Only the goroutine which calls Receive reads from the network.
// No lock is held while the Handler runs or while Receive waits for a packet.
type Client struct {
	log            *logger.Logger
	metrics        *packetMetrics
	registerer     prometheus.Registerer
	writer         *packet.Writer
	dial           Dialer
	now            func() time.Time
	connectTimeout time.Duration

	mu            sync.Mutex
	state         clientState
	host          string
	port          int
	cred          Credential
	securityMode  string
	explicit      Identity
	tlsConf       *tls.Config
	keepAlive     time.Duration
	recvTimeout   time.Duration
	handler       Handler
	conn          net.Conn
	reader        *packet.Reader
	lastPacketID  packet.ID
	lastPing      time.Time
	pingLost      int
	inflight      map[packet.ID]*inflightMessage
	subscriptions map[string]packet.QoS
	pending       []Event
	backoff       time.Duration
	nextReconnect time.Time
}

// New creates and initializes a Client with default options.
func New(opts ...OptionFn) *Client {
	c := &Client{
		writer:         packet.NewWriter(defaultBufferSize),
		now:            time.Now,
		connectTimeout: defaultConnectTimeout,
		port:           defaultPort,
		securityMode:   SecurityModeTCP,
		keepAlive:      defaultKeepAlive,
		recvTimeout:    defaultReceiveTimeout,
		inflight:       make(map[packet.ID]*inflightMessage),
		subscriptions:  make(map[string]packet.QoS),
	}

	for _, fn := range opts {
		fn(c)
	}

	if c.log == nil {
		l := logger.New(io.Discard, nil, logger.JSON)
		c.log = l
	}
	c.log = c.log.WithPrefix("mqtt")
	c.metrics = newMetrics(c.registerer, c.log)
	return c
}

// ClampKeepAlive clamps the keep alive, in seconds, into [MinKeepAlive, MaxKeepAlive].
func ClampKeepAlive(sec int) int {
	if sec < MinKeepAlive {
		return MinKeepAlive
	}
	if sec > MaxKeepAlive {
		return MaxKeepAlive
	}
	return sec
}

func (c *Client) setOption(fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateInit, stateDisconnected:
		fn()
		return nil
	case stateReleased:
		return ErrExecDisabled
	default:
		return ErrInvalidState
	}
}

// SetHost sets the host name or IP address of the broker.
func (c *Client) SetHost(host string) error {
	return c.setOption(func() { c.host = host })
}

// SetPort sets the TCP port of the broker.
func (c *Client) SetPort(port int) error {
	return c.setOption(func() { c.port = port })
}

// SetProductKey sets the product key of the device credential.
func (c *Client) SetProductKey(pk string) error {
	return c.setOption(func() { c.cred.ProductKey = pk })
}

// SetDeviceName sets the device name of the device credential.
func (c *Client) SetDeviceName(dn string) error {
	return c.setOption(func() { c.cred.DeviceName = dn })
}

// SetDeviceSecret sets the device secret of the device credential.
func (c *Client) SetDeviceSecret(ds string) error {
	return c.setOption(func() { c.cred.DeviceSecret = ds })
}

// SetClientID sets an explicit client ID. It's used only when the username and the password
// are also set explicitly.
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

// SetTLSConfig sets the TLS configuration. A nil configuration disables TLS.
func (c *Client) SetTLSConfig(conf *tls.Config) error {
	return c.setOption(func() { c.tlsConf = conf })
}

// SetKeepAlive sets the keep alive, in seconds, clamped into [MinKeepAlive, MaxKeepAlive].
func (c *Client) SetKeepAlive(sec int) error {
	return c.setOption(func() { c.keepAlive = time.Duration(ClampKeepAlive(sec)) * time.Second })
}

// KeepAlive returns the keep alive, in seconds.
func (c *Client) KeepAlive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.keepAlive / time.Second)
}

// SetReceiveTimeout sets the maximum amount of time a Receive call waits for a packet.
//
// Unlike the other options, it can be changed while connected and applies from the next
// Receive call.
func (c *Client) SetReceiveTimeout(d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateReleased {
		return ErrExecDisabled
	}
	c.recvTimeout = d
	return nil
}

// SetHandler sets the Handler of the connection events and inbound messages.
func (c *Client) SetHandler(h Handler) error {
	return c.setOption(func() { c.handler = h })
}

// Connect establishes the MQTT session with the broker.
//
// On failure, the Client stays in a state where it can be configured, connected again or
// released with Deinit.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case stateReleased:
		c.mu.Unlock()
		return ErrExecDisabled
	case stateConnected, stateLost:
		c.mu.Unlock()
		return ErrInvalidState
	}

	if err := c.validateLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	params := c.dialParamsLocked()
	c.mu.Unlock()

	conn, rd, err := c.establish(ctx, params)
	if err != nil {
		c.log.Error().
			Str("Address", params.address).
			Str("ClientId", params.identity.ClientID).
			Str("Code", FormatCode(CodeOf(err))).
			Msg("Failed to connect: " + err.Error())
		return err
	}

	c.mu.Lock()
	if c.state == stateReleased {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrExecDisabled
	}
	c.attachLocked(conn, rd)
	h := c.handler
	c.mu.Unlock()

	c.log.Info().
		Str("Address", params.address).
		Str("ClientId", params.identity.ClientID).
		Int("KeepAlive", int(params.keepAlive/time.Second)).
		Msg("MQTT connected")

	c.resubscribe()
	dispatchEvents(h, []Event{{Type: EventConnect}})
	return nil
}

// Disconnect sends the DISCONNECT packet and closes the network connection. The Process and
// Receive methods return ErrExecDisabled after it.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateReleased:
		return ErrExecDisabled
	case stateInit, stateDisconnected:
		return nil
	case stateConnected:
		_ = c.writeLocked(&packet.Disconnect{})
	}

	c.closeLocked()
	c.state = stateDisconnected
	c.log.Info().Msg("MQTT disconnected")
	return nil
}

// Deinit releases the Client. No other method can be used after it.
func (c *Client) Deinit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateReleased {
		return nil
	}

	c.log.Debug().Str("State", c.state.String()).Msg("Releasing MQTT handle")
	c.closeLocked()
	c.state = stateReleased
	c.inflight = make(map[packet.ID]*inflightMessage)
	c.pending = nil
	return nil
}

// Connected returns whether the session is established or not.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// Publish publishes the payload into the topic. QoS 1 messages are kept until acknowledged and
// retransmitted by Process.
func (c *Client) Publish(topic string, payload []byte, qos packet.QoS) error {
	if !packet.ValidTopicName(topic) {
		return ErrInvalidTopic.WithReason(topic)
	}
	if qos > packet.QoS1 {
		return ErrInvalidQoS
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkConnectedLocked(); err != nil {
		return err
	}

	pkt := packet.NewPublish(0, topic, qos, payload)
	if qos == packet.QoS1 {
		pkt.PacketID = c.nextPacketIDLocked()
		c.inflight[pkt.PacketID] = &inflightMessage{pkt: pkt.Clone(), sentAt: c.now()}
	}

	if err := c.writeLocked(&pkt); err != nil {
		return err
	}

	c.log.Debug().
		Str("Topic", topic).
		Uint8("QoS", uint8(qos)).
		Uint16("PacketId", uint16(pkt.PacketID)).
		Int("PayloadSize", len(payload)).
		Msg("Message published")
	return nil
}

// Subscribe subscribes to the topic filter. The subscription is kept by the Client and restored
// after every reconnection. When the session is not connected yet, the subscription is sent
// once the session is established.
func (c *Client) Subscribe(filter string, qos packet.QoS) error {
	if !packet.ValidTopicFilter(filter) {
		return ErrInvalidTopic.WithReason(filter)
	}
	if qos > packet.QoS1 {
		return ErrInvalidQoS
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateReleased, stateDisconnected:
		return ErrExecDisabled
	}

	c.subscriptions[filter] = qos
	if c.state != stateConnected {
		return nil
	}
	return c.subscribeLocked(filter, qos)
}

func (c *Client) subscribeLocked(filter string, qos packet.QoS) error {
	pkt := &packet.Subscribe{
		PacketID: c.nextPacketIDLocked(),
		Topics:   []packet.Topic{{Name: filter, QoS: qos}},
	}
	if err := c.writeLocked(pkt); err != nil {
		return err
	}

	c.log.Debug().
		Str("TopicFilter", filter).
		Uint8("QoS", uint8(qos)).
		Uint16("PacketId", uint16(pkt.PacketID)).
		Msg("Subscription sent")
	return nil
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()

	filters := make([]string, 0, len(c.subscriptions))
	for f := range c.subscriptions {
		filters = append(filters, f)
	}
	sort.Strings(filters)

	for _, f := range filters {
		if err := c.subscribeLocked(f, c.subscriptions[f]); err != nil {
			c.log.Warn().Str("TopicFilter", f).Msg("Failed to restore subscription: " + err.Error())
			return
		}
	}
}

func (c *Client) validateLocked() error {
	if c.host == "" {
		return ErrMissingHost
	}
	if c.hasExplicitIdentityLocked() {
		return nil
	}
	if c.cred.ProductKey == "" {
		return ErrMissingProductKey
	}
	if c.cred.DeviceName == "" {
		return ErrMissingDeviceName
	}
	if c.cred.DeviceSecret == "" {
		return ErrMissingDeviceSecret
	}
	return nil
}

func (c *Client) hasExplicitIdentityLocked() bool {
	return c.explicit.ClientID != "" && c.explicit.Username != "" && c.explicit.Password != ""
}

func (c *Client) dialParamsLocked() dialParams {
	id := c.explicit
	if !c.hasExplicitIdentityLocked() {
		id = c.cred.Sign(c.securityMode, c.now())
	}

	return dialParams{
		address:   net.JoinHostPort(c.host, strconv.Itoa(c.port)),
		host:      c.host,
		identity:  id,
		keepAlive: c.keepAlive,
		tlsConf:   c.tlsConf,
	}
}

func (c *Client) establish(ctx context.Context, p dialParams) (net.Conn, *packet.Reader, error) {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, err := c.open(ctx, p)
	if err != nil {
		return nil, nil, ErrConnectNetwork.WithReason(err.Error())
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	connect := &packet.Connect{
		ClientID:     p.identity.ClientID,
		Username:     p.identity.Username,
		Password:     p.identity.Password,
		KeepAlive:    uint16(p.keepAlive / time.Second),
		CleanSession: true,
	}
	if err = c.writer.WritePacket(conn, connect); err != nil {
		_ = conn.Close()
		return nil, nil, ErrConnectNetwork.WithReason(err.Error())
	}
	c.metrics.recordPacketSent(connect)

	rd := packet.NewReader(conn, packet.ReaderOptions{
		BufferSize:    defaultBufferSize,
		MaxPacketSize: defaultMaxPacketSize,
	})
	pkt, err := rd.ReadPacket()
	if err != nil {
		_ = conn.Close()

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil, ErrConnectTimeout
		}
		return nil, nil, ErrConnectNetwork.WithReason(err.Error())
	}
	c.metrics.recordPacketReceived(pkt)

	connAck, ok := pkt.(*packet.ConnAck)
	if !ok {
		_ = conn.Close()
		return nil, nil, ErrConnectProtocol.WithReason("unexpected " + pkt.Type().String())
	}
	if connAck.ReturnCode != packet.ReturnCodeAccepted {
		_ = conn.Close()
		return nil, nil, ErrConnectRefused.WithReason(connAck.ReturnCode.String())
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, rd, nil
}

func (c *Client) open(ctx context.Context, p dialParams) (net.Conn, error) {
	if c.dial != nil {
		conn, err := c.dial(ctx, p.address)
		if err != nil || p.tlsConf == nil {
			return conn, err
		}

		tlsConn := tls.Client(conn, tlsConfigFor(p))
		if err = tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}

	if p.tlsConf != nil {
		d := &tls.Dialer{Config: tlsConfigFor(p)}
		return d.DialContext(ctx, "tcp", p.address)
	}

	d := &net.Dialer{}
	return d.DialContext(ctx, "tcp", p.address)
}

func tlsConfigFor(p dialParams) *tls.Config {
	conf := p.tlsConf.Clone()
	if conf.ServerName == "" {
		conf.ServerName = p.host
	}
	return conf
}

func (c *Client) attachLocked(conn net.Conn, rd *packet.Reader) {
	c.conn = conn
	c.reader = rd
	c.state = stateConnected
	c.lastPing = c.now()
	c.pingLost = 0
	c.backoff = 0
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

func (c *Client) checkConnectedLocked() error {
	switch c.state {
	case stateConnected:
		return nil
	case stateReleased, stateDisconnected:
		return ErrExecDisabled
	default:
		return ErrNotConnected
	}
}

func (c *Client) nextPacketIDLocked() packet.ID {
	for {
		c.lastPacketID++
		if c.lastPacketID == 0 {
			continue
		}
		if _, ok := c.inflight[c.lastPacketID]; !ok {
			return c.lastPacketID
		}
	}
}

func (c *Client) writeLocked(p packet.Packet) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.connectTimeout))
	if err := c.writer.WritePacket(c.conn, p); err != nil {
		c.log.Warn().
			Str("PacketType", p.Type().String()).
			Msg("Failed to write packet: " + err.Error())
		c.connectionLostLocked(CauseNetwork)
		return ErrNetworkWrite.WithReason(err.Error())
	}

	c.metrics.recordPacketSent(p)
	c.log.Trace().
		Str("PacketType", p.Type().String()).
		Int("Size", p.Size()).
		Msg("Packet sent")
	return nil
}

// connectionLostLocked closes the network connection and queues the disconnect event, which is
// dispatched by the next Receive call.
func (c *Client) connectionLostLocked(cause DisconnectCause) {
	if c.state != stateConnected {
		return
	}

	c.closeLocked()
	c.state = stateLost
	c.pending = append(c.pending, Event{Type: EventDisconnect, Cause: cause})
	c.nextReconnect = c.now()
	c.log.Warn().Str("Cause", cause.String()).Msg("MQTT connection lost")
}

func (c *Client) takeEventsLocked() []Event {
	events := c.pending
	c.pending = nil
	return events
}

func dispatchEvents(h Handler, events []Event) {
	if h == nil {
		return
	}
	for _, e := range events {
		h.OnEvent(e)
	}
}
