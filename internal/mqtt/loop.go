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

package mqtt

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/iotali/linkmq/internal/mqtt/packet"
)

// Process sends the heartbeat when it is due and retransmits the QoS 1 messages which were not
// acknowledged in time. It is expected to be called about once per second.
//
// When the broker misses too many heartbeats, the connection is declared lost with
// CauseHeartbeat and ErrHeartbeatTimeout is returned; the next Receive call reconnects.
func (c *Client) Process() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateReleased, stateDisconnected:
		return ErrExecDisabled
	case stateInit:
		return ErrNotConnected
	case stateLost:
		return nil
	}

	now := c.now()
	if now.Sub(c.lastPing) >= c.heartbeatIntervalLocked() {
		if c.pingLost >= maxHeartbeatLost {
			c.connectionLostLocked(CauseHeartbeat)
			return ErrHeartbeatTimeout
		}

		if err := c.writeLocked(&packet.PingReq{}); err != nil {
			return err
		}
		c.lastPing = now
		c.pingLost++
	}

	return c.retransmitLocked(now)
}

func (c *Client) heartbeatIntervalLocked() time.Duration {
	return c.keepAlive / 2
}

func (c *Client) retransmitLocked(now time.Time) error {
	for id, msg := range c.inflight {
		if now.Sub(msg.sentAt) < defaultRepublishTimeout {
			continue
		}

		msg.pkt.Dup = true
		msg.sentAt = now
		if err := c.writeLocked(msg.pkt); err != nil {
			return err
		}

		c.log.Debug().
			Str("Topic", msg.pkt.TopicName).
			Uint16("PacketId", uint16(id)).
			Msg("Message retransmitted")
	}
	return nil
}

// Receive waits for one packet, up to the receive timeout, and dispatches it to the Handler.
// When the connection was lost, it dispatches the disconnect event and tries to reconnect,
// backing off between attempts.
//
// A timeout without any packet is not an error.
func (c *Client) Receive() error {
	c.mu.Lock()
	switch c.state {
	case stateReleased, stateDisconnected:
		c.mu.Unlock()
		return ErrExecDisabled
	case stateInit:
		c.mu.Unlock()
		return ErrNotConnected
	}

	h := c.handler
	events := c.takeEventsLocked()
	if c.state == stateLost {
		c.mu.Unlock()
		dispatchEvents(h, events)
		return c.reconnect(h)
	}

	conn, rd, timeout, keepAlive := c.conn, c.reader, c.recvTimeout, c.keepAlive
	c.mu.Unlock()
	dispatchEvents(h, events)

	// Only the wait for the first byte is bounded by the receive timeout. Once a packet has
	// started, the rest of it is read under the keepalive deadline.
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if err := rd.Wait(); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return c.readFailed(h, conn, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(keepAlive))
	pkt, err := rd.ReadPacket()
	if err != nil {
		return c.readFailed(h, conn, err)
	}

	c.metrics.recordPacketReceived(pkt)
	c.log.Trace().
		Str("PacketType", pkt.Type().String()).
		Int("Size", pkt.Size()).
		Msg("Packet received")
	return c.handlePacket(h, pkt)
}

func (c *Client) readFailed(h Handler, conn net.Conn, err error) error {
	c.mu.Lock()
	if c.conn == conn {
		c.connectionLostLocked(CauseNetwork)
	}
	events := c.takeEventsLocked()
	c.mu.Unlock()

	dispatchEvents(h, events)
	return ErrNetworkClosed.WithReason(err.Error())
}

func (c *Client) reconnect(h Handler) error {
	c.mu.Lock()
	now := c.now()
	if now.Before(c.nextReconnect) {
		c.mu.Unlock()
		return ErrNetworkClosed
	}
	params := c.dialParamsLocked()
	c.mu.Unlock()

	c.log.Debug().Str("Address", params.address).Msg("Reconnecting")
	conn, rd, err := c.establish(context.Background(), params)

	c.mu.Lock()
	if c.state != stateLost {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrExecDisabled
	}

	if err != nil {
		c.backoff = nextBackoff(c.backoff)
		c.nextReconnect = now.Add(c.backoff)
		c.mu.Unlock()

		c.log.Warn().
			Str("Address", params.address).
			Str("Code", FormatCode(CodeOf(err))).
			Float64("RetryIn", c.backoffSeconds()).
			Msg("Failed to reconnect: " + err.Error())
		return err
	}

	c.attachLocked(conn, rd)
	c.mu.Unlock()

	c.log.Info().Str("Address", params.address).Msg("MQTT reconnected")
	c.resubscribe()
	dispatchEvents(h, []Event{{Type: EventReconnect}})
	return nil
}

func (c *Client) backoffSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Seconds()
}

func nextBackoff(d time.Duration) time.Duration {
	if d < minReconnectBackoff {
		return minReconnectBackoff
	}

	d *= 2
	if d > maxReconnectBackoff {
		return maxReconnectBackoff
	}
	return d
}

func (c *Client) handlePacket(h Handler, pkt packet.Packet) error {
	var msg Message

	switch p := pkt.(type) {
	case *packet.PingResp:
		c.mu.Lock()
		c.pingLost = 0
		c.mu.Unlock()
		msg = Message{Kind: MessageHeartbeatResponse}

	case *packet.SubAck:
		msg = Message{Kind: MessageSubAck, PacketID: p.PacketID}
		if len(p.ReturnCodes) > 0 {
			if p.ReturnCodes[0] == packet.SubAckFailure {
				msg.SubAckResult = SubAckRefused
			} else {
				msg.MaxQoS = packet.QoS(p.ReturnCodes[0])
			}
		}

	case *packet.Publish:
		if p.QoS == packet.QoS1 {
			ack := packet.NewPubAck(p.PacketID)
			c.mu.Lock()
			err := c.writeLocked(&ack)
			c.mu.Unlock()
			if err != nil {
				return err
			}
		}
		msg = Message{Kind: MessagePublish, Topic: p.TopicName, Payload: p.Payload, QoS: p.QoS}

	case *packet.PubAck:
		c.mu.Lock()
		delete(c.inflight, p.PacketID)
		c.mu.Unlock()
		msg = Message{Kind: MessagePubAck, PacketID: p.PacketID}

	default:
		c.log.Warn().
			Str("PacketType", pkt.Type().String()).
			Msg("Unexpected packet received")
		return nil
	}

	if h != nil {
		h.OnMessage(msg)
	}
	return nil
}
