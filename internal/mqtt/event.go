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

import "github.com/iotali/linkmq/internal/mqtt/packet"

// EventType represents the type of a connection event.
type EventType int

// Connection events.
const (
	// EventConnect is emitted when the session was established by a Connect call.
	EventConnect EventType = iota + 1

	// EventReconnect is emitted when the session was re-established after a connection loss.
	EventReconnect

	// EventDisconnect is emitted when the session was lost.
	EventDisconnect
)

var eventTypeToString = map[EventType]string{
	EventConnect:    "connect",
	EventReconnect:  "reconnect",
	EventDisconnect: "disconnect",
}

// String returns the EventType in string format.
func (t EventType) String() string {
	s, ok := eventTypeToString[t]
	if !ok {
		return "unknown"
	}
	return s
}

// DisconnectCause indicates why the session was lost.
type DisconnectCause int

// Disconnect causes.
const (
	// CauseNetwork indicates a read or write failure on the network.
	CauseNetwork DisconnectCause = iota + 1

	// CauseHeartbeat indicates that the broker did not answer the heartbeats.
	CauseHeartbeat
)

// String returns the DisconnectCause in string format.
func (c DisconnectCause) String() string {
	switch c {
	case CauseNetwork:
		return "network disconnect"
	case CauseHeartbeat:
		return "heartbeat disconnect"
	default:
		return ""
	}
}

// Event represents a connection event.
type Event struct {
	// Type is the type of the event.
	Type EventType

	// Cause is set only for EventDisconnect.
	Cause DisconnectCause
}

// MessageKind represents the kind of an inbound message.
type MessageKind int

// Inbound message kinds.
const (
	// MessageHeartbeatResponse is a response to a heartbeat (PINGRESP).
	MessageHeartbeatResponse MessageKind = iota + 1

	// MessageSubAck is an acknowledgement of a subscription (SUBACK).
	MessageSubAck

	// MessagePublish is an application message (PUBLISH).
	MessagePublish

	// MessagePubAck is an acknowledgement of a QoS 1 publication (PUBACK).
	MessagePubAck
)

var messageKindToString = map[MessageKind]string{
	MessageHeartbeatResponse: "heartbeat response",
	MessageSubAck:            "suback",
	MessagePublish:           "pub",
	MessagePubAck:            "puback",
}

// String returns the MessageKind in string format.
func (k MessageKind) String() string {
	s, ok := messageKindToString[k]
	if !ok {
		return "unknown"
	}
	return s
}

// Message represents an inbound message.
//
// The Payload is valid only during the dispatch of the message. Consumers which need it after
// the handler returns must copy it.
type Message struct {
	// Kind is the kind of the message.
	Kind MessageKind

	// Topic is the topic name of a MessagePublish.
	Topic string

	// Payload is the payload of a MessagePublish.
	Payload []byte

	// QoS is the QoS of a MessagePublish.
	QoS packet.QoS

	// PacketID is the packet identifier of a MessageSubAck or MessagePubAck.
	PacketID packet.ID

	// SubAckResult is zero when the subscription was granted, or a negative code otherwise.
	SubAckResult int32

	// MaxQoS is the QoS granted to the subscription.
	MaxQoS packet.QoS
}

// Handler handles the connection events and the inbound messages of a session.
//
// Both methods are called from the goroutine which calls Receive, in arrival order. They must
// not block.
type Handler interface {
	// OnEvent is called for each connection event.
	OnEvent(e Event)

	// OnMessage is called for each inbound message.
	OnMessage(m Message)
}

// SubAckRefused is the SubAckResult of a refused subscription.
const SubAckRefused int32 = -0x0501
