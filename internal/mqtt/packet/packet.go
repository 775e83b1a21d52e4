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

// Package packet encodes and decodes the MQTT 3.1.1 control packets used by a
// device session.
package packet

import (
	"bufio"
	"errors"
	"time"
)

// Type represents the packet type (e.g. CONNECT, CONNACK, etc.).
type Type byte

const (
	packetTypeBit        byte = 4
	controlByteFlagsMask byte = 0x0F
)

// Control packet type based on the MQTT specifications.
const (
	RESERVED Type = iota
	CONNECT
	CONNACK
	PUBLISH
	PUBACK
	PUBREC
	PUBREL
	PUBCOMP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PINGREQ
	PINGRESP
	DISCONNECT
)

// ProtocolLevel is the protocol level of MQTT 3.1.1.
const ProtocolLevel byte = 4

// QoS indicates the level of assurance for delivery of a message.
type QoS byte

// Supported QoS levels.
const (
	QoS0 QoS = iota
	QoS1
)

// ID represents the packet identifier.
type ID uint16

// Packet represents the MQTT packet.
type Packet interface {
	// Write encodes the packet into bytes and writes it into the bufio.Writer.
	Write(w *bufio.Writer) error

	// Read reads the packet bytes from bufio.Reader and decodes them into the packet.
	Read(r *bufio.Reader) error

	// Type returns the packet type.
	Type() Type

	// Size returns the packet size in bytes.
	Size() int

	// Timestamp returns the timestamp which the packet was received or sent.
	Timestamp() time.Time
}

type options struct {
	timestamp         time.Time
	fixedHeaderLength int
	remainingLength   int
	packetType        Type
	controlFlags      byte
}

var packetTypeToFactory = map[Type]func(options) (Packet, error){
	CONNECT:    newPacketConnect,
	CONNACK:    newPacketConnAck,
	PUBLISH:    newPacketPublish,
	PUBACK:     newPacketPubAck,
	SUBSCRIBE:  newPacketSubscribe,
	SUBACK:     newPacketSubAck,
	PINGREQ:    newPacketPingReq,
	PINGRESP:   newPacketPingResp,
	DISCONNECT: newPacketDisconnect,
}

func newPacket(opts options) (Packet, error) {
	fn, ok := packetTypeToFactory[opts.packetType]
	if !ok {
		return nil, errors.New("invalid packet type: " + opts.packetType.String())
	}

	return fn(opts)
}

var packetTypeToString = map[Type]string{
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
}

// String returns the Type in string format.
func (t Type) String() string {
	n, ok := packetTypeToString[t]
	if !ok {
		return "UNKNOWN"
	}

	return n
}

// writeFixedHeader writes the control byte and the remaining length.
func writeFixedHeader(w *bufio.Writer, t Type, flags byte, remainLen int) error {
	if err := w.WriteByte(byte(t)<<packetTypeBit | flags&controlByteFlagsMask); err != nil {
		return err
	}
	return writeVarInteger(w, remainLen)
}

// fixedHeaderSize returns the size of fixed header for the remaining length.
func fixedHeaderSize(remainLen int) int {
	n := 1
	for {
		n++
		remainLen /= 128
		if remainLen == 0 {
			return n
		}
	}
}
