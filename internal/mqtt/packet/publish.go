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

package packet

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

const (
	publishFlagRetain byte = 0x01
	publishFlagQoS    byte = 0x06
	publishFlagDup    byte = 0x08
)

// Publish represents the PUBLISH Packet from MQTT specifications.
type Publish struct {
	// TopicName identifies the information channel to which Payload data is published.
	TopicName string

	// Payload represents the message payload.
	Payload []byte

	// PacketID represents the packet identifier. Only present when QoS is greater than 0.
	PacketID ID

	// QoS indicates the level of assurance for delivery of the message.
	QoS QoS

	// Dup indicates that this is not the first attempt to send the packet.
	Dup bool

	// Retain indicates whether the broker must retain the message or not.
	Retain bool

	// Unexported fields
	timestamp    time.Time
	size         int
	remainLength int
}

func newPacketPublish(opts options) (Packet, error) {
	if opts.packetType != PUBLISH {
		return nil, errors.New("packet type is not PUBLISH")
	}

	qos := QoS(opts.controlFlags & publishFlagQoS >> 1)
	if qos > QoS1 {
		return nil, errors.New("invalid QoS (PUBLISH)")
	}

	dup := opts.controlFlags&publishFlagDup != 0
	if qos == QoS0 && dup {
		return nil, errors.New("invalid DUP (PUBLISH)")
	}

	return &Publish{
		QoS:          qos,
		Dup:          dup,
		Retain:       opts.controlFlags&publishFlagRetain != 0,
		size:         opts.fixedHeaderLength + opts.remainingLength,
		remainLength: opts.remainingLength,
		timestamp:    opts.timestamp,
	}, nil
}

// NewPublish creates a PUBLISH Packet.
func NewPublish(id ID, topic string, qos QoS, payload []byte) Publish {
	return Publish{
		PacketID:  id,
		TopicName: topic,
		QoS:       qos,
		Payload:   payload,
	}
}

// Write encodes the packet into bytes and writes it into the io.Writer.
func (pkt *Publish) Write(w *bufio.Writer) error {
	// +2 for topic name length
	pktLen := len(pkt.TopicName) + len(pkt.Payload) + 2
	if pkt.QoS > QoS0 {
		pktLen += 2 // +2 for packet ID
	}

	var flags byte
	if pkt.Dup {
		flags |= publishFlagDup
	}
	if pkt.Retain {
		flags |= publishFlagRetain
	}
	flags |= byte(pkt.QoS) << 1 & publishFlagQoS

	err := multierr.Combine(
		writeFixedHeader(w, PUBLISH, flags, pktLen),
		writeBinary(w, []byte(pkt.TopicName)),
	)
	if pkt.QoS > QoS0 {
		err = multierr.Combine(err, writeUint16(w, uint16(pkt.PacketID)))
	}

	_, errPayload := w.Write(pkt.Payload)
	err = multierr.Combine(err, errPayload)
	if err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}

	pkt.timestamp = time.Now()
	pkt.size = fixedHeaderSize(pktLen) + pktLen
	return nil
}

// Read reads the packet bytes from bufio.Reader and decodes them into the packet.
func (pkt *Publish) Read(r *bufio.Reader) error {
	buf, err := readRemaining(r, pkt.remainLength)
	if err != nil {
		return err
	}

	topic, err := readString(buf)
	if err != nil {
		return fmt.Errorf("failed to read topic: %w", err)
	}
	if !ValidTopicName(topic) {
		return newErrMalformedPacket("invalid topic name")
	}
	pkt.TopicName = topic

	if pkt.QoS > QoS0 {
		var id uint16
		if id, err = readUint16(buf); err != nil {
			return fmt.Errorf("failed to read packet ID: %w", err)
		}
		pkt.PacketID = ID(id)
	}

	pkt.Payload = buf.Next(buf.Len())
	return nil
}

// Type returns the packet type.
func (pkt *Publish) Type() Type {
	return PUBLISH
}

// Size returns the packet size in bytes.
func (pkt *Publish) Size() int {
	return pkt.size
}

// Timestamp returns the timestamp of the moment which the packet has been sent or received.
func (pkt *Publish) Timestamp() time.Time {
	return pkt.timestamp
}

// Clone clones the PUBLISH Packet, including a copy of the payload.
func (pkt *Publish) Clone() *Publish {
	return &Publish{
		PacketID:  pkt.PacketID,
		TopicName: pkt.TopicName,
		QoS:       pkt.QoS,
		Dup:       pkt.Dup,
		Retain:    pkt.Retain,
		Payload:   bytes.Clone(pkt.Payload),
	}
}
