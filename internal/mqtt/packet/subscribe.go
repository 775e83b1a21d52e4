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

// Topic represents a topic filter requested in a SUBSCRIBE packet.
type Topic struct {
	// Name is the topic filter.
	Name string

	// QoS is the maximum QoS requested for the topic.
	QoS QoS
}

// Subscribe represents the SUBSCRIBE Packet from MQTT specifications.
type Subscribe struct {
	// Topics represents the list of topic filters to subscribe.
	Topics []Topic

	// PacketID represents the packet identifier.
	PacketID ID

	// Unexported fields
	timestamp    time.Time
	size         int
	remainLength int
}

func newPacketSubscribe(opts options) (Packet, error) {
	if opts.packetType != SUBSCRIBE {
		return nil, errors.New("packet type is not SUBSCRIBE")
	}
	if opts.controlFlags != 2 {
		return nil, errors.New("invalid control flags (SUBSCRIBE)")
	}

	return &Subscribe{
		size:         opts.fixedHeaderLength + opts.remainingLength,
		remainLength: opts.remainingLength,
		timestamp:    opts.timestamp,
	}, nil
}

// Write encodes the packet into bytes and writes it into the io.Writer.
func (pkt *Subscribe) Write(w *bufio.Writer) error {
	if len(pkt.Topics) == 0 {
		return errors.New("no topic filter (SUBSCRIBE)")
	}

	buf := &bytes.Buffer{}
	err := writeUint16(buf, uint16(pkt.PacketID))
	for _, t := range pkt.Topics {
		err = multierr.Combine(err,
			writeBinary(buf, []byte(t.Name)),
			buf.WriteByte(byte(t.QoS)),
		)
	}

	pktLen := buf.Len()
	err = multierr.Combine(err, writeFixedHeader(w, SUBSCRIBE, 2, pktLen))
	_, errBuf := buf.WriteTo(w)
	err = multierr.Combine(err, errBuf)
	if err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}

	pkt.timestamp = time.Now()
	pkt.size = fixedHeaderSize(pktLen) + pktLen
	return nil
}

// Read reads the packet bytes from bufio.Reader and decodes them into the packet.
func (pkt *Subscribe) Read(r *bufio.Reader) error {
	buf, err := readRemaining(r, pkt.remainLength)
	if err != nil {
		return err
	}

	id, err := readUint16(buf)
	if err != nil {
		return fmt.Errorf("failed to read packet ID: %w", err)
	}
	pkt.PacketID = ID(id)

	for buf.Len() > 0 {
		var t Topic
		if t.Name, err = readString(buf); err != nil {
			return fmt.Errorf("failed to read topic filter: %w", err)
		}

		qos, err := buf.ReadByte()
		if err != nil {
			return newErrMalformedPacket("missing QoS")
		}
		t.QoS = QoS(qos)
		pkt.Topics = append(pkt.Topics, t)
	}

	if len(pkt.Topics) == 0 {
		return newErrMalformedPacket("no topic filter")
	}
	return nil
}

// Type returns the packet type.
func (pkt *Subscribe) Type() Type {
	return SUBSCRIBE
}

// Size returns the packet size in bytes.
func (pkt *Subscribe) Size() int {
	return pkt.size
}

// Timestamp returns the timestamp of the moment which the packet has been sent or received.
func (pkt *Subscribe) Timestamp() time.Time {
	return pkt.timestamp
}
