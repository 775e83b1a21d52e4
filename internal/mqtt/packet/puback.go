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
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// PubAck represents the PUBACK Packet from MQTT specifications.
type PubAck struct {
	// PacketID represents the packet identifier of the acknowledged PUBLISH.
	PacketID ID

	// Unexported fields
	timestamp    time.Time
	size         int
	remainLength int
}

func newPacketPubAck(opts options) (Packet, error) {
	if opts.packetType != PUBACK {
		return nil, errors.New("packet type is not PUBACK")
	}
	if opts.controlFlags != 0 {
		return nil, errors.New("invalid control flags (PUBACK)")
	}
	if opts.remainingLength != 2 {
		return nil, errors.New("invalid remaining length (PUBACK)")
	}

	return &PubAck{
		size:         opts.fixedHeaderLength + opts.remainingLength,
		remainLength: opts.remainingLength,
		timestamp:    opts.timestamp,
	}, nil
}

// NewPubAck creates a PUBACK Packet.
func NewPubAck(id ID) PubAck {
	return PubAck{PacketID: id}
}

// Write encodes the packet into bytes and writes it into the io.Writer.
func (pkt *PubAck) Write(w *bufio.Writer) error {
	err := multierr.Combine(
		writeFixedHeader(w, PUBACK, 0, 2),
		writeUint16(w, uint16(pkt.PacketID)),
	)
	if err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}

	pkt.timestamp = time.Now()
	pkt.size = 4
	return nil
}

// Read reads the packet bytes from bufio.Reader and decodes them into the packet.
func (pkt *PubAck) Read(r *bufio.Reader) error {
	buf, err := readRemaining(r, pkt.remainLength)
	if err != nil {
		return err
	}

	id, err := readUint16(buf)
	if err != nil {
		return fmt.Errorf("failed to read packet ID: %w", err)
	}

	pkt.PacketID = ID(id)
	return nil
}

// Type returns the packet type.
func (pkt *PubAck) Type() Type {
	return PUBACK
}

// Size returns the packet size in bytes.
func (pkt *PubAck) Size() int {
	return pkt.size
}

// Timestamp returns the timestamp of the moment which the packet has been sent or received.
func (pkt *PubAck) Timestamp() time.Time {
	return pkt.timestamp
}
