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

// SubAckFailure is the return code of a rejected subscription.
const SubAckFailure byte = 0x80

// SubAck represents the SUBACK Packet from MQTT specifications.
type SubAck struct {
	// ReturnCodes holds the granted QoS, or SubAckFailure, for each requested topic.
	ReturnCodes []byte

	// PacketID represents the packet identifier of the acknowledged SUBSCRIBE.
	PacketID ID

	// Unexported fields
	timestamp    time.Time
	size         int
	remainLength int
}

func newPacketSubAck(opts options) (Packet, error) {
	if opts.packetType != SUBACK {
		return nil, errors.New("packet type is not SUBACK")
	}

	return &SubAck{
		size:         opts.fixedHeaderLength + opts.remainingLength,
		remainLength: opts.remainingLength,
		timestamp:    opts.timestamp,
	}, nil
}

// Write encodes the packet into bytes and writes it into the io.Writer.
func (pkt *SubAck) Write(w *bufio.Writer) error {
	buf := &bytes.Buffer{}
	err := writeUint16(buf, uint16(pkt.PacketID))
	_, errCodes := buf.Write(pkt.ReturnCodes)

	pktLen := buf.Len()
	err = multierr.Combine(err, errCodes, writeFixedHeader(w, SUBACK, 0, pktLen))
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
func (pkt *SubAck) Read(r *bufio.Reader) error {
	buf, err := readRemaining(r, pkt.remainLength)
	if err != nil {
		return err
	}

	id, err := readUint16(buf)
	if err != nil {
		return fmt.Errorf("failed to read packet ID: %w", err)
	}

	pkt.PacketID = ID(id)
	pkt.ReturnCodes = buf.Next(buf.Len())
	return nil
}

// Type returns the packet type.
func (pkt *SubAck) Type() Type {
	return SUBACK
}

// Size returns the packet size in bytes.
func (pkt *SubAck) Size() int {
	return pkt.size
}

// Timestamp returns the timestamp of the moment which the packet has been sent or received.
func (pkt *SubAck) Timestamp() time.Time {
	return pkt.timestamp
}
