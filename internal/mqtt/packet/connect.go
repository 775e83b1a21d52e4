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
	connectFlagCleanSession byte = 0x02
	connectFlagPassword     byte = 0x40
	connectFlagUsername     byte = 0x80
	connectFlagReserved     byte = 0x01
)

var protocolName = []byte("MQTT")

// Connect represents the CONNECT Packet from MQTT specifications.
type Connect struct {
	// ClientID identifies the client to the broker.
	ClientID string

	// Username is used by the broker for authentication.
	Username string

	// Password is used by the broker for authentication.
	Password string

	// KeepAlive is the time interval, in seconds, permitted to elapse between two control
	// packets sent by the client.
	KeepAlive uint16

	// CleanSession indicates whether the broker discards any previous session or not.
	CleanSession bool

	// Unexported fields
	timestamp    time.Time
	size         int
	remainLength int
}

func newPacketConnect(opts options) (Packet, error) {
	if opts.packetType != CONNECT {
		return nil, errors.New("packet type is not CONNECT")
	}
	if opts.controlFlags != 0 {
		return nil, errors.New("invalid control flags (CONNECT)")
	}

	return &Connect{
		size:         opts.fixedHeaderLength + opts.remainingLength,
		remainLength: opts.remainingLength,
		timestamp:    opts.timestamp,
	}, nil
}

// Write encodes the packet into bytes and writes it into the io.Writer.
func (pkt *Connect) Write(w *bufio.Writer) error {
	var flags byte
	if pkt.CleanSession {
		flags |= connectFlagCleanSession
	}
	if pkt.Username != "" {
		flags |= connectFlagUsername
	}
	if pkt.Password != "" {
		flags |= connectFlagPassword
	}

	buf := &bytes.Buffer{}
	err := multierr.Combine(
		writeBinary(buf, protocolName),
		buf.WriteByte(ProtocolLevel),
		buf.WriteByte(flags),
		writeUint16(buf, pkt.KeepAlive),
		writeBinary(buf, []byte(pkt.ClientID)),
	)
	if pkt.Username != "" {
		err = multierr.Combine(err, writeBinary(buf, []byte(pkt.Username)))
	}
	if pkt.Password != "" {
		err = multierr.Combine(err, writeBinary(buf, []byte(pkt.Password)))
	}

	pktLen := buf.Len()
	err = multierr.Combine(err, writeFixedHeader(w, CONNECT, 0, pktLen))
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
func (pkt *Connect) Read(r *bufio.Reader) error {
	buf, err := readRemaining(r, pkt.remainLength)
	if err != nil {
		return err
	}

	name, err := readBinary(buf)
	if err != nil {
		return fmt.Errorf("failed to read protocol name: %w", err)
	}
	if !bytes.Equal(name, protocolName) {
		return newErrMalformedPacket("invalid protocol name")
	}

	level, err := buf.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read protocol level: %w", err)
	}
	if level != ProtocolLevel {
		return newErrMalformedPacket("unsupported protocol level")
	}

	flags, err := buf.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read connect flags: %w", err)
	}
	if flags&connectFlagReserved != 0 {
		return newErrMalformedPacket("invalid connect flags")
	}
	pkt.CleanSession = flags&connectFlagCleanSession != 0

	if pkt.KeepAlive, err = readUint16(buf); err != nil {
		return fmt.Errorf("failed to read keep alive: %w", err)
	}
	if pkt.ClientID, err = readString(buf); err != nil {
		return fmt.Errorf("failed to read client ID: %w", err)
	}
	if flags&connectFlagUsername != 0 {
		if pkt.Username, err = readString(buf); err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
	}
	if flags&connectFlagPassword != 0 {
		if pkt.Password, err = readString(buf); err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	}

	return nil
}

// Type returns the packet type.
func (pkt *Connect) Type() Type {
	return CONNECT
}

// Size returns the packet size in bytes.
func (pkt *Connect) Size() int {
	return pkt.size
}

// Timestamp returns the timestamp of the moment which the packet has been sent or received.
func (pkt *Connect) Timestamp() time.Time {
	return pkt.timestamp
}
