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

// ReturnCode represents the return code of the CONNACK packet.
type ReturnCode byte

// Return codes of the CONNACK packet.
const (
	ReturnCodeAccepted ReturnCode = iota
	ReturnCodeUnacceptableProtocolVersion
	ReturnCodeIdentifierRejected
	ReturnCodeServerUnavailable
	ReturnCodeBadUsernameOrPassword
	ReturnCodeNotAuthorized
)

var returnCodeToString = map[ReturnCode]string{
	ReturnCodeAccepted:                    "connection accepted",
	ReturnCodeUnacceptableProtocolVersion: "unacceptable protocol version",
	ReturnCodeIdentifierRejected:          "identifier rejected",
	ReturnCodeServerUnavailable:           "server unavailable",
	ReturnCodeBadUsernameOrPassword:       "bad username or password",
	ReturnCodeNotAuthorized:               "not authorized",
}

// String returns the ReturnCode in string format.
func (c ReturnCode) String() string {
	s, ok := returnCodeToString[c]
	if !ok {
		return "unknown"
	}
	return s
}

// ConnAck represents the CONNACK Packet from MQTT specifications.
type ConnAck struct {
	// ReturnCode indicates whether the connection was accepted or not.
	ReturnCode ReturnCode

	// SessionPresent indicates if there is already a session associated with the client ID.
	SessionPresent bool

	// Unexported fields
	timestamp    time.Time
	size         int
	remainLength int
}

func newPacketConnAck(opts options) (Packet, error) {
	if opts.packetType != CONNACK {
		return nil, errors.New("packet type is not CONNACK")
	}
	if opts.remainingLength != 2 {
		return nil, errors.New("invalid remaining length (CONNACK)")
	}

	return &ConnAck{
		size:         opts.fixedHeaderLength + opts.remainingLength,
		remainLength: opts.remainingLength,
		timestamp:    opts.timestamp,
	}, nil
}

// Write encodes the packet into bytes and writes it into the io.Writer.
func (pkt *ConnAck) Write(w *bufio.Writer) error {
	var ackFlag byte
	if pkt.SessionPresent {
		ackFlag = 1
	}

	err := multierr.Combine(
		writeFixedHeader(w, CONNACK, 0, 2),
		w.WriteByte(ackFlag),
		w.WriteByte(byte(pkt.ReturnCode)),
	)
	if err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}

	pkt.timestamp = time.Now()
	pkt.size = 4
	return nil
}

// Read reads the packet bytes from bufio.Reader and decodes them into the packet.
func (pkt *ConnAck) Read(r *bufio.Reader) error {
	buf, err := readRemaining(r, pkt.remainLength)
	if err != nil {
		return err
	}

	ackFlag, _ := buf.ReadByte()
	if ackFlag > 1 {
		return newErrMalformedPacket("invalid acknowledge flags")
	}
	code, _ := buf.ReadByte()

	pkt.SessionPresent = ackFlag == 1
	pkt.ReturnCode = ReturnCode(code)
	return nil
}

// Type returns the packet type.
func (pkt *ConnAck) Type() Type {
	return CONNACK
}

// Size returns the packet size in bytes.
func (pkt *ConnAck) Size() int {
	return pkt.size
}

// Timestamp returns the timestamp of the moment which the packet has been sent or received.
func (pkt *ConnAck) Timestamp() time.Time {
	return pkt.timestamp
}
