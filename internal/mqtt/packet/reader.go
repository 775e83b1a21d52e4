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
	"io"
	"time"
)

// ErrPacketTooLarge indicates that the remaining length exceeds the maximum packet size.
var ErrPacketTooLarge = errors.New("max packet size exceeded")

// Reader is responsible for read packets.
//
// The Reader keeps a buffered reader bound to the underlying connection, so it must not be
// shared between connections.
type Reader struct {
	rd            *bufio.Reader
	maxPacketSize int
}

// ReaderOptions contains the options for the Reader.
type ReaderOptions struct {
	// BufferSize represents the buffer size.
	BufferSize int

	// MaxPacketSize represents the maximum packet size, in bytes, allowed.
	MaxPacketSize int
}

// NewReader creates a buffered Reader for the io.Reader using ReaderOptions.
func NewReader(r io.Reader, o ReaderOptions) *Reader {
	return &Reader{
		rd:            bufio.NewReaderSize(r, o.BufferSize),
		maxPacketSize: o.MaxPacketSize,
	}
}

// Wait blocks until at least one byte of the next packet is available, without consuming it.
// A timeout returned by Wait leaves the stream untouched.
func (r *Reader) Wait() error {
	_, err := r.rd.Peek(1)
	return err
}

// ReadPacket reads and unpack a packet.
// It returns an error if it fails to read or unpack the packet.
func (r *Reader) ReadPacket() (Packet, error) {
	ctrlByte, err := r.rd.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read control byte: %w", err)
	}
	now := time.Now()

	var remainLen int
	n, err := readVarInteger(r.rd, &remainLen)
	if err != nil {
		return nil, fmt.Errorf("failed to read remain length: %w", err)
	}

	if r.maxPacketSize > 0 && remainLen > r.maxPacketSize {
		return nil, ErrPacketTooLarge
	}

	opts := options{
		packetType:        Type(ctrlByte >> packetTypeBit),
		controlFlags:      ctrlByte & controlByteFlagsMask,
		fixedHeaderLength: 1 + n,
		remainingLength:   remainLen,
		timestamp:         now,
	}

	pkt, err := newPacket(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read packet: %w", err)
	}

	err = pkt.Read(r.rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read packet %v: %w", pkt.Type().String(), err)
	}

	return pkt, nil
}
