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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrMalformedPacket indicates that the packet could not be correctly parsed.
var ErrMalformedPacket = errors.New("malformed packet")

func newErrMalformedPacket(msg string) error {
	return fmt.Errorf("%w: %s", ErrMalformedPacket, msg)
}

func readVarInteger(r io.ByteReader, val *int) (n int, err error) {
	multiplier := 1
	for {
		var b byte

		b, err = r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("failed to read variable integer: %w", err)
		}

		n++
		*val += int(b&127) * multiplier
		multiplier *= 128

		if b&128 == 0 {
			break
		}
		if multiplier > 128*128*128 {
			return 0, errors.New("invalid variable integer")
		}
	}

	return n, nil
}

func writeVarInteger(w io.ByteWriter, val int) error {
	for {
		data := byte(val % 128)

		val /= 128
		if val > 0 {
			data |= 128
		}

		if err := w.WriteByte(data); err != nil || val == 0 {
			return err
		}
	}
}

func readRemaining(r io.Reader, length int) (*bytes.Buffer, error) {
	msg := make([]byte, length)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("failed to read remaining bytes: %w", err)
	}
	return bytes.NewBuffer(msg), nil
}

func readUint16(buf *bytes.Buffer) (uint16, error) {
	if buf.Len() < 2 {
		return 0, newErrMalformedPacket("no enough bytes")
	}
	return binary.BigEndian.Uint16(buf.Next(2)), nil
}

func readString(buf *bytes.Buffer) (string, error) {
	str, err := readBinary(buf)
	if err != nil {
		return "", err
	}

	if !utf8.Valid(str) {
		return "", newErrMalformedPacket("invalid UTF-8 string")
	}

	return string(str), nil
}

func readBinary(buf *bytes.Buffer) ([]byte, error) {
	length, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	if int(length) > buf.Len() {
		return nil, newErrMalformedPacket("no enough bytes")
	}

	return buf.Next(int(length)), nil
}

func writeUint16(w io.Writer, val uint16) error {
	return binary.Write(w, binary.BigEndian, val)
}

func writeBinary(w io.Writer, val []byte) error {
	if err := writeUint16(w, uint16(len(val))); err != nil {
		return err
	}
	_, err := w.Write(val)
	return err
}

// ValidTopicName returns whether the topic name can be used in a PUBLISH packet.
func ValidTopicName(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "#+")
}

// ValidTopicFilter returns whether the topic filter can be used in a SUBSCRIBE packet.
func ValidTopicFilter(filter string) bool {
	if filter == "" {
		return false
	}

	words := strings.Split(filter, "/")
	for i, word := range words {
		if strings.Contains(word, "#") && (word != "#" || i != len(words)-1) {
			return false
		}
		if strings.Contains(word, "+") && word != "+" {
			return false
		}
	}

	return true
}
