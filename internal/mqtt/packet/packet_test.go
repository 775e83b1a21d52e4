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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketNewPacket(t *testing.T) {
	testCases := []struct {
		pktType      Type
		flags        byte
		remainingLen int
	}{
		{CONNECT, 0, 0},
		{CONNACK, 0, 2},
		{PUBLISH, 0, 0},
		{PUBACK, 0, 2},
		{SUBSCRIBE, 2, 0},
		{SUBACK, 0, 3},
		{PINGREQ, 0, 0},
		{PINGRESP, 0, 0},
		{DISCONNECT, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.pktType.String(), func(t *testing.T) {
			opts := options{
				packetType:      tc.pktType,
				controlFlags:    tc.flags,
				remainingLength: tc.remainingLen,
			}
			pkt, err := newPacket(opts)
			require.Nil(t, err)
			require.NotNil(t, pkt)

			assert.Equal(t, tc.pktType, pkt.Type())
		})
	}
}

func TestPacketNewPacketInvalid(t *testing.T) {
	testCases := []struct {
		name string
		opts options
	}{
		{"RESERVED", options{packetType: RESERVED}},
		{"UNSUBACK", options{packetType: UNSUBACK}},
		{"PUBLISH QoS 2", options{packetType: PUBLISH, controlFlags: 4}},
		{"PUBLISH DUP QoS 0", options{packetType: PUBLISH, controlFlags: 8}},
		{"PINGRESP length", options{packetType: PINGRESP, remainingLength: 1}},
		{"SUBSCRIBE flags", options{packetType: SUBSCRIBE}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pkt, err := newPacket(tc.opts)
			assert.NotNil(t, err)
			assert.Nil(t, pkt)
		})
	}
}

func TestPacketTypeToString(t *testing.T) {
	assert.Equal(t, "CONNECT", CONNECT.String())
	assert.Equal(t, "PINGRESP", PINGRESP.String())
	assert.Equal(t, "UNKNOWN", Type(99).String())
}

func TestPacketVarInteger(t *testing.T) {
	testCases := []struct {
		val int
		enc []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
	}

	for _, tc := range testCases {
		buf := &bytes.Buffer{}
		err := writeVarInteger(buf, tc.val)
		require.Nil(t, err)
		assert.Equal(t, tc.enc, buf.Bytes())
		assert.Equal(t, len(tc.enc)+1, fixedHeaderSize(tc.val))

		var val int
		n, err := readVarInteger(bufio.NewReader(bytes.NewReader(tc.enc)), &val)
		require.Nil(t, err)
		assert.Equal(t, len(tc.enc), n)
		assert.Equal(t, tc.val, val)
	}
}

func TestPacketVarIntegerInvalid(t *testing.T) {
	var val int
	_, err := readVarInteger(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01}), &val)
	assert.NotNil(t, err)
}

func TestPacketValidTopic(t *testing.T) {
	assert.True(t, ValidTopicName("/sys/pk/dn/rrpc/request/1"))
	assert.False(t, ValidTopicName(""))
	assert.False(t, ValidTopicName("/sys/pk/dn/rrpc/request/+"))

	assert.True(t, ValidTopicFilter("/sys/pk/dn/rrpc/request/+"))
	assert.True(t, ValidTopicFilter("/ota/#"))
	assert.False(t, ValidTopicFilter("/ota/#/x"))
	assert.False(t, ValidTopicFilter("/ota/a+"))
	assert.False(t, ValidTopicFilter(""))
}
