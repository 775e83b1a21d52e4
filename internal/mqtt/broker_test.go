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

package mqtt

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/iotali/linkmq/internal/mqtt/packet"
	"github.com/stretchr/testify/require"
)

// fakeBroker is the broker side of a net.Pipe. It acknowledges the CONNECT packet
// automatically and records every packet sent by the client.
type fakeBroker struct {
	conn net.Conn
	recv chan packet.Packet
	send chan packet.Packet
	done chan struct{}
	once sync.Once
}

func newFakeBroker(conn net.Conn, code packet.ReturnCode) *fakeBroker {
	b := &fakeBroker{
		conn: conn,
		recv: make(chan packet.Packet, 32),
		send: make(chan packet.Packet, 32),
		done: make(chan struct{}),
	}

	go func() {
		rd := packet.NewReader(conn, packet.ReaderOptions{BufferSize: 1024, MaxPacketSize: 65536})
		for {
			pkt, err := rd.ReadPacket()
			if err != nil {
				close(b.recv)
				return
			}
			if pkt.Type() == packet.CONNECT {
				b.send <- &packet.ConnAck{ReturnCode: code}
			}
			b.recv <- pkt
		}
	}()

	go func() {
		wr := packet.NewWriter(1024)
		for {
			select {
			case p := <-b.send:
				if err := wr.WritePacket(conn, p); err != nil {
					return
				}
			case <-b.done:
				return
			}
		}
	}()

	return b
}

func (b *fakeBroker) close() {
	b.once.Do(func() {
		close(b.done)
		_ = b.conn.Close()
	})
}

func (b *fakeBroker) expect(t *testing.T, typ packet.Type) packet.Packet {
	t.Helper()

	for {
		select {
		case pkt, ok := <-b.recv:
			require.True(t, ok, "connection closed while waiting for %v", typ)
			if pkt.Type() == typ {
				return pkt
			}
		case <-time.After(time.Second):
			require.Failf(t, "timeout", "no %v received", typ)
			return nil
		}
	}
}

func (b *fakeBroker) expectNothing(t *testing.T) {
	t.Helper()

	select {
	case pkt := <-b.recv:
		require.Failf(t, "unexpected packet", "received %v", pkt.Type())
	case <-time.After(50 * time.Millisecond):
	}
}

type pipeDialer struct {
	code    packet.ReturnCode
	brokers chan *fakeBroker
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{brokers: make(chan *fakeBroker, 8)}
}

func (d *pipeDialer) dial(_ context.Context, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	d.brokers <- newFakeBroker(server, d.code)
	return client, nil
}

func (d *pipeDialer) next(t *testing.T) *fakeBroker {
	t.Helper()

	select {
	case b := <-d.brokers:
		t.Cleanup(b.close)
		return b
	case <-time.After(time.Second):
		require.Fail(t, "no connection dialed")
		return nil
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type handlerRecorder struct {
	mu       sync.Mutex
	events   []Event
	messages []Message
}

func (h *handlerRecorder) OnEvent(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *handlerRecorder) OnMessage(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m.Payload = append([]byte(nil), m.Payload...)
	h.messages = append(h.messages, m)
}

func (h *handlerRecorder) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func (h *handlerRecorder) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}
