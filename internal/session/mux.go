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

package session

import (
	"strings"
	"sync"

	"github.com/iotali/linkmq/internal/mqtt"
)

// MessageHandler handles inbound messages.
type MessageHandler interface {
	// HandleMessage handles the message. The payload is valid only until the method returns.
	HandleMessage(m mqtt.Message)
}

// MessageHandlerFunc is an adapter to allow the use of ordinary functions as MessageHandler.
type MessageHandlerFunc func(m mqtt.Message)

// HandleMessage calls fn(m).
func (fn MessageHandlerFunc) HandleMessage(m mqtt.Message) {
	fn(m)
}

type route struct {
	filter  string
	handler MessageHandler
}

// Mux dispatches the published messages to the handlers of the matching topic filters. Every
// other message, and the published messages without a matching filter, go to the default
// handler.
type Mux struct {
	mu     sync.RWMutex
	routes []route
	def    MessageHandler
}

// Handle registers the handler for the topic filter. Filters are matched in registration order
// and only the first matching handler is called.
func (mx *Mux) Handle(filter string, h MessageHandler) {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	for i := range mx.routes {
		if mx.routes[i].filter == filter {
			mx.routes[i].handler = h
			return
		}
	}
	mx.routes = append(mx.routes, route{filter: filter, handler: h})
}

// HandleDefault sets the default handler.
func (mx *Mux) HandleDefault(h MessageHandler) {
	mx.mu.Lock()
	defer mx.mu.Unlock()
	mx.def = h
}

// HandleMessage dispatches the message.
func (mx *Mux) HandleMessage(m mqtt.Message) {
	mx.mu.RLock()
	h := mx.def
	if m.Kind == mqtt.MessagePublish {
		for _, r := range mx.routes {
			if MatchTopic(r.filter, m.Topic) {
				h = r.handler
				break
			}
		}
	}
	mx.mu.RUnlock()

	if h != nil {
		h.HandleMessage(m)
	}
}

// MatchTopic returns whether the topic name matches the topic filter, following the MQTT
// wildcard rules for '+' and '#'.
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}

	return len(fl) == len(tl)
}
