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

// Package rrpc answers the RRPC requests sent by the platform: a request arrives on
// /sys/{pk}/{dn}/rrpc/request/{id} and its response is published on
// /sys/{pk}/{dn}/rrpc/response/{id}.
package rrpc

import (
	"io"
	"strings"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/metrics"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/mqtt/packet"
	"github.com/iotali/linkmq/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultResponse is the payload published by the DefaultResponder.
const DefaultResponse = `{"id":"1","version":"1.0","params":{"LightSwitch":0}}`

// Request represents an RRPC request.
type Request struct {
	// ID is the request identifier taken from the request topic.
	ID string

	// Topic is the request topic.
	Topic string

	// Payload is the request payload, valid only while the Responder runs.
	Payload []byte
}

// Responder builds the response payload of an RRPC request.
type Responder interface {
	Respond(req Request) ([]byte, error)
}

// ResponderFunc is an adapter to allow the use of ordinary functions as Responder.
type ResponderFunc func(req Request) ([]byte, error)

// Respond calls fn(req).
func (fn ResponderFunc) Respond(req Request) ([]byte, error) {
	return fn(req)
}

// DefaultResponder answers every request with DefaultResponse.
var DefaultResponder = ResponderFunc(func(Request) ([]byte, error) {
	return []byte(DefaultResponse), nil
})

// Subscriber subscribes to a topic filter and routes the matching messages to the handler.
type Subscriber interface {
	Subscribe(filter string, qos packet.QoS, h session.MessageHandler) error
}

// Results of an RRPC request, used as metric label.
const (
	resultAnswered  = "answered"
	resultMalformed = "malformed"
	resultFailed    = "failed"
)

// OptionFn is a function responsible to inject an option inside the Router.
type OptionFn func(r *Router)

// WithLogger is an option function to inject the logger.Logger inside the Router.
func WithLogger(l *logger.Logger) OptionFn {
	return func(r *Router) {
		r.log = l
	}
}

// WithResponder is an option function to replace the DefaultResponder.
func WithResponder(rs Responder) OptionFn {
	return func(r *Router) {
		r.responder = rs
	}
}

// WithMetrics is an option function to register the Router metrics into the Registerer.
func WithMetrics(reg prometheus.Registerer) OptionFn {
	return func(r *Router) {
		r.registerer = reg
	}
}

// Router classifies the inbound messages and answers the RRPC requests. It implements the
// session.MessageHandler and logs every message which is not an RRPC request.
type Router struct {
	log            *logger.Logger
	pub            session.Publisher
	responder      Responder
	registerer     prometheus.Registerer
	requests       *prometheus.CounterVec
	requestPrefix  string
	responsePrefix string
	filter         string
}

// New creates a Router for the device identified by the product key and device name. The
// responses are published through pub.
func New(pub session.Publisher, productKey, deviceName string, opts ...OptionFn) *Router {
	base := "/sys/" + productKey + "/" + deviceName + "/rrpc/"
	r := &Router{
		pub:            pub,
		responder:      DefaultResponder,
		requestPrefix:  base + "request/",
		responsePrefix: base + "response/",
		filter:         base + "request/+",
	}

	for _, fn := range opts {
		fn(r)
	}

	if r.log == nil {
		r.log = logger.New(io.Discard, nil, logger.JSON)
	}
	r.log = r.log.WithPrefix("rrpc")

	if r.registerer != nil {
		c, err := metrics.Register(r.registerer,
			metrics.NewCounterVec("rrpc", "requests_total", "Number of RRPC requests", "result"))
		if err != nil {
			r.log.Error().Msg("Failed to register RRPC metrics: " + err.Error())
		} else {
			r.requests = c
		}
	}
	return r
}

// Filter returns the topic filter of the RRPC requests.
func (r *Router) Filter() string {
	return r.filter
}

// Subscribe subscribes to the RRPC requests with QoS 1 and routes them to the Router.
func (r *Router) Subscribe(s Subscriber) error {
	return s.Subscribe(r.filter, packet.QoS1, r)
}

// IsRequest returns whether the topic is an RRPC request topic: it must start with the request
// prefix and be longer than it.
func (r *Router) IsRequest(topic string) bool {
	return len(topic) > len(r.requestPrefix) && strings.HasPrefix(topic, r.requestPrefix)
}

// RequestID returns the request identifier of an RRPC request topic: the suffix after the
// request prefix, without one leading '/'. The boolean is false when topic is not a request.
func (r *Router) RequestID(topic string) (string, bool) {
	if !r.IsRequest(topic) {
		return "", false
	}

	id := topic[len(r.requestPrefix):]
	return strings.TrimPrefix(id, "/"), true
}

// ResponseTopic returns the topic where the response of the request is published.
func (r *Router) ResponseTopic(id string) string {
	return r.responsePrefix + id
}

// HandleMessage handles the inbound message.
func (r *Router) HandleMessage(m mqtt.Message) {
	switch m.Kind {
	case mqtt.MessageHeartbeatResponse:
		r.log.Trace().Msg("Heartbeat response")

	case mqtt.MessageSubAck:
		r.log.Info().
			Str("Result", mqtt.FormatCode(m.SubAckResult)).
			Uint16("PacketId", uint16(m.PacketID)).
			Uint8("MaxQoS", uint8(m.MaxQoS)).
			Msg("Subscription acknowledged")

	case mqtt.MessagePubAck:
		r.log.Debug().Uint16("PacketId", uint16(m.PacketID)).Msg("Publication acknowledged")

	case mqtt.MessagePublish:
		r.handlePublish(m)

	default:
		r.log.Debug().Str("Kind", m.Kind.String()).Msg("Message ignored")
	}
}

func (r *Router) handlePublish(m mqtt.Message) {
	r.log.Debug().
		Str("Topic", m.Topic).
		Uint8("QoS", uint8(m.QoS)).
		Bytes("Payload", m.Payload).
		Msg("Message received")

	id, ok := r.RequestID(m.Topic)
	if !ok {
		return
	}
	if id == "" {
		r.log.Warn().Str("Topic", m.Topic).Msg("Malformed RRPC request: empty request ID")
		r.count(resultMalformed)
		return
	}

	payload, err := r.responder.Respond(Request{ID: id, Topic: m.Topic, Payload: m.Payload})
	if err != nil {
		r.log.Warn().
			Str("RequestId", id).
			Msg("Failed to build RRPC response: " + err.Error())
		r.count(resultFailed)
		return
	}

	topic := r.ResponseTopic(id)
	if err = r.pub.Publish(topic, payload, packet.QoS0); err != nil {
		r.log.Warn().
			Str("RequestId", id).
			Str("Topic", topic).
			Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).
			Msg("Failed to send RRPC response: " + err.Error())
		r.count(resultFailed)
		return
	}

	r.log.Info().
		Str("RequestId", id).
		Str("Topic", topic).
		Msg("RRPC response sent")
	r.count(resultAnswered)
}

func (r *Router) count(result string) {
	if r.requests != nil {
		r.requests.WithLabelValues(result).Inc()
	}
}
