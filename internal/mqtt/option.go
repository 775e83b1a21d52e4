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
	"time"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// OptionFn is a function responsible to inject an option inside the Client.
type OptionFn func(*Client)

// WithLogger is an option function to inject the logger.Logger inside the Client.
func WithLogger(l *logger.Logger) OptionFn {
	return func(c *Client) {
		c.log = l
	}
}

// WithMetrics is an option function to register the Client metrics into the Registerer.
func WithMetrics(reg prometheus.Registerer) OptionFn {
	return func(c *Client) {
		c.registerer = reg
	}
}

// WithDialer is an option function to replace the function used to open network connections.
func WithDialer(d Dialer) OptionFn {
	return func(c *Client) {
		c.dial = d
	}
}

// WithClock is an option function to replace the clock used by the heartbeat and the
// retransmission of QoS 1 messages.
func WithClock(now func() time.Time) OptionFn {
	return func(c *Client) {
		c.now = now
	}
}

// WithConnectTimeout is an option function to set the maximum amount of time to establish the
// MQTT session.
func WithConnectTimeout(d time.Duration) OptionFn {
	return func(c *Client) {
		c.connectTimeout = d
	}
}
