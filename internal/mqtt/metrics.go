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
	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/metrics"
	"github.com/iotali/linkmq/internal/mqtt/packet"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

type packetMetrics struct {
	receivedTotal *prometheus.CounterVec
	receivedBytes *prometheus.CounterVec
	sentTotal     *prometheus.CounterVec
	sentBytes     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, log *logger.Logger) *packetMetrics {
	if reg == nil {
		return nil
	}

	mt := &packetMetrics{
		receivedTotal: newPacketCounter("packets_received_total", "Number of packets received"),
		receivedBytes: newPacketCounter("packets_received_bytes", "Number of bytes received"),
		sentTotal:     newPacketCounter("packets_sent_total", "Number of packets sent"),
		sentBytes:     newPacketCounter("packets_sent_bytes", "Number of bytes sent"),
	}

	var err, e error
	mt.receivedTotal, e = metrics.Register(reg, mt.receivedTotal)
	err = multierr.Combine(err, e)
	mt.receivedBytes, e = metrics.Register(reg, mt.receivedBytes)
	err = multierr.Combine(err, e)
	mt.sentTotal, e = metrics.Register(reg, mt.sentTotal)
	err = multierr.Combine(err, e)
	mt.sentBytes, e = metrics.Register(reg, mt.sentBytes)
	err = multierr.Combine(err, e)
	if err != nil {
		log.Error().Msg("MQTT failed to register metrics: " + err.Error())
	}

	return mt
}

func newPacketCounter(name, help string) *prometheus.CounterVec {
	return metrics.NewCounterVec("mqtt", name, help, "type")
}

func (m *packetMetrics) recordPacketReceived(p packet.Packet) {
	if m == nil {
		return
	}

	lbs := prometheus.Labels{"type": p.Type().String()}
	m.receivedTotal.With(lbs).Inc()
	m.receivedBytes.With(lbs).Add(float64(p.Size()))
}

func (m *packetMetrics) recordPacketSent(p packet.Packet) {
	if m == nil {
		return
	}

	lbs := prometheus.Labels{"type": p.Type().String()}
	m.sentTotal.With(lbs).Inc()
	m.sentBytes.With(lbs).Add(float64(p.Size()))
}
