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
	"crypto/tls"
	"fmt"
	"time"

	"github.com/iotali/linkmq/internal/config"
	"github.com/iotali/linkmq/internal/mqtt"
)

// Options holds the options applied to the transport handle by Configure.
type Options struct {
	// Host name or IP address of the broker.
	Host string

	// TCP port of the broker. Zero keeps the transport default.
	Port int

	// Device credential triple.
	ProductKey   string
	DeviceName   string
	DeviceSecret string

	// Explicit identity, used instead of the signed one when all three are set.
	ClientID string
	Username string
	Password string

	// Security mode announced in the client ID.
	SecurityMode string

	// TLS configuration. A nil value means plain TCP.
	TLSConfig *tls.Config

	// Keep alive in seconds. Zero keeps the transport default.
	KeepAliveSec int

	// Maximum amount of time a Receive call waits for a packet. Zero keeps the transport
	// default.
	ReceiveTimeout time.Duration
}

// NewOptions creates the Options from the application configuration.
func NewOptions(conf config.Config) (Options, error) {
	opts := Options{
		Host:           conf.MQTTHost,
		Port:           conf.MQTTPort,
		ProductKey:     conf.ProductKey,
		DeviceName:     conf.DeviceName,
		DeviceSecret:   conf.DeviceSecret,
		ClientID:       conf.ClientID,
		Username:       conf.Username,
		Password:       conf.Password,
		SecurityMode:   conf.SecurityMode,
		KeepAliveSec:   conf.KeepAliveSec,
		ReceiveTimeout: time.Duration(conf.ReceiveTimeoutMs) * time.Millisecond,
	}

	if conf.TLSEnabled() {
		tlsConf, err := mqtt.NewTLSConfig(conf.CACertFile, conf.ClientCertFile,
			conf.ClientKeyFile, conf.MQTTHost)
		if err != nil {
			return opts, fmt.Errorf("failed to create TLS configuration: %w", err)
		}
		opts.TLSConfig = tlsConf
	}

	return opts, nil
}
