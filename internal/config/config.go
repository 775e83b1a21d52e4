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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/spf13/viper"
)

// Config holds all the application configuration.
type Config struct {
	// Minimal severity level of the logs.
	LogLevel string `mapstructure:"log_level"`

	// Format of the logs: "pretty" or "json".
	LogFormat string `mapstructure:"log_format"`

	// Host name or IP address of the MQTT broker.
	MQTTHost string `mapstructure:"mqtt_host"`

	// TCP port of the MQTT broker.
	MQTTPort int `mapstructure:"mqtt_port"`

	// Product key of the device credential triple.
	ProductKey string `mapstructure:"product_key"`

	// Device name of the device credential triple.
	DeviceName string `mapstructure:"device_name"`

	// Device secret of the device credential triple.
	DeviceSecret string `mapstructure:"device_secret"`

	// Product secret, used only by the dynamic registration.
	ProductSecret string `mapstructure:"product_secret"`

	// Explicit MQTT client ID. When set together with username and password, the credential
	// triple is not used to sign the connection.
	ClientID string `mapstructure:"client_id"`

	// Explicit MQTT username.
	Username string `mapstructure:"username"`

	// Explicit MQTT password.
	Password string `mapstructure:"password"`

	// Security mode announced in the client ID: "3" for plain TCP and "2" for TLS.
	SecurityMode string `mapstructure:"security_mode"`

	// Path of the PEM file with the CA certificates trusted for TLS connections.
	CACertFile string `mapstructure:"ca_cert_file"`

	// Path of the PEM file with the client certificate for mutual TLS.
	ClientCertFile string `mapstructure:"client_cert_file"`

	// Path of the PEM file with the client private key for mutual TLS.
	ClientKeyFile string `mapstructure:"client_key_file"`

	// MQTT keep alive, in seconds. It is clamped into [30, 1200].
	KeepAliveSec int `mapstructure:"keepalive_sec"`

	// The MQTT transport implementation: "native" or "paho".
	Transport string `mapstructure:"transport"`

	// The amount of time, in milliseconds, a receive call waits for a packet.
	ReceiveTimeoutMs int `mapstructure:"receive_timeout_ms"`

	// Version of the firmware currently running on the device.
	FirmwareVersion string `mapstructure:"firmware_version"`

	// Module name of the firmware (empty for the default module).
	FirmwareModule string `mapstructure:"firmware_module"`

	// Indicate whether firmware tasks over plain HTTP are accepted or not.
	OTAAllowHTTP bool `mapstructure:"ota_allow_http"`

	// The maximum size, in bytes, of each downloaded chunk.
	OTABufferSize int `mapstructure:"ota_buffer_size"`

	// Directory where the downloaded firmware images are stored.
	OTAOutputDir string `mapstructure:"ota_output_dir"`

	// Path of the PEM file with the CA certificates trusted by the firmware downloads. When
	// empty, the ca_cert_file is used.
	OTACACertFile string `mapstructure:"ota_ca_cert_file"`

	// Port of the download server when the firmware URL has none.
	OTAPort int `mapstructure:"ota_port"`

	// Indicate whether the product uses the whitelist (pre-registered) mode in the dynamic
	// registration or not.
	RegisterWhitelist bool `mapstructure:"register_whitelist"`

	// The amount of time, in milliseconds, the dynamic registration waits for the result.
	RegisterTimeoutMs int `mapstructure:"register_timeout_ms"`

	// Path of the file where the registered credentials are stored.
	CredentialsFile string `mapstructure:"credentials_file"`

	// Indicate whether the agent exports metrics or not.
	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// TCP address (<IP>:<port>) where the Prometheus metrics are exported.
	MetricsAddress string `mapstructure:"metrics_address"`

	// The path where the metrics are exported.
	MetricsPath string `mapstructure:"metrics_path"`

	// Indicate whether the profiling metrics are exported or not.
	MetricsProfiling bool `mapstructure:"metrics_profiling"`

	// Indicate whether the local status API is enabled or not.
	HTTPEnabled bool `mapstructure:"http_enabled"`

	// TCP address (<IP>:<port>) of the local status API.
	HTTPAddress string `mapstructure:"http_address"`
}

// DefaultConfig holds the default configuration.
var DefaultConfig = Config{
	LogLevel:          "info",
	LogFormat:         "pretty",
	MQTTPort:          1883,
	SecurityMode:      "3",
	KeepAliveSec:      60,
	Transport:         "native",
	ReceiveTimeoutMs:  5000,
	FirmwareVersion:   "1.0.0",
	OTABufferSize:     2048,
	OTAOutputDir:      os.TempDir(),
	OTAPort:           443,
	RegisterWhitelist: true,
	RegisterTimeoutMs: 60000,
	CredentialsFile:   "linkmq-credentials.yaml",
	MetricsEnabled:    false,
	MetricsAddress:    ":8888",
	MetricsPath:       "/metrics",
	HTTPEnabled:       false,
	HTTPAddress:       "127.0.0.1:8080",
}

var keys = []string{
	"log_level",
	"log_format",
	"mqtt_host",
	"mqtt_port",
	"product_key",
	"device_name",
	"device_secret",
	"product_secret",
	"client_id",
	"username",
	"password",
	"security_mode",
	"ca_cert_file",
	"client_cert_file",
	"client_key_file",
	"keepalive_sec",
	"transport",
	"receive_timeout_ms",
	"firmware_version",
	"firmware_module",
	"ota_allow_http",
	"ota_buffer_size",
	"ota_output_dir",
	"ota_ca_cert_file",
	"ota_port",
	"register_whitelist",
	"register_timeout_ms",
	"credentials_file",
	"metrics_enabled",
	"metrics_address",
	"metrics_path",
	"metrics_profiling",
	"http_enabled",
	"http_address",
}

// ReadConfigFile reads the configuration file.
//
// When path is empty, the configuration file linkmq.conf (TOML) is searched at one of the
// following locations:
//   - the directory of the executable
//   - /etc/linkmq
//   - /etc
//
// Files with extension .txt or .properties are read as key=value lines.
func ReadConfigFile(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".properties":
			viper.SetConfigType("properties")
		case ".conf", ".toml", "":
			viper.SetConfigType("toml")
		}

		return viper.ReadInConfig()
	}

	viper.SetConfigName("linkmq.conf")
	viper.SetConfigType("toml")

	if exe, err := os.Executable(); err == nil {
		viper.AddConfigPath(filepath.Dir(exe))
	}

	viper.AddConfigPath("/etc/linkmq")
	viper.AddConfigPath("/etc")

	return viper.ReadInConfig()
}

// LoadConfig loads the configuration from the conf file, environment variables, or use the
// default values.
//
// Note: The ReadConfigFile must be called before in order to load the configuration from the
// conf file.
func LoadConfig() (Config, error) {
	viper.SetEnvPrefix("LINKMQ")
	viper.AutomaticEnv()

	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	c := DefaultConfig
	if err := viper.Unmarshal(&c); err != nil {
		return c, err
	}

	c.KeepAliveSec = mqtt.ClampKeepAlive(c.KeepAliveSec)
	return c, nil
}

// Watch watches the configuration file and calls fn with the reloaded configuration every time
// the file is written.
func Watch(fn func(Config, error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&fsnotify.Write == 0 {
			return
		}

		fn(LoadConfig())
	})
	viper.WatchConfig()
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.MQTTHost == "" {
		return errors.New("mqtt_host is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("mqtt_port is invalid: %d", c.MQTTPort)
	}
	if c.ProductKey == "" {
		return errors.New("product_key is required")
	}
	if c.DeviceName == "" {
		return errors.New("device_name is required")
	}
	if !c.HasExplicitCredential() && c.DeviceSecret == "" {
		return errors.New("device_secret is required")
	}
	if c.Transport != "native" && c.Transport != "paho" {
		return fmt.Errorf("transport is invalid: %s", c.Transport)
	}
	if c.OTABufferSize <= 0 {
		return errors.New("ota_buffer_size must be greater than zero")
	}
	if c.OTAPort <= 0 || c.OTAPort > 65535 {
		return fmt.Errorf("ota_port is invalid: %d", c.OTAPort)
	}
	return nil
}

// HasExplicitCredential returns whether the client ID, username and password were all provided.
func (c Config) HasExplicitCredential() bool {
	return c.ClientID != "" && c.Username != "" && c.Password != ""
}

// OTACACert returns the CA file trusted by the firmware downloads.
func (c Config) OTACACert() string {
	if c.OTACACertFile != "" {
		return c.OTACACertFile
	}
	return c.CACertFile
}

// TLSEnabled returns whether the MQTT connection must use TLS.
func (c Config) TLSEnabled() bool {
	return c.SecurityMode == "2" || c.CACertFile != ""
}
