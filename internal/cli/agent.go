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

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dimiro1/banner"
	"github.com/iotali/linkmq/internal/api"
	"github.com/iotali/linkmq/internal/config"
	"github.com/iotali/linkmq/internal/dynreg"
	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/metrics"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/paho"
	"github.com/iotali/linkmq/internal/server"
	"github.com/iotali/linkmq/internal/session"
	"github.com/iotali/linkmq/internal/snowflake"
	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
)

var bannerTemplate = `{{ .Title "LinkMQ" "" 0 }}
{{ .AnsiColor.BrightCyan }}  The MQTT Session Agent for IoT Devices
{{ .AnsiColor.Default }}
`

const (
	transportNative = "native"
	transportPaho   = "paho"

	eventBusCapacity = 16
)

func loadConfig(path string) (c config.Config, found bool, err error) {
	err = config.ReadConfigFile(path)
	if err == nil {
		found = true
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return c, found, err
	}

	c, err = config.LoadConfig()
	return c, found, err
}

func newLogger(out io.Writer, format, level string, gen logger.LogIDGenerator) (*logger.Logger,
	error) {
	f, err := logger.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	err = logger.SetSeverityLevel(level)
	if err != nil {
		return nil, err
	}

	return logger.New(out, gen, f), nil
}

func printBanner(out io.Writer) {
	if f, ok := out.(*os.File); ok {
		out = colorable.NewColorable(f)
	}
	banner.InitString(out, true, true, bannerTemplate)
}

// bootstrap loads the configuration, creates the base logger and prints the banner.
func bootstrap(out io.Writer, path string) (config.Config, *logger.Logger, error) {
	conf, found, err := loadConfig(path)
	if err != nil {
		return conf, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := newLogger(out, conf.LogFormat, conf.LogLevel, snowflake.ForDevice(conf.DeviceName))
	if err != nil {
		return conf, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	printBanner(out)
	bsLog := log.WithPrefix("bootstrap")
	if found {
		bsLog.Info().Msg("Config file loaded with success")
		config.Watch(func(c config.Config, err error) {
			if err != nil {
				bsLog.Warn().Msg("Failed to reload configuration: " + err.Error())
				return
			}
			if err = logger.SetSeverityLevel(c.LogLevel); err != nil {
				bsLog.Warn().
					Str("LogLevel", c.LogLevel).
					Msg("Failed to change log level: " + err.Error())
				return
			}
			bsLog.Info().Str("LogLevel", c.LogLevel).Msg("Log level changed")
		})
	} else {
		bsLog.Info().Msg("No config file found")
	}

	bsLog.Debug().
		Str("LogLevel", conf.LogLevel).
		Str("Host", conf.MQTTHost).
		Int("Port", conf.MQTTPort).
		Str("ProductKey", conf.ProductKey).
		Str("DeviceName", conf.DeviceName).
		Str("Transport", conf.Transport).
		Msg("Using configuration")
	return conf, log, nil
}

// applyCredential fills the device credential from the credential store when the configuration
// has none.
func applyCredential(conf config.Config, store *dynreg.FileStore, log *logger.Logger) (
	config.Config, error) {
	if conf.HasExplicitCredential() || conf.DeviceSecret != "" {
		return conf, nil
	}

	res, err := store.Load()
	if errors.Is(err, dynreg.ErrNoCredential) {
		return conf, nil
	}
	if err != nil {
		return conf, err
	}
	if res.ProductKey != conf.ProductKey || res.DeviceName != conf.DeviceName {
		log.Warn().
			Str("ProductKey", res.ProductKey).
			Str("DeviceName", res.DeviceName).
			Msg("Stored credential belongs to another device")
		return conf, nil
	}

	if res.Whitelist() {
		conf.DeviceSecret = res.DeviceSecret
	} else {
		conf.ClientID = res.ClientID
		conf.Username = res.Username
		conf.Password = res.Password
	}
	log.Info().Str("Path", store.Path()).Msg("Using registered credential")
	return conf, nil
}

func newTransport(conf config.Config, log *logger.Logger, reg prometheus.Registerer) (
	session.Transport, error) {
	switch conf.Transport {
	case transportNative, "":
		return mqtt.New(mqtt.WithLogger(log), mqtt.WithMetrics(reg)), nil
	case transportPaho:
		return paho.New(paho.WithLogger(log)), nil
	default:
		return nil, fmt.Errorf("invalid transport: %s", conf.Transport)
	}
}

// agent holds the object graph shared by the commands which keep a device session.
type agent struct {
	conf      config.Config
	log       *logger.Logger
	registry  *prometheus.Registry
	bus       *session.EventBus
	transport session.Transport
	manager   *session.Manager
	tracker   *api.Tracker
	services  *server.Server
	cancel    context.CancelFunc
}

func newAgent(conf config.Config, log *logger.Logger) (*agent, error) {
	conf, err := applyCredential(conf, dynreg.NewFileStore(conf.CredentialsFile),
		log.WithPrefix("bootstrap"))
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if err = conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: metrics.Namespace}),
	)

	t, err := newTransport(conf, log, reg)
	if err != nil {
		return nil, err
	}

	opts, err := session.NewOptions(conf)
	if err != nil {
		_ = t.Deinit()
		return nil, err
	}

	bus := session.NewEventBus(eventBusCapacity)
	m := session.New(t,
		session.WithLogger(log),
		session.WithEventHandler(session.NewNotifier(log, bus, reg)),
	)
	if err = m.Configure(opts); err != nil {
		bus.Close()
		_ = m.Shutdown()
		return nil, err
	}

	return &agent{
		conf:      conf,
		log:       log,
		registry:  reg,
		bus:       bus,
		transport: t,
		manager:   m,
		services:  server.New(log),
	}, nil
}

// listen starts tracking the connection events for the status API.
func (a *agent) listen(ctx context.Context, firmware api.FirmwareStatus) {
	a.tracker = api.NewTracker(a.conf.ProductKey, a.conf.DeviceName, firmware)

	ctx, a.cancel = context.WithCancel(ctx)
	go a.tracker.Listen(ctx, a.bus)
}

// startServices starts the metrics exporter and the status API when enabled.
func (a *agent) startServices() error {
	var n int

	if a.conf.MetricsEnabled {
		s, err := metrics.NewServer(metrics.Configuration{
			Address:   a.conf.MetricsAddress,
			Path:      a.conf.MetricsPath,
			Profiling: a.conf.MetricsProfiling,
		}, a.registry, a.log)
		if err != nil {
			return err
		}
		a.services.AddService(s)
		n++
	}

	if a.conf.HTTPEnabled && a.tracker != nil {
		s, err := api.NewHTTPServer(api.Configuration{
			Address:         a.conf.HTTPAddress,
			ReadTimeout:     5,
			WriteTimeout:    5,
			ShutdownTimeout: 5,
		}, a.tracker, a.log)
		if err != nil {
			return err
		}
		a.services.AddService(s)
		n++
	}

	if n == 0 {
		return nil
	}
	return a.services.Start()
}

func (a *agent) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.manager.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s:%d: %w", a.conf.MQTTHost, a.conf.MQTTPort, err)
	}
	return nil
}

// shutdown stops the session and the services. The session loops are stopped before the
// transport is released.
func (a *agent) shutdown() {
	_ = a.manager.Shutdown()
	a.services.Stop()

	if a.cancel != nil {
		a.cancel()
	}
	a.bus.Close()
	a.log.Info().Msg("Agent stopped")
}
