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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/iotali/linkmq/internal/ota"
	"github.com/iotali/linkmq/internal/rrpc"
	"github.com/spf13/cobra"
)

// otaReceiveTimeoutMs bounds the receive wait of the combined poll loop, so the download is not
// held back by an idle session.
const otaReceiveTimeoutMs = 100

func newCommandOTA(configFile *string) *cobra.Command {
	var exitOnFinish bool

	cmd := &cobra.Command{
		Use:   "ota",
		Short: "Run the firmware update",
		Long: "Connect the device, report the firmware version, query the firmware task and " +
			"download the firmware images pushed by the platform.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conf, log, err := bootstrap(cmd.OutOrStdout(), *configFile)
			if err != nil {
				return err
			}
			if conf.ReceiveTimeoutMs > otaReceiveTimeoutMs {
				conf.ReceiveTimeoutMs = otaReceiveTimeoutMs
			}

			a, err := newAgent(conf, log)
			if err != nil {
				return err
			}
			return runOTA(ctx, a, exitOnFinish)
		},
	}

	cmd.Flags().BoolVar(&exitOnFinish, "exit-on-finish", false,
		"stop once a firmware image was downloaded")
	return cmd
}

func newPipeline(a *agent) (*ota.Pipeline, error) {
	tlsConf, err := mqtt.NewTLSConfig(a.conf.OTACACert(), "", "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create download TLS configuration: %w", err)
	}

	return ota.NewPipeline(a.manager, a.conf.ProductKey, a.conf.DeviceName, ota.Config{
		Module:     a.conf.FirmwareModule,
		AllowHTTP:  a.conf.OTAAllowHTTP,
		BufferSize: a.conf.OTABufferSize,
		Port:       a.conf.OTAPort,
		TLSConfig:  tlsConf,
		NewSink:    ota.FileSinkFactory(a.conf.OTAOutputDir),
	}, ota.WithLogger(a.log), ota.WithMetrics(a.registry)), nil
}

func runOTA(ctx context.Context, a *agent, exitOnFinish bool) error {
	defer a.shutdown()

	pipeline, err := newPipeline(a)
	if err != nil {
		return err
	}
	defer func() { _ = pipeline.Close() }()

	router := rrpc.New(a.manager, a.conf.ProductKey, a.conf.DeviceName,
		rrpc.WithLogger(a.log),
		rrpc.WithMetrics(a.registry),
	)
	a.manager.HandleDefault(router)
	a.listen(ctx, pipeline)

	if err := a.startServices(); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}
	if err := pipeline.Subscribe(a.manager); err != nil {
		return fmt.Errorf("failed to subscribe firmware topics: %w", err)
	}
	if err := router.Subscribe(a.manager); err != nil {
		return fmt.Errorf("failed to subscribe RRPC requests: %w", err)
	}
	if err := pipeline.ReportVersion(a.conf.FirmwareVersion); err != nil {
		return fmt.Errorf("failed to report firmware version: %w", err)
	}
	if err := pipeline.QueryFirmware(); err != nil {
		return fmt.Errorf("failed to query firmware: %w", err)
	}

	opts := []ota.RunnerOption{ota.WithRunnerLogger(a.log)}
	if exitOnFinish {
		opts = append(opts, ota.WithExitOnFinish())
	}

	a.log.Info().
		Str("Version", a.conf.FirmwareVersion).
		Str("Module", a.conf.FirmwareModule).
		Msg("Waiting for firmware tasks")
	return ota.NewRunner(a.transport, pipeline, opts...).Run(ctx)
}
