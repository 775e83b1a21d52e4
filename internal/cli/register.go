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
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/iotali/linkmq/internal/config"
	"github.com/iotali/linkmq/internal/dynreg"
	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/mqtt"
	"github.com/spf13/cobra"
)

func newCommandRegister(configFile *string) *cobra.Command {
	var noSave bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the device",
		Long: "Register the device with the product secret and store the credential returned " +
			"by the platform.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conf, log, err := bootstrap(cmd.OutOrStdout(), *configFile)
			if err != nil {
				return err
			}

			var store *dynreg.FileStore
			if !noSave {
				store = dynreg.NewFileStore(conf.CredentialsFile)
			}
			return runRegister(ctx, cmd.OutOrStdout(), conf, log, store)
		},
	}

	cmd.Flags().BoolVar(&noSave, "no-save", false, "print the credential without storing it")
	return cmd
}

func newRegisterConfig(conf config.Config) (dynreg.Config, error) {
	tlsConf, err := mqtt.NewTLSConfig(conf.CACertFile, conf.ClientCertFile, conf.ClientKeyFile,
		conf.MQTTHost)
	if err != nil {
		return dynreg.Config{}, fmt.Errorf("failed to create TLS configuration: %w", err)
	}

	return dynreg.Config{
		Host:          conf.MQTTHost,
		Port:          conf.MQTTPort,
		ProductKey:    conf.ProductKey,
		DeviceName:    conf.DeviceName,
		ProductSecret: conf.ProductSecret,
		Whitelist:     conf.RegisterWhitelist,
		TLSConfig:     tlsConf,
		Timeout:       time.Duration(conf.RegisterTimeoutMs) * time.Millisecond,
	}, nil
}

func runRegister(ctx context.Context, out io.Writer, conf config.Config, log *logger.Logger,
	store *dynreg.FileStore) error {
	regConf, err := newRegisterConfig(conf)
	if err != nil {
		return err
	}

	t, err := newTransport(conf, log, nil)
	if err != nil {
		return err
	}

	res, err := dynreg.New(t, dynreg.WithLogger(log)).Register(ctx, regConf)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}

	var path string
	if store != nil {
		if err = store.Save(res); err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		path = store.Path()
	}

	printResult(out, res, path)
	return nil
}

func printResult(out io.Writer, res dynreg.Result, path string) {
	title := color.New(color.FgGreen, color.Bold)
	key := color.New(color.FgCyan)

	_, _ = title.Fprintln(out, "Device registered with success")
	field := func(name, value string) {
		if value == "" {
			return
		}
		_, _ = key.Fprintf(out, "  %-14s", name)
		_, _ = fmt.Fprintln(out, value)
	}

	field("Product key:", res.ProductKey)
	field("Device name:", res.DeviceName)
	field("Device secret:", mask(res.DeviceSecret))
	field("Client ID:", res.ClientID)
	field("Username:", res.Username)
	field("Password:", mask(res.Password))

	if path != "" {
		_, _ = color.New(color.Faint).Fprintln(out, "Credential stored in "+path)
	} else {
		_, _ = color.New(color.FgYellow).Fprintln(out, "Credential not stored")
	}
}

// mask hides all but the first four characters of the secret.
func mask(secret string) string {
	const visible = 4
	if len(secret) <= visible {
		return secret
	}

	masked := []byte(secret)
	for i := visible; i < len(masked); i++ {
		masked[i] = '*'
	}
	return string(masked)
}
