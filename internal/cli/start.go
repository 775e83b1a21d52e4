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

	"github.com/iotali/linkmq/internal/rrpc"
	"github.com/spf13/cobra"
)

func newCommandStart(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the agent",
		Long:  "Connect the device and answer RRPC requests until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conf, log, err := bootstrap(cmd.OutOrStdout(), *configFile)
			if err != nil {
				return err
			}

			a, err := newAgent(conf, log)
			if err != nil {
				return err
			}
			return runStart(ctx, a)
		},
	}
}

func runStart(ctx context.Context, a *agent) error {
	defer a.shutdown()

	router := rrpc.New(a.manager, a.conf.ProductKey, a.conf.DeviceName,
		rrpc.WithLogger(a.log),
		rrpc.WithMetrics(a.registry),
	)
	a.manager.HandleDefault(router)
	a.listen(ctx, nil)

	if err := a.startServices(); err != nil {
		return err
	}
	if err := a.connect(ctx); err != nil {
		return err
	}
	if err := router.Subscribe(a.manager); err != nil {
		return fmt.Errorf("failed to subscribe RRPC requests: %w", err)
	}
	if err := a.manager.Start(ctx); err != nil {
		return err
	}

	a.log.Info().Str("Filter", router.Filter()).Msg("Agent started with success")
	<-ctx.Done()
	return nil
}
