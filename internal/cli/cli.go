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

// Package cli implements the command line interface of the LinkMQ agent.
package cli

import (
	"context"
	"io"

	"github.com/iotali/linkmq/internal/build"
	"github.com/spf13/cobra"
)

const description = "LinkMQ is the MQTT session agent of IoT devices: it keeps the device " +
	"connected, answers RRPC requests and downloads firmware updates."

// CLI represents the command line interface of the agent.
type CLI struct {
	rootCmd    *cobra.Command
	configFile string
}

// New creates the CLI with all the agent commands.
func New() *CLI {
	info := build.GetInfo()
	c := &CLI{}
	c.rootCmd = &cobra.Command{
		Use:          "linkmq",
		Version:      info.ShortVersion(),
		Long:         description,
		SilenceUsage: true,
	}

	c.rootCmd.CompletionOptions.DisableDefaultCmd = true
	c.rootCmd.SetVersionTemplate("{{printf .Version}}")
	c.rootCmd.PersistentFlags().StringVarP(&c.configFile, "config", "c", "",
		"path of the config file (default linkmq.conf)")

	c.rootCmd.AddCommand(&cobra.Command{
		Use:                   "version",
		Short:                 "Show version and build summary",
		Long:                  "Show version and build summary.",
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(info.LongVersion()))
			return err
		},
	})

	c.rootCmd.AddCommand(newCommandStart(&c.configFile))
	c.rootCmd.AddCommand(newCommandOTA(&c.configFile))
	c.rootCmd.AddCommand(newCommandRegister(&c.configFile))
	return c
}

// Run runs the command of the arguments, writing its output into w.
func (c *CLI) Run(ctx context.Context, w io.Writer, args []string) error {
	c.rootCmd.SetOut(w)
	c.rootCmd.SetErr(w)
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}
