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

package ota

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/iotali/linkmq/internal/mqtt"
)

const defaultRetryInterval = time.Second

// Poller is the part of the session transport driven by the Runner.
type Poller interface {
	Process() error
	Receive() error
}

// RunnerOption is a function responsible to inject an option inside the Runner.
type RunnerOption func(r *Runner)

// WithRunnerLogger is an option function to inject the logger.Logger inside the Runner.
func WithRunnerLogger(l *logger.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = l
	}
}

// WithExitOnFinish is an option function to stop the Runner once a firmware was downloaded.
func WithExitOnFinish() RunnerOption {
	return func(r *Runner) {
		r.exitOnFinish = true
	}
}

// WithRetryInterval is an option function to set the time the Runner waits after the network
// was closed.
func WithRetryInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.retryInterval = d
	}
}

// Runner is the single goroutine poll loop of the firmware update: each iteration processes the
// session, receives one inbound packet, and, while a firmware is being downloaded, receives one
// chunk of it.
type Runner struct {
	log           *logger.Logger
	poller        Poller
	pipeline      *Pipeline
	retryInterval time.Duration
	exitOnFinish  bool
}

// NewRunner creates a Runner of the pipeline over the poller.
func NewRunner(poller Poller, pipeline *Pipeline, opts ...RunnerOption) *Runner {
	r := &Runner{
		poller:        poller,
		pipeline:      pipeline,
		retryInterval: defaultRetryInterval,
	}

	for _, fn := range opts {
		fn(r)
	}

	if r.log == nil {
		r.log = logger.New(io.Discard, nil, logger.JSON)
	}
	r.log = r.log.WithPrefix("ota.runner")
	return r
}

// Run runs the poll loop until the context is done or the session is disabled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := r.poller.Process(); err != nil {
			if errors.Is(err, mqtt.ErrExecDisabled) {
				return nil
			}
			r.log.Debug().Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).Msg("Process failed: " +
				err.Error())
		}

		if err := r.poller.Receive(); err != nil {
			if errors.Is(err, mqtt.ErrExecDisabled) {
				return nil
			}
			if errors.Is(err, mqtt.ErrNetworkClosed) {
				if !r.sleep(ctx) {
					return nil
				}
				continue
			}
			r.log.Debug().Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).Msg("Receive failed: " +
				err.Error())
		}

		if !r.pipeline.Active() {
			continue
		}

		err := r.pipeline.ReceiveDownload(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrDownloadFinished):
			r.log.Info().Msg("Download completed successfully")
			if r.exitOnFinish {
				return nil
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			r.log.Error().
				Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).
				Msg("Download failed: " + err.Error())
		}
	}
}

func (r *Runner) sleep(ctx context.Context) bool {
	t := time.NewTimer(r.retryInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
