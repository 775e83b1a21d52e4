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
	"context"
	"errors"
	"time"

	"github.com/iotali/linkmq/internal/mqtt"
)

func (m *Manager) processLoop(ctx context.Context) {
	defer m.wg.Done()
	defer m.processRunning.Store(false)

	for m.processRunning.Load() {
		err := m.transport.Process()
		if errors.Is(err, mqtt.ErrExecDisabled) {
			m.log.Debug().Msg("Process loop disabled")
			return
		}
		if err != nil {
			m.log.Debug().
				Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).
				Msg("Process failed: " + err.Error())
		}

		if !sleep(ctx, m.processInterval) {
			break
		}
	}

	m.log.Debug().Msg("Process loop stopped")
}

func (m *Manager) receiveLoop(ctx context.Context) {
	defer m.wg.Done()
	defer m.receiveRunning.Store(false)

	for m.receiveRunning.Load() {
		err := m.transport.Receive()
		if err == nil {
			continue
		}
		if errors.Is(err, mqtt.ErrExecDisabled) {
			m.log.Debug().Msg("Receive loop disabled")
			return
		}

		m.log.Debug().
			Str("Code", mqtt.FormatCode(mqtt.CodeOf(err))).
			Msg("Receive failed: " + err.Error())
		if !sleep(ctx, m.retryInterval) {
			break
		}
	}

	m.log.Debug().Msg("Receive loop stopped")
}

// sleep waits for the duration. It returns false when the context was cancelled before.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
