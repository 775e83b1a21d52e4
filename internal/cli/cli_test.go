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
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := bytes.NewBufferString("")
	err := New().Run(context.Background(), out, args)
	return out.String(), err
}

func TestCLIRun(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		out  string
	}{
		{"Usage", nil, "MQTT session agent of IoT devices"},
		{"ShortVersion", []string{"--version"}, "LinkMQ 0.0.0"},
		{"StartHelp", []string{"start", "--help"}, "Connect the device and answer RRPC requests"},
		{"OTAHelp", []string{"ota", "--help"}, "--exit-on-finish"},
		{"RegisterHelp", []string{"register", "--help"}, "--no-save"},
		{"VersionHelp", []string{"version", "--help"}, "Show version and build summary"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := runCLI(t, tc.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tc.out)
		})
	}
}

func TestCLIRunVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)

	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, "Revision:")
	assert.Contains(t, out, "Built:")
	assert.Contains(t, out, "Build type:")
	assert.Contains(t, out, "Platform:")
	assert.Contains(t, out, "Go version:")
}

func TestCLIRunUnknownCommand(t *testing.T) {
	_, err := runCLI(t, "invalid")
	assert.Error(t, err)
}
