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
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/iotali/linkmq/internal/dynreg"
	"github.com/iotali/linkmq/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	testCases := []struct {
		secret string
		masked string
	}{
		{"", ""},
		{"abc", "abc"},
		{"abcd", "abcd"},
		{"abcdef", "abcd**"},
		{"0123456789abcdef", "0123************"},
	}

	for _, tc := range testCases {
		t.Run(tc.secret, func(t *testing.T) {
			assert.Equal(t, tc.masked, mask(tc.secret))
		})
	}
}

func TestPrintResult(t *testing.T) {
	color.NoColor = true

	testCases := []struct {
		name     string
		res      dynreg.Result
		path     string
		contains []string
		missing  []string
	}{
		{"Whitelist",
			dynreg.Result{ProductKey: "pk", DeviceName: "dn", DeviceSecret: "s3cr3tvalue"},
			"/var/lib/linkmq/credentials.yaml",
			[]string{"Device registered with success", "Product key:", "pk", "s3cr****",
				"Credential stored in /var/lib/linkmq/credentials.yaml"},
			[]string{"s3cr3tvalue", "Client ID:"}},
		{"NoWhitelist",
			dynreg.Result{ProductKey: "pk", DeviceName: "dn", ClientID: "id|x|",
				Username: "dn&pk", Password: "abcdef0123"},
			"",
			[]string{"Client ID:", "id|x|", "dn&pk", "abcd******", "Credential not stored"},
			[]string{"Device secret:", "abcdef0123"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := bytes.NewBufferString("")
			printResult(out, tc.res, tc.path)

			for _, s := range tc.contains {
				assert.Contains(t, out.String(), s)
			}
			for _, s := range tc.missing {
				assert.NotContains(t, out.String(), s)
			}
		})
	}
}

func TestNewRegisterConfig(t *testing.T) {
	conf := newTestConfig(t, 8883)
	conf.ProductSecret = "product-secret"
	conf.RegisterWhitelist = false
	conf.RegisterTimeoutMs = 1500

	c, err := newRegisterConfig(conf)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, 8883, c.Port)
	assert.Equal(t, "product-secret", c.ProductSecret)
	assert.False(t, c.Whitelist)
	assert.Equal(t, int64(1500), c.Timeout.Milliseconds())
	require.NotNil(t, c.TLSConfig)
	assert.Equal(t, "127.0.0.1", c.TLSConfig.ServerName)

	conf.CACertFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = newRegisterConfig(conf)
	assert.ErrorContains(t, err, "failed to create TLS configuration")
}

func TestRunRegisterMissingProductSecret(t *testing.T) {
	log := mocks.NewLoggerStub()
	conf := newTestConfig(t, 8883)
	store := dynreg.NewFileStore(conf.CredentialsFile)

	out := bytes.NewBufferString("")
	err := runRegister(context.Background(), out, conf, log.Logger(), store)
	require.Error(t, err)
	assert.ErrorIs(t, err, dynreg.ErrMissingProductSecret)
	assert.Empty(t, out.String())

	_, err = store.Load()
	assert.ErrorIs(t, err, dynreg.ErrNoCredential)
}
