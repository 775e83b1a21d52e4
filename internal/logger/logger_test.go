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

package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/iotali/linkmq/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logIDGenStub struct {
	id uint64
}

func (g *logIDGenStub) NextID() uint64 {
	g.id++
	return g.id
}

func TestLoggerLog(t *testing.T) {
	out := bytes.NewBufferString("")
	log := logger.New(out, nil, logger.Pretty)
	msg := gofakeit.Phrase()

	log.Info().Msg(msg)
	assert.Contains(t, out.String(), "INFO")
	assert.Contains(t, out.String(), msg)
}

func TestLoggerWithField(t *testing.T) {
	out := bytes.NewBufferString("")
	log := logger.New(out, nil, logger.Pretty)
	key := gofakeit.Word()
	val := gofakeit.Phrase()

	log.Info().Str(key, val).Msg("")
	assert.Contains(t, out.String(), key+"=")
	assert.Contains(t, out.String(), val)
}

func TestLoggerLogID(t *testing.T) {
	out := bytes.NewBufferString("")
	log := logger.New(out, &logIDGenStub{}, logger.JSON)

	log.Info().Msg(gofakeit.Phrase())

	var line map[string]interface{}
	err := json.Unmarshal(out.Bytes(), &line)
	require.Nil(t, err)
	assert.Equal(t, float64(1), line["LogId"])
}

func TestLoggerWithPrefix(t *testing.T) {
	out := bytes.NewBufferString("")
	log := logger.New(out, &logIDGenStub{}, logger.JSON).WithPrefix("session")
	child := log.WithPrefix("loop")

	child.Info().Msg(gofakeit.Phrase())
	assert.Equal(t, "session.loop", child.Prefix())
	assert.Contains(t, out.String(), `"Prefix":"session.loop"`)
	assert.Contains(t, out.String(), `"LogId":1`)
}

func TestLoggerSetSeverity(t *testing.T) {
	out := bytes.NewBufferString("")
	log := logger.New(out, nil, logger.Pretty)
	msg := gofakeit.Phrase()
	err := logger.SetSeverityLevel("INFO")

	log.Debug().Msg(msg)
	assert.Nil(t, err)
	assert.Empty(t, out.String())
}

func TestLoggerSetInvalidSeverity(t *testing.T) {
	err := logger.SetSeverityLevel("invalid")
	assert.ErrorIs(t, err, logger.ErrInvalidLevel)
	assert.Equal(t, "invalid log level", err.Error())
}

func TestLoggerParseFormat(t *testing.T) {
	testCases := []struct {
		in  string
		out logger.Format
	}{
		{"", logger.Pretty},
		{"pretty", logger.Pretty},
		{"JSON", logger.JSON},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			f, err := logger.ParseFormat(tc.in)
			require.Nil(t, err)
			assert.Equal(t, tc.out, f)
		})
	}

	_, err := logger.ParseFormat("xml")
	assert.NotNil(t, err)
}
