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

package logger

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	reset  = "\x1b[0m"
	red    = "\x1b[31m"
	green  = "\x1b[32m"
	yellow = "\x1b[33m"
	blue   = "\x1b[34m"
	cyan   = "\x1b[36m"
	white  = "\x1b[37m"
	bgRed  = "\x1b[41m"
	gray   = "\x1b[90m"
)

// Format represents the output format of the logs.
type Format string

const (
	// Pretty formats the logs as colorized human-readable lines.
	Pretty Format = "pretty"

	// JSON formats the logs as one JSON object per line.
	JSON Format = "json"
)

var levelColor = map[string]string{
	"TRACE": gray,
	"DEBUG": blue,
	"INFO":  green,
	"WARN":  yellow,
	"ERROR": red,
	"FATAL": bgRed,
}

var levelCode = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// ErrInvalidLevel indicates that the severity level is not known.
var ErrInvalidLevel = errors.New("invalid log level")

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
}

// LogIDGenerator generates an identifier for each log line.
type LogIDGenerator interface {
	// NextID generates a new log identifier.
	NextID() uint64
}

// Logger represents a logging object responsible to generate outputs to an io.Writer.
type Logger struct {
	zerolog.Logger
	prefix string
}

// New creates a new logger object writing into out. When the LogIDGenerator is provided, each
// log line carries a LogId field.
func New(out io.Writer, gen LogIDGenerator, f Format) *Logger {
	var w io.Writer = out
	if f != JSON {
		output := &zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339Nano,
		}

		output.FormatTimestamp = formatTimestamp
		output.FormatLevel = formatLevel
		output.FormatMessage = formatMessage
		output.FormatFieldName = formatFieldName
		output.FormatFieldValue = formatFieldValue
		output.FormatErrFieldName = formatFieldName
		output.FormatErrFieldValue = formatFieldValue
		w = output
	}

	l := zerolog.New(w).With().Timestamp().Logger()
	if gen != nil {
		l = l.Hook(logIDHook{gen: gen})
	}

	return &Logger{Logger: l}
}

// WithPrefix creates a child logger which adds the given prefix into every log line.
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l.prefix != "" {
		prefix = l.prefix + "." + prefix
	}

	return &Logger{
		Logger: l.Logger.With().Str("Prefix", prefix).Logger(),
		prefix: prefix,
	}
}

// Prefix returns the prefix of the logger.
func (l *Logger) Prefix() string {
	return l.prefix
}

// SetSeverityLevel sets the minimal severity level which the logs will be produced.
func SetSeverityLevel(level string) error {
	lvl, ok := levelCode[strings.ToLower(level)]
	if !ok {
		return ErrInvalidLevel
	}

	zerolog.SetGlobalLevel(lvl)
	return nil
}

// ParseFormat parses the given string into a Format.
func ParseFormat(f string) (Format, error) {
	switch Format(strings.ToLower(f)) {
	case Pretty, "":
		return Pretty, nil
	case JSON:
		return JSON, nil
	default:
		return "", fmt.Errorf("invalid log format: %s", f)
	}
}

type logIDHook struct {
	gen LogIDGenerator
}

func (h logIDHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Uint64("LogId", h.gen.NextID())
}

func formatTimestamp(i interface{}) string {
	v, _ := strconv.ParseInt(fmt.Sprintf("%v", i), 10, 64)
	t := time.UnixMicro(v)
	return colorize(white, t.Format("2006-01-02 15:04:05.000000 -0700"))
}

func formatLevel(i interface{}) string {
	level := strings.ToUpper(fmt.Sprintf("%s", i))
	color := levelColor[level]
	return fmt.Sprintf("| %-14s |", colorize(color, level))
}

func formatMessage(i interface{}) string {
	return colorize(cyan, fmt.Sprintf("%s", i))
}

func formatFieldName(i interface{}) string {
	return colorize(gray, fmt.Sprintf("%s=", i))
}

func formatFieldValue(i interface{}) string {
	return colorize(gray, fmt.Sprintf("%s", i))
}

func colorize(color, msg string) string {
	return color + msg + reset
}
