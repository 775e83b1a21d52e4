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

package mqtt

import (
	"errors"
	"fmt"
)

// Kind classifies a StateError.
type Kind int

// Kinds of StateError.
const (
	// KindConfig indicates a missing or invalid option, or an option applied in the wrong state.
	KindConfig Kind = iota + 1

	// KindConnect indicates a failure to establish the MQTT session.
	KindConnect

	// KindTransientIO indicates a network failure which the loops retry.
	KindTransientIO

	// KindTerminalDisabled indicates that the handle was closed by the user and the loops must
	// exit.
	KindTerminalDisabled

	// KindDownload indicates a failure of a firmware download.
	KindDownload
)

var kindToString = map[Kind]string{
	KindConfig:           "config",
	KindConnect:          "connect",
	KindTransientIO:      "transient-io",
	KindTerminalDisabled: "terminal-disabled",
	KindDownload:         "download",
}

// String returns the Kind in string format.
func (k Kind) String() string {
	s, ok := kindToString[k]
	if !ok {
		return "unknown"
	}
	return s
}

// StateError represents an error of the device session. Each error carries a negative code
// which is printed as a signed hexadecimal number (e.g. -0x0101).
type StateError struct {
	// Code is the negative state code.
	Code int32

	// Kind classifies the error.
	Kind Kind

	// Reason is a string with a human-friendly message about the error.
	Reason string
}

var (
	// ErrInvalidState indicates that the operation is not allowed in the current state of the
	// handle (e.g. setting an option after connect).
	ErrInvalidState = &StateError{Code: -0x0101, Kind: KindConfig, Reason: "invalid state"}

	// ErrMissingHost indicates that the broker host was not configured.
	ErrMissingHost = &StateError{Code: -0x0102, Kind: KindConfig, Reason: "missing host"}

	// ErrMissingProductKey indicates that the product key was not configured.
	ErrMissingProductKey = &StateError{Code: -0x0103, Kind: KindConfig, Reason: "missing product key"}

	// ErrMissingDeviceName indicates that the device name was not configured.
	ErrMissingDeviceName = &StateError{Code: -0x0104, Kind: KindConfig, Reason: "missing device name"}

	// ErrMissingDeviceSecret indicates that the device secret was not configured.
	ErrMissingDeviceSecret = &StateError{
		Code:   -0x0105,
		Kind:   KindConfig,
		Reason: "missing device secret",
	}

	// ErrInvalidTopic indicates that the topic name or filter is not valid.
	ErrInvalidTopic = &StateError{Code: -0x0106, Kind: KindConfig, Reason: "invalid topic"}

	// ErrInvalidQoS indicates that the QoS is not supported.
	ErrInvalidQoS = &StateError{Code: -0x0107, Kind: KindConfig, Reason: "invalid QoS"}

	// ErrExecDisabled indicates that the handle was disconnected or released by the user.
	ErrExecDisabled = &StateError{Code: -0x0109, Kind: KindTerminalDisabled, Reason: "execution disabled"}

	// ErrConnectRefused indicates that the broker refused the connection.
	ErrConnectRefused = &StateError{Code: -0x0301, Kind: KindConnect, Reason: "connection refused"}

	// ErrConnectTimeout indicates that the broker did not acknowledge the connection in time.
	ErrConnectTimeout = &StateError{Code: -0x0302, Kind: KindConnect, Reason: "connect timeout"}

	// ErrConnectNetwork indicates that the network connection could not be established.
	ErrConnectNetwork = &StateError{Code: -0x0303, Kind: KindConnect, Reason: "network unreachable"}

	// ErrConnectProtocol indicates that the broker answered with an unexpected packet.
	ErrConnectProtocol = &StateError{Code: -0x0304, Kind: KindConnect, Reason: "protocol error"}

	// ErrNetworkClosed indicates that the network connection is closed.
	ErrNetworkClosed = &StateError{Code: -0x0401, Kind: KindTransientIO, Reason: "network closed"}

	// ErrNotConnected indicates that the session is not connected.
	ErrNotConnected = &StateError{Code: -0x0402, Kind: KindTransientIO, Reason: "not connected"}

	// ErrHeartbeatTimeout indicates that the broker did not answer the heartbeats.
	ErrHeartbeatTimeout = &StateError{Code: -0x0403, Kind: KindTransientIO, Reason: "heartbeat timeout"}

	// ErrNetworkWrite indicates that a packet could not be written into the network.
	ErrNetworkWrite = &StateError{Code: -0x0404, Kind: KindTransientIO, Reason: "network write failed"}
)

// Error returns a string with the error code and the reason of the error.
func (err *StateError) Error() string {
	return fmt.Sprintf("%s (%s)", FormatCode(err.Code), err.Reason)
}

// Is reports whether the target is a StateError with the same code.
func (err *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	return ok && t.Code == err.Code
}

// WithReason returns a copy of the error with an additional detail in its reason.
func (err *StateError) WithReason(detail string) *StateError {
	return &StateError{Code: err.Code, Kind: err.Kind, Reason: err.Reason + ": " + detail}
}

// FormatCode formats the state code as a signed hexadecimal number.
func FormatCode(code int32) string {
	if code < 0 {
		return fmt.Sprintf("-0x%04X", -code)
	}
	return fmt.Sprintf("0x%04X", code)
}

// KindOf returns the Kind of the error, or zero when err is not a StateError.
func KindOf(err error) Kind {
	var se *StateError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// CodeOf returns the state code of the error, or zero when err is not a StateError.
func CodeOf(err error) int32 {
	var se *StateError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
