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

// Package ota implements the firmware update flow of the device: version report, firmware
// query, update notification, download with throttled progress reports and the combined poll
// loop used while an update is running.
package ota

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Protocol is the protocol of the firmware URL.
type Protocol string

// Supported protocols.
const (
	ProtocolHTTPS Protocol = "https"
	ProtocolHTTP  Protocol = "http"
)

// SignMethod is the digest algorithm of the firmware.
type SignMethod string

// Supported sign methods.
const (
	SignMD5    SignMethod = "Md5"
	SignSHA256 SignMethod = "SHA256"
)

// Task describes a firmware to download.
type Task struct {
	// Version is the firmware version.
	Version string `json:"version"`

	// Size is the firmware size in bytes.
	Size int64 `json:"size"`

	// URL is the firmware location.
	URL string `json:"url"`

	// SignMethod is the digest algorithm.
	SignMethod SignMethod `json:"signMethod"`

	// Sign is the hexadecimal digest of the firmware.
	Sign string `json:"sign"`

	// MD5 is the hexadecimal MD5 of the firmware, sent by the platform for compatibility.
	MD5 string `json:"md5"`

	// Module is the firmware module. Empty means the default module.
	Module string `json:"module"`
}

// Protocol returns the protocol of the firmware URL.
func (t Task) Protocol() Protocol {
	u, err := url.Parse(t.URL)
	if err != nil {
		return ""
	}
	return Protocol(strings.ToLower(u.Scheme))
}

// Digest returns the sign method and the expected digest of the firmware. The MD5 field is used
// when the task carries no sign.
func (t Task) Digest() (SignMethod, string) {
	if t.Sign != "" {
		method := t.SignMethod
		if strings.EqualFold(string(method), string(SignSHA256)) {
			method = SignSHA256
		} else {
			method = SignMD5
		}
		return method, strings.ToLower(t.Sign)
	}
	if t.MD5 != "" {
		return SignMD5, strings.ToLower(t.MD5)
	}
	return "", ""
}

type taskEnvelope struct {
	Code    json.RawMessage `json:"code"`
	Data    *Task           `json:"data"`
	ID      json.RawMessage `json:"id"`
	Message string          `json:"message"`
}

// ParseTask parses the payload of an upgrade push or of a firmware query reply. It returns
// ErrNoTask when the payload carries no firmware.
func ParseTask(payload []byte) (Task, error) {
	var env taskEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Task{}, fmt.Errorf("invalid firmware task: %w", err)
	}

	if env.Data == nil || env.Data.URL == "" {
		if env.Message != "" {
			return Task{}, ErrNoTask.WithReason(env.Message)
		}
		return Task{}, ErrNoTask
	}
	if env.Data.Size <= 0 {
		return Task{}, fmt.Errorf("invalid firmware task: invalid size %d", env.Data.Size)
	}
	return *env.Data, nil
}
