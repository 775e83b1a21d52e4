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

import "github.com/iotali/linkmq/internal/mqtt"

var (
	// ErrDownloadFinished is returned by Download.Receive once the firmware was completely
	// downloaded and verified. It is a terminal success.
	ErrDownloadFinished = &mqtt.StateError{Code: -0x0C01, Kind: mqtt.KindDownload, Reason: "download finished"}

	// ErrDownloadRequest indicates that the download request could not be sent.
	ErrDownloadRequest = &mqtt.StateError{Code: -0x0C02, Kind: mqtt.KindDownload, Reason: "download request failed"}

	// ErrDownloadStatus indicates that the download server answered with an unexpected status.
	ErrDownloadStatus = &mqtt.StateError{Code: -0x0C03, Kind: mqtt.KindDownload, Reason: "unexpected HTTP status"}

	// ErrDownloadRead indicates that the firmware body could not be read.
	ErrDownloadRead = &mqtt.StateError{Code: -0x0C04, Kind: mqtt.KindDownload, Reason: "download read failed"}

	// ErrDownloadDigest indicates that the digest of the downloaded firmware does not match the
	// digest of the task.
	ErrDownloadDigest = &mqtt.StateError{Code: -0x0C05, Kind: mqtt.KindDownload, Reason: "digest mismatch"}

	// ErrDownloadStore indicates that the firmware could not be written into the Sink.
	ErrDownloadStore = &mqtt.StateError{Code: -0x0C06, Kind: mqtt.KindDownload, Reason: "failed to store firmware"}

	// ErrDownloadNotStarted indicates that Receive was called before SendRequest.
	ErrDownloadNotStarted = &mqtt.StateError{Code: -0x0C07, Kind: mqtt.KindDownload, Reason: "download not started"}

	// ErrUnsupportedProtocol indicates that the protocol of the task is not supported.
	ErrUnsupportedProtocol = &mqtt.StateError{Code: -0x0C08, Kind: mqtt.KindDownload, Reason: "protocol not supported"}

	// ErrDownloadBusy indicates that a firmware task was received while another one is in
	// progress.
	ErrDownloadBusy = &mqtt.StateError{Code: -0x0C09, Kind: mqtt.KindDownload, Reason: "download in progress"}

	// ErrNoTask indicates that the message carries no firmware task.
	ErrNoTask = &mqtt.StateError{Code: -0x0C0A, Kind: mqtt.KindDownload, Reason: "no firmware task"}
)

// Negative progress steps reported to the platform.
const (
	StepUpgradeFailed  = -1
	StepDownloadFailed = -2
	StepVerifyFailed   = -3
)
