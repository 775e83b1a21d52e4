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
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/iotali/linkmq/internal/mqtt/packet"
	"github.com/iotali/linkmq/internal/session"
	"github.com/rs/xid"
)

// Topics returns the OTA topics of a device.
type Topics struct {
	// Inform is where the device reports its firmware version.
	Inform string

	// Upgrade is where the platform pushes the firmware tasks.
	Upgrade string

	// Progress is where the device reports the download progress.
	Progress string

	// Query is where the device asks for the pending firmware task.
	Query string

	// QueryReply is where the platform answers the firmware query.
	QueryReply string
}

// NewTopics creates the OTA Topics of the device.
func NewTopics(productKey, deviceName string) Topics {
	suffix := productKey + "/" + deviceName
	sys := "/sys/" + suffix + "/thing/ota/firmware/get"
	return Topics{
		Inform:     "/ota/device/inform/" + suffix,
		Upgrade:    "/ota/device/upgrade/" + suffix,
		Progress:   "/ota/device/progress/" + suffix,
		Query:      sys,
		QueryReply: sys + "_reply",
	}
}

type versionParams struct {
	Version string `json:"version"`
	Module  string `json:"module,omitempty"`
}

type progressParams struct {
	Step   string `json:"step"`
	Desc   string `json:"desc"`
	Module string `json:"module,omitempty"`
}

type queryParams struct {
	Module string `json:"module,omitempty"`
}

type request struct {
	ID      string      `json:"id"`
	Version string      `json:"version,omitempty"`
	Params  interface{} `json:"params"`
	Method  string      `json:"method,omitempty"`
}

// Reporter publishes the OTA messages of the device.
type Reporter struct {
	pub    session.Publisher
	topics Topics
	nextID func() string
}

// NewReporter creates a Reporter which publishes through pub.
func NewReporter(pub session.Publisher, topics Topics) *Reporter {
	return &Reporter{
		pub:    pub,
		topics: topics,
		nextID: func() string { return xid.New().String() },
	}
}

// ReportVersion reports the firmware version of the module.
func (r *Reporter) ReportVersion(version, module string) error {
	if version == "" {
		return fmt.Errorf("failed to report version: empty version")
	}
	return r.publish(r.topics.Inform, request{
		ID:     r.nextID(),
		Params: versionParams{Version: version, Module: module},
	})
}

// QueryFirmware asks the platform for the pending firmware task of the module. The answer
// arrives on the query reply topic.
func (r *Reporter) QueryFirmware(module string) error {
	return r.publish(r.topics.Query, request{
		ID:      r.nextID(),
		Version: "1.0",
		Params:  queryParams{Module: module},
		Method:  "thing.ota.firmware.get",
	})
}

// ReportProgress reports the download progress of the module. A negative step reports a
// failure (see StepUpgradeFailed, StepDownloadFailed and StepVerifyFailed).
func (r *Reporter) ReportProgress(step int, desc, module string) error {
	return r.publish(r.topics.Progress, request{
		ID:     r.nextID(),
		Params: progressParams{Step: strconv.Itoa(step), Desc: desc, Module: module},
	})
}

func (r *Reporter) publish(topic string, req request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return r.pub.Publish(topic, payload, packet.QoS0)
}
