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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Security modes announced in the client ID.
const (
	SecurityModeTLS = "2"
	SecurityModeTCP = "3"
)

// Credential holds the device credential triple.
type Credential struct {
	// ProductKey identifies the product of the device.
	ProductKey string

	// DeviceName identifies the device inside the product.
	DeviceName string

	// DeviceSecret is the secret used to sign the connection.
	DeviceSecret string
}

// Identity holds the client ID, username and password used for the MQTT CONNECT.
type Identity struct {
	ClientID string
	Username string
	Password string
}

// Sign signs the credential for a connection at the given time.
//
// The client ID is "{pk}.{dn}|securemode={mode},signmethod=hmacsha256,timestamp={ms}|", the
// username is "{dn}&{pk}" and the password is the hex encoded HMAC-SHA256 of the sign content
// with the device secret as key.
func (c Credential) Sign(securityMode string, ts time.Time) Identity {
	if securityMode == "" {
		securityMode = SecurityModeTCP
	}

	stamp := strconv.FormatInt(ts.UnixMilli(), 10)
	id := c.ProductKey + "." + c.DeviceName
	content := fmt.Sprintf("clientId%sdeviceName%sproductKey%stimestamp%s",
		id, c.DeviceName, c.ProductKey, stamp)

	return Identity{
		ClientID: fmt.Sprintf("%s|securemode=%s,signmethod=hmacsha256,timestamp=%s|",
			id, securityMode, stamp),
		Username: c.DeviceName + "&" + c.ProductKey,
		Password: HMACSHA256(c.DeviceSecret, content),
	}
}

// HMACSHA256 returns the hex encoded HMAC-SHA256 of the content.
func HMACSHA256(key, content string) string {
	mac := hmac.New(sha256.New, []byte(key))
	_, _ = mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}
