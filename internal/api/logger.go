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

package api

import (
	"strconv"
	"time"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/labstack/echo/v4"
)

const (
	logID        = "RequestId"
	logRemoteIP  = "RemoteIp"
	logMethod    = "Method"
	logPath      = "Path"
	logUserAgent = "UserAgent"
	logStatus    = "Status"
	logError     = "Error"
	logLatency   = "Latency"
	logBytesOut  = "BytesOut"
)

func fromLogger(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			start := time.Now()

			err = next(c)
			if err != nil {
				c.Error(err)
			}

			f := fields(c, time.Since(start), err)
			log.Debug().Fields(f).Msg("HTTP Request received")
			return nil
		}
	}
}

func fields(c echo.Context, d time.Duration, err error) map[string]interface{} {
	req := c.Request()
	res := c.Response()

	id := req.Header.Get(echo.HeaderXRequestID)
	if id == "" {
		id = res.Header().Get(echo.HeaderXRequestID)
	}

	path := req.URL.Path
	if path == "" {
		path = "/"
	}

	f := map[string]interface{}{
		logID:        id,
		logRemoteIP:  c.RealIP(),
		logMethod:    req.Method,
		logPath:      path,
		logUserAgent: req.UserAgent(),
		logStatus:    res.Status,
		logLatency:   d.String(),
		logBytesOut:  strconv.FormatInt(res.Size, 10),
	}
	if err != nil {
		f[logError] = err.Error()
	}
	return f
}
