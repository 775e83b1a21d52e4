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

// Package api serves the local status API of the agent.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/iotali/linkmq/internal/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// HTTPServer represents the HTTP server of the status API.
type HTTPServer struct {
	// Instance of the Echo framework.
	Echo *echo.Echo

	// API routes v1.
	RouteV1 *echo.Group

	conf Configuration
	log  *logger.Logger
	mu   sync.Mutex
	addr net.Addr
	wg   sync.WaitGroup
}

// NewHTTPServer creates a HTTPServer which serves the status of the tracker.
func NewHTTPServer(c Configuration, tracker *Tracker, log *logger.Logger) (*HTTPServer, error) {
	if log == nil {
		return nil, errors.New("HTTP missing logger")
	}
	if c.Address == "" {
		return nil, errors.New("HTTP missing address")
	}
	if tracker == nil {
		return nil, errors.New("HTTP missing status tracker")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(c.ReadTimeout) * time.Second
	e.Server.WriteTimeout = time.Duration(c.WriteTimeout) * time.Second
	e.Use(middleware.RequestID())
	e.Use(fromLogger(log))

	v1 := e.Group("/api/v1")
	s := &HTTPServer{
		Echo:    e,
		RouteV1: v1,
		conf:    c,
		log:     log,
	}

	e.HTTPErrorHandler = s.handleError
	v1.GET("/status", tracker.handleStatus)
	return s, nil
}

// Start starts listening and serves the status API in background until Stop is called.
func (s *HTTPServer) Start() error {
	lsn, err := net.Listen("tcp", s.conf.Address)
	if err != nil {
		s.log.Error().Str("Address", s.conf.Address).Msg("HTTP Failed to listen: " + err.Error())
		return err
	}

	s.mu.Lock()
	s.addr = lsn.Addr()
	s.mu.Unlock()
	s.Echo.Listener = lsn

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.Echo.Start(s.conf.Address)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Msg("HTTP Server stopped with error: " + err.Error())
			return
		}
		s.log.Debug().Msg("HTTP Server stopped with success")
	}()

	s.log.Info().Msg("HTTP Listening on " + lsn.Addr().String())
	return nil
}

// Addr returns the address the HTTPServer listens on, or nil when it is not running.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop stops the HTTPServer and waits until it is stopped.
func (s *HTTPServer) Stop() {
	s.log.Debug().Msg("HTTP Stopping server")

	t := time.Duration(s.conf.ShutdownTimeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), t)
	defer cancel()

	if err := s.Echo.Shutdown(ctx); err != nil {
		_ = s.Echo.Close()
	}
	s.wg.Wait()
}

func (s *HTTPServer) handleError(err error, c echo.Context) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		s.log.Debug().
			Str("Path", c.Path()).
			Int("Status", httpErr.Code).
			Msg(fmt.Sprintf("HTTP Request error: %v", httpErr.Message))
	} else {
		httpErr = echo.ErrInternalServerError
		s.log.Warn().Msg("HTTP Request error: " + err.Error())
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(httpErr.Code)
	} else {
		err = c.JSON(httpErr.Code, httpErr)
	}
	if err != nil {
		s.log.Error().
			Str("Path", c.Path()).
			Int("Status", httpErr.Code).
			Msg("HTTP Failed to send error response: " + err.Error())
	}
}
