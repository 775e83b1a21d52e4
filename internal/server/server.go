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

// Package server supervises the background services of the agent, such as the metrics exporter
// and the status API.
package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/iotali/linkmq/internal/logger"
)

// Service is a background service started and stopped by the Server.
type Service interface {
	// Start starts the service without blocking.
	Start() error

	// Stop stops the service and blocks until it is stopped.
	Stop()
}

// Server represents the set of background services of the agent.
type Server struct {
	log      *logger.Logger
	mu       sync.Mutex
	services []Service
	started  []Service
}

// New creates a Server instance.
func New(l *logger.Logger) *Server {
	return &Server{log: l.WithPrefix("server")}
}

// AddService adds the service into the Server. It has no effect on a running Server.
func (s *Server) AddService(svc Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, svc)
}

// Start starts the services in the order they were added. If any of them fails, the services
// already started are stopped and the error is returned.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.services) == 0 {
		return errors.New("no available service")
	}
	if len(s.started) > 0 {
		return nil
	}

	s.log.Debug().Int("Services", len(s.services)).Msg("Starting services")
	for _, svc := range s.services {
		if err := svc.Start(); err != nil {
			s.stopLocked()
			return fmt.Errorf("failed to start services: %w", err)
		}
		s.started = append(s.started, svc)
	}

	s.log.Info().Msg("Services started with success")
	return nil
}

// Stop stops the running services in the reverse order they were started.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.started) == 0 {
		return
	}
	s.stopLocked()
	s.log.Info().Msg("Services stopped with success")
}

func (s *Server) stopLocked() {
	for i := len(s.started) - 1; i >= 0; i-- {
		s.started[i].Stop()
	}
	s.started = nil
}
