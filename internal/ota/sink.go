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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink stores the downloaded firmware.
type Sink interface {
	// Write writes the next chunk of the firmware.
	Write(p []byte) (int, error)

	// Commit is called once the firmware was completely downloaded and verified.
	Commit() error

	// Abort is called when the download did not complete. It discards what was written.
	Abort() error
}

type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (discardSink) Commit() error               { return nil }
func (discardSink) Abort() error                { return nil }

// FileSink stores the firmware into a file. The chunks are written into a temporary file which
// is renamed on Commit.
type FileSink struct {
	f    *os.File
	path string
	done bool
}

// NewFileSink creates a FileSink which stores the firmware as dir/name.
func NewFileSink(dir, name string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create firmware directory: %w", err)
	}

	f, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create firmware file: %w", err)
	}
	return &FileSink{f: f, path: filepath.Join(dir, name)}, nil
}

// Path returns the path of the firmware once committed.
func (s *FileSink) Path() string {
	return s.path
}

// Write writes the chunk into the temporary file.
func (s *FileSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, errors.New("firmware file already closed")
	}
	return s.f.Write(p)
}

// Commit closes the temporary file and moves it to its final path.
func (s *FileSink) Commit() error {
	if s.done {
		return nil
	}
	s.done = true

	if err := s.f.Close(); err != nil {
		_ = os.Remove(s.f.Name())
		return err
	}
	return os.Rename(s.f.Name(), s.path)
}

// Abort closes and removes the temporary file.
func (s *FileSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true

	_ = s.f.Close()
	return os.Remove(s.f.Name())
}

// FirmwareFileName returns the file name of the firmware of the task.
func FirmwareFileName(t Task) string {
	module := t.Module
	if module == "" {
		module = "firmware"
	}

	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	return r.Replace(module + "-" + t.Version + ".bin")
}

// FileSinkFactory returns a function which creates a FileSink in dir for each task.
func FileSinkFactory(dir string) func(Task) (Sink, error) {
	return func(t Task) (Sink, error) {
		return NewFileSink(dir, FirmwareFileName(t))
	}
}
