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

package dynreg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNoCredential indicates that no registration result was stored.
var ErrNoCredential = errors.New("no stored credential")

// FileStore persists the registration Result as a YAML file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore which reads and writes the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the path of the file.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes the result into the file, replacing the previous one. The file is only readable
// by its owner.
func (s *FileStore) Save(r Result) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err = os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

// Load reads the result from the file. It returns ErrNoCredential when the file does not exist.
func (s *FileStore) Load() (Result, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Result{}, ErrNoCredential
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to read credential: %w", err)
	}

	var r Result
	if err = yaml.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("failed to decode credential: %w", err)
	}
	return r, nil
}
