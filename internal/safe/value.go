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

// Package safe holds values shared between goroutines.
package safe

import "sync"

// Value holds a value which can be read and written from several goroutines.
type Value[T any] struct {
	mu  sync.RWMutex
	val T
}

// NewValue creates a Value holding val.
func NewValue[T any](val T) *Value[T] {
	return &Value[T]{val: val}
}

// Load returns a copy of the value.
func (v *Value[T]) Load() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val
}

// Store replaces the value.
func (v *Value[T]) Store(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val = val
}

// Update calls fn with a pointer to the value while holding the write lock. The pointer must
// not be kept after fn returns.
func (v *Value[T]) Update(fn func(val *T)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(&v.val)
}
