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

// Package snowflake generates unique, time-ordered 64-bit identifiers.
//
// The identifiers are used as log IDs and as message IDs of the device
// protocol. Each device derives its machine identifier from its own name, so
// two devices of the same product never share an ID space by accident.
package snowflake

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Epoch indicates the unix epoch time for the current implementation in milliseconds.
const Epoch = 1767225600000 // 2026-01-01 00:00:00.000

const (
	timestampBits  = 41
	machineBits    = 10
	sequenceBits   = 12
	timestampShift = machineBits + sequenceBits
	machineShift   = sequenceBits
	maxMachineID   = 1<<machineBits - 1
	timestampMask  = 1<<timestampBits - 1
	sequenceMask   = 1<<sequenceBits - 1
)

// Generator creates identifiers following the Twitter Snowflake layout:
// timestamp, machine identifier and sequence number.
type Generator struct {
	mu        sync.Mutex
	now       func() time.Time
	machine   uint64
	lastStamp uint64
	sequence  uint64
}

// New creates a Generator for the given machine identifier.
func New(machineID int) (*Generator, error) {
	if machineID < 0 || machineID > maxMachineID {
		return nil, fmt.Errorf("invalid machine ID (must be 0 <= id <= %d)", maxMachineID)
	}

	return &Generator{
		now:     time.Now,
		machine: uint64(machineID) << machineShift,
	}, nil
}

// ForDevice creates a Generator whose machine identifier is derived from the
// device name.
func ForDevice(deviceName string) *Generator {
	g, _ := New(MachineIDFromName(deviceName))
	return g
}

// MachineIDFromName maps a name into the machine identifier range.
func MachineIDFromName(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() % (maxMachineID + 1))
}

// MachineID returns the machine identifier of the generator.
func (g *Generator) MachineID() int {
	return int(g.machine >> machineShift)
}

// NextID creates a new identifier. When the sequence of the current
// millisecond is exhausted, it borrows the next millisecond.
func (g *Generator) NextID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	stamp := uint64(g.now().UnixMilli()-Epoch) & timestampMask
	if stamp <= g.lastStamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			g.lastStamp++
		}
		stamp = g.lastStamp
	} else {
		g.sequence = 0
		g.lastStamp = stamp
	}

	return stamp<<timestampShift | g.machine | g.sequence
}

// NextString creates a new identifier in decimal format.
func (g *Generator) NextString() string {
	return fmt.Sprintf("%d", g.NextID())
}

// Timestamp returns the absolute Unix timestamp, in milliseconds, of the given ID.
func Timestamp(id uint64) uint64 {
	return Epoch + (id >> timestampShift & timestampMask)
}

// MachineID returns the machine identifier field of the given ID.
func MachineID(id uint64) int {
	return int(id >> machineShift & maxMachineID)
}

// Sequence returns the sequence number field of the given ID.
func Sequence(id uint64) uint64 {
	return id & sequenceMask
}
