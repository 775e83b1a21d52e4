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

// Throttle decides which download percentages are reported to the platform: a percentage is
// reported when it advanced at least ThrottleStep since the last reported one, or when it
// reaches 100. The last reported percentage starts at 0.
type Throttle struct {
	last int
}

// ThrottleStep is the minimum advance between two reported percentages.
const ThrottleStep = 5

// Report returns whether the percentage must be reported, and records it when so.
func (t *Throttle) Report(percent int) bool {
	if percent-t.last >= ThrottleStep || percent == 100 {
		t.last = percent
		return true
	}
	return false
}

// Last returns the last reported percentage.
func (t *Throttle) Last() int {
	return t.last
}
