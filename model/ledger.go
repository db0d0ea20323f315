/*
Copyright 2025 Parakeet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import "time"

// LedgerEntry is the durable exactly-once record for a target. Once Contacted
// is true no component may issue another contact action for that target,
// system-wide, across restarts.
type LedgerEntry struct {
	TargetID    string    `json:"target_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	Contacted   bool      `json:"contacted"`
	ContactedAt time.Time `json:"contacted_at,omitempty"`
	HandedOff   bool      `json:"handed_off"`
	HandedOffAt time.Time `json:"handed_off_at,omitempty"`
}

// ActionResult is the outcome reported by the external action collaborator.
type ActionResult struct {
	Success   bool   `json:"success"`
	ErrorKind string `json:"error_kind,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}
