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

// Target is an external identity to be contacted. Targets are immutable once
// created; every other component references them, none owns them.
type Target struct {
	TargetID   string                 `json:"target_id"`
	Handle     string                 `json:"handle"`
	Priority   float64                `json:"priority"`
	Provenance string                 `json:"provenance,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	MetaData   map[string]interface{} `json:"meta_data,omitempty"`
}

func NewTarget(handle string) Target {
	return Target{
		TargetID:  GenerateUUIDWithSuffix("tgt"),
		Handle:    handle,
		CreatedAt: time.Now(),
	}
}
