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

import (
	"time"
)

// ResourceState is the lifecycle state of a resource. A resource is in exactly
// one state at a time.
type ResourceState string

const (
	StateReady     ResourceState = "READY"
	StateInUse     ResourceState = "IN_USE"
	StateCooldown  ResourceState = "COOLDOWN"
	StateSuspended ResourceState = "SUSPENDED"
	StateRetired   ResourceState = "RETIRED"
)

// ResourceKind distinguishes actor accounts from network egress points.
type ResourceKind string

const (
	KindAccount ResourceKind = "account"
	KindProxy   ResourceKind = "proxy"
)

const (
	HealthCeiling = 100
	HealthFloor   = 0
)

// Resource is an actor identity or egress point consumed to perform outbound
// actions. It carries quota counters, a bounded health score and an error
// streak; the pool is the only writer once the resource is registered.
type Resource struct {
	ResourceID  string                 `json:"resource_id"`
	Kind        ResourceKind           `json:"kind"`
	Tags        []string               `json:"tags"`
	State       ResourceState          `json:"state"`
	HealthScore int                    `json:"health_score"`
	ErrorStreak int                    `json:"error_streak"`
	HourlyCount int                    `json:"hourly_count"`
	DailyCount  int                    `json:"daily_count"`
	HourlyCap   int                    `json:"hourly_cap"`
	DailyCap    int                    `json:"daily_cap"`
	LastUsedAt  time.Time              `json:"last_used_at"`
	LastErrorAt time.Time              `json:"last_error_at"`
	SuspendedAt time.Time              `json:"suspended_at"`
	CreatedAt   time.Time              `json:"created_at"`
	MetaData    map[string]interface{} `json:"meta_data,omitempty"`
}

// NewResource registers a resource with a fresh ID, full health and the Ready
// state. Caps must be applied afterwards via ApplyRampCaps.
func NewResource(kind ResourceKind, tags []string) *Resource {
	return &Resource{
		ResourceID:  GenerateUUIDWithSuffix("res"),
		Kind:        kind,
		Tags:        tags,
		State:       StateReady,
		HealthScore: HealthCeiling,
		CreatedAt:   time.Now(),
	}
}

// AgeDays returns whole days since the resource was registered.
func (r *Resource) AgeDays(now time.Time) int {
	if r.CreatedAt.IsZero() {
		return 0
	}
	return int(now.Sub(r.CreatedAt).Hours() / 24)
}

// ApplyRampCaps sets the hourly/daily caps from the resource age. Newer
// identities get materially tighter caps until they pass rampAgeDays.
func (r *Resource) ApplyRampCaps(now time.Time, rampAgeDays, rampHourly, rampDaily, fullHourly, fullDaily int) {
	if r.AgeDays(now) < rampAgeDays {
		r.HourlyCap = rampHourly
		r.DailyCap = rampDaily
		return
	}
	r.HourlyCap = fullHourly
	r.DailyCap = fullDaily
}

// CanUse reports whether the resource is eligible for another operation:
// Ready and under both quota caps.
func (r *Resource) CanUse() bool {
	if r.State != StateReady {
		return false
	}
	if r.HourlyCap > 0 && r.HourlyCount >= r.HourlyCap {
		return false
	}
	if r.DailyCap > 0 && r.DailyCount >= r.DailyCap {
		return false
	}
	return true
}

// RemainingDaily returns how many operations the resource may still perform
// today. Used by the weighted distribution strategy.
func (r *Resource) RemainingDaily() int {
	if r.DailyCap <= 0 {
		return 0
	}
	remaining := r.DailyCap - r.DailyCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MatchesTags reports whether the resource carries every requested tag.
func (r *Resource) MatchesTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range r.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RecordSuccess applies a successful outcome: health up by a small step,
// error streak reset, quota counters consumed.
func (r *Resource) RecordSuccess(healthDelta int, now time.Time) {
	r.HealthScore += healthDelta
	if r.HealthScore > HealthCeiling {
		r.HealthScore = HealthCeiling
	}
	r.ErrorStreak = 0
	r.HourlyCount++
	r.DailyCount++
	r.LastUsedAt = now
}

// RecordFailure applies a failed outcome: health down by a larger step and
// the error streak extended. A streak only accumulates within streakWindow
// of the previous failure; an older lapse restarts the count at one. The
// quota is still consumed; the action was attempted.
func (r *Resource) RecordFailure(healthDelta int, now time.Time, streakWindow time.Duration) {
	r.HealthScore -= healthDelta
	if r.HealthScore < HealthFloor {
		r.HealthScore = HealthFloor
	}
	if streakWindow > 0 && !r.LastErrorAt.IsZero() && now.Sub(r.LastErrorAt) > streakWindow {
		r.ErrorStreak = 0
	}
	r.ErrorStreak++
	r.HourlyCount++
	r.DailyCount++
	r.LastUsedAt = now
	r.LastErrorAt = now
}

// Suspend moves the resource out of rotation after repeated failures.
func (r *Resource) Suspend(now time.Time) {
	r.State = StateSuspended
	r.SuspendedAt = now
}

// CooldownElapsed reports whether a suspended resource has served its
// cooldown window.
func (r *Resource) CooldownElapsed(now time.Time, cooldown time.Duration) bool {
	if r.State != StateSuspended || r.SuspendedAt.IsZero() {
		return false
	}
	return now.Sub(r.SuspendedAt) >= cooldown
}

// ResetHourly clears the hourly counter. Driven by the scheduled calendar
// tick, never from the hot path.
func (r *Resource) ResetHourly() {
	r.HourlyCount = 0
}

// ResetDaily clears both counters at the day boundary.
func (r *Resource) ResetDaily() {
	r.HourlyCount = 0
	r.DailyCount = 0
}
