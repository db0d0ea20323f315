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

package parakeet

import (
	"sort"

	"github.com/parakeet-hq/parakeet/model"
)

// Assignment is the output of the distribution engine. Every input target
// appears exactly once: either under a resource or in Unassigned.
type Assignment struct {
	PerResource map[string][]model.Target
	Unassigned  []model.Target
}

// Assigned returns how many targets received a resource.
func (a Assignment) Assigned() int {
	n := 0
	for _, targets := range a.PerResource {
		n += len(targets)
	}
	return n
}

// Distribute splits targets across the given resources according to the
// strategy. Resources failing CanUse are never assigned work. When the batch
// exceeds the pool's remaining capacity the overflow lands in Unassigned
// rather than being silently dropped; the caller retries it in a later wave
// or reports it as deferred.
func Distribute(targets []model.Target, resources []*model.Resource, strategy model.DistributionStrategy) (Assignment, error) {
	assignment := Assignment{PerResource: make(map[string][]model.Target)}

	usable := make([]*model.Resource, 0, len(resources))
	for _, res := range resources {
		if res.CanUse() && res.RemainingDaily() > 0 {
			usable = append(usable, res)
		}
	}
	if len(usable) == 0 {
		assignment.Unassigned = append(assignment.Unassigned, targets...)
		if len(targets) > 0 {
			return assignment, ErrCapacityExhausted
		}
		return assignment, nil
	}

	// Deterministic order: most remaining capacity first, ID as tie-break.
	sort.Slice(usable, func(i, j int) bool {
		ri, rj := usable[i].RemainingDaily(), usable[j].RemainingDaily()
		if ri != rj {
			return ri > rj
		}
		return usable[i].ResourceID < usable[j].ResourceID
	})

	totalCapacity := 0
	for _, res := range usable {
		totalCapacity += res.RemainingDaily()
	}

	assignable := targets
	if len(targets) > totalCapacity {
		assignable = targets[:totalCapacity]
		assignment.Unassigned = append(assignment.Unassigned, targets[totalCapacity:]...)
	}

	switch strategy {
	case model.StrategyWeighted:
		distributeWeighted(assignable, usable, &assignment)
	default:
		distributeEven(assignable, usable, &assignment)
	}

	if len(assignment.Unassigned) > 0 {
		return assignment, ErrCapacityExhausted
	}
	return assignment, nil
}

// distributeEven deals targets across resources round-robin, respecting each
// resource's remaining capacity. A resource at capacity drops out of the
// rotation and the remainder flows to the others.
func distributeEven(targets []model.Target, resources []*model.Resource, assignment *Assignment) {
	remaining := make([]int, len(resources))
	for i, res := range resources {
		remaining[i] = res.RemainingDaily()
	}

	idx := 0
	for _, target := range targets {
		assignedOne := false
		for probes := 0; probes < len(resources); probes++ {
			i := (idx + probes) % len(resources)
			if remaining[i] == 0 {
				continue
			}
			res := resources[i]
			assignment.PerResource[res.ResourceID] = append(assignment.PerResource[res.ResourceID], target)
			remaining[i]--
			idx = i + 1
			assignedOne = true
			break
		}
		if !assignedOne {
			assignment.Unassigned = append(assignment.Unassigned, target)
		}
	}
}

// distributeWeighted assigns shares proportional to remaining daily capacity.
// Integer truncation leaves a handful of leftover targets; those go to the
// resources with the most spare capacity, one each, until exhausted.
func distributeWeighted(targets []model.Target, resources []*model.Resource, assignment *Assignment) {
	totalCapacity := 0
	for _, res := range resources {
		totalCapacity += res.RemainingDaily()
	}
	if totalCapacity == 0 {
		assignment.Unassigned = append(assignment.Unassigned, targets...)
		return
	}

	shares := make([]int, len(resources))
	assignedCount := 0
	for i, res := range resources {
		share := len(targets) * res.RemainingDaily() / totalCapacity
		if share > res.RemainingDaily() {
			share = res.RemainingDaily()
		}
		shares[i] = share
		assignedCount += share
	}

	// Leftovers from truncation. Resources are already sorted by remaining
	// capacity, so walk them in order handing out one extra target each.
	for i := 0; assignedCount < len(targets); i = (i + 1) % len(resources) {
		if shares[i] < resources[i].RemainingDaily() {
			shares[i]++
			assignedCount++
		}
	}

	cursor := 0
	for i, res := range resources {
		if shares[i] == 0 {
			continue
		}
		assignment.PerResource[res.ResourceID] = append(assignment.PerResource[res.ResourceID], targets[cursor:cursor+shares[i]]...)
		cursor += shares[i]
	}
}
