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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parakeet-hq/parakeet/model"
)

func makeTargets(n int) []model.Target {
	targets := make([]model.Target, n)
	for i := range targets {
		targets[i] = model.NewTarget(fmt.Sprintf("@handle_%03d", i))
	}
	return targets
}

func makeResource(id string, dailyCap, dailyCount int) *model.Resource {
	return &model.Resource{
		ResourceID:  id,
		Kind:        model.KindAccount,
		State:       model.StateReady,
		HealthScore: model.HealthCeiling,
		HourlyCap:   dailyCap,
		DailyCap:    dailyCap,
		DailyCount:  dailyCount,
	}
}

func TestDistributeEven_EveryTargetAssignedOnce(t *testing.T) {
	targets := makeTargets(10)
	resources := []*model.Resource{
		makeResource("res_a", 20, 0),
		makeResource("res_b", 20, 0),
		makeResource("res_c", 20, 0),
	}

	assignment, err := Distribute(targets, resources, model.StrategyEven)
	require.NoError(t, err)
	assert.Empty(t, assignment.Unassigned)
	assert.Equal(t, 10, assignment.Assigned())

	seen := map[string]int{}
	for _, assigned := range assignment.PerResource {
		for _, target := range assigned {
			seen[target.TargetID]++
		}
	}
	for _, target := range targets {
		assert.Equal(t, 1, seen[target.TargetID], "target %s assigned exactly once", target.TargetID)
	}

	// Even split of 10 over 3 resources: shares of 4/3/3.
	for _, assigned := range assignment.PerResource {
		assert.InDelta(t, 10.0/3.0, float64(len(assigned)), 1.0)
	}
}

func TestDistributeWeighted_ProportionalToRemaining(t *testing.T) {
	targets := makeTargets(30)
	resources := []*model.Resource{
		makeResource("res_big", 40, 20),   // 20 remaining
		makeResource("res_small", 40, 30), // 10 remaining
	}

	assignment, err := Distribute(targets, resources, model.StrategyWeighted)
	require.NoError(t, err)
	assert.Empty(t, assignment.Unassigned)
	assert.Len(t, assignment.PerResource["res_big"], 20)
	assert.Len(t, assignment.PerResource["res_small"], 10)
}

func TestDistributeWeighted_OverflowBecomesUnassigned(t *testing.T) {
	// The canonical overcommit case: 100 targets over two resources with 40
	// remaining each. 80 are assigned, 20 are reported, none vanish.
	targets := makeTargets(100)
	resources := []*model.Resource{
		makeResource("res_a", 40, 0),
		makeResource("res_b", 40, 0),
	}

	assignment, err := Distribute(targets, resources, model.StrategyWeighted)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	assert.Equal(t, 80, assignment.Assigned())
	assert.Len(t, assignment.Unassigned, 20)
	assert.Len(t, assignment.PerResource["res_a"], 40)
	assert.Len(t, assignment.PerResource["res_b"], 40)
}

func TestDistribute_SkipsIneligibleResources(t *testing.T) {
	suspended := makeResource("res_suspended", 40, 0)
	suspended.State = model.StateSuspended
	exhausted := makeResource("res_exhausted", 40, 40)

	targets := makeTargets(5)
	assignment, err := Distribute(targets, []*model.Resource{
		suspended,
		exhausted,
		makeResource("res_ok", 40, 0),
	}, model.StrategyEven)
	require.NoError(t, err)

	assert.Empty(t, assignment.PerResource["res_suspended"])
	assert.Empty(t, assignment.PerResource["res_exhausted"])
	assert.Len(t, assignment.PerResource["res_ok"], 5)
}

func TestDistribute_NoUsableResources(t *testing.T) {
	targets := makeTargets(3)
	assignment, err := Distribute(targets, nil, model.StrategyEven)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	assert.Len(t, assignment.Unassigned, 3)
	assert.Equal(t, 0, assignment.Assigned())
}

func TestDistribute_Deterministic(t *testing.T) {
	targets := makeTargets(17)
	build := func() []*model.Resource {
		return []*model.Resource{
			makeResource("res_c", 10, 0),
			makeResource("res_a", 10, 0),
			makeResource("res_b", 15, 5),
		}
	}

	first, err := Distribute(targets, build(), model.StrategyWeighted)
	require.NoError(t, err)
	second, err := Distribute(targets, build(), model.StrategyWeighted)
	require.NoError(t, err)

	assert.Equal(t, first.PerResource, second.PerResource)
	assert.Equal(t, first.Unassigned, second.Unassigned)
}
