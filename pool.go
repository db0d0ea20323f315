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
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/parakeet-hq/parakeet/config"
	"github.com/parakeet-hq/parakeet/database"
	redlock "github.com/parakeet-hq/parakeet/internal/lock"
	"github.com/parakeet-hq/parakeet/internal/notification"
	"github.com/parakeet-hq/parakeet/model"
)

// AcquireCriteria narrows which resources satisfy an acquisition.
type AcquireCriteria struct {
	Kind    model.ResourceKind
	Tags    []string
	Exclude []string // resource IDs to skip, e.g. already bound elsewhere
}

// Lease is a held resource plus the cross-process lock backing it. Callers
// must hand it back through Pool.Release exactly once.
type Lease struct {
	Resource *model.Resource
	locker   *redlock.Locker
}

// Pool manages the resource inventory. In-memory state is authoritative for
// selection; every outcome is persisted through the datasource, and a Redis
// lock guards each held resource against other processes.
type Pool struct {
	mu         sync.Mutex
	resources  map[string]*model.Resource
	datasource database.IDataSource
	redis      redis.UniversalClient

	settleRange settleWindow
}

// settleWindow holds the settle delay bounds. The backpressure controller
// widens them under throttle, so access is guarded separately from the pool
// map.
type settleWindow struct {
	mu       sync.RWMutex
	min, max time.Duration
}

func (r *settleWindow) set(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.min, r.max = min, max
}

func (r *settleWindow) bounds() (time.Duration, time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.min, r.max
}

// NewPool loads the resource inventory from the datasource.
func NewPool(ds database.IDataSource, redisClient redis.UniversalClient) (*Pool, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	resources, err := ds.GetAllResources(context.Background())
	if err != nil {
		return nil, err
	}

	p := &Pool{
		resources:  make(map[string]*model.Resource, len(resources)),
		datasource: ds,
		redis:      redisClient,
	}
	p.settleRange.set(
		time.Duration(cfg.Pool.SettleDelayMinMs)*time.Millisecond,
		time.Duration(cfg.Pool.SettleDelayMaxMs)*time.Millisecond,
	)
	for _, res := range resources {
		if res.State == model.StateRetired {
			continue
		}
		p.resources[res.ResourceID] = res
	}
	return p, nil
}

// Register adds a new resource to the pool and persists it. Ramp caps are
// applied from the resource age before the first write.
func (p *Pool) Register(ctx context.Context, res *model.Resource) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	res.ApplyRampCaps(time.Now(), cfg.Pool.RampAgeDays, cfg.Pool.RampHourlyCap,
		cfg.Pool.RampDailyCap, cfg.Pool.FullHourlyCap, cfg.Pool.FullDailyCap)

	if err := p.datasource.CreateResource(ctx, res); err != nil {
		return err
	}
	p.mu.Lock()
	p.resources[res.ResourceID] = res
	p.mu.Unlock()
	return nil
}

// Acquire hands out the healthiest eligible resource matching the criteria,
// flipping it to InUse and taking its Redis lock. Ties on health go to the
// least recently used resource, which spreads load across the pool.
//
// Returns ErrUnavailable when nothing matches; the caller decides whether to
// wait or surface the condition.
func (p *Pool) Acquire(ctx context.Context, criteria AcquireCriteria) (*Lease, error) {
	p.mu.Lock()
	candidate := p.selectLocked(criteria)
	if candidate == nil {
		p.mu.Unlock()
		return nil, ErrUnavailable
	}
	candidate.State = model.StateInUse
	p.mu.Unlock()

	locker := redlock.NewResourceLocker(p.redis, candidate.ResourceID, model.GenerateUUIDWithSuffix("loc"))
	if err := locker.Lock(ctx, 2*time.Minute); err != nil {
		// Another process holds it. Roll back the local claim.
		p.mu.Lock()
		if candidate.State == model.StateInUse {
			candidate.State = model.StateReady
		}
		p.mu.Unlock()
		return nil, ErrUnavailable
	}

	if err := p.datasource.UpdateResourceState(ctx, candidate.ResourceID, model.StateInUse); err != nil {
		logrus.Errorf("failed to persist acquisition of %s: %v", candidate.ResourceID, err)
	}
	return &Lease{Resource: candidate, locker: locker}, nil
}

// selectLocked picks the best candidate under p.mu. Highest health wins,
// oldest LastUsedAt breaks ties.
func (p *Pool) selectLocked(criteria AcquireCriteria) *model.Resource {
	excluded := make(map[string]struct{}, len(criteria.Exclude))
	for _, id := range criteria.Exclude {
		excluded[id] = struct{}{}
	}

	var best *model.Resource
	for _, res := range p.resources {
		if _, skip := excluded[res.ResourceID]; skip {
			continue
		}
		if criteria.Kind != "" && res.Kind != criteria.Kind {
			continue
		}
		if !res.CanUse() || !res.MatchesTags(criteria.Tags) {
			continue
		}
		if best == nil ||
			res.HealthScore > best.HealthScore ||
			(res.HealthScore == best.HealthScore && res.LastUsedAt.Before(best.LastUsedAt)) {
			best = res
		}
	}
	return best
}

// Release returns a leased resource after an operation, applying the outcome
// to health, quota counters and the error streak. A randomized settle delay
// keeps the resource out of circulation briefly so consecutive outbound
// actions through one identity are never back to back.
func (p *Pool) Release(ctx context.Context, lease *Lease, result *model.ActionResult) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	res := lease.Resource
	now := time.Now()

	p.mu.Lock()
	switch {
	case result == nil:
		// No action was performed; hand the resource back untouched.
	case result.Success:
		res.RecordSuccess(cfg.Pool.HealthSuccessDelta, now)
	default:
		res.RecordFailure(cfg.Pool.HealthFailureDelta, now,
			time.Duration(cfg.Pool.CooldownMinutes)*time.Minute)
		if res.ErrorStreak >= cfg.Pool.SuspensionThreshold {
			res.Suspend(now)
			logrus.WithField("resource_id", res.ResourceID).
				Warnf("resource suspended after %d consecutive failures", res.ErrorStreak)
			notification.NotifyError(ErrResourceSuspended)
		}
	}
	suspended := res.State == model.StateSuspended
	p.mu.Unlock()

	if err := p.datasource.UpdateResourceOutcome(ctx, res); err != nil {
		logrus.Errorf("failed to persist outcome for %s: %v", res.ResourceID, err)
	}
	if err := lease.locker.Unlock(ctx); err != nil {
		logrus.Errorf("failed to unlock resource %s: %v", res.ResourceID, err)
	}
	if suspended {
		return nil
	}

	// The settle delay runs off the caller's path.
	go p.settle(res)
	return nil
}

func (p *Pool) settle(res *model.Resource) {
	min, max := p.settleRange.bounds()
	delay := min
	if max > min {
		delay += time.Duration(rand.Int63n(int64(max - min)))
	}
	time.Sleep(delay)

	p.mu.Lock()
	if res.State == model.StateInUse {
		res.State = model.StateReady
	}
	p.mu.Unlock()

	if err := p.datasource.UpdateResourceState(context.Background(), res.ResourceID, model.StateReady); err != nil {
		logrus.Errorf("failed to persist settle of %s: %v", res.ResourceID, err)
	}
}

// SetSettleRange adjusts the pacing window. Called by the backpressure
// controller.
func (p *Pool) SetSettleRange(min, max time.Duration) {
	p.settleRange.set(min, max)
}

// Reap re-admits suspended resources whose cooldown elapsed and whose health
// recovered past the floor. Run from cron.
func (p *Pool) Reap(ctx context.Context) int {
	cfg, err := config.Fetch()
	if err != nil {
		logrus.Errorf("reaper could not load config: %v", err)
		return 0
	}
	cooldown := time.Duration(cfg.Pool.CooldownMinutes) * time.Minute
	now := time.Now()
	recovered := 0

	p.mu.Lock()
	for _, res := range p.resources {
		if res.State != model.StateSuspended {
			continue
		}
		if !res.CooldownElapsed(now, cooldown) {
			continue
		}
		// A resource coming back from suspension restarts at the recovery
		// floor so one early failure does not immediately re-suspend it.
		if res.HealthScore < cfg.Pool.HealthRecoveryFloor {
			res.HealthScore = cfg.Pool.HealthRecoveryFloor
		}
		res.State = model.StateReady
		res.ErrorStreak = 0
		res.SuspendedAt = time.Time{}
		recovered++

		if err := p.datasource.UpdateResourceOutcome(ctx, res); err != nil {
			logrus.Errorf("failed to persist recovery of %s: %v", res.ResourceID, err)
		}
	}
	p.mu.Unlock()

	if recovered > 0 {
		logrus.Infof("reaper recovered %d suspended resource(s)", recovered)
	}
	return recovered
}

// ResetHourly clears hourly quota counters across the pool, in memory and in
// the datasource.
func (p *Pool) ResetHourly(ctx context.Context) error {
	p.mu.Lock()
	for _, res := range p.resources {
		res.ResetHourly()
	}
	p.mu.Unlock()
	return p.datasource.ResetHourlyCounters(ctx)
}

// ResetDaily clears daily quota counters and re-evaluates ramp caps, since a
// resource may have aged past the ramp window overnight.
func (p *Pool) ResetDaily(ctx context.Context) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	now := time.Now()

	p.mu.Lock()
	for _, res := range p.resources {
		res.ResetDaily()
		res.ApplyRampCaps(now, cfg.Pool.RampAgeDays, cfg.Pool.RampHourlyCap,
			cfg.Pool.RampDailyCap, cfg.Pool.FullHourlyCap, cfg.Pool.FullDailyCap)
	}
	p.mu.Unlock()
	return p.datasource.ResetDailyCounters(ctx)
}

// PoolSnapshot is the metrics view of the inventory.
type PoolSnapshot struct {
	Total          int            `json:"total"`
	ByState        map[string]int `json:"by_state"`
	RemainingDaily int            `json:"remaining_daily"`
	AvgHealth      float64        `json:"avg_health"`
}

// Snapshot reports pool composition for the status endpoint.
func (p *Pool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := PoolSnapshot{ByState: make(map[string]int)}
	healthSum := 0
	for _, res := range p.resources {
		snap.Total++
		snap.ByState[string(res.State)]++
		snap.RemainingDaily += res.RemainingDaily()
		healthSum += res.HealthScore
	}
	if snap.Total > 0 {
		snap.AvgHealth = float64(healthSum) / float64(snap.Total)
	}
	return snap
}

// Eligible returns copies of every resource currently usable for the given
// criteria, sorted for the distribution engine by the caller.
func (p *Pool) Eligible(criteria AcquireCriteria) []*model.Resource {
	excluded := make(map[string]struct{}, len(criteria.Exclude))
	for _, id := range criteria.Exclude {
		excluded[id] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := []*model.Resource{}
	for _, res := range p.resources {
		if _, skip := excluded[res.ResourceID]; skip {
			continue
		}
		if criteria.Kind != "" && res.Kind != criteria.Kind {
			continue
		}
		if !res.CanUse() || !res.MatchesTags(criteria.Tags) {
			continue
		}
		resCopy := *res
		out = append(out, &resCopy)
	}
	return out
}

// RemainingCapacity sums the daily headroom of every matching resource that
// could still come back into rotation today. Suspended and retired resources
// do not count; their recovery horizon is the reaper's, not a batch retry's.
// The orchestrator uses this to decide whether a saturated slice is worth
// holding on to.
func (p *Pool) RemainingCapacity(criteria AcquireCriteria) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, res := range p.resources {
		if res.State == model.StateSuspended || res.State == model.StateRetired {
			continue
		}
		if criteria.Kind != "" && res.Kind != criteria.Kind {
			continue
		}
		if !res.MatchesTags(criteria.Tags) {
			continue
		}
		total += res.RemainingDaily()
	}
	return total
}

// Get returns the live resource record, or nil when unknown.
func (p *Pool) Get(resourceID string) *model.Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resources[resourceID]
}
