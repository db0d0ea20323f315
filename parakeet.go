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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parakeet-hq/parakeet/cache"
	"github.com/parakeet-hq/parakeet/config"
	"github.com/parakeet-hq/parakeet/database"
	redis_db "github.com/parakeet-hq/parakeet/internal/redis-db"
	"github.com/parakeet-hq/parakeet/internal/tokenbucket"
	"github.com/parakeet-hq/parakeet/model"
)

// Parakeet wires the orchestration core together: resource pool, rate
// limiters, contact ledger, conversation tracker and the dispatch queue.
type Parakeet struct {
	queue        *Queue
	redis        redis.UniversalClient
	datasource   database.IDataSource
	limiter      *tokenbucket.Registry
	pool         *Pool
	ledger       *Ledger
	tracker      *Tracker
	backpressure *Controller
}

// NewParakeet initializes the core with the provided datasource. It fetches
// the configuration, connects Redis, builds the rate limiter classes from
// config and loads the resource inventory.
func NewParakeet(db database.IDataSource) (*Parakeet, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	limiter := tokenbucket.NewRegistry()
	for class, bucketCfg := range configuration.Buckets {
		limiter.Register(class, tokenbucket.NewBucket(
			bucketCfg.Capacity,
			bucketCfg.RefillAmount,
			time.Duration(bucketCfg.RefillIntervalSec)*time.Second,
		))
	}

	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	pool, err := NewPool(db, redisClient.Client())
	if err != nil {
		return nil, err
	}

	ledger := NewLedger(db, newCache)
	tracker := NewTracker(db, ledger)
	controller := NewController(db, limiter, pool)

	newParakeet := &Parakeet{
		queue:        NewQueue(configuration),
		redis:        redisClient.Client(),
		datasource:   db,
		limiter:      limiter,
		pool:         pool,
		ledger:       ledger,
		tracker:      tracker,
		backpressure: controller,
	}
	return newParakeet, nil
}

// Pool exposes the resource pool manager.
func (p *Parakeet) Pool() *Pool {
	return p.pool
}

// Ledger exposes the exactly-once contact ledger.
func (p *Parakeet) Ledger() *Ledger {
	return p.ledger
}

// Tracker exposes the conversation tracker.
func (p *Parakeet) Tracker() *Tracker {
	return p.tracker
}

// Backpressure exposes the pacing controller.
func (p *Parakeet) Backpressure() *Controller {
	return p.backpressure
}

// Limiter exposes the token bucket registry.
func (p *Parakeet) Limiter() *tokenbucket.Registry {
	return p.limiter
}

// TaskQueue exposes the dispatch queue.
func (p *Parakeet) TaskQueue() *Queue {
	return p.queue
}

// CreateCampaign persists a new campaign.
func (p *Parakeet) CreateCampaign(ctx context.Context, campaign *model.Campaign) error {
	return p.datasource.CreateCampaign(ctx, campaign)
}

// GetCampaign returns a campaign by ID.
func (p *Parakeet) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	return p.datasource.GetCampaign(ctx, id)
}

// GetAllCampaigns lists campaigns, newest first.
func (p *Parakeet) GetAllCampaigns(ctx context.Context, limit, offset int) ([]*model.Campaign, error) {
	return p.datasource.GetAllCampaigns(ctx, limit, offset)
}

// SetCampaignStatus moves a campaign between lifecycle states. Used by the
// pause/resume/cancel API.
func (p *Parakeet) SetCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	return p.datasource.UpdateCampaignStatus(ctx, id, status)
}
