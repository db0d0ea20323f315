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
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parakeet-hq/parakeet/config"
	"github.com/parakeet-hq/parakeet/internal/tokenbucket"
	"github.com/parakeet-hq/parakeet/model"
)

type failDriver struct{}

func (failDriver) PerformAction(context.Context, *model.Resource, model.Target, string) (*model.ActionResult, error) {
	return nil, errors.New("platform rejected the action")
}

// slowDriver holds its resource for a while, so concurrent dispatches
// genuinely contend for the pool.
type slowDriver struct {
	hold  time.Duration
	calls atomic.Int64
}

func (d *slowDriver) PerformAction(context.Context, *model.Resource, model.Target, string) (*model.ActionResult, error) {
	d.calls.Add(1)
	time.Sleep(d.hold)
	return &model.ActionResult{Success: true}, nil
}

func newTestCore(t *testing.T) (*Parakeet, *MockDataSource) {
	t.Helper()
	config.MockConfig(&config.Configuration{})
	cfg, err := config.Fetch()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ds := NewMockDataSource()
	pool, err := NewPool(ds, client)
	require.NoError(t, err)
	pool.SetSettleRange(0, 0)

	limiter := tokenbucket.NewRegistry()
	for class, bucketCfg := range cfg.Buckets {
		limiter.Register(class, tokenbucket.NewBucket(
			bucketCfg.Capacity, bucketCfg.RefillAmount,
			time.Duration(bucketCfg.RefillIntervalSec)*time.Second))
	}

	ledger := NewLedger(ds, nil)
	tracker := NewTracker(ds, ledger)
	return &Parakeet{
		redis:        client,
		datasource:   ds,
		limiter:      limiter,
		pool:         pool,
		ledger:       ledger,
		tracker:      tracker,
		backpressure: NewController(ds, limiter, pool),
	}, ds
}

func seedCampaign(t *testing.T, p *Parakeet, ds *MockDataSource, resources int) *model.Campaign {
	t.Helper()
	for i := 0; i < resources; i++ {
		res := makeResource(model.GenerateUUIDWithSuffix("res"), 40, 0)
		require.NoError(t, p.pool.Register(context.Background(), res))
	}

	campaign := model.NewCampaign("spring outreach", model.StrategyEven)
	campaign.Template = "hey {{handle}}, quick question"
	require.NoError(t, ds.CreateCampaign(context.Background(), campaign))
	return campaign
}

func TestCampaignRun_AllSent(t *testing.T) {
	core, ds := newTestCore(t)
	campaign := seedCampaign(t, core, ds, 3)

	orchestrator := NewOrchestrator(core, &LogDriver{}, TemplateRenderer{})
	orchestrator.Direct = true

	summary, err := orchestrator.Run(context.Background(), campaign, makeTargets(3))
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Sent)
	assert.Equal(t, int64(0), summary.Failed)
	assert.Equal(t, int64(0), summary.Skipped)
	assert.Equal(t, model.CampaignCompleted, campaign.Status)

	stored, err := ds.GetCampaign(context.Background(), campaign.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Sent)
}

func TestCampaignRun_TargetsRacingOnOneResource(t *testing.T) {
	core, ds := newTestCore(t)
	campaign := seedCampaign(t, core, ds, 1)
	targets := makeTargets(2)

	driver := &slowDriver{hold: 100 * time.Millisecond}
	orchestrator := NewOrchestrator(core, driver, TemplateRenderer{})
	orchestrator.Direct = true

	summary, err := orchestrator.Run(context.Background(), campaign, targets)
	require.NoError(t, err)

	// The loser of the acquisition race spends no claim and gets another
	// wave, so both targets see a real attempt against the platform.
	assert.Equal(t, int64(2), summary.Sent)
	assert.Equal(t, int64(0), summary.Failed)
	assert.Equal(t, int64(0), summary.Deferred)
	assert.Equal(t, int64(2), driver.calls.Load())

	for _, target := range targets {
		contacted, err := ds.IsContacted(context.Background(), target.TargetID)
		require.NoError(t, err)
		assert.True(t, contacted, "every sent target must hold a ledger entry")
	}
}

func TestDispatchUnavailableSpendsNoClaim(t *testing.T) {
	core, ds := newTestCore(t)

	orchestrator := NewOrchestrator(core, &LogDriver{}, TemplateRenderer{})
	target := model.NewTarget("@nobody_home")

	// An empty pool surfaces as a retriable error so queue workers can
	// reschedule the task instead of burning the target.
	err := orchestrator.Dispatch(context.Background(), &DispatchPayload{
		CampaignID: "cmp_empty",
		Target:     target,
		Message:    "hello",
	})
	assert.ErrorIs(t, err, ErrUnavailable)

	contacted, err := ds.IsContacted(context.Background(), target.TargetID)
	require.NoError(t, err)
	assert.False(t, contacted)
}

func TestCampaignRun_OverflowDeferredWhenPoolExhausted(t *testing.T) {
	core, ds := newTestCore(t)

	res := makeResource("res_tiny", 1, 0)
	require.NoError(t, core.pool.Register(context.Background(), res))
	res.HourlyCap = 1
	res.DailyCap = 1

	campaign := model.NewCampaign("tiny pool", model.StrategyEven)
	campaign.Template = "hey {{handle}}"
	require.NoError(t, ds.CreateCampaign(context.Background(), campaign))

	orchestrator := NewOrchestrator(core, &LogDriver{}, TemplateRenderer{})
	orchestrator.Direct = true

	targets := makeTargets(2)
	summary, err := orchestrator.Run(context.Background(), campaign, targets)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Sent)
	assert.Equal(t, int64(0), summary.Failed)
	assert.Equal(t, int64(1), summary.Deferred)

	// The deferred target spent no claim; a later run can still reach it.
	uncontacted := 0
	for _, target := range targets {
		contacted, err := ds.IsContacted(context.Background(), target.TargetID)
		require.NoError(t, err)
		if !contacted {
			uncontacted++
		}
	}
	assert.Equal(t, 1, uncontacted)

	stored, err := ds.GetCampaign(context.Background(), campaign.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Deferred)
}

func TestCampaignRun_SkipsContactedTargets(t *testing.T) {
	core, ds := newTestCore(t)
	campaign := seedCampaign(t, core, ds, 3)
	targets := makeTargets(3)

	claimed, err := core.ledger.TryClaim(context.Background(), targets[0].TargetID)
	require.NoError(t, err)
	require.True(t, claimed)

	orchestrator := NewOrchestrator(core, &LogDriver{}, TemplateRenderer{})
	orchestrator.Direct = true

	summary, err := orchestrator.Run(context.Background(), campaign, targets)
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Sent)
	assert.Equal(t, int64(1), summary.Skipped)
}

func TestCampaignRun_FailuresCountedNotPropagated(t *testing.T) {
	core, ds := newTestCore(t)
	campaign := seedCampaign(t, core, ds, 3)

	orchestrator := NewOrchestrator(core, failDriver{}, TemplateRenderer{})
	orchestrator.Direct = true

	summary, err := orchestrator.Run(context.Background(), campaign, makeTargets(3))
	require.NoError(t, err, "individual action failures must not abort the run")

	assert.Equal(t, int64(0), summary.Sent)
	assert.Equal(t, int64(3), summary.Failed)
	assert.Equal(t, model.CampaignCompleted, campaign.Status)
}

func TestCampaignRun_FailedActionStillSpendsClaim(t *testing.T) {
	core, ds := newTestCore(t)
	campaign := seedCampaign(t, core, ds, 1)
	targets := makeTargets(1)

	orchestrator := NewOrchestrator(core, failDriver{}, TemplateRenderer{})
	orchestrator.Direct = true

	_, err := orchestrator.Run(context.Background(), campaign, targets)
	require.NoError(t, err)

	// The claim happened before the action, so the target is burned. The
	// safe side of exactly-once: never a second contact attempt.
	contacted, err := ds.IsContacted(context.Background(), targets[0].TargetID)
	require.NoError(t, err)
	assert.True(t, contacted)
}

func TestCampaignRun_NotRunnableWhenFinished(t *testing.T) {
	core, ds := newTestCore(t)
	campaign := seedCampaign(t, core, ds, 1)
	campaign.Status = model.CampaignAborted

	orchestrator := NewOrchestrator(core, &LogDriver{}, TemplateRenderer{})
	orchestrator.Direct = true

	_, err := orchestrator.Run(context.Background(), campaign, makeTargets(1))
	assert.ErrorIs(t, err, ErrCampaignNotRunnable)
}

func TestCampaignRun_CancelledContextIssuesNothing(t *testing.T) {
	core, ds := newTestCore(t)
	campaign := seedCampaign(t, core, ds, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orchestrator := NewOrchestrator(core, &LogDriver{}, TemplateRenderer{})
	orchestrator.Direct = true

	summary, err := orchestrator.Run(ctx, campaign, makeTargets(3))
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Sent)
}

func TestCampaignRun_SuccessRecordsConversations(t *testing.T) {
	core, ds := newTestCore(t)
	campaign := seedCampaign(t, core, ds, 2)
	targets := makeTargets(2)

	orchestrator := NewOrchestrator(core, &LogDriver{}, TemplateRenderer{})
	orchestrator.Direct = true

	_, err := orchestrator.Run(context.Background(), campaign, targets)
	require.NoError(t, err)

	for _, target := range targets {
		conv, err := ds.GetConversation(context.Background(), target.TargetID)
		require.NoError(t, err)
		assert.Equal(t, model.StageAwaitingReply, conv.Stage)
		assert.NotEmpty(t, conv.ResourceID)
	}
}
