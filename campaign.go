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
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/parakeet-hq/parakeet/internal/notification"
	"github.com/parakeet-hq/parakeet/model"
)

var tracer = otel.Tracer("Campaign orchestration")

const (
	actionTimeout    = 30 * time.Second
	maxActionRetries = 3
	maxBatchRetries  = 3
)

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

// Orchestrator runs campaigns end to end: ledger filter, distribution,
// dispatch, outcome routing. It owns a circuit breaker around the action
// driver so a failing platform trips fast instead of burning resources.
type Orchestrator struct {
	parakeet *Parakeet
	driver   ActionDriver
	renderer MessageRenderer
	breaker  *gobreaker.CircuitBreaker

	// Direct mode executes dispatches inline instead of enqueueing them.
	// Used by tests and small interactive runs.
	Direct bool

	mu       sync.Mutex
	progress map[string]*model.Progress
}

func NewOrchestrator(p *Parakeet, driver ActionDriver, renderer MessageRenderer) *Orchestrator {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "action-driver",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return &Orchestrator{
		parakeet: p,
		driver:   driver,
		renderer: renderer,
		breaker:  breaker,
		progress: make(map[string]*model.Progress),
	}
}

func (o *Orchestrator) progressFor(campaignID string) *model.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.progress[campaignID]
	if !ok {
		p = &model.Progress{}
		o.progress[campaignID] = p
	}
	return p
}

// Progress returns the live counters for a running campaign, or nil when the
// campaign is unknown to this process.
func (o *Orchestrator) Progress(campaignID string) *model.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress[campaignID]
}

// Run executes a campaign against the given target list. It always returns a
// summary; individual action failures are counted, not propagated. Only
// configuration or storage failures abort the run.
func (o *Orchestrator) Run(ctx context.Context, campaign *model.Campaign, targets []model.Target) (model.Summary, error) {
	ctx, span := tracer.Start(ctx, "Running campaign")
	defer span.End()

	progress := o.progressFor(campaign.CampaignID)

	switch campaign.Status {
	case model.CampaignCompleted, model.CampaignAborted:
		return progress.Snapshot(), ErrCampaignNotRunnable
	}
	campaign.Status = model.CampaignRunning
	if err := o.parakeet.datasource.UpdateCampaignStatus(ctx, campaign.CampaignID, model.CampaignRunning); err != nil {
		return progress.Snapshot(), err
	}

	// Targets already contacted in any earlier run are skipped up front.
	eligible, skipped, err := o.parakeet.ledger.FilterUncontacted(ctx, targets)
	if err != nil {
		return o.finish(ctx, campaign, progress), logAndRecordError(span, "ledger filter failed: ", err)
	}
	progress.AddSkipped(skipped)

	criteria := AcquireCriteria{Kind: campaign.Kind, Tags: campaign.Tags}
	bo := backoff.NewExponentialBackOff()
	pending := eligible
	halted := false

	// Each wave distributes whatever is still pending over the currently
	// eligible resources. Targets the pool could not serve this wave come
	// back as pending and get another wave after a backoff, as long as
	// capacity can still free up.
waves:
	for attempt := 0; len(pending) > 0; attempt++ {
		resources := o.parakeet.pool.Eligible(criteria)
		assignment, err := Distribute(pending, resources, campaign.Strategy)
		if err != nil && err != ErrCapacityExhausted {
			return o.finish(ctx, campaign, progress), logAndRecordError(span, "distribution failed: ", err)
		}

		var wg sync.WaitGroup
		var retryMu sync.Mutex
		retry := []model.Target{}
		for resourceID, assigned := range assignment.PerResource {
			for _, target := range assigned {
				if !o.issuable(ctx, campaign) {
					halted = true
					wg.Wait()
					break waves
				}
				message, err := o.renderer.Render(ctx, campaign, target)
				if err != nil {
					progress.AddFailed()
					continue
				}
				payload := &DispatchPayload{
					CampaignID: campaign.CampaignID,
					ResourceID: resourceID,
					Target:     target,
					Message:    message,
				}
				if o.Direct {
					wg.Add(1)
					go func(pl *DispatchPayload) {
						defer wg.Done()
						if derr := o.Dispatch(ctx, pl); errors.Is(derr, ErrUnavailable) {
							// No claim was spent; the target goes back
							// into the next wave.
							retryMu.Lock()
							retry = append(retry, pl.Target)
							retryMu.Unlock()
						}
					}(payload)
					continue
				}
				if err := o.parakeet.queue.EnqueueDispatch(ctx, payload); err != nil {
					logrus.Errorf("enqueue failed for target %s: %v", target.TargetID, err)
					progress.AddFailed()
				}
			}
		}
		wg.Wait()

		pending = append(retry, assignment.Unassigned...)
		if len(pending) == 0 {
			break
		}
		// Queued mode hands transient shortages to asynq's per-task retry;
		// only the direct path re-waves here. A pool with no daily headroom
		// left cannot improve on any batch timescale either.
		if !o.Direct || attempt >= maxBatchRetries || o.parakeet.pool.RemainingCapacity(criteria) == 0 {
			break
		}
		logrus.Infof("campaign %s: pool saturated, retrying %d target(s)", campaign.CampaignID, len(pending))
		select {
		case <-ctx.Done():
			halted = true
			break waves
		case <-time.After(bo.NextBackOff()):
		}
	}

	// Pause and Cancel leave unissued targets uncounted; they belong to a
	// later resume, not to this summary.
	if len(pending) > 0 && !halted {
		progress.AddDeferred(len(pending))
		logrus.Warnf("campaign %s: %d target(s) deferred beyond pool capacity", campaign.CampaignID, len(pending))
	}

	if o.Direct {
		return o.finish(ctx, campaign, progress), nil
	}
	// Queued mode: workers drive the counters; the run returns once the
	// batch is handed off.
	summary := progress.Snapshot()
	if err := o.parakeet.datasource.UpdateCampaignCounters(ctx, campaign.CampaignID, summary); err != nil {
		logrus.Errorf("failed to persist campaign counters: %v", err)
	}
	return summary, nil
}

// issuable rechecks the campaign status at each issue point so Pause and
// Cancel take effect mid-batch.
func (o *Orchestrator) issuable(ctx context.Context, campaign *model.Campaign) bool {
	if ctx.Err() != nil {
		return false
	}
	current, err := o.parakeet.datasource.GetCampaign(ctx, campaign.CampaignID)
	if err != nil {
		// Storage gone; stop issuing, in-flight work drains normally.
		return false
	}
	return current.Status == model.CampaignRunning
}

// Dispatch executes one outbound operation: rate limit, resource
// acquisition, ledger claim, breaker-wrapped action, outcome routing. This
// is both the direct-mode path and the asynq worker body. It returns
// ErrUnavailable when no resource could be acquired; no claim is spent in
// that case, so the caller may safely retry the same target later. Every
// other outcome is routed internally and returns nil.
func (o *Orchestrator) Dispatch(ctx context.Context, payload *DispatchPayload) error {
	ctx, span := tracer.Start(ctx, "Dispatching outbound action")
	defer span.End()

	progress := o.progressFor(payload.CampaignID)
	progress.OperationStarted()
	defer progress.OperationDone()

	bucket, err := o.parakeet.limiter.Get("contact")
	if err != nil {
		progress.AddFailed()
		return nil
	}
	if err := bucket.Take(ctx, 1); err != nil {
		progress.AddFailed()
		return nil
	}

	lease, err := o.acquireForDispatch(ctx, payload.ResourceID)
	if err != nil {
		span.RecordError(err)
		return ErrUnavailable
	}

	// The ledger claim is the point of no return for exactly-once. It is
	// taken with the resource already in hand, immediately before the
	// action, so a claim is only ever spent on an attempted contact. A
	// failed action after a claim stays spent, which is the safe side of
	// the guarantee.
	claimed, err := o.parakeet.ledger.TryClaim(ctx, payload.Target.TargetID)
	if err != nil {
		span.RecordError(err)
		o.returnLease(ctx, lease)
		progress.AddFailed()
		return nil
	}
	if !claimed {
		o.returnLease(ctx, lease)
		progress.AddSkipped(1)
		return nil
	}

	result := o.performWithRetry(ctx, lease.Resource, payload)
	if err := o.parakeet.pool.Release(ctx, lease, result); err != nil {
		logrus.Errorf("release failed for %s: %v", lease.Resource.ResourceID, err)
	}

	if result != nil && result.Success {
		progress.AddSent()
		if err := o.parakeet.tracker.RecordContact(ctx, payload.Target.TargetID, lease.Resource.ResourceID); err != nil {
			logrus.Errorf("failed to record contact for %s: %v", payload.Target.TargetID, err)
		}
		go func() {
			if err := SendWebhook(NewWebhook{
				Event:   "contact.sent",
				Payload: payload,
			}); err != nil {
				notification.NotifyError(err)
			}
		}()
	} else {
		progress.AddFailed()
	}

	summary := progress.Snapshot()
	if err := o.parakeet.datasource.UpdateCampaignCounters(ctx, payload.CampaignID, summary); err != nil {
		logrus.Errorf("failed to persist campaign counters: %v", err)
	}
	return nil
}

// returnLease hands back a resource no action was performed with. A nil
// outcome leaves health and quota untouched.
func (o *Orchestrator) returnLease(ctx context.Context, lease *Lease) {
	if err := o.parakeet.pool.Release(ctx, lease, nil); err != nil {
		logrus.Errorf("release failed for %s: %v", lease.Resource.ResourceID, err)
	}
}

// acquireForDispatch prefers the resource the distribution engine chose but
// falls back to any eligible one, since quota or suspension may have changed
// between planning and execution.
func (o *Orchestrator) acquireForDispatch(ctx context.Context, resourceID string) (*Lease, error) {
	res := o.parakeet.pool.Get(resourceID)
	if res != nil && res.CanUse() {
		lease, err := o.parakeet.pool.Acquire(ctx, AcquireCriteria{Kind: res.Kind, Tags: res.Tags})
		if err == nil {
			return lease, nil
		}
	}
	return o.parakeet.pool.Acquire(ctx, AcquireCriteria{})
}

// performWithRetry calls the driver through the circuit breaker with a hard
// timeout, retrying transient failures with exponential backoff. Permanent
// failures and open-breaker rejections return immediately.
func (o *Orchestrator) performWithRetry(ctx context.Context, resource *model.Resource, payload *DispatchPayload) *model.ActionResult {
	var result *model.ActionResult

	operation := func() error {
		actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()

		out, err := o.breaker.Execute(func() (interface{}, error) {
			return o.driver.PerformAction(actionCtx, resource, payload.Target, payload.Message)
		})
		if err != nil {
			if IsTransient(err) || err == context.DeadlineExceeded {
				return err
			}
			return backoff.Permanent(err)
		}
		result = out.(*model.ActionResult)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxActionRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		logrus.WithFields(logrus.Fields{
			"resource_id": resource.ResourceID,
			"target_id":   payload.Target.TargetID,
		}).Errorf("action failed: %v", err)
		return &model.ActionResult{Success: false, ErrorKind: "action_failed"}
	}
	return result
}

// finish marks the campaign complete and persists the final counters. Always
// produces a summary, even when every operation failed.
func (o *Orchestrator) finish(ctx context.Context, campaign *model.Campaign, progress *model.Progress) model.Summary {
	summary := progress.Snapshot()

	campaign.Status = model.CampaignCompleted
	if err := o.parakeet.datasource.UpdateCampaignStatus(ctx, campaign.CampaignID, model.CampaignCompleted); err != nil {
		logrus.Errorf("failed to mark campaign %s complete: %v", campaign.CampaignID, err)
	}
	if err := o.parakeet.datasource.UpdateCampaignCounters(ctx, campaign.CampaignID, summary); err != nil {
		logrus.Errorf("failed to persist campaign counters: %v", err)
	}
	logrus.WithFields(logrus.Fields{
		"campaign_id": campaign.CampaignID,
		"sent":        summary.Sent,
		"failed":      summary.Failed,
		"skipped":     summary.Skipped,
		"deferred":    summary.Deferred,
	}).Info("campaign finished")
	return summary
}
