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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/parakeet-hq/parakeet/config"
	"github.com/parakeet-hq/parakeet/database"
	"github.com/parakeet-hq/parakeet/internal/tokenbucket"
)

// Controller adapts outbound pacing to the observed reply rate. A high reply
// rate here is a risk signal: the system is drawing attention, so pacing
// slows down. A low rate relaxes pacing back toward the configured floor.
type Controller struct {
	mu         sync.Mutex
	datasource database.IDataSource
	buckets    *tokenbucket.Registry
	pool       *Pool

	smoothed    float64
	initialized bool
	perResource map[string]float64

	now func() time.Time
}

func NewController(ds database.IDataSource, buckets *tokenbucket.Registry, pool *Pool) *Controller {
	return &Controller{
		datasource:  ds,
		buckets:     buckets,
		pool:        pool,
		perResource: make(map[string]float64),
		now:         time.Now,
	}
}

// Run evaluates the signal on the configured period until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	cfg, err := config.Fetch()
	if err != nil {
		logrus.Errorf("backpressure controller could not load config: %v", err)
		return
	}
	ticker := time.NewTicker(time.Duration(cfg.Backpressure.PeriodSec) * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Evaluate(ctx); err != nil {
					logrus.Errorf("backpressure evaluation failed: %v", err)
				}
			}
		}
	}()
}

// Evaluate samples the trailing activity window, smooths the reply rate and
// adjusts the contact bucket's refill interval and the pool's settle window.
// One evaluation moves pacing at most one multiplicative step, so sustained
// signal produces monotonic adjustment rather than oscillation.
func (c *Controller) Evaluate(ctx context.Context) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	bp := cfg.Backpressure
	since := c.now().Add(-time.Duration(bp.WindowMinutes) * time.Minute)

	contacts, replies, err := c.datasource.GetActivityCounts(ctx, since)
	if err != nil {
		return err
	}

	rate := 0.0
	if contacts > 0 {
		rate = float64(replies) / float64(contacts)
	}

	c.mu.Lock()
	if !c.initialized {
		c.smoothed = rate
		c.initialized = true
	} else {
		c.smoothed = bp.SmoothingAlpha*rate + (1-bp.SmoothingAlpha)*c.smoothed
	}
	smoothed := c.smoothed
	c.mu.Unlock()

	if err := c.refreshPerResource(ctx, since); err != nil {
		logrus.Debugf("per-resource rate refresh failed: %v", err)
	}

	bucket, err := c.buckets.Get("contact")
	if err != nil {
		return err
	}
	current := bucket.RefillInterval()
	minInterval := time.Duration(bp.MinRefillIntervalSec) * time.Second
	maxInterval := time.Duration(bp.MaxRefillIntervalSec) * time.Second

	switch {
	case smoothed > bp.HighThreshold:
		next := time.Duration(float64(current) * bp.AdjustFactor)
		if next > maxInterval {
			next = maxInterval
		}
		if next != current {
			bucket.SetRefillInterval(next)
			c.widenSettle(cfg, next, minInterval)
			logrus.WithField("reply_rate", smoothed).
				Warnf("throttling: refill interval %s -> %s", current, next)
		}
	case smoothed < bp.LowThreshold:
		next := time.Duration(float64(current) / bp.AdjustFactor)
		if next < minInterval {
			next = minInterval
		}
		if next != current {
			bucket.SetRefillInterval(next)
			c.widenSettle(cfg, next, minInterval)
			logrus.Infof("relaxing: refill interval %s -> %s", current, next)
		}
	}
	return nil
}

// widenSettle scales the pool's settle delay window with the same ratio the
// refill interval moved, so both pacing levers stay aligned.
func (c *Controller) widenSettle(cfg *config.Configuration, interval, minInterval time.Duration) {
	if c.pool == nil || minInterval <= 0 {
		return
	}
	ratio := float64(interval) / float64(minInterval)
	min := time.Duration(float64(cfg.Pool.SettleDelayMinMs)*ratio) * time.Millisecond
	max := time.Duration(float64(cfg.Pool.SettleDelayMaxMs)*ratio) * time.Millisecond
	c.pool.SetSettleRange(min, max)
}

func (c *Controller) refreshPerResource(ctx context.Context, since time.Time) error {
	counts, err := c.datasource.GetResourceActivityCounts(ctx, since)
	if err != nil {
		return err
	}
	rates := make(map[string]float64, len(counts))
	for resourceID, pair := range counts {
		if pair[0] == 0 {
			continue
		}
		rates[resourceID] = float64(pair[1]) / float64(pair[0])
	}
	c.mu.Lock()
	c.perResource = rates
	c.mu.Unlock()
	return nil
}

// ReplyRate returns the current smoothed global reply rate.
func (c *Controller) ReplyRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smoothed
}

// ResourceRates returns a copy of the per-resource reply rates from the last
// evaluation.
func (c *Controller) ResourceRates() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.perResource))
	for k, v := range c.perResource {
		out[k] = v
	}
	return out
}
