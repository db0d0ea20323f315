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
	"sync/atomic"
	"time"
)

type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "PENDING"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignAborted   CampaignStatus = "ABORTED"
)

type DistributionStrategy string

const (
	StrategyEven     DistributionStrategy = "even"
	StrategyWeighted DistributionStrategy = "weighted"
)

// Campaign is a named batch of targets plus its run configuration.
type Campaign struct {
	CampaignID  string               `json:"campaign_id"`
	Name        string               `json:"name"`
	Strategy    DistributionStrategy `json:"strategy"`
	Status      CampaignStatus       `json:"status"`
	Tags        []string             `json:"tags,omitempty"` // capability tags required of resources
	Kind        ResourceKind         `json:"kind"`
	Template    string               `json:"template"`
	Sent        int64                `json:"sent"`
	Failed      int64                `json:"failed"`
	Skipped     int64                `json:"skipped"`
	Deferred    int64                `json:"deferred"`
	CreatedAt   time.Time            `json:"created_at"`
	CompletedAt time.Time            `json:"completed_at,omitempty"`
}

func NewCampaign(name string, strategy DistributionStrategy) *Campaign {
	return &Campaign{
		CampaignID: GenerateUUIDWithSuffix("cmp"),
		Name:       name,
		Strategy:   strategy,
		Status:     CampaignPending,
		Kind:       KindAccount,
		CreatedAt:  time.Now(),
	}
}

// Progress tracks a running campaign's counters. Updated with atomic
// increments so the worker pool never serializes behind bookkeeping.
type Progress struct {
	sent     atomic.Int64
	failed   atomic.Int64
	skipped  atomic.Int64
	deferred atomic.Int64
	inFlight atomic.Int64
}

func (p *Progress) AddSent()          { p.sent.Add(1) }
func (p *Progress) AddFailed()        { p.failed.Add(1) }
func (p *Progress) AddSkipped(n int)  { p.skipped.Add(int64(n)) }
func (p *Progress) AddDeferred(n int) { p.deferred.Add(int64(n)) }
func (p *Progress) OperationStarted() { p.inFlight.Add(1) }
func (p *Progress) OperationDone()    { p.inFlight.Add(-1) }

// Summary is the end-of-run report. A campaign always completes with one,
// even when most individual operations failed.
type Summary struct {
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Skipped  int64 `json:"skipped"`
	Deferred int64 `json:"deferred"`
	InFlight int64 `json:"in_flight"`
}

func (p *Progress) Snapshot() Summary {
	return Summary{
		Sent:     p.sent.Load(),
		Failed:   p.failed.Load(),
		Skipped:  p.skipped.Load(),
		Deferred: p.deferred.Load(),
		InFlight: p.inFlight.Load(),
	}
}
