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

package database

import (
	"context"
	"time"

	"github.com/parakeet-hq/parakeet/model"
)

// IDataSource defines the interface for data source operations, grouping
// related functionalities.
type IDataSource interface {
	ledger
	resource
	campaign
	conversation
	activity
}

// ledger defines the durable exactly-once contact record operations.
type ledger interface {
	// TryMarkContacted is the single authoritative gate for the exactly-once
	// guarantee. Returns alreadyContacted=true when another worker or an
	// earlier run claimed the target first.
	TryMarkContacted(ctx context.Context, targetID string) (alreadyContacted bool, err error)
	MarkHandedOff(ctx context.Context, targetID string) error
	GetLedgerEntry(ctx context.Context, targetID string) (*model.LedgerEntry, error)
	IsContacted(ctx context.Context, targetID string) (bool, error)
}

// resource defines methods for persisting resource records.
type resource interface {
	CreateResource(ctx context.Context, res *model.Resource) error
	GetResource(ctx context.Context, id string) (*model.Resource, error)
	GetAllResources(ctx context.Context) ([]*model.Resource, error)
	GetResourcesByState(ctx context.Context, state model.ResourceState) ([]*model.Resource, error)
	UpdateResourceOutcome(ctx context.Context, res *model.Resource) error
	UpdateResourceState(ctx context.Context, id string, state model.ResourceState) error
	ResetHourlyCounters(ctx context.Context) error
	ResetDailyCounters(ctx context.Context) error
}

// campaign defines methods for campaign lifecycle records.
type campaign interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	GetAllCampaigns(ctx context.Context, limit, offset int) ([]*model.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error
	UpdateCampaignCounters(ctx context.Context, id string, summary model.Summary) error
}

// conversation defines methods for dialogue state records.
type conversation interface {
	UpsertConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, targetID string) (*model.Conversation, error)
	GetEngagedAbove(ctx context.Context, minPriority float64) ([]*model.Conversation, error)
	GetHandoffReady(ctx context.Context, limit int) ([]*model.Conversation, error)
	MarkAbandonedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// activity defines the atomic contact/reply counters the backpressure
// controller samples. Increments must be single-statement upserts so the
// worker pool never serializes behind metrics bookkeeping.
type activity interface {
	IncrementContactCount(ctx context.Context, resourceID string, at time.Time) error
	IncrementReplyCount(ctx context.Context, resourceID string, at time.Time) error
	GetActivityCounts(ctx context.Context, since time.Time) (contacts, replies int64, err error)
	GetResourceActivityCounts(ctx context.Context, since time.Time) (map[string][2]int64, error)
}
