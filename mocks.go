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
	"sort"
	"sync"
	"time"

	"github.com/parakeet-hq/parakeet/internal/apierror"
	"github.com/parakeet-hq/parakeet/model"
)

// MockDataSource is an in-memory database.IDataSource used by service-level
// tests and dry runs. The contact ledger claim is guarded by a mutex so it
// exhibits the same first-caller-wins behaviour as the SQL implementation.
type MockDataSource struct {
	mu            sync.Mutex
	ledger        map[string]*model.LedgerEntry
	resources     map[string]*model.Resource
	campaigns     map[string]*model.Campaign
	conversations map[string]*model.Conversation
	contacts      map[string]int64
	replies       map[string]int64
}

func NewMockDataSource() *MockDataSource {
	return &MockDataSource{
		ledger:        make(map[string]*model.LedgerEntry),
		resources:     make(map[string]*model.Resource),
		campaigns:     make(map[string]*model.Campaign),
		conversations: make(map[string]*model.Conversation),
		contacts:      make(map[string]int64),
		replies:       make(map[string]int64),
	}
}

func (m *MockDataSource) TryMarkContacted(_ context.Context, targetID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ledger[targetID]
	if ok && entry.Contacted {
		return true, nil
	}
	now := time.Now()
	if !ok {
		entry = &model.LedgerEntry{TargetID: targetID, FirstSeenAt: now}
		m.ledger[targetID] = entry
	}
	entry.Contacted = true
	entry.ContactedAt = now
	return false, nil
}

func (m *MockDataSource) MarkHandedOff(_ context.Context, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ledger[targetID]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Ledger entry not found", targetID)
	}
	entry.HandedOff = true
	entry.HandedOffAt = time.Now()
	return nil
}

func (m *MockDataSource) GetLedgerEntry(_ context.Context, targetID string) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ledger[targetID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Ledger entry not found", targetID)
	}
	entryCopy := *entry
	return &entryCopy, nil
}

func (m *MockDataSource) IsContacted(_ context.Context, targetID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ledger[targetID]
	return ok && entry.Contacted, nil
}

func (m *MockDataSource) CreateResource(_ context.Context, res *model.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.resources[res.ResourceID]; exists {
		return apierror.NewAPIError(apierror.ErrConflict, "Resource already exists", res.ResourceID)
	}
	m.resources[res.ResourceID] = res
	return nil
}

func (m *MockDataSource) GetResource(_ context.Context, id string) (*model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.resources[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", id)
	}
	return res, nil
}

func (m *MockDataSource) GetAllResources(_ context.Context) ([]*model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Resource, 0, len(m.resources))
	for _, res := range m.resources {
		out = append(out, res)
	}
	return out, nil
}

func (m *MockDataSource) GetResourcesByState(_ context.Context, state model.ResourceState) ([]*model.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Resource{}
	for _, res := range m.resources {
		if res.State == state {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *MockDataSource) UpdateResourceOutcome(_ context.Context, res *model.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[res.ResourceID] = res
	return nil
}

func (m *MockDataSource) UpdateResourceState(_ context.Context, id string, state model.ResourceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.resources[id]; ok {
		res.State = state
	}
	return nil
}

func (m *MockDataSource) ResetHourlyCounters(_ context.Context) error {
	return nil
}

func (m *MockDataSource) ResetDailyCounters(_ context.Context) error {
	return nil
}

func (m *MockDataSource) CreateCampaign(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.CampaignID] = c
	return nil
}

func (m *MockDataSource) GetCampaign(_ context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Campaign not found", id)
	}
	return c, nil
}

func (m *MockDataSource) GetAllCampaigns(_ context.Context, _, _ int) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		out = append(out, c)
	}
	return out, nil
}

func (m *MockDataSource) UpdateCampaignStatus(_ context.Context, id string, status model.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Campaign not found", id)
	}
	c.Status = status
	return nil
}

func (m *MockDataSource) UpdateCampaignCounters(_ context.Context, id string, summary model.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Campaign not found", id)
	}
	c.Sent = summary.Sent
	c.Failed = summary.Failed
	c.Skipped = summary.Skipped
	c.Deferred = summary.Deferred
	return nil
}

func (m *MockDataSource) UpsertConversation(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.conversations[conv.TargetID]; ok {
		// Resource binding is sticky, same as the SQL upsert.
		conv.ResourceID = existing.ResourceID
	}
	m.conversations[conv.TargetID] = conv
	return nil
}

func (m *MockDataSource) GetConversation(_ context.Context, targetID string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[targetID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Conversation not found", targetID)
	}
	return conv, nil
}

func (m *MockDataSource) GetEngagedAbove(_ context.Context, minPriority float64) ([]*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Conversation{}
	for _, conv := range m.conversations {
		if conv.Stage == model.StageEngaged && conv.Priority >= minPriority {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (m *MockDataSource) GetHandoffReady(_ context.Context, limit int) ([]*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Conversation{}
	for _, conv := range m.conversations {
		if conv.Stage == model.StageHandoffReady {
			out = append(out, conv)
		}
	}
	// Match the SQL implementation's ordering so callers see a stable view.
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockDataSource) MarkAbandonedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var swept int64
	for _, conv := range m.conversations {
		if conv.Stage.Terminal() {
			continue
		}
		last := conv.CreatedAt
		if conv.LastOutboundAt.After(last) {
			last = conv.LastOutboundAt
		}
		if conv.LastInboundAt.After(last) {
			last = conv.LastInboundAt
		}
		if last.Before(cutoff) {
			conv.Stage = model.StageAbandoned
			swept++
		}
	}
	return swept, nil
}

func (m *MockDataSource) IncrementContactCount(_ context.Context, resourceID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[resourceID]++
	return nil
}

func (m *MockDataSource) IncrementReplyCount(_ context.Context, resourceID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[resourceID]++
	return nil
}

func (m *MockDataSource) GetActivityCounts(_ context.Context, _ time.Time) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var contacts, replies int64
	for _, n := range m.contacts {
		contacts += n
	}
	for _, n := range m.replies {
		replies += n
	}
	return contacts, replies, nil
}

func (m *MockDataSource) GetResourceActivityCounts(_ context.Context, _ time.Time) (map[string][2]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][2]int64)
	for resourceID, n := range m.contacts {
		out[resourceID] = [2]int64{n, m.replies[resourceID]}
	}
	return out, nil
}
