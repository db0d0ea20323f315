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

	"github.com/sirupsen/logrus"

	"github.com/parakeet-hq/parakeet/cache"
	"github.com/parakeet-hq/parakeet/database"
	"github.com/parakeet-hq/parakeet/model"
)

const contactCacheTTL = 24 * time.Hour

// Ledger enforces the exactly-once contact guarantee. The database holds the
// authoritative record behind a conditional write; the cache only
// short-circuits targets already known to be claimed, it never grants a
// claim on its own.
type Ledger struct {
	datasource database.IDataSource
	cache      cache.Cache
}

func NewLedger(ds database.IDataSource, c cache.Cache) *Ledger {
	return &Ledger{datasource: ds, cache: c}
}

func contactKey(targetID string) string {
	return fmt.Sprintf("contacted:%s", targetID)
}

// TryClaim attempts to claim the target for first contact. Exactly one caller
// across all workers and processes gets claimed=true per target, ever.
func (l *Ledger) TryClaim(ctx context.Context, targetID string) (claimed bool, err error) {
	var hit bool
	if l.cache != nil {
		if err := l.cache.Get(ctx, contactKey(targetID), &hit); err == nil && hit {
			return false, nil
		}
	}

	alreadyContacted, err := l.datasource.TryMarkContacted(ctx, targetID)
	if err != nil {
		return false, err
	}
	if l.cache != nil {
		if err := l.cache.Set(ctx, contactKey(targetID), true, contactCacheTTL); err != nil {
			logrus.Debugf("contact cache set failed for %s: %v", targetID, err)
		}
	}
	return !alreadyContacted, nil
}

// FilterUncontacted splits a batch into targets still eligible for first
// contact and the count of those already claimed. Read-only; claims happen
// one at a time on the dispatch path.
func (l *Ledger) FilterUncontacted(ctx context.Context, targets []model.Target) ([]model.Target, int, error) {
	eligible := make([]model.Target, 0, len(targets))
	skipped := 0
	for _, target := range targets {
		var hit bool
		if l.cache != nil {
			if err := l.cache.Get(ctx, contactKey(target.TargetID), &hit); err == nil && hit {
				skipped++
				continue
			}
		}
		contacted, err := l.datasource.IsContacted(ctx, target.TargetID)
		if err != nil {
			return nil, 0, err
		}
		if contacted {
			skipped++
			continue
		}
		eligible = append(eligible, target)
	}
	return eligible, skipped, nil
}

// MarkHandedOff records that the target's conversation left the system via
// handoff. Idempotent.
func (l *Ledger) MarkHandedOff(ctx context.Context, targetID string) error {
	return l.datasource.MarkHandedOff(ctx, targetID)
}

// Entry returns the ledger record for a target.
func (l *Ledger) Entry(ctx context.Context, targetID string) (*model.LedgerEntry, error) {
	return l.datasource.GetLedgerEntry(ctx, targetID)
}
