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
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parakeet-hq/parakeet/config"
)

func TestLedgerTryClaim_FirstCallerWins(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	ledger := NewLedger(NewMockDataSource(), nil)

	claimed, err := ledger.TryClaim(context.Background(), "tgt_1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = ledger.TryClaim(context.Background(), "tgt_1")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestLedgerTryClaim_ExactlyOnceUnderContention(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	ledger := NewLedger(NewMockDataSource(), nil)

	const workers = 50
	var wins atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := ledger.TryClaim(context.Background(), "tgt_contested")
			assert.NoError(t, err)
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(), "exactly one worker may claim a target")
}

func TestLedgerFilterUncontacted(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	ds := NewMockDataSource()
	ledger := NewLedger(ds, nil)

	targets := makeTargets(5)
	_, err := ledger.TryClaim(context.Background(), targets[1].TargetID)
	require.NoError(t, err)
	_, err = ledger.TryClaim(context.Background(), targets[3].TargetID)
	require.NoError(t, err)

	eligible, skipped, err := ledger.FilterUncontacted(context.Background(), targets)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, eligible, 3)
	for _, target := range eligible {
		contacted, err := ds.IsContacted(context.Background(), target.TargetID)
		require.NoError(t, err)
		assert.False(t, contacted)
	}
}

func TestLedgerMarkHandedOff(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	ledger := NewLedger(NewMockDataSource(), nil)

	_, err := ledger.TryClaim(context.Background(), "tgt_done")
	require.NoError(t, err)
	require.NoError(t, ledger.MarkHandedOff(context.Background(), "tgt_done"))

	entry, err := ledger.Entry(context.Background(), "tgt_done")
	require.NoError(t, err)
	assert.True(t, entry.Contacted)
	assert.True(t, entry.HandedOff)
	assert.False(t, entry.HandedOffAt.IsZero())
}

func TestLedgerClaimIsDurableAcrossServices(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	ds := NewMockDataSource()

	first := NewLedger(ds, nil)
	claimed, err := first.TryClaim(context.Background(), "tgt_persisted")
	require.NoError(t, err)
	require.True(t, claimed)

	// A new service instance over the same datasource sees the claim.
	second := NewLedger(ds, nil)
	claimed, err = second.TryClaim(context.Background(), "tgt_persisted")
	require.NoError(t, err)
	assert.False(t, claimed)
}
