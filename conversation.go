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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/parakeet-hq/parakeet/config"
	"github.com/parakeet-hq/parakeet/database"
	"github.com/parakeet-hq/parakeet/model"
)

// Tracker advances conversation state from outbound contacts and the inbound
// reply stream. Reply events arrive on a channel fed by the embedding
// application's inbound integration.
type Tracker struct {
	datasource database.IDataSource
	ledger     *Ledger
	replies    chan model.ReplyEvent
}

func NewTracker(ds database.IDataSource, ledger *Ledger) *Tracker {
	return &Tracker{
		datasource: ds,
		ledger:     ledger,
		replies:    make(chan model.ReplyEvent, 256),
	}
}

// Replies is the inbound event feed. Producers send; the Start loop is the
// only consumer.
func (t *Tracker) Replies() chan<- model.ReplyEvent {
	return t.replies
}

// Start consumes the reply stream until ctx is cancelled. One goroutine owns
// all stage transitions driven by replies, so ordering per target follows
// channel order.
func (t *Tracker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-t.replies:
				if err := t.handleReply(ctx, ev); err != nil {
					logrus.Errorf("reply handling failed for target %s: %v", ev.TargetID, err)
				}
			}
		}
	}()
}

// RecordContact registers a successful first contact: the conversation is
// created bound to the sending resource and advanced to AwaitingReply.
// Called only after the ledger claim and the outbound action both succeeded.
func (t *Tracker) RecordContact(ctx context.Context, targetID, resourceID string) error {
	conv := model.NewConversation(targetID, resourceID)
	now := time.Now()
	conv.LastOutboundAt = now
	conv.UpdatedAt = now

	if err := conv.TransitionTo(model.StageContacted); err != nil {
		return err
	}
	if err := conv.TransitionTo(model.StageAwaitingReply); err != nil {
		return err
	}
	if err := t.datasource.UpsertConversation(ctx, conv); err != nil {
		return err
	}
	return t.datasource.IncrementContactCount(ctx, resourceID, now)
}

func (t *Tracker) handleReply(ctx context.Context, ev model.ReplyEvent) error {
	conv, err := t.datasource.GetConversation(ctx, ev.TargetID)
	if err != nil {
		return err
	}
	if conv.Stage.Terminal() {
		logrus.Debugf("dropping reply for terminal conversation %s", ev.TargetID)
		return nil
	}

	now := time.Now()
	next := model.StageEngaged
	if ev.Sentiment == model.SentimentNegative {
		next = model.StageDisengaged
	}
	if err := conv.TransitionTo(next); err != nil {
		// A reply on an already-engaged conversation refreshes recency but
		// does not move the stage.
		logrus.Debugf("stage hold for %s: %v", ev.TargetID, err)
	}

	if !conv.LastOutboundAt.IsZero() {
		conv.ReplyLatency = ev.ReceivedAt.Sub(conv.LastOutboundAt).Seconds()
	}
	conv.LastInboundAt = ev.ReceivedAt
	conv.Priority = model.ScoreReply(ev, now)
	conv.UpdatedAt = now

	if err := t.datasource.UpsertConversation(ctx, conv); err != nil {
		return err
	}
	// Replies feed the backpressure signal.
	return t.datasource.IncrementReplyCount(ctx, conv.ResourceID, ev.ReceivedAt)
}

// PromoteHandoffReady advances engaged conversations past the priority and
// minimum-age thresholds to HandoffReady and stamps the ledger. Returns how
// many were promoted.
func (t *Tracker) PromoteHandoffReady(ctx context.Context) (int, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}
	minAge := time.Duration(cfg.Conversation.HandoffMinAgeMinutes) * time.Minute
	now := time.Now()

	engaged, err := t.datasource.GetEngagedAbove(ctx, cfg.Conversation.HandoffMinPriority)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, conv := range engaged {
		if now.Sub(conv.CreatedAt) < minAge {
			continue
		}
		if err := conv.TransitionTo(model.StageHandoffReady); err != nil {
			continue
		}
		conv.UpdatedAt = now
		if err := t.datasource.UpsertConversation(ctx, conv); err != nil {
			return promoted, err
		}
		if err := t.ledger.MarkHandedOff(ctx, conv.TargetID); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// HandoffList exports the read-only handoff view, highest priority first.
func (t *Tracker) HandoffList(ctx context.Context, limit int) ([]*model.Conversation, error) {
	return t.datasource.GetHandoffReady(ctx, limit)
}

// SweepStale abandons conversations without activity for the configured
// window. Run from the sweep queue.
func (t *Tracker) SweepStale(ctx context.Context) (int64, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-time.Duration(cfg.Conversation.StaleAfterHours) * time.Hour)
	swept, err := t.datasource.MarkAbandonedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		logrus.Infof("abandoned %d stale conversation(s)", swept)
	}
	return swept, nil
}
