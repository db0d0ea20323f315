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
	"fmt"
	"time"
)

// Stage is the dialogue stage of a conversation. Transitions are monotonic in
// stage rank, except Abandoned which is reachable from any non-terminal stage.
type Stage string

const (
	StageNew           Stage = "NEW"
	StageContacted     Stage = "CONTACTED"
	StageAwaitingReply Stage = "AWAITING_REPLY"
	StageEngaged       Stage = "ENGAGED"
	StageDisengaged    Stage = "DISENGAGED"
	StageHandoffReady  Stage = "HANDOFF_READY"
	StageClosed        Stage = "CLOSED"
	StageAbandoned     Stage = "ABANDONED"
)

// stageRank orders the dialogue stages. Engaged and Disengaged share a rank;
// they are alternative outcomes of the same step.
var stageRank = map[Stage]int{
	StageNew:           0,
	StageContacted:     1,
	StageAwaitingReply: 2,
	StageEngaged:       3,
	StageDisengaged:    3,
	StageHandoffReady:  4,
	StageClosed:        5,
}

func (s Stage) Terminal() bool {
	return s == StageClosed || s == StageAbandoned
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ReplyEvent is the inbound classification signal for a target's reply. The
// sentiment decision itself is made by an external collaborator; this package
// only consumes it.
type ReplyEvent struct {
	TargetID   string    `json:"target_id"`
	Sentiment  Sentiment `json:"sentiment"`
	Confidence float64   `json:"confidence"`
	LatencySec float64   `json:"latency_sec"`
	ReceivedAt time.Time `json:"received_at"`
}

// Conversation is the per-target dialogue record. The resource binding is
// sticky: once a resource opens a dialogue it keeps it, so the target always
// sees the same identity.
type Conversation struct {
	TargetID       string    `json:"target_id"`
	ResourceID     string    `json:"resource_id"`
	Stage          Stage     `json:"stage"`
	Priority       float64   `json:"priority"`
	LastOutboundAt time.Time `json:"last_outbound_at"`
	LastInboundAt  time.Time `json:"last_inbound_at"`
	ReplyLatency   float64   `json:"reply_latency_sec"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewConversation(targetID, resourceID string) *Conversation {
	now := time.Now()
	return &Conversation{
		TargetID:   targetID,
		ResourceID: resourceID,
		Stage:      StageNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TransitionTo moves the conversation to the next stage. Backward moves and
// transitions out of a terminal stage are rejected.
func (c *Conversation) TransitionTo(next Stage) error {
	if c.Stage.Terminal() {
		return fmt.Errorf("conversation %s is %s, no further transitions", c.TargetID, c.Stage)
	}
	if next == StageAbandoned {
		c.Stage = StageAbandoned
		c.UpdatedAt = time.Now()
		return nil
	}
	from, ok := stageRank[c.Stage]
	if !ok {
		return fmt.Errorf("conversation %s is in unknown stage %s", c.TargetID, c.Stage)
	}
	to, ok := stageRank[next]
	if !ok {
		return fmt.Errorf("unknown stage %s", next)
	}
	if to <= from {
		return fmt.Errorf("cannot move conversation %s from %s to %s", c.TargetID, c.Stage, next)
	}
	c.Stage = next
	c.UpdatedAt = time.Now()
	return nil
}

// Stale reports whether the conversation has been waiting on a reply past the
// staleness cutoff.
func (c *Conversation) Stale(now time.Time, after time.Duration) bool {
	if c.Stage.Terminal() {
		return false
	}
	last := c.LastInboundAt
	if c.LastOutboundAt.After(last) {
		last = c.LastOutboundAt
	}
	if last.IsZero() {
		last = c.CreatedAt
	}
	return now.Sub(last) >= after
}

// ScoreReply computes the conversation priority from the reply
// classification: positive sentiment, a recent reply and a short reply
// latency all push the score up. The result is clamped to [0, 1].
func ScoreReply(ev ReplyEvent, now time.Time) float64 {
	var base float64
	switch ev.Sentiment {
	case SentimentPositive:
		base = 1.0
	case SentimentNeutral:
		base = 0.5
	case SentimentNegative:
		base = 0.1
	}

	confidence := ev.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	recency := 1.0
	if !ev.ReceivedAt.IsZero() {
		hours := now.Sub(ev.ReceivedAt).Hours()
		if hours > 0 {
			recency = 1.0 / (1.0 + hours/24.0)
		}
	}

	latency := 1.0
	if ev.LatencySec > 0 {
		latency = 1.0 / (1.0 + ev.LatencySec/3600.0)
	}

	score := 0.5*base*confidence + 0.3*recency + 0.2*latency
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
