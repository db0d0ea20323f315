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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationForwardTransitions(t *testing.T) {
	c := NewConversation("tgt_1", "res_1")

	for _, next := range []Stage{StageContacted, StageAwaitingReply, StageEngaged, StageHandoffReady, StageClosed} {
		require.NoError(t, c.TransitionTo(next))
		assert.Equal(t, next, c.Stage)
	}
}

func TestConversationRejectsBackwardTransition(t *testing.T) {
	c := NewConversation("tgt_1", "res_1")
	require.NoError(t, c.TransitionTo(StageContacted))
	require.NoError(t, c.TransitionTo(StageAwaitingReply))

	assert.Error(t, c.TransitionTo(StageContacted))
	assert.Equal(t, StageAwaitingReply, c.Stage)
}

func TestConversationRejectsEngagedToDisengaged(t *testing.T) {
	c := NewConversation("tgt_1", "res_1")
	require.NoError(t, c.TransitionTo(StageContacted))
	require.NoError(t, c.TransitionTo(StageAwaitingReply))
	require.NoError(t, c.TransitionTo(StageEngaged))

	// Same rank, not a forward move.
	assert.Error(t, c.TransitionTo(StageDisengaged))
}

func TestAbandonedReachableFromAnyNonTerminalStage(t *testing.T) {
	c := NewConversation("tgt_1", "res_1")
	require.NoError(t, c.TransitionTo(StageContacted))
	require.NoError(t, c.TransitionTo(StageAbandoned))
	assert.Equal(t, StageAbandoned, c.Stage)

	// Terminal: nothing moves out of Abandoned.
	assert.Error(t, c.TransitionTo(StageClosed))
}

func TestClosedIsTerminal(t *testing.T) {
	c := NewConversation("tgt_1", "res_1")
	require.NoError(t, c.TransitionTo(StageClosed))
	assert.Error(t, c.TransitionTo(StageAbandoned))
}

func TestStale(t *testing.T) {
	now := time.Now()
	c := NewConversation("tgt_1", "res_1")
	c.LastOutboundAt = now.Add(-80 * time.Hour)

	assert.True(t, c.Stale(now, 72*time.Hour))

	c.LastInboundAt = now.Add(-1 * time.Hour)
	assert.False(t, c.Stale(now, 72*time.Hour))

	require.NoError(t, c.TransitionTo(StageAbandoned))
	assert.False(t, c.Stale(now, 72*time.Hour))
}

func TestScoreReplyOrdersSentiment(t *testing.T) {
	now := time.Now()
	positive := ReplyEvent{Sentiment: SentimentPositive, Confidence: 0.9, LatencySec: 600, ReceivedAt: now}
	neutral := ReplyEvent{Sentiment: SentimentNeutral, Confidence: 0.9, LatencySec: 600, ReceivedAt: now}
	negative := ReplyEvent{Sentiment: SentimentNegative, Confidence: 0.9, LatencySec: 600, ReceivedAt: now}

	pScore := ScoreReply(positive, now)
	nScore := ScoreReply(neutral, now)
	negScore := ScoreReply(negative, now)

	assert.Greater(t, pScore, nScore)
	assert.Greater(t, nScore, negScore)
}

func TestScoreReplyPrefersFastRecentReplies(t *testing.T) {
	now := time.Now()

	fast := ReplyEvent{Sentiment: SentimentPositive, Confidence: 1, LatencySec: 60, ReceivedAt: now}
	slow := ReplyEvent{Sentiment: SentimentPositive, Confidence: 1, LatencySec: 48 * 3600, ReceivedAt: now}
	assert.Greater(t, ScoreReply(fast, now), ScoreReply(slow, now))

	recent := ReplyEvent{Sentiment: SentimentPositive, Confidence: 1, LatencySec: 60, ReceivedAt: now.Add(-time.Minute)}
	old := ReplyEvent{Sentiment: SentimentPositive, Confidence: 1, LatencySec: 60, ReceivedAt: now.Add(-90 * 24 * time.Hour)}
	assert.Greater(t, ScoreReply(recent, now), ScoreReply(old, now))
}

func TestScoreReplyClamped(t *testing.T) {
	now := time.Now()
	score := ScoreReply(ReplyEvent{Sentiment: SentimentPositive, Confidence: 5, ReceivedAt: now}, now)
	assert.LessOrEqual(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}
