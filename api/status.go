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
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	model2 "github.com/parakeet-hq/parakeet/api/model"
	"github.com/parakeet-hq/parakeet/internal/apierror"
	"github.com/parakeet-hq/parakeet/model"
)

// GetStatus reports pool composition, the smoothed reply rate and the
// current pacing per limiter class.
func (a Api) GetStatus(c *gin.Context) {
	limiter := a.core.Limiter()
	pacing := map[string]gin.H{}
	for _, class := range limiter.Classes() {
		bucket, err := limiter.Get(class)
		if err != nil {
			continue
		}
		pacing[class] = gin.H{
			"available":           bucket.Available(),
			"capacity":            bucket.Capacity(),
			"refill_interval_sec": bucket.RefillInterval().Seconds(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"pool":           a.core.Pool().Snapshot(),
		"reply_rate":     a.core.Backpressure().ReplyRate(),
		"resource_rates": a.core.Backpressure().ResourceRates(),
		"pacing":         pacing,
	})
}

// GetHandoffs exports the handoff-ready conversations, highest priority
// first.
func (a Api) GetHandoffs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	handoffs, err := a.core.Tracker().HandoffList(c.Request.Context(), limit)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, handoffs)
}

// IngestReply feeds a classified reply into the conversation tracker. The
// push is non-blocking so a slow consumer translates into 503 rather than a
// wedged handler.
func (a Api) IngestReply(c *gin.Context) {
	var ev model.ReplyEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if ev.TargetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_id is required"})
		return
	}
	switch ev.Sentiment {
	case model.SentimentPositive, model.SentimentNeutral, model.SentimentNegative:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sentiment must be positive, neutral or negative"})
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}

	select {
	case a.core.Tracker().Replies() <- ev:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reply stream is full"})
	}
}

// RegisterResource adds a resource to the pool.
func (a Api) RegisterResource(c *gin.Context) {
	var newResource model2.RegisterResource
	if err := c.ShouldBindJSON(&newResource); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newResource.ValidateRegisterResource(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resource := newResource.ToResource()
	if err := a.core.Pool().Register(c.Request.Context(), resource); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, resource)
}
