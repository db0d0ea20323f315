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
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/parakeet-hq/parakeet/api/model"
	"github.com/parakeet-hq/parakeet/internal/apierror"
	"github.com/parakeet-hq/parakeet/model"
)

func (a Api) CreateCampaign(c *gin.Context) {
	var newCampaign model2.CreateCampaign
	if err := c.ShouldBindJSON(&newCampaign); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newCampaign.ValidateCreateCampaign(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	campaign, targets := newCampaign.ToCampaign()
	if err := a.core.CreateCampaign(c.Request.Context(), campaign); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	// The run proceeds in the background; progress is visible through
	// GET /campaigns/:id.
	go func() {
		if _, err := a.orchestrator.Run(context.Background(), campaign, targets); err != nil {
			logrus.Errorf("campaign %s run failed: %v", campaign.CampaignID, err)
		}
	}()

	c.JSON(http.StatusCreated, campaign)
}

func (a Api) GetCampaign(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.core.GetCampaign(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	// A running campaign's persisted counters trail the workers; overlay the
	// live snapshot when one exists.
	if resp.Status == model.CampaignRunning {
		if live := a.orchestrator.Progress(id); live != nil {
			snapshot := live.Snapshot()
			resp.Sent = snapshot.Sent
			resp.Failed = snapshot.Failed
			resp.Skipped = snapshot.Skipped
			resp.Deferred = snapshot.Deferred
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllCampaigns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	resp, err := a.core.GetAllCampaigns(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetDispatch reports whether an outbound operation for the given target is
// still pending in the dispatch queues.
func (a Api) GetDispatch(c *gin.Context) {
	id, _ := c.Params.Get("id")
	targetID, _ := c.Params.Get("target_id")
	if id == "" || targetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "campaign id and target_id are required"})
		return
	}

	payload, err := a.core.TaskQueue().GetDispatchFromQueue(id, targetID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if payload == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending dispatch for target"})
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (a Api) PauseCampaign(c *gin.Context) {
	a.setCampaignStatus(c, model.CampaignPaused)
}

func (a Api) ResumeCampaign(c *gin.Context) {
	a.setCampaignStatus(c, model.CampaignRunning)
}

func (a Api) CancelCampaign(c *gin.Context) {
	a.setCampaignStatus(c, model.CampaignAborted)
}

func (a Api) setCampaignStatus(c *gin.Context, status model.CampaignStatus) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.core.SetCampaignStatus(c.Request.Context(), id, status); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "status": status})
}
