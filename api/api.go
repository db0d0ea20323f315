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

	"github.com/gin-gonic/gin"

	"github.com/parakeet-hq/parakeet"
	"github.com/parakeet-hq/parakeet/api/middleware"
	"github.com/parakeet-hq/parakeet/config"
)

type Api struct {
	core         *parakeet.Parakeet
	orchestrator *parakeet.Orchestrator
	router       *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/status", a.GetStatus)
	router.GET("/handoffs", a.GetHandoffs)
	router.POST("/replies", a.IngestReply)

	router.POST("/campaigns", a.CreateCampaign)
	router.GET("/campaigns", a.GetAllCampaigns)
	router.GET("/campaigns/:id", a.GetCampaign)
	router.GET("/campaigns/:id/dispatches/:target_id", a.GetDispatch)
	router.POST("/campaigns/:id/pause", a.PauseCampaign)
	router.POST("/campaigns/:id/resume", a.ResumeCampaign)
	router.POST("/campaigns/:id/cancel", a.CancelCampaign)

	router.POST("/resources", a.RegisterResource)

	return a.router
}

func NewAPI(core *parakeet.Parakeet, orchestrator *parakeet.Orchestrator) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{core: core, orchestrator: orchestrator, router: r}
}
