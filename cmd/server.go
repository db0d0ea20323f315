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

package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/parakeet-hq/parakeet/api"
	"github.com/parakeet-hq/parakeet/config"
	"github.com/spf13/cobra"
)

func initializeRouter(b *parakeetInstance) *gin.Engine {
	return api.NewAPI(b.parakeet, b.orchestrator).Router()
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

/*
serverCommands returns the Cobra command responsible for starting the Parakeet API server.
The server process hosts the HTTP surface and the reply-stream consumer; the heavy
dispatch work runs in the workers process.
*/
func serverCommands(b *parakeetInstance) *cobra.Command {
	// Define the `start` command for starting the server
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start parakeet server", // Short description of the command
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			// Initialize router
			router := initializeRouter(b)

			// Load configuration
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			// Replies posted to the API flow through the tracker's channel;
			// start its consumer before the server accepts traffic.
			b.parakeet.Tracker().Start(ctx)

			// Start server
			if err := startServer(router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
