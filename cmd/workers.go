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
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/parakeet-hq/parakeet"
	"github.com/parakeet-hq/parakeet/config"
	redis_db "github.com/parakeet-hq/parakeet/internal/redis-db"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

// processDispatch executes one outbound operation pulled from a dispatch
// queue. The orchestrator routes settled outcomes itself (pool release,
// ledger, conversation record, campaign counters); only a pre-claim shortage
// comes back as an error, so asynq's retry replays the task without risking
// a double contact.
func (b *parakeetInstance) processDispatch(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("parakeet.dispatch.worker").Start(ctx, "Process Dispatch From Redis Queue")
	defer span.End()

	var payload parakeet.DispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	if err := b.orchestrator.Dispatch(ctx, &payload); err != nil {
		logrus.Warnf("dispatch for %s rescheduled: %v", payload.Target.TargetID, err)
		return err
	}

	log.Println(" [*] Dispatch Processed", payload.Target.TargetID)
	return nil
}

// processStalenessSweep abandons conversations that have waited on a reply
// past the configured threshold.
func (b *parakeetInstance) processStalenessSweep(ctx context.Context, _ *asynq.Task) error {
	swept, err := b.parakeet.Tracker().SweepStale(ctx)
	if err != nil {
		logrus.Error(err)
		return err
	}
	log.Printf(" [*] Staleness sweep complete, %d conversations abandoned", swept)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[parakeet.WEBHOOK_QUEUE] = 3
	queues[cfg.Queue.SweepQueue] = 1

	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.DispatchQueue, i)
		queues[queueName] = 1
	}
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			// One worker per dispatch queue plus headroom for webhooks and
			// sweeps. Per-resource exclusivity is enforced by the pool's
			// in-use state and the Redis dispatch lock, not by serializing
			// the whole server.
			Concurrency: conf.Queue.NumberOfQueues + 2,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *parakeetInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	// Register handlers for dispatch queues
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.DispatchQueue, i)
		mux.HandleFunc(queueName, b.processDispatch)
	}

	// Register handlers for other task types
	mux.HandleFunc(parakeet.WEBHOOK_QUEUE, parakeet.ProcessWebhook)
	mux.HandleFunc(cfg.Queue.SweepQueue, b.processStalenessSweep)
}

// startSchedulers wires the maintenance loops: pool reaper, quota resets,
// handoff promotion and the hourly staleness sweep enqueue. The backpressure
// controller runs its own ticker.
func startSchedulers(ctx context.Context, b *parakeetInstance, cfg *config.Configuration) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(cfg.Pool.ReaperCron, func() {
		restored := b.parakeet.Pool().Reap(ctx)
		if restored > 0 {
			logrus.Infof("reaper restored %d suspended resources", restored)
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc("0 * * * *", func() {
		if err := b.parakeet.Pool().ResetHourly(ctx); err != nil {
			logrus.Errorf("hourly quota reset failed: %v", err)
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc("0 0 * * *", func() {
		if err := b.parakeet.Pool().ResetDaily(ctx); err != nil {
			logrus.Errorf("daily quota reset failed: %v", err)
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc("*/10 * * * *", func() {
		promoted, err := b.parakeet.Tracker().PromoteHandoffReady(ctx)
		if err != nil {
			logrus.Errorf("handoff promotion failed: %v", err)
			return
		}
		if promoted > 0 {
			logrus.Infof("promoted %d conversations to handoff", promoted)
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc("0 * * * *", func() {
		if err := b.parakeet.TaskQueue().EnqueueStalenessSweep(ctx); err != nil {
			logrus.Errorf("failed to enqueue staleness sweep: %v", err)
		}
	}); err != nil {
		return nil, err
	}

	c.Start()
	b.parakeet.Backpressure().Run(ctx)
	return c, nil
}

// workerCommands defines the "workers" command to start worker processes.
// The workers drain the dispatch queues, process webhooks and staleness
// sweeps, and host the maintenance schedulers.
func workerCommands(b *parakeetInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start parakeet workers", // Short description of the command
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			// Load configuration
			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			// Initialize queues
			queues := initializeQueues()

			// Initialize worker server
			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			// Initialize task handlers
			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Start the maintenance schedulers
			if _, err := startSchedulers(ctx, b, conf); err != nil {
				log.Fatal(err)
			}

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring", //  Optional: if you want to serve asynqmon under a sub-path.
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			// Start asynqmon HTTP server in a new goroutine
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			// Start worker server
			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
