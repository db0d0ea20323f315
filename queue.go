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
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/hibiken/asynq"

	"github.com/parakeet-hq/parakeet/config"
	redis_db "github.com/parakeet-hq/parakeet/internal/redis-db"
	"github.com/parakeet-hq/parakeet/model"
)

// Queue wraps the asynq client used to hand dispatch operations to the
// worker fleet.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// DispatchPayload is the unit of work a dispatch worker consumes: one
// rendered action against one target through one resource.
type DispatchPayload struct {
	CampaignID string       `json:"campaign_id"`
	ResourceID string       `json:"resource_id"`
	Target     model.Target `json:"target"`
	Message    string       `json:"message"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueDispatch enqueues a single dispatch operation. The task ID is the
// (campaign, target) pair, so a crashed orchestrator re-enqueueing the same
// batch is deduplicated by asynq before the ledger is even consulted.
func (q *Queue) EnqueueDispatch(ctx context.Context, payload *DispatchPayload) error {
	ctx, span := tracer.Start(ctx, "Adding Dispatch To Redis Queue")
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, q.getTask(payload, data), asynq.MaxRetry(cfg.Queue.MaxRetryAttempts))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued dispatch: %s -> %s", payload.ResourceID, payload.Target.TargetID)
	return nil
}

// EnqueueStalenessSweep enqueues the conversation staleness sweep task. The
// fixed task ID keeps at most one sweep pending at a time.
func (q *Queue) EnqueueStalenessSweep(ctx context.Context) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID("conversation-staleness-sweep"),
		asynq.Queue(cfg.Queue.SweepQueue),
	}
	task := asynq.NewTask(cfg.Queue.SweepQueue, nil, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil && err != asynq.ErrTaskIDConflict {
		log.Println(err, info)
		return err
	}
	return nil
}

// getTask generates a task for a dispatch operation and assigns it to a queue
// chosen by hashing the resource ID. All operations through the same resource
// land on the same queue and are processed serially, so per-resource quota
// checks never race inside the worker fleet.
func (q *Queue) getTask(payload *DispatchPayload, data []byte) *asynq.Task {
	cnf, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config: %v", err)
		return nil
	}
	queueIndex := hashResourceID(payload.ResourceID) % cnf.Queue.NumberOfQueues
	queueName := fmt.Sprintf("%s_%d", cnf.Queue.DispatchQueue, queueIndex+1)

	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s:%s", payload.CampaignID, payload.Target.TargetID)),
		asynq.Queue(queueName),
	}
	return asynq.NewTask(queueName, data, taskOptions...)
}

// hashResourceID returns a consistent hash value for a resource ID.
func hashResourceID(resourceID string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(resourceID))
	return int(hasher.Sum32())
}

// GetDispatchFromQueue retrieves a pending dispatch by its task ID, checking
// every dispatch queue. Returns nil when the task is not queued anywhere.
func (q *Queue) GetDispatchFromQueue(campaignID, targetID string) (*DispatchPayload, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	taskID := fmt.Sprintf("%s:%s", campaignID, targetID)
	for i := 1; i <= cfg.Queue.NumberOfQueues; i++ {
		queueName := fmt.Sprintf("%s_%d", cfg.Queue.DispatchQueue, i)
		task, err := q.Inspector.GetTaskInfo(queueName, taskID)
		if err == nil && task != nil {
			var payload DispatchPayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				return nil, err
			}
			return &payload, nil
		}
	}
	return nil, nil
}
