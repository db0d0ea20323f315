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
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/parakeet-hq/parakeet/model"
)

// ActionDriver performs the actual outbound action against the external
// platform. Implementations live outside this module; the orchestrator only
// depends on this contract.
type ActionDriver interface {
	PerformAction(ctx context.Context, resource *model.Resource, target model.Target, message string) (*model.ActionResult, error)
}

// MessageRenderer produces the outbound message body for a target.
type MessageRenderer interface {
	Render(ctx context.Context, campaign *model.Campaign, target model.Target) (string, error)
}

// LogDriver is the built-in driver. It records the action in the process log
// and reports success. Useful for dry runs and tests.
type LogDriver struct {
	// Latency, if set, is reported in every result so pacing behaviour can
	// be exercised without a live platform.
	Latency time.Duration
}

func (d *LogDriver) PerformAction(_ context.Context, resource *model.Resource, target model.Target, message string) (*model.ActionResult, error) {
	logrus.WithFields(logrus.Fields{
		"resource_id": resource.ResourceID,
		"target_id":   target.TargetID,
	}).Infof("dry-run action: %s", message)
	return &model.ActionResult{Success: true, LatencyMs: d.Latency.Milliseconds()}, nil
}

// TemplateRenderer fills {{handle}} in the campaign template. Anything more
// elaborate belongs to the embedding application.
type TemplateRenderer struct{}

func (TemplateRenderer) Render(_ context.Context, campaign *model.Campaign, target model.Target) (string, error) {
	return strings.ReplaceAll(campaign.Template, "{{handle}}", target.Handle), nil
}
