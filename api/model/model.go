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
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/parakeet-hq/parakeet/model"
)

type CreateCampaign struct {
	Name     string   `json:"name"`
	Strategy string   `json:"strategy"`
	Kind     string   `json:"kind"`
	Tags     []string `json:"tags"`
	Template string   `json:"template"`
	Targets  []string `json:"targets"` // target handles
}

func (c *CreateCampaign) ValidateCreateCampaign() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Strategy, validation.In("", "even", "weighted")),
		validation.Field(&c.Kind, validation.In("", "account", "proxy")),
		validation.Field(&c.Template, validation.Required),
		validation.Field(&c.Targets, validation.Required, validation.Length(1, 0)),
	)
}

func (c *CreateCampaign) ToCampaign() (*model.Campaign, []model.Target) {
	strategy := model.DistributionStrategy(c.Strategy)
	if strategy == "" {
		strategy = model.StrategyEven
	}
	campaign := model.NewCampaign(c.Name, strategy)
	campaign.Tags = c.Tags
	campaign.Template = c.Template
	if c.Kind != "" {
		campaign.Kind = model.ResourceKind(c.Kind)
	}

	targets := make([]model.Target, 0, len(c.Targets))
	for _, handle := range c.Targets {
		targets = append(targets, model.NewTarget(handle))
	}
	return campaign, targets
}

type RegisterResource struct {
	Kind string   `json:"kind"`
	Tags []string `json:"tags"`
}

func (r *RegisterResource) ValidateRegisterResource() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Kind, validation.Required, validation.In("account", "proxy")),
	)
}

func (r *RegisterResource) ToResource() *model.Resource {
	return model.NewResource(model.ResourceKind(r.Kind), r.Tags)
}
