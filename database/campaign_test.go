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

package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parakeet-hq/parakeet/model"
)

func TestCreateCampaign(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	campaign := model.NewCampaign(gofakeit.Company(), model.StrategyEven)
	campaign.Tags = []string{"fintech"}
	campaign.Kind = "account"
	campaign.Template = "Hi {{handle}}"

	mock.ExpectExec("INSERT INTO parakeet.campaigns").
		WithArgs(campaign.CampaignID, campaign.Name, campaign.Strategy, campaign.Status,
			pq.Array(campaign.Tags), campaign.Kind, campaign.Template, campaign.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.CreateCampaign(context.Background(), campaign)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCampaign(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	now := time.Now()
	rows := sqlmock.NewRows([]string{"campaign_id", "name", "strategy", "status", "tags", "kind",
		"template", "sent", "failed", "skipped", "deferred", "created_at", "completed_at"}).
		AddRow("cmp_1", "launch wave", model.StrategyWeighted, model.CampaignRunning,
			pq.StringArray{"fintech"}, "account", "Hi {{handle}}", 12, 1, 3, 0, now, nil)

	mock.ExpectQuery("SELECT .* FROM parakeet.campaigns WHERE campaign_id =").
		WithArgs("cmp_1").
		WillReturnRows(rows)

	campaign, err := ds.GetCampaign(context.Background(), "cmp_1")
	assert.NoError(t, err)
	assert.Equal(t, "launch wave", campaign.Name)
	assert.Equal(t, model.CampaignRunning, campaign.Status)
	assert.Equal(t, int64(12), campaign.Sent)
	assert.True(t, campaign.CompletedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCampaignStatus_Completed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE parakeet.campaigns").
		WithArgs("cmp_1", model.CampaignCompleted, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateCampaignStatus(context.Background(), "cmp_1", model.CampaignCompleted)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCampaignStatus_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE parakeet.campaigns").
		WithArgs("cmp_missing", model.CampaignPaused, false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdateCampaignStatus(context.Background(), "cmp_missing", model.CampaignPaused)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCampaignCounters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE parakeet.campaigns").
		WithArgs("cmp_1", int64(10), int64(2), int64(5), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateCampaignCounters(context.Background(), "cmp_1", model.Summary{Sent: 10, Failed: 2, Skipped: 5, Deferred: 1})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
