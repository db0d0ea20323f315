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
	"github.com/lib/pq"
	"github.com/parakeet-hq/parakeet/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateResource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	res := model.NewResource(model.KindAccount, []string{"niche:fitness"})
	res.HourlyCap = 3
	res.DailyCap = 15

	mock.ExpectExec("INSERT INTO parakeet.resources").
		WithArgs(res.ResourceID, res.Kind, sqlmock.AnyArg(), res.State, res.HealthScore, 0, 0, 0,
			3, 15, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.CreateResource(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateResource_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	res := model.NewResource(model.KindProxy, nil)

	mock.ExpectExec("INSERT INTO parakeet.resources").
		WillReturnError(&pq.Error{Code: "23505"})

	assert.Error(t, ds.CreateResource(context.Background(), res))
}

func resourceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"resource_id", "kind", "tags", "state", "health_score", "error_streak", "hourly_count",
		"daily_count", "hourly_cap", "daily_cap", "last_used_at", "last_error_at", "suspended_at",
		"created_at", "meta_data",
	})
}

func TestGetResource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now()

	mock.ExpectQuery("SELECT(.|\n)*FROM parakeet.resources").
		WithArgs("res_1").
		WillReturnRows(resourceRows().
			AddRow("res_1", "account", "{niche:fitness}", "READY", 88, 0, 1, 4, 8, 40, now, nil, nil, now, nil))

	res, err := ds.GetResource(context.Background(), "res_1")
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, res.State)
	assert.Equal(t, 88, res.HealthScore)
	assert.Equal(t, []string{"niche:fitness"}, []string(res.Tags))
	assert.True(t, res.SuspendedAt.IsZero())
}

func TestGetResourcesByState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now()

	mock.ExpectQuery("SELECT(.|\n)*FROM parakeet.resources(.|\n)*WHERE state").
		WithArgs(model.StateSuspended).
		WillReturnRows(resourceRows().
			AddRow("res_2", "account", "{}", "SUSPENDED", 20, 3, 0, 7, 8, 40, now, now, now, now, nil))

	resources, err := ds.GetResourcesByState(context.Background(), model.StateSuspended)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, model.StateSuspended, resources[0].State)
	assert.Equal(t, 3, resources[0].ErrorStreak)
}

func TestUpdateResourceOutcome(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	res := model.NewResource(model.KindAccount, nil)
	res.RecordFailure(10, time.Now(), time.Hour)

	mock.ExpectExec("UPDATE parakeet.resources").
		WithArgs(res.ResourceID, res.State, res.HealthScore, 1, 1, 1,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.UpdateResourceOutcome(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetCounters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE parakeet.resources SET hourly_count = 0$").
		WillReturnResult(sqlmock.NewResult(0, 5))
	assert.NoError(t, ds.ResetHourlyCounters(context.Background()))

	mock.ExpectExec("UPDATE parakeet.resources SET hourly_count = 0, daily_count = 0").
		WillReturnResult(sqlmock.NewResult(0, 5))
	assert.NoError(t, ds.ResetDailyCounters(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
