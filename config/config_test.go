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

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Configuration {
	return &Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432/parakeet"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}
}

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := validConfig()
	err := cnf.validateAndAddDefaults()
	require.NoError(t, err)

	assert.Equal(t, "Parakeet", cnf.ProjectName)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, 4, cnf.Queue.NumberOfQueues)
	assert.Equal(t, "new:dispatch", cnf.Queue.DispatchQueue)

	// Stock action classes are always present.
	assert.Contains(t, cnf.Buckets, "contact")
	assert.Contains(t, cnf.Buckets, "engage")
	assert.Contains(t, cnf.Buckets, "lookup")
	assert.Less(t, cnf.Buckets["contact"].Capacity, cnf.Buckets["lookup"].Capacity)

	assert.Equal(t, 3, cnf.Pool.SuspensionThreshold)
	assert.Less(t, cnf.Pool.RampDailyCap, cnf.Pool.FullDailyCap)
	assert.Less(t, cnf.Backpressure.LowThreshold, cnf.Backpressure.HighThreshold)
}

func TestValidateRequiresDataSource(t *testing.T) {
	cnf := &Configuration{Redis: RedisConfig{Dns: "localhost:6379"}}
	err := cnf.validateAndAddDefaults()
	assert.Error(t, err)
}

func TestValidateRequiresRedis(t *testing.T) {
	cnf := &Configuration{DataSource: DataSourceConfig{Dns: "postgres://localhost/parakeet"}}
	err := cnf.validateAndAddDefaults()
	assert.Error(t, err)
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cnf := validConfig()
	cnf.Backpressure.HighThreshold = 0.1
	cnf.Backpressure.LowThreshold = 0.2
	err := cnf.validateAndAddDefaults()
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	require.NoError(t, os.Setenv("PARAKEET_DATA_SOURCE_DNS", "postgres://env-host/parakeet"))
	require.NoError(t, os.Setenv("PARAKEET_REDIS_DNS", "env-redis:6379"))
	defer func() {
		_ = os.Unsetenv("PARAKEET_DATA_SOURCE_DNS")
		_ = os.Unsetenv("PARAKEET_REDIS_DNS")
	}()

	err := loadConfigFromFile("does-not-exist.json")
	require.NoError(t, err)

	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "postgres://env-host/parakeet", cnf.DataSource.Dns)
	assert.Equal(t, "env-redis:6379", cnf.Redis.Dns)
}

func TestMockConfigAppliesDefaults(t *testing.T) {
	MockConfig(&Configuration{})
	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, 3, cnf.Pool.SuspensionThreshold)
	assert.NotEmpty(t, cnf.Buckets)
}
