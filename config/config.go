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
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5130"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"PARAKEET_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PARAKEET_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"PARAKEET_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PARAKEET_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PARAKEET_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PARAKEET_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	DispatchQueue    string `json:"dispatch_queue" envconfig:"PARAKEET_QUEUE_DISPATCH"`
	SweepQueue       string `json:"sweep_queue" envconfig:"PARAKEET_QUEUE_SWEEP"`
	NumberOfQueues   int    `json:"number_of_queues" envconfig:"PARAKEET_QUEUE_COUNT"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"PARAKEET_QUEUE_MAX_RETRY"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"PARAKEET_QUEUE_MONITORING_PORT"`
}

// BucketConfig configures the token bucket for one action class.
type BucketConfig struct {
	Capacity          int64 `json:"capacity"`
	RefillAmount      int64 `json:"refill_amount"`
	RefillIntervalSec int   `json:"refill_interval_sec"`
}

// RateLimitConfig is the HTTP API rate limit (tollbooth), not the dispatch
// token buckets. Disabled by default when both RPS and Burst are nil.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PARAKEET_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PARAKEET_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PARAKEET_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

// PoolConfig holds the resource pool tunables. The health deltas and the
// suspension threshold are empirically chosen values, kept configurable.
type PoolConfig struct {
	HealthSuccessDelta  int    `json:"health_success_delta" envconfig:"PARAKEET_POOL_HEALTH_SUCCESS_DELTA"`
	HealthFailureDelta  int    `json:"health_failure_delta" envconfig:"PARAKEET_POOL_HEALTH_FAILURE_DELTA"`
	HealthRecoveryFloor int    `json:"health_recovery_floor" envconfig:"PARAKEET_POOL_HEALTH_RECOVERY_FLOOR"`
	SuspensionThreshold int    `json:"suspension_threshold" envconfig:"PARAKEET_POOL_SUSPENSION_THRESHOLD"`
	CooldownMinutes     int    `json:"cooldown_minutes" envconfig:"PARAKEET_POOL_COOLDOWN_MINUTES"`
	SettleDelayMinMs    int    `json:"settle_delay_min_ms" envconfig:"PARAKEET_POOL_SETTLE_DELAY_MIN_MS"`
	SettleDelayMaxMs    int    `json:"settle_delay_max_ms" envconfig:"PARAKEET_POOL_SETTLE_DELAY_MAX_MS"`
	ReaperCron          string `json:"reaper_cron" envconfig:"PARAKEET_POOL_REAPER_CRON"`

	// Ramp-up caps. Resources younger than RampAgeDays get the tighter caps.
	RampAgeDays   int `json:"ramp_age_days" envconfig:"PARAKEET_POOL_RAMP_AGE_DAYS"`
	RampHourlyCap int `json:"ramp_hourly_cap" envconfig:"PARAKEET_POOL_RAMP_HOURLY_CAP"`
	RampDailyCap  int `json:"ramp_daily_cap" envconfig:"PARAKEET_POOL_RAMP_DAILY_CAP"`
	FullHourlyCap int `json:"full_hourly_cap" envconfig:"PARAKEET_POOL_FULL_HOURLY_CAP"`
	FullDailyCap  int `json:"full_daily_cap" envconfig:"PARAKEET_POOL_FULL_DAILY_CAP"`
}

// BackpressureConfig drives the reply-rate feedback loop. A high reply rate is
// a risk signal in this domain, so the controller slows the tempo above the
// high threshold rather than speeding up.
type BackpressureConfig struct {
	WindowMinutes        int     `json:"window_minutes" envconfig:"PARAKEET_BACKPRESSURE_WINDOW_MINUTES"`
	HighThreshold        float64 `json:"high_threshold" envconfig:"PARAKEET_BACKPRESSURE_HIGH_THRESHOLD"`
	LowThreshold         float64 `json:"low_threshold" envconfig:"PARAKEET_BACKPRESSURE_LOW_THRESHOLD"`
	SmoothingAlpha       float64 `json:"smoothing_alpha" envconfig:"PARAKEET_BACKPRESSURE_SMOOTHING_ALPHA"`
	AdjustFactor         float64 `json:"adjust_factor" envconfig:"PARAKEET_BACKPRESSURE_ADJUST_FACTOR"`
	MinRefillIntervalSec int     `json:"min_refill_interval_sec" envconfig:"PARAKEET_BACKPRESSURE_MIN_REFILL_SEC"`
	MaxRefillIntervalSec int     `json:"max_refill_interval_sec" envconfig:"PARAKEET_BACKPRESSURE_MAX_REFILL_SEC"`
	PeriodSec            int     `json:"period_sec" envconfig:"PARAKEET_BACKPRESSURE_PERIOD_SEC"`
}

type ConversationConfig struct {
	StaleAfterHours      int     `json:"stale_after_hours" envconfig:"PARAKEET_CONVERSATION_STALE_AFTER_HOURS"`
	HandoffMinPriority   float64 `json:"handoff_min_priority" envconfig:"PARAKEET_CONVERSATION_HANDOFF_MIN_PRIORITY"`
	HandoffMinAgeMinutes int     `json:"handoff_min_age_minutes" envconfig:"PARAKEET_CONVERSATION_HANDOFF_MIN_AGE_MINUTES"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string                  `json:"project_name" envconfig:"PARAKEET_PROJECT_NAME"`
	Server       ServerConfig            `json:"server"`
	DataSource   DataSourceConfig        `json:"data_source"`
	Redis        RedisConfig             `json:"redis"`
	Queue        QueueConfig             `json:"queue"`
	Buckets      map[string]BucketConfig `json:"buckets"`
	RateLimit    RateLimitConfig         `json:"rate_limit"`
	Pool         PoolConfig              `json:"pool"`
	Backpressure BackpressureConfig      `json:"backpressure"`
	Conversation ConversationConfig      `json:"conversation"`
	Notification Notification            `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("parakeet", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called parakeet.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Parakeet"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.addQueueDefaults()
	cnf.addBucketDefaults()
	cnf.addPoolDefaults()
	cnf.addBackpressureDefaults()
	cnf.addConversationDefaults()

	if cnf.Backpressure.LowThreshold >= cnf.Backpressure.HighThreshold {
		return errors.New("backpressure low threshold must be below the high threshold")
	}
	if cnf.Backpressure.MinRefillIntervalSec > cnf.Backpressure.MaxRefillIntervalSec {
		return errors.New("backpressure min refill interval exceeds max refill interval")
	}
	if cnf.Pool.SettleDelayMinMs > cnf.Pool.SettleDelayMaxMs {
		return errors.New("pool settle delay min exceeds max")
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) addQueueDefaults() {
	if cnf.Queue.DispatchQueue == "" {
		cnf.Queue.DispatchQueue = "new:dispatch"
	}
	if cnf.Queue.SweepQueue == "" {
		cnf.Queue.SweepQueue = "new:sweep"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 3
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5131"
	}
}

// addBucketDefaults seeds the stock action classes. A contact is far scarcer
// than a profile lookup.
func (cnf *Configuration) addBucketDefaults() {
	if cnf.Buckets == nil {
		cnf.Buckets = map[string]BucketConfig{}
	}
	defaults := map[string]BucketConfig{
		"contact": {Capacity: 10, RefillAmount: 2, RefillIntervalSec: 300},
		"engage":  {Capacity: 30, RefillAmount: 10, RefillIntervalSec: 300},
		"lookup":  {Capacity: 120, RefillAmount: 60, RefillIntervalSec: 60},
	}
	for class, def := range defaults {
		if _, ok := cnf.Buckets[class]; !ok {
			cnf.Buckets[class] = def
		}
	}
}

func (cnf *Configuration) addPoolDefaults() {
	p := &cnf.Pool
	if p.HealthSuccessDelta <= 0 {
		p.HealthSuccessDelta = 2
	}
	if p.HealthFailureDelta <= 0 {
		p.HealthFailureDelta = 10
	}
	if p.HealthRecoveryFloor <= 0 {
		p.HealthRecoveryFloor = 40
	}
	if p.SuspensionThreshold <= 0 {
		p.SuspensionThreshold = 3
	}
	if p.CooldownMinutes <= 0 {
		p.CooldownMinutes = 60
	}
	if p.SettleDelayMaxMs <= 0 {
		p.SettleDelayMinMs = 500
		p.SettleDelayMaxMs = 3000
	}
	if p.RampAgeDays <= 0 {
		p.RampAgeDays = 14
	}
	if p.RampHourlyCap <= 0 {
		p.RampHourlyCap = 3
	}
	if p.RampDailyCap <= 0 {
		p.RampDailyCap = 15
	}
	if p.FullHourlyCap <= 0 {
		p.FullHourlyCap = 8
	}
	if p.FullDailyCap <= 0 {
		p.FullDailyCap = 40
	}
	if p.ReaperCron == "" {
		p.ReaperCron = "*/5 * * * *"
	}
}

func (cnf *Configuration) addBackpressureDefaults() {
	b := &cnf.Backpressure
	if b.WindowMinutes <= 0 {
		b.WindowMinutes = 120
	}
	if b.HighThreshold <= 0 {
		b.HighThreshold = 0.35
	}
	if b.LowThreshold <= 0 {
		b.LowThreshold = 0.10
	}
	if b.SmoothingAlpha <= 0 || b.SmoothingAlpha > 1 {
		b.SmoothingAlpha = 0.3
	}
	if b.AdjustFactor <= 1 {
		b.AdjustFactor = 1.5
	}
	if b.MinRefillIntervalSec <= 0 {
		b.MinRefillIntervalSec = 60
	}
	if b.MaxRefillIntervalSec <= 0 {
		b.MaxRefillIntervalSec = 1800
	}
	if b.PeriodSec <= 0 {
		b.PeriodSec = 300
	}
}

func (cnf *Configuration) addConversationDefaults() {
	c := &cnf.Conversation
	if c.StaleAfterHours <= 0 {
		c.StaleAfterHours = 72
	}
	if c.HandoffMinPriority <= 0 {
		c.HandoffMinPriority = 0.6
	}
	if c.HandoffMinAgeMinutes <= 0 {
		c.HandoffMinAgeMinutes = 30
	}
}

// MockConfig sets a mock configuration for testing purposes. Defaults are
// applied but required-field validation is skipped so tests can run without a
// data source or Redis.
func MockConfig(mockConfig *Configuration) {
	mockConfig.addQueueDefaults()
	mockConfig.addBucketDefaults()
	mockConfig.addPoolDefaults()
	mockConfig.addBackpressureDefaults()
	mockConfig.addConversationDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
