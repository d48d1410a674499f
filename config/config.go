package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ShipSync ShipSyncConfig `yaml:"shipsync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                        string `yaml:"host"`
	Port                        int    `yaml:"port"`
	ShipmentReconciledTopicName string `yaml:"shipment_reconciled_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShipSyncConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// Platform (Shopify-compatible admin API).
	PlatformStoreDomain string `yaml:"platform_store_domain"`
	PlatformAPIVersion  string `yaml:"platform_api_version"`
	// Overridden by the PLATFORM_ACCESS_TOKEN env var when set, so the token
	// can stay out of the config file.
	PlatformAccessToken    string `yaml:"platform_access_token"`
	PlatformPageLimit      int    `yaml:"platform_page_limit"`
	PlatformMaxPages       int    `yaml:"platform_max_pages"`
	PlatformTimeoutSeconds int    `yaml:"platform_timeout_seconds"`

	// Carrier tracking feed. The endpoint template carries a {tracking}
	// placeholder; headers_extra is "Name1:Value1|Name2:Value2".
	CarrierEndpointTemplate string `yaml:"carrier_endpoint_template"`
	CarrierHeadersExtra     string `yaml:"carrier_headers_extra"`
	CarrierTimeoutSeconds   int    `yaml:"carrier_timeout_seconds"`
	// "ctt" (default) or "fake" for local runs without carrier access.
	CarrierMode string `yaml:"carrier_mode"`

	RetryMaxAttempts        int `yaml:"retry_max_attempts"`
	RetryBaseBackoffSeconds int `yaml:"retry_base_backoff_seconds"`
	RetryMaxBackoffSeconds  int `yaml:"retry_max_backoff_seconds"`

	WorkerPollIntervalSeconds   int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize             int `yaml:"worker_batch_size"`
	WorkerSleepBetweenMillis    int `yaml:"worker_sleep_between_millis"`
	WorkerRateLimitPerMinute    int `yaml:"worker_rate_limit_per_minute"`
	WorkerObservationTTLSeconds int `yaml:"worker_observation_ttl_seconds"`

	// Scheduling (optional). Defaults: recheck immediately, no-events retry
	// after 30 minutes, backoff 5/15/30/60 minutes.
	WorkerRecheckMinSeconds int `yaml:"worker_recheck_min_seconds"`
	WorkerRecheckMaxSeconds int `yaml:"worker_recheck_max_seconds"`
	WorkerNoEventsSeconds   int `yaml:"worker_no_events_seconds"`
	WorkerBackoff1Seconds   int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds   int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds   int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds   int `yaml:"worker_backoff_4_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if token := os.Getenv("PLATFORM_ACCESS_TOKEN"); token != "" {
		config.ShipSync.PlatformAccessToken = token
	}

	return &config, nil
}
