package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  shipment_reconciled_topic_name: "shipments.reconciled"
redis:
  host: "localhost"
  port: 6379
shipsync:
  http_addr: ":8080"
  platform_store_domain: "demo-store.myshopify.com"
  platform_api_version: "2024-01"
  platform_access_token: "from-file"
  carrier_endpoint_template: "https://carrier.example/p_track_redis.php?sc={tracking}"
  carrier_headers_extra: "X-Key:abc|X-Env:prod"
  worker_batch_size: 50
  worker_rate_limit_per_minute: 60
`), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "shipments.reconciled", cfg.Kafka.ShipmentReconciledTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.ShipSync.HTTPAddr)
	require.Equal(t, "demo-store.myshopify.com", cfg.ShipSync.PlatformStoreDomain)
	require.Equal(t, "from-file", cfg.ShipSync.PlatformAccessToken)
	require.Equal(t, "X-Key:abc|X-Env:prod", cfg.ShipSync.CarrierHeadersExtra)
	require.Equal(t, 50, cfg.ShipSync.WorkerBatchSize)
}

func TestLoadConfig_TokenEnvOverride(t *testing.T) {
	t.Setenv("PLATFORM_ACCESS_TOKEN", "from-env")
	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.ShipSync.PlatformAccessToken)
}
