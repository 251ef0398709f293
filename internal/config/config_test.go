package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"logLevel": "debug",
		"upstream": { "host": "10.0.0.1", "port": "1101", "heartbeatInterval": "7s" },
		"map": { "ttlSeconds": 90, "wfdMode": true }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contestmap.cfg.json"), []byte(cfg), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.1:1101", UpstreamAddr())
	assert.Equal(t, 7*time.Second, HeartbeatInterval())
	assert.Equal(t, 90, viper.GetInt("map.ttlSeconds"))
	assert.Equal(t, true, viper.GetBool("map.wfdMode"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contestmap.cfg.json"), []byte(`{}`), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))
	assert.Equal(t, "127.0.0.1:1100", UpstreamAddr())
	assert.Equal(t, 5*time.Second, HeartbeatInterval())
	assert.Equal(t, 30*time.Second, GetDuration("upstream.maxReconnectBackoff"))
	assert.Equal(t, 60, GetInt("map.ttlSeconds"))
	assert.Equal(t, false, GetBool("map.wfdMode"))
	assert.Equal(t, false, GetBool("map.preferSectionAlways"))
	assert.Equal(t, "", GetString("map.bandFilter"))
	assert.Equal(t, "", GetString("enrichment.url"))
	assert.Equal(t, 2, GetInt("enrichment.workers"))
	assert.Equal(t, 10*time.Second, GetDuration("enrichment.timeout"))
	assert.Equal(t, ":8000", GetString("http.listen"))
	assert.Equal(t, false, GetBool("influx.enabled"))
	assert.Equal(t, "localhost", GetString("influx.host"))
	assert.Equal(t, "8086", GetString("influx.port"))
	assert.Equal(t, "contestmap", GetString("influx.org"))
	assert.Equal(t, false, GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", GetString("graylog.address"))
	assert.Equal(t, false, GetBool("otel.enabled"))
	assert.Equal(t, "contestmap", GetString("otel.serviceName"))
	assert.Equal(t, "5s", GetString("otel.batchTimeout"))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1100", UpstreamAddr())
}

func TestLoad_MalformedFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contestmap.cfg.json"), []byte(`{not json`), 0644))

	err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestHeartbeatIntervalClamped(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("upstream.heartbeatInterval", "500ms")
	assert.Equal(t, MinHeartbeat, HeartbeatInterval())
}
