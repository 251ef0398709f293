package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// MinHeartbeat is the floor for the upstream keepalive interval. Polling the
// logging program faster than this buys nothing and annoys its TCP API.
const MinHeartbeat = 3 * time.Second

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file is
// not an error; every setting has a usable default.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("upstream.host", "127.0.0.1")
	viper.SetDefault("upstream.port", "1100")
	viper.SetDefault("upstream.heartbeatInterval", "5s")
	viper.SetDefault("upstream.maxReconnectBackoff", "30s")

	viper.SetDefault("map.ttlSeconds", 60)
	viper.SetDefault("map.wfdMode", false)
	viper.SetDefault("map.preferSectionAlways", false)
	viper.SetDefault("map.sectionsFile", "")
	viper.SetDefault("map.bandFilter", "")
	viper.SetDefault("map.modeFilter", "")

	viper.SetDefault("enrichment.url", "")
	viper.SetDefault("enrichment.username", "")
	viper.SetDefault("enrichment.password", "")
	viper.SetDefault("enrichment.timeout", "10s")
	viper.SetDefault("enrichment.workers", 2)

	viper.SetDefault("http.listen", ":8000")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "contestmap")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "contestmap")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName("contestmap.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// UpstreamAddr returns the host:port of the logging program's TCP API.
func UpstreamAddr() string {
	return viper.GetString("upstream.host") + ":" + viper.GetString("upstream.port")
}

// HeartbeatInterval returns the keepalive interval, clamped to MinHeartbeat.
func HeartbeatInterval() time.Duration {
	d := viper.GetDuration("upstream.heartbeatInterval")
	if d < MinHeartbeat {
		return MinHeartbeat
	}
	return d
}
