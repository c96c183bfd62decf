// internal/config/env.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv overrides cfg with REGIONCOORD_* environment variables.
// Unparseable values are ignored.
func LoadFromEnv(cfg *Config) {
	if addr := os.Getenv("REGIONCOORD_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel := os.Getenv("REGIONCOORD_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if regions := os.Getenv("REGIONCOORD_REGIONS"); regions != "" {
		cfg.Regions = splitList(regions)
	}
	if v, ok := envBool("REGIONCOORD_AUTO_FAILOVER"); ok {
		cfg.Failover.AutoFailover = v
	}
	if d, ok := envDuration("REGIONCOORD_EVALUATION_INTERVAL"); ok {
		cfg.Failover.EvaluationInterval = d
	}
	if d, ok := envDuration("REGIONCOORD_FAILOVER_MAX_DURATION"); ok {
		cfg.Failover.MaxDuration = d
	}
	if path := os.Getenv("REGIONCOORD_CALENDAR_PATH"); path != "" {
		cfg.Calendar.Path = path
	}
	if token := os.Getenv("REGIONCOORD_COLLECTOR_TOKEN"); token != "" {
		cfg.Collector.Token = token
	}

	// Audit sinks
	if v, ok := envBool("REGIONCOORD_AUDIT_POSTGRES"); ok {
		cfg.Audit.Postgres.Enabled = v
	}
	if host := os.Getenv("REGIONCOORD_DB_HOST"); host != "" {
		cfg.Audit.Postgres.Host = host
	}
	if port := os.Getenv("REGIONCOORD_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Audit.Postgres.Port = p
		}
	}
	if pw := os.Getenv("REGIONCOORD_DB_PASSWORD"); pw != "" {
		cfg.Audit.Postgres.Password = pw
	}
	if bucket := os.Getenv("REGIONCOORD_ARCHIVE_BUCKET"); bucket != "" {
		cfg.Audit.Archive.Bucket = bucket
	}
	if key := os.Getenv("REGIONCOORD_ARCHIVE_ACCESS_KEY"); key != "" {
		cfg.Audit.Archive.AccessKey = key
	}
	if secret := os.Getenv("REGIONCOORD_ARCHIVE_SECRET_KEY"); secret != "" {
		cfg.Audit.Archive.SecretKey = secret
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	return v, err == nil
}

func envDuration(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	return d, err == nil && d > 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
