package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load applies, in order, defaults, the YAML file named by CONFIG_FILE (if
// set) and environment variables.
func Load() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("TABLE_SCHEMA"); v != "" {
		cfg.TableSchema = v
	}
	if v := os.Getenv("TABLE_NAME"); v != "" {
		cfg.TableName = v
	}
	if v := os.Getenv("TRIGGER_TYPE"); v != "" {
		cfg.TriggerType = v
	}
	if v := os.Getenv("UPDATE_OF"); v != "" {
		cfg.UpdateOf = splitList(v)
	}
	if v := os.Getenv("INCLUDE_OLD_VALUES"); v != "" {
		cfg.IncludeOldValues = parseBool(v)
	}
	if v := os.Getenv("WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WaitTimeout = d
		}
	}
	if v := os.Getenv("WATCHDOG_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WatchdogTimeout = d
		}
	}
	if v := os.Getenv("TEXT_ENCODING"); v != "" {
		cfg.TextEncoding = v
	}
	if v := os.Getenv("LOCALE"); v != "" {
		cfg.Locale = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURLs = splitList(v)
	}
	if v := os.Getenv("NATS_USERNAME"); v != "" {
		cfg.NATSUsername = v
	}
	if v := os.Getenv("NATS_PASSWORD"); v != "" {
		cfg.NATSPassword = v
	}
	if v := os.Getenv("NATS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NATSTimeout = d
		}
	}
	if v := os.Getenv("NATS_STREAM"); v != "" {
		cfg.NATSStream = v
	}
	if v := os.Getenv("PUBLISH_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.PublishRetries = i
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("REGISTRY_KEY"); v != "" {
		cfg.RegistryKey = v
	}
	if v := os.Getenv("HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = parseBool(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
