package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/calder-ops/tradevault/internal/cryptoutil"
)

const (
	envPrefix = "TVAULT"
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			if typ := configTypeFromPath(resolved); typ != "" {
				vp.SetConfigType(typ)
			}
			key := os.Getenv("TVAULT_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but TVAULT_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("TVAULT_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"tvault.yaml",
		"tvault.yml",
		"tvault.toml",
		"tvault.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "tvault")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"tvault.yaml.enc", "tvault.yml.enc", "tvault.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".toml") || strings.HasSuffix(path, ".toml.enc") || strings.HasSuffix(path, ".toml.encrypted"):
		return "toml"
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.enc") || strings.HasSuffix(path, ".json.encrypted"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.operation_timeout", "2h")

	vp.SetDefault("service.manager_timeout", "60s")

	vp.SetDefault("database.enabled", true)
	vp.SetDefault("database.host", "localhost")
	vp.SetDefault("database.port", 5432)
	vp.SetDefault("database.dump_format", "custom")

	vp.SetDefault("backup.directory", "/var/backups/trading")
	vp.SetDefault("backup.prefix", "trading")
	vp.SetDefault("backup.compression", "zstd")
	vp.SetDefault("backup.verify", true)
	vp.SetDefault("backup.min_free_bytes", uint64(1<<30))
	vp.SetDefault("backup.retry_count", 1)
	vp.SetDefault("backup.retry_backoff", "10s")
	vp.SetDefault("backup.excludes", []string{
		"*.pyc", "__pycache__", ".git", ".cache", "*.tmp", "*.swp",
	})

	vp.SetDefault("retention.max_age_days", 30)
	vp.SetDefault("retention.keep_last", 0)

	vp.SetDefault("health.url", "http://127.0.0.1:8080/health")
	vp.SetDefault("health.marker", "ok")
	vp.SetDefault("health.timeout", "10s")

	vp.SetDefault("schedule.timezone", "")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 2 * time.Hour
	}
	if cfg.Backup.RetryBackoff == 0 {
		cfg.Backup.RetryBackoff = 10 * time.Second
	}
	if cfg.Service.ManagerTimeout == 0 {
		cfg.Service.ManagerTimeout = 60 * time.Second
	}
	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = 10 * time.Second
	}
	if len(cfg.Restore.SnapshotDirs) == 0 && cfg.Restore.DeployDir != "" {
		cfg.Restore.SnapshotDirs = []string{cfg.Restore.DeployDir}
	}
}

func expandEnv(cfg *Config) {
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Database.Username = os.ExpandEnv(cfg.Database.Username)
	cfg.Backup.Passphrase = os.ExpandEnv(cfg.Backup.Passphrase)
	cfg.Offsite.AccessKey = os.ExpandEnv(cfg.Offsite.AccessKey)
	cfg.Offsite.SecretKey = os.ExpandEnv(cfg.Offsite.SecretKey)
	cfg.Offsite.SessionToken = os.ExpandEnv(cfg.Offsite.SessionToken)
	for i := range cfg.Notifications.Webhooks {
		cfg.Notifications.Webhooks[i].URL = os.ExpandEnv(cfg.Notifications.Webhooks[i].URL)
	}
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
