package util

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const Name = "pubgate"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host                string
		HttpPort            int           `yaml:"httpPort"`
		DbPath              string        `yaml:"dbPath"`
		KvPath              string        `yaml:"kvPath"`
		LogLevel            string        `yaml:"logLevel"`
		DeliveryConcurrency int           `yaml:"deliveryConcurrency"`
		ActorCacheSize      int           `yaml:"actorCacheSize"`
		ActorCacheTTL       time.Duration `yaml:"actorCacheTTL"`
		UserAgent           string        `yaml:"userAgent"`
		ApiToken            string        `yaml:"apiToken"`
		RateLimit           float64       `yaml:"rateLimit"`
		RateBurst           int           `yaml:"rateBurst"`
		ApRateLimit         float64       `yaml:"apRateLimit"`
		ApRateBurst         int           `yaml:"apRateBurst"`
		MaxBodyBytes        int64         `yaml:"maxBodyBytes"`
	}
}

// DataDir is where relative state files (config, database, documents) live
// when they are not in the working directory: $PUBGATE_DATA_DIR, or pubgate
// under the user config directory. It is created on first use.
func DataDir() (string, error) {
	dir := os.Getenv("PUBGATE_DATA_DIR")
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("no data directory: %w", err)
		}
		dir = filepath.Join(base, Name)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return dir, nil
}

// ResolveFilePath maps a configured file name to a path. Absolute names and
// names present in the working directory are kept; anything else lives in
// DataDir, whether or not it exists yet.
func ResolveFilePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	dir, err := DataDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, name)
}

// ReadConf reads config.yaml (working directory first, then DataDir),
// falling back to the embedded defaults, and applies PUBGATE_* environment
// overrides.
func ReadConf() (*AppConfig, error) {
	c := &AppConfig{}

	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Info("Config file not found, using embedded defaults", "path", configPath)
		buf = embeddedConfig

		if dir, dirErr := DataDir(); dirErr == nil {
			userConfigPath := filepath.Join(dir, ConfigFileName)
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Warn("Could not write default config", "path", userConfigPath, "err", writeErr)
			} else {
				log.Info("Created default config file", "path", userConfigPath)
			}
		}
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return c, nil
}

func (c *AppConfig) applyEnv() error {
	if v := os.Getenv("PUBGATE_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("PUBGATE_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PUBGATE_HTTPPORT: %w", err)
		}
		c.Conf.HttpPort = port
	}
	if v := os.Getenv("PUBGATE_DB_PATH"); v != "" {
		c.Conf.DbPath = v
	}
	if v := os.Getenv("PUBGATE_KV_PATH"); v != "" {
		c.Conf.KvPath = v
	}
	if v := os.Getenv("PUBGATE_LOG_LEVEL"); v != "" {
		c.Conf.LogLevel = v
	}
	if v := os.Getenv("PUBGATE_DELIVERY_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PUBGATE_DELIVERY_CONCURRENCY: %w", err)
		}
		c.Conf.DeliveryConcurrency = n
	}
	if v := os.Getenv("PUBGATE_USER_AGENT"); v != "" {
		c.Conf.UserAgent = v
	}
	if v := os.Getenv("PUBGATE_API_TOKEN"); v != "" {
		c.Conf.ApiToken = v
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Conf.HttpPort == 0 {
		c.Conf.HttpPort = 8080
	}
	if c.Conf.DbPath == "" {
		c.Conf.DbPath = "pubgate.db"
	}
	if c.Conf.KvPath == "" {
		c.Conf.KvPath = "pubgate.kv"
	}
	if c.Conf.LogLevel == "" {
		c.Conf.LogLevel = "info"
	}
	if c.Conf.DeliveryConcurrency <= 0 {
		c.Conf.DeliveryConcurrency = 10
	}
	if c.Conf.ActorCacheSize <= 0 {
		c.Conf.ActorCacheSize = 1000
	}
	if c.Conf.ActorCacheTTL <= 0 {
		c.Conf.ActorCacheTTL = 24 * time.Hour
	}
	if c.Conf.UserAgent == "" {
		c.Conf.UserAgent = GetNameAndVersion()
	}
	if c.Conf.RateLimit <= 0 {
		c.Conf.RateLimit = 10
	}
	if c.Conf.RateBurst <= 0 {
		c.Conf.RateBurst = 20
	}
	if c.Conf.ApRateLimit <= 0 {
		c.Conf.ApRateLimit = 5
	}
	if c.Conf.ApRateBurst <= 0 {
		c.Conf.ApRateBurst = 10
	}
	if c.Conf.MaxBodyBytes <= 0 {
		c.Conf.MaxBodyBytes = 1 << 20
	}
}
