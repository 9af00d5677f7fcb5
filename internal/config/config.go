package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                   string `yaml:"port"`
	AllowedOrigin          string `yaml:"allowed_origin"`
	DatabaseURL            string `yaml:"database_url"`
	RedisAddr              string `yaml:"redis_addr"`
	RedisPassword          string `yaml:"redis_password"`
	RedisDB                int    `yaml:"redis_db"`
	DefaultBranchID        string `yaml:"default_branch_id"`
	AuthSecret             string `yaml:"auth_secret"`
	AccessTokenTTLMinutes  int    `yaml:"access_token_ttl_minutes"`
	ManagerPIN             string `yaml:"manager_pin"`
	LogLevel               string `yaml:"log_level"`
	LogFormat              string `yaml:"log_format"`
	DashboardTTLSeconds    int    `yaml:"dashboard_ttl_seconds"`
	NotificationQueueSize  int    `yaml:"notification_queue_size"`
	LowStockThreshold      string `yaml:"low_stock_threshold"`
	WeightToleranceKg      string `yaml:"weight_tolerance_kg"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

func defaults() Config {
	return Config{
		Port:                   "8080",
		AllowedOrigin:          "http://127.0.0.1:3000",
		DefaultBranchID:        "br-pusat",
		AccessTokenTTLMinutes:  480,
		LogLevel:               "info",
		LogFormat:              "json",
		DashboardTTLSeconds:    30,
		NotificationQueueSize:  256,
		LowStockThreshold:      "10",
		WeightToleranceKg:      "0.050",
		ShutdownTimeoutSeconds: 8,
	}
}

// Load starts from built-in defaults, overlays the YAML file named by
// CONFIG_FILE (if any) and finally the environment. Secrets have no defaults.
func Load() (Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if _, err := cfg.WeightTolerance(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.LowStock(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB, 0)
	cfg.DefaultBranchID = getEnv("DEFAULT_BRANCH_ID", cfg.DefaultBranchID)
	cfg.AuthSecret = strings.TrimSpace(getEnv("AUTH_SECRET", cfg.AuthSecret))
	cfg.AccessTokenTTLMinutes = getEnvInt("ACCESS_TOKEN_TTL_MINUTES", cfg.AccessTokenTTLMinutes, 1)
	cfg.ManagerPIN = strings.TrimSpace(getEnv("MANAGER_PIN", cfg.ManagerPIN))
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.DashboardTTLSeconds = getEnvInt("DASHBOARD_TTL_SECONDS", cfg.DashboardTTLSeconds, 1)
	cfg.NotificationQueueSize = getEnvInt("NOTIFICATION_QUEUE_SIZE", cfg.NotificationQueueSize, 1)
	cfg.LowStockThreshold = getEnv("LOW_STOCK_THRESHOLD", cfg.LowStockThreshold)
	cfg.WeightToleranceKg = getEnv("WEIGHT_TOLERANCE_KG", cfg.WeightToleranceKg)
	cfg.ShutdownTimeoutSeconds = getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", cfg.ShutdownTimeoutSeconds, 1)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) WeightTolerance() (decimal.Decimal, error) {
	return parseNonNegative("WEIGHT_TOLERANCE_KG", c.WeightToleranceKg)
}

func (c Config) LowStock() (decimal.Decimal, error) {
	return parseNonNegative("LOW_STOCK_THRESHOLD", c.LowStockThreshold)
}

func parseNonNegative(key string, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", key)
	}
	return v, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getEnvInt keeps fallback when the variable is unset, malformed or below minValue.
func getEnvInt(key string, fallback int, minValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minValue {
		return fallback
	}
	return v
}
