// Package config loads service configuration from an optional YAML file
// with environment variable overrides. Environment always wins so container
// deployments can skip the file entirely.
package config

import (
    "os"
    "strconv"
    "time"

    yaml "gopkg.in/yaml.v3"

    "dispatchd/internal/model"
)

type Config struct {
    Addr        string `yaml:"addr"`
    DatabaseURL string `yaml:"databaseUrl"`
    RedisURL    string `yaml:"redisUrl"`
    PackerURL   string `yaml:"packerUrl"`

    AuthMode   string `yaml:"authMode"` // dev | hs256
    AuthSecret string `yaml:"authSecret"`

    TickSeconds       int     `yaml:"tickSeconds"`
    OptimizeSeconds   int     `yaml:"optimizeIntervalSeconds"`
    ErrorBackoffSecs  int     `yaml:"errorBackoffSeconds"`
    MinAvailableItems int     `yaml:"minAvailableItems"`
    FuelPrice         float64 `yaml:"fuelPrice"`
    DriverPolicy      string  `yaml:"driverPolicy"` // random | least_hours
    Seed              int64   `yaml:"seed"`

    EventRateLimit float64 `yaml:"eventRateLimit"` // events/sec on the ingest endpoint
    EventRateBurst int     `yaml:"eventRateBurst"`

    Constraints model.Constraints `yaml:"constraints"`
}

func defaults() Config {
    return Config{
        Addr:              ":8080",
        AuthMode:          "dev",
        TickSeconds:       30,
        OptimizeSeconds:   300,
        ErrorBackoffSecs:  60,
        MinAvailableItems: 5,
        FuelPrice:         95,
        DriverPolicy:      "random",
        EventRateLimit:    50,
        EventRateBurst:    100,
        Constraints:       model.DefaultConstraints(),
    }
}

// Load reads path when non-empty, then applies environment overrides.
// A missing file is not an error; the defaults stand.
func Load(path string) (Config, error) {
    cfg := defaults()
    if path != "" {
        data, err := os.ReadFile(path)
        if err == nil {
            if err := yaml.Unmarshal(data, &cfg); err != nil {
                return Config{}, err
            }
        } else if !os.IsNotExist(err) {
            return Config{}, err
        }
    }
    applyEnv(&cfg)
    return cfg, nil
}

func applyEnv(cfg *Config) {
    setStr(&cfg.Addr, "ADDR")
    setStr(&cfg.DatabaseURL, "DATABASE_URL")
    setStr(&cfg.RedisURL, "REDIS_URL")
    setStr(&cfg.PackerURL, "PACKER_URL")
    setStr(&cfg.AuthMode, "AUTH_MODE")
    setStr(&cfg.AuthSecret, "AUTH_SECRET")
    setStr(&cfg.DriverPolicy, "DRIVER_POLICY")
    setInt(&cfg.TickSeconds, "TICK_SECONDS")
    setInt(&cfg.OptimizeSeconds, "OPTIMIZE_INTERVAL_SECONDS")
    setInt(&cfg.ErrorBackoffSecs, "ERROR_BACKOFF_SECONDS")
    setInt(&cfg.MinAvailableItems, "MIN_AVAILABLE_ITEMS")
    setInt(&cfg.EventRateBurst, "EVENT_RATE_BURST")
    setFloat(&cfg.FuelPrice, "FUEL_PRICE")
    setFloat(&cfg.EventRateLimit, "EVENT_RATE_LIMIT")
    if v := os.Getenv("SEED"); v != "" {
        if n, err := strconv.ParseInt(v, 10, 64); err == nil {
            cfg.Seed = n
        }
    }
}

func (c Config) TickInterval() time.Duration     { return time.Duration(c.TickSeconds) * time.Second }
func (c Config) OptimizeInterval() time.Duration { return time.Duration(c.OptimizeSeconds) * time.Second }
func (c Config) ErrorBackoff() time.Duration     { return time.Duration(c.ErrorBackoffSecs) * time.Second }

func setStr(dst *string, key string) {
    if v := os.Getenv(key); v != "" {
        *dst = v
    }
}

func setInt(dst *int, key string) {
    if v := os.Getenv(key); v != "" {
        if n, err := strconv.Atoi(v); err == nil {
            *dst = n
        }
    }
}

func setFloat(dst *float64, key string) {
    if v := os.Getenv(key); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil {
            *dst = f
        }
    }
}
