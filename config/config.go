package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	DroneSync   DroneSyncConfig   `yaml:"drone_sync"`
	DroneClient DroneClientConfig `yaml:"drone_client"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "postgres" or "sqlite"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// DroneSyncConfig holds the telemetry polling configuration.
type DroneSyncConfig struct {
	Enabled                bool          `yaml:"enabled"`
	IntervalSeconds        int           `yaml:"interval_seconds"`
	Interval               time.Duration `yaml:"-"`
	OnlineThresholdSeconds int           `yaml:"online_threshold_seconds"`
	OnlineThreshold        time.Duration `yaml:"-"`
	MaxConcurrency         int           `yaml:"max_concurrency"`
}

// DroneClientConfig holds timeouts and mission defaults for drone HTTP calls.
type DroneClientConfig struct {
	CommandTimeoutSeconds int           `yaml:"command_timeout_seconds"`
	CommandTimeout        time.Duration `yaml:"-"`
	QueryTimeoutSeconds   int           `yaml:"query_timeout_seconds"`
	QueryTimeout          time.Duration `yaml:"-"`
	TakeoffAltitudeM      float64       `yaml:"takeoff_altitude_m"`
	CruiseAltitudeM       float64       `yaml:"cruise_altitude_m"`
	MissionMode           string        `yaml:"mission_mode"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the push worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// ReconcileConfig schedules the participation reconciliation sweep.
type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, suitable for tests.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	switch cfg.Database.Driver {
	case "":
		cfg.Database.Driver = "postgres"
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if cfg.DroneSync.IntervalSeconds <= 0 {
		cfg.DroneSync.IntervalSeconds = 5
	}
	cfg.DroneSync.Interval = time.Duration(cfg.DroneSync.IntervalSeconds) * time.Second
	if cfg.DroneSync.OnlineThresholdSeconds <= 0 {
		cfg.DroneSync.OnlineThresholdSeconds = 15
	}
	cfg.DroneSync.OnlineThreshold = time.Duration(cfg.DroneSync.OnlineThresholdSeconds) * time.Second
	if cfg.DroneSync.MaxConcurrency <= 0 {
		cfg.DroneSync.MaxConcurrency = 16
	}

	if cfg.DroneClient.CommandTimeoutSeconds <= 0 {
		cfg.DroneClient.CommandTimeoutSeconds = 10
	}
	cfg.DroneClient.CommandTimeout = time.Duration(cfg.DroneClient.CommandTimeoutSeconds) * time.Second
	if cfg.DroneClient.QueryTimeoutSeconds <= 0 {
		cfg.DroneClient.QueryTimeoutSeconds = 5
	}
	cfg.DroneClient.QueryTimeout = time.Duration(cfg.DroneClient.QueryTimeoutSeconds) * time.Second
	if cfg.DroneClient.TakeoffAltitudeM <= 0 {
		cfg.DroneClient.TakeoffAltitudeM = 20
	}
	if cfg.DroneClient.CruiseAltitudeM <= 0 {
		cfg.DroneClient.CruiseAltitudeM = 60
	}
	if cfg.DroneClient.MissionMode == "" {
		cfg.DroneClient.MissionMode = "AUTO"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Reconcile.Schedule == "" {
		cfg.Reconcile.Schedule = "@every 1m"
	}
	return nil
}
