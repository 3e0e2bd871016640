package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/lucasbneuman/vixenbliss-creator-sub001/pkg/logger"
)

type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Database   DatabaseConfig            `yaml:"database"`
	Logger     logger.Config             `yaml:"logger"`
	Auth       AuthConfig                `yaml:"auth"`
	Generation GenerationConfig          `yaml:"generation"`
	Safety     SafetyConfig              `yaml:"safety"`
	Scheduler  SchedulerConfig           `yaml:"scheduler"`
	Health     HealthConfig              `yaml:"health"`
	Platforms  map[string]PlatformPolicy `yaml:"platforms"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type AuthConfig struct {
	// TOTPSecret guards operator actions such as resetting a suspended
	// account. Empty disables the check (dev only).
	TOTPSecret string `yaml:"totp_secret"`
}

type GenerationConfig struct {
	Provider     string `yaml:"provider"`
	PoolSize     int    `yaml:"pool_size"`
	RetryLimit   int    `yaml:"retry_limit"`
	RetryBackoff string `yaml:"retry_backoff"`
	CallTimeout  string `yaml:"call_timeout"`
}

type SafetyConfig struct {
	RejectThreshold     float64 `yaml:"reject_threshold"`
	BorderlineThreshold float64 `yaml:"borderline_threshold"`
}

type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TickInterval   string `yaml:"tick_interval"`
	StallTimeout   string `yaml:"stall_timeout"`
	MaxAttempts    int    `yaml:"max_attempts"`
	RetryDelay     string `yaml:"retry_delay"`
	DispatchLimit  int    `yaml:"dispatch_limit"`
	PublishTimeout string `yaml:"publish_timeout"`
}

type HealthConfig struct {
	BackoffBase        string `yaml:"backoff_base"`
	BackoffCap         int    `yaml:"backoff_cap"`
	DegradedThreshold  int    `yaml:"degraded_threshold"`
	SuspendedThreshold int    `yaml:"suspended_threshold"`
}

// PlatformPolicy carries the per-platform posting cadence knobs. Jitter
// bounds are deliberately per platform; anti-detection heuristics differ.
type PlatformPolicy struct {
	Enabled        bool    `yaml:"enabled"`
	MinSpacing     string  `yaml:"min_spacing"`
	JitterFraction float64 `yaml:"jitter_fraction"`
	WindowStart    int     `yaml:"window_start"`
	WindowEnd      int     `yaml:"window_end"`
	Timezone       string  `yaml:"timezone"`
	MaxPostsPerDay int     `yaml:"max_posts_per_day"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills unset fields. Exposed so tests can build configs
// without a YAML file.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5610
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "stub"
	}
	if cfg.Generation.PoolSize == 0 {
		// Matches the generation provider's concurrent-call ceiling.
		cfg.Generation.PoolSize = 5
	}
	if cfg.Generation.RetryLimit == 0 {
		cfg.Generation.RetryLimit = 3
	}
	if cfg.Generation.RetryBackoff == "" {
		cfg.Generation.RetryBackoff = "2s"
	}
	if cfg.Generation.CallTimeout == "" {
		cfg.Generation.CallTimeout = "120s"
	}
	if cfg.Safety.RejectThreshold == 0 {
		cfg.Safety.RejectThreshold = 0.9
	}
	if cfg.Safety.BorderlineThreshold == 0 {
		cfg.Safety.BorderlineThreshold = 0.6
	}
	if cfg.Scheduler.TickInterval == "" {
		cfg.Scheduler.TickInterval = "30s"
	}
	if cfg.Scheduler.StallTimeout == "" {
		cfg.Scheduler.StallTimeout = "10m"
	}
	if cfg.Scheduler.MaxAttempts == 0 {
		cfg.Scheduler.MaxAttempts = 3
	}
	if cfg.Scheduler.RetryDelay == "" {
		cfg.Scheduler.RetryDelay = "2h"
	}
	if cfg.Scheduler.DispatchLimit == 0 {
		cfg.Scheduler.DispatchLimit = 100
	}
	if cfg.Scheduler.PublishTimeout == "" {
		cfg.Scheduler.PublishTimeout = "60s"
	}
	if cfg.Health.BackoffBase == "" {
		cfg.Health.BackoffBase = "30s"
	}
	if cfg.Health.BackoffCap == 0 {
		cfg.Health.BackoffCap = 6
	}
	if cfg.Health.DegradedThreshold == 0 {
		cfg.Health.DegradedThreshold = 5
	}
	if cfg.Health.SuspendedThreshold == 0 {
		cfg.Health.SuspendedThreshold = 10
	}
	if cfg.Platforms == nil {
		cfg.Platforms = map[string]PlatformPolicy{}
	}
	for name, policy := range cfg.Platforms {
		if policy.MinSpacing == "" {
			policy.MinSpacing = "3h"
		}
		if policy.JitterFraction == 0 {
			policy.JitterFraction = 0.2
		}
		if policy.WindowEnd == 0 {
			policy.WindowStart = 9
			policy.WindowEnd = 21
		}
		if policy.Timezone == "" {
			policy.Timezone = "UTC"
		}
		if policy.MaxPostsPerDay == 0 {
			policy.MaxPostsPerDay = 3
		}
		cfg.Platforms[name] = policy
	}
}
