package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Registry  RegistryConfig  `json:"registry" yaml:"registry"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
}

type ServerConfig struct {
	BindAddr string `json:"bindAddr" yaml:"bindAddr"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type RegistryConfig struct {
	// ScanInterval is how often the liveness monitor re-derives instance health.
	ScanInterval string `json:"scanInterval" yaml:"scanInterval"`
	// DefaultPingTTL applies when a registration carries no ttl of its own.
	DefaultPingTTL string `json:"defaultPingTTL" yaml:"defaultPingTTL"`
	// BearerToken guards every mutating registry endpoint.
	BearerToken string `json:"bearerToken" yaml:"bearerToken"`
}

type SchedulerConfig struct {
	TickInterval string `json:"tickInterval" yaml:"tickInterval"`
	QueueTimeout string `json:"queueTimeout" yaml:"queueTimeout"`
	// ScheduleFile is the restart-safe store for cadence schedules.
	ScheduleFile string `json:"scheduleFile" yaml:"scheduleFile"`
	// StateTTL is the retention window for distributed task state in Redis.
	StateTTL string `json:"stateTTL" yaml:"stateTTL"`
	// Service names the update pipeline targets, resolved through the registry.
	ApiService         string `json:"apiService" yaml:"apiService"`
	RepoService        string `json:"repoService" yaml:"repoService"`
	VisualizationGroup string `json:"visualizationGroup" yaml:"visualizationGroup"`
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()

	cfg := &Config{
		Server: ServerConfig{
			BindAddr: getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Registry: RegistryConfig{
			ScanInterval:   getEnv("REGISTRY_SCAN_INTERVAL", "2s"),
			DefaultPingTTL: getEnv("REGISTRY_DEFAULT_PING_TTL", "30s"),
			BearerToken:    getEnv("REGISTRY_BEARER_TOKEN", ""),
		},
		Scheduler: SchedulerConfig{
			TickInterval:       getEnv("SCHEDULER_TICK_INTERVAL", "5s"),
			QueueTimeout:       getEnv("SCHEDULER_QUEUE_TIMEOUT", "60s"),
			ScheduleFile:       getEnv("SCHEDULER_SCHEDULE_FILE", "schedules.json"),
			StateTTL:           getEnv("SCHEDULER_STATE_TTL", "20m"),
			ApiService:         getEnv("SCHEDULER_API_SERVICE", "api-service"),
			RepoService:        getEnv("SCHEDULER_REPO_SERVICE", "repo-service"),
			VisualizationGroup: getEnv("SCHEDULER_VIS_GROUP", "visualization"),
		},
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			log.Err(err)
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Registry.ScanInterval == "" {
		cfg.Registry.ScanInterval = "2s"
	}
	if cfg.Registry.DefaultPingTTL == "" {
		cfg.Registry.DefaultPingTTL = "30s"
	}
	if cfg.Scheduler.TickInterval == "" {
		cfg.Scheduler.TickInterval = "5s"
	}
	if cfg.Scheduler.QueueTimeout == "" {
		cfg.Scheduler.QueueTimeout = "60s"
	}
	if cfg.Scheduler.ScheduleFile == "" {
		cfg.Scheduler.ScheduleFile = "schedules.json"
	}
	if cfg.Scheduler.StateTTL == "" {
		cfg.Scheduler.StateTTL = "20m"
	}
	if cfg.Scheduler.ApiService == "" {
		cfg.Scheduler.ApiService = "api-service"
	}
	if cfg.Scheduler.RepoService == "" {
		cfg.Scheduler.RepoService = "repo-service"
	}
	if cfg.Scheduler.VisualizationGroup == "" {
		cfg.Scheduler.VisualizationGroup = "visualization"
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	switch filepath.Ext(filePath) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
