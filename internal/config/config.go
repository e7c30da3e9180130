package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rojlabs/roj/internal/hive"
)

type Config struct {
	Swarm     SwarmConfig     `yaml:"swarm"`
	Roles     hive.RoleTable  `yaml:"roles"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Launcher  LauncherConfig  `yaml:"launcher"`
	Vault     VaultConfig     `yaml:"vault"`
}

type SwarmConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	DeadlineInterval  time.Duration `yaml:"deadline_interval"`
	MemoryTimeout     time.Duration `yaml:"memory_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	QueueSize         int           `yaml:"queue_size"`
	DegradedThreshold float64       `yaml:"degraded_threshold"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path            string        `yaml:"path"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type LauncherConfig struct {
	Image         string        `yaml:"image"`
	MaxContainers int           `yaml:"max_containers"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	Network       string        `yaml:"network"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Swarm: SwarmConfig{
			HeartbeatInterval: time.Second,
			HeartbeatTimeout:  5 * time.Second,
			DeadlineInterval:  time.Second,
			MemoryTimeout:     5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			QueueSize:         256,
			DegradedThreshold: 0.5,
		},
		Roles: hive.DefaultRoles(),
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path:            "data/roj.db",
			CleanupInterval: time.Hour,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Launcher: LauncherConfig{
			Image:         "roj-agent:latest",
			MaxContainers: 7,
			IdleTimeout:   30 * time.Minute,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("ROJ_CONFIG")
	if path == "" {
		path = "config/roj.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	if err := c.Roles.Validate(); err != nil {
		return fmt.Errorf("roles: %w", err)
	}
	if c.Swarm.DegradedThreshold <= 0 || c.Swarm.DegradedThreshold > 1 {
		return fmt.Errorf("swarm.degraded_threshold must be in (0, 1], got %g", c.Swarm.DegradedThreshold)
	}
	if c.Swarm.HeartbeatTimeout <= c.Swarm.HeartbeatInterval {
		return fmt.Errorf("swarm.heartbeat_timeout (%s) must exceed heartbeat_interval (%s)",
			c.Swarm.HeartbeatTimeout, c.Swarm.HeartbeatInterval)
	}
	if c.Swarm.QueueSize <= 0 {
		return fmt.Errorf("swarm.queue_size must be positive, got %d", c.Swarm.QueueSize)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ROJ_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ROJ_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("ROJ_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("ROJ_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("ROJ_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("ROJ_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ROJ_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}
