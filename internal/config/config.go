package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendHTTP   = "http"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Backend string `env:"BRIDGEQ_BACKEND" envDefault:"http"`
	API     API
	Redis   Redis
	Server  Server
	Log     Log
	Poll    Poll
}

type API struct {
	URL         string        `env:"BRIDGEQ_API_URL" envDefault:"http://127.0.0.1:7111"`
	Token       string        `env:"BRIDGEQ_API_TOKEN"`
	Timeout     time.Duration `env:"BRIDGEQ_API_TIMEOUT" envDefault:"30s"`
	MaxRetries  int           `env:"BRIDGEQ_MAX_RETRIES" envDefault:"3"`
	BaseBackoff time.Duration `env:"BRIDGEQ_BASE_BACKOFF" envDefault:"250ms"`
	MaxBackoff  time.Duration `env:"BRIDGEQ_MAX_BACKOFF" envDefault:"5s"`
}

type Redis struct {
	Addr      string `env:"BRIDGEQ_REDIS_ADDRESS" envDefault:"127.0.0.1:6379"`
	Password  string `env:"BRIDGEQ_REDIS_PASSWORD"`
	DB        int    `env:"BRIDGEQ_REDIS_DB" envDefault:"0"`
	KeyPrefix string `env:"BRIDGEQ_REDIS_PREFIX" envDefault:"bridgeq"`
}

// Server holds the policy of a self-hosted queue started with `serve`.
type Server struct {
	PriorityFloor int `env:"BRIDGEQ_PRIORITY_FLOOR" envDefault:"1"`
	ListCeiling   int `env:"BRIDGEQ_LIST_CEILING" envDefault:"1000"`
}

type Log struct {
	Level  string `env:"BRIDGEQ_LOG_LEVEL" envDefault:"warn"`
	Format string `env:"BRIDGEQ_LOG_FORMAT" envDefault:"console"`
}

type Poll struct {
	Interval time.Duration `env:"BRIDGEQ_POLL_INTERVAL" envDefault:"2s"`
}

// Load reads an optional .env file (BRIDGEQ_ENV_FILE overrides the path)
// and then parses the environment. Variables already set win over the file.
func Load() (*Config, error) {
	path := os.Getenv("BRIDGEQ_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendHTTP:
		if strings.TrimSpace(c.API.URL) == "" {
			return errors.New("config: BRIDGEQ_API_URL is required for the http backend")
		}
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.API.Timeout <= 0 {
		return errors.New("config: BRIDGEQ_API_TIMEOUT must be positive")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("config: BRIDGEQ_MAX_RETRIES must not be negative")
	}
	if c.API.BaseBackoff <= 0 || c.API.MaxBackoff < c.API.BaseBackoff {
		return errors.New("config: backoff bounds are invalid")
	}
	if c.Poll.Interval <= 0 {
		return errors.New("config: BRIDGEQ_POLL_INTERVAL must be positive")
	}
	if c.Server.PriorityFloor < 1 || c.Server.PriorityFloor > 5 {
		return errors.New("config: BRIDGEQ_PRIORITY_FLOOR must be between 1 and 5")
	}
	return nil
}
