package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string `env:"LISTEN_ADDR, default=0.0.0.0:6710"`
	DBPath     string `env:"DB_PATH, default=shuttle.db"`
	QueueSize  int    `env:"QUEUE_SIZE, default=32"`
}

type Engine struct {
	MaxConcurrency int           `env:"MAX_CONCURRENCY, default=4"`
	Workdir        string        `env:"WORKDIR, default=/var/lib/shuttle/workspaces"`
	FailFast       bool          `env:"FAIL_FAST, default=false"`
	DefaultTimeout time.Duration `env:"DEFAULT_TIMEOUT, default=0"`
}

type Runner struct {
	// Kind selects the command execution backend: local | docker.
	Kind  string `env:"KIND, default=local"`
	Image string `env:"IMAGE, default=alpine:3.20"`
}

type Stash struct {
	// Provider selects stash persistence: memory | redis.
	Provider  string        `env:"PROVIDER, default=memory"`
	RedisAddr string        `env:"REDIS_ADDR, default=localhost:6379"`
	RedisTTL  time.Duration `env:"REDIS_TTL, default=24h"`
}

type Config struct {
	Server Server `env:",prefix=SHUTTLE_SERVER_"`
	Engine Engine `env:",prefix=SHUTTLE_ENGINE_"`
	Runner Runner `env:",prefix=SHUTTLE_RUNNER_"`
	Stash  Stash  `env:",prefix=SHUTTLE_STASH_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
