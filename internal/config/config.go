// Package config содержит логику чтения конфигурации сервиса tollgate.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса tollgate.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AMQPURL     string `env:"RABBITMQ_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`

	// Параметры ниже задаются только через окружение.
	QueueName             string        `env:"QUEUE_NAME" envDefault:"toll-usages"`
	DispatcherWorkers     int           `env:"DISPATCHER_WORKERS" envDefault:"5"`
	DispatcherMaxInFlight int64         `env:"DISPATCHER_MAX_IN_FLIGHT" envDefault:"10"`
	ReportTimeout         time.Duration `env:"REPORT_TIMEOUT" envDefault:"10s"`
	StatsCacheTTL         time.Duration `env:"STATS_CACHE_TTL" envDefault:"30s"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAMQPURL := cfg.AMQPURL
	envRedisAddr := cfg.RedisAddr

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AMQPURL, "q", "", "RabbitMQ URL, in-memory queue is used when empty")
	flag.StringVar(&cfg.RedisAddr, "c", "", "redis address for stats cache")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAMQPURL != "" {
		cfg.AMQPURL = envAMQPURL
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	if cfg.DispatcherWorkers <= 0 {
		return nil, fmt.Errorf("dispatcher workers must be positive, got %d", cfg.DispatcherWorkers)
	}
	if cfg.DispatcherMaxInFlight <= 0 {
		return nil, fmt.Errorf("dispatcher max in-flight must be positive, got %d", cfg.DispatcherMaxInFlight)
	}

	return cfg, nil
}
