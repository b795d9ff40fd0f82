package api

import "time"

type Config struct {
	HTTPAddr        string        `envconfig:"WPC_HTTP_ADDR" default:"0.0.0.0:8080"`
	MetricsAddr     string        `envconfig:"WPC_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel        string        `envconfig:"WPC_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"WPC_SHUTDOWN_TIMEOUT" default:"30s"`

	// Store selects the persistence backend: "memory" for a single
	// instance or dev mode, "postgres" for multi-instance deployments.
	Store string `envconfig:"WPC_STORE" default:"memory"`
	DBDSN string `envconfig:"WPC_DB_DSN"`
}
