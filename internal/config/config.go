package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config holds the application configuration
type Config struct {
	Port                 int
	SolverURL            string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	LogLevel             string
	Version              string
}

// Default returns the configuration used when no flags are given
func Default() Config {
	return Config{
		Port:                 8080,
		SolverURL:            "ws://localhost:8000",
		MaxReconnectAttempts: 5,
		ReconnectDelay:       3 * time.Second,
		LogLevel:             "info",
		Version:              "dev",
	}
}

// Endpoint joins the solver base URL with an endpoint path such as /ws/solve
func (c Config) Endpoint(path string) string {
	return strings.TrimRight(c.SolverURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Level parses LogLevel, falling back to info when it is empty
func (c Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	return level, nil
}

// Validate checks the values that the session layer depends on
func (c Config) Validate() error {
	if !strings.HasPrefix(c.SolverURL, "ws://") && !strings.HasPrefix(c.SolverURL, "wss://") {
		return errors.Errorf("solver URL must use ws:// or wss://, got %q", c.SolverURL)
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.Errorf("max reconnect attempts must be >= 0, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectDelay <= 0 {
		return errors.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	return nil
}

// RetryLimit returns MaxReconnectAttempts as session options expect it, where
// zero selects the default and a negative value disables retries
func (c Config) RetryLimit() int {
	if c.MaxReconnectAttempts == 0 {
		return -1
	}
	return c.MaxReconnectAttempts
}
