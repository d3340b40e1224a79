package collab

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// client configuration resolved from the environment at startup
type Config struct {
	RelayUrl        string        `env:"COLLAB_RELAY_URL" envDefault:"ws://127.0.0.1:3005/ws"`
	ConnectTimeout  time.Duration `env:"COLLAB_CONNECT_TIMEOUT" envDefault:"5s"`
	CallTimeout     time.Duration `env:"COLLAB_CALL_TIMEOUT" envDefault:"8s"`
	ResyncInterval  time.Duration `env:"COLLAB_RESYNC_INTERVAL" envDefault:"30s"`
	CursorRate      float64       `env:"COLLAB_CURSOR_RATE" envDefault:"20"`
	EventBufferSize int           `env:"COLLAB_EVENT_BUFFER" envDefault:"256"`
	ShutdownTimeout time.Duration `env:"COLLAB_SHUTDOWN_TIMEOUT" envDefault:"2s"`
}

func ParseConfig() (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// parses from the given variables instead of the process environment
func ParseConfigFromEnvironment(environment map[string]string) (*Config, error) {
	config := &Config{}
	if err := env.ParseWithOptions(config, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

func (self *Config) DispatcherSettings() *DispatcherSettings {
	settings := DefaultDispatcherSettings()
	settings.Endpoint = self.RelayUrl
	settings.CallTimeout = self.CallTimeout
	settings.ResyncInterval = self.ResyncInterval
	settings.CursorRate = self.CursorRate
	if 0 < self.EventBufferSize {
		settings.EventBufferSize = self.EventBufferSize
	}
	settings.ShutdownTimeout = self.ShutdownTimeout
	settings.TransportSettings.ConnectTimeout = self.ConnectTimeout
	return settings
}
