package relay

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const DefaultPort = 3005

type Settings struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingTimeout      time.Duration
	SendBufferSize   int
	// reported on `/status`
	Version string
}

func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingTimeout:      5 * time.Second,
		SendBufferSize:   64,
		Version:          "0.0.0-local",
	}
}

// relay configuration resolved from the environment at startup
type Config struct {
	Port           int           `env:"RELAY_PORT" envDefault:"3005"`
	ReadTimeout    time.Duration `env:"RELAY_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"RELAY_WRITE_TIMEOUT" envDefault:"5s"`
	PingTimeout    time.Duration `env:"RELAY_PING_TIMEOUT" envDefault:"5s"`
	SendBufferSize int           `env:"RELAY_SEND_BUFFER" envDefault:"64"`
	Version        string        `env:"RELAY_VERSION" envDefault:"0.0.0-local"`
}

func ParseConfig() (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

func ParseConfigFromEnvironment(environment map[string]string) (*Config, error) {
	config := &Config{}
	if err := env.ParseWithOptions(config, env.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

func (self *Config) Settings() *Settings {
	settings := DefaultSettings()
	settings.ReadTimeout = self.ReadTimeout
	settings.WriteTimeout = self.WriteTimeout
	settings.PingTimeout = self.PingTimeout
	if 0 < self.SendBufferSize {
		settings.SendBufferSize = self.SendBufferSize
	}
	settings.Version = self.Version
	return settings
}
