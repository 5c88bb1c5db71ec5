package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the connection string; for sqlite it is the database file path.
	DSN string `yaml:"dsn"`
}

type Config struct {
	Port     string         `yaml:"port,omitempty"` // e.g. ":8080"
	Database DatabaseConfig `yaml:"database"`
	// JWTSecret signs session tokens.
	JWTSecret string `yaml:"jwt_secret"`
	// ClientSecret is the trusted-caller bypass credential. Empty disables
	// the bypass.
	ClientSecret string `yaml:"client_secret"`
	LogLevel     string `yaml:"log_level,omitempty"`
}

// Load reads the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var conf Config
	if err := yaml.Unmarshal(f, &conf); err != nil {
		return nil, err
	}

	if conf.Port == "" {
		conf.Port = ":8080"
	}
	if conf.Database.Driver == "" {
		conf.Database.Driver = "sqlite"
	}
	if conf.Database.Driver == "sqlite" && conf.Database.DSN == "" {
		conf.Database.DSN = "data/pulse.db"
	}
	if conf.LogLevel == "" {
		conf.LogLevel = "info"
	}
	if conf.JWTSecret == "" {
		return nil, fmt.Errorf("config: jwt_secret must be set")
	}

	return &conf, nil
}
