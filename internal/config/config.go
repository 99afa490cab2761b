// Package config loads the server configuration from a YAML file.
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	DataDir   string `yaml:"data_dir" validate:"required"`
	Transport string `yaml:"transport" validate:"oneof=stdio http"`
	Port      string `yaml:"port" validate:"required,numeric"`
	Log       Log    `yaml:"log"`
	Graph     Graph  `yaml:"graph"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Graph selects how artifact closures are computed.
type Graph struct {
	Closure string `yaml:"closure" validate:"oneof=bfs parallel"`
	Workers int    `yaml:"workers" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:   "./data",
		Transport: "stdio",
		Port:      "8081",
		Log:       Log{Level: "info", Format: "text"},
		Graph:     Graph{Closure: "bfs"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate checks every field against its allowed values.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
