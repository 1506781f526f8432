package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the trellis configuration file
// (~/.config/trellis/config.yaml). Fields are pointers where "not set" must
// be distinguishable from the zero value.
type Config struct {
	Backend  string `yaml:"backend"`
	TileSize *int64 `yaml:"tile_size"`
	Workers  *int64 `yaml:"workers"`
	Streams  *int64 `yaml:"streams"`
	Device   *int64 `yaml:"device"`

	// Hyperparameter and optimizer defaults
	Lengthscale *float64 `yaml:"lengthscale"`
	Vertical    *float64 `yaml:"vertical"`
	Noise       *float64 `yaml:"noise"`
	LearnRate   *float64 `yaml:"learn_rate"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "trellis", "config.yaml")
}

// applyEngineConfig applies config file defaults to engine flag variables
// when the corresponding CLI flag was not explicitly set.
func applyEngineConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.TileSize != nil && !c.IsSet("tile-size") && !c.IsSet("b") {
		tileSize = *cfg.TileSize
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
	if cfg.Streams != nil && !c.IsSet("streams") {
		streams = *cfg.Streams
	}
	if cfg.Device != nil && !c.IsSet("device") {
		device = *cfg.Device
	}
	if cfg.Lengthscale != nil && !c.IsSet("lengthscale") && !c.IsSet("l") {
		lengthscale = *cfg.Lengthscale
	}
	if cfg.Vertical != nil && !c.IsSet("vertical") && !c.IsSet("v") {
		vertical = *cfg.Vertical
	}
	if cfg.Noise != nil && !c.IsSet("noise") {
		noise = *cfg.Noise
	}
	if cfg.LearnRate != nil && !c.IsSet("learn-rate") && !c.IsSet("lr") {
		learnRate = *cfg.LearnRate
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
