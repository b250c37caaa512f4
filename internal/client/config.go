package client

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// ClientConfig represents the complete client configuration
type ClientConfig struct {
	Server *ServerConnection `hcl:"server,block"`
	Player *PlayerSettings   `hcl:"player,block"`
	UI     *UISettings       `hcl:"ui,block"`
}

// ServerConnection contains server connection settings
type ServerConnection struct {
	URL               string `hcl:"url,optional"`
	ReconnectDelay    string `hcl:"reconnect_delay,optional"`
	MaxReconnectDelay string `hcl:"max_reconnect_delay,optional"`
}

// PlayerSettings contains player-specific settings
type PlayerSettings struct {
	UserID       string `hcl:"user_id,optional"`
	Mode         string `hcl:"mode,optional"`
	DefaultStake int64  `hcl:"default_stake,optional"`
}

// UISettings contains user interface settings
type UISettings struct {
	LogLevel string `hcl:"log_level,optional"`
	LogFile  string `hcl:"log_file,optional"`
	NoColor  bool   `hcl:"no_color,optional"`
	// Reveal is how long a result is presented before the next is shown.
	Reveal string `hcl:"reveal,optional"`
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Server: &ServerConnection{
			URL:               "http://localhost:8080",
			ReconnectDelay:    "500ms",
			MaxReconnectDelay: "10s",
		},
		Player: &PlayerSettings{
			Mode:         "30sec",
			DefaultStake: 10,
		},
		UI: &UISettings{
			LogLevel: "warn",
			LogFile:  "wingo-client.log",
			Reveal:   "2s",
		},
	}
}

// LoadClientConfig loads client configuration from HCL file
func LoadClientConfig(filename string) (*ClientConfig, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return DefaultClientConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config ClientConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	defaults := DefaultClientConfig()
	if config.Server == nil {
		config.Server = defaults.Server
	}
	if config.Player == nil {
		config.Player = defaults.Player
	}
	if config.UI == nil {
		config.UI = defaults.UI
	}

	if config.Server.URL == "" {
		config.Server.URL = defaults.Server.URL
	}
	if config.Server.ReconnectDelay == "" {
		config.Server.ReconnectDelay = defaults.Server.ReconnectDelay
	}
	if config.Server.MaxReconnectDelay == "" {
		config.Server.MaxReconnectDelay = defaults.Server.MaxReconnectDelay
	}
	if config.Player.Mode == "" {
		config.Player.Mode = defaults.Player.Mode
	}
	if config.Player.DefaultStake == 0 {
		config.Player.DefaultStake = defaults.Player.DefaultStake
	}
	if config.UI.LogLevel == "" {
		config.UI.LogLevel = defaults.UI.LogLevel
	}
	if config.UI.LogFile == "" {
		config.UI.LogFile = defaults.UI.LogFile
	}
	if config.UI.Reveal == "" {
		config.UI.Reveal = defaults.UI.Reveal
	}

	return &config, nil
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.Player.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if c.Player.DefaultStake <= 0 {
		return fmt.Errorf("default stake must be positive")
	}

	for name, value := range map[string]string{
		"reconnect_delay":     c.Server.ReconnectDelay,
		"max_reconnect_delay": c.Server.MaxReconnectDelay,
		"reveal":              c.UI.Reveal,
	} {
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return fmt.Errorf("invalid %s: %q", name, value)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.UI.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.UI.LogLevel)
	}

	return nil
}

// Backoff returns the reconnect delay bounds.
func (c *ClientConfig) Backoff() (minDelay, maxDelay time.Duration) {
	minDelay, _ = time.ParseDuration(c.Server.ReconnectDelay)
	maxDelay, _ = time.ParseDuration(c.Server.MaxReconnectDelay)
	return minDelay, maxDelay
}

// RevealDuration returns how long each result is presented.
func (c *ClientConfig) RevealDuration() time.Duration {
	d, _ := time.ParseDuration(c.UI.Reveal)
	return d
}
