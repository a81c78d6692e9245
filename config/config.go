// Copyright (C) 2025 b4ae-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/b4ae-project/b4ae/primitives"
)

// Config is the main configuration structure: the core's negotiable
// parameters plus the ambient engineering surface (environment, logging,
// metrics, health).
type Config struct {
	Environment string `yaml:"environment" json:"environment"`

	Core    CoreConfig    `yaml:"core" json:"core"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Health  HealthConfig  `yaml:"health" json:"health"`
}

// CoreConfig is the protocol's own configuration surface: the negotiable
// parameters shared by the handshake, ratchet and scheduler.
type CoreConfig struct {
	AuthenticationMode string `yaml:"authentication_mode" json:"authentication_mode"`

	RatchetInterval uint32 `yaml:"ratchet_interval" json:"ratchet_interval"` // [1, 10000]
	CacheCap        uint32 `yaml:"cache_cap" json:"cache_cap"`               // [10, 1000]
	MaxSkip         uint32 `yaml:"max_skip" json:"max_skip"`                 // [100, 10000]
	HandshakeTimeoutMs uint32 `yaml:"handshake_timeout_ms" json:"handshake_timeout_ms"`

	TargetRateHz  float64 `yaml:"target_rate_hz" json:"target_rate_hz"` // [10, 1000]
	DummyRate     float64 `yaml:"dummy_rate" json:"dummy_rate"`         // [0.20, 1.00]
	MaxQueueDepth uint32  `yaml:"max_queue_depth" json:"max_queue_depth"`
	MaxQueueBytes uint64  `yaml:"max_queue_bytes" json:"max_queue_bytes"`

	CookieSecretRotationHours uint32 `yaml:"cookie_secret_rotation_hours" json:"cookie_secret_rotation_hours"`
	CookieValiditySeconds     uint32 `yaml:"cookie_validity_seconds" json:"cookie_validity_seconds"`
}

// Mode parses AuthenticationMode ("A" or "B") into its primitives type.
func (c CoreConfig) Mode() (primitives.AuthenticationMode, error) {
	switch c.AuthenticationMode {
	case "A":
		return primitives.ModeA, nil
	case "B":
		return primitives.ModeB, nil
	default:
		return 0, fmt.Errorf("unrecognized authentication_mode %q", c.AuthenticationMode)
	}
}

// LoggingConfig describes structured-log output.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig describes the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig describes the liveness/readiness endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing JSON or YAML by
// extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults fills every zero-valued field with the protocol's stated
// defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Core.AuthenticationMode == "" {
		cfg.Core.AuthenticationMode = "A"
	}
	if cfg.Core.RatchetInterval == 0 {
		cfg.Core.RatchetInterval = 100
	}
	if cfg.Core.CacheCap == 0 {
		cfg.Core.CacheCap = 1000
	}
	if cfg.Core.MaxSkip == 0 {
		cfg.Core.MaxSkip = 1000
	}
	if cfg.Core.HandshakeTimeoutMs == 0 {
		cfg.Core.HandshakeTimeoutMs = 30_000
	}
	if cfg.Core.TargetRateHz == 0 {
		cfg.Core.TargetRateHz = 50
	}
	if cfg.Core.DummyRate == 0 {
		cfg.Core.DummyRate = 0.20
	}
	if cfg.Core.MaxQueueDepth == 0 {
		cfg.Core.MaxQueueDepth = 10_000
	}
	if cfg.Core.MaxQueueBytes == 0 {
		cfg.Core.MaxQueueBytes = 100 * 1024 * 1024
	}
	if cfg.Core.CookieSecretRotationHours == 0 {
		cfg.Core.CookieSecretRotationHours = 24
	}
	if cfg.Core.CookieValiditySeconds == 0 {
		cfg.Core.CookieValiditySeconds = 30
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}
