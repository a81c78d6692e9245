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
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
	Level   string // "error", "warning", "info"
}

// ValidateConfiguration validates the entire configuration against the
// protocol's documented parameter ranges.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateCoreConfig(cfg.Core)...)
	errors = append(errors, validateEnvironment(cfg.Environment)...)

	return errors
}

func validateCoreConfig(c CoreConfig) []ValidationError {
	var errors []ValidationError

	if _, err := c.Mode(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "Core.AuthenticationMode",
			Message: err.Error(),
			Level:   "error",
		})
	}

	if c.RatchetInterval < 1 || c.RatchetInterval > 10000 {
		errors = append(errors, ValidationError{
			Field:   "Core.RatchetInterval",
			Message: fmt.Sprintf("must be in [1, 10000], got %d", c.RatchetInterval),
			Level:   "error",
		})
	}
	if c.CacheCap < 10 || c.CacheCap > 1000 {
		errors = append(errors, ValidationError{
			Field:   "Core.CacheCap",
			Message: fmt.Sprintf("must be in [10, 1000], got %d", c.CacheCap),
			Level:   "error",
		})
	}
	if c.MaxSkip < 100 || c.MaxSkip > 10000 {
		errors = append(errors, ValidationError{
			Field:   "Core.MaxSkip",
			Message: fmt.Sprintf("must be in [100, 10000], got %d", c.MaxSkip),
			Level:   "error",
		})
	}
	if c.HandshakeTimeoutMs == 0 {
		errors = append(errors, ValidationError{
			Field:   "Core.HandshakeTimeoutMs",
			Message: "handshake timeout must be positive",
			Level:   "error",
		})
	}
	if c.TargetRateHz < 10 || c.TargetRateHz > 1000 {
		errors = append(errors, ValidationError{
			Field:   "Core.TargetRateHz",
			Message: fmt.Sprintf("must be in [10, 1000], got %g", c.TargetRateHz),
			Level:   "error",
		})
	}
	if c.DummyRate < 0.20 || c.DummyRate > 1.00 {
		errors = append(errors, ValidationError{
			Field:   "Core.DummyRate",
			Message: fmt.Sprintf("must be in [0.20, 1.00], got %g", c.DummyRate),
			Level:   "error",
		})
	}
	if c.MaxQueueDepth == 0 {
		errors = append(errors, ValidationError{
			Field:   "Core.MaxQueueDepth",
			Message: "max queue depth should be set to bound backlog memory",
			Level:   "warning",
		})
	}
	if c.MaxQueueBytes == 0 {
		errors = append(errors, ValidationError{
			Field:   "Core.MaxQueueBytes",
			Message: "max queue bytes should be set to bound backlog memory",
			Level:   "warning",
		})
	}
	if c.CookieSecretRotationHours == 0 {
		errors = append(errors, ValidationError{
			Field:   "Core.CookieSecretRotationHours",
			Message: "cookie secret rotation interval must be positive",
			Level:   "error",
		})
	}
	if c.CookieValiditySeconds == 0 {
		errors = append(errors, ValidationError{
			Field:   "Core.CookieValiditySeconds",
			Message: "cookie validity window must be positive",
			Level:   "error",
		})
	}

	return errors
}

// validateEnvironment validates environment settings
func validateEnvironment(env string) []ValidationError {
	var errors []ValidationError

	validEnvs := []string{"local", "development", "staging", "production"}
	env = strings.ToLower(env)

	valid := false
	for _, v := range validEnvs {
		if env == v {
			valid = true
			break
		}
	}

	if !valid {
		errors = append(errors, ValidationError{
			Field:   "Environment",
			Message: fmt.Sprintf("invalid environment: %s (valid: %v)", env, validEnvs),
			Level:   "error",
		})
	}

	if env == "production" {
		errors = append(errors, ValidationError{
			Field:   "Environment",
			Message: "running in production mode - ensure cookie rotation and dummy rate are tuned for load",
			Level:   "info",
		})
	}

	return errors
}

// ValidateFile validates a configuration file on disk.
func ValidateFile(path string) ([]ValidationError, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return ValidateConfiguration(cfg), nil
}

// PrintValidationErrors prints validation errors grouped by severity.
func PrintValidationErrors(errors []ValidationError) {
	if len(errors) == 0 {
		fmt.Println("configuration is valid")
		return
	}

	var errorCount, warningCount, infoCount int
	for _, e := range errors {
		switch e.Level {
		case "error":
			errorCount++
		case "warning":
			warningCount++
		case "info":
			infoCount++
		}
	}

	fmt.Printf("configuration validation found %d errors, %d warnings, %d info messages\n\n",
		errorCount, warningCount, infoCount)

	for _, e := range errors {
		if e.Level == "error" {
			fmt.Printf("ERROR: %s - %s\n", e.Field, e.Message)
		}
	}
	for _, e := range errors {
		if e.Level == "warning" {
			fmt.Printf("WARNING: %s - %s\n", e.Field, e.Message)
		}
	}
	for _, e := range errors {
		if e.Level == "info" {
			fmt.Printf("INFO: %s - %s\n", e.Field, e.Message)
		}
	}
}
