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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b4ae-project/b4ae/primitives"
)

func TestLoadFromFileYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `environment: staging
core:
  authentication_mode: "B"
  ratchet_interval: 50
  cache_cap: 500
  max_skip: 2000
  handshake_timeout_ms: 15000
  target_rate_hz: 100
  dummy_rate: 0.35
  max_queue_depth: 5000
  max_queue_bytes: 1048576
  cookie_secret_rotation_hours: 12
  cookie_validity_seconds: 20
logging:
  level: debug
  format: text
  output: stderr
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "B", cfg.Core.AuthenticationMode)
	assert.Equal(t, uint32(50), cfg.Core.RatchetInterval)
	assert.Equal(t, uint32(500), cfg.Core.CacheCap)
	assert.Equal(t, uint32(2000), cfg.Core.MaxSkip)
	assert.Equal(t, uint32(15000), cfg.Core.HandshakeTimeoutMs)
	assert.Equal(t, 100.0, cfg.Core.TargetRateHz)
	assert.Equal(t, 0.35, cfg.Core.DummyRate)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "stderr", cfg.Logging.Output)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sparse.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("environment: production\n"), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "A", cfg.Core.AuthenticationMode)
	assert.Equal(t, uint32(100), cfg.Core.RatchetInterval)
	assert.Equal(t, uint32(1000), cfg.Core.CacheCap)
	assert.Equal(t, uint32(1000), cfg.Core.MaxSkip)
	assert.Equal(t, uint32(30_000), cfg.Core.HandshakeTimeoutMs)
	assert.Equal(t, 0.20, cfg.Core.DummyRate)
	assert.Equal(t, uint32(24), cfg.Core.CookieSecretRotationHours)
	assert.Equal(t, uint32(30), cfg.Core.CookieValiditySeconds)
}

func TestLoadFromFileRejectsGarbage(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "garbage.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("not: [valid yaml or json"), 0644))

	_, err := LoadFromFile(configPath)
	assert.Error(t, err)
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "out.yaml")
	jsonPath := filepath.Join(tmpDir, "out.json")

	cfg := &Config{Environment: "development"}
	setDefaults(cfg)
	cfg.Core.RatchetInterval = 250

	require.NoError(t, SaveToFile(cfg, yamlPath))
	require.NoError(t, SaveToFile(cfg, jsonPath))

	reloadedYAML, err := LoadFromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, uint32(250), reloadedYAML.Core.RatchetInterval)

	reloadedJSON, err := LoadFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, uint32(250), reloadedJSON.Core.RatchetInterval)
}

func TestCoreConfigMode(t *testing.T) {
	a := CoreConfig{AuthenticationMode: "A"}
	mode, err := a.Mode()
	require.NoError(t, err)
	assert.Equal(t, primitives.ModeA, mode)

	b := CoreConfig{AuthenticationMode: "B"}
	mode, err = b.Mode()
	require.NoError(t, err)
	assert.Equal(t, primitives.ModeB, mode)

	bad := CoreConfig{AuthenticationMode: "Z"}
	_, err = bad.Mode()
	assert.Error(t, err)
}
