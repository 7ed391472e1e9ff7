/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
connection:
  type: sqlserver
  host: nestdb.database.windows.net
  port: 1433
  dbname: sales
  auth_mode: auto
  local_aliases: [devbox]
  max_reconnect_tries: 3
identity:
  managed_identity_client_id: 00000000-0000-0000-0000-000000000001
repository:
  namespace: storyous
  batch_size: 500
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nestdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig), "NESTTEST_")
	require.NoError(t, err)

	assert.Equal(t, "sqlserver", cfg.Connection.Type)
	assert.Equal(t, 1433, cfg.Connection.Port)
	assert.Equal(t, []string{"devbox"}, cfg.Connection.LocalAliases)
	assert.Equal(t, 3, cfg.Connection.MaxReconnectTries)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", cfg.Identity.ManagedIdentityClientID)
	assert.Equal(t, "storyous", cfg.Repository.Namespace)
	assert.Equal(t, 500, cfg.Repository.BatchSize)

	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Connection.ConnectTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Identity.RefreshBefore)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("NESTTEST_CONNECTION__HOST", "localhost")
	t.Setenv("NESTTEST_CONNECTION__PASSWORD", "secret")
	t.Setenv("NESTTEST_REPOSITORY__NAMESPACE", "sales")

	cfg, err := LoadConfig(writeConfig(t, sampleConfig), "NESTTEST_")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Connection.Host)
	assert.Equal(t, "secret", cfg.Connection.Password)
	assert.Equal(t, "sales", cfg.Repository.Namespace)
	assert.Equal(t, "sales", cfg.Connection.DBName)
}

func TestLoadConfigErrors(t *testing.T) {
	var ce *ConfigurationError

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "NESTTEST_")
	require.Error(t, err)
	assert.NotErrorAs(t, err, &ce)

	_, err = LoadConfig(writeConfig(t, "connection: [broken"), "NESTTEST_")
	assert.ErrorAs(t, err, &ce)

	_, err = LoadConfig(writeConfig(t, "connection:\n  type: oracle\n  dbname: x\n"), "NESTTEST_")
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "Type(oneof)")

	_, err = LoadConfig(writeConfig(t, "connection:\n  type: postgres\n"), "NESTTEST_")
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "DBName(required)")

	assert.ErrorAs(t, ValidateConfig(nil), &ce)
}
