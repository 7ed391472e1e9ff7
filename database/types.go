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
	"time"
)

// Supported backend types.
const (
	TypeSQLServer = "sqlserver"
	TypePostgres  = "postgres"
	TypeMySQL     = "mysql"
	TypeSQLite    = "sqlite"
)

// Authentication modes for ConnectionConfig.AuthMode.
const (
	AuthAuto     = "auto"
	AuthPassword = "password"
	AuthToken    = "token"
)

// Token scopes used when AuthMode resolves to token authentication.
const (
	ScopeAzureSQL      = "https://database.windows.net/.default"
	ScopeAzureOSSRDBMS = "https://ossrdbms-aad.database.windows.net/.default"
)

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	Generation    uint64        `json:"generation"`
	ResponseTime  time.Duration `json:"response_time"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats of the provider's current connection.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
	Generation        uint64        `json:"generation"`
}

// ConnectionConfig describes how a repository reaches its backend.
type ConnectionConfig struct {
	Type     string `json:"type" yaml:"type" koanf:"type" validate:"required,oneof=sqlserver mssql postgres postgresql mysql sqlite sqlite3"`
	Host     string `json:"host" yaml:"host" koanf:"host"`
	Port     int    `json:"port" yaml:"port" koanf:"port" validate:"gte=0,lte=65535"`
	Username string `json:"username" yaml:"username" koanf:"username"`
	Password string `json:"password" yaml:"password" koanf:"password"`
	DBName   string `json:"dbname" yaml:"dbname" koanf:"dbname" validate:"required"`
	SSLMode  string `json:"sslmode" yaml:"sslmode" koanf:"sslmode"`
	Encrypt  string `json:"encrypt" yaml:"encrypt" koanf:"encrypt"`

	// AuthMode is auto, password or token. Auto picks password for local
	// hosts and a managed-identity token otherwise.
	AuthMode     string   `json:"auth_mode" yaml:"auth_mode" koanf:"auth_mode" validate:"omitempty,oneof=auto password token"`
	LocalAliases []string `json:"local_aliases" yaml:"local_aliases" koanf:"local_aliases"`
	ClientID     string   `json:"client_id" yaml:"client_id" koanf:"client_id"`
	TokenScope   string   `json:"token_scope" yaml:"token_scope" koanf:"token_scope"`

	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout" koanf:"connect_timeout"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" koanf:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" koanf:"write_timeout"`

	// MaxReconnectTries bounds the reconnect wrapper. Zero keeps retrying
	// until the error is no longer transient.
	MaxReconnectTries int           `json:"max_reconnect_tries" yaml:"max_reconnect_tries" koanf:"max_reconnect_tries" validate:"gte=0"`
	ReconnectInterval time.Duration `json:"reconnect_interval" yaml:"reconnect_interval" koanf:"reconnect_interval"`

	EnableQueryLog bool          `json:"enable_query_log" yaml:"enable_query_log" koanf:"enable_query_log"`
	SlowQueryTime  time.Duration `json:"slow_query_time" yaml:"slow_query_time" koanf:"slow_query_time"`
	Charset        string        `json:"charset" yaml:"charset" koanf:"charset"`
}

// IdentityConfig selects the credential used for token authentication.
type IdentityConfig struct {
	ManagedIdentityClientID string `json:"managed_identity_client_id" yaml:"managed_identity_client_id" koanf:"managed_identity_client_id"`
	SystemAssigned          bool   `json:"system_assigned" yaml:"system_assigned" koanf:"system_assigned"`
	// RefreshBefore is how long before expiry a cached token is replaced.
	RefreshBefore time.Duration `json:"refresh_before" yaml:"refresh_before" koanf:"refresh_before"`
}

// RepositoryConfig holds settings shared by every repository.
type RepositoryConfig struct {
	Namespace string `json:"namespace" yaml:"namespace" koanf:"namespace"`
	BatchSize int    `json:"batch_size" yaml:"batch_size" koanf:"batch_size" validate:"gte=0,lte=1000"`
}

// LogConfig configures the named loggers.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Format string `json:"format" yaml:"format" koanf:"format" validate:"omitempty,oneof=text json"`
}

// Config aggregates connection, identity and repository settings.
type Config struct {
	Connection ConnectionConfig `json:"connection" yaml:"connection" koanf:"connection" validate:"required"`
	Identity   IdentityConfig   `json:"identity" yaml:"identity" koanf:"identity"`
	Repository RepositoryConfig `json:"repository" yaml:"repository" koanf:"repository"`
	Log        LogConfig        `json:"log" yaml:"log" koanf:"log"`
}

// DefaultConnectionConfig returns a connection config with sensible defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		AuthMode:          AuthAuto,
		ConnMaxLifetime:   time.Hour,
		ConnectTimeout:    time.Second * 10,
		ReadTimeout:       time.Second * 30,
		WriteTimeout:      time.Second * 30,
		MaxReconnectTries: 0,
		ReconnectInterval: 0,
		EnableQueryLog:    false,
		SlowQueryTime:     time.Second * 2,
	}
}

// DefaultConfig returns a Config with default connection and repository settings.
func DefaultConfig() *Config {
	return &Config{
		Connection: *DefaultConnectionConfig(),
		Identity:   IdentityConfig{RefreshBefore: 5 * time.Minute},
		Repository: RepositoryConfig{Namespace: "", BatchSize: 1000},
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}
