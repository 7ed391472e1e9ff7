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
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func sqliteConfig(t *testing.T) *ConnectionConfig {
	t.Helper()
	cfg := DefaultConnectionConfig()
	cfg.Type = TypeSQLite
	cfg.DBName = filepath.Join(t.TempDir(), "nestdb.db")
	return cfg
}

func newSQLiteProvider(t *testing.T, opts ...ProviderOption) *Provider {
	t.Helper()
	opts = append([]ProviderOption{WithProviderLogger(NopLogger())}, opts...)
	p, err := NewProvider(sqliteConfig(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// sqliteOpen ignores the configured backend and opens path, so remote
// configurations can be exercised locally.
func sqliteOpen(path string, seen *Credentials) OpenFunc {
	return func(_ context.Context, _ *ConnectionConfig, creds Credentials) (*sql.DB, error) {
		if seen != nil {
			*seen = creds
		}
		return sql.Open(sqliteshim.ShimName, path)
	}
}

func TestNewProviderValidates(t *testing.T) {
	var ce *ConfigurationError
	_, err := NewProvider(nil)
	assert.ErrorAs(t, err, &ce)

	_, err = NewProvider(&ConnectionConfig{Type: "oracle", DBName: "x"})
	assert.ErrorAs(t, err, &ce)

	_, err = NewProvider(&ConnectionConfig{Type: "postgres", DBName: "x", AuthMode: "kerberos"})
	assert.ErrorAs(t, err, &ce)

	p, err := NewProvider(&ConnectionConfig{Type: "mssql", DBName: "x"}, WithProviderLogger(NopLogger()))
	require.NoError(t, err)
	assert.Equal(t, TypeSQLServer, p.Config().Type)
	assert.Equal(t, AuthAuto, p.Config().AuthMode)
	assert.Equal(t, dialect.MSSQL, p.Dialect().Name())
}

func TestIsLocal(t *testing.T) {
	p, err := NewProvider(&ConnectionConfig{Type: TypeSQLServer, DBName: "x", LocalAliases: []string{"devbox"}},
		WithProviderLogger(NopLogger()))
	require.NoError(t, err)

	for _, host := range []string{"localhost", "127.0.0.1", "[::1]:1433", "mssql", `localhost\SQLEXPRESS`, "DEVBOX"} {
		assert.True(t, p.IsLocal(host), host)
	}
	for _, host := range []string{"", "db.example.com", "10.0.0.4", "nestdb.database.windows.net:1433"} {
		assert.False(t, p.IsLocal(host), host)
	}
}

func TestAuthenticationPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.db")
	var scopes []string
	tokens := TokenSourceFunc(func(_ context.Context, scope string) (AccessToken, error) {
		scopes = append(scopes, scope)
		return AccessToken{Token: "entra-token"}, nil
	})

	t.Run("remote host uses a token", func(t *testing.T) {
		var seen Credentials
		cfg := &ConnectionConfig{Type: TypeSQLServer, Host: "nestdb.database.windows.net", DBName: "sales",
			Username: "app", Password: "secret"}
		p, err := NewProvider(cfg, WithProviderLogger(NopLogger()), WithTokenSource(tokens),
			WithOpenFunc(sqliteOpen(path, &seen)))
		require.NoError(t, err)
		defer p.Close()

		_, err = p.Acquire(context.Background())
		require.NoError(t, err)
		require.True(t, seen.UsesToken())
		assert.Empty(t, seen.Password)
		tok, err := seen.Token()
		require.NoError(t, err)
		assert.Equal(t, "entra-token", tok)
		assert.Equal(t, ScopeAzureSQL, scopes[0])
	})

	t.Run("local host uses the password", func(t *testing.T) {
		var seen Credentials
		cfg := &ConnectionConfig{Type: TypePostgres, Host: "localhost", DBName: "sales",
			Username: "app", Password: "secret"}
		p, err := NewProvider(cfg, WithProviderLogger(NopLogger()), WithTokenSource(tokens),
			WithOpenFunc(sqliteOpen(path, &seen)))
		require.NoError(t, err)
		defer p.Close()

		_, err = p.Acquire(context.Background())
		require.NoError(t, err)
		assert.False(t, seen.UsesToken())
		assert.Equal(t, "app", seen.Username)
		assert.Equal(t, "secret", seen.Password)
	})

	t.Run("forced token mode", func(t *testing.T) {
		var seen Credentials
		cfg := &ConnectionConfig{Type: TypePostgres, Host: "localhost", DBName: "sales", AuthMode: AuthToken}
		p, err := NewProvider(cfg, WithProviderLogger(NopLogger()), WithTokenSource(tokens),
			WithOpenFunc(sqliteOpen(path, &seen)))
		require.NoError(t, err)
		defer p.Close()

		_, err = p.Acquire(context.Background())
		require.NoError(t, err)
		assert.True(t, seen.UsesToken())
		assert.Equal(t, ScopeAzureOSSRDBMS, scopes[len(scopes)-1])
	})
}

func TestTokenRefreshIsBoundedByConnectTimeout(t *testing.T) {
	var calls atomic.Int32
	var deadline atomic.Bool
	tokens := TokenSourceFunc(func(ctx context.Context, _ string) (AccessToken, error) {
		if calls.Add(1) == 1 {
			return AccessToken{Token: "first"}, nil
		}
		_, ok := ctx.Deadline()
		deadline.Store(ok)
		<-ctx.Done()
		return AccessToken{}, ctx.Err()
	})
	var seen Credentials
	cfg := &ConnectionConfig{Type: TypeSQLServer, Host: "nestdb.database.windows.net", DBName: "sales",
		ConnectTimeout: 50 * time.Millisecond}
	p, err := NewProvider(cfg, WithProviderLogger(NopLogger()), WithTokenSource(tokens),
		WithOpenFunc(sqliteOpen(filepath.Join(t.TempDir(), "remote.db"), &seen)))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, seen.UsesToken())

	_, err = seen.Token()
	var ae *AuthenticationError
	require.ErrorAs(t, err, &ae)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, deadline.Load())
}

func TestTokenFailureIsAuthenticationError(t *testing.T) {
	var opened atomic.Int32
	refused := TokenSourceFunc(func(context.Context, string) (AccessToken, error) {
		return AccessToken{}, errors.New("managed identity unavailable")
	})
	open := func(ctx context.Context, cfg *ConnectionConfig, creds Credentials) (*sql.DB, error) {
		opened.Add(1)
		return nil, errors.New("unreachable")
	}
	p, err := NewProvider(&ConnectionConfig{Type: TypeSQLServer, Host: "db.example.com", DBName: "x"},
		WithProviderLogger(NopLogger()), WithTokenSource(refused), WithOpenFunc(open))
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	var ae *AuthenticationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ScopeAzureSQL, ae.Scope)
	assert.False(t, IsTransient(err))
	assert.Zero(t, opened.Load())
}

func TestOpenFailureIsConnectionError(t *testing.T) {
	open := func(context.Context, *ConnectionConfig, Credentials) (*sql.DB, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	p := newSQLiteProvider(t, WithOpenFunc(open))

	_, err := p.Acquire(context.Background())
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Target, "sqlite://")

	status := p.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
	assert.Contains(t, status.LastError, "connection refused")
}

func TestInvalidateBuildsNewConnection(t *testing.T) {
	p := newSQLiteProvider(t)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Equal(t, uint64(1), p.Generation())
	assert.Equal(t, 1, p.Stats().MaxOpenConns)

	p.Invalidate()
	b, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, uint64(2), p.Generation())
	assert.Error(t, a.PingContext(ctx))

	status := p.HealthCheck(ctx)
	assert.True(t, status.Healthy)
	assert.Equal(t, uint64(2), status.Generation)

	require.NoError(t, p.Close())
	assert.False(t, p.HealthCheck(ctx).Connected)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "nestdb.db", sqliteDSN("nestdb"))
	assert.Equal(t, "nestdb.sqlite", sqliteDSN("nestdb.sqlite"))
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "file::memory:?cache=shared", sqliteDSN("file::memory:?cache=shared"))
}
