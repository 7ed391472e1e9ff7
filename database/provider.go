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
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mssqldialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
)

// Credentials carry the secret chosen by the authentication path. Exactly
// one of Password or Token is meaningful.
type Credentials struct {
	Username string
	Password string
	// Token returns a fresh access token; nil on the password path.
	Token func() (string, error)
}

// UsesToken reports whether the token path was selected.
func (c Credentials) UsesToken() bool { return c.Token != nil }

// OpenFunc opens a *sql.DB for the given configuration.
type OpenFunc func(ctx context.Context, cfg *ConnectionConfig, creds Credentials) (*sql.DB, error)

type ProviderOption func(*Provider)

func WithTokenSource(ts TokenSource) ProviderOption {
	return func(p *Provider) { p.tokens = ts }
}

func WithProviderLogger(l Logger) ProviderOption {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOpenFunc replaces the driver-level open, mostly for tests.
func WithOpenFunc(fn OpenFunc) ProviderOption {
	return func(p *Provider) {
		if fn != nil {
			p.open = fn
		}
	}
}

func WithIdentityConfig(cfg IdentityConfig) ProviderOption {
	return func(p *Provider) { p.identity = cfg }
}

// Provider owns the single live connection of one repository instance.
// The connection is built lazily and replaced wholesale on Invalidate.
type Provider struct {
	config   *ConnectionConfig
	identity IdentityConfig
	dialect  func() schema.Dialect
	tokens   TokenSource
	logger   Logger
	open     OpenFunc
	policy   *RetryPolicy

	mu         sync.Mutex
	db         *bun.DB
	hook       *statementHook
	generation uint64
	lastError  error
}

// NewProvider validates cfg and returns a provider that has not connected yet.
func NewProvider(cfg *ConnectionConfig, opts ...ProviderOption) (*Provider, error) {
	if cfg == nil {
		return nil, NewConfigurationError("database configuration cannot be empty")
	}
	c := *cfg
	c.Type = normalizeType(c.Type)
	if c.AuthMode == "" {
		c.AuthMode = AuthAuto
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}

	p := &Provider{
		config: &c,
		logger: GetLogger(),
		open:   openSQL,
	}
	switch c.Type {
	case TypeSQLServer:
		p.dialect = func() schema.Dialect { return mssqldialect.New() }
	case TypePostgres:
		p.dialect = func() schema.Dialect { return pgdialect.New() }
	case TypeMySQL:
		p.dialect = func() schema.Dialect { return mysqldialect.New() }
	case TypeSQLite:
		p.dialect = func() schema.Dialect { return sqlitedialect.New() }
	default:
		return nil, NewConfigurationError("unsupported database type: %q, supported types: %v",
			cfg.Type, []string{TypeSQLServer, TypePostgres, TypeMySQL, TypeSQLite})
	}
	switch c.AuthMode {
	case AuthAuto, AuthPassword, AuthToken:
	default:
		return nil, NewConfigurationError("unsupported auth mode: %q", c.AuthMode)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "sqlserver", "mssql":
		return TypeSQLServer
	case "postgres", "postgresql":
		return TypePostgres
	case "mysql":
		return TypeMySQL
	case "sqlite", "sqlite3":
		return TypeSQLite
	default:
		return t
	}
}

// Config returns a copy of the effective configuration.
func (p *Provider) Config() ConnectionConfig { return *p.config }

// Dialect returns a dialect instance for statement building without connecting.
func (p *Provider) Dialect() schema.Dialect { return p.dialect() }

// Generation counts connections built so far; it increases on every rebuild.
func (p *Provider) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// IsLocal reports whether host is a loopback or development alias, which
// selects username/password authentication in auto mode.
func (p *Provider) IsLocal(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return p.config.Type == TypeSQLite
	}
	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	}
	h = strings.Trim(h, "[]")
	if i := strings.IndexByte(h, '\\'); i >= 0 {
		h = h[:i]
	}
	switch h {
	case "localhost", "mssql", "(local)", ".":
		return true
	}
	for _, alias := range p.config.LocalAliases {
		if strings.EqualFold(strings.TrimSpace(alias), h) {
			return true
		}
	}
	if ip := net.ParseIP(h); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func (p *Provider) useToken() bool {
	switch p.config.AuthMode {
	case AuthPassword:
		return false
	case AuthToken:
		return true
	}
	if p.config.Type == TypeSQLite {
		return false
	}
	return !p.IsLocal(p.config.Host)
}

func (p *Provider) tokenScope() string {
	if p.config.TokenScope != "" {
		return p.config.TokenScope
	}
	if p.config.Type == TypeSQLServer {
		return ScopeAzureSQL
	}
	return ScopeAzureOSSRDBMS
}

func (p *Provider) target() string {
	if p.config.Type == TypeSQLite {
		return p.config.Type + "://" + p.config.DBName
	}
	return fmt.Sprintf("%s://%s:%d/%s", p.config.Type, p.config.Host, p.config.Port, p.config.DBName)
}

// Acquire returns the current connection, building it on first use.
func (p *Provider) Acquire(ctx context.Context) (*bun.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return p.db, nil
	}
	db, hook, err := p.connect(ctx)
	if err != nil {
		p.lastError = err
		return nil, err
	}
	p.db = db
	p.hook = hook
	p.lastError = nil
	p.logger.Info("database connected",
		"type", p.config.Type, "host", p.config.Host, "generation", p.generation)
	return db, nil
}

func (p *Provider) credentials(ctx context.Context) (Credentials, error) {
	creds := Credentials{Username: p.config.Username}
	if !p.useToken() {
		creds.Password = p.config.Password
		return creds, nil
	}

	if p.tokens == nil {
		src, err := NewAzureTokenSource(p.identity)
		if err != nil {
			return creds, &AuthenticationError{Scope: p.tokenScope(), Err: err}
		}
		p.tokens = NewCachedTokenSource(src, p.identity.RefreshBefore)
	}
	scope := p.tokenScope()
	// Fetch eagerly so a refused token surfaces as AuthenticationError
	// instead of a driver dial failure.
	if _, err := p.tokens.GetAccessToken(ctx, scope); err != nil {
		return creds, &AuthenticationError{Scope: scope, Err: err}
	}
	tokens, timeout := p.tokens, p.config.ConnectTimeout
	// Drivers refresh the token while dialing, long after ctx may be gone.
	creds.Token = func() (string, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		tok, err := tokens.GetAccessToken(fetchCtx, scope)
		if err != nil {
			return "", &AuthenticationError{Scope: scope, Err: err}
		}
		return tok.Token, nil
	}
	return creds, nil
}

func (p *Provider) connect(ctx context.Context) (*bun.DB, *statementHook, error) {
	creds, err := p.credentials(ctx)
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := p.open(ctx, p.config, creds)
	if err != nil {
		return nil, nil, &ConnectionError{Target: p.target(), Err: err}
	}
	// One physical connection per repository instance.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if p.config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.config.ConnMaxLifetime)
	}

	db := bun.NewDB(sqlDB, p.dialect())
	p.generation++
	hook := newStatementHook(p.logger, p.config.SlowQueryTime, p.generation)
	db.AddQueryHook(hook)
	if p.config.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, &ConnectionError{Target: p.target(), Err: err}
	}
	return db, hook, nil
}

// Invalidate closes and forgets the current connection so the next Acquire
// builds a new one.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return
	}
	if err := p.db.Close(); err != nil {
		p.logger.Debug("closing invalidated connection failed", "error", err)
	}
	p.logger.Info("database connection invalidated", "generation", p.generation)
	p.db = nil
	p.hook = nil
}

// Close releases the current connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	p.hook = nil
	if err != nil {
		p.logger.Error("failed to close database connection", "error", err)
	} else {
		p.logger.Info("database connection closed")
	}
	return err
}

// HealthCheck pings the current connection without building one.
func (p *Provider) HealthCheck(ctx context.Context) *HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	status := &HealthStatus{LastCheckTime: start, Generation: p.generation}
	if p.db == nil {
		status.LastError = "database not connected"
		if p.lastError != nil {
			status.LastError = p.lastError.Error()
		}
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := p.db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
		p.lastError = err
		return status
	}
	status.Healthy = true
	status.Connected = true
	return status
}

// StatementFailures counts failed statements on the current connection.
func (p *Provider) StatementFailures() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hook == nil {
		return 0
	}
	return p.hook.Failures()
}

func (p *Provider) Stats() *DBStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return &DBStats{Generation: p.generation}
	}
	stats := p.db.DB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
		Generation:        p.generation,
	}
}

func openSQL(_ context.Context, cfg *ConnectionConfig, creds Credentials) (*sql.DB, error) {
	switch cfg.Type {
	case TypeSQLServer:
		return openSQLServer(cfg, creds)
	case TypePostgres:
		return openPostgres(cfg, creds)
	case TypeMySQL:
		return openMySQL(cfg, creds)
	case TypeSQLite:
		return sql.Open(sqliteshim.ShimName, sqliteDSN(cfg.DBName))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

func openSQLServer(cfg *ConnectionConfig, creds Credentials) (*sql.DB, error) {
	port := cfg.Port
	if port == 0 {
		port = 1433
	}
	query := url.Values{}
	query.Set("database", cfg.DBName)
	query.Set("connection timeout", strconv.Itoa(int(cfg.ConnectTimeout.Seconds())))
	if cfg.Encrypt != "" {
		query.Set("encrypt", cfg.Encrypt)
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		RawQuery: query.Encode(),
	}
	if !creds.UsesToken() {
		u.User = url.UserPassword(creds.Username, creds.Password)
		return sql.Open("sqlserver", u.String())
	}
	connector, err := mssql.NewAccessTokenConnector(u.String(), creds.Token)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

func openPostgres(cfg *ConnectionConfig, creds Credentials) (*sql.DB, error) {
	password := creds.Password
	sslMode := cfg.SSLMode
	if creds.UsesToken() {
		tok, err := creds.Token()
		if err != nil {
			return nil, err
		}
		password = tok
		if sslMode == "" {
			sslMode = "require"
		}
	}
	if sslMode == "" {
		sslMode = "disable"
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.Username, password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.DBName,
		RawQuery: url.Values{
			"sslmode":         {sslMode},
			"connect_timeout": {strconv.Itoa(int(cfg.ConnectTimeout.Seconds()))},
		}.Encode(),
	}
	return sql.Open("postgres", u.String())
}

func openMySQL(cfg *ConnectionConfig, creds Credentials) (*sql.DB, error) {
	password := creds.Password
	extra := ""
	if creds.UsesToken() {
		tok, err := creds.Token()
		if err != nil {
			return nil, err
		}
		password = tok
		extra = "&allowCleartextPasswords=true&tls=true"
	}
	charset := cfg.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=%s&parseTime=True&loc=UTC&clientFoundRows=true&timeout=%s&readTimeout=%s&writeTimeout=%s%s",
		creds.Username,
		password,
		net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		cfg.DBName,
		charset,
		cfg.ConnectTimeout,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		extra,
	)
	return sql.Open("mysql", dsn)
}

// sqliteDSN appends the .db extension unless the name already has one.
func sqliteDSN(name string) string {
	if name == ":memory:" || strings.HasPrefix(name, "file:") || filepath.Ext(name) != "" {
		return name
	}
	return name + ".db"
}
