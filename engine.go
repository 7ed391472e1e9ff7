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

// Package nestdb persists nested record graphs on SQL Server, PostgreSQL,
// MySQL and SQLite.
//
// An Engine is built once from a database.Config. Every repository opened
// from it owns its own connection provider, so one broken connection never
// affects the other repositories.
package nestdb

import (
	"context"
	"errors"
	"sync"

	"github.com/tomoncle/nestdb/database"
	"github.com/tomoncle/nestdb/repository"
	"github.com/tomoncle/nestdb/utils"
)

// Engine creates repositories sharing one configuration, one registry and
// one token cache.
type Engine struct {
	config   *database.Config
	registry *repository.Registry
	logger   database.Logger
	open     database.OpenFunc

	tokens     database.TokenSource
	tokensOnce sync.Once

	mu        sync.Mutex
	providers []*database.Provider
}

type EngineOption func(*Engine)

// WithRegistry shares an existing registry instead of a new empty one.
func WithRegistry(reg *repository.Registry) EngineOption {
	return func(e *Engine) {
		if reg != nil {
			e.registry = reg
		}
	}
}

// WithTokenSource replaces the managed identity used for token authentication.
func WithTokenSource(ts database.TokenSource) EngineOption {
	return func(e *Engine) { e.tokens = ts }
}

func WithLogger(l database.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithOpenFunc replaces the driver-level open of every provider.
func WithOpenFunc(fn database.OpenFunc) EngineOption {
	return func(e *Engine) { e.open = fn }
}

// NewEngine validates cfg and returns an engine that has not connected yet.
func NewEngine(cfg *database.Config, opts ...EngineOption) (*Engine, error) {
	if err := database.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	c := *cfg
	e := &Engine{
		config:   &c,
		registry: repository.NewRegistry(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = database.GetLogger()
	}
	return e, nil
}

// LoadEngine reads the configuration from path and the NESTDB_ environment,
// applies its log settings and builds the engine.
func LoadEngine(path string, opts ...EngineOption) (*Engine, error) {
	cfg, err := database.LoadConfig(path, database.DefaultEnvPrefix)
	if err != nil {
		return nil, err
	}
	utils.ConfigureConsoleLogFormat(cfg.Log.Format)
	utils.ConfigureLogLevel(cfg.Log.Level)
	return NewEngine(cfg, opts...)
}

func (e *Engine) Config() database.Config { return *e.config }

// Registry is where record types are registered before repositories open.
func (e *Engine) Registry() *repository.Registry { return e.registry }

// tokenSource wraps the configured source in a cache shared by every
// provider. Without one, the managed identity is created on first use so
// password-only deployments never touch it.
func (e *Engine) tokenSource() database.TokenSource {
	e.tokensOnce.Do(func() {
		refresh := e.config.Identity.RefreshBefore
		if e.tokens != nil {
			e.tokens = database.NewCachedTokenSource(e.tokens, refresh)
			return
		}
		var (
			once sync.Once
			src  *database.AzureTokenSource
			err  error
		)
		identity := e.config.Identity
		e.tokens = database.NewCachedTokenSource(database.TokenSourceFunc(
			func(ctx context.Context, scope string) (database.AccessToken, error) {
				once.Do(func() { src, err = database.NewAzureTokenSource(identity) })
				if err != nil {
					return database.AccessToken{}, err
				}
				return src.GetAccessToken(ctx, scope)
			}), refresh)
	})
	return e.tokens
}

// NewProvider returns a connection provider for one repository. The engine
// closes it on Close.
func (e *Engine) NewProvider() (*database.Provider, error) {
	conn := e.config.Connection
	opts := []database.ProviderOption{
		database.WithIdentityConfig(e.config.Identity),
		database.WithTokenSource(e.tokenSource()),
		database.WithProviderLogger(e.logger),
		database.WithRetryPolicy(database.RetryPolicyFromConfig(&conn)),
	}
	if e.open != nil {
		opts = append(opts, database.WithOpenFunc(e.open))
	}
	p, err := database.NewProvider(&conn, opts...)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.providers = append(e.providers, p)
	e.mu.Unlock()
	return p, nil
}

func (e *Engine) repositoryOptions() []repository.Option {
	return []repository.Option{
		repository.WithNamespace(e.config.Repository.Namespace),
		repository.WithBatchSize(e.config.Repository.BatchSize),
		repository.WithLogger(e.logger),
	}
}

// Open returns a repository of T on a provider of its own. Related record
// types must be registered on the engine's registry.
func Open[T any](e *Engine) (*repository.Repository[T], error) {
	p, err := e.NewProvider()
	if err != nil {
		return nil, err
	}
	return repository.NewRepository[T](p, e.registry, e.repositoryOptions()...)
}

// HealthCheck pings the connection of every provider opened so far.
func (e *Engine) HealthCheck(ctx context.Context) []*database.HealthStatus {
	e.mu.Lock()
	providers := append([]*database.Provider(nil), e.providers...)
	e.mu.Unlock()

	out := make([]*database.HealthStatus, 0, len(providers))
	for _, p := range providers {
		out = append(out, p.HealthCheck(ctx))
	}
	return out
}

// Close releases the connections of every provider opened so far.
func (e *Engine) Close() error {
	e.mu.Lock()
	providers := e.providers
	e.providers = nil
	e.mu.Unlock()

	var errs []error
	for _, p := range providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		e.logger.Warn("closing providers failed", "count", len(errs))
	}
	return errors.Join(errs...)
}
