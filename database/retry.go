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
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// RetryPolicy bounds the reconnect wrapper. The zero value retries without
// delay until the error stops being transient.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// RetryPolicyFromConfig maps MaxReconnectTries and ReconnectInterval.
func RetryPolicyFromConfig(cfg *ConnectionConfig) RetryPolicy {
	if cfg == nil {
		return RetryPolicy{}
	}
	return RetryPolicy{
		MaxAttempts: cfg.MaxReconnectTries,
		Backoff:     cfg.ReconnectInterval,
		MaxBackoff:  30 * time.Second,
	}
}

func (rp RetryPolicy) Unbounded() bool { return rp.MaxAttempts <= 0 }

func (rp RetryPolicy) delay(attempt int) time.Duration {
	if rp.Backoff <= 0 {
		return 0
	}
	d := rp.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if rp.MaxBackoff > 0 && d >= rp.MaxBackoff {
			return rp.MaxBackoff
		}
	}
	return d
}

func WithRetryPolicy(rp RetryPolicy) ProviderOption {
	return func(p *Provider) { p.policy = &rp }
}

func (p *Provider) retryPolicy() RetryPolicy {
	if p.policy != nil {
		return *p.policy
	}
	return RetryPolicyFromConfig(p.config)
}

// WithReconnect runs fn against the current connection. When fn fails with
// a transient connection error the connection is invalidated, a new one is
// acquired and fn is run again from the start. Acquisition errors and
// non-transient errors are returned as they are.
func (p *Provider) WithReconnect(ctx context.Context, fn func(ctx context.Context, db *bun.DB) error) error {
	policy := p.retryPolicy()
	for attempt := 1; ; attempt++ {
		db, err := p.Acquire(ctx)
		if err != nil {
			return err
		}
		err = fn(ctx, db)
		if err == nil || !IsTransient(err) {
			return err
		}

		p.logger.Warn("transient connection error, reconnecting",
			"attempt", attempt, "generation", p.Generation(), "error", err)
		p.Invalidate()

		if !policy.Unbounded() && attempt >= policy.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d := policy.delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// Transact composes the wrappers in their fixed order: reconnect outside,
// transaction inside. A transient failure rolls the transaction back before
// the whole unit restarts on a fresh connection.
func (p *Provider) Transact(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return p.WithReconnect(ctx, func(ctx context.Context, db *bun.DB) error {
		return RunInTx(ctx, db, p.logger, fn)
	})
}
