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
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var querySilent atomic.Bool

// SetQueryLogSilent mutes the statement hooks of every provider.
func SetQueryLogSilent(b bool) {
	querySilent.Store(b)
}

var operationColors = map[string]*color.Color{
	"SELECT": color.New(color.FgGreen),
	"INSERT": color.New(color.FgBlue),
	"UPDATE": color.New(color.FgYellow),
	"DELETE": color.New(color.FgMagenta),
}

func colorOperation(op string) string {
	if c, ok := operationColors[op]; ok {
		return c.Sprint(op)
	}
	return color.New(color.FgRed).Sprint(op)
}

// statementHook logs failing and slow statements of one provider.
type statementHook struct {
	logger     Logger
	slowTime   time.Duration
	generation uint64
	failures   atomic.Int64
}

var _ bun.QueryHook = (*statementHook)(nil)

func newStatementHook(logger Logger, slowTime time.Duration, generation uint64) *statementHook {
	return &statementHook{logger: logger, slowTime: slowTime, generation: generation}
}

func (h *statementHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *statementHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if querySilent.Load() {
		return
	}
	duration := time.Since(event.StartTime)

	if event.Err != nil {
		if errors.Is(event.Err, sql.ErrNoRows) || errors.Is(event.Err, sql.ErrTxDone) {
			return
		}
		h.failures.Add(1)
		level := h.logger.Warn
		if !IsTransient(event.Err) {
			level = h.logger.Debug
		}
		level("statement failed",
			"operation", colorOperation(event.Operation()),
			"generation", h.generation,
			"duration", duration.Round(time.Microsecond),
			"error", event.Err,
			"query", event.Query,
		)
		return
	}

	if h.slowTime > 0 && duration > h.slowTime {
		h.logger.Warn(color.New(color.FgYellow, color.Bold).Sprint("slow statement detected"),
			"operation", colorOperation(event.Operation()),
			"duration", duration.Round(time.Microsecond),
			"slow_threshold", h.slowTime,
			"query", event.Query,
		)
	}
}

// Failures returns how many statements failed on this connection.
func (h *statementHook) Failures() int64 {
	return h.failures.Load()
}
