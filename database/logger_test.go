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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingLogger) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, level+" "+msg)
}

func (r *recordingLogger) SetLevel(LogLevel)                  {}
func (r *recordingLogger) Debug(msg string, _ ...interface{}) { r.add("DEBUG", msg) }
func (r *recordingLogger) Info(msg string, _ ...interface{})  { r.add("INFO", msg) }
func (r *recordingLogger) Warn(msg string, _ ...interface{})  { r.add("WARN", msg) }
func (r *recordingLogger) Error(msg string, _ ...interface{}) { r.add("ERROR", msg) }

func (r *recordingLogger) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func TestToFields(t *testing.T) {
	fields := toFields([]interface{}{"table", "bills", "rows", 3, "dangling"})
	assert.Equal(t, logrus.Fields{"table": "bills", "rows": 3, "extra": "dangling"}, fields)
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf))

	l.Info("database connected", "generation", 2, "error", errors.New("stale"))
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "database connected", line["message"])
	assert.Equal(t, "nestdb", line["component"])
	assert.Equal(t, float64(2), line["generation"])
	assert.Equal(t, "stale", line["error"])

	buf.Reset()
	l.SetLevel(LogLevelWarn)
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestStatementHook(t *testing.T) {
	rec := &recordingLogger{}
	h := newStatementHook(rec, time.Millisecond, 1)

	h.AfterQuery(context.Background(), &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now(), Err: sql.ErrNoRows})
	assert.Zero(t, h.Failures())

	h.AfterQuery(context.Background(), &bun.QueryEvent{
		Query:     `INSERT INTO "kv" ("k") VALUES ('a')`,
		StartTime: time.Now(),
		Err:       errors.New("UNIQUE constraint failed: kv.k"),
	})
	assert.Equal(t, int64(1), h.Failures())

	h.AfterQuery(context.Background(), &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now().Add(-time.Second)})
	entries := rec.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "DEBUG statement failed", entries[0])
	assert.Contains(t, entries[1], "slow statement detected")

	SetQueryLogSilent(true)
	defer SetQueryLogSilent(false)
	h.AfterQuery(context.Background(), &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now(), Err: errors.New("driver: bad connection")})
	assert.Equal(t, int64(1), h.Failures())
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "WARN", LogLevelWarn.String())
}
