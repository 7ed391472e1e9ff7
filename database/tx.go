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

	"github.com/uptrace/bun"
)

// RunInTx begins a transaction on db and runs fn with it. It commits when fn
// succeeds. Otherwise it rolls back and returns a PersistenceError carrying
// the backend message. Transient connection errors and errors that already
// have an engine kind are returned unchanged.
func RunInTx(ctx context.Context, db bun.IDB, logger Logger, fn func(ctx context.Context, tx bun.IDB) error) error {
	if logger == nil {
		logger = GetLogger()
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTxError(err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Warn("transaction rollback failed", "error", rbErr)
		}
		if r := recover(); r != nil {
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		logger.Debug("transaction rolled back", "error", err)
		return wrapTxError(err)
	}
	done = true
	if err := tx.Commit(); err != nil {
		return wrapTxError(err)
	}
	return nil
}

func wrapTxError(err error) error {
	if err == nil || IsTransient(err) || isEngineError(err) {
		return err
	}
	return NewPersistenceError(err)
}
