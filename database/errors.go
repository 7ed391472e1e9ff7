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
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	mssql "github.com/microsoft/go-mssqldb"
)

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoIndexErr
	NoColumnErr
	ExistIndexErr
	ExistColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
	DeadlockErr
)

func (e SQLError) String() string {
	switch e {
	case NoRowsErr:
		return "no_rows"
	case NoIndexErr:
		return "no_index"
	case NoColumnErr:
		return "no_column"
	case ExistIndexErr:
		return "exist_index"
	case ExistColumnErr:
		return "exist_column"
	case NoTableErr:
		return "no_table"
	case ExistTableErr:
		return "exist_table"
	case DuplicateKeyErr:
		return "duplicate_key"
	case NotNullViolationErr:
		return "not_null_violation"
	case ForeignKeyViolationErr:
		return "foreign_key_violation"
	case CheckConstraintViolationErr:
		return "check_violation"
	case DataTruncatedErr:
		return "data_truncated"
	case InvalidTypeCastErr:
		return "invalid_type_cast"
	case DeadlockErr:
		return "deadlock"
	default:
		return "unknown"
	}
}

var (
	// ErrNotFound reports that an update or lookup matched no row.
	ErrNotFound = errors.New("record not found")
	// ErrRetriesExhausted is returned by a bounded reconnect policy.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// ConfigurationError reports an invalid metadata declaration or setting.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

func NewConfigurationError(format string, args ...interface{}) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// SerializationError reports a value that has no SQL literal form.
type SerializationError struct {
	Column string
	Value  interface{}
	Err    error
}

func (e *SerializationError) Error() string {
	msg := fmt.Sprintf("cannot serialize value of type %T", e.Value)
	if e.Column != "" {
		msg += " for column " + e.Column
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "serialization error: " + msg
}

func (e *SerializationError) Unwrap() error { return e.Err }

// AuthenticationError reports that the identity provider refused a token.
type AuthenticationError struct {
	Scope string
	Err   error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication error: token for scope %q: %v", e.Scope, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// ConnectionError reports that the backend could not be reached at acquisition time.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PersistenceError wraps a backend failure raised inside a unit of work
// that was rolled back. Error keeps the backend message.
type PersistenceError struct {
	Kind SQLError
	Err  error
}

func (e *PersistenceError) Error() string { return "persistence error: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(err error) *PersistenceError {
	_, kind := IsSqlError(err)
	return &PersistenceError{Kind: kind, Err: err}
}

func IsDuplicateKey(err error) bool {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return pe.Kind == DuplicateKeyErr
	}
	if err == nil {
		return false
	}
	_, kind := IsSqlError(err)
	return kind == DuplicateKeyErr
}

// isEngineError reports errors that already carry their final kind and
// must not be re-wrapped by the transaction wrapper.
func isEngineError(err error) bool {
	var (
		ce *ConfigurationError
		se *SerializationError
		ae *AuthenticationError
		ne *ConnectionError
		pe *PersistenceError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &se), errors.As(err, &ae),
		errors.As(err, &ne), errors.As(err, &pe):
		return true
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRetriesExhausted):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// SQL Server error numbers meaning the session is gone or the database is
// temporarily unavailable.
var mssqlTransientNumbers = map[int32]struct{}{
	64: {}, 233: {}, 4060: {}, 4221: {}, 10053: {}, 10054: {}, 10060: {},
	10928: {}, 10929: {}, 40143: {}, 40197: {}, 40501: {}, 40613: {},
	49918: {}, 49919: {}, 49920: {},
}

// IsTransient reports whether err means the connection itself is unusable
// and the unit of work may be re-run on a fresh one.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *AuthenticationError
	var ce *ConnectionError
	if errors.As(err, &ae) || errors.As(err, &ce) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		_, ok := mssqlTransientNumbers[msErr.Number]
		return ok
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "database is closed") ||
		strings.Contains(s, "bad connection") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "connection is already closed")
}

func IsSqlError(err error) (is bool, sqlErr SQLError) {
	if err == nil {
		return false, UnknownErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true, NoRowsErr
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1091:
			return true, NoIndexErr
		case 1054:
			return true, NoColumnErr
		case 1061:
			return true, ExistIndexErr
		case 1060:
			return true, ExistColumnErr
		case 1062:
			return true, DuplicateKeyErr
		case 1048:
			return true, NotNullViolationErr
		case 1216, 1217, 1451, 1452:
			return true, ForeignKeyViolationErr
		case 3819:
			return true, CheckConstraintViolationErr
		case 1265, 1406:
			return true, DataTruncatedErr
		case 1213:
			return true, DeadlockErr
		default:
			return true, UnknownErr
		}
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 2627, 2601:
			return true, DuplicateKeyErr
		case 515:
			return true, NotNullViolationErr
		case 547:
			if strings.Contains(strings.ToLower(msErr.Message), "check constraint") {
				return true, CheckConstraintViolationErr
			}
			return true, ForeignKeyViolationErr
		case 207:
			return true, NoColumnErr
		case 208:
			return true, NoTableErr
		case 2714:
			return true, ExistTableErr
		case 8152, 2628:
			return true, DataTruncatedErr
		case 245, 8114:
			return true, InvalidTypeCastErr
		case 1205:
			return true, DeadlockErr
		default:
			return true, UnknownErr
		}
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "sqlstate 42703") ||
		strings.Contains(s, "undefined column") ||
		strings.Contains(s, "no such column") {
		return true, NoColumnErr
	}
	if strings.Contains(s, "sqlstate 42704") ||
		strings.Contains(s, "no such index") ||
		(strings.Contains(s, "does not exist") && strings.Contains(s, "index")) {
		return true, NoIndexErr
	}
	if strings.Contains(s, "sqlstate 42p01") ||
		strings.Contains(s, "undefined table") ||
		strings.Contains(s, "no such table") {
		return true, NoTableErr
	}
	if strings.Contains(s, "already exists") &&
		strings.Contains(s, "index") {
		return true, ExistIndexErr
	}
	if strings.Contains(s, "already exists") &&
		strings.Contains(s, "table") ||
		strings.Contains(s, "relation") &&
			strings.Contains(s, "already exists") {
		return true, ExistTableErr
	}
	if strings.Contains(s, "duplicate key value") ||
		strings.Contains(s, "unique constraint failed") ||
		strings.Contains(s, "sqlstate 23505") {
		return true, DuplicateKeyErr
	}
	if strings.Contains(s, "not-null constraint") ||
		strings.Contains(s, "sqlstate 23502") ||
		strings.Contains(s, "not null constraint failed") {
		return true, NotNullViolationErr
	}
	if strings.Contains(s, "foreign key violation") ||
		strings.Contains(s, "foreign key constraint failed") ||
		strings.Contains(s, "sqlstate 23503") {
		return true, ForeignKeyViolationErr
	}
	if strings.Contains(s, "check constraint") ||
		strings.Contains(s, "sqlstate 23514") {
		return true, CheckConstraintViolationErr
	}
	if strings.Contains(s, "string data right truncation") ||
		strings.Contains(s, "sqlstate 22001") ||
		strings.Contains(s, "data truncated") {
		return true, DataTruncatedErr
	}
	if strings.Contains(s, "datatype mismatch") ||
		strings.Contains(s, "sqlstate 42804") {
		return true, InvalidTypeCastErr
	}
	if strings.Contains(s, "deadlock") ||
		strings.Contains(s, "sqlstate 40p01") {
		return true, DeadlockErr
	}
	return false, UnknownErr
}
