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

package repository

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/tomoncle/nestdb/database"
	"github.com/tomoncle/nestdb/types"
	"github.com/uptrace/bun"
)

// Repository runs the operations of Table[T] on the provider's connection.
// Reads run under the reconnect wrapper, writes under reconnect plus a
// transaction.
type Repository[T any] struct {
	provider *database.Provider
	table    *Table[T]
	logger   database.Logger
}

var _ Repositories[struct{ Pid int64 }] = (*Repository[struct{ Pid int64 }])(nil)

// NewRepository returns a generic repository backed by provider. Related
// record types are resolved through reg.
func NewRepository[T any](provider *database.Provider, reg *Registry, opts ...Option) (*Repository[T], error) {
	if provider == nil {
		return nil, database.NewConfigurationError("repository needs a connection provider")
	}
	env := NewEnv(provider.Dialect(), reg, opts...)
	table, err := NewTable[T](env)
	if err != nil {
		return nil, err
	}
	return &Repository[T]{provider: provider, table: table, logger: env.Logger}, nil
}

// Table exposes the node, for composing several operations in one transaction.
func (r *Repository[T]) Table() *Table[T] { return r.table }

func (r *Repository[T]) Provider() *database.Provider { return r.provider }

func (r *Repository[T]) read(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	return r.provider.WithReconnect(ctx, func(ctx context.Context, db *bun.DB) error {
		return fn(ctx, db)
	})
}

func (r *Repository[T]) keyFilter(key any) (types.Filter, error) {
	pk := r.table.pk()
	switch k := key.(type) {
	case nil:
		return nil, database.NewConfigurationError("%s: nil key", r.table.model.Name)
	case types.Filter:
		if len(k) == 0 {
			return nil, database.NewConfigurationError("%s: empty filter", r.table.model.Name)
		}
		return k, nil
	case map[string]interface{}:
		return r.keyFilter(types.Filter(k))
	case types.Condition:
		return types.Eq(pk, k), nil
	case *T:
		if k == nil {
			return nil, database.NewConfigurationError("%s: nil key", r.table.model.Name)
		}
		v, err := r.table.model.KeyValue(k)
		if err != nil {
			return nil, err
		}
		return types.Eq(pk, v), nil
	default:
		if isRecordKey(key) {
			return nil, database.NewConfigurationError("%s: key of type %T is a record, pass a *%s or a key value",
				r.table.model.Name, key, r.table.model.Name)
		}
		return types.Eq(pk, key), nil
	}
}

// isRecordKey reports struct values and struct pointers other than time.Time.
func isRecordKey(key any) bool {
	t := reflect.TypeOf(key)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t != reflect.TypeOf(time.Time{})
}

// View returns the record matching key with its nested children and
// references loaded, or nil when there is none.
func (r *Repository[T]) View(ctx context.Context, key any) (*T, error) {
	filter, err := r.keyFilter(key)
	if err != nil {
		return nil, err
	}
	var out *T
	err = r.read(ctx, func(ctx context.Context, db bun.IDB) error {
		items, err := r.table.find(ctx, db, filter, types.NewPageRequest(1, 1), nil)
		if err != nil || len(items) == 0 {
			out = nil
			return err
		}
		if err := r.table.Load(ctx, db, toAny(items)); err != nil {
			return err
		}
		out = items[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Index returns every record matching filter, ordered by primary key.
func (r *Repository[T]) Index(ctx context.Context, filter types.Filter) ([]*T, error) {
	var out []*T
	err := r.read(ctx, func(ctx context.Context, db bun.IDB) error {
		items, err := r.table.find(ctx, db, filter, nil, nil)
		if err != nil {
			return err
		}
		out = items
		return r.table.Load(ctx, db, toAny(items))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Page returns one page of the records matching filter and the total count.
func (r *Repository[T]) Page(ctx context.Context, filter types.Filter, page *types.PageRequest) (*types.Pagination[T], error) {
	if page == nil {
		page = types.NewPageRequest(1, types.DefaultPageSize)
	}
	pagination := types.NewDefaultPagination[T](page.GetPage(), page.GetPageSize())
	err := r.read(ctx, func(ctx context.Context, db bun.IDB) error {
		total, err := r.table.Count(ctx, db, filter)
		if err != nil || total == 0 {
			return err
		}
		items, err := r.table.find(ctx, db, filter, page, nil)
		if err != nil {
			return err
		}
		if err := r.table.Load(ctx, db, toAny(items)); err != nil {
			return err
		}
		pagination.Total = int(total)
		pagination.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pagination, nil
}

func (r *Repository[T]) Count(ctx context.Context, filter types.Filter) (int64, error) {
	var n int64
	err := r.read(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		n, err = r.table.Count(ctx, db, filter)
		return err
	})
	return n, err
}

// KeysWithoutChildren returns the primary keys of the records matching filter
// that have nothing stored under the nested relation field.
func (r *Repository[T]) KeysWithoutChildren(ctx context.Context, field string, filter types.Filter) ([]interface{}, error) {
	var keys []interface{}
	err := r.read(ctx, func(ctx context.Context, db bun.IDB) error {
		var err error
		keys, err = r.table.KeysWithoutChildren(ctx, db, field, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *Repository[T]) Exists(ctx context.Context, filter types.Filter) (bool, error) {
	n, err := r.Count(ctx, filter)
	return n > 0, err
}

// Create writes entity with its referenced records and nested children in
// one transaction and returns it with store-assigned keys populated.
func (r *Repository[T]) Create(ctx context.Context, entity *T) (*T, error) {
	if entity == nil {
		return nil, database.NewConfigurationError("%s: nil record", r.table.model.Name)
	}
	err := r.provider.Transact(ctx, func(ctx context.Context, tx bun.IDB) error {
		return r.table.CreateGraph(ctx, tx, entity)
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// CreateMany inserts entities sharing the values of shared, typically the
// parent's foreign key, without resolving their relations.
func (r *Repository[T]) CreateMany(ctx context.Context, entities []*T, shared types.Filter) (int64, error) {
	var rows int64
	err := r.provider.Transact(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		rows, err = r.table.CreateRows(ctx, tx, toAny(entities), shared)
		return err
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// CreateBatchWithForeignKeys creates entities as one batch with shared
// referenced records resolved once per distinct key.
func (r *Repository[T]) CreateBatchWithForeignKeys(ctx context.Context, entities []*T) (*BatchResult, error) {
	var result *BatchResult
	err := r.provider.Transact(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		result, err = r.table.CreateBatch(ctx, tx, toAny(entities))
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update applies entity to the record matching key; a nil key uses the
// primary key of entity. Only the named columns are written, or the non-zero
// ones when none are named. A missing record is ErrNotFound.
func (r *Repository[T]) Update(ctx context.Context, entity *T, key any, columns ...string) (*T, error) {
	if entity == nil {
		return nil, database.NewConfigurationError("%s: nil record", r.table.model.Name)
	}
	if key == nil {
		key = entity
	}
	filter, err := r.keyFilter(key)
	if err != nil {
		return nil, err
	}
	err = r.provider.Transact(ctx, func(ctx context.Context, tx bun.IDB) error {
		_, err := r.table.UpdateGraph(ctx, tx, entity, filter, columns)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// Delete removes the records matching key and their nested children.
func (r *Repository[T]) Delete(ctx context.Context, key any) (int64, error) {
	filter, err := r.keyFilter(key)
	if err != nil {
		return 0, err
	}
	var rows int64
	err = r.provider.Transact(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		rows, err = r.table.DeleteRows(ctx, tx, filter)
		return err
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

// InsertOrUpdate updates entity by its primary key and creates it when no
// row matches, both inside one transaction.
func (r *Repository[T]) InsertOrUpdate(ctx context.Context, entity *T) (*UpsertResult, error) {
	if entity == nil {
		return nil, database.NewConfigurationError("%s: nil record", r.table.model.Name)
	}
	filter, err := r.keyFilter(entity)
	if err != nil {
		return nil, err
	}
	result := &UpsertResult{}
	err = r.provider.Transact(ctx, func(ctx context.Context, tx bun.IDB) error {
		*result = UpsertResult{}
		rows, err := r.table.UpdateGraph(ctx, tx, entity, filter, nil)
		if err == nil {
			result.Rows = rows
			return nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return err
		}
		r.logger.Debug("record not found, creating", "table", r.table.Name())
		if err := r.table.CreateGraph(ctx, tx, entity); err != nil {
			return err
		}
		result.Created = true
		result.Rows = 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
