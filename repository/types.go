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

	"github.com/tomoncle/nestdb/types"
)

// QueryRepository defines the read operations. A key is a primary key value,
// a types.Filter, or a *T whose primary key is used.
type QueryRepository[T any] interface {
	View(ctx context.Context, key any) (*T, error)

	Index(ctx context.Context, filter types.Filter) ([]*T, error)

	Count(ctx context.Context, filter types.Filter) (int64, error)

	Exists(ctx context.Context, filter types.Filter) (bool, error)

	KeysWithoutChildren(ctx context.Context, field string, filter types.Filter) ([]interface{}, error)
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	Page(ctx context.Context, filter types.Filter, page *types.PageRequest) (*types.Pagination[T], error)
}

// CrudRepository defines the write operations. Each call is one transaction.
type CrudRepository[T any] interface {
	Create(ctx context.Context, entity *T) (*T, error)

	CreateMany(ctx context.Context, entities []*T, shared types.Filter) (int64, error)

	CreateBatchWithForeignKeys(ctx context.Context, entities []*T) (*BatchResult, error)

	Update(ctx context.Context, entity *T, key any, columns ...string) (*T, error)

	Delete(ctx context.Context, key any) (int64, error)

	InsertOrUpdate(ctx context.Context, entity *T) (*UpsertResult, error)
}

// Repositories combines read, pagination and write operations.
type Repositories[T any] interface {
	QueryRepository[T]
	PageQueryRepository[T]
	CrudRepository[T]
}

// UpsertResult reports which branch InsertOrUpdate took.
type UpsertResult struct {
	Created bool
	Rows    int64
}
