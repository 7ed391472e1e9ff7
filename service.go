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

package nestdb

import (
	"context"
	"sync"

	"github.com/tomoncle/nestdb/repository"
	"github.com/tomoncle/nestdb/types"
	"github.com/uptrace/bun"
)

// Service is the collaborator-facing API for one record type.
type Service[T any] interface {
	// View returns the record with the given key and its nested records, or
	// nil when there is none.
	View(ctx context.Context, key any) (*T, error)

	// Index returns every record matching filter.
	Index(ctx context.Context, filter types.Filter) ([]*T, error)

	// Page returns one page of the records matching filter.
	Page(ctx context.Context, filter types.Filter, page *types.PageRequest) (*types.Pagination[T], error)

	// Create stores a record with its referenced and nested records.
	Create(ctx context.Context, entity *T) (*T, error)

	// CreateBatchWithForeignKeys stores many records, resolving shared
	// referenced records once.
	CreateBatchWithForeignKeys(ctx context.Context, entities []*T) (*repository.BatchResult, error)

	// Update modifies the record matching key; a nil key uses the entity's
	// primary key.
	Update(ctx context.Context, entity *T, key any, columns ...string) (*T, error)

	// InsertOrUpdate updates the record or creates it when missing.
	InsertOrUpdate(ctx context.Context, entity *T) (*repository.UpsertResult, error)

	// Delete removes the records matching key and their nested records.
	Delete(ctx context.Context, key any) (int64, error)

	// WithTx runs fn inside one transaction on the service's connection.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB, table *repository.Table[T]) error) error
}

type baseServiceImpl[T any] struct {
	engine *Engine
	repo   *repository.Repository[T]
	err    error
	once   sync.Once
}

// NewService returns a Service backed by a repository of the engine. The
// repository and its connection are created on first use.
func NewService[T any](engine *Engine) Service[T] {
	return &baseServiceImpl[T]{engine: engine}
}

func (s *baseServiceImpl[T]) baseRepo() (*repository.Repository[T], error) {
	s.once.Do(func() { s.repo, s.err = Open[T](s.engine) })
	return s.repo, s.err
}

func (s *baseServiceImpl[T]) View(ctx context.Context, key any) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.View(ctx, key)
}

func (s *baseServiceImpl[T]) Index(ctx context.Context, filter types.Filter) ([]*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Index(ctx, filter)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, filter types.Filter, page *types.PageRequest) (*types.Pagination[T], error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Page(ctx, filter, page)
}

func (s *baseServiceImpl[T]) Create(ctx context.Context, entity *T) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Create(ctx, entity)
}

func (s *baseServiceImpl[T]) CreateBatchWithForeignKeys(ctx context.Context, entities []*T) (*repository.BatchResult, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.CreateBatchWithForeignKeys(ctx, entities)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, entity *T, key any, columns ...string) (*T, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Update(ctx, entity, key, columns...)
}

func (s *baseServiceImpl[T]) InsertOrUpdate(ctx context.Context, entity *T) (*repository.UpsertResult, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.InsertOrUpdate(ctx, entity)
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, key any) (int64, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return 0, err
	}
	return repo.Delete(ctx, key)
}

func (s *baseServiceImpl[T]) WithTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB, table *repository.Table[T]) error) error {
	repo, err := s.baseRepo()
	if err != nil {
		return err
	}
	return repo.Provider().Transact(ctx, func(ctx context.Context, tx bun.IDB) error {
		return fn(ctx, tx, repo.Table())
	})
}
