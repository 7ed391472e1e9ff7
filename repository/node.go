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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/tomoncle/nestdb/database"
	"github.com/tomoncle/nestdb/metadata"
	"github.com/tomoncle/nestdb/statement"
	"github.com/tomoncle/nestdb/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// DefaultBatchSize caps the rows of one multi-row insert and the keys of one
// IN list. SQL Server accepts at most 1000 rows in a VALUES clause.
const DefaultBatchSize = 1000

// Node persists records of one type on a caller supplied connection or
// transaction. Records are passed as pointers to the node's record type.
type Node interface {
	Model() *metadata.Model
	Find(ctx context.Context, db bun.IDB, filter types.Filter, page *types.PageRequest) ([]interface{}, error)
	Load(ctx context.Context, db bun.IDB, recs []interface{}) error
	Count(ctx context.Context, db bun.IDB, filter types.Filter) (int64, error)
	ExistingKeys(ctx context.Context, db bun.IDB, keys []interface{}) (map[string]struct{}, error)
	CreateGraph(ctx context.Context, db bun.IDB, rec interface{}) error
	CreateRows(ctx context.Context, db bun.IDB, recs []interface{}, shared types.Filter) (int64, error)
	CreateBatch(ctx context.Context, db bun.IDB, recs []interface{}) (*BatchResult, error)
	SelectOrCreate(ctx context.Context, db bun.IDB, rec interface{}) (interface{}, error)
	UpdateGraph(ctx context.Context, db bun.IDB, rec interface{}, filter types.Filter, columns []string) (int64, error)
	DeleteRows(ctx context.Context, db bun.IDB, filter types.Filter) (int64, error)
}

// Env is shared by the nodes of one repository: the statement builder, the
// table namespace and the registry used to reach related record types.
type Env struct {
	Builder   *statement.Builder
	Namespace string
	BatchSize int
	Registry  *Registry
	Logger    database.Logger
	Rewrite   StatementRewriter

	nodes *sync.Map
}

type Option func(*Env)

// Operations passed to a StatementRewriter.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// StatementRewriter returns the statement to execute in place of query, a
// write of kind op against table. Selects and counts are not rewritten.
type StatementRewriter func(op, table, query string) string

// WithStatementRewriter installs fn in front of every insert, update and
// delete the repository sends.
func WithStatementRewriter(fn StatementRewriter) Option {
	return func(e *Env) { e.Rewrite = fn }
}

// WithNamespace prefixes every table with a schema name.
func WithNamespace(ns string) Option {
	return func(e *Env) { e.Namespace = ns }
}

func WithBatchSize(n int) Option {
	return func(e *Env) {
		if n > 0 {
			e.BatchSize = n
		}
	}
}

func WithLogger(l database.Logger) Option {
	return func(e *Env) {
		if l != nil {
			e.Logger = l
		}
	}
}

func NewEnv(d schema.Dialect, reg *Registry, opts ...Option) Env {
	env := Env{
		Builder:   statement.NewBuilder(d),
		BatchSize: DefaultBatchSize,
		Registry:  reg,
		Logger:    database.GetLogger(),
		nodes:     &sync.Map{},
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env
}

func (e Env) table(m *metadata.Model) string {
	if e.Namespace == "" {
		return m.Table
	}
	return e.Namespace + "." + m.Table
}

// node returns the registered node persisting typ.
func (e Env) node(typ reflect.Type) (Node, error) {
	m, err := metadata.Parse(typ)
	if err != nil {
		return nil, err
	}
	if e.nodes != nil {
		if n, ok := e.nodes.Load(m.Name); ok {
			return n.(Node), nil
		}
	}
	if e.Registry == nil {
		return nil, database.NewConfigurationError("no registry to resolve %q", m.Name)
	}
	factory, err := e.Registry.Resolve(m.Name)
	if err != nil {
		return nil, err
	}
	n, err := factory(e)
	if err != nil {
		return nil, err
	}
	if n.Model().Type != m.Type {
		return nil, database.NewConfigurationError("registry entry %q persists %s, not %s",
			m.Name, n.Model().Type, m.Type)
	}
	if e.nodes == nil {
		return n, nil
	}
	actual, _ := e.nodes.LoadOrStore(m.Name, n)
	return actual.(Node), nil
}

// Table is the generic node for record type T.
type Table[T any] struct {
	env   Env
	model *metadata.Model
	name  string
}

var _ Node = (*Table[struct{ Pid int64 }])(nil)

func NewTable[T any](env Env) (*Table[T], error) {
	m, err := metadata.Of[T]()
	if err != nil {
		return nil, err
	}
	if env.Builder == nil {
		return nil, database.NewConfigurationError("%s: environment has no statement builder", m.Name)
	}
	if env.BatchSize <= 0 {
		env.BatchSize = DefaultBatchSize
	}
	if env.Logger == nil {
		env.Logger = database.GetLogger()
	}
	return &Table[T]{env: env, model: m, name: env.table(m)}, nil
}

func (t *Table[T]) Model() *metadata.Model { return t.model }

// Name returns the namespace-qualified table name.
func (t *Table[T]) Name() string { return t.name }

func (t *Table[T]) rewrite(op, query string) string {
	if t.env.Rewrite == nil {
		return query
	}
	return t.env.Rewrite(op, t.name, query)
}

func (t *Table[T]) pk() string {
	pk, _ := t.model.PrimaryKey()
	return pk
}

func (t *Table[T]) checkFilter(filter types.Filter) error {
	return t.model.CheckColumns(filter.Columns()...)
}

func (t *Table[T]) find(ctx context.Context, db bun.IDB, filter types.Filter, page *types.PageRequest, columns []string) ([]*T, error) {
	if err := t.checkFilter(filter); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		columns = t.model.Columns()
	}
	query, _, err := t.env.Builder.SelectAndCount(t.name, columns, t.pk(), filter, page)
	if err != nil {
		return nil, err
	}
	var items []*T
	if err := db.NewRaw(query).Scan(ctx, &items); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select from %s: %w", t.name, err)
	}
	return items, nil
}

// findIn selects rows whose column is one of values, chunking the IN list.
func (t *Table[T]) findIn(ctx context.Context, db bun.IDB, column string, values []interface{}, columns []string) ([]*T, error) {
	var out []*T
	for _, c := range chunks(len(values), t.env.BatchSize) {
		items, err := t.find(ctx, db, types.Filter{column: types.In(values[c.lo:c.hi]...)}, nil, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (t *Table[T]) Find(ctx context.Context, db bun.IDB, filter types.Filter, page *types.PageRequest) ([]interface{}, error) {
	items, err := t.find(ctx, db, filter, page, nil)
	if err != nil {
		return nil, err
	}
	return toAny(items), nil
}

func (t *Table[T]) Count(ctx context.Context, db bun.IDB, filter types.Filter) (int64, error) {
	if err := t.checkFilter(filter); err != nil {
		return 0, err
	}
	_, query, err := t.env.Builder.SelectAndCount(t.name, nil, "", filter, nil)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.NewRaw(query).Scan(ctx, &n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.name, err)
	}
	return n, nil
}

// KeysWithoutChildren returns the primary keys of the rows matching filter
// that have no child stored under the nested relation field.
func (t *Table[T]) KeysWithoutChildren(ctx context.Context, db bun.IDB, field string, filter types.Filter) ([]interface{}, error) {
	r, err := t.model.Relation(field)
	if err != nil {
		return nil, err
	}
	if r.Kind == metadata.BelongsTo {
		return nil, database.NewConfigurationError("%s.%s references a record, it has no children", t.model.Name, field)
	}
	if err := t.checkFilter(filter); err != nil {
		return nil, err
	}
	n, err := t.env.node(r.Target)
	if err != nil {
		return nil, err
	}
	pk := t.pk()
	query, err := t.env.Builder.SelectWithoutChildren(t.name, []string{pk}, pk, t.env.table(n.Model()), r.ForeignKey, filter)
	if err != nil {
		return nil, err
	}
	var items []*T
	if err := db.NewRaw(query).Scan(ctx, &items); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select from %s: %w", t.name, err)
	}
	keys := make([]interface{}, 0, len(items))
	for _, item := range items {
		k, err := t.model.KeyValue(item)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ExistingKeys returns the subset of keys already stored, keyed by keyString.
func (t *Table[T]) ExistingKeys(ctx context.Context, db bun.IDB, keys []interface{}) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	pk := t.pk()
	items, err := t.findIn(ctx, db, pk, keys, []string{pk})
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		k, err := t.model.KeyValue(item)
		if err != nil {
			return nil, err
		}
		out[keyString(k)] = struct{}{}
	}
	return out, nil
}

// Load fills the nested children and referenced records of recs, one
// statement per relation and chunk of keys.
func (t *Table[T]) Load(ctx context.Context, db bun.IDB, recs []interface{}) error {
	if len(recs) == 0 {
		return nil
	}
	if len(t.model.Relations) > 0 {
		keys := make([]interface{}, len(recs))
		for i, rec := range recs {
			k, err := t.model.KeyValue(rec)
			if err != nil {
				return err
			}
			keys[i] = k
		}
		for _, r := range t.model.Relations {
			if err := t.loadChildren(ctx, db, recs, keys, r); err != nil {
				return err
			}
		}
	}
	for _, r := range t.model.References {
		if err := t.loadReference(ctx, db, recs, r); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[T]) loadChildren(ctx context.Context, db bun.IDB, recs, keys []interface{}, r *metadata.Relation) error {
	n, err := t.env.node(r.Target)
	if err != nil {
		return err
	}
	var children []interface{}
	for _, c := range chunks(len(keys), t.env.BatchSize) {
		found, err := n.Find(ctx, db, types.Filter{r.ForeignKey: types.In(keys[c.lo:c.hi]...)}, nil)
		if err != nil {
			return err
		}
		children = append(children, found...)
	}
	if err := n.Load(ctx, db, children); err != nil {
		return err
	}
	byParent := make(map[string][]interface{}, len(recs))
	for _, child := range children {
		fk, err := n.Model().Value(child, r.ForeignKey)
		if err != nil {
			return err
		}
		k := keyString(fk)
		byParent[k] = append(byParent[k], child)
	}
	for i, rec := range recs {
		group := byParent[keyString(keys[i])]
		if group == nil {
			if r.IsList() {
				group = []interface{}{}
			}
		}
		if err := t.model.SetChildren(rec, r, group); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[T]) loadReference(ctx context.Context, db bun.IDB, recs []interface{}, r *metadata.Relation) error {
	n, err := t.env.node(r.Target)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{})
	var values []interface{}
	for _, rec := range recs {
		zero, err := t.model.IsZeroColumn(rec, r.Column)
		if err != nil {
			return err
		}
		if zero {
			continue
		}
		v, _ := t.model.Value(rec, r.Column)
		if _, dup := seen[keyString(v)]; !dup {
			seen[keyString(v)] = struct{}{}
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	byKey := make(map[string]interface{}, len(values))
	for _, c := range chunks(len(values), t.env.BatchSize) {
		found, err := n.Find(ctx, db, types.Filter{r.PrimaryKey: types.In(values[c.lo:c.hi]...)}, nil)
		if err != nil {
			return err
		}
		for _, ref := range found {
			v, err := n.Model().Value(ref, r.PrimaryKey)
			if err != nil {
				return err
			}
			byKey[keyString(v)] = ref
		}
	}
	for _, rec := range recs {
		v, _ := t.model.Value(rec, r.Column)
		if ref, ok := byKey[keyString(v)]; ok {
			if err := t.model.SetReference(rec, r, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func toAny[T any](items []*T) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// keyString makes key values comparable across Go types: an int64 read back
// from the store equals the int the caller supplied.
func keyString(v interface{}) string {
	if n, err := statement.Normalize(v); err == nil {
		v = n
	}
	return fmt.Sprint(v)
}

type span struct{ lo, hi int }

func chunks(n, size int) []span {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([]span, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		out = append(out, span{lo, hi})
	}
	return out
}
