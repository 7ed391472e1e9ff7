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
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/nestdb/database"
	"github.com/tomoncle/nestdb/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type person struct {
	bun.BaseModel `bun:"table:persons"`

	PersonID int64  `bun:"person_id,pk"`
	Name     string `bun:"name"`
}

type entry struct {
	bun.BaseModel `bun:"table:entries"`

	PID      int64  `bun:"pid,pk,autoincrement"`
	ParentID string `bun:"parent_id"`
	Amount   int64  `bun:"amount"`
}

type note struct {
	bun.BaseModel `bun:"table:notes"`

	PID      int64  `bun:"pid,pk,autoincrement"`
	ParentID string `bun:"parent_id"`
	Text     string `bun:"text"`
}

type payment struct {
	bun.BaseModel `bun:"table:payments"`

	PID      int64  `bun:"pid,pk,autoincrement"`
	ParentID string `bun:"parent_id"`
	Amount   int64  `bun:"amount"`
}

type parent struct {
	bun.BaseModel `bun:"table:parents"`

	ID       string     `bun:"id,pk"`
	Title    string     `bun:"title"`
	PersonID int64      `bun:"person_id"`
	Person   *person    `bun:"-" rel:"belongs_to,primary_key:person_id,column:person_id"`
	Entries  []*entry   `bun:"-" rel:"has_many,foreign_key:parent_id"`
	Note     *note      `bun:"-" rel:"has_one,foreign_key:parent_id"`
	Payments []*payment `bun:"-" rel:"has_many,foreign_key:parent_id"`
}

type stamped struct {
	bun.BaseModel `bun:"table:stamped"`

	PID       int64  `bun:"pid,pk,autoincrement"`
	Name      string `bun:"name"`
	UpdatedAt string `bun:"updated_at"`
}

type digits struct {
	bun.BaseModel `bun:"table:digits"`

	PID        int64 `bun:"pid,pk,autoincrement"`
	Code1A     string
	Line2Total int64
}

var schemaDDL = []string{
	`CREATE TABLE persons (person_id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE parents (id TEXT PRIMARY KEY, title TEXT, person_id INTEGER)`,
	`CREATE TABLE entries (pid INTEGER PRIMARY KEY AUTOINCREMENT, parent_id TEXT, amount INTEGER)`,
	`CREATE TABLE notes (pid INTEGER PRIMARY KEY AUTOINCREMENT, parent_id TEXT, text TEXT)`,
	`CREATE TABLE payments (pid INTEGER PRIMARY KEY AUTOINCREMENT, parent_id TEXT, amount INTEGER CHECK (amount >= 0))`,
	`CREATE TABLE stamped (pid INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, updated_at TEXT)`,
	`CREATE TABLE digits (pid INTEGER PRIMARY KEY AUTOINCREMENT, code1a TEXT, line2_total INTEGER)`,
}

type fixture struct {
	provider *database.Provider
	registry *Registry
	opens    atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{registry: NewRegistry()}

	cfg := database.DefaultConnectionConfig()
	cfg.Type = database.TypeSQLite
	cfg.DBName = filepath.Join(t.TempDir(), "nestdb.db")
	open := func(_ context.Context, cfg *database.ConnectionConfig, _ database.Credentials) (*sql.DB, error) {
		f.opens.Add(1)
		return sql.Open(sqliteshim.ShimName, cfg.DBName)
	}
	p, err := database.NewProvider(cfg,
		database.WithOpenFunc(open),
		database.WithProviderLogger(database.NopLogger()))
	require.NoError(t, err)
	f.provider = p
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	db, err := p.Acquire(ctx)
	require.NoError(t, err)
	for _, ddl := range schemaDDL {
		_, err := db.ExecContext(ctx, ddl)
		require.NoError(t, err)
	}

	MustRegister[person](f.registry)
	MustRegister[entry](f.registry)
	MustRegister[note](f.registry)
	MustRegister[payment](f.registry)
	return f
}

func repo[T any](t *testing.T, f *fixture) *Repository[T] {
	t.Helper()
	r, err := NewRepository[T](f.provider, f.registry, WithLogger(database.NopLogger()))
	require.NoError(t, err)
	return r
}

func sampleParent(id string) *parent {
	return &parent{
		ID:      id,
		Title:   "bill " + id,
		Person:  &person{PersonID: 42, Name: "Alice"},
		Entries: []*entry{{Amount: 5}, {Amount: 7}},
	}
}

func TestCreateAndView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)
	entries := repo[entry](t, f)

	created, err := parents.Create(ctx, sampleParent("B-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.PersonID)
	for _, e := range created.Entries {
		assert.Equal(t, "B-1", e.ParentID)
	}

	got, err := parents.View(ctx, "B-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bill B-1", got.Title)
	assert.Equal(t, int64(42), got.PersonID)
	require.NotNil(t, got.Person)
	assert.Equal(t, "Alice", got.Person.Name)
	require.Len(t, got.Entries, 2)
	assert.Nil(t, got.Note)

	rows, err := entries.Index(ctx, types.Filter{"parent_id": "B-1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var sum int64
	for _, e := range rows {
		sum += e.Amount
	}
	assert.Equal(t, int64(12), sum)

	missing, err := parents.View(ctx, "B-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateTwiceIsDuplicateKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)

	_, err := parents.Create(ctx, sampleParent("B-1"))
	require.NoError(t, err)

	_, err = parents.Create(ctx, sampleParent("B-1"))
	var pe *database.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, database.IsDuplicateKey(err))

	n, err := parents.Count(ctx, types.Eq("id", "B-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo[entry](t, f).Count(ctx, types.Eq("parent_id", "B-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCreateRollsBackOnFailingChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)

	p := sampleParent("B-1")
	p.Payments = []*payment{{Amount: 3}, {Amount: -1}}
	_, err := parents.Create(ctx, p)
	var pe *database.PersistenceError
	require.ErrorAs(t, err, &pe)

	for _, count := range []func() (int64, error){
		func() (int64, error) { return parents.Count(ctx, nil) },
		func() (int64, error) { return repo[entry](t, f).Count(ctx, nil) },
		func() (int64, error) { return repo[payment](t, f).Count(ctx, nil) },
		func() (int64, error) { return repo[person](t, f).Count(ctx, nil) },
	} {
		n, err := count()
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

type countingNode struct {
	Node
	creates *atomic.Int32
	lookups *atomic.Int32
}

func (c *countingNode) CreateGraph(ctx context.Context, db bun.IDB, rec interface{}) error {
	c.creates.Add(1)
	return c.Node.CreateGraph(ctx, db, rec)
}

func (c *countingNode) ExistingKeys(ctx context.Context, db bun.IDB, keys []interface{}) (map[string]struct{}, error) {
	c.lookups.Add(1)
	return c.Node.ExistingKeys(ctx, db, keys)
}

func TestBatchResolvesSharedReferencesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var creates, lookups atomic.Int32
	counting := NewRegistry()
	require.NoError(t, counting.Register("person", func(env Env) (Node, error) {
		n, err := NewTable[person](env)
		if err != nil {
			return nil, err
		}
		return &countingNode{Node: n, creates: &creates, lookups: &lookups}, nil
	}))
	MustRegister[entry](counting)

	parents, err := NewRepository[parent](f.provider, counting, WithLogger(database.NopLogger()))
	require.NoError(t, err)

	batch := make([]*parent, 10)
	for i := range batch {
		ref := &person{PersonID: 42, Name: "Alice"}
		if i%2 == 1 {
			ref = &person{PersonID: 7, Name: "Bob"}
		}
		if i == 2 {
			ref = &person{PersonID: 42, Name: "Alicia"}
		}
		batch[i] = &parent{ID: fmt.Sprintf("P-%d", i), Person: ref, Entries: []*entry{{Amount: int64(i)}}}
	}

	result, err := parents.CreateBatchWithForeignKeys(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Rows)
	assert.Equal(t, 2, result.Referenced["person"])
	assert.Equal(t, int32(2), creates.Load())
	assert.Equal(t, int32(1), lookups.Load())
	assert.Equal(t, int64(42), batch[2].PersonID)
	assert.Equal(t, "Alice", batch[2].Person.Name)

	persons := repo[person](t, f)
	alice, err := persons.View(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, "Alice", alice.Name)

	n, err := persons.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo[entry](t, f).Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestReconnectUsesFreshConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)

	stale, err := f.provider.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, stale.DB.Close())

	_, err = parents.Create(ctx, sampleParent("B-1"))
	require.NoError(t, err)

	fresh, err := f.provider.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	assert.Equal(t, int32(2), f.opens.Load())
	assert.Equal(t, uint64(2), f.provider.Generation())

	n, err := parents.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateReplacesNestedList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)
	entries := repo[entry](t, f)

	p := sampleParent("B-1")
	p.Entries = append(p.Entries, &entry{Amount: 1})
	_, err := parents.Create(ctx, p)
	require.NoError(t, err)

	_, err = parents.Update(ctx, &parent{ID: "B-1", Entries: []*entry{{Amount: 9}}}, nil)
	require.NoError(t, err)

	rows, err := entries.Index(ctx, types.Eq("parent_id", "B-1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(9), rows[0].Amount)

	got, err := parents.View(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, "bill B-1", got.Title)
}

func TestUpdateMergesSingularChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)
	notes := repo[note](t, f)

	p := sampleParent("B-1")
	p.Note = &note{Text: "first"}
	_, err := parents.Create(ctx, p)
	require.NoError(t, err)

	_, err = parents.Update(ctx, &parent{Title: "renamed", Note: &note{Text: "second"}}, "B-1")
	require.NoError(t, err)

	rows, err := notes.Index(ctx, types.Eq("parent_id", "B-1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0].Text)

	got, err := parents.View(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	require.NotNil(t, got.Note)
	assert.Equal(t, "second", got.Note.Text)
	assert.Len(t, got.Entries, 2)
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)

	_, err := parents.Update(ctx, &parent{ID: "B-404", Title: "x"}, nil)
	assert.True(t, errors.Is(err, database.ErrNotFound))

	n, err := parents.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateStampsUpdatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := repo[stamped](t, f)

	s, err := r.Create(ctx, &stamped{Name: "a"})
	require.NoError(t, err)
	require.NotZero(t, s.PID)
	assert.Empty(t, s.UpdatedAt)

	_, err = r.Update(ctx, &stamped{PID: s.PID, Name: "b"}, nil, "name")
	require.NoError(t, err)

	got, err := r.View(ctx, s.PID)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)
	assert.NotEmpty(t, got.UpdatedAt)
}

func TestInsertOrUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)

	res, err := parents.InsertOrUpdate(ctx, sampleParent("B-1"))
	require.NoError(t, err)
	assert.True(t, res.Created)

	res, err = parents.InsertOrUpdate(ctx, &parent{ID: "B-1", Title: "changed"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, int64(1), res.Rows)

	got, err := parents.View(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Title)
	assert.Len(t, got.Entries, 2)
}

func TestDeleteRemovesNestedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)

	_, err := parents.Create(ctx, sampleParent("B-1"))
	require.NoError(t, err)

	n, err := parents.Delete(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := repo[entry](t, f).Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, left)

	exists, err := repo[person](t, f).Exists(ctx, types.Eq("person_id", 42))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPageAndCreateMany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parents := repo[parent](t, f)
	entries := repo[entry](t, f)

	for i := 0; i < 5; i++ {
		_, err := parents.Create(ctx, &parent{ID: fmt.Sprintf("P-%d", i), Title: "t"})
		require.NoError(t, err)
	}
	page, err := parents.Page(ctx, types.Eq("title", "t"), types.NewPageRequest(2, 2, "id DESC"))
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages())
	require.Len(t, page.Items, 2)
	assert.Equal(t, "P-2", page.Items[0].ID)

	rows, err := entries.CreateMany(ctx, []*entry{{Amount: 1}, {Amount: 2}, {Amount: 3}}, types.Eq("parent_id", "P-0"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)

	n, err := entries.Count(ctx, types.Filter{"parent_id": "P-0", "amount": types.Gte(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestUnknownFilterColumn(t *testing.T) {
	f := newFixture(t)
	_, err := repo[parent](t, f).Index(context.Background(), types.Filter{"nope": 1})
	var ce *database.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestUntaggedColumnsRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := repo[digits](t, f)

	created, err := r.Create(ctx, &digits{Code1A: "A-1", Line2Total: 12})
	require.NoError(t, err)
	require.NotZero(t, created.PID)

	got, err := r.View(ctx, created.PID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A-1", got.Code1A)
	assert.Equal(t, int64(12), got.Line2Total)

	_, err = r.Update(ctx, &digits{PID: created.PID, Code1A: "B-2"}, nil)
	require.NoError(t, err)
	got, err = r.View(ctx, types.Filter{"code1a": "B-2"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(12), got.Line2Total)
}

func TestRecordValueKeyIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := repo[digits](t, f)
	created, err := r.Create(ctx, &digits{Code1A: "K"})
	require.NoError(t, err)

	var ce *database.ConfigurationError
	_, err = r.View(ctx, *created)
	assert.ErrorAs(t, err, &ce)
	_, err = r.Delete(ctx, &person{PersonID: created.PID})
	assert.ErrorAs(t, err, &ce)

	got, err := r.View(ctx, created)
	require.NoError(t, err)
	require.NotNil(t, got)

	rows, err := r.Delete(ctx, types.In(created.PID))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
}

func TestStatementRewriter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var seen []string
	rewrite := func(op, table, query string) string {
		seen = append(seen, op+" "+table)
		return "/* nestdb */ " + query
	}
	r, err := NewRepository[entry](f.provider, f.registry,
		WithLogger(database.NopLogger()), WithStatementRewriter(rewrite))
	require.NoError(t, err)

	created, err := r.Create(ctx, &entry{ParentID: "R-1", Amount: 3})
	require.NoError(t, err)
	_, err = r.Update(ctx, &entry{PID: created.PID, Amount: 4}, nil)
	require.NoError(t, err)
	got, err := r.View(ctx, created.PID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Amount)
	rows, err := r.Delete(ctx, created.PID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	assert.Equal(t, []string{"insert entries", "update entries", "delete entries"}, seen)
}
