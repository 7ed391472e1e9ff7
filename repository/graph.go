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
	"fmt"
	"reflect"
	"time"

	"github.com/tomoncle/nestdb/database"
	"github.com/tomoncle/nestdb/metadata"
	"github.com/tomoncle/nestdb/statement"
	"github.com/tomoncle/nestdb/types"
	"github.com/uptrace/bun"
)

// UpdatedAtColumn is stamped with the current time on every update.
const UpdatedAtColumn = "updated_at"

func hasGraph(m *metadata.Model) bool {
	return len(m.Relations) > 0 || len(m.References) > 0
}

// CreateGraph writes rec in dependency order: referenced records, then the
// row itself, then the nested children with their foreign key set.
func (t *Table[T]) CreateGraph(ctx context.Context, db bun.IDB, rec interface{}) error {
	if _, err := t.resolveReferences(ctx, db, rec); err != nil {
		return err
	}
	key, err := t.insertRow(ctx, db, rec)
	if err != nil {
		return err
	}
	return t.createChildren(ctx, db, rec, key)
}

// resolveReferences select-or-creates every embedded referenced record and
// copies its key into the owner's column. A reference given only as a key
// column is used as it is. It returns the columns it set.
func (t *Table[T]) resolveReferences(ctx context.Context, db bun.IDB, rec interface{}) ([]string, error) {
	var set []string
	for _, r := range t.model.References {
		ref, err := t.model.Reference(rec, r)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			continue
		}
		n, err := t.env.node(r.Target)
		if err != nil {
			return nil, err
		}
		if _, err := n.SelectOrCreate(ctx, db, ref); err != nil {
			return nil, err
		}
		if err := t.copyReferenceKey(n, rec, ref, r); err != nil {
			return nil, err
		}
		set = append(set, r.Column)
	}
	return set, nil
}

func (t *Table[T]) copyReferenceKey(n Node, rec, ref interface{}, r *metadata.Relation) error {
	v, err := n.Model().Value(ref, r.PrimaryKey)
	if err != nil {
		return err
	}
	return t.model.SetValue(rec, r.Column, v)
}

// insertRow inserts the direct columns of rec and returns its key. A store
// assigned key is read back and written into rec.
func (t *Table[T]) insertRow(ctx context.Context, db bun.IDB, rec interface{}) (interface{}, error) {
	values, err := t.model.Values(rec)
	if err != nil {
		return nil, err
	}
	pk, external := t.model.PrimaryKey()
	b := t.env.Builder

	if external {
		query, err := b.InsertOne(t.name, "", values)
		if err != nil {
			return nil, err
		}
		if _, err := db.ExecContext(ctx, t.rewrite(OpInsert, query)); err != nil {
			return nil, fmt.Errorf("insert into %s: %w", t.name, err)
		}
		return t.model.KeyValue(rec)
	}

	delete(values, pk)
	var key interface{}
	if b.SupportsReturning() {
		query, err := b.InsertOne(t.name, pk, values)
		if err != nil {
			return nil, err
		}
		dest := reflect.New(t.model.PrimaryKeyField().Type())
		if err := db.NewRaw(t.rewrite(OpInsert, query)).Scan(ctx, dest.Interface()); err != nil {
			return nil, fmt.Errorf("insert into %s: %w", t.name, err)
		}
		key = dest.Elem().Interface()
	} else {
		query, err := b.InsertOne(t.name, "", values)
		if err != nil {
			return nil, err
		}
		res, err := db.ExecContext(ctx, t.rewrite(OpInsert, query))
		if err != nil {
			return nil, fmt.Errorf("insert into %s: %w", t.name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert into %s: read generated key: %w", t.name, err)
		}
		key = id
	}
	if err := t.model.SetValue(rec, pk, key); err != nil {
		return nil, err
	}
	return t.model.KeyValue(rec)
}

// createChildren persists the nested records of rec under parent key. Plain
// children go through one multi-row insert per relation; children with a
// graph of their own are created one by one.
func (t *Table[T]) createChildren(ctx context.Context, db bun.IDB, rec, key interface{}) error {
	for _, r := range t.model.Relations {
		children, err := t.model.Children(rec, r)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			continue
		}
		if err := t.createRelated(ctx, db, r, children, key); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[T]) createRelated(ctx context.Context, db bun.IDB, r *metadata.Relation, children []interface{}, key interface{}) error {
	n, err := t.env.node(r.Target)
	if err != nil {
		return err
	}
	if !hasGraph(n.Model()) {
		_, err := n.CreateRows(ctx, db, children, types.Eq(r.ForeignKey, key))
		return err
	}
	for _, child := range children {
		if err := n.Model().SetValue(child, r.ForeignKey, key); err != nil {
			return err
		}
		if err := n.CreateGraph(ctx, db, child); err != nil {
			return err
		}
	}
	return nil
}

// CreateRows inserts recs without touching their relations. Shared values are
// written into every record and every row.
func (t *Table[T]) CreateRows(ctx context.Context, db bun.IDB, recs []interface{}, shared types.Filter) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	if err := t.checkFilter(shared); err != nil {
		return 0, err
	}
	pk, external := t.model.PrimaryKey()
	rows := make([]map[string]interface{}, len(recs))
	for i, rec := range recs {
		for _, col := range shared.Columns() {
			if err := t.model.SetValue(rec, col, shared[col]); err != nil {
				return 0, err
			}
		}
		values, err := t.model.Values(rec)
		if err != nil {
			return 0, err
		}
		if !external {
			delete(values, pk)
		}
		rows[i] = values
	}

	var total int64
	for _, c := range chunks(len(rows), t.env.BatchSize) {
		query, err := t.env.Builder.InsertMany(t.name, rows[c.lo:c.hi], shared)
		if err != nil {
			return total, err
		}
		res, err := db.ExecContext(ctx, t.rewrite(OpInsert, query))
		if err != nil {
			return total, fmt.Errorf("insert into %s: %w", t.name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(c.hi - c.lo)
		}
		total += n
	}
	return total, nil
}

// SelectOrCreate returns the key of rec, creating it when no row with that
// key exists yet.
func (t *Table[T]) SelectOrCreate(ctx context.Context, db bun.IDB, rec interface{}) (interface{}, error) {
	pk := t.pk()
	zero, err := t.model.IsZeroColumn(rec, pk)
	if err != nil {
		return nil, err
	}
	if !zero {
		key, _ := t.model.KeyValue(rec)
		found, err := t.find(ctx, db, types.Eq(pk, key), types.NewPageRequest(1, 1), []string{pk})
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return key, nil
		}
	}
	if err := t.CreateGraph(ctx, db, rec); err != nil {
		return nil, err
	}
	return t.model.KeyValue(rec)
}

// UpdateGraph updates the rows matching filter with the named columns of rec,
// or with its non-zero columns when none are named. Nested lists that are set
// on rec replace the stored ones; a set singular nested record is merged into
// the stored one or created. Zero matched rows is ErrNotFound.
func (t *Table[T]) UpdateGraph(ctx context.Context, db bun.IDB, rec interface{}, filter types.Filter, columns []string) (int64, error) {
	if len(filter) == 0 {
		return 0, database.NewConfigurationError("update %s: empty filter", t.name)
	}
	if err := t.checkFilter(filter); err != nil {
		return 0, err
	}
	if err := t.model.CheckColumns(columns...); err != nil {
		return 0, err
	}

	refColumns, err := t.resolveReferences(ctx, db, rec)
	if err != nil {
		return 0, err
	}
	values := make(map[string]interface{})
	if len(columns) > 0 {
		for _, col := range columns {
			values[col], _ = t.model.Value(rec, col)
		}
	} else if values, err = t.model.NonZeroValues(rec); err != nil {
		return 0, err
	}
	for _, col := range refColumns {
		values[col], _ = t.model.Value(rec, col)
	}
	if err := t.stampUpdatedAt(rec, values); err != nil {
		return 0, err
	}
	pk := t.pk()
	delete(values, pk)

	var parentKey interface{}
	nested, err := t.nestedSet(rec)
	if err != nil {
		return 0, err
	}
	if nested {
		// Resolve the parent key before the update can change what filter matches.
		if parentKey, err = t.parentKey(ctx, db, rec, filter); err != nil {
			return 0, err
		}
	}

	var rows int64
	if len(values) == 0 {
		if rows, err = t.Count(ctx, db, filter); err != nil {
			return 0, err
		}
	} else {
		query, err := t.env.Builder.Update(t.name, pk, filter, values)
		if err != nil {
			return 0, err
		}
		res, err := db.ExecContext(ctx, t.rewrite(OpUpdate, query))
		if err != nil {
			return 0, fmt.Errorf("update %s: %w", t.name, err)
		}
		if rows, err = res.RowsAffected(); err != nil {
			return 0, fmt.Errorf("update %s: %w", t.name, err)
		}
	}
	if rows == 0 {
		return 0, fmt.Errorf("update %s: %w", t.name, database.ErrNotFound)
	}
	if nested {
		if err := t.updateChildren(ctx, db, rec, parentKey); err != nil {
			return 0, err
		}
	}
	return rows, nil
}

func (t *Table[T]) stampUpdatedAt(rec interface{}, values map[string]interface{}) error {
	f, ok := t.model.Field(UpdatedAtColumn)
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	var stamp interface{} = now
	if f.Kind == metadata.KindString {
		stamp = now.Format(statement.TimestampFormat)
	}
	if err := t.model.SetValue(rec, UpdatedAtColumn, stamp); err != nil {
		return err
	}
	values[UpdatedAtColumn] = stamp
	return nil
}

func (t *Table[T]) nestedSet(rec interface{}) (bool, error) {
	for _, r := range t.model.Relations {
		set, err := t.model.RelationSet(rec, r)
		if err != nil || set {
			return set, err
		}
	}
	return false, nil
}

func (t *Table[T]) parentKey(ctx context.Context, db bun.IDB, rec interface{}, filter types.Filter) (interface{}, error) {
	pk := t.pk()
	if zero, _ := t.model.IsZeroColumn(rec, pk); !zero {
		return t.model.KeyValue(rec)
	}
	found, err := t.find(ctx, db, filter, types.NewPageRequest(1, 2), []string{pk})
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("update %s: %w", t.name, database.ErrNotFound)
	case 1:
		key, _ := t.model.KeyValue(found[0])
		if err := t.model.SetValue(rec, pk, key); err != nil {
			return nil, err
		}
		return key, nil
	default:
		return nil, database.NewConfigurationError("update %s: nested update needs a filter matching one row", t.name)
	}
}

func (t *Table[T]) updateChildren(ctx context.Context, db bun.IDB, rec, key interface{}) error {
	for _, r := range t.model.Relations {
		set, err := t.model.RelationSet(rec, r)
		if err != nil {
			return err
		}
		if !set {
			continue
		}
		n, err := t.env.node(r.Target)
		if err != nil {
			return err
		}
		children, err := t.model.Children(rec, r)
		if err != nil {
			return err
		}
		if r.IsList() {
			if _, err := n.DeleteRows(ctx, db, types.Eq(r.ForeignKey, key)); err != nil {
				return err
			}
			if len(children) > 0 {
				if err := t.createRelated(ctx, db, r, children, key); err != nil {
					return err
				}
			}
			continue
		}
		if len(children) == 0 {
			continue
		}
		if err := t.mergeChild(ctx, db, n, r, children[0], key); err != nil {
			return err
		}
	}
	return nil
}

// mergeChild updates the stored singular child of key with child, or creates
// it when there is none.
func (t *Table[T]) mergeChild(ctx context.Context, db bun.IDB, n Node, r *metadata.Relation, child, key interface{}) error {
	cm := n.Model()
	if err := cm.SetValue(child, r.ForeignKey, key); err != nil {
		return err
	}
	existing, err := n.Find(ctx, db, types.Eq(r.ForeignKey, key), types.NewPageRequest(1, 1))
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return n.CreateGraph(ctx, db, child)
	}
	childPK, _ := cm.PrimaryKey()
	childKey, err := cm.KeyValue(existing[0])
	if err != nil {
		return err
	}
	if err := cm.SetValue(child, childPK, childKey); err != nil {
		return err
	}
	_, err = n.UpdateGraph(ctx, db, child, types.Eq(childPK, childKey), nil)
	return err
}

// DeleteRows deletes the rows matching filter together with their nested
// children. Referenced records are left alone.
func (t *Table[T]) DeleteRows(ctx context.Context, db bun.IDB, filter types.Filter) (int64, error) {
	if err := t.checkFilter(filter); err != nil {
		return 0, err
	}
	if len(t.model.Relations) > 0 {
		pk := t.pk()
		parents, err := t.find(ctx, db, filter, nil, []string{pk})
		if err != nil {
			return 0, err
		}
		keys := make([]interface{}, len(parents))
		for i, p := range parents {
			keys[i], _ = t.model.KeyValue(p)
		}
		for _, r := range t.model.Relations {
			n, err := t.env.node(r.Target)
			if err != nil {
				return 0, err
			}
			for _, c := range chunks(len(keys), t.env.BatchSize) {
				if _, err := n.DeleteRows(ctx, db, types.Eq(r.ForeignKey, types.In(keys[c.lo:c.hi]...))); err != nil {
					return 0, err
				}
			}
		}
	}

	query, err := t.env.Builder.DeleteOne(t.name, filter)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, t.rewrite(OpDelete, query))
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", t.name, err)
	}
	return res.RowsAffected()
}
