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

package metadata

import (
	"reflect"
	"sort"
	"sync"

	"github.com/tomoncle/nestdb/database"
)

// SurrogateKey is the primary key column assumed when no field is tagged pk.
const SurrogateKey = "pid"

// Kind is the semantic type of a field.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBoolean
	KindTimestamp
	KindJSON
	KindRecord
	KindRecordList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindTimestamp:
		return "timestamp"
	case KindJSON:
		return "json"
	case KindRecord:
		return "record"
	case KindRecordList:
		return "record_list"
	default:
		return "unknown"
	}
}

// Field is a direct column of a record type.
type Field struct {
	Name          string
	Column        string
	Kind          Kind
	PrimaryKey    bool
	AutoIncrement bool

	index []int
	typ   reflect.Type
}

// Type returns the Go type of the field.
func (f *Field) Type() reflect.Type { return f.typ }

type RelationKind string

const (
	HasMany   RelationKind = "has_many"
	HasOne    RelationKind = "has_one"
	BelongsTo RelationKind = "belongs_to"
)

// Relation is a field holding other records. HasMany and HasOne fields are
// excluded from the owner's row and persisted after it, with ForeignKey set
// on every child. BelongsTo fields are resolved before the owner is written
// and their PrimaryKey value is copied into the owner's Column.
type Relation struct {
	Field      string
	Kind       RelationKind
	ForeignKey string
	PrimaryKey string
	Column     string
	Target     reflect.Type

	index []int
}

func (r *Relation) IsList() bool { return r.Kind == HasMany }

func (r *Relation) SemanticKind() Kind {
	if r.IsList() {
		return KindRecordList
	}
	return KindRecord
}

// Model is the parsed metadata of one record type.
type Model struct {
	Type       reflect.Type
	Name       string
	Table      string
	Fields     []*Field
	Relations  []*Relation
	References []*Relation

	pk        *Field
	byColumn  map[string]*Field
	byName    map[string]*Field
	relations map[string]*Relation
}

var models sync.Map

// Of returns the metadata of T.
func Of[T any]() (*Model, error) {
	return Parse(reflect.TypeOf((*T)(nil)).Elem())
}

// Parse returns the cached metadata of typ, parsing it on first use.
func Parse(typ reflect.Type) (*Model, error) {
	if typ == nil {
		return nil, database.NewConfigurationError("nil record type")
	}
	typ = indirectType(typ)
	if m, ok := models.Load(typ); ok {
		return m.(*Model), nil
	}
	m, err := inspect(typ)
	if err != nil {
		return nil, err
	}
	if err := m.validateRelations(); err != nil {
		return nil, err
	}
	actual, _ := models.LoadOrStore(typ, m)
	return actual.(*Model), nil
}

// MustParse is Parse for package-level model declarations.
func MustParse(typ reflect.Type) *Model {
	m, err := Parse(typ)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Model) validateRelations() error {
	for _, r := range m.Relations {
		target, err := inspect(r.Target)
		if err != nil {
			return err
		}
		if r.ForeignKey == "" {
			return database.NewConfigurationError("%s.%s: %s relation needs foreign_key", m.Name, r.Field, r.Kind)
		}
		if _, ok := target.byColumn[r.ForeignKey]; !ok {
			return database.NewConfigurationError("%s.%s: foreign key %q is not a column of %s",
				m.Name, r.Field, r.ForeignKey, target.Name)
		}
	}
	for _, r := range m.References {
		target, err := inspect(r.Target)
		if err != nil {
			return err
		}
		if r.PrimaryKey == "" {
			r.PrimaryKey = target.pk.Column
		}
		if _, ok := target.byColumn[r.PrimaryKey]; !ok {
			return database.NewConfigurationError("%s.%s: primary key %q is not a column of %s",
				m.Name, r.Field, r.PrimaryKey, target.Name)
		}
		if r.Column == "" {
			r.Column = r.PrimaryKey
		}
		if _, ok := m.byColumn[r.Column]; !ok {
			return database.NewConfigurationError("%s.%s: reference column %q is not a column of %s",
				m.Name, r.Field, r.Column, m.Name)
		}
	}
	return nil
}

// PrimaryKey returns the primary key column and whether the caller supplies it.
func (m *Model) PrimaryKey() (string, bool) {
	return m.pk.Column, !m.pk.AutoIncrement
}

func (m *Model) PrimaryKeyField() *Field { return m.pk }

// PKExternal reports whether the primary key is supplied by the caller.
func (m *Model) PKExternal() bool { return !m.pk.AutoIncrement }

// ExcludedFields names the fields holding nested child records.
func (m *Model) ExcludedFields() []string {
	out := make([]string, 0, len(m.Relations))
	for _, r := range m.Relations {
		out = append(out, r.Field)
	}
	return out
}

// ForeignKey returns the child column a nested field sets to the owner key.
// It is empty for fields without one.
func (m *Model) ForeignKey(field string) (string, error) {
	if r, ok := m.relations[field]; ok {
		return r.ForeignKey, nil
	}
	if m.hasField(field) {
		return "", nil
	}
	return "", database.NewConfigurationError("%s has no field %q", m.Name, field)
}

// ReferenceKey returns the key column of the record referenced by field.
// It is empty for fields without a primary-key role.
func (m *Model) ReferenceKey(field string) (string, error) {
	if r, ok := m.relations[field]; ok {
		if r.Kind == BelongsTo {
			return r.PrimaryKey, nil
		}
		return "", nil
	}
	if m.hasField(field) {
		return "", nil
	}
	return "", database.NewConfigurationError("%s has no field %q", m.Name, field)
}

// Relation returns the nested or referenced relation declared on field.
func (m *Model) Relation(field string) (*Relation, error) {
	if r, ok := m.relations[field]; ok {
		return r, nil
	}
	return nil, database.NewConfigurationError("%s has no relation field %q", m.Name, field)
}

func (m *Model) hasField(name string) bool {
	if _, ok := m.byName[name]; ok {
		return true
	}
	_, ok := m.byColumn[name]
	return ok
}

// Field returns the direct column with the given column name.
func (m *Model) Field(column string) (*Field, bool) {
	f, ok := m.byColumn[column]
	return f, ok
}

func (m *Model) HasColumn(column string) bool {
	_, ok := m.byColumn[column]
	return ok
}

// Columns returns the column names in declaration order.
func (m *Model) Columns() []string {
	cols := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		cols[i] = f.Column
	}
	return cols
}

// CheckColumns returns a ConfigurationError naming the unknown columns.
func (m *Model) CheckColumns(columns ...string) error {
	var unknown []string
	for _, c := range columns {
		if !m.HasColumn(c) {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return database.NewConfigurationError("%s has no columns %v", m.Name, unknown)
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
