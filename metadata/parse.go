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
	"database/sql/driver"
	"reflect"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"github.com/tomoncle/nestdb/database"
	"github.com/uptrace/bun"
)

var (
	baseModelType = reflect.TypeOf(bun.BaseModel{})
	timeType      = reflect.TypeOf(time.Time{})
	valuerType    = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
)

// inspect reads columns and relation declarations of typ without looking
// at the related types.
func inspect(typ reflect.Type) (*Model, error) {
	typ = indirectType(typ)
	if typ.Kind() != reflect.Struct {
		return nil, database.NewConfigurationError("record type %s is not a struct", typ)
	}
	m := &Model{
		Type:      typ,
		Name:      typ.Name(),
		byColumn:  make(map[string]*Field),
		byName:    make(map[string]*Field),
		relations: make(map[string]*Relation),
	}
	if err := m.collect(typ, nil); err != nil {
		return nil, err
	}
	if m.Table == "" {
		m.Table = inflection.Plural(ToSnake(typ.Name()))
	}

	var pks []*Field
	for _, f := range m.Fields {
		if f.PrimaryKey {
			pks = append(pks, f)
		}
	}
	switch len(pks) {
	case 0:
		f, ok := m.byColumn[SurrogateKey]
		if !ok {
			return nil, database.NewConfigurationError("%s declares no primary key and has no %q column", m.Name, SurrogateKey)
		}
		f.PrimaryKey = true
		f.AutoIncrement = true
		m.pk = f
	case 1:
		m.pk = pks[0]
	default:
		return nil, database.NewConfigurationError("%s declares %d primary keys, composite keys are not supported", m.Name, len(pks))
	}
	return m, nil
}

func (m *Model) collect(typ reflect.Type, parent []int) error {
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		index := append(append(make([]int, 0, len(parent)+1), parent...), i)

		bunTag, hasBun := sf.Tag.Lookup("bun")
		if sf.Type == baseModelType {
			if table := tableFromTag(bunTag); table != "" {
				m.Table = table
			}
			continue
		}
		if sf.Anonymous && !hasBun && sf.Type.Kind() == reflect.Struct && sf.Type != timeType {
			if err := m.collect(sf.Type, index); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if relTag, ok := sf.Tag.Lookup("rel"); ok {
			if err := m.addRelation(sf, index, relTag); err != nil {
				return err
			}
			continue
		}
		if bunTag == "-" {
			continue
		}

		name, opts := parseBunTag(bunTag)
		if name == "" {
			name = ToSnake(sf.Name)
		}
		if _, dup := m.byColumn[name]; dup {
			return database.NewConfigurationError("%s declares column %q twice", m.Name, name)
		}
		f := &Field{
			Name:          sf.Name,
			Column:        name,
			Kind:          kindOf(sf.Type),
			PrimaryKey:    opts["pk"],
			AutoIncrement: opts["autoincrement"] || opts["identity"],
			index:         index,
			typ:           sf.Type,
		}
		m.Fields = append(m.Fields, f)
		m.byColumn[f.Column] = f
		m.byName[f.Name] = f
	}
	return nil
}

func (m *Model) addRelation(sf reflect.StructField, index []int, tag string) error {
	parts := strings.Split(tag, ",")
	r := &Relation{
		Field: sf.Name,
		Kind:  RelationKind(strings.TrimSpace(parts[0])),
		index: index,
	}
	for _, p := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(p), ":")
		switch key {
		case "foreign_key":
			r.ForeignKey = value
		case "primary_key":
			r.PrimaryKey = value
		case "column":
			r.Column = value
		case "":
		default:
			return database.NewConfigurationError("%s.%s: unknown rel option %q", m.Name, sf.Name, key)
		}
	}

	t := sf.Type
	switch r.Kind {
	case HasMany:
		if t.Kind() != reflect.Slice || indirectType(t.Elem()).Kind() != reflect.Struct {
			return database.NewConfigurationError("%s.%s: has_many needs a slice of records, got %s", m.Name, sf.Name, t)
		}
		r.Target = indirectType(t.Elem())
		m.Relations = append(m.Relations, r)
	case HasOne, BelongsTo:
		if indirectType(t).Kind() != reflect.Struct || indirectType(t) == timeType {
			return database.NewConfigurationError("%s.%s: %s needs a record, got %s", m.Name, sf.Name, r.Kind, t)
		}
		r.Target = indirectType(t)
		if r.Kind == HasOne {
			m.Relations = append(m.Relations, r)
		} else {
			m.References = append(m.References, r)
		}
	default:
		return database.NewConfigurationError("%s.%s: unknown relation kind %q", m.Name, sf.Name, r.Kind)
	}
	m.relations[r.Field] = r
	return nil
}

func parseBunTag(tag string) (string, map[string]bool) {
	opts := make(map[string]bool)
	if tag == "" {
		return "", opts
	}
	parts := strings.Split(tag, ",")
	for _, p := range parts[1:] {
		key, _, _ := strings.Cut(strings.TrimSpace(p), ":")
		opts[key] = true
	}
	return strings.TrimSpace(parts[0]), opts
}

func tableFromTag(tag string) string {
	for _, p := range strings.Split(tag, ",") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(p), "table:"); ok {
			return v
		}
	}
	return ""
}

func kindOf(t reflect.Type) Kind {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType {
		return KindTimestamp
	}
	switch t.Kind() {
	case reflect.String:
		return KindString
	case reflect.Bool:
		return KindBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return KindNumber
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 && !t.Implements(valuerType) {
			return KindString
		}
		return KindJSON
	default:
		return KindJSON
	}
}

// ToSnake converts a Go identifier to the column name bun derives for an
// untagged field, so written and scanned columns agree: PersonID -> person_id,
// HTTPServer -> http_server, Code1A -> code1a.
func ToSnake(s string) string {
	b := make([]byte, 0, len(s)+5)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isUpper(c) {
			b = append(b, c)
			continue
		}
		if i > 0 && i+1 < len(s) && (isLower(s[i-1]) || isLower(s[i+1])) {
			b = append(b, '_')
		}
		b = append(b, c+'a'-'A')
	}
	return string(b)
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }

func isLower(c byte) bool { return c >= 'a' && c <= 'z' }
