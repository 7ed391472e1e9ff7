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
	"fmt"
	"reflect"
	"strconv"

	"github.com/tomoncle/nestdb/database"
)

// New allocates a zero record and returns a pointer to it.
func (m *Model) New() interface{} {
	return reflect.New(m.Type).Interface()
}

func (m *Model) structOf(rec interface{}) (reflect.Value, error) {
	v := reflect.ValueOf(rec)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return reflect.Value{}, database.NewConfigurationError("%s: expected non-nil *%s, got %T", m.Name, m.Name, rec)
	}
	v = v.Elem()
	if v.Type() != m.Type {
		return reflect.Value{}, database.NewConfigurationError("%s: expected *%s, got %T", m.Name, m.Name, rec)
	}
	return v, nil
}

// Values returns every direct column of rec keyed by column name.
func (m *Model) Values(rec interface{}) (map[string]interface{}, error) {
	v, err := m.structOf(rec)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(m.Fields))
	for _, f := range m.Fields {
		out[f.Column] = v.FieldByIndex(f.index).Interface()
	}
	return out, nil
}

// NonZeroValues returns the direct columns of rec that hold a non-zero value,
// which is how a partial record marks the fields it sets.
func (m *Model) NonZeroValues(rec interface{}) (map[string]interface{}, error) {
	v, err := m.structOf(rec)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(m.Fields))
	for _, f := range m.Fields {
		fv := v.FieldByIndex(f.index)
		if !fv.IsZero() {
			out[f.Column] = fv.Interface()
		}
	}
	return out, nil
}

// Value returns the value of one column of rec.
func (m *Model) Value(rec interface{}, column string) (interface{}, error) {
	f, ok := m.byColumn[column]
	if !ok {
		return nil, database.NewConfigurationError("%s has no column %q", m.Name, column)
	}
	v, err := m.structOf(rec)
	if err != nil {
		return nil, err
	}
	return v.FieldByIndex(f.index).Interface(), nil
}

// KeyValue returns the primary key value of rec.
func (m *Model) KeyValue(rec interface{}) (interface{}, error) {
	return m.Value(rec, m.pk.Column)
}

// IsZeroColumn reports whether the column of rec holds its zero value.
func (m *Model) IsZeroColumn(rec interface{}, column string) (bool, error) {
	f, ok := m.byColumn[column]
	if !ok {
		return false, database.NewConfigurationError("%s has no column %q", m.Name, column)
	}
	v, err := m.structOf(rec)
	if err != nil {
		return false, err
	}
	return v.FieldByIndex(f.index).IsZero(), nil
}

// SetValue assigns value to a column of rec, converting between numeric
// kinds and between numbers and strings where needed.
func (m *Model) SetValue(rec interface{}, column string, value interface{}) error {
	f, ok := m.byColumn[column]
	if !ok {
		return database.NewConfigurationError("%s has no column %q", m.Name, column)
	}
	v, err := m.structOf(rec)
	if err != nil {
		return err
	}
	if err := assign(v.FieldByIndex(f.index), value); err != nil {
		return &database.SerializationError{Column: column, Value: value, Err: err}
	}
	return nil
}

// Children returns pointers to the records held by a nested relation.
func (m *Model) Children(rec interface{}, r *Relation) ([]interface{}, error) {
	v, err := m.structOf(rec)
	if err != nil {
		return nil, err
	}
	fv := v.FieldByIndex(r.index)
	if !r.IsList() {
		if child := recordPointer(fv); child != nil {
			return []interface{}{child}, nil
		}
		return nil, nil
	}
	out := make([]interface{}, 0, fv.Len())
	for i := 0; i < fv.Len(); i++ {
		if child := recordPointer(fv.Index(i)); child != nil {
			out = append(out, child)
		}
	}
	return out, nil
}

// SetChildren replaces the records held by a nested relation.
func (m *Model) SetChildren(rec interface{}, r *Relation, children []interface{}) error {
	v, err := m.structOf(rec)
	if err != nil {
		return err
	}
	fv := v.FieldByIndex(r.index)
	if !r.IsList() {
		if len(children) == 0 {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		return setRecord(fv, children[0])
	}
	list := reflect.MakeSlice(fv.Type(), len(children), len(children))
	for i, c := range children {
		if err := setRecord(list.Index(i), c); err != nil {
			return err
		}
	}
	fv.Set(list)
	return nil
}

// Reference returns a pointer to the record embedded in a belongs_to field,
// or nil when the field is empty.
func (m *Model) Reference(rec interface{}, r *Relation) (interface{}, error) {
	v, err := m.structOf(rec)
	if err != nil {
		return nil, err
	}
	return recordPointer(v.FieldByIndex(r.index)), nil
}

// SetReference stores a resolved record in a belongs_to field.
func (m *Model) SetReference(rec interface{}, r *Relation, ref interface{}) error {
	v, err := m.structOf(rec)
	if err != nil {
		return err
	}
	fv := v.FieldByIndex(r.index)
	if ref == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	return setRecord(fv, ref)
}

func recordPointer(v reflect.Value) interface{} {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		return v.Interface()
	}
	if v.CanAddr() {
		return v.Addr().Interface()
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p.Interface()
}

func setRecord(dst reflect.Value, rec interface{}) error {
	src := reflect.ValueOf(rec)
	if dst.Kind() == reflect.Ptr {
		if src.Type() != dst.Type() {
			return fmt.Errorf("cannot store %s in %s", src.Type(), dst.Type())
		}
		dst.Set(src)
		return nil
	}
	if src.Kind() != reflect.Ptr || src.Elem().Type() != dst.Type() {
		return fmt.Errorf("cannot store %s in %s", src.Type(), dst.Type())
	}
	dst.Set(src.Elem())
	return nil
}

func assign(dst reflect.Value, value interface{}) error {
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(value)
	if src.Kind() == reflect.Ptr {
		if src.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		if src.Type().AssignableTo(dst.Type()) {
			dst.Set(src)
			return nil
		}
		src = src.Elem()
	}
	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), src.Interface()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case isNumber(src.Kind()) && isNumber(dst.Kind()):
		dst.Set(src.Convert(dst.Type()))
	case src.Kind() == reflect.String && dst.Kind() == reflect.String:
		dst.SetString(src.String())
	case dst.Kind() == reflect.String && isNumber(src.Kind()):
		dst.SetString(fmt.Sprint(src.Interface()))
	case dst.Kind() == reflect.String && src.Kind() == reflect.Slice && src.Type().Elem().Kind() == reflect.Uint8:
		dst.SetString(string(src.Bytes()))
	case isNumber(dst.Kind()) && src.Kind() == reflect.String:
		return parseNumber(dst, src.String())
	default:
		return fmt.Errorf("cannot assign %s to %s", src.Type(), dst.Type())
	}
	return nil
}

func parseNumber(dst reflect.Value, s string) error {
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetUint(n)
	default:
		n, err := strconv.ParseFloat(s, dst.Type().Bits())
		if err != nil {
			return err
		}
		dst.SetFloat(n)
	}
	return nil
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// RelationSet reports whether the relation field of rec carries a value.
// A nil slice or pointer leaves the stored children untouched on update,
// while an empty non-nil slice clears them.
func (m *Model) RelationSet(rec interface{}, r *Relation) (bool, error) {
	v, err := m.structOf(rec)
	if err != nil {
		return false, err
	}
	fv := v.FieldByIndex(r.index)
	switch fv.Kind() {
	case reflect.Slice, reflect.Ptr:
		return !fv.IsNil(), nil
	default:
		return !fv.IsZero(), nil
	}
}
