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

package statement

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/tomoncle/nestdb/database"
	"github.com/tomoncle/nestdb/types"
)

// TimestampFormat is the ISO-8601 layout timestamps are written with.
const TimestampFormat = "2006-01-02T15:04:05.999999Z07:00"

// Normalize reduces v to a value the dialect formatter can render:
// nil, bool, int64, uint64, float64, string or []byte.
func Normalize(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, int64, uint64, float64, string, []byte:
		return x, nil
	case time.Time:
		return x.UTC().Format(TimestampFormat), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.UTC().Format(TimestampFormat), nil
	case types.BaseEnum:
		if rv := reflect.ValueOf(x); rv.Kind() == reflect.Ptr && rv.IsNil() {
			return nil, nil
		}
		return x.Name(), nil
	case driver.Valuer:
		if rv := reflect.ValueOf(x); rv.Kind() == reflect.Ptr && rv.IsNil() {
			return nil, nil
		}
		dv, err := x.Value()
		if err != nil {
			return nil, &database.SerializationError{Value: v, Err: err}
		}
		return Normalize(dv)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes(), nil
		}
		return marshalJSON(v)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		return marshalJSON(v)
	case reflect.Array, reflect.Struct:
		return marshalJSON(v)
	default:
		return nil, &database.SerializationError{Value: v, Err: fmt.Errorf("unsupported kind %s", rv.Kind())}
	}
}

func marshalJSON(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &database.SerializationError{Value: v, Err: err}
	}
	return string(b), nil
}

// isSet reports whether a filter value should render as an IN list.
func isSet(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(driver.Valuer); ok {
		return false
	}
	t := reflect.TypeOf(v)
	return (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && t.Elem().Kind() != reflect.Uint8
}

func setValues(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
