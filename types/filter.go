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

package types

import "sort"

// Filter maps column names to match values. A nil value matches NULL, a
// slice matches any of its elements and a Condition renders its own operator.
// Entries are combined with AND.
type Filter map[string]interface{}

// Columns returns the filter keys in sorted order.
func (f Filter) Columns() []string {
	cols := make([]string, 0, len(f))
	for k := range f {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// With returns a copy of f extended with other; other wins on conflicts.
func (f Filter) With(other Filter) Filter {
	out := make(Filter, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Eq returns a single-column filter.
func Eq(column string, value interface{}) Filter {
	return Filter{column: value}
}

type Operator string

const (
	OpEq      Operator = "="
	OpNe      Operator = "<>"
	OpGt      Operator = ">"
	OpGte     Operator = ">="
	OpLt      Operator = "<"
	OpLte     Operator = "<="
	OpIn      Operator = "IN"
	OpNotIn   Operator = "NOT IN"
	OpBetween Operator = "BETWEEN"
)

// Condition is a filter value with an explicit operator.
type Condition struct {
	Op     Operator
	Values []interface{}
}

func In(values ...interface{}) Condition { return Condition{Op: OpIn, Values: values} }

func NotIn(values ...interface{}) Condition { return Condition{Op: OpNotIn, Values: values} }

// Between matches the inclusive range [low, high].
func Between(low, high interface{}) Condition {
	return Condition{Op: OpBetween, Values: []interface{}{low, high}}
}

func Ne(v interface{}) Condition { return Condition{Op: OpNe, Values: []interface{}{v}} }

func Gt(v interface{}) Condition { return Condition{Op: OpGt, Values: []interface{}{v}} }

func Gte(v interface{}) Condition { return Condition{Op: OpGte, Values: []interface{}{v}} }

func Lt(v interface{}) Condition { return Condition{Op: OpLt, Values: []interface{}{v}} }

func Lte(v interface{}) Condition { return Condition{Op: OpLte, Values: []interface{}{v}} }
