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
	"sort"
	"strconv"
	"strings"

	"github.com/tomoncle/nestdb/database"
	"github.com/tomoncle/nestdb/types"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

// Builder renders SQL text with inlined literals for one dialect.
// It never touches a connection.
type Builder struct {
	dialect schema.Dialect
	fmter   schema.Formatter
}

func NewBuilder(d schema.Dialect) *Builder {
	return &Builder{dialect: d, fmter: schema.NewFormatter(d)}
}

func (b *Builder) Dialect() schema.Dialect { return b.dialect }

func (b *Builder) isMSSQL() bool { return b.dialect.Name() == dialect.MSSQL }

// SupportsReturning reports whether InsertOne can hand back the generated key
// in the same statement (OUTPUT on SQL Server, RETURNING elsewhere).
func (b *Builder) SupportsReturning() bool {
	return b.isMSSQL() || b.dialect.Features().Has(feature.Returning)
}

// Ident quotes a possibly schema-qualified identifier.
func (b *Builder) Ident(name string) string {
	return string(b.fmter.AppendIdent(nil, name))
}

// Literal renders v as an SQL literal of the dialect.
func (b *Builder) Literal(v interface{}) (string, error) {
	n, err := Normalize(v)
	if err != nil {
		return "", err
	}
	if n == nil {
		return "NULL", nil
	}
	return string(b.fmter.AppendQuery(nil, "?", n)), nil
}

func (b *Builder) literalFor(column string, v interface{}) (string, error) {
	s, err := b.Literal(v)
	if err != nil {
		if se, ok := err.(*database.SerializationError); ok && se.Column == "" {
			se.Column = column
		}
		return "", err
	}
	return s, nil
}

// Condition renders filter as an AND-joined boolean expression.
// An empty filter renders as the empty string.
func (b *Builder) Condition(filter types.Filter) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filter))
	for _, col := range filter.Columns() {
		expr, err := b.predicate(col, filter[col])
		if err != nil {
			return "", err
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, " AND "), nil
}

func (b *Builder) where(filter types.Filter) (string, error) {
	cond, err := b.Condition(filter)
	if err != nil || cond == "" {
		return "", err
	}
	return " WHERE " + cond, nil
}

func (b *Builder) predicate(column string, value interface{}) (string, error) {
	ident := b.Ident(column)
	switch v := value.(type) {
	case nil:
		return ident + " IS NULL", nil
	case types.Condition:
		return b.condition(column, v)
	case *types.Condition:
		if v == nil {
			return ident + " IS NULL", nil
		}
		return b.condition(column, *v)
	}
	if isSet(value) {
		return b.set(column, types.OpIn, setValues(value))
	}
	lit, err := b.literalFor(column, value)
	if err != nil {
		return "", err
	}
	if lit == "NULL" {
		return ident + " IS NULL", nil
	}
	return ident + " = " + lit, nil
}

func (b *Builder) condition(column string, c types.Condition) (string, error) {
	ident := b.Ident(column)
	switch c.Op {
	case types.OpIn, types.OpNotIn:
		return b.set(column, c.Op, c.Values)
	case types.OpBetween:
		if len(c.Values) != 2 {
			return "", database.NewConfigurationError("BETWEEN on %q needs 2 values, got %d", column, len(c.Values))
		}
		low, err := b.literalFor(column, c.Values[0])
		if err != nil {
			return "", err
		}
		high, err := b.literalFor(column, c.Values[1])
		if err != nil {
			return "", err
		}
		return ident + " BETWEEN " + low + " AND " + high, nil
	case types.OpEq, types.OpNe, types.OpGt, types.OpGte, types.OpLt, types.OpLte:
		if len(c.Values) != 1 {
			return "", database.NewConfigurationError("%s on %q needs 1 value, got %d", c.Op, column, len(c.Values))
		}
		lit, err := b.literalFor(column, c.Values[0])
		if err != nil {
			return "", err
		}
		if lit == "NULL" {
			switch c.Op {
			case types.OpEq:
				return ident + " IS NULL", nil
			case types.OpNe:
				return ident + " IS NOT NULL", nil
			}
		}
		return ident + " " + string(c.Op) + " " + lit, nil
	default:
		return "", database.NewConfigurationError("unsupported operator %q on %q", c.Op, column)
	}
}

func (b *Builder) set(column string, op types.Operator, values []interface{}) (string, error) {
	if len(values) == 0 {
		// x IN () is not valid SQL; an empty set matches nothing.
		if op == types.OpNotIn {
			return "1 = 1", nil
		}
		return "1 = 0", nil
	}
	lits := make([]string, len(values))
	for i, v := range values {
		lit, err := b.literalFor(column, v)
		if err != nil {
			return "", err
		}
		lits[i] = lit
	}
	return b.Ident(column) + " " + string(op) + " (" + strings.Join(lits, ", ") + ")", nil
}

func sortedKeys(values map[string]interface{}) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InsertOne renders a single-row insert. When returning names a column the
// statement also yields that column of the new row.
func (b *Builder) InsertOne(table, returning string, values map[string]interface{}) (string, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.Ident(table))

	if len(values) == 0 {
		if b.dialect.Name() == dialect.MySQL {
			sb.WriteString(" () VALUES ()")
			return sb.String(), nil
		}
		if returning != "" && b.isMSSQL() {
			sb.WriteString(" OUTPUT INSERTED." + b.Ident(returning))
			returning = ""
		}
		sb.WriteString(" DEFAULT VALUES")
		b.appendReturning(&sb, returning)
		return sb.String(), nil
	}

	cols := sortedKeys(values)
	lits := make([]string, len(cols))
	for i, col := range cols {
		lit, err := b.literalFor(col, values[col])
		if err != nil {
			return "", err
		}
		lits[i] = lit
	}
	b.appendColumns(&sb, cols)
	if returning != "" && b.isMSSQL() {
		sb.WriteString(" OUTPUT INSERTED." + b.Ident(returning))
		returning = ""
	}
	sb.WriteString(" VALUES (")
	sb.WriteString(strings.Join(lits, ", "))
	sb.WriteString(")")
	b.appendReturning(&sb, returning)
	return sb.String(), nil
}

func (b *Builder) appendReturning(sb *strings.Builder, column string) {
	if column == "" || !b.dialect.Features().Has(feature.Returning) {
		return
	}
	sb.WriteString(" RETURNING ")
	sb.WriteString(b.Ident(column))
}

func (b *Builder) appendColumns(sb *strings.Builder, cols []string) {
	sb.WriteString(" (")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.Ident(col))
	}
	sb.WriteString(")")
}

// InsertMany renders one multi-row insert. Correlated values are applied to
// every row and win over the row's own value; columns absent from a row are
// written as NULL.
func (b *Builder) InsertMany(table string, rows []map[string]interface{}, correlated types.Filter) (string, error) {
	if len(rows) == 0 {
		return "", database.NewConfigurationError("insert into %s: no rows", table)
	}
	colSet := make(map[string]interface{})
	for _, row := range rows {
		for k := range row {
			colSet[k] = nil
		}
	}
	for k := range correlated {
		colSet[k] = nil
	}
	cols := sortedKeys(colSet)
	if len(cols) == 0 {
		return "", database.NewConfigurationError("insert into %s: rows have no columns", table)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.Ident(table))
	b.appendColumns(&sb, cols)
	sb.WriteString(" VALUES ")
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			v, ok := correlated[col]
			if !ok {
				v = row[col]
			}
			lit, err := b.literalFor(col, v)
			if err != nil {
				return "", err
			}
			sb.WriteString(lit)
		}
		sb.WriteString(")")
	}
	return sb.String(), nil
}

// Update renders an update of the given columns. The primary key column is
// never written and an empty filter is refused.
func (b *Builder) Update(table, pk string, filter types.Filter, values map[string]interface{}) (string, error) {
	cols := make([]string, 0, len(values))
	for _, col := range sortedKeys(values) {
		if col != pk {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return "", database.NewConfigurationError("update %s: no columns to set", table)
	}
	if len(filter) == 0 {
		return "", database.NewConfigurationError("update %s: refusing to update without a filter", table)
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.Ident(table))
	sb.WriteString(" SET ")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		lit, err := b.literalFor(col, values[col])
		if err != nil {
			return "", err
		}
		sb.WriteString(b.Ident(col))
		sb.WriteString(" = ")
		sb.WriteString(lit)
	}
	where, err := b.where(filter)
	if err != nil {
		return "", err
	}
	sb.WriteString(where)
	return sb.String(), nil
}

// DeleteOne renders a delete of the rows matching filter. An empty filter
// is refused.
func (b *Builder) DeleteOne(table string, filter types.Filter) (string, error) {
	if len(filter) == 0 {
		return "", database.NewConfigurationError("delete from %s: refusing to delete without a filter", table)
	}
	where, err := b.where(filter)
	if err != nil {
		return "", err
	}
	return "DELETE FROM " + b.Ident(table) + where, nil
}

// SelectAndCount renders a select of columns and the companion count over
// the same filter. Rows are ordered by page's orders or by pk; a nil page
// selects every matching row.
func (b *Builder) SelectAndCount(table string, columns []string, pk string, filter types.Filter, page *types.PageRequest) (string, string, error) {
	where, err := b.where(filter)
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(columns) == 0 {
		sb.WriteString("*")
	}
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.Ident(col))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.Ident(table))
	sb.WriteString(where)

	orderBy, err := b.orderBy(pk, page)
	if err != nil {
		return "", "", err
	}
	sb.WriteString(orderBy)

	if page != nil {
		offset := strconv.Itoa(page.GetOffset())
		limit := strconv.Itoa(page.GetPageSize())
		if b.isMSSQL() {
			sb.WriteString(" OFFSET " + offset + " ROWS FETCH NEXT " + limit + " ROWS ONLY")
		} else {
			sb.WriteString(" LIMIT " + limit + " OFFSET " + offset)
		}
	}

	count := "SELECT COUNT(*) AS " + b.Ident("count") + " FROM " + b.Ident(table) + where
	return sb.String(), count, nil
}

// SelectWithoutChildren renders a select of columns from the rows of table
// that match filter and have no row in child whose fk equals their pk.
func (b *Builder) SelectWithoutChildren(table string, columns []string, pk, child, fk string, filter types.Filter) (string, error) {
	if pk == "" || child == "" || fk == "" {
		return "", database.NewConfigurationError("select from %s: missing key or child table", table)
	}
	cond, err := b.Condition(filter)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(columns) == 0 {
		sb.WriteString("*")
	}
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(b.Ident(col))
	}
	sb.WriteString(" FROM " + b.Ident(table) + " AS " + b.Ident("p"))
	sb.WriteString(" WHERE NOT EXISTS (SELECT 1 FROM " + b.Ident(child) + " AS " + b.Ident("c"))
	sb.WriteString(" WHERE " + b.Ident("c."+fk) + " = " + b.Ident("p."+pk) + ")")
	if cond != "" {
		sb.WriteString(" AND " + cond)
	}
	sb.WriteString(" ORDER BY " + b.Ident(pk))
	return sb.String(), nil
}

func (b *Builder) orderBy(pk string, page *types.PageRequest) (string, error) {
	var orders []string
	if page != nil {
		orders = page.GetOrders()
	}
	if len(orders) == 0 {
		if pk == "" {
			if page != nil && b.isMSSQL() {
				// OFFSET ... FETCH requires an ORDER BY clause.
				return " ORDER BY (SELECT NULL)", nil
			}
			return "", nil
		}
		return " ORDER BY " + b.Ident(pk), nil
	}
	terms := make([]string, len(orders))
	for i, o := range orders {
		ord, ok := types.ParseOrder(o)
		if !ok {
			return "", database.NewConfigurationError("invalid order %q", o)
		}
		terms[i] = b.Ident(ord.Column)
		if ord.Desc {
			terms[i] += " DESC"
		}
	}
	return " ORDER BY " + strings.Join(terms, ", "), nil
}
