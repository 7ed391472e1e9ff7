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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/nestdb/database"
	"github.com/tomoncle/nestdb/types"
	"github.com/uptrace/bun/dialect/mssqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func pg() *Builder { return NewBuilder(pgdialect.New()) }

func mssql() *Builder { return NewBuilder(mssqldialect.New()) }

func TestIdentQualified(t *testing.T) {
	assert.Equal(t, `"storyous"."bills"`, pg().Ident("storyous.bills"))
	assert.Equal(t, `"bills"`, pg().Ident("bills"))
}

func TestInsertOneReturning(t *testing.T) {
	sql, err := pg().InsertOne("bills", "pid", map[string]interface{}{
		"name":   "x",
		"amount": 5,
	})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "bills" ("amount", "name") VALUES (5, 'x') RETURNING "pid"`, sql)

	sql, err = pg().InsertOne("bills", "", map[string]interface{}{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "bills" ("name") VALUES ('x')`, sql)
}

func TestInsertOneOutputClause(t *testing.T) {
	b := mssql()
	assert.True(t, b.SupportsReturning())

	sql, err := b.InsertOne("bills", "pid", map[string]interface{}{"amount": 5})
	require.NoError(t, err)
	assert.Contains(t, sql, `OUTPUT INSERTED."pid" VALUES (5)`)
	assert.NotContains(t, sql, "RETURNING")
}

func TestInsertOneDefaultValues(t *testing.T) {
	sql, err := pg().InsertOne("bills", "pid", nil)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "bills" DEFAULT VALUES RETURNING "pid"`, sql)
}

func TestInsertManyCorrelated(t *testing.T) {
	rows := []map[string]interface{}{
		{"amount": 5, "bill_id": "ignored"},
		{"amount": 7, "note": "late"},
	}
	sql, err := pg().InsertMany("taxes", rows, types.Eq("bill_id", "B-1"))
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "taxes" ("amount", "bill_id", "note") VALUES (5, 'B-1', NULL), (7, 'B-1', 'late')`,
		sql)

	_, err = pg().InsertMany("taxes", nil, nil)
	var ce *database.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestUpdateNeverWritesPrimaryKey(t *testing.T) {
	sql, err := pg().Update("bills", "bill_id", types.Eq("bill_id", "B-1"), map[string]interface{}{
		"bill_id": "B-2",
		"amount":  9,
	})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "bills" SET "amount" = 9 WHERE "bill_id" = 'B-1'`, sql)

	var ce *database.ConfigurationError
	_, err = pg().Update("bills", "bill_id", types.Eq("bill_id", "B-1"), map[string]interface{}{"bill_id": "B-2"})
	assert.ErrorAs(t, err, &ce)

	_, err = pg().Update("bills", "bill_id", nil, map[string]interface{}{"amount": 1})
	assert.ErrorAs(t, err, &ce)
}

func TestDeleteOne(t *testing.T) {
	sql, err := pg().DeleteOne("taxes", types.Eq("bill_id", "B-1"))
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "taxes" WHERE "bill_id" = 'B-1'`, sql)

	_, err = pg().DeleteOne("taxes", types.Filter{})
	var ce *database.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestSelectAndCount(t *testing.T) {
	filter := types.Filter{"merchant_id": "m1", "deleted_at": nil}
	sel, count, err := pg().SelectAndCount("bills", []string{"bill_id", "amount"}, "bill_id", filter,
		types.NewPageRequest(3, 10, "amount DESC"))
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "bill_id", "amount" FROM "bills" WHERE "deleted_at" IS NULL AND "merchant_id" = 'm1' ORDER BY "amount" DESC LIMIT 10 OFFSET 20`,
		sel)
	assert.Equal(t,
		`SELECT COUNT(*) AS "count" FROM "bills" WHERE "deleted_at" IS NULL AND "merchant_id" = 'm1'`,
		count)

	sel, _, err = pg().SelectAndCount("bills", []string{"bill_id"}, "bill_id", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "bill_id" FROM "bills" ORDER BY "bill_id"`, sel)
}

func TestSelectAndCountOffsetFetch(t *testing.T) {
	sel, _, err := mssql().SelectAndCount("bills", []string{"bill_id"}, "bill_id", nil, types.NewPageRequest(2, 5))
	require.NoError(t, err)
	assert.Contains(t, sel, `ORDER BY "bill_id" OFFSET 5 ROWS FETCH NEXT 5 ROWS ONLY`)
	assert.NotContains(t, sel, "LIMIT")
}

func TestSelectWithoutChildren(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	till := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	sel, err := pg().SelectWithoutChildren("storyous.bills", []string{"bill_id"}, "bill_id", "storyous.items", "bill_id",
		types.Filter{"created_at": types.Between(from, till)})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "bill_id" FROM "storyous"."bills" AS "p" WHERE NOT EXISTS (SELECT 1 FROM "storyous"."items" AS "c" `+
			`WHERE "c"."bill_id" = "p"."bill_id") AND "created_at" BETWEEN '2024-03-01T00:00:00Z' AND '2024-03-31T00:00:00Z' `+
			`ORDER BY "bill_id"`,
		sel)

	sel, err = pg().SelectWithoutChildren("bills", nil, "bill_id", "items", "bill_id", nil)
	require.NoError(t, err)
	assert.NotContains(t, sel, " AND ")

	_, err = pg().SelectWithoutChildren("bills", nil, "bill_id", "", "bill_id", nil)
	var ce *database.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestSelectRejectsBadOrder(t *testing.T) {
	_, _, err := pg().SelectAndCount("bills", nil, "pid", nil, types.NewPageRequest(1, 10, "amount; DROP TABLE bills"))
	var ce *database.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

func TestConditions(t *testing.T) {
	b := pg()
	cases := []struct {
		name   string
		filter types.Filter
		want   string
	}{
		{"slice", types.Filter{"id": []int{1, 2}}, `"id" IN (1, 2)`},
		{"empty in", types.Filter{"id": types.In()}, `1 = 0`},
		{"empty not in", types.Filter{"id": types.NotIn()}, `1 = 1`},
		{"between", types.Filter{"amount": types.Between(1, 9)}, `"amount" BETWEEN 1 AND 9`},
		{"gt", types.Filter{"amount": types.Gt(3)}, `"amount" > 3`},
		{"ne nil", types.Filter{"note": types.Ne(nil)}, `"note" IS NOT NULL`},
		{"bool", types.Filter{"paid": true}, `"paid" = TRUE`},
		{"nil pointer", types.Filter{"note": (*string)(nil)}, `"note" IS NULL`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := b.Condition(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := b.Condition(types.Filter{"amount": types.Condition{Op: types.OpBetween, Values: []interface{}{1}}})
	var ce *database.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}

type status string

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	v, err := Normalize(ts)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T09:30:00Z", v)

	v, err = Normalize(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)

	v, err = Normalize(types.JsonObject{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, v)

	v, err = Normalize(status("open"))
	require.NoError(t, err)
	assert.Equal(t, "open", v)

	n := 7
	v, err = Normalize(&n)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = Normalize((*int)(nil))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSerializationError(t *testing.T) {
	_, err := pg().InsertOne("bills", "", map[string]interface{}{"callback": func() {}})
	var se *database.SerializationError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "callback", se.Column)

	_, err = pg().Literal(make(chan int))
	assert.ErrorAs(t, err, &se)
}
