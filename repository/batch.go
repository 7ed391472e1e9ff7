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

	"github.com/tomoncle/nestdb/metadata"
	"github.com/uptrace/bun"
)

// BatchResult reports what CreateBatch wrote.
type BatchResult struct {
	// Rows is the number of rows inserted into the batch's own table.
	Rows int64
	// Referenced counts the referenced records created, by record type name.
	Referenced map[string]int
}

// CreateBatch creates recs as one batch. Referenced records are resolved once
// per distinct key across the whole batch, keeping the first occurrence, and
// only the missing ones are created. The rows are then inserted with
// multi-row statements and the nested children of every row follow.
func (t *Table[T]) CreateBatch(ctx context.Context, db bun.IDB, recs []interface{}) (*BatchResult, error) {
	result := &BatchResult{Referenced: make(map[string]int)}
	if len(recs) == 0 {
		return result, nil
	}
	for _, r := range t.model.References {
		if err := t.resolveBatchReference(ctx, db, recs, r, result); err != nil {
			return nil, err
		}
	}

	_, external := t.model.PrimaryKey()
	if external || len(t.model.Relations) == 0 {
		rows, err := t.CreateRows(ctx, db, recs, nil)
		if err != nil {
			return nil, err
		}
		result.Rows = rows
	} else {
		// Store-assigned keys are needed for the children, so rows go one by one.
		for _, rec := range recs {
			if _, err := t.insertRow(ctx, db, rec); err != nil {
				return nil, err
			}
			result.Rows++
		}
	}

	if len(t.model.Relations) == 0 {
		return result, nil
	}
	for _, rec := range recs {
		key, err := t.model.KeyValue(rec)
		if err != nil {
			return nil, err
		}
		if err := t.createChildren(ctx, db, rec, key); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (t *Table[T]) resolveBatchReference(ctx context.Context, db bun.IDB, recs []interface{}, r *metadata.Relation, result *BatchResult) error {
	n, err := t.env.node(r.Target)
	if err != nil {
		return err
	}
	rm := n.Model()
	refPK, _ := rm.PrimaryKey()

	resolved := make([]interface{}, len(recs))
	first := make(map[string]interface{})
	var unique, keys []interface{}
	for i, rec := range recs {
		ref, err := t.model.Reference(rec, r)
		if err != nil {
			return err
		}
		if ref == nil {
			continue
		}
		zero, err := rm.IsZeroColumn(ref, refPK)
		if err != nil {
			return err
		}
		if zero {
			// No key to deduplicate by: every such record is created.
			resolved[i] = ref
			unique = append(unique, ref)
			continue
		}
		key, _ := rm.KeyValue(ref)
		k := keyString(key)
		if f, ok := first[k]; ok {
			resolved[i] = f
			continue
		}
		first[k] = ref
		resolved[i] = ref
		unique = append(unique, ref)
		keys = append(keys, key)
	}

	existing, err := n.ExistingKeys(ctx, db, keys)
	if err != nil {
		return err
	}
	for _, ref := range unique {
		if zero, _ := rm.IsZeroColumn(ref, refPK); !zero {
			key, _ := rm.KeyValue(ref)
			if _, ok := existing[keyString(key)]; ok {
				continue
			}
		}
		if err := n.CreateGraph(ctx, db, ref); err != nil {
			return err
		}
		result.Referenced[rm.Name]++
	}

	for i, rec := range recs {
		if resolved[i] == nil {
			continue
		}
		if err := t.model.SetReference(rec, r, resolved[i]); err != nil {
			return err
		}
		if err := t.copyReferenceKey(n, rec, resolved[i], r); err != nil {
			return err
		}
	}
	return nil
}
