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

package models

import (
	"context"
	"fmt"
	"time"

	"github.com/tomoncle/nestdb/repository"
	"github.com/tomoncle/nestdb/types"
)

// BillsWithoutItems returns the ids of the bills created inside [from, till]
// that have no items stored yet, so their detail can be fetched again. A zero
// bound leaves that side of the window open.
func BillsWithoutItems(ctx context.Context, bills repository.QueryRepository[Bill], from, till time.Time) ([]string, error) {
	filter := types.Filter{}
	switch {
	case !from.IsZero() && !till.IsZero():
		filter["created_at"] = types.Between(from, till)
	case !from.IsZero():
		filter["created_at"] = types.Gte(from)
	case !till.IsZero():
		filter["created_at"] = types.Lte(till)
	}
	keys, err := bills.KeysWithoutChildren(ctx, "Items", filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("bill key %v has type %T", k, k)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
