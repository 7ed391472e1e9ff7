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

import "strings"

const DefaultPageSize = 10

// PageRequest describes pagination and ordering.
type PageRequest struct {
	page     int
	pageSize int
	orders   []string // "name", "name DESC"
}

func (p *PageRequest) GetPageSize() int {
	if p.pageSize < 1 {
		p.pageSize = DefaultPageSize
	}
	return p.pageSize
}

func (p *PageRequest) GetPage() int {
	if p.page < 1 {
		p.page = 1
	}
	return p.page
}

func (p *PageRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

func (p *PageRequest) GetOrders() []string {
	return p.orders
}

// NewPageRequest constructs a PageRequest with ordering settings.
func NewPageRequest(page int, pageSize int, orders ...string) *PageRequest {
	return &PageRequest{page: page, pageSize: pageSize, orders: orders}
}

// Order is one parsed ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// ParseOrder splits "column [ASC|DESC]". ok is false for anything else.
func ParseOrder(s string) (Order, bool) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return Order{Column: fields[0]}, true
	case 2:
		switch strings.ToUpper(fields[1]) {
		case "ASC":
			return Order{Column: fields[0]}, true
		case "DESC":
			return Order{Column: fields[0], Desc: true}, true
		}
	}
	return Order{}, false
}

// Pagination holds paged result items along with pagination metadata.
type Pagination[T any] struct {
	Page     int
	PageSize int
	Total    int
	Items    []*T
}

// NewDefaultPagination constructs an empty pagination container.
func NewDefaultPagination[T any](page int, pageSize int) *Pagination[T] {
	return &Pagination[T]{page, pageSize, 0, make([]*T, 0)}
}

// Pages returns the number of pages for Total.
func (p *Pagination[T]) Pages() int {
	if p.PageSize < 1 || p.Total == 0 {
		return 0
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}
