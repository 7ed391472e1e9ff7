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
	"time"

	"github.com/tomoncle/nestdb/types"
	"github.com/uptrace/bun"
)

type Person struct {
	bun.BaseModel `bun:"table:person"`

	PersonID int64  `bun:"person_id,pk" json:"personId"`
	FullName string `bun:"full_name" json:"fullName"`
	UserName string `bun:"user_name" json:"userName"`
}

type Tax struct {
	bun.BaseModel `bun:"table:taxes"`

	Pid             int64    `bun:"pid,pk,autoincrement" json:"-"`
	BillID          string   `bun:"bill_id" json:"billId"`
	Vat             *float64 `bun:"vat" json:"vat"`
	TotalVat        *float64 `bun:"total_vat" json:"totalVat"`
	TotalWithoutVat *float64 `bun:"total_without_vat" json:"totalWithoutVat"`
}

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	Pid           int64         `bun:"pid,pk,autoincrement" json:"-"`
	BillID        string        `bun:"bill_id" json:"billId"`
	PaymentMethod PaymentMethod `bun:"payment_method" json:"paymentMethod"`
	PriceWithVat  float64       `bun:"price_with_vat" json:"priceWithVat"`
}

type OrderProvider struct {
	bun.BaseModel `bun:"table:order_provider"`

	Pid     int64   `bun:"pid,pk,autoincrement" json:"-"`
	BillID  string  `bun:"bill_id" json:"billId"`
	Code    string  `bun:"code" json:"code"`
	OrderID *string `bun:"order_id" json:"orderId"`
}

// FiscalData is the receipt registration returned by the fiscal authority.
type FiscalData struct {
	bun.BaseModel `bun:"table:fiscal_data"`

	Pid            int64   `bun:"pid,pk,autoincrement" json:"-"`
	BillID         string  `bun:"bill_id" json:"billId"`
	Mode           *string `bun:"mode" json:"mode"`
	Endpoint       string  `bun:"endpoint" json:"endpoint"`
	Fik            string  `bun:"fik" json:"fik"`
	Pkp            string  `bun:"pkp" json:"pkp"`
	Bkp            string  `bun:"bkp" json:"bkp"`
	HTTPStatusCode *string `bun:"http_status_code" json:"httpStatusCode"`
}

type InvoiceData struct {
	bun.BaseModel `bun:"table:invoice_data"`

	Pid    int64            `bun:"pid,pk,autoincrement" json:"-"`
	BillID string           `bun:"bill_id" json:"billId"`
	Data   types.JsonObject `bun:"data" json:"data"`
}

type Item struct {
	bun.BaseModel `bun:"table:items"`

	Pid                  int64   `bun:"pid,pk,autoincrement" json:"-"`
	BillID               string  `bun:"bill_id" json:"billId"`
	Name                 string  `bun:"name" json:"name"`
	Amount               float64 `bun:"amount" json:"amount"`
	Measure              string  `bun:"measure" json:"measure"`
	Price                float64 `bun:"price" json:"price"`
	VatRate              float64 `bun:"vat_rate" json:"vatRate"`
	ProductID            string  `bun:"product_id" json:"productId"`
	DecodedID            int64   `bun:"decoded_id" json:"decodedId"`
	CategoryID           *string `bun:"category_id" json:"categoryId"`
	HasAdditionsWithCode *string `bun:"has_additions_with_code" json:"hasAdditionsWithCode"`
	AdditionsCode        *string `bun:"additions_code" json:"additionsCode"`
	Ean                  *string `bun:"ean" json:"ean"`
}

// Bill is a closed order of a place. The people who created and paid it are
// stored once in person and referenced by key; every other part of the bill
// lives in its own table keyed by bill_id.
type Bill struct {
	bun.BaseModel `bun:"table:bills"`

	BillID               string           `bun:"bill_id,pk" json:"billId"`
	PlaceID              *string          `bun:"place_id" json:"placeId"`
	SessionCreated       *time.Time       `bun:"session_created" json:"sessionCreated"`
	CreatedAt            *time.Time       `bun:"created_at" json:"createdAt"`
	PaidAt               *time.Time       `bun:"paid_at" json:"paidAt"`
	FiscalizedAt         *time.Time       `bun:"fiscalized_at" json:"fiscalizedAt"`
	FinalPrice           float64          `bun:"final_price" json:"finalPrice"`
	FinalPriceWithoutTax float64          `bun:"final_price_without_tax" json:"finalPriceWithoutTax"`
	TaxSummaries         types.JsonObject `bun:"tax_summaries" json:"taxSummaries"`
	Discount             float64          `bun:"discount" json:"discount"`
	Rounding             float64          `bun:"rounding" json:"rounding"`
	Tips                 float64          `bun:"tips" json:"tips"`
	CurrencyCode         string           `bun:"currency_code" json:"currencyCode"`
	Refunded             *bool            `bun:"refunded" json:"refunded"`
	PaymentMethod        PaymentMethod    `bun:"payment_method" json:"paymentMethod"`
	CreatedByID          *int64           `bun:"created_by" json:"-"`
	PaidByID             *int64           `bun:"paid_by" json:"-"`
	PersonCount          int              `bun:"person_count" json:"personCount"`
	DeskID               *string          `bun:"desk_id" json:"deskId"`
	IssuedAsVatPayer     bool             `bun:"issued_as_vat_payer" json:"issuedAsVatPayer"`
	CustomerID           *string          `bun:"customer_id" json:"customerId"`
	LastModifiedAt       *time.Time       `bun:"last_modified_at" json:"lastModifiedAt"`

	CreatedBy     *Person          `bun:"-" rel:"belongs_to,primary_key:person_id,column:created_by" json:"createdBy"`
	PaidBy        *Person          `bun:"-" rel:"belongs_to,primary_key:person_id,column:paid_by" json:"paidBy"`
	Taxes         []*Tax           `bun:"-" rel:"has_many,foreign_key:bill_id" json:"taxes"`
	Payments      []*Payment       `bun:"-" rel:"has_many,foreign_key:bill_id" json:"payments"`
	FiscalData    []*FiscalData    `bun:"-" rel:"has_many,foreign_key:bill_id" json:"fiscalData"`
	InvoiceData   []*InvoiceData   `bun:"-" rel:"has_many,foreign_key:bill_id" json:"invoiceData"`
	OrderProvider []*OrderProvider `bun:"-" rel:"has_many,foreign_key:bill_id" json:"orderProvider"`
	Items         []*Item          `bun:"-" rel:"has_many,foreign_key:bill_id" json:"items"`
}
