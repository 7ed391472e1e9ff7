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

import "github.com/uptrace/bun"

// AddressParts shares its key with the place it belongs to.
type AddressParts struct {
	bun.BaseModel `bun:"table:address_parts"`

	PlaceID      string   `bun:"place_id,pk" json:"placeId"`
	Street       *string  `bun:"street" json:"street"`
	StreetNumber *string  `bun:"street_number" json:"streetNumber"`
	City         *string  `bun:"city" json:"city"`
	Country      *string  `bun:"country" json:"country"`
	CountryCode  *string  `bun:"country_code" json:"countryCode"`
	Zip          *string  `bun:"zip" json:"zip"`
	Latitude     *float64 `bun:"latitude" json:"latitude"`
	Longitude    *float64 `bun:"longitude" json:"longitude"`
}

type Place struct {
	bun.BaseModel `bun:"table:places"`

	PlaceID    string     `bun:"place_id,pk" json:"placeId"`
	MerchantID string     `bun:"merchant_id" json:"merchantId"`
	Name       string     `bun:"name" json:"name"`
	State      PlaceState `bun:"state" json:"state"`

	AddressParts *AddressParts `bun:"-" rel:"has_one,foreign_key:place_id" json:"addressParts"`
}

type Merchant struct {
	bun.BaseModel `bun:"table:merchants"`

	MerchantID   string  `bun:"merchant_id,pk" json:"merchantId"`
	ClientID     *string `bun:"client_id" json:"clientId"`
	Name         *string `bun:"name" json:"name"`
	BusinessID   string  `bun:"business_id" json:"businessId"`
	VatID        string  `bun:"vat_id" json:"vatId"`
	IsVatPayer   bool    `bun:"is_vat_payer" json:"isVatPayer"`
	CountryCode  string  `bun:"country_code" json:"countryCode"`
	CurrencyCode string  `bun:"currency_code" json:"currencyCode"`

	Places []*Place `bun:"-" rel:"has_many,foreign_key:merchant_id" json:"places"`
}
