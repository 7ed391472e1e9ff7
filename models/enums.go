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

import "github.com/tomoncle/nestdb/types"

// PaymentMethod is stored by its name.
type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentSplit PaymentMethod = "split"
	PaymentBank  PaymentMethod = "bank"
)

var _ types.BaseEnum = PaymentCash

// PaymentMethods lists the known methods in declaration order.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{PaymentCash, PaymentCard, PaymentSplit, PaymentBank}
}

// ParsePaymentMethod matches name case-insensitively.
func ParsePaymentMethod(name string) (PaymentMethod, bool) {
	return types.ParseEnum(name, PaymentMethods())
}

func (p PaymentMethod) Number() int {
	for i, m := range PaymentMethods() {
		if m == p {
			return i
		}
	}
	return types.IllegalValue
}

func (p PaymentMethod) IsValid() bool { return p.Number() != types.IllegalValue }

func (p PaymentMethod) Name() string {
	if !p.IsValid() {
		return types.IllegalName
	}
	return string(p)
}

func (p PaymentMethod) String() string { return p.Name() }

func (p PaymentMethod) Desc() string {
	switch p {
	case PaymentCash:
		return "paid in cash"
	case PaymentCard:
		return "paid by card"
	case PaymentSplit:
		return "split between methods"
	case PaymentBank:
		return "bank transfer"
	}
	return types.IllegalDesc
}

// PlaceState is the visibility of a place.
type PlaceState string

const (
	PlaceActive   PlaceState = "active"
	PlaceDisabled PlaceState = "disabled"
	PlaceHidden   PlaceState = "hidden"
)
