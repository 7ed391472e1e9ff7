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

// Package models holds the bill and merchant records persisted by nestdb.
package models

import "github.com/tomoncle/nestdb/repository"

// Register adds every record type of this package to reg.
func Register(reg *repository.Registry) error {
	for _, register := range []func(*repository.Registry) error{
		repository.Register[Person],
		repository.Register[Tax],
		repository.Register[Payment],
		repository.Register[OrderProvider],
		repository.Register[FiscalData],
		repository.Register[InvoiceData],
		repository.Register[Item],
		repository.Register[Bill],
		repository.Register[AddressParts],
		repository.Register[Place],
		repository.Register[Merchant],
	} {
		if err := register(reg); err != nil {
			return err
		}
	}
	return nil
}
