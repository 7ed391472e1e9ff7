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
	"sort"
	"sync"

	"github.com/tomoncle/nestdb/database"
	"github.com/tomoncle/nestdb/metadata"
)

// Factory builds the node that persists one record type.
type Factory func(env Env) (Node, error)

// Registry maps record type names to the factories of their repositories.
// It is filled at startup and only read afterwards.
type Registry struct {
	factories map[string]Factory
	mutex     sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name. Registering a name twice is a
// ConfigurationError.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return database.NewConfigurationError("registry: empty name or nil factory")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.factories[name]; ok {
		return database.NewConfigurationError("registry: %q is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Resolve returns the factory registered under name.
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, database.NewConfigurationError("registry: no repository registered for %q", name)
	}
	return f, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register registers the generic repository of T under its type name.
func Register[T any](reg *Registry) error {
	m, err := metadata.Of[T]()
	if err != nil {
		return err
	}
	return reg.Register(m.Name, func(env Env) (Node, error) {
		t, err := NewTable[T](env)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}

// MustRegister is Register for package-level wiring.
func MustRegister[T any](reg *Registry) {
	if err := Register[T](reg); err != nil {
		panic(err)
	}
}
