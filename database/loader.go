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

package database

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "NESTDB_"

// LoadConfig builds a Config from defaults, an optional YAML file and
// environment overrides, then validates it.
//
// Environment keys map to config paths by dropping the prefix, lowercasing
// and turning "__" into a path separator:
//
//	NESTDB_CONNECTION__HOST=db.internal -> connection.host
//	NESTDB_REPOSITORY__NAMESPACE=sales  -> repository.namespace
func LoadConfig(path string, envPrefix string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, NewConfigurationError("failed to parse config file %s: %v", path, err)
		}
	}

	if envPrefix == "" {
		envPrefix = DefaultEnvPrefix
	}
	k := koanf.New(".")
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	if len(k.Keys()) > 0 {
		if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return nil, NewConfigurationError("invalid environment override: %v", err)
		}
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig checks the validate tags of cfg.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return NewConfigurationError("database configuration cannot be empty")
	}
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return NewConfigurationError("invalid config: %s", strings.Join(fields, ", "))
		}
		return NewConfigurationError("invalid config: %v", err)
	}
	return nil
}
