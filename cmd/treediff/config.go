// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sam-fredrickson/reconcile"
	"github.com/sam-fredrickson/reconcile/internal/logger"
)

// Config holds the treediff settings. Values come from flags, TREEDIFF_*
// environment variables, an optional config file, then the defaults below.
type Config struct {
	// Key names the field matching array elements.
	Key string `mapstructure:"key" default:"id"`
	// Unkeyed patches every array by position.
	Unkeyed bool `mapstructure:"unkeyed" default:"false"`
	// Merge requires the first element of an array to carry the key.
	Merge bool `mapstructure:"merge" default:"false"`
	// Reserved lists object keys that are never written.
	Reserved []string `mapstructure:"reserved" default:""`
	// Format is the output format; empty means the input's format.
	Format string `mapstructure:"format" default:""`
	// Log configures the logger.
	Log logger.Config `mapstructure:"log"`
}

// loadConfig reads the configuration into v, which may already have flags
// bound, from the environment and the optional file at path.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	// Ignore error if file doesn't exist
	_ = godotenv.Load(".env")

	bindValues(v, Config{}, "")

	v.SetEnvPrefix("TREEDIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// bindValues sets viper defaults from the 'default' and 'mapstructure'
// tags of a struct, recursing into nested structs.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		// Always set default (even if empty) to register the key for AutomaticEnv
		v.SetDefault(key, field.Tag.Get("default"))
	}
}

// options converts the configuration into reconciliation options.
func (c *Config) options(log *zap.Logger) reconcile.Options {
	opts := reconcile.Options{
		Key:          c.Key,
		Unkeyed:      c.Unkeyed,
		Merge:        c.Merge,
		ReservedKeys: c.Reserved,
		Logger:       log,
	}
	if opts.Unkeyed {
		opts.Key = ""
	}
	return opts
}
