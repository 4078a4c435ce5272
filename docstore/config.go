package docstore

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/tailored-agentic-units/docstore/cache"
	"github.com/tailored-agentic-units/docstore/storage"
	"github.com/tailored-agentic-units/docstore/txn"
)

// EnvPrefix prefixes every environment variable read by ParseEnv.
const EnvPrefix = "DOCSTORE_"

const (
	defaultTable = "_default"
	defaultPath  = "db.json"
)

// Config holds initialization parameters for a DB and the storage stack
// beneath it. Each section delegates to that subsystem's config-driven
// constructor.
type Config struct {
	Storage      storage.Config `json:"storage" envPrefix:"STORAGE_"`
	Transaction  txn.Config     `json:"transaction" envPrefix:"TXN_"`
	Cache        cache.Config   `json:"cache" envPrefix:"CACHE_"`
	DefaultTable string         `json:"default_table,omitempty" env:"DEFAULT_TABLE"`
	Trace        bool           `json:"trace,omitempty" env:"TRACE"` // Emit an event for every storage operation.
	Observer     string         `json:"observer,omitempty" env:"OBSERVER"` // slog (default) or noop.
}

// DefaultConfig returns a Config for a JSON file named db.json in the working
// directory, with transactions and without caching.
func DefaultConfig() Config {
	st := storage.DefaultConfig()
	st.Path = defaultPath

	return Config{
		Storage:      st,
		Transaction:  txn.DefaultConfig(),
		Cache:        cache.DefaultConfig(),
		DefaultTable: defaultTable,
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Storage.Merge(&source.Storage)
	c.Transaction.Merge(&source.Transaction)
	c.Cache.Merge(&source.Cache)

	if source.DefaultTable != "" {
		c.DefaultTable = source.DefaultTable
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.Trace {
		c.Trace = true
	}
}

// ParseEnv overlays DOCSTORE_* environment variables onto c. Variables that
// are not set leave the corresponding field unchanged.
//
//	DOCSTORE_STORAGE_BACKEND=sqlite
//	DOCSTORE_STORAGE_PATH=/var/lib/app/docs.db
//	DOCSTORE_CACHE_ENABLED=true
func (c *Config) ParseEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
