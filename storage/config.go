package storage

import "fmt"

// Backend names recognised by New.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendRemote = "remote"
)

// Config holds storage initialization parameters.
type Config struct {
	Backend string `json:"backend,omitempty" env:"BACKEND"` // file (default), memory, bolt, sqlite, remote.
	Path    string `json:"path,omitempty" env:"PATH"`       // Target file, database file, or remote base URL.
	Format  string `json:"format,omitempty" env:"FORMAT"`   // File encoding: json (default) or proto.
}

// DefaultConfig returns the default storage configuration: a JSON file
// backend with no path set.
func DefaultConfig() Config {
	return Config{
		Backend: BackendFile,
		Format:  FormatJSON,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Backend != "" {
		c.Backend = source.Backend
	}
	if source.Path != "" {
		c.Path = source.Path
	}
	if source.Format != "" {
		c.Format = source.Format
	}
}

// New creates a Storage from configuration. The remote backend lives outside
// this package and is rejected here.
func New(cfg *Config) (Storage, error) {
	switch cfg.Backend {
	case "", BackendFile:
		codec, err := CodecFor(cfg.Format)
		if err != nil {
			return nil, err
		}
		return OpenFile(cfg.Path, codec)
	case BackendMemory:
		return NewMemory(), nil
	case BackendBolt:
		return OpenBolt(cfg.Path)
	case BackendSQLite:
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
