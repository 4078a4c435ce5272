package cache

// DefaultFlushThreshold is the number of buffered writes that triggers an
// automatic flush.
const DefaultFlushThreshold = 1000

// Config holds caching decorator parameters.
type Config struct {
	Enabled        bool `json:"enabled,omitempty" env:"ENABLED"`
	FlushThreshold int  `json:"flush_threshold,omitempty" env:"FLUSH_THRESHOLD"`
}

// DefaultConfig returns the default cache configuration (disabled, flushing
// every DefaultFlushThreshold writes once enabled).
func DefaultConfig() Config {
	return Config{FlushThreshold: DefaultFlushThreshold}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Enabled {
		c.Enabled = true
	}
	if source.FlushThreshold > 0 {
		c.FlushThreshold = source.FlushThreshold
	}
}
