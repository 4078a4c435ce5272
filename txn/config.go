package txn

import "fmt"

// Recovery policies for a shadow file found when a Coordinator opens.
const (
	RecoveryRollback = "rollback" // Restore the shadow: the interrupted transaction never happened.
	RecoveryKeep     = "keep"     // Leave the shadow in place and resume the transaction as open.
)

const defaultShadowSuffix = ".bak"

// Config holds transaction coordinator parameters.
type Config struct {
	ShadowSuffix string `json:"shadow_suffix,omitempty" env:"SHADOW_SUFFIX"`
	Recovery     string `json:"recovery,omitempty" env:"RECOVERY"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		ShadowSuffix: defaultShadowSuffix,
		Recovery:     RecoveryRollback,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.ShadowSuffix != "" {
		c.ShadowSuffix = source.ShadowSuffix
	}
	if source.Recovery != "" {
		c.Recovery = source.Recovery
	}
}

func (c *Config) validate() error {
	switch c.Recovery {
	case RecoveryRollback, RecoveryKeep:
	default:
		return fmt.Errorf("unknown recovery policy: %s", c.Recovery)
	}
	if c.ShadowSuffix == "" {
		return fmt.Errorf("shadow suffix is required")
	}
	return nil
}
