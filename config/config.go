package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManifestConfig holds manifest-specific configurations.
type ManifestConfig struct {
	// Fanout is the per-level multiplier controlling capacity growth and
	// compaction grouping width.
	Fanout int `yaml:"fanout"`
	// MaxLevels bounds the number of levels the manifest will populate.
	MaxLevels int `yaml:"max_levels"`
	// MaxRootRetries caps how many times a read resolution is retried
	// against a freshly fetched root before giving up.
	MaxRootRetries int `yaml:"max_root_retries"`
	// MaxBatchItems bounds a single resolution's output batch; a full
	// batch is the downstream backpressure signal.
	MaxBatchItems int `yaml:"max_batch_items"`
}

// CacheConfig holds item-cache-specific configurations.
type CacheConfig struct {
	CapacityItems int `yaml:"capacity_items"`
}

// SegmentStoreConfig holds segment-store-specific configurations.
type SegmentStoreConfig struct {
	Compression string `yaml:"compression"` // "snappy" or "none"
}

// Config holds all configuration, grouped logically.
type Config struct {
	Manifest     ManifestConfig     `yaml:"manifest"`
	Cache        CacheConfig        `yaml:"cache"`
	SegmentStore SegmentStoreConfig `yaml:"segment_store"`
}

// DefaultConfig returns a Config populated with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Manifest: ManifestConfig{
			Fanout:         10,
			MaxLevels:      8,
			MaxRootRetries: 8,
			MaxBatchItems:  4096,
		},
		Cache: CacheConfig{
			CapacityItems: 1 << 16,
		},
		SegmentStore: SegmentStoreConfig{
			Compression: "snappy",
		},
	}
}

// Load reads a YAML config file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the core cannot run with.
func (c *Config) Validate() error {
	if c.Manifest.Fanout < 2 {
		return fmt.Errorf("manifest.fanout must be at least 2, got %d", c.Manifest.Fanout)
	}
	if c.Manifest.MaxLevels < 2 || c.Manifest.MaxLevels > 255 {
		return fmt.Errorf("manifest.max_levels must be in [2,255], got %d", c.Manifest.MaxLevels)
	}
	if c.Manifest.MaxRootRetries < 1 {
		return fmt.Errorf("manifest.max_root_retries must be positive, got %d", c.Manifest.MaxRootRetries)
	}
	if c.Manifest.MaxBatchItems < 1 {
		return fmt.Errorf("manifest.max_batch_items must be positive, got %d", c.Manifest.MaxBatchItems)
	}
	if c.Cache.CapacityItems < 0 {
		return fmt.Errorf("cache.capacity_items must not be negative, got %d", c.Cache.CapacityItems)
	}
	switch c.SegmentStore.Compression {
	case "snappy", "none":
	default:
		return fmt.Errorf("segment_store.compression must be \"snappy\" or \"none\", got %q", c.SegmentStore.Compression)
	}
	return nil
}
