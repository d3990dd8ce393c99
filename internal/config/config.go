// Package config carries the volume geometry and tool configuration,
// loadable from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Geometry fixes the physical layout parameters handed to the storage
// engine and the adapter's descriptor table dimensions. All sizes are in
// bytes; geometry is immutable for the lifetime of a mount.
type Geometry struct {
	ReadSize      uint32 `yaml:"read_size"`
	ProgSize      uint32 `yaml:"prog_size"`
	BlockSize     uint32 `yaml:"block_size"`
	BlockCycles   uint32 `yaml:"block_cycles"`
	CacheSize     uint32 `yaml:"cache_size"`
	LookaheadSize uint32 `yaml:"lookahead_size"`

	// MaxFileDescs is the fixed descriptor table capacity; HandleBase
	// offsets handle values so they can be range-checked.
	MaxFileDescs int `yaml:"max_file_descs"`
	HandleBase   int `yaml:"handle_base"`
}

// Configuration is the full application configuration for the tools.
type Configuration struct {
	Geometry Geometry `yaml:"geometry"`
	Metrics  Metrics  `yaml:"metrics"`
	Cache    Cache    `yaml:"cache"`
}

// Metrics configures the optional prometheus exposition endpoint.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// Cache configures the host-side erase-block read cache placed in front
// of the partition. It only pays off on file-backed images.
type Cache struct {
	Enabled   bool `yaml:"enabled"`
	MaxBlocks int  `yaml:"max_blocks"`
}

// DefaultGeometry matches the reference flash configuration: 4 KiB
// erase blocks, 16-byte read/program granularity.
func DefaultGeometry() Geometry {
	return Geometry{
		ReadSize:      16,
		ProgSize:      16,
		BlockSize:     4096,
		BlockCycles:   500,
		CacheSize:     32,
		LookaheadSize: 16,
		MaxFileDescs:  5,
		HandleBase:    200,
	}
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Geometry: DefaultGeometry(),
		Metrics: Metrics{
			Enabled:   false,
			Listen:    ":9090",
			Namespace: "flashfs",
		},
		Cache: Cache{
			Enabled:   false,
			MaxBlocks: 64,
		},
	}
}

// LoadFromFile merges settings from a YAML file over the receiver.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv merges settings from FLASHFS_* environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("FLASHFS_BLOCK_SIZE"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 32); err == nil {
			c.Geometry.BlockSize = uint32(n)
		}
	}
	if val := os.Getenv("FLASHFS_CACHE_SIZE"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 32); err == nil {
			c.Geometry.CacheSize = uint32(n)
		}
	}
	if val := os.Getenv("FLASHFS_MAX_FILE_DESCS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Geometry.MaxFileDescs = n
		}
	}
	if val := os.Getenv("FLASHFS_METRICS_LISTEN"); val != "" {
		c.Metrics.Enabled = true
		c.Metrics.Listen = val
	}
	if val := os.Getenv("FLASHFS_CACHE_BLOCKS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.Enabled = n > 0
			c.Cache.MaxBlocks = n
		}
	}
	return nil
}

// SaveToFile writes the configuration as YAML.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks geometry invariants.
func (c *Configuration) Validate() error {
	g := c.Geometry
	if g.BlockSize == 0 || g.ReadSize == 0 || g.ProgSize == 0 {
		return fmt.Errorf("block_size, read_size and prog_size must be non-zero")
	}
	if g.BlockSize%g.ReadSize != 0 || g.BlockSize%g.ProgSize != 0 {
		return fmt.Errorf("block_size must be a multiple of read_size and prog_size")
	}
	if g.CacheSize == 0 || g.BlockSize%g.CacheSize != 0 {
		return fmt.Errorf("cache_size must be non-zero and divide block_size")
	}
	if g.MaxFileDescs <= 0 {
		return fmt.Errorf("max_file_descs must be greater than 0")
	}
	if g.HandleBase < 0 {
		return fmt.Errorf("handle_base must not be negative")
	}
	if c.Cache.Enabled && c.Cache.MaxBlocks <= 0 {
		return fmt.Errorf("cache max_blocks must be greater than 0 when enabled")
	}
	return nil
}
