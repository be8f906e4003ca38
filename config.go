package goprov

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/goprov/span"
)

// Config holds all configuration for the goprov engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.goprov/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "goprov".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.goprov/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`

	// Resolution tunes span resolution; zero fields take span defaults.
	Resolution span.Options `json:"resolution" yaml:"resolution"`

	// Concurrency bounds parallel resolution of the triples of one chunk.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// SegmentCacheTTLSeconds is how long segmented chunks are kept in
	// memory, keyed by chunk content hash. Zero disables expiry.
	SegmentCacheTTLSeconds int `json:"segment_cache_ttl_seconds" yaml:"segment_cache_ttl_seconds"`
}

// DefaultConfig returns a Config with sensible defaults.
// Database is stored in ~/.goprov/goprov.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:                 "goprov",
		StorageDir:             "home",
		MaxChunkTokens:         512,
		Resolution:             span.DefaultOptions(),
		Concurrency:            4,
		SegmentCacheTTLSeconds: 600,
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON (.json) file on top of
// DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%w: unknown config extension %q", ErrInvalidConfig, ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch c.StorageDir {
	case "", "home", "local", "cwd":
	default:
		return fmt.Errorf("%w: storage_dir %q", ErrInvalidConfig, c.StorageDir)
	}
	if c.MaxChunkTokens < 0 {
		return fmt.Errorf("%w: max_chunk_tokens must not be negative", ErrInvalidConfig)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", ErrInvalidConfig)
	}
	if c.SegmentCacheTTLSeconds < 0 {
		return fmt.Errorf("%w: segment_cache_ttl_seconds must not be negative", ErrInvalidConfig)
	}
	r := c.Resolution
	if r.MaxSentenceDistance < 0 || r.WindowSize < 0 || r.RelaxedWindow < 0 {
		return fmt.Errorf("%w: resolution distances must not be negative", ErrInvalidConfig)
	}
	for name, v := range map[string]float64{
		"single_sentence_confidence": r.SingleSentenceConfidence,
		"multi_sentence_confidence":  r.MultiSentenceConfidence,
		"cross_chunk_confidence":     r.CrossChunkConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1]", ErrInvalidConfig, name)
		}
	}
	return nil
}

// segmentCacheTTL converts the configured TTL, where zero means no expiry.
func (c *Config) segmentCacheTTL() time.Duration {
	if c.SegmentCacheTTLSeconds <= 0 {
		return -1
	}
	return time.Duration(c.SegmentCacheTTLSeconds) * time.Second
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "goprov"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".goprov", name+".db")
	}
}
