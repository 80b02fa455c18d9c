// Package config loads lexstore settings and builds the components they
// describe.
//
// Settings are merged from, in increasing priority:
//  1. Default values
//  2. A YAML file
//  3. Environment variables with the LEXSTORE_ prefix
//  4. Explicit overrides, e.g. from command line flags
//
// Environment variables separate nesting levels with a double underscore:
// LEXSTORE_CHECKPOINT__RATE_LIMIT sets checkpoint.rate_limit.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hupe1980/lexstore/journal"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "LEXSTORE_"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Checkpoint backends.
const (
	BackendNone  = "none"
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// Config is the complete lexstore configuration.
type Config struct {
	// Dir is the data directory. Empty keeps the journal in memory.
	Dir        string           `koanf:"dir"`
	Journal    JournalConfig    `koanf:"journal"`
	Store      StoreConfig      `koanf:"store"`
	Index      IndexConfig      `koanf:"index"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Log        LogConfig        `koanf:"log"`
}

type JournalConfig struct {
	// Path defaults to <dir>/journal.log.
	Path        string `koanf:"path"`
	Durability  string `koanf:"durability"`
	Compression string `koanf:"compression"`
}

type StoreConfig struct {
	Backend string       `koanf:"backend"`
	Badger  BadgerConfig `koanf:"badger"`
	SQLite  SQLiteConfig `koanf:"sqlite"`
}

type BadgerConfig struct {
	// Dir defaults to <dir>/badger.
	Dir            string        `koanf:"dir"`
	SyncWrites     bool          `koanf:"sync_writes"`
	GCInterval     time.Duration `koanf:"gc_interval"`
	GCThreshold    float64       `koanf:"gc_threshold"`
	BlockCacheSize int64         `koanf:"block_cache_size"`
}

type SQLiteConfig struct {
	// Path defaults to <dir>/store.db.
	Path string `koanf:"path"`
}

type IndexConfig struct {
	// ChunkSize is the maximum number of value bytes per journal record.
	// Zero uses the framer default.
	ChunkSize   int      `koanf:"chunk_size"`
	K1          float64  `koanf:"k1"`
	B           float64  `koanf:"b"`
	MaxSegments int      `koanf:"max_segments"`
	Entities    []string `koanf:"entities"`
	Fields      []string `koanf:"fields"`
}

type CheckpointConfig struct {
	Backend string `koanf:"backend"`
	// Dir is used by the local backend and defaults to <dir>/checkpoints.
	Dir       string `koanf:"dir"`
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Secure    bool   `koanf:"secure"`
	// RateLimit bounds checkpoint upload bandwidth in bytes per second.
	RateLimit int64 `koanf:"rate_limit"`
	Keep      int   `koanf:"keep"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the default configuration: everything in memory.
func Default() Config {
	return Config{
		Journal: JournalConfig{
			Durability:  journal.DurabilitySync.String(),
			Compression: journal.CompressionNone.String(),
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Badger: BadgerConfig{
				GCInterval:  10 * time.Minute,
				GCThreshold: 0.5,
			},
		},
		Index: IndexConfig{
			K1:          1.2,
			B:           0.75,
			MaxSegments: 8,
		},
		Checkpoint: CheckpointConfig{
			Backend: BackendNone,
			Keep:    2,
			Secure:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

type loader struct {
	envPrefix string
	filePath  string
	overrides map[string]any
}

// Option configures Load.
type Option func(*loader)

// WithFile loads settings from a YAML file.
func WithFile(path string) Option {
	return func(l *loader) { l.filePath = path }
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) { l.envPrefix = prefix }
}

// WithOverrides sets values by dotted key, e.g. "store.backend".
func WithOverrides(values map[string]any) Option {
	return func(l *loader) { l.overrides = values }
}

// Load merges all sources over Default and validates the result.
func Load(optFns ...Option) (*Config, error) {
	l := &loader{envPrefix: DefaultEnvPrefix}
	for _, fn := range optFns {
		fn(l)
	}

	k := koanf.New(".")
	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", l.filePath, err)
		}
	}

	prefix := l.envPrefix
	envTransformer := func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(prefix, ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if len(l.overrides) > 0 {
		if err := k.Load(mapProvider(l.overrides), nil); err != nil {
			return nil, fmt.Errorf("config: load overrides: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, err := journal.ParseDurability(c.Journal.Durability); err != nil {
		invalid("journal.durability: %v", err)
	}
	if _, err := journal.ParseCompression(c.Journal.Compression); err != nil {
		invalid("journal.compression: %v", err)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Dir == "" && c.Store.Badger.Dir == "" {
			invalid("store.backend %q needs dir or store.badger.dir", c.Store.Backend)
		}
	case BackendSQLite:
		if c.Dir == "" && c.Store.SQLite.Path == "" {
			invalid("store.backend %q needs dir or store.sqlite.path", c.Store.Backend)
		}
	default:
		invalid("unknown store.backend %q", c.Store.Backend)
	}

	if c.Index.ChunkSize < 0 {
		invalid("index.chunk_size must not be negative")
	}
	if c.Index.K1 < 0 || c.Index.B < 0 || c.Index.B > 1 {
		invalid("index.k1 must be >= 0 and index.b within [0, 1]")
	}

	switch c.Checkpoint.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Dir == "" && c.Checkpoint.Dir == "" {
			invalid("checkpoint.backend %q needs dir or checkpoint.dir", c.Checkpoint.Backend)
		}
	case BackendS3:
		if c.Checkpoint.Bucket == "" {
			invalid("checkpoint.backend %q needs checkpoint.bucket", c.Checkpoint.Backend)
		}
	case BackendMinio:
		if c.Checkpoint.Bucket == "" || c.Checkpoint.Endpoint == "" {
			invalid("checkpoint.backend %q needs checkpoint.bucket and checkpoint.endpoint", c.Checkpoint.Backend)
		}
	default:
		invalid("unknown checkpoint.backend %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.RateLimit < 0 {
		invalid("checkpoint.rate_limit must not be negative")
	}
	if c.Checkpoint.Keep < 0 {
		invalid("checkpoint.keep must not be negative")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		invalid("log.level: %v", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		invalid("unknown log.format %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// JournalPath returns the journal file, or "" for an in-memory journal.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, "journal.log")
}

func (c *Config) badgerDir() string {
	if c.Store.Badger.Dir != "" {
		return c.Store.Badger.Dir
	}
	return filepath.Join(c.Dir, "badger")
}

func (c *Config) sqlitePath() string {
	if c.Store.SQLite.Path != "" {
		return c.Store.SQLite.Path
	}
	return filepath.Join(c.Dir, "store.db")
}

func (c *Config) checkpointDir() string {
	if c.Checkpoint.Dir != "" {
		return c.Checkpoint.Dir
	}
	return filepath.Join(c.Dir, "checkpoints")
}

// mapProvider is a koanf provider over a map with dotted keys.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any)
	for key, v := range m {
		parts := strings.Split(key, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return out, nil
}
