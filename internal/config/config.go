// Package config handles nx.toml tool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "nx.toml"

// Config represents an nx.toml configuration.
type Config struct {
	Log   Log   `toml:"log"`
	Lexer Lexer `toml:"lexer"`
	Run   Run   `toml:"run"`
	Cache Cache `toml:"cache"`

	// Dir is the directory containing the nx.toml file (set at load time).
	Dir string `toml:"-"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Lexer configures the scanner.
type Lexer struct {
	Strict bool `toml:"strict"`
}

// Run configures program execution.
type Run struct {
	Timeout   Duration `toml:"timeout"`
	MaxFrames int      `toml:"max-frames"`
}

// Cache configures the compiled bytecode cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Driver  string `toml:"driver"`
	DSN     string `toml:"dsn"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no nx.toml exists.
func Default() *Config {
	return &Config{
		Run: Run{MaxFrames: 10000},
		Cache: Cache{
			Driver: "sqlite",
			DSN:    filepath.Join(".nx", "cache.db"),
		},
	}
}

// Load parses the nx.toml file in dir on top of the defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// LoadFile parses an explicitly named configuration file.
func LoadFile(path string) (*Config, error) {
	if filepath.Base(path) == FileName {
		return Load(filepath.Dir(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c := Default()
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find an nx.toml file and loads it.
// Without one it returns Default() with Dir set to startDir.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	start := dir

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			c := Default()
			c.Dir = start
			return c, nil
		}
		dir = parent
	}
}

func (c *Config) validate() error {
	if c.Run.MaxFrames < 0 {
		return fmt.Errorf("run.max-frames must not be negative")
	}
	if c.Run.Timeout.Duration < 0 {
		return fmt.Errorf("run.timeout must not be negative")
	}
	switch c.Cache.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported cache driver %q", c.Cache.Driver)
	}
	return nil
}

// CachePath resolves a relative sqlite DSN against the config directory.
func (c *Config) CachePath() string {
	if c.Cache.Driver != "sqlite" || filepath.IsAbs(c.Cache.DSN) || c.Dir == "" {
		return c.Cache.DSN
	}
	return filepath.Join(c.Dir, c.Cache.DSN)
}
