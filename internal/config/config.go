// Package config loads the resolver's configuration from an optional
// YAML file, with command-line flags overriding file values and file
// values overriding built-in defaults.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the YAML configuration file shape.
type File struct {
	Listen         string   `yaml:"listen"`
	MetricsListen  string   `yaml:"metrics_listen"`
	RootHints      []string `yaml:"root_hints"`
	Workers        int      `yaml:"workers"`
	QueryTimeoutMs int      `yaml:"query_timeout_ms"`
	MaxIterations  int      `yaml:"max_iterations"`
	MaxDepth       int      `yaml:"max_depth"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Config is the fully resolved, effective configuration the server runs
// with, after flags have overridden file values which have overridden
// defaults.
type Config struct {
	Listen        string
	MetricsListen string
	RootHints     []string
	Workers       int
	QueryTimeout  time.Duration
	MaxIterations int
	MaxDepth      int
}

// Defaults returns the built-in configuration used when neither a config
// file nor flags supply a value.
func Defaults() Config {
	return Config{
		Listen:        ":2053",
		MetricsListen: ":9090",
		RootHints:     []string{"198.41.0.4"},
		Workers:       0, // 0 lets worker.NewPool pick runtime.NumCPU()*4
		QueryTimeout:  3 * time.Second,
		MaxIterations: 16,
		MaxDepth:      8,
	}
}

// Resolve merges an optional file and optional flag overrides onto the
// defaults, in that priority order (flags win, then file, then default).
// A flag override is only applied when its value differs from the
// flag's own zero value, matching cmd/dnsscience-grpc's
// "flags override config, then defaults" resolution order.
func Resolve(file *File, flags Overrides) Config {
	c := Defaults()

	if file != nil {
		if file.Listen != "" {
			c.Listen = file.Listen
		}
		if file.MetricsListen != "" {
			c.MetricsListen = file.MetricsListen
		}
		if len(file.RootHints) > 0 {
			c.RootHints = file.RootHints
		}
		if file.Workers > 0 {
			c.Workers = file.Workers
		}
		if file.QueryTimeoutMs > 0 {
			c.QueryTimeout = time.Duration(file.QueryTimeoutMs) * time.Millisecond
		}
		if file.MaxIterations > 0 {
			c.MaxIterations = file.MaxIterations
		}
		if file.MaxDepth > 0 {
			c.MaxDepth = file.MaxDepth
		}
	}

	if flags.Listen != "" {
		c.Listen = flags.Listen
	}
	if flags.MetricsListen != "" {
		c.MetricsListen = flags.MetricsListen
	}
	if flags.Workers > 0 {
		c.Workers = flags.Workers
	}
	if flags.QueryTimeout > 0 {
		c.QueryTimeout = flags.QueryTimeout
	}
	if flags.MaxIterations > 0 {
		c.MaxIterations = flags.MaxIterations
	}
	if flags.MaxDepth > 0 {
		c.MaxDepth = flags.MaxDepth
	}

	return c
}

// Overrides holds the subset of Config settable from the command line.
type Overrides struct {
	Listen        string
	MetricsListen string
	Workers       int
	QueryTimeout  time.Duration
	MaxIterations int
	MaxDepth      int
}
