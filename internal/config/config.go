package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Default output sink used when the config lists none.
const DefaultOutput = "flex"

// Config is the static run configuration loaded from the -config JSON file.
// Table definitions stay as raw Values; the schema compiler turns them into
// table schemas after the database capabilities are known.
type Config struct {
	// Conninfo is the PostgreSQL connection string handed to the pool.
	Conninfo string `json:"conninfo"`

	// Append selects update mode: existing rows are modified in place
	// instead of the import starting from empty tables.
	Append bool `json:"append"`

	// Updatable keeps tables ready for later append runs: id indexes are
	// built even when this run itself does not update anything. Append
	// mode implies it.
	Updatable bool `json:"updatable"`

	// ExtraAttributes keeps object version/timestamp/changeset attributes
	// on entities as they flow through the pipeline.
	ExtraAttributes bool `json:"extra_attributes"`

	Middle  Middle   `json:"middle"`
	Outputs []string `json:"outputs"`
	Tables  []Value  `json:"tables"`
}

// Middle configures the persistent object cache between parser and outputs.
type Middle struct {
	// Kind selects the backend: "ram" | "sqlite"
	Kind string `json:"kind"`

	// Path is the SQLite database file. ":memory:" is accepted for
	// throwaway runs; ignored by the ram backend.
	Path string `json:"path"`
}

// Load reads and validates a run configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Middle.Kind == "" {
		c.Middle.Kind = "ram"
	}
	if len(c.Outputs) == 0 {
		c.Outputs = []string{DefaultOutput}
	}
}

// Validate checks the static parts of the config. Table definitions are not
// checked here; the schema compiler owns their rules.
func (c *Config) Validate() error {
	switch c.Middle.Kind {
	case "ram":
	case "sqlite":
		if c.Middle.Path == "" {
			return fmt.Errorf("config: middle kind %q requires a path", c.Middle.Kind)
		}
	default:
		return fmt.Errorf("config: unknown middle kind %q (use \"ram\" or \"sqlite\")", c.Middle.Kind)
	}
	seen := make(map[string]bool, len(c.Outputs))
	for _, name := range c.Outputs {
		if name == "" {
			return fmt.Errorf("config: empty output name")
		}
		if seen[name] {
			return fmt.Errorf("config: output %q listed twice", name)
		}
		seen[name] = true
	}
	return nil
}
