package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/regexcorpus/internal/corpus"
	"github.com/leapstack-labs/regexcorpus/internal/merge"
)

// Accepted values for the enumerated settings.
var (
	LogLevels     = []string{"debug", "info", "warn", "error"}
	LogFormats    = []string{"text", "json"}
	OutputFormats = []string{"table", "json", "csv", "md"}
)

// normalize canonicalizes the case of enumerated values.
func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)
	c.Synchronous = strings.ToUpper(c.Synchronous)
	c.OutputFormat = strings.ToLower(c.OutputFormat)
	if c.OutputFormat == "markdown" {
		c.OutputFormat = "md"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.CorpusPath == "" {
		return fmt.Errorf("corpus is required")
	}
	if err := oneOf("log_level", c.LogLevel, LogLevels); err != nil {
		return err
	}
	if err := oneOf("log_format", c.LogFormat, LogFormats); err != nil {
		return err
	}
	if err := oneOf("synchronous", c.Synchronous, corpus.SynchronousModes); err != nil {
		return err
	}
	if err := oneOf("output", c.OutputFormat, OutputFormats); err != nil {
		return err
	}
	if _, err := merge.ParseVersion(c.Merge.Version); err != nil {
		return fmt.Errorf("merge.version: %w", err)
	}
	if c.DFA.MaxStates < 0 {
		return fmt.Errorf("dfa.max_states must not be negative, got %d", c.DFA.MaxStates)
	}
	if c.DFA.Workers < 0 {
		return fmt.Errorf("dfa.workers must not be negative, got %d", c.DFA.Workers)
	}
	if c.Evaluate.CacheSize < 0 {
		return fmt.Errorf("evaluate.cache_size must not be negative, got %d", c.Evaluate.CacheSize)
	}
	return nil
}

func oneOf(key, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("invalid %s %q (want one of %s)", key, value, strings.Join(allowed, ", "))
}
