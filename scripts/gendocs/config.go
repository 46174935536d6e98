package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/regexcorpus/internal/cli/config"
)

// ConfigField represents a configuration key.
type ConfigField struct {
	Name        string
	Type        string
	Default     string
	Description string
}

// configFields lists the keys of internal/cli/config.Config.
func configFields() []ConfigField {
	def := config.Default()
	return []ConfigField{
		{Name: "corpus", Type: "string", Default: def.CorpusPath, Description: "Corpus database path, relative to the config file"},
		{Name: "dfa_db", Type: "string", Default: def.DFAPath, Description: "DFA database path, relative to the config file"},
		{Name: "log_level", Type: "string", Default: def.LogLevel, Description: "Log level: " + strings.Join(config.LogLevels, ", ")},
		{Name: "log_format", Type: "string", Default: def.LogFormat, Description: "Log format: " + strings.Join(config.LogFormats, ", ")},
		{Name: "synchronous", Type: "string", Default: def.Synchronous, Description: "SQLite synchronous mode used for writes"},
		{Name: "output", Type: "string", Default: def.OutputFormat, Description: "Summary output format: " + strings.Join(config.OutputFormats, ", ")},
		{Name: "dfa.max_states", Type: "int", Default: fmt.Sprint(def.DFA.MaxStates), Description: "Per-pattern DFA state ceiling"},
		{Name: "dfa.workers", Type: "int", Default: fmt.Sprint(def.DFA.Workers), Description: "Parallel DFA compile workers"},
		{Name: "evaluate.cache_size", Type: "int", Default: fmt.Sprint(def.Evaluate.CacheSize), Description: "Automata kept in memory while evaluating"},
		{Name: "merge.version", Type: "string", Default: def.Merge.Version, Description: "Merge plan used by combine: v1 or v2"},
		{Name: "test_suites.metachar_only", Type: "bool", Default: fmt.Sprint(def.TestSuites.MetacharOnly), Description: "Only build test cases for patterns with metacharacters"},
	}
}

func envName(key string) string {
	return config.EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "__"))
}

// generateConfigDocs writes configuration.md.
func generateConfigDocs(outDir string) error {
	log.Printf("Generating config docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	w := NewMarkdownWriter()
	w.Frontmatter("Configuration", "regexcorpus configuration reference")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph("regexcorpus reads `regexcorpus.yaml` (or `.yml`) from the working directory, " +
		"or the file given with `--config`. `regexcorpus init --write-config` writes a starter file.")

	var rows [][]string
	for _, f := range configFields() {
		rows = append(rows, []string{InlineCode(f.Name), f.Type, InlineCode(f.Default), InlineCode(envName(f.Name)), f.Description})
	}
	w.Table([]string{"Key", "Type", "Default", "Environment", "Description"}, rows)

	w.Header(2, "Example")
	w.CodeBlock("yaml", `corpus: data/corpus.db
dfa_db: data/dfas.db
log_level: info
synchronous: NORMAL
dfa:
  max_states: 10000
  workers: 8
evaluate:
  cache_size: 4096
merge:
  version: v2
test_suites:
  metachar_only: true`)

	return os.WriteFile(filepath.Join(outDir, "configuration.md"), w.Bytes(), 0600)
}
