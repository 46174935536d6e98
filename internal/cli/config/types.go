// Package config provides configuration management for the regexcorpus CLI.
package config

// Config holds all CLI configuration options.
type Config struct {
	CorpusPath   string           `koanf:"corpus"`
	DFAPath      string           `koanf:"dfa_db"`
	LogLevel     string           `koanf:"log_level"`
	LogFormat    string           `koanf:"log_format"`
	Synchronous  string           `koanf:"synchronous"`
	OutputFormat string           `koanf:"output"`
	DFA          DFAConfig        `koanf:"dfa"`
	Evaluate     EvaluateConfig   `koanf:"evaluate"`
	Merge        MergeConfig      `koanf:"merge"`
	TestSuites   TestSuitesConfig `koanf:"test_suites"`
}

// DFAConfig holds settings for gen-dfas.
type DFAConfig struct {
	MaxStates int `koanf:"max_states"`
	Workers   int `koanf:"workers"`
}

// EvaluateConfig holds settings for evaluate.
type EvaluateConfig struct {
	CacheSize int `koanf:"cache_size"`
}

// MergeConfig holds settings for combine.
type MergeConfig struct {
	Version string `koanf:"version"`
}

// TestSuitesConfig holds settings for gen-test-suites.
type TestSuitesConfig struct {
	MetacharOnly bool `koanf:"metachar_only"`
}

// Default configuration values.
const (
	DefaultCorpusPath  = "corpus.db"
	DefaultDFAPath     = "dfas.db"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultSynchronous = "NORMAL"
	DefaultOutput      = "table"
	DefaultMaxStates   = 10000
	DefaultWorkers     = 1
	DefaultCacheSize   = 4096
	DefaultMergeVer    = "v2"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "REGEXCORPUS_"

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		CorpusPath:   DefaultCorpusPath,
		DFAPath:      DefaultDFAPath,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		Synchronous:  DefaultSynchronous,
		OutputFormat: DefaultOutput,
		DFA:          DFAConfig{MaxStates: DefaultMaxStates, Workers: DefaultWorkers},
		Evaluate:     EvaluateConfig{CacheSize: DefaultCacheSize},
		Merge:        MergeConfig{Version: DefaultMergeVer},
	}
}
