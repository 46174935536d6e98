package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// configKey is used to store the loaded config in context.
type configKey struct{}

var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// configFileNames are searched in the working directory when --config is not given.
var configFileNames = []string{"regexcorpus.yaml", "regexcorpus.yml"}

// flagKeys maps flags whose names differ from their config keys.
var flagKeys = map[string]string{
	"dfas":          "dfa_db",
	"max_states":    "dfa.max_states",
	"workers":       "dfa.workers",
	"cache_size":    "evaluate.cache_size",
	"version":       "merge.version",
	"metachar_only": "test_suites.metachar_only",
}

// findConfigFile finds the config file to use.
// Priority: explicit path > regexcorpus.yaml > regexcorpus.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range configFileNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")
	def := Default()

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"corpus":                    def.CorpusPath,
		"dfa_db":                    def.DFAPath,
		"log_level":                 def.LogLevel,
		"log_format":                def.LogFormat,
		"synchronous":               def.Synchronous,
		"output":                    def.OutputFormat,
		"dfa.max_states":            def.DFA.MaxStates,
		"dfa.workers":               def.DFA.Workers,
		"evaluate.cache_size":       def.Evaluate.CacheSize,
		"merge.version":             def.Merge.Version,
		"test_suites.metachar_only": def.TestSuites.MetacharOnly,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Only flags the user set, and only those naming a config key.
	if flags != nil {
		cb := func(f *pflag.Flag) (string, interface{}) {
			key := flagKey(f.Name)
			if !f.Changed || !k.Exists(key) {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, cb), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if configFileUsed != "" {
		cfg.resolvePaths(filepath.Dir(configFileUsed), flags)
	}

	currentConfig = &cfg
	return &cfg, nil
}

// envKey maps REGEXCORPUS_DFA__MAX_STATES to dfa.max_states.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// flagKey maps a flag name to the config key it overrides.
func flagKey(name string) string {
	key := strings.ReplaceAll(name, "-", "_")
	if mapped, ok := flagKeys[key]; ok {
		return mapped
	}
	return key
}

// resolvePaths makes database paths taken from the config file relative to
// baseDir. Paths given by flag or environment are left alone.
func (c *Config) resolvePaths(baseDir string, flags *pflag.FlagSet) {
	for _, p := range []struct {
		flag, key string
		path      *string
	}{
		{"corpus", "corpus", &c.CorpusPath},
		{"dfas", "dfa_db", &c.DFAPath},
	} {
		if f := lookupFlag(flags, p.flag); f != nil && f.Changed {
			continue
		}
		if _, ok := os.LookupEnv(EnvPrefix + strings.ToUpper(p.key)); ok {
			continue
		}
		if *p.path != "" && *p.path != ":memory:" && !filepath.IsAbs(*p.path) {
			*p.path = filepath.Join(baseDir, *p.path)
		}
	}
}

func lookupFlag(flags *pflag.FlagSet, name string) *pflag.Flag {
	if flags == nil {
		return nil
	}
	return flags.Lookup(name)
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
// This is available after LoadConfig is called.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// ConfigKey returns the context key used for storing the loaded config.
func ConfigKey() interface{} {
	return configKey{}
}

// GetConfig retrieves the config from the command context, falling back to
// the last loaded config and then to defaults.
func GetConfig(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	if currentConfig != nil {
		return currentConfig
	}
	return Default()
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// NewLogger builds the process logger from the log settings.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
