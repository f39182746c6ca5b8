// Package config loads and validates stepgate configuration.
//
// Precedence, lowest to highest: built-in defaults, user config
// (~/.stepgate/config.toml), project config (.stepgate/config.toml),
// STEPGATE_* environment variables, command-line flag overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/stepgate/stepgate/internal/risk"
)

// Config is the full configuration tree.
type Config struct {
	Gate      GateConfig      `mapstructure:"gate"`
	Mock      MockConfig      `mapstructure:"mock"`
	Detection DetectionConfig `mapstructure:"detection"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	History   HistoryConfig   `mapstructure:"history"`
}

// GateConfig controls the verification gate itself.
type GateConfig struct {
	// Enabled turns step-up verification on. Disabled means every command
	// runs without a challenge.
	Enabled bool `mapstructure:"enabled"`
	// TimeoutSecs is the verification window in seconds.
	TimeoutSecs int `mapstructure:"timeout_seconds"`
	// BaseURL is the verification service base for challenge URLs.
	BaseURL string `mapstructure:"base_url"`
	// CodeLength is the generated one-time code length.
	CodeLength int `mapstructure:"code_length"`
}

// MockConfig short-circuits code generation for local development.
type MockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Code    string `mapstructure:"code"`
}

// DetectionConfig controls risk classification.
type DetectionConfig struct {
	Enabled          bool                 `mapstructure:"enabled"`
	DisabledPatterns []string             `mapstructure:"disabled_patterns"`
	CustomPatterns   []risk.CustomPattern `mapstructure:"custom_patterns"`
}

// RiskConfig converts the detection section to the classifier's config.
func (d DetectionConfig) RiskConfig() risk.Config {
	return risk.Config{
		Enabled:          d.Enabled,
		DisabledPatterns: d.DisabledPatterns,
		CustomPatterns:   d.CustomPatterns,
	}
}

// DaemonConfig controls the IPC daemon.
type DaemonConfig struct {
	// Socket is the unix socket path. Empty means a per-project default.
	Socket   string `mapstructure:"socket"`
	LogLevel string `mapstructure:"log_level"`
}

// HistoryConfig controls the resolution audit store.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DatabasePath  string `mapstructure:"database_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	// Defaults are static and well-typed; Unmarshal cannot fail here.
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gate.enabled", true)
	v.SetDefault("gate.timeout_seconds", 300)
	v.SetDefault("gate.base_url", "")
	v.SetDefault("gate.code_length", 6)

	v.SetDefault("mock.enabled", false)
	v.SetDefault("mock.url", "")
	v.SetDefault("mock.code", "")

	v.SetDefault("detection.enabled", true)
	v.SetDefault("detection.disabled_patterns", []string{})

	v.SetDefault("daemon.socket", "")
	v.SetDefault("daemon.log_level", "info")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.database_path", defaultHistoryPath())
	v.SetDefault("history.retention_days", 30)
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".stepgate", "history.db")
	}
	return filepath.Join(home, ".stepgate", "history.db")
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ProjectDir is the project root. Empty means the current directory.
	ProjectDir string
	// UserConfigPath overrides ~/.stepgate/config.toml.
	UserConfigPath string
	// ProjectConfigPath overrides <project>/.stepgate/config.toml.
	ProjectConfigPath string
	// FlagOverrides are dotted-key values from command-line flags. They
	// take precedence over everything else.
	FlagOverrides map[string]any
}

// Load merges all configuration sources and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userPath, projectPath := ConfigPaths(opts.ProjectDir, opts.ProjectConfigPath)
	if opts.UserConfigPath != "" {
		userPath = opts.UserConfigPath
	}

	if err := mergeConfigFile(v, userPath); err != nil {
		return nil, fmt.Errorf("user config: %w", err)
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("project config: %w", err)
	}

	bindEnv(v)

	for key, value := range opts.FlagOverrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv wires the STEPGATE_* environment variables. Bindings are
// explicit rather than automatic so the variable names stay stable.
func bindEnv(v *viper.Viper) {
	bindings := map[string]string{
		"gate.enabled":          "STEPGATE_GATE_ENABLED",
		"gate.timeout_seconds":  "STEPGATE_TIMEOUT_SECONDS",
		"gate.base_url":         "STEPGATE_BASE_URL",
		"gate.code_length":      "STEPGATE_CODE_LENGTH",
		"mock.enabled":          "STEPGATE_MOCK_ENABLED",
		"mock.url":              "STEPGATE_MOCK_URL",
		"mock.code":             "STEPGATE_MOCK_CODE",
		"detection.enabled":     "STEPGATE_DETECTION_ENABLED",
		"daemon.socket":         "STEPGATE_SOCKET",
		"daemon.log_level":      "STEPGATE_LOG_LEVEL",
		"history.enabled":       "STEPGATE_HISTORY_ENABLED",
		"history.database_path": "STEPGATE_HISTORY_DB",
	}
	for key, env := range bindings {
		// BindEnv only errors on an empty key.
		_ = v.BindEnv(key, env)
	}
}

// mergeConfigFile merges a TOML file into v. Empty path and missing file
// are no-ops; anything else unreadable is an error.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return err
	}
	return nil
}

// ConfigPaths returns the user and project config file paths.
func ConfigPaths(projectDir, projectOverride string) (string, string) {
	userPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		userPath = filepath.Join(home, ".stepgate", "config.toml")
	}
	return userPath, projectConfigPath(projectDir, projectOverride)
}

func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(projectDir, ".stepgate", "config.toml")
}

// Validate checks the configuration, collecting all problems.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Gate.TimeoutSecs <= 0 {
		problems = append(problems, "gate.timeout_seconds must be positive")
	}
	if cfg.Gate.CodeLength < 4 || cfg.Gate.CodeLength > 32 {
		problems = append(problems, "gate.code_length must be between 4 and 32")
	}
	switch cfg.Daemon.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("daemon.log_level %q is not one of debug, info, warn, error", cfg.Daemon.LogLevel))
	}
	if cfg.History.RetentionDays < 0 {
		problems = append(problems, "history.retention_days must not be negative")
	}
	for _, p := range cfg.Detection.CustomPatterns {
		if p.ID == "" {
			problems = append(problems, "detection.custom_patterns entries need an id")
		}
		if p.Pattern == "" {
			problems = append(problems, fmt.Sprintf("detection custom pattern %q needs a pattern", p.ID))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
	kindStringSlice
)

// keyKinds maps the dotted keys settable via `config set` to their types.
// Structured keys like detection.custom_patterns are edited in the file.
var keyKinds = map[string]valueKind{
	"gate.enabled":                kindBool,
	"gate.timeout_seconds":        kindInt,
	"gate.base_url":               kindString,
	"gate.code_length":            kindInt,
	"mock.enabled":                kindBool,
	"mock.url":                    kindString,
	"mock.code":                   kindString,
	"detection.enabled":           kindBool,
	"detection.disabled_patterns": kindStringSlice,
	"daemon.socket":               kindString,
	"daemon.log_level":            kindString,
	"history.enabled":             kindBool,
	"history.database_path":       kindString,
	"history.retention_days":      kindInt,
}

// ParseValue parses a string into the typed value for a settable key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
	return parseValueByKind(raw, kind)
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return b, nil
	case kindStringSlice:
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", kind)
	}
}

// GetValue resolves a dotted key against a loaded config. Section keys
// return the whole section.
func GetValue(cfg *Config, key string) (any, bool) {
	switch key {
	case "gate":
		return cfg.Gate, true
	case "gate.enabled":
		return cfg.Gate.Enabled, true
	case "gate.timeout_seconds":
		return cfg.Gate.TimeoutSecs, true
	case "gate.base_url":
		return cfg.Gate.BaseURL, true
	case "gate.code_length":
		return cfg.Gate.CodeLength, true
	case "mock":
		return cfg.Mock, true
	case "mock.enabled":
		return cfg.Mock.Enabled, true
	case "mock.url":
		return cfg.Mock.URL, true
	case "mock.code":
		return cfg.Mock.Code, true
	case "detection":
		return cfg.Detection, true
	case "detection.enabled":
		return cfg.Detection.Enabled, true
	case "detection.disabled_patterns":
		return cfg.Detection.DisabledPatterns, true
	case "detection.custom_patterns":
		return cfg.Detection.CustomPatterns, true
	case "daemon":
		return cfg.Daemon, true
	case "daemon.socket":
		return cfg.Daemon.Socket, true
	case "daemon.log_level":
		return cfg.Daemon.LogLevel, true
	case "history":
		return cfg.History, true
	case "history.enabled":
		return cfg.History.Enabled, true
	case "history.database_path":
		return cfg.History.DatabasePath, true
	case "history.retention_days":
		return cfg.History.RetentionDays, true
	}
	return nil, false
}

// WriteValue sets one dotted key in a TOML config file, creating the file
// and parent directories if needed. Other keys in the file are preserved.
func WriteValue(path, key string, value any) error {
	if path == "" {
		return fmt.Errorf("config path is required")
	}

	tree := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	segments := strings.Split(key, ".")
	node := tree
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg]
		if !ok {
			next := map[string]any{}
			node[seg] = next
			node = next
			continue
		}
		table, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %q: %q is not a table", key, seg)
		}
		node = table
	}
	node[segments[len(segments)-1]] = value

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(tree); err != nil {
		return fmt.Errorf("encode config %s: %w", path, err)
	}
	return nil
}
