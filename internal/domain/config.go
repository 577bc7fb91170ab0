package domain

import (
	"encoding/json"
	"time"
)

// ServerConfig describes one external analysis server binding for one
// language. Entries are immutable once loaded; configuration changes
// arrive as whole new registries.
type ServerConfig struct {
	Language      string            `yaml:"language" mapstructure:"language"`
	Extensions    []string          `yaml:"extensions" mapstructure:"extensions"`
	Executable    string            `yaml:"executable" mapstructure:"executable"`
	Args          []string          `yaml:"args,omitempty" mapstructure:"args"`
	Env           map[string]string `yaml:"env,omitempty" mapstructure:"env"`
	InitOptions   json.RawMessage   `yaml:"init_options,omitempty" mapstructure:"init_options"`
	Enabled       bool              `yaml:"enabled" mapstructure:"enabled"`
	TimeoutMS     int               `yaml:"timeout_ms,omitempty" mapstructure:"timeout_ms"`
	MaxRestarts   int               `yaml:"max_restarts" mapstructure:"max_restarts"`
	IdleTimeoutMS int               `yaml:"idle_timeout_ms,omitempty" mapstructure:"idle_timeout_ms"`
	OutputMapping *OutputMapping    `yaml:"output_mapping,omitempty" mapstructure:"output_mapping"`
}

// RequestTimeout returns the per-request timeout, falling back to the
// supplied default when the entry does not set one.
func (c ServerConfig) RequestTimeout(def time.Duration) time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	return def
}

// IdleTimeout returns the idle stop threshold; zero disables idle stops.
func (c ServerConfig) IdleTimeout() time.Duration {
	if c.IdleTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// OutputMapping carries the declarative normalization rules per operation.
type OutputMapping struct {
	Diagnostics *MappingRules `yaml:"diagnostics,omitempty" mapstructure:"diagnostics"`
	Hover       *MappingRules `yaml:"hover,omitempty" mapstructure:"hover"`
}

// MappingRules describes how raw server JSON maps into the host model.
// ItemsPath selects the array for list-shaped payloads, ContentPath the
// single object for hover. FieldMappings is target field → source path.
type MappingRules struct {
	ItemsPath     string            `yaml:"items_path,omitempty" mapstructure:"items_path"`
	ContentPath   string            `yaml:"content_path,omitempty" mapstructure:"content_path"`
	FieldMappings map[string]string `yaml:"field_mappings" mapstructure:"field_mappings"`
	Transform     string            `yaml:"transform,omitempty" mapstructure:"transform"`
}

// GlobalConfig holds engine-wide settings shared by every server.
type GlobalConfig struct {
	MaxProcesses          int  `yaml:"max_processes" mapstructure:"max_processes"`
	DefaultTimeoutMS      int  `yaml:"default_timeout_ms" mapstructure:"default_timeout_ms"`
	EnableFallback        bool `yaml:"enable_fallback" mapstructure:"enable_fallback"`
	HealthCheckIntervalMS int  `yaml:"health_check_interval_ms" mapstructure:"health_check_interval_ms"`
}

func (g GlobalConfig) DefaultTimeout() time.Duration {
	if g.DefaultTimeoutMS <= 0 {
		return time.Duration(DefaultTimeoutMS) * time.Millisecond
	}
	return time.Duration(g.DefaultTimeoutMS) * time.Millisecond
}

// HealthCheckInterval returns the probe cadence; zero or negative values
// disable periodic probing.
func (g GlobalConfig) HealthCheckInterval() time.Duration {
	return time.Duration(g.HealthCheckIntervalMS) * time.Millisecond
}

// ServerRegistry is one fully validated configuration snapshot: global
// settings plus server entries keyed by language.
type ServerRegistry struct {
	Global  GlobalConfig              `yaml:"global" mapstructure:"global"`
	Servers map[string][]ServerConfig `yaml:"servers" mapstructure:"servers"`
}

// ServersFor returns all entries registered under a language key.
func (r ServerRegistry) ServersFor(language string) []ServerConfig {
	return r.Servers[language]
}

// PrimaryFor returns the first enabled entry for a language.
func (r ServerRegistry) PrimaryFor(language string) (ServerConfig, bool) {
	for _, cfg := range r.Servers[language] {
		if cfg.Enabled {
			return cfg, true
		}
	}
	return ServerConfig{}, false
}

// Languages lists every language key present in the registry.
func (r ServerRegistry) Languages() []string {
	langs := make([]string, 0, len(r.Servers))
	for lang := range r.Servers {
		langs = append(langs, lang)
	}
	return langs
}

// MergeConfig controls how external and internal completion lists are
// assembled.
type MergeConfig struct {
	IncludeInternal bool
	Deduplicate     bool
}
