package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"langd/internal/domain"
)

// Loader parses server registry YAML. A load either yields a fully
// validated registry or an error; no partial registry is ever returned.
//
// Global settings go through viper so defaults layer underneath. Server
// entries decode with yaml.v3 directly: viper lowercases nested map keys,
// which would corrupt env, init_options, and field_mappings on their way
// to the spawned process.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("registry")}
}

func newRegistryViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setRegistryDefaults(v)
	return v
}

func setRegistryDefaults(v *viper.Viper) {
	v.SetDefault("global.max_processes", domain.DefaultMaxProcesses)
	v.SetDefault("global.default_timeout_ms", domain.DefaultTimeoutMS)
	v.SetDefault("global.enable_fallback", domain.DefaultEnableFallback)
	v.SetDefault("global.health_check_interval_ms", domain.DefaultHealthCheckIntervalMS)
}

type rawRegistry struct {
	Servers map[string][]rawServerConfig `yaml:"servers"`
}

type rawServerConfig struct {
	Language      string            `yaml:"language"`
	Extensions    []string          `yaml:"extensions"`
	Executable    string            `yaml:"executable"`
	Args          []string          `yaml:"args"`
	Env           map[string]string `yaml:"env"`
	InitOptions   map[string]any    `yaml:"init_options"`
	Enabled       *bool             `yaml:"enabled"`
	TimeoutMS     int               `yaml:"timeout_ms"`
	MaxRestarts   *int              `yaml:"max_restarts"`
	IdleTimeoutMS int               `yaml:"idle_timeout_ms"`
	OutputMapping *rawOutputMapping `yaml:"output_mapping"`
}

type rawOutputMapping struct {
	Diagnostics *rawMappingRules `yaml:"diagnostics"`
	Hover       *rawMappingRules `yaml:"hover"`
}

type rawMappingRules struct {
	ItemsPath     string            `yaml:"items_path"`
	ContentPath   string            `yaml:"content_path"`
	FieldMappings map[string]string `yaml:"field_mappings"`
	Transform     string            `yaml:"transform"`
}

// LoadFromString parses and validates a registry from YAML text.
func (l *Loader) LoadFromString(text string) (domain.ServerRegistry, error) {
	return l.load([]byte(text))
}

// LoadFile parses and validates a registry from a YAML file.
func (l *Loader) LoadFile(path string) (domain.ServerRegistry, error) {
	if path == "" {
		return domain.ServerRegistry{}, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ServerRegistry{}, domain.E(domain.CodeInvalidConfig, "registry.load", fmt.Sprintf("read %s", path), err)
	}
	return l.load(data)
}

func (l *Loader) load(data []byte) (domain.ServerRegistry, error) {
	v := newRegistryViper()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return domain.ServerRegistry{}, domain.E(domain.CodeInvalidConfig, "registry.load", "parse yaml", err)
	}
	var raw rawRegistry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.ServerRegistry{}, domain.E(domain.CodeInvalidConfig, "registry.load", "decode registry", err)
	}

	global := domain.GlobalConfig{
		MaxProcesses:          v.GetInt("global.max_processes"),
		DefaultTimeoutMS:      v.GetInt("global.default_timeout_ms"),
		EnableFallback:        v.GetBool("global.enable_fallback"),
		HealthCheckIntervalMS: v.GetInt("global.health_check_interval_ms"),
	}

	reg, convErrs := convertRegistry(global, raw)
	validationErrors := append(convErrs, ValidateRegistry(reg)...)
	if len(validationErrors) > 0 {
		l.logger.Warn("registry rejected", zap.Strings("violations", validationErrors))
		return domain.ServerRegistry{}, fmt.Errorf("%w: %s", domain.ErrInvalidRegistry, strings.Join(validationErrors, "; "))
	}
	return reg, nil
}

func convertRegistry(global domain.GlobalConfig, raw rawRegistry) (domain.ServerRegistry, []string) {
	var errs []string
	reg := domain.ServerRegistry{
		Global:  global,
		Servers: make(map[string][]domain.ServerConfig, len(raw.Servers)),
	}
	for lang, entries := range raw.Servers {
		converted := make([]domain.ServerConfig, 0, len(entries))
		for i, entry := range entries {
			cfg, err := convertServer(entry)
			if err != nil {
				errs = append(errs, fmt.Sprintf("servers.%s[%d]: %v", lang, i, err))
				continue
			}
			converted = append(converted, cfg)
		}
		reg.Servers[lang] = converted
	}
	return reg, errs
}

func convertServer(raw rawServerConfig) (domain.ServerConfig, error) {
	cfg := domain.ServerConfig{
		Language:      raw.Language,
		Extensions:    raw.Extensions,
		Executable:    raw.Executable,
		Args:          raw.Args,
		Env:           raw.Env,
		Enabled:       true,
		TimeoutMS:     raw.TimeoutMS,
		MaxRestarts:   domain.DefaultMaxRestarts,
		IdleTimeoutMS: raw.IdleTimeoutMS,
	}
	if raw.Enabled != nil {
		cfg.Enabled = *raw.Enabled
	}
	if raw.MaxRestarts != nil {
		cfg.MaxRestarts = *raw.MaxRestarts
	}
	if len(raw.InitOptions) > 0 {
		encoded, err := json.Marshal(raw.InitOptions)
		if err != nil {
			return domain.ServerConfig{}, fmt.Errorf("encode init_options: %w", err)
		}
		cfg.InitOptions = json.RawMessage(encoded)
	}
	if raw.OutputMapping != nil {
		cfg.OutputMapping = &domain.OutputMapping{
			Diagnostics: convertRules(raw.OutputMapping.Diagnostics),
			Hover:       convertRules(raw.OutputMapping.Hover),
		}
	}
	return cfg, nil
}

func convertRules(raw *rawMappingRules) *domain.MappingRules {
	if raw == nil {
		return nil
	}
	return &domain.MappingRules{
		ItemsPath:     raw.ItemsPath,
		ContentPath:   raw.ContentPath,
		FieldMappings: raw.FieldMappings,
		Transform:     raw.Transform,
	}
}
