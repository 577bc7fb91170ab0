package registry

import (
	"fmt"
	"strings"

	"langd/internal/domain"
)

// ValidateRegistry checks every entry of a registry. A non-empty result
// rejects the whole load; the registry is never partially applied.
func ValidateRegistry(reg domain.ServerRegistry) []string {
	var errs []string

	if reg.Global.MaxProcesses <= 0 {
		errs = append(errs, "global.max_processes must be > 0")
	}
	if reg.Global.DefaultTimeoutMS <= 0 {
		errs = append(errs, "global.default_timeout_ms must be > 0")
	}
	if reg.Global.HealthCheckIntervalMS <= 0 {
		errs = append(errs, "global.health_check_interval_ms must be > 0")
	}

	for lang, entries := range reg.Servers {
		if strings.TrimSpace(lang) == "" {
			errs = append(errs, "servers: language key must not be empty")
			continue
		}
		if len(entries) == 0 {
			errs = append(errs, fmt.Sprintf("servers.%s: at least one server entry is required", lang))
			continue
		}
		for i, entry := range entries {
			errs = append(errs, validateServer(lang, i, entry)...)
		}
	}

	return errs
}

func validateServer(lang string, index int, cfg domain.ServerConfig) []string {
	var errs []string
	at := func(field, msg string) string {
		return fmt.Sprintf("servers.%s[%d]: %s %s", lang, index, field, msg)
	}

	if cfg.Language != lang {
		errs = append(errs, at("language", fmt.Sprintf("%q must equal registry key %q", cfg.Language, lang)))
	}
	if strings.TrimSpace(cfg.Executable) == "" {
		errs = append(errs, at("executable", "is required"))
	}
	if len(cfg.Extensions) == 0 {
		errs = append(errs, at("extensions", "must not be empty"))
	}
	for i, ext := range cfg.Extensions {
		if strings.TrimSpace(ext) == "" {
			errs = append(errs, at(fmt.Sprintf("extensions[%d]", i), "must not be empty"))
		}
	}
	if cfg.TimeoutMS <= 0 {
		errs = append(errs, at("timeout_ms", "must be > 0"))
	}
	if cfg.MaxRestarts < 0 {
		errs = append(errs, at("max_restarts", "must be >= 0"))
	}
	if cfg.IdleTimeoutMS < 0 {
		errs = append(errs, at("idle_timeout_ms", "must be >= 0"))
	}
	if cfg.OutputMapping != nil {
		errs = append(errs, validateRules(lang, index, "diagnostics", cfg.OutputMapping.Diagnostics, true)...)
		errs = append(errs, validateRules(lang, index, "hover", cfg.OutputMapping.Hover, false)...)
	}
	return errs
}

func validateRules(lang string, index int, kind string, rules *domain.MappingRules, wantItems bool) []string {
	if rules == nil {
		return nil
	}
	var errs []string
	prefix := fmt.Sprintf("servers.%s[%d].output_mapping.%s", lang, index, kind)
	if wantItems && strings.TrimSpace(rules.ItemsPath) == "" {
		errs = append(errs, prefix+": items_path is required")
	}
	if !wantItems && strings.TrimSpace(rules.ContentPath) == "" {
		errs = append(errs, prefix+": content_path is required")
	}
	if len(rules.FieldMappings) == 0 {
		errs = append(errs, prefix+": field_mappings must not be empty")
	}
	for target, source := range rules.FieldMappings {
		if strings.TrimSpace(target) == "" {
			errs = append(errs, prefix+": field_mappings contains empty target field")
		}
		if strings.TrimSpace(source) == "" {
			errs = append(errs, prefix+": field_mappings."+target+" has empty source path")
		}
	}
	return errs
}
