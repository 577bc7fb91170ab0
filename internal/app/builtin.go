package app

import "langd/internal/domain"

// DefaultBuiltinRegistry is the lowest configuration layer: bindings for
// the servers most hosts have installed. User, project, and runtime layers
// overwrite these wholesale per language key.
func DefaultBuiltinRegistry() domain.ServerRegistry {
	return domain.ServerRegistry{
		Global: domain.GlobalConfig{
			MaxProcesses:          domain.DefaultMaxProcesses,
			DefaultTimeoutMS:      domain.DefaultTimeoutMS,
			EnableFallback:        domain.DefaultEnableFallback,
			HealthCheckIntervalMS: domain.DefaultHealthCheckIntervalMS,
		},
		Servers: map[string][]domain.ServerConfig{
			"go": {
				{
					Language:    "go",
					Extensions:  []string{".go"},
					Executable:  "gopls",
					Enabled:     true,
					TimeoutMS:   domain.DefaultTimeoutMS,
					MaxRestarts: domain.DefaultMaxRestarts,
					OutputMapping: &domain.OutputMapping{
						Diagnostics: resultDiagnosticsRules(),
						Hover:       resultHoverRules(),
					},
				},
			},
			"rust": {
				{
					Language:    "rust",
					Extensions:  []string{".rs"},
					Executable:  "rust-analyzer",
					Enabled:     true,
					TimeoutMS:   domain.DefaultTimeoutMS,
					MaxRestarts: domain.DefaultMaxRestarts,
					OutputMapping: &domain.OutputMapping{
						Diagnostics: resultDiagnosticsRules(),
						Hover:       resultHoverRules(),
					},
				},
			},
			"python": {
				{
					Language:    "python",
					Extensions:  []string{".py", ".pyi"},
					Executable:  "pyright-langserver",
					Args:        []string{"--stdio"},
					Enabled:     true,
					TimeoutMS:   domain.DefaultTimeoutMS,
					MaxRestarts: domain.DefaultMaxRestarts,
					OutputMapping: &domain.OutputMapping{
						Diagnostics: resultDiagnosticsRules(),
						Hover:       resultHoverRules(),
					},
				},
			},
			"typescript": {
				{
					Language:    "typescript",
					Extensions:  []string{".ts", ".tsx", ".js", ".jsx"},
					Executable:  "typescript-language-server",
					Args:        []string{"--stdio"},
					Enabled:     true,
					TimeoutMS:   domain.DefaultTimeoutMS,
					MaxRestarts: domain.DefaultMaxRestarts,
					OutputMapping: &domain.OutputMapping{
						Diagnostics: resultDiagnosticsRules(),
						Hover:       resultHoverRules(),
					},
				},
			},
		},
	}
}

// resultDiagnosticsRules maps the common shape where the server returns its
// diagnostics directly in the response result array.
func resultDiagnosticsRules() *domain.MappingRules {
	return &domain.MappingRules{
		ItemsPath: "$.result",
		FieldMappings: map[string]string{
			"message":    "message",
			"severity":   "severity",
			"source":     "source",
			"code":       "code",
			"line":       "range.start.line",
			"column":     "range.start.character",
			"end_line":   "range.end.line",
			"end_column": "range.end.character",
		},
		Transform: "normalize_severity",
	}
}

func resultHoverRules() *domain.MappingRules {
	return &domain.MappingRules{
		ContentPath: "$.result",
		FieldMappings: map[string]string{
			"contents": "contents",
			"kind":     "kind",
		},
	}
}
