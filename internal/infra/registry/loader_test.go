package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"langd/internal/domain"
)

const validRegistryYAML = `
global:
  max_processes: 4
  default_timeout_ms: 3000
  enable_fallback: true
  health_check_interval_ms: 10000
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: gopls
      timeout_ms: 5000
      max_restarts: 2
      init_options:
        hints: true
      output_mapping:
        diagnostics:
          items_path: "$.result"
          field_mappings:
            message: "message"
            severity: "severity"
            line: "range.start.line"
          transform: normalize_severity
        hover:
          content_path: "$.result"
          field_mappings:
            contents: "contents"
  python:
    - language: python
      extensions: [".py"]
      executable: pyright-langserver
      args: ["--stdio"]
      timeout_ms: 8000
`

func TestLoadFromStringValid(t *testing.T) {
	loader := NewLoader(zap.NewNop())

	reg, err := loader.LoadFromString(validRegistryYAML)

	require.NoError(t, err)
	require.Equal(t, 4, reg.Global.MaxProcesses)
	require.Equal(t, 3000, reg.Global.DefaultTimeoutMS)
	require.Len(t, reg.Servers, 2)

	goCfg, ok := reg.PrimaryFor("go")
	require.True(t, ok)
	require.Equal(t, "gopls", goCfg.Executable)
	require.Equal(t, 2, goCfg.MaxRestarts)
	require.True(t, goCfg.Enabled)
	require.JSONEq(t, `{"hints":true}`, string(goCfg.InitOptions))
	require.NotNil(t, goCfg.OutputMapping)
	require.Equal(t, "$.result", goCfg.OutputMapping.Diagnostics.ItemsPath)
	require.Equal(t, "normalize_severity", goCfg.OutputMapping.Diagnostics.Transform)
	require.Equal(t, "$.result", goCfg.OutputMapping.Hover.ContentPath)
}

func TestLoadFromStringAppliesDefaults(t *testing.T) {
	loader := NewLoader(zap.NewNop())

	reg, err := loader.LoadFromString(`
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: gopls
      timeout_ms: 1000
`)

	require.NoError(t, err)
	require.Equal(t, domain.DefaultMaxProcesses, reg.Global.MaxProcesses)
	require.Equal(t, domain.DefaultTimeoutMS, reg.Global.DefaultTimeoutMS)
	require.Equal(t, domain.DefaultHealthCheckIntervalMS, reg.Global.HealthCheckIntervalMS)

	cfg, ok := reg.PrimaryFor("go")
	require.True(t, ok)
	require.Equal(t, domain.DefaultMaxRestarts, cfg.MaxRestarts)
	require.True(t, cfg.Enabled)
}

func TestLoadFromStringPreservesKeyCase(t *testing.T) {
	loader := NewLoader(zap.NewNop())

	reg, err := loader.LoadFromString(`
servers:
  rust:
    - language: rust
      extensions: [".rs"]
      executable: rust-analyzer
      timeout_ms: 2000
      env:
        RUST_LOG: debug
        RA_PROFILE: "*>10"
      init_options:
        checkOnSave: true
        procMacro:
          enable: true
      output_mapping:
        diagnostics:
          items_path: "$.result"
          field_mappings:
            end_line: "range.endLine"
            message: "message"
`)

	require.NoError(t, err)
	cfg, ok := reg.PrimaryFor("rust")
	require.True(t, ok)
	require.Equal(t, map[string]string{"RUST_LOG": "debug", "RA_PROFILE": "*>10"}, cfg.Env)
	require.JSONEq(t, `{"checkOnSave":true,"procMacro":{"enable":true}}`, string(cfg.InitOptions))
	require.Equal(t, "range.endLine", cfg.OutputMapping.Diagnostics.FieldMappings["end_line"])
}

func TestLoadFromStringPreservesLanguageKeyCase(t *testing.T) {
	loader := NewLoader(zap.NewNop())

	reg, err := loader.LoadFromString(`
servers:
  COBOL:
    - language: COBOL
      extensions: [".cbl"]
      executable: cobol-analyzer
      timeout_ms: 2000
`)

	require.NoError(t, err)
	require.Contains(t, reg.Servers, "COBOL")
	cfg, ok := reg.PrimaryFor("COBOL")
	require.True(t, ok)
	require.Equal(t, "COBOL", cfg.Language)
}

func TestLoadFromStringRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "language key mismatch",
			yaml: `
servers:
  go:
    - language: python
      extensions: [".go"]
      executable: gopls
      timeout_ms: 1000
`,
			want: "language",
		},
		{
			name: "missing executable",
			yaml: `
servers:
  go:
    - language: go
      extensions: [".go"]
      timeout_ms: 1000
`,
			want: "executable",
		},
		{
			name: "empty extensions",
			yaml: `
servers:
  go:
    - language: go
      extensions: []
      executable: gopls
      timeout_ms: 1000
`,
			want: "extensions",
		},
		{
			name: "missing timeout_ms",
			yaml: `
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: gopls
`,
			want: "timeout_ms",
		},
		{
			name: "negative max_restarts",
			yaml: `
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: gopls
      timeout_ms: 1000
      max_restarts: -1
`,
			want: "max_restarts",
		},
		{
			name: "diagnostics rules without items_path",
			yaml: `
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: gopls
      timeout_ms: 1000
      output_mapping:
        diagnostics:
          field_mappings:
            message: "message"
`,
			want: "items_path",
		},
		{
			name: "not yaml at all",
			yaml: `servers: [`,
			want: "",
		},
	}

	loader := NewLoader(zap.NewNop())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg, err := loader.LoadFromString(tc.yaml)

			require.Error(t, err)
			require.Empty(t, reg.Servers, "no partial registry on failure")
			if tc.want != "" {
				require.ErrorIs(t, err, domain.ErrInvalidRegistry)
				require.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestLoadFromStringOneBadEntryRejectsWholeFile(t *testing.T) {
	loader := NewLoader(zap.NewNop())

	_, err := loader.LoadFromString(`
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: gopls
      timeout_ms: 1000
  rust:
    - language: rust
      extensions: [".rs"]
      executable: ""
      timeout_ms: 1000
`)

	require.ErrorIs(t, err, domain.ErrInvalidRegistry)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validRegistryYAML), 0o644))

	loader := NewLoader(zap.NewNop())
	reg, err := loader.LoadFile(path)

	require.NoError(t, err)
	require.Len(t, reg.Servers, 2)

	_, err = loader.LoadFile(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
}
