package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"langd/internal/domain"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const userLayerYAML = `
global:
  max_processes: 2
  default_timeout_ms: 2000
  enable_fallback: false
  health_check_interval_ms: 15000
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: user-gopls
      timeout_ms: 2000
`

func TestRegistryProviderMergesLayers(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.yaml")
	projectPath := filepath.Join(dir, "project.yaml")
	writeConfig(t, userPath, userLayerYAML)
	writeConfig(t, projectPath, `
global:
  max_processes: 3
  default_timeout_ms: 1500
  enable_fallback: true
  health_check_interval_ms: 20000
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: project-gopls
      timeout_ms: 1000
`)

	provider, err := NewRegistryProvider(RegistryProviderOptions{
		Logger: zap.NewNop(),
		Paths:  LayerPaths{User: userPath, Project: projectPath},
	})
	require.NoError(t, err)

	reg := provider.Snapshot()
	// Project overrides user wholesale for both global and the go key.
	require.Equal(t, 3, reg.Global.MaxProcesses)
	cfg, ok := reg.PrimaryFor("go")
	require.True(t, ok)
	require.Equal(t, "project-gopls", cfg.Executable)

	// Builtin layers below survive for untouched languages.
	_, ok = reg.PrimaryFor("rust")
	require.True(t, ok)
}

func TestRegistryProviderMissingFilesSkipLayers(t *testing.T) {
	dir := t.TempDir()

	provider, err := NewRegistryProvider(RegistryProviderOptions{
		Logger: zap.NewNop(),
		Paths: LayerPaths{
			User:    filepath.Join(dir, "absent-user.yaml"),
			Project: filepath.Join(dir, "absent-project.yaml"),
		},
	})
	require.NoError(t, err)

	reg := provider.Snapshot()
	require.Equal(t, DefaultBuiltinRegistry().Global, reg.Global)
}

func TestRegistryProviderInitialLoadFailure(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.yaml")
	writeConfig(t, userPath, `
servers:
  go:
    - language: python
      extensions: [".go"]
      executable: gopls
`)

	_, err := NewRegistryProvider(RegistryProviderOptions{
		Logger: zap.NewNop(),
		Paths:  LayerPaths{User: userPath},
	})

	require.ErrorIs(t, err, domain.ErrInvalidRegistry)
}

func TestRegistryProviderReloadKeepsOldSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.yaml")
	writeConfig(t, userPath, userLayerYAML)

	provider, err := NewRegistryProvider(RegistryProviderOptions{
		Logger: zap.NewNop(),
		Paths:  LayerPaths{User: userPath},
	})
	require.NoError(t, err)

	before := provider.Snapshot()
	require.Equal(t, 2, before.Global.MaxProcesses)

	writeConfig(t, userPath, `servers: [broken`)
	require.Error(t, provider.Reload())

	after := provider.Snapshot()
	require.Equal(t, before.Global, after.Global, "failed reload must not replace the snapshot")
	cfg, ok := after.PrimaryFor("go")
	require.True(t, ok)
	require.Equal(t, "user-gopls", cfg.Executable)
}

func TestRegistryProviderReloadNotifiesSubscribers(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.yaml")
	writeConfig(t, userPath, userLayerYAML)

	provider, err := NewRegistryProvider(RegistryProviderOptions{
		Logger: zap.NewNop(),
		Paths:  LayerPaths{User: userPath},
	})
	require.NoError(t, err)

	updates := provider.Subscribe()

	writeConfig(t, userPath, `
global:
  max_processes: 6
  default_timeout_ms: 2000
  enable_fallback: true
  health_check_interval_ms: 15000
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: newer-gopls
      timeout_ms: 2000
`)
	require.NoError(t, provider.Reload())

	select {
	case reg := <-updates:
		require.Equal(t, 6, reg.Global.MaxProcesses)
		cfg, ok := reg.PrimaryFor("go")
		require.True(t, ok)
		require.Equal(t, "newer-gopls", cfg.Executable)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}
}

func TestRegistryProviderSlowSubscriberGetsLatest(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.yaml")
	writeConfig(t, userPath, userLayerYAML)

	provider, err := NewRegistryProvider(RegistryProviderOptions{
		Logger: zap.NewNop(),
		Paths:  LayerPaths{User: userPath},
	})
	require.NoError(t, err)

	updates := provider.Subscribe()

	// Two reloads without the subscriber draining: the stale snapshot is
	// replaced, not queued behind.
	require.NoError(t, provider.Reload())
	writeConfig(t, userPath, `
global:
  max_processes: 7
  default_timeout_ms: 2000
  enable_fallback: false
  health_check_interval_ms: 15000
servers:
  go:
    - language: go
      extensions: [".go"]
      executable: final-gopls
      timeout_ms: 2000
`)
	require.NoError(t, provider.Reload())

	select {
	case reg := <-updates:
		require.Equal(t, 7, reg.Global.MaxProcesses)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}
}
